package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel    string
	LogFormat   string
	LogFile     string
	DebugRTSP   bool
	DebugRTP    bool
	DebugRTCP   bool
	DebugAuth   bool
	DebugMJPEG  bool
	DebugCamera bool
	DebugAll    bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTSP, "debug-rtsp", false,
		"Enable RTSP request/response debugging")
	fs.BoolVar(&f.DebugRTP, "debug-rtp", false,
		"Enable detailed RTP packet debugging (sequence, timestamp, payload)")
	fs.BoolVar(&f.DebugRTCP, "debug-rtcp", false,
		"Enable RTCP sender/receiver report debugging")
	fs.BoolVar(&f.DebugAuth, "debug-auth", false,
		"Enable Digest/Basic authentication debugging")
	fs.BoolVar(&f.DebugMJPEG, "debug-mjpeg", false,
		"Enable MJPEG HTTP server debugging")
	fs.BoolVar(&f.DebugCamera, "debug-camera", false,
		"Enable camera/encoder lifecycle debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		if f.DebugRTSP {
			cfg.EnableCategory(DebugRTSP)
			cfg.Level = LevelDebug
		}
		if f.DebugRTP {
			cfg.EnableCategory(DebugRTP)
			cfg.Level = LevelDebug
		}
		if f.DebugRTCP {
			cfg.EnableCategory(DebugRTCP)
			cfg.Level = LevelDebug
		}
		if f.DebugAuth {
			cfg.EnableCategory(DebugAuth)
			cfg.Level = LevelDebug
		}
		if f.DebugMJPEG {
			cfg.EnableCategory(DebugMJPEG)
			cfg.Level = LevelDebug
		}
		if f.DebugCamera {
			cfg.EnableCategory(DebugCamera)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./rtspd

  Enable DEBUG level:
    ./rtspd --log-level debug
    ./rtspd -l debug

  Log to file:
    ./rtspd --log-file rtspd.log
    ./rtspd -o rtspd.log

  JSON format for structured logging:
    ./rtspd --log-format json -o rtspd.json

  Debug RTP packets only:
    ./rtspd --debug-rtp

  Debug authentication handshakes only:
    ./rtspd --debug-auth

  Debug everything:
    ./rtspd --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./rtspd -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugRTSP {
			debugCategories = append(debugCategories, "rtsp")
		}
		if f.DebugRTP {
			debugCategories = append(debugCategories, "rtp")
		}
		if f.DebugRTCP {
			debugCategories = append(debugCategories, "rtcp")
		}
		if f.DebugAuth {
			debugCategories = append(debugCategories, "auth")
		}
		if f.DebugMJPEG {
			debugCategories = append(debugCategories, "mjpeg")
		}
		if f.DebugCamera {
			debugCategories = append(debugCategories, "camera")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
