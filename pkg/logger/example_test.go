package logger_test

import (
	"fmt"
	"os"

	"github.com/gtfodev/rtspd/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info("rtsp server started", "port", 7778)
	log.Warn("client using legacy transport syntax", "session", "a1b2c3d4e5f60718")
	log.Error("failed to bind udp port pair", "error", "address in use")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugRTP)
	cfg.EnableCategory(logger.DebugAuth)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.DebugRTPPacket(12345, 90000, 96, 1200)
	log.DebugNALUnit(7, 28, false) // SPS
	log.DebugAuthCat("digest challenge issued", "nonce", "b64-nonce")
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// import (
	//     "flag"
	//     "github.com/gtfodev/rtspd/pkg/logger"
	// )
	//
	// fs := flag.NewFlagSet("rtspd", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/rtspd/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "rtspd.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("rtspd.json")

	log.Info("client connected",
		"session", "a1b2c3d4e5f60718",
		"remote_addr", "192.168.1.50:51234",
		"codec", "H264")
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugRTCP)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Only logged if DebugRTCP is enabled; zero cost otherwise
	log.DebugRTCPCat("receiver report ingested", "fraction_lost", 32, "jitter", 50)
}
