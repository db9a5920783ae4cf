// Package config loads the typed configuration surface for the RTSP/MJPEG
// camera server: listen addresses, the user store, camera enablement, and
// the video profiles used to seed new sessions.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds all tunables for the RTSP and MJPEG servers.
type Config struct {
	Port        int    // RTSP listen port, default 7778
	MaxClients  int    // default 100
	BindAddress string // default "0.0.0.0"

	Users        map[string]string // username -> password
	AuthRequired bool              // default true

	FrontCameraEnabled bool // default true
	BackCameraEnabled  bool // default true

	MjpegServerPort    int // default 8089
	MjpegServerQuality int // default 80, clamped [10..100]

	UseHTTPS            bool
	CertificatePath     string
	CertificatePassword string

	PrimaryProfile   VideoProfile
	SecondaryProfile VideoProfile
}

// VideoProfile describes the resolution, bitrate envelope, and quality of an
// encoded stream. Clamped per spec.md §8: quality in [10,100], bitrate in
// [min,max] with a [500_000, 4_000_000] default envelope, resolution
// defaulting to 640x480, name sanitized by stripping spaces and slashes.
type VideoProfile struct {
	Name       string
	Width      int
	Height     int
	MinBitrate int
	MaxBitrate int
	Quality    int
}

// DefaultVideoProfile returns the 640x480 default profile used when no
// configuration overrides it.
func DefaultVideoProfile(name string) VideoProfile {
	return VideoProfile{
		Name:       SanitizeProfileName(name),
		Width:      640,
		Height:     480,
		MinBitrate: 500_000,
		MaxBitrate: 4_000_000,
		Quality:    80,
	}
}

// ClampQuality clamps q into [10, 100] per the spec's quality-setter
// boundary table: 0->10, 5->10, 10->10, 50->50, 100->100, 150->100, -1->10.
func ClampQuality(q int) int {
	if q < 10 {
		return 10
	}
	if q > 100 {
		return 100
	}
	return q
}

// ClampBitrate clamps b into [min, max], swapping the bounds first if the
// caller passed them in the wrong order.
func ClampBitrate(b, min, max int) int {
	if min > max {
		min, max = max, min
	}
	if b < min {
		return min
	}
	if b > max {
		return max
	}
	return b
}

// SanitizeProfileName removes spaces and slashes from a profile name. An
// empty result means "keep the previous name" — callers must check for that,
// per spec.md §8 (VideoProfile.Name: "" or null -> keeps previous).
func SanitizeProfileName(name string) string {
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, " ", "")
	name = strings.ReplaceAll(name, "/", "")
	return name
}

// SetName applies SanitizeProfileName, keeping the previous name on an empty
// or all-stripped input.
func (p *VideoProfile) SetName(name string) {
	sanitized := SanitizeProfileName(name)
	if sanitized == "" {
		return
	}
	p.Name = sanitized
}

// Normalize clamps Quality and the bitrate envelope and applies the
// resolution default when either dimension is unset.
func (p *VideoProfile) Normalize() {
	p.Quality = ClampQuality(p.Quality)
	if p.MinBitrate <= 0 {
		p.MinBitrate = 500_000
	}
	if p.MaxBitrate <= 0 {
		p.MaxBitrate = 4_000_000
	}
	if p.MinBitrate > p.MaxBitrate {
		p.MinBitrate, p.MaxBitrate = p.MaxBitrate, p.MinBitrate
	}
	if p.Width <= 0 || p.Height <= 0 {
		p.Width, p.Height = 640, 480
	}
}

// Default returns a Config with every spec.md §6 default applied.
func Default() *Config {
	return &Config{
		Port:                7778,
		MaxClients:          100,
		BindAddress:         "0.0.0.0",
		Users:               map[string]string{"admin": "password123"},
		AuthRequired:        true,
		FrontCameraEnabled:  true,
		BackCameraEnabled:   true,
		MjpegServerPort:     8089,
		MjpegServerQuality:  80,
		UseHTTPS:            false,
		CertificatePath:     "",
		CertificatePassword: "",
		PrimaryProfile:      DefaultVideoProfile("primary"),
		SecondaryProfile:    DefaultVideoProfile("secondary"),
	}
}

// Load reads configuration overrides from a flat key=value file (the same
// shape the teacher's env loader uses) layered on top of Default(). A
// missing path is not an error — Load returns the defaults unmodified.
func Load(envPath string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			if verr := cfg.Validate(); verr != nil {
				return nil, verr
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// URL decode values that might be encoded
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}

		if err := cfg.applyKey(key, decodedValue); err != nil {
			return nil, fmt.Errorf("config key %q: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan config file: %w", err)
	}

	cfg.PrimaryProfile.Normalize()
	cfg.SecondaryProfile.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyKey(key, value string) error {
	switch key {
	case "port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.Port = n
	case "max_clients":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.MaxClients = n
	case "bind_address":
		c.BindAddress = value
	case "auth_required":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.AuthRequired = b
	case "front_camera_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.FrontCameraEnabled = b
	case "back_camera_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.BackCameraEnabled = b
	case "mjpeg_server_port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.MjpegServerPort = n
	case "mjpeg_server_quality":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.MjpegServerQuality = ClampQuality(n)
	case "use_https":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.UseHTTPS = b
	case "certificate_path":
		c.CertificatePath = value
	case "certificate_password":
		c.CertificatePassword = value
	default:
		if strings.HasPrefix(key, "user.") {
			c.Users[strings.TrimPrefix(key, "user.")] = value
		}
		// unrecognized keys are ignored, matching the teacher's tolerant parser
	}
	return nil
}

// Validate checks invariant configuration constraints.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("max_clients must be positive")
	}
	if c.BindAddress == "" {
		return fmt.Errorf("bind_address must not be empty")
	}
	if c.MjpegServerPort <= 0 || c.MjpegServerPort > 65535 {
		return fmt.Errorf("invalid mjpeg_server_port: %d", c.MjpegServerPort)
	}
	if c.AuthRequired && len(c.Users) == 0 {
		return fmt.Errorf("auth_required is true but no users configured")
	}
	if c.UseHTTPS && c.CertificatePath == "" {
		return fmt.Errorf("use_https is true but certificate_path is empty")
	}
	return nil
}
