// Package transport negotiates the RTSP Transport header, per
// spec.md §4.4: TCP-interleaved channel assignment or UDP port pairing.
package transport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gtfodev/rtspd/pkg/camera"
)

// Mode mirrors pkg/rtsp.TransportMode without importing it, so this
// package has no dependency on the RTSP session type.
type Mode int

const (
	ModeTCP Mode = iota
	ModeUDP
)

// Negotiated is the outcome of parsing one client's Transport header.
type Negotiated struct {
	Mode Mode

	// TCP
	ChannelRTP  byte
	ChannelRTCP byte

	// UDP
	ClientRTPPort  int
	ClientRTCPPort int
	ServerRTPPort  int
	ServerRTCPPort int
}

// Header renders the Transport header value to mirror back to the
// client in the SETUP response, per spec.md §4.3: "Response includes the
// mirrored Transport line with server_port=...-... when UDP."
func (n Negotiated) Header() string {
	if n.Mode == ModeTCP {
		return fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d", n.ChannelRTP, n.ChannelRTCP)
	}
	return fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d;server_port=%d-%d",
		n.ClientRTPPort, n.ClientRTCPPort, n.ServerRTPPort, n.ServerRTCPPort)
}

// Negotiate parses a Transport header value and, for UDP, allocates a
// server port pair from allocator. A header with neither "interleaved="
// nor "client_port=" gets the 0-1 interleaved default if it mentions TCP,
// and is otherwise unsupported (spec.md §4.3: "Unsupported transport
// -> 461").
func Negotiate(header string, allocator *camera.PortAllocator) (Negotiated, error) {
	fields := strings.Split(header, ";")

	for _, f := range fields {
		f = strings.TrimSpace(f)
		switch {
		case strings.HasPrefix(f, "interleaved="):
			a, b, err := parsePair(strings.TrimPrefix(f, "interleaved="))
			if err != nil {
				return Negotiated{}, fmt.Errorf("parse interleaved channels: %w", err)
			}
			return Negotiated{Mode: ModeTCP, ChannelRTP: byte(a), ChannelRTCP: byte(b)}, nil

		case strings.HasPrefix(f, "client_port="):
			a, b, err := parsePair(strings.TrimPrefix(f, "client_port="))
			if err != nil {
				return Negotiated{}, fmt.Errorf("parse client_port: %w", err)
			}
			rtpPort, rtcpPort, err := allocator.Allocate()
			if err != nil {
				return Negotiated{}, fmt.Errorf("allocate server ports: %w", err)
			}
			return Negotiated{
				Mode:           ModeUDP,
				ClientRTPPort:  a,
				ClientRTCPPort: b,
				ServerRTPPort:  rtpPort,
				ServerRTCPPort: rtcpPort,
			}, nil
		}
	}

	if strings.Contains(header, "TCP") {
		return defaultTCPChannels, nil
	}

	return Negotiated{}, fmt.Errorf("unsupported transport: %q", header)
}

func parsePair(s string) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected a-b, got %q", s)
	}
	a, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid first port: %w", err)
	}
	b, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid second port: %w", err)
	}
	return a, b, nil
}

// defaultTCPChannels is used when a Transport header requests TCP
// interleaving without an explicit channel pair — spec.md §4.3:
// "defaulting to 0-1".
var defaultTCPChannels = Negotiated{Mode: ModeTCP, ChannelRTP: 0, ChannelRTCP: 1}

// DefaultTCP returns the 0/1 interleaved channel default.
func DefaultTCP() Negotiated { return defaultTCPChannels }
