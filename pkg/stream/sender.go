// Package stream runs one delivery loop per PLAYing client, per spec.md
// §4.7: dequeue encoded frames, packetize, and send over the session's
// negotiated transport, with periodic RTCP Sender Reports.
package stream

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/gtfodev/rtspd/pkg/rtsp"
)

// PacketSender delivers one session's RTP/RTCP packets to its negotiated
// transport, hiding whether that is TCP-interleaved framing on the RTSP
// socket or a pair of UDP sockets — grounded on the teacher's
// pkg/bridge/pacer.go, which plugs in writeVideo/writeAudio callbacks
// rather than hard-coding a transport.
type PacketSender interface {
	SendRTP(payload []byte) error
	SendRTCP(payload []byte) error
	Close() error
}

// InterleavedSender writes RTP/RTCP as TCP-interleaved frames on the
// client's RTSP connection, per RFC 2326 §10.12.
type InterleavedSender struct {
	writer      *rtsp.FrameWriter
	rtpChannel  byte
	rtcpChannel byte
}

// NewInterleavedSender wraps a session's FrameWriter for TCP delivery.
func NewInterleavedSender(writer *rtsp.FrameWriter, rtpChannel, rtcpChannel byte) *InterleavedSender {
	return &InterleavedSender{writer: writer, rtpChannel: rtpChannel, rtcpChannel: rtcpChannel}
}

func (s *InterleavedSender) SendRTP(payload []byte) error {
	return s.writer.WriteInterleaved(s.rtpChannel, payload)
}

func (s *InterleavedSender) SendRTCP(payload []byte) error {
	return s.writer.WriteInterleaved(s.rtcpChannel, payload)
}

// Close is a no-op: the underlying RTSP connection outlives one
// StreamLoop's interleaved sender and is closed by the connection handler.
func (s *InterleavedSender) Close() error { return nil }

// UDPSender writes RTP/RTCP as plain UDP datagrams to the client's
// negotiated ports.
type UDPSender struct {
	rtpConn  net.Conn
	rtcpConn net.Conn
}

// NewUDPSender dials the client's negotiated RTP/RTCP ports.
func NewUDPSender(clientAddr string, clientRTPPort, clientRTCPPort int) (*UDPSender, error) {
	rtpConn, err := net.Dial("udp", fmt.Sprintf("%s:%d", clientAddr, clientRTPPort))
	if err != nil {
		return nil, fmt.Errorf("dial client rtp port: %w", err)
	}
	rtcpConn, err := net.Dial("udp", fmt.Sprintf("%s:%d", clientAddr, clientRTCPPort))
	if err != nil {
		rtpConn.Close()
		return nil, fmt.Errorf("dial client rtcp port: %w", err)
	}
	return &UDPSender{rtpConn: rtpConn, rtcpConn: rtcpConn}, nil
}

func (s *UDPSender) SendRTP(payload []byte) error {
	_, err := s.rtpConn.Write(payload)
	return classifyUDPError(err)
}

func (s *UDPSender) SendRTCP(payload []byte) error {
	_, err := s.rtcpConn.Write(payload)
	return classifyUDPError(err)
}

func (s *UDPSender) Close() error {
	rtpErr := s.rtpConn.Close()
	rtcpErr := s.rtcpConn.Close()
	if rtpErr != nil {
		return rtpErr
	}
	return rtcpErr
}

// ErrHostUnreachable wraps a UDP send failure that spec.md §4.7 says must
// kill the session immediately, bypassing the ordinary
// consecutive-send-error threshold.
var ErrHostUnreachable = errors.New("udp destination unreachable")

// classifyUDPError recognizes EHOSTUNREACH/ENETUNREACH and wraps them as
// ErrHostUnreachable so the loop can treat them as an immediate-death
// signal rather than an ordinary send error.
func classifyUDPError(err error) error {
	if err == nil {
		return nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			if errors.Is(sysErr.Err, syscall.EHOSTUNREACH) || errors.Is(sysErr.Err, syscall.ENETUNREACH) {
				return fmt.Errorf("%w: %v", ErrHostUnreachable, err)
			}
		}
	}
	return err
}
