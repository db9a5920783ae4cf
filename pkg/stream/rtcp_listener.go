package stream

import (
	"context"
	"log/slog"
	"net"

	"github.com/gtfodev/rtspd/pkg/rtcp"
	"github.com/gtfodev/rtspd/pkg/rtsp"
)

// rtcpReadBufferSize comfortably holds one Receiver Report or BYE packet;
// RTCP compound packets from a single RTSP client never approach this.
const rtcpReadBufferSize = 2048

// RTCPListener runs the "per-UDP-session RTCP listener task" spec.md §5
// describes: it reads Receiver Reports off the session's negotiated
// server RTCP port, turns them into bitrate/quality Feedback via
// rtcp.Controller, and tears the session down immediately on BYE.
//
// TCP-interleaved sessions receive RTCP on the same socket as their RTSP
// requests instead; this listener is only used for UDP transport.
type RTCPListener struct {
	log  *slog.Logger
	conn *net.UDPConn
	ctl  *rtcp.Controller

	OnFeedback func(fb rtcp.Feedback)
	OnBye      func()
}

// NewRTCPListener binds the session's negotiated server RTCP port and
// returns a listener ready to Run.
func NewRTCPListener(log *slog.Logger, session *rtsp.Session, serverRTCPPort int) (*RTCPListener, error) {
	addr := &net.UDPAddr{Port: serverRTCPPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &RTCPListener{
		log:  log.With("component", "rtcp_listener", "session", session.ID),
		conn: conn,
		ctl:  rtcp.NewController(),
	}, nil
}

// Run reads RTCP packets until ctx is canceled or the socket is closed.
func (l *RTCPListener) Run(ctx context.Context) {
	defer l.conn.Close()

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, rtcpReadBufferSize)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			l.log.Warn("malformed rtcp packet", "error", err)
			continue
		}

		for _, packet := range packets {
			if rtcp.IsBye(packet) {
				if l.OnBye != nil {
					l.OnBye()
				}
				return
			}
			if report, ok := rtcp.AsReceiverReport(packet); ok {
				fb := l.ctl.Ingest(report)
				if l.OnFeedback != nil {
					l.OnFeedback(fb)
				}
			}
		}
	}
}
