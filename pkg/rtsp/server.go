package rtsp

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/gtfodev/rtspd/pkg/auth"
	"github.com/gtfodev/rtspd/pkg/camera"
	"github.com/gtfodev/rtspd/pkg/config"
	"github.com/gtfodev/rtspd/pkg/transport"
)

// OnPlayFunc is invoked once a session transitions to PLAYING; the callee
// is responsible for starting that session's StreamLoop.
type OnPlayFunc func(session *Session, writer *FrameWriter, negotiated transport.Negotiated)

// OnTeardownFunc is invoked once a session is torn down.
type OnTeardownFunc func(session *Session)

// Hooks lets the server trigger camera/stream lifecycle without
// depending on pkg/stream or pkg/supervisor directly, per spec.md §9's
// re-architecture note against process-wide singletons: the server owns
// an explicit, narrow interface instead.
type Hooks struct {
	// CameraEnabled reports whether cameraID is enabled in configuration.
	CameraEnabled func(cameraID int) bool
	// LatestParamSets returns the most recently observed SPS/PPS for a
	// camera, if any, so DESCRIBE can advertise sprop-parameter-sets
	// without forcing an encoder start.
	LatestParamSets func(cameraID int) (sps, pps []byte)
	OnPlay          OnPlayFunc
	OnTeardown      OnTeardownFunc
}

// Server accepts RTSP/1.0 connections and dispatches OPTIONS/DESCRIBE/
// SETUP/PLAY/TEARDOWN per spec.md §4.1/§4.3.
type Server struct {
	log      *slog.Logger
	cfg      *config.Config
	engine   *auth.Engine
	sessions *Manager
	ports    *camera.PortAllocator
	hooks    Hooks
	serverIP string
}

// NewServer wires the pieces a running RTSP listener needs.
func NewServer(log *slog.Logger, cfg *config.Config, engine *auth.Engine, sessions *Manager, ports *camera.PortAllocator, serverIP string, hooks Hooks) *Server {
	return &Server{
		log:      log.With("component", "rtsp"),
		cfg:      cfg,
		engine:   engine,
		sessions: sessions,
		ports:    ports,
		hooks:    hooks,
		serverIP: serverIP,
	}
}

// Serve accepts connections on ln until it errors (typically because the
// listener was closed during shutdown).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		if s.sessions.Count() >= s.cfg.MaxClients {
			s.log.Warn("rejecting connection, max_clients reached", "max_clients", s.cfg.MaxClients)
			conn.Close()
			continue
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
			// spec.md §5 TCP tuning: favor latency over throughput.
			_ = tcpConn.SetReadBuffer(64 * 1024)
			_ = tcpConn.SetWriteBuffer(64 * 1024)
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	writer := NewFrameWriter(conn)
	reader := bufio.NewReaderSize(conn, 64*1024)
	remoteAddr := conn.RemoteAddr()

	for {
		req, err := ReadRequest(reader)
		if err != nil {
			return
		}

		resp := s.dispatch(req, writer, remoteAddr)
		if err := resp.WriteTo(writer); err != nil {
			s.log.Warn("write response failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req *Request, writer *FrameWriter, remoteAddr net.Addr) *Response {
	switch req.Method {
	case "OPTIONS":
		return s.handleOptions(req)
	case "DESCRIBE":
		return s.handleDescribe(req)
	case "SETUP":
		return s.handleSetup(req, remoteAddr)
	case "PLAY":
		return s.handlePlay(req, writer)
	case "TEARDOWN":
		return s.handleTeardown(req)
	default:
		return NewResponse(405, req.CSeq)
	}
}

// authenticate enforces spec.md §4.2: a 401 challenge when auth is
// required and missing/invalid, passthrough when globally disabled.
func (s *Server) authenticate(req *Request) *Response {
	if !s.cfg.AuthRequired {
		return nil
	}
	if s.engine.Authenticate(req.Auth, req.Method, req.URI) {
		return nil
	}

	challenge, err := s.engine.IssueChallenge()
	if err != nil {
		return NewResponse(500, req.CSeq)
	}
	resp := NewResponse(401, req.CSeq)
	resp.Headers["WWW-Authenticate"] = challenge.String()
	return resp
}

func (s *Server) handleOptions(req *Request) *Response {
	resp := NewResponse(200, req.CSeq)
	resp.Headers["Public"] = "OPTIONS, DESCRIBE, SETUP, PLAY, TEARDOWN"
	return resp
}

func (s *Server) handleDescribe(req *Request) *Response {
	if challenge := s.authenticate(req); challenge != nil {
		return challenge
	}

	route, err := ParseRoute(req.URI)
	if err != nil {
		return NewResponse(404, req.CSeq)
	}
	if !s.hooks.CameraEnabled(route.CameraID) {
		return NewResponse(400, req.CSeq)
	}

	var sps, pps []byte
	if route.Codec == CodecH264 && s.hooks.LatestParamSets != nil {
		sps, pps = s.hooks.LatestParamSets(route.CameraID)
	}

	body, err := BuildSDP(SDPParams{
		ServerIP:    s.serverIP,
		ServerPort:  s.cfg.Port,
		CameraPath:  cameraPathName(route.CameraID),
		Codec:       route.Codec,
		PayloadType: PayloadTypeFor(route.Codec),
		SPS:         sps,
		PPS:         pps,
	})
	if err != nil {
		return NewResponse(500, req.CSeq)
	}

	resp := NewResponse(200, req.CSeq)
	resp.Headers["Content-Type"] = "application/sdp"
	resp.Headers["Content-Base"] = fmt.Sprintf("rtsp://%s:%d/live/%s/", s.serverIP, s.cfg.Port, cameraPathName(route.CameraID))
	resp.Body = body
	return resp
}

func (s *Server) handleSetup(req *Request, remoteAddr net.Addr) *Response {
	if challenge := s.authenticate(req); challenge != nil {
		return challenge
	}

	route, err := ParseRoute(req.URI)
	if err != nil {
		return NewResponse(404, req.CSeq)
	}
	if !s.hooks.CameraEnabled(route.CameraID) {
		return NewResponse(400, req.CSeq)
	}

	transportHeader := req.Header("transport")
	negotiated, err := transport.Negotiate(transportHeader, s.ports)
	if err != nil {
		return NewResponse(461, req.CSeq)
	}

	mode := TransportTCP
	if negotiated.Mode == transport.ModeUDP {
		mode = TransportUDP
	}

	existingID := sessionIDFromHeader(req.Header("session"))
	session, err := s.sessions.Setup(existingID, route.CameraID, route.Codec, mode)
	if err != nil {
		return NewResponse(454, req.CSeq)
	}

	session.TCPChannelRTP = negotiated.ChannelRTP
	session.TCPChannelRTCP = negotiated.ChannelRTCP
	session.ServerRTPPort = negotiated.ServerRTPPort
	session.ServerRTCPPort = negotiated.ServerRTCPPort
	session.ClientRTPPort = negotiated.ClientRTPPort
	session.ClientRTCPPort = negotiated.ClientRTCPPort
	if negotiated.Mode == transport.ModeUDP {
		session.ClientAddr = hostOnly(remoteAddr)
	}
	// Camera 0 (back) streams the primary profile, camera 1 (front) the
	// secondary one — the two config profiles map one-to-one onto the
	// two fixed cameras since spec.md names both but never a selector.
	if route.CameraID == 1 {
		session.Profile = s.cfg.SecondaryProfile
	} else {
		session.Profile = s.cfg.PrimaryProfile
	}

	resp := NewResponse(200, req.CSeq)
	resp.Headers["Session"] = session.ID
	resp.Headers["Transport"] = negotiated.Header()
	return resp
}

func (s *Server) handlePlay(req *Request, writer *FrameWriter) *Response {
	if challenge := s.authenticate(req); challenge != nil {
		return challenge
	}

	sessionID := sessionIDFromHeader(req.Header("session"))
	if sessionID == "" {
		return NewResponse(454, req.CSeq)
	}

	session, err := s.sessions.Play(sessionID)
	if err != nil {
		return NewResponse(454, req.CSeq)
	}
	if !s.hooks.CameraEnabled(session.CameraID) {
		return NewResponse(400, req.CSeq)
	}

	if s.hooks.OnPlay != nil {
		s.hooks.OnPlay(session, writer, session.negotiatedTransport())
	}

	resp := NewResponse(200, req.CSeq)
	resp.Headers["Session"] = session.ID
	return resp
}

func (s *Server) handleTeardown(req *Request) *Response {
	if challenge := s.authenticate(req); challenge != nil {
		return challenge
	}

	sessionID := sessionIDFromHeader(req.Header("session"))
	if sessionID == "" {
		return NewResponse(454, req.CSeq)
	}

	session, err := s.sessions.Teardown(sessionID)
	if err != nil {
		return NewResponse(454, req.CSeq)
	}
	if s.hooks.OnTeardown != nil {
		s.hooks.OnTeardown(session)
	}

	resp := NewResponse(200, req.CSeq)
	resp.Headers["Session"] = session.ID
	return resp
}

// hostOnly strips the port from a connection's remote address, since
// UDP senders dial the client's RTP/RTCP ports directly and only need
// the host. Falls back to the raw address string if it has no port.
func hostOnly(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func sessionIDFromHeader(header string) string {
	if idx := strings.IndexByte(header, ';'); idx > 0 {
		return header[:idx]
	}
	return header
}

func cameraPathName(cameraID int) string {
	if cameraID == 1 {
		return "front"
	}
	return "back"
}
