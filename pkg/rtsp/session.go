package rtsp

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/gtfodev/rtspd/pkg/config"
	"github.com/gtfodev/rtspd/pkg/encoder"
	"github.com/gtfodev/rtspd/pkg/transport"
)

// SessionState is the per-client state machine from spec.md §4.3:
// INIT -> DESCRIBED -> SETUP -> PLAYING -> TEARDOWN.
type SessionState int

const (
	StateInit SessionState = iota
	StateDescribed
	StateSetup
	StatePlaying
	StateTeardown
)

// TransportMode is the negotiated delivery mode for one session.
type TransportMode int

const (
	TransportTCP TransportMode = iota
	TransportUDP
)

// Session is the per-client state from spec.md §3 ("Client session").
type Session struct {
	mu sync.Mutex

	ID    string
	State SessionState

	Transport     TransportMode
	TCPChannelRTP  byte
	TCPChannelRTCP byte
	ServerRTPPort  int
	ServerRTCPPort int
	ClientAddr     string // UDP client RTP/RTCP host, for sending SR / receiving RR
	ClientRTPPort  int
	ClientRTCPPort int

	Codec    Codec
	CameraID int
	Profile  config.VideoProfile

	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	BaseRTPTS      uint32
	BasePTSNanos   int64
	AnchorSet      bool

	FrameCount            uint64
	PacketCount           uint64
	OctetCount            uint64
	LastSenderReportAt    time.Time
	LastRTPTimestampSent  uint32
	LastActivity          time.Time
	ConsecutiveSendErrors int

	ClientCache *encoder.ClientCache
	LastPTS     int64
	Playing     bool
}

// TouchActivity records that the session did something observable, used
// by the Supervisor's inactivity check (spec.md §3: "inactivity > 10 s
// implies the session is unhealthy").
func (s *Session) TouchActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
}

// IsUnhealthy reports whether the session has crossed the
// send-error/inactivity thresholds from spec.md §3.
func (s *Session) IsUnhealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConsecutiveSendErrors >= 3 {
		return true
	}
	return time.Since(s.LastActivity) > 10*time.Second
}

// IsPlaying reports whether the session is still in the PLAYING state,
// checked under lock since TEARDOWN flips it from a different goroutine
// than the one running this session's StreamLoop.
func (s *Session) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Playing
}

// CurrentQuality returns the session's current MJPEG JPEG quality.
func (s *Session) CurrentQuality() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Profile.Quality
}

// SetQuality updates the session's MJPEG JPEG quality, per spec.md §4.6's
// adaptive-quality response to RTCP Receiver Report feedback.
func (s *Session) SetQuality(quality int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Profile.Quality = quality
}

// RecordSendError increments the consecutive-send-error counter.
func (s *Session) RecordSendError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConsecutiveSendErrors++
}

// RecordSendSuccess resets the consecutive-send-error counter.
func (s *Session) RecordSendSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConsecutiveSendErrors = 0
	s.LastActivity = time.Now()
}

// RecordSentPacket accounts one transmitted RTP packet, keeping
// PacketCount/OctetCount/LastRTPTimestampSent consistent for the next
// Sender Report, per spec.md §5's "one writer (StreamLoop)" rule for
// per-session RTP state.
func (s *Session) RecordSentPacket(octets int, rtpTimestamp uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PacketCount++
	s.OctetCount += uint64(octets)
	s.LastRTPTimestampSent = rtpTimestamp
}

// SenderReportSnapshot returns the counters a Sender Report needs,
// synchronized against concurrent StreamLoop writes.
func (s *Session) SenderReportSnapshot() (packetCount, octetCount uint64, rtpTimestamp uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PacketCount, s.OctetCount, s.LastRTPTimestampSent
}

// negotiatedTransport reconstructs the transport.Negotiated outcome that
// SETUP recorded on the session, so PLAY can hand it to Hooks.OnPlay
// without the session needing to retain a transport.Negotiated value
// directly.
func (s *Session) negotiatedTransport() transport.Negotiated {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode := transport.ModeTCP
	if s.Transport == TransportUDP {
		mode = transport.ModeUDP
	}
	return transport.Negotiated{
		Mode:           mode,
		ChannelRTP:     s.TCPChannelRTP,
		ChannelRTCP:    s.TCPChannelRTCP,
		ClientRTPPort:  s.ClientRTPPort,
		ClientRTCPPort: s.ClientRTCPPort,
		ServerRTPPort:  s.ServerRTPPort,
		ServerRTCPPort: s.ServerRTCPPort,
	}
}

// RTPTimestampFor returns the RTP timestamp for a frame with the given PTS,
// per the affine mapping in spec.md §3. The first call anchors
// BasePTSNanos to BaseRTPTS; the sequence number is not touched.
func (s *Session) RTPTimestampFor(ptsNanos int64) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.AnchorSet {
		s.BasePTSNanos = ptsNanos
		s.AnchorSet = true
		return s.BaseRTPTS
	}
	deltaNanos := ptsNanos - s.BasePTSNanos
	deltaTicks := math.Round(float64(deltaNanos) * 90000 / 1e9)
	return s.BaseRTPTS + uint32(int64(deltaTicks))
}

// Manager implements SessionManager from spec.md §4.3.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session table.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

func newSessionID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ErrUnknownSession is returned by Play/Teardown when the session id is
// absent, per spec.md §4.3: "Absence of session state on PLAY/TEARDOWN
// -> 454."
var ErrUnknownSession = fmt.Errorf("unknown session")

// ErrUnsupportedTransport names the "Unsupported transport -> 461" case
// of spec.md §4.3. Manager.Setup does not return it: the server answers
// 461 itself when transport.Negotiate rejects the Transport header.
var ErrUnsupportedTransport = fmt.Errorf("unsupported transport")

// Setup allocates a new session (or reuses sessionID if supplied and
// known) with the given camera/codec/transport, per spec.md §4.3.
func (m *Manager) Setup(sessionID string, cameraID int, codec Codec, transport TransportMode) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		if existing, ok := m.sessions[sessionID]; ok {
			existing.mu.Lock()
			existing.CameraID = cameraID
			existing.Codec = codec
			existing.Transport = transport
			existing.State = StateSetup
			existing.mu.Unlock()
			return existing, nil
		}
		return nil, ErrUnknownSession
	}

	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("allocate session id: %w", err)
	}

	session := &Session{
		ID:           id,
		State:        StateSetup,
		Transport:    transport,
		Codec:        codec,
		CameraID:     cameraID,
		ClientCache:  encoder.NewClientCache(),
		LastActivity: time.Now(),
		SSRC:         mathrand.Uint32(),
	}
	m.sessions[id] = session
	return session, nil
}

// Play transitions a SETUP session into PLAYING, seeding its RTP
// sequence/timestamp anchors with random values per spec.md §4.3.
func (m *Manager) Play(sessionID string) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSession
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	session.State = StatePlaying
	session.Playing = true
	session.SequenceNumber = uint16(mathrand.Uint32())
	session.BaseRTPTS = mathrand.Uint32()
	session.Timestamp = session.BaseRTPTS
	session.AnchorSet = false
	session.LastActivity = time.Now()
	session.LastPTS = -1
	if session.ClientCache != nil {
		session.ClientCache.Reset()
	}
	return session, nil
}

// Teardown marks a session not-playing and cooperative; it does not
// remove the session from the table, since spec.md §4.3 requires
// resources to be released by the StreamLoop's finally-equivalent path.
func (m *Manager) Teardown(sessionID string) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSession
	}

	session.mu.Lock()
	session.State = StateTeardown
	session.Playing = false
	session.mu.Unlock()
	return session, nil
}

// Get returns a session by id, if known.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Remove deletes a session from the table, used by the Supervisor once a
// torn-down session's StreamLoop has exited.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// All returns a snapshot of every known session, for the Supervisor's
// watchdog sweep.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count reports the number of known sessions, for max_clients
// enforcement.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
