// Package supervisor runs the timer-driven watchdog task from spec.md
// §4.8: prune dead sessions, notify subscribers of the client-set change,
// and reconcile camera/encoder activation against actual demand.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gtfodev/rtspd/pkg/control"
	"github.com/gtfodev/rtspd/pkg/encoder"
	"github.com/gtfodev/rtspd/pkg/rtsp"
)

// tickInterval is spec.md §4.8's "every 5s" watchdog cadence.
const tickInterval = 5 * time.Second

const (
	cameraBack  = 0
	cameraFront = 1
)

// CameraControl is what the Supervisor needs from the running camera
// pipeline to reconcile activation, kept narrow per spec.md §9's note
// against a process-wide singleton: the Supervisor never imports
// pkg/camera's capture internals directly.
type CameraControl struct {
	// StopCamera halts capture for cameraID and frees its encoder.
	StopCamera func(cameraID int)
	// ParamCache returns the shared SPS/PPS cache for cameraID; nil for an
	// unknown camera id.
	ParamCache func(cameraID int) *encoder.ParamSetCache
}

// Supervisor is the watchdog task.
type Supervisor struct {
	log      *slog.Logger
	sessions *rtsp.Manager
	bus      *control.Bus
	cameras  CameraControl

	mu           sync.Mutex
	mjpegViewers [2]int

	wg sync.WaitGroup
}

// New builds a Supervisor bound to a session table, a control bus for
// client-set-change notifications, and the camera activation hooks.
func New(log *slog.Logger, sessions *rtsp.Manager, bus *control.Bus, cameras CameraControl) *Supervisor {
	return &Supervisor{
		log:      log.With("component", "supervisor"),
		sessions: sessions,
		bus:      bus,
		cameras:  cameras,
	}
}

// SetMjpegViewers records the current viewer count for a camera, called by
// the MJPEG server's acquire/release hooks so the reconciliation pass
// knows about MJPEG demand alongside RTSP PLAYing sessions.
func (s *Supervisor) SetMjpegViewers(cameraID, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cameraID < 0 || cameraID > 1 {
		return
	}
	s.mjpegViewers[cameraID] = count
}

// Run ticks every tickInterval until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.log.Info("supervisor started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("supervisor stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Wait blocks until Run has returned, for graceful shutdown sequencing.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Tick runs one watchdog pass: prune, notify, reconcile. Exported so a
// caller (or a test) can drive it synchronously instead of waiting on the
// ticker.
func (s *Supervisor) Tick() {
	cameraHasPlayingSession := s.pruneAndSurvey()
	s.reconcileCameraActivation(cameraHasPlayingSession)
}

// ReconcileOnce runs only the camera-activation reconciliation pass,
// surveying current sessions without pruning — useful when a caller just
// wants to apply the current demand snapshot (e.g. right after an MJPEG
// viewer count change).
func (s *Supervisor) ReconcileOnce() {
	cameraHasPlayingSession := map[int]bool{}
	for _, session := range s.sessions.All() {
		if session.IsPlaying() {
			cameraHasPlayingSession[cameraIDOf(session)] = true
		}
	}
	s.reconcileCameraActivation(cameraHasPlayingSession)
}

// pruneAndSurvey removes unhealthy sessions, notifies the control bus if
// any were pruned, and returns which cameras still have a PLAYing session.
func (s *Supervisor) pruneAndSurvey() map[int]bool {
	sessions := s.sessions.All()

	pruned := 0
	cameraHasPlayingSession := map[int]bool{}

	for _, session := range sessions {
		if session.IsUnhealthy() {
			s.log.Info("pruning unhealthy session", "session", session.ID)
			s.sessions.Teardown(session.ID)
			s.sessions.Remove(session.ID)
			pruned++
			continue
		}
		if session.IsPlaying() {
			cameraHasPlayingSession[cameraIDOf(session)] = true
		}
	}

	if pruned > 0 {
		s.bus.Publish(control.Event{Cmd: control.ClientSetChanged, CameraID: -1})
	}

	return cameraHasPlayingSession
}

// cameraIDOf reads a session's camera id without needing an exported
// accessor beyond the field itself, since CameraID is set once at SETUP
// and never mutated by the StreamLoop.
func cameraIDOf(session *rtsp.Session) int {
	return session.CameraID
}

// reconcileCameraActivation implements spec.md §4.8's stop condition: no
// PLAYing RTSP session on a camera AND no MJPEG viewer on it means the
// camera stops and its SPS/PPS caches clear, so a fresh client re-anchors
// cleanly.
func (s *Supervisor) reconcileCameraActivation(cameraHasPlayingSession map[int]bool) {
	s.mu.Lock()
	viewers := s.mjpegViewers
	s.mu.Unlock()

	for _, cameraID := range []int{cameraBack, cameraFront} {
		if cameraHasPlayingSession[cameraID] || viewers[cameraID] > 0 {
			continue
		}
		if s.cameras.ParamCache != nil {
			if cache := s.cameras.ParamCache(cameraID); cache != nil {
				cache.Clear()
			}
		}
		if s.cameras.StopCamera != nil {
			s.cameras.StopCamera(cameraID)
		}
	}
}
