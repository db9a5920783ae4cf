// Package mjpeg implements the HTTP multipart/x-mixed-replace snapshot
// server from spec.md §4.9: one endpoint per camera, fanned out from the
// frame bus at a capped rate, with optional Basic auth and a read-only
// introspection endpoint.
package mjpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gtfodev/rtspd/pkg/auth"
	"github.com/gtfodev/rtspd/pkg/camera"
	"github.com/gtfodev/rtspd/pkg/config"
	"github.com/gtfodev/rtspd/pkg/encoder"
)

const (
	boundary = "--frame"

	// perClientWriteTimeout is spec.md §4.9's "2s per-write timeout -
	// slow clients are dropped, not allowed to backpressure the
	// producer."
	perClientWriteTimeout = 2 * time.Second

	// fanoutRateLimit is the ~30 fps cap spec.md §4.9 puts on the
	// encode-and-fan-out loop per camera.
	fanoutRateLimit = 30

	cameraBack  = 0
	cameraFront = 1
)

// Hooks lets the MJPEG server start/stop camera capture on demand without
// depending on pkg/supervisor directly, mirroring pkg/rtsp.Hooks'
// dependency-inversion shape.
type Hooks struct {
	// AcquireCamera is called when the first viewer for a camera
	// connects; the callee is responsible for ensuring that camera's
	// capture source is running.
	AcquireCamera func(cameraID int)
	// ReleaseCamera is called when the last viewer for a camera
	// disconnects.
	ReleaseCamera func(cameraID int)
}

// Server is the HTTP snapshot server. One Server instance serves both
// camera endpoints.
type Server struct {
	log    *slog.Logger
	cfg    *config.Config
	engine *auth.Engine
	bus    *camera.FrameBus
	jpeg   *encoder.JPEGAdapter
	hooks  Hooks

	httpServer *http.Server

	mu        sync.Mutex
	viewers   [2]int
	limiters  [2]*rate.Limiter
	nonceSize func() int
}

// NewServer builds an MJPEG server. nonceSize reports the auth engine's
// live nonce count for the /stats endpoint; it may be nil if auth is
// disabled.
func NewServer(log *slog.Logger, cfg *config.Config, engine *auth.Engine, bus *camera.FrameBus, jpeg *encoder.JPEGAdapter, hooks Hooks, nonceSize func() int) *Server {
	return &Server{
		log:       log.With("component", "mjpeg"),
		cfg:       cfg,
		engine:    engine,
		bus:       bus,
		jpeg:      jpeg,
		hooks:     hooks,
		nonceSize: nonceSize,
		limiters: [2]*rate.Limiter{
			rate.NewLimiter(rate.Limit(fanoutRateLimit), 1),
			rate.NewLimiter(rate.Limit(fanoutRateLimit), 1),
		},
	}
}

// Start begins listening and serving on addr. It returns once the listener
// is up; ListenAndServe runs in its own goroutine afterward.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/Back/", s.withCommon(s.handleStream(cameraBack)))
	mux.HandleFunc("/Front/", s.withCommon(s.handleStream(cameraFront)))
	mux.HandleFunc("/stats", s.withCommon(s.handleStats))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Info("starting mjpeg server", "address", addr)
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("mjpeg server error", "error", err)
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("stopping mjpeg server")
	return s.httpServer.Shutdown(ctx)
}

// withCommon applies CORS, no-cache headers, and optional Basic auth to
// every endpoint this server exposes.
func (s *Server) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.cfg.AuthRequired && !s.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="RTSP Server"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	cred, err := auth.ParseAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil || cred.Scheme != auth.SchemeBasic {
		return false
	}
	return s.engine.Authenticate(cred, r.Method, r.URL.String())
}

// handleStream serves one camera's multipart/x-mixed-replace stream.
func (s *Server) handleStream(cameraID int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		s.acquireViewer(cameraID)
		defer s.releaseViewer(cameraID)

		w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", boundary))
		w.WriteHeader(http.StatusOK)

		ctx := r.Context()
		limiter := s.limiters[cameraID]
		var lastPTS int64 = -1

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := limiter.Wait(ctx); err != nil {
				return
			}

			frame := s.bus.Latest(cameraID)
			if frame == nil || frame.PTSNanos <= lastPTS {
				continue
			}

			jpegBytes, err := s.jpeg.Encode(frame, s.cfg.MjpegServerQuality)
			if err != nil {
				s.log.Warn("jpeg encode failed", "camera", cameraID, "error", err)
				continue
			}
			lastPTS = frame.PTSNanos

			if err := s.writeFrame(w, jpegBytes); err != nil {
				s.log.Debug("mjpeg client dropped", "camera", cameraID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// writeFrame writes one multipart part, bounding the write with
// perClientWriteTimeout via a done channel since http.ResponseWriter has no
// native write deadline.
func (s *Server) writeFrame(w http.ResponseWriter, jpegBytes []byte) error {
	done := make(chan error, 1)
	go func() {
		_, err := fmt.Fprintf(w, "%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpegBytes))
		if err == nil {
			_, err = w.Write(jpegBytes)
		}
		if err == nil {
			_, err = w.Write([]byte("\r\n"))
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(perClientWriteTimeout):
		return fmt.Errorf("write timed out after %s", perClientWriteTimeout)
	}
}

func (s *Server) acquireViewer(cameraID int) {
	s.mu.Lock()
	s.viewers[cameraID]++
	first := s.viewers[cameraID] == 1
	s.mu.Unlock()

	if first && s.hooks.AcquireCamera != nil {
		s.hooks.AcquireCamera(cameraID)
	}
}

func (s *Server) releaseViewer(cameraID int) {
	s.mu.Lock()
	s.viewers[cameraID]--
	last := s.viewers[cameraID] <= 0
	if last {
		s.viewers[cameraID] = 0
	}
	s.mu.Unlock()

	if last && s.hooks.ReleaseCamera != nil {
		s.hooks.ReleaseCamera(cameraID)
	}
}

// statsResponse is the /stats introspection payload, a supplemented
// feature beyond spec.md's distillation (grounded on pkg/api's
// /api/cameras and /api/debug/session endpoints).
type statsResponse struct {
	BackViewers  int `json:"backViewers"`
	FrontViewers int `json:"frontViewers"`
	ActiveNonces int `json:"activeNonces"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := statsResponse{
		BackViewers:  s.viewers[cameraBack],
		FrontViewers: s.viewers[cameraFront],
	}
	s.mu.Unlock()

	if s.nonceSize != nil {
		resp.ActiveNonces = s.nonceSize()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("failed to encode stats response", "error", err)
	}
}
