// Package pipeline wires one camera's capture source, H.264 encoder
// adapter, and shared JPEG adapter together, and fans out encoded H.264
// frames to every currently-PLAYing session's own FrameQueue. It is the
// glue spec.md §1 leaves unnamed: the thing that actually starts/stops the
// external collaborators (camera.Source, encoder.H264Encoder,
// encoder.JPEGEncoder) on demand and republishes their output onto
// pkg/camera's FrameBus and pkg/encoder's per-camera caches.
//
// Grounded on pkg/relay.CameraRelay's per-unit Start/Stop/ctx-cancel shape,
// adapted from "one camera relayed to one WebRTC peer" to "one camera
// feeding N StreamLoop consumers."
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gtfodev/rtspd/pkg/camera"
	"github.com/gtfodev/rtspd/pkg/encoder"
)

const encodeFrameRate = 30

// Camera runs one camera's capture/encode pipeline and owns the fan-out
// of its encoded H.264 frames to every registered session queue.
type Camera struct {
	log      *slog.Logger
	id       int
	source   camera.Source // external collaborator; nil means no driver wired
	h264     *encoder.Adapter
	jpeg     *encoder.JPEGAdapter
	bus      *camera.FrameBus
	params   *encoder.ParamSetCache
	onError  camera.ErrorFunc

	mu             sync.Mutex
	running        bool
	refCount       int
	cancel         context.CancelFunc
	queues         map[string]*encoder.FrameQueue
	currentBitrate int
}

// New builds a Camera pipeline. h264 may be nil for an MJPEG-only camera
// (or one whose H.264 encoder hasn't been wired); source may be nil when
// no real capture driver is configured, in which case Start logs a
// warning and the camera simply never produces frames — the same
// "named collaborator, not implemented here" boundary spec.md §1 draws
// for the camera driver and hardware encoders.
func New(log *slog.Logger, id int, source camera.Source, h264 *encoder.Adapter, jpeg *encoder.JPEGAdapter, bus *camera.FrameBus, onError camera.ErrorFunc) *Camera {
	return &Camera{
		log:     log.With("component", "pipeline", "camera_id", id),
		id:      id,
		source:  source,
		h264:    h264,
		jpeg:    jpeg,
		bus:     bus,
		params:  encoder.NewParamSetCache(),
		onError: onError,
		queues:  make(map[string]*encoder.FrameQueue),
	}
}

// ParamCache exposes the shared SPS/PPS cache, for DESCRIBE and for the
// Supervisor's CameraControl.ParamCache hook.
func (c *Camera) ParamCache() *encoder.ParamSetCache { return c.params }

// CurrentBitrate reports the H.264 encoder's last-applied target bitrate,
// the baseline rtcp.ApplyBitrate adjusts from on each Receiver Report.
func (c *Camera) CurrentBitrate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBitrate
}

// SetBitrate pushes a new target bitrate to the wired H.264 encoder, per
// spec.md §4.6's adaptive-bitrate response to RTCP feedback. A no-op when
// no encoder is wired.
func (c *Camera) SetBitrate(bitrateBPS int) error {
	c.mu.Lock()
	c.currentBitrate = bitrateBPS
	h264 := c.h264
	c.mu.Unlock()

	if h264 == nil {
		return nil
	}
	return h264.SetBitrate(bitrateBPS)
}

// RegisterQueue adds sessionID's FrameQueue to the fan-out set, so every
// future encoded frame is pushed to it alongside every other PLAYing
// session on this camera. Resolves FrameQueue's single-consumer shape at
// the wiring layer instead of making FrameQueue itself fan out.
func (c *Camera) RegisterQueue(sessionID string, q *encoder.FrameQueue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[sessionID] = q
}

// UnregisterQueue removes a session's queue from the fan-out set.
func (c *Camera) UnregisterQueue(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queues, sessionID)
}

// Acquire increments the demand refcount and starts capture on the 0->1
// transition. Safe to call concurrently from the RTSP PLAY path and the
// MJPEG viewer-acquire path.
func (c *Camera) Acquire(ctx context.Context, width, height, bitrateBPS int) error {
	c.mu.Lock()
	c.refCount++
	first := c.refCount == 1 && !c.running
	c.mu.Unlock()

	if !first {
		return nil
	}
	return c.start(ctx, width, height, bitrateBPS)
}

// Release decrements the demand refcount; it does not stop capture — the
// Supervisor's watchdog pass owns the stop decision so a brief gap between
// one viewer leaving and another arriving doesn't thrash the encoder.
func (c *Camera) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refCount > 0 {
		c.refCount--
	}
}

// Running reports whether capture is currently active.
func (c *Camera) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Camera) start(ctx context.Context, width, height, bitrateBPS int) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.currentBitrate = bitrateBPS
	c.mu.Unlock()

	if c.source == nil {
		c.log.Warn("no camera capture driver wired, camera will not produce frames")
		return nil
	}

	if c.h264 != nil {
		if err := c.h264.Start(width, height, bitrateBPS, encodeFrameRate); err != nil {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return fmt.Errorf("start h264 encoder: %w", err)
		}
	}

	if err := c.source.Start(runCtx, c.onFrame); err != nil {
		if c.h264 != nil {
			_ = c.h264.Stop()
		}
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("start camera source: %w", err)
	}

	c.log.Info("camera started", "width", width, "height", height, "bitrate_bps", bitrateBPS)
	return nil
}

// Stop halts capture unconditionally, per spec.md §4.8's reconciliation
// pass: called once neither an RTSP PLAYing session nor an MJPEG viewer
// remains on this camera. Clears the frame bus and SPS/PPS cache so a
// future client re-anchors cleanly.
func (c *Camera) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.refCount = 0
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.source != nil {
		if err := c.source.Stop(); err != nil {
			c.log.Warn("camera source stop failed", "error", err)
		}
	}
	if c.h264 != nil {
		if err := c.h264.Stop(); err != nil {
			c.log.Warn("h264 encoder stop failed", "error", err)
		}
	}
	c.bus.Clear(c.id)
	c.params.Clear()
	c.log.Info("camera stopped")
}

// onFrame is the camera.Source callback: publish the raw frame for MJPEG
// readers, and if an H.264 encoder is wired, encode it and fan the
// encoded frame out to every registered session queue.
func (c *Camera) onFrame(frame *camera.RawFrame) {
	frame.CameraID = c.id
	c.bus.Publish(frame)

	if c.h264 == nil {
		return
	}

	ef, err := c.h264.Encode(context.Background(), frame)
	if err != nil {
		c.log.Warn("encode failed", "error", err)
		if c.onError != nil {
			c.onError(c.id, err)
		}
		return
	}
	if ef == nil {
		return
	}
	if ef.SPS != nil || ef.PPS != nil {
		c.params.Update(ef.SPS, ef.PPS)
	}

	c.mu.Lock()
	queues := make([]*encoder.FrameQueue, 0, len(c.queues))
	for _, q := range c.queues {
		queues = append(queues, q)
	}
	c.mu.Unlock()

	for _, q := range queues {
		q.Push(ef)
	}
}
