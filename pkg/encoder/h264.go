package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gtfodev/rtspd/pkg/camera"
)

// NAL unit type constants, shared with pkg/rtp's packetizer.
const (
	NALTypeSlice  = 1
	NALTypeIDR    = 5
	NALTypeSEI    = 6
	NALTypeSPS    = 7
	NALTypePPS    = 8
	NALTypeAUD    = 9
	NALTypeFiller = 12
)

// H264Encoder is the external hardware encoder contract from spec.md §1:
// it consumes raw YUV frames and produces NAL units. This server treats it
// as a named collaborator, not something it implements.
type H264Encoder interface {
	// Configure (re)initializes the encoder for the given geometry and
	// target bitrate/frame rate. Called lazily on first PLAY and again
	// whenever the adapter restarts the encoder after a dimension mismatch.
	Configure(width, height, bitrateBPS, fps int) error
	// Encode submits one raw frame and returns the NAL units it produced,
	// if any (encoders are free to buffer internally and emit later).
	Encode(frame *camera.RawFrame) ([][]byte, error)
	// SetBitrate pushes a new target bitrate without a full reconfigure,
	// used by the RTCP adaptive-bitrate control loop.
	SetBitrate(bitrateBPS int) error
	// Close releases encoder resources.
	Close() error
}

// Adapter binds one H264Encoder to a camera, extracts SPS/PPS as they
// appear, and restarts the encoder once on a dimension mismatch before
// giving up per spec.md §7 ("Encoder errors").
type Adapter struct {
	log      *slog.Logger
	cameraID int
	enc      H264Encoder

	mu              sync.Mutex
	width, height   int
	bitrateBPS      int
	fps             int
	restartedOnce   bool
	configured      bool
}

// NewAdapter creates an encoder adapter for one camera.
func NewAdapter(log *slog.Logger, cameraID int, enc H264Encoder) *Adapter {
	return &Adapter{
		log:      log.With("component", "encoder", "camera_id", cameraID),
		cameraID: cameraID,
		enc:      enc,
	}
}

// Start configures the underlying encoder for the given geometry/bitrate.
func (a *Adapter) Start(width, height, bitrateBPS, fps int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.enc.Configure(width, height, bitrateBPS, fps); err != nil {
		return fmt.Errorf("configure encoder: %w", err)
	}
	a.width, a.height, a.bitrateBPS, a.fps = width, height, bitrateBPS, fps
	a.configured = true
	a.restartedOnce = false
	return nil
}

// Stop releases the encoder.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configured = false
	return a.enc.Close()
}

// SetBitrate forwards a new target bitrate to the encoder (used by the
// RTCP adaptive-bitrate loop).
func (a *Adapter) SetBitrate(bitrateBPS int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bitrateBPS = bitrateBPS
	return a.enc.SetBitrate(bitrateBPS)
}

// Encode submits a raw frame and returns a parsed EncodedFrame, handling
// dimension-mismatch restart per spec.md §7: the encoder is restarted once
// on mismatch; any further mismatch after that restart is returned as an error so the
// caller (StreamLoop/Supervisor) can downgrade the client or close it.
func (a *Adapter) Encode(ctx context.Context, frame *camera.RawFrame) (*EncodedFrame, error) {
	a.mu.Lock()
	needsRestart := a.configured && (frame.Width != a.width || frame.Height != a.height)
	a.mu.Unlock()

	if needsRestart {
		a.mu.Lock()
		already := a.restartedOnce
		a.mu.Unlock()

		if already {
			return nil, fmt.Errorf("encoder dimension mismatch persisted after restart: got %dx%d, configured %dx%d",
				frame.Width, frame.Height, a.width, a.height)
		}

		a.log.Warn("encoder dimension mismatch, restarting once",
			"got_width", frame.Width, "got_height", frame.Height,
			"configured_width", a.width, "configured_height", a.height)

		a.mu.Lock()
		bitrate, fps := a.bitrateBPS, a.fps
		a.mu.Unlock()

		if err := a.Start(frame.Width, frame.Height, bitrate, fps); err != nil {
			return nil, fmt.Errorf("restart encoder after dimension mismatch: %w", err)
		}

		// Start clears restartedOnce, so mark the restart only after it.
		a.mu.Lock()
		a.restartedOnce = true
		a.mu.Unlock()
	}

	nalus, err := a.enc.Encode(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(nalus) == 0 {
		return nil, nil
	}

	ef := &EncodedFrame{
		NALUs:    nalus,
		PTSNanos: frame.PTSNanos,
		CameraID: a.cameraID,
	}

	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		naluType := nalu[0] & 0x1F
		switch naluType {
		case NALTypeIDR:
			ef.Keyframe = true
		case NALTypeSPS:
			ef.SPS = nalu
		case NALTypePPS:
			ef.PPS = nalu
		}
	}

	return ef, nil
}
