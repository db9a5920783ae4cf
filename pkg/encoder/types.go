// Package encoder wraps the external H.264 hardware encoder and JPEG
// encoder named in spec.md §1 as collaborators-with-contracts-only, and owns
// the global SPS/PPS cache and the bounded per-camera encoded-frame queue
// that feeds StreamLoops.
package encoder

// EncodedFrame is one H.264-encoded access unit surfaced by the encoder
// adapter, per spec.md §2's component table.
type EncodedFrame struct {
	NALUs     [][]byte // start-code-stripped NAL units, in transmission order
	SPS       []byte   // non-nil only when this frame carries a fresh SPS
	PPS       []byte   // non-nil only when this frame carries a fresh PPS
	PTSNanos  int64
	Keyframe  bool
	CameraID  int
}
