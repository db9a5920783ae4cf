package camera

import "context"

// Source is the contract the OS camera capture driver fulfills. It is an
// external collaborator per spec.md §1 ("the OS camera capture driver (a
// frame producer)") — this package only starts it, stops it, and republishes
// its frames onto the FrameBus.
type Source interface {
	// Start begins producing frames until ctx is canceled or Stop is
	// called, invoking onFrame for every captured frame.
	Start(ctx context.Context, onFrame func(*RawFrame)) error
	// Stop halts capture. Safe to call even if Start was never called.
	Stop() error
}

// ErrorFunc is the camera-error callback contract from spec.md §7
// ("Camera errors: surfaced through a callback; logged; Supervisor may
// attempt a restart on the next tick").
type ErrorFunc func(cameraID int, err error)
