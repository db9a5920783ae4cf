// Package control implements the explicit camera-control bus described in
// spec.md §9 ("Patterns requiring re-architecture"): the source uses a
// process-wide event to start/stop cameras from both the RTSP server and the
// MJPEG server. Here it is a typed command channel owned by a Bus value with
// deterministic Subscribe/Unsubscribe, not a package-level singleton.
package control

// Command identifies a camera-control operation. Values mirror spec.md §6's
// "Control bus (internal, externalized as a command enum)".
type Command int

const (
	StartFrontCamera Command = iota
	StopFrontCamera
	StartBackCamera
	StopBackCamera
	StartMjpegServer
	StopMjpegServer
	// SwitchCamera is reserved per spec.md §9's Open Questions: the source
	// carries it with no well-defined behavior beyond flipping enablement
	// flags. It is accepted by the bus but no subscriber in this server acts
	// on it until product requirements define one.
	SwitchCamera
	// ClientSetChanged is published by the Supervisor's watchdog pass
	// whenever it prunes a dead session, per spec.md §4.8's "notify
	// subscribers of the client-set change."
	ClientSetChanged
)

// String renders the command for logging.
func (c Command) String() string {
	switch c {
	case StartFrontCamera:
		return "start_front_camera"
	case StopFrontCamera:
		return "stop_front_camera"
	case StartBackCamera:
		return "start_back_camera"
	case StopBackCamera:
		return "stop_back_camera"
	case StartMjpegServer:
		return "start_mjpeg_server"
	case StopMjpegServer:
		return "stop_mjpeg_server"
	case SwitchCamera:
		return "switch_camera"
	case ClientSetChanged:
		return "client_set_changed"
	default:
		return "unknown"
	}
}

// Event is a single dispatched command, carrying an optional camera id for
// commands that are camera-scoped.
type Event struct {
	Cmd      Command
	CameraID int
}
