package rtsp

import (
	"fmt"
	"strings"
)

// Codec is the media codec a client negotiated, selected by URI suffix
// per spec.md §4.1.
type Codec int

const (
	CodecH264 Codec = iota
	CodecMJPEG
)

func (c Codec) String() string {
	if c == CodecMJPEG {
		return "MJPEG"
	}
	return "H264"
}

// Route is the decoded routing key from an RTSP request URI.
type Route struct {
	CameraID int // 0 = back, 1 = front
	Codec    Codec
}

// ParseRoute decodes the URI path per spec.md §4.1: "/live/front" selects
// camera 1, "/live/back" or "/live" selects camera 0; a trailing
// "/mjpeg" segment selects MJPEG, otherwise H.264.
func ParseRoute(uri string) (Route, error) {
	path := uri
	if idx := strings.Index(path, "://"); idx >= 0 {
		rest := path[idx+3:]
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			path = rest[slash:]
		} else {
			path = "/"
		}
	}
	path = strings.Trim(path, "/")
	segments := strings.Split(path, "/")
	if len(segments) == 0 || segments[0] != "live" {
		return Route{}, fmt.Errorf("unknown path: %q", uri)
	}

	route := Route{CameraID: 0, Codec: CodecH264}
	rest := segments[1:]

	if len(rest) > 0 && rest[len(rest)-1] == "mjpeg" {
		route.Codec = CodecMJPEG
		rest = rest[:len(rest)-1]
	}

	switch {
	case len(rest) == 0:
		route.CameraID = 0
	case rest[0] == "back":
		route.CameraID = 0
	case rest[0] == "front":
		route.CameraID = 1
	default:
		return Route{}, fmt.Errorf("unknown path: %q", uri)
	}

	return route, nil
}
