package rtsp

import (
	"encoding/base64"
	"fmt"

	"github.com/pion/sdp/v3"
)

// SDPParams is the input to BuildSDP: everything needed to describe one
// camera's stream, per spec.md §6's SDP template.
type SDPParams struct {
	ServerIP    string
	ServerPort  int
	CameraPath  string // e.g. "back" or "front"
	Codec       Codec
	PayloadType uint8
	SPS, PPS    []byte // H.264 only; nil for MJPEG or before first keyframe
}

const (
	h264PayloadType  = 96
	mjpegPayloadType = 26
	sdpClockRate     = 90000
)

// PayloadTypeFor returns the fixed RTP payload type for a codec, per
// spec.md §6.
func PayloadTypeFor(codec Codec) uint8 {
	if codec == CodecMJPEG {
		return mjpegPayloadType
	}
	return h264PayloadType
}

// BuildSDP renders the DESCRIBE response body for one camera/codec pair.
func BuildSDP(p SDPParams) ([]byte, error) {
	mediaName := sdp.MediaName{
		Media:  "video",
		Port:   sdp.RangedPort{Value: 0},
		Protos: []string{"RTP", "AVP"},
		Formats: []string{fmt.Sprintf("%d", p.PayloadType)},
	}

	attrs := []sdp.Attribute{
		{Key: "rtpmap", Value: fmt.Sprintf("%d %s/%d", p.PayloadType, rtpmapCodecName(p.Codec), sdpClockRate)},
	}
	if p.Codec == CodecH264 {
		fmtp := "profile-level-id=42e01e;packetization-mode=1"
		if len(p.SPS) > 0 && len(p.PPS) > 0 {
			fmtp += ";sprop-parameter-sets=" + base64.StdEncoding.EncodeToString(p.SPS) + "," + base64.StdEncoding.EncodeToString(p.PPS)
		}
		attrs = append(attrs, sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d %s", p.PayloadType, fmtp)})
	}
	attrs = append(attrs, sdp.Attribute{
		Key:   "control",
		Value: fmt.Sprintf("rtsp://%s:%d/live/%s", p.ServerIP, p.ServerPort, p.CameraPath),
	})

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sdp.NewSessionID(),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.ServerIP,
		},
		SessionName: "RTSP Server Stream",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: mediaName,
				ConnectionInformation: &sdp.ConnectionInformation{
					NetworkType: "IN",
					AddressType: "IP4",
					Address:     &sdp.Address{Address: p.ServerIP},
				},
				Attributes: attrs,
			},
		},
	}

	body, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal SDP: %w", err)
	}
	return body, nil
}

func rtpmapCodecName(codec Codec) string {
	if codec == CodecMJPEG {
		return "JPEG"
	}
	return "H264"
}
