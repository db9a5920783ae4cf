// Package rtp packetizes encoded video into RTP packets for the server's
// PLAY data path: H.264 per RFC 6184 and MJPEG per RFC 2435.
package rtp

import (
	"fmt"

	"github.com/pion/rtp"
)

// NAL unit type constants (RFC 6184 §5.2).
const (
	NALUTypeUnspecified = 0
	NALUTypePFrame      = 1
	NALUTypeIFrame      = 5
	NALUTypeSEI         = 6
	NALUTypeSPS         = 7
	NALUTypePPS         = 8
	NALUTypeAUD         = 9
	NALUTypeSTAPA       = 24 // Single-Time Aggregation Packet
	NALUTypeFUA         = 28 // Fragmentation Unit A
)

// H264ClockRate is the fixed RTP clock rate for H.264 payloads (RFC 6184).
const H264ClockRate = 90000

// MaxPayloadSize bounds a single RTP packet's payload so the packetized
// stream stays under common path MTUs (spec.md §6: payload size is kept
// under ~1400 bytes to avoid IP fragmentation).
const MaxPayloadSize = 1400

// singleNALMaxSize is the largest NAL unit sent as a single-NAL-unit
// packet (RFC 6184 §5.6): MTU-12, leaving room for the 12-byte RTP
// header. A NAL one byte over this still fits under MaxPayloadSize as a
// raw payload but must be FU-A fragmented per spec.md §4.5's boundary.
const singleNALMaxSize = MaxPayloadSize - 12

// H264Packetizer turns NAL units into RTP packets per RFC 6184: a NALU
// that fits in one packet is sent as a single NAL unit packet; anything
// larger is split into FU-A fragments.
type H264Packetizer struct {
	PayloadType uint8
	SSRC        uint32

	sequenceNumber uint16
}

// NewH264Packetizer creates a packetizer for one RTP session, seeded with
// startSeq per spec.md §4.3/§3: PLAY seeds each client's sequence number
// with a random value rather than always starting at 0.
func NewH264Packetizer(payloadType uint8, ssrc uint32, startSeq uint16) *H264Packetizer {
	return &H264Packetizer{PayloadType: payloadType, SSRC: ssrc, sequenceNumber: startSeq}
}

// Packetize splits nalus (one encoded frame, in decode order, start codes
// already stripped) into RTP packets stamped with timestamp. The marker
// bit is set on the last packet of the frame, per RFC 3550 §5.1.
func (p *H264Packetizer) Packetize(nalus [][]byte, timestamp uint32) ([]*rtp.Packet, error) {
	var packets []*rtp.Packet

	for i, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		last := i == len(nalus)-1

		if len(nalu) <= singleNALMaxSize {
			packets = append(packets, p.next(nalu, timestamp, last))
			continue
		}

		fragments, err := p.packetizeFUA(nalu, timestamp, last)
		if err != nil {
			return nil, fmt.Errorf("packetize FU-A: %w", err)
		}
		packets = append(packets, fragments...)
	}

	return packets, nil
}

func (p *H264Packetizer) packetizeFUA(nalu []byte, timestamp uint32, frameEnd bool) ([]*rtp.Packet, error) {
	if len(nalu) < 1 {
		return nil, fmt.Errorf("empty NAL unit")
	}
	fuIndicator := (nalu[0] & 0xE0) | NALUTypeFUA
	naluType := nalu[0] & 0x1F
	payload := nalu[1:]

	maxFragment := MaxPayloadSize - 2 // FU indicator + FU header
	if maxFragment <= 0 {
		return nil, fmt.Errorf("MaxPayloadSize too small for FU-A")
	}
	if len(payload) <= maxFragment {
		// An FU-A NAL needs separate start and end fragments, so split a
		// payload that would otherwise fit in one.
		maxFragment = (len(payload) + 1) / 2
	}

	var packets []*rtp.Packet
	for offset := 0; offset < len(payload); offset += maxFragment {
		end := offset + maxFragment
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]

		fuHeader := naluType
		if offset == 0 {
			fuHeader |= 0x80 // start bit
		}
		isLastFragment := end == len(payload)
		if isLastFragment {
			fuHeader |= 0x40 // end bit
		}

		buf := make([]byte, 0, len(chunk)+2)
		buf = append(buf, fuIndicator, fuHeader)
		buf = append(buf, chunk...)

		marker := isLastFragment && frameEnd
		packets = append(packets, p.next(buf, timestamp, marker))
	}
	return packets, nil
}

func (p *H264Packetizer) next(payload []byte, timestamp uint32, marker bool) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.sequenceNumber,
			Timestamp:      timestamp,
			SSRC:           p.SSRC,
		},
		Payload: payload,
	}
	p.sequenceNumber++
	return pkt
}
