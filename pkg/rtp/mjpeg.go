package rtp

import (
	"fmt"

	"github.com/pion/rtp"
)

// MJPEGClockRate is the fixed RTP clock rate for JPEG/RFC 2435 payloads.
const MJPEGClockRate = 90000

// mjpegHeaderSize is the fixed 8-byte main JPEG header from RFC 2435 §3.1.
const mjpegHeaderSize = 8

// standard luminance and chrominance quantization tables, Annex K of the
// JPEG baseline spec, as referenced by RFC 2435 §4.2 for Q < 128.
var standardLuminance = [64]byte{
	16, 11, 10, 16, 24, 40, 51, 61,
	12, 12, 14, 19, 26, 58, 60, 55,
	14, 13, 16, 24, 40, 57, 69, 56,
	14, 17, 22, 29, 51, 87, 80, 62,
	18, 22, 37, 56, 68, 109, 103, 77,
	24, 35, 55, 64, 81, 104, 113, 92,
	49, 64, 78, 87, 103, 121, 120, 101,
	72, 92, 95, 98, 112, 100, 103, 99,
}

var standardChrominance = [64]byte{
	17, 18, 24, 47, 99, 99, 99, 99,
	18, 21, 26, 66, 99, 99, 99, 99,
	24, 26, 56, 99, 99, 99, 99, 99,
	47, 66, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
}

// MJPEGPacketizer turns a single JPEG-encoded frame into RTP packets per
// RFC 2435. Every MJPEG frame is independently decodable, so each frame's
// first fragment carries a quantization table header (RFC 2435 §3.1.8),
// letting the decoder avoid caching tables across frames.
type MJPEGPacketizer struct {
	PayloadType uint8
	SSRC        uint32

	sequenceNumber uint16
}

// NewMJPEGPacketizer creates a packetizer for one RTP session, seeded with
// startSeq per spec.md §4.3/§3's random per-client sequence-number seed.
func NewMJPEGPacketizer(payloadType uint8, ssrc uint32, startSeq uint16) *MJPEGPacketizer {
	return &MJPEGPacketizer{PayloadType: payloadType, SSRC: ssrc, sequenceNumber: startSeq}
}

// Packetize splits one encoded JPEG frame's scan data into RTP packets.
// The main header's Q field is always 255 (RFC 2435: Q 128-255 means a
// quantization table header follows), since the first packet of every
// frame carries the tables. quality is clamped to [1, 99] but does not
// change the header or the tables.
func (p *MJPEGPacketizer) Packetize(scanData []byte, width, height, quality int, timestamp uint32) ([]*rtp.Packet, error) {
	if len(scanData) == 0 {
		return nil, fmt.Errorf("empty JPEG scan data")
	}
	if width == 0 || height == 0 {
		width, height = 160, 90
	}
	if quality < 1 {
		quality = 1
	}
	if quality > 99 {
		quality = 99
	}

	qTable := standardQuantTables()

	maxFragment := MaxPayloadSize - mjpegHeaderSize
	numFragments := (len(scanData) + maxFragment - 1) / maxFragment
	packets := make([]*rtp.Packet, 0, numFragments)

	offset := 0
	for offset < len(scanData) {
		end := offset + maxFragment
		if end > len(scanData) {
			end = len(scanData)
		}
		isFirst := offset == 0
		isLast := end == len(scanData)

		var payload []byte
		if isFirst {
			payload = make([]byte, 0, mjpegHeaderSize+len(qTable)+4+(end-offset))
			payload = appendMainHeader(payload, uint32(offset), width, height)
			payload = append(payload, 0, 0) // MBZ, Precision (8-bit)
			payload = appendUint16(payload, uint16(len(qTable)))
			payload = append(payload, qTable...)
		} else {
			payload = make([]byte, 0, mjpegHeaderSize+(end-offset))
			payload = appendMainHeader(payload, uint32(offset), width, height)
		}
		payload = append(payload, scanData[offset:end]...)

		packets = append(packets, p.next(payload, timestamp, isLast))
		offset = end
	}

	return packets, nil
}

func appendMainHeader(dst []byte, fragmentOffset uint32, width, height int) []byte {
	dst = append(dst, 0) // Type-specific
	dst = append(dst, byte(fragmentOffset>>16), byte(fragmentOffset>>8), byte(fragmentOffset))
	dst = append(dst, 1) // Type 1: progression-free baseline, 2x2 h/v sampling
	dst = append(dst, 255) // Q: signal a quant table header follows
	dst = append(dst, byte(width/8))
	dst = append(dst, byte(height/8))
	return dst
}

func appendUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

// standardQuantTables returns the fixed luminance/chrominance quantization
// tables concatenated (128 bytes: 64 luma + 64 chroma). RFC 2435 §4.2
// treats these as invariant constants of the wire format, not something
// the sender rescales per Q: the Q value in the main JPEG header is the
// only per-frame quality signal; these 128 bytes never change.
func standardQuantTables() []byte {
	out := make([]byte, 0, 128)
	out = append(out, standardLuminance[:]...)
	out = append(out, standardChrominance[:]...)
	return out
}

func (p *MJPEGPacketizer) next(payload []byte, timestamp uint32, marker bool) *rtp.Packet {
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
