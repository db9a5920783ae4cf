// Package rtcp builds per-session Sender Reports and turns incoming
// Receiver Reports into bitrate/quality adjustments, per spec.md §4.6.
package rtcp

import (
	"fmt"
	"time"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01), used to build the NTP
// timestamp field of a Sender Report.
const ntpEpochOffset = 2208988800

// upAdjustCooldown is the minimum time between bitrate increases, per
// spec.md §4.6's "≥10 s since last up-adjust" condition.
const upAdjustCooldown = 10 * time.Second

// Thresholds from spec.md §4.6's adaptive-response table.
const (
	lossSevere  = 10 // fraction_lost/256 > 10 -> aggressive cut
	lossModerate = 6 // 6..10 -> moderate cut
	lossLight    = 2 // < 2 -> eligible for an up-adjust
	jitterLowThreshold = 100
)

// SenderReportParams is the input to BuildSenderReport.
type SenderReportParams struct {
	SSRC           uint32
	NTPTime        time.Time
	RTPTimestamp   uint32
	PacketCount    uint32
	OctetCount     uint32
}

// BuildSenderReport constructs a PT=200 Sender Report with no report
// blocks (RC=0), per spec.md §4.6.
func BuildSenderReport(p SenderReportParams) *rtcp.SenderReport {
	return &rtcp.SenderReport{
		SSRC:        p.SSRC,
		NTPTime:     toNTP(p.NTPTime),
		RTPTime:     p.RTPTimestamp,
		PacketCount: p.PacketCount,
		OctetCount:  p.OctetCount,
	}
}

func toNTP(t time.Time) uint64 {
	seconds := uint64(t.Unix()+ntpEpochOffset) << 32
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return seconds | frac
}

// Feedback is the adaptive-control decision derived from one Receiver
// Report, per spec.md §4.6's table.
type Feedback struct {
	FractionLost  uint8
	CumulativeLost uint32
	JitterTimestampUnits uint32
	BitrateMultiplier    float64 // 0 means "no bitrate change"
	QualityMultiplier    float64 // 0 means "no quality change"
	ShouldUp             bool
}

// Controller tracks per-session adaptive state (last up-adjust time) and
// turns ingested Receiver Reports into Feedback decisions.
type Controller struct {
	lastUpAdjust time.Time
	now          func() time.Time
}

// NewController creates a controller with no prior up-adjust recorded.
func NewController() *Controller {
	return &Controller{now: time.Now}
}

// Ingest extracts fraction lost, cumulative lost, and jitter from a
// Receiver Report's first report block and returns the adaptive action.
// A report with no blocks yields a zero Feedback (no loss data to react
// to).
func (c *Controller) Ingest(rr *rtcp.ReceiverReport) Feedback {
	if len(rr.Reports) == 0 {
		return Feedback{}
	}
	block := rr.Reports[0]
	fb := Feedback{
		FractionLost:         block.FractionLost,
		CumulativeLost:       block.TotalLost,
		JitterTimestampUnits: block.Jitter,
	}

	lost := int(block.FractionLost)
	switch {
	case lost > lossSevere:
		fb.BitrateMultiplier = 0.6
		fb.QualityMultiplier = 0.6
	case lost >= lossModerate:
		fb.BitrateMultiplier = 0.9
		fb.QualityMultiplier = 0.9
	case lost < lossLight && block.Jitter < jitterLowThreshold:
		now := c.now()
		if c.lastUpAdjust.IsZero() || now.Sub(c.lastUpAdjust) >= upAdjustCooldown {
			fb.BitrateMultiplier = 1.1
			fb.ShouldUp = true
			c.lastUpAdjust = now
		}
	}
	return fb
}

// ApplyBitrate clamps a bitrate adjustment between minBPS and maxBPS.
func ApplyBitrate(current int, fb Feedback, minBPS, maxBPS int) int {
	if fb.BitrateMultiplier == 0 {
		return current
	}
	next := int(float64(current) * fb.BitrateMultiplier)
	if fb.ShouldUp {
		if next > maxBPS {
			next = maxBPS
		}
	} else if next < minBPS {
		next = minBPS
	}
	return next
}

// ApplyQuality clamps a JPEG quality adjustment to the [10,100] floor the
// rest of the server enforces.
func ApplyQuality(current int, fb Feedback) int {
	if fb.QualityMultiplier == 0 {
		return current
	}
	next := int(float64(current) * fb.QualityMultiplier)
	if next < 10 {
		next = 10
	}
	return next
}

// IsBye reports whether packet is an RTCP BYE (PT=203), which per
// spec.md §4.6 tears the session down immediately.
func IsBye(packet rtcp.Packet) bool {
	_, ok := packet.(*rtcp.Goodbye)
	return ok
}

// AsReceiverReport narrows packet to a *rtcp.ReceiverReport (PT=201) if
// that's what it is.
func AsReceiverReport(packet rtcp.Packet) (*rtcp.ReceiverReport, bool) {
	rr, ok := packet.(*rtcp.ReceiverReport)
	return rr, ok
}

// Unmarshal parses a raw RTCP packet buffer, wrapping pion/rtcp's error.
func Unmarshal(buf []byte) ([]rtcp.Packet, error) {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return nil, fmt.Errorf("unmarshal rtcp: %w", err)
	}
	return packets, nil
}
