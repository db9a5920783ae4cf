package rtcp_test

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"

	pkgrtcp "github.com/gtfodev/rtspd/pkg/rtcp"
)

func TestBuildSenderReport(t *testing.T) {
	sr := pkgrtcp.BuildSenderReport(pkgrtcp.SenderReportParams{
		SSRC:         0x1234,
		NTPTime:      time.Unix(1700000000, 0),
		RTPTimestamp: 90000,
		PacketCount:  100,
		OctetCount:   150000,
	})
	assert.Equal(t, uint32(0x1234), sr.SSRC)
	assert.Equal(t, uint32(90000), sr.RTPTime)
	assert.Equal(t, uint32(100), sr.PacketCount)
	assert.NotZero(t, sr.NTPTime)
}

func TestControllerIngestSevereLossCutsBitrateAndQuality(t *testing.T) {
	c := pkgrtcp.NewController()
	rr := &rtcp.ReceiverReport{
		Reports: []rtcp.ReceptionReport{{FractionLost: 20, TotalLost: 500, Jitter: 50}},
	}
	fb := c.Ingest(rr)
	assert.Equal(t, 0.6, fb.BitrateMultiplier)
	assert.Equal(t, 0.6, fb.QualityMultiplier)
	assert.False(t, fb.ShouldUp)
}

func TestControllerIngestModerateLoss(t *testing.T) {
	c := pkgrtcp.NewController()
	rr := &rtcp.ReceiverReport{
		Reports: []rtcp.ReceptionReport{{FractionLost: 8, Jitter: 20}},
	}
	fb := c.Ingest(rr)
	assert.Equal(t, 0.9, fb.BitrateMultiplier)
}

func TestControllerIngestLowLossUpAdjustsOncePerCooldown(t *testing.T) {
	c := pkgrtcp.NewController()
	rr := &rtcp.ReceiverReport{
		Reports: []rtcp.ReceptionReport{{FractionLost: 1, Jitter: 10}},
	}
	first := c.Ingest(rr)
	assert.True(t, first.ShouldUp)
	assert.Equal(t, 1.1, first.BitrateMultiplier)

	second := c.Ingest(rr)
	assert.False(t, second.ShouldUp)
	assert.Zero(t, second.BitrateMultiplier)
}

func TestControllerIngestLowLossHighJitterNoAction(t *testing.T) {
	c := pkgrtcp.NewController()
	rr := &rtcp.ReceiverReport{
		Reports: []rtcp.ReceptionReport{{FractionLost: 1, Jitter: 500}},
	}
	fb := c.Ingest(rr)
	assert.Zero(t, fb.BitrateMultiplier)
	assert.False(t, fb.ShouldUp)
}

func TestApplyBitrateClampsToRange(t *testing.T) {
	fb := pkgrtcp.Feedback{BitrateMultiplier: 0.6}
	got := pkgrtcp.ApplyBitrate(100_000, fb, 200_000, 2_000_000)
	assert.Equal(t, 200_000, got)
}

func TestApplyQualityFloorsAtTen(t *testing.T) {
	fb := pkgrtcp.Feedback{QualityMultiplier: 0.6}
	got := pkgrtcp.ApplyQuality(12, fb)
	assert.Equal(t, 10, got)
}

func TestIsBye(t *testing.T) {
	assert.True(t, pkgrtcp.IsBye(&rtcp.Goodbye{}))
	assert.False(t, pkgrtcp.IsBye(&rtcp.ReceiverReport{}))
}
