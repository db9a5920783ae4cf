package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	pionrtp "github.com/pion/rtp"

	"github.com/gtfodev/rtspd/pkg/camera"
	"github.com/gtfodev/rtspd/pkg/encoder"
	"github.com/gtfodev/rtspd/pkg/rtcp"
	rtppkt "github.com/gtfodev/rtspd/pkg/rtp"
	"github.com/gtfodev/rtspd/pkg/rtsp"
)

const (
	// dequeuePollInterval is the sleep when the H.264 queue is empty,
	// per spec.md §4.7 step 2 ("If nothing, sleep 10 ms").
	dequeuePollInterval = 10 * time.Millisecond

	// mjpegFrameBudget approximates the spec's ~45 fps MJPEG cadence
	// (22 ms budget minus work).
	mjpegFrameBudget = 22 * time.Millisecond

	// senderReportInterval is the spec's "every ~5 s" RTCP SR cadence.
	senderReportInterval = 5 * time.Second

	naluTypeSPS    = 7
	naluTypePPS    = 8
	naluTypeAUD    = 9
	naluTypeFiller = 12
)

// Params configures one StreamLoop. Exactly one of FrameQueue (H.264) or
// FrameBus+JPEGEncoder (MJPEG) is used, selected by Codec.
type Params struct {
	Log      *slog.Logger
	Session  *rtsp.Session
	Sender   PacketSender
	CameraID int
	Codec    rtsp.Codec

	FrameQueue *encoder.FrameQueue   // H.264 only
	ParamCache *encoder.ParamSetCache // H.264 only

	FrameBus *camera.FrameBus    // MJPEG only
	JPEGEnc  *encoder.JPEGAdapter // MJPEG only

	// OnExit runs once the loop returns, regardless of why, so the caller
	// can release transport resources (UDP ports, the session table
	// entry) — the "finally-equivalent path" spec.md §4.3/§5 describes.
	OnExit func(session *rtsp.Session)
}

// Loop is one PLAYing client's per-iteration delivery task, per spec.md
// §4.7.
type Loop struct {
	p Params

	h264Pkt *rtppkt.H264Packetizer
	mjpgPkt *rtppkt.MJPEGPacketizer

	lastMJPEGPTS       int64
	lastSenderReportAt time.Time
}

// NewLoop builds a StreamLoop from Params. The packetizer's SSRC and
// starting sequence number are taken from the session, and its payload
// type from PayloadTypeFor(p.Codec), so they stay consistent with what
// DESCRIBE/SETUP already advertised.
func NewLoop(p Params) *Loop {
	l := &Loop{p: p, lastMJPEGPTS: -1}
	pt := rtsp.PayloadTypeFor(p.Codec)
	switch p.Codec {
	case rtsp.CodecH264:
		l.h264Pkt = rtppkt.NewH264Packetizer(pt, p.Session.SSRC, p.Session.SequenceNumber)
	case rtsp.CodecMJPEG:
		l.mjpgPkt = rtppkt.NewMJPEGPacketizer(pt, p.Session.SSRC, p.Session.SequenceNumber)
	}
	return l
}

// Run executes the delivery loop until the session stops playing, goes
// unhealthy, or the context is canceled. It always invokes p.OnExit before
// returning.
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		if l.p.Sender != nil {
			_ = l.p.Sender.Close()
		}
		if l.p.OnExit != nil {
			l.p.OnExit(l.p.Session)
		}
	}()

	l.p.Session.TouchActivity()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !l.p.Session.IsPlaying() || l.p.Session.IsUnhealthy() {
			return
		}

		var sentSomething bool
		var err error
		switch l.p.Codec {
		case rtsp.CodecH264:
			sentSomething, err = l.stepH264()
		case rtsp.CodecMJPEG:
			sentSomething, err = l.stepMJPEG()
		}

		if err != nil {
			l.p.Log.Warn("stream send failed", "session", l.p.Session.ID, "error", err)
			l.p.Session.RecordSendError()
			if errors.Is(err, ErrHostUnreachable) {
				return
			}
		} else if sentSomething {
			l.p.Session.RecordSendSuccess()
		}

		if time.Since(l.lastSenderReportAt) >= senderReportInterval {
			if err := l.sendSenderReport(); err != nil {
				l.p.Log.Warn("rtcp sender report failed", "session", l.p.Session.ID, "error", err)
			}
			l.lastSenderReportAt = time.Now()
		}

		if !sentSomething {
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.idleSleep()):
			}
		}
	}
}

func (l *Loop) idleSleep() time.Duration {
	if l.p.Codec == rtsp.CodecMJPEG {
		return mjpegFrameBudget
	}
	return dequeuePollInterval
}

// stepH264 implements spec.md §4.7 step 2.
func (l *Loop) stepH264() (bool, error) {
	ef, ok := l.p.FrameQueue.Pop()
	if !ok {
		return false, nil
	}
	if ef.PTSNanos <= l.p.Session.LastPTS {
		return false, nil
	}

	if ef.SPS != nil || ef.PPS != nil {
		l.p.ParamCache.Update(ef.SPS, ef.PPS)
	}

	rtpTS := l.p.Session.RTPTimestampFor(ef.PTSNanos)

	var toSend [][]byte
	if ef.Keyframe || l.p.Session.ClientCache.Empty() {
		if sps, pps := l.p.ParamCache.Get(); sps != nil && pps != nil {
			toSend = append(toSend, sps, pps)
			l.p.Session.ClientCache.MarkSent(sps, pps)
		}
	}
	for _, nalu := range ef.NALUs {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1F {
		case naluTypeAUD, naluTypeFiller, naluTypeSPS, naluTypePPS:
			continue
		}
		toSend = append(toSend, nalu)
	}
	if len(toSend) == 0 {
		l.p.Session.LastPTS = ef.PTSNanos
		return false, nil
	}

	packets, err := l.h264Pkt.Packetize(toSend, rtpTS)
	if err != nil {
		return false, err
	}
	if err := l.sendPackets(packets); err != nil {
		return false, err
	}

	l.p.Session.LastPTS = ef.PTSNanos
	return true, nil
}

// stepMJPEG implements spec.md §4.7 step 3.
func (l *Loop) stepMJPEG() (bool, error) {
	frame := l.p.FrameBus.Latest(l.p.CameraID)
	if frame == nil || frame.PTSNanos <= l.lastMJPEGPTS {
		return false, nil
	}

	quality := l.p.Session.CurrentQuality()
	jpegBytes, err := l.p.JPEGEnc.Encode(frame, quality)
	if err != nil {
		return false, err
	}

	rtpTS := l.p.Session.RTPTimestampFor(frame.PTSNanos)
	packets, err := l.mjpgPkt.Packetize(jpegBytes, l.p.Session.Profile.Width, l.p.Session.Profile.Height, quality, rtpTS)
	if err != nil {
		return false, err
	}
	if err := l.sendPackets(packets); err != nil {
		return false, err
	}

	l.lastMJPEGPTS = frame.PTSNanos
	l.p.Session.LastPTS = frame.PTSNanos
	return true, nil
}

func (l *Loop) sendPackets(packets []*pionrtp.Packet) error {
	for _, pkt := range packets {
		buf, err := pkt.Marshal()
		if err != nil {
			return err
		}
		if err := l.p.Sender.SendRTP(buf); err != nil {
			return err
		}
		l.p.Session.RecordSentPacket(len(buf), pkt.Timestamp)
	}
	return nil
}

func (l *Loop) sendSenderReport() error {
	packetCount, octetCount, rtpTimestamp := l.p.Session.SenderReportSnapshot()
	sr := rtcp.BuildSenderReport(rtcp.SenderReportParams{
		SSRC:         l.p.Session.SSRC,
		NTPTime:      time.Now(),
		RTPTimestamp: rtpTimestamp,
		PacketCount:  uint32(packetCount),
		OctetCount:   uint32(octetCount),
	})
	buf, err := sr.Marshal()
	if err != nil {
		return err
	}
	return l.p.Sender.SendRTCP(buf)
}
