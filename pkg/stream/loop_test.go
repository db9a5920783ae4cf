package stream_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtfodev/rtspd/pkg/camera"
	"github.com/gtfodev/rtspd/pkg/config"
	"github.com/gtfodev/rtspd/pkg/encoder"
	"github.com/gtfodev/rtspd/pkg/rtsp"
	"github.com/gtfodev/rtspd/pkg/stream"
)

type recordingSender struct {
	rtpPackets  [][]byte
	rtcpPackets [][]byte
}

func (s *recordingSender) SendRTP(payload []byte) error {
	s.rtpPackets = append(s.rtpPackets, payload)
	return nil
}

func (s *recordingSender) SendRTCP(payload []byte) error {
	s.rtcpPackets = append(s.rtcpPackets, payload)
	return nil
}

func (s *recordingSender) Close() error { return nil }

func newPlayingSession(t *testing.T, codec rtsp.Codec) *rtsp.Session {
	t.Helper()
	mgr := rtsp.NewManager()
	session, err := mgr.Setup("", 0, codec, rtsp.TransportTCP)
	require.NoError(t, err)
	session.Profile = config.DefaultVideoProfile("primary")
	played, err := mgr.Play(session.ID)
	require.NoError(t, err)
	return played
}

func TestLoopH264SendsSPSPPSOnFirstFrameThenSkipsOnNext(t *testing.T) {
	session := newPlayingSession(t, rtsp.CodecH264)
	sender := &recordingSender{}
	queue := encoder.NewFrameQueue()
	paramCache := encoder.NewParamSetCache()

	sps := []byte{0x67, 0x42}
	pps := []byte{0x68, 0x43}
	idr := []byte{0x65, 0x01, 0x02}
	queue.Push(&encoder.EncodedFrame{NALUs: [][]byte{sps, pps, idr}, SPS: sps, PPS: pps, Keyframe: true, PTSNanos: 0})

	loop := stream.NewLoop(stream.Params{
		Log:        slog.Default(),
		Session:    session,
		Sender:     sender,
		Codec:      rtsp.CodecH264,
		FrameQueue: queue,
		ParamCache: paramCache,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	// Second frame, no fresh SPS/PPS and not a keyframe: client cache is
	// already warm, so only the data NAL should be sent this time.
	nextIDR := []byte{0x61, 0x09}
	queue.Push(&encoder.EncodedFrame{NALUs: [][]byte{nextIDR}, PTSNanos: 1_000_000})

	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	// First frame: SPS + PPS + IDR = 3 packets. Second frame: 1 packet.
	assert.GreaterOrEqual(t, len(sender.rtpPackets), 4)
	assert.False(t, session.ClientCache.Empty())
}

func TestLoopH264DedupesFramesAtOrBeforeLastPTS(t *testing.T) {
	session := newPlayingSession(t, rtsp.CodecH264)
	sender := &recordingSender{}
	queue := encoder.NewFrameQueue()
	paramCache := encoder.NewParamSetCache()
	paramCache.Update([]byte{1}, []byte{2})
	session.ClientCache.MarkSent([]byte{1}, []byte{2})
	session.LastPTS = 500

	queue.Push(&encoder.EncodedFrame{NALUs: [][]byte{{0x61, 0x01}}, PTSNanos: 500})

	loop := stream.NewLoop(stream.Params{
		Log:        slog.Default(),
		Session:    session,
		Sender:     sender,
		Codec:      rtsp.CodecH264,
		FrameQueue: queue,
		ParamCache: paramCache,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, sender.rtpPackets)
}

type fakeJPEGEncoder struct{}

func (fakeJPEGEncoder) EncodeJPEG(frame *camera.RawFrame, quality int) ([]byte, error) {
	return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
}

func TestLoopMJPEGSendsPacketsForNewFrames(t *testing.T) {
	session := newPlayingSession(t, rtsp.CodecMJPEG)
	sender := &recordingSender{}
	bus := camera.NewFrameBus()
	bus.Publish(&camera.RawFrame{CameraID: 0, PTSNanos: 100, Width: 640, Height: 480})

	loop := stream.NewLoop(stream.Params{
		Log:      slog.Default(),
		Session:  session,
		Sender:   sender,
		CameraID: 0,
		Codec:    rtsp.CodecMJPEG,
		FrameBus: bus,
		JPEGEnc:  encoder.NewJPEGAdapter(fakeJPEGEncoder{}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	assert.NotEmpty(t, sender.rtpPackets)
}

func TestLoopExitsAndCallsOnExitWhenTornDown(t *testing.T) {
	session := newPlayingSession(t, rtsp.CodecH264)
	sender := &recordingSender{}
	queue := encoder.NewFrameQueue()
	paramCache := encoder.NewParamSetCache()

	exited := make(chan *rtsp.Session, 1)
	loop := stream.NewLoop(stream.Params{
		Log:        slog.Default(),
		Session:    session,
		Sender:     sender,
		Codec:      rtsp.CodecH264,
		FrameQueue: queue,
		ParamCache: paramCache,
		OnExit: func(s *rtsp.Session) {
			exited <- s
		},
	})

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	session.State = rtsp.StateTeardown
	session.Playing = false

	select {
	case s := <-exited:
		assert.Equal(t, session.ID, s.ID)
	case <-time.After(time.Second):
		t.Fatal("expected OnExit to fire after teardown")
	}
	<-done
}
