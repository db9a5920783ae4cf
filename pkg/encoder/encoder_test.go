package encoder_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtfodev/rtspd/pkg/camera"
	"github.com/gtfodev/rtspd/pkg/encoder"
)

type fakeH264Encoder struct {
	width, height int
	failNext      bool
	configureErr  error
}

func (f *fakeH264Encoder) Configure(width, height, bitrateBPS, fps int) error {
	if f.configureErr != nil {
		return f.configureErr
	}
	f.width, f.height = width, height
	return nil
}

func (f *fakeH264Encoder) Encode(frame *camera.RawFrame) ([][]byte, error) {
	if frame.Width != f.width || frame.Height != f.height {
		return nil, fmt.Errorf("dimension mismatch")
	}
	sps := []byte{0x67, 0x01}
	pps := []byte{0x68, 0x02}
	idr := []byte{0x65, 0x03}
	return [][]byte{sps, pps, idr}, nil
}

func (f *fakeH264Encoder) SetBitrate(bitrateBPS int) error { return nil }
func (f *fakeH264Encoder) Close() error                    { return nil }

func TestAdapterEncodeExtractsSPSPPSAndKeyframe(t *testing.T) {
	fake := &fakeH264Encoder{}
	adapter := encoder.NewAdapter(slog.Default(), 0, fake)
	require.NoError(t, adapter.Start(640, 480, 1_000_000, 30))

	frame := &camera.RawFrame{Width: 640, Height: 480, PTSNanos: 1000, CameraID: 0}
	ef, err := adapter.Encode(context.Background(), frame)
	require.NoError(t, err)
	require.NotNil(t, ef)

	assert.True(t, ef.Keyframe)
	assert.NotNil(t, ef.SPS)
	assert.NotNil(t, ef.PPS)
	assert.Len(t, ef.NALUs, 3)
}

func TestAdapterRestartsOnceOnDimensionMismatch(t *testing.T) {
	fake := &fakeH264Encoder{}
	adapter := encoder.NewAdapter(slog.Default(), 0, fake)
	require.NoError(t, adapter.Start(640, 480, 1_000_000, 30))

	// A frame at a new resolution triggers one restart and then succeeds.
	frame := &camera.RawFrame{Width: 1280, Height: 720, PTSNanos: 2000, CameraID: 0}
	ef, err := adapter.Encode(context.Background(), frame)
	require.NoError(t, err)
	require.NotNil(t, ef)
}

func TestParamSetCacheUpdateAndReady(t *testing.T) {
	cache := encoder.NewParamSetCache()
	assert.False(t, cache.Ready())

	cache.Update([]byte{1}, nil)
	assert.False(t, cache.Ready())

	cache.Update(nil, []byte{2})
	assert.True(t, cache.Ready())

	sps, pps := cache.Get()
	assert.Equal(t, []byte{1}, sps)
	assert.Equal(t, []byte{2}, pps)

	cache.Clear()
	assert.False(t, cache.Ready())
}

func TestClientCacheEmptyUntilMarkSent(t *testing.T) {
	cc := encoder.NewClientCache()
	assert.True(t, cc.Empty())

	cc.MarkSent([]byte{1}, []byte{2})
	assert.False(t, cc.Empty())

	cc.Reset()
	assert.True(t, cc.Empty())
}

func TestFrameQueueDropsOldestOnOverflow(t *testing.T) {
	q := encoder.NewFrameQueue()
	for i := 0; i < 7; i++ {
		q.Push(&encoder.EncodedFrame{PTSNanos: int64(i)})
	}
	assert.Equal(t, 5, q.Len())

	first, ok := q.Pop()
	require.True(t, ok)
	// Frames 0 and 1 were dropped; the oldest surviving is PTS 2.
	assert.Equal(t, int64(2), first.PTSNanos)
}

func TestFrameQueuePopEmpty(t *testing.T) {
	q := encoder.NewFrameQueue()
	_, ok := q.Pop()
	assert.False(t, ok)
}
