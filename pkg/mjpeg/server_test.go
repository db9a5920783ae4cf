package mjpeg_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtfodev/rtspd/pkg/auth"
	"github.com/gtfodev/rtspd/pkg/camera"
	"github.com/gtfodev/rtspd/pkg/config"
	"github.com/gtfodev/rtspd/pkg/encoder"
	"github.com/gtfodev/rtspd/pkg/mjpeg"
)

type fakeJPEGEncoder struct{}

func (fakeJPEGEncoder) EncodeJPEG(frame *camera.RawFrame, quality int) ([]byte, error) {
	return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestServerStreamsFramesAndTracksViewers(t *testing.T) {
	cfg := config.Default()
	cfg.AuthRequired = false
	cfg.MjpegServerQuality = 80

	bus := camera.NewFrameBus()
	bus.Publish(&camera.RawFrame{CameraID: 0, PTSNanos: 1, Width: 640, Height: 480})

	engine := auth.NewEngine(auth.NewUserStore(cfg.Users), auth.NewNonceStore())

	acquired := make(chan int, 1)
	released := make(chan int, 1)
	hooks := mjpeg.Hooks{
		AcquireCamera: func(cameraID int) { acquired <- cameraID },
		ReleaseCamera: func(cameraID int) { released <- cameraID },
	}

	srv := mjpeg.NewServer(slog.Default(), cfg, engine, bus, encoder.NewJPEGAdapter(fakeJPEGEncoder{}), hooks, engine.Nonces.Count)

	addr := freePort(t)
	require.NoError(t, srv.Start(addr))
	defer srv.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/Back/", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "multipart/x-mixed-replace")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	select {
	case camID := <-acquired:
		assert.Equal(t, 0, camID)
	case <-time.After(time.Second):
		t.Fatal("expected AcquireCamera to fire on first viewer")
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "--frame")

	cancel()
	io.Copy(io.Discard, resp.Body)

	select {
	case camID := <-released:
		assert.Equal(t, 0, camID)
	case <-time.After(time.Second):
		t.Fatal("expected ReleaseCamera to fire once the client disconnects")
	}
}

func TestServerStatsReportsViewerCounts(t *testing.T) {
	cfg := config.Default()
	cfg.AuthRequired = false

	bus := camera.NewFrameBus()
	engine := auth.NewEngine(auth.NewUserStore(cfg.Users), auth.NewNonceStore())
	srv := mjpeg.NewServer(slog.Default(), cfg, engine, bus, encoder.NewJPEGAdapter(fakeJPEGEncoder{}), mjpeg.Hooks{}, engine.Nonces.Count)

	addr := freePort(t)
	require.NoError(t, srv.Start(addr))
	defer srv.Stop(context.Background())

	resp, err := http.Get("http://" + addr + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var stats map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 0, stats["backViewers"])
	assert.Equal(t, 0, stats["frontViewers"])
}

func TestServerRejectsWithoutAuthWhenRequired(t *testing.T) {
	cfg := config.Default()
	cfg.AuthRequired = true
	cfg.Users = map[string]string{"admin": "password123"}

	bus := camera.NewFrameBus()
	engine := auth.NewEngine(auth.NewUserStore(cfg.Users), auth.NewNonceStore())
	srv := mjpeg.NewServer(slog.Default(), cfg, engine, bus, encoder.NewJPEGAdapter(fakeJPEGEncoder{}), mjpeg.Hooks{}, engine.Nonces.Count)

	addr := freePort(t)
	require.NoError(t, srv.Start(addr))
	defer srv.Stop(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/Back/", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
