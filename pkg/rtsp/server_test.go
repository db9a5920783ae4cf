package rtsp_test

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtfodev/rtspd/pkg/auth"
	"github.com/gtfodev/rtspd/pkg/camera"
	"github.com/gtfodev/rtspd/pkg/config"
	"github.com/gtfodev/rtspd/pkg/rtsp"
	"github.com/gtfodev/rtspd/pkg/transport"
)

func startTestServer(t *testing.T, hooks rtsp.Hooks) (net.Listener, *rtsp.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.AuthRequired = false

	engine := auth.NewEngine(auth.NewUserStore(cfg.Users), auth.NewNonceStore())
	server := rtsp.NewServer(slog.Default(), cfg, engine, rtsp.NewManager(), camera.NewPortAllocator(), "127.0.0.1", hooks)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go server.Serve(ln)
	return ln, server
}

func TestServerDescribeSetupPlayTeardown(t *testing.T) {
	var playedSession *rtsp.Session
	hooks := rtsp.Hooks{
		CameraEnabled: func(cameraID int) bool { return true },
		OnPlay: func(session *rtsp.Session, writer *rtsp.FrameWriter, negotiated transport.Negotiated) {
			playedSession = session
		},
	}
	ln, _ := startTestServer(t, hooks)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	reader := bufio.NewReader(conn)

	writeRequest(t, conn, "DESCRIBE rtsp://127.0.0.1/live/front RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	status, headers, _ := readResponse(t, reader)
	assert.Equal(t, 200, status)
	assert.Equal(t, "application/sdp", headers["content-type"])

	writeRequest(t, conn, "SETUP rtsp://127.0.0.1/live/front RTSP/1.0\r\nCSeq: 2\r\nTransport: RTP/AVP/TCP;unicast;interleaved=0-1\r\n\r\n")
	status, headers, _ = readResponse(t, reader)
	assert.Equal(t, 200, status)
	sessionID := headers["session"]
	assert.NotEmpty(t, sessionID)
	assert.Contains(t, headers["transport"], "interleaved=0-1")

	writeRequest(t, conn, "PLAY rtsp://127.0.0.1/live/front RTSP/1.0\r\nCSeq: 3\r\nSession: "+sessionID+"\r\n\r\n")
	status, _, _ = readResponse(t, reader)
	assert.Equal(t, 200, status)
	require.NotNil(t, playedSession)
	assert.True(t, playedSession.Playing)

	writeRequest(t, conn, "TEARDOWN rtsp://127.0.0.1/live/front RTSP/1.0\r\nCSeq: 4\r\nSession: "+sessionID+"\r\n\r\n")
	status, _, _ = readResponse(t, reader)
	assert.Equal(t, 200, status)
}

func TestServerPlayWithoutSessionReturns454(t *testing.T) {
	hooks := rtsp.Hooks{CameraEnabled: func(int) bool { return true }}
	ln, _ := startTestServer(t, hooks)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReader(conn)

	writeRequest(t, conn, "PLAY rtsp://127.0.0.1/live/front RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	status, _, _ := readResponse(t, reader)
	assert.Equal(t, 454, status)
}

func TestServerDisabledCameraReturns400(t *testing.T) {
	hooks := rtsp.Hooks{CameraEnabled: func(int) bool { return false }}
	ln, _ := startTestServer(t, hooks)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReader(conn)

	writeRequest(t, conn, "DESCRIBE rtsp://127.0.0.1/live/front RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	status, _, _ := readResponse(t, reader)
	assert.Equal(t, 400, status)
}

func writeRequest(t *testing.T, conn net.Conn, raw string) {
	t.Helper()
	_, err := conn.Write([]byte(raw))
	require.NoError(t, err)
}

func readResponse(t *testing.T, reader *bufio.Reader) (int, map[string]string, []byte) {
	t.Helper()
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	require.Len(t, parts, 3)

	status := atoiT(t, parts[1])

	headers := make(map[string]string)
	var contentLength int
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		require.Greater(t, idx, 0)
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		headers[key] = value
		if key == "content-length" {
			contentLength = atoiT(t, value)
		}
	}

	var body []byte
	if contentLength > 0 {
		body = make([]byte, contentLength)
		_, err := io.ReadFull(reader, body)
		require.NoError(t, err)
	}
	return status, headers, body
}

func atoiT(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			t.Fatalf("not a number: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n
}
