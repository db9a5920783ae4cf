package rtsp

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// FrameWriter serializes every write to one client's RTSP socket —
// RTSP responses and TCP-interleaved RTP/RTCP frames alike — so a
// StreamLoop goroutine writing video never tears a response in half,
// per spec.md §4.4's interleaved framing and §5's "5 s timeout on
// TCP-interleaved writes."
type FrameWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewFrameWriter wraps a connection.
func NewFrameWriter(conn net.Conn) *FrameWriter {
	return &FrameWriter{conn: conn}
}

// Write implements io.Writer so *Response.WriteTo can target the same
// serialized stream as WriteInterleaved.
func (w *FrameWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return 0, err
	}
	return w.conn.Write(p)
}

// WriteInterleaved frames payload as "$ | channel | len_hi | len_lo |
// payload" per RFC 2326 §10.12 and writes it under the same lock as
// RTSP responses.
func (w *FrameWriter) WriteInterleaved(channel byte, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("interleaved payload too large: %d bytes", len(payload))
	}
	frame := make([]byte, 4+len(payload))
	frame[0] = '$'
	frame[1] = channel
	frame[2] = byte(len(payload) >> 8)
	frame[3] = byte(len(payload))
	copy(frame[4:], payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	_, err := w.conn.Write(frame)
	return err
}
