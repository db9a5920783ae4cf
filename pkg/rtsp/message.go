// Package rtsp implements the RTSP/1.0 request parser, session state
// machine, SDP generation, and connection handling described in
// spec.md §4.1/§4.3.
package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gtfodev/rtspd/pkg/auth"
)

// Request is a parsed RTSP request: request line, headers (lowercase
// keys for lookup, original case discarded per spec.md §4.1's
// case-insensitive header names), and an eagerly-parsed Authorization
// value.
type Request struct {
	Method  string
	URI     string
	Version string
	CSeq    int
	Headers map[string]string
	Auth    *auth.Credentials
	Body    []byte
}

// Header looks up a header by case-insensitive name.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// ReadRequest parses one RTSP request from r. CSeq defaults to 0 if
// absent, per spec.md §4.1.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed request line: %q", line)
	}

	req := &Request{
		Method:  parts[0],
		URI:     parts[1],
		Version: parts[2],
		Headers: make(map[string]string),
	}

	var contentLength int
	for {
		hline, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		hline = strings.TrimRight(hline, "\r\n")
		if hline == "" {
			break
		}
		idx := strings.IndexByte(hline, ':')
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(hline[:idx]))
		value := strings.TrimSpace(hline[idx+1:])
		req.Headers[key] = value

		if key == "content-length" {
			contentLength, _ = strconv.Atoi(value)
		}
	}

	if cseq, ok := req.Headers["cseq"]; ok {
		if n, err := strconv.Atoi(cseq); err == nil {
			req.CSeq = n
		}
	}

	cred, err := auth.ParseAuthorizationHeader(req.Headers["authorization"])
	if err != nil {
		// Malformed Authorization is treated as "no credentials"; the
		// auth layer will issue a fresh 401 challenge rather than the
		// parser rejecting the whole request.
		cred = &auth.Credentials{Scheme: auth.SchemeNone}
	}
	req.Auth = cred

	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		req.Body = body
	}

	return req, nil
}

// Response is a server response to one Request.
type Response struct {
	StatusCode int
	CSeq       int
	Headers    map[string]string
	Body       []byte
}

// NewResponse builds a response echoing the request's CSeq, per
// spec.md §4.1: "CSeq must echo from request into response."
func NewResponse(status int, cseq int) *Response {
	return &Response{StatusCode: status, CSeq: cseq, Headers: make(map[string]string)}
}

var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	401: "Unauthorized",
	404: "Not Found",
	405: "Method Not Allowed",
	454: "Session Not Found",
	461: "Unsupported Transport",
	500: "Internal Server Error",
}

// WriteTo serializes the response to w.
func (resp *Response) WriteTo(w io.Writer) error {
	reason, ok := statusText[resp.StatusCode]
	if !ok {
		reason = "Unknown"
	}

	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("RTSP/1.0 %d %s\r\n", resp.StatusCode, reason))
	buf.WriteString(fmt.Sprintf("CSeq: %d\r\n", resp.CSeq))
	for k, v := range resp.Headers {
		buf.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	if len(resp.Body) > 0 {
		buf.WriteString(fmt.Sprintf("Content-Length: %d\r\n", len(resp.Body)))
	}
	buf.WriteString("\r\n")

	if _, err := io.WriteString(w, buf.String()); err != nil {
		return fmt.Errorf("write response headers: %w", err)
	}
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			return fmt.Errorf("write response body: %w", err)
		}
	}
	return nil
}
