package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Scheme identifies which authentication scheme a client presented.
type Scheme int

const (
	// SchemeNone means no Authorization header was present.
	SchemeNone Scheme = iota
	SchemeBasic
	SchemeDigest
)

// Credentials is the typed result of parsing a client's Authorization
// header, per spec.md §4.1: "the Authorization header is parsed eagerly
// into a typed value rather than re-split on demand by every handler."
type Credentials struct {
	Scheme Scheme

	// Basic
	BasicUser string
	BasicPass string

	// Digest
	Username string
	Realm    string
	Nonce    string
	URI      string
	Response string
	Algorithm string
	Qop       string
	CNonce    string
	NC        string
}

// ParseAuthorizationHeader parses the value of an RTSP/HTTP Authorization
// header into Credentials. An empty header yields SchemeNone with no
// error — missing auth is a normal, expected case handled by the caller.
func ParseAuthorizationHeader(header string) (*Credentials, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return &Credentials{Scheme: SchemeNone}, nil
	}

	switch {
	case strings.HasPrefix(header, "Basic "):
		return parseBasic(header[len("Basic "):])
	case strings.HasPrefix(header, "Digest "):
		return parseDigest(header[len("Digest "):])
	default:
		return nil, fmt.Errorf("unsupported authorization scheme")
	}
}

func parseBasic(encoded string) (*Credentials, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode basic credentials: %w", err)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, fmt.Errorf("malformed basic credentials")
	}
	return &Credentials{Scheme: SchemeBasic, BasicUser: user, BasicPass: pass}, nil
}

func parseDigest(fields string) (*Credentials, error) {
	c := &Credentials{Scheme: SchemeDigest}
	for _, part := range splitDigestFields(fields) {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"`)
		switch key {
		case "username":
			c.Username = val
		case "realm":
			c.Realm = val
		case "nonce":
			c.Nonce = val
		case "uri":
			c.URI = val
		case "response":
			c.Response = val
		case "algorithm":
			c.Algorithm = val
		case "qop":
			c.Qop = val
		case "cnonce":
			c.CNonce = val
		case "nc":
			c.NC = val
		}
	}
	if c.Username == "" || c.Nonce == "" || c.Response == "" {
		return nil, fmt.Errorf("malformed digest credentials")
	}
	return c, nil
}

// splitDigestFields splits a Digest field list on commas that are not
// inside a quoted string, since quoted values (e.g. a URI) may themselves
// contain commas.
func splitDigestFields(s string) []string {
	var fields []string
	var inQuotes bool
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	fields = append(fields, s[start:])
	return fields
}
