package auth

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// NonceLifetime is the fixed expiry window from spec.md §4.2/§3: "Nonces
// expire 5 minutes after issuance."
const NonceLifetime = 5 * time.Minute

// NonceStore tracks issued Digest nonces and their expiry. Purging happens
// lazily on issuance, per spec.md §9's design note: "on each issuance,
// purge any entry with expiry < now" — purge is unconditional on expiry
// time, not on the order entries were inserted, so it cannot reproduce the
// source's parsing-inversion bug.
type NonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

// NewNonceStore creates an empty store.
func NewNonceStore() *NonceStore {
	return &NonceStore{
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Issue purges expired entries, mints a fresh random nonce, records its
// expiry, and returns it.
func (s *NonceStore) Issue() (string, error) {
	nonce, err := randomBase64(16)
	if err != nil {
		return "", err
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for n, expiry := range s.nonces {
		if expiry.Before(now) {
			delete(s.nonces, n)
		}
	}
	s.nonces[nonce] = now.Add(NonceLifetime)
	return nonce, nil
}

// Validate reports whether nonce is known and unexpired. An expired nonce
// is deleted on sight and reported invalid, per spec.md §4.2.
func (s *NonceStore) Validate(nonce string) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.nonces[nonce]
	if !ok {
		return false
	}
	if expiry.Before(now) {
		delete(s.nonces, nonce)
		return false
	}
	return true
}

// Count reports the number of live nonces, for tests and introspection.
func (s *NonceStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonces)
}

func randomBase64(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
