// Package auth implements the RTSP authentication layer from spec.md §4.2:
// a user store, a nonce store with 5-minute expiry, and Basic/Digest (MD5)
// verification against a shared realm.
package auth

import (
	"crypto/subtle"
	"sync"
)

// DefaultRealm is the realm advertised in every Digest challenge.
const DefaultRealm = "RTSP Server"

// UserStore holds the username/password table. AddUser, UpdateUser, and
// RemoveUser apply without a server restart, per spec.md §4.2.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]string
}

// NewUserStore seeds the store. With no seed users it falls back to the
// spec's default seed set (admin/password123) — "unless overridden".
func NewUserStore(seed map[string]string) *UserStore {
	users := make(map[string]string, len(seed))
	for k, v := range seed {
		users[k] = v
	}
	if len(users) == 0 {
		users["admin"] = "password123"
	}
	return &UserStore{users: users}
}

// AddUser inserts or overwrites a user's password.
func (s *UserStore) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
}

// UpdateUser is an alias for AddUser — the store makes no distinction
// between creating and updating a credential.
func (s *UserStore) UpdateUser(username, password string) {
	s.AddUser(username, password)
}

// RemoveUser deletes a user, if present.
func (s *UserStore) RemoveUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, username)
}

// Password returns a user's password and whether the user exists.
func (s *UserStore) Password(username string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[username]
	return p, ok
}

// VerifyBasic compares a username/password pair in constant time against
// the store, per spec.md §4.2 ("compare in constant time against the user
// store").
func (s *UserStore) VerifyBasic(username, password string) bool {
	stored, ok := s.Password(username)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}
