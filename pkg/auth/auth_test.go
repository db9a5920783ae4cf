package auth_test

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtfodev/rtspd/pkg/auth"
)

func TestUserStoreVerifyBasic(t *testing.T) {
	store := auth.NewUserStore(map[string]string{"alice": "secret"})
	assert.True(t, store.VerifyBasic("alice", "secret"))
	assert.False(t, store.VerifyBasic("alice", "wrong"))
	assert.False(t, store.VerifyBasic("bob", "secret"))

	store.AddUser("bob", "hunter2")
	assert.True(t, store.VerifyBasic("bob", "hunter2"))

	store.RemoveUser("bob")
	assert.False(t, store.VerifyBasic("bob", "hunter2"))
}

func TestUserStoreDefaultsWhenEmpty(t *testing.T) {
	store := auth.NewUserStore(nil)
	assert.True(t, store.VerifyBasic("admin", "password123"))
}

func TestNonceStoreIssueAndValidate(t *testing.T) {
	store := auth.NewNonceStore()
	nonce, err := store.Issue()
	require.NoError(t, err)
	assert.NotEmpty(t, nonce)
	assert.True(t, store.Validate(nonce))
	// A single-use semantics is not required by the spec; re-validating
	// within the lifetime must still succeed.
	assert.True(t, store.Validate(nonce))
	assert.False(t, store.Validate("unknown-nonce"))
}

func TestParseAuthorizationHeaderBasic(t *testing.T) {
	cred, err := auth.ParseAuthorizationHeader("Basic YWRtaW46cGFzc3dvcmQxMjM=")
	require.NoError(t, err)
	assert.Equal(t, auth.SchemeBasic, cred.Scheme)
	assert.Equal(t, "admin", cred.BasicUser)
	assert.Equal(t, "password123", cred.BasicPass)
}

func TestParseAuthorizationHeaderEmpty(t *testing.T) {
	cred, err := auth.ParseAuthorizationHeader("")
	require.NoError(t, err)
	assert.Equal(t, auth.SchemeNone, cred.Scheme)
}

func TestParseAuthorizationHeaderDigest(t *testing.T) {
	header := `Digest username="admin", realm="RTSP Server", nonce="abc123", uri="rtsp://host/stream", response="deadbeef", algorithm=MD5`
	cred, err := auth.ParseAuthorizationHeader(header)
	require.NoError(t, err)
	assert.Equal(t, auth.SchemeDigest, cred.Scheme)
	assert.Equal(t, "admin", cred.Username)
	assert.Equal(t, "RTSP Server", cred.Realm)
	assert.Equal(t, "abc123", cred.Nonce)
	assert.Equal(t, "rtsp://host/stream", cred.URI)
	assert.Equal(t, "deadbeef", cred.Response)
}

func TestEngineAuthenticateBasic(t *testing.T) {
	users := auth.NewUserStore(map[string]string{"admin": "password123"})
	engine := auth.NewEngine(users, auth.NewNonceStore())

	cred := &auth.Credentials{Scheme: auth.SchemeBasic, BasicUser: "admin", BasicPass: "password123"}
	assert.True(t, engine.Authenticate(cred, "DESCRIBE", "rtsp://host/Front"))

	cred.BasicPass = "wrong"
	assert.False(t, engine.Authenticate(cred, "DESCRIBE", "rtsp://host/Front"))
}

func TestEngineAuthenticateDigestNoQop(t *testing.T) {
	users := auth.NewUserStore(map[string]string{"admin": "password123"})
	nonces := auth.NewNonceStore()
	engine := auth.NewEngine(users, nonces)

	challenge, err := engine.IssueChallenge()
	require.NoError(t, err)

	method := "DESCRIBE"
	uri := "rtsp://host/Front"
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", "admin", challenge.Realm, "password123"))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))
	response := md5Hex(fmt.Sprintf("%s:%s:%s", ha1, challenge.Nonce, ha2))

	cred := &auth.Credentials{
		Scheme:   auth.SchemeDigest,
		Username: "admin",
		Realm:    challenge.Realm,
		Nonce:    challenge.Nonce,
		URI:      uri,
		Response: response,
	}
	assert.True(t, engine.Authenticate(cred, method, uri))
}

func TestEngineAuthenticateDigestRejectsUnknownNonce(t *testing.T) {
	users := auth.NewUserStore(map[string]string{"admin": "password123"})
	nonces := auth.NewNonceStore()
	engine := auth.NewEngine(users, nonces)

	cred := &auth.Credentials{
		Scheme:   auth.SchemeDigest,
		Username: "admin",
		Nonce:    "never-issued",
		URI:      "rtsp://host/Front",
		Response: "0000",
	}
	assert.False(t, engine.Authenticate(cred, "DESCRIBE", "rtsp://host/Front"))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
