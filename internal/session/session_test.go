package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmgate/internal/repository"
	"farmgate/internal/wire"
	"farmgate/pkg/jwt"
)

func closeCode(t *testing.T, err error) int {
	t.Helper()
	var ce *CloseError
	require.True(t, errors.As(err, &ce), "expected *CloseError, got %v", err)
	return ce.Code
}

func testClaims() *jwt.Claims {
	return &jwt.Claims{Identity: jwt.Identity{TeleID: "42", Name: "Ann"}, Nonce: "n1"}
}

// clientHandshake performs the client half of the key exchange against s.
func clientHandshake(t *testing.T, s *Session, suite wire.Suite) *wire.SessionKeys {
	t.Helper()
	kp, err := wire.GenerateKey(nil)
	require.NoError(t, err)

	in, err := s.HandleFrame(wire.FormatHandshake(kp.Public))
	require.NoError(t, err)
	require.Nil(t, in.Request)

	reply, err := wire.ParseFrame(in.Reply)
	require.NoError(t, err)
	require.Equal(t, wire.FrameHandshake, reply.Kind)

	secret, err := kp.SharedSecret(reply.PublicKey)
	require.NoError(t, err)
	keys, err := wire.DeriveKeys(suite, secret)
	require.NoError(t, err)
	return keys
}

func encrypt(t *testing.T, keys *wire.SessionKeys, tag string, req wire.Request) string {
	t.Helper()
	pt, err := wire.EncodeRequest(req)
	require.NoError(t, err)
	ct, err := keys.Seal(pt)
	require.NoError(t, err)
	return wire.FormatMessage(tag, ct)
}

func TestSessionLifecycle(t *testing.T) {
	for _, suite := range []wire.Suite{wire.SuiteCBC, wire.SuiteXChaCha} {
		t.Run(string(suite), func(t *testing.T) {
			s := New(suite)
			assert.Equal(t, StateConnecting, s.State())

			_, err := s.HandleFrame("i:AAEC")
			assert.Equal(t, CloseUnauthenticated, closeCode(t, err))

			s.Authenticated(testClaims())
			assert.Equal(t, StateAuthenticated, s.State())
			assert.Equal(t, "42", s.Identity().TeleID)

			keys := clientHandshake(t, s, suite)
			assert.Equal(t, StateKeyNegotiated, s.State())

			in, err := s.HandleFrame(encrypt(t, keys, keys.Tag, wire.Request{Action: "self/get"}))
			require.NoError(t, err)
			require.NotNil(t, in.Request)
			assert.Equal(t, "self/get", in.Request.Action)
			assert.Equal(t, StateActive, s.State())

			frame, err := s.Seal("self/get", map[string]string{"name": "Ann"})
			require.NoError(t, err)
			parsed, err := wire.ParseFrame(frame)
			require.NoError(t, err)
			assert.Equal(t, keys.Tag, parsed.Tag)
			pt, err := keys.Open(parsed.Ciphertext)
			require.NoError(t, err)
			action, data, err := wire.DecodeReply(pt)
			require.NoError(t, err)
			assert.Equal(t, "self/get", action)
			assert.JSONEq(t, `{"name":"Ann"}`, string(data))

			s.Close()
			assert.Equal(t, StateClosed, s.State())
			_, err = s.HandleFrame(encrypt(t, keys, keys.Tag, wire.Request{Action: "self/get"}))
			assert.Equal(t, CloseInternal, closeCode(t, err))
		})
	}
}

func TestSessionRejectsBadFrames(t *testing.T) {
	s := New(wire.SuiteXChaCha)
	s.Authenticated(testClaims())

	_, err := s.HandleFrame("m:deadbeef:AAAA")
	assert.Equal(t, CloseUnauthenticated, closeCode(t, err), "message before handshake")

	keys := clientHandshake(t, s, wire.SuiteXChaCha)

	_, err = s.HandleFrame(encrypt(t, keys, "0000", wire.Request{Action: "self/get"}))
	assert.Equal(t, CloseUnauthorized, closeCode(t, err), "wrong tag")

	_, err = s.HandleFrame("garbage")
	assert.Equal(t, CloseMalformed, closeCode(t, err))

	_, err = s.HandleFrame(wire.FormatMessage(keys.Tag, []byte("not sealed by the peer at all")))
	assert.Equal(t, CloseMalformed, closeCode(t, err))

	fresh := New(wire.SuiteXChaCha)
	fresh.Authenticated(testClaims())
	_, err = fresh.HandleFrame(wire.FormatHandshake([]byte{1}))
	assert.Equal(t, CloseMalformed, closeCode(t, err), "degenerate public key")
}

func TestHandshakeIsOncePerConnection(t *testing.T) {
	s := New(wire.SuiteXChaCha)
	s.Authenticated(testClaims())
	keys := clientHandshake(t, s, wire.SuiteXChaCha)

	_, err := s.HandleFrame(encrypt(t, keys, keys.Tag, wire.Request{Action: "self/get"}))
	require.NoError(t, err)
	require.Equal(t, StateActive, s.State())

	other, err := wire.GenerateKey(nil)
	require.NoError(t, err)
	in, err := s.HandleFrame(wire.FormatHandshake(other.Public))
	require.NoError(t, err)
	assert.Empty(t, in.Reply, "no second handshake reply")
	assert.Nil(t, in.Request)
	assert.Equal(t, StateActive, s.State())

	// The original keys and tag still work.
	in, err = s.HandleFrame(encrypt(t, keys, keys.Tag, wire.Request{Action: "farm/claim"}))
	require.NoError(t, err)
	require.NotNil(t, in.Request)
	assert.Equal(t, "farm/claim", in.Request.Action)

	frame, err := s.Seal("farm/claim", nil)
	require.NoError(t, err)
	parsed, err := wire.ParseFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, keys.Tag, parsed.Tag)
}

func TestSealBeforeHandshake(t *testing.T) {
	s := New(wire.SuiteCBC)
	s.Authenticated(testClaims())
	_, err := s.Seal("x", nil)
	assert.Equal(t, CloseUnauthenticated, closeCode(t, err))
}

func TestAuthenticator(t *testing.T) {
	ctx := context.Background()
	state := repository.NewMemoryStateStore(nil)
	tokens := jwt.NewManager("secret", "farmgate", time.Hour)
	auth := NewAuthenticator(tokens, state)
	identity := jwt.Identity{TeleID: "42", Name: "Ann"}

	token, err := tokens.GenerateAccessToken(identity, "n1")
	require.NoError(t, err)

	_, err = auth.Authenticate(ctx, token)
	assert.Equal(t, CloseExpired, closeCode(t, err), "nonce not stored yet")

	require.NoError(t, state.SetWithTTL(ctx, repository.NonceKey("42"), "n1", time.Hour))
	claims, err := auth.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.TeleID)

	require.NoError(t, state.SetWithTTL(ctx, repository.NonceKey("42"), "n2", time.Hour))
	_, err = auth.Authenticate(ctx, token)
	assert.Equal(t, CloseExpired, closeCode(t, err), "superseded nonce")

	_, err = auth.Authenticate(ctx, "not-a-token")
	assert.Equal(t, CloseInvalidToken, closeCode(t, err))

	_, err = auth.Authenticate(ctx, "")
	assert.Equal(t, CloseInvalidToken, closeCode(t, err))

	expired, err := jwt.NewManager("secret", "farmgate", -time.Minute).GenerateAccessToken(identity, "n2")
	require.NoError(t, err)
	_, err = auth.Authenticate(ctx, expired)
	assert.Equal(t, CloseExpired, closeCode(t, err))
}
