package service

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"farmgate/internal/clock"
	"farmgate/internal/lock"
	"farmgate/internal/model"
	"farmgate/internal/repository"
	"farmgate/internal/txn"
	jwtpkg "farmgate/pkg/jwt"
)

const (
	testBotToken   = "123456:TEST-TOKEN"
	testRootSecret = "root-secret"
)

type env struct {
	clock    *clock.Manual
	users    *repository.MemoryUserRepository
	cache    *repository.UserCache
	entities repository.EntityStore
	state    repository.StateStore
	coord    *txn.Coordinator
	tokens   *jwtpkg.Manager
	auth     AuthService
	sessions SessionService
}

func newEnv(t *testing.T, users repository.UserRepository) *env {
	t.Helper()
	mem := repository.NewMemoryUserRepository()
	if users == nil {
		users = mem
	}
	entities := repository.NewMemoryEntityStore()
	e := &env{
		clock:    clock.NewManual(time.Now()),
		users:    mem,
		cache:    repository.NewUserCache(entities),
		entities: entities,
		tokens:   jwtpkg.NewManager("signing-key", "farmgate", time.Hour),
	}
	e.state = repository.NewMemoryStateStore(e.clock)
	e.coord = txn.NewCoordinator(lock.NewMemoryManager(nil), entities, txn.Options{TTL: 15 * time.Second, PollInterval: 5 * time.Millisecond}, zap.NewNop(), nil)
	e.auth = NewAuthService(users, e.cache, e.state, e.coord, e.tokens,
		AuthOptions{BotToken: testBotToken, RootSecret: testRootSecret, MaxAge: 4 * time.Second},
		e.clock, zap.NewNop())
	e.sessions = NewSessionService(users, e.cache, e.state, e.coord, e.clock, zap.NewNop(), nil)
	return e
}

// signedRequest builds what a genuine WebApp client sends.
func (e *env) signedRequest(teleID int64, extra url.Values, body string) AuthRequest {
	params := url.Values{}
	params.Set("user", `{"id":`+strconv.FormatInt(teleID, 10)+`,"first_name":"Ann","last_name":"Lee","username":"ann"}`)
	params.Set("auth_date", strconv.FormatInt(e.clock.Now().Unix(), 10))
	for k, v := range extra {
		params[k] = v
	}
	initHeader := url.QueryEscape(SignInitData(params, testBotToken))
	ts := strconv.FormatInt(e.clock.Now().UnixMilli(), 10)
	return AuthRequest{
		InitData:  initHeader,
		Signature: ts + ":" + RequestSignature(testRootSecret, ts, initHeader, []byte(body)),
		Body:      []byte(body),
		ClientIP:  "203.0.113.7",
	}
}

func TestVerifyInitData(t *testing.T) {
	params := url.Values{"auth_date": {"1700000000"}, "user": {`{"id":1}`}, "query_id": {"AAF"}}
	signed := SignInitData(params, testBotToken)

	got, err := verifyInitData(signed, testBotToken)
	require.NoError(t, err)
	assert.Equal(t, "1700000000", got.Get("auth_date"))
	assert.Empty(t, got.Get("hash"))

	_, err = verifyInitData(signed, "other-bot")
	assert.ErrorIs(t, err, ErrInvalidInitData)

	tampered, _ := url.ParseQuery(signed)
	tampered.Set("auth_date", "1700000001")
	_, err = verifyInitData(tampered.Encode(), testBotToken)
	assert.ErrorIs(t, err, ErrInvalidInitData)

	_, err = verifyInitData("auth_date=1", testBotToken)
	assert.ErrorIs(t, err, ErrInvalidInitData)
}

func TestAuthenticateHydratesAndIssuesToken(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	token, err := e.auth.Authenticate(ctx, e.signedRequest(42, nil, ""))
	require.NoError(t, err)

	claims, err := e.tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.TeleID)
	assert.Equal(t, "Ann Lee", claims.Name)

	nonce, ok, err := e.state.Get(ctx, repository.NonceKey("42"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, claims.Nonce, nonce)

	snap, ok, err := e.cache.Snapshot(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, snap.User.ReferralCode, referralCodeLength)
	assert.Equal(t, "203.0.113.7", snap.User.IPLocation.IPAddress)
	require.Len(t, snap.Locations, 1)

	stored, err := e.users.GetByTeleID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "ann", stored.Username)
}

func TestAuthenticateKeepsResidentState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	_, err := e.auth.Authenticate(ctx, e.signedRequest(42, nil, ""))
	require.NoError(t, err)

	u, _, err := e.cache.User(ctx, "42")
	require.NoError(t, err)
	u.Credit(model.AssetTPL, decimal.NewFromInt(7), e.clock.Now())
	require.NoError(t, e.cache.PutUser(ctx, u))

	e.clock.Advance(time.Minute)
	_, err = e.auth.Authenticate(ctx, e.signedRequest(42, nil, `{"a":1}`))
	require.NoError(t, err)

	u, _, err = e.cache.User(ctx, "42")
	require.NoError(t, err)
	assert.True(t, u.Balances.Of(model.AssetTPL).Equal(decimal.NewFromInt(7)), "a second login must not reload from the store")
}

func TestAuthenticateReferral(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	_, err := e.auth.Authenticate(ctx, e.signedRequest(1, nil, ""))
	require.NoError(t, err)
	referrer, _, err := e.cache.User(ctx, "1")
	require.NoError(t, err)

	_, err = e.auth.Authenticate(ctx, e.signedRequest(2, url.Values{"start_param": {referrer.ReferralCode}}, ""))
	require.NoError(t, err)
	referred, _, err := e.cache.User(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, referrer.ReferralCode, referred.ReferralBy)
}

func TestAuthenticateRejects(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	stale := e.signedRequest(42, nil, "")
	e.clock.Advance(5 * time.Second)
	_, err := e.auth.Authenticate(ctx, stale)
	assert.ErrorIs(t, err, ErrStaleRequest)

	req := e.signedRequest(42, nil, "")
	req.Body = []byte("changed")
	_, err = e.auth.Authenticate(ctx, req)
	assert.ErrorIs(t, err, ErrRequestSignature)

	req = e.signedRequest(42, nil, "")
	req.Signature = "nonsense"
	_, err = e.auth.Authenticate(ctx, req)
	assert.ErrorIs(t, err, ErrMalformedRequest)

	// A correctly signed request carrying init data for another bot.
	params := url.Values{"user": {`{"id":42}`}, "auth_date": {"1"}}
	initHeader := url.QueryEscape(SignInitData(params, "another-bot"))
	ts := strconv.FormatInt(e.clock.Now().UnixMilli(), 10)
	_, err = e.auth.Authenticate(ctx, AuthRequest{
		InitData:  initHeader,
		Signature: ts + ":" + RequestSignature(testRootSecret, ts, initHeader, nil),
	})
	assert.ErrorIs(t, err, ErrInvalidInitData)

	// Valid signatures but no user.
	params = url.Values{"auth_date": {"1"}}
	initHeader = url.QueryEscape(SignInitData(params, testBotToken))
	_, err = e.auth.Authenticate(ctx, AuthRequest{
		InitData:  initHeader,
		Signature: ts + ":" + RequestSignature(testRootSecret, ts, initHeader, nil),
	})
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

func TestFlushWritesBackAndEvicts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	token, err := e.auth.Authenticate(ctx, e.signedRequest(42, nil, ""))
	require.NoError(t, err)
	claims, err := e.tokens.Validate(token)
	require.NoError(t, err)

	u, _, err := e.cache.User(ctx, "42")
	require.NoError(t, err)
	u.FarmLevel = 3
	require.NoError(t, e.cache.Commit(ctx, u, &model.ActivityLog{TeleID: "42", LogType: "farm/upgrade"}))

	require.NoError(t, e.sessions.Flush(ctx, "42", claims.Nonce))

	stored, err := e.users.GetByTeleID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.FarmLevel)
	assert.Len(t, e.users.Logs(), 1)

	_, ok, err := e.cache.User(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok, "flushed users are evicted")

	_, ok, err = e.state.Get(ctx, repository.NonceKey("42"))
	require.NoError(t, err)
	assert.False(t, ok, "the nonce is consumed")

	// Nothing left to flush.
	require.NoError(t, e.sessions.Flush(ctx, "42", claims.Nonce))
}

type failingFlush struct {
	*repository.MemoryUserRepository
}

func (failingFlush) Flush(context.Context, *repository.Snapshot) error {
	return errors.New("store unavailable")
}

func TestFlushFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	repo := failingFlush{repository.NewMemoryUserRepository()}
	e := newEnv(t, repo)

	token, err := e.auth.Authenticate(ctx, e.signedRequest(42, nil, ""))
	require.NoError(t, err)
	claims, err := e.tokens.Validate(token)
	require.NoError(t, err)

	u, _, err := e.cache.User(ctx, "42")
	require.NoError(t, err)
	u.FarmLevel = 9
	require.NoError(t, e.cache.PutUser(ctx, u))

	err = e.sessions.Flush(ctx, "42", claims.Nonce)
	require.Error(t, err)

	u, ok, err := e.cache.User(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9, u.FarmLevel)
}

// slowFlush writes through but ignores ctx, like a driver that does not honor deadlines.
type slowFlush struct {
	*repository.MemoryUserRepository
	delay time.Duration
}

func (r slowFlush) Flush(ctx context.Context, snap *repository.Snapshot) error {
	time.Sleep(r.delay)
	return r.MemoryUserRepository.Flush(ctx, snap)
}

func TestFlushPastLockLifetimeKeepsCache(t *testing.T) {
	ctx := context.Background()
	repo := slowFlush{MemoryUserRepository: repository.NewMemoryUserRepository(), delay: 150 * time.Millisecond}
	e := newEnv(t, repo)

	token, err := e.auth.Authenticate(ctx, e.signedRequest(42, nil, ""))
	require.NoError(t, err)
	claims, err := e.tokens.Validate(token)
	require.NoError(t, err)

	short := txn.NewCoordinator(lock.NewMemoryManager(nil), e.entities, txn.Options{TTL: 100 * time.Millisecond, PollInterval: 5 * time.Millisecond}, zap.NewNop(), nil)
	sessions := NewSessionService(repo, e.cache, e.state, short, e.clock, zap.NewNop(), nil)

	err = sessions.Flush(ctx, "42", claims.Nonce)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok, err := e.cache.User(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok, "cache evicted after the locks could have expired")
	live, ok, err := e.state.Get(ctx, repository.NonceKey("42"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, claims.Nonce, live)
}
