package service

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"farmgate/internal/clock"
	"farmgate/internal/repository"
	"farmgate/internal/txn"
	"farmgate/pkg/crypto"
	jwtpkg "farmgate/pkg/jwt"
)

const referralCodeLength = 14

// AuthRequest is the raw material of one POST /api/auth call.
type AuthRequest struct {
	// InitData is the --webapp-init header: URL-encoded Telegram init data.
	InitData string
	// Signature is the --webapp-hash header: "<unix ms>:<md5 hex>".
	Signature string
	Body      []byte
	ClientIP  string
}

type AuthService interface {
	// Authenticate verifies the request, makes the user cache-resident and
	// returns a bearer token whose nonce is live in the state store.
	Authenticate(ctx context.Context, req AuthRequest) (string, error)
}

type authService struct {
	users      repository.UserRepository
	cache      *repository.UserCache
	stateStore repository.StateStore
	coord      *txn.Coordinator
	jwtManager *jwtpkg.Manager
	botToken   string
	rootSecret string
	maxAge     time.Duration
	clock      clock.Clock
	logger     *zap.Logger
}

type AuthOptions struct {
	BotToken   string
	RootSecret string
	MaxAge     time.Duration
}

func NewAuthService(
	users repository.UserRepository,
	cache *repository.UserCache,
	stateStore repository.StateStore,
	coord *txn.Coordinator,
	jwtManager *jwtpkg.Manager,
	opts AuthOptions,
	clk clock.Clock,
	logger *zap.Logger,
) AuthService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &authService{
		users:      users,
		cache:      cache,
		stateStore: stateStore,
		coord:      coord,
		jwtManager: jwtManager,
		botToken:   opts.BotToken,
		rootSecret: opts.RootSecret,
		maxAge:     opts.MaxAge,
		clock:      clk,
		logger:     logger.Named("auth"),
	}
}

type telegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

func (s *authService) Authenticate(ctx context.Context, req AuthRequest) (string, error) {
	now := s.clock.Now()
	if err := s.verifySignature(req, now); err != nil {
		return "", err
	}

	initData, err := url.QueryUnescape(req.InitData)
	if err != nil {
		return "", ErrMalformedRequest
	}
	params, err := verifyInitData(initData, s.botToken)
	if err != nil {
		return "", err
	}

	identity, err := parseIdentity(params)
	if err != nil {
		return "", err
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return "", err
	}
	token, err := s.jwtManager.GenerateAccessToken(identity, nonce)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	in := repository.LoginInput{
		TeleID:     identity.TeleID,
		Name:       identity.Name,
		Username:   identity.Username,
		AuthDate:   identity.AuthDate,
		IPAddress:  req.ClientIP,
		ReferralBy: params.Get("start_param"),
		At:         now,
	}
	err = s.coord.WithProfile(ctx, txn.UserLoginProfile(identity.TeleID), func(ctx context.Context) error {
		resident, err := s.cache.Refresh(ctx, in)
		if err != nil {
			return err
		}
		if !resident {
			snap, err := s.users.Login(ctx, in, func() (string, error) {
				return crypto.GenerateReferralCode(referralCodeLength)
			})
			if err != nil {
				return err
			}
			if err := s.cache.Hydrate(ctx, snap); err != nil {
				return err
			}
		}
		return s.stateStore.SetWithTTL(ctx, repository.NonceKey(identity.TeleID), nonce, s.jwtManager.AccessTokenTTL())
	})
	if err != nil {
		return "", fmt.Errorf("login %s: %w", identity.TeleID, err)
	}

	s.logger.Info("user authenticated", zap.String("tele_id", identity.TeleID), zap.String("ip", req.ClientIP))
	return token, nil
}

// verifySignature checks freshness and md5(root_secret + "timestamp=..&initData=..&data=..").
func (s *authService) verifySignature(req AuthRequest, now time.Time) error {
	if req.InitData == "" || req.Signature == "" {
		return ErrMalformedRequest
	}
	ts, sig, ok := strings.Cut(req.Signature, ":")
	if !ok || sig == "" {
		return ErrMalformedRequest
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrMalformedRequest
	}
	if time.UnixMilli(ms).Add(s.maxAge).Before(now) {
		return ErrStaleRequest
	}

	expected := RequestSignature(s.rootSecret, ts, req.InitData, req.Body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return ErrRequestSignature
	}
	return nil
}

// RequestSignature is the md5 hex a client sends after the timestamp in --webapp-hash.
func RequestSignature(rootSecret, timestamp, initData string, body []byte) string {
	sum := md5.Sum([]byte(rootSecret + "timestamp=" + timestamp + "&initData=" + initData + "&data=" + string(body)))
	return hex.EncodeToString(sum[:])
}

func parseIdentity(params url.Values) (jwtpkg.Identity, error) {
	rawUser, rawDate := params.Get("user"), params.Get("auth_date")
	if rawUser == "" || rawDate == "" {
		return jwtpkg.Identity{}, ErrMalformedRequest
	}
	authDate, err := strconv.ParseInt(rawDate, 10, 64)
	if err != nil {
		return jwtpkg.Identity{}, ErrMalformedRequest
	}
	var tu telegramUser
	if err := sonic.ConfigStd.UnmarshalFromString(rawUser, &tu); err != nil || tu.ID == 0 {
		return jwtpkg.Identity{}, ErrMalformedRequest
	}

	return jwtpkg.Identity{
		TeleID:   strconv.FormatInt(tu.ID, 10),
		Name:     strings.TrimSpace(tu.FirstName + " " + tu.LastName),
		Username: tu.Username,
		AuthDate: time.Unix(authDate, 0).UTC(),
	}, nil
}

var _ AuthService = (*authService)(nil)
