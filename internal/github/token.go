package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v68/github"
	"go.uber.org/zap"

	"homework_bot/pkg/logger"
)

// tokenMargin is how long before expiry an installation token stops being
// handed out.
const tokenMargin = 2 * time.Minute

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a personal access token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

type TokenCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

type AppConfig struct {
	AppID          int64
	InstallationID int64
	PrivateKey     string
	BaseURL        string
}

// AppTokenSource mints installation tokens for a GitHub App and keeps them
// in the cache until shortly before they expire.
type AppTokenSource struct {
	cfg    AppConfig
	key    *rsa.PrivateKey
	cache  TokenCache
	http   *http.Client
	now    func() time.Time
	logger *logger.Logger
}

type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewAppTokenSource(cfg AppConfig, cache TokenCache, log *logger.Logger) (*AppTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}
	return &AppTokenSource{
		cfg:    cfg,
		key:    key,
		cache:  cache,
		http:   &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
		logger: log,
	}, nil
}

func (s *AppTokenSource) cacheKey() string {
	return "github:installation_token:" + strconv.FormatInt(s.cfg.InstallationID, 10)
}

func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	raw, ok, err := s.cache.Get(ctx, s.cacheKey())
	if err != nil {
		s.logger.Warn(ctx, "Failed to read cached installation token", zap.Error(err))
	}
	if ok {
		var t cachedToken
		if err := json.Unmarshal(raw, &t); err == nil && s.now().Add(tokenMargin).Before(t.ExpiresAt) {
			return t.Token, nil
		}
	}

	s.logger.Info(ctx, "Fetching installation token", zap.Int64("installation_id", s.cfg.InstallationID))
	t, err := s.mint(ctx)
	if err != nil {
		return "", err
	}

	ttl := t.ExpiresAt.Sub(s.now()) - tokenMargin
	if ttl > 0 {
		data, _ := json.Marshal(t)
		if err := s.cache.Set(ctx, s.cacheKey(), data, ttl); err != nil {
			s.logger.Warn(ctx, "Failed to cache installation token", zap.Error(err))
		}
	}
	return t.Token, nil
}

func (s *AppTokenSource) appJWT() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    strconv.FormatInt(s.cfg.AppID, 10),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
}

func (s *AppTokenSource) mint(ctx context.Context) (*cachedToken, error) {
	signed, err := s.appJWT()
	if err != nil {
		return nil, fmt.Errorf("failed to sign app token: %w", err)
	}
	client, err := newClient(s.http, s.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	tok, _, err := client.WithAuthToken(signed).Apps.CreateInstallationToken(ctx, s.cfg.InstallationID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create installation token: %w", err)
	}
	return &cachedToken{Token: tok.GetToken(), ExpiresAt: tok.GetExpiresAt().Time}, nil
}

// tokenTransport authorizes every request with a token from source.
type tokenTransport struct {
	source TokenSource
	base   http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token(req.Context())
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(r)
}

func newClient(hc *http.Client, baseURL string) (*gh.Client, error) {
	client := gh.NewClient(hc)
	if baseURL == "" {
		return client, nil
	}
	if baseURL[len(baseURL)-1] != '/' {
		baseURL += "/"
	}
	u, err := client.BaseURL.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid github base url %q: %w", baseURL, err)
	}
	client.BaseURL = u
	return client, nil
}
