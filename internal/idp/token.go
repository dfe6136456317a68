package idp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/iotgrid/user-service/pkg/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// assumedLifetime is used when the token endpoint reports no expires_in.
const assumedLifetime = time.Minute

// TokenSource supplies the admin bearer token for the identity provider's
// admin API. One admin identity is used platform-wide, so a single cached
// token is shared by all callers. The cached token is considered expired at
// 80% of its reported lifetime so an about-to-expire token is never handed
// out, and a cold-cache refresh is single-flight: concurrent callers share
// one token request.
type TokenSource struct {
	cc     *clientcredentials.Config
	client *http.Client
	logger *slog.Logger

	mu     sync.RWMutex
	token  *oauth2.Token
	expiry time.Time

	group singleflight.Group
}

var _ oauth2.TokenSource = (*TokenSource)(nil)

func NewTokenSource(cfg *config.IdPConfig, client *http.Client, logger *slog.Logger) *TokenSource {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout()}
	}
	return &TokenSource{
		cc: &clientcredentials.Config{
			ClientID:     cfg.AdminClientID,
			ClientSecret: cfg.AdminClientSecret,
			TokenURL:     cfg.TokenURL(),
		},
		client: client,
		logger: logger,
	}
}

// Token implements oauth2.TokenSource.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	return s.TokenContext(context.Background())
}

func (s *TokenSource) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	if tok := s.cached(); tok != nil {
		return tok, nil
	}

	v, err, _ := s.group.Do("admin-token", func() (interface{}, error) {
		// A caller that queued behind an in-flight refresh can use its result.
		if tok := s.cached(); tok != nil {
			return tok, nil
		}
		// The refresh serves every coalesced caller, so it must not die with
		// the one caller whose context happens to drive it.
		return s.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (s *TokenSource) cached() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token != nil && time.Now().Before(s.expiry) {
		return s.token
	}
	return nil
}

func (s *TokenSource) refresh(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)

	tok, err := s.cc.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching admin token: %v", ErrUnavailable, err)
	}

	lifetime := assumedLifetime
	if !tok.Expiry.IsZero() {
		lifetime = time.Until(tok.Expiry)
	}

	s.mu.Lock()
	s.token = tok
	s.expiry = time.Now().Add(lifetime * 4 / 5)
	s.mu.Unlock()

	s.logger.Debug("refreshed admin token", "lifetime", lifetime.String())
	return tok, nil
}
