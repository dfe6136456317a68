package idp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iotgrid/user-service/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdPConfig(baseURL string) *config.IdPConfig {
	return &config.IdPConfig{
		BaseURL:           baseURL,
		Realm:             "test",
		AdminClientID:     "admin-cli",
		AdminClientSecret: "admin-secret",
		TimeoutSeconds:    5,
	}
}

func tokenEndpoint(hits *int64, delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"admin-token-%d","token_type":"Bearer","expires_in":300}`,
			atomic.LoadInt64(hits))
	}
}

func TestTokenColdCacheCoalesces(t *testing.T) {
	var hits int64
	mux := http.NewServeMux()
	mux.Handle("/realms/test/protocol/openid-connect/token", tokenEndpoint(&hits, 50*time.Millisecond))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := NewTokenSource(testIdPConfig(srv.URL), srv.Client(), slog.Default())

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := source.TokenContext(context.Background())
			if err == nil {
				tokens[i] = tok.AccessToken
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	// One request serves everyone
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "admin-token-1", tokens[i])
	}
}

func TestTokenCachedAcrossCalls(t *testing.T) {
	var hits int64
	mux := http.NewServeMux()
	mux.Handle("/realms/test/protocol/openid-connect/token", tokenEndpoint(&hits, 0))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := NewTokenSource(testIdPConfig(srv.URL), srv.Client(), slog.Default())

	first, err := source.Token()
	require.NoError(t, err)
	second, err := source.Token()
	require.NoError(t, err)

	assert.Equal(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestTokenEndpointFailureIsUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/realms/test/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := NewTokenSource(testIdPConfig(srv.URL), srv.Client(), slog.Default())

	_, err := source.TokenContext(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTokenRefreshSurvivesCallerCancellation(t *testing.T) {
	var hits int64
	started := make(chan struct{})
	var once sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc("/realms/test/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		once.Do(func() { close(started) })
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"shared","token_type":"Bearer","expires_in":300}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := NewTokenSource(testIdPConfig(srv.URL), srv.Client(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errs := make([]error, 2)
	tokens := make([]string, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		tok, err := source.TokenContext(ctx)
		if err == nil {
			tokens[0] = tok.AccessToken
		}
		errs[0] = err
	}()

	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		tok, err := source.TokenContext(context.Background())
		if err == nil {
			tokens[1] = tok.AccessToken
		}
		errs[1] = err
	}()

	// The driving caller gives up mid-refresh; the refresh itself carries on
	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", tokens[i])
	}
}

func TestTokenRefreshAfterFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var hits int64

	mux := http.NewServeMux()
	mux.HandleFunc("/realms/test/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"recovered","token_type":"Bearer","expires_in":300}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := NewTokenSource(testIdPConfig(srv.URL), srv.Client(), slog.Default())

	_, err := source.TokenContext(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)

	// Failures are not cached; the next call tries again
	fail.Store(false)
	tok, err := source.TokenContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", tok.AccessToken)
}
