package kis

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyeom/zeroquant/internal/config"
)

func brokerServer(t *testing.T, tokenCalls *atomic.Int32, expiresIn int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			tokenCalls.Add(1)
			fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":%d}`, tokenCalls.Load(), expiresIn)
		case "/oauth2/Approval":
			fmt.Fprint(w, `{"approval_key":"approval-key-1"}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func brokerConfig(url string) config.BrokerConfig {
	return config.BrokerConfig{
		AppKey:    "app-key",
		AppSecret: "app-secret",
		BaseURL:   url,
		Paper:     true,
	}
}

func TestTokenIsCachedUntilNearExpiry(t *testing.T) {
	var calls atomic.Int32
	srv := brokerServer(t, &calls, 86400)
	defer srv.Close()

	c := NewClient(brokerConfig(srv.URL), srv.Client())

	token, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	// A day-long token serves repeated calls from the cache.
	for i := 0; i < 5; i++ {
		token, err = c.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "token-1", token)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestTokenRefreshesInsideSafetyMargin(t *testing.T) {
	var calls atomic.Int32
	// Expires in 30s: always inside the 60s safety margin.
	srv := brokerServer(t, &calls, 30)
	defer srv.Close()

	c := NewClient(brokerConfig(srv.URL), srv.Client())

	_, err := c.Token(context.Background())
	require.NoError(t, err)
	_, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "short-lived tokens refresh every call")
}

func TestTokenFailureSurfacesAuthenticationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(brokerConfig(srv.URL), srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // skip the backoff sleeps
	_, err := c.Token(ctx)
	assert.Error(t, err)
}

func TestApprovalKeyIsCached(t *testing.T) {
	var calls atomic.Int32
	srv := brokerServer(t, &calls, 86400)
	defer srv.Close()

	c := NewClient(brokerConfig(srv.URL), srv.Client())

	key, err := c.ApprovalKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "approval-key-1", key)

	again, err := c.ApprovalKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, again)
}
