// Package kis integrates the Korea Investment & Securities open API:
// OAuth token lifecycle, historical bar REST endpoints and the realtime
// websocket feed.
package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tyeom/zeroquant/internal/config"
	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// tokenSafetyMargin refreshes the access token this long before expiry.
const tokenSafetyMargin = 60 * time.Second

// maxTokenAttempts bounds the exponential backoff of token acquisition.
const maxTokenAttempts = 5

// Client owns the HTTP session and the OAuth token cache shared by the
// REST and websocket paths.
type Client struct {
	cfg    config.BrokerConfig
	client *http.Client

	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
	approvalKey string
}

// NewClient builds a broker client from injected credentials.
func NewClient(cfg config.BrokerConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, client: httpClient}
}

// Token returns a valid access token, refreshing it when it is within
// the safety margin of expiry. Refresh is serialized behind the write
// lock; steady-state reads share the read lock.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expires := c.accessToken, c.expiresAt
	c.mu.RUnlock()

	if token != "" && time.Now().Before(expires.Add(-tokenSafetyMargin)) {
		return token, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have refreshed while we queued for the lock.
	if c.accessToken != "" && time.Now().Before(c.expiresAt.Add(-tokenSafetyMargin)) {
		return c.accessToken, nil
	}

	token, expiresIn, err := c.acquireToken(ctx)
	if err != nil {
		return "", err
	}
	c.accessToken = token
	c.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	log.Info().Time("expires_at", c.expiresAt).Msg("kis access token refreshed")
	return token, nil
}

// acquireToken posts the credential grant with exponential backoff.
func (c *Client) acquireToken(ctx context.Context) (string, int64, error) {
	body, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	})

	var lastErr error
	delay := time.Second
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/oauth2/tokenP", bytes.NewReader(body))
		if err != nil {
			return "", 0, errs.Authentication(err, "build token request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err == nil {
			raw, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr == nil && resp.StatusCode == http.StatusOK {
				var parsed struct {
					AccessToken string `json:"access_token"`
					ExpiresIn   int64  `json:"expires_in"`
				}
				if err := json.Unmarshal(raw, &parsed); err != nil {
					return "", 0, errs.Parse(err, "token response")
				}
				if parsed.AccessToken == "" {
					return "", 0, errs.Authentication(nil, "empty access token")
				}
				return parsed.AccessToken, parsed.ExpiresIn, nil
			}
			lastErr = fmt.Errorf("token status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		log.Warn().Err(lastErr).Int("attempt", attempt).Msg("kis token acquisition failed")
		select {
		case <-ctx.Done():
			return "", 0, errs.Authentication(ctx.Err(), "token acquisition cancelled")
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", 0, errs.Authentication(lastErr, "token acquisition exhausted %d attempts", maxTokenAttempts)
}

// ApprovalKey returns the websocket approval key, requesting one on
// first use.
func (c *Client) ApprovalKey(ctx context.Context) (string, error) {
	c.mu.RLock()
	key := c.approvalKey
	c.mu.RUnlock()
	if key != "" {
		return key, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.approvalKey != "" {
		return c.approvalKey, nil
	}

	body, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"secretkey":  c.cfg.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/oauth2/Approval", bytes.NewReader(body))
	if err != nil {
		return "", errs.Authentication(err, "build approval request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errs.Authentication(err, "request approval key")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errs.Authentication(nil, "approval status %d", resp.StatusCode)
	}

	var parsed struct {
		ApprovalKey string `json:"approval_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errs.Parse(err, "approval response")
	}
	if parsed.ApprovalKey == "" {
		return "", errs.Authentication(nil, "empty approval key")
	}
	c.approvalKey = parsed.ApprovalKey
	return parsed.ApprovalKey, nil
}

// authedGet performs an authenticated GET with the product transaction
// id, returning the raw body.
func (c *Client) authedGet(ctx context.Context, path, trID string, query map[string]string) ([]byte, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, errs.Network(err, "build request %s", path)
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
	req.Header.Set("tr_id", trID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Network(err, "kis %s", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errs.Authentication(nil, "kis %s status %d", path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Network(nil, "kis %s status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
