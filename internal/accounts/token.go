package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Refresh failure kinds.
var (
	// ErrTokenRevoked means the refresh endpoint rejected the refresh token.
	// The owning account must transition to invalid.
	ErrTokenRevoked = errors.New("refresh token revoked")
)

const (
	// tokenExpiryMargin is the safety margin before expiry at which a cached
	// access token stops being considered valid.
	tokenExpiryMargin = 60 * time.Second

	// tokenTTLCap bounds how far in the future a refreshed expiry may be set,
	// regardless of what the upstream reports.
	tokenTTLCap = 55 * time.Minute

	refreshTimeout = 30 * time.Second
)

// RefreshConfig carries the endpoint URLs and transport settings for token
// refresh. The endpoints are configuration, not code: social and IDC
// credentials target different services.
type RefreshConfig struct {
	SocialURL string
	IDCURL    string
	ProxyURL  string
}

// TokenManager produces valid access tokens for a single account. Refreshes
// are single-flighted: concurrent callers share one in-flight refresh.
type TokenManager struct {
	accountID string
	cfg       RefreshConfig
	client    *http.Client

	mu    sync.Mutex
	creds Credentials

	sf  singleflight.Group
	now func() time.Time
}

// NewTokenManager creates a token manager owning the given credentials.
func NewTokenManager(accountID string, creds Credentials, cfg RefreshConfig) *TokenManager {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if cfg.ProxyURL != "" {
		if proxy, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}
	return &TokenManager{
		accountID: accountID,
		cfg:       cfg,
		client:    &http.Client{Timeout: refreshTimeout, Transport: transport},
		creds:     creds,
		now:       time.Now,
	}
}

// Credentials returns a snapshot of the current credential record.
func (m *TokenManager) Credentials() Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds
}

// UpdateCredentials adopts a rewritten credential record, used when the shared
// file changes an account in place. While the refresh token is unchanged the
// cached access token and any profile ARN learned from a refresh survive; a
// rotated refresh token drops them, so the next request refreshes with the
// new material.
func (m *TokenManager) UpdateCredentials(next Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next.RefreshToken == m.creds.RefreshToken {
		if next.AccessToken == "" {
			next.AccessToken = m.creds.AccessToken
			next.ExpiresAt = m.creds.ExpiresAt
		}
		if next.ProfileARN == "" {
			next.ProfileARN = m.creds.ProfileARN
		}
	}
	m.creds = next
}

// EnsureValidToken returns a cached access token when it is still at least
// tokenExpiryMargin from expiry, refreshing otherwise. At most one refresh
// runs per account; concurrent callers attach to it and share the result.
func (m *TokenManager) EnsureValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.creds.AccessToken != "" && m.creds.ExpiresAt.Sub(m.now()) >= tokenExpiryMargin {
		token := m.creds.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type refreshResponse struct {
	AccessToken      string          `json:"accessToken"`
	AccessTokenSnake string          `json:"access_token"`
	RefreshToken     string          `json:"refreshToken"`
	ExpiresIn        json.RawMessage `json:"expiresIn"`
	ExpiresInSnake   json.RawMessage `json:"expires_in"`
	ExpiresAt        json.RawMessage `json:"expiresAt"`
	ProfileARN       string          `json:"profileArn"`
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	if creds.RefreshToken == "" {
		return "", fmt.Errorf("account %s: no refresh token", m.accountID)
	}

	endpoint := m.cfg.SocialURL
	payload := map[string]string{"refreshToken": creds.RefreshToken}
	if creds.AuthMethod == AuthIDC {
		endpoint = m.cfg.IDCURL
		payload["clientId"] = creds.ClientID
		payload["clientSecret"] = creds.ClientSecret
	}

	resp, err := m.post(ctx, endpoint, payload)
	if err != nil {
		var httpErr *refreshHTTPError
		if errors.As(err, &httpErr) && httpErr.status >= 500 {
			// Transient upstream failure: one retry with jitter.
			jitter := time.Duration(250+rand.Intn(500)) * time.Millisecond
			slog.Debug("token refresh transient failure, retrying",
				"account", m.accountID, "status", httpErr.status, "delay", jitter)
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			resp, err = m.post(ctx, endpoint, payload)
		}
		if err != nil {
			return "", err
		}
	}

	ttl := tokenTTLCap
	if reported := parseTTL(resp); reported > 0 && reported < ttl {
		ttl = reported
	}
	expiresAt := m.now().Add(ttl)

	m.mu.Lock()
	m.creds.AccessToken = coalesce(resp.AccessToken, resp.AccessTokenSnake)
	m.creds.ExpiresAt = expiresAt
	if resp.RefreshToken != "" {
		m.creds.RefreshToken = resp.RefreshToken
	}
	if resp.ProfileARN != "" {
		m.creds.ProfileARN = resp.ProfileARN
	}
	token := m.creds.AccessToken
	m.mu.Unlock()

	if token == "" {
		return "", fmt.Errorf("account %s: refresh response carried no access token", m.accountID)
	}
	slog.Debug("token refreshed", "account", m.accountID, "expires_at", expiresAt)
	return token, nil
}

// parseTTL extracts the upstream-reported token lifetime, accepting both an
// expiresIn seconds field and an absolute expiresAt timestamp.
func parseTTL(resp *refreshResponse) time.Duration {
	for _, raw := range []json.RawMessage{resp.ExpiresIn, resp.ExpiresInSnake} {
		if len(raw) == 0 {
			continue
		}
		var secs float64
		if err := json.Unmarshal(raw, &secs); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if at := parseTimestamp(resp.ExpiresAt); !at.IsZero() {
		return time.Until(at)
	}
	return 0
}

type refreshHTTPError struct {
	status int
	body   string
}

func (e *refreshHTTPError) Error() string {
	return fmt.Sprintf("refresh endpoint returned %d: %s", e.status, e.body)
}

func (m *TokenManager) post(ctx context.Context, endpoint string, payload map[string]string) (*refreshResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var parsed refreshResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode refresh response: %w", err)
		}
		return &parsed, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: account %s: %s", ErrTokenRevoked, m.accountID, summarizeRefreshError(body))
	default:
		return nil, &refreshHTTPError{status: resp.StatusCode, body: summarizeRefreshError(body)}
	}
}

// summarizeRefreshError keeps error logs short and free of token material.
func summarizeRefreshError(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}
