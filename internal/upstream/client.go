// Package upstream calls the code-assistant service and wraps those calls in
// degradation retries for requests the upstream rejects as improperly formed.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const generatePath = "/generateAssistantResponse"

// APIError is a non-2xx upstream response.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, previewBody(e.Body))
}

// IsRateLimited reports an upstream 429.
func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsAuthFailure reports an auth-fatal response for the used credential.
func (e *APIError) IsAuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsTransient reports a retryable server-side failure.
func (e *APIError) IsTransient() bool { return e.StatusCode >= 500 }

// malformedMarkers identify the "improperly formed" rejection class that the
// degradation retry engine may recover from.
var malformedMarkers = []string{
	"improperly formed request",
	"malformed",
	"invalid_request_error",
}

// IsMalformed reports a 400 of the improperly-formed class.
func (e *APIError) IsMalformed() bool {
	if e.StatusCode != http.StatusBadRequest {
		return false
	}
	body := strings.ToLower(string(e.Body))
	for _, marker := range malformedMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

func previewBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 300 {
		s = s[:300] + "…"
	}
	return s
}

// CallInfo identifies the credential context of one upstream call.
type CallInfo struct {
	AccessToken string
	MachineID   string
	Region      string
}

// Client sends generate requests to the upstream endpoint for one region.
type Client struct {
	region      string
	kiroVersion string
	httpClient  *http.Client

	// baseURL overrides the region-derived endpoint in tests.
	baseURL string
}

// NewClient builds a client for the configured region, agent version, and
// optional egress proxy. Generate calls carry no imposed timeout: responses
// stream for as long as the upstream produces events.
func NewClient(region, kiroVersion, proxyURL string) *Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if proxyURL != "" {
		if proxy, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}
	return &Client{
		region:      region,
		kiroVersion: kiroVersion,
		httpClient:  &http.Client{Transport: transport},
	}
}

func (c *Client) host(region string) string {
	if region == "" {
		region = c.region
	}
	return "q." + region + ".amazonaws.com"
}

// Send posts one request body. On 2xx the caller owns the streaming response
// body; every non-2xx becomes an *APIError.
func (c *Client) Send(ctx context.Context, info CallInfo, body []byte) (io.ReadCloser, error) {
	host := c.host(info.Region)
	base := "https://" + host
	if c.baseURL != "" {
		base = c.baseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+generatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	agent := fmt.Sprintf("aws-sdk-js/1.0.27 KiroIDE-%s-%s", c.kiroVersion, info.MachineID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-amzn-codewhisperer-optout", "true")
	req.Header.Set("x-amzn-kiro-agent-mode", "vibe")
	req.Header.Set("x-amz-user-agent", agent)
	req.Header.Set("User-Agent", agent)
	req.Header.Set("amz-sdk-invocation-id", uuid.NewString())
	req.Header.Set("amz-sdk-request", "attempt=1; max=3")
	req.Header.Set("Authorization", "Bearer "+info.AccessToken)
	req.Header.Set("Connection", "close")
	req.Host = host

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return resp.Body, nil
}
