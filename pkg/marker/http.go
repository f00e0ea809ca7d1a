package marker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"trackpoints/pkg/logger"
)

type HTTPClient struct {
	endpoint string
	timeout  time.Duration
	base     http.RoundTripper

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

type Options struct {
	Endpoint  string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Transport http.RoundTripper
}

func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		timeout:  opts.Timeout,
		base:     opts.Transport,
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    opts.Burst,
	}
}

// limiter returns the token bucket of one organization.
func (c *HTTPClient) limiter(organizationID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[organizationID]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[organizationID] = l
	}
	return l
}

func (c *HTTPClient) httpClient(auth Auth) *http.Client {
	return &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.Token, TokenType: "Bearer"}),
			Base:   c.base,
		},
	}
}

func (c *HTTPClient) Upsert(ctx context.Context, auth Auth, m Marker) (string, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return "", err
	}

	target := fmt.Sprintf("%s/issues/%s/markers", c.endpoint, url.PathEscape(m.IssueID))
	resp, err := c.do(ctx, auth, http.MethodPost, target, body)
	if err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if len(resp) > 0 {
		if err := json.Unmarshal(resp, &out); err != nil {
			return "", fmt.Errorf("decode marker response: %w", err)
		}
	}
	if out.ID == "" {
		out.ID = m.MarkerID
	}
	return out.ID, nil
}

func (c *HTTPClient) Delete(ctx context.Context, auth Auth, issueID, markerID string) error {
	if markerID == "" {
		return nil
	}
	target := fmt.Sprintf("%s/issues/%s/markers/%s", c.endpoint, url.PathEscape(issueID), url.PathEscape(markerID))
	_, err := c.do(ctx, auth, http.MethodDelete, target, nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, auth Auth, method, target string, body []byte) ([]byte, error) {
	if c.endpoint == "" {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter(auth.OrganizationID).Wait(ctx); err != nil {
		return nil, fmt.Errorf("marker rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient(auth).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		logger.FromContext(ctx).Warn("marker call rejected",
			zap.String("method", method),
			zap.String("url", target),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(payload)}
	}
	return payload, nil
}

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("marker api returned %d: %s", e.StatusCode, e.Body)
}
