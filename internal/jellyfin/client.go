// Package jellyfin is a small client for the Jellyfin HTTP API covering the
// catalog, session and remote-control endpoints the tools need.
package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	clientName = "mcp-jellyfin"
	deviceName = "mcp-jellyfin"

	defaultTimeout      = 15 * time.Second
	defaultMaxRetries   = 2
	defaultRateLimit    = 10
	defaultBurst        = 20
	defaultRetryWaitMin = 200 * time.Millisecond
	defaultRetryWaitMax = 2 * time.Second
)

type Config struct {
	BaseURL    string
	APIKey     string
	UserID     string
	Version    string
	Timeout    time.Duration
	MaxRetries int
	// RateLimit is requests per second across all calls; zero uses the default.
	RateLimit    float64
	Burst        int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *slog.Logger
}

type Client struct {
	baseURL    string
	apiKey     string
	userID     string
	authHeader string
	timeout    time.Duration
	http       *retryablehttp.Client
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jellyfin %s %s failed: %d %s", e.Method, e.Path, e.Status, e.Message)
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = defaultRetryWaitMin
	}
	if cfg.RetryWaitMax < cfg.RetryWaitMin {
		cfg.RetryWaitMax = defaultRetryWaitMax
		if cfg.RetryWaitMax < cfg.RetryWaitMin {
			cfg.RetryWaitMax = cfg.RetryWaitMin
		}
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient.Transport = &limitedTransport{
		base:    rc.HTTPClient.Transport,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
	}
	rc.Logger = nil
	if cfg.Logger != nil {
		rc.Logger = cfg.Logger
	}

	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     cfg.APIKey,
		userID:     strings.TrimSpace(cfg.UserID),
		authHeader: authorizationHeader(cfg.Version),
		timeout:    cfg.Timeout,
		http:       rc,
	}
}

func authorizationHeader(version string) string {
	return fmt.Sprintf(
		`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s"`,
		clientName,
		deviceName,
		uuid.NewString(),
		version,
	)
}

// limitedTransport waits on the shared limiter before every attempt,
// retries included.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// do issues one API call and decodes a JSON answer into out when out is
// non-nil. Empty bodies leave out untouched.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	var payload any
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		payload = encoded
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("X-Emby-Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("jellyfin %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Message: errorMessage(raw, resp.Status),
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func errorMessage(raw []byte, status string) string {
	text := strings.TrimSpace(string(raw))
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	if text != "" {
		return text
	}
	return status
}

// query collects URL parameters, skipping empty values and joining lists
// with commas.
type query url.Values

func (q query) set(key, value string) query {
	if strings.TrimSpace(value) != "" {
		url.Values(q).Set(key, value)
	}
	return q
}

func (q query) setList(key string, values []string) query {
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			clean = append(clean, v)
		}
	}
	if len(clean) > 0 {
		url.Values(q).Set(key, strings.Join(clean, ","))
	}
	return q
}

func (q query) setInt(key string, value int) query {
	if value > 0 {
		url.Values(q).Set(key, strconv.Itoa(value))
	}
	return q
}

func (q query) setBool(key string, value bool) query {
	if value {
		url.Values(q).Set(key, "true")
	}
	return q
}

func (q query) values() url.Values {
	return url.Values(q)
}
