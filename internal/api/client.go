// Package api provides the authenticated HTTP layer for the Public.com
// trading API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "public-trader/internal/errors"
)

// Version is reported in the User-Agent header.
const Version = "0.1.0"

const defaultTimeout = 15 * time.Second

// Config holds configuration for the API client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond caps the outbound request rate. Zero disables
	// rate limiting.
	RequestsPerSecond int
	Logger            zerolog.Logger
}

// Client performs authenticated JSON requests against the trading API.
// All responses with non-2xx status codes are converted into the error
// taxonomy of the errors package.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger

	mu        sync.RWMutex
	baseURL   string
	authToken string
}

// New creates a new API client. Plain-HTTP base URLs are rejected.
func New(cfg Config) (*Client, error) {
	baseURL, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		log:        cfg.Logger,
		baseURL:    baseURL,
	}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimRight(raw, "/")
	u, err := url.Parse(raw)
	if err != nil {
		return "", apperrors.Wrap(err, "parsing base url")
	}
	if u.Scheme != "https" {
		return "", apperrors.Wrapf(apperrors.ErrInsecureEndpoint, "base url %q", raw)
	}
	return raw, nil
}

// BaseURL returns the current API endpoint.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL switches the API endpoint, e.g. to a staging environment.
func (c *Client) SetBaseURL(raw string) error {
	baseURL, err := normalizeBaseURL(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.baseURL = baseURL
	c.mu.Unlock()
	return nil
}

// SetAuthToken installs the bearer token sent on subsequent requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
}

// RemoveAuthToken clears the bearer token.
func (c *Client) RemoveAuthToken() {
	c.mu.Lock()
	c.authToken = ""
	c.mu.Unlock()
}

// Get performs a GET request. params may be nil or a struct with url tags;
// out may be nil to discard the response body.
func (c *Client) Get(ctx context.Context, path string, params interface{}, out interface{}) error {
	rawQuery := ""
	if params != nil {
		values, err := query.Values(params)
		if err != nil {
			return apperrors.Wrap(err, "encoding query params")
		}
		rawQuery = values.Encode()
	}
	return c.do(ctx, http.MethodGet, path, rawQuery, nil, out)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, "", body, out)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, "", nil, nil)
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) do(ctx context.Context, method, path, rawQuery string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.WrapAPIError("rate limiter wait", err)
		}
	}

	fullURL := c.buildURL(path)
	if rawQuery != "" {
		fullURL += "?" + rawQuery
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, "encoding request body")
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return apperrors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "public-trader/"+Version)

	c.mu.RLock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	c.mu.RUnlock()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("API call failed")
		return apperrors.WrapAPIError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("API call completed")

	return c.handleResponse(resp, out)
}

func (c *Client) buildURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL() + path
}

// handleResponse decodes 2xx bodies into out and converts everything else
// into a typed error.
func (c *Client) handleResponse(resp *http.Response, out interface{}) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.WrapAPIError("reading response body", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return apperrors.WrapAPIError("decoding response body", err)
		}
		return nil
	}

	message, body := parseErrorBody(raw)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		e := apperrors.NewAPIError(resp.StatusCode, message, body)
		e.Err = apperrors.ErrNotAuthenticated
		return e
	case resp.StatusCode == http.StatusNotFound:
		e := apperrors.NewAPIError(resp.StatusCode, message, body)
		e.Err = apperrors.ErrNotFound
		return e
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewRateLimitError(message, parseRetryAfter(resp.Header.Get("Retry-After")))
	default:
		return apperrors.NewAPIError(resp.StatusCode, message, body)
	}
}

// parseErrorBody extracts the server's message field, tolerating malformed
// JSON and non-string message values.
func parseErrorBody(raw []byte) (string, map[string]interface{}) {
	if len(raw) == 0 {
		return "unknown error", nil
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw)), nil
	}
	msg, ok := body["message"]
	if !ok {
		return "unknown error", body
	}
	if s, ok := msg.(string); ok {
		return s, body
	}
	return fmt.Sprintf("%v", msg), body
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
