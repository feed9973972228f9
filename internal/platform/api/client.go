// Package api is the pull side of the sync engine: a thin REST client for
// the patient backend. Every call makes exactly one network attempt; retry
// policy belongs to the caller.
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
	"time"

	"github.com/rs/zerolog"

	"github.com/thrive/vitalsync/internal/domain/metric"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "vitalsync/1.0"
	maxBodyBytes     = 4 << 20
)

// MetricFetcher is the subset of Client the sync controller depends on.
type MetricFetcher interface {
	FetchLatest(ctx context.Context, token string, limit int, kind string) ([]metric.Reading, error)
}

// Ensure Client implements MetricFetcher at compile time.
var _ MetricFetcher = (*Client)(nil)

// Client talks to the patient backend over HTTP.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	logger    zerolog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient builds a Client rooted at baseURL.
func NewClient(baseURL string, logger zerolog.Logger, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
		logger:    logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchLatest returns up to limit of the newest readings, optionally only of
// the given kind.
func (c *Client) FetchLatest(ctx context.Context, token string, limit int, kind string) ([]metric.Reading, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if k := strings.TrimSpace(kind); k != "" {
		values.Set("metric_type", k)
	}
	var readings []metric.Reading
	if err := c.do(ctx, http.MethodGet, "/v1/metrics/latest", values, token, nil, &readings); err != nil {
		return nil, err
	}
	return readings, nil
}

// CreateMetric records a new reading. The backend assigns its identity and
// broadcasts it on the live channel.
func (c *Client) CreateMetric(ctx context.Context, token string, in metric.NewReading) (*metric.Reading, error) {
	var out metric.Reading
	if err := c.do(ctx, http.MethodPost, "/v1/metrics", nil, token, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateInsight asks for a summary and recommendations for one metric.
func (c *Client) GenerateInsight(ctx context.Context, token string, req InsightRequest) (*Insight, error) {
	var out Insight
	if err := c.do(ctx, http.MethodPost, "/v1/insights", nil, token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EHRConnection reports whether the patient has linked an EHR.
func (c *Client) EHRConnection(ctx context.Context, token string) (*EHRStatus, error) {
	var out EHRStatus
	if err := c.do(ctx, http.MethodGet, "/v1/ehr/connection", nil, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EHRVitals returns vitals pulled from the linked EHR.
func (c *Client) EHRVitals(ctx context.Context, token string) ([]EHRVital, error) {
	var out []EHRVital
	if err := c.do(ctx, http.MethodGet, "/v1/ehr/vitals", nil, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EHRAuthURL returns the URL the host app opens to link an EHR.
func (c *Client) EHRAuthURL(ctx context.Context, token string) (*EHRAuthURL, error) {
	var out EHRAuthURL
	if err := c.do(ctx, http.MethodGet, "/v1/ehr/auth-url", nil, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisconnectEHR removes the EHR link.
func (c *Client) DisconnectEHR(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/v1/ehr/disconnect", nil, token, nil, nil)
}

// SessionToken requests credentials for a real-time session room.
func (c *Client) SessionToken(ctx context.Context, token, room, participant string) (*SessionCredentials, error) {
	if strings.TrimSpace(room) == "" {
		return nil, fmt.Errorf("room name is required")
	}
	var out SessionCredentials
	body := sessionTokenRequest{RoomName: room, ParticipantName: participant}
	if err := c.do(ctx, http.MethodPost, "/v1/livekit/token", nil, token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile returns the authenticated patient's profile.
func (c *Client) Profile(ctx context.Context, token string) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/v1/profile", nil, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, in, dest any) error {
	rel := &url.URL{Path: strings.TrimRight(c.baseURL.Path, "/") + path}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	reqURL := c.baseURL.ResolveReference(rel)

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return &FetchError{Method: method, Path: path, Detail: "network unavailable", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("request")
	if err != nil {
		return &FetchError{Method: method, Path: path, StatusCode: resp.StatusCode, Detail: "response body unreadable", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &FetchError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Detail:     extractDetail(raw, resp.StatusCode),
		}
	}
	if dest == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return &FetchError{Method: method, Path: path, StatusCode: resp.StatusCode, Detail: "malformed response", Err: err}
	}
	return nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api base url %q: %w", raw, err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
