package bayzat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/teamtrack/bayzat-sync/internal/models"
	"github.com/teamtrack/bayzat-sync/internal/ratelimit"
)

// RecordPayload is the outbound shape of one attendance punch.
type RecordPayload struct {
	RecordID    string    `json:"record_id"`
	EmployeeRef string    `json:"employee_ref"`
	DeviceID    string    `json:"device_id"`
	PunchType   string    `json:"punch_type"`
	PunchedAt   time.Time `json:"punched_at"`
}

// RemoteRecord is one attendance entry as returned by the Bayzat API.
type RemoteRecord struct {
	ExternalID  string    `json:"id"`
	EmployeeRef string    `json:"employee_ref"`
	DeviceID    string    `json:"device_id"`
	PunchType   string    `json:"punch_type"`
	PunchedAt   time.Time `json:"punched_at"`
}

// Page is one fetched slice of remote attendance data.
type Page struct {
	Records    []RemoteRecord `json:"records"`
	NextCursor string         `json:"next_cursor"`
	HasMore    bool           `json:"has_more"`
}

type pushResponse struct {
	Status string `json:"status"`
}

// ClientConfig tunes local retry behaviour for transient faults. This is a
// bounded in-call retry; the engine's per-record backoff policy is a separate
// layer on top.
type ClientConfig struct {
	LocalRetries   int
	RetryBackoff   time.Duration
	RequestTimeout time.Duration
}

// Client performs calls against the Bayzat attendance API. Stateless across
// invocations except for the per-company request interval, which lives in the
// shared limiter.
type Client struct {
	http    *http.Client
	limiter *ratelimit.IntervalLimiter
	logger  *zap.Logger
	cfg     ClientConfig
}

// NewClient constructs a client. The limiter may be nil, which disables
// inter-request pacing (used in tests).
func NewClient(limiter *ratelimit.IntervalLimiter, logger *zap.Logger, cfg ClientConfig) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LocalRetries < 0 {
		cfg.LocalRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: limiter,
		logger:  logger,
		cfg:     cfg,
	}
}

// PushRecord submits one attendance punch for the company.
func (c *Client) PushRecord(ctx context.Context, settings models.CompanySyncSettings, payload RecordPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &APIError{Kind: KindMalformed, Message: "encode record payload", Err: err}
	}
	endpoint, err := joinURL(settings.APIURL, "/v1/attendance/records")
	if err != nil {
		return &APIError{Kind: KindMalformed, Message: "invalid api url", Err: err}
	}

	var resp pushResponse
	if err := c.do(ctx, settings, http.MethodPost, endpoint, body, &resp); err != nil {
		return err
	}
	return nil
}

// FetchPage retrieves one page of remote attendance records starting at the
// given cursor. Page size is bounded by the company settings.
func (c *Client) FetchPage(ctx context.Context, settings models.CompanySyncSettings, cursor string) (*Page, error) {
	endpoint, err := joinURL(settings.APIURL, "/v1/attendance")
	if err != nil {
		return nil, &APIError{Kind: KindMalformed, Message: "invalid api url", Err: err}
	}
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	pageSize := settings.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	q.Set("limit", strconv.Itoa(pageSize))
	endpoint = endpoint + "?" + q.Encode()

	var page Page
	if err := c.do(ctx, settings, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// do executes one logical call: rate-limit wait, then bounded local retries
// on transient faults. Unauthorized, RateLimited and Malformed surface
// immediately.
func (c *Client) do(ctx context.Context, settings models.CompanySyncSettings, method, endpoint string, body []byte, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, settings.CompanyID, settings.RateLimitDelay()); err != nil {
			if ctx.Err() != nil {
				return &APIError{Kind: KindTransient, Message: "rate limit wait interrupted", Err: err}
			}
			// Limiter state is best effort; a Redis fault must not block syncing.
			c.logger.Sugar().Warnw("rate limiter unavailable, proceeding", "company_id", settings.CompanyID, "error", err)
		}
	}

	var lastErr error
	attempts := c.cfg.LocalRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.cfg.RetryBackoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return &APIError{Kind: KindTransient, Message: "request cancelled", Err: ctx.Err()}
			case <-timer.C:
			}
		}

		err := c.doOnce(ctx, settings, method, endpoint, body, out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Kind != KindTransient {
			return err
		}
		lastErr = err
		c.logger.Sugar().Debugw("bayzat request failed, retrying locally",
			"company_id", settings.CompanyID, "attempt", attempt+1, "error", err)
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, settings models.CompanySyncSettings, method, endpoint string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &APIError{Kind: KindMalformed, Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+settings.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Kind: KindTransient, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimited, StatusCode: resp.StatusCode, Message: "provider rate limit hit"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &APIError{Kind: KindUnauthorized, StatusCode: resp.StatusCode, Message: "credentials rejected"}
	case resp.StatusCode >= 500:
		return &APIError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: fmt.Sprintf("upstream error %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &APIError{Kind: KindMalformed, StatusCode: resp.StatusCode, Message: fmt.Sprintf("request rejected with %d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Kind: KindMalformed, StatusCode: resp.StatusCode, Message: "unparseable response", Err: err}
	}
	return nil
}

func joinURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("api url %q missing scheme or host", base)
	}
	return u.JoinPath(path).String(), nil
}
