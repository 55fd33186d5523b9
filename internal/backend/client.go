package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options parameterise the backend client.
type Options struct {
	BaseURL           string
	Token             string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	RetryCount        int
}

// Client talks to the instant-trade REST backend.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New constructs a Client.
func New(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "tradectl/1.0"
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", ua)
	if opts.Token != "" {
		httpClient.SetAuthToken(opts.Token)
	}
	if opts.RetryCount > 0 {
		// Only idempotent reads are retried; quotes and trade creation are not.
		httpClient.SetRetryCount(opts.RetryCount).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(resp *resty.Response, err error) bool {
				if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
					return false
				}
				return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
			})
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 5
	}

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "backend").Logger(),
	}
}

func (c *Client) newRequest(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString()), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, query map[string]string, out any) error {
	req, err := c.newRequest(ctx)
	if err != nil {
		return err
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	started := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode()).
		Dur("elapsed", time.Since(started)).
		Msg("backend call")

	if !resp.IsSuccess() {
		return newAPIError(resp.StatusCode(), resp.Body())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
