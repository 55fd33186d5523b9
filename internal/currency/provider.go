package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ProviderOptions parameterise the HTTP rate provider.
type ProviderOptions struct {
	URL       string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// HTTPProvider reads a USD-based rate table from an exchange-rate API.
type HTTPProvider struct {
	opts   ProviderOptions
	client *resty.Client
	logger zerolog.Logger
}

// NewHTTPProvider constructs an HTTPProvider.
func NewHTTPProvider(opts ProviderOptions, logger zerolog.Logger) *HTTPProvider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "tradectl/1.0"
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", ua)
	if opts.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+opts.APIKey)
	}

	return &HTTPProvider{
		opts:   opts,
		client: client,
		logger: logger.With().Str("component", "rate_provider").Logger(),
	}
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// FetchRate returns the USD->target rate.
func (p *HTTPProvider) FetchRate(ctx context.Context, target Code) (decimal.Decimal, error) {
	if p.opts.URL == "" {
		return decimal.Decimal{}, errors.New("exchange rate provider url not configured")
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("base", string(USD)).
		SetQueryParam("symbols", string(target)).
		Get(p.opts.URL)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("request rates: %w", err)
	}
	if !resp.IsSuccess() {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode(), resp.Body())
	}

	var payload ratesResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode rates: %w", err)
	}
	if payload.Base != "" && !strings.EqualFold(payload.Base, string(USD)) {
		return decimal.Decimal{}, fmt.Errorf("rate table base %q is not USD", payload.Base)
	}

	for code, rate := range payload.Rates {
		if strings.EqualFold(code, string(target)) {
			p.logger.Debug().Str("currency", string(target)).Str("rate", rate.String()).Msg("fetched live rate")
			return rate, nil
		}
	}
	return decimal.Decimal{}, fmt.Errorf("rate for %s missing from provider response", target)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("rate provider error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("rate provider error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("rate provider error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("rate provider error (%d)", status)
}

var _ RateProvider = (*HTTPProvider)(nil)
