package trade

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradectl/internal/backend"
	"tradectl/internal/domain"
	"tradectl/internal/scheduler"
)

// ErrQuoteExpired means the quote can no longer be submitted and a new one
// must be requested.
var ErrQuoteExpired = errors.New("quote expired")

const genericFailure = "trade creation failed"

// CreationError is a backend rejection that is not about quote expiry.
type CreationError struct {
	Message string
	Err     error
}

func (e *CreationError) Error() string {
	return e.Message
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

// Creator submits quotes as trades. The backend client implements it.
type Creator interface {
	CreateTrade(ctx context.Context, quoteID string, method domain.PaymentMethod) (backend.CreateResponse, error)
}

// QuoteBook resolves quote ids to the quotes currently on offer.
type QuoteBook interface {
	Lookup(quoteID string) (domain.Quote, bool)
	Consume(quoteID string)
}

// Result is what the caller needs after a trade was accepted.
type Result struct {
	TradeID          string
	Status           domain.TradeStatus
	PendingProof     bool
	PaymentMethod    domain.PaymentMethod
	BankDetails      *domain.BankDetails
	TransferDeadline time.Time
	Quote            domain.Quote
	CreatedAt        time.Time
}

// TransferAmount is the amount the user has to send for a bank transfer, in
// the currency they typed the quote in when it was not USD.
func (r Result) TransferAmount() (decimal.Decimal, string) {
	if total, ok := r.Quote.SourceTotal(); ok {
		return total, r.Quote.SourceCurrency
	}
	if r.BankDetails != nil && r.BankDetails.Amount.IsPositive() {
		cur := r.BankDetails.Currency
		if cur == "" {
			cur = "USD"
		}
		return r.BankDetails.Amount, cur
	}
	return r.Quote.TotalAmount, "USD"
}

// Options configure the controller.
type Options struct {
	TransferWindow time.Duration
	// OnTransferWindowElapsed runs once per bank transfer whose window
	// closed without CancelTransferWindow.
	OnTransferWindowElapsed func(Result)
}

// Controller turns quotes into trades.
type Controller struct {
	creator Creator
	book    QuoteBook
	sched   scheduler.Scheduler
	opts    Options
	logger  zerolog.Logger

	mu      sync.Mutex
	windows map[string]scheduler.Task
}

// NewController builds a Controller.
func NewController(creator Creator, book QuoteBook, sched scheduler.Scheduler, opts Options, logger zerolog.Logger) *Controller {
	if opts.TransferWindow <= 0 {
		opts.TransferWindow = 15 * time.Minute
	}
	return &Controller{
		creator: creator,
		book:    book,
		sched:   sched,
		opts:    opts,
		logger:  logger.With().Str("component", "trade_controller").Logger(),
		windows: make(map[string]scheduler.Task),
	}
}

// CreateTrade submits quoteID with the chosen payment method. Unknown,
// superseded and expired quotes fail with ErrQuoteExpired before any request
// is made. A 403 from the backend is a pending-proof success.
func (c *Controller) CreateTrade(ctx context.Context, quoteID string, method domain.PaymentMethod) (Result, error) {
	q, ok := c.book.Lookup(quoteID)
	if !ok {
		return Result{}, fmt.Errorf("%w: quote %s is not current", ErrQuoteExpired, quoteID)
	}
	now := c.sched.Now()
	if !q.IsValidAt(now) {
		return Result{}, fmt.Errorf("%w: quote %s expired at %s", ErrQuoteExpired, quoteID, q.ExpiresAt().Format(time.RFC3339))
	}

	res := Result{Quote: q, PaymentMethod: method, Status: domain.StatusPending}

	resp, err := c.creator.CreateTrade(ctx, quoteID, method)
	if err != nil {
		apiErr, isAPI := backend.AsAPIError(err)
		if isAPI && apiErr.Status == http.StatusForbidden {
			res.TradeID = apiErr.Field("trade_id", "id", "tradeId")
			res.PendingProof = true
			if res.TradeID == "" {
				c.logger.Warn().Str("quote_id", quoteID).Msg("pending-proof response carried no trade id")
			}
			return c.accept(res), nil
		}
		return Result{}, classify(err, apiErr)
	}

	res.TradeID = resp.Identifier()
	res.BankDetails = resp.BankDetails
	if resp.Status != "" {
		if st, perr := domain.ParseTradeStatus(resp.Status); perr == nil {
			res.Status = st
		} else {
			c.logger.Warn().Str("status", resp.Status).Msg("unrecognised trade status on create")
		}
	}
	return c.accept(res), nil
}

func (c *Controller) accept(res Result) Result {
	now := c.sched.Now()
	res.CreatedAt = now
	c.book.Consume(res.Quote.QuoteID)

	if res.PaymentMethod == domain.PaymentBankTransfer && res.BankDetails != nil && res.TradeID != "" {
		res.TransferDeadline = now.Add(c.opts.TransferWindow)
		c.startWindow(res)
	}

	c.logger.Info().
		Str("trade_id", res.TradeID).
		Str("quote_id", res.Quote.QuoteID).
		Str("status", string(res.Status)).
		Bool("pending_proof", res.PendingProof).
		Str("payment_method", string(res.PaymentMethod)).
		Msg("trade created")
	return res
}

func (c *Controller) startWindow(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.windows[res.TradeID]; ok {
		prev.Stop()
	}
	c.windows[res.TradeID] = c.sched.AfterFunc(c.opts.TransferWindow, func() {
		c.mu.Lock()
		_, live := c.windows[res.TradeID]
		delete(c.windows, res.TradeID)
		c.mu.Unlock()
		if !live {
			return
		}
		c.logger.Info().Str("trade_id", res.TradeID).Msg("bank transfer window elapsed")
		if c.opts.OnTransferWindowElapsed != nil {
			c.opts.OnTransferWindowElapsed(res)
		}
	})
}

// CancelTransferWindow stops the transfer countdown for tradeID, typically
// once the transfer is confirmed. It reports whether a window was pending.
func (c *Controller) CancelTransferWindow(tradeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.windows[tradeID]
	if !ok {
		return false
	}
	delete(c.windows, tradeID)
	return task.Stop()
}

// PendingWindows returns the trade ids still inside their transfer window.
func (c *Controller) PendingWindows() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.windows))
	for id := range c.windows {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every pending transfer window.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, task := range c.windows {
		task.Stop()
		delete(c.windows, id)
	}
}

// classify maps a failed create to ErrQuoteExpired or *CreationError. Only the
// backend's own message is inspected; transport errors are never expiry.
func classify(err error, apiErr *backend.APIError) error {
	if apiErr == nil {
		return &CreationError{Message: fmt.Sprintf("%s: %v", genericFailure, err), Err: err}
	}
	msg := strings.TrimSpace(apiErr.Message)
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "expired") || strings.Contains(lower, "quote") {
		return fmt.Errorf("%w: %s", ErrQuoteExpired, msg)
	}
	if msg == "" {
		msg = genericFailure
	}
	return &CreationError{Message: msg, Err: err}
}
