package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradectl/internal/domain"
)

// Notification carries one trade lifecycle event.
type Notification struct {
	TradeID      string
	Symbol       string
	Operation    domain.Operation
	From         domain.TradeStatus
	To           domain.TradeStatus
	TotalAmount  decimal.Decimal
	Currency     string
	PendingProof bool
	Unexpected   bool
	At           time.Time
	Note         string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *resty.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout),
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}
}

type telegramResult struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	var result telegramResult
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"chat_id": n.chatID,
			"text":    renderMessage(note),
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", n.botToken))
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}

	if !resp.IsSuccess() {
		return fmt.Errorf("telegram unexpected status: %d %s", resp.StatusCode(), result.Description)
	}
	if !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().
		Str("trade_id", note.TradeID).
		Str("status", string(note.To)).
		Msg("notification sent (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Trade %s]\n", note.TradeID))
	if note.Symbol != "" {
		builder.WriteString(fmt.Sprintf("%s %s\n", strings.ToUpper(string(note.Operation)), note.Symbol))
	}
	if note.From != "" {
		builder.WriteString(fmt.Sprintf("Status: %s -> %s\n", note.From, note.To))
	} else {
		builder.WriteString(fmt.Sprintf("Status: %s\n", note.To))
	}
	if note.TotalAmount.IsPositive() {
		cur := note.Currency
		if cur == "" {
			cur = "USD"
		}
		builder.WriteString(fmt.Sprintf("Total: %s %s\n", note.TotalAmount.StringFixed(2), cur))
	}
	if note.PendingProof {
		builder.WriteString("Awaiting proof of payment\n")
	}
	if note.Unexpected {
		builder.WriteString("Unexpected transition reported by backend\n")
	}
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	}
	if note.Note != "" {
		builder.WriteString(note.Note)
	}
	return builder.String()
}

// Filtered forwards only notifications whose target status is listed. An
// empty list forwards everything.
type Filtered struct {
	next     Notifier
	statuses map[domain.TradeStatus]struct{}
}

// NewFiltered wraps next with a status filter.
func NewFiltered(next Notifier, statuses []domain.TradeStatus) *Filtered {
	set := make(map[domain.TradeStatus]struct{}, len(statuses))
	for _, st := range statuses {
		set[st] = struct{}{}
	}
	return &Filtered{next: next, statuses: set}
}

// Notify implements Notifier.
func (f *Filtered) Notify(ctx context.Context, note Notification) error {
	if len(f.statuses) > 0 {
		if _, ok := f.statuses[note.To]; !ok {
			return nil
		}
	}
	return f.next.Notify(ctx, note)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*Filtered)(nil)
)
