package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tradectl/internal/alerting"
	"tradectl/internal/domain"
)

// SimulateAlert pushes a synthetic status change through the configured
// notification channel.
func (a *App) SimulateAlert(ctx context.Context, to domain.TradeStatus, total decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no notification channel configured")
	}

	from := domain.StatusPending
	if to == domain.StatusCompleted {
		from = domain.StatusPaymentConfirmed
	}
	return notifier.Notify(ctx, alerting.Notification{
		TradeID:     "simulated",
		Symbol:      "BTC",
		Operation:   domain.OperationBuy,
		From:        from,
		To:          to,
		TotalAmount: total,
		Currency:    "USD",
		Unexpected:  !from.CanTransition(to),
		At:          time.Now().UTC(),
		Note:        "Simulated alert",
	})
}
