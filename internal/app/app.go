package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradectl/internal/alerting"
	"tradectl/internal/backend"
	"tradectl/internal/config"
	"tradectl/internal/currency"
	"tradectl/internal/domain"
	"tradectl/internal/limits"
	"tradectl/internal/monitor"
	"tradectl/internal/quote"
	"tradectl/internal/scheduler"
	"tradectl/internal/service"
	"tradectl/internal/storage"
	"tradectl/internal/trade"
	"tradectl/internal/wallet"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
	In     io.Reader
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout, In: os.Stdin}
}

func (a *App) newBackend() *backend.Client {
	cfg := a.Config.Backend
	return backend.New(backend.Options{
		BaseURL:           cfg.BaseURL,
		Token:             cfg.Token,
		UserAgent:         cfg.UserAgent,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		RetryCount:        cfg.RetryCount,
	}, a.Logger)
}

func (a *App) newConverter(clock currency.Clock) *currency.Converter {
	cfg := a.Config.Rates
	var provider currency.RateProvider
	if cfg.URL != "" {
		provider = currency.NewHTTPProvider(currency.ProviderOptions{
			URL:       cfg.URL,
			APIKey:    cfg.APIKey,
			Timeout:   cfg.RequestTimeout,
			UserAgent: a.Config.Backend.UserAgent,
		}, a.Logger)
	}
	return currency.NewConverter(provider, clock, currency.Options{
		TTL:      cfg.TTL,
		Timeout:  cfg.RequestTimeout,
		Defaults: a.Config.DefaultRates(),
	}, a.Logger)
}

func (a *App) newBalanceStore(client *backend.Client) *wallet.Store {
	sources := []wallet.Source{wallet.NewBackendSource(client, a.Logger)}
	if eth := a.Config.Ethereum; eth.Enabled {
		sources = append(sources, wallet.NewOnchain(wallet.OnchainOptions{
			RPCURL:  eth.RPCURL,
			Network: eth.Network,
			Holder:  eth.Holder,
			Tokens:  eth.Tokens,
			Timeout: eth.RequestTimeout,
		}, a.Logger))
	}
	return wallet.NewStore(a.Config.Wallet.SymbolTable, nil, a.Logger, sources...)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	var notifier alerting.Notifier = alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)

	statuses := make([]domain.TradeStatus, 0, len(a.Config.Alerting.Statuses))
	for _, s := range a.Config.Alerting.Statuses {
		if st, err := domain.ParseTradeStatus(s); err == nil {
			statuses = append(statuses, st)
		}
	}
	return alerting.NewFiltered(notifier, statuses)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if !store.Enabled() {
		return nil, nil, nil
	}
	return store, store.Close, nil
}

// engine is the fully wired desk plus the pieces commands print from.
type engine struct {
	desk     *service.Desk
	client   *backend.Client
	rates    *currency.Converter
	balances *wallet.Store
	sched    scheduler.Scheduler
	close    func()
}

func (a *App) newEngine(ctx context.Context) (*engine, error) {
	account, err := limits.ParseAccountType(a.Config.Limits.AccountType)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		a.Logger.Debug().Msg("database.dsn not configured; trade journal disabled")
	}

	sched := scheduler.New(a.Logger)
	client := a.newBackend()
	rates := a.newConverter(sched)
	balances := a.newBalanceStore(client)

	orch := quote.New(client, rates, balances, sched, quote.Options{
		Debounce:       a.Config.Quote.Debounce,
		ValidityWindow: a.Config.Quote.ValidityWindow,
		Tick:           a.Config.Quote.Tick,
		RequestTimeout: a.Config.Quote.RequestTimeout,
	}, a.Logger)

	deps := service.Deps{
		Quotes:    orch,
		Creator:   client,
		History:   client,
		Status:    client,
		Balances:  balances,
		Limits:    limits.NewValidator(a.Config.LimitsSettings(), rates),
		Rates:     rates,
		Notifier:  a.newNotifier(),
		Scheduler: sched,
	}
	if store != nil {
		deps.Journal = store
	}

	desk := service.New(deps, service.Options{
		Account: account,
		Trade:   trade.Options{TransferWindow: a.Config.Trade.TransferWindow},
		Monitor: monitor.Options{PollInterval: a.Config.Trade.PollInterval, PollTimeout: a.Config.Trade.PollTimeout},
	}, a.Logger)

	return &engine{
		desk:     desk,
		client:   client,
		rates:    rates,
		balances: balances,
		sched:    sched,
		close: func() {
			desk.Close()
			if closeStore != nil {
				closeStore()
			}
		},
	}, nil
}

// QuoteOptions describe one explicit quote.
type QuoteOptions struct {
	Operation domain.Operation
	Symbol    string
	Amount    decimal.Decimal
	Currency  currency.Code
}

func (o QuoteOptions) input() quote.Input {
	return quote.Input{Amount: o.Amount, Symbol: o.Symbol, Operation: o.Operation, Currency: o.Currency}
}

// TradeOptions configure the trade command.
type TradeOptions struct {
	Quote  QuoteOptions
	Method domain.PaymentMethod
	Watch  bool
}

// RunOptions configure the interactive session.
type RunOptions struct {
	Operation domain.Operation
	Symbol    string
	Currency  currency.Code
	Method    domain.PaymentMethod
}

// ExportOptions hold parameters for exporting journaled trades.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Limit int
	Local bool
}

// SyncOptions configure the journal sync job.
type SyncOptions struct {
	Pages   int
	PerPage int
	DryRun  bool
}
