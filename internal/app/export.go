package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"tradectl/internal/storage"
)

const defaultExportWindow = 30 * 24 * time.Hour

// Export renders journaled trades as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	trades, err := store.ListTradesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		a.Logger.Info().Msg("no trades found for export window")
		return nil
	}

	if opts.CSVPath != "" {
		if err := writeTradesCSV(opts.CSVPath, trades); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		downsampled := downsampleTrades(trades, opts.MaxPoints)
		a.Logger.Info().Int("total", len(trades)).Int("plotted", len(downsampled)).Msg("rendering trade chart")
		if err := writeTradesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleTrades(trades []storage.TradeRecord, max int) []storage.TradeRecord {
	if max <= 1 || len(trades) <= max {
		return trades
	}

	result := make([]storage.TradeRecord, 0, max)
	step := float64(len(trades)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(trades) {
			idx = len(trades) - 1
		}
		result = append(result, trades[idx])
	}
	return result
}

func writeTradesCSV(path string, trades []storage.TradeRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "trade_id", "quote_id", "operation", "symbol", "crypto_amount", "fiat_amount", "total_amount", "source_currency", "source_amount", "payment_method", "status", "pending_proof"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, t := range trades {
		sourceCurrency, sourceAmount := "", ""
		if t.SourceCurrency != nil {
			sourceCurrency = *t.SourceCurrency
		}
		if t.SourceAmount != nil {
			sourceAmount = t.SourceAmount.String()
		}
		record := []string{
			t.CreatedAt.Format(time.RFC3339),
			t.TradeID,
			t.QuoteID,
			t.Operation,
			t.Symbol,
			t.CryptoAmount.String(),
			t.FiatAmount.String(),
			t.TotalAmount.String(),
			sourceCurrency,
			sourceAmount,
			t.PaymentMethod,
			t.Status,
			strconv.FormatBool(t.PendingProof),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeTradesPNG plots each trade's USD total and the running volume.
func writeTradesPNG(path string, trades []storage.TradeRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(trades))
	totals := make([]float64, len(trades))
	volume := make([]float64, len(trades))

	running := decimal.Zero
	for i, t := range trades {
		x[i] = t.CreatedAt
		totals[i] = t.TotalAmount.InexactFloat64()
		running = running.Add(t.FiatAmount)
		volume[i] = running.InexactFloat64()
	}

	usdFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Trade total (USD)",
			ValueFormatter: usdFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Cumulative volume (USD)",
			ValueFormatter: usdFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Trade total",
				XValues: x,
				YValues: totals,
			},
			chart.TimeSeries{
				Name:    "Cumulative volume",
				XValues: x,
				YValues: volume,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
