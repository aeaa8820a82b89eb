// Package report renders backtest results as CSV files and a text
// summary, and publishes them to an archive.Storage.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/newthinker/atlas-bt/internal/backtest"
	"github.com/newthinker/atlas-bt/internal/storage/archive"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// File names written under <strategy>/<run id>/.
const (
	EquityFile     = "equity.csv"
	DecisionsFile  = "decisions.csv"
	TradesFile     = "trades.csv"
	RejectionsFile = "rejections.csv"
	SummaryFile    = "summary.txt"
)

var (
	// ErrRunExists is returned by Publish when the run directory already
	// holds a summary.
	ErrRunExists = errors.New("report: run already published")

	// ErrRunNotFound is returned by ReadSummary for an unknown run.
	ErrRunNotFound = errors.New("report: run not found")
)

// EquityRowDTO is one equity curve point.
type EquityRowDTO struct {
	Date         string `csv:"date"`
	AccountValue string `csv:"account_value"`
}

// DecisionRowDTO is one classified order, hold included.
type DecisionRowDTO struct {
	Date          string `csv:"date"`
	ExecutionDate string `csv:"execution_date"`
	Symbol        string `csv:"symbol"`
	TargetWeight  string `csv:"target_weight"`
	Action        string `csv:"action"`
	Label         string `csv:"label"`
}

// TradeRowDTO is one executed fill.
type TradeRowDTO struct {
	Date         string `csv:"date"`
	Symbol       string `csv:"symbol"`
	Action       string `csv:"action"`
	Label        string `csv:"label"`
	Side         string `csv:"side"`
	TargetWeight string `csv:"target_weight"`
	Requested    string `csv:"requested"`
	Quantity     string `csv:"quantity"`
	Price        string `csv:"price"`
	Amount       string `csv:"amount"`
	RealizedPL   string `csv:"realized_pl"`
	PartialFill  string `csv:"partial_fill"`
}

// RejectionRowDTO is one order that produced no trade.
type RejectionRowDTO struct {
	Date         string `csv:"date"`
	Symbol       string `csv:"symbol"`
	TargetWeight string `csv:"target_weight"`
	Reason       string `csv:"reason"`
}

func weight(w float64) string {
	return strconv.FormatFloat(w, 'f', 4, 64)
}

// EquityCSV renders the equity curve, one row per simulated date.
func EquityCSV(r *backtest.Result) ([]byte, error) {
	points := r.Curve.Points()
	rows := make([]EquityRowDTO, len(points))
	for i, p := range points {
		rows[i] = EquityRowDTO{
			Date:         p.Date.Format(dateLayout),
			AccountValue: p.Value.StringFixed(2),
		}
	}
	return gocsv.MarshalBytes(&rows)
}

// DecisionsCSV renders every classified order in decision order.
func DecisionsCSV(r *backtest.Result) ([]byte, error) {
	rows := make([]DecisionRowDTO, len(r.Decisions))
	for i, d := range r.Decisions {
		rows[i] = DecisionRowDTO{
			Date:          d.Date.Format(dateLayout),
			ExecutionDate: d.Execution.Format(dateLayout),
			Symbol:        d.Order.Symbol,
			TargetWeight:  weight(d.Order.TargetWeight),
			Action:        string(d.Order.Action),
			Label:         d.Order.Action.Label(),
		}
	}
	return gocsv.MarshalBytes(&rows)
}

// TradesCSV renders every fill in execution order.
func TradesCSV(r *backtest.Result) ([]byte, error) {
	rows := make([]TradeRowDTO, len(r.Trades))
	for i, t := range r.Trades {
		rows[i] = TradeRowDTO{
			Date:         t.Date.Format(dateLayout),
			Symbol:       t.Order.Symbol,
			Action:       string(t.Order.Action),
			Label:        t.Order.Action.Label(),
			Side:         string(t.Side),
			TargetWeight: weight(t.Order.TargetWeight),
			Requested:    strconv.FormatInt(t.Requested, 10),
			Quantity:     strconv.FormatInt(t.Quantity, 10),
			Price:        t.Price.StringFixed(4),
			Amount:       t.Amount.StringFixed(2),
			RealizedPL:   t.RealizedPL.StringFixed(2),
			PartialFill:  strconv.FormatBool(t.Partial),
		}
	}
	return gocsv.MarshalBytes(&rows)
}

// RejectionsCSV renders every rejected order.
func RejectionsCSV(r *backtest.Result) ([]byte, error) {
	rows := make([]RejectionRowDTO, len(r.Rejections))
	for i, rej := range r.Rejections {
		reason := ""
		if rej.Err != nil {
			reason = rej.Err.Error()
		}
		rows[i] = RejectionRowDTO{
			Date:         rej.Date.Format(dateLayout),
			Symbol:       rej.Order.Symbol,
			TargetWeight: weight(rej.Order.TargetWeight),
			Reason:       reason,
		}
	}
	return gocsv.MarshalBytes(&rows)
}

// WriteSummary prints run statistics and final holdings as tables.
func WriteSummary(w io.Writer, r *backtest.Result) {
	fmt.Fprintf(w, "Backtest %s: %s on %s\n", r.RunID, r.Strategy, r.IndexSymbol)
	fmt.Fprintf(w, "Period: %s to %s (%s)\n\n",
		r.StartDate.Format(dateLayout), r.EndDate.Format(dateLayout), r.State)

	s := r.Stats
	stats := tablewriter.NewWriter(w)
	stats.SetHeader([]string{"Metric", "Value"})
	stats.SetAlignment(tablewriter.ALIGN_LEFT)
	stats.Append([]string{"Initial capital", r.InitialCapital.StringFixed(2)})
	stats.Append([]string{"Final value", strconv.FormatFloat(s.FinalValue, 'f', 2, 64)})
	stats.Append([]string{"Total return", fmt.Sprintf("%.2f%%", s.TotalReturn)})
	stats.Append([]string{"Annualized return", fmt.Sprintf("%.2f%%", s.AnnualizedReturn)})
	stats.Append([]string{"Max drawdown", fmt.Sprintf("%.2f%%", s.MaxDrawdown)})
	stats.Append([]string{"Sharpe ratio", fmt.Sprintf("%.2f", s.SharpeRatio)})
	stats.Append([]string{"Realized P&L", strconv.FormatFloat(s.RealizedPL, 'f', 2, 64)})
	stats.Append([]string{"Trading days", strconv.Itoa(s.TradingDays)})
	stats.Append([]string{"Trades", strconv.Itoa(s.TotalTrades)})
	stats.Append([]string{"Holds", strconv.Itoa(s.Holds)})
	stats.Append([]string{"Partial fills", strconv.Itoa(s.PartialFills)})
	stats.Append([]string{"Rejected orders", strconv.Itoa(s.Rejected)})
	stats.Render()

	fmt.Fprintf(w, "\nCash: %s\n", r.Final.Cash.StringFixed(2))
	if len(r.Final.Positions) == 0 {
		fmt.Fprintln(w, "No open positions")
		return
	}

	holdings := tablewriter.NewWriter(w)
	holdings.SetHeader([]string{"Symbol", "Quantity", "Avg cost", "Last price", "Market value"})
	holdings.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, symbol := range r.Final.Symbols() {
		pos := r.Final.Positions[symbol]
		holdings.Append([]string{
			symbol,
			strconv.FormatInt(pos.Quantity, 10),
			pos.AvgCost.StringFixed(4),
			pos.LastPrice.StringFixed(4),
			pos.MarketValue(pos.LastPrice).StringFixed(2),
		})
	}
	holdings.Render()
}

// Summary returns WriteSummary's output as a string.
func Summary(r *backtest.Result) string {
	var b strings.Builder
	WriteSummary(&b, r)
	return b.String()
}

// Dir is the archive directory for a run.
func Dir(r *backtest.Result) string {
	return path.Join(r.Strategy, r.RunID)
}

// Publish writes the equity curve, decisions, trades, rejections and
// summary of r to store and returns the location of each file. A run
// directory that already holds a summary is never overwritten.
func Publish(ctx context.Context, store archive.Storage, r *backtest.Result, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	summary := path.Join(Dir(r), SummaryFile)
	exists, err := store.Exists(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", store.Location(summary), err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, store.Location(Dir(r)))
	}

	files := []struct {
		name   string
		render func(*backtest.Result) ([]byte, error)
	}{
		{EquityFile, EquityCSV},
		{DecisionsFile, DecisionsCSV},
		{TradesFile, TradesCSV},
		{RejectionsFile, RejectionsCSV},
		{SummaryFile, func(r *backtest.Result) ([]byte, error) { return []byte(Summary(r)), nil }},
	}

	locations := make([]string, 0, len(files))
	for _, f := range files {
		data, err := f.render(r)
		if err != nil {
			return locations, fmt.Errorf("rendering %s: %w", f.name, err)
		}
		p := path.Join(Dir(r), f.name)
		if err := store.Write(ctx, p, data); err != nil {
			return locations, fmt.Errorf("writing %s: %w", f.name, err)
		}
		locations = append(locations, store.Location(p))
		logger.Debug("report written", zap.String("file", store.Location(p)), zap.Int("bytes", len(data)))
	}

	logger.Info("report published", zap.String("run_id", r.RunID), zap.Int("files", len(locations)))
	return locations, nil
}

// Runs lists the published run directories under strategy, or under every
// strategy when strategy is empty.
func Runs(ctx context.Context, store archive.Storage, strategy string) ([]string, error) {
	paths, err := store.List(ctx, strategy)
	if err != nil {
		return nil, err
	}
	runs := []string{}
	for _, p := range paths {
		if strategy != "" && !strings.HasPrefix(p, strategy+"/") {
			continue
		}
		if path.Base(p) == SummaryFile {
			runs = append(runs, path.Dir(p))
		}
	}
	return runs, nil
}

// ReadSummary returns the summary published for the run directory dir.
func ReadSummary(ctx context.Context, store archive.Storage, dir string) ([]byte, error) {
	p := path.Join(dir, SummaryFile)
	exists, err := store.Exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, dir)
	}
	return store.Read(ctx, p)
}
