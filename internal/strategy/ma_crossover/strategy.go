package ma_crossover

import (
	"fmt"

	"github.com/newthinker/atlas-bt/internal/core"
	"github.com/newthinker/atlas-bt/internal/indicator"
	"github.com/newthinker/atlas-bt/internal/strategy"
)

// MACrossover is fully invested in one symbol while its fast moving
// average is above the slow one, and flat otherwise.
type MACrossover struct {
	symbol     string
	fastPeriod int
	slowPeriod int
	exp        bool // EMA instead of SMA
}

// New creates a new MA Crossover strategy
func New(symbol string, fastPeriod, slowPeriod int) *MACrossover {
	return &MACrossover{
		symbol:     symbol,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
	}
}

func (m *MACrossover) Name() string {
	return "ma_crossover"
}

func (m *MACrossover) Description() string {
	return fmt.Sprintf("MA Crossover %s (%d/%d)", m.symbol, m.fastPeriod, m.slowPeriod)
}

func (m *MACrossover) RequiredData() strategy.DataRequirements {
	return strategy.DataRequirements{
		Symbols:      []string{m.symbol},
		PriceHistory: m.window(),
	}
}

// window is the history depth used on each date. EMAs get extra bars so
// the seed SMA has decayed.
func (m *MACrossover) window() int {
	if m.exp {
		return 3 * m.slowPeriod
	}
	return m.slowPeriod
}

func (m *MACrossover) Init(cfg strategy.Config) error {
	if symbol, ok := cfg.String("symbol"); ok {
		m.symbol = symbol
	}
	if fast, ok := cfg.Int("fast_period"); ok {
		m.fastPeriod = fast
	}
	if slow, ok := cfg.Int("slow_period"); ok {
		m.slowPeriod = slow
	}
	if kind, ok := cfg.String("ma_type"); ok {
		switch kind {
		case "sma":
			m.exp = false
		case "ema":
			m.exp = true
		default:
			return fmt.Errorf("ma_type must be sma or ema, got %q", kind)
		}
	}

	if m.symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if m.fastPeriod < 1 || m.slowPeriod <= m.fastPeriod {
		return fmt.Errorf("need 0 < fast_period < slow_period, got %d/%d", m.fastPeriod, m.slowPeriod)
	}
	return nil
}

func (m *MACrossover) OnDate(ctx *strategy.Context) ([]core.Order, error) {
	w, err := ctx.History(m.symbol, m.window())
	if err != nil {
		return nil, err
	}
	last, ok := w.Last()
	if !ok || !last.Time.Equal(ctx.AsOf) || w.Short() {
		return nil, nil // Not enough data
	}

	prices := w.Closes()
	average := indicator.SMA
	if m.exp {
		average = indicator.EMA
	}
	fastMA := average(prices, m.fastPeriod)
	slowMA := average(prices, m.slowPeriod)
	if len(fastMA) == 0 || len(slowMA) == 0 {
		return nil, nil
	}

	weight := 0.0
	if fastMA[len(fastMA)-1] > slowMA[len(slowMA)-1] {
		weight = 1.0
	}

	return []core.Order{{Symbol: m.symbol, TargetWeight: weight}}, nil
}
