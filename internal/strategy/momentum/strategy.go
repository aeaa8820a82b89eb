package momentum

import (
	"fmt"
	"sort"

	"github.com/newthinker/atlas-bt/internal/core"
	"github.com/newthinker/atlas-bt/internal/indicator"
	"github.com/newthinker/atlas-bt/internal/strategy"
)

// Momentum holds the top N watchlist symbols by trailing return, equally
// weighted, and exits anything that drops out of the top N.
type Momentum struct {
	watchlist []string
	lookback  int
	topN      int
}

// New creates a momentum strategy over watchlist
func New(watchlist []string, lookback, topN int) *Momentum {
	return &Momentum{
		watchlist: watchlist,
		lookback:  lookback,
		topN:      topN,
	}
}

func (m *Momentum) Name() string {
	return "momentum"
}

func (m *Momentum) Description() string {
	return fmt.Sprintf("Momentum (top %d by %d-day return)", m.topN, m.lookback)
}

func (m *Momentum) RequiredData() strategy.DataRequirements {
	symbols := make([]string, len(m.watchlist))
	copy(symbols, m.watchlist)
	return strategy.DataRequirements{
		Symbols:      symbols,
		PriceHistory: m.lookback + 1,
	}
}

func (m *Momentum) Init(cfg strategy.Config) error {
	if lookback, ok := cfg.Int("lookback"); ok {
		m.lookback = lookback
	}
	if topN, ok := cfg.Int("top_n"); ok {
		m.topN = topN
	}
	if watchlist, ok := cfg.Strings("watchlist"); ok {
		m.watchlist = watchlist
	}

	if m.lookback < 1 {
		return fmt.Errorf("lookback must be positive, got %d", m.lookback)
	}
	if m.topN < 1 {
		return fmt.Errorf("top_n must be positive, got %d", m.topN)
	}
	if len(m.watchlist) == 0 {
		return fmt.Errorf("watchlist is empty")
	}
	return nil
}

type score struct {
	symbol   string
	momentum float64
}

func (m *Momentum) OnDate(ctx *strategy.Context) ([]core.Order, error) {
	var scores []score
	for _, symbol := range m.watchlist {
		w, err := ctx.History(symbol, m.lookback+1)
		if err != nil {
			return nil, err
		}
		last, ok := w.Last()
		if !ok || !last.Time.Equal(ctx.AsOf) || w.Short() {
			continue
		}
		roc, ok := indicator.ROC(w.Closes())
		if !ok {
			continue
		}
		scores = append(scores, score{symbol: symbol, momentum: roc})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].momentum != scores[j].momentum {
			return scores[i].momentum > scores[j].momentum
		}
		return scores[i].symbol < scores[j].symbol
	})
	if len(scores) > m.topN {
		scores = scores[:m.topN]
	}
	if len(scores) == 0 {
		return nil, nil
	}

	weight := 1.0 / float64(len(scores))
	selected := make(map[string]bool, len(scores))
	orders := make([]core.Order, 0, len(scores))
	for _, s := range scores {
		selected[s.symbol] = true
		orders = append(orders, core.Order{Symbol: s.symbol, TargetWeight: weight})
	}

	// Exit holdings that fell out of the selection.
	var exits []string
	for symbol, pos := range ctx.Portfolio.Positions {
		if pos.Quantity > 0 && !selected[symbol] {
			exits = append(exits, symbol)
		}
	}
	sort.Strings(exits)
	for _, symbol := range exits {
		orders = append(orders, core.Order{Symbol: symbol, TargetWeight: 0})
	}

	return orders, nil
}
