package portfolio

import (
	"fmt"
	"sort"

	"github.com/newthinker/atlas-bt/internal/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Portfolio tracks cash and long positions for one backtest run. It is not
// safe for concurrent use; a run's loop is its only writer.
type Portfolio struct {
	cash      decimal.Decimal
	positions map[string]*Position
	logger    *zap.Logger
}

// Option configures a Portfolio.
type Option func(*Portfolio)

// WithLogger sets the logger used for partial fills and rejections.
func WithLogger(l *zap.Logger) Option {
	return func(p *Portfolio) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a portfolio holding only cash.
func New(cash decimal.Decimal, opts ...Option) *Portfolio {
	p := &Portfolio{
		cash:      cash,
		positions: make(map[string]*Position),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cash returns the cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	return p.cash
}

// Position returns a copy of the holding for symbol, zero-quantity if none.
func (p *Portfolio) Position(symbol string) Position {
	if pos, ok := p.positions[symbol]; ok {
		return *pos
	}
	return Position{Symbol: symbol}
}

// Symbols returns held symbols in lexical order.
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.positions))
	for s := range p.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a deep copy of the current state.
func (p *Portfolio) Snapshot() Snapshot {
	positions := make(map[string]Position, len(p.positions))
	for s, pos := range p.positions {
		positions[s] = *pos
	}
	return Snapshot{Cash: p.cash, Positions: positions}
}

// price resolves a valuation price, falling back to the position's last
// known price when prices has none for it.
func (p *Portfolio) price(pos *Position, prices Prices) (decimal.Decimal, bool) {
	if px, ok := prices.Get(pos.Symbol); ok {
		return px, true
	}
	if pos.LastPrice.IsPositive() {
		return pos.LastPrice, true
	}
	return decimal.Zero, false
}

// MarkToMarket returns cash plus every position valued at prices, or at
// its last known price when prices lacks it. It does not modify state.
func (p *Portfolio) MarkToMarket(prices Prices) decimal.Decimal {
	total := p.cash
	for _, pos := range p.positions {
		if px, ok := p.price(pos, prices); ok {
			total = total.Add(pos.MarketValue(px))
		}
	}
	return total
}

// Revalue records prices as the latest known price of each held symbol
// present in prices. Quantities and cash are untouched.
func (p *Portfolio) Revalue(prices Prices) {
	for _, pos := range p.positions {
		if px, ok := prices.Get(pos.Symbol); ok {
			pos.LastPrice = px
		}
	}
}

type pending struct {
	order core.Order
	price decimal.Decimal
	delta int64
}

// ApplyTargetWeights executes orders at prices, which must be the
// execution-date prices. Every target is sized against the account value
// before any trade in the batch. Sells run before buys, each group in
// symbol order. Buys that cannot be fully funded are cut to the largest
// affordable quantity; cash never goes negative.
func (p *Portfolio) ApplyTargetWeights(orders []core.Order, prices Prices) ExecutionReport {
	total := p.MarkToMarket(prices)
	report := ExecutionReport{ValueBefore: total}

	latest := make(map[string]core.Order, len(orders))
	for _, o := range orders {
		if _, dup := latest[o.Symbol]; dup {
			p.logger.Debug("duplicate order replaced", zap.String("symbol", o.Symbol))
		}
		latest[o.Symbol] = o
	}
	symbols := make([]string, 0, len(latest))
	for s := range latest {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var sells, buys []pending
	for _, symbol := range symbols {
		order := latest[symbol]
		order.Action = ""

		if err := order.Validate(); err != nil {
			p.reject(&report, order, err)
			continue
		}
		price, ok := prices.Get(symbol)
		if !ok {
			p.reject(&report, order, core.WrapError(core.ErrNoPrice, fmt.Errorf("%s", symbol)))
			continue
		}

		action, delta := Translate(order, p.Position(symbol).Quantity, price, total)
		order.Action = action
		report.Orders = append(report.Orders, order)

		switch {
		case delta < 0:
			sells = append(sells, pending{order: order, price: price, delta: delta})
		case delta > 0:
			buys = append(buys, pending{order: order, price: price, delta: delta})
		}
	}

	for _, s := range sells {
		report.Trades = append(report.Trades, p.sell(s))
	}
	for _, b := range buys {
		trade, err := p.buy(b)
		if err != nil {
			p.reject(&report, b.order, err)
			continue
		}
		report.Trades = append(report.Trades, trade)
	}

	return report
}

func (p *Portfolio) reject(report *ExecutionReport, order core.Order, err error) {
	p.logger.Warn("order rejected",
		zap.String("symbol", order.Symbol),
		zap.Float64("target_weight", order.TargetWeight),
		zap.Error(err),
	)
	report.Rejected = append(report.Rejected, Rejection{Order: order, Err: err})
}

func (p *Portfolio) sell(s pending) Trade {
	pos := p.positions[s.order.Symbol]
	qty := -s.delta
	if qty > pos.Quantity {
		qty = pos.Quantity
	}

	shares := decimal.NewFromInt(qty)
	proceeds := s.price.Mul(shares)

	// realized P&L = (fill_price - avg_cost) * filled_qty
	realized := s.price.Sub(pos.AvgCost).Mul(shares)
	pos.RealizedPL = pos.RealizedPL.Add(realized)
	pos.Quantity -= qty
	pos.LastPrice = s.price
	p.cash = p.cash.Add(proceeds)

	if pos.Quantity == 0 {
		delete(p.positions, pos.Symbol)
	}

	return Trade{
		Order:     s.order,
		Side:      SideSell,
		Requested: -s.delta,
		Quantity:  qty,
		Price:     s.price,
		Amount:    proceeds,

		RealizedPL: realized,
	}
}

func (p *Portfolio) buy(b pending) (Trade, error) {
	qty := b.delta
	partial := false

	if cost := b.price.Mul(decimal.NewFromInt(qty)); cost.GreaterThan(p.cash) {
		affordable := p.cash.Div(b.price).Truncate(0).IntPart()
		if affordable <= 0 {
			return Trade{}, core.WrapError(core.ErrInsufficientCash,
				fmt.Errorf("%s: %d shares at %s, cash %s", b.order.Symbol, qty, b.price.StringFixed(2), p.cash.StringFixed(2)))
		}
		p.logger.Warn("partial fill",
			zap.String("symbol", b.order.Symbol),
			zap.Int64("requested", qty),
			zap.Int64("filled", affordable),
			zap.String("cash", p.cash.StringFixed(2)),
		)
		qty = affordable
		partial = true
	}

	shares := decimal.NewFromInt(qty)
	cost := b.price.Mul(shares)

	pos, ok := p.positions[b.order.Symbol]
	if !ok {
		pos = &Position{Symbol: b.order.Symbol}
		p.positions[b.order.Symbol] = pos
	}

	// new avg cost = (old_cost * old_qty + fill_price * fill_qty) / (old_qty + fill_qty)
	totalCost := pos.CostBasis().Add(cost)
	pos.Quantity += qty
	pos.AvgCost = totalCost.Div(decimal.NewFromInt(pos.Quantity))
	pos.LastPrice = b.price
	p.cash = p.cash.Sub(cost)

	return Trade{
		Order:     b.order,
		Side:      SideBuy,
		Requested: b.delta,
		Quantity:  qty,
		Price:     b.price,
		Amount:    cost,
		Partial:   partial,
	}, nil
}
