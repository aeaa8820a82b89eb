package collector

import (
	"context"
	"time"

	"github.com/newthinker/atlas-bt/internal/core"
)

// Config holds collector configuration
type Config struct {
	BaseURL string        // HTTP collectors; empty keeps the built-in endpoint
	Timeout time.Duration // per-request timeout for HTTP collectors
	Dir     string        // file-backed collectors
	Extra   map[string]any
}

// Collector defines the interface for daily price-history sources.
// A Collector satisfies market.Provider.
type Collector interface {
	// Metadata
	Name() string
	SupportedMarkets() []core.Market

	// Lifecycle
	Init(cfg Config) error

	// FetchHistory returns daily bars for symbol within [start, end],
	// oldest first.
	FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.OHLCV, error)
}
