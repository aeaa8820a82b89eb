package strategy

import (
	"fmt"
	"strings"

	"github.com/newthinker/atlas-bt/internal/core"
)

// Config holds strategy configuration
type Config struct {
	Params map[string]any
}

// Int reads an integer parameter. Config files decode numbers as int or
// float64 depending on the source, so both are accepted.
func (c Config) Int(key string) (int, bool) {
	switch v := c.Params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Float reads a float parameter.
func (c Config) Float(key string) (float64, bool) {
	switch v := c.Params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// String reads a string parameter.
func (c Config) String(key string) (string, bool) {
	v, ok := c.Params[key].(string)
	return v, ok
}

// Strings reads a list parameter, accepting a comma-separated string too.
func (c Config) Strings(key string) ([]string, bool) {
	switch v := c.Params[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

// DataRequirements specifies what data a strategy needs preloaded
type DataRequirements struct {
	Symbols      []string // symbols the strategy may ask history for
	PriceHistory int      // bars of history needed on each date
}

// Strategy decides target weights once per trading date. Implementations
// keep their own configuration but must treat the Context as read-only.
type Strategy interface {
	Name() string
	Description() string
	RequiredData() DataRequirements
	Init(cfg Config) error
	OnDate(ctx *Context) ([]core.Order, error)
}
