// Package csvfile serves daily bars from one CSV file per symbol.
package csvfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/newthinker/atlas-bt/internal/collector"
	"github.com/newthinker/atlas-bt/internal/core"
)

var dateLayouts = []string{"2006-01-02", "20060102", "2006/01/02"}

// BarDTO is one row of <dir>/<symbol>.csv.
type BarDTO struct {
	Date   string `csv:"date"`
	Open   string `csv:"open"`
	High   string `csv:"high"`
	Low    string `csv:"low"`
	Close  string `csv:"close"`
	Volume string `csv:"volume"`
}

// ToOHLCV parses the row.
func (d BarDTO) ToOHLCV(symbol string) (core.OHLCV, error) {
	t, err := parseDate(d.Date)
	if err != nil {
		return core.OHLCV{}, err
	}

	var prices [4]float64
	for i, raw := range []string{d.Open, d.High, d.Low, d.Close} {
		prices[i], err = strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return core.OHLCV{}, fmt.Errorf("%s: bad price %q", d.Date, raw)
		}
	}

	var volume float64
	if v := strings.TrimSpace(d.Volume); v != "" {
		if volume, err = strconv.ParseFloat(v, 64); err != nil {
			return core.OHLCV{}, fmt.Errorf("%s: bad volume %q", d.Date, d.Volume)
		}
	}

	return core.OHLCV{
		Symbol:   symbol,
		Interval: "1d",
		Open:     prices[0],
		High:     prices[1],
		Low:      prices[2],
		Close:    prices[3],
		Volume:   int64(volume),
		Time:     t,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad date %q", s)
}

// CSVFile reads history from a directory of CSV files
type CSVFile struct {
	dir string
}

// New creates a CSV collector rooted at dir
func New(dir string) *CSVFile {
	return &CSVFile{dir: dir}
}

func (c *CSVFile) Name() string {
	return "csv"
}

func (c *CSVFile) SupportedMarkets() []core.Market {
	return []core.Market{core.MarketCNA, core.MarketHK, core.MarketUS}
}

func (c *CSVFile) Init(cfg collector.Config) error {
	if cfg.Dir != "" {
		c.dir = cfg.Dir
	}
	if c.dir == "" {
		return core.WrapError(core.ErrConfigMissing, errors.New("csv collector needs a data directory"))
	}
	info, err := os.Stat(c.dir)
	if err != nil {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("csv data directory: %w", err))
	}
	if !info.IsDir() {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("%s is not a directory", c.dir))
	}
	return nil
}

// Path returns the file holding symbol's bars.
func (c *CSVFile) Path(symbol string) string {
	return filepath.Join(c.dir, symbol+".csv")
}

// FetchHistory returns the file's bars within [start, end] sorted by date
func (c *CSVFile) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.OHLCV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(symbol, `/\`) {
		return nil, core.WrapError(core.ErrSymbolNotFound, fmt.Errorf("invalid symbol %q", symbol))
	}

	f, err := os.Open(c.Path(symbol))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.WrapError(core.ErrSymbolNotFound, fmt.Errorf("no csv file for %s", symbol))
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", symbol, err)
	}
	defer f.Close()

	var rows []BarDTO
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, core.WrapError(core.ErrInvalidSeries, fmt.Errorf("%s: %w", symbol, err))
	}

	start, end = core.Date(start), core.Date(end)
	bars := make([]core.OHLCV, 0, len(rows))
	for _, row := range rows {
		bar, err := row.ToOHLCV(symbol)
		if err != nil {
			return nil, core.WrapError(core.ErrInvalidSeries, fmt.Errorf("%s: %w", symbol, err))
		}
		if bar.Time.Before(start) || bar.Time.After(end) {
			continue
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}
