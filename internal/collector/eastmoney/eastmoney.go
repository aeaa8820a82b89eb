package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/atlas-bt/internal/collector"
	"github.com/newthinker/atlas-bt/internal/core"
)

const (
	defaultBaseURL = "https://push2his.eastmoney.com"
	historyPath    = "/api/qt/stock/kline/get"
	defaultTimeout = 10 * time.Second

	klineDaily     = "101"
	adjustForward  = "1" // qfq
	marketShanghai = "1"
	marketShenzhen = "0"
)

// Eastmoney implements the Eastmoney collector for A-shares and indices
type Eastmoney struct {
	client  *http.Client
	baseURL string
}

// New creates a new Eastmoney collector
func New() *Eastmoney {
	return &Eastmoney{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: defaultBaseURL,
	}
}

func (e *Eastmoney) Name() string {
	return "eastmoney"
}

func (e *Eastmoney) SupportedMarkets() []core.Market {
	return []core.Market{core.MarketCNA}
}

func (e *Eastmoney) Init(cfg collector.Config) error {
	if cfg.BaseURL != "" {
		if _, err := url.Parse(cfg.BaseURL); err != nil {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("eastmoney base url: %w", err))
		}
		e.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		e.client.Timeout = cfg.Timeout
	}
	return nil
}

// secid converts a symbol to Eastmoney's "market.code" form.
// Accepted forms: 600519.SH, 000001.SZ, sh000001, sz399001 and bare
// six-digit stock codes, where 6xxxxx and 9xxxxx trade in Shanghai.
func secid(symbol string) (string, error) {
	s := strings.TrimSpace(symbol)
	lower := strings.ToLower(s)

	var code, market string
	switch {
	case strings.HasSuffix(lower, ".sh"):
		code, market = s[:len(s)-3], marketShanghai
	case strings.HasSuffix(lower, ".sz"):
		code, market = s[:len(s)-3], marketShenzhen
	case strings.HasPrefix(lower, "sh"):
		code, market = s[2:], marketShanghai
	case strings.HasPrefix(lower, "sz"):
		code, market = s[2:], marketShenzhen
	default:
		code = s
		market = marketShenzhen
		if strings.HasPrefix(code, "6") || strings.HasPrefix(code, "9") {
			market = marketShanghai
		}
	}

	if len(code) != 6 {
		return "", core.WrapError(core.ErrSymbolNotFound, fmt.Errorf("unrecognized symbol %q", symbol))
	}
	if _, err := strconv.Atoi(code); err != nil {
		return "", core.WrapError(core.ErrSymbolNotFound, fmt.Errorf("unrecognized symbol %q", symbol))
	}
	return market + "." + code, nil
}

// FetchHistory fetches forward-adjusted daily bars
func (e *Eastmoney) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.OHLCV, error) {
	id, err := secid(symbol)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("secid", id)
	q.Set("klt", klineDaily)
	q.Set("fqt", adjustForward)
	q.Set("beg", start.Format("20060102"))
	q.Set("end", end.Format("20060102"))
	q.Set("fields1", "f1,f2,f3,f4,f5,f6")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+historyPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching history: status %d", resp.StatusCode)
	}

	var result historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if result.Data == nil || len(result.Data.Klines) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no history for symbol: %s", symbol))
	}

	data := make([]core.OHLCV, 0, len(result.Data.Klines))
	for _, line := range result.Data.Klines {
		bar, err := parseKline(symbol, line)
		if err != nil {
			return nil, err
		}
		data = append(data, bar)
	}

	return data, nil
}

// parseKline reads "date,open,close,high,low,volume".
func parseKline(symbol, line string) (core.OHLCV, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return core.OHLCV{}, core.WrapError(core.ErrInvalidSeries, fmt.Errorf("%s: malformed kline %q", symbol, line))
	}

	t, err := time.Parse("2006-01-02", fields[0])
	if err != nil {
		return core.OHLCV{}, core.WrapError(core.ErrInvalidSeries, fmt.Errorf("%s: bad date %q", symbol, fields[0]))
	}

	var prices [4]float64
	for i := range prices {
		prices[i], err = strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return core.OHLCV{}, core.WrapError(core.ErrInvalidSeries, fmt.Errorf("%s %s: bad price %q", symbol, fields[0], fields[i+1]))
		}
	}
	volume, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return core.OHLCV{}, core.WrapError(core.ErrInvalidSeries, fmt.Errorf("%s %s: bad volume %q", symbol, fields[0], fields[5]))
	}

	return core.OHLCV{
		Symbol:   symbol,
		Interval: "1d",
		Open:     prices[0],
		Close:    prices[1],
		High:     prices[2],
		Low:      prices[3],
		Volume:   int64(volume),
		Time:     t,
	}, nil
}

// Response types
type historyResponse struct {
	Data *historyData `json:"data"`
}

type historyData struct {
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Klines []string `json:"klines"`
}
