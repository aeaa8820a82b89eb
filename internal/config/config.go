package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/newthinker/atlas-bt/internal/core"
	"github.com/spf13/viper"
)

// DateLayout is the format of backtest start and end dates.
const DateLayout = "2006-01-02"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Data     DataConfig     `mapstructure:"data"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Output   OutputConfig   `mapstructure:"output"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`  // debug, info, warn, error
	Format      string `mapstructure:"format"` // console or json
	Development bool   `mapstructure:"development"`
}

// DataConfig selects where price history comes from.
type DataConfig struct {
	Source      string          `mapstructure:"source"` // "eastmoney" or "csv"
	CSVDir      string          `mapstructure:"csv_dir"`
	Eastmoney   EastmoneyConfig `mapstructure:"eastmoney"`
	Concurrency int             `mapstructure:"concurrency"`
	WarmupDays  int             `mapstructure:"warmup_days"` // calendar days fetched before start
}

type EastmoneyConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type BacktestConfig struct {
	Start          string  `mapstructure:"start"`
	End            string  `mapstructure:"end"`
	IndexSymbol    string  `mapstructure:"index_symbol"`
	InitialCapital float64 `mapstructure:"initial_capital"`
	Lookback       int     `mapstructure:"lookback"`
}

// Period parses the start and end dates.
func (b BacktestConfig) Period() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, b.Start)
	if err != nil {
		return time.Time{}, time.Time{}, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("backtest.start %q: expected YYYY-MM-DD", b.Start))
	}
	end, err := time.Parse(DateLayout, b.End)
	if err != nil {
		return time.Time{}, time.Time{}, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("backtest.end %q: expected YYYY-MM-DD", b.End))
	}
	return start, end, nil
}

type StrategyConfig struct {
	Name   string         `mapstructure:"name"`
	Params map[string]any `mapstructure:"params"`
}

type OutputConfig struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Textfile string `mapstructure:"textfile"` // Prometheus text format dump written after a run
}

// Load reads configuration from file on top of Defaults. An empty path
// loads defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	// Support environment variable overrides, e.g. ATLASBT_BACKTEST_START
	v.SetEnvPrefix("ATLASBT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.development", d.Log.Development)

	v.SetDefault("data.source", d.Data.Source)
	v.SetDefault("data.csv_dir", d.Data.CSVDir)
	v.SetDefault("data.eastmoney.base_url", d.Data.Eastmoney.BaseURL)
	v.SetDefault("data.eastmoney.timeout", d.Data.Eastmoney.Timeout)
	v.SetDefault("data.concurrency", d.Data.Concurrency)
	v.SetDefault("data.warmup_days", d.Data.WarmupDays)

	v.SetDefault("backtest.start", d.Backtest.Start)
	v.SetDefault("backtest.end", d.Backtest.End)
	v.SetDefault("backtest.index_symbol", d.Backtest.IndexSymbol)
	v.SetDefault("backtest.initial_capital", d.Backtest.InitialCapital)
	v.SetDefault("backtest.lookback", d.Backtest.Lookback)

	v.SetDefault("strategy.name", d.Strategy.Name)

	v.SetDefault("output.type", d.Output.Type)
	v.SetDefault("output.path", d.Output.Path)
	v.SetDefault("output.s3.bucket", d.Output.S3.Bucket)
	v.SetDefault("output.s3.endpoint", d.Output.S3.Endpoint)
	v.SetDefault("output.s3.region", d.Output.S3.Region)
	v.SetDefault("output.s3.access_key", d.Output.S3.AccessKey)
	v.SetDefault("output.s3.secret_key", d.Output.S3.SecretKey)
	v.SetDefault("output.s3.prefix", d.Output.S3.Prefix)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Data: DataConfig{
			Source: "eastmoney",
			Eastmoney: EastmoneyConfig{
				Timeout: 10 * time.Second,
			},
			Concurrency: 4,
			WarmupDays:  120,
		},
		Backtest: BacktestConfig{
			IndexSymbol:    "sh000001",
			InitialCapital: 1_000_000,
			Lookback:       60,
		},
		Strategy: StrategyConfig{
			Name: "momentum",
		},
		Output: OutputConfig{
			Type: "localfs",
			Path: "results",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Backtest validation
	start, end, err := c.Backtest.Period()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("backtest.end %s is before start %s", c.Backtest.End, c.Backtest.Start))
	}
	if c.Backtest.IndexSymbol == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("backtest.index_symbol is required"))
	}
	if c.Backtest.InitialCapital < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("initial_capital cannot be negative, got %f", c.Backtest.InitialCapital))
	}
	if c.Backtest.Lookback < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("lookback must be at least 1, got %d", c.Backtest.Lookback))
	}

	// Data validation
	switch c.Data.Source {
	case "eastmoney":
	case "csv":
		if c.Data.CSVDir == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("data.csv_dir required when source is csv"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("data.source must be eastmoney or csv, got %q", c.Data.Source))
	}
	if c.Data.Concurrency < 0 || c.Data.WarmupDays < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("data.concurrency and data.warmup_days cannot be negative"))
	}

	if c.Strategy.Name == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("strategy.name is required"))
	}

	// Output validation
	switch c.Output.Type {
	case "localfs":
	case "s3":
		if c.Output.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("output.s3.bucket required when output type is s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("output.type must be localfs or s3, got %q", c.Output.Type))
	}

	return nil
}
