package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/futuresbot/audit"
	"github.com/rustyeddy/futuresbot/bot"
	"github.com/rustyeddy/futuresbot/logger"
	"github.com/rustyeddy/futuresbot/reconcile"
	"github.com/rustyeddy/futuresbot/risk"
	"github.com/rustyeddy/futuresbot/store"
	"github.com/rustyeddy/futuresbot/strategies"
)

// Environment variables read by ApplyEnv.
const (
	EnvAccessToken  = "CTRADER_ACCESS_TOKEN"
	EnvClientID     = "CTRADER_CLIENT_ID"
	EnvClientSecret = "CTRADER_CLIENT_SECRET"
)

// ErrMissingCredentials is returned by RequireCredentials in live mode.
var ErrMissingCredentials = errors.New("missing broker credentials")

const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config represents the complete bot configuration
type Config struct {
	Broker         BrokerConfig         `json:"broker" yaml:"broker"`
	Store          StoreConfig          `json:"store" yaml:"store"`
	Reconciliation ReconciliationConfig `json:"reconciliation" yaml:"reconciliation"`
	CircuitBreaker risk.Config          `json:"circuit_breaker" yaml:"circuit_breaker"`
	Trading        TradingConfig        `json:"trading" yaml:"trading"`
	Audit          AuditConfig          `json:"audit" yaml:"audit"`
	Logging        logger.Config        `json:"logging" yaml:"logging"`
	Metrics        ListenConfig         `json:"metrics" yaml:"metrics"`
	Status         ListenConfig         `json:"status" yaml:"status"`

	// Credentials come from the environment only.
	Credentials Credentials `json:"-" yaml:"-"`
}

// BrokerConfig describes the broker session
type BrokerConfig struct {
	Mode         string   `json:"mode" yaml:"mode"` // "paper" or "live"
	Host         string   `json:"host,omitempty" yaml:"host,omitempty"`
	AccountID    string   `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	Symbols      []string `json:"symbols" yaml:"symbols"`
	ContractSize float64  `json:"contract_size" yaml:"contract_size"`
	VolumeStep   float64  `json:"volume_step" yaml:"volume_step"`

	// ReplayFiles maps a symbol to a bar file fed to the paper broker.
	ReplayFiles map[string]string `json:"replay_files,omitempty" yaml:"replay_files,omitempty"`
}

type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// ReconciliationConfig mirrors reconcile.Config with durations as strings,
// e.g. "10s".
type ReconciliationConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	DryRun          bool    `json:"dry_run" yaml:"dry_run"`
	QueryTimeout    string  `json:"query_timeout" yaml:"query_timeout"`
	MaxFailures     int     `json:"max_failures" yaml:"max_failures"`
	PriceTolerance  float64 `json:"price_tolerance" yaml:"price_tolerance"`
	VolumeTolerance float64 `json:"volume_tolerance" yaml:"volume_tolerance"`
}

// TradingConfig contains the trading cycle parameters
type TradingConfig struct {
	Strategy                 string  `json:"strategy" yaml:"strategy"`
	Interval                 string  `json:"interval" yaml:"interval"` // e.g. "1m"
	MaxOpenPositions         int     `json:"max_open_positions" yaml:"max_open_positions"`
	RiskPercent              float64 `json:"risk_percent" yaml:"risk_percent"`
	StopDistance             float64 `json:"stop_distance" yaml:"stop_distance"`
	VolatilityStopMultiplier float64 `json:"volatility_stop_multiplier" yaml:"volatility_stop_multiplier"`
	ATRPeriod                int     `json:"atr_period" yaml:"atr_period"`
	CandleLookback           int     `json:"candle_lookback" yaml:"candle_lookback"`
	StartingEquity           float64 `json:"starting_equity" yaml:"starting_equity"`
	HaltAfterStoreErrors     int     `json:"halt_after_store_errors" yaml:"halt_after_store_errors"`
}

// AuditConfig enables the Redis stream mirror of the audit trail. The
// store always keeps its own copy.
type AuditConfig struct {
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	Stream        string `json:"stream,omitempty" yaml:"stream,omitempty"`
	MaxLen        int64  `json:"max_len,omitempty" yaml:"max_len,omitempty"` // 0 keeps every event
}

// ListenConfig is an HTTP listen address; empty disables the listener.
type ListenConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type Credentials struct {
	AccessToken  string
	ClientID     string
	ClientSecret string
}

// LoadFromFile loads configuration from a file, applies environment
// overrides and validates. Keys missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads path when set, otherwise returns the defaults with
// environment overrides applied.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromFile(path)
	}
	cfg := Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overlays the store path and broker credentials from the
// environment.
func (c *Config) ApplyEnv() {
	c.Store.Path = store.ResolvePath(c.Store.Path)
	if v, ok := os.LookupEnv(EnvAccessToken); ok {
		c.Credentials.AccessToken = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvClientID); ok {
		c.Credentials.ClientID = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvClientSecret); ok {
		c.Credentials.ClientSecret = strings.TrimSpace(v)
	}
}

// RequireCredentials fails in live mode when the access token is absent.
// Paper mode needs none.
func (c *Config) RequireCredentials() error {
	if c.Broker.Mode != ModeLive {
		return nil
	}
	if c.Credentials.AccessToken == "" {
		return fmt.Errorf("%w: %s is not set", ErrMissingCredentials, EnvAccessToken)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Broker.Mode != ModePaper && c.Broker.Mode != ModeLive {
		return fmt.Errorf("broker.mode must be 'paper' or 'live', got %q", c.Broker.Mode)
	}
	if c.Broker.Mode == ModeLive && (c.Broker.Host == "" || c.Broker.AccountID == "") {
		return fmt.Errorf("broker.host and broker.account_id are required in live mode")
	}
	if len(c.Broker.Symbols) == 0 {
		return fmt.Errorf("broker.symbols must not be empty")
	}
	if len(c.Broker.ReplayFiles) > 0 && c.Broker.Mode != ModePaper {
		return fmt.Errorf("broker.replay_files is only valid in paper mode")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if _, err := c.ReconcileConfig(); err != nil {
		return err
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		return err
	}
	if _, err := c.BotConfig(); err != nil {
		return err
	}
	if _, err := strategies.ByName(c.Trading.Strategy); err != nil {
		return fmt.Errorf("trading.strategy: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}

// ReconcileConfig converts the reconciliation section.
func (c *Config) ReconcileConfig() (reconcile.Config, error) {
	r := c.Reconciliation
	timeout, err := parseDuration("reconciliation.query_timeout", r.QueryTimeout)
	if err != nil {
		return reconcile.Config{}, err
	}
	out := reconcile.Config{
		Enabled:         r.Enabled,
		DryRun:          r.DryRun,
		QueryTimeout:    timeout,
		MaxFailures:     r.MaxFailures,
		PriceTolerance:  r.PriceTolerance,
		VolumeTolerance: r.VolumeTolerance,
	}
	return out, out.Validate()
}

// BotConfig converts the trading and broker sections.
func (c *Config) BotConfig() (bot.Config, error) {
	t := c.Trading
	interval, err := parseDuration("trading.interval", t.Interval)
	if err != nil {
		return bot.Config{}, err
	}
	out := bot.Config{
		Symbols:                  append([]string(nil), c.Broker.Symbols...),
		ContractSize:             c.Broker.ContractSize,
		VolumeStep:               c.Broker.VolumeStep,
		Interval:                 interval,
		MaxOpenPositions:         t.MaxOpenPositions,
		RiskPercent:              t.RiskPercent,
		StopDistance:             t.StopDistance,
		VolatilityStopMultiplier: t.VolatilityStopMultiplier,
		ATRPeriod:                t.ATRPeriod,
		CandleLookback:           t.CandleLookback,
		StartingEquity:           t.StartingEquity,
		HaltAfterStoreErrors:     t.HaltAfterStoreErrors,
	}
	return out, out.Validate()
}

// RedisConfig returns the Redis audit sink settings and whether the sink
// is enabled.
func (c *Config) RedisConfig() (audit.RedisConfig, bool) {
	a := c.Audit
	return audit.RedisConfig{
		Addr:     a.RedisAddr,
		Password: a.RedisPassword,
		DB:       a.RedisDB,
		Stream:   a.Stream,
		MaxLen:   a.MaxLen,
	}, a.RedisAddr != ""
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	rc := reconcile.DefaultConfig()
	bc := bot.DefaultConfig()
	return &Config{
		Broker: BrokerConfig{
			Mode:         ModePaper,
			Symbols:      []string{"ES"},
			ContractSize: 50,
			VolumeStep:   1,
		},
		Store: StoreConfig{Path: store.DefaultPath},
		Reconciliation: ReconciliationConfig{
			Enabled:      rc.Enabled,
			QueryTimeout: rc.QueryTimeout.String(),
			MaxFailures:  rc.MaxFailures,
		},
		CircuitBreaker: risk.DefaultConfig(),
		Trading: TradingConfig{
			Strategy:                 "noop",
			Interval:                 bc.Interval.String(),
			MaxOpenPositions:         bc.MaxOpenPositions,
			RiskPercent:              bc.RiskPercent,
			StopDistance:             bc.StopDistance,
			VolatilityStopMultiplier: bc.VolatilityStopMultiplier,
			ATRPeriod:                bc.ATRPeriod,
			CandleLookback:           bc.CandleLookback,
			StartingEquity:           bc.StartingEquity,
			HaltAfterStoreErrors:     bc.HaltAfterStoreErrors,
		},
		Audit:   AuditConfig{Stream: "futuresbot:audit"},
		Logging: logger.DefaultConfig(),
		Metrics: ListenConfig{Addr: ":9102"},
		Status:  ListenConfig{Addr: "127.0.0.1:8081"},
	}
}
