package config

import (
	"strings"
	"time"

	"booner/internal/pkg/retry"
)

// Config is the root of the booner configuration file.
type Config struct {
	App       AppConfig       `toml:"app"`
	Store     StoreConfig     `toml:"store"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Optimizer OptimizerConfig `toml:"optimizer"`
	Gate      GateConfig      `toml:"gate"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Advisor   AdvisorConfig   `toml:"advisor"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Trading   TradingConfig   `toml:"trading"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
}

// StoreConfig selects the SQLite file and the contention retry policy.
type StoreConfig struct {
	Path          string      `toml:"path"`
	MaxRetries    int         `toml:"max_retries"`
	BackoffBaseMS int         `toml:"backoff_base_ms"`
	BackoffMaxMS  int         `toml:"backoff_max_ms"`
	BusyTimeoutMS int         `toml:"busy_timeout_ms"`
	LockBackend   string      `toml:"lock_backend"`
	Redis         RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

func (s StoreConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: s.MaxRetries,
		BaseDelay:   time.Duration(s.BackoffBaseMS) * time.Millisecond,
		MaxDelay:    time.Duration(s.BackoffMaxMS) * time.Millisecond,
		Multiplier:  2,
	}
}

func (s StoreConfig) BusyTimeout() time.Duration {
	return time.Duration(s.BusyTimeoutMS) * time.Millisecond
}

// PipelineConfig holds the thresholds of the confidence stages.
type PipelineConfig struct {
	RiskCeilingPct        float64            `toml:"risk_ceiling_pct"`
	DefaultThreshold      float64            `toml:"default_threshold"`
	AssetThresholds       map[string]float64 `toml:"asset_thresholds"`
	CorrelationVeto       float64            `toml:"correlation_veto"`
	AdjustmentCap         float64            `toml:"adjustment_cap"`
	VolatilitySoft        float64            `toml:"volatility_soft"`
	VolatilityHard        float64            `toml:"volatility_hard"`
	HardThreshold         float64            `toml:"hard_threshold"`
	SoftIncrement         float64            `toml:"soft_increment"`
	AdvisorTimeoutSeconds int                `toml:"advisor_timeout_seconds"`
	TrendCacheSeconds     int                `toml:"trend_cache_seconds"`
}

// ThresholdFor returns the asset-specific approval threshold.
func (p PipelineConfig) ThresholdFor(asset string) float64 {
	if v, ok := p.AssetThresholds[strings.ToUpper(strings.TrimSpace(asset))]; ok && v > 0 {
		return v
	}
	return p.DefaultThreshold
}

func (p PipelineConfig) AdvisorTimeout() time.Duration {
	return time.Duration(p.AdvisorTimeoutSeconds) * time.Second
}

func (p PipelineConfig) TrendCacheTTL() time.Duration {
	return time.Duration(p.TrendCacheSeconds) * time.Second
}

type OptimizerConfig struct {
	LearningRate float64 `toml:"learning_rate"`
	MinWeight    float64 `toml:"min_weight"`
	MaxWeight    float64 `toml:"max_weight"`
	TotalWeight  float64 `toml:"total_weight"`
	MinTrades    int     `toml:"min_trades"`
}

type GateConfig struct {
	CooldownSeconds     int `toml:"cooldown_seconds"`
	LockTTLSeconds      int `toml:"lock_ttl_seconds"`
	VenueTimeoutSeconds int `toml:"venue_timeout_seconds"`
}

func (g GateConfig) Cooldown() time.Duration {
	return time.Duration(g.CooldownSeconds) * time.Second
}

func (g GateConfig) LockTTL() time.Duration {
	return time.Duration(g.LockTTLSeconds) * time.Second
}

func (g GateConfig) VenueTimeout() time.Duration {
	return time.Duration(g.VenueTimeoutSeconds) * time.Second
}

type MonitorConfig struct {
	IntervalSeconds        int `toml:"interval_seconds"`
	CloseRetries           int `toml:"close_retries"`
	CloseBackoffMS         int `toml:"close_backoff_ms"`
	MarketClosedLogSeconds int `toml:"market_closed_log_seconds"`
}

func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

func (m MonitorConfig) CloseRetryPolicy() retry.Policy {
	base := time.Duration(m.CloseBackoffMS) * time.Millisecond
	return retry.Policy{
		MaxAttempts: m.CloseRetries,
		BaseDelay:   base,
		MaxDelay:    8 * base,
		Multiplier:  2,
	}
}

func (m MonitorConfig) MarketClosedLogWindow() time.Duration {
	return time.Duration(m.MarketClosedLogSeconds) * time.Second
}

// AdvisorConfig configures the optional OpenAI-compatible reasoning endpoint.
type AdvisorConfig struct {
	Enabled          bool   `toml:"enabled"`
	APIURL           string `toml:"api_url"`
	APIKey           string `toml:"api_key"`
	Model            string `toml:"model"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	MaxRetries       int    `toml:"max_retries"`
	FailureThreshold int    `toml:"failure_threshold"`
	OpenSeconds      int    `toml:"open_seconds"`
}

func (a AdvisorConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func (a AdvisorConfig) OpenDuration() time.Duration {
	return time.Duration(a.OpenSeconds) * time.Second
}

type StrategyConfig struct {
	SettingsPath string `toml:"settings_path"`
}

// TradingConfig describes the account the engine trades for.
type TradingConfig struct {
	AccountEquity float64 `toml:"account_equity"`
	Currency      string  `toml:"currency"`
	DefaultSize   float64 `toml:"default_size"`
	Venue         string  `toml:"venue"`
}

// keySet tracks the field paths explicitly set in the config file.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes how one field receives its default.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
