package config

import (
	"strings"
)

const (
	defaultAppEnv       = "dev"
	defaultAppLogLevel  = "info"
	defaultAppLogFormat = "text"
	defaultAppHTTPAddr  = ":9991"
	defaultAppLogPath   = "data/logs/booner.log"

	defaultStorePath        = "data/booner.db"
	defaultStoreMaxRetries  = 5
	defaultStoreBackoffBase = 25
	defaultStoreBackoffMax  = 1000
	defaultStoreBusyTimeout = 5000
	defaultLockBackend      = "sqlite"
	defaultRedisPrefix      = "booner:lock:"

	defaultRiskCeilingPct   = 6
	defaultThreshold        = 65
	defaultCorrelationVeto  = 0.90
	defaultAdjustmentCap    = 5
	defaultVolatilitySoft   = 2.0
	defaultVolatilityHard   = 2.5
	defaultHardThreshold    = 90
	defaultSoftIncrement    = 10
	defaultAdvisorTimeout   = 8
	defaultTrendCacheSecond = 300

	defaultLearningRate = 0.05
	defaultMinWeight    = 5
	defaultMaxWeight    = 60
	defaultTotalWeight  = 100
	defaultMinTrades    = 3

	defaultCooldownSeconds = 300
	defaultLockTTLSeconds  = 360
	defaultVenueTimeout    = 15

	defaultMonitorInterval     = 10
	defaultCloseRetries        = 3
	defaultCloseBackoffMS      = 500
	defaultMarketClosedLogSecs = 3600

	defaultAdvisorModel     = "gpt-4o-mini"
	defaultAdvisorCallTO    = 20
	defaultAdvisorRetries   = 2
	defaultAdvisorFailures  = 3
	defaultAdvisorOpenSecs  = 120
	defaultStrategySettings = "configs/strategies.yaml"

	defaultAccountEquity = 10000
	defaultCurrency      = "USD"
	defaultTradeSize     = 1
	defaultVenue         = "paper"
)

// applyDefaults fills every section with defaults for fields the file left unset.
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Pipeline.applyDefaults(keys)
	c.Optimizer.applyDefaults(keys)
	c.Gate.applyDefaults(keys)
	c.Monitor.applyDefaults(keys)
	c.Advisor.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		intFieldDefault("store.max_retries", &s.MaxRetries, defaultStoreMaxRetries),
		intFieldDefault("store.backoff_base_ms", &s.BackoffBaseMS, defaultStoreBackoffBase),
		intFieldDefault("store.backoff_max_ms", &s.BackoffMaxMS, defaultStoreBackoffMax),
		intFieldDefault("store.busy_timeout_ms", &s.BusyTimeoutMS, defaultStoreBusyTimeout),
		stringFieldDefault("store.lock_backend", &s.LockBackend, defaultLockBackend),
		stringFieldDefault("store.redis.prefix", &s.Redis.Prefix, defaultRedisPrefix),
	)
	s.LockBackend = strings.ToLower(strings.TrimSpace(s.LockBackend))
}

func (p *PipelineConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("pipeline.risk_ceiling_pct", &p.RiskCeilingPct, defaultRiskCeilingPct),
		floatFieldDefault("pipeline.default_threshold", &p.DefaultThreshold, defaultThreshold),
		floatFieldDefault("pipeline.correlation_veto", &p.CorrelationVeto, defaultCorrelationVeto),
		floatFieldDefault("pipeline.adjustment_cap", &p.AdjustmentCap, defaultAdjustmentCap),
		floatFieldDefault("pipeline.volatility_soft", &p.VolatilitySoft, defaultVolatilitySoft),
		floatFieldDefault("pipeline.volatility_hard", &p.VolatilityHard, defaultVolatilityHard),
		floatFieldDefault("pipeline.hard_threshold", &p.HardThreshold, defaultHardThreshold),
		floatFieldDefault("pipeline.soft_increment", &p.SoftIncrement, defaultSoftIncrement),
		intFieldDefault("pipeline.advisor_timeout_seconds", &p.AdvisorTimeoutSeconds, defaultAdvisorTimeout),
		intFieldDefault("pipeline.trend_cache_seconds", &p.TrendCacheSeconds, defaultTrendCacheSecond),
	)
	// viper lowercases map keys; assets are upper case everywhere else.
	if len(p.AssetThresholds) > 0 {
		normalized := make(map[string]float64, len(p.AssetThresholds))
		for asset, v := range p.AssetThresholds {
			normalized[strings.ToUpper(strings.TrimSpace(asset))] = v
		}
		p.AssetThresholds = normalized
	}
}

func (o *OptimizerConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("optimizer.learning_rate", &o.LearningRate, defaultLearningRate),
		floatFieldDefault("optimizer.min_weight", &o.MinWeight, defaultMinWeight),
		floatFieldDefault("optimizer.max_weight", &o.MaxWeight, defaultMaxWeight),
		floatFieldDefault("optimizer.total_weight", &o.TotalWeight, defaultTotalWeight),
		intFieldDefault("optimizer.min_trades", &o.MinTrades, defaultMinTrades),
	)
}

func (g *GateConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("gate.cooldown_seconds", &g.CooldownSeconds, defaultCooldownSeconds),
		intFieldDefault("gate.lock_ttl_seconds", &g.LockTTLSeconds, defaultLockTTLSeconds),
		intFieldDefault("gate.venue_timeout_seconds", &g.VenueTimeoutSeconds, defaultVenueTimeout),
	)
}

func (m *MonitorConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("monitor.interval_seconds", &m.IntervalSeconds, defaultMonitorInterval),
		intFieldDefault("monitor.close_retries", &m.CloseRetries, defaultCloseRetries),
		intFieldDefault("monitor.close_backoff_ms", &m.CloseBackoffMS, defaultCloseBackoffMS),
		intFieldDefault("monitor.market_closed_log_seconds", &m.MarketClosedLogSeconds, defaultMarketClosedLogSecs),
	)
}

func (a *AdvisorConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("advisor.enabled", &a.Enabled, false),
		stringFieldDefault("advisor.model", &a.Model, defaultAdvisorModel),
		intFieldDefault("advisor.timeout_seconds", &a.TimeoutSeconds, defaultAdvisorCallTO),
		intFieldDefault("advisor.max_retries", &a.MaxRetries, defaultAdvisorRetries),
		intFieldDefault("advisor.failure_threshold", &a.FailureThreshold, defaultAdvisorFailures),
		intFieldDefault("advisor.open_seconds", &a.OpenSeconds, defaultAdvisorOpenSecs),
	)
	a.APIURL = strings.TrimRight(strings.TrimSpace(a.APIURL), "/")
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.settings_path", &s.SettingsPath, defaultStrategySettings),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("trading.account_equity", &t.AccountEquity, defaultAccountEquity),
		stringFieldDefault("trading.currency", &t.Currency, defaultCurrency),
		floatFieldDefault("trading.default_size", &t.DefaultSize, defaultTradeSize),
		stringFieldDefault("trading.venue", &t.Venue, defaultVenue),
	)
	t.Venue = strings.ToLower(strings.TrimSpace(t.Venue))
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}
