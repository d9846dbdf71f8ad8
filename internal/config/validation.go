package config

import (
	"fmt"
	"strings"
)

// validate checks cross-field constraints after defaults are applied.
func validate(c *Config) error {
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Pipeline.validate(); err != nil {
		return err
	}
	if err := c.Optimizer.validate(); err != nil {
		return err
	}
	if err := c.Gate.validate(); err != nil {
		return err
	}
	if err := c.Monitor.validate(); err != nil {
		return err
	}
	if err := c.Advisor.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("store.max_retries must be >= 1")
	}
	if s.BackoffBaseMS < 0 || s.BackoffMaxMS < s.BackoffBaseMS {
		return fmt.Errorf("store.backoff_max_ms must be >= store.backoff_base_ms >= 0")
	}
	switch s.LockBackend {
	case "sqlite":
	case "redis":
		if strings.TrimSpace(s.Redis.Addr) == "" {
			return fmt.Errorf("store.redis.addr is required when lock_backend=redis")
		}
	default:
		return fmt.Errorf("store.lock_backend must be sqlite or redis, got %q", s.LockBackend)
	}
	return nil
}

func (p *PipelineConfig) validate() error {
	if p.RiskCeilingPct <= 0 {
		return fmt.Errorf("pipeline.risk_ceiling_pct must be > 0")
	}
	if p.DefaultThreshold <= 0 || p.DefaultThreshold > 100 {
		return fmt.Errorf("pipeline.default_threshold must be within (0,100]")
	}
	for asset, v := range p.AssetThresholds {
		if v <= 0 || v > 100 {
			return fmt.Errorf("pipeline.asset_thresholds.%s must be within (0,100]", asset)
		}
	}
	if p.CorrelationVeto < 0.80 || p.CorrelationVeto > 1.05 {
		return fmt.Errorf("pipeline.correlation_veto must be within [0.80,1.05]")
	}
	if p.AdjustmentCap <= 0 {
		return fmt.Errorf("pipeline.adjustment_cap must be > 0")
	}
	if p.VolatilitySoft >= p.VolatilityHard {
		return fmt.Errorf("pipeline.volatility_soft must be < pipeline.volatility_hard")
	}
	if p.HardThreshold <= 0 || p.HardThreshold > 100 {
		return fmt.Errorf("pipeline.hard_threshold must be within (0,100]")
	}
	return nil
}

func (o *OptimizerConfig) validate() error {
	if o.LearningRate <= 0 || o.LearningRate >= 1 {
		return fmt.Errorf("optimizer.learning_rate must be within (0,1)")
	}
	if o.MinWeight <= 0 || o.MinWeight >= o.MaxWeight {
		return fmt.Errorf("optimizer.min_weight must be > 0 and < optimizer.max_weight")
	}
	if o.MaxWeight > o.TotalWeight {
		return fmt.Errorf("optimizer.max_weight must be <= optimizer.total_weight")
	}
	if o.MinTrades < 0 {
		return fmt.Errorf("optimizer.min_trades must be >= 0")
	}
	return nil
}

func (g *GateConfig) validate() error {
	if g.LockTTLSeconds <= g.VenueTimeoutSeconds {
		return fmt.Errorf("gate.lock_ttl_seconds must exceed gate.venue_timeout_seconds")
	}
	return nil
}

func (m *MonitorConfig) validate() error {
	if m.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be > 0")
	}
	if m.CloseRetries < 1 {
		return fmt.Errorf("monitor.close_retries must be >= 1")
	}
	return nil
}

func (a *AdvisorConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	if a.APIURL == "" {
		return fmt.Errorf("advisor.api_url is required when advisor.enabled=true")
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("advisor.model cannot be empty")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.AccountEquity <= 0 {
		return fmt.Errorf("trading.account_equity must be > 0")
	}
	if t.DefaultSize <= 0 {
		return fmt.Errorf("trading.default_size must be > 0")
	}
	if t.Venue != "paper" {
		return fmt.Errorf("trading.venue %q is not supported (available: paper)", t.Venue)
	}
	return nil
}
