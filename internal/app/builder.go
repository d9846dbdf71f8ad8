package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"booner/internal/analysis/features"
	"booner/internal/config"
	"booner/internal/executor"
	"booner/internal/gateway"
	"booner/internal/gateway/advisor"
	"booner/internal/gateway/venue"
	"booner/internal/metrics"
	"booner/internal/monitor"
	"booner/internal/optimizer"
	"booner/internal/pipeline"
	"booner/internal/risk"
	"booner/internal/store"
	"booner/internal/store/gormstore"
	"booner/internal/store/redislock"
	"booner/internal/strategy"
	"booner/internal/transport/http/api"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type AppBuilder struct {
	cfg *config.Config

	storeFn     func(config.StoreConfig, *metrics.Metrics) (store.Store, error)
	lockTableFn func(context.Context, config.StoreConfig, store.Store) (store.LockTable, error)
	venueFn     func(config.TradingConfig) (venue.Venue, error)
	advisorFn   func(config.AdvisorConfig, *metrics.Metrics) advisor.Advisor
	registryFn  func(string) (*strategy.Registry, error)

	metricsRegistry *prometheus.Registry
}

type AppBuilderOption func(*AppBuilder)

// WithVenue replaces the configured venue.
func WithVenue(v venue.Venue) AppBuilderOption {
	return func(b *AppBuilder) {
		b.venueFn = func(config.TradingConfig) (venue.Venue, error) { return v, nil }
	}
}

func WithAdvisor(a advisor.Advisor) AppBuilderOption {
	return func(b *AppBuilder) {
		b.advisorFn = func(config.AdvisorConfig, *metrics.Metrics) advisor.Advisor { return a }
	}
}

func WithLockTable(locks store.LockTable) AppBuilderOption {
	return func(b *AppBuilder) {
		b.lockTableFn = func(context.Context, config.StoreConfig, store.Store) (store.LockTable, error) {
			return locks, nil
		}
	}
}

func WithMetricsRegistry(reg *prometheus.Registry) AppBuilderOption {
	return func(b *AppBuilder) {
		b.metricsRegistry = reg
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		storeFn:     openStore,
		lockTableFn: buildLockTable,
		venueFn:     gateway.NewVenueFromConfig,
		advisorFn:   gateway.NewAdvisorFromConfig,
		registryFn:  strategy.NewRegistry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func openStore(cfg config.StoreConfig, m *metrics.Metrics) (store.Store, error) {
	return gormstore.NewGormStore(cfg.Path, gormstore.Options{
		BusyTimeout: cfg.BusyTimeout(),
		Retry:       cfg.RetryPolicy(),
		OnRetry:     m.ObserveStoreRetry,
	})
}

// buildLockTable keeps locks in SQLite unless lock_backend=redis.
func buildLockTable(ctx context.Context, cfg config.StoreConfig, st store.Store) (store.LockTable, error) {
	if cfg.LockBackend != "redis" {
		return st, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis lock backend %s: %w", cfg.Redis.Addr, err)
	}
	log.Infof("asset locks on redis %s prefix=%s", cfg.Redis.Addr, cfg.Redis.Prefix)
	return redislock.New(client, cfg.Redis.Prefix), nil
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	reg := b.metricsRegistry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)

	st, err := b.storeFn(cfg.Store, m)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	eng, err := b.buildEngine(ctx, st, m)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	srv, err := api.NewServer(api.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Engine:  eng,
		Metrics: m.Handler(),
	})
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	return &App{cfg: cfg, engine: eng, http: srv}, nil
}

func (b *AppBuilder) buildEngine(ctx context.Context, st store.Store, m *metrics.Metrics) (*Engine, error) {
	cfg := b.cfg
	locks, err := b.lockTableFn(ctx, cfg.Store, st)
	if err != nil {
		return nil, err
	}
	registry, err := b.registryFn(cfg.Strategy.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("load strategy settings: %w", err)
	}
	v, err := b.venueFn(cfg.Trading)
	if err != nil {
		return nil, err
	}

	opt := optimizer.New(st, registry, optimizer.Config{
		LearningRate: cfg.Optimizer.LearningRate,
		MinTrades:    cfg.Optimizer.MinTrades,
		Bounds: optimizer.Bounds{
			Min:   cfg.Optimizer.MinWeight,
			Max:   cfg.Optimizer.MaxWeight,
			Total: cfg.Optimizer.TotalWeight,
		},
	}, m)
	gauge := risk.NewGauge(st, cfg.Trading.AccountEquity, m)

	book := pipeline.NewTrendBook()
	trendCache := pipeline.NewTrendCache(book, cfg.Pipeline.TrendCacheTTL())
	evaluator, err := pipeline.NewEvaluator(cfg.Pipeline, pipeline.Deps{
		Risk:    gauge,
		Weights: opt,
		Trends:  trendCache,
		Advisor: b.advisorFn(cfg.Advisor, m),
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}

	gate := executor.NewGate(st, locks, v, registry, executor.Config{
		Cooldown:     cfg.Gate.Cooldown(),
		LockTTL:      cfg.Gate.LockTTL(),
		VenueTimeout: cfg.Gate.VenueTimeout(),
		DefaultSize:  cfg.Trading.DefaultSize,
	}, m)
	mon := monitor.New(st, v, registry, opt, monitor.Config{
		Interval:              cfg.Monitor.Interval(),
		VenueTimeout:          cfg.Gate.VenueTimeout(),
		CloseRetry:            cfg.Monitor.CloseRetryPolicy(),
		MarketClosedLogWindow: cfg.Monitor.MarketClosedLogWindow(),
	}, m)
	gate.SetTracker(mon)

	registry.OnChange(func(s strategy.Snapshot) {
		log.Infof("strategy settings reloaded version=%d strategies=%d", s.Version, len(s.Strategies))
	})

	eng := &Engine{
		store:      st,
		optimizer:  opt,
		evaluator:  evaluator,
		trends:     book,
		trendCache: trendCache,
		features:   features.NewBuilder(features.DefaultConfig()),
		gate:       gate,
		monitor:    mon,
		venue:      v,
	}
	if c, ok := locks.(io.Closer); ok && locks != store.LockTable(st) {
		eng.closers = append(eng.closers, c)
	}
	return eng, nil
}
