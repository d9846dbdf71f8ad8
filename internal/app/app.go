// Package app wires the engine together and runs it: the HTTP surface and
// the position monitor share one Engine built by AppBuilder.
package app

import (
	"context"
	"fmt"

	"booner/internal/config"
	"booner/internal/logger"
	"booner/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg    *config.Config
	engine *Engine
	http   *api.Server
}

// NewApp builds the application from cfg without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	return buildAppWithWire(context.Background(), cfg)
}

// Run serves HTTP and polls open positions until ctx is cancelled or one of
// them fails. The store is closed on return.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.engine == nil {
		return fmt.Errorf("app not initialized")
	}
	defer func() {
		if err := a.engine.Close(); err != nil {
			log.Warnf("close engine: %v", err)
		}
	}()
	log.Infof("booner starting env=%s http=%s venue=%s", a.cfg.App.Env, a.http.Addr(), a.engine.venue.Name())

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.engine.monitor.Run(ctx)
	})
	return group.Wait()
}

// Engine exposes the engine for embedding and tests.
func (a *App) Engine() *Engine {
	if a == nil {
		return nil
	}
	return a.engine
}
