// Package app runs marginpool: it wires the optional backends, opens the
// ledger for the configured mode and serves it until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/marginpool/internal/config"
)

// App owns the configuration and everything that must be released on exit.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger.With(slog.String("component", "app"))}
}

// onClose registers fn to run on Close, after everything registered later.
func (a *App) onClose(fn func()) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

// Run blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	modes := map[string]func(context.Context, *Dependencies) error{
		"server": a.ServerMode,
		"devnet": a.DevnetMode,
	}
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "starting", slog.String("mode", mode))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.onClose(cleanup)
	return run(ctx, deps)
}

// Close releases resources in reverse registration order. Later calls are
// no-ops.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	if len(closers) == 0 {
		return
	}
	a.logger.Info("releasing resources", slog.Int("count", len(closers)))
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
