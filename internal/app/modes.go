package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marginpool/internal/crypto"
	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/notify"
	"github.com/alanyoungcy/marginpool/internal/protocol"
	"github.com/alanyoungcy/marginpool/internal/server"
	"github.com/alanyoungcy/marginpool/internal/server/handler"
	"github.com/alanyoungcy/marginpool/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// genesisFunc initializes a ledger that was not restored from a snapshot.
type genesisFunc func(ctx context.Context, p *protocol.Protocol) error

// units names the display unit of each pool and token for alerts.
type units struct {
	pools  map[common.Address]notify.Unit
	tokens map[common.Address]notify.Unit
}

// ServerMode serves the deployment described by the [deployment] section.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	params, err := a.cfg.Deployment.Params()
	if err != nil {
		return fmt.Errorf("app: deployment: %w", err)
	}
	p, err := a.openLedger(ctx, deps, params, nil)
	if err != nil {
		return err
	}
	return a.serve(ctx, deps, p, units{})
}

// DevnetMode serves a single-venue USDC/WETH ledger where the wallet key
// holds every role. A fresh ledger seeds the venues and the faucet
// accounts.
func (a *App) DevnetMode(ctx context.Context, deps *Dependencies) error {
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: load operator key: %w", err)
	}
	if signer == nil {
		return errors.New("app: devnet needs an operator key")
	}
	reserve, faucet, accounts, err := a.cfg.Devnet.Amounts()
	if err != nil {
		return fmt.Errorf("app: devnet: %w", err)
	}

	a.logger.InfoContext(ctx, "devnet operator",
		slog.String("address", signer.Address().Hex()),
		slog.Int("faucet_accounts", len(accounts)),
	)
	p, err := a.openLedger(ctx, deps, protocol.DevnetParams(signer.Address()), seedDevnet(reserve, faucet, accounts))
	if err != nil {
		return err
	}
	return a.serve(ctx, deps, p, devnetUnits())
}

func seedDevnet(reserve, faucet *big.Int, accounts []common.Address) genesisFunc {
	return func(ctx context.Context, p *protocol.Protocol) error {
		if err := p.SeedDevnet(ctx, reserve); err != nil {
			return err
		}
		for _, acct := range accounts {
			for _, v := range p.Vaults.All() {
				if err := p.Mint(ctx, v.Asset(), acct, faucet); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

func devnetUnits() units {
	usdc := notify.Unit{Symbol: "USDC", Decimals: 6}
	weth := notify.Unit{Symbol: "WETH", Decimals: 18}
	return units{
		pools: map[common.Address]notify.Unit{
			protocol.DevnetLongPool:  usdc,
			protocol.DevnetShortPool: weth,
		},
		tokens: map[common.Address]notify.Unit{
			protocol.DevnetUSDC: usdc,
			protocol.DevnetWETH: weth,
		},
	}
}

// openLedger takes the writer lease, builds the deployment and replaces it
// with the latest snapshot when one exists. genesis runs only on a ledger
// that was not restored.
func (a *App) openLedger(ctx context.Context, deps *Dependencies, params protocol.Params, genesis genesisFunc) (*protocol.Protocol, error) {
	if deps.LockManager != nil {
		release, err := deps.LockManager.Acquire(ctx, a.cfg.Redis.LeaseKey, a.cfg.Redis.LeaseTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return nil, fmt.Errorf("app: another instance owns the ledger: %w", err)
			}
			return nil, fmt.Errorf("app: writer lease: %w", err)
		}
		a.onClose(release)
		a.logger.InfoContext(ctx, "writer lease acquired", slog.String("key", a.cfg.Redis.LeaseKey))
	}

	p, err := protocol.New(ctx, params, domain.SystemClock{}, deps.Metrics, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: build ledger: %w", err)
	}

	restored, err := a.restore(ctx, deps, p)
	if err != nil {
		return nil, err
	}
	if !restored && genesis != nil {
		if err := genesis(ctx, p); err != nil {
			return nil, fmt.Errorf("app: genesis: %w", err)
		}
	}
	return p, nil
}

func (a *App) restore(ctx context.Context, deps *Dependencies, p *protocol.Protocol) (bool, error) {
	if deps.Snapshots == nil || !a.cfg.S3.RestoreOnStart {
		return false, nil
	}
	raw, err := deps.Snapshots.LatestSnapshot(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		a.logger.InfoContext(ctx, "no snapshot found, starting a fresh ledger")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("app: load snapshot: %w", err)
	}
	snap, err := p.Restore(raw)
	if err != nil {
		return false, fmt.Errorf("app: %w", err)
	}
	a.logger.InfoContext(ctx, "ledger restored",
		slog.Uint64("sequence", snap.Sequence),
		slog.Time("taken_at", snap.TakenAt),
	)
	return true, nil
}

// attachSinks registers every event consumer on the ledger and returns the
// in-memory recorder that backs the event API when Postgres is off.
func (a *App) attachSinks(ctx context.Context, deps *Dependencies, p *protocol.Protocol, u units, hub *ws.Hub) *engine.Recorder {
	rec := engine.NewRecorder(a.cfg.Server.RecentEvents)
	p.Engine.AddSink(rec)

	if deps.EventStore != nil {
		if last, err := deps.EventStore.LastSeq(ctx); err != nil {
			a.logger.WarnContext(ctx, "event log sequence unavailable", slog.String("error", err.Error()))
		} else if last > p.Engine.Sequence() {
			a.logger.WarnContext(ctx, "event log is ahead of the ledger; events after the last snapshot are lost",
				slog.Uint64("event_log", last),
				slog.Uint64("ledger", p.Engine.Sequence()),
			)
		}
		p.Engine.AddSink(deps.EventStore)
	}
	if deps.Publisher != nil {
		p.Engine.AddSink(deps.Publisher)
	}
	if deps.Notifier != nil {
		p.Engine.AddSink(notify.NewEventNotifier(deps.Notifier, u.pools, u.tokens))
	}
	// With a bus the hub follows the published stream instead.
	if hub != nil && deps.SignalBus == nil {
		p.Engine.AddSink(hub)
	}
	return rec
}

func (a *App) newServer(deps *Dependencies, p *protocol.Protocol, rec *engine.Recorder, hub *ws.Hub) *server.Server {
	var events handler.EventLister = rec
	if deps.EventStore != nil {
		events = deps.EventStore
	}
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(p.Engine.Sequence, deps.HealthChecks, a.logger),
		Pools:  handler.NewPoolHandler(p, a.logger),
		Router: handler.NewRouterHandler(p.Router, a.logger),
		Vaults: handler.NewVaultHandler(p.Vaults, a.logger),
		Fees:   handler.NewFeeHandler(p.Partners, a.logger),
		Events: handler.NewEventHandler(events, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, deps.Registry, a.logger)
}

// serve runs the ledger until ctx is cancelled: the HTTP API, the live
// event stream, the writer lease and the snapshot and archive loops.
func (a *App) serve(ctx context.Context, deps *Dependencies, p *protocol.Protocol, u units) error {
	hub := ws.NewHub(a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
		Sequence:  p.Engine.Sequence,
		Backlog:   deps.SignalBus,
		Stream:    a.cfg.Redis.EventStream,
	})
	rec := a.attachSinks(ctx, deps, p, u, hub)
	srv := a.newServer(deps, p, rec, hub)

	g, gctx := errgroup.WithContext(ctx)

	if deps.LockManager != nil {
		g.Go(func() error {
			if err := deps.LockManager.Hold(gctx, a.cfg.Redis.LeaseKey, a.cfg.Redis.LeaseTTL.Duration); err != nil {
				return fmt.Errorf("app: writer lease: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return hub.Run(gctx)
	})
	if deps.SignalBus != nil {
		g.Go(func() error {
			return hub.Follow(gctx, deps.SignalBus, a.cfg.Redis.EventChannel)
		})
	}

	if deps.Snapshots != nil && a.cfg.S3.SnapshotInterval.Duration > 0 {
		g.Go(func() error {
			a.runEvery(gctx, a.cfg.S3.SnapshotInterval.Duration, func(ctx context.Context) {
				_ = a.saveSnapshot(ctx, deps, p)
			})
			// Final snapshot so a restart loses nothing committed.
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = a.saveSnapshot(shutCtx, deps, p)
			return nil
		})
	}

	if deps.Archiver != nil && a.cfg.S3.ArchiveInterval.Duration > 0 {
		g.Go(func() error {
			a.runEvery(gctx, a.cfg.S3.ArchiveInterval.Duration, func(ctx context.Context) {
				a.archive(ctx, deps)
			})
			return nil
		})
	}

	a.startHTTPServer(gctx, g, srv)

	a.logger.InfoContext(ctx, "ledger serving",
		slog.String("mode", a.cfg.Mode),
		slog.Int("pools", len(p.Pools())),
		slog.Int("vaults", len(p.Vaults.All())),
		slog.Uint64("sequence", p.Engine.Sequence()),
	)
	return g.Wait()
}

// runEvery calls fn every interval until ctx is cancelled.
func (a *App) runEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (a *App) saveSnapshot(ctx context.Context, deps *Dependencies, p *protocol.Protocol) error {
	now := time.Now().UTC()
	raw, err := p.Snapshot(now)
	if err != nil {
		a.logger.ErrorContext(ctx, "snapshot failed", slog.String("error", err.Error()))
		return err
	}
	path, err := deps.Snapshots.SaveSnapshot(ctx, raw, now)
	if err != nil {
		a.logger.ErrorContext(ctx, "snapshot upload failed", slog.String("error", err.Error()))
		return err
	}
	a.logger.InfoContext(ctx, "snapshot saved",
		slog.String("path", path),
		slog.Int("bytes", len(raw)),
	)
	if deps.AuditStore != nil {
		if err := deps.AuditStore.Log(ctx, "snapshot_saved", map[string]any{
			"path":     path,
			"sequence": p.Engine.Sequence(),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (a *App) archive(ctx context.Context, deps *Dependencies) {
	cutoff := time.Now().UTC().Add(-a.cfg.S3.ArchiveAfter.Duration)
	n, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "event archive failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "events archived",
			slog.Int64("count", n),
			slog.Time("before", cutoff),
		)
	}
}

// startHTTPServer adds the HTTP server to the errgroup. The server is shut
// down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, srv *server.Server) {
	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
