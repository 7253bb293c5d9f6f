package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	consolhttp "github.com/odyssey-erp/odyssey-consol/internal/consol/http"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
	"github.com/odyssey-erp/odyssey-consol/internal/fixture"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger/pgstore"
	"github.com/odyssey-erp/odyssey-consol/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-consol/internal/platform/db"
	"github.com/odyssey-erp/odyssey-consol/internal/reconcile"
	"github.com/odyssey-erp/odyssey-consol/internal/shared"
)

// Runtime holds the collaborators shared by the server, the worker and consolctl.
type Runtime struct {
	Root     string
	AsOf     time.Time
	Currency string

	Graph      *entity.Graph
	Ledger     *ledger.Ledger
	Financials *consol.StaticFinancials
	Engine     *consol.Engine
	Reconciler *reconcile.Reconciler
	// Reports is nil when Redis is not configured.
	Reports  *reconcile.ReportCache
	Reported []reconcile.Reported

	// Store and Snapshots are nil when PostgreSQL is not configured.
	Store     DurableStore
	Snapshots *Snapshots

	Pool  *pgxpool.Pool
	Redis *redis.Client

	closers []func()
}

// Bootstrap connects the optional stores, loads the group and restores the
// journal. A registerer of nil disables component metrics.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger, reg prometheus.Registerer) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Currency: cfg.Currency}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var (
		store DurableStore
		audit ledger.AuditRecorder = &shared.MemoryAuditLog{}
	)
	external := !cfg.Offline
	if external && cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 8})
		if err != nil {
			return nil, err
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, pool.Close)
		pg := pgstore.New(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		store = pg
		audit = shared.NewAuditLogger(pool)
	}
	if external && cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		rt.Redis = client
		rt.closers = append(rt.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
		rt.Reports = reconcile.NewReportCache(client, cfg.ReportTTL)
	}

	if err := rt.assemble(ctx, cfg, logger, reg, store, audit); err != nil {
		return nil, err
	}
	ok = true
	return rt, nil
}

// assemble loads the group and wires the engine and reconciler on top of it.
func (rt *Runtime) assemble(ctx context.Context, cfg *Config, logger *slog.Logger, reg prometheus.Registerer, store DurableStore, audit ledger.AuditRecorder) error {
	if logger == nil {
		logger = slog.Default()
	}
	ledgerCfg := ledger.Config{Audit: audit, Logger: logger}
	if store != nil {
		ledgerCfg.Sink = store
	}
	if err := rt.loadGroup(ctx, cfg, ledgerCfg, store, logger); err != nil {
		return err
	}

	tolerance, err := cfg.Tolerance()
	if err != nil {
		return err
	}
	consolCfg := consol.Config{
		Workers: cfg.Workers,
		Logger:  logger,
		Metrics: consol.NewMetrics(reg),
	}
	reconcileCfg := reconcile.Config{
		Tolerance: tolerance,
		Logger:    logger,
		Metrics:   reconcile.NewMetrics(reg),
	}
	rt.Engine = consol.NewEngine(rt.Graph, rt.Ledger, rt.Financials, consolCfg)
	rt.Reconciler = reconcile.New(rt.Ledger, reconcileCfg)
	if store != nil {
		rt.Store = store
		rt.Snapshots = NewSnapshots(store, consolCfg, reconcileCfg)
	}
	if rt.Reports != nil && len(rt.Reported) > 0 {
		if err := rt.Reports.Put(ctx, rt.AsOf, rt.Reported...); err != nil {
			return fmt.Errorf("app: cache reported balances: %w", err)
		}
	}

	logger.Info("consolidation runtime ready",
		slog.String("root", rt.Root),
		slog.Int("entities", rt.Graph.Len()),
		slog.Int("transactions", len(rt.Ledger.Entries())),
		slog.Bool("durable_store", store != nil),
		slog.Bool("report_cache", rt.Reports != nil))
	return nil
}

// loadGroup builds the ownership tree, financials and journal. Without a
// store the fixture is the whole group. With one, an empty store is seeded
// from the fixture; otherwise the stored group wins and the fixture only
// contributes the reporting date, currency and reported balances.
func (rt *Runtime) loadGroup(ctx context.Context, cfg *Config, ledgerCfg ledger.Config, store DurableStore, logger *slog.Logger) error {
	var file *fixture.File
	if cfg.Fixture != "" {
		var err error
		if file, err = fixture.LoadFile(cfg.Fixture); err != nil {
			return fmt.Errorf("app: load fixture: %w", err)
		}
	}

	if store == nil {
		if file == nil {
			rt.Graph = entity.NewGraph()
			rt.Financials = consol.NewStaticFinancials()
			rt.Ledger = ledger.New(rt.Graph, ledgerCfg)
			return nil
		}
		group, err := file.Build(ctx, fixture.Options{Ledger: ledgerCfg})
		if err != nil {
			return fmt.Errorf("app: build fixture: %w", err)
		}
		rt.adopt(group)
		return nil
	}

	stored, err := store.LoadEntities(ctx)
	if err != nil {
		return err
	}
	if len(stored) == 0 && file != nil {
		return rt.seedStore(ctx, file, ledgerCfg, store, logger)
	}

	state, err := loadState(ctx, store, ledgerCfg)
	if err != nil {
		return err
	}
	if file != nil {
		meta, err := file.Build(ctx, fixture.Options{SkipTransactions: true})
		if err != nil {
			return fmt.Errorf("app: build fixture: %w", err)
		}
		rt.adopt(meta)
		if state.restored == 0 {
			seeded := &fixture.Group{Graph: state.graph, Ledger: state.ledger, Financials: state.financials, Refs: make(map[string]string)}
			if err := file.Seed(ctx, seeded); err != nil {
				return fmt.Errorf("app: seed journal: %w", err)
			}
		}
	}
	rt.Graph = state.graph
	rt.Ledger = state.ledger
	rt.Financials = state.financials
	if root, ok := rt.Graph.Root(); ok && !rt.Graph.Has(rt.Root) {
		rt.Root = root.ID
	}
	logger.Info("group loaded from store",
		slog.Int("entities", rt.Graph.Len()),
		slog.Int("journal_entries", state.restored))
	return nil
}

// seedStore writes the fixture group into an empty store.
func (rt *Runtime) seedStore(ctx context.Context, file *fixture.File, ledgerCfg ledger.Config, store DurableStore, logger *slog.Logger) error {
	group, err := file.Build(ctx, fixture.Options{Ledger: ledgerCfg, SkipTransactions: true})
	if err != nil {
		return fmt.Errorf("app: build fixture: %w", err)
	}
	entities, err := group.Graph.Subtree(group.Root)
	if err != nil {
		return fmt.Errorf("app: build fixture: %w", err)
	}
	if err := store.SaveGroup(ctx, entities, group.Financials.All()); err != nil {
		return fmt.Errorf("app: seed group: %w", err)
	}
	restored, err := store.Restore(ctx, group.Ledger)
	if err != nil {
		return fmt.Errorf("app: restore journal: %w", err)
	}
	if restored == 0 {
		if err := file.Seed(ctx, group); err != nil {
			return fmt.Errorf("app: seed journal: %w", err)
		}
	}
	rt.adopt(group)
	logger.Info("store seeded from fixture",
		slog.Int("entities", len(entities)),
		slog.Int("journal_entries", restored))
	return nil
}

func (rt *Runtime) adopt(group *fixture.Group) {
	rt.Root = group.Root
	rt.AsOf = group.AsOf
	if group.Currency != "" {
		rt.Currency = group.Currency
	}
	rt.Graph = group.Graph
	rt.Ledger = group.Ledger
	rt.Financials = group.Financials
	rt.Reported = group.Reported
}

// GroupStore returns the store HTTP group changes persist to, or nil when
// they only live in memory.
func (rt *Runtime) GroupStore() consolhttp.GroupStore {
	if rt.Store == nil {
		return nil
	}
	return rt.Store
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
