package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
	"github.com/odyssey-erp/odyssey-consol/internal/reconcile"
)

// DurableStore holds the journal, the ownership tree and entity financials.
// pgstore.Store is the production implementation.
type DurableStore interface {
	ledger.Sink
	Restore(ctx context.Context, l *ledger.Ledger) (int, error)
	LoadEntities(ctx context.Context) ([]entity.Entity, error)
	LoadFinancials(ctx context.Context) ([]consol.Financials, error)
	SaveGroup(ctx context.Context, entities []entity.Entity, financials []consol.Financials) error
	SaveEntity(ctx context.Context, e entity.Entity) error
	DeleteEntity(ctx context.Context, id string) error
	PutFinancials(ctx context.Context, f consol.Financials) error
}

type groupState struct {
	graph      *entity.Graph
	ledger     *ledger.Ledger
	financials *consol.StaticFinancials
	restored   int
}

// loadState rebuilds the tree, the financials and the journal from store.
func loadState(ctx context.Context, store DurableStore, ledgerCfg ledger.Config) (*groupState, error) {
	entities, err := store.LoadEntities(ctx)
	if err != nil {
		return nil, err
	}
	graph, err := entity.FromEntities(entities)
	if err != nil {
		return nil, fmt.Errorf("app: rebuild ownership tree: %w", err)
	}
	rows, err := store.LoadFinancials(ctx)
	if err != nil {
		return nil, err
	}
	l := ledger.New(graph, ledgerCfg)
	restored, err := store.Restore(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("app: restore journal: %w", err)
	}
	return &groupState{
		graph:      graph,
		ledger:     l,
		financials: consol.NewStaticFinancials(rows...),
		restored:   restored,
	}, nil
}

// Snapshots runs consolidations and reconciliations against a fresh copy of
// the durable state, so background jobs see changes made by the server after
// the worker started.
type Snapshots struct {
	store     DurableStore
	consol    consol.Config
	reconcile reconcile.Config
	logger    *slog.Logger
}

// NewSnapshots returns a runner reading from store.
func NewSnapshots(store DurableStore, consolCfg consol.Config, reconcileCfg reconcile.Config) *Snapshots {
	return &Snapshots{store: store, consol: consolCfg, reconcile: reconcileCfg, logger: consolCfg.Logger}
}

func (s *Snapshots) load(ctx context.Context) (*groupState, error) {
	st, err := loadState(ctx, s.store, ledger.Config{Logger: s.logger})
	if err != nil {
		return nil, err
	}
	s.log().Debug("group snapshot loaded",
		slog.Int("entities", st.graph.Len()),
		slog.Int("transactions", st.restored))
	return st, nil
}

// Consolidate implements jobs.Consolidator.
func (s *Snapshots) Consolidate(ctx context.Context, rootID string, asOf time.Time, opts ...consol.RunOption) (consol.Statement, error) {
	st, err := s.load(ctx)
	if err != nil {
		return consol.Statement{}, err
	}
	return consol.NewEngine(st.graph, st.ledger, st.financials, s.consol).Consolidate(ctx, rootID, asOf, opts...)
}

// ReconcileAll implements jobs.BalanceReconciler.
func (s *Snapshots) ReconcileAll(ctx context.Context, date time.Time, reports []reconcile.Reported) ([]reconcile.Finding, error) {
	st, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return reconcile.New(st.ledger, s.reconcile).ReconcileAll(ctx, date, reports)
}

func (s *Snapshots) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
