package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
	"github.com/odyssey-erp/odyssey-consol/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-consol/internal/reconcile"
)

const dateLayout = "2006-01-02"

// GroupStore persists changes to the ownership tree and entity financials.
type GroupStore interface {
	SaveEntity(ctx context.Context, e entity.Entity) error
	DeleteEntity(ctx context.Context, id string) error
	PutFinancials(ctx context.Context, f consol.Financials) error
}

// Deps groups the collaborators served over HTTP.
type Deps struct {
	Logger     *slog.Logger
	Graph      *entity.Graph
	Ledger     *ledger.Ledger
	Financials *consol.StaticFinancials
	Engine     *consol.Engine
	Reconciler *reconcile.Reconciler
	Reports    *reconcile.ReportCache
	// Store is nil when group changes only live in memory.
	Store      GroupStore
	Registerer prometheus.Registerer
	// Currency formats CSV amounts; empty keeps plain decimals.
	Currency string
	CacheTTL time.Duration
	// ExportLimit caps exports per client per minute. Zero uses 10.
	ExportLimit int
	Now         func() time.Time
}

// Handler exposes the ownership tree, the intercompany ledger, consolidation
// runs and reconciliation to the reporting layer.
type Handler struct {
	logger     *slog.Logger
	graph      *entity.Graph
	ledger     *ledger.Ledger
	financials *consol.StaticFinancials
	engine     *consol.Engine
	reconciler *reconcile.Reconciler
	reports    *reconcile.ReportCache
	store      GroupStore
	validate   *validator.Validate
	cache      *statementCache
	metrics    *cacheMetrics
	builds     singleflight.Group
	// groupMu serialises group changes so an undo never races another change.
	groupMu   sync.Mutex
	rateLimit func(http.Handler) http.Handler
	currency  string
	now       func() time.Time
}

// NewHandler constructs the handler.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Graph == nil || deps.Ledger == nil || deps.Engine == nil {
		return nil, fmt.Errorf("consol handler: graph, ledger and engine required")
	}
	metrics, err := newCacheMetrics(deps.Registerer)
	if err != nil {
		return nil, fmt.Errorf("consol handler: cache metrics: %w", err)
	}
	limit := deps.ExportLimit
	if limit <= 0 {
		limit = 10
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	financials := deps.Financials
	if financials == nil {
		financials = consol.NewStaticFinancials()
	}
	return &Handler{
		logger:     deps.Logger,
		graph:      deps.Graph,
		ledger:     deps.Ledger,
		financials: financials,
		engine:     deps.Engine,
		reconciler: deps.Reconciler,
		reports:    deps.Reports,
		store:      deps.Store,
		validate:   validator.New(),
		cache:      newStatementCache(deps.CacheTTL),
		metrics:    metrics,
		rateLimit:  httprate.LimitByIP(limit, time.Minute),
		currency:   deps.Currency,
		now:        now,
	}, nil
}

// MountRoutes registers the consolidation endpoints under /consol.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/consol", func(r chi.Router) {
		r.Get("/entities", h.handleListEntities)
		r.Post("/entities", h.handleAddEntity)
		r.Get("/entities/{id}", h.handleGetEntity)
		r.Put("/entities/{id}", h.handleUpdateEntity)
		r.Put("/entities/{id}/parent", h.handleReparentEntity)
		r.Delete("/entities/{id}", h.handleRemoveEntity)
		r.Put("/financials/{id}", h.handlePutFinancials)

		r.Get("/transactions", h.handleListTransactions)
		r.Post("/transactions", h.handleRecordTransaction)
		r.Get("/transactions/{id}", h.handleGetTransaction)
		r.Post("/transactions/{id}/post", h.handlePostTransaction)
		r.Post("/transactions/{id}/reverse", h.handleReverseTransaction)

		r.Get("/balances", h.handleAllBalances)
		r.Get("/balances/{a}/{b}", h.handlePairBalance)

		r.Get("/statements/{root}", h.handleStatement)
		r.Get("/statements/{root}/eliminations", h.handleEliminations)
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Get("/statements/{root}/export.csv", h.handleExportCSV)
			r.Get("/statements/{root}/export.xlsx", h.handleExportXLSX)
		})

		r.Post("/reconciliations", h.handleReconcile)
		r.Get("/reconciliations", h.handleReconcileCached)
	})
}

// invalidate drops cached statements after any change to the group.
func (h *Handler) invalidate() {
	h.cache.Bust()
}

// persist stores a group change already applied in memory. When the store
// refuses it, undo restores the previous in-memory state.
func (h *Handler) persist(ctx context.Context, save func(context.Context, GroupStore) error, undo func() error) error {
	if h.store == nil {
		return nil
	}
	if err := save(ctx, h.store); err != nil {
		if uerr := undo(); uerr != nil {
			h.log().Error("undo group change", slog.Any("error", uerr))
		}
		return err
	}
	return nil
}

func (h *Handler) asOfParam(r *http.Request) (time.Time, error) {
	return h.dateParam(r, "as_of", h.today())
}

func (h *Handler) dateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", httpx.ErrValidation, name)
	}
	return t, nil
}

func (h *Handler) today() time.Time {
	y, m, d := h.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (h *Handler) log() *slog.Logger {
	if h != nil && h.logger != nil {
		return h.logger.With(slog.String("component", "consol_http"))
	}
	return slog.Default().With(slog.String("component", "consol_http"))
}
