package consol

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-consol/internal/elimination"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
)

// Hierarchy is the part of the entity graph a run reads.
type Hierarchy interface {
	Subtree(id string) ([]entity.Entity, error)
}

// Positions is the part of the intercompany ledger a run reads.
type Positions interface {
	AllBalances(date time.Time) []ledger.Balance
	Transactions(f ledger.Filter) []ledger.Transaction
}

// Config tunes an Engine.
type Config struct {
	// Workers bounds the number of subtrees rolled up concurrently. Zero uses GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
	Metrics *Metrics
}

// Engine rolls entity financials up the ownership tree and removes
// intercompany activity inside the consolidated perimeter.
type Engine struct {
	hierarchy  Hierarchy
	positions  Positions
	financials FinancialsSource
	generator  *elimination.Generator
	workers    int
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time
}

// NewEngine wires the collaborators of a consolidation run.
func NewEngine(h Hierarchy, p Positions, f FinancialsSource, cfg Config) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		hierarchy:  h,
		positions:  p,
		financials: f,
		generator:  elimination.NewGenerator(cfg.Logger),
		workers:    workers,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}
}

// RunOption adjusts a single run.
type RunOption func(*runOptions)

type runOptions struct {
	periodStart time.Time
}

// WithPeriodStart overrides the first day of the income-statement window,
// which defaults to 1 January of the as-of year.
func WithPeriodStart(start time.Time) RunOption {
	return func(o *runOptions) {
		o.periodStart = start
	}
}

// Consolidate produces the consolidated statement of rootID as of asOf.
// Children are rolled up before their parents, independent subtrees in
// parallel. Any error aborts the whole run and no partial statement is
// returned.
func (e *Engine) Consolidate(ctx context.Context, rootID string, asOf time.Time, opts ...RunOption) (st Statement, err error) {
	start := time.Now()
	var members, entries int
	defer func() {
		e.metrics.observe(start, members, entries, err)
		if err != nil {
			e.log().Warn("consolidation aborted", slog.String("root", rootID), slog.Any("error", err))
		}
	}()

	period := elimination.YearToDate(asOf)
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if !ro.periodStart.IsZero() {
		period.Start = ro.periodStart
	}

	subtree, err := e.hierarchy.Subtree(rootID)
	if err != nil {
		return Statement{}, err
	}
	pl, err := planRun(subtree)
	if err != nil {
		return Statement{}, err
	}
	gross, err := e.rollup(ctx, pl, asOf)
	if err != nil {
		return Statement{}, err
	}

	perimeter := pl.members.Consolidated()
	through := endOfDay(asOf)
	balances := e.positions.AllBalances(asOf)
	txs := e.positions.Transactions(ledger.Filter{PostedOnly: true, Through: through})

	journal, err := e.generator.Generate(insideBalances(perimeter, balances), insideTransactions(perimeter, txs), period)
	if err != nil {
		return Statement{}, err
	}
	gross = withIntercompanyDetail(gross, perimeter, balances, txs, period)
	consolidated, err := applyEliminations(gross, journal)
	if err != nil {
		return Statement{}, err
	}
	if err := ctx.Err(); err != nil {
		return Statement{}, err
	}

	members, entries = len(perimeter), len(journal.Entries)
	st = Statement{
		RootID:       rootID,
		AsOf:         asOf,
		Period:       period,
		Gross:        gross,
		Consolidated: consolidated,
		Eliminations: journal,
		Perimeter:    pl.members,
		Equity:       equityRollForward(perimeter, txs, period),
		GeneratedAt:  e.now().UTC(),
	}
	e.log().Info("consolidation completed",
		slog.String("root", rootID),
		slog.String("as_of", asOf.Format("2006-01-02")),
		slog.Int("consolidated", len(perimeter)),
		slog.Int("eliminations", len(journal.Entries)),
		slog.String("net_income", consolidated.NetIncome.StringFixed(2)))
	return st, nil
}

// plan is the subtree of a run laid out by pre-order position. Position 0 is
// the root.
type plan struct {
	entities []entity.Entity
	members  Perimeter
	parent   []int
	children [][]int
	included []bool
}

var one = decimal.NewFromInt(1)

func planRun(subtree []entity.Entity) (*plan, error) {
	n := len(subtree)
	pl := &plan{
		entities: subtree,
		members:  make(Perimeter, n),
		parent:   make([]int, n),
		children: make([][]int, n),
		included: make([]bool, n),
	}
	pos := make(map[string]int, n)
	for i, ent := range subtree {
		pos[ent.ID] = i
		m := Member{
			EntityID:  ent.ID,
			Name:      ent.Name,
			ParentID:  ent.ParentID,
			Method:    ent.Method,
			Ownership: ent.Ownership,
		}
		if i == 0 {
			m.Ownership = decimal.NewFromInt(100)
			m.Effective = decimal.NewFromInt(100)
			m.Treatment = TreatmentRoot
			pl.parent[0] = -1
			pl.included[0] = true
			pl.members[0] = m
			continue
		}
		p := pos[ent.ParentID]
		pl.parent[i] = p
		up := pl.members[p]
		m.Effective = up.Effective.Mul(ent.OwnershipFraction())
		switch {
		case !pl.included[p]:
			m.Treatment = TreatmentExcluded
		default:
			switch ent.Method {
			case entity.MethodFull, entity.MethodEquity:
				pl.included[i] = true
				pl.children[p] = append(pl.children[p], i)
				switch {
				case up.Treatment != TreatmentRoot && up.Treatment != TreatmentFull:
					m.Treatment = TreatmentViaAffiliate
				case ent.Method == entity.MethodFull:
					m.Treatment = TreatmentFull
				default:
					m.Treatment = TreatmentEquity
				}
			case entity.MethodNone:
				m.Treatment = TreatmentExcluded
			default:
				return nil, &ConsolidationError{EntityID: ent.ID, Err: ErrUnknownConsolidationMethod}
			}
		}
		pl.members[i] = m
	}
	return pl, nil
}

// rollup processes nodes in topological order on a bounded worker pool. A
// node becomes ready once its last included child has been rolled up.
func (e *Engine) rollup(ctx context.Context, pl *plan, asOf time.Time) (LineItems, error) {
	n := len(pl.entities)
	results := make([]LineItems, n)
	pending := make([]atomic.Int32, n)
	ready := make(chan int, n)

	included := 0
	for i := range pl.entities {
		if !pl.included[i] {
			continue
		}
		included++
		pending[i].Store(int32(len(pl.children[i])))
		if len(pl.children[i]) == 0 {
			ready <- i
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < min(e.workers, included); w++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case i, ok := <-ready:
					if !ok {
						return nil
					}
					lines, err := e.combine(pl, i, results, asOf)
					if err != nil {
						return err
					}
					results[i] = lines
					if err := gctx.Err(); err != nil {
						return err
					}
					if i == 0 {
						close(ready)
						continue
					}
					if p := pl.parent[i]; pending[p].Add(-1) == 0 {
						ready <- p
					}
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return LineItems{}, err
	}
	return results[0], nil
}

// combine rolls the already processed children of node i into its own
// financials. Minority interest and equity earnings are taken on the child's
// attributable net income, which already excludes the minority interest booked
// inside the child's own subtree.
func (e *Engine) combine(pl *plan, i int, results []LineItems, asOf time.Time) (LineItems, error) {
	ent := pl.entities[i]
	own, ok := e.financials.Lookup(ent.ID, asOf)
	if !ok {
		return LineItems{}, &ConsolidationError{EntityID: ent.ID, Err: ErrMissingChildFinancials}
	}
	lines := FromFinancials(own)
	for _, c := range pl.children[i] {
		child := pl.entities[c]
		rolled := results[c]
		share := child.OwnershipFraction()
		switch child.Method {
		case entity.MethodFull:
			lines = lines.Add(rolled)
			minority := one.Sub(share).Mul(rolled.AttributableNetIncome())
			lines.MinorityInterest = lines.MinorityInterest.Add(minority)
		case entity.MethodEquity:
			earnings := share.Mul(rolled.AttributableNetIncome())
			investment := share.Mul(rolled.NetAssets())
			lines.EquityInEarnings = lines.EquityInEarnings.Add(earnings)
			lines.NetIncome = lines.NetIncome.Add(earnings)
			lines.InvestmentInAffiliates = lines.InvestmentInAffiliates.Add(investment)
			lines.Assets = lines.Assets.Add(investment)
		}
	}
	e.log().Debug("rolled up entity",
		slog.String("entity", ent.ID),
		slog.Int("children", len(pl.children[i])),
		slog.String("net_income", lines.NetIncome.String()))
	return lines, nil
}

func insideBalances(perimeter map[string]struct{}, balances []ledger.Balance) []ledger.Balance {
	out := make([]ledger.Balance, 0, len(balances))
	for _, b := range balances {
		if inside(perimeter, b.EntityA, b.EntityB) {
			out = append(out, b)
		}
	}
	return out
}

func insideTransactions(perimeter map[string]struct{}, txs []ledger.Transaction) []ledger.Transaction {
	out := make([]ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		if inside(perimeter, tx.From, tx.To) {
			out = append(out, tx)
		}
	}
	return out
}

func inside(perimeter map[string]struct{}, a, b string) bool {
	_, okA := perimeter[a]
	_, okB := perimeter[b]
	return okA && okB
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999999999, t.Location())
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) log() *slog.Logger {
	if e != nil && e.logger != nil {
		return e.logger.With(slog.String("component", "consolidation"))
	}
	return slog.Default().With(slog.String("component", "consolidation"))
}
