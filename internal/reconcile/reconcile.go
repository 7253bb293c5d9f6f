// Package reconcile compares externally reported intercompany balances with
// the balances recomputed from the ledger.
package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
)

// Status is the outcome of a comparison.
type Status string

const (
	// StatusBalanced means the reported figure matches the ledger within tolerance.
	StatusBalanced Status = "BALANCED"
	// StatusOutstanding means the figures diverge and need research.
	StatusOutstanding Status = "OUTSTANDING"
)

// Reported is a balance of EntityA against EntityB as shown by a report or
// cache. Net is receivable minus payable from EntityA's side.
type Reported struct {
	EntityA string          `json:"entity_a"`
	EntityB string          `json:"entity_b"`
	Net     decimal.Decimal `json:"net"`
}

// Finding is the result of one reconciliation. It is a report, never an error,
// and the reported value is never adjusted.
type Finding struct {
	EntityA  string          `json:"entity_a"`
	EntityB  string          `json:"entity_b"`
	AsOf     time.Time       `json:"as_of"`
	Reported decimal.Decimal `json:"reported"`
	Computed decimal.Decimal `json:"computed"`
	// Delta is Reported minus Computed.
	Delta  decimal.Decimal `json:"delta"`
	Status Status          `json:"status"`
}

// Balanced reports whether the finding is within tolerance.
func (f Finding) Balanced() bool {
	return f.Status == StatusBalanced
}

// BalanceSource recomputes balances from the ledger.
type BalanceSource interface {
	BalanceAsOf(a, b string, date time.Time) (ledger.Balance, error)
	AllBalances(date time.Time) []ledger.Balance
}

// Config tunes a Reconciler.
type Config struct {
	// Tolerance is the largest absolute delta still considered balanced.
	Tolerance decimal.Decimal
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Reconciler flags divergence between reported and ledger balances.
type Reconciler struct {
	balances  BalanceSource
	tolerance decimal.Decimal
	logger    *slog.Logger
	metrics   *Metrics
}

// New constructs a Reconciler.
func New(balances BalanceSource, cfg Config) *Reconciler {
	return &Reconciler{
		balances:  balances,
		tolerance: cfg.Tolerance.Abs(),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Reconcile recomputes the balance of a against b as of date and compares it
// with reported.
func (r *Reconciler) Reconcile(a, b string, date time.Time, reported decimal.Decimal) (Finding, error) {
	bal, err := r.balances.BalanceAsOf(a, b, date)
	if err != nil {
		return Finding{}, err
	}
	f := r.compare(a, b, date, reported, bal.Net())
	r.report(f)
	return f, nil
}

// ReconcileAll checks every reported row and every non-zero ledger pair the
// report omits, which is treated as reported at zero. Findings are ordered by
// pair.
func (r *Reconciler) ReconcileAll(ctx context.Context, date time.Time, reports []Reported) ([]Finding, error) {
	seen := make(map[[2]string]struct{}, len(reports))
	findings := make([]Finding, 0, len(reports))
	for _, rep := range reports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rep = normalise(rep)
		f, err := r.Reconcile(rep.EntityA, rep.EntityB, date, rep.Net)
		if err != nil {
			return nil, err
		}
		seen[[2]string{rep.EntityA, rep.EntityB}] = struct{}{}
		findings = append(findings, f)
	}
	for _, bal := range r.balances.AllBalances(date) {
		if _, ok := seen[[2]string{bal.EntityA, bal.EntityB}]; ok {
			continue
		}
		f := r.compare(bal.EntityA, bal.EntityB, date, decimal.Zero, bal.Net())
		r.report(f)
		findings = append(findings, f)
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].EntityA != findings[j].EntityA {
			return findings[i].EntityA < findings[j].EntityA
		}
		return findings[i].EntityB < findings[j].EntityB
	})
	return findings, nil
}

func (r *Reconciler) compare(a, b string, date time.Time, reported, computed decimal.Decimal) Finding {
	delta := reported.Sub(computed)
	status := StatusBalanced
	if delta.Abs().GreaterThan(r.tolerance) {
		status = StatusOutstanding
	}
	return Finding{
		EntityA:  a,
		EntityB:  b,
		AsOf:     date,
		Reported: reported,
		Computed: computed,
		Delta:    delta,
		Status:   status,
	}
}

func (r *Reconciler) report(f Finding) {
	r.metrics.observe(f)
	level := slog.LevelInfo
	if !f.Balanced() {
		level = slog.LevelWarn
	}
	r.log().Log(context.Background(), level, "reconciled intercompany balance",
		slog.String("entity_a", f.EntityA),
		slog.String("entity_b", f.EntityB),
		slog.String("status", string(f.Status)),
		slog.String("delta", f.Delta.StringFixed(2)))
}

func (r *Reconciler) log() *slog.Logger {
	if r != nil && r.logger != nil {
		return r.logger.With(slog.String("component", "ic_reconcile"))
	}
	return slog.Default().With(slog.String("component", "ic_reconcile"))
}
