package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-consol/internal/jobs"
	"github.com/odyssey-erp/odyssey-consol/internal/reconcile"
)

// ReportSource lists the reported balances cached for a date.
type ReportSource interface {
	All(ctx context.Context, date time.Time) ([]reconcile.Reported, error)
}

// BalanceReconciler compares reported balances with the ledger.
type BalanceReconciler interface {
	ReconcileAll(ctx context.Context, date time.Time, reports []reconcile.Reported) ([]reconcile.Finding, error)
}

// ReconcileJob reconciles the reported balances cached for a date. Outstanding
// findings are reported through logs and metrics; the job itself succeeds.
type ReconcileJob struct {
	Reconciler BalanceReconciler
	Reports    ReportSource
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(reconciler BalanceReconciler, reports ReportSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Reconciler: reconciler,
		Reports:    reports,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes a reconciliation task.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Reconciler == nil || j.Reports == nil {
		return errors.New("reconcile job: dependencies not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("reconcile job: payload: %v: %w", err, asynq.SkipRetry)
	}
	asOf, err := resolveDate(payload.AsOf, j.now())
	if err != nil {
		return fmt.Errorf("reconcile job: as_of: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskReconcileRun)
	reports, err := j.Reports.All(ctx, asOf)
	if err != nil {
		j.log().Error("load reported balances", slog.String("as_of", asOf.Format(dateLayout)), slog.Any("error", err))
		return tracker.End(err)
	}
	findings, err := j.Reconciler.ReconcileAll(ctx, asOf, reports)
	if err != nil {
		j.log().Error("reconcile", slog.String("as_of", asOf.Format(dateLayout)), slog.Any("error", err))
		return tracker.End(err)
	}

	outstanding := 0
	for _, f := range findings {
		if f.Balanced() {
			continue
		}
		outstanding++
		j.log().Warn("intercompany balance outstanding",
			slog.String("entity_a", f.EntityA),
			slog.String("entity_b", f.EntityB),
			slog.String("reported", f.Reported.StringFixed(2)),
			slog.String("computed", f.Computed.StringFixed(2)),
			slog.String("delta", f.Delta.StringFixed(2)))
	}
	j.metrics().AddBreaks(TaskReconcileRun, outstanding)
	j.log().Info("reconciliation finished",
		slog.String("as_of", asOf.Format(dateLayout)),
		slog.Int("pairs", len(findings)),
		slog.Int("outstanding", outstanding))
	return tracker.End(nil)
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcileRun))
	}
	return slog.Default().With(slog.String("job", TaskReconcileRun))
}

func (j *ReconcileJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ReconcileJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
