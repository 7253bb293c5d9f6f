package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
	jobmetrics "github.com/odyssey-erp/odyssey-consol/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Consolidator runs one consolidation.
type Consolidator interface {
	Consolidate(ctx context.Context, rootID string, asOf time.Time, opts ...consol.RunOption) (consol.Statement, error)
}

// StatementSink keeps the outcome of background runs.
type StatementSink interface {
	Save(ctx context.Context, st consol.Statement) error
}

// ConsolidationJob consolidates a root in the background and hands the
// statement to the sink.
type ConsolidationJob struct {
	Engine  Consolidator
	Sink    StatementSink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewConsolidationJob constructs the job handler.
func NewConsolidationJob(engine Consolidator, sink StatementSink, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsolidationJob {
	return &ConsolidationJob{
		Engine:  engine,
		Sink:    sink,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes a consolidation task. Structural failures are not retried.
func (j *ConsolidationJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("consolidation job: engine not configured")
	}
	var payload ConsolidationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("consolidation job: payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskConsolidationRun)
	st, err := j.run(ctx, payload)
	if err != nil {
		j.log().Error("consolidation run failed", slog.String("root", payload.Root), slog.String("as_of", payload.AsOf), slog.Any("error", err))
		return tracker.End(err)
	}
	j.log().Info("consolidation run finished",
		slog.String("root", st.RootID),
		slog.String("as_of", st.AsOf.Format(dateLayout)),
		slog.Int("entities", len(st.Perimeter)),
		slog.Int("eliminations", len(st.Eliminations.Entries)),
		slog.String("net_income", st.Consolidated.NetIncome.StringFixed(2)))
	return tracker.End(nil)
}

func (j *ConsolidationJob) run(ctx context.Context, payload ConsolidationPayload) (consol.Statement, error) {
	asOf, err := resolveDate(payload.AsOf, j.now())
	if err != nil {
		return consol.Statement{}, fmt.Errorf("as_of: %v: %w", err, asynq.SkipRetry)
	}
	var opts []consol.RunOption
	if payload.PeriodStart != "" {
		start, err := time.Parse(dateLayout, payload.PeriodStart)
		if err != nil {
			return consol.Statement{}, fmt.Errorf("period_start: %v: %w", err, asynq.SkipRetry)
		}
		opts = append(opts, consol.WithPeriodStart(start))
	}

	st, err := j.Engine.Consolidate(ctx, payload.Root, asOf, opts...)
	if err != nil {
		if permanent(err) {
			return consol.Statement{}, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return consol.Statement{}, err
	}
	if j.Sink != nil {
		if err := j.Sink.Save(ctx, st); err != nil {
			return consol.Statement{}, fmt.Errorf("save statement: %w", err)
		}
	}
	return st, nil
}

// permanent reports failures that retrying cannot fix until the group changes.
func permanent(err error) bool {
	var (
		structural *entity.StructuralError
		consolErr  *consol.ConsolidationError
	)
	return errors.As(err, &structural) || errors.As(err, &consolErr)
}

func (j *ConsolidationJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ConsolidationJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsolidationRun))
	}
	return slog.Default().With(slog.String("job", TaskConsolidationRun))
}

func (j *ConsolidationJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ConsolidationJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
