package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskConsolidationRun consolidates one root as of a date.
	TaskConsolidationRun = "consol:run"
	// TaskReconcileRun reconciles cached reported balances against the ledger.
	TaskReconcileRun = "consol:reconcile"

	dateLayout = "2006-01-02"
	// latest resolves to the worker's current date when the task runs.
	latest = "latest"
)

// ConsolidationPayload scopes a consolidation run.
type ConsolidationPayload struct {
	Root        string `json:"root"`
	AsOf        string `json:"as_of"`
	PeriodStart string `json:"period_start,omitempty"`
}

// ReconcilePayload scopes a reconciliation run.
type ReconcilePayload struct {
	AsOf string `json:"as_of"`
}

// NewConsolidationTask creates a consolidation task. An empty asOf means the
// date the worker picks the task up.
func NewConsolidationTask(root, asOf, periodStart string) (*asynq.Task, error) {
	if root == "" {
		return nil, fmt.Errorf("consolidation task: root required")
	}
	if asOf == "" {
		asOf = latest
	}
	for _, raw := range []string{asOf, periodStart} {
		if raw == "" || raw == latest {
			continue
		}
		if _, err := time.Parse(dateLayout, raw); err != nil {
			return nil, fmt.Errorf("consolidation task: date %q: %w", raw, err)
		}
	}
	body, err := json.Marshal(ConsolidationPayload{Root: root, AsOf: asOf, PeriodStart: periodStart})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsolidationRun, body, asynq.Queue(QueueDefault)), nil
}

// NewReconcileTask creates a reconciliation task.
func NewReconcileTask(asOf string) (*asynq.Task, error) {
	if asOf == "" {
		asOf = latest
	}
	if asOf != latest {
		if _, err := time.Parse(dateLayout, asOf); err != nil {
			return nil, fmt.Errorf("reconcile task: date %q: %w", asOf, err)
		}
	}
	body, err := json.Marshal(ReconcilePayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileRun, body, asynq.Queue(QueueDefault)), nil
}

func resolveDate(raw string, now time.Time) (time.Time, error) {
	if raw == "" || raw == latest {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse(dateLayout, raw)
}
