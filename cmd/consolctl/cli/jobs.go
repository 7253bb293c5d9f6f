package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-consol/jobs"
)

// JobsCLI wraps manual management helpers for the background queue.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required (--redis or REDIS_ADDR)")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the metrics of the default queue.
func (c *JobsCLI) InspectQueue(_ context.Context) (QueueStats, error) {
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

const redisFlagUsage = "Redis address of the job queue"

func newEnqueueCommand() *cobra.Command {
	var redisAddr string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Hand a consolidation or reconciliation to the background worker",
	}
	cmd.PersistentFlags().StringVar(&redisAddr, "redis", os.Getenv("REDIS_ADDR"), redisFlagUsage)

	var root, asOf, periodStart string
	run := &cobra.Command{
		Use:   "run",
		Short: "Enqueue a consolidation run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := NewJobsCLI(redisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.client.EnqueueConsolidation(cmd.Context(), root, asOf, periodStart)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s %s on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	run.Flags().StringVar(&root, "root", "", "root entity")
	run.Flags().StringVar(&asOf, "as-of", "", "reporting date YYYY-MM-DD (defaults to the day the worker runs it)")
	run.Flags().StringVar(&periodStart, "period-start", "", "first day of the income period")
	_ = run.MarkFlagRequired("root")

	var reconcileAsOf string
	rec := &cobra.Command{
		Use:   "reconcile",
		Short: "Enqueue a reconciliation of the cached reported balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := NewJobsCLI(redisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.client.EnqueueReconcile(cmd.Context(), reconcileAsOf)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s %s on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	rec.Flags().StringVar(&reconcileAsOf, "as-of", "", "reconciliation date YYYY-MM-DD")

	cmd.AddCommand(run, rec)
	return cmd
}

func newQueueCommand() *cobra.Command {
	var redisAddr string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show background queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := NewJobsCLI(redisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			stats, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			row(tw, "Queue", "Pending", "Active", "Scheduled", "Retry", "Archived")
			row(tw, stats.Queue, printer.Sprint(stats.Pending), printer.Sprint(stats.Active),
				printer.Sprint(stats.Scheduled), printer.Sprint(stats.Retry), printer.Sprint(stats.Archived))
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&redisAddr, "redis", os.Getenv("REDIS_ADDR"), redisFlagUsage)
	return cmd
}
