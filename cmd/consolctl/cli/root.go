// Package cli implements consolctl, the operator tool for consolidation runs,
// reconciliation and background jobs.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-consol/internal/app"
)

type globalFlags struct {
	fixture string
	workers int
	verbose bool
}

// NewRootCommand assembles the consolctl command tree. Output goes to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:   "consolctl",
		Short: "Consolidate a family office group and reconcile intercompany balances",
		Long: `consolctl runs consolidations and reconciliations against a group loaded
from a YAML fixture (and, when PG_DSN is set, the stored journal). It can also
hand the same work to the background worker.

Examples:
  consolctl run --fixture group.yaml --as-of 2024-12-31
  consolctl run --fixture group.yaml --format xlsx --out statement.xlsx
  consolctl reconcile --fixture group.yaml
  consolctl enqueue run --root M --as-of 2024-12-31`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&flags.fixture, "fixture", "", "group fixture (defaults to CONSOL_FIXTURE)")
	root.PersistentFlags().IntVar(&flags.workers, "workers", 0, "consolidation workers (defaults to CONSOL_WORKERS)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log progress to stderr")

	root.AddCommand(
		newRunCommand(&flags),
		newReconcileCommand(&flags),
		newEnqueueCommand(),
		newQueueCommand(),
	)
	return root
}

// loadRuntime merges flags over the environment and bootstraps the group.
func loadRuntime(ctx context.Context, cmd *cobra.Command, flags *globalFlags) (*app.Config, *app.Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if flags.fixture != "" {
		cfg.Fixture = flags.fixture
	}
	if flags.workers > 0 {
		cfg.Workers = flags.workers
	}
	if cfg.Fixture == "" && cfg.PGDSN == "" {
		return nil, nil, fmt.Errorf("no group to load: pass --fixture or set CONSOL_FIXTURE")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if flags.verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	}
	rt, err := app.Bootstrap(ctx, cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}
	return cfg, rt, nil
}
