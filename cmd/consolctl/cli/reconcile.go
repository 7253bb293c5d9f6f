package cli

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-consol/internal/reconcile"
)

// ErrOutstanding is returned when --strict is set and a pair does not reconcile.
var ErrOutstanding = fmt.Errorf("outstanding intercompany balances")

type reconcileFlags struct {
	asOf      string
	tolerance string
	json      bool
	strict    bool
}

func newReconcileCommand(global *globalFlags) *cobra.Command {
	var flags reconcileFlags
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare reported intercompany balances with the ledger",
		Long: `reconcile compares the balances reported in the fixture, or cached in Redis
for the date when REDIS_ADDR is set, against the balances recomputed from the ledger. Ledger
pairs missing from the report are checked against zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd, global, flags)
		},
	}
	cmd.Flags().StringVar(&flags.asOf, "as-of", "", "reconciliation date YYYY-MM-DD (defaults to the fixture date)")
	cmd.Flags().StringVar(&flags.tolerance, "tolerance", "", "largest delta still balanced (defaults to CONSOL_RECONCILE_TOLERANCE)")
	cmd.Flags().BoolVar(&flags.json, "json", false, "print findings as JSON")
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "exit non-zero when a pair is outstanding")
	return cmd
}

func runReconcile(cmd *cobra.Command, global *globalFlags, flags reconcileFlags) error {
	ctx := cmd.Context()
	cfg, rt, err := loadRuntime(ctx, cmd, global)
	if err != nil {
		return err
	}
	defer rt.Close()

	asOf, err := dateFlag("as-of", flags.asOf, rt.AsOf)
	if err != nil {
		return err
	}
	reconciler := rt.Reconciler
	if flags.tolerance != "" {
		tol, err := decimal.NewFromString(flags.tolerance)
		if err != nil {
			return fmt.Errorf("--tolerance: %w", err)
		}
		reconciler = reconcile.New(rt.Ledger, reconcile.Config{Tolerance: tol})
	}

	// Bootstrap copies the fixture rows into the cache, so with Redis the cache
	// is the complete source.
	reports := rt.Reported
	if rt.Reports != nil {
		if reports, err = rt.Reports.All(ctx, asOf); err != nil {
			return fmt.Errorf("report cache %s: %w", cfg.RedisAddr, err)
		}
	}
	findings, err := reconciler.ReconcileAll(ctx, asOf, reports)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	outstanding := 0
	for _, f := range findings {
		if !f.Balanced() {
			outstanding++
		}
	}
	if flags.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(findings); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "Reconciliation as of %s\n\n", asOf.Format(dateLayout))
		tw := newTable(w)
		row(tw, "Pair", "Reported", "Computed", "Delta", "Status")
		for _, f := range findings {
			row(tw, f.EntityA+"/"+f.EntityB, amount(f.Reported), amount(f.Computed), amount(f.Delta), string(f.Status))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w, printer.Sprintf("\n%d pairs checked, %d outstanding", len(findings), outstanding))
	}
	if flags.strict && outstanding > 0 {
		return ErrOutstanding
	}
	return nil
}
