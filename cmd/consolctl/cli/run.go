package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/consol/export"
)

const dateLayout = "2006-01-02"

type runFlags struct {
	root        string
	asOf        string
	periodStart string
	format      string
	out         string
}

func newRunCommand(global *globalFlags) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consolidate a root entity as of a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConsolidation(cmd, global, flags)
		},
	}
	cmd.Flags().StringVar(&flags.root, "root", "", "root entity (defaults to the fixture root)")
	cmd.Flags().StringVar(&flags.asOf, "as-of", "", "reporting date YYYY-MM-DD (defaults to the fixture date)")
	cmd.Flags().StringVar(&flags.periodStart, "period-start", "", "first day of the income period (defaults to 1 January)")
	cmd.Flags().StringVar(&flags.format, "format", "text", "output format: text, json, csv or xlsx")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "write to a file instead of stdout")
	return cmd
}

func runConsolidation(cmd *cobra.Command, global *globalFlags, flags runFlags) error {
	switch flags.format {
	case "text", "json", "csv", "xlsx":
	default:
		return fmt.Errorf("unknown format %q", flags.format)
	}
	if flags.format == "xlsx" && flags.out == "" {
		return fmt.Errorf("xlsx output needs --out")
	}

	ctx := cmd.Context()
	_, rt, err := loadRuntime(ctx, cmd, global)
	if err != nil {
		return err
	}
	defer rt.Close()

	root := flags.root
	if root == "" {
		root = rt.Root
	}
	if root == "" {
		return fmt.Errorf("no root: pass --root")
	}
	asOf, err := dateFlag("as-of", flags.asOf, rt.AsOf)
	if err != nil {
		return err
	}
	var opts []consol.RunOption
	if flags.periodStart != "" {
		start, err := dateFlag("period-start", flags.periodStart, time.Time{})
		if err != nil {
			return err
		}
		opts = append(opts, consol.WithPeriodStart(start))
	}

	st, err := rt.Engine.Consolidate(ctx, root, asOf, opts...)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if flags.out != "" {
		fh, err := os.Create(flags.out)
		if err != nil {
			return err
		}
		defer fh.Close()
		w = fh
	}
	switch flags.format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "csv":
		return export.WriteCSV(w, st, export.Options{Currency: rt.Currency})
	case "xlsx":
		if err := export.WriteXLSX(w, st); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", flags.out)
		return nil
	}
	return printStatement(w, st)
}

func printStatement(w io.Writer, st consol.Statement) error {
	fmt.Fprintf(w, "Consolidated statement for %s as of %s (income %s to %s)\n\n",
		st.RootID, st.AsOf.Format(dateLayout), st.Period.Start.Format(dateLayout), st.Period.End.Format(dateLayout))

	tw := newTable(w)
	row(tw, "Line", "Gross", "Eliminations", "Consolidated")
	section := ""
	for _, r := range export.Rows(st) {
		if r.Section != section {
			section = r.Section
			row(tw, section, "", "", "")
		}
		row(tw, r.Label, amount(r.Gross), amount(r.Elimination), amount(r.Consolidated))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nPerimeter")
	tw = newTable(w)
	row(tw, "Entity", "Treatment", "Ownership", "Effective")
	for _, m := range st.Perimeter {
		row(tw, m.EntityID, string(m.Treatment), percent(m.Ownership), percent(m.Effective))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nEliminations: %d entries, %s debit, %s credit\n",
		len(st.Eliminations.Entries), amount(st.Eliminations.TotalDebit), amount(st.Eliminations.TotalCredit))
	fmt.Fprintf(w, "Capital movements: %s contributed, %s distributed\n",
		amount(st.Equity.Contributions), amount(st.Equity.Distributions))
	return nil
}

func dateFlag(name, raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		if fallback.IsZero() {
			y, m, d := time.Now().UTC().Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
		return fallback, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", name, err)
	}
	return t, nil
}
