package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
)

const csvBufferSize = 32 * 1024

// Options tune rendered output.
type Options struct {
	// Currency switches amounts to the display format of an ISO code.
	Currency string
}

// WriteCSV streams the statement followed by its elimination journal.
func WriteCSV(w io.Writer, st consol.Statement, opts Options) error {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	out := csv.NewWriter(buf)
	out.UseCRLF = true

	header := fmt.Sprintf("# Consolidated statement %s as of %s (period %s)\r\n",
		st.RootID, st.AsOf.Format("2006-01-02"), st.Period.Code())
	if _, err := buf.WriteString(header); err != nil {
		return err
	}

	records := [][]string{{"section", "line", "gross", "elimination", "consolidated"}}
	for _, r := range Rows(st) {
		records = append(records, []string{
			r.Section,
			r.Label,
			FormatAmount(r.Gross, opts.Currency),
			FormatAmount(r.Elimination, opts.Currency),
			FormatAmount(r.Consolidated, opts.Currency),
		})
	}
	records = append(records, []string{})
	records = append(records, []string{"ref", "kind", "debit_account", "debit_entity", "credit_account", "credit_entity", "amount"})
	for _, e := range st.Eliminations.Entries {
		records = append(records, []string{
			e.Ref,
			string(e.Kind),
			e.Debit.Account,
			e.Debit.EntityID,
			e.Credit.Account,
			e.Credit.EntityID,
			FormatAmount(e.Debit.Amount, opts.Currency),
		})
	}
	for _, rec := range records {
		if err := out.Write(rec); err != nil {
			return err
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return err
	}
	return buf.Flush()
}
