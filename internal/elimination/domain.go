package elimination

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
)

// SourcePrefix is used to build deterministic entry references.
const SourcePrefix = "IC_ELIM"

// ErrUnbalanced indicates a generated journal whose debits and credits differ.
var ErrUnbalanced = errors.New("elimination: unbalanced journal")

// Kind tells which statement an entry adjusts.
type Kind string

const (
	// KindBalanceSheet removes intercompany receivable/payable positions.
	KindBalanceSheet Kind = "BALANCE_SHEET"
	// KindIncomeStatement removes intercompany income and expense.
	KindIncomeStatement Kind = "INCOME_STATEMENT"
)

// Period bounds the income-statement window of a run. Balances are cumulative
// through End.
type Period struct {
	Start time.Time
	End   time.Time
}

// YearToDate returns the period from 1 January of asOf's year through asOf.
func YearToDate(asOf time.Time) Period {
	return Period{Start: time.Date(asOf.Year(), time.January, 1, 0, 0, 0, 0, asOf.Location()), End: asOf}
}

// Code renders the period for references, e.g. 2024-01-01..2024-12-31.
func (p Period) Code() string {
	return p.Start.Format("2006-01-02") + ".." + p.End.Format("2006-01-02")
}

// Contains reports whether t falls within the period, End being inclusive of the whole day.
func (p Period) Contains(t time.Time) bool {
	y, m, d := p.End.Date()
	end := time.Date(y, m, d, 23, 59, 59, 999999999, p.End.Location())
	return !t.Before(p.Start) && !t.After(end)
}

// Posting is one side of an elimination entry.
type Posting struct {
	Account  string          `json:"account"`
	EntityID string          `json:"entity"`
	Amount   decimal.Decimal `json:"amount"`
}

// Entry is a balanced journal entry removing one category of intercompany
// activity between a pair of entities.
type Entry struct {
	Ref         string          `json:"ref"`
	Description string          `json:"description"`
	Category    ledger.Category `json:"category"`
	Kind        Kind            `json:"kind"`
	EntityA     string          `json:"entity_a"`
	EntityB     string          `json:"entity_b"`
	Debit       Posting         `json:"debit"`
	Credit      Posting         `json:"credit"`
}

// Balanced reports whether debit and credit amounts match.
func (e Entry) Balanced() bool {
	return e.Debit.Amount.Equal(e.Credit.Amount)
}

// Journal is the set of entries produced for one consolidation run.
type Journal struct {
	Period      Period          `json:"-"`
	Entries     []Entry         `json:"entries"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
}

// Balanced reports whether total debits equal total credits.
func (j Journal) Balanced() bool {
	return j.TotalDebit.Equal(j.TotalCredit)
}

func buildRef(period Period, a, b string, c ledger.Category, k Kind) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", SourcePrefix, period.Code(), a, b, c, k)
}
