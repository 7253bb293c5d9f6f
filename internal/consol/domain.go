package consol

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/elimination"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
)

// Presentation labels for the lines produced by the equity method and
// minority interest.
const (
	LineEquityInEarnings       = "Equity in earnings of affiliates"
	LineInvestmentInAffiliates = "Investment in affiliate"
	LineMinorityInterest       = "Minority interest"
)

var (
	// ErrMissingChildFinancials indicates an included entity has no supplied financials.
	ErrMissingChildFinancials = errors.New("consol: missing entity financials")
	// ErrUnknownConsolidationMethod indicates a child carries an unsupported method.
	ErrUnknownConsolidationMethod = errors.New("consol: unknown consolidation method")
	// ErrUnmappedAccount indicates an elimination posting to an account with no statement line.
	ErrUnmappedAccount = errors.New("consol: account has no statement line")
)

// ConsolidationError aborts a run and names the offending entity.
type ConsolidationError struct {
	EntityID string
	Err      error
}

func (e *ConsolidationError) Error() string {
	return fmt.Sprintf("%v (entity %s)", e.Err, e.EntityID)
}

func (e *ConsolidationError) Unwrap() error {
	return e.Err
}

// Financials are the unconsolidated figures of one entity as supplied by the
// financials collaborator. Totals are assumed to include intercompany activity.
type Financials struct {
	EntityID    string          `json:"entity_id" yaml:"entity_id"`
	AsOf        time.Time       `json:"as_of" yaml:"as_of"`
	Assets      decimal.Decimal `json:"assets" yaml:"assets"`
	Liabilities decimal.Decimal `json:"liabilities" yaml:"liabilities"`
	Revenue     decimal.Decimal `json:"revenue" yaml:"revenue"`
	Expense     decimal.Decimal `json:"expense" yaml:"expense"`
	NetIncome   decimal.Decimal `json:"net_income" yaml:"net_income"`
}

// LineItems is an aggregate of statement lines. Detail breaks the totals down
// by intercompany account.
type LineItems struct {
	Assets                 decimal.Decimal            `json:"assets"`
	Liabilities            decimal.Decimal            `json:"liabilities"`
	Revenue                decimal.Decimal            `json:"revenue"`
	Expense                decimal.Decimal            `json:"expense"`
	NetIncome              decimal.Decimal            `json:"net_income"`
	EquityInEarnings       decimal.Decimal            `json:"equity_in_earnings"`
	InvestmentInAffiliates decimal.Decimal            `json:"investment_in_affiliates"`
	MinorityInterest       decimal.Decimal            `json:"minority_interest"`
	Detail                 map[string]decimal.Decimal `json:"detail,omitempty"`
}

// FromFinancials seeds line items with an entity's own figures.
func FromFinancials(f Financials) LineItems {
	return LineItems{
		Assets:      f.Assets,
		Liabilities: f.Liabilities,
		Revenue:     f.Revenue,
		Expense:     f.Expense,
		NetIncome:   f.NetIncome,
	}
}

// NetAssets returns Assets minus Liabilities.
func (l LineItems) NetAssets() decimal.Decimal {
	return l.Assets.Sub(l.Liabilities)
}

// AttributableNetIncome returns net income after the minority interest contra-line.
func (l LineItems) AttributableNetIncome() decimal.Decimal {
	return l.NetIncome.Sub(l.MinorityInterest)
}

// Add returns the line-by-line sum of l and o.
func (l LineItems) Add(o LineItems) LineItems {
	out := LineItems{
		Assets:                 l.Assets.Add(o.Assets),
		Liabilities:            l.Liabilities.Add(o.Liabilities),
		Revenue:                l.Revenue.Add(o.Revenue),
		Expense:                l.Expense.Add(o.Expense),
		NetIncome:              l.NetIncome.Add(o.NetIncome),
		EquityInEarnings:       l.EquityInEarnings.Add(o.EquityInEarnings),
		InvestmentInAffiliates: l.InvestmentInAffiliates.Add(o.InvestmentInAffiliates),
		MinorityInterest:       l.MinorityInterest.Add(o.MinorityInterest),
	}
	out.Detail = l.cloneDetail()
	for k, v := range o.Detail {
		out.addDetail(k, v)
	}
	return out
}

// DetailAmount returns the detail line for account, zero when absent.
func (l LineItems) DetailAmount(account string) decimal.Decimal {
	return l.Detail[account]
}

// DetailAccounts returns the detail accounts in lexical order.
func (l LineItems) DetailAccounts() []string {
	out := make([]string, 0, len(l.Detail))
	for k := range l.Detail {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (l LineItems) cloneDetail() map[string]decimal.Decimal {
	if len(l.Detail) == 0 {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(l.Detail))
	for k, v := range l.Detail {
		out[k] = v
	}
	return out
}

func (l *LineItems) addDetail(account string, amount decimal.Decimal) {
	if l.Detail == nil {
		l.Detail = make(map[string]decimal.Decimal)
	}
	l.Detail[account] = l.Detail[account].Add(amount)
}

// Treatment describes how a member of the subtree entered the run.
type Treatment string

const (
	// TreatmentRoot is the reporting entity.
	TreatmentRoot Treatment = "ROOT"
	// TreatmentFull marks gross line items inside the consolidated perimeter.
	TreatmentFull Treatment = "FULL"
	// TreatmentEquity marks an affiliate carried at its share of earnings and net assets.
	TreatmentEquity Treatment = "EQUITY"
	// TreatmentViaAffiliate marks an entity rolled into an equity affiliate.
	TreatmentViaAffiliate Treatment = "VIA_AFFILIATE"
	// TreatmentExcluded marks an entity left out of the run.
	TreatmentExcluded Treatment = "EXCLUDED"
)

// Member is one entity of the consolidated subtree.
type Member struct {
	EntityID  string          `json:"entity_id"`
	Name      string          `json:"name"`
	ParentID  string          `json:"parent_id,omitempty"`
	Method    entity.Method   `json:"method"`
	Ownership decimal.Decimal `json:"ownership"`
	Effective decimal.Decimal `json:"effective_ownership"`
	Treatment Treatment       `json:"treatment"`
}

// Perimeter lists the subtree members in pre-order.
type Perimeter []Member

// Consolidated returns the ids whose gross lines are in the statement.
func (p Perimeter) Consolidated() map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range p {
		if m.Treatment == TreatmentRoot || m.Treatment == TreatmentFull {
			out[m.EntityID] = struct{}{}
		}
	}
	return out
}

// With returns the members carrying treatment t.
func (p Perimeter) With(t Treatment) []Member {
	var out []Member
	for _, m := range p {
		if m.Treatment == t {
			out = append(out, m)
		}
	}
	return out
}

// CapitalMovement is an intra-group capital flow netted against equity.
type CapitalMovement struct {
	Payer     string          `json:"payer"`
	Recipient string          `json:"recipient"`
	Category  string          `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
}

// EquityRollForward summarises capital movements inside the perimeter for the
// period. They never touch consolidated income.
type EquityRollForward struct {
	Contributions decimal.Decimal   `json:"contributions"`
	Distributions decimal.Decimal   `json:"distributions"`
	Movements     []CapitalMovement `json:"movements,omitempty"`
}

// Statement is the outcome of one consolidation run.
type Statement struct {
	RootID       string              `json:"root_id"`
	AsOf         time.Time           `json:"as_of"`
	Period       elimination.Period  `json:"-"`
	Gross        LineItems           `json:"gross"`
	Consolidated LineItems           `json:"consolidated"`
	Eliminations elimination.Journal `json:"eliminations"`
	Perimeter    Perimeter           `json:"perimeter"`
	Equity       EquityRollForward   `json:"equity_roll_forward"`
	GeneratedAt  time.Time           `json:"generated_at"`
}
