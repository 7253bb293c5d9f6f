package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category classifies an intercompany transaction.
type Category string

const (
	CategoryManagementFee       Category = "MANAGEMENT_FEE"
	CategoryLoanInterest        Category = "LOAN_INTEREST"
	CategoryCapitalContribution Category = "CAPITAL_CONTRIBUTION"
	CategoryDistribution        Category = "DISTRIBUTION"
	CategoryReimbursement       Category = "REIMBURSEMENT"
	CategoryOther               Category = "OTHER"
)

var categoryOrder = []Category{
	CategoryManagementFee,
	CategoryLoanInterest,
	CategoryCapitalContribution,
	CategoryDistribution,
	CategoryReimbursement,
	CategoryOther,
}

// Categories lists every category in presentation order.
func Categories() []Category {
	return append([]Category(nil), categoryOrder...)
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c.rank() >= 0
}

// IsCapital reports whether c moves capital rather than creating a receivable.
func (c Category) IsCapital() bool {
	return c == CategoryCapitalContribution || c == CategoryDistribution
}

// IsRecurring reports whether c is recognised through income and expense each period.
func (c Category) IsRecurring() bool {
	return c == CategoryManagementFee || c == CategoryLoanInterest
}

func (c Category) rank() int {
	for i, v := range categoryOrder {
		if v == c {
			return i
		}
	}
	return -1
}

// Status tracks the posting lifecycle of a transaction.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPosted  Status = "POSTED"
)

// Side is the side of a ledger leg.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Intercompany accounts used by ledger legs and elimination entries.
const (
	AccountICReceivable        = "Intercompany Receivable"
	AccountICPayable           = "Intercompany Payable"
	AccountCapitalReceived     = "Intercompany Capital Received"
	AccountCapitalPaid         = "Intercompany Capital Paid"
	AccountDistributionIn      = "Intercompany Distribution Received"
	AccountDistributionOut     = "Intercompany Distribution Paid"
	AccountManagementFeeIncome = "Management Fee Income"
	AccountManagementFeeCost   = "Management Fee Expense"
	AccountInterestIncome      = "Interest Income"
	AccountInterestExpense     = "Interest Expense"
)

// LegAccounts returns the debit account booked on the receiving entity and the
// credit account booked on the paying entity for a category.
func LegAccounts(c Category) (debit, credit string) {
	switch c {
	case CategoryCapitalContribution:
		return AccountCapitalReceived, AccountCapitalPaid
	case CategoryDistribution:
		return AccountDistributionIn, AccountDistributionOut
	default:
		return AccountICReceivable, AccountICPayable
	}
}

// IncomeAccounts returns the recipient income account and payer expense
// account for recurring categories.
func IncomeAccounts(c Category) (income, expense string, ok bool) {
	switch c {
	case CategoryManagementFee:
		return AccountManagementFeeIncome, AccountManagementFeeCost, true
	case CategoryLoanInterest:
		return AccountInterestIncome, AccountInterestExpense, true
	}
	return "", "", false
}

// Transaction is one intercompany movement of value from the paying entity
// (From) to the receiving entity (To).
type Transaction struct {
	ID               string
	Sequence         int64
	Date             time.Time
	From             string
	To               string
	Category         Category
	Amount           decimal.Decimal
	Description      string
	LinkedInvoiceRef string
	Status           Status
	// ReversalOf references the transaction this one reverses.
	ReversalOf string
	RecordedAt time.Time
	PostedAt   *time.Time
}

// IsReversal reports whether the transaction reverses another one.
func (t Transaction) IsReversal() bool {
	return t.ReversalOf != ""
}

// Involves reports whether the transaction is between a and b in either direction.
func (t Transaction) Involves(a, b string) bool {
	return (t.From == a && t.To == b) || (t.From == b && t.To == a)
}

// Direction returns the paying and receiving entity of the movement the
// transaction contributes to, and the signed amount. A reversal contributes a
// negative amount to the direction of the transaction it reverses.
func (t Transaction) Direction() (payer, recipient string, amount decimal.Decimal) {
	if t.IsReversal() {
		return t.To, t.From, t.Amount.Neg()
	}
	return t.From, t.To, t.Amount
}

// Leg is one side of the double entry implied by a transaction.
type Leg struct {
	TransactionID string
	EntityID      string
	Counterparty  string
	Side          Side
	Account       string
	Amount        decimal.Decimal
}

// Entry is the unit committed to the log: a transaction and its two mirrored legs.
type Entry struct {
	Transaction Transaction
	Legs        [2]Leg
}

// RecordInput is what the transaction-entry collaborator submits.
type RecordInput struct {
	Date             time.Time       `json:"date"`
	From             string          `json:"from_entity" validate:"required,max=64"`
	To               string          `json:"to_entity" validate:"required,max=64"`
	Category         Category        `json:"category" validate:"required,oneof=MANAGEMENT_FEE LOAN_INTEREST CAPITAL_CONTRIBUTION DISTRIBUTION REIMBURSEMENT OTHER"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description" validate:"max=500"`
	LinkedInvoiceRef string          `json:"linked_invoice_ref" validate:"omitempty,max=64"`
}

// Filter narrows Transactions queries. Zero values disable a criterion.
type Filter struct {
	EntityID   string
	PostedOnly bool
	Since      time.Time
	Through    time.Time
}

func (f Filter) match(t Transaction) bool {
	if f.EntityID != "" && t.From != f.EntityID && t.To != f.EntityID {
		return false
	}
	if f.PostedOnly && t.Status != StatusPosted {
		return false
	}
	if !f.Since.IsZero() && t.Date.Before(f.Since) {
		return false
	}
	if !f.Through.IsZero() && t.Date.After(f.Through) {
		return false
	}
	return true
}

func buildLegs(t Transaction) [2]Leg {
	debit, credit := LegAccounts(t.Category)
	return [2]Leg{
		{TransactionID: t.ID, EntityID: t.To, Counterparty: t.From, Side: SideDebit, Account: debit, Amount: t.Amount},
		{TransactionID: t.ID, EntityID: t.From, Counterparty: t.To, Side: SideCredit, Account: credit, Amount: t.Amount},
	}
}
