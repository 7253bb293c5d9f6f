package elimination

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
)

// Generator derives elimination entries from ledger balances and transactions.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator constructs a generator.
func NewGenerator(logger *slog.Logger) *Generator {
	return &Generator{logger: logger}
}

type pair struct {
	a, b string
}

func orderedPair(x, y string) pair {
	if x > y {
		x, y = y, x
	}
	return pair{a: x, b: y}
}

type flowKey struct {
	pair      pair
	category  ledger.Category
	payer     string
	recipient string
}

// Generate emits, for every pair and category with activity:
//   - a balance-sheet entry debiting the payable side's intercompany payable and
//     crediting the receivable side's intercompany receivable for abs(net);
//   - for recurring categories, an income-statement entry per direction debiting
//     the recipient's income and crediting the payer's expense for the amount
//     accumulated within the period.
//
// Capital categories produce no entries. Every entry is balanced and entries
// are ordered by pair, category, then kind.
func (g *Generator) Generate(balances []ledger.Balance, txs []ledger.Transaction, period Period) (Journal, error) {
	positions := make(map[pair]ledger.Balance, len(balances))
	pairs := make(map[pair]struct{}, len(balances))
	for _, bal := range balances {
		p := orderedPair(bal.EntityA, bal.EntityB)
		if bal.EntityA != p.a {
			bal = bal.Inverse()
		}
		positions[p] = bal
		pairs[p] = struct{}{}
	}

	flows := make(map[flowKey]decimal.Decimal)
	for _, tx := range txs {
		if tx.Status != ledger.StatusPosted || !tx.Category.IsRecurring() || !period.Contains(tx.Date) {
			continue
		}
		payer, recipient, amount := tx.Direction()
		key := flowKey{pair: orderedPair(payer, recipient), category: tx.Category, payer: payer, recipient: recipient}
		flows[key] = flows[key].Add(amount)
		pairs[key.pair] = struct{}{}
	}

	ordered := make([]pair, 0, len(pairs))
	for p := range pairs {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].a != ordered[j].a {
			return ordered[i].a < ordered[j].a
		}
		return ordered[i].b < ordered[j].b
	})

	journal := Journal{Period: period, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, p := range ordered {
		bal, hasBalance := positions[p]
		for _, c := range ledger.Categories() {
			if c.IsCapital() {
				continue
			}
			if hasBalance {
				if entry, ok := balanceEntry(period, p, bal.Category(c)); ok {
					journal.add(entry)
				}
			}
			if !c.IsRecurring() {
				continue
			}
			for _, dir := range [][2]string{{p.a, p.b}, {p.b, p.a}} {
				amount, ok := flows[flowKey{pair: p, category: c, payer: dir[0], recipient: dir[1]}]
				if !ok || amount.IsZero() {
					continue
				}
				journal.add(incomeEntry(period, p, c, dir[0], dir[1], amount))
			}
		}
	}

	for _, e := range journal.Entries {
		if !e.Balanced() {
			return Journal{}, fmt.Errorf("%w: %s", ErrUnbalanced, e.Ref)
		}
	}
	if !journal.Balanced() {
		return Journal{}, ErrUnbalanced
	}

	g.log().Info("generated intercompany eliminations",
		slog.String("period", period.Code()),
		slog.Int("pairs", len(ordered)),
		slog.Int("entries", len(journal.Entries)),
		slog.String("total", journal.TotalDebit.StringFixed(2)))
	return journal, nil
}

func (j *Journal) add(e Entry) {
	j.Entries = append(j.Entries, e)
	j.TotalDebit = j.TotalDebit.Add(e.Debit.Amount)
	j.TotalCredit = j.TotalCredit.Add(e.Credit.Amount)
}

// balanceEntry eliminates the net receivable/payable of one category. line is
// expressed from p.a's side.
func balanceEntry(period Period, p pair, line ledger.CategoryBalance) (Entry, bool) {
	net := line.Net()
	if net.IsZero() {
		return Entry{}, false
	}
	receivableSide, payableSide := p.a, p.b
	if net.IsNegative() {
		receivableSide, payableSide = p.b, p.a
	}
	amount := net.Abs()
	return Entry{
		Ref:         buildRef(period, p.a, p.b, line.Category, KindBalanceSheet),
		Description: fmt.Sprintf("Eliminate %s intercompany balance %s owes %s", label(line.Category), payableSide, receivableSide),
		Category:    line.Category,
		Kind:        KindBalanceSheet,
		EntityA:     p.a,
		EntityB:     p.b,
		Debit:       Posting{Account: ledger.AccountICPayable, EntityID: payableSide, Amount: amount},
		Credit:      Posting{Account: ledger.AccountICReceivable, EntityID: receivableSide, Amount: amount},
	}, true
}

// incomeEntry eliminates the income recognised by recipient and the matching
// expense recognised by payer. A negative accumulated amount (reversals
// exceeding new charges in the period) flips the sides.
func incomeEntry(period Period, p pair, c ledger.Category, payer, recipient string, amount decimal.Decimal) Entry {
	income, expense, _ := ledger.IncomeAccounts(c)
	debit := Posting{Account: income, EntityID: recipient, Amount: amount.Abs()}
	credit := Posting{Account: expense, EntityID: payer, Amount: amount.Abs()}
	if amount.IsNegative() {
		debit, credit = credit, debit
	}
	return Entry{
		Ref:         buildRef(period, payer, recipient, c, KindIncomeStatement),
		Description: fmt.Sprintf("Eliminate %s charged by %s to %s", label(c), recipient, payer),
		Category:    c,
		Kind:        KindIncomeStatement,
		EntityA:     p.a,
		EntityB:     p.b,
		Debit:       debit,
		Credit:      credit,
	}
}

func label(c ledger.Category) string {
	switch c {
	case ledger.CategoryManagementFee:
		return "management fee"
	case ledger.CategoryLoanInterest:
		return "loan interest"
	case ledger.CategoryReimbursement:
		return "reimbursement"
	case ledger.CategoryCapitalContribution:
		return "capital contribution"
	case ledger.CategoryDistribution:
		return "distribution"
	}
	return "other"
}

func (g *Generator) log() *slog.Logger {
	if g != nil && g.logger != nil {
		return g.logger.With(slog.String("component", "ic_elimination"))
	}
	return slog.Default().With(slog.String("component", "ic_elimination"))
}
