package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryBalance is the position of EntityA against EntityB for one category.
// For capital categories Receivable and Payable hold capital received and paid.
type CategoryBalance struct {
	Category   Category
	Receivable decimal.Decimal
	Payable    decimal.Decimal
}

// Net returns Receivable minus Payable.
func (c CategoryBalance) Net() decimal.Decimal {
	return c.Receivable.Sub(c.Payable)
}

// IsZero reports whether the category carries no activity.
func (c CategoryBalance) IsZero() bool {
	return c.Receivable.IsZero() && c.Payable.IsZero()
}

// Balance is the derived position of EntityA against EntityB. Receivable and
// Payable cover every non-capital category; capital movements only appear in
// Categories.
type Balance struct {
	EntityA    string
	EntityB    string
	AsOf       time.Time
	Receivable decimal.Decimal
	Payable    decimal.Decimal
	Categories []CategoryBalance
}

// Net returns Receivable minus Payable.
func (b Balance) Net() decimal.Decimal {
	return b.Receivable.Sub(b.Payable)
}

// IsZero reports whether no category carries activity.
func (b Balance) IsZero() bool {
	for _, c := range b.Categories {
		if !c.IsZero() {
			return false
		}
	}
	return true
}

// Category returns the breakdown line for c, zero when absent.
func (b Balance) Category(c Category) CategoryBalance {
	for _, line := range b.Categories {
		if line.Category == c {
			return line
		}
	}
	return CategoryBalance{Category: c, Receivable: decimal.Zero, Payable: decimal.Zero}
}

// Inverse returns the same position seen from EntityB.
func (b Balance) Inverse() Balance {
	out := Balance{
		EntityA:    b.EntityB,
		EntityB:    b.EntityA,
		AsOf:       b.AsOf,
		Receivable: b.Payable,
		Payable:    b.Receivable,
		Categories: make([]CategoryBalance, len(b.Categories)),
	}
	for i, c := range b.Categories {
		out.Categories[i] = CategoryBalance{Category: c.Category, Receivable: c.Payable, Payable: c.Receivable}
	}
	return out
}

// fold derives the balance of a against b from posted transactions dated on or
// before asOf. Reversals reduce the direction of the transaction they reverse.
func fold(a, b string, asOf time.Time, txs []Transaction) Balance {
	lines := make(map[Category]*CategoryBalance)
	for _, tx := range txs {
		if tx.Status != StatusPosted || tx.Date.After(asOf) || !tx.Involves(a, b) {
			continue
		}
		_, recipient, amount := tx.Direction()
		line, ok := lines[tx.Category]
		if !ok {
			line = &CategoryBalance{Category: tx.Category, Receivable: decimal.Zero, Payable: decimal.Zero}
			lines[tx.Category] = line
		}
		if recipient == a {
			line.Receivable = line.Receivable.Add(amount)
		} else {
			line.Payable = line.Payable.Add(amount)
		}
	}

	bal := Balance{EntityA: a, EntityB: b, AsOf: asOf, Receivable: decimal.Zero, Payable: decimal.Zero}
	for _, c := range categoryOrder {
		line, ok := lines[c]
		if !ok || line.IsZero() {
			continue
		}
		bal.Categories = append(bal.Categories, *line)
		if !c.IsCapital() {
			bal.Receivable = bal.Receivable.Add(line.Receivable)
			bal.Payable = bal.Payable.Add(line.Payable)
		}
	}
	return bal
}

// BalanceAsOf folds every posted transaction between a and b dated on or
// before date into the position of a against b.
func (l *Ledger) BalanceAsOf(a, b string, date time.Time) (Balance, error) {
	if a == b {
		return Balance{}, &LedgerError{EntityID: a, Err: ErrSelfTransaction}
	}
	for _, id := range []string{a, b} {
		if l.entities == nil || !l.entities.Has(id) {
			return Balance{}, &LedgerError{EntityID: id, Err: ErrUnknownEntity}
		}
	}

	l.mu.RLock()
	positions := l.byPair[keyOf(a, b)]
	txs := make([]Transaction, 0, len(positions))
	for _, pos := range positions {
		txs = append(txs, l.entries[pos].Transaction)
	}
	l.mu.RUnlock()

	return fold(a, b, endOfDay(date), txs), nil
}

// AllBalances returns every non-zero pairwise balance as of date. Each pair is
// reported once with EntityA ordered before EntityB.
func (l *Ledger) AllBalances(date time.Time) []Balance {
	l.mu.RLock()
	grouped := make(map[pairKey][]Transaction, len(l.byPair))
	for key, positions := range l.byPair {
		txs := make([]Transaction, 0, len(positions))
		for _, pos := range positions {
			txs = append(txs, l.entries[pos].Transaction)
		}
		grouped[key] = txs
	}
	l.mu.RUnlock()

	asOf := endOfDay(date)
	out := make([]Balance, 0, len(grouped))
	for key, txs := range grouped {
		bal := fold(key.lo, key.hi, asOf, txs)
		if bal.IsZero() {
			continue
		}
		out = append(out, bal)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityA != out[j].EntityA {
			return out[i].EntityA < out[j].EntityA
		}
		return out[i].EntityB < out[j].EntityB
	})
	return out
}

// Totals sums every debit and credit leg in the log.
func (l *Ledger) Totals() (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, leg := range l.Legs() {
		switch leg.Side {
		case SideDebit:
			debits = debits.Add(leg.Amount)
		case SideCredit:
			credits = credits.Add(leg.Amount)
		}
	}
	return debits, credits
}

// endOfDay widens a date to include every transaction booked on that day.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999999999, t.Location())
}
