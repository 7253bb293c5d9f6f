package consol

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/elimination"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
)

type statementLine int

const (
	lineUnknown statementLine = iota
	lineAsset
	lineLiability
	lineRevenue
	lineExpense
)

func lineOf(account string) statementLine {
	switch account {
	case ledger.AccountICReceivable:
		return lineAsset
	case ledger.AccountICPayable:
		return lineLiability
	case ledger.AccountManagementFeeIncome, ledger.AccountInterestIncome:
		return lineRevenue
	case ledger.AccountManagementFeeCost, ledger.AccountInterestExpense:
		return lineExpense
	}
	return lineUnknown
}

// withIntercompanyDetail breaks the intercompany positions and recurring
// charges of the consolidated entities out of the gross totals. Positions
// against entities outside the perimeter stay visible after elimination.
func withIntercompanyDetail(gross LineItems, members map[string]struct{}, balances []ledger.Balance, txs []ledger.Transaction, period elimination.Period) LineItems {
	out := gross
	out.Detail = gross.cloneDetail()
	for _, bal := range balances {
		for _, view := range []ledger.Balance{bal, bal.Inverse()} {
			if _, ok := members[view.EntityA]; !ok {
				continue
			}
			for _, line := range view.Categories {
				if line.Category.IsCapital() {
					continue
				}
				net := line.Net()
				switch {
				case net.IsPositive():
					out.addDetail(ledger.AccountICReceivable, net)
				case net.IsNegative():
					out.addDetail(ledger.AccountICPayable, net.Neg())
				}
			}
		}
	}
	for _, tx := range txs {
		if tx.Status != ledger.StatusPosted || !period.Contains(tx.Date) {
			continue
		}
		income, expense, ok := ledger.IncomeAccounts(tx.Category)
		if !ok {
			continue
		}
		payer, recipient, amount := tx.Direction()
		if _, in := members[recipient]; in {
			out.addDetail(income, amount)
		}
		if _, in := members[payer]; in {
			out.addDetail(expense, amount)
		}
	}
	return out
}

// applyEliminations posts every journal entry against the statement lines.
func applyEliminations(gross LineItems, journal elimination.Journal) (LineItems, error) {
	out := gross
	out.Detail = gross.cloneDetail()
	for _, entry := range journal.Entries {
		if err := out.post(entry.Debit, entry.Debit.Amount); err != nil {
			return LineItems{}, err
		}
		if err := out.post(entry.Credit, entry.Credit.Amount.Neg()); err != nil {
			return LineItems{}, err
		}
	}
	return out, nil
}

// post applies a signed amount, debits positive, to the line of p.Account.
func (l *LineItems) post(p elimination.Posting, signed decimal.Decimal) error {
	switch lineOf(p.Account) {
	case lineAsset:
		l.Assets = l.Assets.Add(signed)
		l.addDetail(p.Account, signed)
	case lineLiability:
		l.Liabilities = l.Liabilities.Sub(signed)
		l.addDetail(p.Account, signed.Neg())
	case lineRevenue:
		l.Revenue = l.Revenue.Sub(signed)
		l.NetIncome = l.NetIncome.Sub(signed)
		l.addDetail(p.Account, signed.Neg())
	case lineExpense:
		l.Expense = l.Expense.Add(signed)
		l.NetIncome = l.NetIncome.Sub(signed)
		l.addDetail(p.Account, signed)
	default:
		return fmt.Errorf("%w: %s", ErrUnmappedAccount, p.Account)
	}
	return nil
}

// equityRollForward nets capital movements between consolidated entities for
// the period.
func equityRollForward(members map[string]struct{}, txs []ledger.Transaction, period elimination.Period) EquityRollForward {
	type key struct {
		payer, recipient string
		category         ledger.Category
	}
	totals := make(map[key]decimal.Decimal)
	var order []key
	for _, tx := range txs {
		if tx.Status != ledger.StatusPosted || !tx.Category.IsCapital() || !period.Contains(tx.Date) {
			continue
		}
		payer, recipient, amount := tx.Direction()
		_, okPayer := members[payer]
		_, okRecipient := members[recipient]
		if !okPayer || !okRecipient {
			continue
		}
		k := key{payer: payer, recipient: recipient, category: tx.Category}
		if _, seen := totals[k]; !seen {
			order = append(order, k)
		}
		totals[k] = totals[k].Add(amount)
	}

	out := EquityRollForward{Contributions: decimal.Zero, Distributions: decimal.Zero}
	for _, k := range order {
		amount := totals[k]
		if amount.IsZero() {
			continue
		}
		out.Movements = append(out.Movements, CapitalMovement{
			Payer:     k.payer,
			Recipient: k.recipient,
			Category:  string(k.category),
			Amount:    amount,
		})
		if k.category == ledger.CategoryCapitalContribution {
			out.Contributions = out.Contributions.Add(amount)
		} else {
			out.Distributions = out.Distributions.Add(amount)
		}
	}
	return out
}
