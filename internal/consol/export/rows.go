// Package export renders consolidated statements for download.
package export

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
)

// Sections of the statement layout.
const (
	SectionBalanceSheet = "Balance sheet"
	SectionIncome       = "Income statement"
	SectionDetail       = "Intercompany detail"
)

// Row is one statement line with its gross, elimination and consolidated amounts.
type Row struct {
	Section      string
	Label        string
	Gross        decimal.Decimal
	Elimination  decimal.Decimal
	Consolidated decimal.Decimal
}

// Rows lays the statement out in presentation order.
func Rows(st consol.Statement) []Row {
	g, c := st.Gross, st.Consolidated
	rows := []Row{
		row(SectionBalanceSheet, "Assets", g.Assets, c.Assets),
		row(SectionBalanceSheet, consol.LineInvestmentInAffiliates, g.InvestmentInAffiliates, c.InvestmentInAffiliates),
		row(SectionBalanceSheet, "Liabilities", g.Liabilities, c.Liabilities),
		row(SectionBalanceSheet, "Net assets", g.NetAssets(), c.NetAssets()),
		row(SectionIncome, "Revenue", g.Revenue, c.Revenue),
		row(SectionIncome, "Expense", g.Expense, c.Expense),
		row(SectionIncome, consol.LineEquityInEarnings, g.EquityInEarnings, c.EquityInEarnings),
		row(SectionIncome, "Net income", g.NetIncome, c.NetIncome),
		row(SectionIncome, consol.LineMinorityInterest, g.MinorityInterest, c.MinorityInterest),
		row(SectionIncome, "Net income attributable to parent", g.AttributableNetIncome(), c.AttributableNetIncome()),
	}
	for _, account := range detailAccounts(g, c) {
		rows = append(rows, row(SectionDetail, account, g.DetailAmount(account), c.DetailAmount(account)))
	}
	return rows
}

func row(section, label string, gross, consolidated decimal.Decimal) Row {
	return Row{
		Section:      section,
		Label:        label,
		Gross:        gross,
		Elimination:  consolidated.Sub(gross),
		Consolidated: consolidated,
	}
}

func detailAccounts(a, b consol.LineItems) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{a.DetailAccounts(), b.DetailAccounts()} {
		for _, acc := range list {
			if _, ok := seen[acc]; ok {
				continue
			}
			seen[acc] = struct{}{}
			out = append(out, acc)
		}
	}
	return out
}
