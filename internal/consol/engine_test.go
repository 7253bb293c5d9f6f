package consol

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-consol/internal/entity"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
)

var asOf = time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pct(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func requireAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !d(want).Equal(got) {
		require.Fail(t, fmt.Sprintf("amount mismatch: want %s got %s", want, got), msgAndArgs...)
	}
}

func fin(id, assets, liabilities, revenue, expense, netIncome string) Financials {
	return Financials{
		EntityID:    id,
		AsOf:        asOf,
		Assets:      d(assets),
		Liabilities: d(liabilities),
		Revenue:     d(revenue),
		Expense:     d(expense),
		NetIncome:   d(netIncome),
	}
}

type fixture struct {
	graph  *entity.Graph
	ledger *ledger.Ledger
	source *StaticFinancials
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := entity.NewGraph()
	return &fixture{graph: g, ledger: ledger.New(g, ledger.Config{}), source: NewStaticFinancials()}
}

func (f *fixture) add(t *testing.T, id, parent string, ownership int64, method entity.Method) {
	t.Helper()
	require.NoError(t, f.graph.Add(entity.Entity{ID: id, Name: id, Type: entity.TypeOperatingBusiness, Ownership: pct(ownership), Method: method}, parent))
}

func (f *fixture) post(t *testing.T, date time.Time, from, to string, c ledger.Category, amount string) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.ledger.Record(ctx, ledger.RecordInput{Date: date, From: from, To: to, Category: c, Amount: d(amount)})
	require.NoError(t, err)
	_, err = f.ledger.Post(ctx, id)
	require.NoError(t, err)
	return id
}

func (f *fixture) engine(workers int) *Engine {
	return NewEngine(f.graph, f.ledger, f.source, Config{Workers: workers})
}

func TestConsolidateLeafReturnsOwnFinancials(t *testing.T) {
	f := newFixture(t)
	f.add(t, "M", "", 100, entity.MethodFull)
	f.source.Put(fin("M", "1000", "400", "300", "200", "100"))

	st, err := f.engine(2).Consolidate(context.Background(), "M", asOf)
	require.NoError(t, err)
	requireAmount(t, "1000", st.Consolidated.Assets)
	requireAmount(t, "400", st.Consolidated.Liabilities)
	requireAmount(t, "300", st.Consolidated.Revenue)
	requireAmount(t, "200", st.Consolidated.Expense)
	requireAmount(t, "100", st.Consolidated.NetIncome)
	require.True(t, st.Consolidated.MinorityInterest.IsZero())
	require.Empty(t, st.Eliminations.Entries)
	require.Len(t, st.Perimeter, 1)
	require.Equal(t, TreatmentRoot, st.Perimeter[0].Treatment)
}

func TestConsolidateFullyOwnedChildAddsEveryLine(t *testing.T) {
	f := newFixture(t)
	f.add(t, "P", "", 100, entity.MethodFull)
	f.add(t, "C", "P", 100, entity.MethodFull)
	f.source.Put(fin("P", "1000", "400", "300", "200", "100"))
	f.source.Put(fin("C", "250", "50", "120", "70", "50"))

	st, err := f.engine(4).Consolidate(context.Background(), "P", asOf)
	require.NoError(t, err)
	requireAmount(t, "1250", st.Consolidated.Assets)
	requireAmount(t, "450", st.Consolidated.Liabilities)
	requireAmount(t, "420", st.Consolidated.Revenue)
	requireAmount(t, "270", st.Consolidated.Expense)
	requireAmount(t, "150", st.Consolidated.NetIncome)
	require.True(t, st.Consolidated.MinorityInterest.IsZero())
}

func TestConsolidateEquityChildAddsShareOfEarnings(t *testing.T) {
	f := newFixture(t)
	f.add(t, "P", "", 100, entity.MethodFull)
	f.add(t, "A", "P", 50, entity.MethodEquity)
	f.source.Put(fin("P", "1000", "400", "300", "200", "100"))
	f.source.Put(fin("A", "600", "200", "500", "300", "200"))

	st, err := f.engine(2).Consolidate(context.Background(), "P", asOf)
	require.NoError(t, err)
	requireAmount(t, "100", st.Consolidated.EquityInEarnings)
	requireAmount(t, "200", st.Consolidated.NetIncome)
	requireAmount(t, "200", st.Consolidated.InvestmentInAffiliates)
	requireAmount(t, "1200", st.Consolidated.Assets)
	requireAmount(t, "300", st.Consolidated.Revenue, "affiliate revenue stays out of gross lines")
	requireAmount(t, "200", st.Consolidated.Expense)
	require.Equal(t, []Member{st.Perimeter[1]}, st.Perimeter.With(TreatmentEquity))
}

func TestConsolidateMinorityInterestFollowsAttribution(t *testing.T) {
	f := newFixture(t)
	f.add(t, "P", "", 100, entity.MethodFull)
	f.add(t, "C", "P", 80, entity.MethodFull)
	f.add(t, "G", "C", 50, entity.MethodFull)
	f.source.Put(fin("P", "0", "0", "0", "0", "0"))
	f.source.Put(fin("C", "0", "0", "1000", "0", "1000"))
	f.source.Put(fin("G", "0", "0", "400", "0", "400"))

	st, err := f.engine(3).Consolidate(context.Background(), "P", asOf)
	require.NoError(t, err)
	requireAmount(t, "1400", st.Consolidated.NetIncome)
	requireAmount(t, "440", st.Consolidated.MinorityInterest)
	requireAmount(t, "960", st.Consolidated.AttributableNetIncome())

	var effective decimal.Decimal
	for _, m := range st.Perimeter {
		if m.EntityID == "G" {
			effective = m.Effective
		}
	}
	requireAmount(t, "40", effective)
}

func TestConsolidateEliminatesManagementFee(t *testing.T) {
	f := newFixture(t)
	f.add(t, "M", "", 100, entity.MethodFull)
	f.add(t, "S1", "M", 100, entity.MethodFull)
	f.add(t, "S2", "M", 50, entity.MethodEquity)
	f.source.Put(fin("M", "500000", "200000", "100000", "60000", "40000"))
	f.source.Put(fin("S1", "150000", "50000", "80000", "30000", "50000"))
	f.source.Put(fin("S2", "90000", "30000", "70000", "50000", "20000"))
	f.post(t, time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC), "M", "S1", ledger.CategoryManagementFee, "18500")
	f.post(t, time.Date(2024, time.April, 15, 0, 0, 0, 0, time.UTC), "S2", "S1", ledger.CategoryReimbursement, "5000")

	st, err := f.engine(4).Consolidate(context.Background(), "M", asOf)
	require.NoError(t, err)

	requireAmount(t, "180000", st.Gross.Revenue)
	requireAmount(t, "90000", st.Gross.Expense)
	requireAmount(t, "161500", st.Consolidated.Revenue)
	requireAmount(t, "71500", st.Consolidated.Expense)
	requireAmount(t, "100000", st.Consolidated.NetIncome)
	requireAmount(t, "10000", st.Consolidated.EquityInEarnings)
	requireAmount(t, "661500", st.Consolidated.Assets)
	requireAmount(t, "231500", st.Consolidated.Liabilities)

	requireAmount(t, "23500", st.Gross.DetailAmount(ledger.AccountICReceivable))
	requireAmount(t, "18500", st.Gross.DetailAmount(ledger.AccountICPayable))
	requireAmount(t, "5000", st.Consolidated.DetailAmount(ledger.AccountICReceivable), "position against the affiliate survives")
	requireAmount(t, "0", st.Consolidated.DetailAmount(ledger.AccountICPayable))
	requireAmount(t, "0", st.Consolidated.DetailAmount(ledger.AccountManagementFeeIncome))
	requireAmount(t, "0", st.Consolidated.DetailAmount(ledger.AccountManagementFeeCost))

	require.Len(t, st.Eliminations.Entries, 2)
	require.True(t, st.Eliminations.Balanced())
	for _, e := range st.Eliminations.Entries {
		require.Equal(t, "M", e.EntityA)
		require.Equal(t, "S1", e.EntityB)
	}
}

func TestConsolidateCapitalMovementsOnlyReachEquity(t *testing.T) {
	f := newFixture(t)
	f.add(t, "M", "", 100, entity.MethodFull)
	f.add(t, "S", "M", 100, entity.MethodFull)
	f.source.Put(fin("M", "100", "0", "10", "0", "10"))
	f.source.Put(fin("S", "100", "0", "10", "0", "10"))
	f.post(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), "M", "S", ledger.CategoryCapitalContribution, "700")
	f.post(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), "S", "M", ledger.CategoryDistribution, "50")

	st, err := f.engine(2).Consolidate(context.Background(), "M", asOf)
	require.NoError(t, err)
	require.Empty(t, st.Eliminations.Entries)
	requireAmount(t, "20", st.Consolidated.NetIncome)
	requireAmount(t, "700", st.Equity.Contributions)
	requireAmount(t, "50", st.Equity.Distributions)
	require.Len(t, st.Equity.Movements, 2)
}

func TestConsolidateExcludesNoneSubtree(t *testing.T) {
	f := newFixture(t)
	f.add(t, "M", "", 100, entity.MethodFull)
	f.add(t, "X", "M", 100, entity.MethodNone)
	f.add(t, "XC", "X", 100, entity.MethodFull)
	f.source.Put(fin("M", "100", "0", "10", "0", "10"))

	st, err := f.engine(2).Consolidate(context.Background(), "M", asOf)
	require.NoError(t, err)
	requireAmount(t, "100", st.Consolidated.Assets)
	require.Len(t, st.Perimeter.With(TreatmentExcluded), 2)
}

func TestConsolidateOnlyEliminatesInsidePerimeter(t *testing.T) {
	f := newFixture(t)
	f.add(t, "M", "", 100, entity.MethodFull)
	f.add(t, "A", "M", 30, entity.MethodEquity)
	f.add(t, "AS", "A", 100, entity.MethodFull)
	for _, id := range []string{"M", "A", "AS"} {
		f.source.Put(fin(id, "100", "0", "10", "0", "10"))
	}
	f.post(t, time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC), "M", "A", ledger.CategoryManagementFee, "4")
	f.post(t, time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC), "A", "AS", ledger.CategoryLoanInterest, "3")

	st, err := f.engine(2).Consolidate(context.Background(), "M", asOf)
	require.NoError(t, err)
	require.Empty(t, st.Eliminations.Entries)
	requireAmount(t, "4", st.Consolidated.DetailAmount(ledger.AccountICPayable))
	require.Equal(t, TreatmentViaAffiliate, st.Perimeter[2].Treatment)
	// A rolls AS up in full, so the group books 30% of 20.
	requireAmount(t, "6", st.Consolidated.EquityInEarnings)
}

func TestConsolidatePeriodStartNarrowsIncomeEliminations(t *testing.T) {
	f := newFixture(t)
	f.add(t, "M", "", 100, entity.MethodFull)
	f.add(t, "S", "M", 100, entity.MethodFull)
	f.source.Put(fin("M", "0", "0", "0", "0", "0"))
	f.source.Put(fin("S", "0", "0", "0", "0", "0"))
	f.post(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), "M", "S", ledger.CategoryManagementFee, "100")
	f.post(t, time.Date(2024, time.November, 1, 0, 0, 0, 0, time.UTC), "M", "S", ledger.CategoryManagementFee, "40")

	st, err := f.engine(2).Consolidate(context.Background(), "M", asOf, WithPeriodStart(time.Date(2024, time.October, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.Len(t, st.Eliminations.Entries, 2)
	requireAmount(t, "140", st.Eliminations.Entries[0].Debit.Amount, "balances are cumulative")
	requireAmount(t, "40", st.Eliminations.Entries[1].Debit.Amount, "income is limited to the period")
}

func TestConsolidateMissingFinancials(t *testing.T) {
	f := newFixture(t)
	f.add(t, "M", "", 100, entity.MethodFull)
	f.add(t, "S", "M", 100, entity.MethodFull)
	f.source.Put(fin("M", "0", "0", "0", "0", "0"))

	_, err := f.engine(2).Consolidate(context.Background(), "M", asOf)
	require.ErrorIs(t, err, ErrMissingChildFinancials)
	var cerr *ConsolidationError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, "S", cerr.EntityID)
}

func TestConsolidateUnknownMethodRejectsRun(t *testing.T) {
	f := newFixture(t)
	f.add(t, "M", "", 100, entity.MethodFull)
	f.add(t, "S", "M", 100, entity.MethodUnknown)
	f.source.Put(fin("M", "0", "0", "0", "0", "0"))
	f.source.Put(fin("S", "0", "0", "0", "0", "0"))

	_, err := f.engine(2).Consolidate(context.Background(), "M", asOf)
	require.ErrorIs(t, err, ErrUnknownConsolidationMethod)
	var cerr *ConsolidationError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, "S", cerr.EntityID)
}

func TestConsolidateUnknownRoot(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine(1).Consolidate(context.Background(), "nope", asOf)
	require.ErrorIs(t, err, entity.ErrUnknownEntity)
}

func TestConsolidateHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	f.add(t, "M", "", 100, entity.MethodFull)
	f.source.Put(fin("M", "0", "0", "0", "0", "0"))
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("S%02d", i)
		f.add(t, id, "M", 100, entity.MethodFull)
		f.source.Put(fin(id, "1", "0", "1", "0", "1"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, err := f.engine(4).Consolidate(ctx, "M", asOf)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, st.RootID)
}

func TestConsolidateIsIndependentOfWorkerCount(t *testing.T) {
	f := newFixture(t)
	f.add(t, "M", "", 100, entity.MethodFull)
	f.source.Put(fin("M", "10", "5", "3", "2", "1"))
	for i := 0; i < 8; i++ {
		h := fmt.Sprintf("H%d", i)
		f.add(t, h, "M", 60+int64(i)*5, entity.MethodFull)
		f.source.Put(fin(h, "100", "40", "30", "20", "10"))
		for j := 0; j < 4; j++ {
			c := fmt.Sprintf("%s-%d", h, j)
			method := entity.MethodFull
			if j%2 == 1 {
				method = entity.MethodEquity
			}
			f.add(t, c, h, 25*int64(j+1), method)
			f.source.Put(fin(c, "50", "10", "20", "15", "5"))
		}
		f.post(t, time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC), "M", h, ledger.CategoryLoanInterest, "2.5")
	}

	serial, err := f.engine(1).Consolidate(context.Background(), "M", asOf)
	require.NoError(t, err)
	for run := 0; run < 10; run++ {
		parallel, err := f.engine(8).Consolidate(context.Background(), "M", asOf)
		require.NoError(t, err)
		for _, pair := range [][2]decimal.Decimal{
			{serial.Consolidated.Assets, parallel.Consolidated.Assets},
			{serial.Consolidated.Liabilities, parallel.Consolidated.Liabilities},
			{serial.Consolidated.Revenue, parallel.Consolidated.Revenue},
			{serial.Consolidated.Expense, parallel.Consolidated.Expense},
			{serial.Consolidated.NetIncome, parallel.Consolidated.NetIncome},
			{serial.Consolidated.MinorityInterest, parallel.Consolidated.MinorityInterest},
			{serial.Consolidated.EquityInEarnings, parallel.Consolidated.EquityInEarnings},
		} {
			require.True(t, pair[0].Equal(pair[1]), "%s != %s", pair[0], pair[1])
		}
		require.Len(t, parallel.Eliminations.Entries, len(serial.Eliminations.Entries))
	}
}

func TestStaticFinancialsReturnsLatestOnOrBefore(t *testing.T) {
	s := NewStaticFinancials()
	early := fin("M", "1", "0", "0", "0", "0")
	early.AsOf = time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)
	s.Put(fin("M", "2", "0", "0", "0", "0"))
	s.Put(early)

	got, ok := s.Lookup("M", time.Date(2024, time.September, 30, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	requireAmount(t, "1", got.Assets)
	got, ok = s.Lookup("M", asOf)
	require.True(t, ok)
	requireAmount(t, "2", got.Assets)
	_, ok = s.Lookup("M", time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.False(t, ok)
}

func TestStaticFinancialsAllListsEveryDate(t *testing.T) {
	early := fin("S1", "1", "0", "0", "0", "0")
	early.AsOf = time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)
	s := NewStaticFinancials(fin("S1", "2", "0", "0", "0", "0"), fin("M", "3", "0", "0", "0", "0"), early)

	all := s.All()
	require.Len(t, all, 3)
	require.Equal(t, "M", all[0].EntityID)
	require.Equal(t, "S1", all[1].EntityID)
	require.True(t, all[1].AsOf.Before(all[2].AsOf))
}

func TestConsolidateNestedChainsUseAttributableIncome(t *testing.T) {
	t.Run("equity over full", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, "P", "", 100, entity.MethodFull)
		f.add(t, "E", "P", 50, entity.MethodEquity)
		f.add(t, "G", "E", 80, entity.MethodFull)
		f.source.Put(fin("P", "0", "0", "0", "0", "0"))
		f.source.Put(fin("E", "0", "0", "1000", "0", "1000"))
		f.source.Put(fin("G", "0", "0", "400", "0", "400"))

		st, err := f.engine(2).Consolidate(context.Background(), "P", asOf)
		require.NoError(t, err)
		// 50% of (1000 + 400 - 20% of 400)
		requireAmount(t, "660", st.Consolidated.EquityInEarnings)
		requireAmount(t, "660", st.Consolidated.NetIncome)
		require.True(t, st.Consolidated.MinorityInterest.IsZero())
		require.True(t, st.Consolidated.Revenue.IsZero())
	})

	t.Run("full over equity", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, "P", "", 100, entity.MethodFull)
		f.add(t, "C", "P", 80, entity.MethodFull)
		f.add(t, "A", "C", 50, entity.MethodEquity)
		f.source.Put(fin("P", "0", "0", "0", "0", "0"))
		f.source.Put(fin("C", "0", "0", "1000", "0", "1000"))
		f.source.Put(fin("A", "0", "0", "400", "0", "400"))

		st, err := f.engine(2).Consolidate(context.Background(), "P", asOf)
		require.NoError(t, err)
		requireAmount(t, "200", st.Consolidated.EquityInEarnings)
		requireAmount(t, "1200", st.Consolidated.NetIncome)
		requireAmount(t, "240", st.Consolidated.MinorityInterest)
		requireAmount(t, "960", st.Consolidated.AttributableNetIncome())
		requireAmount(t, "1000", st.Consolidated.Revenue)
	})
}
