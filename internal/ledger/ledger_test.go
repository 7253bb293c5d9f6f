package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-consol/internal/shared"
)

type directory map[string]bool

func (d directory) Has(id string) bool { return d[id] }

type stubSink struct {
	mu       sync.Mutex
	entries  []Entry
	posted   map[string]time.Time
	failNext error
}

func (s *stubSink) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubSink) MarkPosted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.posted == nil {
		s.posted = make(map[string]time.Time)
	}
	s.posted[id] = at
	return nil
}

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestLedger(t *testing.T) (*Ledger, *stubSink, *shared.MemoryAuditLog) {
	t.Helper()
	sink := &stubSink{}
	audit := &shared.MemoryAuditLog{}
	l := New(directory{"M": true, "S1": true, "S2": true, "P": true}, Config{Sink: sink, Audit: audit})
	l.WithClock(func() time.Time { return day(31) })
	return l, sink, audit
}

func requireSameBalance(t *testing.T, want, got Balance) {
	t.Helper()
	require.Equal(t, want.EntityA, got.EntityA)
	require.Equal(t, want.EntityB, got.EntityB)
	require.True(t, want.Receivable.Equal(got.Receivable), "receivable %s != %s", want.Receivable, got.Receivable)
	require.True(t, want.Payable.Equal(got.Payable), "payable %s != %s", want.Payable, got.Payable)
	require.Len(t, got.Categories, len(want.Categories))
	for i := range want.Categories {
		require.Equal(t, want.Categories[i].Category, got.Categories[i].Category)
		require.True(t, want.Categories[i].Receivable.Equal(got.Categories[i].Receivable))
		require.True(t, want.Categories[i].Payable.Equal(got.Categories[i].Payable))
	}
}

func requireSameBalances(t *testing.T, want, got []Balance) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		requireSameBalance(t, want[i], got[i])
	}
}

func recordPosted(t *testing.T, l *Ledger, in RecordInput) string {
	t.Helper()
	id, err := l.Record(context.Background(), in)
	require.NoError(t, err)
	_, err = l.Post(context.Background(), id)
	require.NoError(t, err)
	return id
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	l, sink, _ := newTestLedger(t)

	cases := []struct {
		name string
		in   RecordInput
		want error
	}{
		{"self", RecordInput{Date: day(1), From: "M", To: "M", Category: CategoryOther, Amount: amt("10")}, ErrSelfTransaction},
		{"zero amount", RecordInput{Date: day(1), From: "M", To: "S1", Category: CategoryOther, Amount: decimal.Zero}, ErrNonPositiveAmount},
		{"negative amount", RecordInput{Date: day(1), From: "M", To: "S1", Category: CategoryOther, Amount: amt("-5")}, ErrNonPositiveAmount},
		{"unknown from", RecordInput{Date: day(1), From: "X", To: "S1", Category: CategoryOther, Amount: amt("5")}, ErrUnknownEntity},
		{"unknown to", RecordInput{Date: day(1), From: "M", To: "X", Category: CategoryOther, Amount: amt("5")}, ErrUnknownEntity},
		{"bad category", RecordInput{Date: day(1), From: "M", To: "S1", Category: "GIFT", Amount: amt("5")}, ErrInvalidInput},
		{"missing date", RecordInput{From: "M", To: "S1", Category: CategoryOther, Amount: amt("5")}, ErrInvalidInput},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Record(context.Background(), tt.in)
			require.ErrorIs(t, err, tt.want)
			var le *LedgerError
			require.True(t, errors.As(err, &le))
		})
	}
	require.Empty(t, l.Entries())
	require.Empty(t, sink.entries)
}

func TestRecordCommitsMirroredLegs(t *testing.T) {
	l, sink, audit := newTestLedger(t)

	id, err := l.Record(context.Background(), RecordInput{
		Date: day(5), From: "M", To: "S1", Category: CategoryManagementFee,
		Amount: amt("18500"), Description: "Q1 management fee", LinkedInvoiceRef: "INV-1001",
	})
	require.NoError(t, err)

	tx, err := l.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusPending, tx.Status)
	require.Equal(t, int64(1), tx.Sequence)

	legs := l.Legs()
	require.Len(t, legs, 2)
	debit, credit := legs[0], legs[1]
	require.Equal(t, SideDebit, debit.Side)
	require.Equal(t, "S1", debit.EntityID)
	require.Equal(t, AccountICReceivable, debit.Account)
	require.Equal(t, SideCredit, credit.Side)
	require.Equal(t, "M", credit.EntityID)
	require.Equal(t, AccountICPayable, credit.Account)
	require.Equal(t, id, credit.TransactionID)
	require.True(t, debit.Amount.Equal(credit.Amount))
	require.True(t, debit.Amount.Equal(amt("18500")))

	require.Len(t, sink.entries, 1)
	require.Len(t, audit.Logs(), 1)
	require.Equal(t, "ic_record", audit.Logs()[0].Action)
}

func TestRecordIsAtomicWhenSinkFails(t *testing.T) {
	l, sink, _ := newTestLedger(t)
	sink.failNext = errors.New("connection reset")

	_, err := l.Record(context.Background(), RecordInput{Date: day(1), From: "M", To: "S1", Category: CategoryOther, Amount: amt("10")})
	require.Error(t, err)
	require.Empty(t, l.Entries())
	require.Empty(t, l.Legs())

	bal, err := l.BalanceAsOf("M", "S1", day(31))
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestPendingTransactionsDoNotAffectBalances(t *testing.T) {
	l, _, _ := newTestLedger(t)

	id, err := l.Record(context.Background(), RecordInput{Date: day(2), From: "M", To: "S1", Category: CategoryLoanInterest, Amount: amt("250")})
	require.NoError(t, err)

	bal, err := l.BalanceAsOf("S1", "M", day(31))
	require.NoError(t, err)
	require.True(t, bal.IsZero())

	_, err = l.Post(context.Background(), id)
	require.NoError(t, err)
	_, err = l.Post(context.Background(), id)
	require.ErrorIs(t, err, ErrAlreadyPosted)

	bal, err = l.BalanceAsOf("S1", "M", day(31))
	require.NoError(t, err)
	require.True(t, bal.Receivable.Equal(amt("250")))
	require.True(t, bal.Net().Equal(amt("250")))
}

func TestBalanceAsOfRespectsDate(t *testing.T) {
	l, _, _ := newTestLedger(t)
	recordPosted(t, l, RecordInput{Date: day(3), From: "M", To: "S1", Category: CategoryManagementFee, Amount: amt("100")})
	recordPosted(t, l, RecordInput{Date: day(10), From: "S1", To: "M", Category: CategoryReimbursement, Amount: amt("40")})
	recordPosted(t, l, RecordInput{Date: day(12), From: "M", To: "S1", Category: CategoryCapitalContribution, Amount: amt("5000")})

	bal, err := l.BalanceAsOf("S1", "M", day(3))
	require.NoError(t, err)
	require.True(t, bal.Net().Equal(amt("100")))

	bal, err = l.BalanceAsOf("S1", "M", day(31))
	require.NoError(t, err)
	require.True(t, bal.Receivable.Equal(amt("100")))
	require.True(t, bal.Payable.Equal(amt("40")))
	require.True(t, bal.Net().Equal(amt("60")))
	require.Len(t, bal.Categories, 3)
	require.True(t, bal.Category(CategoryCapitalContribution).Receivable.Equal(amt("5000")))

	_, err = l.BalanceAsOf("S1", "S1", day(31))
	require.ErrorIs(t, err, ErrSelfTransaction)
	_, err = l.BalanceAsOf("S1", "nobody", day(31))
	require.ErrorIs(t, err, ErrUnknownEntity)
}

func TestReverseRoundTrip(t *testing.T) {
	l, _, _ := newTestLedger(t)
	recordPosted(t, l, RecordInput{Date: day(1), From: "S1", To: "M", Category: CategoryManagementFee, Amount: amt("75.25")})

	before, err := l.BalanceAsOf("M", "S1", day(31))
	require.NoError(t, err)

	id := recordPosted(t, l, RecordInput{Date: day(4), From: "M", To: "S1", Category: CategoryManagementFee, Amount: amt("300")})
	revID, err := l.Reverse(context.Background(), id, time.Time{})
	require.NoError(t, err)

	after, err := l.BalanceAsOf("M", "S1", day(31))
	require.NoError(t, err)
	requireSameBalance(t, before, after)

	orig, err := l.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, orig.Status)
	rev, err := l.Get(revID)
	require.NoError(t, err)
	require.Equal(t, id, rev.ReversalOf)
	require.Equal(t, "S1", rev.From)
	require.Equal(t, "M", rev.To)
	require.Equal(t, StatusPosted, rev.Status)

	_, err = l.Reverse(context.Background(), id, time.Time{})
	require.ErrorIs(t, err, ErrAlreadyReversed)
	_, err = l.Reverse(context.Background(), revID, time.Time{})
	require.ErrorIs(t, err, ErrReversalEntry)
}

func TestReverseRequiresPosted(t *testing.T) {
	l, _, _ := newTestLedger(t)
	id, err := l.Record(context.Background(), RecordInput{Date: day(1), From: "M", To: "S2", Category: CategoryOther, Amount: amt("1")})
	require.NoError(t, err)

	_, err = l.Reverse(context.Background(), id, time.Time{})
	require.ErrorIs(t, err, ErrNotPosted)
	_, err = l.Reverse(context.Background(), "missing", time.Time{})
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestAllBalancesSkipsSettledPairs(t *testing.T) {
	l, _, _ := newTestLedger(t)
	recordPosted(t, l, RecordInput{Date: day(1), From: "S2", To: "M", Category: CategoryManagementFee, Amount: amt("10")})
	id := recordPosted(t, l, RecordInput{Date: day(1), From: "S1", To: "P", Category: CategoryOther, Amount: amt("20")})
	_, err := l.Reverse(context.Background(), id, time.Time{})
	require.NoError(t, err)

	all := l.AllBalances(day(31))
	require.Len(t, all, 1)
	require.Equal(t, "M", all[0].EntityA)
	require.Equal(t, "S2", all[0].EntityB)
	require.True(t, all[0].Net().Equal(amt("10")))
}

func TestReplayRebuildsLog(t *testing.T) {
	l, sink, _ := newTestLedger(t)
	id := recordPosted(t, l, RecordInput{Date: day(1), From: "M", To: "S1", Category: CategoryOther, Amount: amt("12")})
	_, err := l.Reverse(context.Background(), id, day(2))
	require.NoError(t, err)

	entries := l.Entries()
	replayed := New(directory{"M": true, "S1": true}, Config{})
	require.NoError(t, replayed.Replay(entries))
	requireSameBalances(t, l.AllBalances(day(31)), replayed.AllBalances(day(31)))
	require.Len(t, sink.entries, 2)

	_, err = replayed.Reverse(context.Background(), id, time.Time{})
	require.ErrorIs(t, err, ErrAlreadyReversed)

	broken := entries[0]
	broken.Legs[1].Amount = amt("11")
	require.ErrorIs(t, New(directory{}, Config{}).Replay([]Entry{broken}), ErrUnbalancedEntry)
}

func TestReplayRejectsUnknownEntities(t *testing.T) {
	l, _, _ := newTestLedger(t)
	recordPosted(t, l, RecordInput{Date: day(1), From: "M", To: "S1", Category: CategoryOther, Amount: amt("12")})

	replayed := New(directory{"M": true}, Config{})
	err := replayed.Replay(l.Entries())
	require.ErrorIs(t, err, ErrUnknownEntity)

	var lerr *LedgerError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, "S1", lerr.EntityID)
	require.Empty(t, replayed.Entries())
}

func TestLedgerProperties(t *testing.T) {
	l, _, _ := newTestLedger(t)
	rng := rand.New(rand.NewSource(42))
	ents := []string{"M", "S1", "S2", "P"}
	cats := Categories()

	var ids []string
	for i := 0; i < 200; i++ {
		from := ents[rng.Intn(len(ents))]
		to := ents[rng.Intn(len(ents))]
		if from == to {
			continue
		}
		in := RecordInput{
			Date:     day(1 + rng.Intn(28)),
			From:     from,
			To:       to,
			Category: cats[rng.Intn(len(cats))],
			Amount:   decimal.New(int64(1+rng.Intn(100000)), -2),
		}
		id, err := l.Record(context.Background(), in)
		require.NoError(t, err)
		if rng.Intn(4) > 0 {
			_, err = l.Post(context.Background(), id)
			require.NoError(t, err)
			ids = append(ids, id)
		}
	}
	for _, id := range ids[:10] {
		_, err := l.Reverse(context.Background(), id, day(28))
		require.NoError(t, err)
	}

	debits, credits := l.Totals()
	require.True(t, debits.Equal(credits), "debits %s credits %s", debits, credits)

	for d := 1; d <= 31; d += 5 {
		for _, a := range ents {
			for _, b := range ents {
				if a == b {
					continue
				}
				ab, err := l.BalanceAsOf(a, b, day(d))
				require.NoError(t, err)
				ba, err := l.BalanceAsOf(b, a, day(d))
				require.NoError(t, err)
				require.True(t, ab.Net().Equal(ba.Net().Neg()), fmt.Sprintf("%s/%s day %d", a, b, d))
				requireSameBalance(t, ab.Inverse(), ba)
			}
		}
	}

	requireSameBalances(t, l.AllBalances(day(31)), l.AllBalances(day(31)))
}

func TestConcurrentRecordsOnDisjointAndSharedPairs(t *testing.T) {
	l, _, _ := newTestLedger(t)
	pairs := [][2]string{{"M", "S1"}, {"S1", "M"}, {"S2", "P"}, {"P", "M"}}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := pairs[i%len(pairs)]
			id, err := l.Record(context.Background(), RecordInput{Date: day(1), From: p[0], To: p[1], Category: CategoryOther, Amount: amt("1")})
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := l.Post(context.Background(), id); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, l.Entries(), 40)
	bal, err := l.BalanceAsOf("M", "S1", day(31))
	require.NoError(t, err)
	require.True(t, bal.Receivable.Equal(amt("10")))
	require.True(t, bal.Payable.Equal(amt("10")))

	seen := make(map[int64]bool)
	for _, e := range l.Entries() {
		require.False(t, seen[e.Transaction.Sequence])
		seen[e.Transaction.Sequence] = true
	}
}
