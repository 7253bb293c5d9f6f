package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-consol/internal/shared"
)

const (
	// AuditEntity identifies ledger rows in the audit log.
	AuditEntity = "intercompany_transactions"

	auditActionRecord  = "ic_record"
	auditActionPost    = "ic_post"
	auditActionReverse = "ic_reverse"
)

// EntityDirectory answers whether an entity exists.
type EntityDirectory interface {
	Has(id string) bool
}

// Sink persists committed entries. A failing Append aborts the record call
// before anything becomes visible in memory.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
	MarkPosted(ctx context.Context, id string, postedAt time.Time) error
}

// AuditRecorder captures audit events.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config configures optional collaborators of the ledger.
type Config struct {
	Sink   Sink
	Audit  AuditRecorder
	Logger *slog.Logger
	Actor  string
}

type pairKey struct {
	lo, hi string
}

func keyOf(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Ledger is the append-only intercompany transaction log. Calls touching the
// same entity pair serialise on a pair-scoped lock; the log itself is guarded
// by a short-lived mutex around the commit.
type Ledger struct {
	entities EntityDirectory
	sink     Sink
	audit    AuditRecorder
	logger   *slog.Logger
	actor    string
	validate *validator.Validate
	now      func() time.Time
	newID    func() string

	pairLocks sync.Map

	mu         sync.RWMutex
	entries    []Entry
	byID       map[string]int
	byPair     map[pairKey][]int
	reversedBy map[string]string
	seq        int64
}

// New constructs a ledger validating endpoints against entities.
func New(entities EntityDirectory, cfg Config) *Ledger {
	actor := cfg.Actor
	if actor == "" {
		actor = "system"
	}
	return &Ledger{
		entities:   entities,
		sink:       cfg.Sink,
		audit:      cfg.Audit,
		logger:     cfg.Logger,
		actor:      actor,
		validate:   validator.New(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
		byID:       make(map[string]int),
		byPair:     make(map[pairKey][]int),
		reversedBy: make(map[string]string),
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (l *Ledger) WithClock(clock func() time.Time) {
	if l != nil && clock != nil {
		l.now = clock
	}
}

func (l *Ledger) lockPair(a, b string) func() {
	v, _ := l.pairLocks.LoadOrStore(keyOf(a, b), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Record validates in and appends a pending transaction with its two legs:
// a debit on the receiving entity and a credit on the paying entity. Either
// both legs are committed or nothing is.
func (l *Ledger) Record(ctx context.Context, in RecordInput) (string, error) {
	if err := l.check(in); err != nil {
		l.log().Warn("rejected intercompany transaction",
			slog.String("from", in.From), slog.String("to", in.To), slog.Any("error", err))
		return "", err
	}

	unlock := l.lockPair(in.From, in.To)
	defer unlock()

	tx := Transaction{
		ID:               l.newID(),
		Date:             in.Date,
		From:             in.From,
		To:               in.To,
		Category:         in.Category,
		Amount:           in.Amount,
		Description:      in.Description,
		LinkedInvoiceRef: in.LinkedInvoiceRef,
		Status:           StatusPending,
		RecordedAt:       l.now(),
	}
	if err := l.commit(ctx, tx); err != nil {
		return "", err
	}

	l.recordAudit(ctx, auditActionRecord, tx)
	l.log().Info("recorded intercompany transaction",
		slog.String("id", tx.ID),
		slog.String("from", tx.From),
		slog.String("to", tx.To),
		slog.String("category", string(tx.Category)),
		slog.String("amount", tx.Amount.StringFixed(2)))
	return tx.ID, nil
}

func (l *Ledger) check(in RecordInput) error {
	if err := l.validate.Struct(in); err != nil {
		return &LedgerError{Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}
	if in.Date.IsZero() {
		return &LedgerError{Err: fmt.Errorf("%w: date required", ErrInvalidInput)}
	}
	if !in.Amount.IsPositive() {
		return &LedgerError{Err: ErrNonPositiveAmount}
	}
	if in.From == in.To {
		return &LedgerError{EntityID: in.From, Err: ErrSelfTransaction}
	}
	for _, id := range []string{in.From, in.To} {
		if l.entities == nil || !l.entities.Has(id) {
			return &LedgerError{EntityID: id, Err: ErrUnknownEntity}
		}
	}
	return nil
}

// commit persists and then publishes an entry. Callers hold the pair lock.
func (l *Ledger) commit(ctx context.Context, tx Transaction) error {
	entry := Entry{Transaction: tx, Legs: buildLegs(tx)}

	l.mu.Lock()
	l.seq++
	entry.Transaction.Sequence = l.seq
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Append(ctx, entry); err != nil {
			return fmt.Errorf("ledger: persist %s: %w", tx.ID, err)
		}
	}

	l.mu.Lock()
	l.insertLocked(entry)
	l.mu.Unlock()
	return nil
}

func (l *Ledger) insertLocked(entry Entry) {
	pos := len(l.entries)
	l.entries = append(l.entries, entry)
	tx := entry.Transaction
	l.byID[tx.ID] = pos
	key := keyOf(tx.From, tx.To)
	l.byPair[key] = append(l.byPair[key], pos)
	if tx.ReversalOf != "" {
		l.reversedBy[tx.ReversalOf] = tx.ID
	}
	if tx.Sequence > l.seq {
		l.seq = tx.Sequence
	}
}

// Post moves a pending transaction to posted after re-validating its endpoints.
func (l *Ledger) Post(ctx context.Context, id string) (Transaction, error) {
	tx, err := l.Get(id)
	if err != nil {
		return Transaction{}, err
	}

	unlock := l.lockPair(tx.From, tx.To)
	defer unlock()

	l.mu.RLock()
	tx = l.entries[l.byID[id]].Transaction
	l.mu.RUnlock()
	if tx.Status == StatusPosted {
		return Transaction{}, &LedgerError{TransactionID: id, Err: ErrAlreadyPosted}
	}
	for _, eid := range []string{tx.From, tx.To} {
		if l.entities == nil || !l.entities.Has(eid) {
			return Transaction{}, &LedgerError{TransactionID: id, EntityID: eid, Err: ErrUnknownEntity}
		}
	}

	at := l.now()
	if l.sink != nil {
		if err := l.sink.MarkPosted(ctx, id, at); err != nil {
			return Transaction{}, fmt.Errorf("ledger: persist post %s: %w", id, err)
		}
	}

	l.mu.Lock()
	pos := l.byID[id]
	l.entries[pos].Transaction.Status = StatusPosted
	l.entries[pos].Transaction.PostedAt = &at
	tx = l.entries[pos].Transaction
	l.mu.Unlock()

	l.recordAudit(ctx, auditActionPost, tx)
	l.log().Info("posted intercompany transaction", slog.String("id", id))
	return tx, nil
}

// Reverse appends a posted transaction with swapped legs and the same amount,
// referencing the original. A zero date reuses the original date. The
// original is never modified.
func (l *Ledger) Reverse(ctx context.Context, id string, date time.Time) (string, error) {
	orig, err := l.Get(id)
	if err != nil {
		return "", err
	}

	unlock := l.lockPair(orig.From, orig.To)
	defer unlock()

	l.mu.RLock()
	orig = l.entries[l.byID[id]].Transaction
	_, reversed := l.reversedBy[id]
	l.mu.RUnlock()

	switch {
	case orig.IsReversal():
		return "", &LedgerError{TransactionID: id, Err: ErrReversalEntry}
	case reversed:
		return "", &LedgerError{TransactionID: id, Err: ErrAlreadyReversed}
	case orig.Status != StatusPosted:
		return "", &LedgerError{TransactionID: id, Err: ErrNotPosted}
	}

	if date.IsZero() {
		date = orig.Date
	}
	at := l.now()
	rev := Transaction{
		ID:               l.newID(),
		Date:             date,
		From:             orig.To,
		To:               orig.From,
		Category:         orig.Category,
		Amount:           orig.Amount,
		Description:      "Reversal of " + orig.ID,
		LinkedInvoiceRef: orig.LinkedInvoiceRef,
		Status:           StatusPosted,
		ReversalOf:       orig.ID,
		RecordedAt:       at,
		PostedAt:         &at,
	}
	if err := l.commit(ctx, rev); err != nil {
		return "", err
	}

	l.recordAudit(ctx, auditActionReverse, rev)
	l.log().Info("reversed intercompany transaction", slog.String("id", id), slog.String("reversal_id", rev.ID))
	return rev.ID, nil
}

// Replay loads previously persisted entries without writing them back to the
// sink. Entries must arrive in sequence order and both endpoints must exist
// in the entity directory.
func (l *Ledger) Replay(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		if err := checkEntry(e); err != nil {
			return err
		}
		for _, id := range [2]string{e.Transaction.From, e.Transaction.To} {
			if l.entities == nil || !l.entities.Has(id) {
				return &LedgerError{TransactionID: e.Transaction.ID, EntityID: id, Err: ErrUnknownEntity}
			}
		}
		if _, ok := l.byID[e.Transaction.ID]; ok {
			return &LedgerError{TransactionID: e.Transaction.ID, Err: fmt.Errorf("ledger: duplicate transaction on replay")}
		}
		l.insertLocked(e)
	}
	return nil
}

func checkEntry(e Entry) error {
	debit, credit := e.Legs[0], e.Legs[1]
	tx := e.Transaction
	if debit.Side != SideDebit || credit.Side != SideCredit ||
		!debit.Amount.Equal(credit.Amount) || !debit.Amount.Equal(tx.Amount) ||
		debit.EntityID != tx.To || credit.EntityID != tx.From {
		return &LedgerError{TransactionID: tx.ID, Err: ErrUnbalancedEntry}
	}
	return nil
}

// Get returns the transaction stored under id.
func (l *Ledger) Get(id string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.byID[id]
	if !ok {
		return Transaction{}, &LedgerError{TransactionID: id, Err: ErrTransactionNotFound}
	}
	return l.entries[pos].Transaction, nil
}

// Transactions returns the transactions matching f in log order.
func (l *Ledger) Transactions(f Filter) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Transaction, 0, len(l.entries))
	for _, e := range l.entries {
		if f.match(e.Transaction) {
			out = append(out, e.Transaction)
		}
	}
	return out
}

// Entries returns a copy of the log.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Legs returns every leg in log order.
func (l *Ledger) Legs() []Leg {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Leg, 0, 2*len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.Legs[0], e.Legs[1])
	}
	return out
}

func (l *Ledger) recordAudit(ctx context.Context, action string, tx Transaction) {
	if l == nil || l.audit == nil {
		return
	}
	meta := map[string]any{
		"from":        tx.From,
		"to":          tx.To,
		"category":    string(tx.Category),
		"amount":      tx.Amount.StringFixed(2),
		"status":      string(tx.Status),
		"date":        tx.Date.Format("2006-01-02"),
		"reversal_of": tx.ReversalOf,
	}
	if err := l.audit.Record(ctx, shared.AuditLog{
		Actor:    l.actor,
		Action:   action,
		Entity:   AuditEntity,
		EntityID: tx.ID,
		Meta:     meta,
		At:       l.now(),
	}); err != nil {
		l.log().Warn("audit record failed", slog.String("id", tx.ID), slog.Any("error", err))
	}
}

func (l *Ledger) log() *slog.Logger {
	if l != nil && l.logger != nil {
		return l.logger.With(slog.String("component", "ic_ledger"))
	}
	return slog.Default().With(slog.String("component", "ic_ledger"))
}
