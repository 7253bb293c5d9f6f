// Package pgstore persists the intercompany journal in PostgreSQL.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
	"github.com/odyssey-erp/odyssey-consol/internal/platform/db"
)

//go:embed schema.sql
var schema string

// ErrDuplicateEntry indicates the transaction id or sequence is already stored.
var ErrDuplicateEntry = errors.New("pgstore: duplicate journal entry")

// appendAttempts bounds retries of an append that lost a serialization race.
const appendAttempts = 3

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

// Store is a ledger.Sink backed by PostgreSQL.
type Store struct {
	db   dbtx
	inTx func(ctx context.Context, fn func(dbtx) error) error
}

// New returns a store on pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		db: pool,
		inTx: func(ctx context.Context, fn func(dbtx) error) error {
			return db.WithTx(ctx, pool, func(tx pgx.Tx) error { return fn(tx) })
		},
	}
}

// EnsureSchema creates the journal tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return nil
}

const insertTransaction = `INSERT INTO ic_transactions
	(id, seq, tx_date, from_entity, to_entity, category, amount, description, linked_invoice_ref, status, reversal_of, recorded_at, posted_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, NULLIF($11, ''), $12, $13)`

const insertLeg = `INSERT INTO ic_legs (transaction_id, side, entity_id, counterparty, account, amount)
	VALUES ($1, $2, $3, $4, $5, $6::numeric)`

// Append stores the transaction and both legs in one database transaction.
// Serialization failures are retried; a unique violation means the entry was
// already journaled and maps to ErrDuplicateEntry.
func (s *Store) Append(ctx context.Context, entry ledger.Entry) error {
	var err error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		err = s.append(ctx, entry)
		if pgCode(err) != pgerrcode.SerializationFailure {
			break
		}
	}
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, entry.Transaction.ID)
		}
		return fmt.Errorf("pgstore: append %s: %w", entry.Transaction.ID, err)
	}
	return nil
}

func (s *Store) append(ctx context.Context, entry ledger.Entry) error {
	tx := entry.Transaction
	return s.inTx(ctx, func(q dbtx) error {
		if _, err := q.Exec(ctx, insertTransaction,
			tx.ID, tx.Sequence, tx.Date, tx.From, tx.To, string(tx.Category), tx.Amount.String(),
			tx.Description, tx.LinkedInvoiceRef, string(tx.Status), tx.ReversalOf, tx.RecordedAt, tx.PostedAt,
		); err != nil {
			return err
		}
		for _, leg := range entry.Legs {
			if _, err := q.Exec(ctx, insertLeg,
				leg.TransactionID, string(leg.Side), leg.EntityID, leg.Counterparty, leg.Account, leg.Amount.String(),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// MarkPosted records the Pending to Posted transition.
func (s *Store) MarkPosted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE ic_transactions SET status = $2, posted_at = $3 WHERE id = $1 AND status = $4`,
		id, string(ledger.StatusPosted), at, string(ledger.StatusPending))
	if err != nil {
		return fmt.Errorf("pgstore: mark posted %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &ledger.LedgerError{TransactionID: id, Err: ledger.ErrTransactionNotFound}
	}
	return nil
}

const selectTransactions = `SELECT id, seq, tx_date, from_entity, to_entity, category, amount::text,
	description, linked_invoice_ref, status, COALESCE(reversal_of, ''), recorded_at, posted_at
	FROM ic_transactions ORDER BY seq`

const selectLegs = `SELECT transaction_id, side, entity_id, counterparty, account, amount::text FROM ic_legs`

// Load reads the whole journal in sequence order, ready for ledger.Replay.
func (s *Store) Load(ctx context.Context) ([]ledger.Entry, error) {
	legs, err := s.loadLegs(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, selectTransactions)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			tx       ledger.Transaction
			category string
			status   string
			amount   string
		)
		if err := rows.Scan(&tx.ID, &tx.Sequence, &tx.Date, &tx.From, &tx.To, &category, &amount,
			&tx.Description, &tx.LinkedInvoiceRef, &status, &tx.ReversalOf, &tx.RecordedAt, &tx.PostedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan transaction: %w", err)
		}
		tx.Category = ledger.Category(category)
		tx.Status = ledger.Status(status)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("pgstore: amount of %s: %w", tx.ID, err)
		}
		pair, ok := legs[tx.ID]
		if !ok {
			return nil, &ledger.LedgerError{TransactionID: tx.ID, Err: ledger.ErrUnbalancedEntry}
		}
		out = append(out, ledger.Entry{Transaction: tx, Legs: pair})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: load transactions: %w", err)
	}
	return out, nil
}

func (s *Store) loadLegs(ctx context.Context) (map[string][2]ledger.Leg, error) {
	rows, err := s.db.Query(ctx, selectLegs)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load legs: %w", err)
	}
	defer rows.Close()

	out := make(map[string][2]ledger.Leg)
	for rows.Next() {
		var (
			leg    ledger.Leg
			side   string
			amount string
		)
		if err := rows.Scan(&leg.TransactionID, &side, &leg.EntityID, &leg.Counterparty, &leg.Account, &amount); err != nil {
			return nil, fmt.Errorf("pgstore: scan leg: %w", err)
		}
		leg.Side = ledger.Side(side)
		if leg.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("pgstore: leg amount of %s: %w", leg.TransactionID, err)
		}
		pair := out[leg.TransactionID]
		if leg.Side == ledger.SideDebit {
			pair[0] = leg
		} else {
			pair[1] = leg
		}
		out[leg.TransactionID] = pair
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: load legs: %w", err)
	}
	return out, nil
}

// Restore replays the stored journal into l.
func (s *Store) Restore(ctx context.Context, l *ledger.Ledger) (int, error) {
	entries, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	if err := l.Replay(entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
