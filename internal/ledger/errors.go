package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownEntity indicates a transaction endpoint missing from the entity graph.
	ErrUnknownEntity = errors.New("ledger: unknown entity")
	// ErrSelfTransaction indicates from and to are the same entity.
	ErrSelfTransaction = errors.New("ledger: entities must differ")
	// ErrNonPositiveAmount indicates an amount that is zero or negative.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")
	// ErrInvalidInput wraps struct validation failures.
	ErrInvalidInput = errors.New("ledger: invalid input")
	// ErrTransactionNotFound indicates the transaction id is unknown.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	// ErrAlreadyPosted indicates a posting attempt on a posted transaction.
	ErrAlreadyPosted = errors.New("ledger: transaction already posted")
	// ErrNotPosted indicates a reversal attempt on a pending transaction.
	ErrNotPosted = errors.New("ledger: transaction not posted")
	// ErrAlreadyReversed indicates the transaction has already been reversed.
	ErrAlreadyReversed = errors.New("ledger: transaction already reversed")
	// ErrReversalEntry indicates an attempt to reverse a reversal.
	ErrReversalEntry = errors.New("ledger: reversal entries cannot be reversed")
	// ErrUnbalancedEntry indicates an entry whose legs do not mirror each other.
	ErrUnbalancedEntry = errors.New("ledger: unbalanced entry")
)

// LedgerError reports a rejected ledger call.
type LedgerError struct {
	TransactionID string
	EntityID      string
	Err           error
}

func (e *LedgerError) Error() string {
	parts := make([]string, 0, 2)
	if e.TransactionID != "" {
		parts = append(parts, "transaction "+e.TransactionID)
	}
	if e.EntityID != "" {
		parts = append(parts, "entity "+e.EntityID)
	}
	if len(parts) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (%s)", e.Err, strings.Join(parts, ", "))
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}
