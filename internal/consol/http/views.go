package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
)

type entityView struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Type               entity.Type     `json:"type"`
	ParentID           string          `json:"parent_id,omitempty"`
	Ownership          decimal.Decimal `json:"ownership"`
	EffectiveOwnership decimal.Decimal `json:"effective_ownership"`
	Method             entity.Method   `json:"method"`
}

func newEntityView(e entity.Entity, effective decimal.Decimal) entityView {
	return entityView{
		ID:                 e.ID,
		Name:               e.Name,
		Type:               e.Type,
		ParentID:           e.ParentID,
		Ownership:          e.Ownership,
		EffectiveOwnership: effective,
		Method:             e.Method,
	}
}

type transactionView struct {
	ID               string          `json:"id"`
	Sequence         int64           `json:"sequence"`
	Date             string          `json:"date"`
	From             string          `json:"from_entity"`
	To               string          `json:"to_entity"`
	Category         ledger.Category `json:"category"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description,omitempty"`
	LinkedInvoiceRef string          `json:"linked_invoice_ref,omitempty"`
	Status           ledger.Status   `json:"status"`
	ReversalOf       string          `json:"reversal_of,omitempty"`
	RecordedAt       time.Time       `json:"recorded_at"`
	PostedAt         *time.Time      `json:"posted_at,omitempty"`
	// Warning is set when the transaction was recorded but a requested post failed.
	Warning string `json:"warning,omitempty"`
}

func newTransactionView(tx ledger.Transaction) transactionView {
	return transactionView{
		ID:               tx.ID,
		Sequence:         tx.Sequence,
		Date:             tx.Date.Format(dateLayout),
		From:             tx.From,
		To:               tx.To,
		Category:         tx.Category,
		Amount:           tx.Amount,
		Description:      tx.Description,
		LinkedInvoiceRef: tx.LinkedInvoiceRef,
		Status:           tx.Status,
		ReversalOf:       tx.ReversalOf,
		RecordedAt:       tx.RecordedAt,
		PostedAt:         tx.PostedAt,
	}
}

type categoryView struct {
	Category   ledger.Category `json:"category"`
	Receivable decimal.Decimal `json:"receivable"`
	Payable    decimal.Decimal `json:"payable"`
	Net        decimal.Decimal `json:"net"`
}

type balanceView struct {
	EntityA    string          `json:"entity_a"`
	EntityB    string          `json:"entity_b"`
	AsOf       string          `json:"as_of"`
	Receivable decimal.Decimal `json:"receivable"`
	Payable    decimal.Decimal `json:"payable"`
	Net        decimal.Decimal `json:"net"`
	Categories []categoryView  `json:"categories"`
}

func newBalanceView(b ledger.Balance) balanceView {
	out := balanceView{
		EntityA:    b.EntityA,
		EntityB:    b.EntityB,
		AsOf:       b.AsOf.Format(dateLayout),
		Receivable: b.Receivable,
		Payable:    b.Payable,
		Net:        b.Net(),
		Categories: make([]categoryView, 0, len(b.Categories)),
	}
	for _, c := range b.Categories {
		out.Categories = append(out.Categories, categoryView{
			Category:   c.Category,
			Receivable: c.Receivable,
			Payable:    c.Payable,
			Net:        c.Net(),
		})
	}
	return out
}

type statementView struct {
	consol.Statement
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Cached      bool   `json:"cached"`
}

func newStatementView(st consol.Statement, cached bool) statementView {
	return statementView{
		Statement:   st,
		PeriodStart: st.Period.Start.Format(dateLayout),
		PeriodEnd:   st.Period.End.Format(dateLayout),
		Cached:      cached,
	}
}
