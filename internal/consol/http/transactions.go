package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
	"github.com/odyssey-erp/odyssey-consol/internal/platform/httpx"
)

type recordRequest struct {
	Date             string          `json:"date" validate:"required,datetime=2006-01-02"`
	From             string          `json:"from_entity" validate:"required,max=64"`
	To               string          `json:"to_entity" validate:"required,max=64"`
	Category         ledger.Category `json:"category" validate:"required"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description" validate:"max=500"`
	LinkedInvoiceRef string          `json:"linked_invoice_ref" validate:"omitempty,max=64"`
	// Post books the transaction immediately after recording it.
	Post bool `json:"post"`
}

type reverseRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func parseDay(raw string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", httpx.ErrValidation)
	}
	return t, nil
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.Filter{EntityID: strings.TrimSpace(q.Get("entity"))}
	if raw := q.Get("posted"); raw != "" {
		posted, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondError(w, r, fmt.Errorf("%w: posted must be a boolean", httpx.ErrValidation))
			return
		}
		filter.PostedOnly = posted
	}
	var err error
	if filter.Since, err = h.dateParam(r, "since", time.Time{}); err != nil {
		h.respondError(w, r, err)
		return
	}
	if filter.Through, err = h.dateParam(r, "through", time.Time{}); err != nil {
		h.respondError(w, r, err)
		return
	}
	txs := h.ledger.Transactions(filter)
	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, newTransactionView(tx))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, r, err)
		return
	}
	date, err := parseDay(req.Date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	id, err := h.ledger.Record(r.Context(), ledger.RecordInput{
		Date:             date,
		From:             req.From,
		To:               req.To,
		Category:         req.Category,
		Amount:           req.Amount,
		Description:      req.Description,
		LinkedInvoiceRef: req.LinkedInvoiceRef,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var warning string
	if req.Post {
		// A failed post leaves the recorded transaction pending, not rolled back.
		if _, err := h.ledger.Post(r.Context(), id); err != nil {
			h.log().Warn("recorded transaction left pending", slog.String("id", id), slog.Any("error", err))
			warning = fmt.Sprintf("recorded as pending, post failed: %v", classify(err))
		}
	}
	h.invalidate()
	tx, err := h.ledger.Get(id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	view := newTransactionView(tx)
	view.Warning = warning
	httpx.JSON(w, http.StatusCreated, view)
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	h.writeTransaction(w, r, http.StatusOK, chi.URLParam(r, "id"))
}

func (h *Handler) writeTransaction(w http.ResponseWriter, r *http.Request, status int, id string) {
	tx, err := h.ledger.Get(id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, status, newTransactionView(tx))
}

func (h *Handler) handlePostTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.Post(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidate()
	httpx.JSON(w, http.StatusOK, newTransactionView(tx))
}

func (h *Handler) handleReverseTransaction(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.respondError(w, r, err)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	var date time.Time
	if req.Date != "" {
		var err error
		if date, err = parseDay(req.Date); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	id, err := h.ledger.Reverse(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidate()
	h.writeTransaction(w, r, http.StatusCreated, id)
}

func (h *Handler) handleAllBalances(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOfParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	balances := h.ledger.AllBalances(asOf)
	out := make([]balanceView, 0, len(balances))
	for _, b := range balances {
		out = append(out, newBalanceView(b))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handlePairBalance(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOfParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	b, err := h.ledger.BalanceAsOf(chi.URLParam(r, "a"), chi.URLParam(r, "b"), asOf)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newBalanceView(b))
}
