package http

import (
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-consol/internal/reconcile"
)

type reportedRow struct {
	EntityA string          `json:"entity_a" validate:"required,max=64"`
	EntityB string          `json:"entity_b" validate:"required,max=64,nefield=EntityA"`
	Net     decimal.Decimal `json:"net"`
}

type reconcileRequest struct {
	AsOf     string        `json:"as_of" validate:"required,datetime=2006-01-02"`
	Balances []reportedRow `json:"balances" validate:"dive"`
}

type reconcileResponse struct {
	AsOf        string              `json:"as_of"`
	Findings    []reconcile.Finding `json:"findings"`
	Outstanding int                 `json:"outstanding"`
}

func newReconcileResponse(asOf string, findings []reconcile.Finding) reconcileResponse {
	out := reconcileResponse{AsOf: asOf, Findings: findings}
	if out.Findings == nil {
		out.Findings = []reconcile.Finding{}
	}
	for _, f := range findings {
		if !f.Balanced() {
			out.Outstanding++
		}
	}
	return out
}

// handleReconcile stores the submitted balances in the report cache, when one
// is configured, and reconciles them against the ledger.
func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		h.respondError(w, r, fmt.Errorf("%w: reconciliation not configured", httpx.ErrUnavailable))
		return
	}
	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, r, err)
		return
	}
	asOf, err := parseDay(req.AsOf)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	reports := make([]reconcile.Reported, 0, len(req.Balances))
	for _, row := range req.Balances {
		reports = append(reports, reconcile.Reported{EntityA: row.EntityA, EntityB: row.EntityB, Net: row.Net})
	}
	if h.reports != nil && len(reports) > 0 {
		if err := h.reports.Put(r.Context(), asOf, reports...); err != nil {
			h.respondError(w, r, fmt.Errorf("%w: report cache: %v", httpx.ErrUnavailable, err))
			return
		}
	}
	findings, err := h.reconciler.ReconcileAll(r.Context(), asOf, reports)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newReconcileResponse(req.AsOf, findings))
}

// handleReconcileCached reconciles whatever balances the report cache holds
// for as_of.
func (h *Handler) handleReconcileCached(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil || h.reports == nil {
		h.respondError(w, r, fmt.Errorf("%w: report cache not configured", httpx.ErrUnavailable))
		return
	}
	asOf, err := h.asOfParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	reports, err := h.reports.All(r.Context(), asOf)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: report cache: %v", httpx.ErrUnavailable, err))
		return
	}
	findings, err := h.reconciler.ReconcileAll(r.Context(), asOf, reports)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newReconcileResponse(asOf.Format(dateLayout), findings))
}
