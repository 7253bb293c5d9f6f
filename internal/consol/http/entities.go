package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
	"github.com/odyssey-erp/odyssey-consol/internal/platform/httpx"
)

type entityRequest struct {
	ID        string          `json:"id" validate:"required,max=64"`
	Name      string          `json:"name" validate:"required,max=200"`
	Type      entity.Type     `json:"type" validate:"required,oneof=FAMILY_OFFICE HOLDING_COMPANY PROJECT_ENTITY ASSET_ENTITY OPERATING_BUSINESS FUND"`
	ParentID  string          `json:"parent_id" validate:"omitempty,max=64"`
	Ownership decimal.Decimal `json:"ownership"`
	Method    entity.Method   `json:"method"`
}

type reparentRequest struct {
	ParentID string `json:"parent_id" validate:"required,max=64"`
}

type financialsRequest struct {
	AsOf        string          `json:"as_of" validate:"required,datetime=2006-01-02"`
	Assets      decimal.Decimal `json:"assets"`
	Liabilities decimal.Decimal `json:"liabilities"`
	Revenue     decimal.Decimal `json:"revenue"`
	Expense     decimal.Decimal `json:"expense"`
	NetIncome   decimal.Decimal `json:"net_income"`
}

func (h *Handler) handleListEntities(w http.ResponseWriter, r *http.Request) {
	root, ok := h.graph.Root()
	if !ok {
		httpx.JSON(w, http.StatusOK, []entityView{})
		return
	}
	list, err := h.graph.Subtree(root.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]entityView, 0, len(list))
	for _, e := range list {
		eff, err := h.graph.EffectiveOwnership(e.ID)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		out = append(out, newEntityView(e, eff))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	h.writeEntity(w, r, http.StatusOK, chi.URLParam(r, "id"))
}

func (h *Handler) writeEntity(w http.ResponseWriter, r *http.Request, status int, id string) {
	e, err := h.graph.Get(id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	eff, err := h.graph.EffectiveOwnership(id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, status, newEntityView(e, eff))
}

func (h *Handler) decodeEntity(r *http.Request) (entity.Entity, string, error) {
	var req entityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return entity.Entity{}, "", err
	}
	if err := h.validate.Struct(req); err != nil {
		return entity.Entity{}, "", err
	}
	return entity.Entity{
		ID:        req.ID,
		Name:      req.Name,
		Type:      req.Type,
		Ownership: req.Ownership,
		Method:    req.Method,
	}, req.ParentID, nil
}

func (h *Handler) handleAddEntity(w http.ResponseWriter, r *http.Request) {
	e, parent, err := h.decodeEntity(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.groupMu.Lock()
	err = h.graph.Add(e, parent)
	if err == nil {
		err = h.persist(r.Context(), h.saveEntity(e.ID), func() error { return h.graph.Remove(e.ID) })
	}
	h.groupMu.Unlock()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidate()
	h.writeEntity(w, r, http.StatusCreated, e.ID)
}

func (h *Handler) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	e, _, err := h.decodeEntity(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if id := chi.URLParam(r, "id"); e.ID != id {
		h.respondError(w, r, fmt.Errorf("%w: body id %q does not match path %q", httpx.ErrValidation, e.ID, id))
		return
	}
	h.groupMu.Lock()
	err = h.updateEntity(r.Context(), e)
	h.groupMu.Unlock()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidate()
	h.writeEntity(w, r, http.StatusOK, e.ID)
}

func (h *Handler) handleReparentEntity(w http.ResponseWriter, r *http.Request) {
	var req reparentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	h.groupMu.Lock()
	err := h.reparentEntity(r.Context(), id, req.ParentID)
	h.groupMu.Unlock()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidate()
	h.writeEntity(w, r, http.StatusOK, id)
}

func (h *Handler) handleRemoveEntity(w http.ResponseWriter, r *http.Request) {
	h.groupMu.Lock()
	err := h.removeEntity(r.Context(), chi.URLParam(r, "id"))
	h.groupMu.Unlock()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePutFinancials(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.graph.Has(id) {
		h.respondError(w, r, fmt.Errorf("%w: entity %s", httpx.ErrNotFound, id))
		return
	}
	var req financialsRequest
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
	f := consol.Financials{
		EntityID:    id,
		AsOf:        asOf,
		Assets:      req.Assets,
		Liabilities: req.Liabilities,
		Revenue:     req.Revenue,
		Expense:     req.Expense,
		NetIncome:   req.NetIncome,
	}
	if h.store != nil {
		if err := h.store.PutFinancials(r.Context(), f); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	h.financials.Put(f)
	h.invalidate()
	httpx.JSON(w, http.StatusOK, f)
}

// saveEntity stores the entity as the graph now holds it, parent link included.
func (h *Handler) saveEntity(id string) func(context.Context, GroupStore) error {
	return func(ctx context.Context, store GroupStore) error {
		e, err := h.graph.Get(id)
		if err != nil {
			return err
		}
		return store.SaveEntity(ctx, e)
	}
}

func (h *Handler) updateEntity(ctx context.Context, e entity.Entity) error {
	prev, err := h.graph.Get(e.ID)
	if err != nil {
		return err
	}
	if err := h.graph.Update(e); err != nil {
		return err
	}
	return h.persist(ctx, h.saveEntity(e.ID), func() error { return h.graph.Update(prev) })
}

func (h *Handler) reparentEntity(ctx context.Context, id, parentID string) error {
	prev, err := h.graph.Get(id)
	if err != nil {
		return err
	}
	if err := h.graph.Reparent(id, parentID); err != nil {
		return err
	}
	return h.persist(ctx, h.saveEntity(id), func() error { return h.graph.Reparent(id, prev.ParentID) })
}

// removeEntity refuses entities that intercompany transactions still
// reference; the journal could not be replayed without them.
func (h *Handler) removeEntity(ctx context.Context, id string) error {
	prev, err := h.graph.Get(id)
	if err != nil {
		return err
	}
	if len(h.ledger.Transactions(ledger.Filter{EntityID: id})) > 0 {
		return entity.NewStructuralError(id, entity.ErrHasHistory)
	}
	if err := h.graph.Remove(id); err != nil {
		return err
	}
	return h.persist(ctx,
		func(ctx context.Context, store GroupStore) error { return store.DeleteEntity(ctx, id) },
		func() error { return h.graph.Add(prev, prev.ParentID) })
}
