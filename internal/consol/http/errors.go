package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/entity"
	"github.com/odyssey-erp/odyssey-consol/internal/ledger"
	"github.com/odyssey-erp/odyssey-consol/internal/platform/httpx"
)

// respondError classifies domain failures into problem responses.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	classified := classify(err)
	if errors.Is(classified, httpx.ErrUnavailable) || !isClassified(classified) {
		h.log().Error("consol request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}

func classify(err error) error {
	var (
		structural *entity.StructuralError
		ledgerErr  *ledger.LedgerError
		consolErr  *consol.ConsolidationError
		invalid    validator.ValidationErrors
	)
	switch {
	case isClassified(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", httpx.ErrUnavailable, err)
	case errors.As(err, &invalid):
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.As(err, &structural):
		switch {
		case errors.Is(err, entity.ErrUnknownEntity):
			return fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
		case errors.Is(err, entity.ErrDuplicateID), errors.Is(err, entity.ErrHasChildren),
			errors.Is(err, entity.ErrHasHistory):
			return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
		}
		return fmt.Errorf("%w: %v", httpx.ErrUnprocessable, err)
	case errors.As(err, &ledgerErr):
		switch {
		case errors.Is(err, ledger.ErrAlreadyPosted), errors.Is(err, ledger.ErrAlreadyReversed),
			errors.Is(err, ledger.ErrNotPosted), errors.Is(err, ledger.ErrReversalEntry):
			return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
		}
		return fmt.Errorf("%w: %v", httpx.ErrUnprocessable, err)
	case errors.As(err, &consolErr):
		return fmt.Errorf("%w: %v", httpx.ErrUnprocessable, err)
	}
	return err
}

func isClassified(err error) bool {
	for _, target := range []error{httpx.ErrNotFound, httpx.ErrConflict, httpx.ErrValidation, httpx.ErrUnprocessable, httpx.ErrUnavailable} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
