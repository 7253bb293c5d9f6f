package http

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/consol/export"
	"github.com/odyssey-erp/odyssey-consol/internal/platform/httpx"
)

// statement resolves the query into a consolidation run, serving from the
// cache when the group has not changed since the last build.
func (h *Handler) statement(r *http.Request, report string) (consol.Statement, bool, error) {
	root := chi.URLParam(r, "root")
	asOf, err := h.asOfParam(r)
	if err != nil {
		return consol.Statement{}, false, err
	}
	start, err := h.dateParam(r, "period_start", time.Time{})
	if err != nil {
		return consol.Statement{}, false, err
	}
	if !start.IsZero() && start.After(asOf) {
		return consol.Statement{}, false, fmt.Errorf("%w: period_start after as_of", httpx.ErrValidation)
	}

	key := buildCacheKey(root, asOf, start)
	gen := h.cache.Generation()
	if st, ok := h.cache.Get(key); ok {
		h.metrics.hit(report, root)
		return st, true, nil
	}
	h.metrics.miss(report, root)

	began := time.Now()
	flight := fmt.Sprintf("%s#%d", key, gen)
	st, _, err := h.buildOnce(r.Context(), flight, func(ctx context.Context) (consol.Statement, error) {
		var opts []consol.RunOption
		if !start.IsZero() {
			opts = append(opts, consol.WithPeriodStart(start))
		}
		return h.engine.Consolidate(ctx, root, asOf, opts...)
	})
	if err != nil {
		return consol.Statement{}, false, err
	}
	h.metrics.observeBuild(report, root, time.Since(began))
	if !h.cache.Set(key, gen, st) {
		h.log().Debug("discarded statement built before a change", slog.String("root", root))
	}
	return st, false, nil
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	st, cached, err := h.statement(r, "statement")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newStatementView(st, cached))
}

func (h *Handler) handleEliminations(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.statement(r, "eliminations")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st.Eliminations)
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.statement(r, "export_csv")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, st, export.Options{Currency: h.currency}); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.attach(w, "csv", st, buf.Bytes())
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.statement(r, "export_xlsx")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, st); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.attach(w, "xlsx", st, buf.Bytes())
}

func (h *Handler) attach(w http.ResponseWriter, ext string, st consol.Statement, body []byte) {
	w.Header().Set("Content-Type", export.ContentType("."+ext))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(st, ext)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func exportName(st consol.Statement, ext string) string {
	return fmt.Sprintf("consolidated-%s-%s.%s", st.RootID, st.AsOf.Format(dateLayout), ext)
}
