package http

import (
	"context"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
)

// buildOnce collapses concurrent builds of the same statement. The caller stops
// waiting when its context ends.
func (h *Handler) buildOnce(ctx context.Context, key string, fn func(context.Context) (consol.Statement, error)) (consol.Statement, bool, error) {
	resultChan := h.builds.DoChan(key, func() (interface{}, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return consol.Statement{}, false, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return consol.Statement{}, res.Shared, res.Err
		}
		return res.Val.(consol.Statement), res.Shared, nil
	}
}
