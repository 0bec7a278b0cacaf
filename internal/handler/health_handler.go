package handler

import (
	"context"
	"net/http"
	"time"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// HandleHealth reports store reachability and the hub's counters.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := deps.Store.Ping(ctx); err != nil {
			logx.Error(err, "Health check: store unreachable")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		stats, err := deps.Hub.Stats(ctx)
		if err != nil {
			logx.Error(err, "Health check: hub unavailable")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"status":   "ok",
			"service":  "relaychat",
			"instance": deps.Hub.InstanceID(),
			"hub":      stats,
			"storage":  deps.Storage != nil,
		})
	}
}
