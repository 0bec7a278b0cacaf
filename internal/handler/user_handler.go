package handler

import (
	"errors"
	"net/http"
	"strconv"

	"relaychat/internal/app/store"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// HandleSearchUsers finds users by name or email, never returning the caller.
func HandleSearchUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))

		users, err := deps.Store.SearchUsers(r.Context(), query.Get("search"), identity.ID, limit)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		resp.RespondSuccess(w, r, users)
	}
}

// HandleGetProfile returns the caller's profile.
func HandleGetProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		u, err := deps.Store.UserByID(r.Context(), identity.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				logx.Warn("get_profile: user not found", "id", identity.ID)
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{"user": u.Profile()})
	}
}

// HandleOnlineUsers returns the profiles of users with at least one identified
// connection on this instance.
func HandleOnlineUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := deps.Hub.Online(r.Context())
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		profiles, err := deps.Store.Profiles(r.Context(), ids)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}
		if profiles == nil {
			profiles = []user.Profile{}
		}

		resp.RespondSuccess(w, r, map[string]any{"userIds": ids, "users": profiles})
	}
}
