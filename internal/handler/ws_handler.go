/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"relaychat/internal/app/realtime"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// HandleWebSocket upgrades the request and hands the connection to the hub. A valid
// ?token= binds the connection to the token's user, so its setup event must name that
// user; without a token the connection is accepted unbound.
func HandleWebSocket(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var subject string

		if token := jwt.TokenFromRequest(r); token != "" {
			payload, err := jwt.ParseToken(token, deps.Config.JWTSecret)
			if err != nil {
				logx.Warn("WebSocket request rejected: invalid token", "error", err.Error())
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}
			subject = payload.ID
		} else if !deps.Config.IsDevelopment() {
			logx.Warn("WebSocket request rejected: missing token")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := realtime.NewClient(deps.Hub, conn)
		logx.Info("WebSocket connection established", "conn_id", client.ID(), "subject", subject)

		client.Serve(subject)
	}
}
