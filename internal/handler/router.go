/*
Package handler provides the HTTP handlers and routing setup for the relaychat server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (API and WebSocket).
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
)

// Limits are the per-IP token buckets in front of auth and the socket upgrade.
type Limits struct {
	AuthRate    rate.Limit
	AuthBurst   int
	SocketRate  rate.Limit
	SocketBurst int
}

// DefaultLimits is used when AppDeps.Limits is left zero.
var DefaultLimits = Limits{
	AuthRate:    0.2,
	AuthBurst:   5,
	SocketRate:  0.5,
	SocketBurst: 10,
}

// Router sets up the main HTTP routing table for the application. The returned stop
// function releases the rate limiters' background sweeps.
func Router(deps *AppDeps) (http.Handler, func()) {
	limits := deps.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits
	}
	authLimiter := limiter.NewIPRateLimiter(limits.AuthRate, limits.AuthBurst)
	socketLimiter := limiter.NewIPRateLimiter(limits.SocketRate, limits.SocketBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-PoW-Token"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth(deps))

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.Route("/pow", func(p chi.Router) {
			p.Post("/challenge", HandlePowChallenge(deps))
			p.Post("/verify", HandlePowVerify(deps))
		})

		api.Route("/auth", func(auth chi.Router) {
			auth.Use(authLimiter.Middleware)
			auth.With(deps.Pow.Require).Post("/register", HandleRegister(deps))
			auth.Post("/login", HandleLogin(deps))
		})

		api.Group(func(private chi.Router) {
			private.Use(jwt.RequireIdentity)

			private.Route("/users", func(users chi.Router) {
				users.Get("/search", HandleSearchUsers(deps))
				users.Get("/profile", HandleGetProfile(deps))
				users.Get("/online", HandleOnlineUsers(deps))
			})

			private.Route("/chats", func(chats chi.Router) {
				chats.Post("/", HandleAccessChat(deps))
				chats.Get("/", HandleListChats(deps))
				chats.Post("/group", HandleCreateGroup(deps))
				chats.Put("/group/rename", HandleRenameGroup(deps))
				chats.Put("/group/add", HandleAddToGroup(deps))
				chats.Put("/group/remove", HandleRemoveFromGroup(deps))
			})

			private.Route("/messages", func(messages chi.Router) {
				messages.Post("/", HandleSendMessage(deps))
				messages.Get("/{chatId}", HandleListMessages(deps))
			})

			private.Route("/file", func(file chi.Router) {
				file.Post("/presign-upload", HandlePresignUpload(deps))
				file.Post("/upload", HandleUploadImage(deps))
			})
		})
	})

	r.With(socketLimiter.Middleware).Get("/ws", HandleWebSocket(wsUpgrader, deps))

	stop := func() {
		authLimiter.Stop()
		socketLimiter.Stop()
	}
	return r, stop
}
