/*
Package handler provides the HTTP handlers and routing setup for the relaychat gateway.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (API and WebSocket).
*/
package handler

import (
	"context"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

const (
	LoginRate  = 0.2
	LoginBurst = 5
	JoinRate   = 1
	JoinBurst  = 10
)

// roomNamePattern keeps room names safe as Redis keys and NATS subject tokens.
var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// The per-IP limiters' cleanup goroutines stop when ctx is cancelled.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	loginLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(LoginRate), LoginBurst)
	joinLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(JoinRate), JoinBurst)

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
			if origin == "" {
				return true
			}
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
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]string{
			"status":  "ok",
			"service": "relaychat",
		})
	})

	r.Route("/api", func(api chi.Router) {
		api.With(loginLimiter.Middleware).Post("/login", HandleLogin(deps))

		api.Group(func(authed chi.Router) {
			authed.Use(jwt.RequireIdentity(deps.Verifier))
			authed.Get("/presence", HandlePresence(deps))
			authed.Get("/history", HandleHistory(deps))
		})
	})

	ws := HandleWebSocket(deps, wsUpgrader)
	r.With(joinLimiter.Middleware).Get("/ws", ws)
	r.With(joinLimiter.Middleware).Get("/ws/{room}", ws)

	return r
}

// roomFromRequest resolves the room scope of a request: the {room} path parameter, then
// the room query parameter, then the configured default.
func roomFromRequest(r *http.Request, fallback string) (string, bool) {
	room := chi.URLParam(r, "room")
	if room == "" {
		room = r.URL.Query().Get("room")
	}
	if room == "" {
		room = fallback
	}
	return room, roomNamePattern.MatchString(room)
}
