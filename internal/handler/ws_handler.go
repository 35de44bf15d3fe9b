/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which authenticates the handshake,
resolves the room scope, upgrades the HTTP connection to WebSocket and hands the
connection to the chat gateway for the rest of its lifecycle.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// Unauthenticated handshakes are answered with 401 and never upgraded.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := deps.Verifier.Verify(jwt.TokenFromRequest(r))
		if err != nil {
			logx.Warn("WebSocket handshake rejected: unauthenticated.", "ip", limiter.ClientIP(r), "error", err.Error())
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		room, ok := roomFromRequest(r, deps.Config.Room)
		if !ok {
			logx.Warn("WebSocket handshake rejected: invalid room name.", "user_id", userID)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(conn, user.New(userID), room)

		logx.Info("WebSocket connection established", "conn_id", client.ID(), "user_id", userID, "room", room)

		deps.Gateway.Serve(r.Context(), client)
	}
}
