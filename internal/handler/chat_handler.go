package handler

import (
	"net/http"
	"strconv"

	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// HandlePresence returns the online users of a room and the caller's live connection count.
// It must be mounted behind jwt.RequireIdentity.
func HandlePresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		room, ok := roomFromRequest(r, deps.Config.Room)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		online, err := deps.Gateway.Online(r.Context(), room)
		if err != nil {
			logx.Error(err, "presence: failed to list online users", "room", room)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}
		if online == nil {
			online = []string{}
		}

		connections, err := deps.Gateway.Connections(r.Context(), room, payload.UserID)
		if err != nil {
			logx.Error(err, "presence: failed to read connection count", "room", room, "user_id", payload.UserID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"room":        room,
			"onlineUsers": online,
			"connections": connections,
		})
	}
}

// HandleHistory returns the recent messages of a room, oldest first.
func HandleHistory(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, ok := roomFromRequest(r, deps.Config.Room)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			limit = n
		}

		messages, err := deps.Gateway.History(r.Context(), room, limit)
		if err != nil {
			logx.Error(err, "history: failed to read recent messages", "room", room)
			resp.RespondError(w, r, errs.NewError(errs.ErrMessagePersistFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"room":     room,
			"messages": messages,
		})
	}
}
