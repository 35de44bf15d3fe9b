package jwt

import (
	"context"
	"net/http"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

type contextKey string

// ContextAuthPayloadKey is the request context key holding the verified *Payload.
const ContextAuthPayloadKey contextKey = "auth_payload"

// RequireIdentity rejects requests without a valid bearer token with 401 and stores
// the verified payload in the request context otherwise.
func RequireIdentity(verifier *Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, err := verifier.VerifyRequest(r)
			if err != nil {
				logx.Warn("Rejected request without valid token", "path", r.URL.Path, "error", err.Error())
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
				return
			}

			ctx := context.WithValue(r.Context(), ContextAuthPayloadKey, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPayloadFromContext returns the payload stored by RequireIdentity, or nil.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, ok := r.Context().Value(ContextAuthPayloadKey).(*Payload)
	if !ok {
		return nil
	}
	return payload
}
