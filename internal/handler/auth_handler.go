/*
Package handler provides HTTP handler functions for token issuance.
*/
package handler

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

const maxUserIDRunes = 64

type LoginInput struct {
	User string `json:"user"`
}

// HandleLogin issues a bearer token for the given user name.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input LoginInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		userID := strings.TrimSpace(input.User)
		if userID == "" || utf8.RuneCountInString(userID) > maxUserIDRunes {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		token, err := jwt.GenerateToken(userID, deps.Config.JWTSecret, deps.Config.TokenTTL)
		if err != nil {
			logx.Error(err, "login: jwt generation failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"token":     token,
			"user":      userID,
			"expiresIn": int64(deps.Config.TokenTTL.Seconds()),
		})
	}
}
