package handler

import (
	"relaychat/internal/app/chat"
	"relaychat/internal/configs"
	"relaychat/internal/pkg/auth/jwt"
)

// AppDeps carries what the HTTP handlers need.
type AppDeps struct {
	Gateway  *chat.Gateway
	Config   *configs.AppConfig
	Verifier *jwt.Verifier
}
