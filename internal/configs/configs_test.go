package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "PORT", "ALLOWED_ORIGINS", "JWT_SECRET", "TOKEN_TTL",
		"REDIS_URL", "BROADCAST_DRIVER", "NATS_URL", "MESSAGE_STORE", "DATABASE_URL",
		"SQLITE_PATH", "DB_MAX_CONNS", "CHAT_ROOM", "HISTORY_LIMIT", "RATE_LIMIT_WINDOW", "RATE_LIMIT_MAX",
		"MAX_CONTENT_BYTES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, BroadcastRedis, cfg.BroadcastDriver)
	assert.Equal(t, StorePostgres, cfg.MessageStore)
	assert.NotEmpty(t, cfg.DatabaseDSN)
	assert.Equal(t, int32(25), cfg.DBMaxConns)
	assert.Equal(t, "global", cfg.Room)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, 10*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 5, cfg.RateLimitMax)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("BROADCAST_DRIVER", "NATS")
	t.Setenv("MESSAGE_STORE", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/chat.db")
	t.Setenv("CHAT_ROOM", "lobby")
	t.Setenv("RATE_LIMIT_WINDOW", "30")
	t.Setenv("RATE_LIMIT_MAX", "3")
	t.Setenv("HISTORY_LIMIT", "20")
	t.Setenv("TOKEN_TTL", "15m")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, BroadcastNATS, cfg.BroadcastDriver)
	assert.Equal(t, StoreSQLite, cfg.MessageStore)
	assert.Equal(t, "/tmp/chat.db", cfg.SQLitePath)
	assert.Equal(t, "lobby", cfg.Room)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 3, cfg.RateLimitMax)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"privileged port", "PORT", "80"},
		{"non numeric port", "PORT", "abc"},
		{"unknown broadcast driver", "BROADCAST_DRIVER", "kafka"},
		{"unknown store", "MESSAGE_STORE", "mongo"},
		{"zero pool size", "DB_MAX_CONNS", "0"},
		{"zero rate limit", "RATE_LIMIT_MAX", "0"},
		{"negative history", "HISTORY_LIMIT", "-1"},
		{"sub-second window", "RATE_LIMIT_WINDOW", "500ms"},
		{"bad duration", "TOKEN_TTL", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_ProductionRequiresSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	_, err = LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://db/relaychat")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
}
