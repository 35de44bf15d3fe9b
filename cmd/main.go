/*
Package main is the entry point for the relaychat gateway.

It is responsible for loading configuration, initializing the global logging system,
connecting the shared stores and the broadcast fabric, setting up the HTTP server,
and gracefully handling operating system interrupt signals (SIGINT, SIGTERM)
so that every open connection is torn down before the process exits.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"relaychat/internal/app/broadcast"
	"relaychat/internal/app/chat"
	"relaychat/internal/app/db"
	"relaychat/internal/app/message"
	"relaychat/internal/app/presence"
	"relaychat/internal/app/ratelimit"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())

	hostname, _ := os.Hostname()
	nodeID := randx.NodeID(hostname)

	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("node_id", nodeID).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("broadcast_driver", cfg.BroadcastDriver).
		Str("message_store", cfg.MessageStore).
		Str("room", cfg.Room).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := newRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logx.Fatal(err, "Invalid Redis configuration")
	}

	fabric := newFabric(cfg, rdb, nodeID)

	store, closeStore, err := newMessageStore(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to initialize message store")
	}

	gateway := chat.NewGateway(chat.Deps{
		Presence: presence.NewStore(rdb, "presence"),
		Limiter: ratelimit.NewLimiter(rdb, ratelimit.Config{
			Window: cfg.RateLimitWindow,
			Limit:  cfg.RateLimitMax,
		}, "rate-limit:user"),
		Messages: store,
		Fabric:   fabric,
	}, chat.Config{
		HistoryLimit:          cfg.HistoryLimit,
		MaxContentBytes:       cfg.MaxContentBytes,
		RoomInactivityTimeout: chat.RoomInactivityTimeout,
	})

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Gateway:  gateway,
		Config:   cfg,
		Verifier: jwt.NewVerifier(cfg.JWTSecret),
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("relaychat gateway starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 10 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "HTTP server forced to shutdown")
	}

	// WebSocket connections are hijacked and not covered by server.Shutdown.
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Gateway shutdown incomplete")
	}

	if err := multierr.Combine(fabric.Close(), closeStore(), rdb.Close()); err != nil {
		logx.Error(err, "Failed to release resources cleanly")
	}

	logx.Info("Server gracefully stopped.")
}

// newRedisClient builds the client shared by presence, rate limiting and the Redis fabric.
// An unreachable server is only logged: those components degrade on their own.
func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logx.Warn("Redis is unreachable at startup. Presence and rate limiting will degrade until it recovers.", "error", err.Error())
	} else {
		logx.Info("Connected to Redis.", "addr", opts.Addr)
	}

	return rdb, nil
}

// newFabric returns the configured broadcast fabric. Remote fabrics are wrapped so an
// outage keeps delivery going on this instance.
func newFabric(cfg *configs.AppConfig, rdb *redis.Client, nodeID string) broadcast.Fabric {
	switch cfg.BroadcastDriver {
	case configs.BroadcastNATS:
		nc, err := broadcast.ConnectNATS(cfg.NATSURL, nodeID)
		if err != nil {
			logx.Error(err, "NATS is unreachable. Broadcasts stay local to this instance.")
			return broadcast.NewLocal(nodeID)
		}
		return broadcast.NewDegrading(broadcast.NewNATS(nc, "chat.room", nodeID), nodeID)

	case configs.BroadcastLocal:
		return broadcast.NewLocal(nodeID)

	default:
		return broadcast.NewDegrading(broadcast.NewRedis(rdb, "chat:room", nodeID), nodeID)
	}
}

// newMessageStore opens the configured message store and returns its release function.
func newMessageStore(ctx context.Context, cfg *configs.AppConfig) (chat.MessageStore, func() error, error) {
	switch cfg.MessageStore {
	case configs.StoreSQLite:
		store, err := message.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logx.Info("Message store ready.", "driver", "sqlite", "path", cfg.SQLitePath)
		return store, store.Close, nil

	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN, db.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, nil, err
		}
		logx.Info("Message store ready.", "driver", "postgres")
		return message.NewPostgresStore(pool), func() error {
			pool.Close()
			return nil
		}, nil
	}
}
