package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/postday/reactions/internal/broadcast"
	"github.com/postday/reactions/internal/config"
	"github.com/postday/reactions/internal/domain"
	"github.com/postday/reactions/internal/logging"
	"github.com/postday/reactions/internal/postgres"
	"github.com/postday/reactions/internal/reaction"
	"github.com/postday/reactions/internal/redis"
	"github.com/postday/reactions/internal/server"
	goredis "github.com/redis/go-redis/v9"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// defaultBaseline picks the seed counts for posts without a stored
// baseline. The built-in palette ships with lived-in numbers; a custom
// palette starts from zero because we have no idea what looks natural.
func defaultBaseline(palette domain.Palette, custom bool) map[string]int {
	if custom {
		return palette.ZeroCounts()
	}
	return domain.DefaultBaseline()
}

func runGracefulShutdown(srv *server.Server, broadcaster *broadcast.Broadcaster, subscription *redis.Subscription) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		subscription.Close()
		broadcaster.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	customPalette := len(cfg.PaletteEmojis()) > 0
	palette := domain.NewPalette(cfg.PaletteEmojis())

	postRepo := postgres.NewPostRepo(pool, defaultBaseline(palette, customPalette))

	baselines := reaction.NewBaselineCache(postRepo, cfg.BaselineTTL, clock)
	stopEviction := baselines.StartEvictionTimer(1 * time.Minute)
	defer stopEviction()

	store := redis.NewReactionStore(redisClient)
	limiter := redis.NewSubmitLimiter(redisClient, cfg.SubmitInterval)
	pubsub := redis.NewPubSub(redisClient)

	svc := reaction.NewService(store, limiter, baselines, pubsub, palette, cfg.SubmitTimeout)

	broadcaster := broadcast.NewBroadcaster(clock, cfg.MaxClientsPerPost)

	// Pump snapshots from Redis Pub/Sub into the local broadcaster. Every
	// instance subscribes to every post; the broadcaster drops snapshots
	// for posts with no local clients and stale revisions.
	subscription := pubsub.SubscribeAll(context.Background())
	go func() {
		for snapshot := range subscription.Ch {
			broadcaster.Broadcast(snapshot)
		}
	}()

	srv := server.NewServer(cfg, svc, broadcaster, redisClient, pool)

	done := runGracefulShutdown(srv, broadcaster, subscription)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
