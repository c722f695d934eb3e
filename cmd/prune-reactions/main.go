// Command prune-reactions removes Redis reaction state for posts that no
// longer exist in Postgres. Posts are deleted editorially from time to
// time; their counter hashes and selection ledgers would otherwise live
// in Redis forever.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
)

const (
	countsPrefix     = "reactions:counts:"
	selectionsPrefix = "reactions:selections:"
	revPrefix        = "reactions:rev:"
	scanCount        = 100
)

func main() {
	var (
		redisURL    = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL env)")
		dryRun      = flag.Bool("dry-run", false, "Dry run mode (don't delete from Redis)")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}
	if *databaseURL == "" {
		log.Fatal("Postgres URL required (--database or DATABASE_URL env)")
	}

	// Configure logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	ctx := context.Background()

	// Connect to Redis
	opts, err := goredis.ParseURL(*redisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	rdb := goredis.NewClient(opts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	slog.Info("Connected to Redis", "url", sanitizeURL(*redisURL))

	// Connect to Postgres
	pool, err := pgxpool.New(ctx, *databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping Postgres: %v", err)
	}

	if err := pruneOrphanedPosts(ctx, rdb, pool, *dryRun); err != nil {
		log.Fatalf("Prune failed: %v", err)
	}

	slog.Info("Prune complete")
}

func pruneOrphanedPosts(ctx context.Context, rdb *goredis.Client, pool *pgxpool.Pool, dryRun bool) error {
	start := time.Now()
	var cursor uint64
	var scanned, pruned, kept int

	slog.Info("Starting prune", "dry_run", dryRun)

	for {
		keys, nextCursor, err := rdb.Scan(ctx, cursor, countsPrefix+"*", scanCount).Result()
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		for _, key := range keys {
			scanned++
			postID := strings.TrimPrefix(key, countsPrefix)

			exists, err := postExists(ctx, pool, postID)
			if err != nil {
				return fmt.Errorf("failed to check post %s: %w", postID, err)
			}
			if exists {
				slog.Debug("Post still exists, keeping", "post_id", postID)
				kept++
				continue
			}

			if !dryRun {
				if err := rdb.Del(ctx,
					countsPrefix+postID,
					selectionsPrefix+postID,
					revPrefix+postID,
				).Err(); err != nil {
					return fmt.Errorf("del failed for %s: %w", postID, err)
				}
			}

			slog.Debug("Pruned orphaned post", "post_id", postID)
			pruned++
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	duration := time.Since(start)
	slog.Info("Prune summary",
		"scanned", scanned,
		"pruned", pruned,
		"kept", kept,
		"duration_ms", duration.Milliseconds())

	return nil
}

func postExists(ctx context.Context, pool *pgxpool.Pool, postID string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1)", postID).Scan(&exists)
	return exists, err
}

func sanitizeURL(url string) string {
	// Hide password in Redis URL for logging
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			credParts := strings.Split(parts[0], ":")
			if len(credParts) >= 2 {
				return credParts[0] + ":***@" + parts[1]
			}
		}
	}
	return url
}
