package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"

	"github.com/postday/reactions/internal/config"
	"github.com/postday/reactions/internal/domain"
	"github.com/postday/reactions/internal/reaction"
)

// reactionService is the surface of reaction.Service the handlers need.
type reactionService interface {
	Submit(ctx context.Context, userID, postID, emoji string) (reaction.Result, error)
	GetSnapshot(ctx context.Context, postID string) (domain.Snapshot, error)
	GetSelection(ctx context.Context, postID, userID string) (string, error)
	ResetPost(ctx context.Context, postID string) (domain.Snapshot, error)
	Palette() domain.Palette
}

// snapshotBroadcaster is the surface of broadcast.Broadcaster the WebSocket
// handler needs.
type snapshotBroadcaster interface {
	Register(postID string, conn *websocket.Conn, initial domain.Snapshot) error
	Unregister(postID string, conn *websocket.Conn)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Reaction widgets embed anywhere
	},
}

type Server struct {
	echo        *echo.Echo
	config      *config.Config
	reactions   reactionService
	broadcaster snapshotBroadcaster

	redisClient *goredis.Client
	db          *pgxpool.Pool

	// Test seams for health checks
	redisHealthCheck    redisHealthChecker
	postgresHealthCheck postgresHealthChecker

	startTime time.Time
}

func NewServer(cfg *config.Config, reactions reactionService, broadcaster snapshotBroadcaster, redisClient *goredis.Client, db *pgxpool.Pool) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:        e,
		config:      cfg,
		reactions:   reactions,
		broadcaster: broadcaster,
		redisClient: redisClient,
		db:          db,
		startTime:   time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
