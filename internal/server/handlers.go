package server

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/postday/reactions/internal/domain"
	apperrors "github.com/postday/reactions/internal/errors"
	"github.com/postday/reactions/internal/version"
)

// reactionResponse is the payload for snapshot and submit responses.
// UserReaction is null when the user holds no selection.
type reactionResponse struct {
	PostID       string         `json:"post_id"`
	Rev          int64          `json:"rev"`
	Counts       map[string]int `json:"counts"`
	UserReaction *string        `json:"user_reaction"`
	Transition   string         `json:"transition,omitempty"`
}

type submitRequest struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

func selectionPtr(selection string) *string {
	if selection == domain.NoSelection {
		return nil
	}
	return &selection
}

// handleGetReactions returns the current counts for a post, and the caller's
// own selection when user_id is supplied.
func (s *Server) handleGetReactions(c echo.Context) error {
	postID := c.Param("postID")
	ctx := c.Request().Context()

	snapshot, err := s.reactions.GetSnapshot(ctx, postID)
	if err != nil {
		return err
	}

	resp := reactionResponse{
		PostID: snapshot.PostID,
		Rev:    snapshot.Rev,
		Counts: snapshot.Counts,
	}

	if userID := c.QueryParam("user_id"); userID != "" {
		selection, err := s.reactions.GetSelection(ctx, postID, userID)
		if err != nil {
			return err
		}
		resp.UserReaction = selectionPtr(selection)
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleSubmitReaction sets, switches, or clears the caller's reaction.
// Submitting the currently selected emoji (or an empty one) clears it.
func (s *Server) handleSubmitReaction(c echo.Context) error {
	postID := c.Param("postID")

	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	result, err := s.reactions.Submit(c.Request().Context(), req.UserID, postID, req.Emoji)
	if err != nil {
		return err
	}

	resp := reactionResponse{
		PostID:       result.Snapshot.PostID,
		Rev:          result.Snapshot.Rev,
		Counts:       result.Snapshot.Counts,
		UserReaction: selectionPtr(result.Selection),
		Transition:   string(result.Kind),
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleResetPost reseeds a post's counters from its baseline and clears
// every selection. Guarded by requireAdminToken.
func (s *Server) handleResetPost(c echo.Context) error {
	postID := c.Param("postID")

	snapshot, err := s.reactions.ResetPost(c.Request().Context(), postID)
	if err != nil {
		slog.Error("Failed to reset post", "error", err, "post_id", postID)
		return err
	}

	resp := reactionResponse{
		PostID: snapshot.PostID,
		Rev:    snapshot.Rev,
		Counts: snapshot.Counts,
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// requireAdminToken guards admin-only routes. An unset token disables them
// entirely rather than leaving them open.
func (s *Server) requireAdminToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.config.AdminToken == "" {
			return apperrors.NotFoundError("admin endpoints disabled")
		}

		token := c.Request().Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AdminToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin token")
		}
		return next(c)
	}
}

// handleWebSocket upgrades the connection and streams snapshots for a post
// until the client disconnects.
func (s *Server) handleWebSocket(c echo.Context) error {
	postID := c.Param("postID")
	ctx := c.Request().Context()

	// Resolve the initial snapshot before upgrading, so registration can
	// hand the client a consistent starting state.
	initial, err := s.reactions.GetSnapshot(ctx, postID)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("Failed to upgrade WebSocket", "error", err, "post_id", postID)
		return nil
	}

	if err := s.broadcaster.Register(postID, conn, initial); err != nil {
		slog.Warn("Failed to register WebSocket client", "error", err, "post_id", postID)
		// Connection already closed by the broadcaster, just return
		return nil
	}

	// Read pump (blocks until disconnect)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.broadcaster.Unregister(postID, conn)
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get())
}
