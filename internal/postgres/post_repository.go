package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/postday/reactions/internal/domain"
)

// Post is a registered post with its seed counts.
type Post struct {
	ID        string
	Baseline  map[string]int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PostRepo is the registry of posts and their baselines. Posts are
// registered lazily: the first baseline lookup for an unknown post inserts
// it with the repo's default baseline, so a post never needs an explicit
// create call before it can take reactions.
type PostRepo struct {
	pool            *pgxpool.Pool
	defaultBaseline map[string]int
}

func NewPostRepo(pool *pgxpool.Pool, defaultBaseline map[string]int) *PostRepo {
	return &PostRepo{pool: pool, defaultBaseline: defaultBaseline}
}

// Baseline resolves the seed counts for a post, registering it with the
// default baseline on first sight.
func (r *PostRepo) Baseline(ctx context.Context, postID string) (map[string]int, error) {
	var baseline map[string]int
	err := r.pool.QueryRow(ctx,
		`SELECT baseline FROM posts WHERE id = $1`, postID,
	).Scan(&baseline)
	if err == nil {
		return baseline, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get post baseline: %w", err)
	}

	// Two instances may race here; ON CONFLICT makes the insert a no-op
	// for the loser and both read back the winner's row.
	_, err = r.pool.Exec(ctx,
		`INSERT INTO posts (id, baseline) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		postID, r.defaultBaseline,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register post: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT baseline FROM posts WHERE id = $1`, postID,
	).Scan(&baseline)
	if err != nil {
		return nil, fmt.Errorf("failed to get post baseline after insert: %w", err)
	}
	return baseline, nil
}

// Get returns a registered post, or domain.ErrPostNotFound.
func (r *PostRepo) Get(ctx context.Context, postID string) (*Post, error) {
	var p Post
	err := r.pool.QueryRow(ctx,
		`SELECT id, baseline, created_at, updated_at FROM posts WHERE id = $1`, postID,
	).Scan(&p.ID, &p.Baseline, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &p, nil
}

// SetBaseline registers a post with an explicit baseline, or replaces the
// baseline of an existing one.
func (r *PostRepo) SetBaseline(ctx context.Context, postID string, baseline map[string]int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO posts (id, baseline) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET baseline = EXCLUDED.baseline, updated_at = now()`,
		postID, baseline,
	)
	if err != nil {
		return fmt.Errorf("failed to set post baseline: %w", err)
	}
	return nil
}

// Delete removes a post from the registry.
func (r *PostRepo) Delete(ctx context.Context, postID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, postID)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}
