package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postday/reactions/internal/domain"
)

func defaultTestBaseline() map[string]int {
	return map[string]int{"👍": 42, "❤️": 28, "🤔": 15, "🔥": 33, "💡": 21}
}

func TestPostRepo_BaselineRegistersUnknownPost(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostRepo(pool, defaultTestBaseline())
	ctx := context.Background()

	baseline, err := repo.Baseline(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, defaultTestBaseline(), baseline)

	// The post is now registered.
	post, err := repo.Get(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, "post-1", post.ID)
	assert.Equal(t, defaultTestBaseline(), post.Baseline)
	assert.False(t, post.CreatedAt.IsZero())
}

func TestPostRepo_BaselineReturnsStoredBaseline(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostRepo(pool, defaultTestBaseline())
	ctx := context.Background()

	custom := map[string]int{"👍": 1, "❤️": 2}
	require.NoError(t, repo.SetBaseline(ctx, "post-1", custom))

	baseline, err := repo.Baseline(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, custom, baseline)
}

func TestPostRepo_GetNotFound(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostRepo(pool, defaultTestBaseline())
	ctx := context.Background()

	post, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
	assert.Nil(t, post)
}

func TestPostRepo_SetBaselineReplacesExisting(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostRepo(pool, defaultTestBaseline())
	ctx := context.Background()

	require.NoError(t, repo.SetBaseline(ctx, "post-1", map[string]int{"👍": 1}))
	require.NoError(t, repo.SetBaseline(ctx, "post-1", map[string]int{"👍": 9}))

	baseline, err := repo.Baseline(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"👍": 9}, baseline)
}

func TestPostRepo_Delete(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostRepo(pool, defaultTestBaseline())
	ctx := context.Background()

	_, err := repo.Baseline(ctx, "post-1")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "post-1"))
	assert.ErrorIs(t, repo.Delete(ctx, "post-1"), domain.ErrPostNotFound)
}

func TestPostRepo_ConcurrentBaselineSingleRow(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostRepo(pool, defaultTestBaseline())
	ctx := context.Background()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := repo.Baseline(ctx, "post-1")
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}

	var count int
	err := pool.QueryRow(ctx, `SELECT count(*) FROM posts WHERE id = $1`, "post-1").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
