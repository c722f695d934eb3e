package reaction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postday/reactions/internal/domain"
)

func TestMemoryStore_SeedsBaselineOnFirstTouch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	baseline := map[string]int{"👍": 42, "❤️": 28}

	snap, err := store.Snapshot(ctx, "post-1", baseline)
	require.NoError(t, err)

	assert.Equal(t, 42, snap.Counts["👍"])
	assert.Equal(t, 28, snap.Counts["❤️"])
	assert.Equal(t, int64(0), snap.Rev)
}

func TestMemoryStore_ToggleRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	baseline := map[string]int{"👍": 5}

	res, err := store.Apply(ctx, "post-1", "user-1", "👍", baseline)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Snapshot.Counts["👍"])
	assert.Equal(t, "👍", res.Selection)

	res, err = store.Apply(ctx, "post-1", "user-1", "👍", baseline)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Snapshot.Counts["👍"])
	assert.Equal(t, domain.NoSelection, res.Selection)
	assert.Equal(t, domain.TransitionClear, res.Kind)
}

func TestMemoryStore_Switch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	baseline := map[string]int{"👍": 5, "❤️": 2}

	_, err := store.Apply(ctx, "post-1", "user-1", "👍", baseline)
	require.NoError(t, err)

	res, err := store.Apply(ctx, "post-1", "user-1", "❤️", baseline)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Snapshot.Counts["👍"])
	assert.Equal(t, 3, res.Snapshot.Counts["❤️"])
	assert.Equal(t, "❤️", res.Selection)
	assert.Equal(t, domain.TransitionSwitch, res.Kind)
}

func TestMemoryStore_NoopDoesNotBumpRev(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	baseline := map[string]int{"👍": 0}

	res, err := store.Apply(ctx, "post-1", "user-1", domain.NoSelection, baseline)
	require.NoError(t, err)
	assert.Equal(t, domain.TransitionNoop, res.Kind)
	assert.Equal(t, int64(0), res.Snapshot.Rev)
}

func TestMemoryStore_RevIncreasesPerChange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	baseline := map[string]int{"👍": 0, "❤️": 0}

	r1, _ := store.Apply(ctx, "post-1", "user-1", "👍", baseline)
	r2, _ := store.Apply(ctx, "post-1", "user-1", "❤️", baseline)
	r3, _ := store.Apply(ctx, "post-1", "user-1", "❤️", baseline)

	assert.Equal(t, int64(1), r1.Snapshot.Rev)
	assert.Equal(t, int64(2), r2.Snapshot.Rev)
	assert.Equal(t, int64(3), r3.Snapshot.Rev)
}

func TestMemoryStore_SelectionClearedNotForgotten(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	baseline := map[string]int{"👍": 0}

	_, err := store.Apply(ctx, "post-1", "user-1", "👍", baseline)
	require.NoError(t, err)
	_, err = store.Apply(ctx, "post-1", "user-1", "👍", baseline)
	require.NoError(t, err)

	sel, err := store.Selection(ctx, "post-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.NoSelection, sel)
}

func TestMemoryStore_Reset(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	baseline := map[string]int{"👍": 42}

	_, err := store.Apply(ctx, "post-1", "user-1", "👍", baseline)
	require.NoError(t, err)

	snap, err := store.Reset(ctx, "post-1", baseline)
	require.NoError(t, err)
	assert.Equal(t, 42, snap.Counts["👍"])

	sel, err := store.Selection(ctx, "post-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.NoSelection, sel)
}

// No lost updates: N distinct users concurrently selecting the same emoji on
// an empty post produce exactly N, regardless of interleaving.
func TestMemoryStore_ConcurrentDistinctUsers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	baseline := map[string]int{"👍": 0}

	const users = 64
	var wg sync.WaitGroup
	wg.Add(users)
	for i := 0; i < users; i++ {
		go func(i int) {
			defer wg.Done()
			userID := "user-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
			_, err := store.Apply(ctx, "post-1", userID, "👍", baseline)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, err := store.Snapshot(ctx, "post-1", baseline)
	require.NoError(t, err)
	assert.Equal(t, users, snap.Counts["👍"])
}

// No count is ever observed negative, and no observer ever sees a
// half-applied switch pair: for a switch on a post where every vote belongs
// to one user, the total across emojis is invariant.
func TestMemoryStore_ConcurrentSwitchesKeepTotalInvariant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	baseline := map[string]int{"👍": 0, "❤️": 0}

	_, err := store.Apply(ctx, "post-1", "user-1", "👍", baseline)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		emojis := []string{"❤️", "👍"}
		for i := 0; i < 200; i++ {
			_, err := store.Apply(ctx, "post-1", "user-1", emojis[i%2], baseline)
			assert.NoError(t, err)
		}
	}()

	for {
		select {
		case <-done:
			snap, err := store.Snapshot(ctx, "post-1", baseline)
			require.NoError(t, err)
			assert.Equal(t, 1, snap.Counts["👍"]+snap.Counts["❤️"])
			return
		default:
			snap, err := store.Snapshot(ctx, "post-1", baseline)
			require.NoError(t, err)
			total := snap.Counts["👍"] + snap.Counts["❤️"]
			assert.Equal(t, 1, total, "transient double count observed")
			assert.GreaterOrEqual(t, snap.Counts["👍"], 0)
			assert.GreaterOrEqual(t, snap.Counts["❤️"], 0)
		}
	}
}

func TestMemoryStore_PostsAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	baseline := map[string]int{"👍": 0}

	_, err := store.Apply(ctx, "post-1", "user-1", "👍", baseline)
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx, "post-2", baseline)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Counts["👍"])

	sel, err := store.Selection(ctx, "post-2", "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.NoSelection, sel)
}

func TestMemoryLimiter_EnforcesInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewMemoryLimiter(time.Second, clock)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "post-1", "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "post-1", "user-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Different user and different post are unaffected.
	allowed, _ = limiter.Allow(ctx, "post-1", "user-2")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow(ctx, "post-2", "user-1")
	assert.True(t, allowed)

	clock.Advance(time.Second)
	allowed, err = limiter.Allow(ctx, "post-1", "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemoryLimiter_ZeroIntervalDisables(t *testing.T) {
	limiter := NewMemoryLimiter(0, clockwork.NewFakeClock())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, "post-1", "user-1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestMemoryLimiter_Prune(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewMemoryLimiter(time.Second, clock)
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "post-1", "user-1")
	_, _ = limiter.Allow(ctx, "post-1", "user-2")

	assert.Equal(t, 0, limiter.Prune())
	clock.Advance(time.Second)
	assert.Equal(t, 2, limiter.Prune())
}
