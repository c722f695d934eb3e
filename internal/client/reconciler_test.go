package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postday/reactions/internal/domain"
)

type mockAPI struct {
	mu          sync.Mutex
	stateFn     func(postID, userID string) (Reaction, error)
	submitFn    func(postID, userID, emoji string) (Reaction, error)
	stateCalls  int
	submitCalls int
}

func (m *mockAPI) State(_ context.Context, postID, userID string) (Reaction, error) {
	m.mu.Lock()
	m.stateCalls++
	fn := m.stateFn
	m.mu.Unlock()
	if fn == nil {
		return Reaction{PostID: postID, Counts: map[string]int{}}, nil
	}
	return fn(postID, userID)
}

func (m *mockAPI) Submit(_ context.Context, postID, userID, emoji string) (Reaction, error) {
	m.mu.Lock()
	m.submitCalls++
	fn := m.submitFn
	m.mu.Unlock()
	if fn == nil {
		return Reaction{PostID: postID, Counts: map[string]int{}}, nil
	}
	return fn(postID, userID, emoji)
}

func (m *mockAPI) calls() (state, submit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateCalls, m.submitCalls
}

func serverReaction(rev int64, counts map[string]int, selection string) Reaction {
	r := Reaction{PostID: "post-1", Rev: rev, Counts: counts}
	if selection != domain.NoSelection {
		r.UserReaction = &selection
	}
	return r
}

func TestReconciler_LoadPopulatesView(t *testing.T) {
	api := &mockAPI{
		stateFn: func(postID, userID string) (Reaction, error) {
			assert.Equal(t, "post-1", postID)
			assert.Equal(t, "user-1", userID)
			return serverReaction(5, map[string]int{"👍": 42, "❤️": 28}, "👍"), nil
		},
	}

	r := NewReconciler(api, "post-1", "user-1")
	require.NoError(t, r.Load(context.Background()))

	view := r.View()
	assert.Equal(t, 42, view.Counts["👍"])
	assert.Equal(t, "👍", view.Selection)
	assert.Equal(t, int64(5), view.Rev)
	assert.False(t, view.Pending)
}

func TestReconciler_ReactAdoptsServerResponse(t *testing.T) {
	api := &mockAPI{
		stateFn: func(string, string) (Reaction, error) {
			return serverReaction(1, map[string]int{"👍": 42}, domain.NoSelection), nil
		},
		submitFn: func(_, _, emoji string) (Reaction, error) {
			assert.Equal(t, "👍", emoji)
			return serverReaction(2, map[string]int{"👍": 43}, "👍"), nil
		},
	}

	r := NewReconciler(api, "post-1", "user-1")
	require.NoError(t, r.Load(context.Background()))

	view, err := r.React(context.Background(), "👍")
	require.NoError(t, err)

	assert.Equal(t, 43, view.Counts["👍"])
	assert.Equal(t, "👍", view.Selection)
	assert.Equal(t, int64(2), view.Rev)
	assert.False(t, view.Pending)
}

func TestReconciler_OptimisticOverlayDuringFlight(t *testing.T) {
	release := make(chan struct{})
	api := &mockAPI{
		stateFn: func(string, string) (Reaction, error) {
			return serverReaction(1, map[string]int{"👍": 42}, domain.NoSelection), nil
		},
		submitFn: func(string, string, string) (Reaction, error) {
			<-release
			return serverReaction(2, map[string]int{"👍": 43}, "👍"), nil
		},
	}

	r := NewReconciler(api, "post-1", "user-1")
	require.NoError(t, r.Load(context.Background()))

	done := make(chan View, 1)
	go func() {
		view, _ := r.React(context.Background(), "👍")
		done <- view
	}()

	// The tap is visible before the server answers.
	require.Eventually(t, func() bool { return r.View().Pending }, time.Second, time.Millisecond)
	view := r.View()
	assert.Equal(t, 43, view.Counts["👍"])
	assert.Equal(t, "👍", view.Selection)

	close(release)
	final := <-done
	assert.False(t, final.Pending)
	assert.Equal(t, int64(2), final.Rev)
}

func TestReconciler_RollbackOnFailure(t *testing.T) {
	submitErr := errors.New("connection refused")
	api := &mockAPI{
		stateFn: func(string, string) (Reaction, error) {
			return serverReaction(3, map[string]int{"👍": 42, "❤️": 28}, "❤️"), nil
		},
		submitFn: func(string, string, string) (Reaction, error) {
			return Reaction{}, submitErr
		},
	}

	r := NewReconciler(api, "post-1", "user-1")
	require.NoError(t, r.Load(context.Background()))
	before := r.View()

	view, err := r.React(context.Background(), "👍")
	require.ErrorIs(t, err, submitErr)

	// The display is exactly what it was before the tap.
	assert.Equal(t, before, view)
	assert.Equal(t, before, r.View())
}

func TestReconciler_RejectsSecondTapWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	api := &mockAPI{
		submitFn: func(string, string, string) (Reaction, error) {
			<-release
			return serverReaction(1, map[string]int{"👍": 1}, "👍"), nil
		},
	}

	r := NewReconciler(api, "post-1", "user-1")

	done := make(chan struct{})
	go func() {
		_, _ = r.React(context.Background(), "👍")
		close(done)
	}()
	require.Eventually(t, func() bool { return r.View().Pending }, time.Second, time.Millisecond)

	_, err := r.React(context.Background(), "❤️")
	assert.ErrorIs(t, err, ErrChangeInFlight)

	close(release)
	<-done

	_, submits := api.calls()
	assert.Equal(t, 1, submits)
}

func TestReconciler_ClearWithoutSelectionSkipsServer(t *testing.T) {
	api := &mockAPI{}
	r := NewReconciler(api, "post-1", "user-1")

	view, err := r.React(context.Background(), domain.NoSelection)
	require.NoError(t, err)
	assert.Equal(t, domain.NoSelection, view.Selection)

	_, submits := api.calls()
	assert.Zero(t, submits)
}

func TestReconciler_ObserveAdoptsNewerSnapshot(t *testing.T) {
	api := &mockAPI{
		stateFn: func(string, string) (Reaction, error) {
			return serverReaction(2, map[string]int{"👍": 42}, "👍"), nil
		},
	}
	r := NewReconciler(api, "post-1", "user-1")
	require.NoError(t, r.Load(context.Background()))

	r.Observe(domain.Snapshot{PostID: "post-1", Rev: 5, Counts: map[string]int{"👍": 50}})

	view := r.View()
	assert.Equal(t, 50, view.Counts["👍"])
	assert.Equal(t, int64(5), view.Rev)
	// Pushed snapshots never change the user's own selection.
	assert.Equal(t, "👍", view.Selection)
}

func TestReconciler_ObserveDropsStaleSnapshot(t *testing.T) {
	api := &mockAPI{
		stateFn: func(string, string) (Reaction, error) {
			return serverReaction(5, map[string]int{"👍": 50}, domain.NoSelection), nil
		},
	}
	r := NewReconciler(api, "post-1", "user-1")
	require.NoError(t, r.Load(context.Background()))

	r.Observe(domain.Snapshot{PostID: "post-1", Rev: 3, Counts: map[string]int{"👍": 48}})

	view := r.View()
	assert.Equal(t, 50, view.Counts["👍"])
	assert.Equal(t, int64(5), view.Rev)
}

func TestReconciler_RefreshKeepsNewerCountsButAdoptsSelection(t *testing.T) {
	api := &mockAPI{
		stateFn: func(string, string) (Reaction, error) {
			return serverReaction(4, map[string]int{"👍": 44}, "👍"), nil
		},
	}
	r := NewReconciler(api, "post-1", "user-1")

	// A push got ahead of what the poll endpoint returns.
	r.Observe(domain.Snapshot{PostID: "post-1", Rev: 9, Counts: map[string]int{"👍": 49}})

	require.NoError(t, r.Refresh(context.Background()))

	view := r.View()
	assert.Equal(t, 49, view.Counts["👍"])
	assert.Equal(t, int64(9), view.Rev)
	assert.Equal(t, "👍", view.Selection)
}

func TestReconciler_StartPollingRefreshesOnInterval(t *testing.T) {
	api := &mockAPI{
		stateFn: func(string, string) (Reaction, error) {
			return serverReaction(1, map[string]int{}, domain.NoSelection), nil
		},
	}
	r := NewReconciler(api, "post-1", "user-1")

	clock := clockwork.NewFakeClock()
	stop := r.StartPolling(context.Background(), 10*time.Second, clock)
	defer stop()

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		states, _ := api.calls()
		return states == 1
	}, time.Second, time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		states, _ := api.calls()
		return states == 2
	}, time.Second, time.Millisecond)
}
