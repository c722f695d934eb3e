package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/postday/reactions/internal/domain"
)

// ErrChangeInFlight is returned when a reaction is submitted while an
// earlier submit on the same reconciler is still awaiting its response.
var ErrChangeInFlight = errors.New("reaction change already in flight")

// api is what the reconciler needs from the HTTP client.
type api interface {
	State(ctx context.Context, postID, userID string) (Reaction, error)
	Submit(ctx context.Context, postID, userID, emoji string) (Reaction, error)
}

// View is what a widget renders: the counts and selection as they should
// appear right now, including any not-yet-confirmed local change.
type View struct {
	Counts    map[string]int
	Selection string
	Rev       int64
	Pending   bool
}

// Reconciler tracks one user's display state for one post. Confirmed state
// is whatever the server last told us; a tap overlays a provisional
// transition on top until the submit response replaces both. The overlay is
// discarded wholesale on failure, never merged field by field, so a failed
// submit restores exactly the pre-tap display.
type Reconciler struct {
	api    api
	postID string
	userID string

	mu        sync.Mutex
	confirmed domain.Snapshot
	selection string
	pending   *domain.Change
}

func NewReconciler(api api, postID, userID string) *Reconciler {
	return &Reconciler{
		api:       api,
		postID:    postID,
		userID:    userID,
		confirmed: domain.Snapshot{PostID: postID, Counts: map[string]int{}},
	}
}

// Load fetches the initial counts and selection from the server.
func (r *Reconciler) Load(ctx context.Context) error {
	reaction, err := r.api.State(ctx, r.postID, r.userID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adoptLocked(reaction)
	return nil
}

// View returns the current display state.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// React submits a tap on emoji. The display changes immediately; the
// server response then either confirms it (authoritative counts replace
// the optimistic ones) or the display rolls back and the error is
// returned. At most one tap may be in flight at a time.
func (r *Reconciler) React(ctx context.Context, emoji string) (View, error) {
	r.mu.Lock()
	if r.pending != nil {
		view := r.viewLocked()
		r.mu.Unlock()
		return view, ErrChangeInFlight
	}

	change := domain.Resolve(r.selection, emoji)
	if change.Kind == domain.TransitionNoop {
		view := r.viewLocked()
		r.mu.Unlock()
		return view, nil
	}

	r.pending = &change
	r.mu.Unlock()

	reaction, err := r.api.Submit(ctx, r.postID, r.userID, emoji)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil

	if err != nil {
		// Rollback is implicit: the overlay is gone, confirmed state
		// was never touched.
		return r.viewLocked(), err
	}

	r.adoptLocked(reaction)
	return r.viewLocked(), nil
}

// Observe feeds a pushed snapshot (WebSocket or poll) into the display.
// Older revisions than what is already shown are dropped, so out-of-order
// delivery can never make the widget go backwards.
func (r *Reconciler) Observe(snapshot domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snapshot.Rev <= r.confirmed.Rev {
		return
	}
	r.confirmed = snapshot.Clone()
}

// Refresh re-fetches counts and selection from the server. This is the
// polling fallback for clients without a WebSocket connection.
func (r *Reconciler) Refresh(ctx context.Context) error {
	reaction, err := r.api.State(ctx, r.postID, r.userID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adoptLocked(reaction)
	return nil
}

// StartPolling refreshes on a fixed interval until the returned stop
// function is called or ctx is cancelled. Refresh errors are swallowed:
// the widget keeps showing the last known state.
func (r *Reconciler) StartPolling(ctx context.Context, interval time.Duration, clock clockwork.Clock) func() {
	pollCtx, cancel := context.WithCancel(ctx)
	ticker := clock.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				_ = r.Refresh(pollCtx)
			case <-pollCtx.Done():
				return
			}
		}
	}()

	return cancel
}

// adoptLocked merges a server response into confirmed state. Counts are
// taken only when at least as new as what is shown: a snapshot pushed
// while a submit was in flight may already be ahead of the submit's own
// response. The selection is always taken, pushes never carry it.
func (r *Reconciler) adoptLocked(reaction Reaction) {
	if reaction.Rev >= r.confirmed.Rev {
		r.confirmed = reaction.Snapshot().Clone()
	}
	r.selection = reaction.Selection()
}

func (r *Reconciler) viewLocked() View {
	view := View{
		Counts:    make(map[string]int, len(r.confirmed.Counts)),
		Selection: r.selection,
		Rev:       r.confirmed.Rev,
	}
	for emoji, n := range r.confirmed.Counts {
		view.Counts[emoji] = n
	}

	if r.pending != nil {
		domain.ApplyDeltas(view.Counts, r.pending.Deltas)
		view.Selection = r.pending.Next
		view.Pending = true
	}

	return view
}
