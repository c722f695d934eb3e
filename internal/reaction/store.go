package reaction

import (
	"context"

	"github.com/postday/reactions/internal/domain"
)

// Store combines the per-post counter map and the per-user selection ledger
// behind one atomic transition. Keeping both entities behind a single Apply
// call is deliberate: the counter delta and the ledger write commit together
// or not at all, so a failure can never strand a phantom count that belongs
// to no user.
//
// A post is created lazily on first read or write, seeded from baseline.
type Store interface {
	// Apply runs the full selection transition for one submit: read the
	// user's previous selection, compute the delta pair, apply it with a
	// zero floor, persist the new selection, bump the revision. Returns
	// the post-update snapshot.
	Apply(ctx context.Context, postID, userID, emoji string, baseline map[string]int) (Result, error)

	// Snapshot returns current counts without mutating anything beyond
	// lazy initialization. Never blocks writers.
	Snapshot(ctx context.Context, postID string, baseline map[string]int) (domain.Snapshot, error)

	// Selection returns the user's current selection for a post
	// (domain.NoSelection if none).
	Selection(ctx context.Context, postID, userID string) (string, error)

	// Reset reseeds a post's counters from baseline and clears every
	// selection for it.
	Reset(ctx context.Context, postID string, baseline map[string]int) (domain.Snapshot, error)
}

// Result is the outcome of an applied submit.
type Result struct {
	Snapshot  domain.Snapshot
	Selection string
	Kind      domain.TransitionKind
}

// Limiter enforces the minimum interval between submits by the same user on
// the same post. Purely an anti-churn defence; correctness never depends on it.
type Limiter interface {
	Allow(ctx context.Context, postID, userID string) (bool, error)
}

// Publisher fans a fresh snapshot out to subscribers. Delivery is
// best-effort and at-least-once; the snapshot revision lets receivers drop
// anything older than what they already delivered.
type Publisher interface {
	Publish(ctx context.Context, snapshot domain.Snapshot) error
}

// BaselineSource resolves the seed counts for a post.
type BaselineSource interface {
	Baseline(ctx context.Context, postID string) (map[string]int, error)
}
