package reaction

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/postday/reactions/internal/domain"
)

// MemoryStore keeps reaction state in process memory. Used for
// single-instance deployments and unit tests; state does not survive
// restarts. Each post carries its own mutex, so submits for different posts
// never contend and the lock is held exactly for the duration of one
// transition (delta pair plus ledger write).
type MemoryStore struct {
	mu    sync.Mutex
	posts map[string]*postState
}

type postState struct {
	mu         sync.Mutex
	counts     map[string]int
	selections map[string]string
	rev        int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{posts: make(map[string]*postState)}
}

// post returns the state for postID, creating and seeding it on first touch.
func (s *MemoryStore) post(postID string, baseline map[string]int) *postState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.posts[postID]; ok {
		return p
	}
	counts := make(map[string]int, len(baseline))
	for emoji, n := range baseline {
		counts[emoji] = n
	}
	p := &postState{counts: counts, selections: make(map[string]string)}
	s.posts[postID] = p
	return p
}

func (s *MemoryStore) Apply(_ context.Context, postID, userID, emoji string, baseline map[string]int) (Result, error) {
	p := s.post(postID, baseline)
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.selections[userID]
	change := domain.Resolve(prev, emoji)

	if change.Kind != domain.TransitionNoop {
		domain.ApplyDeltas(p.counts, change.Deltas)
		// Cleared selections stay as empty entries; the ledger records
		// "none", it does not forget the user.
		p.selections[userID] = change.Next
		p.rev++
	}

	return Result{
		Snapshot:  p.snapshotLocked(postID),
		Selection: change.Next,
		Kind:      change.Kind,
	}, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, postID string, baseline map[string]int) (domain.Snapshot, error) {
	p := s.post(postID, baseline)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(postID), nil
}

func (s *MemoryStore) Selection(_ context.Context, postID, userID string) (string, error) {
	s.mu.Lock()
	p, ok := s.posts[postID]
	s.mu.Unlock()
	if !ok {
		return domain.NoSelection, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selections[userID], nil
}

func (s *MemoryStore) Reset(_ context.Context, postID string, baseline map[string]int) (domain.Snapshot, error) {
	p := s.post(postID, baseline)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts = make(map[string]int, len(baseline))
	for emoji, n := range baseline {
		p.counts[emoji] = n
	}
	p.selections = make(map[string]string)
	p.rev++

	return p.snapshotLocked(postID), nil
}

func (p *postState) snapshotLocked(postID string) domain.Snapshot {
	return domain.Snapshot{PostID: postID, Rev: p.rev, Counts: p.counts}.Clone()
}

// MemoryLimiter enforces the submit interval in process memory.
type MemoryLimiter struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration
	last     map[limiterKey]time.Time
}

type limiterKey struct {
	postID string
	userID string
}

func NewMemoryLimiter(interval time.Duration, clock clockwork.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		clock:    clock,
		interval: interval,
		last:     make(map[limiterKey]time.Time),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, postID, userID string) (bool, error) {
	if l.interval <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := limiterKey{postID: postID, userID: userID}
	if last, ok := l.last[key]; ok && l.clock.Since(last) < l.interval {
		return false, nil
	}
	l.last[key] = l.clock.Now()
	return true, nil
}

// Prune drops entries older than the interval so the map stays bounded.
func (l *MemoryLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	pruned := 0
	for key, last := range l.last {
		if now.Sub(last) >= l.interval {
			delete(l.last, key)
			pruned++
		}
	}
	return pruned
}
