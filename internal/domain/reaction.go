package domain

// Selection is a user's currently chosen emoji for a post.
// The empty string means "no reaction".
const NoSelection = ""

// Snapshot is the full emoji→count mapping for a post at a point in time.
// Rev increases by one on every applied change and lets readers order
// snapshots causally: a snapshot with a lower Rev is older.
type Snapshot struct {
	PostID string         `json:"post_id"`
	Rev    int64          `json:"rev"`
	Counts map[string]int `json:"counts"`
}

// Clone returns a deep copy. Snapshots are handed to subscribers and must
// not share the counts map with store internals.
func (s Snapshot) Clone() Snapshot {
	counts := make(map[string]int, len(s.Counts))
	for emoji, n := range s.Counts {
		counts[emoji] = n
	}
	return Snapshot{PostID: s.PostID, Rev: s.Rev, Counts: counts}
}

// TransitionKind enumerates the three ways a submit can change a user's
// selection, plus the no-op case.
type TransitionKind string

const (
	// TransitionNoop: clearing while nothing is selected. No counter changes.
	TransitionNoop TransitionKind = "noop"
	// TransitionSelect: none → selected(emoji). One increment.
	TransitionSelect TransitionKind = "select"
	// TransitionSwitch: selected(a) → selected(b). Paired increment/decrement.
	TransitionSwitch TransitionKind = "switch"
	// TransitionClear: selected(emoji) → none (toggle-off). One decrement.
	TransitionClear TransitionKind = "clear"
)

// Change is a resolved selection transition: the user's next selection and
// the counter deltas that realise it. Deltas always come in single units or
// matched +1/−1 pairs; they are never fabricated from thin air.
type Change struct {
	Kind   TransitionKind
	Next   string
	Deltas map[string]int
}

// Resolve runs the selection state machine for one submit.
// Submitting the currently selected emoji (or the empty string) clears the
// selection; anything else selects it, decrementing the previous choice if
// there was one.
func Resolve(prev, submitted string) Change {
	switch {
	case submitted == NoSelection && prev == NoSelection:
		return Change{Kind: TransitionNoop, Next: NoSelection, Deltas: map[string]int{}}
	case submitted == NoSelection || submitted == prev:
		return Change{Kind: TransitionClear, Next: NoSelection, Deltas: map[string]int{prev: -1}}
	case prev == NoSelection:
		return Change{Kind: TransitionSelect, Next: submitted, Deltas: map[string]int{submitted: +1}}
	default:
		return Change{Kind: TransitionSwitch, Next: submitted, Deltas: map[string]int{submitted: +1, prev: -1}}
	}
}

// ApplyDeltas mutates counts in place, flooring every result at zero.
// The floor is defensive: with the ledger as the single source of truth a
// decrement never undershoots, but a corrupted store must not surface
// negative counts to readers.
func ApplyDeltas(counts map[string]int, deltas map[string]int) {
	for emoji, d := range deltas {
		n := counts[emoji] + d
		if n < 0 {
			n = 0
		}
		counts[emoji] = n
	}
}
