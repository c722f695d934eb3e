package domain

// DefaultEmojis is the reaction palette the daily-post frontend ships with.
var DefaultEmojis = []string{"👍", "❤️", "🤔", "🔥", "💡"}

// DefaultBaseline returns the seed counts for posts that have no stored
// baseline. Fresh map on every call so callers can mutate their copy.
func DefaultBaseline() map[string]int {
	return map[string]int{"👍": 42, "❤️": 28, "🤔": 15, "🔥": 33, "💡": 21}
}

// Palette is the fixed set of emojis a post accepts. Submits outside the
// palette are rejected rather than silently counted, which bounds the size
// of every counter record.
type Palette struct {
	emojis []string
	member map[string]struct{}
}

func NewPalette(emojis []string) Palette {
	if len(emojis) == 0 {
		emojis = DefaultEmojis
	}
	member := make(map[string]struct{}, len(emojis))
	ordered := make([]string, 0, len(emojis))
	for _, e := range emojis {
		if _, dup := member[e]; dup {
			continue
		}
		member[e] = struct{}{}
		ordered = append(ordered, e)
	}
	return Palette{emojis: ordered, member: member}
}

func (p Palette) Contains(emoji string) bool {
	_, ok := p.member[emoji]
	return ok
}

// Emojis returns the palette in its configured order.
func (p Palette) Emojis() []string {
	out := make([]string, len(p.emojis))
	copy(out, p.emojis)
	return out
}

// ZeroCounts returns a fresh all-zero counts map covering the palette.
// Used as the default baseline for lazily created posts.
func (p Palette) ZeroCounts() map[string]int {
	counts := make(map[string]int, len(p.emojis))
	for _, e := range p.emojis {
		counts[e] = 0
	}
	return counts
}
