package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/postday/reactions/internal/domain"
	"github.com/postday/reactions/internal/reaction"
)

// Lua scripts for atomic reaction transitions. Each post is three keys: a
// counts hash (emoji -> count), a selections hash (user -> emoji, '' once
// cleared), and a revision counter. Every script touches all of its keys in
// one execution, so the counter delta and the ledger write commit together
// and readers never observe a half-applied switch.

// applyReactionScript runs one submit: seed the counts hash from the
// baseline if the post is new, read the user's previous selection, resolve
// the transition (same emoji clears, different emoji switches), apply the
// delta pair with a zero floor, persist the new selection, and bump the
// revision only when something changed.
// KEYS: [1]=counts, [2]=selections, [3]=rev
// ARGV: [1]=user_id, [2]=emoji, [3..]=baseline emoji/count pairs
// Returns: {prev, next, rev, counts...}
var applyReactionScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  for i = 3, #ARGV, 2 do
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
  end
end

local prev = redis.call('HGET', KEYS[2], ARGV[1])
if prev == false then prev = '' end

local submitted = ARGV[2]
local sel = prev

if submitted ~= prev then
  sel = submitted
  if prev ~= '' then
    local v = tonumber(redis.call('HGET', KEYS[1], prev)) or 0
    if v > 0 then
      redis.call('HINCRBY', KEYS[1], prev, -1)
    end
  end
  if sel ~= '' then
    redis.call('HINCRBY', KEYS[1], sel, 1)
  end
  redis.call('HSET', KEYS[2], ARGV[1], sel)
  redis.call('INCR', KEYS[3])
elseif submitted ~= '' then
  sel = ''
  local v = tonumber(redis.call('HGET', KEYS[1], submitted)) or 0
  if v > 0 then
    redis.call('HINCRBY', KEYS[1], submitted, -1)
  end
  redis.call('HSET', KEYS[2], ARGV[1], '')
  redis.call('INCR', KEYS[3])
end

local rev = tonumber(redis.call('GET', KEYS[3])) or 0
local out = {prev, sel, rev}
local counts = redis.call('HGETALL', KEYS[1])
for i = 1, #counts do
  out[#out + 1] = counts[i]
end
return out
`)

// snapshotScript reads counts and revision together, seeding a new post
// from the baseline first so the initial read already shows it.
// KEYS: [1]=counts, [2]=rev
// ARGV: baseline emoji/count pairs
// Returns: {rev, counts...}
var snapshotScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  for i = 1, #ARGV, 2 do
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
  end
end

local rev = tonumber(redis.call('GET', KEYS[2])) or 0
local out = {rev}
local counts = redis.call('HGETALL', KEYS[1])
for i = 1, #counts do
  out[#out + 1] = counts[i]
end
return out
`)

// resetScript reseeds the counts from the baseline, forgets every
// selection, and bumps the revision so subscribers pick the reset up.
// KEYS: [1]=counts, [2]=selections, [3]=rev
// ARGV: baseline emoji/count pairs
// Returns: {rev, counts...}
var resetScript = goredis.NewScript(`
redis.call('DEL', KEYS[1], KEYS[2])
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end

local rev = redis.call('INCR', KEYS[3])
local out = {rev}
local counts = redis.call('HGETALL', KEYS[1])
for i = 1, #counts do
  out[#out + 1] = counts[i]
end
return out
`)

// ReactionStore implements reaction.Store on Redis. Safe for any number of
// service instances, because all mutations run as server-side scripts.
type ReactionStore struct {
	rdb *goredis.Client
}

func NewReactionStore(rdb *goredis.Client) *ReactionStore {
	return &ReactionStore{rdb: rdb}
}

func (s *ReactionStore) Apply(ctx context.Context, postID, userID, emoji string, baseline map[string]int) (reaction.Result, error) {
	keys := []string{countsKey(postID), selectionsKey(postID), revKey(postID)}
	argv := append([]any{userID, emoji}, baselineArgs(baseline)...)

	raw, err := applyReactionScript.Run(ctx, s.rdb, keys, argv...).Result()
	if err != nil {
		return reaction.Result{}, fmt.Errorf("apply reaction script failed: %w", err)
	}

	reply, ok := raw.([]any)
	if !ok || len(reply) < 3 {
		return reaction.Result{}, fmt.Errorf("apply reaction script returned unexpected reply %T", raw)
	}

	prev := replyString(reply[0])
	sel := replyString(reply[1])
	rev, err := replyInt(reply[2])
	if err != nil {
		return reaction.Result{}, fmt.Errorf("apply reaction script returned invalid revision: %w", err)
	}
	counts, err := replyCounts(reply[3:])
	if err != nil {
		return reaction.Result{}, fmt.Errorf("apply reaction script returned invalid counts: %w", err)
	}

	return reaction.Result{
		Snapshot:  domain.Snapshot{PostID: postID, Rev: rev, Counts: counts},
		Selection: sel,
		Kind:      domain.Resolve(prev, emoji).Kind,
	}, nil
}

func (s *ReactionStore) Snapshot(ctx context.Context, postID string, baseline map[string]int) (domain.Snapshot, error) {
	keys := []string{countsKey(postID), revKey(postID)}

	raw, err := snapshotScript.Run(ctx, s.rdb, keys, baselineArgs(baseline)...).Result()
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot script failed: %w", err)
	}
	return parseSnapshotReply(postID, raw)
}

func (s *ReactionStore) Selection(ctx context.Context, postID, userID string) (string, error) {
	sel, err := s.rdb.HGet(ctx, selectionsKey(postID), userID).Result()
	if err == goredis.Nil {
		return domain.NoSelection, nil
	}
	if err != nil {
		return domain.NoSelection, fmt.Errorf("failed to read selection: %w", err)
	}
	return sel, nil
}

func (s *ReactionStore) Reset(ctx context.Context, postID string, baseline map[string]int) (domain.Snapshot, error) {
	keys := []string{countsKey(postID), selectionsKey(postID), revKey(postID)}

	raw, err := resetScript.Run(ctx, s.rdb, keys, baselineArgs(baseline)...).Result()
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("reset script failed: %w", err)
	}
	return parseSnapshotReply(postID, raw)
}

func countsKey(postID string) string {
	return "reactions:counts:" + postID
}

func selectionsKey(postID string) string {
	return "reactions:selections:" + postID
}

func revKey(postID string) string {
	return "reactions:rev:" + postID
}

func baselineArgs(baseline map[string]int) []any {
	args := make([]any, 0, len(baseline)*2)
	for emoji, count := range baseline {
		args = append(args, emoji, strconv.Itoa(count))
	}
	return args
}

func parseSnapshotReply(postID string, raw any) (domain.Snapshot, error) {
	reply, ok := raw.([]any)
	if !ok || len(reply) < 1 {
		return domain.Snapshot{}, fmt.Errorf("script returned unexpected reply %T", raw)
	}
	rev, err := replyInt(reply[0])
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("script returned invalid revision: %w", err)
	}
	counts, err := replyCounts(reply[1:])
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("script returned invalid counts: %w", err)
	}
	return domain.Snapshot{PostID: postID, Rev: rev, Counts: counts}, nil
}

func replyString(v any) string {
	s, _ := v.(string)
	return s
}

func replyInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func replyCounts(pairs []any) (map[string]int, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("odd number of count entries: %d", len(pairs))
	}
	counts := make(map[string]int, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		emoji := replyString(pairs[i])
		n, err := replyInt(pairs[i+1])
		if err != nil {
			return nil, fmt.Errorf("count for %q: %w", emoji, err)
		}
		counts[emoji] = int(n)
	}
	return counts, nil
}
