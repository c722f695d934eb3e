package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/postday/reactions/internal/domain"
)

// snapshotMessage is the wire form of a snapshot on the Pub/Sub channel.
type snapshotMessage struct {
	PostID string         `json:"post_id"`
	Rev    int64          `json:"rev"`
	Counts map[string]int `json:"counts"`
}

func snapshotChannel(postID string) string {
	return "reactions:updates:" + postID
}

// allSnapshotsPattern matches every post's update channel.
const allSnapshotsPattern = "reactions:updates:*"

// PubSub fans snapshots out across service instances via Redis Pub/Sub.
// Delivery is best-effort; receivers use the snapshot revision to drop
// anything older than what they already delivered.
type PubSub struct {
	rdb *goredis.Client
}

func NewPubSub(rdb *goredis.Client) *PubSub {
	return &PubSub{rdb: rdb}
}

// Publish sends a snapshot to the channel for its post.
func (ps *PubSub) Publish(ctx context.Context, snapshot domain.Snapshot) error {
	msg := snapshotMessage{PostID: snapshot.PostID, Rev: snapshot.Rev, Counts: snapshot.Counts}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return ps.rdb.Publish(ctx, snapshotChannel(snapshot.PostID), data).Err()
}

// Subscription is an active Pub/Sub subscription.
type Subscription struct {
	sub    *goredis.PubSub
	Ch     <-chan domain.Snapshot
	cancel context.CancelFunc
}

// Close unsubscribes and closes the subscription.
func (s *Subscription) Close() {
	s.cancel()
	_ = s.sub.Close()
}

// SubscribeAll subscribes to snapshot updates for every post. Returns a
// Subscription whose channel receives decoded snapshots; call Close when
// done. A slow receiver loses messages rather than blocking the reader.
func (ps *PubSub) SubscribeAll(ctx context.Context) *Subscription {
	sub := ps.rdb.PSubscribe(ctx, allSnapshotsPattern)

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan domain.Snapshot, 64)

	go func() {
		defer close(ch)
		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var update snapshotMessage
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					slog.Warn("Failed to unmarshal pubsub message", "error", err, "channel", msg.Channel)
					continue
				}
				snapshot := domain.Snapshot{PostID: update.PostID, Rev: update.Rev, Counts: update.Counts}
				select {
				case ch <- snapshot:
				default:
					// Drop if receiver is slow
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{
		sub:    sub,
		Ch:     ch,
		cancel: cancel,
	}
}
