// Package broadcast fans reaction snapshots out to WebSocket subscribers.
//
// A single actor goroutine owns all connection state; registration,
// snapshot delivery, and shutdown arrive as commands on a channel, so no
// mutex guards the client maps. Snapshots carry a per-post revision and
// anything older than the last delivered revision is dropped, which keeps
// delivery correct even when the pub/sub layer reorders or replays.
package broadcast
