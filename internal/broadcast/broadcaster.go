package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/postday/reactions/internal/domain"
	"github.com/postday/reactions/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second  // Actor command timeout
	stopTimeout    = 10 * time.Second // Graceful shutdown timeout
)

// Message is the wire form of a snapshot pushed to WebSocket clients.
type Message struct {
	Type   string         `json:"type"`
	PostID string         `json:"post_id"`
	Rev    int64          `json:"rev"`
	Counts map[string]int `json:"counts"`
}

const messageTypeSnapshot = "snapshot"

type postClients map[*websocket.Conn]*clientWriter

// broadcasterCmd is the command interface for the Broadcaster actor.
type broadcasterCmd interface{ isBroadcasterCmd() }

type baseBroadcasterCmd struct{}

func (baseBroadcasterCmd) isBroadcasterCmd() {}

type registerCmd struct {
	baseBroadcasterCmd
	postID       string
	connection   *websocket.Conn
	initial      domain.Snapshot
	errorChannel chan error
}

type unregisterCmd struct {
	baseBroadcasterCmd
	postID     string
	connection *websocket.Conn
}

type broadcastCmd struct {
	baseBroadcasterCmd
	snapshot domain.Snapshot
}

type getClientCountCmd struct {
	baseBroadcasterCmd
	postID       string
	replyChannel chan int
}

type stopCmd struct {
	baseBroadcasterCmd
}

// Broadcaster manages WebSocket connections per post and pushes snapshots
// to every subscriber as they arrive.
type Broadcaster struct {
	cmdCh             chan broadcasterCmd
	clock             clockwork.Clock
	activeClients     map[string]postClients
	lastRevs          map[string]int64
	done              chan struct{}
	stopTimeout       time.Duration
	maxClientsPerPost int
}

// NewBroadcaster creates a new broadcaster and starts its actor goroutine.
// maxClientsPerPost limits connections per post (prevents resource exhaustion).
func NewBroadcaster(clock clockwork.Clock, maxClientsPerPost int) *Broadcaster {
	b := &Broadcaster{
		cmdCh:             make(chan broadcasterCmd, 256),
		clock:             clock,
		activeClients:     make(map[string]postClients),
		lastRevs:          make(map[string]int64),
		done:              make(chan struct{}),
		stopTimeout:       stopTimeout,
		maxClientsPerPost: maxClientsPerPost,
	}
	go b.run()
	return b
}

// Register adds a client to a post and delivers the initial snapshot before
// anything else, so the client never has to guess the starting counts.
// Returns an error only if max clients per post is reached.
func (b *Broadcaster) Register(postID string, conn *websocket.Conn, initial domain.Snapshot) error {
	errCh := make(chan error, 1)
	b.cmdCh <- registerCmd{postID: postID, connection: conn, initial: initial, errorChannel: errCh}

	// Use timeout to prevent blocking forever if broadcaster is stuck
	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a client from a post.
func (b *Broadcaster) Unregister(postID string, conn *websocket.Conn) {
	b.cmdCh <- unregisterCmd{postID: postID, connection: conn}
}

// Broadcast delivers a snapshot to every client subscribed to its post.
// Never blocks the caller: if the command channel is full the snapshot is
// dropped, and the next one carries the fresher state anyway.
func (b *Broadcaster) Broadcast(snapshot domain.Snapshot) {
	select {
	case b.cmdCh <- broadcastCmd{snapshot: snapshot}:
	default:
		metrics.BroadcasterDroppedSnapshotsTotal.Inc()
		slog.Warn("Broadcaster command channel full, dropping snapshot", "post_id", snapshot.PostID, "rev", snapshot.Rev)
	}
}

// GetClientCount returns the number of connected clients for a post.
// Returns -1 if the command times out.
func (b *Broadcaster) GetClientCount(postID string) int {
	replyCh := make(chan int, 1)
	b.cmdCh <- getClientCountCmd{postID: postID, replyChannel: replyCh}

	// Use timeout to prevent blocking forever if broadcaster is stuck
	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("GetClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop shuts down the broadcaster, closing all client connections.
// Blocks until the broadcaster goroutine has exited or timeout is reached.
func (b *Broadcaster) Stop() {
	b.cmdCh <- stopCmd{}

	// Wait for goroutine to exit with timeout
	timeout := b.clock.NewTimer(b.stopTimeout)
	defer timeout.Stop()

	select {
	case <-b.done:
		slog.Info("Broadcaster stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Broadcaster stop timeout exceeded, forcing exit",
			"timeout", b.stopTimeout,
		)
		metrics.BroadcasterStopTimeoutsTotal.Inc()

		// Force goroutine exit
		close(b.done)

		slog.Error("Broadcaster goroutine may have leaked",
			"active_posts", len(b.activeClients),
		)
	}
}

func (b *Broadcaster) run() {
	// Panic recovery wrapper
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcaster panic recovered", "panic", r)
			metrics.BroadcasterPanicsTotal.Inc()

			b.closeAllClients("broadcaster panic")
		}
	}()

	defer close(b.done)

	for cmd := range b.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			b.handleRegister(c)
		case unregisterCmd:
			b.handleUnregister(c)
		case broadcastCmd:
			b.handleBroadcast(c.snapshot)
		case getClientCountCmd:
			c.replyChannel <- len(b.activeClients[c.postID])
		case stopCmd:
			b.handleStop()
			return
		default:
			slog.Warn("Broadcaster received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (b *Broadcaster) handleRegister(c registerCmd) {
	clients, exists := b.activeClients[c.postID]
	if !exists {
		clients = make(postClients)
		b.activeClients[c.postID] = clients
	}

	if len(clients) >= b.maxClientsPerPost {
		slog.Warn("Rejecting client: max clients reached", "post_id", c.postID, "max_clients", b.maxClientsPerPost)
		c.connection.Close()
		c.errorChannel <- fmt.Errorf("max clients per post (%d) reached", b.maxClientsPerPost)
		if len(clients) == 0 {
			delete(b.activeClients, c.postID)
		}
		return
	}

	cw := newClientWriter(c.connection, b.clock)
	clients[c.connection] = cw

	// The initial snapshot came from a fresh store read, so it may carry a
	// revision newer than anything broadcast so far.
	if c.initial.Rev > b.lastRevs[c.postID] {
		b.lastRevs[c.postID] = c.initial.Rev
	}
	if data, err := marshalSnapshot(c.initial); err == nil {
		select {
		case cw.sendChannel <- data:
		default:
		}
	}

	// Update metrics
	metrics.BroadcasterActivePosts.Set(float64(len(b.activeClients)))
	metrics.BroadcasterConnectedClients.Inc()

	slog.Debug("Client registered", "post_id", c.postID, "total_clients", len(clients))
	c.errorChannel <- nil
}

func (b *Broadcaster) handleUnregister(c unregisterCmd) {
	clients, exists := b.activeClients[c.postID]
	if !exists {
		return
	}

	cw, exists := clients[c.connection]
	if !exists {
		return
	}

	cw.stop()
	delete(clients, c.connection)

	// Update metrics
	metrics.BroadcasterConnectedClients.Dec()

	if len(clients) == 0 {
		delete(b.activeClients, c.postID)
		delete(b.lastRevs, c.postID)
		metrics.BroadcasterActivePosts.Set(float64(len(b.activeClients)))
		slog.Info("Last client disconnected", "post_id", c.postID)
	} else {
		slog.Debug("Client unregistered", "post_id", c.postID, "remaining_clients", len(clients))
	}
}

func (b *Broadcaster) handleBroadcast(snapshot domain.Snapshot) {
	clients, exists := b.activeClients[snapshot.PostID]
	if !exists {
		return
	}

	// Pub/sub may replay or reorder; never deliver something older than
	// what subscribers already have.
	if snapshot.Rev != 0 && snapshot.Rev <= b.lastRevs[snapshot.PostID] {
		metrics.BroadcasterStaleDropsTotal.Inc()
		return
	}

	data, err := marshalSnapshot(snapshot)
	if err != nil {
		slog.Error("Failed to marshal broadcast message", "error", err)
		return
	}

	var slow []*websocket.Conn
	for conn, writer := range clients {
		select {
		case writer.sendChannel <- data:
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow client", "post_id", snapshot.PostID)
		metrics.BroadcasterSlowClientsEvicted.Inc()
		b.handleUnregister(unregisterCmd{postID: snapshot.PostID, connection: conn})
	}

	if snapshot.Rev > b.lastRevs[snapshot.PostID] {
		b.lastRevs[snapshot.PostID] = snapshot.Rev
	}
}

func (b *Broadcaster) handleStop() {
	totalClients := 0
	for _, clients := range b.activeClients {
		totalClients += len(clients)
	}

	slog.Info("Broadcaster shutting down", "posts", len(b.activeClients), "total_clients", totalClients)

	b.closeAllClients("Server shutting down")

	slog.Info("Broadcaster shutdown complete", "disconnected_clients", totalClients)
}

// closeAllClients closes all client connections with the given reason.
// Used during panic recovery and graceful shutdown.
func (b *Broadcaster) closeAllClients(reason string) {
	for postID, clients := range b.activeClients {
		for _, cw := range clients {
			cw.stopGraceful(reason)
		}
		delete(b.activeClients, postID)
		delete(b.lastRevs, postID)
	}
	metrics.BroadcasterActivePosts.Set(0)
}

func marshalSnapshot(snapshot domain.Snapshot) ([]byte, error) {
	return json.Marshal(Message{
		Type:   messageTypeSnapshot,
		PostID: snapshot.PostID,
		Rev:    snapshot.Rev,
		Counts: snapshot.Counts,
	})
}
