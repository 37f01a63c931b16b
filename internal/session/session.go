// Package session implements the collaboration session controller: it owns
// the lifecycle of one replicated scene document, wiring together the durable
// local cache, the checkpoint store, and the optional peer transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/scene-collab-engine/internal/bus"
	"github.com/example/scene-collab-engine/internal/checkpoint"
	"github.com/example/scene-collab-engine/internal/document"
	"github.com/example/scene-collab-engine/internal/localcache"
	"github.com/example/scene-collab-engine/internal/transport"
	"github.com/example/scene-collab-engine/internal/types"
)

// DialFunc connects a document to a room and returns the live transport.
// Production wiring uses transport.Dial; tests substitute fakes.
type DialFunc func(ctx context.Context, room types.RoomID, doc *document.Document, hooks transport.Hooks) (transport.Transport, error)

// Deps carries the collaborators a session depends on. Store and CacheDir
// are required for enabled sessions; Dial is required when peer sync is on.
type Deps struct {
	Store  checkpoint.Store
	Dial   DialFunc
	Bus    *bus.Bus
	Logger zerolog.Logger
	// CacheDir is the directory holding the per-scene durable cache files.
	CacheDir string

	// Timing overrides; zero values use the package defaults.
	CheckpointInterval   time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
}

// Snapshot is the externally observable state of a session at one instant.
type Snapshot struct {
	Status   types.Status
	Progress int
	Peers    []types.Peer
	Err      string
	Room     types.RoomID
	Joined   bool
	Replica  types.ReplicaID
}

// Controller owns the end-to-end lifecycle of a single collaboration session
// for one (project, scene) pair. All exported methods are safe for
// concurrent use.
type Controller struct {
	opts   Options
	deps   Deps
	room   types.RoomID
	joined bool
	logger zerolog.Logger

	mu        sync.Mutex
	status    types.Status
	progress  int
	peers     []types.Peer
	errMsg    string
	doc       *document.Document
	cache     *localcache.Cache
	tr        transport.Transport
	rec       reconnectState
	observers map[int]func(Snapshot)
	nextObs   int
	started   bool
	closed    bool

	lifecycle context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs a controller. Nothing runs until Start.
func New(opts Options, deps Deps) *Controller {
	opts.applyDefaults()
	if deps.CheckpointInterval <= 0 {
		deps.CheckpointInterval = defaultCheckpointInterval
	}
	if deps.ReconnectBaseDelay <= 0 {
		deps.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if deps.MaxReconnectAttempts <= 0 {
		deps.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}

	own := types.DeriveRoomID(opts.Namespace, opts.ProjectID, opts.SceneID)
	room := own
	joined := false
	if opts.CustomRoomID != "" && opts.CustomRoomID != own {
		room = opts.CustomRoomID
		joined = true
	}

	return &Controller{
		opts:      opts,
		deps:      deps,
		room:      room,
		joined:    joined,
		logger:    deps.Logger.With().Str("scene", string(opts.SceneID)).Str("project", string(opts.ProjectID)).Logger(),
		status:    types.StatusDisconnected,
		progress:  types.ProgressNone,
		observers: make(map[int]func(Snapshot)),
	}
}

// Room returns the resolved room identifier for this session.
func (c *Controller) Room() types.RoomID { return c.room }

// Joined reports whether the session is participating in someone else's room
// rather than its own.
func (c *Controller) Joined() bool { return c.joined }

// Document returns the live document handle, or nil before initialization
// completes or after teardown.
func (c *Controller) Document() *document.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// State returns the current observable snapshot.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers an observer invoked after every state transition, and
// returns a function that unregisters it.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Start runs initialization. A disabled session, or one missing its scene or
// project id, is a silent no-op: the document stays absent and the
// checkpoint store is never touched. Starting twice is a no-op as well; the
// previous instance keeps running.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("session closed")
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	if !c.opts.Enabled || !c.opts.valid() {
		c.mu.Unlock()
		c.logger.Debug().Msg("collaboration disabled; skipping initialization")
		return nil
	}
	c.started = true
	c.lifecycle, c.cancel = context.WithCancel(ctx)
	c.status = types.StatusConnecting
	c.progress = types.ProgressNone
	c.errMsg = ""
	c.mu.Unlock()
	c.notify()

	doc, err := document.New()
	if err != nil {
		c.fail(fmt.Errorf("create document: %w", err))
		return err
	}
	c.mu.Lock()
	c.doc = doc
	c.status = types.StatusSyncing
	c.mu.Unlock()
	c.notify()

	cachePath := filepath.Join(c.deps.CacheDir, fmt.Sprintf("%s-%s.cache", c.opts.ProjectID, c.opts.SceneID))
	cache, err := localcache.Open(cachePath, c.opts.ProjectID, c.opts.SceneID, doc, c.logger, localcache.Options{
		OnSynced: c.onCacheSynced,
	})
	if err != nil {
		doc.Destroy()
		c.mu.Lock()
		c.doc = nil
		c.mu.Unlock()
		c.fail(fmt.Errorf("attach local cache: %w", err))
		return err
	}
	c.mu.Lock()
	c.cache = cache
	c.mu.Unlock()

	// Checkpoint hydration races local-cache sync deliberately; the merge is
	// commutative so ordering does not matter, but it must finish before
	// teardown destroys the document.
	c.wg.Add(1)
	go c.hydrate(doc)

	c.wg.Add(1)
	go c.flushLoop()

	if c.opts.EnableP2P {
		if err := c.dialTransport(); err != nil {
			c.logger.Warn().Err(err).Msg("initial room dial failed")
			c.scheduleReconnect()
		}
	}

	activeSessions.Inc()
	return nil
}

// Close tears the session down: pending reconnects are cancelled, the
// checkpoint timer stops, one best-effort final checkpoint is written, and
// the transport, cache, and document are released in that order. Close is
// idempotent; after the first call no further store writes happen.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.rec.cancel()
	started := c.started
	tr := c.tr
	cache := c.cache
	doc := c.doc
	cancel := c.cancel
	c.tr = nil
	c.cache = nil
	c.status = types.StatusDisconnected
	c.mu.Unlock()

	if !started {
		c.notify()
		return
	}

	cancel()
	c.wg.Wait()

	if doc != nil {
		ctx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
		c.flushDoc(ctx, doc)
		cancelFlush()
	}
	if tr != nil {
		tr.Destroy()
	}
	if cache != nil {
		cache.Close()
	}
	if doc != nil {
		doc.Destroy()
	}

	c.mu.Lock()
	c.doc = nil
	c.rec.reset()
	c.mu.Unlock()
	activeSessions.Dec()
	c.notify()
}

func (c *Controller) onCacheSynced() {
	c.mu.Lock()
	c.progress = types.ProgressLocal
	c.mu.Unlock()
	c.notify()
}

// hydrate merges the stored checkpoint into the document. In local-only mode
// the session is not reported synced until hydration has finished, so a saved
// checkpoint is always visible before editing resumes; with a peer transport
// attached the merge is opportunistic and races the room state exchange.
func (c *Controller) hydrate(doc *document.Document) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.lifecycle, 30*time.Second)
	defer cancel()

	ckpt, err := c.deps.Store.Load(ctx, c.opts.SceneID, c.opts.ProjectID)
	switch {
	case err != nil:
		c.logger.Warn().Err(err).Msg("checkpoint hydration failed")
	case ckpt != nil && len(ckpt.Update) > 0:
		if err := doc.ApplyUpdate(ckpt.Update); err != nil {
			c.logger.Warn().Err(err).Msg("failed to merge checkpoint into document")
		} else {
			c.logger.Debug().Time("saved_at", ckpt.SavedAt).Msg("checkpoint hydrated")
		}
	}

	if c.opts.EnableP2P {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.status = types.StatusSynced
	c.progress = types.ProgressFull
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.deps.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			doc := c.doc
			c.mu.Unlock()
			if doc != nil {
				c.flushDoc(c.lifecycle, doc)
			}
		case <-c.lifecycle.Done():
			return
		}
	}
}

// flushDoc serializes the document and writes it to the checkpoint store.
// Failures are logged and swallowed: collaboration stays usable when the
// backend is unreachable.
func (c *Controller) flushDoc(ctx context.Context, doc *document.Document) {
	state, err := doc.Save()
	if err != nil {
		return
	}
	if err := c.deps.Store.Save(ctx, c.opts.SceneID, c.opts.ProjectID, state); err != nil {
		checkpointFlushes.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Msg("checkpoint write failed")
		return
	}
	checkpointFlushes.WithLabelValues("ok").Inc()
	if c.deps.Bus != nil {
		c.deps.Bus.Publish(c.invalidationKey())
	}
}

func (c *Controller) dialTransport() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	doc := c.doc
	c.status = types.StatusSyncing
	c.mu.Unlock()
	c.notify()

	hooks := transport.Hooks{
		OnSynced:       c.onTransportSynced,
		OnStatus:       c.onTransportStatus,
		OnPeersChanged: c.onPeersChanged,
	}
	tr, err := c.deps.Dial(c.lifecycle, c.room, doc, hooks)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		tr.Destroy()
		return nil
	}
	c.tr = tr
	c.mu.Unlock()

	if err := tr.SetLocalState(types.UserInfo{Name: c.opts.UserName, Color: c.opts.UserColor}); err != nil {
		c.logger.Warn().Err(err).Msg("failed to announce presence")
	}
	return nil
}

func (c *Controller) onTransportSynced(synced bool) {
	if !synced {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.status = types.StatusSynced
	c.progress = types.ProgressFull
	c.rec.attempts = 0
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) onTransportStatus(connected bool) {
	if connected {
		return
	}
	c.scheduleReconnect()
}

// scheduleReconnect implements the bounded reconnect policy: the delay grows
// as base × attempt number until the attempt budget is spent, at which point
// the session surfaces a terminal connectivity error.
func (c *Controller) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.rec.inFlight {
		c.mu.Unlock()
		return
	}
	c.rec.attempts++
	reconnectAttempts.Inc()
	if c.rec.attempts > c.deps.MaxReconnectAttempts {
		c.errMsg = "lost connection to the collaboration room; please rejoin"
		c.status = types.StatusDisconnected
		c.mu.Unlock()
		c.notify()
		return
	}
	c.status = types.StatusConnecting
	c.rec.inFlight = true
	delay := c.deps.ReconnectBaseDelay * time.Duration(c.rec.attempts)
	attempt := c.rec.attempts
	c.rec.timer = time.AfterFunc(delay, c.redial)
	c.mu.Unlock()

	c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling room reconnect")
	c.notify()
}

func (c *Controller) redial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	old := c.tr
	c.tr = nil
	c.mu.Unlock()

	// The stale transport is destroyed before the fresh dial so two
	// transports never feed the same document.
	if old != nil {
		old.Destroy()
	}

	err := c.dialTransport()

	c.mu.Lock()
	c.rec.inFlight = false
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Msg("room redial failed")
		c.scheduleReconnect()
	}
}

func (c *Controller) onPeersChanged() {
	c.mu.Lock()
	tr := c.tr
	doc := c.doc
	c.mu.Unlock()
	if tr == nil || doc == nil {
		return
	}

	peers := DerivePeers(tr.AwarenessStates(), doc.ReplicaID(), time.Now())

	c.mu.Lock()
	c.peers = peers
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) fail(err error) {
	c.logger.Error().Err(err).Msg("session initialization failed")
	c.mu.Lock()
	c.errMsg = err.Error()
	c.status = types.StatusDisconnected
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) snapshotLocked() Snapshot {
	peers := make([]types.Peer, len(c.peers))
	copy(peers, c.peers)
	var replica types.ReplicaID
	if c.doc != nil {
		replica = c.doc.ReplicaID()
	}
	return Snapshot{
		Status:   c.status,
		Progress: c.progress,
		Peers:    peers,
		Err:      c.errMsg,
		Room:     c.room,
		Joined:   c.joined,
		Replica:  replica,
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	observers := make([]func(Snapshot), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
	if c.deps.Bus != nil {
		c.deps.Bus.Publish(c.invalidationKey())
	}
}

func (c *Controller) invalidationKey() string {
	return fmt.Sprintf("scene:%s", c.opts.SceneID)
}
