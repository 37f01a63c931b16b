package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/example/scene-collab-engine/internal/document"
	"github.com/example/scene-collab-engine/internal/types"
)

const (
	writeTimeout   = 5 * time.Second
	pingInterval   = 20 * time.Second
	pongTolerance  = 2
	sendBufferSize = 64
)

// Hooks carries the callbacks a session registers on a transport. All hooks
// are optional and are never invoked after Destroy returns.
type Hooks struct {
	// OnSynced fires once the initial state exchange with the room has
	// completed.
	OnSynced func(synced bool)
	// OnStatus reports transport-level link state, independent of
	// application-level sync.
	OnStatus func(connected bool)
	// OnPeersChanged fires whenever the awareness map changes; the current
	// map is read back through AwarenessStates.
	OnPeersChanged func()
}

// Transport is the peer synchronization surface a session depends on.
// Implementations must support clean, idempotent destruction that stops all
// further event emission.
type Transport interface {
	AwarenessStates() map[string]types.PresenceState
	SetLocalState(user types.UserInfo) error
	Destroy()
}

// Conn is a live websocket connection to one room on the relay. It exchanges
// document updates and awareness with the other members and keeps the bound
// document current.
type Conn struct {
	ws      *websocket.Conn
	doc     *document.Document
	room    types.RoomID
	replica string
	hooks   Hooks
	logger  zerolog.Logger

	send        chan Frame
	unsubscribe func()

	mu        sync.Mutex
	awareness map[string]types.PresenceState
	synced    bool
	destroyed bool

	destroyOnce sync.Once
	done        chan struct{}
}

// Dial joins a room on the relay at base (e.g. "ws://localhost:8080") and
// binds the connection to the document. The initial state exchange runs in
// the background; completion is reported through hooks.OnSynced.
func Dial(ctx context.Context, base string, room types.RoomID, doc *document.Document, hooks Hooks, logger zerolog.Logger) (*Conn, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	target := u.JoinPath("v1", "rooms", url.PathEscape(string(room)))
	q := target.Query()
	q.Set("replica", string(doc.ReplicaID()))
	target.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial room %s: %w", room, err)
	}

	c := &Conn{
		ws:        ws,
		doc:       doc,
		room:      room,
		replica:   string(doc.ReplicaID()),
		hooks:     hooks,
		logger:    logger.With().Str("room", string(room)).Logger(),
		send:      make(chan Frame, sendBufferSize),
		awareness: make(map[string]types.PresenceState),
		done:      make(chan struct{}),
	}

	c.unsubscribe = doc.Subscribe(func(update []byte, remote bool) {
		if remote {
			return
		}
		c.enqueue(Frame{Type: FrameUpdate, Replica: c.replica, Payload: update})
	})

	go c.writePump()
	go c.readPump()

	c.enqueue(Frame{Type: FrameJoin, Replica: c.replica})
	c.emitStatus(true)
	return c, nil
}

// AwarenessStates returns a copy of the current presence map, keyed by
// replica id. The local replica's own entry is included once SetLocalState
// has run.
func (c *Conn) AwarenessStates() map[string]types.PresenceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]types.PresenceState, len(c.awareness))
	for k, v := range c.awareness {
		out[k] = v
	}
	return out
}

// SetLocalState records and broadcasts the local participant's identity.
func (c *Conn) SetLocalState(user types.UserInfo) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("transport destroyed")
	}
	u := user
	c.awareness[c.replica] = types.PresenceState{User: &u}
	c.mu.Unlock()

	c.enqueue(Frame{Type: FrameAwareness, Replica: c.replica, User: &u})
	c.emitPeersChanged()
	return nil
}

// Destroy closes the connection and stops all event emission. It is
// idempotent.
func (c *Conn) Destroy() {
	c.destroyOnce.Do(func() {
		c.mu.Lock()
		c.destroyed = true
		c.mu.Unlock()

		c.unsubscribe()
		close(c.done)

		deadline := time.Now().Add(writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"), deadline)
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump() {
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pingInterval * pongTolerance))
	})
	_ = c.ws.SetReadDeadline(time.Now().Add(pingInterval * pongTolerance))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("room read loop exited")
			c.emitStatus(false)
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.handle(frame)
	}
}

func (c *Conn) handle(frame Frame) {
	switch frame.Type {
	case FrameRoster:
		c.handleRoster(frame)
	case FrameState, FrameUpdate:
		if frame.Replica == c.replica {
			return
		}
		if err := c.doc.ApplyUpdate(frame.Payload); err != nil {
			c.logger.Warn().Err(err).Msg("failed to merge peer update")
			return
		}
		if frame.Type == FrameState {
			c.markSynced()
		}
	case FrameStateRequest:
		if frame.Replica == c.replica {
			return
		}
		state, err := c.doc.Save()
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to encode state for peer")
			return
		}
		c.enqueue(Frame{Type: FrameState, Replica: c.replica, Payload: state})
	case FrameAwareness:
		if frame.Replica == "" {
			return
		}
		c.mu.Lock()
		c.awareness[frame.Replica] = types.PresenceState{User: frame.User}
		c.mu.Unlock()
		c.emitPeersChanged()
	case FrameLeave:
		c.mu.Lock()
		delete(c.awareness, frame.Replica)
		c.mu.Unlock()
		c.emitPeersChanged()
	}
}

// handleRoster reconciles the awareness map against the authoritative member
// list and decides whether an initial state exchange is needed.
func (c *Conn) handleRoster(frame Frame) {
	remote := make(map[string]struct{}, len(frame.Peers))
	for _, id := range frame.Peers {
		if id != c.replica {
			remote[id] = struct{}{}
		}
	}

	c.mu.Lock()
	for id := range remote {
		if _, ok := c.awareness[id]; !ok {
			c.awareness[id] = types.PresenceState{}
		}
	}
	for id := range c.awareness {
		if id == c.replica {
			continue
		}
		if _, ok := remote[id]; !ok {
			delete(c.awareness, id)
		}
	}
	alreadySynced := c.synced
	c.mu.Unlock()

	c.emitPeersChanged()

	if alreadySynced {
		return
	}
	if len(remote) == 0 {
		// Alone in the room: nothing to pull, the local state is the room
		// state.
		c.markSynced()
		return
	}
	c.enqueue(Frame{Type: FrameStateRequest, Replica: c.replica})
}

func (c *Conn) markSynced() {
	c.mu.Lock()
	if c.synced || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.synced = true
	fn := c.hooks.OnSynced
	c.mu.Unlock()
	if fn != nil {
		fn(true)
	}
}

func (c *Conn) emitStatus(connected bool) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	fn := c.hooks.OnStatus
	c.mu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

func (c *Conn) emitPeersChanged() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	fn := c.hooks.OnPeersChanged
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Conn) enqueue(frame Frame) {
	frame.Room = c.room
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.logger.Warn().Str("type", frame.Type).Msg("send buffer full; dropping frame")
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			data, err := EncodeFrame(frame)
			if err != nil {
				c.logger.Warn().Err(err).Msg("failed to encode frame")
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("room write loop exited")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
