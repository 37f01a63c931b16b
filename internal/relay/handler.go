package relay

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/example/scene-collab-engine/internal/transport"
	"github.com/example/scene-collab-engine/internal/types"
)

const (
	writeTimeout  = 5 * time.Second
	pingInterval  = 20 * time.Second
	pongTolerance = 2
	sendBuffer    = 64
	maxFrameBytes = 4 << 20
)

// Fanout propagates frames to room members hosted on other relay instances.
type Fanout interface {
	Publish(room types.RoomID, frame transport.Frame) error
}

// Handler upgrades HTTP requests into room websocket connections and relays
// frames between members.
type Handler struct {
	registry *RoomRegistry
	fanout   Fanout
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. Fanout may be nil for single-instance
// deployments.
func NewHandler(registry *RoomRegistry, fanout Fanout, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		fanout:   fanout,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler for GET /v1/rooms/{room}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := types.RoomID(mux.Vars(r)["room"])
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	replica := r.URL.Query().Get("replica")
	if replica == "" {
		replica = uuid.NewString()
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		upgradeFailures.Inc()
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	m := &member{
		replica: replica,
		send:    make(chan []byte, sendBuffer),
		closed:  make(chan struct{}),
	}
	h.registry.Register(room, m)

	logger := h.logger.With().Str("room", string(room)).Str("replica", replica).Logger()
	logger.Info().Msg("member joined room")

	go h.writePump(ws, m, logger)
	h.broadcastRoster(room)
	h.readPump(ws, room, m, logger)
}

func (h *Handler) readPump(ws *websocket.Conn, room types.RoomID, m *member, logger zerolog.Logger) {
	defer func() {
		h.registry.Unregister(room, m)
		close(m.closed)
		_ = ws.Close()
		h.relay(room, transport.Frame{Type: transport.FrameLeave, Room: room, Replica: m.replica}, m.replica)
		h.broadcastRoster(room)
		logger.Info().Msg("member left room")
	}()

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pingInterval * pongTolerance))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pingInterval * pongTolerance))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := transport.DecodeFrame(data)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		h.handleFrame(room, m, frame)
	}
}

func (h *Handler) handleFrame(room types.RoomID, m *member, frame transport.Frame) {
	frame.Room = room
	frame.Replica = m.replica

	switch frame.Type {
	case transport.FrameJoin:
		// The join frame is answered with a roster rather than relayed; the
		// roster broadcast on register already covered the other members.
		h.sendRoster(room, m)
	case transport.FrameUpdate, transport.FrameState, transport.FrameStateRequest, transport.FrameAwareness:
		h.relay(room, frame, m.replica)
	default:
		h.logger.Debug().Str("type", frame.Type).Msg("ignoring unknown frame type")
	}
}

// relay broadcasts the frame locally and hands it to the fanout for members
// on other instances.
func (h *Handler) relay(room types.RoomID, frame transport.Frame, skipReplica string) {
	data, err := transport.EncodeFrame(frame)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to encode relay frame")
		return
	}
	h.registry.Broadcast(room, data, skipReplica)

	if h.fanout != nil {
		if err := h.fanout.Publish(room, frame); err != nil {
			h.logger.Warn().Err(err).Msg("fanout publish failed")
		}
	}
}

func (h *Handler) sendRoster(room types.RoomID, m *member) {
	frame := transport.Frame{Type: transport.FrameRoster, Room: room, Peers: h.registry.Members(room)}
	data, err := transport.EncodeFrame(frame)
	if err != nil {
		return
	}
	select {
	case m.send <- data:
	case <-m.closed:
	default:
	}
}

func (h *Handler) broadcastRoster(room types.RoomID) {
	frame := transport.Frame{Type: transport.FrameRoster, Room: room, Peers: h.registry.Members(room)}
	data, err := transport.EncodeFrame(frame)
	if err != nil {
		return
	}
	h.registry.Broadcast(room, data, "")
}

func (h *Handler) writePump(ws *websocket.Conn, m *member, logger zerolog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-m.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug().Err(err).Msg("member write loop exited")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-m.closed:
			return
		}
	}
}
