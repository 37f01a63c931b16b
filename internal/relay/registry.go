package relay

import (
	"sync"

	"github.com/example/scene-collab-engine/internal/types"
)

// member is one websocket participant in a room. Frames are queued on the
// send channel and drained by the connection's write pump.
type member struct {
	replica string
	send    chan []byte
	closed  chan struct{}
}

// RoomRegistry tracks active room members so the handler and the redis
// fanout can broadcast efficiently.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[types.RoomID]map[*member]struct{}
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[types.RoomID]map[*member]struct{})}
}

// Register adds the member to a room and returns the member count.
func (r *RoomRegistry) Register(room types.RoomID, m *member) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*member]struct{})
	}
	r.rooms[room][m] = struct{}{}
	n := len(r.rooms[room])
	roomMembers.WithLabelValues(string(room)).Set(float64(n))
	return n
}

// Unregister removes the member. Empty rooms are dropped.
func (r *RoomRegistry) Unregister(room types.RoomID, m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[room]
	if members == nil {
		return
	}
	delete(members, m)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	roomMembers.WithLabelValues(string(room)).Set(float64(len(members)))
}

// Members returns the replica ids currently present in the room.
func (r *RoomRegistry) Members(room types.RoomID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[room]))
	for m := range r.rooms[room] {
		out = append(out, m.replica)
	}
	return out
}

// Broadcast delivers the payload to every member of the room except the one
// whose replica id matches skipReplica. Members with a full queue are
// skipped rather than blocked on.
func (r *RoomRegistry) Broadcast(room types.RoomID, payload []byte, skipReplica string) int {
	r.mu.RLock()
	recipients := make([]*member, 0, len(r.rooms[room]))
	for m := range r.rooms[room] {
		if skipReplica != "" && m.replica == skipReplica {
			continue
		}
		recipients = append(recipients, m)
	}
	r.mu.RUnlock()

	sent := 0
	for _, m := range recipients {
		select {
		case m.send <- payload:
			sent++
		case <-m.closed:
		default:
		}
	}
	relayedFrames.WithLabelValues(string(room)).Add(float64(sent))
	return sent
}
