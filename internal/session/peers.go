package session

import (
	"sort"
	"time"

	"github.com/example/scene-collab-engine/internal/types"
)

// DerivePeers rebuilds the peer list from a full awareness map. The local
// replica is always excluded, entries that have not announced a user are
// skipped, and missing name/color fields fall back to defaults. The list is
// rebuilt wholesale on every presence change; no peer survives an event
// without being re-derived.
func DerivePeers(states map[string]types.PresenceState, self types.ReplicaID, now time.Time) []types.Peer {
	peers := make([]types.Peer, 0, len(states))
	for id, state := range states {
		if id == string(self) || state.User == nil {
			continue
		}
		name := state.User.Name
		if name == "" {
			name = "Anonymous"
		}
		color := state.User.Color
		if color == "" {
			color = types.NeutralColor
		}
		peers = append(peers, types.Peer{
			ID:       id,
			Name:     name,
			Color:    color,
			LastSeen: now,
		})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}
