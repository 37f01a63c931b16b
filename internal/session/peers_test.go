package session

import (
	"testing"
	"time"

	"github.com/example/scene-collab-engine/internal/types"
)

func TestDerivePeersExcludesSelf(t *testing.T) {
	now := time.Now()
	states := map[string]types.PresenceState{
		"self-replica":  {User: &types.UserInfo{Name: "Me", Color: "#111111"}},
		"other-replica": {User: &types.UserInfo{Name: "Them", Color: "#222222"}},
	}

	peers := DerivePeers(states, "self-replica", now)
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	if peers[0].ID != "other-replica" || peers[0].Name != "Them" {
		t.Fatalf("unexpected peer %+v", peers[0])
	}
	if !peers[0].LastSeen.Equal(now) {
		t.Fatalf("unexpected last_seen %v", peers[0].LastSeen)
	}
}

func TestDerivePeersSkipsAnnouncelessEntries(t *testing.T) {
	states := map[string]types.PresenceState{
		"silent":  {},
		"visible": {User: &types.UserInfo{Name: "Ada", Color: "#333333"}},
	}

	peers := DerivePeers(states, "self", time.Now())
	if len(peers) != 1 || peers[0].ID != "visible" {
		t.Fatalf("unexpected peers %+v", peers)
	}
}

func TestDerivePeersAppliesFallbacks(t *testing.T) {
	states := map[string]types.PresenceState{
		"bare": {User: &types.UserInfo{}},
	}

	peers := DerivePeers(states, "self", time.Now())
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	if peers[0].Name != "Anonymous" {
		t.Fatalf("expected fallback name, got %q", peers[0].Name)
	}
	if peers[0].Color != types.NeutralColor {
		t.Fatalf("expected neutral color, got %q", peers[0].Color)
	}
}

func TestDerivePeersSorted(t *testing.T) {
	states := map[string]types.PresenceState{
		"zzz": {User: &types.UserInfo{Name: "Z"}},
		"aaa": {User: &types.UserInfo{Name: "A"}},
		"mmm": {User: &types.UserInfo{Name: "M"}},
	}

	peers := DerivePeers(states, "self", time.Now())
	if len(peers) != 3 {
		t.Fatalf("expected 3 peers, got %d", len(peers))
	}
	if peers[0].ID != "aaa" || peers[1].ID != "mmm" || peers[2].ID != "zzz" {
		t.Fatalf("peers not sorted: %+v", peers)
	}
}
