package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// SceneID identifies a single scene document within a project.
type SceneID string

// ProjectID identifies a writing project.
type ProjectID string

// ReplicaID distinguishes the local editing session from remote peers. It is
// the actor identifier of the underlying replicated document.
type ReplicaID string

// RoomID names the collaboration channel a peer transport joins.
type RoomID string

// DefaultNamespace prefixes every derived room identifier.
const DefaultNamespace = "app"

// DeriveRoomID computes the canonical room for a (project, scene) pair. The
// result is a pure function of its inputs so independent clients arrive at
// the same room without coordination.
func DeriveRoomID(namespace string, project ProjectID, scene SceneID) RoomID {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return RoomID(fmt.Sprintf("%s-%s-%s", namespace, project, scene))
}

// Status describes the session-level connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusSyncing      Status = "syncing"
	StatusSynced       Status = "synced"
)

// Coarse sync progress checkpoints reported by a session.
const (
	ProgressNone  = 0
	ProgressLocal = 50
	ProgressFull  = 100
)

// UserInfo is the per-participant metadata broadcast through the awareness
// channel alongside document edits.
type UserInfo struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// PresenceState is one entry of the awareness map. The User field is optional;
// transports may carry entries that have not yet announced an identity.
type PresenceState struct {
	User *UserInfo `json:"user,omitempty"`
}

// Peer is a remote collaborator currently present in a room.
type Peer struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Color    string    `json:"color"`
	LastSeen time.Time `json:"last_seen"`
}

// Checkpoint is a point-in-time full-state snapshot of a replicated document.
type Checkpoint struct {
	SceneID   SceneID   `json:"scene_id"`
	ProjectID ProjectID `json:"project_id"`
	Update    []byte    `json:"update"`
	SavedAt   time.Time `json:"saved_at"`
}

// MarshalBinary serializes a Checkpoint for byte-oriented stores. The update
// bytes are base64-encoded so the payload stays valid JSON.
func (c Checkpoint) MarshalBinary() ([]byte, error) {
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now().UTC()
	}
	payload := struct {
		SceneID   SceneID   `json:"scene_id"`
		ProjectID ProjectID `json:"project_id"`
		Update    string    `json:"update"`
		SavedAt   time.Time `json:"saved_at"`
	}{
		SceneID:   c.SceneID,
		ProjectID: c.ProjectID,
		Update:    base64.StdEncoding.EncodeToString(c.Update),
		SavedAt:   c.SavedAt,
	}
	return json.Marshal(payload)
}

// UnmarshalBinary deserializes a Checkpoint from the JSON representation.
func (c *Checkpoint) UnmarshalBinary(data []byte) error {
	var payload struct {
		SceneID   SceneID   `json:"scene_id"`
		ProjectID ProjectID `json:"project_id"`
		Update    string    `json:"update"`
		SavedAt   time.Time `json:"saved_at"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	update, err := base64.StdEncoding.DecodeString(payload.Update)
	if err != nil {
		return fmt.Errorf("decode checkpoint update: %w", err)
	}
	c.SceneID = payload.SceneID
	c.ProjectID = payload.ProjectID
	c.Update = update
	c.SavedAt = payload.SavedAt
	return nil
}

// NeutralColor is the fallback rendered for peers that joined without
// announcing an identity color.
const NeutralColor = "#808080"

// Palette holds the colors a session picks from when the caller does not
// supply one.
var Palette = []string{
	"#e63946", "#f4a261", "#e9c46a", "#2a9d8f",
	"#264653", "#457b9d", "#8338ec", "#ff6392",
}

// RandomColor picks a palette entry. Callers store the result so the color
// stays stable for the session lifetime.
func RandomColor() string {
	return Palette[rand.Intn(len(Palette))]
}
