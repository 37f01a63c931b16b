package session

import (
	"time"

	"github.com/example/scene-collab-engine/internal/types"
)

// Default timing constants for a session. Deps fields override them in tests.
const (
	defaultCheckpointInterval   = 30 * time.Second
	defaultReconnectBaseDelay   = 3 * time.Second
	defaultMaxReconnectAttempts = 5
)

// Options is the caller-facing configuration for one collaboration session.
type Options struct {
	// SceneID and ProjectID identify the document. Both are required; a
	// session missing either stays disabled.
	SceneID   types.SceneID
	ProjectID types.ProjectID

	// UserName is the display name broadcast to peers. Empty defaults to
	// "Anonymous".
	UserName string
	// UserColor is the display color broadcast to peers. Empty picks a
	// random palette entry, stable for the session lifetime.
	UserColor string

	// Enabled gates all initialization. A disabled session holds no
	// document and never touches the checkpoint store.
	Enabled bool
	// EnableP2P attaches a peer transport after the local cache is warm.
	EnableP2P bool

	// CustomRoomID, when set and different from the derived own-room id,
	// joins someone else's room instead of this scene's own.
	CustomRoomID types.RoomID
	// Namespace overrides the room namespace prefix. Empty uses the
	// application default.
	Namespace string
}

// NewOptions returns enabled options for a scene with all defaults applied.
func NewOptions(scene types.SceneID, project types.ProjectID) Options {
	return Options{
		SceneID:   scene,
		ProjectID: project,
		UserName:  "Anonymous",
		UserColor: types.RandomColor(),
		Enabled:   true,
	}
}

func (o *Options) applyDefaults() {
	if o.UserName == "" {
		o.UserName = "Anonymous"
	}
	if o.UserColor == "" {
		o.UserColor = types.RandomColor()
	}
}

// valid reports whether the session has the identifiers it needs to start.
func (o Options) valid() bool {
	return o.SceneID != "" && o.ProjectID != ""
}
