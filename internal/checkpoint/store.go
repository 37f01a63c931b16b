package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/example/scene-collab-engine/internal/types"
)

// Store is the backend persistence port for document checkpoints. Load
// returns (nil, nil) when no checkpoint exists for the key; callers treat
// every failure as non-fatal. Implementations must be safe for concurrent
// use: independent sessions read and write different keys at the same time,
// and a slow write may overlap the next one for the same key. Each Save is a
// full overwrite, last write wins.
type Store interface {
	Load(ctx context.Context, scene types.SceneID, project types.ProjectID) (*types.Checkpoint, error)
	Save(ctx context.Context, scene types.SceneID, project types.ProjectID, update []byte) error
	Has(ctx context.Context, scene types.SceneID, project types.ProjectID) (bool, error)
	Delete(ctx context.Context, scene types.SceneID, project types.ProjectID) error
}

type memoryKey struct {
	Scene   types.SceneID
	Project types.ProjectID
}

// MemoryStore is an in-process Store used in tests and embedded setups.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[memoryKey]types.Checkpoint

	// SaveErr, when set, is returned by Save so callers' failure handling
	// can be exercised.
	SaveErr error
	// LoadErr mirrors SaveErr for reads.
	LoadErr error

	saves int
	loads int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[memoryKey]types.Checkpoint)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, scene types.SceneID, project types.ProjectID) (*types.Checkpoint, error) {
	m.mu.Lock()
	m.loads++
	err := m.LoadErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	ckpt, ok := m.items[memoryKey{Scene: scene, Project: project}]
	if !ok {
		return nil, nil
	}
	out := ckpt
	out.Update = append([]byte(nil), ckpt.Update...)
	return &out, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, scene types.SceneID, project types.ProjectID, update []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.items[memoryKey{Scene: scene, Project: project}] = types.Checkpoint{
		SceneID:   scene,
		ProjectID: project,
		Update:    append([]byte(nil), update...),
		SavedAt:   time.Now().UTC(),
	}
	return nil
}

// Has implements Store.
func (m *MemoryStore) Has(_ context.Context, scene types.SceneID, project types.ProjectID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[memoryKey{Scene: scene, Project: project}]
	return ok, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, scene types.SceneID, project types.ProjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, memoryKey{Scene: scene, Project: project})
	return nil
}

// Saves reports how many Save calls have been made, including failed ones.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Loads reports how many Load calls have been made.
func (m *MemoryStore) Loads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loads
}
