package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/example/scene-collab-engine/internal/types"
)

// checkpointDir is the hidden directory inside a project where scene
// checkpoints live, one file per scene.
const checkpointDir = ".collab"

// FileStore persists checkpoints as JSON files under the project directory.
// This is the desktop-app layout: everything a project needs travels with its
// folder, including collaboration state.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at the directory containing project
// folders. Project identifiers are used as directory names beneath it.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, scene types.SceneID, project types.ProjectID) (*types.Checkpoint, error) {
	data, err := os.ReadFile(s.path(scene, project))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var ckpt types.Checkpoint
	if err := ckpt.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &ckpt, nil
}

// Save implements Store. The write goes through a temporary file and rename
// so a crash mid-write never leaves a truncated checkpoint behind.
func (s *FileStore) Save(_ context.Context, scene types.SceneID, project types.ProjectID, update []byte) error {
	start := time.Now()
	dir := filepath.Join(s.root, string(project), checkpointDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		storeFailures.WithLabelValues("file", "save").Inc()
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	ckpt := types.Checkpoint{
		SceneID:   scene,
		ProjectID: project,
		Update:    update,
		SavedAt:   time.Now().UTC(),
	}
	data, err := ckpt.MarshalBinary()
	if err != nil {
		storeFailures.WithLabelValues("file", "save").Inc()
		return err
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp", scene))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		storeFailures.WithLabelValues("file", "save").Inc()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path(scene, project)); err != nil {
		storeFailures.WithLabelValues("file", "save").Inc()
		return fmt.Errorf("publish checkpoint: %w", err)
	}

	storeSaveLatency.WithLabelValues("file").Observe(time.Since(start).Seconds())
	return nil
}

// Has implements Store.
func (s *FileStore) Has(_ context.Context, scene types.SceneID, project types.ProjectID) (bool, error) {
	_, err := os.Stat(s.path(scene, project))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete implements Store. Deleting a missing checkpoint is not an error.
func (s *FileStore) Delete(_ context.Context, scene types.SceneID, project types.ProjectID) error {
	err := os.Remove(s.path(scene, project))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) path(scene types.SceneID, project types.ProjectID) string {
	return filepath.Join(s.root, string(project), checkpointDir, fmt.Sprintf("%s.ckpt", scene))
}
