package checkpoint

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if ckpt, err := store.Load(ctx, "scene-1", "project-1"); err != nil || ckpt != nil {
		t.Fatalf("expected miss, got %+v err %v", ckpt, err)
	}

	if err := store.Save(ctx, "scene-1", "project-1", []byte("update-bytes")); err != nil {
		t.Fatalf("save: %v", err)
	}

	ckpt, err := store.Load(ctx, "scene-1", "project-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ckpt == nil || string(ckpt.Update) != "update-bytes" {
		t.Fatalf("unexpected checkpoint %+v", ckpt)
	}
	if ckpt.SceneID != "scene-1" || ckpt.ProjectID != "project-1" {
		t.Fatalf("identity mismatch %+v", ckpt)
	}
	if ckpt.SavedAt.IsZero() {
		t.Fatal("saved_at not set")
	}

	if ok, err := store.Has(ctx, "scene-1", "project-1"); err != nil || !ok {
		t.Fatalf("expected present, got %v err %v", ok, err)
	}
	if ok, err := store.Has(ctx, "scene-2", "project-1"); err != nil || ok {
		t.Fatalf("expected absent, got %v err %v", ok, err)
	}

	if err := store.Delete(ctx, "scene-1", "project-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ckpt, err := store.Load(ctx, "scene-1", "project-1"); err != nil || ckpt != nil {
		t.Fatalf("expected miss after delete, got %+v err %v", ckpt, err)
	}
}

func TestMemoryStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Save(ctx, "s", "p", []byte("first")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "s", "p", []byte("second")); err != nil {
		t.Fatalf("save: %v", err)
	}

	ckpt, err := store.Load(ctx, "s", "p")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(ckpt.Update) != "second" {
		t.Fatalf("expected last write to win, got %q", ckpt.Update)
	}
	if store.Saves() != 2 {
		t.Fatalf("expected 2 saves, got %d", store.Saves())
	}
}

func TestMemoryStoreInjectedErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("backend down")
	store.SaveErr = boom
	store.LoadErr = boom

	if err := store.Save(ctx, "s", "p", nil); !errors.Is(err, boom) {
		t.Fatalf("expected injected save error, got %v", err)
	}
	if _, err := store.Load(ctx, "s", "p"); !errors.Is(err, boom) {
		t.Fatalf("expected injected load error, got %v", err)
	}
}
