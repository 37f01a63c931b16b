package checkpoint

import (
	"context"
	"io"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// The HTTP client store and the server API are two halves of the same wire
// contract, so they are tested against each other.
func TestHTTPStoreAgainstAPI(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore()

	router := mux.NewRouter()
	NewAPI(backend, zerolog.New(io.Discard)).Register(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	base, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	store := NewHTTPStore(base, srv.Client())

	if ckpt, err := store.Load(ctx, "scene-1", "project-1"); err != nil || ckpt != nil {
		t.Fatalf("expected miss, got %+v err %v", ckpt, err)
	}
	if ok, err := store.Has(ctx, "scene-1", "project-1"); err != nil || ok {
		t.Fatalf("expected absent, got %v err %v", ok, err)
	}

	if err := store.Save(ctx, "scene-1", "project-1", []byte("remote update")); err != nil {
		t.Fatalf("save: %v", err)
	}

	ckpt, err := store.Load(ctx, "scene-1", "project-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ckpt == nil || string(ckpt.Update) != "remote update" {
		t.Fatalf("unexpected checkpoint %+v", ckpt)
	}
	if ckpt.SceneID != "scene-1" || ckpt.ProjectID != "project-1" {
		t.Fatalf("identity mismatch %+v", ckpt)
	}

	if ok, err := store.Has(ctx, "scene-1", "project-1"); err != nil || !ok {
		t.Fatalf("expected present, got %v err %v", ok, err)
	}

	if err := store.Delete(ctx, "scene-1", "project-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ckpt, err := store.Load(ctx, "scene-1", "project-1"); err != nil || ckpt != nil {
		t.Fatalf("expected miss after delete, got %+v err %v", ckpt, err)
	}
}

func TestAPIGetMissReturns404(t *testing.T) {
	router := mux.NewRouter()
	NewAPI(NewMemoryStore(), zerolog.New(io.Discard)).Register(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/v1/checkpoints/project-x/scene-x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
