package checkpoint

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/example/scene-collab-engine/internal/observability"
	"github.com/example/scene-collab-engine/internal/types"
)

// maxUpdateBytes bounds PUT bodies so a misbehaving client cannot exhaust the
// server. Full scene states are typically well under a megabyte.
const maxUpdateBytes = 16 << 20

// API exposes a Store over HTTP. It is the server half of HTTPStore: GET
// returns the encoded checkpoint, PUT accepts the raw update bytes, HEAD
// probes existence, and DELETE removes the entry.
type API struct {
	store  Store
	logger zerolog.Logger
}

// NewAPI wraps a store for HTTP exposure.
func NewAPI(store Store, logger zerolog.Logger) *API {
	return &API{store: store, logger: logger}
}

// Register mounts the checkpoint routes on the router.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/checkpoints/{project}/{scene}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/checkpoints/{project}/{scene}", a.handlePut).Methods(http.MethodPut)
	r.HandleFunc("/v1/checkpoints/{project}/{scene}", a.handleHead).Methods(http.MethodHead)
	r.HandleFunc("/v1/checkpoints/{project}/{scene}", a.handleDelete).Methods(http.MethodDelete)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	scene, project := pathKey(r)
	logger := observability.LoggerWithTrace(r.Context(), a.logger)

	ckpt, err := a.store.Load(r.Context(), scene, project)
	if err != nil {
		logger.Error().Err(err).Str("scene", string(scene)).Msg("checkpoint load failed")
		http.Error(w, "load failed", http.StatusInternalServerError)
		return
	}
	if ckpt == nil {
		http.Error(w, "no checkpoint", http.StatusNotFound)
		return
	}

	data, err := ckpt.MarshalBinary()
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (a *API) handlePut(w http.ResponseWriter, r *http.Request) {
	scene, project := pathKey(r)
	logger := observability.LoggerWithTrace(r.Context(), a.logger)

	update, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes+1))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	if len(update) > maxUpdateBytes {
		http.Error(w, "update too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := a.store.Save(r.Context(), scene, project, update); err != nil {
		logger.Error().Err(err).Str("scene", string(scene)).Msg("checkpoint save failed")
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleHead(w http.ResponseWriter, r *http.Request) {
	scene, project := pathKey(r)

	ok, err := a.store.Has(r.Context(), scene, project)
	if err != nil {
		http.Error(w, "probe failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	scene, project := pathKey(r)
	logger := observability.LoggerWithTrace(r.Context(), a.logger)

	if err := a.store.Delete(r.Context(), scene, project); err != nil {
		logger.Error().Err(err).Str("scene", string(scene)).Msg("checkpoint delete failed")
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathKey(r *http.Request) (types.SceneID, types.ProjectID) {
	vars := mux.Vars(r)
	return types.SceneID(vars["scene"]), types.ProjectID(vars["project"])
}
