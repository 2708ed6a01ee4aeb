package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"replichat/server/internal/poke"
	"replichat/server/internal/replicache"
	"replichat/server/internal/storage"
)

// pushVersion is the protocol version literal this server accepts.
const pushVersion = 1

type jsonResponse map[string]any

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	store        storage.Store
	processor    *replicache.Processor
	hub          *poke.Hub
	beatInterval time.Duration
}

type Config struct {
	// BeatInterval is the keep-alive period on poke streams. Clients fall
	// back to time-based pulls when beats stop arriving.
	BeatInterval time.Duration
}

func NewServer(store storage.Store, processor *replicache.Processor, hub *poke.Hub) *Server {
	return NewServerWithConfig(store, processor, hub, Config{})
}

func NewServerWithConfig(store storage.Store, processor *replicache.Processor, hub *poke.Hub, cfg Config) *Server {
	if cfg.BeatInterval <= 0 {
		cfg.BeatInterval = 30 * time.Second
	}
	return &Server{
		store:        store,
		processor:    processor,
		hub:          hub,
		beatInterval: cfg.BeatInterval,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/replicache/push", s.handlePush)
	mux.HandleFunc("/api/replicache/pull", s.handlePull)
	mux.HandleFunc("/api/replicache/poke", s.handlePoke)
	mux.HandleFunc("/api/replicache/poke/ws", s.handlePokeSocket)
	mux.HandleFunc("/healthz", handleHealthz)
}

type pushRequest struct {
	PushVersion   int                   `json:"pushVersion"`
	SchemaVersion string                `json:"schemaVersion"`
	ProfileID     string                `json:"profileID"`
	ClientGroupID string                `json:"clientGroupID"`
	Mutations     []replicache.Mutation `json:"mutations"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload pushRequest
	if err := decodeJSON(r, &payload); err != nil {
		log.Printf("push decode error: %v", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.PushVersion != pushVersion {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unsupported pushVersion"})
		return
	}
	if payload.SchemaVersion == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "schemaVersion is required"})
		return
	}
	if payload.ProfileID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "profileID is required"})
		return
	}
	if payload.ClientGroupID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "clientGroupID is required"})
		return
	}
	for _, m := range payload.Mutations {
		if m.ID <= 0 || m.ClientID == "" || m.Name == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "mutations require a positive id, clientID, and name"})
			return
		}
	}

	// Each mutation runs in its own transaction so one failure does not roll
	// back prior mutations in the batch.
	for _, m := range payload.Mutations {
		if err := s.processor.Process(r.Context(), payload.ClientGroupID, m); err != nil {
			var future *replicache.FutureMutationError
			if errors.As(err, &future) {
				log.Printf("push aborted group=%s: %v", payload.ClientGroupID, err)
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			log.Printf("push mutation error client=%s id=%d: %v", m.ClientID, m.ID, err)
		}
	}

	// One poke per accepted batch, even when individual mutations errored:
	// cursors still advanced, so clients need to resync.
	s.hub.Publish(poke.DefaultChannel)
	writeJSON(w, http.StatusOK, jsonResponse{})
}

type pullRequest struct {
	ClientGroupID string `json:"clientGroupID"`
	Cookie        *int64 `json:"cookie"`
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload pullRequest
	if err := decodeJSON(r, &payload); err != nil {
		log.Printf("pull decode error: %v", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.ClientGroupID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "clientGroupID is required"})
		return
	}
	cookie := int64(0)
	if payload.Cookie != nil {
		if *payload.Cookie < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cookie must be a non-negative integer"})
			return
		}
		cookie = *payload.Cookie
	}

	response, err := replicache.BuildPull(r.Context(), s.store, payload.ClientGroupID, cookie)
	if err != nil {
		log.Printf("pull error group=%s cookie=%d: %v", payload.ClientGroupID, cookie, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
