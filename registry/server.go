package registry

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ilastik/blockpipeline/internal/apierr"
)

// Server exposes a Store over HTTP.
type Server struct {
	store *Store
}

// NewServer wraps store for HTTP access.
func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// Register installs the registry routes on r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/registry/{key}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/registry/{key}", s.handleSet).Methods(http.MethodPost)
	r.HandleFunc("/registry/{key}", s.handleRemove).Methods(http.MethodDelete)
	r.HandleFunc("/registry", s.handleDump).Methods(http.MethodGet)
	r.HandleFunc("/registry/log/tail", s.handleTailLog).Methods(http.MethodGet)
	r.HandleFunc("/registry/log", s.handleAppendLog).Methods(http.MethodPost)
}

type setRequest struct {
	Value string `json:"value"`
}

type getResponse struct {
	Scalar string   `json:"scalar,omitempty"`
	List   []string `json:"list,omitempty"`
	Bytes  []byte   `json:"bytes,omitempty"`
	Found  bool     `json:"found"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := Key(mux.Vars(r)["key"])
	if !key.Valid() {
		_ = apierr.WriteError(w, apierr.Validation("registry: unknown key %q", key))
		return
	}

	switch {
	case key == PCRandomForest:
		blob, ok, err := s.store.GetBytes(key)
		if err != nil {
			_ = apierr.WriteError(w, err)
			return
		}
		_ = apierr.WriteSuccess(w, getResponse{Bytes: blob, Found: ok})
	case key.IsList():
		list, err := s.store.GetList(key)
		if err != nil {
			_ = apierr.WriteError(w, err)
			return
		}
		_ = apierr.WriteSuccess(w, getResponse{List: list, Found: list != nil})
	default:
		v, ok, err := s.store.Get(key)
		if err != nil {
			_ = apierr.WriteError(w, err)
			return
		}
		_ = apierr.WriteSuccess(w, getResponse{Scalar: v, Found: ok})
	}
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key := Key(mux.Vars(r)["key"])
	if !key.Valid() {
		_ = apierr.WriteError(w, apierr.Validation("registry: unknown key %q", key))
		return
	}

	if key == PCRandomForest {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			_ = apierr.WriteError(w, apierr.Validation("registry: reading body: %v", err))
			return
		}
		if err := s.store.SetBytes(key, body); err != nil {
			_ = apierr.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = apierr.WriteError(w, apierr.Validation("registry: decoding request: %v", err))
		return
	}
	if err := s.store.Set(key, req.Value); err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	key := Key(mux.Vars(r)["key"])
	value := r.URL.Query().Get("value")
	if err := s.store.Remove(key, value); err != nil {
		_ = apierr.WriteError(w, apierr.Validation("registry: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Dump()
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	_ = apierr.WriteSuccess(w, entries)
}

func (s *Server) handleTailLog(w http.ResponseWriter, r *http.Request) {
	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			_ = apierr.WriteError(w, apierr.Validation("registry: since must be an integer"))
			return
		}
		since = parsed
	}
	lines, err := s.store.TailLog(since)
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	_ = apierr.WriteSuccess(w, lines)
}

type appendLogRequest struct {
	Level     string `json:"level"`
	ServiceID string `json:"service_id"`
	Message   string `json:"message"`
}

func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	var req appendLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = apierr.WriteError(w, apierr.Validation("registry: decoding request: %v", err))
		return
	}
	if err := s.store.Append(req.Level, req.ServiceID, req.Message); err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
