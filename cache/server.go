package cache

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/internal/apierr"
	"github.com/ilastik/blockpipeline/internal/logging"
)

// descriptorHeader carries the cache descriptor string (spec §4.2) on
// both Put requests and non-placeholder Get responses.
const descriptorHeader = "X-Block-Descriptor"

// Server exposes a Store over HTTP: the cache keys from spec §6
// (`prediction-<id>-block`, `prediction-<id>-shape`) become one
// GET/PUT resource per block id, since an HTTP path is itself a key.
type Server struct {
	store *Store
	log   logging.Logger
}

// NewServer wraps store for HTTP access.
func NewServer(store *Store, log logging.Logger) *Server {
	return &Server{store: store, log: log}
}

// Register installs the cache routes on r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/cache/{id:[0-9]+}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/cache/{id:[0-9]+}", s.handlePut).Methods(http.MethodPut)
	r.HandleFunc("/cache", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/cache", s.handleClear).Methods(http.MethodDelete)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := blockID(r)
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	insertPlaceholder := r.URL.Query().Get("insert_placeholder") == "true"

	result := s.store.Get(id, insertPlaceholder)
	switch {
	case result.Found:
		w.Header().Set(descriptorHeader, blockmodel.EncodeDescriptor(result.Payload.Shape, result.Payload.DType))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Payload.Bytes)
	case result.Placeholder:
		w.Header().Set(descriptorHeader, blockmodel.DescriptorDummy)
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	id, err := blockID(r)
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	descriptor := r.Header.Get(descriptorHeader)
	shape, dtype, err := blockmodel.DecodeDescriptor(descriptor)
	if err != nil {
		_ = apierr.WriteError(w, apierr.Validation("cache: %w", err))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		_ = apierr.WriteError(w, apierr.Validation("cache: reading body: %w", err))
		return
	}
	s.store.Put(id, blockmodel.Payload{Shape: shape, DType: dtype, Bytes: body})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ids := s.store.List()
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.FormatInt(id, 10)
	}
	apierr.WritePlainText(w, strings.Join(strs, ","))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.store.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func blockID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apierr.Validation("cache: block id %q is not an integer", raw)
	}
	return id, nil
}
