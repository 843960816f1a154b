package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/internal/apierr"
)

// Server exposes the classifier worker's consumed-by-gateway HTTP
// surface (spec §6): prediction/raw, numclasses, blockshape,
// cachedblockids, and setup.
type Server struct {
	worker *Worker
}

// NewServer wraps worker for HTTP access.
func NewServer(w *Worker) *Server {
	return &Server{worker: w}
}

// Register installs the worker routes on r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/prediction/raw/{id}", s.handlePredictionRaw).Methods(http.MethodGet)
	r.HandleFunc("/prediction/numclasses", s.handleNumClasses).Methods(http.MethodGet)
	r.HandleFunc("/prediction/blockshape", s.handleBlockShape).Methods(http.MethodGet)
	r.HandleFunc("/prediction/cachedblockids", s.handleCachedBlockIDs).Methods(http.MethodGet)
	r.HandleFunc("/setup", s.handleSetup).Methods(http.MethodPost)
}

// handlePredictionRaw synchronously returns a single block's
// prediction, computing it on demand if it isn't already cached
// (spec §6: "/prediction/raw/<blockId>"). It reuses the same
// idempotency-guard/fetch/compute path as the task-queue loop but
// does not announce completion on the finished bus: that is the
// async loop's responsibility.
func (s *Server) handlePredictionRaw(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		_ = apierr.WriteError(w, apierr.Validation("worker: %q is not a block id", idStr))
		return
	}
	payload, err := s.worker.ComputeBlock(r.Context(), id)
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload.Bytes)
}

func (s *Server) handleNumClasses(w http.ResponseWriter, r *http.Request) {
	apierr.WritePlainText(w, strconv.Itoa(s.worker.kernel.NumClasses()))
}

func (s *Server) handleBlockShape(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.worker.cfg.get()
	if !ok {
		_ = apierr.WriteError(w, apierr.Configuration("worker: not yet set up"))
		return
	}
	apierr.WritePlainText(w, cfg.blockShape.String())
}

func (s *Server) handleCachedBlockIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.worker.cacheClient.List(r.Context())
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	_ = apierr.WriteSuccess(w, ids)
}

type setupRequest struct {
	VolumeShape string `json:"volume_shape"`
	DType       string `json:"dtype"`
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = apierr.WriteError(w, apierr.Validation("worker: decoding setup request: %v", err))
		return
	}
	shape, err := blockmodel.ParseCoord(req.VolumeShape)
	if err != nil {
		_ = apierr.WriteError(w, apierr.Validation("worker: %v", err))
		return
	}
	dtype := blockmodel.DType(req.DType)
	if !dtype.Valid() {
		_ = apierr.WriteError(w, apierr.Validation("worker: unknown dtype %q", req.DType))
		return
	}
	if err := s.worker.Setup(context.Background(), shape, dtype); err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
