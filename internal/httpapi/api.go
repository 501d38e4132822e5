// Package httpapi exposes the REST and streaming surface: sessions and
// questions under /api/rag, ingestion control under /api/ontology, and the
// embedding job queue under /api/jobs.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/jobs"
	"github.com/inkwell-ai/inkwell/internal/pipeline"
	"github.com/inkwell-ai/inkwell/internal/qa"
	"github.com/inkwell-ai/inkwell/internal/streaming"
)

// API bundles the handlers' dependencies.
type API struct {
	client       *db.Client
	orchestrator *qa.Orchestrator
	pipe         *pipeline.Pipeline
	queue        *jobs.Queue
	streams      *streaming.Manager
	defaultModel string
	logger       *zap.Logger
}

func New(client *db.Client, orchestrator *qa.Orchestrator, pipe *pipeline.Pipeline, queue *jobs.Queue, streams *streaming.Manager, defaultModel string, logger *zap.Logger) *API {
	if streams == nil {
		streams = streaming.Get()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		client:       client,
		orchestrator: orchestrator,
		pipe:         pipe,
		queue:        queue,
		streams:      streams,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// Register mounts every route on the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rag/sessions", a.handleCreateSession)
	mux.HandleFunc("GET /api/rag/sessions/{id}", a.handleGetSession)
	mux.HandleFunc("GET /api/rag/sessions/{id}/messages", a.handleListMessages)
	mux.HandleFunc("POST /api/rag/sessions/{id}/question", a.handleQuestion)
	mux.HandleFunc("GET /api/rag/sessions/{id}/question/ws", a.handleQuestionWS)
	mux.HandleFunc("GET /api/rag/runs/{id}", a.handleGetRun)
	mux.HandleFunc("GET /api/rag/runs/{id}/events", a.handleRunEvents)
	mux.HandleFunc("POST /api/rag/search", a.handleSearch)

	mux.HandleFunc("GET /api/ontology/ingestions", a.handleListIngestions)
	mux.HandleFunc("GET /api/ontology/ingestions/{type}/{source_id}", a.handleGetIngestion)
	mux.HandleFunc("POST /api/ontology/ingestions", a.handleTriggerIngestion)
	mux.HandleFunc("POST /api/ontology/ingestions/{type}/{source_id}/embeddings", a.handleTriggerEmbedding)

	mux.HandleFunc("GET /api/jobs", a.handleListJobs)
	mux.HandleFunc("GET /api/jobs/summary", a.handleJobSummary)
	mux.HandleFunc("GET /api/jobs/{id}", a.handleGetJob)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := fault.HTTPStatus(err)
	if status >= 500 {
		a.logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"kind":  fault.KindOf(err).String(),
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fault.Wrap(fault.KindInvalidArgument, err, "malformed request body")
	}
	return nil
}
