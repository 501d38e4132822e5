package httpapi

import (
	"net/http"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/pipeline"
)

// GET /api/ontology/ingestions
func (a *API) handleListIngestions(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.client.ListIngestionStatuses(r.Context(), r.URL.Query().Get("source_type"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ingestions": statuses, "count": len(statuses)})
}

// GET /api/ontology/ingestions/{type}/{source_id}
func (a *API) handleGetIngestion(w http.ResponseWriter, r *http.Request) {
	status, err := a.client.GetIngestionStatus(r.Context(), r.PathValue("type"), r.PathValue("source_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type triggerIngestionRequest struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
}

// POST /api/ontology/ingestions
//
// Runs the ingestion synchronously and returns the resulting status row.
// A concurrent ingestion of the same scope answers 409.
func (a *API) handleTriggerIngestion(w http.ResponseWriter, r *http.Request) {
	var req triggerIngestionRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.SourceType == "" || req.SourceID == "" {
		a.writeError(w, fault.Invalid("source_type and source_id are required"))
		return
	}
	adapter, err := pipeline.AdapterFor(req.SourceType)
	if err != nil {
		a.writeError(w, err)
		return
	}
	status, err := adapter.Ingest(r.Context(), req.SourceID)
	if err != nil && status == nil {
		a.writeError(w, err)
		return
	}
	// An ERROR status row still describes what happened; return it.
	writeJSON(w, http.StatusOK, status)
}

type triggerEmbeddingRequest struct {
	Model    string `json:"model"`
	Force    bool   `json:"force"`
	Priority int    `json:"priority"`
}

// POST /api/ontology/ingestions/{type}/{source_id}/embeddings
//
// Enqueues a background embedding job and returns immediately.
func (a *API) handleTriggerEmbedding(w http.ResponseWriter, r *http.Request) {
	sourceType := r.PathValue("type")
	sourceID := r.PathValue("source_id")

	var req triggerEmbeddingRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			a.writeError(w, err)
			return
		}
	}
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	// The scope must exist before we queue work against it.
	status, err := a.client.GetIngestionStatus(r.Context(), sourceType, sourceID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if status.State == db.IndexStatusNotIndexed {
		a.writeError(w, fault.New(fault.KindNotFound, "scope %s/%s has never been ingested", sourceType, sourceID))
		return
	}

	jobID, err := a.queue.Enqueue(r.Context(), sourceType, sourceID, model, req.Priority, req.Force)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":      jobID,
		"source_type": sourceType,
		"source_id":   sourceID,
		"model":       model,
	})
}
