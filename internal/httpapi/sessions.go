package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/metrics"
)

type createSessionRequest struct {
	PDFID *uuid.UUID `json:"pdf_id"`
	Title string     `json:"title"`
}

// POST /api/rag/sessions
func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.PDFID != nil {
		// Reject sessions bound to documents we have never seen.
		if _, err := a.client.GetPDFDocument(r.Context(), *req.PDFID); err != nil {
			a.writeError(w, err)
			return
		}
	}
	session, err := a.client.CreateSession(r.Context(), req.PDFID, req.Title)
	if err != nil {
		a.writeError(w, err)
		return
	}
	metrics.SessionsCreated.Inc()
	writeJSON(w, http.StatusCreated, session)
}

// GET /api/rag/sessions/{id}
func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.writeError(w, fault.Invalid("session id must be a uuid"))
		return
	}
	session, err := a.client.GetSession(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// GET /api/rag/sessions/{id}/messages
func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.writeError(w, fault.Invalid("session id must be a uuid"))
		return
	}
	if _, err := a.client.GetSession(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	msgs, err := a.client.ListMessages(r.Context(), id, 0)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs, "count": len(msgs)})
}

// GET /api/rag/runs/{id}
func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.writeError(w, fault.Invalid("run id must be a uuid"))
		return
	}
	run, err := a.client.GetRun(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
