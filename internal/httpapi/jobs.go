package httpapi

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

// GET /api/jobs?status=PENDING&limit=50
func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			a.writeError(w, fault.Invalid("limit must be a positive integer"))
			return
		}
		limit = n
	}
	list, err := a.queue.List(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list, "count": len(list)})
}

// GET /api/jobs/summary
func (a *API) handleJobSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.queue.Summarize(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"summary": summary})
}

// GET /api/jobs/{id}
func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.writeError(w, fault.Invalid("job id must be a uuid"))
		return
	}
	job, err := a.queue.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
