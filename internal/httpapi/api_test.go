package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/jobs"
	"github.com/inkwell-ai/inkwell/internal/qa"
	"github.com/inkwell-ai/inkwell/internal/streaming"
)

type memStore struct {
	session *db.ChatSession
}

func (m *memStore) GetSession(_ context.Context, id uuid.UUID) (*db.ChatSession, error) {
	if m.session == nil || m.session.ID != id {
		return nil, fault.NotFound("session %s not found", id)
	}
	return m.session, nil
}

func (m *memStore) GetPDFDocument(_ context.Context, id uuid.UUID) (*db.PDFDocument, error) {
	return nil, fault.NotFound("pdf %s not found", id)
}

func (m *memStore) ListMessages(context.Context, uuid.UUID, int) ([]db.Message, error) {
	return nil, nil
}

func (m *memStore) AppendMessages(context.Context, uuid.UUID, []db.Message) error { return nil }

func (m *memStore) CreateRun(_ context.Context, sessionID uuid.UUID, workflowName, question string) (*db.Run, error) {
	return &db.Run{ID: uuid.New(), SessionID: sessionID, WorkflowName: workflowName, Question: question}, nil
}

func (m *memStore) CompleteRun(context.Context, uuid.UUID, string, db.JSONB, []string, time.Duration, *string) error {
	return nil
}

type cannedLLM struct {
	deltas []string
	err    error
}

func (c *cannedLLM) StreamAnswer(_ context.Context, _, _ string, _ []qa.Turn, onDelta func(string)) (string, error) {
	var b strings.Builder
	for _, d := range c.deltas {
		b.WriteString(d)
		if onDelta != nil {
			onDelta(d)
		}
	}
	return b.String(), c.err
}

func newTestAPI(t *testing.T, llm qa.ChatClient, session *db.ChatSession) (*API, *streaming.Manager, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	client := db.NewClientFromDB(raw, zap.NewNop())

	streams := streaming.NewManager(64)
	orch := qa.NewOrchestrator(&memStore{session: session}, nil, llm, nil, streams, 10, zap.NewNop())
	queue := jobs.NewQueue(client, zap.NewNop())
	return New(client, orch, nil, queue, streams, "text-embedding-3-small", zap.NewNop()), streams, mock
}

func newMux(a *API) *http.ServeMux {
	mux := http.NewServeMux()
	a.Register(mux)
	return mux
}

func TestQuestionSSE(t *testing.T) {
	session := &db.ChatSession{ID: uuid.New()}
	api, _, _ := newTestAPI(t, &cannedLLM{deltas: []string{"hello ", "world"}}, session)
	mux := newMux(api)

	req := httptest.NewRequest(http.MethodPost,
		"/api/rag/sessions/"+session.ID.String()+"/question",
		strings.NewReader(`{"question":"hi"}`))
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))

	body := rec.Body.String()
	wantOrder := []string{
		`{"type":"start"}`,
		`{"content":"hello ","type":"delta"}`,
		`{"content":"world","type":"delta"}`,
		`"type":"final"`,
		`{"type":"end"}`,
	}
	pos := -1
	for _, want := range wantOrder {
		idx := strings.Index(body, want)
		require.GreaterOrEqual(t, idx, 0, "missing %q in body:\n%s", want, body)
		require.Greater(t, idx, pos, "out of order: %q", want)
		pos = idx
	}
	assert.Contains(t, body, "id: 1\n", "events carry sequence ids")
}

func TestQuestionSSEErrorEvent(t *testing.T) {
	session := &db.ChatSession{ID: uuid.New()}
	api, _, _ := newTestAPI(t, &cannedLLM{
		deltas: []string{"partial"},
		err:    fault.New(fault.KindTransient, "provider reset"),
	}, session)
	mux := newMux(api)

	req := httptest.NewRequest(http.MethodPost,
		"/api/rag/sessions/"+session.ID.String()+"/question",
		strings.NewReader(`{"question":"hi"}`))
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `"type":"error"`)
	assert.Contains(t, body, "provider reset")
	assert.NotContains(t, body, `"type":"final"`)
	assert.True(t, strings.Contains(body, `{"type":"end"}`), "end always sent")
}

func TestQuestionJSON(t *testing.T) {
	session := &db.ChatSession{ID: uuid.New()}
	api, _, _ := newTestAPI(t, &cannedLLM{deltas: []string{"the answer"}}, session)
	mux := newMux(api)

	req := httptest.NewRequest(http.MethodPost,
		"/api/rag/sessions/"+session.ID.String()+"/question",
		strings.NewReader(`{"question":"hi"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"answer":"the answer"`)
}

func TestQuestionUnknownSession(t *testing.T) {
	api, _, _ := newTestAPI(t, &cannedLLM{}, nil)
	mux := newMux(api)

	req := httptest.NewRequest(http.MethodPost,
		"/api/rag/sessions/"+uuid.NewString()+"/question",
		strings.NewReader(`{"question":"hi"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestQuestionBadSessionID(t *testing.T) {
	api, _, _ := newTestAPI(t, &cannedLLM{}, nil)
	mux := newMux(api)

	req := httptest.NewRequest(http.MethodPost,
		"/api/rag/sessions/not-a-uuid/question",
		strings.NewReader(`{"question":"hi"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunEventsReplayOfFinishedRun(t *testing.T) {
	api, streams, _ := newTestAPI(t, &cannedLLM{}, nil)
	mux := newMux(api)

	runID := uuid.NewString()
	streams.Publish(streaming.Event{RunID: runID, Type: streaming.EventStart})
	streams.Publish(streaming.Event{RunID: runID, Type: streaming.EventDelta, Content: "x"})
	streams.Publish(streaming.Event{RunID: runID, Type: streaming.EventEnd})

	req := httptest.NewRequest(http.MethodGet, "/api/rag/runs/"+runID+"/events", nil)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.NotContains(t, body, `{"type":"start"}`, "events before Last-Event-ID are skipped")
	assert.Contains(t, body, `{"content":"x","type":"delta"}`)
	assert.Contains(t, body, `{"type":"end"}`)
}

func TestGetIngestionSynthesizesNotIndexed(t *testing.T) {
	api, _, mock := newTestAPI(t, &cannedLLM{}, nil)
	mux := newMux(api)

	mock.ExpectQuery("FROM ingestion_statuses").
		WithArgs("ontology_disease", "mondo").
		WillReturnRows(sqlmock.NewRows([]string{"source_type"}))

	req := httptest.NewRequest(http.MethodGet, "/api/ontology/ingestions/ontology_disease/mondo", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), db.IndexStatusNotIndexed)
}

func TestTriggerEmbeddingUnknownScope(t *testing.T) {
	api, _, mock := newTestAPI(t, &cannedLLM{}, nil)
	mux := newMux(api)

	mock.ExpectQuery("FROM ingestion_statuses").
		WithArgs("ontology_disease", "mondo").
		WillReturnRows(sqlmock.NewRows([]string{"source_type"}))

	req := httptest.NewRequest(http.MethodPost,
		"/api/ontology/ingestions/ontology_disease/mondo/embeddings", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "never been ingested")
}

func TestListJobs(t *testing.T) {
	api, _, mock := newTestAPI(t, &cannedLLM{}, nil)
	mux := newMux(api)

	now := time.Now()
	mock.ExpectQuery("FROM embedding_jobs").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source_type", "source_id", "model_name", "status", "priority",
			"retry_count", "worker_id", "progress", "force", "error_log",
			"created_at", "started_at", "finished_at", "next_run_at",
		}).AddRow(uuid.New(), "pdf", uuid.NewString(), "text-embedding-3-small",
			db.JobStatusPending, 0, 0, nil, 0.0, false, nil, now, nil, nil, now))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?limit=10", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestListJobsRejectsBadLimit(t *testing.T) {
	api, _, _ := newTestAPI(t, &cannedLLM{}, nil)
	mux := newMux(api)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?limit=zero", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
