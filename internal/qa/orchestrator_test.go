package qa

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/pipeline"
	"github.com/inkwell-ai/inkwell/internal/streaming"
)

type fakeStore struct {
	session  *db.ChatSession
	doc      *db.PDFDocument
	messages []db.Message

	appended  [][]db.Message
	runs      []*db.Run
	completed []struct {
		Status string
		ErrMsg *string
	}
}

func (f *fakeStore) GetSession(_ context.Context, id uuid.UUID) (*db.ChatSession, error) {
	if f.session == nil || f.session.ID != id {
		return nil, fault.NotFound("session %s not found", id)
	}
	return f.session, nil
}

func (f *fakeStore) GetPDFDocument(_ context.Context, id uuid.UUID) (*db.PDFDocument, error) {
	if f.doc == nil {
		return nil, fault.NotFound("pdf %s not found", id)
	}
	return f.doc, nil
}

func (f *fakeStore) ListMessages(context.Context, uuid.UUID, int) ([]db.Message, error) {
	return f.messages, nil
}

func (f *fakeStore) AppendMessages(_ context.Context, _ uuid.UUID, msgs []db.Message) error {
	f.appended = append(f.appended, msgs)
	return nil
}

func (f *fakeStore) CreateRun(_ context.Context, sessionID uuid.UUID, workflowName, question string) (*db.Run, error) {
	r := &db.Run{ID: uuid.New(), SessionID: sessionID, WorkflowName: workflowName, Question: question, Status: db.RunStatusRunning}
	f.runs = append(f.runs, r)
	return r, nil
}

func (f *fakeStore) CompleteRun(_ context.Context, _ uuid.UUID, status string, _ db.JSONB, _ []string, _ time.Duration, errMsg *string) error {
	f.completed = append(f.completed, struct {
		Status string
		ErrMsg *string
	}{status, errMsg})
	return nil
}

type fakeSearcher struct {
	responses map[string]*pipeline.Response
	errs      map[string]error
	requests  []pipeline.Request
}

func (f *fakeSearcher) Search(_ context.Context, req pipeline.Request) (*pipeline.Response, error) {
	f.requests = append(f.requests, req)
	if err := f.errs[req.SourceType]; err != nil {
		return nil, err
	}
	if resp := f.responses[req.SourceType]; resp != nil {
		return resp, nil
	}
	return &pipeline.Response{Status: db.IndexStatusReady, Metadata: db.JSONB{}}, nil
}

type fakeLLM struct {
	deltas []string
	err    error
	prompt string
}

func (f *fakeLLM) StreamAnswer(_ context.Context, systemPrompt, _ string, _ []Turn, onDelta func(string)) (string, error) {
	f.prompt = systemPrompt
	var buf strings.Builder
	for _, d := range f.deltas {
		buf.WriteString(d)
		if onDelta != nil {
			onDelta(d)
		}
	}
	return buf.String(), f.err
}

func readyResponse(chunks ...pipeline.Chunk) *pipeline.Response {
	return &pipeline.Response{
		Status:   db.IndexStatusReady,
		Chunks:   chunks,
		Metadata: db.JSONB{"final_count": len(chunks)},
	}
}

func collectEvents() (func(streaming.Event) error, *[]streaming.Event) {
	var events []streaming.Event
	return func(ev streaming.Event) error {
		events = append(events, ev)
		return nil
	}, &events
}

func newTestOrchestrator(store *fakeStore, pipe Searcher, llm ChatClient, specialists *SpecialistSet) *Orchestrator {
	return NewOrchestrator(store, pipe, llm, specialists, streaming.NewManager(64), 10, zap.NewNop())
}

func TestAskStreamsAndPersists(t *testing.T) {
	pdfID := uuid.New()
	store := &fakeStore{
		session: &db.ChatSession{ID: uuid.New(), PDFID: &pdfID},
		doc:     &db.PDFDocument{ID: pdfID, Title: "Melanoma Genomics"},
	}
	pipe := &fakeSearcher{responses: map[string]*pipeline.Response{
		"pdf": readyResponse(pipeline.Chunk{
			ChunkID:  "c0001",
			Text:     "BRAF V600E is the most common mutation.",
			Citation: db.JSONB{"type": "pdf", "label": "p. 3"},
		}),
	}}
	llm := &fakeLLM{deltas: []string{"BRAF ", "V600E."}}
	o := newTestOrchestrator(store, pipe, llm, nil)

	sink, events := collectEvents()
	ans, err := o.Ask(context.Background(), store.session.ID, "What mutation drives melanoma?", "sse", sink)
	require.NoError(t, err)
	require.NotNil(t, ans)
	assert.Equal(t, "BRAF V600E.", ans.Answer)
	require.Len(t, ans.Citations, 1)

	types := make([]string, len(*events))
	for i, ev := range *events {
		types[i] = ev.Type
	}
	assert.Equal(t, []string{"start", "delta", "delta", "final", "end"}, types)

	final := (*events)[3]
	assert.Equal(t, "BRAF V600E.", final.Payload["answer"])

	require.Len(t, store.appended, 1)
	require.Len(t, store.appended[0], 2)
	assert.Equal(t, db.MessageTypeUserQuestion, store.appended[0][0].MessageType)
	assert.Equal(t, db.MessageTypeAIResponse, store.appended[0][1].MessageType)
	assert.Equal(t, "BRAF V600E.", store.appended[0][1].Content)

	require.Len(t, store.completed, 1)
	assert.Equal(t, db.RunStatusCompleted, store.completed[0].Status)

	assert.Contains(t, llm.prompt, "[Source 1] BRAF V600E is the most common mutation.")
}

func TestAskStreamErrorLeavesNoAIMessage(t *testing.T) {
	store := &fakeStore{session: &db.ChatSession{ID: uuid.New()}}
	llm := &fakeLLM{
		deltas: []string{"partial ", "answer"},
		err:    fault.New(fault.KindTransient, "upstream reset"),
	}
	o := newTestOrchestrator(store, &fakeSearcher{}, llm, nil)

	sink, events := collectEvents()
	ans, err := o.Ask(context.Background(), store.session.ID, "q", "sse", sink)
	require.Error(t, err)
	assert.Nil(t, ans)

	types := make([]string, len(*events))
	for i, ev := range *events {
		types[i] = ev.Type
	}
	assert.Equal(t, []string{"start", "delta", "delta", "error", "end"}, types)

	require.Len(t, store.appended, 1)
	require.Len(t, store.appended[0], 1, "only the user question is persisted on failure")
	assert.Equal(t, db.MessageTypeUserQuestion, store.appended[0][0].MessageType)

	require.Len(t, store.completed, 1)
	assert.Equal(t, db.RunStatusFailed, store.completed[0].Status)
	require.NotNil(t, store.completed[0].ErrMsg)
	assert.Contains(t, *store.completed[0].ErrMsg, "upstream reset")
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	store := &fakeStore{session: &db.ChatSession{ID: uuid.New()}}
	o := newTestOrchestrator(store, &fakeSearcher{}, &fakeLLM{}, nil)

	_, err := o.Ask(context.Background(), store.session.ID, "  ", "json", nil)
	assert.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))
	assert.Empty(t, store.runs, "no run row for rejected input")
}

func TestAskUnknownSession(t *testing.T) {
	o := newTestOrchestrator(&fakeStore{}, &fakeSearcher{}, &fakeLLM{}, nil)
	_, err := o.Ask(context.Background(), uuid.New(), "q", "json", nil)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestAskFailsWhenPDFNotReady(t *testing.T) {
	pdfID := uuid.New()
	store := &fakeStore{
		session: &db.ChatSession{ID: uuid.New(), PDFID: &pdfID},
		doc:     &db.PDFDocument{ID: pdfID},
	}
	pipe := &fakeSearcher{responses: map[string]*pipeline.Response{
		"pdf": {Status: db.IndexStatusIndexing, Metadata: db.JSONB{}},
	}}
	o := newTestOrchestrator(store, pipe, &fakeLLM{}, nil)

	sink, events := collectEvents()
	_, err := o.Ask(context.Background(), store.session.ID, "q", "sse", sink)
	assert.Equal(t, fault.KindDependencyMissing, fault.KindOf(err))

	types := make([]string, len(*events))
	for i, ev := range *events {
		types[i] = ev.Type
	}
	assert.Equal(t, []string{"start", "error", "end"}, types)
	require.Len(t, store.completed, 1)
	assert.Equal(t, db.RunStatusFailed, store.completed[0].Status)
}

func TestAskRoutesSpecialists(t *testing.T) {
	store := &fakeStore{session: &db.ChatSession{ID: uuid.New()}}
	pipe := &fakeSearcher{responses: map[string]*pipeline.Response{
		"ontology_disease": readyResponse(pipeline.Chunk{
			ChunkID:  "MONDO:0005105",
			Text:     "melanoma. A malignant neoplasm of melanocytes.",
			Citation: db.JSONB{"type": "ontology_term"},
		}),
	}}
	specialists := NewSpecialistSet(Specialist{
		Name:       "disease",
		SourceType: "ontology_disease",
		SourceID:   "mondo",
		Keywords:   []string{"melanoma"},
	})
	llm := &fakeLLM{deltas: []string{"answer"}}
	o := newTestOrchestrator(store, pipe, llm, specialists)

	ans, err := o.Ask(context.Background(), store.session.ID, "Tell me about melanoma", "json", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"disease"}, ans.SpecialistsInvoked)

	result, ok := ans.SpecialistResults["disease"].(db.JSONB)
	require.True(t, ok)
	assert.Equal(t, 1, result["count"])
	assert.Contains(t, llm.prompt, "### disease findings")
}

func TestAskSpecialistFailureDegrades(t *testing.T) {
	store := &fakeStore{session: &db.ChatSession{ID: uuid.New()}}
	pipe := &fakeSearcher{errs: map[string]error{
		"ontology_disease": errors.New("index offline"),
	}}
	specialists := NewSpecialistSet(Specialist{
		Name:       "disease",
		SourceType: "ontology_disease",
		SourceID:   "mondo",
	})
	o := newTestOrchestrator(store, pipe, &fakeLLM{deltas: []string{"ok"}}, specialists)

	ans, err := o.Ask(context.Background(), store.session.ID, "q", "json", nil)
	require.NoError(t, err, "a broken specialist does not fail the run")
	result, ok := ans.SpecialistResults["disease"].(db.JSONB)
	require.True(t, ok)
	assert.Contains(t, result["error"], "index offline")
}

func TestAskBrokenSinkStillCompletes(t *testing.T) {
	store := &fakeStore{session: &db.ChatSession{ID: uuid.New()}}
	llm := &fakeLLM{deltas: []string{"a", "b", "c"}}
	streams := streaming.NewManager(64)
	o := NewOrchestrator(store, &fakeSearcher{}, llm, nil, streams, 10, zap.NewNop())

	calls := 0
	sink := func(streaming.Event) error {
		calls++
		if calls > 2 {
			return errors.New("client gone")
		}
		return nil
	}
	ans, err := o.Ask(context.Background(), store.session.ID, "q", "sse", sink)
	require.NoError(t, err)
	assert.Equal(t, "abc", ans.Answer)
	require.Len(t, store.completed, 1)
	assert.Equal(t, db.RunStatusCompleted, store.completed[0].Status)

	// Every event is still replayable for a reconnecting client.
	replay := streams.ReplaySince(ans.RunID.String(), 0)
	assert.Len(t, replay, 6)
	assert.Equal(t, streaming.EventEnd, replay[len(replay)-1].Type)
}

func TestAskHistoryBecomesTurns(t *testing.T) {
	store := &fakeStore{
		session: &db.ChatSession{ID: uuid.New()},
		messages: []db.Message{
			{MessageType: db.MessageTypeUserQuestion, Content: "earlier question"},
			{MessageType: db.MessageTypeAIResponse, Content: "earlier answer"},
		},
	}
	var seen []Turn
	llm := &turnCapturingLLM{}
	o := newTestOrchestrator(store, &fakeSearcher{}, llm, nil)

	_, err := o.Ask(context.Background(), store.session.ID, "follow-up", "json", nil)
	require.NoError(t, err)
	seen = llm.history
	require.Len(t, seen, 2)
	assert.Equal(t, Turn{Role: "user", Content: "earlier question"}, seen[0])
	assert.Equal(t, Turn{Role: "assistant", Content: "earlier answer"}, seen[1])
}

type turnCapturingLLM struct {
	history []Turn
}

func (f *turnCapturingLLM) StreamAnswer(_ context.Context, _, _ string, history []Turn, onDelta func(string)) (string, error) {
	f.history = history
	if onDelta != nil {
		onDelta("ok")
	}
	return "ok", nil
}
