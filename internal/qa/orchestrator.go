// Package qa turns a session question into a streamed, cited answer.
// The orchestrator runs a non-streaming prepare phase (history, pipeline
// searches, specialist routing, prompt assembly), then streams the LLM
// and persists the run plus messages whatever the outcome.
package qa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/metrics"
	"github.com/inkwell-ai/inkwell/internal/pipeline"
	"github.com/inkwell-ai/inkwell/internal/streaming"
)

// Searcher is the slice of the unified pipeline the orchestrator calls.
type Searcher interface {
	Search(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// Store is the persistence surface for sessions, messages and runs.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (*db.ChatSession, error)
	GetPDFDocument(ctx context.Context, id uuid.UUID) (*db.PDFDocument, error)
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]db.Message, error)
	AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs []db.Message) error
	CreateRun(ctx context.Context, sessionID uuid.UUID, workflowName, question string) (*db.Run, error)
	CompleteRun(ctx context.Context, runID uuid.UUID, status string, snapshot db.JSONB, specialists []string, latency time.Duration, errMsg *string) error
}

// WorkflowName recorded on every run row.
const WorkflowName = "rag_answer"

// Answer is the terminal result of a question, streamed or not.
type Answer struct {
	RunID              uuid.UUID  `json:"run_id"`
	Answer             string     `json:"answer"`
	Citations          []db.JSONB `json:"citations"`
	Metadata           db.JSONB   `json:"metadata"`
	SpecialistResults  db.JSONB   `json:"specialist_results"`
	SpecialistsInvoked []string   `json:"specialists_invoked"`
	LatencyMs          int64      `json:"latency_ms"`
}

// prepared is the output of the non-streaming phase.
type prepared struct {
	prompt             string
	retrievedContext   string
	citations          []db.JSONB
	retrievalStats     db.JSONB
	specialistResults  db.JSONB
	specialistsInvoked []string
	history            []Turn
	deps               db.JSONB
}

// Orchestrator answers questions for chat sessions.
type Orchestrator struct {
	store         Store
	pipe          Searcher
	llm           ChatClient
	specialists   *SpecialistSet
	streams       *streaming.Manager
	historyWindow int
	logger        *zap.Logger
}

func NewOrchestrator(store Store, pipe Searcher, llm ChatClient, specialists *SpecialistSet, streams *streaming.Manager, historyWindow int, logger *zap.Logger) *Orchestrator {
	if specialists == nil {
		specialists = NewSpecialistSet()
	}
	if streams == nil {
		streams = streaming.Get()
	}
	if historyWindow <= 0 {
		historyWindow = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:         store,
		pipe:          pipe,
		llm:           llm,
		specialists:   specialists,
		streams:       streams,
		historyWindow: historyWindow,
		logger:        logger,
	}
}

// Ask answers one question. When sink is non-nil every stream event is
// delivered to it in protocol order (start, delta*, final?|error, end);
// events are also recorded in the stream manager for replay. The returned
// Answer is nil when the run failed before producing a final state.
func (o *Orchestrator) Ask(ctx context.Context, sessionID uuid.UUID, question, transport string, sink func(streaming.Event) error) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fault.Invalid("question must not be empty")
	}
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	run, err := o.store.CreateRun(ctx, sessionID, WorkflowName, question)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if sink != nil {
		metrics.StreamsActive.Inc()
		defer metrics.StreamsActive.Dec()
	}
	emit := o.emitter(run.ID, sink)
	logger := o.logger.With(
		zap.String("session_id", sessionID.String()),
		zap.String("run_id", run.ID.String()),
	)

	emit(streaming.Event{Type: streaming.EventStart})

	prep, err := o.prepare(ctx, session, question)
	if err != nil {
		o.failRun(ctx, run.ID, sessionID, question, start, transport, emit, err)
		logger.Error("Question preparation failed", zap.Error(err))
		return nil, err
	}

	var deltas int
	text, llmErr := o.llm.StreamAnswer(ctx, prep.prompt, question, prep.history, func(delta string) {
		deltas++
		metrics.DeltasStreamed.Inc()
		emit(streaming.Event{Type: streaming.EventDelta, Content: delta})
	})
	if llmErr != nil {
		o.failRun(ctx, run.ID, sessionID, question, start, transport, emit, llmErr)
		logger.Error("Answer stream failed", zap.Error(llmErr), zap.Int("deltas", deltas))
		return nil, llmErr
	}

	latency := time.Since(start)
	ans := &Answer{
		RunID:              run.ID,
		Answer:             text,
		Citations:          prep.citations,
		Metadata:           prep.retrievalStats,
		SpecialistResults:  prep.specialistResults,
		SpecialistsInvoked: prep.specialistsInvoked,
		LatencyMs:          latency.Milliseconds(),
	}
	emit(streaming.Event{Type: streaming.EventFinal, Payload: map[string]interface{}{
		"answer":              ans.Answer,
		"citations":           ans.Citations,
		"metadata":            ans.Metadata,
		"specialist_results":  ans.SpecialistResults,
		"specialists_invoked": ans.SpecialistsInvoked,
	}})
	emit(streaming.Event{Type: streaming.EventEnd})

	if err := o.persistSuccess(ctx, sessionID, question, ans, prep); err != nil {
		logger.Warn("Answer persistence failed", zap.Error(err))
	}
	snapshot := db.JSONB{
		"prepared_deps":   prep.deps,
		"retrieval_stats": prep.retrievalStats,
		"answer_chars":    len(text),
		"delta_events":    deltas,
	}
	if err := o.store.CompleteRun(ctx, run.ID, db.RunStatusCompleted, snapshot, prep.specialistsInvoked, latency, nil); err != nil {
		logger.Warn("Run completion lost", zap.Error(err))
	}
	metrics.RecordQuestion(transport, "ok", latency.Seconds())
	logger.Info("Question answered",
		zap.Int("deltas", deltas),
		zap.Int("citations", len(ans.Citations)),
		zap.Strings("specialists", prep.specialistsInvoked),
		zap.Duration("latency", latency),
	)
	return ans, nil
}

// emitter publishes to the replay buffer first, then to the live sink.
// A broken sink (client gone) stops live delivery but not recording.
func (o *Orchestrator) emitter(runID uuid.UUID, sink func(streaming.Event) error) func(streaming.Event) {
	dead := false
	return func(ev streaming.Event) {
		ev.RunID = runID.String()
		ev = o.streams.Publish(ev)
		if sink == nil || dead {
			return
		}
		if err := sink(ev); err != nil {
			dead = true
		}
	}
}

// failRun records the failure everywhere it must land: error and end
// events, the user message alone, and a FAILED run row.
func (o *Orchestrator) failRun(ctx context.Context, runID, sessionID uuid.UUID, question string, start time.Time, transport string, emit func(streaming.Event), cause error) {
	emit(streaming.Event{Type: streaming.EventError, Content: cause.Error()})
	emit(streaming.Event{Type: streaming.EventEnd})

	// Persistence runs on a fresh context; the request's may already be dead.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := o.store.AppendMessages(pctx, sessionID, []db.Message{
		{MessageType: db.MessageTypeUserQuestion, Content: question},
	}); err != nil {
		o.logger.Warn("User message persistence failed", zap.Error(err))
	}
	msg := cause.Error()
	latency := time.Since(start)
	snapshot := db.JSONB{"error": msg, "failed_at": time.Now().UTC().Format(time.RFC3339)}
	if err := o.store.CompleteRun(pctx, runID, db.RunStatusFailed, snapshot, nil, latency, &msg); err != nil {
		o.logger.Warn("Failed-run persistence failed", zap.Error(err))
	}
	metrics.RecordQuestion(transport, "error", latency.Seconds())
}

func (o *Orchestrator) persistSuccess(ctx context.Context, sessionID uuid.UUID, question string, ans *Answer, prep *prepared) error {
	citations := make([]interface{}, len(ans.Citations))
	for i, c := range ans.Citations {
		citations[i] = map[string]interface{}(c)
	}
	return o.store.AppendMessages(ctx, sessionID, []db.Message{
		{MessageType: db.MessageTypeUserQuestion, Content: question},
		{
			MessageType:    db.MessageTypeAIResponse,
			Content:        ans.Answer,
			Citations:      db.JSONB{"citations": citations},
			RetrievalStats: prep.retrievalStats,
		},
	})
}

// prepare runs retrieval and assembles the prompt. PDF retrieval failures
// abort the run; specialist failures degrade to an error entry in their
// result block.
func (o *Orchestrator) prepare(ctx context.Context, session *db.ChatSession, question string) (*prepared, error) {
	prep := &prepared{
		specialistResults: db.JSONB{},
		retrievalStats:    db.JSONB{},
		deps:              db.JSONB{},
	}

	msgs, err := o.store.ListMessages(ctx, session.ID, o.historyWindow)
	if err != nil {
		return nil, err
	}
	var historyText strings.Builder
	for _, m := range msgs {
		role := "user"
		if m.MessageType == db.MessageTypeAIResponse {
			role = "assistant"
		}
		prep.history = append(prep.history, Turn{Role: role, Content: m.Content})
		historyText.WriteString(m.Content)
		historyText.WriteString("\n")
	}

	var contextBlocks []string
	if session.PDFID != nil {
		doc, err := o.store.GetPDFDocument(ctx, *session.PDFID)
		if err != nil {
			return nil, err
		}
		resp, err := o.pipe.Search(ctx, pipeline.Request{
			SourceType: "pdf",
			SourceID:   session.PDFID.String(),
			Query:      question,
			Context:    historyText.String(),
		})
		if err != nil {
			return nil, err
		}
		if resp.Status != db.IndexStatusReady {
			return nil, fault.New(fault.KindDependencyMissing,
				"pdf %s index is %s, cannot answer yet", session.PDFID, resp.Status)
		}
		prep.retrievalStats = resp.Metadata
		prep.deps["pdf"] = db.JSONB{"id": session.PDFID.String(), "title": doc.Title}
		for i, ch := range resp.Chunks {
			contextBlocks = append(contextBlocks, fmt.Sprintf("[Source %d] %s", i+1, ch.Text))
			if ch.Citation != nil {
				prep.citations = append(prep.citations, ch.Citation)
			}
		}
	}

	for _, sp := range o.specialists.Route(question) {
		prep.specialistsInvoked = append(prep.specialistsInvoked, sp.Name)
		resp, err := o.pipe.Search(ctx, pipeline.Request{
			SourceType: sp.SourceType,
			SourceID:   sp.SourceID,
			Query:      question,
			Context:    historyText.String(),
			Overrides:  sp.Overrides,
		})
		if err != nil {
			o.logger.Warn("Specialist search failed",
				zap.String("specialist", sp.Name), zap.Error(err))
			prep.specialistResults[sp.Name] = db.JSONB{"error": err.Error()}
			continue
		}
		if resp.Status != db.IndexStatusReady {
			prep.specialistResults[sp.Name] = db.JSONB{"status": resp.Status}
			continue
		}
		findings := make([]string, 0, len(resp.Chunks))
		for _, ch := range resp.Chunks {
			findings = append(findings, ch.Text)
			if ch.Citation != nil {
				prep.citations = append(prep.citations, ch.Citation)
			}
		}
		prep.specialistResults[sp.Name] = db.JSONB{
			"findings": findings,
			"count":    len(findings),
			"metadata": resp.Metadata,
		}
		if len(findings) > 0 {
			contextBlocks = append(contextBlocks,
				fmt.Sprintf("### %s findings\n%s", sp.Name, strings.Join(findings, "\n")))
		}
	}

	prep.retrievedContext = strings.Join(contextBlocks, "\n\n")
	prep.prompt = buildPrompt(prep.retrievedContext)
	return prep, nil
}

func buildPrompt(retrievedContext string) string {
	var b strings.Builder
	b.WriteString("You are a scientific assistant answering questions about research papers. ")
	b.WriteString("Answer only from the context below and cite sources as [Source N]. ")
	b.WriteString("If the context does not contain the answer, say so.\n\n")
	if retrievedContext != "" {
		b.WriteString("Context:\n")
		b.WriteString(retrievedContext)
	} else {
		b.WriteString("Context: (no relevant passages were retrieved)")
	}
	return b.String()
}
