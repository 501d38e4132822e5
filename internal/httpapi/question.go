package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/pipeline"
	"github.com/inkwell-ai/inkwell/internal/streaming"
)

type questionRequest struct {
	Question string `json:"question"`
}

// POST /api/rag/sessions/{id}/question
//
// Answers over SSE when the client sends Accept: text/event-stream,
// otherwise as a single JSON document with the same fields as the final
// stream event.
func (a *API) handleQuestion(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.writeError(w, fault.Invalid("session id must be a uuid"))
		return
	}
	var req questionRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		ans, err := a.orchestrator.Ask(r.Context(), sessionID, req.Question, "json", nil)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ans)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, fault.New(fault.KindFatal, "streaming not supported by transport"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := func(ev streaming.Event) error {
		if err := writeSSE(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	// Stream errors already went to the client as an error event.
	_, _ = a.orchestrator.Ask(r.Context(), sessionID, req.Question, "sse", sink)
}

// GET /api/rag/sessions/{id}/question/ws?question=...
//
// WebSocket twin of the SSE endpoint: the same event objects, one JSON
// message per event.
func (a *API) handleQuestionWS(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.writeError(w, fault.Invalid("session id must be a uuid"))
		return
	}
	question := r.URL.Query().Get("question")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sink := func(ev streaming.Event) error {
		return conn.WriteJSON(wireEvent(ev))
	}
	if _, err := a.orchestrator.Ask(r.Context(), sessionID, question, "ws", sink); err != nil {
		// Pre-stream failures (bad session, empty question) never produced
		// events; surface them as a terminal error message.
		_ = conn.WriteJSON(map[string]interface{}{"type": streaming.EventError, "message": err.Error()})
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// GET /api/rag/runs/{id}/events
//
// Replays a run's buffered events and follows the live stream. Honors
// Last-Event-ID (or ?last_event_id=) for reconnects.
func (a *API) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := uuid.Parse(runID); err != nil {
		a.writeError(w, fault.Invalid("run id must be a uuid"))
		return
	}

	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, fault.New(fault.KindFatal, "streaming not supported by transport"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := a.streams.Subscribe(runID)
	defer a.streams.Unsubscribe(runID, ch)

	fmt.Fprintf(w, ": connected to run %s\n\n", runID)

	var seen uint64
	ended := false
	for _, ev := range a.streams.ReplaySince(runID, lastID) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		seen = ev.Seq
		ended = ev.Type == streaming.EventEnd
	}
	flusher.Flush()
	if ended {
		return
	}

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Seq <= seen {
				continue
			}
			seen = ev.Seq
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Type == streaming.EventEnd {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

type searchRequest struct {
	SourceType string                 `json:"source_type"`
	SourceID   string                 `json:"source_id"`
	Query      string                 `json:"query"`
	Context    string                 `json:"context,omitempty"`
	Overrides  map[string]interface{} `json:"overrides,omitempty"`
}

// POST /api/rag/search runs one pipeline search without a session.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	resp, err := a.pipe.Search(r.Context(), pipeline.Request{
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Query:      req.Query,
		Context:    req.Context,
		Overrides:  req.Overrides,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// wireEvent projects an event onto the documented wire grammar.
func wireEvent(ev streaming.Event) map[string]interface{} {
	out := map[string]interface{}{"type": ev.Type}
	switch ev.Type {
	case streaming.EventDelta:
		out["content"] = ev.Content
	case streaming.EventError:
		out["message"] = ev.Content
	case streaming.EventFinal:
		for k, v := range ev.Payload {
			out[k] = v
		}
	}
	return out
}

func writeSSE(w http.ResponseWriter, ev streaming.Event) error {
	data, err := json.Marshal(wireEvent(ev))
	if err != nil {
		return err
	}
	if ev.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
