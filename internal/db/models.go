package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// Vector represents a pgvector column. It serializes to the single-literal
// form "[x,y,...]" so query vectors travel as one bind parameter.
type Vector []float32

// Value implements the driver.Valuer interface
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return v.Literal(), nil
}

// Literal renders the pgvector text form.
func (v Vector) Literal() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Scan implements the sql.Scanner interface
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}
	var s string
	switch t := value.(type) {
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return fmt.Errorf("cannot scan %T into Vector", value)
	}
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return fmt.Errorf("malformed vector literal %q", s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(body, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("malformed vector element %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

// Ingestion status state machine values.
const (
	IndexStatusNotIndexed = "NOT_INDEXED"
	IndexStatusIndexing   = "INDEXING"
	IndexStatusReady      = "READY"
	IndexStatusError      = "ERROR"
)

// Message type values.
const (
	MessageTypeUserQuestion = "USER_QUESTION"
	MessageTypeAIResponse   = "AI_RESPONSE"
)

// Embedding job states.
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
)

// Run states.
const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// UnifiedChunk is the universal retrieval unit shared by all non-PDF sources.
// (source_type, source_id, chunk_id) is unique; the search_vector column is
// regenerated by trigger whenever chunk_text changes.
type UnifiedChunk struct {
	SourceType    string    `db:"source_type"`
	SourceID      string    `db:"source_id"`
	ChunkID       string    `db:"chunk_id"`
	ChunkText     string    `db:"chunk_text"`
	ChunkMetadata JSONB     `db:"chunk_metadata"`
	Embedding     Vector    `db:"embedding"`
	CreatedAt     time.Time `db:"created_at"`
}

// PDFDocument is one uploaded paper. EmbeddingModels records, per model key,
// the version and dimensions of the current embedding set.
type PDFDocument struct {
	ID              uuid.UUID `db:"id"`
	Filename        string    `db:"filename"`
	Title           string    `db:"title"`
	PageCount       int       `db:"page_count"`
	EmbeddingModels JSONB     `db:"embedding_models"`
	CreatedAt       time.Time `db:"created_at"`
}

// PDFChunk is one ordered chunk of a PDF document.
type PDFChunk struct {
	PDFID       uuid.UUID `db:"pdf_id"`
	ChunkID     string    `db:"chunk_id"`
	ChunkIndex  int       `db:"chunk_index"`
	Text        string    `db:"text"`
	PageStart   int       `db:"page_start"`
	PageEnd     int       `db:"page_end"`
	SectionPath string    `db:"section_path"`
	IsTable     bool      `db:"is_table"`
	IsFigure    bool      `db:"is_figure"`
	CreatedAt   time.Time `db:"created_at"`
}

// PDFEmbedding is one vector for one (pdf, chunk, model) triple. For each
// (pdf_id, model_name) the set is either complete at one version or empty.
type PDFEmbedding struct {
	PDFID        uuid.UUID `db:"pdf_id"`
	ChunkID      string    `db:"chunk_id"`
	ModelName    string    `db:"model_name"`
	ModelVersion string    `db:"model_version"`
	Dimensions   int       `db:"dimensions"`
	Embedding    Vector    `db:"embedding"`
	CreatedAt    time.Time `db:"created_at"`
}

// OntologyTerm is one structured ontology row.
type OntologyTerm struct {
	OntologyType string    `db:"ontology_type"`
	SourceID     string    `db:"source_id"`
	TermID       string    `db:"term_id"`
	Name         string    `db:"name"`
	Definition   string    `db:"definition"`
	Synonyms     []string  `db:"-"`
	Xrefs        []string  `db:"-"`
	TermMetadata JSONB     `db:"term_metadata"`
	CreatedAt    time.Time `db:"created_at"`
}

// OntologyTermRelation is one child -> parent edge.
type OntologyTermRelation struct {
	OntologyType string `db:"ontology_type"`
	SourceID     string `db:"source_id"`
	ChildTermID  string `db:"child_term_id"`
	ParentTermID string `db:"parent_term_id"`
	RelationType string `db:"relation_type"`
}

// IngestionStatus is the state machine row per (source_type, source_id).
// Message is always a serialized JSON object; readers tolerate missing keys.
type IngestionStatus struct {
	SourceType string    `db:"source_type"`
	SourceID   string    `db:"source_id"`
	State      string    `db:"state"`
	Message    JSONB     `db:"message"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// ChatSession binds a conversation to a PDF.
type ChatSession struct {
	ID            uuid.UUID  `db:"id"`
	PDFID         *uuid.UUID `db:"pdf_id"`
	Title         string     `db:"title"`
	TotalMessages int        `db:"total_messages"`
	CreatedAt     time.Time  `db:"created_at"`
	LastActivity  time.Time  `db:"last_activity"`
}

// Message is one append-only conversation entry.
type Message struct {
	ID             uuid.UUID `db:"id"`
	SessionID      uuid.UUID `db:"session_id"`
	MessageType    string    `db:"message_type"`
	Content        string    `db:"content"`
	Citations      JSONB     `db:"citations"`
	RetrievalStats JSONB     `db:"retrieval_stats"`
	CreatedAt      time.Time `db:"created_at"`
}

// Run captures one question's retrieval+generation execution.
type Run struct {
	ID                 uuid.UUID  `db:"id"`
	SessionID          uuid.UUID  `db:"session_id"`
	WorkflowName       string     `db:"workflow_name"`
	Question           string     `db:"question"`
	Status             string     `db:"status"`
	StateSnapshot      JSONB      `db:"state_snapshot"`
	SpecialistsInvoked []string   `db:"-"`
	LatencyMs          *int64     `db:"latency_ms"`
	ErrorMessage       *string    `db:"error_message"`
	RunMetadata        JSONB      `db:"run_metadata"`
	CreatedAt          time.Time  `db:"created_at"`
	CompletedAt        *time.Time `db:"completed_at"`
}

// EmbeddingJob is one queue record. Workers claim it with a compare-and-set
// on (status=PENDING -> RUNNING, worker_id=self).
type EmbeddingJob struct {
	ID         uuid.UUID  `db:"id"`
	SourceType string     `db:"source_type"`
	SourceID   string     `db:"source_id"`
	ModelName  string     `db:"model_name"`
	Status     string     `db:"status"`
	Priority   int        `db:"priority"`
	RetryCount int        `db:"retry_count"`
	WorkerID   *string    `db:"worker_id"`
	Progress   float64    `db:"progress"`
	Force      bool       `db:"force"`
	ErrorLog   *string    `db:"error_log"`
	CreatedAt  time.Time  `db:"created_at"`
	StartedAt  *time.Time `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	NextRunAt  time.Time  `db:"next_run_at"`
}

// JobSummary aggregates queue counts per status for the CLI and HTTP surface.
type JobSummary struct {
	Status string `db:"status"`
	Count  int    `db:"count"`
}
