package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Retrieval metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"source_type", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkwell_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source_type"},
	)

	LexicalSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_lexical_search_total",
			Help: "Total number of lexical full-text searches",
		},
		[]string{"source_type", "status"},
	)

	HybridSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_hybrid_search_total",
			Help: "Total number of hybrid searches",
		},
		[]string{"source_type", "status"},
	)

	HybridCandidateOverlap = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkwell_hybrid_candidate_overlap",
			Help:    "Number of chunk ids returned by both vector and lexical sides",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	// Rerank metrics
	RerankRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_rerank_requests_total",
			Help: "Total number of cross-encoder rerank requests",
		},
		[]string{"status"},
	)

	RerankLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkwell_rerank_latency_seconds",
			Help:    "Cross-encoder rerank latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkwell_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	EmbeddingsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_embeddings_written_total",
			Help: "Total number of embedding rows written",
		},
		[]string{"source_type", "model"},
	)

	// Ingestion metrics
	IngestionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_ingestions_started_total",
			Help: "Total number of ingestion runs started",
		},
		[]string{"source_type"},
	)

	IngestionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_ingestions_completed_total",
			Help: "Total number of ingestion runs completed",
		},
		[]string{"source_type", "status"},
	)

	IngestionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkwell_ingestion_duration_seconds",
			Help:    "Ingestion run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"source_type"},
	)

	ChunksIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_chunks_ingested_total",
			Help: "Total number of chunks written by ingestion workers",
		},
		[]string{"source_type"},
	)

	// Job queue metrics
	JobsClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_jobs_claimed_total",
			Help: "Total number of embedding jobs claimed by workers",
		},
		[]string{"worker_id"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_jobs_completed_total",
			Help: "Total number of embedding jobs finished",
		},
		[]string{"status"},
	)

	JobQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkwell_job_queue_depth",
			Help: "Number of pending embedding jobs",
		},
	)

	// Question answering metrics
	QuestionsAsked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_questions_total",
			Help: "Total number of questions asked",
		},
		[]string{"transport", "status"},
	)

	QuestionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkwell_question_latency_seconds",
			Help:    "End-to-end question latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkwell_streams_active",
			Help: "Number of active answer streams",
		},
	)

	DeltasStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkwell_stream_deltas_total",
			Help: "Total number of delta events streamed to clients",
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkwell_sessions_created_total",
			Help: "Total number of chat sessions created",
		},
	)

	// Cache metrics
	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_embedding_cache_hits_total",
			Help: "Total number of embedding cache hits",
		},
		[]string{"tier"},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkwell_embedding_cache_misses_total",
			Help: "Total number of embedding cache misses",
		},
	)
)

// RecordVectorSearch records one vector search outcome.
func RecordVectorSearch(sourceType, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(sourceType, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(sourceType).Observe(durationSeconds)
	}
}

// RecordEmbedding records one embedding provider call outcome.
func RecordEmbedding(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordIngestion records one ingestion run outcome.
func RecordIngestion(sourceType, status string, durationSeconds float64) {
	IngestionsCompleted.WithLabelValues(sourceType, status).Inc()
	if durationSeconds > 0 {
		IngestionDuration.WithLabelValues(sourceType).Observe(durationSeconds)
	}
}

// RecordQuestion records one answered (or failed) question.
func RecordQuestion(transport, status string, durationSeconds float64) {
	QuestionsAsked.WithLabelValues(transport, status).Inc()
	if durationSeconds > 0 {
		QuestionLatency.Observe(durationSeconds)
	}
}
