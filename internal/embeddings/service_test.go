package embeddings

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
)

type fakeProvider struct {
	dims    int
	calls   int
	batches [][]string
}

func (f *fakeProvider) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	f.calls++
	f.batches = append(f.batches, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dims)
		v[0] = float32(i + 1)
		out[i] = v
	}
	return out, nil
}

type fakePDFStore struct {
	chunks   []db.PDFChunk
	info     db.EmbeddingSetInfo
	replaced map[string]db.Vector
	version  string
}

func (f *fakePDFStore) ListPDFChunks(context.Context, uuid.UUID) ([]db.PDFChunk, error) {
	return f.chunks, nil
}

func (f *fakePDFStore) PDFEmbeddingSetInfo(context.Context, uuid.UUID, string) (*db.EmbeddingSetInfo, error) {
	info := f.info
	return &info, nil
}

func (f *fakePDFStore) ReplacePDFEmbeddingSet(_ context.Context, _ uuid.UUID, _, version string, _ int, vectors map[string]db.Vector) error {
	f.replaced = vectors
	f.version = version
	return nil
}

type fakeChunkStore struct {
	chunks  []db.UnifiedChunk
	total   int
	updated map[string]db.Vector
}

func (f *fakeChunkStore) UnifiedChunksForEmbedding(context.Context, string, string, bool) ([]db.UnifiedChunk, error) {
	return f.chunks, nil
}

func (f *fakeChunkStore) UpdateUnifiedEmbedding(_ context.Context, _, _, chunkID string, vec db.Vector) error {
	if f.updated == nil {
		f.updated = map[string]db.Vector{}
	}
	f.updated[chunkID] = vec
	return nil
}

func (f *fakeChunkStore) CountUnifiedChunks(context.Context, string, string) (int, int, error) {
	total := f.total
	if total == 0 {
		total = len(f.chunks)
	}
	return total, total - len(f.chunks), nil
}

func newTestService(provider Provider, pdfs pdfStore, chunks chunkStore) *Service {
	reg := NewRegistry([]ModelSpec{
		{Name: "test-model", DefaultVersion: "2", Dimensions: 4, MaxBatchSize: 8, DefaultBatchSize: 2},
	})
	return NewService(Config{DefaultModel: "test-model", MaxLRU: 16}, provider, reg, pdfs, chunks, nil, zap.NewNop())
}

func pdfChunks(n int) []db.PDFChunk {
	out := make([]db.PDFChunk, n)
	for i := range out {
		out[i] = db.PDFChunk{ChunkID: uuid.New().String(), ChunkIndex: i, Text: "text"}
	}
	return out
}

func TestEmbedPDFSkipsCompleteSet(t *testing.T) {
	chunks := pdfChunks(3)
	store := &fakePDFStore{
		chunks: chunks,
		info:   db.EmbeddingSetInfo{Count: 3, Versions: []string{"2"}},
	}
	provider := &fakeProvider{dims: 4}
	svc := newTestService(provider, store, nil)

	rep, err := svc.EmbedPDF(context.Background(), uuid.New(), "test-model", false, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Skipped)
	assert.Equal(t, 0, rep.Embedded)
	assert.Equal(t, 0, provider.calls)
	assert.Nil(t, store.replaced)
}

func TestEmbedPDFRebuildsStaleVersion(t *testing.T) {
	chunks := pdfChunks(3)
	store := &fakePDFStore{
		chunks: chunks,
		info:   db.EmbeddingSetInfo{Count: 3, Versions: []string{"1"}},
	}
	provider := &fakeProvider{dims: 4}
	svc := newTestService(provider, store, nil)

	rep, err := svc.EmbedPDF(context.Background(), uuid.New(), "test-model", false, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Skipped)
	assert.Equal(t, 3, rep.Embedded)
	assert.Equal(t, "2", store.version)
	assert.Len(t, store.replaced, 3)
}

func TestEmbedPDFForceIgnoresCompleteSet(t *testing.T) {
	chunks := pdfChunks(2)
	store := &fakePDFStore{
		chunks: chunks,
		info:   db.EmbeddingSetInfo{Count: 2, Versions: []string{"2"}},
	}
	provider := &fakeProvider{dims: 4}
	svc := newTestService(provider, store, nil)

	rep, err := svc.EmbedPDF(context.Background(), uuid.New(), "", true, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Skipped)
	assert.Len(t, store.replaced, 2)
}

func TestEmbedPDFRespectsBatchSize(t *testing.T) {
	store := &fakePDFStore{chunks: pdfChunks(5)}
	provider := &fakeProvider{dims: 4}
	svc := newTestService(provider, store, nil)

	var progress []float64
	_, err := svc.EmbedPDF(context.Background(), uuid.New(), "test-model", true, 0, func(p float64) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	// Default batch size 2 over 5 chunks: batches of 2, 2, 1.
	assert.Equal(t, 3, provider.calls)
	require.NotEmpty(t, progress)
	assert.Equal(t, 1.0, progress[len(progress)-1])
}

func TestEmbedPDFUnknownModel(t *testing.T) {
	svc := newTestService(&fakeProvider{dims: 4}, &fakePDFStore{}, nil)

	_, err := svc.EmbedPDF(context.Background(), uuid.New(), "no-such-model", false, 0, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))
}

type wrongDimsProvider struct{}

func (wrongDimsProvider) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 2}
	}
	return out, nil
}

func TestEmbedPDFRejectsDimensionMismatch(t *testing.T) {
	store := &fakePDFStore{chunks: pdfChunks(1)}
	svc := newTestService(wrongDimsProvider{}, store, nil)

	_, err := svc.EmbedPDF(context.Background(), uuid.New(), "test-model", true, 0, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindProviderProtocol, fault.KindOf(err))
	assert.Nil(t, store.replaced)
}

func TestEmbedUnifiedChunksWritesEach(t *testing.T) {
	store := &fakeChunkStore{chunks: []db.UnifiedChunk{
		{ChunkID: "t:A"}, {ChunkID: "t:B"}, {ChunkID: "t:C"},
	}}
	svc := newTestService(&fakeProvider{dims: 4}, nil, store)

	rep, err := svc.EmbedUnifiedChunks(context.Background(), "ontology_disease", "mondo", "test-model", false, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Embedded)
	assert.Len(t, store.updated, 3)
}

func TestEmbedUnifiedChunksEmptyScopeSkips(t *testing.T) {
	svc := newTestService(&fakeProvider{dims: 4}, nil, &fakeChunkStore{total: 4})

	rep, err := svc.EmbedUnifiedChunks(context.Background(), "ontology_disease", "mondo", "test-model", false, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Skipped)
	assert.Equal(t, 4, rep.Total)
	assert.Equal(t, 0, rep.Embedded)
}

func TestEmbedRejectsNegativeBatchSize(t *testing.T) {
	svc := newTestService(&fakeProvider{dims: 4}, &fakePDFStore{}, &fakeChunkStore{})

	_, err := svc.EmbedPDF(context.Background(), uuid.New(), "test-model", true, -1, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))

	_, err = svc.EmbedUnifiedChunks(context.Background(), "ontology_disease", "mondo", "test-model", true, -8, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))
}

func TestEmbedPDFCapsBatchAtModelMax(t *testing.T) {
	store := &fakePDFStore{chunks: pdfChunks(10)}
	provider := &fakeProvider{dims: 4}
	svc := newTestService(provider, store, nil)

	// Requested 100 against MaxBatchSize 8: 10 chunks land in 2 calls.
	_, err := svc.EmbedPDF(context.Background(), uuid.New(), "test-model", true, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestEmbedQueryCaches(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	svc := newTestService(provider, nil, nil)

	v1, err := svc.EmbedQuery(context.Background(), "what is cancer", "")
	require.NoError(t, err)
	v2, err := svc.EmbedQuery(context.Background(), "what is cancer", "")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, provider.calls)
}

func TestMakeKeyVersionSensitive(t *testing.T) {
	a := MakeKey("m", "1", "text")
	b := MakeKey("m", "2", "text")
	assert.NotEqual(t, a, b)
}
