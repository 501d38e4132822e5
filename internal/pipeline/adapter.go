// Package pipeline ties retrieval together: source adapters resolve scope
// identity and readiness, the unified pipeline runs hybrid search, context
// boosting, and reranking under resolved options.
package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/search"
)

// Adapter exposes one source family to the pipeline.
type Adapter interface {
	// SourceType is the registration key, e.g. "pdf" or "ontology_disease".
	SourceType() string
	// Ingest triggers (re)ingestion for one scope and returns the resulting
	// status row.
	Ingest(ctx context.Context, sourceID string) (*db.IngestionStatus, error)
	// IndexStatus reports the scope's current state without side effects.
	IndexStatus(ctx context.Context, sourceID string) (*db.IngestionStatus, error)
	// Backend opens the searchable view of one scope.
	Backend(ctx context.Context, sourceID, metric string) (search.Backend, error)
	// FormatCitation renders chunk metadata into a citation payload.
	FormatCitation(meta db.JSONB) db.JSONB
}

// The adapter registry is append-only at startup; lookups after that are
// lock-free reads in practice but keep the mutex for safety.
var (
	adapterMu sync.RWMutex
	adapters  = make(map[string]Adapter)
)

// RegisterAdapter installs an adapter under its source type. Registering the
// same type twice panics: that is a wiring bug, not a runtime condition.
func RegisterAdapter(a Adapter) {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	st := a.SourceType()
	if _, dup := adapters[st]; dup {
		panic("duplicate adapter registration: " + st)
	}
	adapters[st] = a
}

// AdapterFor resolves a source type.
func AdapterFor(sourceType string) (Adapter, error) {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	a, ok := adapters[sourceType]
	if !ok {
		return nil, fault.New(fault.KindInvalidArgument, "unknown source type %q", sourceType)
	}
	return a, nil
}

// AdapterTypes lists registered source types in stable order.
func AdapterTypes() []string {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	out := make([]string, 0, len(adapters))
	for st := range adapters {
		out = append(out, st)
	}
	sort.Strings(out)
	return out
}

// resetAdapters clears the registry; tests only.
func resetAdapters() {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	adapters = make(map[string]Adapter)
}
