package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/metrics"
	"github.com/inkwell-ai/inkwell/internal/tracing"
)

// Provider generates embeddings for a batch of texts. Implementations must
// return exactly one vector per input text, in order.
type Provider interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// HTTPProvider talks to the embedding sidecar over its /embeddings endpoint.
// A token-bucket limiter bounds submission rate across all callers.
type HTTPProvider struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider builds a provider. ratePerSecond <= 0 disables limiting.
func NewHTTPProvider(baseURL string, timeout time.Duration, ratePerSecond float64, burst int) *HTTPProvider {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return &HTTPProvider{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed submits one batch. Provider responses that violate the protocol
// (count mismatch, empty vectors) surface as ProviderProtocol faults;
// transport failures and 5xx responses surface as Transient.
func (p *HTTPProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	url := fmt.Sprintf("%s/embeddings/", p.baseURL)

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	buf, _ := json.Marshal(embedRequest{Texts: texts, Model: model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := p.http.Do(req)
	if err != nil {
		metrics.RecordEmbedding(model, "error", time.Since(start).Seconds())
		return nil, fault.Wrap(fault.KindTransient, err, "embedding provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordEmbedding(model, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := fault.KindProviderProtocol
		if resp.StatusCode >= 500 {
			kind = fault.KindTransient
		}
		return nil, fault.New(kind, "embedding provider returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.RecordEmbedding(model, "error", time.Since(start).Seconds())
		return nil, fault.Wrap(fault.KindProviderProtocol, err, "malformed embedding response")
	}
	if len(er.Embeddings) != len(texts) {
		metrics.RecordEmbedding(model, "error", time.Since(start).Seconds())
		return nil, fault.New(fault.KindProviderProtocol,
			"embedding provider returned %d vectors for %d texts", len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, emb := range er.Embeddings {
		if len(emb) == 0 {
			metrics.RecordEmbedding(model, "error", time.Since(start).Seconds())
			return nil, fault.New(fault.KindProviderProtocol, "empty vector at index %d", i)
		}
		v := make([]float32, len(emb))
		for j, f := range emb {
			v[j] = float32(f)
		}
		out[i] = v
	}
	metrics.RecordEmbedding(model, "ok", time.Since(start).Seconds())
	return out, nil
}
