package retrieval

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Embeddings is the embedding capability the retrieval layer needs
// from the model runtime. The ollama client satisfies it.
type Embeddings interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Embedder generates text embeddings through a backend, with an LRU
// cache keyed by text and a rate limit on upstream calls. Cache hits
// bypass the limiter.
type Embedder struct {
	backend Embeddings
	model   string
	cache   *lru.Cache[string, []float32]
	limiter *rate.Limiter
}

// NewEmbedder creates an Embedder using the given backend and model
// name. cacheSize bounds the number of cached embeddings and rps caps
// upstream calls per second; zero or negative values disable the
// respective mechanism.
func NewEmbedder(backend Embeddings, model string, cacheSize int, rps float64) *Embedder {
	e := &Embedder{backend: backend, model: model}
	if cacheSize > 0 {
		e.cache, _ = lru.New[string, []float32](cacheSize)
	}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return e
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the backend.

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Embedder) embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if vec, ok := e.cache.Get(text); ok {
			return vec, nil
		}
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	vec, err := e.backend.Embed(ctx, e.model, text)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Add(text, vec)
	}
	return vec, nil
}
