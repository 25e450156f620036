package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
)

// DefaultTopK is the number of postings retrieved per matching run.
const DefaultTopK = 30

type searchStore interface {
	Search(ctx context.Context, name string, vector []float32, k int) ([]Hit, error)
	Count(ctx context.Context, name string) (uint64, error)
}

// Retriever finds the postings nearest to a profile text. It never writes.
type Retriever struct {
	store searchStore
	embed Embedder
	topK  int
}

// NewRetriever creates a Retriever; topK <= 0 means DefaultTopK.
func NewRetriever(store searchStore, embed Embedder, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{store: store, embed: embed, topK: topK}
}

// Query returns up to k hits from coll ordered nearest first. k <= 0 uses the
// configured default. An empty collection yields an empty slice.
func (r *Retriever) Query(ctx context.Context, coll Collection, profileText string, k int) ([]Hit, error) {
	if k <= 0 {
		k = r.topK
	}
	if strings.TrimSpace(profileText) == "" {
		return nil, fmt.Errorf("semantic: query %s: %w", coll.Name, domain.ErrEmptyContent)
	}

	vec, err := r.embed.Embed(ctx, profileText)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}
	hits, err := r.store.Search(ctx, coll.Name, vec, k)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []Hit{}
	}
	return hits, nil
}

// Count returns the number of postings indexed in coll.
func (r *Retriever) Count(ctx context.Context, coll Collection) (uint64, error) {
	return r.store.Count(ctx, coll.Name)
}
