package semantic

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/lock"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/logger"
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type pointStore interface {
	Exists(ctx context.Context, name string, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, name string, id uuid.UUID) error
	Upsert(ctx context.Context, name string, p Point) error
}

// Indexer keeps exactly one point per posting id in a collection.
type Indexer struct {
	store pointStore
	embed Embedder
	locks *lock.KeyedMutex
	log   *zap.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(store pointStore, embed Embedder, log *zap.Logger) *Indexer {
	return &Indexer{
		store: store,
		embed: embed,
		locks: lock.NewKeyedMutex(),
		log:   logger.OrNop(log),
	}
}

// Upsert replaces the indexed form of p in coll: any existing entry for the
// posting id is deleted and a fresh one inserted. Calls for the same
// (collection, id) are serialized. Failures are *domain.IndexError.
func (ix *Indexer) Upsert(ctx context.Context, coll Collection, p domain.Posting) error {
	fail := func(op string, err error) error {
		return &domain.IndexError{Collection: coll.Name, PostingID: p.ID, Op: op, Err: err}
	}

	doc := Document(p)
	vec, err := ix.embed.Embed(ctx, doc)
	if err != nil {
		return fail("embed", err)
	}

	unlock, err := ix.locks.LockContext(ctx, coll.Name+"/"+p.ID.String())
	if err != nil {
		return fail("lock", err)
	}
	defer unlock()

	exists, err := ix.store.Exists(ctx, coll.Name, p.ID)
	if err != nil {
		return fail("get", err)
	}
	if exists {
		if err := ix.store.Delete(ctx, coll.Name, p.ID); err != nil {
			return fail("delete", err)
		}
	}
	if err := ix.store.Upsert(ctx, coll.Name, Point{
		ID:       p.ID,
		Vector:   vec,
		Document: doc,
		Metadata: MetadataOf(p),
	}); err != nil {
		return fail("insert", err)
	}

	ix.log.Debug("posting indexed",
		zap.String(logger.FieldCollection, coll.Name),
		zap.Stringer(logger.FieldPostingID, p.ID),
		zap.Bool("replaced", exists))
	return nil
}
