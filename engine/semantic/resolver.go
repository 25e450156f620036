package semantic

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/lock"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/logger"
)

const (
	collectionPrefix  = "jobs_"
	maxCollectionName = 63
	minCollectionName = 3
)

// CollectionName maps a category label to its collection name. Letters and
// digits are kept in lower case, every other run of characters becomes a
// single underscore and the result carries the jobs_ prefix.
//
//	"Bisnis dan Manajemen" -> "jobs_bisnis_dan_manajemen"
func CollectionName(label string) string {
	var b strings.Builder
	b.WriteString(collectionPrefix)
	sep := false
	for _, r := range strings.ToLower(label) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && b.Len() > len(collectionPrefix) {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}

	name := b.String()
	if len(name) > maxCollectionName {
		name = name[:maxCollectionName]
	}
	name = strings.TrimRight(name, "_")
	for len(name) < minCollectionName {
		name += "_"
	}
	return name
}

// Collection is a resolved, existing similarity collection.
type Collection struct {
	Name     string
	Category domain.Category
}

type collectionStore interface {
	EnsureCollection(ctx context.Context, name string, size uint64) (bool, error)
}

// Resolver maps categories to collections, creating each on first use.
// Handles are cached; concurrent first calls for one category create it once.
type Resolver struct {
	store  collectionStore
	size   uint64
	log    *zap.Logger
	locks  *lock.KeyedMutex
	mu     sync.RWMutex
	cached map[string]Collection
}

// NewResolver creates a Resolver for vectors of the given size.
func NewResolver(store collectionStore, size uint64, log *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		size:   size,
		log:    logger.OrNop(log),
		locks:  lock.NewKeyedMutex(),
		cached: make(map[string]Collection),
	}
}

// Resolve returns the collection for category c. Unroutable categories fail
// with domain.ErrUnroutableCategory.
func (r *Resolver) Resolve(ctx context.Context, c domain.Category) (Collection, error) {
	if !c.Routable() {
		return Collection{}, fmt.Errorf("semantic: resolve %q: %w", c, domain.ErrUnroutableCategory)
	}
	name := CollectionName(c.String())

	if coll, ok := r.lookup(name); ok {
		return coll, nil
	}

	unlock, err := r.locks.LockContext(ctx, name)
	if err != nil {
		return Collection{}, err
	}
	defer unlock()

	if coll, ok := r.lookup(name); ok {
		return coll, nil
	}

	created, err := r.store.EnsureCollection(ctx, name, r.size)
	if err != nil {
		return Collection{}, err
	}
	if created {
		r.log.Info("collection created",
			zap.String(logger.FieldCollection, name),
			zap.Stringer(logger.FieldCategory, c))
	}

	coll := Collection{Name: name, Category: c}
	r.mu.Lock()
	r.cached[name] = coll
	r.mu.Unlock()
	return coll, nil
}

func (r *Resolver) lookup(name string) (Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	coll, ok := r.cached[name]
	return coll, ok
}
