package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/logger"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/repo"
)

// Reindexer indexes stored postings whose index write never completed.
type Reindexer struct {
	postings unindexedLister
	resolver resolver
	indexer  indexer
	batch    int
	log      *zap.Logger
}

// NewReindexer creates a Reindexer reading batch postings at a time.
func NewReindexer(postings unindexedLister, r resolver, idx indexer, batch int, log *zap.Logger) *Reindexer {
	return &Reindexer{postings: postings, resolver: r, indexer: idx, batch: batch, log: logger.OrNop(log)}
}

// Run indexes every unindexed posting of category c and returns how many
// were indexed and how many failed. Failed postings stay unindexed.
func (r *Reindexer) Run(ctx context.Context, c domain.Category) (indexed, failed int, err error) {
	coll, err := r.resolver.Resolve(ctx, c)
	if err != nil {
		return 0, 0, fmt.Errorf("reindex %s: %w", c, err)
	}
	opts := repo.ListOpts{Limit: r.batch}.Normalize()
	for {
		page, err := r.postings.ListUnindexed(ctx, c, opts)
		if err != nil {
			return indexed, failed, fmt.Errorf("reindex %s: list: %w", c, err)
		}
		for _, p := range page {
			if err := ctx.Err(); err != nil {
				return indexed, failed, err
			}
			if err := r.indexer.Upsert(ctx, coll, p); err != nil {
				failed++
				r.log.Warn("reindex failed", zap.String(logger.FieldPostingID, p.ID.String()), zap.Error(err))
				continue
			}
			if err := r.postings.MarkIndexed(ctx, p.ID); err != nil {
				failed++
				r.log.Warn("mark indexed failed", zap.String(logger.FieldPostingID, p.ID.String()), zap.Error(err))
				continue
			}
			indexed++
		}
		if len(page) < opts.Limit {
			break
		}
		// Indexed rows drop out of the listing; failed ones stay in front.
		opts.Offset = failed
	}
	r.log.Info("reindex done",
		zap.String(logger.FieldCategory, string(c)),
		zap.Int("indexed", indexed),
		zap.Int("failed", failed))
	return indexed, failed, nil
}
