package rank

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/engine/semantic"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/fn"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/logger"
)

// DefaultChunkSize is the number of postings sent to one scoring call.
const DefaultChunkSize = 10

// ScoreRequest is one scoring call: the whole profile plus one chunk of
// retrieved postings.
type ScoreRequest struct {
	Chunk    int
	Profile  domain.CandidateProfile
	Postings []semantic.Hit
	Rubric   Rubric
}

// Score is the scorer's verdict for one posting. BaseScore is the weighted
// rubric score before the age multiplier.
type Score struct {
	PostingID     uuid.UUID
	BaseScore     float64
	MatchedSkills []string
	Reason        string
}

// Scorer evaluates one chunk.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) ([]Score, error)
}

// Stats summarises one ranking pass.
type Stats struct {
	Chunks       int
	FailedChunks int
	Rejected     int
	Results      int
}

// Options configures a Ranker.
type Options struct {
	ChunkSize   int
	Concurrency int
	Rubric      Rubric
}

// Ranker scores retrieved postings chunk by chunk. A failed chunk is dropped
// and the rest of the run continues.
type Ranker struct {
	scorer Scorer
	opts   Options
	log    *zap.Logger
	now    func() time.Time
}

// NewRanker creates a Ranker. Zero options take their defaults.
func NewRanker(scorer Scorer, opts Options, log *zap.Logger) *Ranker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Rubric.Total() == 0 {
		opts.Rubric = DefaultRubric
	}
	return &Ranker{scorer: scorer, opts: opts, log: logger.OrNop(log), now: time.Now}
}

// Rank scores hits against profile. Results keep chunk order. When at least
// one chunk was submitted and every chunk failed, Rank returns
// domain.ErrAllChunksFailed so callers can keep the previous recommendations.
func (r *Ranker) Rank(ctx context.Context, profile domain.CandidateProfile, hits []semantic.Hit) ([]domain.MatchResult, Stats, error) {
	chunks := fn.Chunk(hits, r.opts.ChunkSize)
	stats := Stats{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return []domain.MatchResult{}, stats, nil
	}

	perChunk := make([][]domain.MatchResult, len(chunks))
	var (
		mu      sync.Mutex
		lastErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			scores, err := r.scorer.Score(gctx, ScoreRequest{
				Chunk:    i + 1,
				Profile:  profile,
				Postings: chunk,
				Rubric:   r.opts.Rubric,
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Warn("scoring chunk failed, skipping",
					zap.Int(logger.FieldChunk, i+1),
					zap.Int("size", len(chunk)),
					zap.Error(err))
				var se *domain.ScoringError
				if !errors.As(err, &se) {
					err = &domain.ScoringError{Chunk: i + 1, Err: err}
				}
				mu.Lock()
				stats.FailedChunks++
				lastErr = err
				mu.Unlock()
				return nil
			}

			results, rejected := r.finalize(i+1, chunk, scores)
			perChunk[i] = results
			mu.Lock()
			stats.Rejected += rejected
			mu.Unlock()
			r.log.Info("chunk scored",
				zap.Int(logger.FieldChunk, i+1),
				zap.Int("results", len(results)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	if stats.FailedChunks == stats.Chunks {
		return nil, stats, fmt.Errorf("rank: %d chunk(s): %w: %w", stats.Chunks, domain.ErrAllChunksFailed, lastErr)
	}

	out := make([]domain.MatchResult, 0, len(hits))
	for _, rs := range perChunk {
		out = append(out, rs...)
	}
	stats.Results = len(out)
	return out, stats, nil
}

// finalize validates scores against the chunk they were produced for and
// applies the age multiplier. Ids outside the chunk and repeated ids are
// rejected.
func (r *Ranker) finalize(chunk int, hits []semantic.Hit, scores []Score) ([]domain.MatchResult, int) {
	byID := make(map[uuid.UUID]semantic.Hit, len(hits))
	for _, h := range hits {
		byID[h.PostingID] = h
	}

	now := r.now()
	seen := make(map[uuid.UUID]bool, len(scores))
	results := make([]domain.MatchResult, 0, len(scores))
	rejected := 0
	for _, s := range scores {
		h, ok := byID[s.PostingID]
		if !ok || seen[s.PostingID] {
			rejected++
			r.log.Warn("scorer returned posting outside its chunk",
				zap.Int(logger.FieldChunk, chunk),
				zap.Stringer(logger.FieldPostingID, s.PostingID),
				zap.Bool("duplicate", ok))
			continue
		}
		seen[s.PostingID] = true

		base := domain.ClampScore(s.BaseScore)
		mult := MultiplierFor(h.Metadata.DatePosted, now)
		results = append(results, domain.MatchResult{
			PostingID:     s.PostingID,
			Score:         domain.ClampScore(base * mult),
			BaseScore:     base,
			Multiplier:    mult,
			MatchedSkills: s.MatchedSkills,
			Reason:        s.Reason,
			Title:         h.Metadata.Title,
			Company:       h.Metadata.Company,
			Location:      h.Metadata.Location,
			URL:           h.Metadata.URL,
		})
	}
	return results, rejected
}
