package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/logger"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/repo"
)

// TxDB is a pool that can also start transactions.
type TxDB interface {
	repo.DBTX
	repo.Beginner
}

// PersistReport counts what one Persist call wrote.
type PersistReport struct {
	Persisted int
	Skipped   int
}

// RecommendationStore replaces and reads per-user recommendation sets.
type RecommendationStore struct {
	db  TxDB
	log *zap.Logger
	now func() time.Time
}

// NewRecommendationStore creates a RecommendationStore.
func NewRecommendationStore(db TxDB, log *zap.Logger) *RecommendationStore {
	return &RecommendationStore{db: db, log: logger.OrNop(log), now: time.Now}
}

const upsertRecommendationSQL = `
INSERT INTO recommendations (user_id, posting_id, score, matched_skills, reason, computed_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6)
ON CONFLICT (user_id, posting_id) DO UPDATE SET
	score = EXCLUDED.score,
	matched_skills = EXCLUDED.matched_skills,
	reason = EXCLUDED.reason,
	computed_at = EXCLUDED.computed_at`

// Persist replaces the whole recommendation set of user with results in one
// transaction. Results naming an unknown posting are logged and skipped. On
// any other failure the transaction rolls back, the previous set stays
// visible and the error is returned.
func (s *RecommendationStore) Persist(ctx context.Context, user string, results []domain.MatchResult) (PersistReport, error) {
	var report PersistReport
	at := s.now().UTC()

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		report = PersistReport{}
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, user); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM recommendations WHERE user_id = $1`, user); err != nil {
			return fmt.Errorf("delete previous: %w", err)
		}

		for _, r := range results {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM postings WHERE id = $1)`, r.PostingID).Scan(&exists); err != nil {
				return fmt.Errorf("resolve posting %s: %w", r.PostingID, err)
			}
			if !exists {
				report.Skipped++
				s.log.Warn("recommended posting not found, skipping",
					zap.String(logger.FieldUser, user),
					zap.Stringer(logger.FieldPostingID, r.PostingID))
				continue
			}
			if _, err := tx.Exec(ctx, upsertRecommendationSQL,
				user, r.PostingID, domain.ClampScore(r.Score), skillsJSON(r.MatchedSkills), r.Reason, at,
			); err != nil {
				return fmt.Errorf("insert recommendation %s: %w", r.PostingID, err)
			}
			report.Persisted++
		}
		return nil
	})
	if err != nil {
		return PersistReport{}, fmt.Errorf("store: persist recommendations for %s: %w", user, err)
	}
	return report, nil
}

// List returns the current recommendations of user, best first.
func (s *RecommendationStore) List(ctx context.Context, user string) ([]domain.Recommendation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.user_id, r.score, r.matched_skills, r.reason, r.computed_at,
			p.id, p.title, p.company, p.location, p.required_skills, p.description, p.source_url
		FROM recommendations r
		JOIN postings p ON p.id = r.posting_id
		WHERE r.user_id = $1
		ORDER BY r.score DESC, p.title`, user)
	if err != nil {
		return nil, fmt.Errorf("store: list recommendations for %s: %w", user, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Recommendation, error) {
		var (
			rec     domain.Recommendation
			p       domain.Posting
			matched []byte
			skills  []byte
		)
		err := row.Scan(&rec.User, &rec.Score, &matched, &rec.Reason, &rec.ComputedAt,
			&p.ID, &p.Title, &p.Company, &p.Location, &skills, &p.Description, &p.SourceURL)
		rec.MatchedSkills = domain.ParseSkills(string(matched))
		p.RequiredSkills = domain.ParseSkills(string(skills))
		rec.Posting = p.Summary()
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: list recommendations for %s: %w", user, err)
	}
	return out, nil
}
