// Package store persists postings and per-user recommendations in
// PostgreSQL.
package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/repo"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables and indexes if they do not exist.
func Migrate(ctx context.Context, db repo.DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// PostingStore reads and writes postings. One row exists per canonical
// source URL.
type PostingStore struct {
	db repo.DBTX
}

// NewPostingStore creates a PostingStore.
func NewPostingStore(db repo.DBTX) *PostingStore {
	return &PostingStore{db: db}
}

const postingColumns = `id, category, title, company, location, description, required_skills,
	date_posted, source_url, job_type, industry, experience_level, education_level, salary,
	company_industry, company_description, company_size, company_logo, indexed, created_at, updated_at`

const upsertPostingSQL = `
INSERT INTO postings (id, category, title, company, location, description, required_skills,
	date_posted, source_url, job_type, industry, experience_level, education_level, salary,
	company_industry, company_description, company_size, company_logo, indexed)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, FALSE)
ON CONFLICT (source_url) DO UPDATE SET
	category = EXCLUDED.category,
	title = EXCLUDED.title,
	company = EXCLUDED.company,
	location = EXCLUDED.location,
	description = EXCLUDED.description,
	required_skills = EXCLUDED.required_skills,
	date_posted = COALESCE(EXCLUDED.date_posted, postings.date_posted),
	job_type = EXCLUDED.job_type,
	industry = EXCLUDED.industry,
	experience_level = EXCLUDED.experience_level,
	education_level = EXCLUDED.education_level,
	salary = EXCLUDED.salary,
	company_industry = EXCLUDED.company_industry,
	company_description = EXCLUDED.company_description,
	company_size = EXCLUDED.company_size,
	company_logo = EXCLUDED.company_logo,
	indexed = FALSE,
	updated_at = now()
RETURNING id, date_posted, created_at, updated_at`

// Upsert inserts the posting or updates the row with the same canonical
// source URL. The id of an existing row is kept; an update clears the
// indexed flag until the posting is re-indexed.
func (s *PostingStore) Upsert(ctx context.Context, f domain.PostingFields, c domain.Category) (domain.Posting, error) {
	if err := domain.ValidatePostingFields(&f); err != nil {
		return domain.Posting{}, err
	}

	p := domain.Posting{Category: c, PostingFields: f}
	var posted pgtype.Date
	err := s.db.QueryRow(ctx, upsertPostingSQL,
		uuid.New(), c.String(), f.Title, f.Company, f.Location, f.Description, skillsJSON(f.RequiredSkills),
		dateParam(f.DatePosted), f.SourceURL, f.JobType, f.Industry, f.ExperienceLevel, f.EducationLevel, f.Salary,
		f.CompanyIndustry, f.CompanyDescription, f.CompanySize, f.CompanyLogo,
	).Scan(&p.ID, &posted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Posting{}, fmt.Errorf("store: upsert posting %s: %w", f.SourceURL, err)
	}
	p.DatePosted = fromDate(posted)
	return p, nil
}

// MarkIndexed records that the posting is present in its collection.
func (s *PostingStore) MarkIndexed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE postings SET indexed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: mark indexed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: mark indexed %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Get returns one posting by id.
func (s *PostingStore) Get(ctx context.Context, id uuid.UUID) (domain.Posting, error) {
	rows, err := s.db.Query(ctx, `SELECT `+postingColumns+` FROM postings WHERE id = $1`, id)
	if err != nil {
		return domain.Posting{}, fmt.Errorf("store: get posting %s: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPosting)
	if repo.IsNoRows(err) {
		return domain.Posting{}, fmt.Errorf("store: get posting %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Posting{}, fmt.Errorf("store: get posting %s: %w", id, err)
	}
	return p, nil
}

// ListUnindexed returns postings of category c whose indexed flag is unset,
// oldest first. An unspecified category lists every category.
func (s *PostingStore) ListUnindexed(ctx context.Context, c domain.Category, opts repo.ListOpts) ([]domain.Posting, error) {
	opts = opts.Normalize()
	rows, err := s.db.Query(ctx, `SELECT `+postingColumns+` FROM postings
		WHERE NOT indexed AND ($1 = '' OR category = $1)
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`, categoryFilter(c), opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("store: list unindexed: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanPosting)
	if err != nil {
		return nil, fmt.Errorf("store: list unindexed: %w", err)
	}
	return out, nil
}

func categoryFilter(c domain.Category) string {
	if !c.Routable() {
		return ""
	}
	return c.String()
}

func scanPosting(row pgx.CollectableRow) (domain.Posting, error) {
	var (
		p        domain.Posting
		category string
		skills   []byte
		posted   pgtype.Date
	)
	err := row.Scan(&p.ID, &category, &p.Title, &p.Company, &p.Location, &p.Description, &skills,
		&posted, &p.SourceURL, &p.JobType, &p.Industry, &p.ExperienceLevel, &p.EducationLevel, &p.Salary,
		&p.CompanyIndustry, &p.CompanyDescription, &p.CompanySize, &p.CompanyLogo, &p.Indexed,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Posting{}, err
	}
	p.Category = domain.ParseCategory(category)
	p.RequiredSkills = domain.ParseSkills(string(skills))
	p.DatePosted = fromDate(posted)
	return p, nil
}

func skillsJSON(s []string) string {
	if s == nil {
		s = []string{}
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func dateParam(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), Valid: true}
}

func fromDate(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}
