package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
)

// --- Mocks ---

type execCall struct {
	sql  string
	args []any
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeTx records statements. Postings in known resolve; inserts fail for
// ids in failInsert.
type fakeTx struct {
	pgx.Tx
	known      map[uuid.UUID]bool
	failInsert map[uuid.UUID]bool
	execs      []execCall
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	if strings.Contains(sql, "INSERT INTO recommendations") {
		if id, _ := args[1].(uuid.UUID); t.failInsert[id] {
			return pgconn.CommandTag{}, errors.New("check constraint violated")
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (t *fakeTx) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	id, _ := args[0].(uuid.UUID)
	return fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*bool)) = t.known[id]
		return nil
	}}
}

func (t *fakeTx) Commit(context.Context) error {
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

func (t *fakeTx) inserts() []execCall {
	var out []execCall
	for _, e := range t.execs {
		if strings.Contains(e.sql, "INSERT INTO recommendations") {
			out = append(out, e)
		}
	}
	return out
}

type fakeDB struct {
	tx       *fakeTx
	beginErr error
	execTag  pgconn.CommandTag
	execs    []execCall
}

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	return d.tx, nil
}

func (d *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.execs = append(d.execs, execCall{sql: sql, args: args})
	return d.execTag, nil
}

func (d *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (d *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{scan: func(...any) error { return errors.New("not implemented") }}
}

func results(n int) []domain.MatchResult {
	out := make([]domain.MatchResult, n)
	for i := range out {
		out[i] = domain.MatchResult{PostingID: uuid.New(), Score: float64(50 + i), MatchedSkills: []string{"Go"}, Reason: "cocok"}
	}
	return out
}

// --- Tests ---

func TestPersistSkipsUnknownPostings(t *testing.T) {
	rs := results(5)
	tx := &fakeTx{known: map[uuid.UUID]bool{rs[0].PostingID: true, rs[2].PostingID: true, rs[4].PostingID: true}}
	s := NewRecommendationStore(&fakeDB{tx: tx}, nil)
	fixed := time.Date(2026, 10, 19, 7, 37, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	report, err := s.Persist(context.Background(), "alice", rs)
	require.NoError(t, err)
	assert.Equal(t, PersistReport{Persisted: 3, Skipped: 2}, report)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)

	require.GreaterOrEqual(t, len(tx.execs), 2)
	assert.Contains(t, tx.execs[0].sql, "pg_advisory_xact_lock")
	assert.Contains(t, tx.execs[1].sql, "DELETE FROM recommendations")
	assert.Equal(t, []any{"alice"}, tx.execs[1].args)

	ins := tx.inserts()
	require.Len(t, ins, 3)
	assert.Equal(t, rs[0].PostingID, ins[0].args[1])
	assert.Equal(t, rs[2].PostingID, ins[1].args[1])
	assert.Equal(t, rs[4].PostingID, ins[2].args[1])
	assert.Equal(t, `["Go"]`, ins[0].args[3])
	assert.Equal(t, fixed, ins[0].args[5])
}

func TestPersistEmptySetClearsUser(t *testing.T) {
	tx := &fakeTx{}
	report, err := NewRecommendationStore(&fakeDB{tx: tx}, nil).Persist(context.Background(), "bob", nil)
	require.NoError(t, err)
	assert.Zero(t, report.Persisted)
	assert.True(t, tx.committed)
	assert.Contains(t, tx.execs[1].sql, "DELETE FROM recommendations")
}

func TestPersistClampsScores(t *testing.T) {
	rs := results(2)
	rs[0].Score = 130
	rs[1].Score = -4
	tx := &fakeTx{known: map[uuid.UUID]bool{rs[0].PostingID: true, rs[1].PostingID: true}}

	_, err := NewRecommendationStore(&fakeDB{tx: tx}, nil).Persist(context.Background(), "carol", rs)
	require.NoError(t, err)
	ins := tx.inserts()
	assert.Equal(t, 100.0, ins[0].args[2])
	assert.Equal(t, 0.0, ins[1].args[2])
}

func TestPersistFailureRollsBack(t *testing.T) {
	rs := results(3)
	tx := &fakeTx{
		known:      map[uuid.UUID]bool{rs[0].PostingID: true, rs[1].PostingID: true, rs[2].PostingID: true},
		failInsert: map[uuid.UUID]bool{rs[1].PostingID: true},
	}

	report, err := NewRecommendationStore(&fakeDB{tx: tx}, nil).Persist(context.Background(), "dave", rs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check constraint violated")
	assert.Zero(t, report)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestPersistBeginError(t *testing.T) {
	_, err := NewRecommendationStore(&fakeDB{beginErr: errors.New("pool closed")}, nil).Persist(context.Background(), "erin", results(1))
	assert.ErrorContains(t, err, "pool closed")
}

func TestUpsertRejectsInvalidFields(t *testing.T) {
	s := NewPostingStore(&fakeDB{})

	_, err := s.Upsert(context.Background(), domain.PostingFields{Title: "", SourceURL: "https://x.test/a"}, domain.CategoryCreative)
	assert.ErrorIs(t, err, domain.ErrInvalidPosting)

	_, err = s.Upsert(context.Background(), domain.PostingFields{Title: "Designer", SourceURL: "not a url"}, domain.CategoryCreative)
	assert.ErrorIs(t, err, domain.ErrInvalidPosting)
}

func TestMarkIndexedNotFound(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	err := NewPostingStore(db).MarkIndexed(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	db.execTag = pgconn.NewCommandTag("UPDATE 1")
	assert.NoError(t, NewPostingStore(db).MarkIndexed(context.Background(), uuid.New()))
}

func TestMigrateRunsSchema(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, Migrate(context.Background(), db))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "CONSTRAINT postings_source_url_key UNIQUE (source_url)")
	assert.Contains(t, db.execs[0].sql, "CHECK (score BETWEEN 0 AND 100)")
}

func TestCategoryFilter(t *testing.T) {
	assert.Equal(t, "", categoryFilter(domain.CategoryUnspecified))
	assert.Equal(t, "Kreatif", categoryFilter(domain.CategoryCreative))
}

func TestDateHelpers(t *testing.T) {
	assert.False(t, dateParam(nil).Valid)
	ts := time.Date(2026, 10, 3, 15, 4, 5, 0, time.UTC)
	d := dateParam(&ts)
	require.True(t, d.Valid)
	assert.Equal(t, time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC), d.Time)
	assert.Nil(t, fromDate(dateParam(nil)))
	assert.Equal(t, "[]", skillsJSON(nil))
}
