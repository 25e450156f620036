package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/engine/ingest"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/lock"
)

type fakeCrawler struct {
	runs     atomic.Int32
	deadline atomic.Bool
	started  chan struct{}
}

func (f *fakeCrawler) Run(ctx context.Context, plan []domain.CategoryKeywords) (ingest.Report, error) {
	f.runs.Add(1)
	_, ok := ctx.Deadline()
	f.deadline.Store(ok)
	if f.started != nil {
		f.started <- struct{}{}
	}
	return ingest.Report{Categories: map[domain.Category]*ingest.CategoryReport{plan[0].Category: {}}}, nil
}

var plan = []domain.CategoryKeywords{{Category: domain.CategoryTechnology, Keywords: []string{"golang"}}}

func TestRunOnceAppliesTimeout(t *testing.T) {
	c := &fakeCrawler{}
	s := New(c, plan, nil, Options{Spec: "37 7 * * *", Timeout: time.Minute}, zaptest.NewLogger(t))

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.Categories, domain.CategoryTechnology)
	assert.True(t, c.deadline.Load())
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	locker := lock.NewLocal()
	unlock, ok, err := locker.TryLock(context.Background(), LockKey)
	require.NoError(t, err)
	require.True(t, ok)

	c := &fakeCrawler{}
	s := New(c, plan, locker, Options{Spec: "@daily"}, zaptest.NewLogger(t))
	_, err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrRunInProgress)
	assert.Zero(t, c.runs.Load())

	unlock()
	_, err = s.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.EqualValues(t, 1, c.runs.Load())
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(&fakeCrawler{}, plan, nil, Options{Spec: "every morning"}, zaptest.NewLogger(t))
	assert.Error(t, s.Start(context.Background()))
}

func TestStartRunsOnStart(t *testing.T) {
	c := &fakeCrawler{started: make(chan struct{}, 1)}
	s := New(c, plan, nil, Options{Spec: "37 7 * * *", RunOnStart: true}, nil)
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-c.started:
	case <-time.After(3 * time.Second):
		t.Fatal("run-on-start did not trigger a crawl")
	}
	assert.False(t, s.Next().IsZero())
	<-s.Stop().Done()
}
