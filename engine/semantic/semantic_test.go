package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
)

// --- Mocks ---

type fakePoints struct {
	mu      sync.Mutex
	stored  map[string]map[string]*pb.PointStruct
	ops     []string
	failOn  string
	scores  []float32
	counted uint64
}

func newFakePoints() *fakePoints {
	return &fakePoints{stored: make(map[string]map[string]*pb.PointStruct)}
}

func (f *fakePoints) record(op string) error {
	f.ops = append(f.ops, op)
	if f.failOn == op {
		return errors.New(op + " unavailable")
	}
	return nil
}

func (f *fakePoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("upsert"); err != nil {
		return nil, err
	}
	coll := f.stored[in.GetCollectionName()]
	if coll == nil {
		coll = make(map[string]*pb.PointStruct)
		f.stored[in.GetCollectionName()] = coll
	}
	for _, p := range in.GetPoints() {
		coll[p.GetId().GetUuid()] = p
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete"); err != nil {
		return nil, err
	}
	for _, id := range in.GetPoints().GetPoints().GetIds() {
		delete(f.stored[in.GetCollectionName()], id.GetUuid())
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Get(_ context.Context, in *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get"); err != nil {
		return nil, err
	}
	resp := &pb.GetResponse{}
	for _, id := range in.GetIds() {
		if p, ok := f.stored[in.GetCollectionName()][id.GetUuid()]; ok {
			resp.Result = append(resp.Result, &pb.RetrievedPoint{Id: p.GetId(), Payload: p.GetPayload()})
		}
	}
	return resp, nil
}

func (f *fakePoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("search"); err != nil {
		return nil, err
	}
	resp := &pb.SearchResponse{}
	i := 0
	for _, p := range f.stored[in.GetCollectionName()] {
		if uint64(i) >= in.GetLimit() {
			break
		}
		var score float32 = 1
		if i < len(f.scores) {
			score = f.scores[i]
		}
		resp.Result = append(resp.Result, &pb.ScoredPoint{Id: p.GetId(), Payload: p.GetPayload(), Score: score})
		i++
	}
	return resp, nil
}

func (f *fakePoints) Count(_ context.Context, in *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("count"); err != nil {
		return nil, err
	}
	return &pb.CountResponse{Result: &pb.CountResult{Count: uint64(len(f.stored[in.GetCollectionName()]))}}, nil
}

type fakeCollections struct {
	mu      sync.Mutex
	names   []string
	creates atomic.Int32
	listErr error
}

func (f *fakeCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	resp := &pb.ListCollectionsResponse{}
	for _, n := range f.names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (f *fakeCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	f.creates.Add(1)
	f.names = append(f.names, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

type fakeEmbedder struct {
	err   error
	calls atomic.Int32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1, 0, 0}, nil
}

func testPosting() domain.Posting {
	posted := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	return domain.Posting{
		ID:       uuid.MustParse("a1111111-1111-1111-1111-111111111111"),
		Category: domain.CategoryTechnology,
		PostingFields: domain.PostingFields{
			Title:          "Backend Engineer",
			Company:        "PT Maju",
			Location:       "Jakarta",
			Description:    "Build Go services",
			RequiredSkills: domain.Skills{"Go", "PostgreSQL"},
			DatePosted:     &posted,
			SourceURL:      "https://id.linkedin.com/jobs/view/1",
		},
	}
}

// --- Tests ---

func TestCollectionName(t *testing.T) {
	cases := map[string]string{
		"Teknologi":               "jobs_teknologi",
		"Bisnis dan Manajemen":    "jobs_bisnis_dan_manajemen",
		"Kreatif":                 "jobs_kreatif",
		"Industri dan Manufaktur": "jobs_industri_dan_manufaktur",
		"  UI/UX -- Design  ":     "jobs_ui_ux_design",
		"":                        "jobs",
	}
	for in, want := range cases {
		assert.Equal(t, want, CollectionName(in), in)
	}

	long := CollectionName("a very long category label that keeps going well past the limit of names")
	assert.LessOrEqual(t, len(long), 63)
	assert.NotEqual(t, byte('_'), long[len(long)-1])
	assert.Equal(t, CollectionName("Kreatif"), CollectionName("KREATIF"))
}

func TestResolverCreatesOnce(t *testing.T) {
	cols := &fakeCollections{}
	r := NewResolver(newWithClients(newFakePoints(), cols), 4, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coll, err := r.Resolve(context.Background(), domain.CategoryCreative)
			assert.NoError(t, err)
			assert.Equal(t, "jobs_kreatif", coll.Name)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), cols.creates.Load())
}

func TestResolverExistingCollection(t *testing.T) {
	cols := &fakeCollections{names: []string{"jobs_teknologi"}}
	r := NewResolver(newWithClients(newFakePoints(), cols), 4, nil)

	coll, err := r.Resolve(context.Background(), domain.CategoryTechnology)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryTechnology, coll.Category)
	assert.Equal(t, int32(0), cols.creates.Load())
}

func TestResolverUnroutable(t *testing.T) {
	r := NewResolver(newWithClients(newFakePoints(), &fakeCollections{}), 4, nil)
	_, err := r.Resolve(context.Background(), domain.CategoryUnspecified)
	assert.ErrorIs(t, err, domain.ErrUnroutableCategory)
}

func TestResolverStoreError(t *testing.T) {
	cols := &fakeCollections{listErr: errors.New("qdrant down")}
	r := NewResolver(newWithClients(newFakePoints(), cols), 4, nil)
	_, err := r.Resolve(context.Background(), domain.CategoryTechnology)
	require.Error(t, err)

	// failures are not cached
	cols.listErr = nil
	_, err = r.Resolve(context.Background(), domain.CategoryTechnology)
	assert.NoError(t, err)
}

func TestIndexerReplacesExisting(t *testing.T) {
	points := newFakePoints()
	store := newWithClients(points, &fakeCollections{})
	ix := NewIndexer(store, &fakeEmbedder{}, nil)
	coll := Collection{Name: "jobs_teknologi", Category: domain.CategoryTechnology}
	p := testPosting()

	require.NoError(t, ix.Upsert(context.Background(), coll, p))
	assert.Equal(t, []string{"get", "upsert"}, points.ops)

	p.Title = "Senior Backend Engineer"
	points.ops = nil
	require.NoError(t, ix.Upsert(context.Background(), coll, p))
	assert.Equal(t, []string{"get", "delete", "upsert"}, points.ops)

	n, err := store.Count(context.Background(), coll.Name)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	stored := points.stored[coll.Name][p.ID.String()]
	doc, meta := decodePayload(stored.GetPayload())
	assert.Equal(t, "Senior Backend Engineer", meta.Title)
	assert.Equal(t, p.ID, meta.PostingID)
	require.NotNil(t, meta.DatePosted)
	assert.Equal(t, "2026-10-01", meta.DatePosted.Format(dateLayout))

	var d map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &d))
	assert.Equal(t, p.ID.String(), d["job_id"])
	assert.Equal(t, "Teknologi", d["category"])
	assert.Equal(t, []any{"Go", "PostgreSQL"}, d["skills_required"])
}

func TestIndexerConcurrentSameID(t *testing.T) {
	points := newFakePoints()
	ix := NewIndexer(newWithClients(points, &fakeCollections{}), &fakeEmbedder{}, nil)
	coll := Collection{Name: "jobs_teknologi"}
	p := testPosting()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ix.Upsert(context.Background(), coll, p))
		}()
	}
	wg.Wait()

	assert.Len(t, points.stored[coll.Name], 1)
	// Each call ran get[/delete]/upsert without interleaving another caller.
	for i := 0; i < len(points.ops); {
		require.Equal(t, "get", points.ops[i])
		i++
		if points.ops[i] == "delete" {
			i++
		}
		require.Equal(t, "upsert", points.ops[i])
		i++
	}
}

func TestIndexerErrors(t *testing.T) {
	coll := Collection{Name: "jobs_kreatif"}
	p := testPosting()

	ix := NewIndexer(newWithClients(newFakePoints(), &fakeCollections{}), &fakeEmbedder{err: errors.New("ollama down")}, nil)
	err := ix.Upsert(context.Background(), coll, p)
	var ie *domain.IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "embed", ie.Op)
	assert.Equal(t, p.ID, ie.PostingID)

	points := newFakePoints()
	points.failOn = "upsert"
	ix = NewIndexer(newWithClients(points, &fakeCollections{}), &fakeEmbedder{}, nil)
	err = ix.Upsert(context.Background(), coll, p)
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "insert", ie.Op)
	assert.Equal(t, "jobs_kreatif", ie.Collection)
}

func TestRetrieverQuery(t *testing.T) {
	points := newFakePoints()
	points.scores = []float32{0.75}
	store := newWithClients(points, &fakeCollections{})
	coll := Collection{Name: "jobs_teknologi"}

	r := NewRetriever(store, &fakeEmbedder{}, 0)
	hits, err := r.Query(context.Background(), coll, "go developer", 0)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)

	p := testPosting()
	require.NoError(t, NewIndexer(store, &fakeEmbedder{}, nil).Upsert(context.Background(), coll, p))

	hits, err = r.Query(context.Background(), coll, "go developer", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, p.ID, hits[0].PostingID)
	assert.InDelta(t, 0.25, hits[0].Distance, 1e-6)
	assert.Equal(t, "PT Maju", hits[0].Metadata.Company)
	assert.Equal(t, Document(p), hits[0].Document)

	n, err := r.Count(context.Background(), coll)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	_, err = r.Query(context.Background(), coll, "   ", 5)
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
}

func TestRetrieverDefaultTopK(t *testing.T) {
	points := newFakePoints()
	store := newWithClients(points, &fakeCollections{})
	coll := Collection{Name: "jobs_bisnis_dan_manajemen"}
	ix := NewIndexer(store, &fakeEmbedder{}, nil)
	for i := 0; i < 40; i++ {
		p := testPosting()
		p.ID = uuid.New()
		require.NoError(t, ix.Upsert(context.Background(), coll, p))
	}

	hits, err := NewRetriever(store, &fakeEmbedder{}, 0).Query(context.Background(), coll, "analyst", 0)
	require.NoError(t, err)
	assert.Len(t, hits, DefaultTopK)
}
