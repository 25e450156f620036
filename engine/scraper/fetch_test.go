package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/fn"
)

func testFetcher(retries int) *Fetcher {
	return NewFetcher(Options{
		RatePerSecond: 1000,
		Burst:         100,
		Retry:         fn.RetryPolicy{MaxRetries: retries, Delay: time.Millisecond},
	}, nil)
}

func TestFetchSucceedsOnThirdAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`<html><body><h1>Backend Engineer</h1><p>Jakarta</p></body></html>`))
	}))
	defer srv.Close()

	page, err := testFetcher(2).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "Backend Engineer\nJakarta", page.Text)
	assert.Equal(t, http.StatusOK, page.StatusCode)
}

func TestFetchExhaustsBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testFetcher(2).Fetch(context.Background(), srv.URL)
	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, int32(3), calls.Load())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := testFetcher(2).Fetch(context.Background(), srv.URL)
	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchRetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	page, err := testFetcher(1).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", page.Text)
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(Options{RatePerSecond: 1000, Burst: 10, Retry: fn.RetryPolicy{MaxRetries: 5, Delay: time.Hour}}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchSendsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.UserAgent()))
	}))
	defer srv.Close()

	page, err := testFetcher(0).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, strings.Contains(page.Text, "carifit-crawler"))
}

func TestHTMLToText(t *testing.T) {
	base, _ := url.Parse("https://id.linkedin.com/jobs/search?keywords=go")
	doc := `<html><head><title>x</title><style>.a{}</style></head><body>
		<script>var tracking = 1;</script>
		<ul>
		  <li><a href="/jobs/view/backend-engineer-1?refId=9">Backend   Engineer</a> PT Maju</li>
		  <li><a href="#">skip me</a></li>
		</ul>
		<noscript>enable js</noscript>
		<p>Remote<br/>Full-time</p>
	</body></html>`

	text, err := HTMLToText(strings.NewReader(doc), base)
	require.NoError(t, err)
	assert.Equal(t,
		"[Backend Engineer](https://id.linkedin.com/jobs/view/backend-engineer-1?refId=9) PT Maju\nskip me\nRemote\nFull-time",
		text)
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "enable js")
}

func TestSearchURLs(t *testing.T) {
	urls := SearchURLs("ui/ux designer", "Indonesia", 2)
	require.Len(t, urls, 2)
	assert.Equal(t, "https://www.linkedin.com/jobs/search?keywords=ui%2Fux+designer&location=Indonesia&start=0", urls[0])
	assert.True(t, strings.HasSuffix(urls[1], "start=25"))
	assert.Len(t, SearchURLs("go", "Indonesia", 0), 1)
}
