package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/metrics"
)

func TestHealthEndpoint(t *testing.T) {
	h := newOpsHandler(metrics.New("test"), zaptest.NewLogger(t), func(context.Context) error { return nil })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestReadyEndpoint(t *testing.T) {
	var down error
	h := newOpsHandler(metrics.New("test"), zaptest.NewLogger(t), func(context.Context) error { return down })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down = errors.New("postgres: connection refused")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	h := newOpsHandler(metrics.New("test"), zaptest.NewLogger(t), func(context.Context) error { return nil })
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_ops_http_requests_total{code="200",method="GET",path="/healthz"} 1`)
}

func TestFilterPlan(t *testing.T) {
	plan := []domain.CategoryKeywords{
		{Category: domain.CategoryTechnology, Keywords: []string{"golang"}},
		{Category: domain.CategoryCreative, Keywords: []string{"designer"}},
	}

	got, err := filterPlan(plan, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = filterPlan(plan, []string{"kreatif"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.CategoryCreative, got[0].Category)

	_, err = filterPlan(plan, []string{"astronomy"})
	assert.Error(t, err)

	_, err = filterPlan(plan, []string{string(domain.CategoryBusiness)})
	assert.Error(t, err)
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"text": "UI designer",
		"skills": "Figma, Adobe XD",
		"experience": "3 tahun",
		"category": "kreatif"
	}`), 0o600))

	p, err := loadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryCreative, p.Category)
	assert.Equal(t, domain.Skills{"Figma", "Adobe XD"}, p.Skills)

	_, err = loadProfile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "crawl", "match", "reindex", "migrate"})
}
