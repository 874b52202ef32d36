package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/streamvault/internal/config"
	"github.com/voyagen/streamvault/internal/eventlog"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/reconcile"
	"github.com/voyagen/streamvault/internal/relay"
	"github.com/voyagen/streamvault/internal/store"
)

type fixedCatalog struct {
	sources []models.Source
}

func (f *fixedCatalog) FetchCatalog(_ context.Context, account *models.Account) ([]models.Source, error) {
	out := make([]models.Source, len(f.sources))
	copy(out, f.sources)
	for i := range out {
		out[i].AccountID = account.ID
	}
	return out, nil
}

func newTestServer(t *testing.T, mem *store.Memory, catalog *fixedCatalog) *Server {
	t.Helper()
	cfg := &config.Config{ServerPort: "0", MatchThreshold: 0.85}
	events := eventlog.New(mem, nil)
	rec := reconcile.New(mem, catalog, reconcile.NameMatcher{}, events, nil, cfg.MatchThreshold, nil)
	sel := relay.NewSelector(mem, events, nil, "", relay.DefaultConfig(), nil)
	return New(mem, cfg, rec, sel, nil, nil)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, store.NewMemory(), &fixedCatalog{})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestScanEndpoint(t *testing.T) {
	mem := store.NewMemory()
	accountID := mem.AddAccount(models.Account{Name: "p", PlaylistURL: "http://p/m3u", IsActive: true})
	mem.AddChannel(models.Channel{Name: "ESPN", Enabled: true})
	srv := newTestServer(t, mem, &fixedCatalog{sources: []models.Source{
		{StreamID: "1", Name: "ESPN HD", URL: "http://p/1"},
	}})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/accounts/1/scan", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var summary models.ScanSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, accountID, summary.AccountID)
	assert.Equal(t, 1, summary.SourcesScanned)
	assert.Equal(t, 1, summary.NewMatchesCreated)

	// Unknown account.
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/accounts/99/scan", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMappingEndpoints(t *testing.T) {
	mem := store.NewMemory()
	accountID := mem.AddAccount(models.Account{Name: "p", IsActive: true})
	channelID := mem.AddChannel(models.Channel{Name: "ESPN", Enabled: true})
	ctx := context.Background()
	s1 := &models.Source{AccountID: accountID, StreamID: "1", Name: "ESPN", URL: "http://p/1"}
	s2 := &models.Source{AccountID: accountID, StreamID: "2", Name: "ESPN FHD", URL: "http://p/2"}
	_, err := mem.UpsertSource(ctx, s1)
	require.NoError(t, err)
	_, err = mem.UpsertSource(ctx, s2)
	require.NoError(t, err)

	srv := newTestServer(t, mem, &fixedCatalog{})

	// Manual create: first mapping becomes primary.
	rr := httptest.NewRecorder()
	body := strings.NewReader(`{"source_id": 1}`)
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/channels/1/mappings", body))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var first models.Mapping
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
	assert.True(t, first.IsPrimary)
	assert.True(t, first.IsManual)
	assert.Equal(t, 1.0, first.MatchConfidence)

	// Second manual mapping with make_primary jumps the queue.
	rr = httptest.NewRecorder()
	body = strings.NewReader(`{"source_id": 2, "make_primary": true}`)
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/channels/1/mappings", body))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var second models.Mapping
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
	assert.True(t, second.IsPrimary)
	assert.Equal(t, 0, second.Priority)

	// Duplicate mapping is rejected.
	rr = httptest.NewRecorder()
	body = strings.NewReader(`{"source_id": 2}`)
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/channels/1/mappings", body))
	assert.Equal(t, http.StatusConflict, rr.Code)

	// Ordered inspection: primary first.
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/channels/1/mappings", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var mappings []models.Mapping
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &mappings))
	require.Len(t, mappings, 2)
	assert.Equal(t, second.ID, mappings[0].ID)
	assert.Equal(t, 1, mappings[1].Priority)

	// Delete the primary: survivor is promoted, invariants hold.
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/mappings/2", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	ms, err := mem.GetMappings(ctx, channelID)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.True(t, ms[0].IsPrimary)
	assert.Equal(t, 0, ms[0].Priority)

	// Deleting again is a 404.
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/mappings/2", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStreamRejectsDisabledChannel(t *testing.T) {
	mem := store.NewMemory()
	mem.AddChannel(models.Channel{Name: "Off Air", Enabled: false})
	srv := newTestServer(t, mem, &fixedCatalog{})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stream/1", nil))
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
}

func TestStreamUnknownChannel(t *testing.T) {
	srv := newTestServer(t, store.NewMemory(), &fixedCatalog{})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stream/9", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStreamExhaustionIsOpaque(t *testing.T) {
	mem := store.NewMemory()
	mem.AddChannel(models.Channel{Name: "ESPN", Enabled: true})
	srv := newTestServer(t, mem, &fixedCatalog{})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stream/1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, rr.Body.String(), "ESPN", "no internal detail in the failure body")
	assert.NotContains(t, rr.Body.String(), "exhausted")
}

func TestStreamServesBytes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ts-bytes"))
	}))
	defer upstream.Close()

	mem := store.NewMemory()
	accountID := mem.AddAccount(models.Account{Name: "p", IsActive: true})
	channelID := mem.AddChannel(models.Channel{Name: "ESPN", Enabled: true})
	ctx := context.Background()
	src := &models.Source{AccountID: accountID, StreamID: "1", Name: "ESPN", URL: upstream.URL}
	_, err := mem.UpsertSource(ctx, src)
	require.NoError(t, err)
	_, err = mem.AppendMapping(ctx, channelID, src.ID, false, 1)
	require.NoError(t, err)

	srv := newTestServer(t, mem, &fixedCatalog{})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stream/1", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ts-bytes", rr.Body.String())
	assert.Equal(t, "video/mp2t", rr.Header().Get("Content-Type"))
}

func TestEventsEndpoint(t *testing.T) {
	mem := store.NewMemory()
	events := eventlog.New(mem, nil)
	events.Warn(context.Background(), models.CategoryStream, "failover", models.EventDetails{})
	events.Info(context.Background(), models.CategoryProvider, "scan", models.EventDetails{})

	srv := newTestServer(t, mem, &fixedCatalog{})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/events?category=stream&level=warn", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var out []models.EventLogEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "failover", out[0].Message)

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/events?since=not-a-time", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
