package relay

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/streamvault/internal/eventlog"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// syncBuffer is an io.Writer safe to read while Serve writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// seedCandidates stores one channel with mappings to the given URLs in
// priority order (first = primary).
func seedCandidates(t *testing.T, mem *store.Memory, urls ...string) *models.Channel {
	t.Helper()
	ctx := context.Background()
	accountID := mem.AddAccount(models.Account{Name: "p", IsActive: true})
	channelID := mem.AddChannel(models.Channel{Name: "ESPN", Enabled: true})
	for _, u := range urls {
		src := &models.Source{AccountID: accountID, StreamID: u, Name: "ESPN", URL: u}
		_, err := mem.UpsertSource(ctx, src)
		require.NoError(t, err)
		_, err = mem.AppendMapping(ctx, channelID, src.ID, false, 1)
		require.NoError(t, err)
	}
	ch, err := mem.GetChannel(ctx, channelID)
	require.NoError(t, err)
	return ch
}

func newTestSelector(mem *store.Memory, cfg Config) *Selector {
	return NewSelector(mem, eventlog.New(mem, nil), nil, "", cfg, nil)
}

func TestServePrimary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("live bytes"))
	}))
	defer srv.Close()

	mem := store.NewMemory()
	ch := seedCandidates(t, mem, srv.URL)
	sel := newTestSelector(mem, DefaultConfig())

	var out syncBuffer
	err := sel.Serve(context.Background(), ch, &out)
	require.NoError(t, err)
	assert.Equal(t, "live bytes", out.String())

	events, err := mem.ListEvents(context.Background(), store.EventFilter{Category: models.CategoryStream})
	require.NoError(t, err)
	assert.Empty(t, events, "a clean primary serve emits nothing")
}

func TestServeFailsOverToBackup(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("backup bytes"))
	}))
	defer backup.Close()

	mem := store.NewMemory()
	ch := seedCandidates(t, mem, dead.URL, backup.URL)
	sel := newTestSelector(mem, DefaultConfig())

	var out syncBuffer
	start := time.Now()
	err := sel.Serve(context.Background(), ch, &out)
	require.NoError(t, err)
	assert.Equal(t, "backup bytes", out.String())
	assert.Less(t, time.Since(start), 2*time.Second, "failover stays within the overall deadline")

	events, err := mem.ListEvents(context.Background(), store.EventFilter{Level: models.LevelWarn})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.ReasonHTTPError, events[0].Details.Reason)
	assert.Equal(t, http.StatusInternalServerError, events[0].Details.HTTPStatus)
	require.NotNil(t, events[0].Details.FromSourceID)
	require.NotNil(t, events[0].Details.ToSourceID)
}

func TestServeExhaustion(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer dead.Close()

	mem := store.NewMemory()
	ch := seedCandidates(t, mem, dead.URL, dead.URL+"/b")
	sel := newTestSelector(mem, DefaultConfig())

	var out syncBuffer
	err := sel.Serve(context.Background(), ch, &out)
	assert.ErrorIs(t, err, models.ErrAllStreamsExhausted)
	assert.Empty(t, out.String())

	events, err := mem.ListEvents(context.Background(), store.EventFilter{Level: models.LevelError})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.ReasonAllStreamsExhausted, events[0].Details.Reason)
	require.NotNil(t, events[0].Details.FromSourceID, "last attempted source is named")
	assert.Nil(t, events[0].Details.ToSourceID)
}

func TestServeNoCandidates(t *testing.T) {
	mem := store.NewMemory()
	channelID := mem.AddChannel(models.Channel{Name: "Empty", Enabled: true})
	ch, err := mem.GetChannel(context.Background(), channelID)
	require.NoError(t, err)

	sel := newTestSelector(mem, DefaultConfig())
	var out syncBuffer
	err = sel.Serve(context.Background(), ch, &out)
	assert.ErrorIs(t, err, models.ErrAllStreamsExhausted)
}

func TestServeAttemptTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer backup.Close()

	mem := store.NewMemory()
	ch := seedCandidates(t, mem, slow.URL, backup.URL)
	cfg := DefaultConfig()
	cfg.AttemptTimeout = 100 * time.Millisecond
	cfg.StreamDeadline = time.Second
	sel := newTestSelector(mem, cfg)

	var out syncBuffer
	start := time.Now()
	err := sel.Serve(context.Background(), ch, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.String())
	assert.Less(t, time.Since(start), time.Second)

	events, err := mem.ListEvents(context.Background(), store.EventFilter{Level: models.LevelWarn})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.ReasonConnectionTimeout, events[0].Details.Reason)
}

func TestServeConnectionError(t *testing.T) {
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer backup.Close()

	mem := store.NewMemory()
	// Port 1 refuses connections.
	ch := seedCandidates(t, mem, "http://127.0.0.1:1/stream", backup.URL)
	sel := newTestSelector(mem, DefaultConfig())

	var out syncBuffer
	err := sel.Serve(context.Background(), ch, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.String())

	events, err := mem.ListEvents(context.Background(), store.EventFilter{Level: models.LevelWarn})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.ReasonConnectionError, events[0].Details.Reason)
}

func TestServeQualityUpgrade(t *testing.T) {
	var primaryUp atomic.Bool
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !primaryUp.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		f := w.(http.Flusher)
		for {
			if _, err := w.Write([]byte("P")); err != nil {
				return
			}
			f.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	defer primary.Close()

	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		for {
			if _, err := w.Write([]byte("B")); err != nil {
				return
			}
			f.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	defer backup.Close()

	mem := store.NewMemory()
	ch := seedCandidates(t, mem, primary.URL, backup.URL)
	cfg := DefaultConfig()
	cfg.UpgradeWindow = 50 * time.Millisecond
	sel := newTestSelector(mem, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- sel.Serve(ctx, ch, &out) }()

	// Relay starts on the backup, then the primary recovers.
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "B")
	}, 2*time.Second, 10*time.Millisecond)
	primaryUp.Store(true)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "P")
	}, 3*time.Second, 10*time.Millisecond, "relay switches to the primary transparently")

	cancel()
	require.NoError(t, <-done)

	output := out.String()
	assert.Less(t, strings.LastIndex(output, "B"), strings.Index(output, "P"),
		"no backup bytes after the switch")

	events, err := mem.ListEvents(context.Background(), store.EventFilter{Level: models.LevelInfo, Category: models.CategoryStream})
	require.NoError(t, err)
	var upgrade *models.EventLogEntry
	for i := range events {
		if events[i].Details.Reason == models.ReasonQualityUpgrade {
			upgrade = &events[i]
		}
	}
	require.NotNil(t, upgrade, "upgrade event recorded")
	require.NotNil(t, upgrade.Details.FromSourceID)
	require.NotNil(t, upgrade.Details.ToSourceID)
}

func TestServeCallerDisconnect(t *testing.T) {
	streaming := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		for {
			if _, err := w.Write([]byte("x")); err != nil {
				return
			}
			f.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	defer streaming.Close()

	mem := store.NewMemory()
	ch := seedCandidates(t, mem, streaming.URL)
	sel := newTestSelector(mem, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- sel.Serve(ctx, ch, &out) }()

	require.Eventually(t, func() bool { return out.String() != "" }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "caller disconnect is not an error")
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after caller disconnect")
	}
}
