package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/voyagen/streamvault/internal/config"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/reconcile"
	"github.com/voyagen/streamvault/internal/relay"
	"github.com/voyagen/streamvault/internal/store"
)

// Server holds dependencies for the HTTP API.
type Server struct {
	store      store.Store
	cfg        *config.Config
	reconciler *reconcile.Reconciler
	selector   *relay.Selector
	metricsH   http.Handler // nil disables /metrics
	log        *slog.Logger
	mux        *http.ServeMux
}

// New creates a Server and registers routes. metricsHandler may be nil.
func New(s store.Store, cfg *config.Config, rec *reconcile.Reconciler, sel *relay.Selector, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		store:      s,
		cfg:        cfg,
		reconciler: rec,
		selector:   sel,
		metricsH:   metricsHandler,
		log:        logger,
		mux:        http.NewServeMux(),
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Reconciliation
	s.mux.HandleFunc("POST /api/accounts/{id}/scan", s.handleScanAccount)

	// Channels and mappings
	s.mux.HandleFunc("GET /api/channels", s.handleListChannels)
	s.mux.HandleFunc("GET /api/channels/{id}/mappings", s.handleGetMappings)
	s.mux.HandleFunc("POST /api/channels/{id}/mappings", s.handleCreateMapping)
	s.mux.HandleFunc("DELETE /api/mappings/{id}", s.handleDeleteMapping)

	// Serving
	s.mux.HandleFunc("GET /stream/{id}", s.handleStream)

	// Event log
	s.mux.HandleFunc("GET /api/events", s.handleListEvents)

	if s.metricsH != nil {
		s.mux.Handle("GET /metrics", s.metricsH)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.cfg.ServerPort
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     withCORS(s.withLogging(s)),
		ReadTimeout: 10 * time.Second,
		// Relays are long-lived; no write timeout.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown", "error", err)
		}
	}()

	s.log.Info("listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScanAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	summary, err := s.reconciler.ScanAccount(r.Context(), accountID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrScanInProgress):
			writeErr(w, http.StatusConflict, err)
		case errors.Is(err, models.ErrNotFound):
			writeErr(w, http.StatusNotFound, fmt.Errorf("account %d not found", accountID))
		default:
			writeErr(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.ListChannels(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	channelID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.store.GetChannel(r.Context(), channelID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("channel %d not found", channelID))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	mappings, err := s.store.GetMappings(r.Context(), channelID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if mappings == nil {
		mappings = []models.Mapping{}
	}
	writeJSON(w, http.StatusOK, mappings)
}

type createMappingRequest struct {
	SourceID    int64 `json:"source_id"`
	MakePrimary bool  `json:"make_primary"`
}

// handleCreateMapping is the manual override path: the mapping is appended
// with isManual set and full confidence, then optionally moved to primary.
// Placement and promotion both run inside the store's per-channel mutation
// boundary.
func (s *Server) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	channelID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	var req createMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.SourceID == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("source_id is required"))
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("channel %d not found", channelID))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if _, err := s.store.GetSource(ctx, req.SourceID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("source %d not found", req.SourceID))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	mapping, err := s.store.AppendMapping(ctx, channelID, req.SourceID, true, 1.0)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateMapping) {
			writeErr(w, http.StatusConflict, fmt.Errorf("source %d already mapped to channel %d", req.SourceID, channelID))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if req.MakePrimary && !mapping.IsPrimary {
		if err := s.store.MakePrimary(ctx, mapping.ID); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		mapping.IsPrimary = true
		mapping.Priority = 0
	}
	writeJSON(w, http.StatusCreated, mapping)
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	mappingID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.store.DeleteMappingAndRenumber(r.Context(), mappingID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("mapping %d not found", mappingID))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	channelID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	channel, err := s.store.GetChannel(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("channel %d not found", channelID))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if !channel.Enabled {
		writeErr(w, http.StatusPreconditionFailed, models.ErrChannelDisabled)
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-store")

	err = s.selector.Serve(r.Context(), channel, w)
	if errors.Is(err, models.ErrAllStreamsExhausted) {
		// Generic unavailable: no internal detail leaks to the caller.
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.log.Error("relay ended", "channel_id", channelID, "error", err)
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.EventFilter{
		Level:    q.Get("level"),
		Category: q.Get("category"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", v))
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid since: %s", v))
			return
		}
		f.Since = &ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid until: %s", v))
			return
		}
		f.Until = &ts
	}

	events, err := s.store.ListEvents(r.Context(), f)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []models.EventLogEntry{}
	}
	writeJSON(w, http.StatusOK, events)
}
