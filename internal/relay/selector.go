package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/voyagen/streamvault/internal/eventlog"
	"github.com/voyagen/streamvault/internal/metrics"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// Config bounds the selection loop and the upgrade timer.
type Config struct {
	// AttemptTimeout caps connect + response headers per candidate.
	AttemptTimeout time.Duration
	// StreamDeadline caps the whole selection loop. Candidates that cannot
	// be attempted within the remaining budget are skipped.
	StreamDeadline time.Duration
	// UpgradeWindow is how long a relay serves a non-primary source before
	// a background upgrade attempt runs.
	UpgradeWindow time.Duration
}

// DefaultConfig matches live-TV viewer tolerance: fail over within a couple
// of seconds or give up.
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: time.Second,
		StreamDeadline: 2 * time.Second,
		UpgradeWindow:  time.Minute,
	}
}

// Selector serves stream requests with failover across a channel's
// candidates. One Serve call is one relay; concurrent requests run
// independent relays.
type Selector struct {
	store     store.Store
	events    *eventlog.Recorder
	metrics   metrics.Recorder
	client    *http.Client
	log       *slog.Logger
	userAgent string
	cfg       Config
}

// NewSelector creates a Selector. metrics and logger may be nil. The client
// must not carry its own timeout; dial budgets are enforced per attempt.
func NewSelector(s store.Store, events *eventlog.Recorder, rec metrics.Recorder, userAgent string, cfg Config, logger *slog.Logger) *Selector {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		store:     s,
		events:    events,
		metrics:   rec,
		client:    &http.Client{},
		log:       logger,
		userAgent: userAgent,
		cfg:       cfg,
	}
}

// Serve streams the channel to w, attempting candidates in order until one
// answers. It blocks until the stream ends, the caller disconnects (ctx), or
// every candidate fails. On exhaustion it returns
// models.ErrAllStreamsExhausted; callers must map that to a generic
// unavailable response with no internal detail.
func (s *Selector) Serve(ctx context.Context, channel *models.Channel, w io.Writer) error {
	candidates, err := s.store.ListCandidates(ctx, channel.ID)
	if err != nil {
		return fmt.Errorf("list candidates for channel %d: %w", channel.ID, err)
	}

	relayID := uuid.NewString()
	deadline := time.Now().Add(s.cfg.StreamDeadline)

	var lastFailed *store.Candidate
	lastReason := ""
	lastStatus := 0

	for i := range candidates {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		budget := s.cfg.AttemptTimeout
		if budget > remaining {
			budget = remaining
		}

		cand := candidates[i]
		up, aerr := s.dial(ctx, cand, budget)
		if aerr != nil {
			s.metrics.RecordAttemptFailure(aerr.Reason)
			if aerr.Status != 0 {
				s.metrics.RecordHTTPStatus(aerr.Status)
			}
			s.log.Warn("candidate failed",
				"relay_id", relayID,
				"channel_id", channel.ID,
				"source_id", cand.Source.ID,
				"reason", aerr.Error())
			lastFailed, lastReason, lastStatus = &candidates[i], aerr.Reason, aerr.Status
			continue
		}

		if lastFailed != nil {
			s.events.Warn(ctx, models.CategoryStream, "failed over to backup source",
				models.EventDetails{
					ChannelID:    eventlog.Int64(channel.ID),
					FromSourceID: eventlog.Int64(lastFailed.Source.ID),
					ToSourceID:   eventlog.Int64(cand.Source.ID),
					Reason:       lastReason,
					HTTPStatus:   lastStatus,
					RelayID:      relayID,
				})
		}

		served, err := s.relay(ctx, relayID, channel, candidates, i, up, w)
		if err != nil && !served {
			// Connected but died before a single byte reached the caller:
			// classified as a stream error. The next candidate gets its
			// turn if budget remains, otherwise this is exhaustion.
			s.metrics.RecordAttemptFailure(models.ReasonStreamError)
			lastFailed, lastReason, lastStatus = &candidates[i], models.ReasonStreamError, 0
			if time.Now().Before(deadline) {
				continue
			}
			break
		}
		return err
	}

	details := models.EventDetails{
		ChannelID: eventlog.Int64(channel.ID),
		Reason:    models.ReasonAllStreamsExhausted,
		RelayID:   relayID,
	}
	if lastFailed != nil {
		details.FromSourceID = eventlog.Int64(lastFailed.Source.ID)
	}
	s.events.Error(ctx, models.CategoryStream, "all streams exhausted", details)
	s.metrics.RecordStreamRequest("exhausted")
	return models.ErrAllStreamsExhausted
}
