package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/voyagen/streamvault/internal/eventlog"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// relay copies the upstream body to w until EOF, error, or caller
// disconnect. While serving a non-primary candidate a background goroutine
// periodically dials better-ranked candidates; a successful dial is handed
// over on swap and the reader switches between chunks, so the caller sees an
// uninterrupted byte stream. Returns whether any bytes reached the caller.
func (s *Selector) relay(ctx context.Context, relayID string, channel *models.Channel, candidates []store.Candidate, idx int, up *upstream, w io.Writer) (served bool, err error) {
	s.metrics.RelayStarted()
	defer s.metrics.RelayEnded()
	s.metrics.RecordStreamRequest("ok")

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	swaps := make(chan *upstream, 1)
	if !up.candidate.Mapping.IsPrimary {
		go s.upgradeLoop(rctx, relayID, channel, up.candidate.Source.ID, swaps)
	}

	current := up
	defer func() {
		current.Close()
		// An upgrade may have landed after the last swap check.
		select {
		case pending := <-swaps:
			pending.Close()
		default:
		}
	}()

	flush := func() {}
	if f, ok := w.(interface{ Flush() }); ok {
		flush = f.Flush
	}

	buf := make([]byte, 32*1024)
	for {
		select {
		case next := <-swaps:
			old := current
			current = next
			old.Close()
			s.metrics.RecordUpgrade()
			s.events.Info(ctx, models.CategoryStream, "upgraded to better-ranked source",
				models.EventDetails{
					ChannelID:    eventlog.Int64(channel.ID),
					FromSourceID: eventlog.Int64(old.candidate.Source.ID),
					ToSourceID:   eventlog.Int64(next.candidate.Source.ID),
					Reason:       models.ReasonQualityUpgrade,
					RelayID:      relayID,
				})
		default:
		}

		n, rerr := current.resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// Caller went away.
				return true, nil
			}
			flush()
			served = true
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || rctx.Err() != nil {
				return served, nil
			}
			if served {
				s.events.Warn(ctx, models.CategoryStream, "stream ended with error",
					models.EventDetails{
						ChannelID:    eventlog.Int64(channel.ID),
						FromSourceID: eventlog.Int64(current.candidate.Source.ID),
						Reason:       models.ReasonStreamError,
						RelayID:      relayID,
					})
			}
			return served, fmt.Errorf("read upstream: %w", rerr)
		}
	}
}

// upgradeLoop waits out the upgrade window, then tries to reconnect to the
// channel's primary or any candidate ranked ahead of the one serving. A
// successful dial is sent over swaps; failures restart the window. The loop
// ends when the relay context does or when the relay reaches the primary.
func (s *Selector) upgradeLoop(ctx context.Context, relayID string, channel *models.Channel, servingSourceID int64, swaps chan<- *upstream) {
	timer := time.NewTimer(s.cfg.UpgradeWindow)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// Re-read candidates: reconciliation may have changed the ranking
		// since the relay started.
		candidates, err := s.store.ListCandidates(ctx, channel.ID)
		if err != nil {
			s.log.Warn("upgrade candidate lookup failed", "relay_id", relayID, "error", err)
			timer.Reset(s.cfg.UpgradeWindow)
			continue
		}

		if next, ok := s.dialBetter(ctx, candidates, servingSourceID); ok {
			select {
			case swaps <- next:
				servingSourceID = next.candidate.Source.ID
				if next.candidate.Mapping.IsPrimary {
					return
				}
			case <-ctx.Done():
				next.Close()
				return
			}
		}
		timer.Reset(s.cfg.UpgradeWindow)
	}
}

// dialBetter attempts candidates ranked ahead of the serving source, best
// first, and returns the first that answers.
func (s *Selector) dialBetter(ctx context.Context, candidates []store.Candidate, servingSourceID int64) (*upstream, bool) {
	for i := range candidates {
		cand := candidates[i]
		if cand.Source.ID == servingSourceID {
			// Everything from here on is ranked at or below the current
			// source; nothing left worth dialing.
			return nil, false
		}
		up, aerr := s.dial(ctx, cand, s.cfg.AttemptTimeout)
		if aerr != nil {
			s.metrics.RecordAttemptFailure(aerr.Reason)
			continue
		}
		return up, true
	}
	return nil, false
}
