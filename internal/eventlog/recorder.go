// Package eventlog records reconciliation and failover outcomes to the
// persistent event log and mirrors them to the process logger.
package eventlog

import (
	"context"
	"log/slog"

	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// Recorder appends events to the store. Append failures are logged and
// swallowed: the event log must never break reconciliation or serving.
type Recorder struct {
	store store.Store
	log   *slog.Logger
}

// New creates a Recorder. logger may be nil, in which case slog.Default is used.
func New(s store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, log: logger}
}

// Record appends one entry.
func (r *Recorder) Record(ctx context.Context, level, category, message string, details models.EventDetails) {
	e := &models.EventLogEntry{
		Level:    level,
		Category: category,
		Message:  message,
		Details:  details,
	}
	if err := r.store.AppendEvent(ctx, e); err != nil {
		r.log.Error("append event", "category", category, "message", message, "error", err)
		return
	}

	attrs := []any{"category", category, "reason", details.Reason}
	if details.ChannelID != nil {
		attrs = append(attrs, "channel_id", *details.ChannelID)
	}
	if details.AccountID != nil {
		attrs = append(attrs, "account_id", *details.AccountID)
	}
	switch level {
	case models.LevelError:
		r.log.Error(message, attrs...)
	case models.LevelWarn:
		r.log.Warn(message, attrs...)
	default:
		r.log.Info(message, attrs...)
	}
}

// Info records an info-level entry.
func (r *Recorder) Info(ctx context.Context, category, message string, details models.EventDetails) {
	r.Record(ctx, models.LevelInfo, category, message, details)
}

// Warn records a warn-level entry.
func (r *Recorder) Warn(ctx context.Context, category, message string, details models.EventDetails) {
	r.Record(ctx, models.LevelWarn, category, message, details)
}

// Error records an error-level entry.
func (r *Recorder) Error(ctx context.Context, category, message string, details models.EventDetails) {
	r.Record(ctx, models.LevelError, category, message, details)
}

// Int64 returns a pointer to v, for EventDetails fields.
func Int64(v int64) *int64 { return &v }
