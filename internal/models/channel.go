package models

import "time"

// Channel is a stable entry in the consumer-facing lineup. Channel lifecycle
// (catalog import, enable/disable) is owned externally; the engine reads
// channels when matching sources and serving streams.
type Channel struct {
	ID          int64      `json:"id,omitempty"`
	ExternalKey string     `json:"external_key"`
	Name        string     `json:"name"`
	Icon        string     `json:"icon,omitempty"`
	Enabled     bool       `json:"enabled"`
	DisplayOrder int       `json:"display_order,omitempty"`
	// Synthetic marks a channel created ad hoc from an unmatched source
	// rather than from the canonical guide.
	Synthetic bool       `json:"synthetic"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}
