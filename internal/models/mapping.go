package models

import "time"

// Mapping links one Channel to one Source. Among a channel's mappings at
// most one is primary, priorities are contiguous integers starting at 0,
// and the primary (if any) holds priority 0.
type Mapping struct {
	ID        int64 `json:"id,omitempty"`
	ChannelID int64 `json:"channel_id"`
	SourceID  int64 `json:"source_id"`
	IsPrimary bool  `json:"is_primary"`
	Priority  int   `json:"priority"`
	// IsManual marks a mapping created by explicit human action. Manual
	// mappings are never deleted or re-prioritized by reconciliation.
	IsManual        bool       `json:"is_manual"`
	MatchConfidence float64    `json:"match_confidence"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}
