package models

import "time"

// Source is one provider-supplied upstream stream within an account's
// catalog, identified by the provider-assigned stream ID.
type Source struct {
	ID        int64    `json:"id,omitempty"`
	AccountID int64    `json:"account_id"`
	StreamID  string   `json:"stream_id"`
	Name      string   `json:"name"`
	Icon      string   `json:"icon,omitempty"`
	Category  string   `json:"category,omitempty"`
	URL       string   `json:"url,omitempty"`
	Qualities []string `json:"qualities,omitempty"`
	// Missing marks a source that vanished from the provider catalog but is
	// still referenced by a manual mapping. Missing sources are excluded
	// from the scan baseline so repeated scans stay idempotent.
	Missing     bool       `json:"missing"`
	FirstSeenAt *time.Time `json:"first_seen_at,omitempty"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

// SameMeta reports whether name, icon, and quality tags are unchanged.
// Quality tag comparison is order-insensitive.
func (s *Source) SameMeta(other *Source) bool {
	if s.Name != other.Name || s.Icon != other.Icon {
		return false
	}
	if len(s.Qualities) != len(other.Qualities) {
		return false
	}
	seen := make(map[string]bool, len(s.Qualities))
	for _, q := range s.Qualities {
		seen[q] = true
	}
	for _, q := range other.Qualities {
		if !seen[q] {
			return false
		}
	}
	return true
}
