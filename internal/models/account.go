package models

import "time"

// Account is one provider credential set (an upstream playlist endpoint).
// Account lifecycle is owned by external credential management; the engine
// only reads IsActive and PlaylistURL.
type Account struct {
	ID          int64      `json:"id,omitempty"`
	Name        string     `json:"name"`
	PlaylistURL string     `json:"playlist_url,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
	IsActive    bool       `json:"is_active"`
	LastScanAt  *time.Time `json:"last_scan_at,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}
