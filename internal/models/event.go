package models

import "time"

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event categories.
const (
	CategoryProvider = "provider"
	CategoryMapping  = "mapping"
	CategoryStream   = "stream"
)

// Reason codes carried in event details.
const (
	ReasonConnectionTimeout   = "ConnectionTimeout"
	ReasonConnectionError     = "ConnectionError"
	ReasonHTTPError           = "HttpError"
	ReasonStreamError         = "StreamError"
	ReasonAllStreamsExhausted = "AllStreamsExhausted"
	ReasonSourceRemoved       = "SourceRemoved"
	ReasonBackupPromoted      = "BackupPromoted"
	ReasonQualityUpgrade      = "QualityUpgrade"
	ReasonChannelFailed       = "ChannelFailed"
)

// EventDetails is the structured payload of an event log entry. Source IDs
// are pointers so "no source" (e.g. exhaustion with no upgrade target) is
// encoded as null rather than zero.
type EventDetails struct {
	AccountID    *int64 `json:"account_id,omitempty"`
	ChannelID    *int64 `json:"channel_id,omitempty"`
	FromSourceID *int64 `json:"from_source_id,omitempty"`
	ToSourceID   *int64 `json:"to_source_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	HTTPStatus   int    `json:"http_status,omitempty"`
	RelayID      string `json:"relay_id,omitempty"`
}

// EventLogEntry is one append-only record of a reconciliation or failover
// outcome. Rotation and retention are external concerns.
type EventLogEntry struct {
	ID        int64        `json:"id,omitempty"`
	Level     string       `json:"level"`
	Category  string       `json:"category"`
	Message   string       `json:"message"`
	Details   EventDetails `json:"details"`
	CreatedAt time.Time    `json:"created_at"`
}
