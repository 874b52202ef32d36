package models

import "errors"

// Sentinel errors shared across the engine.
var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrChannelDisabled is returned when a stream is requested for a
	// disabled channel.
	ErrChannelDisabled = errors.New("channel is disabled")
	// ErrAllStreamsExhausted is returned when every candidate source for a
	// channel failed within the request deadline. It is the only
	// serving-time failure surfaced to callers.
	ErrAllStreamsExhausted = errors.New("all streams exhausted")
	// ErrScanInProgress is returned when a reconciliation pass for the same
	// account is already running.
	ErrScanInProgress = errors.New("scan already in progress for account")
	// ErrDuplicateMapping is returned when a source is already mapped to
	// the target channel.
	ErrDuplicateMapping = errors.New("source already mapped to channel")
)
