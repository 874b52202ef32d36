package models

// SourceChange pairs the stored and freshly scanned versions of a source
// whose metadata differs while the provider stream ID is unchanged.
type SourceChange struct {
	Old Source `json:"old"`
	New Source `json:"new"`
}

// ChangeSet is the output of diffing one account's fresh catalog against the
// stored catalog. It is ephemeral: built per scan, consumed by the
// reconciler, and summarized into the event log.
type ChangeSet struct {
	AccountID        int64          `json:"account_id"`
	NewSources       []Source       `json:"new_sources,omitempty"`
	RemovedSourceIDs []int64        `json:"removed_source_ids,omitempty"`
	ChangedSources   []SourceChange `json:"changed_sources,omitempty"`
}

// Empty reports whether the change set contains no changes.
func (c ChangeSet) Empty() bool {
	return len(c.NewSources) == 0 && len(c.RemovedSourceIDs) == 0 && len(c.ChangedSources) == 0
}

// ScanSummary is the count summary returned by one reconciliation pass.
type ScanSummary struct {
	AccountID              int64 `json:"account_id"`
	SourcesScanned         int   `json:"sources_scanned"`
	NewMatchesCreated      int   `json:"new_matches_created"`
	MappingsRemoved        int   `json:"mappings_removed"`
	MappingsUpdated        int   `json:"mappings_updated"`
	ManualMatchesPreserved int   `json:"manual_matches_preserved"`
	OrphanSources          int   `json:"orphan_sources"`
	ChannelErrors          int   `json:"channel_errors"`
}
