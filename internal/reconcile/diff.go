package reconcile

import "github.com/voyagen/streamvault/internal/models"

// Diff compares an account's stored catalog baseline against a freshly
// fetched catalog. Identity is the provider stream ID; missing sources are
// expected to be excluded from stored by the caller. Pure function, no I/O.
func Diff(accountID int64, stored, fresh []models.Source) models.ChangeSet {
	cs := models.ChangeSet{AccountID: accountID}

	byStreamID := make(map[string]*models.Source, len(stored))
	for i := range stored {
		byStreamID[stored[i].StreamID] = &stored[i]
	}

	seen := make(map[string]bool, len(fresh))
	for i := range fresh {
		f := fresh[i]
		if f.StreamID == "" || seen[f.StreamID] {
			// Providers occasionally duplicate entries; first one wins.
			continue
		}
		seen[f.StreamID] = true

		old, ok := byStreamID[f.StreamID]
		if !ok {
			cs.NewSources = append(cs.NewSources, f)
			continue
		}
		if old.URL != f.URL || !old.SameMeta(&f) {
			cs.ChangedSources = append(cs.ChangedSources, models.SourceChange{Old: *old, New: f})
		}
	}

	for i := range stored {
		if !seen[stored[i].StreamID] {
			cs.RemovedSourceIDs = append(cs.RemovedSourceIDs, stored[i].ID)
		}
	}
	return cs
}
