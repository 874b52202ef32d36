package store

import (
	"context"
	"time"

	"github.com/voyagen/streamvault/internal/models"
)

// Store defines persistence for accounts, channels, sources, mappings, and
// the event log. The mapping operations uphold the channel invariants: at
// most one primary per channel, contiguous priorities starting at 0, and the
// primary holding priority 0. Mapping mutations (AppendMapping,
// DeleteMappingAndRenumber, MakePrimary) serialize per channel and are
// atomic with respect to concurrent reads of the same channel.
type Store interface {
	// --- mappings ---

	// GetMappings returns a channel's mappings ordered primary first, then
	// ascending priority.
	GetMappings(ctx context.Context, channelID int64) ([]models.Mapping, error)
	// GetMappingsBySource returns every mapping that references the source.
	GetMappingsBySource(ctx context.Context, sourceID int64) ([]models.Mapping, error)
	// GetMapping returns one mapping by id. Returns models.ErrNotFound if absent.
	GetMapping(ctx context.Context, mappingID int64) (*models.Mapping, error)
	// AppendMapping attaches a source to the tail of a channel's candidate
	// list. Placement is computed and written under the channel's mutation
	// boundary: the first mapping becomes primary at priority 0, later ones
	// take the next priority. Concurrent appenders of the same channel
	// therefore cannot produce duplicate priorities or a second primary.
	// Returns models.ErrDuplicateMapping when the source is already mapped.
	AppendMapping(ctx context.Context, channelID, sourceID int64, manual bool, confidence float64) (*models.Mapping, error)
	// DeleteMappingAndRenumber deletes a mapping and renumbers the channel's
	// survivors to contiguous 0..N-1 as one atomic unit. When the deleted
	// mapping was primary, the lowest-priority survivor is promoted;
	// promoted reports whether that happened.
	DeleteMappingAndRenumber(ctx context.Context, mappingID int64) (promoted bool, err error)
	// RenumberPriorities re-assigns contiguous priorities 0..N-1 to a
	// channel's mappings, preserving relative order, and promotes the
	// lowest-priority mapping when no primary exists.
	RenumberPriorities(ctx context.Context, channelID int64) error
	// MakePrimary moves a mapping to priority 0 / primary and renumbers the
	// rest, preserving their relative order. Used by manual overrides only.
	MakePrimary(ctx context.Context, mappingID int64) error
	// ListCandidates returns a channel's mappings joined with their sources,
	// restricted to active accounts, ordered primary first then ascending
	// priority.
	ListCandidates(ctx context.Context, channelID int64) ([]Candidate, error)

	// --- sources ---

	// ListSourcesByAccount returns the stored catalog baseline for an
	// account. Missing sources are excluded.
	ListSourcesByAccount(ctx context.Context, accountID int64) ([]models.Source, error)
	// GetSource returns one source by id, missing or not.
	GetSource(ctx context.Context, sourceID int64) (*models.Source, error)
	// GetSourceByStreamID looks a source up by its provider stream id
	// within one account, including missing rows.
	GetSourceByStreamID(ctx context.Context, accountID int64, streamID string) (*models.Source, error)
	// UpsertSource inserts or updates a source keyed by (account, stream id)
	// and returns its id.
	UpsertSource(ctx context.Context, s *models.Source) (int64, error)
	// UpdateSourceMeta updates name, URL, icon, and quality tags in place.
	// Mappings referencing the source are untouched.
	UpdateSourceMeta(ctx context.Context, sourceID int64, name, url, icon string, qualities []string) error
	// MarkSourceMissing flips the missing flag.
	MarkSourceMissing(ctx context.Context, sourceID int64, missing bool) error
	// DeleteSource removes a source row.
	DeleteSource(ctx context.Context, sourceID int64) error

	// --- channels / accounts (lifecycle external, read side here) ---

	ListChannels(ctx context.Context) ([]models.Channel, error)
	GetChannel(ctx context.Context, channelID int64) (*models.Channel, error)
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	// UpdateAccountLastScan stamps the account's last completed scan.
	UpdateAccountLastScan(ctx context.Context, accountID int64) error

	// --- channel name embeddings (optional matcher backend) ---

	// StoreChannelEmbeddings writes name embeddings for the given channels.
	StoreChannelEmbeddings(ctx context.Context, channelIDs []int64, vecs [][]float32) error
	// ListChannelsWithoutEmbeddings returns channels lacking an embedding.
	ListChannelsWithoutEmbeddings(ctx context.Context, limit int) ([]models.Channel, error)
	// NearestChannelByEmbedding returns the channel whose name embedding is
	// closest to vec, with the cosine distance.
	NearestChannelByEmbedding(ctx context.Context, vec []float32) (*models.Channel, float64, error)

	// --- event log (append-only) ---

	AppendEvent(ctx context.Context, e *models.EventLogEntry) error
	ListEvents(ctx context.Context, f EventFilter) ([]models.EventLogEntry, error)
}

// Candidate is one serving candidate: a mapping joined with its source.
type Candidate struct {
	Mapping models.Mapping `json:"mapping"`
	Source  models.Source  `json:"source"`
}

// EventFilter holds optional filters for querying the event log.
type EventFilter struct {
	Level    string     // exact match on level
	Category string     // exact match on category
	Since    *time.Time // inclusive lower bound on created_at
	Until    *time.Time // exclusive upper bound on created_at
	Limit    int        // default 100, max 1000
}

// Clamp applies the limit defaults.
func (f *EventFilter) Clamp() {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
}
