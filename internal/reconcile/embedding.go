package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// Embedder embeds texts. Satisfied by embedding.Client.
type Embedder interface {
	Embed(ctx context.Context, texts []string, inputType string) ([][]float32, error)
}

// EmbeddingMatcher matches source names against channel name embeddings by
// cosine distance. On API or store failure it falls back to name matching,
// so a provider outage at the embedding API never stalls reconciliation.
type EmbeddingMatcher struct {
	embedder Embedder
	store    store.Store
	fallback NameMatcher
	log      *slog.Logger
}

// NewEmbeddingMatcher creates an embedding-backed matcher.
func NewEmbeddingMatcher(e Embedder, s store.Store, logger *slog.Logger) *EmbeddingMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingMatcher{embedder: e, store: s, log: logger}
}

func (m *EmbeddingMatcher) Match(ctx context.Context, sourceName string, channels []models.Channel) (*models.Channel, float64, error) {
	vecs, err := m.embedder.Embed(ctx, []string{Normalize(sourceName)}, "query")
	if err != nil || len(vecs) != 1 || len(vecs[0]) == 0 {
		if err != nil {
			m.log.Warn("embed source name failed, using name matcher", "error", err)
		}
		return m.fallback.Match(ctx, sourceName, channels)
	}

	ch, distance, err := m.store.NearestChannelByEmbedding(ctx, vecs[0])
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			m.log.Warn("nearest channel lookup failed, using name matcher", "error", err)
		}
		return m.fallback.Match(ctx, sourceName, channels)
	}

	confidence := 1 - distance
	if confidence < 0 {
		confidence = 0
	}
	return ch, confidence, nil
}

// BackfillChannelEmbeddings embeds channels that have no stored vector yet.
// Returns the number embedded.
func BackfillChannelEmbeddings(ctx context.Context, e Embedder, s store.Store, batch int) (int, error) {
	if batch <= 0 {
		batch = 64
	}
	total := 0
	for {
		channels, err := s.ListChannelsWithoutEmbeddings(ctx, batch)
		if err != nil {
			return total, err
		}
		if len(channels) == 0 {
			return total, nil
		}
		names := make([]string, len(channels))
		ids := make([]int64, len(channels))
		for i, ch := range channels {
			names[i] = Normalize(ch.Name)
			ids[i] = ch.ID
		}
		vecs, err := e.Embed(ctx, names, "document")
		if err != nil {
			return total, err
		}
		if err := s.StoreChannelEmbeddings(ctx, ids, vecs); err != nil {
			return total, err
		}
		total += len(channels)
		if len(channels) < batch {
			return total, nil
		}
	}
}
