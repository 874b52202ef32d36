package store

import (
	"context"
	"fmt"
	"time"

	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/models"
)

// Cache TTLs. Candidate lists sit on the hot serving path and change only
// during reconciliation or manual overrides, both of which invalidate.
const (
	ttlChannel    = 5 * time.Minute
	ttlChannels   = 1 * time.Minute
	ttlAccount    = 5 * time.Minute
	ttlMappings   = 2 * time.Minute
	ttlCandidates = 2 * time.Minute
)

// Cached wraps a Store with a Redis read-through cache on the read paths hit
// by stream serving. Writes pass through and invalidate the affected keys.
// Cache failures degrade to the inner store, never to an error.
type Cached struct {
	inner Store
	redis *cache.Redis
}

// NewCached wraps inner with a Redis cache.
func NewCached(inner Store, r *cache.Redis) *Cached {
	return &Cached{inner: inner, redis: r}
}

func keyChannel(id int64) string    { return fmt.Sprintf("channel:%d", id) }
func keyAccount(id int64) string    { return fmt.Sprintf("account:%d", id) }
func keyMappings(id int64) string   { return fmt.Sprintf("mappings:channel:%d", id) }
func keyCandidates(id int64) string { return fmt.Sprintf("candidates:channel:%d", id) }

const keyChannels = "channels:all"

// --- cached reads ---

func (c *Cached) GetChannel(ctx context.Context, channelID int64) (*models.Channel, error) {
	key := keyChannel(channelID)
	if hit, err := cache.Get[*models.Channel](ctx, c.redis, key); err == nil && hit != nil {
		return hit, nil
	}
	ch, err := c.inner.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	_ = cache.Set(ctx, c.redis, key, ch, ttlChannel)
	return ch, nil
}

func (c *Cached) ListChannels(ctx context.Context) ([]models.Channel, error) {
	if hit, err := cache.Get[[]models.Channel](ctx, c.redis, keyChannels); err == nil && hit != nil {
		return hit, nil
	}
	chs, err := c.inner.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	_ = cache.Set(ctx, c.redis, keyChannels, chs, ttlChannels)
	return chs, nil
}

func (c *Cached) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	key := keyAccount(accountID)
	if hit, err := cache.Get[*models.Account](ctx, c.redis, key); err == nil && hit != nil {
		return hit, nil
	}
	a, err := c.inner.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	_ = cache.Set(ctx, c.redis, key, a, ttlAccount)
	return a, nil
}

func (c *Cached) GetMappings(ctx context.Context, channelID int64) ([]models.Mapping, error) {
	key := keyMappings(channelID)
	if hit, err := cache.Get[[]models.Mapping](ctx, c.redis, key); err == nil && hit != nil {
		return hit, nil
	}
	ms, err := c.inner.GetMappings(ctx, channelID)
	if err != nil {
		return nil, err
	}
	_ = cache.Set(ctx, c.redis, key, ms, ttlMappings)
	return ms, nil
}

func (c *Cached) ListCandidates(ctx context.Context, channelID int64) ([]Candidate, error) {
	key := keyCandidates(channelID)
	if hit, err := cache.Get[[]Candidate](ctx, c.redis, key); err == nil && hit != nil {
		return hit, nil
	}
	cs, err := c.inner.ListCandidates(ctx, channelID)
	if err != nil {
		return nil, err
	}
	_ = cache.Set(ctx, c.redis, key, cs, ttlCandidates)
	return cs, nil
}

// --- invalidation helpers ---

func (c *Cached) invalidateChannel(ctx context.Context, channelID int64) {
	_ = cache.Del(ctx, c.redis, keyMappings(channelID), keyCandidates(channelID))
}

func (c *Cached) invalidateAllChannels(ctx context.Context) {
	_ = cache.DelPattern(ctx, c.redis, "mappings:channel:*")
	_ = cache.DelPattern(ctx, c.redis, "candidates:channel:*")
}

// --- mapping writes ---

func (c *Cached) GetMapping(ctx context.Context, mappingID int64) (*models.Mapping, error) {
	return c.inner.GetMapping(ctx, mappingID)
}

func (c *Cached) GetMappingsBySource(ctx context.Context, sourceID int64) ([]models.Mapping, error) {
	return c.inner.GetMappingsBySource(ctx, sourceID)
}

func (c *Cached) AppendMapping(ctx context.Context, channelID, sourceID int64, manual bool, confidence float64) (*models.Mapping, error) {
	m, err := c.inner.AppendMapping(ctx, channelID, sourceID, manual, confidence)
	if err == nil {
		c.invalidateChannel(ctx, channelID)
	}
	return m, err
}

func (c *Cached) DeleteMappingAndRenumber(ctx context.Context, mappingID int64) (bool, error) {
	m, err := c.inner.GetMapping(ctx, mappingID)
	if err != nil {
		return false, err
	}
	promoted, err := c.inner.DeleteMappingAndRenumber(ctx, mappingID)
	if err == nil {
		c.invalidateChannel(ctx, m.ChannelID)
	}
	return promoted, err
}

func (c *Cached) RenumberPriorities(ctx context.Context, channelID int64) error {
	err := c.inner.RenumberPriorities(ctx, channelID)
	if err == nil {
		c.invalidateChannel(ctx, channelID)
	}
	return err
}

func (c *Cached) MakePrimary(ctx context.Context, mappingID int64) error {
	m, err := c.inner.GetMapping(ctx, mappingID)
	if err != nil {
		return err
	}
	if err := c.inner.MakePrimary(ctx, mappingID); err != nil {
		return err
	}
	c.invalidateChannel(ctx, m.ChannelID)
	return nil
}

// --- source writes (candidate lists may reference any channel) ---

func (c *Cached) ListSourcesByAccount(ctx context.Context, accountID int64) ([]models.Source, error) {
	return c.inner.ListSourcesByAccount(ctx, accountID)
}

func (c *Cached) GetSource(ctx context.Context, sourceID int64) (*models.Source, error) {
	return c.inner.GetSource(ctx, sourceID)
}

func (c *Cached) GetSourceByStreamID(ctx context.Context, accountID int64, streamID string) (*models.Source, error) {
	return c.inner.GetSourceByStreamID(ctx, accountID, streamID)
}

func (c *Cached) UpsertSource(ctx context.Context, s *models.Source) (int64, error) {
	id, err := c.inner.UpsertSource(ctx, s)
	if err == nil {
		c.invalidateAllChannels(ctx)
	}
	return id, err
}

func (c *Cached) UpdateSourceMeta(ctx context.Context, sourceID int64, name, url, icon string, qualities []string) error {
	err := c.inner.UpdateSourceMeta(ctx, sourceID, name, url, icon, qualities)
	if err == nil {
		c.invalidateAllChannels(ctx)
	}
	return err
}

func (c *Cached) MarkSourceMissing(ctx context.Context, sourceID int64, missing bool) error {
	err := c.inner.MarkSourceMissing(ctx, sourceID, missing)
	if err == nil {
		c.invalidateAllChannels(ctx)
	}
	return err
}

func (c *Cached) DeleteSource(ctx context.Context, sourceID int64) error {
	err := c.inner.DeleteSource(ctx, sourceID)
	if err == nil {
		c.invalidateAllChannels(ctx)
	}
	return err
}

// --- accounts / channels ---

func (c *Cached) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return c.inner.ListAccounts(ctx)
}

func (c *Cached) UpdateAccountLastScan(ctx context.Context, accountID int64) error {
	err := c.inner.UpdateAccountLastScan(ctx, accountID)
	if err == nil {
		_ = cache.Del(ctx, c.redis, keyAccount(accountID))
	}
	return err
}

// --- embeddings / events (uncached) ---

func (c *Cached) StoreChannelEmbeddings(ctx context.Context, channelIDs []int64, vecs [][]float32) error {
	return c.inner.StoreChannelEmbeddings(ctx, channelIDs, vecs)
}

func (c *Cached) ListChannelsWithoutEmbeddings(ctx context.Context, limit int) ([]models.Channel, error) {
	return c.inner.ListChannelsWithoutEmbeddings(ctx, limit)
}

func (c *Cached) NearestChannelByEmbedding(ctx context.Context, vec []float32) (*models.Channel, float64, error) {
	return c.inner.NearestChannelByEmbedding(ctx, vec)
}

func (c *Cached) AppendEvent(ctx context.Context, e *models.EventLogEntry) error {
	return c.inner.AppendEvent(ctx, e)
}

func (c *Cached) ListEvents(ctx context.Context, f EventFilter) ([]models.EventLogEntry, error) {
	return c.inner.ListEvents(ctx, f)
}
