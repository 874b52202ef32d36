package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voyagen/streamvault/internal/models"
)

// Memory is an in-memory Store. It upholds the same channel invariants as
// Postgres and is safe for concurrent use. Used in tests and for running
// without a database.
type Memory struct {
	mu sync.Mutex

	accounts map[int64]*models.Account
	channels map[int64]*models.Channel
	sources  map[int64]*models.Source
	mappings map[int64]*models.Mapping
	events   []models.EventLogEntry

	embeddings map[int64][]float32

	nextAccountID int64
	nextChannelID int64
	nextSourceID  int64
	nextMappingID int64
	nextEventID   int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:   make(map[int64]*models.Account),
		channels:   make(map[int64]*models.Channel),
		sources:    make(map[int64]*models.Source),
		mappings:   make(map[int64]*models.Mapping),
		embeddings: make(map[int64][]float32),
	}
}

// AddAccount seeds an account and returns its id.
func (m *Memory) AddAccount(a models.Account) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAccountID++
	a.ID = m.nextAccountID
	if a.CreatedAt == nil {
		now := time.Now()
		a.CreatedAt = &now
	}
	m.accounts[a.ID] = &a
	return a.ID
}

// AddChannel seeds a channel and returns its id.
func (m *Memory) AddChannel(c models.Channel) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChannelID++
	c.ID = m.nextChannelID
	if c.CreatedAt == nil {
		now := time.Now()
		c.CreatedAt = &now
	}
	m.channels[c.ID] = &c
	return c.ID
}

func (m *Memory) GetMappings(ctx context.Context, channelID int64) ([]models.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channelMappingsLocked(channelID), nil
}

// channelMappingsLocked returns copies ordered primary first, then priority.
func (m *Memory) channelMappingsLocked(channelID int64) []models.Mapping {
	var out []models.Mapping
	for _, mp := range m.mappings {
		if mp.ChannelID == channelID {
			out = append(out, *mp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) GetMappingsBySource(ctx context.Context, sourceID int64) ([]models.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Mapping
	for _, mp := range m.mappings {
		if mp.SourceID == sourceID {
			out = append(out, *mp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetMapping(ctx context.Context, mappingID int64) (*models.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.mappings[mappingID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *mp
	return &cp, nil
}

// AppendMapping computes tail placement and inserts under the store mutex,
// so concurrent appenders of one channel always observe distinct tails.
func (m *Memory) AppendMapping(ctx context.Context, channelID, sourceID int64, manual bool, confidence float64) (*models.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[channelID]; !ok {
		return nil, fmt.Errorf("AppendMapping: channel %d: %w", channelID, models.ErrNotFound)
	}
	if _, ok := m.sources[sourceID]; !ok {
		return nil, fmt.Errorf("AppendMapping: source %d: %w", sourceID, models.ErrNotFound)
	}
	existing := m.channelMappingsLocked(channelID)
	for _, mp := range existing {
		if mp.SourceID == sourceID {
			return nil, models.ErrDuplicateMapping
		}
	}
	m.nextMappingID++
	now := time.Now()
	mp := &models.Mapping{
		ID:              m.nextMappingID,
		ChannelID:       channelID,
		SourceID:        sourceID,
		IsPrimary:       len(existing) == 0,
		Priority:        len(existing),
		IsManual:        manual,
		MatchConfidence: confidence,
		CreatedAt:       &now,
	}
	m.mappings[mp.ID] = mp
	cp := *mp
	return &cp, nil
}

// AddMapping seeds a mapping exactly as given, bypassing tail placement.
// Tests use it to construct non-contiguous states for the renumber paths.
func (m *Memory) AddMapping(mp models.Mapping) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMappingID++
	mp.ID = m.nextMappingID
	if mp.CreatedAt == nil {
		now := time.Now()
		mp.CreatedAt = &now
	}
	m.mappings[mp.ID] = &mp
	return mp.ID
}

func (m *Memory) DeleteMappingAndRenumber(ctx context.Context, mappingID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.mappings[mappingID]
	if !ok {
		return false, models.ErrNotFound
	}
	channelID, wasPrimary := mp.ChannelID, mp.IsPrimary
	delete(m.mappings, mappingID)
	survivors := m.renumberLocked(channelID)
	return wasPrimary && survivors > 0, nil
}

func (m *Memory) RenumberPriorities(ctx context.Context, channelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renumberLocked(channelID)
	return nil
}

// renumberLocked assigns contiguous priorities 0..N-1 preserving relative
// order, first survivor becoming the sole primary. Returns survivor count.
func (m *Memory) renumberLocked(channelID int64) int {
	ordered := m.channelMappingsLocked(channelID)
	for i, mp := range ordered {
		live := m.mappings[mp.ID]
		live.Priority = i
		live.IsPrimary = i == 0
	}
	return len(ordered)
}

func (m *Memory) MakePrimary(ctx context.Context, mappingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.mappings[mappingID]
	if !ok {
		return models.ErrNotFound
	}
	ordered := m.channelMappingsLocked(target.ChannelID)
	next := 1
	for _, mp := range ordered {
		live := m.mappings[mp.ID]
		if mp.ID == mappingID {
			live.Priority = 0
			live.IsPrimary = true
			continue
		}
		live.Priority = next
		live.IsPrimary = false
		next++
	}
	return nil
}

func (m *Memory) ListCandidates(ctx context.Context, channelID int64) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Candidate
	for _, mp := range m.channelMappingsLocked(channelID) {
		src, ok := m.sources[mp.SourceID]
		if !ok {
			continue
		}
		acct, ok := m.accounts[src.AccountID]
		if !ok || !acct.IsActive {
			continue
		}
		out = append(out, Candidate{Mapping: mp, Source: *src})
	}
	return out, nil
}

func (m *Memory) ListSourcesByAccount(ctx context.Context, accountID int64) ([]models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Source
	for _, s := range m.sources {
		if s.AccountID == accountID && !s.Missing {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetSource(ctx context.Context, sourceID int64) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[sourceID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) GetSourceByStreamID(ctx context.Context, accountID int64, streamID string) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sources {
		if s.AccountID == accountID && s.StreamID == streamID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *Memory) UpsertSource(ctx context.Context, s *models.Source) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, existing := range m.sources {
		if existing.AccountID == s.AccountID && existing.StreamID == s.StreamID {
			existing.Name = s.Name
			existing.Icon = s.Icon
			existing.Category = s.Category
			existing.URL = s.URL
			existing.Qualities = append([]string(nil), s.Qualities...)
			existing.Missing = false
			existing.LastSeenAt = &now
			s.ID = existing.ID
			return existing.ID, nil
		}
	}
	m.nextSourceID++
	cp := *s
	cp.ID = m.nextSourceID
	cp.Qualities = append([]string(nil), s.Qualities...)
	cp.Missing = false
	cp.FirstSeenAt = &now
	cp.LastSeenAt = &now
	m.sources[cp.ID] = &cp
	s.ID = cp.ID
	return cp.ID, nil
}

func (m *Memory) UpdateSourceMeta(ctx context.Context, sourceID int64, name, url, icon string, qualities []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[sourceID]
	if !ok {
		return models.ErrNotFound
	}
	now := time.Now()
	s.Name = name
	s.URL = url
	s.Icon = icon
	s.Qualities = append([]string(nil), qualities...)
	s.LastSeenAt = &now
	return nil
}

func (m *Memory) MarkSourceMissing(ctx context.Context, sourceID int64, missing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[sourceID]
	if !ok {
		return models.ErrNotFound
	}
	s.Missing = missing
	return nil
}

func (m *Memory) DeleteSource(ctx context.Context, sourceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, sourceID)
	for id, mp := range m.mappings {
		if mp.SourceID == sourceID {
			delete(m.mappings, id)
		}
	}
	return nil
}

func (m *Memory) ListChannels(ctx context.Context) ([]models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Channel
	for _, c := range m.channels {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetChannel(ctx context.Context, channelID int64) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[channelID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) ListAccounts(ctx context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Account
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateAccountLastScan(ctx context.Context, accountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return models.ErrNotFound
	}
	now := time.Now()
	a.LastScanAt = &now
	return nil
}

func (m *Memory) StoreChannelEmbeddings(ctx context.Context, channelIDs []int64, vecs [][]float32) error {
	if len(channelIDs) != len(vecs) {
		return fmt.Errorf("StoreChannelEmbeddings: %d ids for %d vectors", len(channelIDs), len(vecs))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range channelIDs {
		if vecs[i] == nil {
			continue
		}
		m.embeddings[id] = append([]float32(nil), vecs[i]...)
	}
	return nil
}

func (m *Memory) ListChannelsWithoutEmbeddings(ctx context.Context, limit int) ([]models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Channel
	for _, c := range m.channels {
		if _, ok := m.embeddings[c.ID]; !ok {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) NearestChannelByEmbedding(ctx context.Context, vec []float32) (*models.Channel, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bestID := int64(0)
	bestDist := math.Inf(1)
	for id, emb := range m.embeddings {
		d := cosineDistance(vec, emb)
		if d < bestDist {
			bestDist = d
			bestID = id
		}
	}
	c, ok := m.channels[bestID]
	if !ok {
		return nil, 0, models.ErrNotFound
	}
	cp := *c
	return &cp, bestDist, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return math.Inf(1)
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func (m *Memory) AppendEvent(ctx context.Context, e *models.EventLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	e.ID = m.nextEventID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, f EventFilter) ([]models.EventLogEntry, error) {
	f.Clamp()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EventLogEntry
	for i := len(m.events) - 1; i >= 0 && len(out) < f.Limit; i-- {
		e := m.events[i]
		if f.Level != "" && !strings.EqualFold(e.Level, f.Level) {
			continue
		}
		if f.Category != "" && !strings.EqualFold(e.Category, f.Category) {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && !e.CreatedAt.Before(*f.Until) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
