package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/voyagen/streamvault/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}
	// Register pgvector types so []float32 embeddings scan cleanly.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

const mappingCols = `id, channel_id, source_id, is_primary, priority, is_manual, match_confidence, created_at`

func scanMapping(row pgx.Row) (*models.Mapping, error) {
	var m models.Mapping
	err := row.Scan(&m.ID, &m.ChannelID, &m.SourceID, &m.IsPrimary, &m.Priority,
		&m.IsManual, &m.MatchConfidence, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMappings returns a channel's mappings ordered primary first, then ascending priority.
func (p *Postgres) GetMappings(ctx context.Context, channelID int64) ([]models.Mapping, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+mappingCols+` FROM mappings
		 WHERE channel_id = $1
		 ORDER BY is_primary DESC, priority ASC, id ASC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("GetMappings: %w", err)
	}
	defer rows.Close()
	return collectMappings(rows)
}

// GetMappingsBySource returns every mapping referencing the source.
func (p *Postgres) GetMappingsBySource(ctx context.Context, sourceID int64) ([]models.Mapping, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+mappingCols+` FROM mappings WHERE source_id = $1 ORDER BY id ASC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("GetMappingsBySource: %w", err)
	}
	defer rows.Close()
	return collectMappings(rows)
}

func collectMappings(rows pgx.Rows) ([]models.Mapping, error) {
	var out []models.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetMapping returns one mapping by id.
func (p *Postgres) GetMapping(ctx context.Context, mappingID int64) (*models.Mapping, error) {
	m, err := scanMapping(p.pool.QueryRow(ctx,
		`SELECT `+mappingCols+` FROM mappings WHERE id = $1`, mappingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetMapping: %w", err)
	}
	return m, nil
}

// lockChannelTx takes the channel row lock that serializes mapping
// mutations for one channel. Returns models.ErrNotFound for an unknown
// channel.
func lockChannelTx(ctx context.Context, tx pgx.Tx, channelID int64) error {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM channels WHERE id = $1 FOR UPDATE`, channelID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock channel: %w", err)
	}
	return nil
}

// AppendMapping attaches a source to the channel's tail. The placement is
// computed inside the transaction, behind the channel row lock, so two
// concurrent appenders cannot both observe the same tail.
func (p *Postgres) AppendMapping(ctx context.Context, channelID, sourceID int64, manual bool, confidence float64) (*models.Mapping, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockChannelTx(ctx, tx, channelID); err != nil {
		return nil, err
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mappings WHERE channel_id = $1 AND source_id = $2)`,
		channelID, sourceID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check existing mapping: %w", err)
	}
	if exists {
		return nil, models.ErrDuplicateMapping
	}

	var tail int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM mappings WHERE channel_id = $1`, channelID).Scan(&tail); err != nil {
		return nil, fmt.Errorf("count mappings: %w", err)
	}

	m := &models.Mapping{
		ChannelID:       channelID,
		SourceID:        sourceID,
		IsPrimary:       tail == 0,
		Priority:        tail,
		IsManual:        manual,
		MatchConfidence: confidence,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO mappings (channel_id, source_id, is_primary, priority, is_manual, match_confidence)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		m.ChannelID, m.SourceID, m.IsPrimary, m.Priority, m.IsManual, m.MatchConfidence,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("AppendMapping: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// DeleteMappingAndRenumber deletes a mapping and renumbers the channel's
// survivors in one transaction, so a concurrent reader never sees a channel
// without a primary or with a priority gap.
func (p *Postgres) DeleteMappingAndRenumber(ctx context.Context, mappingID int64) (bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var channelID int64
	err = tx.QueryRow(ctx,
		`SELECT channel_id FROM mappings WHERE id = $1`, mappingID).Scan(&channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, models.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("load mapping: %w", err)
	}
	if err := lockChannelTx(ctx, tx, channelID); err != nil {
		return false, err
	}

	var wasPrimary bool
	err = tx.QueryRow(ctx,
		`DELETE FROM mappings WHERE id = $1 RETURNING is_primary`, mappingID,
	).Scan(&wasPrimary)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, models.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("delete mapping: %w", err)
	}

	survivors, err := renumberTx(ctx, tx, channelID)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return wasPrimary && survivors > 0, nil
}

// RenumberPriorities re-assigns contiguous priorities to a channel's mappings.
func (p *Postgres) RenumberPriorities(ctx context.Context, channelID int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := lockChannelTx(ctx, tx, channelID); err != nil {
		return err
	}
	if _, err := renumberTx(ctx, tx, channelID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// renumberTx locks a channel's mappings, assigns contiguous priorities
// 0..N-1 preserving relative order (existing primary first), and ensures
// the first survivor is the sole primary. Returns the survivor count.
// Callers hold the channel row lock via lockChannelTx.
func renumberTx(ctx context.Context, tx pgx.Tx, channelID int64) (int, error) {
	rows, err := tx.Query(ctx,
		`SELECT id FROM mappings
		 WHERE channel_id = $1
		 ORDER BY is_primary DESC, priority ASC, id ASC
		 FOR UPDATE`, channelID)
	if err != nil {
		return 0, fmt.Errorf("lock mappings: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan mapping id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Clear primaries first so the one-primary partial index never trips.
	if _, err := tx.Exec(ctx,
		`UPDATE mappings SET is_primary = FALSE WHERE channel_id = $1 AND is_primary`, channelID); err != nil {
		return 0, fmt.Errorf("clear primary: %w", err)
	}
	for i, id := range ids {
		if _, err := tx.Exec(ctx,
			`UPDATE mappings SET priority = $1, is_primary = $2 WHERE id = $3`,
			i, i == 0, id); err != nil {
			return 0, fmt.Errorf("renumber mapping %d: %w", id, err)
		}
	}
	return len(ids), nil
}

// MakePrimary moves a mapping to priority 0 / primary and renumbers the rest.
func (p *Postgres) MakePrimary(ctx context.Context, mappingID int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var channelID int64
	err = tx.QueryRow(ctx, `SELECT channel_id FROM mappings WHERE id = $1`, mappingID).Scan(&channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load mapping: %w", err)
	}
	if err := lockChannelTx(ctx, tx, channelID); err != nil {
		return err
	}

	rows, err := tx.Query(ctx,
		`SELECT id FROM mappings
		 WHERE channel_id = $1 AND id <> $2
		 ORDER BY is_primary DESC, priority ASC, id ASC
		 FOR UPDATE`, channelID, mappingID)
	if err != nil {
		return fmt.Errorf("lock mappings: %w", err)
	}
	var rest []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan mapping id: %w", err)
		}
		rest = append(rest, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE mappings SET is_primary = FALSE WHERE channel_id = $1 AND is_primary`, channelID); err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE mappings SET priority = 0, is_primary = TRUE WHERE id = $1`, mappingID); err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	for i, id := range rest {
		if _, err := tx.Exec(ctx,
			`UPDATE mappings SET priority = $1, is_primary = FALSE WHERE id = $2`, i+1, id); err != nil {
			return fmt.Errorf("renumber mapping %d: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListCandidates returns a channel's mappings joined with their sources,
// restricted to active accounts.
func (p *Postgres) ListCandidates(ctx context.Context, channelID int64) ([]Candidate, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT m.id, m.channel_id, m.source_id, m.is_primary, m.priority, m.is_manual, m.match_confidence, m.created_at,
		        s.id, s.account_id, s.stream_id, s.name, s.icon, s.category, s.url, s.qualities, s.missing, s.first_seen_at, s.last_seen_at
		 FROM mappings m
		 JOIN sources s ON s.id = m.source_id
		 JOIN accounts a ON a.id = s.account_id
		 WHERE m.channel_id = $1 AND a.is_active
		 ORDER BY m.is_primary DESC, m.priority ASC, m.id ASC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("ListCandidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		err := rows.Scan(
			&c.Mapping.ID, &c.Mapping.ChannelID, &c.Mapping.SourceID, &c.Mapping.IsPrimary,
			&c.Mapping.Priority, &c.Mapping.IsManual, &c.Mapping.MatchConfidence, &c.Mapping.CreatedAt,
			&c.Source.ID, &c.Source.AccountID, &c.Source.StreamID, &c.Source.Name, &c.Source.Icon,
			&c.Source.Category, &c.Source.URL, &c.Source.Qualities, &c.Source.Missing,
			&c.Source.FirstSeenAt, &c.Source.LastSeenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const sourceCols = `id, account_id, stream_id, name, icon, category, url, qualities, missing, first_seen_at, last_seen_at`

func scanSource(row pgx.Row) (*models.Source, error) {
	var s models.Source
	err := row.Scan(&s.ID, &s.AccountID, &s.StreamID, &s.Name, &s.Icon, &s.Category,
		&s.URL, &s.Qualities, &s.Missing, &s.FirstSeenAt, &s.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSourcesByAccount returns the stored catalog baseline (missing excluded).
func (p *Postgres) ListSourcesByAccount(ctx context.Context, accountID int64) ([]models.Source, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+sourceCols+` FROM sources
		 WHERE account_id = $1 AND NOT missing
		 ORDER BY id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("ListSourcesByAccount: %w", err)
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// GetSource returns one source by id, missing or not.
func (p *Postgres) GetSource(ctx context.Context, sourceID int64) (*models.Source, error) {
	s, err := scanSource(p.pool.QueryRow(ctx,
		`SELECT `+sourceCols+` FROM sources WHERE id = $1`, sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetSource: %w", err)
	}
	return s, nil
}

// GetSourceByStreamID looks a source up by provider stream id, including missing rows.
func (p *Postgres) GetSourceByStreamID(ctx context.Context, accountID int64, streamID string) (*models.Source, error) {
	s, err := scanSource(p.pool.QueryRow(ctx,
		`SELECT `+sourceCols+` FROM sources WHERE account_id = $1 AND stream_id = $2`, accountID, streamID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetSourceByStreamID: %w", err)
	}
	return s, nil
}

// UpsertSource inserts or updates a source keyed by (account, stream id).
func (p *Postgres) UpsertSource(ctx context.Context, s *models.Source) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO sources (account_id, stream_id, name, icon, category, url, qualities, missing, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NOW(), NOW())
		 ON CONFLICT (account_id, stream_id) DO UPDATE SET
		   name = EXCLUDED.name, icon = EXCLUDED.icon, category = EXCLUDED.category,
		   url = EXCLUDED.url, qualities = EXCLUDED.qualities,
		   missing = FALSE, last_seen_at = NOW()
		 RETURNING id`,
		s.AccountID, s.StreamID, s.Name, s.Icon, s.Category, s.URL, s.Qualities,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("UpsertSource: %w", err)
	}
	s.ID = id
	return id, nil
}

// UpdateSourceMeta updates name, URL, icon, and quality tags in place.
func (p *Postgres) UpdateSourceMeta(ctx context.Context, sourceID int64, name, url, icon string, qualities []string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE sources SET name = $2, url = $3, icon = $4, qualities = $5, last_seen_at = NOW() WHERE id = $1`,
		sourceID, name, url, icon, qualities)
	if err != nil {
		return fmt.Errorf("UpdateSourceMeta: %w", err)
	}
	return nil
}

// MarkSourceMissing flips the missing flag.
func (p *Postgres) MarkSourceMissing(ctx context.Context, sourceID int64, missing bool) error {
	_, err := p.pool.Exec(ctx, `UPDATE sources SET missing = $2 WHERE id = $1`, sourceID, missing)
	if err != nil {
		return fmt.Errorf("MarkSourceMissing: %w", err)
	}
	return nil
}

// DeleteSource removes a source row.
func (p *Postgres) DeleteSource(ctx context.Context, sourceID int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("DeleteSource: %w", err)
	}
	return nil
}

const channelCols = `id, external_key, name, icon, enabled, display_order, synthetic, created_at`

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var c models.Channel
	err := row.Scan(&c.ID, &c.ExternalKey, &c.Name, &c.Icon, &c.Enabled,
		&c.DisplayOrder, &c.Synthetic, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChannels returns all channels in display order.
func (p *Postgres) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+channelCols+` FROM channels ORDER BY display_order ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("ListChannels: %w", err)
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetChannel returns one channel by id.
func (p *Postgres) GetChannel(ctx context.Context, channelID int64) (*models.Channel, error) {
	c, err := scanChannel(p.pool.QueryRow(ctx,
		`SELECT `+channelCols+` FROM channels WHERE id = $1`, channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetChannel: %w", err)
	}
	return c, nil
}

// GetAccount returns one account by id.
func (p *Postgres) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	var a models.Account
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, playlist_url, user_agent, is_active, last_scan_at, created_at
		 FROM accounts WHERE id = $1`, accountID,
	).Scan(&a.ID, &a.Name, &a.PlaylistURL, &a.UserAgent, &a.IsActive, &a.LastScanAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return &a, nil
}

// ListAccounts returns all accounts.
func (p *Postgres) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, playlist_url, user_agent, is_active, last_scan_at, created_at
		 FROM accounts ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		err := rows.Scan(&a.ID, &a.Name, &a.PlaylistURL, &a.UserAgent, &a.IsActive, &a.LastScanAt, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAccountLastScan stamps the account's last completed scan.
func (p *Postgres) UpdateAccountLastScan(ctx context.Context, accountID int64) error {
	_, err := p.pool.Exec(ctx, `UPDATE accounts SET last_scan_at = NOW() WHERE id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("UpdateAccountLastScan: %w", err)
	}
	return nil
}

// StoreChannelEmbeddings writes name embeddings for the given channels.
func (p *Postgres) StoreChannelEmbeddings(ctx context.Context, channelIDs []int64, vecs [][]float32) error {
	if len(channelIDs) != len(vecs) {
		return fmt.Errorf("StoreChannelEmbeddings: %d ids for %d vectors", len(channelIDs), len(vecs))
	}
	for i, id := range channelIDs {
		if vecs[i] == nil {
			continue
		}
		_, err := p.pool.Exec(ctx,
			`UPDATE channels SET embedding = $2 WHERE id = $1`, id, pgvector.NewVector(vecs[i]))
		if err != nil {
			return fmt.Errorf("StoreChannelEmbeddings %d: %w", id, err)
		}
	}
	return nil
}

// ListChannelsWithoutEmbeddings returns channels lacking an embedding.
func (p *Postgres) ListChannelsWithoutEmbeddings(ctx context.Context, limit int) ([]models.Channel, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+channelCols+` FROM channels WHERE embedding IS NULL ORDER BY id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListChannelsWithoutEmbeddings: %w", err)
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// NearestChannelByEmbedding returns the channel closest to vec by cosine distance.
func (p *Postgres) NearestChannelByEmbedding(ctx context.Context, vec []float32) (*models.Channel, float64, error) {
	var c models.Channel
	var distance float64
	err := p.pool.QueryRow(ctx,
		`SELECT `+channelCols+`, embedding <=> $1 AS distance
		 FROM channels
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT 1`, pgvector.NewVector(vec),
	).Scan(&c.ID, &c.ExternalKey, &c.Name, &c.Icon, &c.Enabled,
		&c.DisplayOrder, &c.Synthetic, &c.CreatedAt, &distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, models.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("NearestChannelByEmbedding: %w", err)
	}
	return &c, distance, nil
}

// AppendEvent appends one event log entry.
func (p *Postgres) AppendEvent(ctx context.Context, e *models.EventLogEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	err = p.pool.QueryRow(ctx,
		`INSERT INTO events (level, category, message, details)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		e.Level, e.Category, e.Message, details,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("AppendEvent: %w", err)
	}
	return nil
}

// ListEvents queries the event log, newest first.
func (p *Postgres) ListEvents(ctx context.Context, f EventFilter) ([]models.EventLogEntry, error) {
	f.Clamp()
	query := `SELECT id, level, category, message, details, created_at FROM events WHERE TRUE`
	args := []any{}
	n := 0
	add := func(clause string, v any) {
		n++
		args = append(args, v)
		query += fmt.Sprintf(clause, n)
	}
	if f.Level != "" {
		add(" AND level = $%d", f.Level)
	}
	if f.Category != "" {
		add(" AND category = $%d", f.Category)
	}
	if f.Since != nil {
		add(" AND created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add(" AND created_at < $%d", *f.Until)
	}
	add(" ORDER BY created_at DESC, id DESC LIMIT $%d", f.Limit)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	defer rows.Close()

	var out []models.EventLogEntry
	for rows.Next() {
		var e models.EventLogEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.Level, &e.Category, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal event details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
