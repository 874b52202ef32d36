// Package reconcile keeps the channel→source mapping table consistent with
// provider catalogs: it diffs fresh scans against the stored baseline,
// matches new sources to channels, and removes mappings for vanished
// sources while preserving manual ones.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voyagen/streamvault/internal/eventlog"
	"github.com/voyagen/streamvault/internal/metrics"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// CatalogFetcher downloads an account's full source catalog.
// Satisfied by fetcher.Fetcher.
type CatalogFetcher interface {
	FetchCatalog(ctx context.Context, account *models.Account) ([]models.Source, error)
}

// Reconciler runs reconciliation passes. Passes for the same account are
// serialized; different accounts may run concurrently. All channel mutations
// go through the store's atomic mapping operations, so a crash mid-pass
// leaves every channel internally consistent.
type Reconciler struct {
	store     store.Store
	fetcher   CatalogFetcher
	matcher   Matcher
	events    *eventlog.Recorder
	metrics   metrics.Recorder
	log       *slog.Logger
	threshold float64
	locks     *accountLocks
}

// New creates a Reconciler. threshold is the minimum match confidence for
// automatic mapping creation. metrics and logger may be nil.
func New(s store.Store, f CatalogFetcher, m Matcher, events *eventlog.Recorder, rec metrics.Recorder, threshold float64, logger *slog.Logger) *Reconciler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = NameMatcher{}
	}
	return &Reconciler{
		store:     s,
		fetcher:   f,
		matcher:   m,
		events:    events,
		metrics:   rec,
		log:       logger,
		threshold: threshold,
		locks:     newAccountLocks(),
	}
}

// ScanAccount fetches the account's catalog and reconciles it.
// Returns models.ErrScanInProgress when a pass for the account is running.
func (r *Reconciler) ScanAccount(ctx context.Context, accountID int64) (*models.ScanSummary, error) {
	if !r.locks.tryAcquire(accountID) {
		return nil, models.ErrScanInProgress
	}
	defer r.locks.release(accountID)

	start := time.Now()
	account, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	if !account.IsActive {
		return nil, fmt.Errorf("account %d is inactive", accountID)
	}

	fresh, err := r.fetcher.FetchCatalog(ctx, account)
	if err != nil {
		r.metrics.RecordScan("fetch_error", time.Since(start))
		r.events.Error(ctx, models.CategoryProvider, "catalog fetch failed",
			models.EventDetails{AccountID: eventlog.Int64(accountID)})
		return nil, fmt.Errorf("fetch catalog for account %d: %w", accountID, err)
	}

	summary, err := r.Run(ctx, account, fresh)
	if err != nil {
		r.metrics.RecordScan("error", time.Since(start))
		return nil, err
	}
	r.metrics.RecordScan("ok", time.Since(start))
	return summary, nil
}

// Run reconciles an already-fetched catalog against the stored baseline.
// Exposed separately so the scan worker and tests can inject catalogs.
func (r *Reconciler) Run(ctx context.Context, account *models.Account, fresh []models.Source) (*models.ScanSummary, error) {
	baseline, err := r.store.ListSourcesByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("load baseline for account %d: %w", account.ID, err)
	}

	cs := Diff(account.ID, baseline, fresh)
	summary := &models.ScanSummary{AccountID: account.ID, SourcesScanned: len(fresh)}

	// Changed first so metadata is current before matching sees new entries,
	// then new, then removed. Removal last keeps a rename-plus-reappear
	// provider quirk from thrashing mappings mid-pass.
	r.applyChanged(ctx, cs.ChangedSources, summary)
	r.applyNew(ctx, cs.NewSources, summary)
	r.applyRemoved(ctx, account.ID, cs.RemovedSourceIDs, summary)

	if err := r.store.UpdateAccountLastScan(ctx, account.ID); err != nil {
		r.log.Warn("update last scan", "account_id", account.ID, "error", err)
	}

	r.metrics.RecordMappingsCreated(summary.NewMatchesCreated)
	r.metrics.RecordMappingsRemoved(summary.MappingsRemoved)
	r.events.Info(ctx, models.CategoryProvider,
		fmt.Sprintf("scan complete: %d sources, %d new matches, %d mappings removed, %d updated, %d manual preserved, %d orphans, %d channel errors",
			summary.SourcesScanned, summary.NewMatchesCreated, summary.MappingsRemoved,
			summary.MappingsUpdated, summary.ManualMatchesPreserved, summary.OrphanSources, summary.ChannelErrors),
		models.EventDetails{AccountID: eventlog.Int64(account.ID)})
	return summary, nil
}

func (r *Reconciler) applyChanged(ctx context.Context, changes []models.SourceChange, summary *models.ScanSummary) {
	for _, sc := range changes {
		if err := r.store.UpdateSourceMeta(ctx, sc.Old.ID, sc.New.Name, sc.New.URL, sc.New.Icon, sc.New.Qualities); err != nil {
			r.log.Error("update changed source", "stream_id", sc.New.StreamID, "error", err)
			summary.ChannelErrors++
			continue
		}
		// Only changes that reach a mapping count as updates; metadata on
		// an unmapped source touches no channel.
		ms, err := r.store.GetMappingsBySource(ctx, sc.Old.ID)
		if err != nil {
			r.log.Warn("list mappings for changed source", "source_id", sc.Old.ID, "error", err)
			continue
		}
		if len(ms) > 0 {
			summary.MappingsUpdated++
		}
	}
}

func (r *Reconciler) applyNew(ctx context.Context, newSources []models.Source, summary *models.ScanSummary) {
	if len(newSources) == 0 {
		return
	}
	channels, err := r.store.ListChannels(ctx)
	if err != nil {
		r.log.Error("list channels for matching", "error", err)
		summary.ChannelErrors += len(newSources)
		return
	}

	for i := range newSources {
		src := newSources[i]

		// A missing row with the same stream id means the source came back.
		// Revive it; its manual mappings are intact, so no matching runs.
		existing, err := r.store.GetSourceByStreamID(ctx, src.AccountID, src.StreamID)
		revived := err == nil && existing.Missing

		id, err := r.store.UpsertSource(ctx, &src)
		if err != nil {
			r.log.Error("upsert new source", "stream_id", src.StreamID, "error", err)
			summary.ChannelErrors++
			continue
		}
		if revived {
			r.events.Info(ctx, models.CategoryMapping, "missing source reappeared",
				models.EventDetails{AccountID: eventlog.Int64(src.AccountID), ToSourceID: eventlog.Int64(id)})
			continue
		}

		best, confidence, err := r.matcher.Match(ctx, src.Name, channels)
		if err != nil || best == nil || confidence < r.threshold {
			summary.OrphanSources++
			continue
		}
		if err := r.attachSource(ctx, best, id, confidence); err != nil {
			summary.ChannelErrors++
			r.events.Error(ctx, models.CategoryMapping, "mapping creation failed",
				models.EventDetails{
					ChannelID:  eventlog.Int64(best.ID),
					ToSourceID: eventlog.Int64(id),
					Reason:     models.ReasonChannelFailed,
				})
			continue
		}
		summary.NewMatchesCreated++
		r.events.Info(ctx, models.CategoryMapping,
			fmt.Sprintf("matched %q to channel %q (%.2f)", src.Name, best.Name, confidence),
			models.EventDetails{ChannelID: eventlog.Int64(best.ID), ToSourceID: eventlog.Int64(id)})
	}
}

// attachSource appends a source to a channel's candidate list: first mapping
// becomes primary at priority 0, later ones queue behind the existing tail.
// Placement happens inside the store, so passes for different accounts that
// match the same channel cannot collide on a priority.
func (r *Reconciler) attachSource(ctx context.Context, channel *models.Channel, sourceID int64, confidence float64) error {
	_, err := r.store.AppendMapping(ctx, channel.ID, sourceID, false, confidence)
	if errors.Is(err, models.ErrDuplicateMapping) {
		return nil
	}
	return err
}

func (r *Reconciler) applyRemoved(ctx context.Context, accountID int64, removedIDs []int64, summary *models.ScanSummary) {
	for _, sourceID := range removedIDs {
		mappings, err := r.store.GetMappingsBySource(ctx, sourceID)
		if err != nil {
			r.log.Error("load mappings for removed source", "source_id", sourceID, "error", err)
			summary.ChannelErrors++
			continue
		}

		manual := 0
		for _, m := range mappings {
			if m.IsManual {
				manual++
				continue
			}
			promoted, err := r.store.DeleteMappingAndRenumber(ctx, m.ID)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				summary.ChannelErrors++
				r.events.Error(ctx, models.CategoryMapping, "mapping removal failed",
					models.EventDetails{
						ChannelID:    eventlog.Int64(m.ChannelID),
						FromSourceID: eventlog.Int64(sourceID),
						Reason:       models.ReasonChannelFailed,
					})
				continue
			}
			summary.MappingsRemoved++
			r.events.Warn(ctx, models.CategoryMapping, "mapping removed: source left the provider catalog",
				models.EventDetails{
					AccountID:    eventlog.Int64(accountID),
					ChannelID:    eventlog.Int64(m.ChannelID),
					FromSourceID: eventlog.Int64(sourceID),
					Reason:       models.ReasonSourceRemoved,
				})
			if promoted {
				summary.MappingsUpdated++
				r.events.Info(ctx, models.CategoryMapping, "backup promoted to primary",
					models.EventDetails{
						ChannelID:    eventlog.Int64(m.ChannelID),
						FromSourceID: eventlog.Int64(sourceID),
						Reason:       models.ReasonBackupPromoted,
					})
			}
		}

		if manual > 0 {
			summary.ManualMatchesPreserved += manual
			if err := r.store.MarkSourceMissing(ctx, sourceID, true); err != nil {
				r.log.Error("mark source missing", "source_id", sourceID, "error", err)
				summary.ChannelErrors++
				continue
			}
			r.events.Warn(ctx, models.CategoryMapping, "source removed from catalog, manual mapping preserved",
				models.EventDetails{
					AccountID:    eventlog.Int64(accountID),
					FromSourceID: eventlog.Int64(sourceID),
					Reason:       models.ReasonSourceRemoved,
				})
			continue
		}
		if err := r.store.DeleteSource(ctx, sourceID); err != nil {
			r.log.Error("delete removed source", "source_id", sourceID, "error", err)
			summary.ChannelErrors++
		}
	}
}
