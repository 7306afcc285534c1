// Package sync reconciles crawled upstream characters into the database
// and keeps the read cache coherent.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/portalwatch/portalwatch/app/cache"
	"github.com/portalwatch/portalwatch/app/database"
	"github.com/portalwatch/portalwatch/app/metrics"
	"github.com/portalwatch/portalwatch/app/upstream"
)

// Crawler is the slice of the upstream client the syncer needs.
type Crawler interface {
	CrawlAll(ctx context.Context) []upstream.Character
}

var _ Crawler = (*upstream.Client)(nil)

// SyncError is a persistence failure that aborted a sync. The batch is
// rolled back; previously committed data is untouched.
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed: %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// ErrSyncInProgress is returned when a sync is triggered while another one
// is still running. Syncs are single-flight: concurrent triggers do not
// race on the same rows, they are rejected.
var ErrSyncInProgress = errors.New("sync already in progress")

// Syncer drives one full crawl-and-reconcile pass.
type Syncer struct {
	crawler Crawler
	repo    database.CharacterRepository
	cache   *cache.Cache
	running atomic.Bool
}

func NewSyncer(crawler Crawler, repo database.CharacterRepository, cacheClient *cache.Cache) *Syncer {
	return &Syncer{
		crawler: crawler,
		repo:    repo,
		cache:   cacheClient,
	}
}

// Running reports whether a sync is currently in flight.
func (s *Syncer) Running() bool {
	return s.running.Load()
}

// Run crawls the upstream API and upserts the result. An empty crawl is a
// no-op success, not an error. On success the character cache namespaces
// are invalidated; cache failures never fail the sync. Returns the number
// of records written.
func (s *Syncer) Run(ctx context.Context, trigger string) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, ErrSyncInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	slog.Info("Starting character sync", "trigger", trigger)

	records := s.crawler.CrawlAll(ctx)
	if len(records) == 0 {
		slog.Warn("No characters received from upstream, nothing to sync", "trigger", trigger)
		return 0, nil
	}

	count, err := s.repo.UpsertBatch(ctx, toStoredCharacters(records))
	if err != nil {
		metrics.SyncErrorsTotal.WithLabelValues("persistence").Inc()
		return 0, &SyncError{Err: err}
	}

	cleared := s.cache.ClearPattern(ctx, cache.CharacterListPattern)
	s.cache.Delete(ctx, cache.StatsKey)

	duration := time.Since(start)
	metrics.SyncDuration.Observe(duration.Seconds())
	metrics.SyncRecordsTotal.WithLabelValues(trigger).Add(float64(count))
	metrics.SyncLastSuccess.SetToCurrentTime()
	if total, err := s.repo.Count(ctx); err == nil {
		metrics.CharactersInDatabase.Set(float64(total))
	}

	slog.Info("Character sync completed",
		"trigger", trigger,
		"synced", count,
		"cache_keys_cleared", cleared,
		"duration", duration.String())

	return count, nil
}

func toStoredCharacters(records []upstream.Character) []database.Character {
	stored := make([]database.Character, 0, len(records))
	for _, record := range records {
		character := database.Character{
			ID:           record.ID,
			Name:         record.Name,
			Status:       record.Status,
			Species:      record.Species,
			Type:         record.Type,
			Gender:       record.Gender,
			OriginName:   record.Origin.Name,
			OriginURL:    record.Origin.URL,
			LocationName: record.Location.Name,
			LocationURL:  record.Location.URL,
			ImageURL:     record.Image,
			EpisodeURLs:  record.Episode,
			APIURL:       record.URL,
		}
		if !record.Created.IsZero() {
			created := record.Created
			character.Created = &created
		}
		stored = append(stored, character)
	}
	return stored
}
