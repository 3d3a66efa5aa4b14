// Package ingest owns the scrape-buffer-promote cycle: it fills the
// scraped_items buffer from the source fetcher, then drains pending
// records through the metadata resolver into the catalog.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"sync/atomic"

	"mediaflow/internal/config"
	"mediaflow/internal/database"
	"mediaflow/internal/metadata"
	"mediaflow/internal/scraper"
)

const batchSize = 50

// Fetcher pulls one page of raw listings from the upstream source.
type Fetcher interface {
	FetchPage(ctx context.Context, page int, kind database.Kind) []scraper.Listing
}

// Resolver maps a listing to canonical metadata, nil when unknown.
type Resolver interface {
	ByIMDBID(ctx context.Context, imdbID string, kind database.Kind) *metadata.Result
	ByQuery(ctx context.Context, title string, year int, kind database.Kind) *metadata.Result
}

// Service orchestrates the daily ingestion cycle.
type Service struct {
	cfg      *config.Config
	db       *database.DB
	fetcher  Fetcher
	resolver Resolver
	running  atomic.Bool
}

// New creates the ingestion service. Fetcher and resolver are injected
// so tests can substitute stubs.
func New(cfg *config.Config, db *database.DB, fetcher Fetcher, resolver Resolver) *Service {
	return &Service{cfg: cfg, db: db, fetcher: fetcher, resolver: resolver}
}

// ScanResult summarizes one ingestion cycle. Skipped is set when the
// cycle did not run because another one was already in flight.
type ScanResult struct {
	BufferedMovies int
	BufferedSeries int
	Process        ProcessResult
	Skipped        bool
}

// RunDailyScan runs one full cycle: scrape movies and series into the
// buffer, then promote everything pending. Safe to call repeatedly; a
// cycle already in flight is skipped rather than overlapped.
func (s *Service) RunDailyScan(ctx context.Context) (*ScanResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		log.Println("Ingestion cycle already in flight, skipping")
		return &ScanResult{Skipped: true}, nil
	}
	defer s.running.Store(false)

	log.Println("Starting ingestion cycle...")
	result := &ScanResult{}

	var err error
	result.BufferedMovies, err = s.scrapePhase(ctx, database.KindMovie)
	if err != nil {
		return nil, err
	}
	result.BufferedSeries, err = s.scrapePhase(ctx, database.KindSeries)
	if err != nil {
		return nil, err
	}

	process, err := s.ProcessPending(ctx)
	if err != nil {
		return nil, err
	}
	result.Process = *process

	log.Println("Ingestion cycle completed")
	return result, nil
}

// scrapePhase fills the buffer for one kind. Backfill mode scans the
// configured deep page cap; maintenance mode scans the shallow cap and
// stops early as soon as a page yields zero activity.
func (s *Service) scrapePhase(ctx context.Context, kind database.Kind) (int, error) {
	count, err := s.db.CountScrapedItems(kind)
	if err != nil {
		return 0, fmt.Errorf("counting buffered %s records: %w", kind, err)
	}

	maintenance := count >= s.cfg.Source.BufferThreshold
	maxPages := s.cfg.Source.PagesBackfill
	mode := "BACKFILL"
	if maintenance {
		maxPages = s.cfg.Source.PagesMaintenance
		mode = "MAINTENANCE"
	}
	log.Printf("Scraping %s in %s mode (%d pages, %d buffered)", kind, mode, maxPages, count)

	total := 0
	for page := 0; page < maxPages; page++ {
		listings := s.fetcher.FetchPage(ctx, page, kind)
		if len(listings) == 0 {
			log.Printf("No listings on page %d, stopping %s scrape", page+1, kind)
			break
		}

		activity, err := s.SaveRawBatch(listings, kind)
		if err != nil {
			return total, err
		}
		total += activity

		if maintenance && activity == 0 {
			log.Println("No new or updated listings, stopping maintenance scrape")
			break
		}
	}
	return total, nil
}

// SaveRawBatch reconciles one page of listings into the buffer: every
// listing is upserted by source URL with status reset to pending, and
// each counts toward the returned activity.
func (s *Service) SaveRawBatch(listings []scraper.Listing, kind database.Kind) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	records := make([]database.ScrapedUpsert, 0, len(listings))
	for _, l := range listings {
		records = append(records, database.ScrapedUpsert{
			SourceURL:     l.SourceURL,
			Title:         l.Title,
			Year:          parseSafeYear(l.Year),
			Kind:          kind,
			Platform:      l.Platform,
			Language:      l.Language,
			StreamingDate: l.StreamingDate,
			RawData:       buildRawPayload(l, kind),
		})
	}

	activity, err := s.db.UpsertScrapedBatch(records)
	if err != nil {
		return 0, fmt.Errorf("saving raw batch: %w", err)
	}
	log.Printf("Buffered %d %s listings", activity, kind)
	return activity, nil
}

// buildRawPayload folds the inferred kind and the detail-scraped IMDb
// ID into the stored payload so promotion can reprocess records without
// another scrape.
func buildRawPayload(l scraper.Listing, kind database.Kind) string {
	payload := map[string]any{}
	if len(l.RawData) > 0 {
		// Keep whatever the source sent even if it is not an object.
		if err := json.Unmarshal(l.RawData, &payload); err != nil {
			payload = map[string]any{"raw": string(l.RawData)}
		}
	}
	payload["inferred_kind"] = string(kind)
	if l.IMDBID != "" {
		payload["source_imdb_id"] = l.IMDBID
	}

	blob, err := json.Marshal(payload)
	if err != nil {
		return string(l.RawData)
	}
	return string(blob)
}

var yearRe = regexp.MustCompile(`(\d{4})`)

// parseSafeYear extracts a year from potentially messy source data.
func parseSafeYear(raw string) int {
	if raw == "" {
		return 0
	}
	if m := yearRe.FindStringSubmatch(raw); m != nil {
		year, _ := strconv.Atoi(m[1])
		return year
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return year
}
