package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"mediaflow/internal/database"
	"mediaflow/internal/metadata"
)

// ProcessResult summarizes one promotion run.
type ProcessResult struct {
	Processed  int
	Created    int
	Updated    int
	NoMetadata int
	Errors     int
}

// batchIndex dedupes catalog rows within one promotion batch so two
// buffered records resolving to the same title converge on a single
// row before either is committed.
type batchIndex struct {
	byTMDB map[int64]*database.MediaItem
	byIMDB map[string]*database.MediaItem
	byURL  map[string]*database.MediaItem
}

func newBatchIndex() *batchIndex {
	return &batchIndex{
		byTMDB: make(map[int64]*database.MediaItem),
		byIMDB: make(map[string]*database.MediaItem),
		byURL:  make(map[string]*database.MediaItem),
	}
}

func (b *batchIndex) register(item *database.MediaItem) {
	if item.TMDBID != 0 {
		b.byTMDB[item.TMDBID] = item
	}
	if item.IMDBID != "" {
		b.byIMDB[item.IMDBID] = item
	}
	if item.SourceURL != "" {
		b.byURL[item.SourceURL] = item
	}
}

// rawPayload is the subset of the stored scrape blob promotion cares
// about.
type rawPayload struct {
	InferredKind string `json:"inferred_kind"`
	SourceIMDBID string `json:"source_imdb_id"`
	Languages    string `json:"languages"`
}

// ProcessPending drains the buffer in batches of 50, resolving each
// pending record against the metadata providers and merging it into
// the catalog. Each batch commits as one transaction; a record that
// fails is marked with its error and does not block the rest.
func (s *Service) ProcessPending(ctx context.Context) (*ProcessResult, error) {
	result := &ProcessResult{}

	for {
		pending, err := s.db.GetPendingScrapedItems(batchSize)
		if err != nil {
			return nil, fmt.Errorf("loading pending records: %w", err)
		}
		if len(pending) == 0 {
			break
		}

		if err := s.processBatch(ctx, pending, result); err != nil {
			return nil, err
		}
	}

	log.Printf("Promotion finished: %d processed, %d created, %d updated, %d without metadata, %d errors",
		result.Processed, result.Created, result.Updated, result.NoMetadata, result.Errors)
	return result, nil
}

func (s *Service) processBatch(ctx context.Context, pending []database.ScrapedItem, result *ProcessResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("opening promotion transaction: %w", err)
	}
	defer tx.Rollback()

	index := newBatchIndex()
	for i := range pending {
		item := &pending[i]
		if err := s.promoteRecord(ctx, tx, item, index, result); err != nil {
			log.Printf("Promoting %q failed: %v", item.Title, err)
			if markErr := tx.MarkScrapedError(item.ID, err.Error()); markErr != nil {
				return fmt.Errorf("marking record %d failed: %w", item.ID, markErr)
			}
			result.Errors++
			continue
		}
		if err := tx.MarkScrapedProcessed(item.ID); err != nil {
			return fmt.Errorf("marking record %d processed: %w", item.ID, err)
		}
		result.Processed++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing promotion batch: %w", err)
	}
	return nil
}

// promoteRecord resolves one buffered record and merges it into the
// catalog, preferring identity matches over source-URL matches.
func (s *Service) promoteRecord(ctx context.Context, tx *database.Tx, scraped *database.ScrapedItem, index *batchIndex, result *ProcessResult) error {
	var raw rawPayload
	if scraped.RawData != "" {
		// Tolerate blobs written before the payload keys existed.
		if err := json.Unmarshal([]byte(scraped.RawData), &raw); err != nil {
			raw = rawPayload{}
		}
	}

	kind := scraped.Kind
	if kind != database.KindMovie && kind != database.KindSeries {
		kind = database.ParseKind(raw.InferredKind)
	}
	if scraped.Language == "" {
		scraped.Language = raw.Languages
	}

	meta := s.resolve(ctx, scraped, raw.SourceIMDBID, kind)
	if meta == nil {
		result.NoMetadata++
	}

	existing, err := s.findExisting(tx, scraped, meta, index)
	if err != nil {
		return err
	}

	if existing != nil {
		mergeIntoExisting(existing, scraped, meta)
		if err := tx.UpdateMediaItem(existing); err != nil {
			return fmt.Errorf("updating catalog row %d: %w", existing.ID, err)
		}
		index.register(existing)
		result.Updated++
		return nil
	}

	item := newCatalogItem(scraped, meta, kind)
	if err := tx.InsertMediaItem(item); err != nil {
		return fmt.Errorf("inserting catalog row: %w", err)
	}
	index.register(item)
	result.Created++
	return nil
}

func (s *Service) resolve(ctx context.Context, scraped *database.ScrapedItem, imdbID string, kind database.Kind) *metadata.Result {
	if imdbID != "" {
		if meta := s.resolver.ByIMDBID(ctx, imdbID, kind); meta != nil {
			return meta
		}
	}
	return s.resolver.ByQuery(ctx, scraped.Title, scraped.Year, kind)
}

// findExisting checks the batch-local index first, then the catalog,
// by external identity before source URL.
func (s *Service) findExisting(tx *database.Tx, scraped *database.ScrapedItem, meta *metadata.Result, index *batchIndex) (*database.MediaItem, error) {
	if meta != nil {
		if meta.TMDBID != 0 {
			if item, ok := index.byTMDB[meta.TMDBID]; ok {
				return item, nil
			}
		}
		if meta.IMDBID != "" {
			if item, ok := index.byIMDB[meta.IMDBID]; ok {
				return item, nil
			}
		}
	}
	if item, ok := index.byURL[scraped.SourceURL]; ok {
		return item, nil
	}

	if meta != nil && (meta.TMDBID != 0 || meta.IMDBID != "") {
		item, err := tx.FindMediaByExternalIDs(meta.TMDBID, meta.IMDBID)
		if err != nil {
			return nil, fmt.Errorf("matching by external IDs: %w", err)
		}
		if item != nil {
			return item, nil
		}
	}

	item, err := tx.FindMediaBySourceURL(scraped.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("matching by source url: %w", err)
	}
	return item, nil
}

// mergeIntoExisting is non-destructive: resolved fields only overwrite
// when the resolver actually produced them, while platform and source
// URL always track the latest scrape.
func mergeIntoExisting(existing *database.MediaItem, scraped *database.ScrapedItem, meta *metadata.Result) {
	if meta != nil {
		if meta.TMDBID != 0 {
			existing.TMDBID = meta.TMDBID
		}
		if meta.IMDBID != "" {
			existing.IMDBID = meta.IMDBID
		}
		if meta.Overview != "" {
			existing.Overview = meta.Overview
		}
		if meta.PosterURL != "" {
			existing.PosterURL = meta.PosterURL
		}
		if meta.BackdropURL != "" {
			existing.BackdropURL = meta.BackdropURL
		}
	}
	if scraped.Language != "" {
		existing.Language = scraped.Language
	}
	if scraped.StreamingDate != nil {
		existing.StreamingDate = scraped.StreamingDate
	}
	existing.Platform = scraped.Platform
	existing.SourceURL = scraped.SourceURL
	existing.Status = database.MediaApproved
}

// newCatalogItem builds a fresh catalog row. Resolved rows enter as
// approved; unresolved ones stay new for manual review.
func newCatalogItem(scraped *database.ScrapedItem, meta *metadata.Result, kind database.Kind) *database.MediaItem {
	item := &database.MediaItem{
		Title:         scraped.Title,
		Year:          scraped.Year,
		Kind:          kind,
		Language:      scraped.Language,
		Platform:      scraped.Platform,
		SourceURL:     scraped.SourceURL,
		StreamingDate: scraped.StreamingDate,
		Status:        database.MediaNew,
	}
	if meta != nil {
		item.TMDBID = meta.TMDBID
		item.IMDBID = meta.IMDBID
		item.Title = meta.Title
		if meta.Year != 0 {
			item.Year = meta.Year
		}
		item.Overview = meta.Overview
		item.PosterURL = meta.PosterURL
		item.BackdropURL = meta.BackdropURL
		item.Genres = meta.Genres
		item.Status = database.MediaApproved
	}
	return item
}
