package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"mediaflow/internal/config"
	"mediaflow/internal/database"
	"mediaflow/internal/metadata"
	"mediaflow/internal/scraper"
)

// stubFetcher serves canned pages per kind and records which pages were
// requested.
type stubFetcher struct {
	pages map[database.Kind][][]scraper.Listing
	calls map[database.Kind][]int
}

func (f *stubFetcher) FetchPage(_ context.Context, page int, kind database.Kind) []scraper.Listing {
	if f.calls == nil {
		f.calls = make(map[database.Kind][]int)
	}
	f.calls[kind] = append(f.calls[kind], page)
	pages := f.pages[kind]
	if page >= len(pages) {
		return nil
	}
	return pages[page]
}

// stubResolver answers from fixed maps, nil for anything else.
type stubResolver struct {
	byIMDB  map[string]*metadata.Result
	byQuery map[string]*metadata.Result
}

func (r *stubResolver) ByIMDBID(_ context.Context, imdbID string, _ database.Kind) *metadata.Result {
	return r.byIMDB[imdbID]
}

func (r *stubResolver) ByQuery(_ context.Context, title string, _ int, _ database.Kind) *metadata.Result {
	return r.byQuery[title]
}

func testService(t *testing.T, fetcher Fetcher, resolver Resolver) (*Service, *database.DB) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Source: config.Source{
			PagesBackfill:    5,
			PagesMaintenance: 1,
			BufferThreshold:  100,
		},
	}
	return New(cfg, db, fetcher, resolver), db
}

func listing(title, url string) scraper.Listing {
	return scraper.Listing{
		Title:     title,
		Year:      "2024",
		Platform:  "Netflix",
		Language:  "Hindi",
		SourceURL: url,
	}
}

func TestRunDailyScanEndToEnd(t *testing.T) {
	fetcher := &stubFetcher{
		pages: map[database.Kind][][]scraper.Listing{
			database.KindMovie: {
				{listing("Resolved Movie", "https://example.com/movies/1")},
				{listing("Unknown Movie", "https://example.com/movies/2")},
			},
			database.KindSeries: {
				{listing("Resolved Show", "https://example.com/shows/1")},
			},
		},
	}
	resolver := &stubResolver{
		byQuery: map[string]*metadata.Result{
			"Resolved Movie": {
				TMDBID:   550,
				IMDBID:   "tt0137523",
				Title:    "Resolved Movie",
				Year:     2024,
				Overview: "A movie.",
				Genres:   []string{"Drama"},
				Source:   "tmdb",
			},
			"Resolved Show": {
				TMDBID: 1399,
				IMDBID: "tt0944947",
				Title:  "Resolved Show",
				Year:   2024,
				Source: "tmdb",
			},
		},
	}

	svc, db := testService(t, fetcher, resolver)
	result, err := svc.RunDailyScan(context.Background())
	if err != nil {
		t.Fatalf("RunDailyScan failed: %v", err)
	}

	if result.BufferedMovies != 2 {
		t.Errorf("expected 2 buffered movies, got %d", result.BufferedMovies)
	}
	if result.Process.Created != 3 {
		t.Errorf("expected 3 created items, got %d", result.Process.Created)
	}
	if result.Process.NoMetadata != 1 {
		t.Errorf("expected 1 unresolved item, got %d", result.Process.NoMetadata)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.ScrapedPending != 0 {
		t.Errorf("expected empty pending queue, got %d", stats.ScrapedPending)
	}
	if stats.MediaApproved != 2 {
		t.Errorf("expected 2 approved items, got %d", stats.MediaApproved)
	}
	if stats.MediaNew != 1 {
		t.Errorf("expected 1 new item, got %d", stats.MediaNew)
	}
}

func TestRunDailyScanIdempotent(t *testing.T) {
	fetcher := &stubFetcher{
		pages: map[database.Kind][][]scraper.Listing{
			database.KindMovie: {
				{listing("Stable Movie", "https://example.com/movies/1")},
			},
		},
	}
	resolver := &stubResolver{
		byQuery: map[string]*metadata.Result{
			"Stable Movie": {TMDBID: 42, Title: "Stable Movie", Year: 2024, Source: "tmdb"},
		},
	}

	svc, db := testService(t, fetcher, resolver)
	for i := 0; i < 2; i++ {
		if _, err := svc.RunDailyScan(context.Background()); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.MediaTotal != 1 {
		t.Errorf("expected a single catalog row after two runs, got %d", stats.MediaTotal)
	}
	if stats.ScrapedTotal != 1 {
		t.Errorf("expected a single buffered row after two runs, got %d", stats.ScrapedTotal)
	}
}

func TestRunDailyScanSkipsWhileInFlight(t *testing.T) {
	svc, _ := testService(t, &stubFetcher{}, &stubResolver{})
	svc.running.Store(true)

	result, err := svc.RunDailyScan(context.Background())
	if err != nil {
		t.Fatalf("RunDailyScan failed: %v", err)
	}
	if result == nil || !result.Skipped {
		t.Errorf("expected a skipped result, got %+v", result)
	}
}

func TestMaintenanceModeStopsOnEmptyPage(t *testing.T) {
	fetcher := &stubFetcher{
		pages: map[database.Kind][][]scraper.Listing{
			database.KindMovie: {
				{listing("Warm Movie", "https://example.com/movies/1")},
			},
		},
	}
	svc, db := testService(t, fetcher, &stubResolver{})
	svc.cfg.Source.BufferThreshold = 1
	svc.cfg.Source.PagesMaintenance = 3

	// Warm the buffer past the threshold so the next phase runs in
	// maintenance mode.
	records := []database.ScrapedUpsert{{
		SourceURL: "https://example.com/movies/0",
		Title:     "Seed Movie",
		Kind:      database.KindMovie,
	}}
	if _, err := db.UpsertScrapedBatch(records); err != nil {
		t.Fatalf("seeding buffer failed: %v", err)
	}

	if _, err := svc.scrapePhase(context.Background(), database.KindMovie); err != nil {
		t.Fatalf("scrapePhase failed: %v", err)
	}

	pages := fetcher.calls[database.KindMovie]
	if len(pages) != 2 {
		t.Fatalf("expected scrape to stop after the first empty page, got pages %v", pages)
	}
}

func TestPromotionDeduplicatesWithinBatch(t *testing.T) {
	// Two buffered records with different URLs resolve to the same
	// TMDB identity and must converge on one catalog row.
	resolver := &stubResolver{
		byQuery: map[string]*metadata.Result{
			"Dub Title":      {TMDBID: 99, IMDBID: "tt0000099", Title: "Canonical Title", Year: 2024, Source: "tmdb"},
			"Original Title": {TMDBID: 99, IMDBID: "tt0000099", Title: "Canonical Title", Year: 2024, Source: "tmdb"},
		},
	}
	svc, db := testService(t, &stubFetcher{}, resolver)

	records := []database.ScrapedUpsert{
		{SourceURL: "https://example.com/movies/1", Title: "Dub Title", Year: 2024, Kind: database.KindMovie, Platform: "Netflix"},
		{SourceURL: "https://example.com/movies/2", Title: "Original Title", Year: 2024, Kind: database.KindMovie, Platform: "Prime Video"},
	}
	if _, err := db.UpsertScrapedBatch(records); err != nil {
		t.Fatalf("seeding buffer failed: %v", err)
	}

	result, err := svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if result.Created != 1 || result.Updated != 1 {
		t.Errorf("expected 1 created and 1 updated, got %d and %d", result.Created, result.Updated)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.MediaTotal != 1 {
		t.Errorf("expected one catalog row, got %d", stats.MediaTotal)
	}
}

func TestPromotionErrorDoesNotAbortBatch(t *testing.T) {
	resolver := &stubResolver{
		byQuery: map[string]*metadata.Result{
			"Conflicted": {TMDBID: 5, IMDBID: "tt0000002", Title: "Conflicted", Year: 2024, Source: "tmdb"},
			"Clean":      {TMDBID: 9, Title: "Clean", Year: 2024, Source: "tmdb"},
		},
	}
	svc, db := testService(t, &stubFetcher{}, resolver)

	// Two catalog rows each hold one half of the identity the first
	// record resolves to; merging onto either collides with the other
	// on a unique index.
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}
	if err := tx.InsertMediaItem(&database.MediaItem{Title: "Half A", Kind: database.KindMovie, TMDBID: 5, Status: database.MediaApproved}); err != nil {
		t.Fatalf("seeding catalog failed: %v", err)
	}
	if err := tx.InsertMediaItem(&database.MediaItem{Title: "Half B", Kind: database.KindMovie, IMDBID: "tt0000002", Status: database.MediaApproved}); err != nil {
		t.Fatalf("seeding catalog failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	records := []database.ScrapedUpsert{
		{SourceURL: "https://example.com/movies/1", Title: "Conflicted", Year: 2024, Kind: database.KindMovie},
		{SourceURL: "https://example.com/movies/2", Title: "Clean", Year: 2024, Kind: database.KindMovie},
	}
	if _, err := db.UpsertScrapedBatch(records); err != nil {
		t.Fatalf("seeding buffer failed: %v", err)
	}

	result, err := svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("expected the batch to survive a record failure, got: %v", err)
	}
	if result.Errors != 1 {
		t.Errorf("expected 1 errored record, got %d", result.Errors)
	}
	if result.Processed != 1 || result.Created != 1 {
		t.Errorf("expected the clean sibling to process, got processed=%d created=%d", result.Processed, result.Created)
	}

	buffered, err := db.GetScrapedItemsByURLs([]string{"https://example.com/movies/1"})
	if err != nil {
		t.Fatalf("failed to reload buffered record: %v", err)
	}
	failed := buffered["https://example.com/movies/1"]
	if failed.Status != database.ScrapeError {
		t.Errorf("expected error status, got %q", failed.Status)
	}
	if failed.ErrorMessage == nil || *failed.ErrorMessage == "" {
		t.Error("expected a recorded error message")
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.ScrapedPending != 0 {
		t.Errorf("expected no records left pending, got %d", stats.ScrapedPending)
	}
}

func TestPromotionMergeIsNonDestructive(t *testing.T) {
	resolver := &stubResolver{
		byQuery: map[string]*metadata.Result{
			"Known Movie": {
				TMDBID:   7,
				Title:    "Known Movie",
				Year:     2023,
				Overview: "Full overview.",
				Source:   "tmdb",
			},
		},
	}
	svc, db := testService(t, &stubFetcher{}, resolver)
	ctx := context.Background()

	first := []database.ScrapedUpsert{{
		SourceURL: "https://example.com/movies/1",
		Title:     "Known Movie",
		Year:      2023,
		Kind:      database.KindMovie,
		Platform:  "Netflix",
		Language:  "Hindi",
	}}
	if _, err := db.UpsertScrapedBatch(first); err != nil {
		t.Fatalf("seeding buffer failed: %v", err)
	}
	if _, err := svc.ProcessPending(ctx); err != nil {
		t.Fatalf("first promotion failed: %v", err)
	}

	// Re-scrape on another platform with the resolver now failing: the
	// earlier metadata must survive while platform tracks the scrape.
	svc.resolver = &stubResolver{}
	second := []database.ScrapedUpsert{{
		SourceURL: "https://example.com/movies/1",
		Title:     "Known Movie",
		Year:      2023,
		Kind:      database.KindMovie,
		Platform:  "Prime Video",
	}}
	if _, err := db.UpsertScrapedBatch(second); err != nil {
		t.Fatalf("rebuffering failed: %v", err)
	}
	if _, err := svc.ProcessPending(ctx); err != nil {
		t.Fatalf("second promotion failed: %v", err)
	}

	items, total, err := db.ListMediaItems(database.CatalogFilter{})
	if err != nil {
		t.Fatalf("ListMediaItems failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one catalog row, got %d", total)
	}
	got := items[0]
	if got.TMDBID != 7 || got.Overview != "Full overview." {
		t.Errorf("resolved fields were clobbered: tmdb=%d overview=%q", got.TMDBID, got.Overview)
	}
	if got.Platform != "Prime Video" {
		t.Errorf("expected platform to track the latest scrape, got %q", got.Platform)
	}
	if got.Language != "Hindi" {
		t.Errorf("expected language to survive an empty scrape, got %q", got.Language)
	}

	// A later pass where the resolver answers again must replace the
	// stale resolved fields.
	svc.resolver = &stubResolver{
		byQuery: map[string]*metadata.Result{
			"Known Movie": {
				TMDBID:   7,
				IMDBID:   "tt0000007",
				Title:    "Known Movie",
				Year:     2023,
				Overview: "Revised overview.",
				Source:   "tmdb",
			},
		},
	}
	if _, err := db.UpsertScrapedBatch(second); err != nil {
		t.Fatalf("rebuffering failed: %v", err)
	}
	if _, err := svc.ProcessPending(ctx); err != nil {
		t.Fatalf("third promotion failed: %v", err)
	}

	got2, err := db.GetMediaItemByID(got.ID)
	if err != nil {
		t.Fatalf("failed to reload item: %v", err)
	}
	if got2.Overview != "Revised overview." {
		t.Errorf("expected fresh metadata to replace the old, got %q", got2.Overview)
	}
	if got2.IMDBID != "tt0000007" {
		t.Errorf("expected newly resolved IMDb ID, got %q", got2.IMDBID)
	}
}

func TestParseSafeYear(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"2024", 2024},
		{"2024-05-01", 2024},
		{"(2023)", 2023},
		{"unknown", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := parseSafeYear(tc.raw); got != tc.want {
			t.Errorf("parseSafeYear(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}
