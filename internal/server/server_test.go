package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"mediaflow/internal/config"
	"mediaflow/internal/database"
	"mediaflow/internal/metadata"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// stubClient serves canned metadata for sync requests.
type stubClient struct {
	byTMDB map[int64]*metadata.Result
	byIMDB map[string]*metadata.Result
}

func (c *stubClient) ByTMDBID(_ context.Context, tmdbID int64, _ database.Kind) *metadata.Result {
	return c.byTMDB[tmdbID]
}

func (c *stubClient) ByIMDBID(_ context.Context, imdbID string, _ database.Kind) *metadata.Result {
	return c.byIMDB[imdbID]
}

func testConfig() *config.Config {
	return &config.Config{
		Languages: config.Languages{
			Movies: []string{"Hindi", "Tamil"},
			Series: []string{"Hindi"},
		},
	}
}

func insertItem(t *testing.T, db *database.DB, m *database.MediaItem) *database.MediaItem {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}
	if err := tx.InsertMediaItem(m); err != nil {
		t.Fatalf("failed to insert item: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return m
}

func serve(t *testing.T, srv *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestListItemsFiltered(t *testing.T) {
	db := openTestDB(t)
	insertItem(t, db, &database.MediaItem{
		Title: "Hindi Movie", Kind: database.KindMovie, Language: "Hindi",
		Platform: "Netflix", Status: database.MediaApproved,
	})
	insertItem(t, db, &database.MediaItem{
		Title: "Tamil Movie", Kind: database.KindMovie, Language: "Tamil",
		Platform: "Prime Video", Status: database.MediaNew,
	})

	srv := New(db, testConfig(), &stubClient{})
	rec := serve(t, srv, "GET", "/api/items?status=approved&language=Hindi", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Items []itemJSONBody `json:"items"`
		Total int            `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Items) != 1 {
		t.Fatalf("expected one filtered item, got total=%d len=%d", resp.Total, len(resp.Items))
	}
	if resp.Items[0].Title != "Hindi Movie" {
		t.Errorf("expected Hindi Movie, got %q", resp.Items[0].Title)
	}
}

func TestGetItemNotFound(t *testing.T) {
	srv := New(openTestDB(t), testConfig(), &stubClient{})
	rec := serve(t, srv, "GET", "/api/items/999", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestUpdateItem(t *testing.T) {
	db := openTestDB(t)
	item := insertItem(t, db, &database.MediaItem{
		Title: "Wrong Title", Kind: database.KindMovie, Status: database.MediaNew,
	})

	srv := New(db, testConfig(), &stubClient{})
	rec := serve(t, srv, "PATCH", "/api/items/1", `{"title":"Right Title","status":"approved"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got, err := db.GetMediaItemByID(item.ID)
	if err != nil {
		t.Fatalf("failed to reload item: %v", err)
	}
	if got.Title != "Right Title" || got.Status != database.MediaApproved {
		t.Errorf("update not persisted: title=%q status=%q", got.Title, got.Status)
	}
	if got.Kind != database.KindMovie {
		t.Errorf("untouched field changed: kind=%q", got.Kind)
	}
}

func TestDeleteItem(t *testing.T) {
	db := openTestDB(t)
	item := insertItem(t, db, &database.MediaItem{
		Title: "Doomed", Kind: database.KindMovie, Status: database.MediaNew,
	})

	srv := New(db, testConfig(), &stubClient{})
	rec := serve(t, srv, "DELETE", "/api/items/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	got, err := db.GetMediaItemByID(item.ID)
	if err != nil {
		t.Fatalf("failed to reload item: %v", err)
	}
	if got != nil {
		t.Error("expected item to be gone")
	}
}

func TestSyncItem(t *testing.T) {
	db := openTestDB(t)
	insertItem(t, db, &database.MediaItem{
		Title: "Stale Title", Kind: database.KindMovie, TMDBID: 550, Status: database.MediaApproved,
	})

	client := &stubClient{byTMDB: map[int64]*metadata.Result{
		550: {
			TMDBID:   550,
			IMDBID:   "tt0137523",
			Title:    "Fresh Title",
			Year:     1999,
			Overview: "An overview.",
			Source:   "tmdb",
		},
	}}
	srv := New(db, testConfig(), client)
	rec := serve(t, srv, "POST", "/api/items/1/sync", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got, err := db.GetMediaItemByID(1)
	if err != nil {
		t.Fatalf("failed to reload item: %v", err)
	}
	if got.Title != "Fresh Title" || got.IMDBID != "tt0137523" || got.Year != 1999 {
		t.Errorf("sync not persisted: %+v", got)
	}
}

func TestSyncItemWithoutMetadata(t *testing.T) {
	db := openTestDB(t)
	insertItem(t, db, &database.MediaItem{
		Title: "Unknown", Kind: database.KindMovie, Status: database.MediaNew,
	})

	srv := New(db, testConfig(), &stubClient{})
	rec := serve(t, srv, "POST", "/api/items/1/sync", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestManifestRoute(t *testing.T) {
	srv := New(openTestDB(t), testConfig(), &stubClient{})
	rec := serve(t, srv, "GET", "/stremio/manifest.json", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var manifest struct {
		ID       string            `json:"id"`
		Catalogs []manifestCatalog `json:"catalogs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&manifest); err != nil {
		t.Fatalf("failed to decode manifest: %v", err)
	}
	if manifest.ID == "" || len(manifest.Catalogs) != 2 {
		t.Errorf("unexpected manifest: %+v", manifest)
	}
}

func TestCatalogRoute(t *testing.T) {
	db := openTestDB(t)
	insertItem(t, db, &database.MediaItem{
		Title: "Visible", Kind: database.KindMovie, Language: "Hindi",
		IMDBID: "tt0000001", Status: database.MediaApproved,
	})
	// Wrong language for the movie catalog.
	insertItem(t, db, &database.MediaItem{
		Title: "Hidden Language", Kind: database.KindMovie, Language: "English",
		IMDBID: "tt0000002", Status: database.MediaApproved,
	})
	// No external identity, players cannot address it.
	insertItem(t, db, &database.MediaItem{
		Title: "Hidden Anonymous", Kind: database.KindMovie, Language: "Hindi",
		Status: database.MediaApproved,
	})
	// TMDB-only identities fall back to the tmdb: prefix.
	insertItem(t, db, &database.MediaItem{
		Title: "TMDB Only", Kind: database.KindMovie, Language: "Tamil",
		TMDBID: 77, Status: database.MediaAvailable,
	})

	srv := New(db, testConfig(), &stubClient{})
	rec := serve(t, srv, "GET", "/stremio/catalog/movie/mediaflow-movies.json", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Metas []stremioMeta `json:"metas"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode catalog: %v", err)
	}
	if len(resp.Metas) != 2 {
		t.Fatalf("expected 2 metas, got %d: %+v", len(resp.Metas), resp.Metas)
	}
	ids := map[string]bool{}
	for _, m := range resp.Metas {
		ids[m.ID] = true
	}
	if !ids["tt0000001"] || !ids["tmdb:77"] {
		t.Errorf("unexpected catalog ids: %v", ids)
	}
}

func TestStreamRouteIsEmpty(t *testing.T) {
	srv := New(openTestDB(t), testConfig(), &stubClient{})
	rec := serve(t, srv, "GET", "/stremio/stream/movie/tt0000001.json", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Streams []any `json:"streams"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode streams: %v", err)
	}
	if len(resp.Streams) != 0 {
		t.Errorf("expected no streams, got %d", len(resp.Streams))
	}
}
