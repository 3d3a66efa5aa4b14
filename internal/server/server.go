// Package server exposes the catalog over HTTP: a JSON management API
// for reviewing and correcting items, and a Stremio addon surface for
// consumption by players.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"mediaflow/internal/config"
	"mediaflow/internal/database"
	"mediaflow/internal/metadata"
)

// MetadataClient re-resolves a single item on demand.
type MetadataClient interface {
	ByTMDBID(ctx context.Context, tmdbID int64, kind database.Kind) *metadata.Result
	ByIMDBID(ctx context.Context, imdbID string, kind database.Kind) *metadata.Result
}

// Server is the HTTP server for the management API and Stremio addon.
type Server struct {
	db       *database.DB
	cfg      *config.Config
	resolver MetadataClient
	mux      *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, cfg *config.Config, resolver MetadataClient) *Server {
	s := &Server{db: db, cfg: cfg, resolver: resolver, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/items", s.handleListItems)
	s.mux.HandleFunc("/api/items/", s.handleItemAction)
	s.mux.HandleFunc("/api/stats", s.handleStats)

	s.mux.HandleFunc("/stremio/manifest.json", s.handleManifest)
	s.mux.HandleFunc("/stremio/catalog/", s.handleCatalog)
	s.mux.HandleFunc("/stremio/stream/", s.handleStream)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	filter := database.CatalogFilter{
		Languages: splitParam(q.Get("language")),
		Platforms: splitParam(q.Get("platform")),
		Genres:    splitParam(q.Get("genre")),
		Query:     strings.TrimSpace(q.Get("q")),
	}
	for _, status := range splitParam(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, database.MediaStatus(status))
	}
	for _, kind := range splitParam(q.Get("kind")) {
		filter.Kinds = append(filter.Kinds, database.ParseKind(kind))
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}

	items, total, err := s.db.ListMediaItems(filter)
	if err != nil {
		log.Printf("Listing items failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"items": itemsJSON(items),
		"total": total,
	})
}

// handleItemAction dispatches /api/items/{id} and /api/items/{id}/sync.
func (s *Server) handleItemAction(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/items/")
	idPart, action, _ := strings.Cut(path, "/")

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := s.db.GetMediaItemByID(id)
	if err != nil {
		log.Printf("Loading item %d failed: %v", id, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if item == nil {
		respondError(w, http.StatusNotFound, "item not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		respondJSON(w, http.StatusOK, itemJSON(*item))
	case action == "" && (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut):
		s.updateItem(w, r, item)
	case action == "" && r.Method == http.MethodDelete:
		s.deleteItem(w, item)
	case action == "sync" && r.Method == http.MethodPost:
		s.syncItem(w, r, item)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// itemUpdate is the PATCH body; pointers distinguish absent fields
// from explicit zero values.
type itemUpdate struct {
	Title    *string   `json:"title"`
	Year     *int      `json:"year"`
	Status   *string   `json:"status"`
	Language *string   `json:"language"`
	Platform *string   `json:"platform"`
	Genres   *[]string `json:"genres"`
	TMDBID   *int64    `json:"tmdb_id"`
	IMDBID   *string   `json:"imdb_id"`
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request, item *database.MediaItem) {
	var upd itemUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if upd.Title != nil {
		item.Title = *upd.Title
	}
	if upd.Year != nil {
		item.Year = *upd.Year
	}
	if upd.Status != nil {
		item.Status = database.MediaStatus(*upd.Status)
	}
	if upd.Language != nil {
		item.Language = *upd.Language
	}
	if upd.Platform != nil {
		item.Platform = *upd.Platform
	}
	if upd.Genres != nil {
		item.Genres = *upd.Genres
	}
	if upd.TMDBID != nil {
		item.TMDBID = *upd.TMDBID
	}
	if upd.IMDBID != nil {
		item.IMDBID = *upd.IMDBID
	}

	if err := s.db.UpdateMediaItem(item); err != nil {
		log.Printf("Updating item %d failed: %v", item.ID, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, itemJSON(*item))
}

func (s *Server) deleteItem(w http.ResponseWriter, item *database.MediaItem) {
	if err := s.db.DeleteMediaItem(item.ID); err != nil {
		log.Printf("Deleting item %d failed: %v", item.ID, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": item.ID})
}

// syncItem re-resolves the item against the metadata providers, by
// TMDB ID first, then IMDb ID.
func (s *Server) syncItem(w http.ResponseWriter, r *http.Request, item *database.MediaItem) {
	var meta *metadata.Result
	if item.TMDBID != 0 {
		meta = s.resolver.ByTMDBID(r.Context(), item.TMDBID, item.Kind)
	}
	if meta == nil && item.IMDBID != "" {
		meta = s.resolver.ByIMDBID(r.Context(), item.IMDBID, item.Kind)
	}
	if meta == nil {
		respondError(w, http.StatusUnprocessableEntity, "no metadata found for item")
		return
	}

	if meta.TMDBID != 0 {
		item.TMDBID = meta.TMDBID
	}
	if meta.IMDBID != "" {
		item.IMDBID = meta.IMDBID
	}
	if meta.Title != "" {
		item.Title = meta.Title
	}
	if meta.Year != 0 {
		item.Year = meta.Year
	}
	if meta.Overview != "" {
		item.Overview = meta.Overview
	}
	if meta.PosterURL != "" {
		item.PosterURL = meta.PosterURL
	}
	if meta.BackdropURL != "" {
		item.BackdropURL = meta.BackdropURL
	}
	if len(meta.Genres) > 0 {
		item.Genres = meta.Genres
	}

	if err := s.db.UpdateMediaItem(item); err != nil {
		log.Printf("Saving synced item %d failed: %v", item.ID, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, itemJSON(*item))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		log.Printf("Loading stats failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"scraped": map[string]int{
			"total":     stats.ScrapedTotal,
			"pending":   stats.ScrapedPending,
			"processed": stats.ScrapedProcessed,
			"errors":    stats.ScrapedErrors,
		},
		"media": map[string]int{
			"total":    stats.MediaTotal,
			"movies":   stats.MediaMovies,
			"series":   stats.MediaSeries,
			"approved": stats.MediaApproved,
			"new":      stats.MediaNew,
		},
	})
}

// itemJSON is the wire shape of a catalog item.
type itemJSONBody struct {
	ID            int64    `json:"id"`
	Title         string   `json:"title"`
	Year          int      `json:"year,omitempty"`
	Kind          string   `json:"kind"`
	Language      string   `json:"language,omitempty"`
	TMDBID        int64    `json:"tmdb_id,omitempty"`
	IMDBID        string   `json:"imdb_id,omitempty"`
	Overview      string   `json:"overview,omitempty"`
	PosterURL     string   `json:"poster_url,omitempty"`
	BackdropURL   string   `json:"backdrop_url,omitempty"`
	Genres        []string `json:"genres"`
	SourceURL     string   `json:"source_url,omitempty"`
	Platform      string   `json:"platform,omitempty"`
	StreamingDate *string  `json:"streaming_date"`
	Status        string   `json:"status"`
	CreatedAt     *string  `json:"created_at,omitempty"`
	UpdatedAt     *string  `json:"updated_at,omitempty"`
}

func itemJSON(m database.MediaItem) itemJSONBody {
	return itemJSONBody{
		ID:            m.ID,
		Title:         m.Title,
		Year:          m.Year,
		Kind:          string(m.Kind),
		Language:      m.Language,
		TMDBID:        m.TMDBID,
		IMDBID:        m.IMDBID,
		Overview:      m.Overview,
		PosterURL:     m.PosterURL,
		BackdropURL:   m.BackdropURL,
		Genres:        m.Genres,
		SourceURL:     m.SourceURL,
		Platform:      m.Platform,
		StreamingDate: m.StreamingDate,
		Status:        string(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func itemsJSON(items []database.MediaItem) []itemJSONBody {
	out := make([]itemJSONBody, len(items))
	for i, m := range items {
		out[i] = itemJSON(m)
	}
	return out
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Encoding response failed: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, cfg *config.Config, resolver MetadataClient, port int) error {
	srv := New(db, cfg, resolver)

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
