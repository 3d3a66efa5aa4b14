package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"mediaflow/internal/database"
)

// catalogCap bounds one Stremio catalog response.
const catalogCap = 100

type manifestCatalog struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"id":          "com.mediaflow.catalog",
		"version":     "1.0.0",
		"name":        "MediaFlow",
		"description": "New Indian streaming releases across OTT platforms",
		"resources":   []string{"catalog", "stream"},
		"types":       []string{"movie", "series"},
		"idPrefixes":  []string{"tt", "tmdb:"},
		"catalogs": []manifestCatalog{
			{Type: "movie", ID: "mediaflow-movies", Name: "MediaFlow Movies"},
			{Type: "series", ID: "mediaflow-series", Name: "MediaFlow Series"},
		},
	})
}

// stremioMeta is the catalog entry shape Stremio expects.
type stremioMeta struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Poster      *string  `json:"poster,omitempty"`
	Background  *string  `json:"background,omitempty"`
	Description string   `json:"description,omitempty"`
	ReleaseInfo string   `json:"releaseInfo,omitempty"`
	Genres      []string `json:"genres,omitempty"`
}

// handleCatalog serves /stremio/catalog/{type}/{id}.json with the
// approved and available items for the configured target languages.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseStremioPath(r.URL.Path, "/stremio/catalog/")
	if !ok {
		respondError(w, http.StatusNotFound, "unknown catalog")
		return
	}

	filter := database.CatalogFilter{
		Statuses:  []database.MediaStatus{database.MediaApproved, database.MediaAvailable},
		Kinds:     []database.Kind{kind},
		Languages: s.cfg.TargetLanguages(string(kind)),
		Limit:     catalogCap,
	}
	items, _, err := s.db.ListMediaItems(filter)
	if err != nil {
		log.Printf("Building %s catalog failed: %v", kind, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	metas := make([]stremioMeta, 0, len(items))
	for _, item := range items {
		id := stremioID(item)
		if id == "" {
			// Players cannot address an item with no external identity.
			continue
		}
		meta := stremioMeta{
			ID:          id,
			Type:        string(item.Kind),
			Name:        item.Title,
			Description: item.Overview,
			Genres:      item.Genres,
		}
		if item.PosterURL != "" {
			meta.Poster = &item.PosterURL
		}
		if item.BackdropURL != "" {
			meta.Background = &item.BackdropURL
		}
		if item.Year != 0 {
			meta.ReleaseInfo = fmt.Sprintf("%d", item.Year)
		}
		metas = append(metas, meta)
	}

	respondJSON(w, http.StatusOK, map[string]any{"metas": metas})
}

// handleStream always answers with no streams: this addon only
// provides catalogs, playback comes from other installed addons.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"streams": []any{}})
}

// stremioID prefers the IMDb ID, which other addons can match streams
// against, over a TMDB-prefixed fallback.
func stremioID(item database.MediaItem) string {
	if item.IMDBID != "" {
		return item.IMDBID
	}
	if item.TMDBID != 0 {
		return fmt.Sprintf("tmdb:%d", item.TMDBID)
	}
	return ""
}

// parseStremioPath extracts the media type from an addon resource path
// like /stremio/catalog/movie/mediaflow-movies.json.
func parseStremioPath(path, prefix string) (database.Kind, bool) {
	rest := strings.TrimPrefix(path, prefix)
	typePart, idPart, found := strings.Cut(rest, "/")
	if !found || !strings.HasSuffix(idPart, ".json") {
		return "", false
	}
	switch typePart {
	case "movie":
		return database.KindMovie, true
	case "series":
		return database.KindSeries, true
	}
	return "", false
}
