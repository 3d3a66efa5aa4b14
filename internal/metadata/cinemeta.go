package metadata

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"mediaflow/internal/database"
)

// fetchCinemeta queries the fallback provider by IMDb ID. Single
// attempt; Cinemeta is best-effort and a miss just means no metadata.
func (r *Resolver) fetchCinemeta(ctx context.Context, imdbID string, kind database.Kind) *Result {
	fullURL := r.cinemetaBaseURL + "/meta/" + string(kind) + "/" + imdbID + ".json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil
	}
	resp, err := r.client.Do(req)
	if err != nil {
		log.Printf("Cinemeta error for %s: %v", imdbID, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("Cinemeta returned %d for %s", resp.StatusCode, imdbID)
		return nil
	}

	var payload struct {
		Meta *struct {
			Name        string   `json:"name"`
			ReleaseInfo any      `json:"releaseInfo"`
			Description string   `json:"description"`
			Poster      string   `json:"poster"`
			Background  string   `json:"background"`
			Genres      []string `json:"genres"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Printf("Malformed Cinemeta response for %s: %v", imdbID, err)
		return nil
	}
	if payload.Meta == nil {
		return nil
	}

	log.Printf("Cinemeta resolved %s: %s", imdbID, payload.Meta.Name)
	return &Result{
		IMDBID:      imdbID,
		Title:       payload.Meta.Name,
		Year:        releaseInfoYear(payload.Meta.ReleaseInfo),
		Overview:    payload.Meta.Description,
		PosterURL:   payload.Meta.Poster,
		BackdropURL: payload.Meta.Background,
		Genres:      payload.Meta.Genres,
		Source:      "cinemeta",
	}
}

// releaseInfoYear reads the leading year from Cinemeta's releaseInfo,
// which may be a number or strings like "2024" or "2021-2024".
func releaseInfoYear(info any) int {
	var s string
	switch t := info.(type) {
	case string:
		s = t
	case float64:
		return int(t)
	default:
		return 0
	}
	if len(s) < 4 {
		return 0
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return 0
	}
	return year
}
