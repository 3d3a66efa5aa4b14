// Package metadata resolves scraped listings against TMDB, with
// Cinemeta as the fallback provider. Every entry point returns nil for
// "no metadata": lookup misses, validation rejects, and exhausted
// retries all degrade to absence so callers can promote raw listings
// regardless.
package metadata

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"mediaflow/internal/database"
)

const (
	posterBaseURL   = "https://image.tmdb.org/t/p/w500"
	backdropBaseURL = "https://image.tmdb.org/t/p/w1280"
)

// Result is the canonical metadata for a resolved title. Zero values
// mean the provider did not supply the field.
type Result struct {
	TMDBID      int64
	IMDBID      string
	Title       string
	Year        int
	Overview    string
	PosterURL   string
	BackdropURL string
	Genres      []string
	Source      string // "tmdb" or "cinemeta"
}

// Resolver queries the metadata providers. The rate limiter enforcing
// the minimum spacing between TMDB calls is scoped to the instance.
type Resolver struct {
	apiKey          string
	baseURL         string
	cinemetaBaseURL string
	client          *http.Client
	limiter         *rate.Limiter
	defaultCooldown time.Duration
	backoffUnit     time.Duration
}

// New creates a Resolver. An empty API key is allowed; lookups will
// simply miss, which the pipeline tolerates.
func New(apiKey, tmdbBaseURL, cinemetaBaseURL string) *Resolver {
	if apiKey == "" {
		log.Println("TMDB API key is missing; metadata enrichment will fail")
	}
	return &Resolver{
		apiKey:          apiKey,
		baseURL:         tmdbBaseURL,
		cinemetaBaseURL: cinemetaBaseURL,
		client:          &http.Client{Timeout: 10 * time.Second},
		limiter:         rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		defaultCooldown: 5 * time.Second,
		backoffUnit:     time.Second,
	}
}

// ByTMDBID resolves metadata directly from a known TMDB ID.
func (r *Resolver) ByTMDBID(ctx context.Context, tmdbID int64, kind database.Kind) *Result {
	return r.formatResult(ctx, searchItem{ID: tmdbID}, kind)
}

// ByIMDBID resolves via TMDB's external-ID cross-reference, falling
// back to Cinemeta. Kind may be empty when the caller does not know it;
// the cross-reference result decides. When both the cross-reference and
// the kind are unknown, resolution fails.
func (r *Resolver) ByIMDBID(ctx context.Context, imdbID string, kind database.Kind) *Result {
	params := url.Values{"external_source": {"imdb_id"}}
	body := r.fetchTMDB(ctx, "/find/"+imdbID, params)

	resolvedKind := kind
	var item *searchItem
	if body != nil {
		var found struct {
			MovieResults []searchItem `json:"movie_results"`
			TVResults    []searchItem `json:"tv_results"`
		}
		if err := unmarshalLogged(body, &found); err == nil {
			if len(found.MovieResults) > 0 {
				item = &found.MovieResults[0]
				resolvedKind = database.KindMovie
			} else if len(found.TVResults) > 0 {
				item = &found.TVResults[0]
				resolvedKind = database.KindSeries
			}
		}
	}

	if item != nil {
		if result := r.formatResult(ctx, *item, resolvedKind); result != nil {
			return result
		}
	}

	if resolvedKind != "" {
		log.Printf("TMDB missed %s, falling back to Cinemeta", imdbID)
		return r.fetchCinemeta(ctx, imdbID, resolvedKind)
	}

	log.Printf("No metadata found for IMDb ID %s", imdbID)
	return nil
}

// ByQuery searches TMDB by title. A year constrains movie searches;
// series searches retry once without it when nothing matches. The first
// candidate within year tolerance wins (movies: ±1; series: must not
// have started after the target). Any candidate is accepted when no
// target year is known.
func (r *Resolver) ByQuery(ctx context.Context, title string, year int, kind database.Kind) *Result {
	endpoint := "/search/movie"
	if kind == database.KindSeries {
		endpoint = "/search/tv"
	}

	params := url.Values{"query": {title}}
	if kind == database.KindMovie && year > 0 {
		params.Set("primary_release_year", strconv.Itoa(year))
	}

	candidates := r.searchCandidates(ctx, endpoint, params)
	if len(candidates) == 0 && kind == database.KindSeries {
		params.Del("primary_release_year")
		candidates = r.searchCandidates(ctx, endpoint, params)
	}
	if len(candidates) == 0 {
		log.Printf("No search results for %q (%d)", title, year)
		return nil
	}

	for _, candidate := range candidates {
		if !validateMatch(candidate, year, kind) {
			continue
		}
		if result := r.formatResult(ctx, candidate, kind); result != nil {
			log.Printf("Matched %q: %s (%d)", title, result.Title, result.Year)
			return result
		}
		return nil
	}

	log.Printf("No candidate within year tolerance for %q (%d)", title, year)
	return nil
}

func (r *Resolver) searchCandidates(ctx context.Context, endpoint string, params url.Values) []searchItem {
	body := r.fetchTMDB(ctx, endpoint, params)
	if body == nil {
		return nil
	}
	var data struct {
		Results []searchItem `json:"results"`
	}
	if err := unmarshalLogged(body, &data); err != nil {
		return nil
	}
	return data.Results
}

// validateMatch checks a candidate against the target year. Movies must
// be within one year; series must not have started after the target.
func validateMatch(item searchItem, targetYear int, kind database.Kind) bool {
	if targetYear == 0 {
		return true
	}
	year := item.year()
	if year == 0 {
		return false
	}
	if kind == database.KindMovie {
		diff := year - targetYear
		return diff >= -1 && diff <= 1
	}
	return year <= targetYear
}

// formatResult fetches full details for an accepted candidate and
// assembles the Result. The detail response's external IMDb ID wins
// over anything on the listing.
func (r *Resolver) formatResult(ctx context.Context, item searchItem, kind database.Kind) *Result {
	endpoint := fmt.Sprintf("/movie/%d", item.ID)
	if kind == database.KindSeries {
		endpoint = fmt.Sprintf("/tv/%d", item.ID)
	}

	var details *detailItem
	if body := r.fetchTMDB(ctx, endpoint, url.Values{"append_to_response": {"external_ids"}}); body != nil {
		var d detailItem
		if err := unmarshalLogged(body, &d); err == nil {
			details = &d
		}
	}

	source := item
	imdbID := ""
	var genres []string
	if details != nil {
		source = details.searchItem
		imdbID = details.ExternalIDs.IMDBID
		if imdbID == "" {
			imdbID = details.IMDBID
		}
		for _, g := range details.Genres {
			genres = append(genres, g.Name)
		}
	}

	title := source.Title
	if title == "" {
		title = source.Name
	}
	if title == "" {
		// A bare ID with no reachable details cannot seed a catalog row.
		return nil
	}

	result := &Result{
		TMDBID:   source.ID,
		IMDBID:   imdbID,
		Title:    title,
		Year:     source.year(),
		Overview: source.Overview,
		Genres:   genres,
		Source:   "tmdb",
	}
	if source.PosterPath != "" {
		result.PosterURL = posterBaseURL + source.PosterPath
	}
	if source.BackdropPath != "" {
		result.BackdropURL = backdropBaseURL + source.BackdropPath
	}
	return result
}
