package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc/pool"

	"mediaflow/internal/database"
)

const pageSize = 50

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
}

var genreAllowlist = []string{
	"Action", "Adventure", "Animation", "Biography", "Comedy", "Crime",
	"Drama", "Family", "Fantasy", "History", "Horror", "Kids", "Musical",
	"Mystery", "Political", "Romance", "Sci-Fi", "Sports", "Thriller",
	"War", "Western",
}

var platformAllowlist = []string{
	"Aha Video", "Amazon", "ETV Win", "Jio Hotstar", "Netflix",
	"Sony LIV", "Sun NXT", "Zee5", "Apple Tv Plus",
}

// genrePartialBlocklist drops listings whose genre string contains any
// of these substrings; genreExactBlocklist drops listings whose genre
// list contains the token exactly. Both checks run, in that order.
var genrePartialBlocklist = []string{
	"reality", "documentary", "talk", "news", "game",
	"stand-up", "shorts", "mini", "music",
}

var genreExactBlocklist = []string{"music"}

// Listing is one scraped entry before enrichment. Year is kept as the
// raw source string (possibly malformed); the reconciler parses it.
type Listing struct {
	Title         string
	Year          string
	Platform      string
	StreamingDate *string
	Language      string
	SourceURL     string
	IMDBID        string
	RawData       json.RawMessage
}

// Scraper fetches streaming-premiere listings from the upstream source.
// Concurrency and cooldown are scoped to the instance so tests can run
// several scrapers with independent limits.
type Scraper struct {
	baseURL           string
	client            *http.Client
	userAgent         string
	detailConcurrency int
	rateCooldown      time.Duration
	backoffUnit       time.Duration
}

// New creates a Scraper against the given base URL with the given
// bounded concurrency for per-listing detail requests.
func New(baseURL string, detailConcurrency int) *Scraper {
	if detailConcurrency <= 0 {
		detailConcurrency = 5
	}
	return &Scraper{
		baseURL:           strings.TrimSuffix(baseURL, "/"),
		client:            &http.Client{Timeout: 10 * time.Second},
		userAgent:         userAgents[rand.Intn(len(userAgents))],
		detailConcurrency: detailConcurrency,
		rateCooldown:      60 * time.Second,
		backoffUnit:       time.Second,
	}
}

type listItem struct {
	ID            any      `json:"id"`
	Title         string   `json:"title"`
	Link          string   `json:"link"`
	Genre         string   `json:"genre"`
	Languages     string   `json:"languages"`
	Platform      []string `json:"platform"`
	StreamingDate string   `json:"streaming-date"`
	ReleaseDate   string   `json:"release-date"`
	Date          string   `json:"date"`
	ReleaseYear   any      `json:"release-year"`
}

// FetchPage scrapes a single zero-indexed page of 50 listings for the
// given kind. An empty result means the source had no data for this
// page (including after exhausted retries); it is never a hard failure.
func (s *Scraper) FetchPage(ctx context.Context, page int, kind database.Kind) []Listing {
	category := "Film"
	if kind == database.KindSeries {
		category = "Tv show"
	}

	form := url.Values{
		"action":              {"mi_events_load_data"},
		"filters[category][]": {category},
		"filters[mode]":       {"streaming-now"},
		"filters[genre][]":    genreAllowlist,
		"filters[platform][]": platformAllowlist,
		"start":               {fmt.Sprintf("%d", page*pageSize)},
		"length":              {fmt.Sprintf("%d", pageSize)},
	}

	body := s.fetch(ctx, http.MethodPost, s.baseURL+"/wp-admin/admin-ajax.php", form)
	if body == nil {
		log.Printf("No data returned for page %d (%s)", page, kind)
		return nil
	}

	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("Malformed listing response for page %d: %v", page, err)
		return nil
	}

	// Decode and filter before the detail fan-out so blocked listings
	// never cost a request.
	type candidate struct {
		item listItem
		raw  json.RawMessage
	}
	var candidates []candidate
	for _, raw := range payload.Data {
		var item listItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		if blockedGenre(item.Genre) {
			continue
		}
		candidates = append(candidates, candidate{item: item, raw: raw})
	}

	// Detail requests resolve the IMDb ID absent from the listing payload.
	// Bounded fan-out; results land by index so output order matches
	// listing order.
	imdbIDs := make([]string, len(candidates))
	p := pool.New().WithMaxGoroutines(s.detailConcurrency)
	for i, c := range candidates {
		itemID := stringify(c.item.ID)
		if itemID == "" {
			log.Printf("No item ID found for %q", c.item.Title)
			continue
		}
		p.Go(func() {
			imdbIDs[i] = s.fetchIMDBID(ctx, itemID)
		})
	}
	p.Wait()

	results := make([]Listing, 0, len(candidates))
	for i, c := range candidates {
		results = append(results, Listing{
			Title:         CleanTitle(c.item.Title),
			Year:          stringify(c.item.ReleaseYear),
			Platform:      resolvePlatform(c.item.Platform),
			StreamingDate: parseStreamingDate(firstNonEmpty(c.item.StreamingDate, c.item.ReleaseDate, c.item.Date)),
			Language:      c.item.Languages,
			SourceURL:     c.item.Link,
			IMDBID:        imdbIDs[i],
			RawData:       c.raw,
		})
	}
	return results
}

// fetchIMDBID queries the per-listing detail endpoint. Empty means the
// source does not know the IMDb ID.
func (s *Scraper) fetchIMDBID(ctx context.Context, itemID string) string {
	body := s.fetch(ctx, http.MethodGet, s.baseURL+"/wp-json/binged-api/v1/movie/"+itemID, nil)
	if body == nil {
		return ""
	}

	var detail struct {
		IMDB string `json:"imdb"`
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		return ""
	}
	return strings.TrimSpace(detail.IMDB)
}

var errRateLimited = errors.New("rate limited")

// fetch performs one HTTP call with the retry policy: up to 3 attempts,
// fixed cooldown on 429, exponential backoff on 5xx and network errors.
// Other statuses are definitive. Returns nil after exhausted retries.
func (s *Scraper) fetch(ctx context.Context, method, rawURL string, form url.Values) []byte {
	var body []byte
	err := retry.Do(
		func() error {
			var reqBody io.Reader
			if form != nil {
				reqBody = strings.NewReader(form.Encode())
			}
			req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
			req.Header.Set("Origin", s.baseURL)
			req.Header.Set("Referer", s.baseURL+"/streaming-premiere-dates/")
			req.Header.Set("X-Requested-With", "XMLHttpRequest")
			req.Header.Set("User-Agent", s.userAgent)
			if form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}

			resp, err := s.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusOK:
				body, err = io.ReadAll(resp.Body)
				return err
			case resp.StatusCode == http.StatusTooManyRequests:
				log.Printf("Rate limited (429) on %s, waiting %s before retry", rawURL, s.rateCooldown)
				return errRateLimited
			case resp.StatusCode >= 500:
				return fmt.Errorf("server error %d on %s", resp.StatusCode, rawURL)
			default:
				return retry.Unrecoverable(fmt.Errorf("status %d on %s", resp.StatusCode, rawURL))
			}
		},
		retry.Attempts(3),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			if errors.Is(err, errRateLimited) {
				return s.rateCooldown
			}
			return time.Duration(1<<(n+1)) * s.backoffUnit
		}),
	)
	if err != nil {
		log.Printf("Max retries reached for %s: %v", rawURL, err)
		return nil
	}
	return body
}

// blockedGenre applies the substring blocklist over the whole genre
// string, then the exact blocklist over its comma-separated tokens.
func blockedGenre(genre string) bool {
	if genre == "" {
		return false
	}
	lower := strings.ToLower(genre)
	for _, bad := range genrePartialBlocklist {
		if strings.Contains(lower, bad) {
			return true
		}
	}
	for _, token := range strings.Split(lower, ",") {
		token = strings.TrimSpace(token)
		for _, bad := range genreExactBlocklist {
			if token == bad {
				return true
			}
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// stringify renders the loosely-typed source fields (string or number)
// as a plain string.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
