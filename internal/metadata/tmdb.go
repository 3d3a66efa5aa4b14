package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
)

// searchItem covers both the movie and TV shapes of TMDB list results.
type searchItem struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Name         string `json:"name"`
	ReleaseDate  string `json:"release_date"`
	FirstAirDate string `json:"first_air_date"`
	Overview     string `json:"overview"`
	PosterPath   string `json:"poster_path"`
	BackdropPath string `json:"backdrop_path"`
}

// year extracts the release year from whichever date field is set.
func (s searchItem) year() int {
	date := s.ReleaseDate
	if date == "" {
		date = s.FirstAirDate
	}
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

type detailItem struct {
	searchItem
	IMDBID      string `json:"imdb_id"`
	ExternalIDs struct {
		IMDBID string `json:"imdb_id"`
	} `json:"external_ids"`
	Genres []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

// rateLimitError carries the provider-supplied cooldown from a 429.
type rateLimitError struct {
	after time.Duration
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.after)
}

var errNotFound = errors.New("not found")

// fetchTMDB performs one TMDB API call under the instance rate limiter
// and the shared retry policy. 404 is a definitive miss, not retried.
// Returns nil on miss or exhausted retries.
func (r *Resolver) fetchTMDB(ctx context.Context, endpoint string, params url.Values) []byte {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", r.apiKey)
	fullURL := r.baseURL + endpoint + "?" + params.Encode()

	var body []byte
	err := retry.Do(
		func() error {
			if err := r.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			resp, err := r.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusOK:
				body, err = io.ReadAll(resp.Body)
				return err
			case resp.StatusCode == http.StatusTooManyRequests:
				after := r.defaultCooldown
				if header := resp.Header.Get("Retry-After"); header != "" {
					if secs, err := strconv.Atoi(header); err == nil {
						after = time.Duration(secs) * time.Second
					}
				}
				log.Printf("TMDB rate limit hit on %s, retrying after %s", endpoint, after)
				return &rateLimitError{after: after}
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(errNotFound)
			case resp.StatusCode >= 500:
				return fmt.Errorf("TMDB server error %d on %s", resp.StatusCode, endpoint)
			default:
				return retry.Unrecoverable(fmt.Errorf("TMDB status %d on %s", resp.StatusCode, endpoint))
			}
		},
		retry.Attempts(3),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			var rl *rateLimitError
			if errors.As(err, &rl) {
				return rl.after
			}
			return time.Duration(1<<(n+1)) * r.backoffUnit
		}),
	)
	if err != nil {
		if !errors.Is(err, errNotFound) {
			log.Printf("TMDB fetch failed for %s: %v", endpoint, err)
		}
		return nil
	}
	return body
}

func unmarshalLogged(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		log.Printf("Malformed TMDB response: %v", err)
		return err
	}
	return nil
}
