package database

// Kind classifies a catalog entry as a movie or a series.
type Kind string

const (
	KindMovie  Kind = "movie"
	KindSeries Kind = "series"
)

// ParseKind maps a raw kind string to a Kind, defaulting to movie.
// Unknown values are rejected at this boundary, never deeper in the
// pipeline.
func ParseKind(s string) Kind {
	if Kind(s) == KindSeries {
		return KindSeries
	}
	return KindMovie
}

// ScrapeStatus is the processing state of a buffered listing.
type ScrapeStatus string

const (
	ScrapePending   ScrapeStatus = "pending"
	ScrapeProcessed ScrapeStatus = "processed"
	ScrapeIgnored   ScrapeStatus = "ignored"
	ScrapeError     ScrapeStatus = "error"
)

// MediaStatus is the lifecycle state of a catalog entry.
type MediaStatus string

const (
	MediaNew        MediaStatus = "new"
	MediaProcessing MediaStatus = "processing"
	MediaApproved   MediaStatus = "approved"
	MediaAvailable  MediaStatus = "available"
	MediaIgnored    MediaStatus = "ignored"
)

// ScrapedItem is a buffered raw listing keyed by source URL. The raw
// payload is preserved so records can be reprocessed without
// re-scraping the source.
type ScrapedItem struct {
	ID            int64
	SourceURL     string
	Title         string
	Year          int
	Kind          Kind
	Platform      string
	Language      string
	StreamingDate *string
	RawData       string // JSON payload as scraped
	Status        ScrapeStatus
	ErrorMessage  *string
	CreatedAt     *string
	UpdatedAt     *string
}

// MediaItem is a canonical catalog entry. TMDBID and IMDBID use zero
// values for "unknown" and are stored as NULL so the unique indexes
// only apply to known identities.
type MediaItem struct {
	ID            int64
	Title         string
	Year          int
	Kind          Kind
	Language      string
	TMDBID        int64
	IMDBID        string
	Overview      string
	PosterURL     string
	BackdropURL   string
	Genres        []string
	SourceURL     string
	Platform      string
	StreamingDate *string
	Status        MediaStatus
	CreatedAt     *string
	UpdatedAt     *string
}

// Stats contains aggregate database statistics.
type Stats struct {
	ScrapedTotal     int
	ScrapedPending   int
	ScrapedProcessed int
	ScrapedErrors    int
	MediaTotal       int
	MediaMovies      int
	MediaSeries      int
	MediaApproved    int
	MediaNew         int
}
