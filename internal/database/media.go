package database

import (
	"database/sql"
	"encoding/json"
)

// FindMediaByExternalIDs looks up a catalog row by resolved provider IDs,
// matching on whichever of the two is known. Returns nil when neither ID
// is known or no row matches.
func (tx *Tx) FindMediaByExternalIDs(tmdbID int64, imdbID string) (*MediaItem, error) {
	return findMediaByExternalIDs(tx.tx, tmdbID, imdbID)
}

// FindMediaBySourceURL looks up a catalog row by its listing source URL.
func (tx *Tx) FindMediaBySourceURL(sourceURL string) (*MediaItem, error) {
	return findMediaBySourceURL(tx.tx, sourceURL)
}

// InsertMediaItem inserts a new catalog row and sets m.ID.
func (tx *Tx) InsertMediaItem(m *MediaItem) error {
	return insertMediaItem(tx.tx, m)
}

// UpdateMediaItem writes all mutable fields of an existing catalog row.
func (tx *Tx) UpdateMediaItem(m *MediaItem) error {
	return updateMediaItem(tx.tx, m)
}

// GetMediaItemByID returns a single catalog row, or nil if absent.
func (db *DB) GetMediaItemByID(id int64) (*MediaItem, error) {
	row := db.conn.QueryRow(
		`SELECT `+mediaColumns+` FROM media_items WHERE id = ?`, id,
	)
	m, err := scanMediaRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMediaItem writes all mutable fields outside a batch transaction
// (management API edits and metadata re-syncs).
func (db *DB) UpdateMediaItem(m *MediaItem) error {
	return updateMediaItem(db.conn, m)
}

// DeleteMediaItem removes a catalog row. Deletion is a user action; the
// ingestion pipeline never deletes.
func (db *DB) DeleteMediaItem(id int64) error {
	_, err := db.conn.Exec("DELETE FROM media_items WHERE id = ?", id)
	return err
}

// GetStats returns aggregate counts for the status command.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	queries := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&s.ScrapedTotal, "SELECT COUNT(*) FROM scraped_items", nil},
		{&s.ScrapedPending, "SELECT COUNT(*) FROM scraped_items WHERE status = ?", []any{string(ScrapePending)}},
		{&s.ScrapedProcessed, "SELECT COUNT(*) FROM scraped_items WHERE status = ?", []any{string(ScrapeProcessed)}},
		{&s.ScrapedErrors, "SELECT COUNT(*) FROM scraped_items WHERE status = ?", []any{string(ScrapeError)}},
		{&s.MediaTotal, "SELECT COUNT(*) FROM media_items", nil},
		{&s.MediaMovies, "SELECT COUNT(*) FROM media_items WHERE media_kind = ?", []any{string(KindMovie)}},
		{&s.MediaSeries, "SELECT COUNT(*) FROM media_items WHERE media_kind = ?", []any{string(KindSeries)}},
		{&s.MediaApproved, "SELECT COUNT(*) FROM media_items WHERE status = ?", []any{string(MediaApproved)}},
		{&s.MediaNew, "SELECT COUNT(*) FROM media_items WHERE status = ?", []any{string(MediaNew)}},
	}
	for _, q := range queries {
		if err := db.conn.QueryRow(q.query, q.args...).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func findMediaByExternalIDs(q querier, tmdbID int64, imdbID string) (*MediaItem, error) {
	var conds []string
	var args []any
	if tmdbID != 0 {
		conds = append(conds, "tmdb_id = ?")
		args = append(args, tmdbID)
	}
	if imdbID != "" {
		conds = append(conds, "imdb_id = ?")
		args = append(args, imdbID)
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query := `SELECT ` + mediaColumns + ` FROM media_items WHERE ` + conds[0]
	if len(conds) == 2 {
		query += " OR " + conds[1]
	}

	row := q.QueryRow(query, args...)
	m, err := scanMediaRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func findMediaBySourceURL(q querier, sourceURL string) (*MediaItem, error) {
	row := q.QueryRow(
		`SELECT `+mediaColumns+` FROM media_items WHERE source_url = ?`, sourceURL,
	)
	m, err := scanMediaRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func insertMediaItem(q querier, m *MediaItem) error {
	genres, err := json.Marshal(emptyToList(m.Genres))
	if err != nil {
		return err
	}
	result, err := q.Exec(
		`INSERT INTO media_items
		(title, year, media_kind, language, tmdb_id, imdb_id, overview, poster_url,
		 backdrop_url, genres, source_url, platform, streaming_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Title, m.Year, string(m.Kind), nullString(m.Language),
		nullInt64(m.TMDBID), nullString(m.IMDBID),
		nullString(m.Overview), nullString(m.PosterURL), nullString(m.BackdropURL),
		string(genres), nullString(m.SourceURL), nullString(m.Platform),
		m.StreamingDate, string(m.Status),
	)
	if err != nil {
		return err
	}
	m.ID, err = result.LastInsertId()
	return err
}

func updateMediaItem(q querier, m *MediaItem) error {
	genres, err := json.Marshal(emptyToList(m.Genres))
	if err != nil {
		return err
	}
	_, err = q.Exec(
		`UPDATE media_items
		SET title = ?, year = ?, media_kind = ?, language = ?, tmdb_id = ?, imdb_id = ?,
		    overview = ?, poster_url = ?, backdrop_url = ?, genres = ?, source_url = ?,
		    platform = ?, streaming_date = ?, status = ?, updated_at = datetime('now')
		WHERE id = ?`,
		m.Title, m.Year, string(m.Kind), nullString(m.Language),
		nullInt64(m.TMDBID), nullString(m.IMDBID),
		nullString(m.Overview), nullString(m.PosterURL), nullString(m.BackdropURL),
		string(genres), nullString(m.SourceURL), nullString(m.Platform),
		m.StreamingDate, string(m.Status), m.ID,
	)
	return err
}

const mediaColumns = `id, title, year, media_kind, language, tmdb_id, imdb_id, overview,
	poster_url, backdrop_url, genres, source_url, platform, streaming_date, status,
	created_at, updated_at`

func scanMediaRow(row *sql.Row) (*MediaItem, error) {
	var m MediaItem
	var language, imdbID, overview, poster, backdrop, genres, sourceURL, platform sql.NullString
	var tmdbID sql.NullInt64
	var status string
	if err := row.Scan(&m.ID, &m.Title, &m.Year, &m.Kind, &language, &tmdbID, &imdbID,
		&overview, &poster, &backdrop, &genres, &sourceURL, &platform,
		&m.StreamingDate, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	fillMediaItem(&m, language, tmdbID, imdbID, overview, poster, backdrop, genres, sourceURL, platform, status)
	return &m, nil
}

func scanMediaRows(rows *sql.Rows) (*MediaItem, error) {
	var m MediaItem
	var language, imdbID, overview, poster, backdrop, genres, sourceURL, platform sql.NullString
	var tmdbID sql.NullInt64
	var status string
	if err := rows.Scan(&m.ID, &m.Title, &m.Year, &m.Kind, &language, &tmdbID, &imdbID,
		&overview, &poster, &backdrop, &genres, &sourceURL, &platform,
		&m.StreamingDate, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	fillMediaItem(&m, language, tmdbID, imdbID, overview, poster, backdrop, genres, sourceURL, platform, status)
	return &m, nil
}

func fillMediaItem(m *MediaItem, language sql.NullString, tmdbID sql.NullInt64,
	imdbID, overview, poster, backdrop, genres, sourceURL, platform sql.NullString, status string) {
	m.Language = language.String
	m.TMDBID = tmdbID.Int64
	m.IMDBID = imdbID.String
	m.Overview = overview.String
	m.PosterURL = poster.String
	m.BackdropURL = backdrop.String
	m.SourceURL = sourceURL.String
	m.Platform = platform.String
	m.Status = MediaStatus(status)
	if genres.String != "" {
		// Ignore malformed genre blobs rather than failing the scan.
		_ = json.Unmarshal([]byte(genres.String), &m.Genres)
	}
}

func emptyToList(genres []string) []string {
	if genres == nil {
		return []string{}
	}
	return genres
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
