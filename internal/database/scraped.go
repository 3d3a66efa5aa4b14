package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// ScrapedUpsert carries the fields written when a listing is buffered.
type ScrapedUpsert struct {
	SourceURL     string
	Title         string
	Year          int
	Kind          Kind
	Platform      string
	Language      string
	StreamingDate *string
	RawData       string
}

// UpsertScrapedBatch writes a batch of listings into the buffer inside a
// single transaction. Existing records (matched by source URL) get their
// payload overwritten and their status reset to pending; new records are
// inserted as pending. Returns the activity count: every written record,
// update or insert, counts as activity.
func (db *DB) UpsertScrapedBatch(records []ScrapedUpsert) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	urls := make([]string, len(records))
	for i, r := range records {
		urls[i] = r.SourceURL
	}

	// Bulk-load existing rows up front so the loop never races itself
	// into a duplicate-key insert within the batch.
	existing, err := db.GetScrapedItemsByURLs(urls)
	if err != nil {
		return 0, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning buffer batch: %w", err)
	}

	activity := 0
	for _, r := range records {
		if prev, ok := existing[r.SourceURL]; ok {
			_, err = tx.Exec(
				`UPDATE scraped_items
				SET title = ?, year = ?, media_kind = ?, platform = ?, language = ?,
				    streaming_date = ?, raw_data = ?, status = ?, error_message = NULL,
				    updated_at = datetime('now')
				WHERE id = ?`,
				r.Title, r.Year, string(r.Kind), r.Platform, r.Language,
				r.StreamingDate, r.RawData, string(ScrapePending), prev.ID,
			)
		} else {
			_, err = tx.Exec(
				`INSERT INTO scraped_items
				(source_url, title, year, media_kind, platform, language, streaming_date, raw_data, status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.SourceURL, r.Title, r.Year, string(r.Kind), r.Platform, r.Language,
				r.StreamingDate, r.RawData, string(ScrapePending),
			)
		}
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("upserting %s: %w", r.SourceURL, err)
		}
		activity++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing buffer batch: %w", err)
	}
	return activity, nil
}

// GetScrapedItemsByURLs bulk-loads buffered records for a set of source URLs.
func (db *DB) GetScrapedItemsByURLs(urls []string) (map[string]ScrapedItem, error) {
	if len(urls) == 0 {
		return map[string]ScrapedItem{}, nil
	}

	placeholders := strings.Repeat("?,", len(urls))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}

	rows, err := db.conn.Query(
		`SELECT `+scrapedColumns+` FROM scraped_items WHERE source_url IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string]ScrapedItem)
	for rows.Next() {
		item, err := scanScrapedItem(rows)
		if err != nil {
			return nil, err
		}
		items[item.SourceURL] = *item
	}
	return items, rows.Err()
}

// GetPendingScrapedItems returns up to limit buffered records awaiting
// promotion, oldest first.
func (db *DB) GetPendingScrapedItems(limit int) ([]ScrapedItem, error) {
	rows, err := db.conn.Query(
		`SELECT `+scrapedColumns+` FROM scraped_items WHERE status = ? ORDER BY id LIMIT ?`,
		string(ScrapePending), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ScrapedItem
	for rows.Next() {
		item, err := scanScrapedItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// CountScrapedItems counts buffered records, optionally per kind.
func (db *DB) CountScrapedItems(kind Kind) (int, error) {
	var count int
	var err error
	if kind == "" {
		err = db.conn.QueryRow("SELECT COUNT(*) FROM scraped_items").Scan(&count)
	} else {
		err = db.conn.QueryRow(
			"SELECT COUNT(*) FROM scraped_items WHERE media_kind = ?", string(kind),
		).Scan(&count)
	}
	return count, err
}

// MarkScrapedProcessed transitions a buffered record to processed.
func (tx *Tx) MarkScrapedProcessed(id int64) error {
	_, err := tx.tx.Exec(
		`UPDATE scraped_items SET status = ?, error_message = NULL, updated_at = datetime('now') WHERE id = ?`,
		string(ScrapeProcessed), id,
	)
	return err
}

// MarkScrapedError records a per-record processing fault. The record
// stays inspectable for manual reprocessing.
func (tx *Tx) MarkScrapedError(id int64, msg string) error {
	_, err := tx.tx.Exec(
		`UPDATE scraped_items SET status = ?, error_message = ?, updated_at = datetime('now') WHERE id = ?`,
		string(ScrapeError), msg, id,
	)
	return err
}

const scrapedColumns = `id, source_url, title, year, media_kind, platform, language,
	streaming_date, raw_data, status, error_message, created_at, updated_at`

func scanScrapedItem(rows *sql.Rows) (*ScrapedItem, error) {
	var s ScrapedItem
	var title, kind, platform, language, rawData sql.NullString
	var status string
	if err := rows.Scan(&s.ID, &s.SourceURL, &title, &s.Year, &kind, &platform, &language,
		&s.StreamingDate, &rawData, &status, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Title = title.String
	s.Kind = Kind(kind.String)
	s.Platform = platform.String
	s.Language = language.String
	s.RawData = rawData.String
	s.Status = ScrapeStatus(status)
	return &s, nil
}
