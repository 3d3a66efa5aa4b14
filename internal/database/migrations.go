package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS scraped_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_url TEXT UNIQUE NOT NULL,
    title TEXT,
    year INTEGER DEFAULT 0,
    media_kind TEXT,
    platform TEXT,
    language TEXT,
    streaming_date TEXT,
    raw_data TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_scraped_status ON scraped_items(status);
CREATE INDEX IF NOT EXISTS idx_scraped_kind ON scraped_items(media_kind);

CREATE TABLE IF NOT EXISTS media_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    year INTEGER DEFAULT 0,
    media_kind TEXT NOT NULL,
    language TEXT,
    tmdb_id INTEGER UNIQUE,
    imdb_id TEXT UNIQUE,
    overview TEXT,
    poster_url TEXT,
    backdrop_url TEXT,
    genres TEXT DEFAULT '[]',
    source_url TEXT,
    platform TEXT,
    streaming_date TEXT,
    status TEXT NOT NULL DEFAULT 'new',
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_media_status ON media_items(status);
CREATE INDEX IF NOT EXISTS idx_media_kind ON media_items(media_kind);
CREATE INDEX IF NOT EXISTS idx_media_streaming_date ON media_items(streaming_date);
`)
			return err
		},
	},
}
