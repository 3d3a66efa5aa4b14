package database

import (
	"strconv"
	"strings"
)

// CatalogFilter selects and pages through catalog entries. Statuses and
// Kinds match exactly; Languages and Platforms match fuzzily (any of);
// Genres requires every requested genre to be present (all of); Query
// matches the title fuzzily or either external ID exactly.
type CatalogFilter struct {
	Statuses  []MediaStatus
	Kinds     []Kind
	Languages []string
	Platforms []string
	Genres    []string
	Query     string
	Limit     int
	Offset    int
}

// ListMediaItems returns a filtered catalog page ordered by streaming
// date descending with unknown dates last, then creation time
// descending, plus the total row count for the filter.
func (db *DB) ListMediaItems(f CatalogFilter) ([]MediaItem, int, error) {
	where, args := buildCatalogWhere(f)

	var total int
	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM media_items"+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + mediaColumns + ` FROM media_items` + where +
		` ORDER BY streaming_date IS NULL, streaming_date DESC, created_at DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []MediaItem
	for rows.Next() {
		m, err := scanMediaRows(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *m)
	}
	return items, total, rows.Err()
}

func buildCatalogWhere(f CatalogFilter) (string, []any) {
	var conds []string
	var args []any

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		conds = append(conds, "status IN ("+strings.Join(placeholders, ",")+")")
	}

	if len(f.Kinds) > 0 {
		placeholders := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		conds = append(conds, "media_kind IN ("+strings.Join(placeholders, ",")+")")
	}

	if len(f.Languages) > 0 {
		ors := make([]string, len(f.Languages))
		for i, l := range f.Languages {
			ors[i] = "language LIKE ?"
			args = append(args, "%"+l+"%")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	if len(f.Platforms) > 0 {
		ors := make([]string, len(f.Platforms))
		for i, p := range f.Platforms {
			ors[i] = "platform LIKE ?"
			args = append(args, "%"+p+"%")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	// AND across requested genres: each must appear as a quoted token in
	// the stored JSON array, so "War" never matches "Western".
	for _, g := range f.Genres {
		conds = append(conds, "genres LIKE ?")
		args = append(args, `%"`+g+`"%`)
	}

	if q := strings.TrimSpace(f.Query); q != "" {
		cond := "(title LIKE ? OR imdb_id = ?"
		args = append(args, "%"+q+"%", q)
		if n, err := strconv.ParseInt(q, 10, 64); err == nil {
			cond += " OR tmdb_id = ?"
			args = append(args, n)
		}
		cond += ")"
		conds = append(conds, cond)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
