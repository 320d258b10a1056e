package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// The tsvector is computed inline; the events table is small enough that an
// indexed column has not been worth a migration yet.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const eventVector = `to_tsvector('english',
	e.title || ' ' || coalesce(e.description, '') || ' ' ||
	coalesce(e.category, '') || ' ' || coalesce(e.location, '') || ' ' ||
	array_to_string(e.tags, ' '))`

// Search matches events with plainto_tsquery and ts_rank, using ts_headline
// for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := eventVector + " @@ " + tsQuery
	if q.Category != "" {
		where += fmt.Sprintf(" AND e.category = $%d", argN)
		args = append(args, q.Category)
		argN++
	}
	if q.Location != "" {
		where += fmt.Sprintf(" AND e.location = $%d", argN)
		args = append(args, q.Location)
		argN++
	}

	ctx := context.Background()

	countSQL := fmt.Sprintf("SELECT count(*) FROM events e WHERE %s", where)
	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT e.id, e.title,
			ts_headline('english', coalesce(e.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			coalesce(e.category, ''), coalesce(e.location, ''), e.date
		FROM events e
		WHERE %s
		ORDER BY ts_rank(%s, %s) DESC, e.id
		LIMIT %d OFFSET %d`,
		tsQuery, where, eventVector, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Category, &r.Location, &r.Date); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllEvents returns every event in indexable form for full reindexing.
func (p *PgFTS) LoadAllEvents(ctx context.Context) ([]EventRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, coalesce(category, ''), coalesce(location, ''), tags, date, featured
		FROM events
	`)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	events := make([]EventRecord, 0)
	for rows.Next() {
		var (
			e    EventRecord
			date sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Category, &e.Location, pq.Array(&e.Tags), &date, &e.Featured); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if date.Valid {
			e.Date = date.Time.Unix()
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
