package query

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

// Service executes discovery queries against the event corpus. Data-access
// failures never propagate: the caller always receives a usable, possibly
// empty, result.
type Service struct {
	db      *sql.DB
	builder Builder
	now     func() time.Time
	timeout time.Duration
}

func NewService(db *sql.DB, curatedCity string) *Service {
	return &Service{
		db:      db,
		builder: NewBuilder(curatedCity),
		now:     time.Now,
	}
}

// WithClock overrides the query-time clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithTimeout bounds every query's execution. An expired deadline surfaces
// as a data-access error and therefore as the safe empty result.
func (s *Service) WithTimeout(timeout time.Duration) *Service {
	s.timeout = timeout
	return s
}

func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// QueryEvents runs the main page query plus the independent stat counters.
// Page and PageSize must already be clamped to >= 1 by the caller. On any
// data-access error the result is empty with zeroed stats, preserving the
// requested page and page size so the caller can retry without losing
// context.
func (s *Service) QueryEvents(ctx context.Context, spec Spec) Result {
	safe := Result{
		Events:     []EventRecord{},
		TotalCount: 0,
		TotalPages: 1,
		Page:       spec.Page.Page,
		PageSize:   spec.Page.PageSize,
	}

	now := s.now()

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	events, err := s.selectEvents(ctx, spec, now)
	if err != nil {
		log.Printf("query: select events: %v", err)
		return safe
	}

	total, err := s.countEvents(ctx, spec, now)
	if err != nil {
		log.Printf("query: count events: %v", err)
		return safe
	}

	stats, err := s.stats(ctx, now)
	if err != nil {
		log.Printf("query: stats: %v", err)
		return safe
	}

	return Result{
		Events:     events,
		TotalCount: total,
		TotalPages: TotalPages(total, spec.Page.PageSize),
		Page:       spec.Page.Page,
		PageSize:   spec.Page.PageSize,
		Stats:      stats,
	}
}

// Facets scans the whole corpus for the distinct selectable filter values.
// On failure every facet list is empty, never nil.
func (s *Service) Facets(ctx context.Context) Facets {
	facets := Facets{
		Categories: []string{},
		Locations:  []string{},
		Tags:       []string{},
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	categories, err := s.selectStrings(ctx, s.builder.SelectCategories)
	if err != nil {
		log.Printf("query: facet categories: %v", err)
		return facets
	}
	locations, err := s.selectStrings(ctx, s.builder.SelectLocations)
	if err != nil {
		log.Printf("query: facet locations: %v", err)
		return facets
	}
	tags, err := s.selectStrings(ctx, s.builder.SelectTags)
	if err != nil {
		log.Printf("query: facet tags: %v", err)
		return facets
	}

	facets.Categories = categories
	facets.Locations = locations
	facets.Tags = tags
	return facets
}

func (s *Service) selectEvents(ctx context.Context, spec Spec, now time.Time) ([]EventRecord, error) {
	sqlQuery, args, err := s.builder.SelectEvents(spec, now)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]EventRecord, 0, spec.Page.PageSize)
	for rows.Next() {
		var event EventRecord
		if err := rows.Scan(
			&event.ID,
			&event.Title,
			&event.Description,
			&event.Category,
			&event.Location,
			pq.Array(&event.Tags),
			&event.Date,
			&event.CreatedAt,
			&event.Price,
			&event.Featured,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if event.Tags == nil {
			event.Tags = []string{}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *Service) countEvents(ctx context.Context, spec Spec, now time.Time) (int, error) {
	sqlQuery, args, err := s.builder.CountEvents(spec, now)
	if err != nil {
		return 0, err
	}
	return s.scanCount(ctx, sqlQuery, args)
}

func (s *Service) stats(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats

	featuredSQL, featuredArgs, err := s.builder.CountFeatured()
	if err != nil {
		return Stats{}, err
	}
	if stats.FeaturedCount, err = s.scanCount(ctx, featuredSQL, featuredArgs); err != nil {
		return Stats{}, err
	}

	weekSQL, weekArgs, err := s.builder.CountThisWeek(now)
	if err != nil {
		return Stats{}, err
	}
	if stats.ThisWeekCount, err = s.scanCount(ctx, weekSQL, weekArgs); err != nil {
		return Stats{}, err
	}

	curatedSQL, curatedArgs, enabled, err := s.builder.CountCurated(now)
	if err != nil {
		return Stats{}, err
	}
	if enabled {
		if stats.CuratedCount, err = s.scanCount(ctx, curatedSQL, curatedArgs); err != nil {
			return Stats{}, err
		}
		stats.CuratedCity = s.builder.curatedCity
	}

	return stats, nil
}

func (s *Service) scanCount(ctx context.Context, sqlQuery string, args []any) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (s *Service) selectStrings(ctx context.Context, build func() (string, []any, error)) ([]string, error) {
	sqlQuery, args, err := build()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query facet: %w", err)
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan facet: %w", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facet: %w", err)
	}
	return values, nil
}
