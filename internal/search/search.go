// Package search provides the quick-search facade used by the typeahead
// endpoint: Meilisearch when it is reachable, PostgreSQL full-text search
// otherwise. The filtered event listing does not go through here; it is
// planned by the query package so search text composes with every other
// filter.
package search

import "time"

// Result is a single quick-search hit returned to the caller.
type Result struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Snippet  string    `json:"snippet"`
	Category string    `json:"category,omitempty"`
	Location string    `json:"location,omitempty"`
	Date     time.Time `json:"date"`
}

// Query describes a quick-search request.
type Query struct {
	Text     string
	Category string // empty = all categories
	Location string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the quick-search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a quick search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// EventRecord is the data we index for an event.
type EventRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Location    string   `json:"location"`
	Tags        []string `json:"tags"`
	Date        int64    `json:"date"` // unix seconds, sortable in Meilisearch
	Featured    bool     `json:"featured"`
}
