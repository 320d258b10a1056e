// Package query implements the event discovery query planner: it turns a
// filter/sort/pagination specification into a bounded, sorted result page
// plus aggregate counters computed against independent filter scopes.
package query

import (
	"sort"
	"strings"
	"time"
)

// FilterState holds the conjunctive filter predicates of a discovery query.
// Category and Location are nil when unset; Tags is kept sorted and
// duplicate-free.
type FilterState struct {
	Search       string
	Category     *string
	Location     *string
	Tags         []string
	FeaturedOnly bool
	StartDate    *time.Time
	EndDate      *time.Time
}

// NormalizeTags sorts and deduplicates a tag list, dropping blanks. A comma
// is the tag-list separator in URL parameters, so a tag containing one is
// split at the comma; a comma can never be part of a tag.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		for _, tag := range strings.Split(raw, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

type Sort string

const (
	SortSoonest   Sort = "soonest"
	SortLatest    Sort = "latest"
	SortNewest    Sort = "newest"
	SortPriceLow  Sort = "price-low"
	SortPriceHigh Sort = "price-high"
)

// ParseSort maps a string onto the closed sort enum. Anything that is not a
// member, including the empty string, falls back to SortSoonest.
func ParseSort(value string) Sort {
	switch Sort(value) {
	case SortSoonest, SortLatest, SortNewest, SortPriceLow, SortPriceHigh:
		return Sort(value)
	default:
		return SortSoonest
	}
}

type View string

const (
	ViewGrid View = "grid"
	ViewList View = "list"
)

// ParseView maps a string onto the closed view enum, defaulting to ViewGrid.
func ParseView(value string) View {
	switch View(value) {
	case ViewGrid, ViewList:
		return View(value)
	default:
		return ViewGrid
	}
}

// Tab selects the discovery feed. TabForYou applies the session's
// recommendation tags on top of the explicit tag filter.
type Tab string

const (
	TabDiscover Tab = "discover"
	TabForYou   Tab = "for-you"
)

// ParseTab maps a string onto the closed tab enum, defaulting to TabDiscover.
func ParseTab(value string) Tab {
	switch Tab(value) {
	case TabDiscover, TabForYou:
		return Tab(value)
	default:
		return TabDiscover
	}
}

// PageSpec is a 1-based page request. Callers clamp before building a Spec.
type PageSpec struct {
	Page     int
	PageSize int
}

// Spec is the full input of a discovery query.
type Spec struct {
	Filters            FilterState
	Sort               Sort
	Tab                Tab
	Page               PageSpec
	IncludePast        bool
	RecommendationTags []string
}

// EventRecord is one row of the event corpus. Category, Location and Price
// are nil when the column is NULL.
type EventRecord struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    *string    `json:"category"`
	Location    *string    `json:"location"`
	Tags        []string   `json:"tags"`
	Date        time.Time  `json:"date"`
	CreatedAt   time.Time  `json:"createdAt"`
	Price       *float64   `json:"price"`
	Featured    bool       `json:"featured"`
}

// Stats are the aggregate counters returned alongside a result page. Each is
// computed with its own filter scope, independent of the main predicate.
type Stats struct {
	FeaturedCount int    `json:"featuredCount"`
	ThisWeekCount int    `json:"thisWeekCount"`
	CuratedCount  int    `json:"curatedCount"`
	CuratedCity   string `json:"curatedCity,omitempty"`
}

// Result is one page of matching events plus pagination metadata and stats.
type Result struct {
	Events     []EventRecord `json:"events"`
	TotalCount int           `json:"totalCount"`
	TotalPages int           `json:"totalPages"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	Stats      Stats         `json:"stats"`
}

// Facets are the selectable filter values, computed over the whole corpus
// irrespective of the current filters.
type Facets struct {
	Categories []string `json:"categories"`
	Locations  []string `json:"locations"`
	Tags       []string `json:"tags"`
}

// Snapshot is the serializable form of a filter state stored inside a saved
// filter preset. Sort, view and page size are recorded for reference but are
// never inherited when a preset is applied.
type Snapshot struct {
	Search       string   `json:"search"`
	Category     *string  `json:"category"`
	Location     *string  `json:"location"`
	Tags         []string `json:"tags"`
	FeaturedOnly bool     `json:"featuredOnly"`
	StartDate    *string  `json:"startDate"`
	EndDate      *string  `json:"endDate"`
	Sort         string   `json:"sort"`
	View         string   `json:"view"`
	PageSize     int      `json:"pageSize"`
}

const dateLayout = "2006-01-02"

// SnapshotFromState captures the current filters plus the sort/view/pageSize
// they were saved with.
func SnapshotFromState(filters FilterState, sortOpt Sort, view View, pageSize int) Snapshot {
	snap := Snapshot{
		Search:       filters.Search,
		Category:     filters.Category,
		Location:     filters.Location,
		Tags:         append([]string(nil), filters.Tags...),
		FeaturedOnly: filters.FeaturedOnly,
		Sort:         string(sortOpt),
		View:         string(view),
		PageSize:     pageSize,
	}
	if filters.StartDate != nil {
		s := filters.StartDate.Format(dateLayout)
		snap.StartDate = &s
	}
	if filters.EndDate != nil {
		s := filters.EndDate.Format(dateLayout)
		snap.EndDate = &s
	}
	return snap
}

// Filters reconstructs a FilterState from the snapshot. Unparseable dates are
// dropped rather than surfaced.
func (s Snapshot) Filters() FilterState {
	filters := FilterState{
		Search:       s.Search,
		Category:     s.Category,
		Location:     s.Location,
		Tags:         NormalizeTags(s.Tags),
		FeaturedOnly: s.FeaturedOnly,
	}
	if s.StartDate != nil {
		if parsed, err := time.Parse(dateLayout, *s.StartDate); err == nil {
			filters.StartDate = &parsed
		}
	}
	if s.EndDate != nil {
		if parsed, err := time.Parse(dateLayout, *s.EndDate); err == nil {
			filters.EndDate = &parsed
		}
	}
	return filters
}

// TotalPages computes the page count for a filtered set. A result set never
// has fewer than one page, even when empty.
func TotalPages(totalCount, pageSize int) int {
	if pageSize < 1 {
		return 1
	}
	pages := (totalCount + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}
