package filterstate

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"beacon/api/internal/query"
)

// Querier runs discovery queries. Implemented by query.Service.
type Querier interface {
	QueryEvents(ctx context.Context, spec query.Spec) query.Result
}

// Seed carries the preference defaults resolved before the first commit of a
// session. After initialization every filter field is user-authoritative and
// is never silently overwritten.
type Seed struct {
	Location           string
	RecommendationTags []string
}

// FilterKey names a mutable field of the filter state.
type FilterKey string

const (
	KeySearch    FilterKey = "search"
	KeyCategory  FilterKey = "category"
	KeyLocation  FilterKey = "location"
	KeyTags      FilterKey = "tags"
	KeyFeatured  FilterKey = "featured"
	KeyStartDate FilterKey = "startDate"
	KeyEndDate   FilterKey = "endDate"
)

// UpdateOptions controls UpdateFilter. The zero value resets pagination,
// which is what every filter mutation wants unless stated otherwise.
type UpdateOptions struct {
	KeepPage bool
}

// Store is the stateful orchestrator of one discovery session. It is created
// per session and injected into the transport layer, never shared globally.
// Mutations re-project the canonical URL and trigger a query refresh;
// refreshes carry the projection as a signature, and a response is committed
// only while its signature still matches the current state, so the latest
// mutation always wins.
type Store struct {
	mu              sync.Mutex
	querier         Querier
	defaultPageSize int
	recommendation  []string

	state     State
	result    query.Result
	resultSig string
}

// New initializes a session store in two phases: decode the URL parameters,
// apply the preference seed to fields the URL did not set, then commit and
// run the first query.
func New(ctx context.Context, querier Querier, params url.Values, seed Seed, defaultPageSize int) *Store {
	state := Decode(params, defaultPageSize)
	if state.Filters.Location == nil && seed.Location != "" {
		location := seed.Location
		state.Filters.Location = &location
	}

	s := &Store{
		querier:         querier,
		defaultPageSize: defaultPageSize,
		recommendation:  append([]string(nil), seed.RecommendationTags...),
		state:           state,
	}
	s.refresh(ctx)
	return s
}

// Snapshot is a consistent view of the session handed to the transport
// layer: the state, its canonical URL projection, and the latest committed
// query result.
type Snapshot struct {
	State  State
	Params url.Values
	Result query.Result
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:  s.cloneStateLocked(),
		Params: Encode(s.state),
		Result: s.result,
	}
}

// SaveSnapshot captures the current filters in the persistable preset form.
func (s *Store) SaveSnapshot() query.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return query.SnapshotFromState(s.state.Filters, s.state.Sort, s.state.View, s.state.PageSize)
}

// UpdateFilter mutates one filter field. Unless opts.KeepPage is set, the
// page resets to 1. The saved-filter marker is cleared by any filter edit.
func (s *Store) UpdateFilter(ctx context.Context, key FilterKey, value any, opts UpdateOptions) error {
	s.mu.Lock()
	if err := s.setFilterLocked(key, value); err != nil {
		s.mu.Unlock()
		return err
	}
	if !opts.KeepPage {
		s.state.Page = 1
	}
	s.state.SavedFilterID = ""
	s.mu.Unlock()

	s.refresh(ctx)
	return nil
}

func (s *Store) setFilterLocked(key FilterKey, value any) error {
	switch key {
	case KeySearch:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("filter %s: expected string, got %T", key, value)
		}
		s.state.Filters.Search = v
	case KeyCategory, KeyLocation:
		v, ok := value.(*string)
		if !ok {
			return fmt.Errorf("filter %s: expected *string, got %T", key, value)
		}
		if v != nil && *v == "" {
			v = nil
		}
		if key == KeyCategory {
			s.state.Filters.Category = v
		} else {
			s.state.Filters.Location = v
		}
	case KeyTags:
		v, ok := value.([]string)
		if !ok {
			return fmt.Errorf("filter %s: expected []string, got %T", key, value)
		}
		s.state.Filters.Tags = query.NormalizeTags(v)
	case KeyFeatured:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("filter %s: expected bool, got %T", key, value)
		}
		s.state.Filters.FeaturedOnly = v
	case KeyStartDate, KeyEndDate:
		v, ok := value.(*time.Time)
		if !ok {
			return fmt.Errorf("filter %s: expected *time.Time, got %T", key, value)
		}
		if key == KeyStartDate {
			s.state.Filters.StartDate = v
		} else {
			s.state.Filters.EndDate = v
		}
	default:
		return fmt.Errorf("unknown filter key %q", key)
	}
	return nil
}

// ToggleTag flips a tag's membership. Toggling the same tag twice restores
// the original set. The page always resets to 1.
func (s *Store) ToggleTag(ctx context.Context, tag string) {
	normalized := query.NormalizeTags([]string{tag})
	if len(normalized) == 0 {
		return
	}
	tag = normalized[0]

	s.mu.Lock()
	found := false
	tags := make([]string, 0, len(s.state.Filters.Tags)+1)
	for _, existing := range s.state.Filters.Tags {
		if existing == tag {
			found = true
			continue
		}
		tags = append(tags, existing)
	}
	if !found {
		tags = append(tags, tag)
	}
	s.state.Filters.Tags = query.NormalizeTags(tags)
	s.state.Page = 1
	s.state.SavedFilterID = ""
	s.mu.Unlock()

	s.refresh(ctx)
}

// ClearFilters resets the filters, sort, view and page to their defaults.
// The page size and tab survive.
func (s *Store) ClearFilters(ctx context.Context) {
	s.mu.Lock()
	s.state.Filters = query.FilterState{}
	s.state.Sort = query.SortSoonest
	s.state.View = query.ViewGrid
	s.state.Page = 1
	s.state.SavedFilterID = ""
	s.mu.Unlock()

	s.refresh(ctx)
}

// ChangeSort updates the sort order and resets the page.
func (s *Store) ChangeSort(ctx context.Context, next query.Sort) {
	s.mu.Lock()
	s.state.Sort = query.ParseSort(string(next))
	s.state.Page = 1
	s.mu.Unlock()

	s.refresh(ctx)
}

// ChangeView updates the view mode. View changes do not reset the page.
func (s *Store) ChangeView(ctx context.Context, next query.View) {
	s.mu.Lock()
	s.state.View = query.ParseView(string(next))
	s.mu.Unlock()

	s.refresh(ctx)
}

// ChangePage moves to another page, clamped to >= 1. Filters are untouched.
func (s *Store) ChangePage(ctx context.Context, page int) {
	if page < 1 {
		page = 1
	}
	s.mu.Lock()
	s.state.Page = page
	s.mu.Unlock()

	s.refresh(ctx)
}

// ChangeTab switches the discovery tab and resets the page.
func (s *Store) ChangeTab(ctx context.Context, tab query.Tab) {
	s.mu.Lock()
	s.state.Tab = query.ParseTab(string(tab))
	s.state.Page = 1
	s.mu.Unlock()

	s.refresh(ctx)
}

// ApplySavedFilter overwrites the filters from a preset snapshot. Sort, view,
// page and page size always reset to the session defaults; a preset's saved
// pagination is never inherited. The transient savedFilterId marker is set
// so the projection can reference the preset.
func (s *Store) ApplySavedFilter(ctx context.Context, id string, snapshot query.Snapshot) {
	s.mu.Lock()
	s.state.Filters = snapshot.Filters()
	s.state.Sort = query.SortSoonest
	s.state.View = query.ViewGrid
	s.state.Page = 1
	s.state.PageSize = s.defaultPageSize
	s.state.SavedFilterID = id
	s.mu.Unlock()

	s.refresh(ctx)
}

// refresh runs the query for the current state. The canonical URL encoding
// of the state at capture time is the request's signature; the response is
// discarded if the state has moved on by the time it arrives.
func (s *Store) refresh(ctx context.Context) {
	s.mu.Lock()
	spec := s.specLocked()
	sig := Encode(s.state).Encode()
	s.mu.Unlock()

	result := s.querier.QueryEvents(ctx, spec)

	s.mu.Lock()
	if Encode(s.state).Encode() == sig {
		s.result = result
		s.resultSig = sig
	}
	s.mu.Unlock()
}

func (s *Store) specLocked() query.Spec {
	return query.Spec{
		Filters: query.FilterState{
			Search:       s.state.Filters.Search,
			Category:     s.state.Filters.Category,
			Location:     s.state.Filters.Location,
			Tags:         append([]string(nil), s.state.Filters.Tags...),
			FeaturedOnly: s.state.Filters.FeaturedOnly,
			StartDate:    s.state.Filters.StartDate,
			EndDate:      s.state.Filters.EndDate,
		},
		Sort:               s.state.Sort,
		Tab:                s.state.Tab,
		Page:               query.PageSpec{Page: s.state.Page, PageSize: s.state.PageSize},
		RecommendationTags: append([]string(nil), s.recommendation...),
	}
}

func (s *Store) cloneStateLocked() State {
	clone := s.state
	clone.Filters.Tags = append([]string(nil), s.state.Filters.Tags...)
	return clone
}
