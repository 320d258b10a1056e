// Package filterstate owns the per-session discovery state: filters, sort,
// view, pagination and tab. The URL query string is a pure projection of
// that state; decoding the projection reproduces an equal state.
package filterstate

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"beacon/api/internal/query"
)

// URL parameter names. These are the external interface of a discovery
// session and round-trip losslessly through Encode/Decode.
const (
	paramSearch        = "search"
	paramCategory      = "category"
	paramLocation      = "location"
	paramTags          = "tags"
	paramFeatured      = "featured"
	paramStartDate     = "startDate"
	paramEndDate       = "endDate"
	paramSort          = "sort"
	paramView          = "view"
	paramPage          = "page"
	paramPageSize      = "pageSize"
	paramTab           = "tab"
	paramSavedFilterID = "savedFilterId"
)

const dateLayout = "2006-01-02"

// State is the complete discovery-session state.
type State struct {
	Filters  query.FilterState
	Sort     query.Sort
	View     query.View
	Tab      query.Tab
	Page     int
	PageSize int
	// SavedFilterID marks that the current filters came from a preset. The
	// marker is transient: any filter mutation clears it.
	SavedFilterID string
}

// DefaultState returns the state of a fresh discovery session.
func DefaultState(pageSize int) State {
	if pageSize < 1 {
		pageSize = 1
	}
	return State{
		Sort:     query.SortSoonest,
		View:     query.ViewGrid,
		Tab:      query.TabDiscover,
		Page:     1,
		PageSize: pageSize,
	}
}

// Decode parses URL parameters with parse-or-default semantics: malformed
// page and pageSize clamp to their defaults, unknown sort/view/tab values
// fall back to the enum default, and unparseable dates are dropped.
func Decode(params url.Values, defaultPageSize int) State {
	state := DefaultState(defaultPageSize)

	state.Filters.Search = params.Get(paramSearch)
	if v := params.Get(paramCategory); v != "" {
		state.Filters.Category = &v
	}
	if v := params.Get(paramLocation); v != "" {
		state.Filters.Location = &v
	}
	if v := params.Get(paramTags); v != "" {
		state.Filters.Tags = query.NormalizeTags(strings.Split(v, ","))
	}
	state.Filters.FeaturedOnly = params.Get(paramFeatured) == "true"
	if parsed, err := time.Parse(dateLayout, params.Get(paramStartDate)); err == nil {
		state.Filters.StartDate = &parsed
	}
	if parsed, err := time.Parse(dateLayout, params.Get(paramEndDate)); err == nil {
		state.Filters.EndDate = &parsed
	}

	state.Sort = query.ParseSort(params.Get(paramSort))
	state.View = query.ParseView(params.Get(paramView))
	state.Tab = query.ParseTab(params.Get(paramTab))

	if page, err := strconv.Atoi(params.Get(paramPage)); err == nil && page >= 1 {
		state.Page = page
	}
	if size, err := strconv.Atoi(params.Get(paramPageSize)); err == nil && size >= 1 {
		state.PageSize = size
	}

	state.SavedFilterID = params.Get(paramSavedFilterID)
	return state
}

// Encode projects the entire state onto URL parameters. Filters are written
// only when set; sort, view, page, pageSize and tab are always written.
func Encode(state State) url.Values {
	params := url.Values{}

	if state.Filters.Search != "" {
		params.Set(paramSearch, state.Filters.Search)
	}
	if state.Filters.Category != nil {
		params.Set(paramCategory, *state.Filters.Category)
	}
	if state.Filters.Location != nil {
		params.Set(paramLocation, *state.Filters.Location)
	}
	if len(state.Filters.Tags) > 0 {
		params.Set(paramTags, strings.Join(state.Filters.Tags, ","))
	}
	if state.Filters.FeaturedOnly {
		params.Set(paramFeatured, "true")
	}
	if state.Filters.StartDate != nil {
		params.Set(paramStartDate, state.Filters.StartDate.Format(dateLayout))
	}
	if state.Filters.EndDate != nil {
		params.Set(paramEndDate, state.Filters.EndDate.Format(dateLayout))
	}

	params.Set(paramSort, string(state.Sort))
	params.Set(paramView, string(state.View))
	params.Set(paramTab, string(state.Tab))
	params.Set(paramPage, strconv.Itoa(state.Page))
	params.Set(paramPageSize, strconv.Itoa(state.PageSize))

	if state.SavedFilterID != "" {
		params.Set(paramSavedFilterID, state.SavedFilterID)
	}
	return params
}
