package query

import (
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC) // a Wednesday

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestSelectEventsComposesConjunctivePredicate(t *testing.T) {
	spec := Spec{
		Filters: FilterState{
			Search:       "jazz",
			Category:     strPtr("Music"),
			Location:     strPtr("Lisbon"),
			Tags:         []string{"festival", "live"},
			FeaturedOnly: true,
		},
		Sort: SortSoonest,
		Tab:  TabDiscover,
		Page: PageSpec{Page: 2, PageSize: 10},
	}

	sqlQuery, args, err := NewBuilder("").SelectEvents(spec, testNow)
	if err != nil {
		t.Fatalf("SelectEvents() error = %v", err)
	}

	for _, fragment := range []string{
		"ILIKE",
		`"category" = `,
		`"location" = `,
		"tags @> ",
		`"featured" IS TRUE`,
		`"date" >= `,
		`ORDER BY "date" ASC, "id" ASC`,
		"LIMIT",
		"OFFSET",
	} {
		if !strings.Contains(sqlQuery, fragment) {
			t.Errorf("expected query to contain %q, got:\n%s", fragment, sqlQuery)
		}
	}

	// search pattern is bound once per searched column
	patterns := 0
	for _, arg := range args {
		if s, ok := arg.(string); ok && s == "%jazz%" {
			patterns++
		}
	}
	if patterns != 4 {
		t.Errorf("expected 4 bound search patterns, got %d (args=%v)", patterns, args)
	}
}

func TestSelectEventsOffsetFollowsPage(t *testing.T) {
	spec := Spec{Sort: SortSoonest, Page: PageSpec{Page: 3, PageSize: 25}}
	sqlQuery, _, err := NewBuilder("").SelectEvents(spec, testNow)
	if err != nil {
		t.Fatalf("SelectEvents() error = %v", err)
	}
	if !strings.Contains(sqlQuery, "OFFSET") {
		t.Fatalf("expected OFFSET clause, got:\n%s", sqlQuery)
	}
	// page 3 with size 25 starts at row 50
	if !strings.Contains(sqlQuery, "OFFSET 50") && !strings.Contains(sqlQuery, "OFFSET $") {
		t.Errorf("expected offset 50, got:\n%s", sqlQuery)
	}
}

func TestSelectEventsNullSafePriceOrdering(t *testing.T) {
	low, _, err := NewBuilder("").SelectEvents(Spec{Sort: SortPriceLow, Page: PageSpec{Page: 1, PageSize: 10}}, testNow)
	if err != nil {
		t.Fatalf("SelectEvents() error = %v", err)
	}
	if !strings.Contains(low, `"price" ASC NULLS FIRST`) {
		t.Errorf("price-low should sort nulls first, got:\n%s", low)
	}

	high, _, err := NewBuilder("").SelectEvents(Spec{Sort: SortPriceHigh, Page: PageSpec{Page: 1, PageSize: 10}}, testNow)
	if err != nil {
		t.Fatalf("SelectEvents() error = %v", err)
	}
	if !strings.Contains(high, `"price" DESC NULLS LAST`) {
		t.Errorf("price-high should sort nulls last, got:\n%s", high)
	}
}

func TestSelectEventsPastViewBoundsAtNow(t *testing.T) {
	sqlQuery, _, err := NewBuilder("").SelectEvents(Spec{
		Sort:        SortLatest,
		Page:        PageSpec{Page: 1, PageSize: 10},
		IncludePast: true,
	}, testNow)
	if err != nil {
		t.Fatalf("SelectEvents() error = %v", err)
	}
	if !strings.Contains(sqlQuery, `"date" <= `) {
		t.Errorf("past view without end date should bound date <= now, got:\n%s", sqlQuery)
	}
	if strings.Contains(sqlQuery, `"date" >= `) {
		t.Errorf("past view should not require future dates, got:\n%s", sqlQuery)
	}
}

func TestSelectEventsExplicitWindowComposes(t *testing.T) {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	sqlQuery, args, err := NewBuilder("").SelectEvents(Spec{
		Filters: FilterState{StartDate: timePtr(start), EndDate: timePtr(end)},
		Sort:    SortSoonest,
		Page:    PageSpec{Page: 1, PageSize: 10},
	}, testNow)
	if err != nil {
		t.Fatalf("SelectEvents() error = %v", err)
	}
	if got := strings.Count(sqlQuery, `"date" >= `); got != 2 {
		t.Errorf("expected both now and startDate lower bounds, got %d in:\n%s", got, sqlQuery)
	}
	if !strings.Contains(sqlQuery, `"date" <= `) {
		t.Errorf("expected endDate upper bound, got:\n%s", sqlQuery)
	}
	found := false
	for _, arg := range args {
		if ts, ok := arg.(time.Time); ok && ts.Equal(end) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected end date bound as argument, args=%v", args)
	}
}

func TestRecommendationTagsApplyOnlyOnForYouTab(t *testing.T) {
	base := Spec{
		Filters:            FilterState{Tags: []string{"festival"}},
		Sort:               SortSoonest,
		Page:               PageSpec{Page: 1, PageSize: 10},
		RecommendationTags: []string{"jazz", "festival"},
	}

	discover := base
	discover.Tab = TabDiscover
	if got := effectiveTags(discover); len(got) != 1 || got[0] != "festival" {
		t.Errorf("discover tab should ignore recommendation tags, got %v", got)
	}

	forYou := base
	forYou.Tab = TabForYou
	if got := effectiveTags(forYou); len(got) != 2 || got[0] != "festival" || got[1] != "jazz" {
		t.Errorf("for-you tab should merge and dedupe tags, got %v", got)
	}
}

func TestCountCuratedDisabledWithoutCity(t *testing.T) {
	_, _, enabled, err := NewBuilder("").CountCurated(testNow)
	if err != nil {
		t.Fatalf("CountCurated() error = %v", err)
	}
	if enabled {
		t.Fatal("expected curated counter to be disabled without a city")
	}

	sqlQuery, args, enabled, err := NewBuilder("Porto").CountCurated(testNow)
	if err != nil {
		t.Fatalf("CountCurated() error = %v", err)
	}
	if !enabled {
		t.Fatal("expected curated counter to be enabled")
	}
	if !strings.Contains(sqlQuery, `"location" = `) || !strings.Contains(sqlQuery, `"date" >= `) {
		t.Errorf("curated counter should scope to future events at the city, got:\n%s", sqlQuery)
	}
	foundCity := false
	for _, arg := range args {
		if s, ok := arg.(string); ok && s == "Porto" {
			foundCity = true
		}
	}
	if !foundCity {
		t.Errorf("expected curated city bound as argument, args=%v", args)
	}
}

func TestIsoWeekBoundsMondayToMonday(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
	}{
		{"wednesday", time.Date(2026, 3, 11, 15, 30, 0, 0, time.UTC)},
		{"monday", time.Date(2026, 3, 9, 0, 0, 1, 0, time.UTC)},
		{"sunday", time.Date(2026, 3, 15, 23, 59, 59, 0, time.UTC)},
	}
	wantStart := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)

	for _, tc := range cases {
		start, end := isoWeek(tc.now)
		if !start.Equal(wantStart) || !end.Equal(wantEnd) {
			t.Errorf("%s: isoWeek() = (%v, %v), want (%v, %v)", tc.name, start, end, wantStart, wantEnd)
		}
	}
}

func TestFacetQueriesScanWholeCorpus(t *testing.T) {
	catSQL, _, err := NewBuilder("").SelectCategories()
	if err != nil {
		t.Fatalf("SelectCategories() error = %v", err)
	}
	if !strings.Contains(catSQL, "DISTINCT") || !strings.Contains(catSQL, "IS NOT NULL") {
		t.Errorf("category facet should be distinct non-null, got:\n%s", catSQL)
	}
	if strings.Contains(catSQL, "ILIKE") || strings.Contains(catSQL, "@>") {
		t.Errorf("facet scan must ignore current filters, got:\n%s", catSQL)
	}

	tagSQL, _, err := NewBuilder("").SelectTags()
	if err != nil {
		t.Fatalf("SelectTags() error = %v", err)
	}
	if !strings.Contains(tagSQL, "unnest(tags)") {
		t.Errorf("tag facet should flatten tag arrays, got:\n%s", tagSQL)
	}
}
