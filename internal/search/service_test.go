package search

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeFallback struct {
	searchFn    func(Query) ([]Result, int, error)
	loadFn      func(context.Context) ([]EventRecord, error)
	searchCalls int
}

func (f *fakeFallback) Healthy() bool { return true }

func (f *fakeFallback) Search(q Query) ([]Result, int, error) {
	f.searchCalls++
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return nil, 0, nil
}

func (f *fakeFallback) LoadAllEvents(ctx context.Context) ([]EventRecord, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx)
	}
	return nil, nil
}

func TestSearchUsesFallbackWithoutMeili(t *testing.T) {
	want := []Result{{ID: "evt-1", Title: "Riverside Jazz Nights"}}
	fb := &fakeFallback{searchFn: func(q Query) ([]Result, int, error) {
		if q.Text != "jazz" {
			t.Errorf("query text = %q, want jazz", q.Text)
		}
		return want, 1, nil
	}}
	svc := NewService(nil, fb)

	resp := svc.Search(Query{Text: "jazz", Limit: 10})

	if fb.searchCalls != 1 {
		t.Fatalf("fallback search calls = %d, want 1", fb.searchCalls)
	}
	if diff := cmp.Diff(want, resp.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	if resp.Total != 1 || resp.Query != "jazz" {
		t.Errorf("envelope = total %d query %q", resp.Total, resp.Query)
	}
}

func TestSearchUsesFallbackWhenMeiliUnhealthy(t *testing.T) {
	fb := &fakeFallback{}
	svc := NewService(&Meili{}, fb)

	svc.Search(Query{Text: "trail"})

	if fb.searchCalls != 1 {
		t.Errorf("fallback search calls = %d, want 1", fb.searchCalls)
	}
}

func TestSearchResultsNeverNil(t *testing.T) {
	svc := NewService(nil, &fakeFallback{})

	resp := svc.Search(Query{Text: "anything"})

	if resp.Results == nil {
		t.Error("results must be an empty slice, not nil")
	}
	if len(resp.Results) != 0 || resp.Total != 0 {
		t.Errorf("expected empty response, got %+v", resp)
	}
}

func TestSearchFallbackFailureIsEmptyResponse(t *testing.T) {
	fb := &fakeFallback{searchFn: func(Query) ([]Result, int, error) {
		return nil, 0, errors.New("connection refused")
	}}
	svc := NewService(nil, fb)

	resp := svc.Search(Query{Text: "jazz"})

	if resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("expected empty results, got %v", resp.Results)
	}
	if resp.Total != 0 || resp.Query != "jazz" {
		t.Errorf("envelope = total %d query %q", resp.Total, resp.Query)
	}
}

func TestIndexingIsNoopWithoutMeili(t *testing.T) {
	loaded := false
	fb := &fakeFallback{loadFn: func(context.Context) ([]EventRecord, error) {
		loaded = true
		return nil, nil
	}}
	svc := NewService(nil, fb)

	svc.IndexEvent(EventRecord{ID: "evt-1"})
	svc.ReindexAllFromPG(context.Background())

	if loaded {
		t.Error("reindex must not touch the corpus when Meilisearch is absent")
	}
}
