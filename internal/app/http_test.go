package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"beacon/api/internal/query"
	"beacon/api/internal/saved"
	"beacon/api/internal/store"
)

func newTestServer(deps testDeps) (*HTTPServer, *Service) {
	svc := newTestService(deps)
	return NewHTTPServer(svc, "*"), svc
}

func doRequest(t *testing.T, server *HTTPServer, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(testDeps{})
	recorder := doRequest(t, server, http.MethodGet, "/api/health", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	fs := &fakeStore{pingFn: func(context.Context) error { return errors.New("connection refused") }}
	server, _ := newTestServer(testDeps{store: fs})

	recorder := doRequest(t, server, http.MethodGet, "/api/ready", nil, "")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["status"] != "not_ready" {
		t.Errorf("status field = %v", payload["status"])
	}
}

func TestEventsEndpointEchoesCanonicalParams(t *testing.T) {
	querier := &fakeQuerier{}
	server, _ := newTestServer(testDeps{querier: querier})

	recorder := doRequest(t, server, http.MethodGet, "/api/events?search=jazz&page=abc", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	params, _ := payload["params"].(string)
	if params == "" || !bytes.Contains([]byte(params), []byte("search=jazz")) {
		t.Errorf("canonical params = %q, want search=jazz echoed", params)
	}
	// Malformed page clamps to the default rather than erroring.
	if got := querier.specs[0].Page.Page; got != 1 {
		t.Errorf("page = %d, want clamped 1", got)
	}
}

func TestFacetsEndpoint(t *testing.T) {
	querier := &fakeQuerier{facetsFn: func() query.Facets {
		return query.Facets{Categories: []string{"Music"}, Locations: []string{"Lisbon"}, Tags: []string{"jazz"}}
	}}
	server, _ := newTestServer(testDeps{querier: querier})

	recorder := doRequest(t, server, http.MethodGet, "/api/events/facets", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	facets, _ := payload["facets"].(map[string]any)
	if facets == nil {
		t.Fatalf("missing facets in %v", payload)
	}
	categories, _ := facets["categories"].([]any)
	if len(categories) != 1 || categories[0] != "Music" {
		t.Errorf("categories = %v", facets["categories"])
	}
}

func TestQuickSearchValidatesPagination(t *testing.T) {
	server, _ := newTestServer(testDeps{})
	recorder := doRequest(t, server, http.MethodGet, "/api/events/search?q=jazz&limit=abc", nil, "")
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", recorder.Code)
	}
}

func TestDiscoveryLifecycle(t *testing.T) {
	server, _ := newTestServer(testDeps{})

	created := doRequest(t, server, http.MethodPost, "/api/discovery", map[string]any{"params": "?category=Music&page=3"}, "")
	if created.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", created.Code, created.Body.String())
	}
	payload := decodeResponse(t, created)
	id, _ := payload["id"].(string)
	if id == "" {
		t.Fatalf("missing discovery id in %v", payload)
	}
	state := payload["state"].(map[string]any)
	if state["category"] != "Music" || state["page"] != float64(3) {
		t.Fatalf("initial state = %v", state)
	}

	toggled := doRequest(t, server, http.MethodPost, "/api/discovery/"+id+"/tags/toggle", map[string]any{"tag": "jazz"}, "")
	if toggled.Code != http.StatusOK {
		t.Fatalf("toggle status = %d: %s", toggled.Code, toggled.Body.String())
	}
	state = decodeResponse(t, toggled)["state"].(map[string]any)
	tags, _ := state["tags"].([]any)
	if len(tags) != 1 || tags[0] != "jazz" {
		t.Errorf("tags = %v, want [jazz]", state["tags"])
	}
	if state["page"] != float64(1) {
		t.Errorf("page = %v, want reset to 1", state["page"])
	}

	cleared := doRequest(t, server, http.MethodPost, "/api/discovery/"+id+"/clear", nil, "")
	state = decodeResponse(t, cleared)["state"].(map[string]any)
	if state["category"] != nil || tagsLen(state["tags"]) != 0 {
		t.Errorf("state after clear = %v", state)
	}

	fetched := doRequest(t, server, http.MethodGet, "/api/discovery/"+id, nil, "")
	if fetched.Code != http.StatusOK {
		t.Fatalf("get status = %d", fetched.Code)
	}
}

func tagsLen(v any) int {
	tags, _ := v.([]any)
	return len(tags)
}

func TestDiscoveryUnknownActionIs404(t *testing.T) {
	server, _ := newTestServer(testDeps{})
	created := decodeResponse(t, doRequest(t, server, http.MethodPost, "/api/discovery", map[string]any{}, ""))
	id := created["id"].(string)

	recorder := doRequest(t, server, http.MethodPost, "/api/discovery/"+id+"/reshuffle", nil, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}

func TestSavedFiltersAnonymousListIsEmpty(t *testing.T) {
	server, _ := newTestServer(testDeps{})
	recorder := doRequest(t, server, http.MethodGet, "/api/saved-filters", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	items, _ := payload["savedFilters"].([]any)
	if len(items) != 0 {
		t.Errorf("savedFilters = %v, want empty", payload["savedFilters"])
	}
}

func TestSavedFilterCreateRequiresAuth(t *testing.T) {
	server, _ := newTestServer(testDeps{})
	created := decodeResponse(t, doRequest(t, server, http.MethodPost, "/api/discovery", map[string]any{}, ""))
	id := created["id"].(string)

	recorder := doRequest(t, server, http.MethodPost, "/api/saved-filters", map[string]any{"name": "My filter", "discoveryId": id}, "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestSavedFilterDeleteMapsNotFound(t *testing.T) {
	savedRepo := &fakeSaved{deleteFn: func(_ context.Context, _, _ string) error {
		return saved.ErrNotFound
	}}
	server, svc := newTestServer(testDeps{saved: savedRepo})

	session, err := svc.Login(context.Background(), "Mara")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	recorder := doRequest(t, server, http.MethodDelete, "/api/saved-filters/sef-404", nil, session.Token)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", recorder.Code, recorder.Body.String())
	}
}

func TestPreferencesRequireAuth(t *testing.T) {
	server, _ := newTestServer(testDeps{})
	recorder := doRequest(t, server, http.MethodGet, "/api/preferences", nil, "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestPreferencesRoundTripOverHTTP(t *testing.T) {
	stored := map[string]store.OnboardingPreferences{}
	fs := &fakeStore{
		upsertPreferencesFn: func(_ context.Context, item store.OnboardingPreferences) error {
			stored[item.UserID] = item
			return nil
		},
	}
	server, svc := newTestServer(testDeps{store: fs})

	session, err := svc.Login(context.Background(), "Mara")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	put := doRequest(t, server, http.MethodPut, "/api/preferences", map[string]any{
		"homeBase":        "Lisbon",
		"preferredCities": []string{"Porto"},
		"interests":       []string{"jazz"},
	}, session.Token)
	if put.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", put.Code, put.Body.String())
	}
	payload := decodeResponse(t, put)["preferences"].(map[string]any)
	if payload["homeBase"] != "Lisbon" {
		t.Errorf("homeBase = %v", payload["homeBase"])
	}
	if stored[session.UserID].HomeBase != "Lisbon" {
		t.Errorf("stored = %+v", stored[session.UserID])
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server, _ := newTestServer(testDeps{})
	recorder := doRequest(t, server, http.MethodGet, "/api/nope", nil, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}
