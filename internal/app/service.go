package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"beacon/api/internal/auth"
	"beacon/api/internal/config"
	"beacon/api/internal/filterstate"
	"beacon/api/internal/prefs"
	"beacon/api/internal/query"
	"beacon/api/internal/saved"
	"beacon/api/internal/search"
	"beacon/api/internal/store"
	"beacon/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	CountAllEvents(context.Context) (int, error)
	InsertEvent(context.Context, query.EventRecord) error
	GetOnboardingPreferences(context.Context, string) (store.OnboardingPreferences, error)
	UpsertOnboardingPreferences(context.Context, store.OnboardingPreferences) error
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis when configured, Postgres
// otherwise; both stores expose the same surface.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type eventQuerier interface {
	QueryEvents(context.Context, query.Spec) query.Result
	Facets(context.Context) query.Facets
}

type savedFilters interface {
	List(context.Context, string) []store.SavedFilter
	Get(context.Context, string, string) (store.SavedFilter, error)
	Save(context.Context, string, string, query.Snapshot) (store.SavedFilter, error)
	Delete(context.Context, string, string) error
}

type preferenceResolver interface {
	Resolve(context.Context, string) prefs.Resolution
}

type quickSearch interface {
	Search(search.Query) search.Response
	IndexEvent(search.EventRecord)
	ReindexAllFromPG(context.Context)
}

// discoveryRecord is one live discovery session. Records expire after
// discoveryTTL of inactivity and are swept lazily on lookup.
type discoveryRecord struct {
	session   *filterstate.Store
	userID    string
	expiresAt time.Time
}

type Service struct {
	cfg          config.Config
	store        dataStore
	sessions     sessionStore
	query        eventQuerier
	search       quickSearch
	saved        savedFilters
	prefs        preferenceResolver
	discoveryTTL time.Duration
	discMu       sync.Mutex
	discoveries  map[string]*discoveryRecord
}

func New(cfg config.Config, dataStore *store.PostgresStore, querySvc *query.Service, searchSvc *search.Service, savedRepo *saved.Repository, resolver *prefs.Resolver) *Service {
	return newService(cfg, dataStore, dataStore, querySvc, searchSvc, savedRepo, resolver)
}

// NewWithSessionStore builds a Service whose refresh tokens live in a
// separate session store instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, querySvc *query.Service, searchSvc *search.Service, savedRepo *saved.Repository, resolver *prefs.Resolver) *Service {
	return newService(cfg, dataStore, sessions, querySvc, searchSvc, savedRepo, resolver)
}

func newService(cfg config.Config, dataStore dataStore, sessions sessionStore, querySvc eventQuerier, searchSvc quickSearch, savedRepo savedFilters, resolver preferenceResolver) *Service {
	return &Service{
		cfg:          cfg,
		store:        dataStore,
		sessions:     sessions,
		query:        querySvc,
		search:       searchSvc,
		saved:        savedRepo,
		prefs:        resolver,
		discoveryTTL: 30 * time.Minute,
		discoveries:  make(map[string]*discoveryRecord),
	}
}

// Bootstrap seeds a small event corpus on an empty database so a fresh
// deployment has something to discover, then pushes the corpus into the
// search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountAllEvents(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		now := time.Now().UTC().Truncate(time.Hour)
		city := func(name string) *string { return &name }
		category := city
		price := func(v float64) *float64 { return &v }

		seeds := []query.EventRecord{
			{Title: "Riverside Jazz Nights", Description: "Open-air quartet sessions by the docks.", Category: category("Music"), Location: city("Lisbon"), Tags: []string{"jazz", "live-music", "outdoor"}, Date: now.Add(72 * time.Hour), Price: price(18), Featured: true},
			{Title: "Street Food Assembly", Description: "Forty vendors, one waterfront warehouse.", Category: category("Food"), Location: city("Lisbon"), Tags: []string{"food", "market"}, Date: now.Add(48 * time.Hour), Price: price(0)},
			{Title: "Late Shift: Electronic Showcase", Description: "Local producers take over the old printworks.", Category: category("Music"), Location: city("Porto"), Tags: []string{"electronic", "live-music"}, Date: now.Add(9 * 24 * time.Hour), Price: price(25), Featured: true},
			{Title: "Hillside Trail Run", Description: "12k guided trail run above the city.", Category: category("Sports"), Location: city("Porto"), Tags: []string{"outdoor", "running"}, Date: now.Add(5 * 24 * time.Hour), Price: price(10)},
			{Title: "Contemporary Print Fair", Description: "Independent presses and artist talks.", Category: category("Art"), Location: city("Berlin"), Tags: []string{"art", "market"}, Date: now.Add(14 * 24 * time.Hour)},
			{Title: "Harbour Cinema: Silent Classics", Description: "Restored prints with live scoring.", Category: category("Film"), Location: city("Lisbon"), Tags: []string{"film", "outdoor"}, Date: now.Add(6 * 24 * time.Hour), Price: price(8)},
			{Title: "Winter Archive Exhibition", Description: "A look back at last season's commissions.", Category: category("Art"), Location: city("Berlin"), Tags: []string{"art"}, Date: now.Add(-21 * 24 * time.Hour), Price: price(5)},
		}
		for _, seed := range seeds {
			seed.ID = util.NewID("evt")
			if err := s.store.InsertEvent(ctx, seed); err != nil {
				return err
			}
			s.search.IndexEvent(searchDocument(seed))
		}
		return nil
	}

	s.search.ReindexAllFromPG(ctx)
	return nil
}

func searchDocument(event query.EventRecord) search.EventRecord {
	doc := search.EventRecord{
		ID:          event.ID,
		Title:       event.Title,
		Description: event.Description,
		Tags:        event.Tags,
		Date:        event.Date.Unix(),
		Featured:    event.Featured,
	}
	if event.Category != nil {
		doc.Category = *event.Category
	}
	if event.Location != nil {
		doc.Location = *event.Location
	}
	return doc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "Guest"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The Redis store only records the user ID.
	if user.DisplayName == "" {
		full, err := s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			log.Printf("session: refresh lookup of user %s: %v", user.ID, err)
		} else {
			user = full
		}
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ListEvents runs a stateless discovery query straight from URL parameters.
// For-you recommendations are resolved per request when the caller is
// authenticated.
func (s *Service) ListEvents(ctx context.Context, userID string, params url.Values) map[string]any {
	state := filterstate.Decode(params, s.cfg.DefaultPageSize)

	var recommendation []string
	if state.Tab == query.TabForYou && userID != "" {
		recommendation = s.prefs.Resolve(ctx, userID).RecommendationTags
	}

	result := s.query.QueryEvents(ctx, query.Spec{
		Filters:            state.Filters,
		Sort:               state.Sort,
		Tab:                state.Tab,
		Page:               query.PageSpec{Page: state.Page, PageSize: state.PageSize},
		IncludePast:        params.Get("includePast") == "true",
		RecommendationTags: recommendation,
	})

	return map[string]any{
		"result": result,
		"params": canonicalURL(filterstate.Encode(state)),
	}
}

func (s *Service) FacetCatalog(ctx context.Context) query.Facets {
	return s.query.Facets(ctx)
}

func (s *Service) QuickSearch(q search.Query) search.Response {
	return s.search.Search(q)
}

// CreateDiscovery opens a stateful discovery session seeded from URL
// parameters and, for authenticated callers, onboarding preferences.
func (s *Service) CreateDiscovery(ctx context.Context, userID string, params url.Values) map[string]any {
	resolution := s.prefs.Resolve(ctx, userID)
	fs := filterstate.New(ctx, s.query, params, filterstate.Seed{
		Location:           resolution.LocationSeed,
		RecommendationTags: resolution.RecommendationTags,
	}, s.cfg.DefaultPageSize)

	id := util.NewID("dsc")
	s.discMu.Lock()
	s.discoveries[id] = &discoveryRecord{
		session:   fs,
		userID:    userID,
		expiresAt: time.Now().Add(s.discoveryTTL),
	}
	s.discMu.Unlock()

	return discoveryPayload(id, fs.Snapshot())
}

func (s *Service) GetDiscovery(id string) (map[string]any, error) {
	rec, err := s.discovery(id)
	if err != nil {
		return nil, err
	}
	return discoveryPayload(id, rec.session.Snapshot()), nil
}

func (s *Service) UpdateDiscoveryFilter(ctx context.Context, id, key string, rawValue json.RawMessage, keepPage bool) (map[string]any, error) {
	rec, err := s.discovery(id)
	if err != nil {
		return nil, err
	}

	filterKey := filterstate.FilterKey(key)
	value, err := filterValueFromJSON(filterKey, rawValue)
	if err != nil {
		return nil, err
	}
	if err := rec.session.UpdateFilter(ctx, filterKey, value, filterstate.UpdateOptions{KeepPage: keepPage}); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return discoveryPayload(id, rec.session.Snapshot()), nil
}

func (s *Service) ToggleDiscoveryTag(ctx context.Context, id, tag string) (map[string]any, error) {
	rec, err := s.discovery(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(tag) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tag is required", nil)
	}
	rec.session.ToggleTag(ctx, tag)
	return discoveryPayload(id, rec.session.Snapshot()), nil
}

func (s *Service) ClearDiscoveryFilters(ctx context.Context, id string) (map[string]any, error) {
	rec, err := s.discovery(id)
	if err != nil {
		return nil, err
	}
	rec.session.ClearFilters(ctx)
	return discoveryPayload(id, rec.session.Snapshot()), nil
}

func (s *Service) ChangeDiscoverySort(ctx context.Context, id, sort string) (map[string]any, error) {
	rec, err := s.discovery(id)
	if err != nil {
		return nil, err
	}
	rec.session.ChangeSort(ctx, query.Sort(sort))
	return discoveryPayload(id, rec.session.Snapshot()), nil
}

func (s *Service) ChangeDiscoveryView(ctx context.Context, id, view string) (map[string]any, error) {
	rec, err := s.discovery(id)
	if err != nil {
		return nil, err
	}
	rec.session.ChangeView(ctx, query.View(view))
	return discoveryPayload(id, rec.session.Snapshot()), nil
}

func (s *Service) ChangeDiscoveryPage(ctx context.Context, id string, page int) (map[string]any, error) {
	rec, err := s.discovery(id)
	if err != nil {
		return nil, err
	}
	rec.session.ChangePage(ctx, page)
	return discoveryPayload(id, rec.session.Snapshot()), nil
}

func (s *Service) ChangeDiscoveryTab(ctx context.Context, id, tab string) (map[string]any, error) {
	rec, err := s.discovery(id)
	if err != nil {
		return nil, err
	}
	rec.session.ChangeTab(ctx, query.Tab(tab))
	return discoveryPayload(id, rec.session.Snapshot()), nil
}

func (s *Service) ApplyDiscoverySavedFilter(ctx context.Context, id, userID, savedID string) (map[string]any, error) {
	rec, err := s.discovery(id)
	if err != nil {
		return nil, err
	}
	item, err := s.saved.Get(ctx, userID, savedID)
	if err != nil {
		return nil, mapSavedError(err)
	}
	rec.session.ApplySavedFilter(ctx, item.ID, item.Snapshot)
	return discoveryPayload(id, rec.session.Snapshot()), nil
}

func (s *Service) ListSavedFilters(ctx context.Context, userID string) map[string]any {
	return map[string]any{"savedFilters": s.saved.List(ctx, userID)}
}

// CreateSavedFilter captures the named discovery session's current filters
// as a preset.
func (s *Service) CreateSavedFilter(ctx context.Context, userID, name, discoveryID string) (map[string]any, error) {
	rec, err := s.discovery(discoveryID)
	if err != nil {
		return nil, err
	}
	item, err := s.saved.Save(ctx, userID, name, rec.session.SaveSnapshot())
	if err != nil {
		return nil, mapSavedError(err)
	}
	return map[string]any{"savedFilter": item}, nil
}

func (s *Service) DeleteSavedFilter(ctx context.Context, userID, id string) error {
	if err := s.saved.Delete(ctx, userID, id); err != nil {
		return mapSavedError(err)
	}
	return nil
}

func (s *Service) Preferences(ctx context.Context, userID string) (map[string]any, error) {
	item, err := s.store.GetOnboardingPreferences(ctx, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return preferencesPayload(item), nil
}

func (s *Service) UpdatePreferences(ctx context.Context, userID, homeBase string, preferredCities, interests []string) (map[string]any, error) {
	item := store.OnboardingPreferences{
		UserID:          userID,
		HomeBase:        strings.TrimSpace(homeBase),
		PreferredCities: trimBlank(preferredCities),
		Interests:       trimBlank(interests),
		UpdatedAt:       time.Now(),
	}
	if err := s.store.UpsertOnboardingPreferences(ctx, item); err != nil {
		return nil, err
	}
	return preferencesPayload(item), nil
}

// discovery returns a live session record, sweeping expired records while
// holding the lock.
func (s *Service) discovery(id string) (*discoveryRecord, error) {
	now := time.Now()
	s.discMu.Lock()
	defer s.discMu.Unlock()

	for key, rec := range s.discoveries {
		if now.After(rec.expiresAt) {
			delete(s.discoveries, key)
		}
	}

	rec, ok := s.discoveries[id]
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Discovery session not found", nil)
	}
	rec.expiresAt = now.Add(s.discoveryTTL)
	return rec, nil
}

func discoveryPayload(id string, snap filterstate.Snapshot) map[string]any {
	return map[string]any{
		"id":     id,
		"state":  statePayload(snap.State),
		"url":    canonicalURL(snap.Params),
		"result": snap.Result,
	}
}

func canonicalURL(params url.Values) string {
	return "?" + params.Encode()
}

func statePayload(state filterstate.State) map[string]any {
	tags := state.Filters.Tags
	if tags == nil {
		tags = []string{}
	}
	payload := map[string]any{
		"search":        state.Filters.Search,
		"category":      state.Filters.Category,
		"location":      state.Filters.Location,
		"tags":          tags,
		"featuredOnly":  state.Filters.FeaturedOnly,
		"startDate":     formatDate(state.Filters.StartDate),
		"endDate":       formatDate(state.Filters.EndDate),
		"sort":          state.Sort,
		"view":          state.View,
		"tab":           state.Tab,
		"page":          state.Page,
		"pageSize":      state.PageSize,
		"savedFilterId": nil,
	}
	if state.SavedFilterID != "" {
		payload["savedFilterId"] = state.SavedFilterID
	}
	return payload
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func filterValueFromJSON(key filterstate.FilterKey, raw json.RawMessage) (any, error) {
	invalid := func(message string) error {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	switch key {
	case filterstate.KeySearch:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, invalid("search expects a string value")
		}
		return v, nil
	case filterstate.KeyCategory, filterstate.KeyLocation:
		var v *string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, invalid(fmt.Sprintf("%s expects a string or null", key))
		}
		return v, nil
	case filterstate.KeyTags:
		var v []string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, invalid("tags expects a string array")
		}
		return v, nil
	case filterstate.KeyFeatured:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, invalid("featured expects a boolean")
		}
		return v, nil
	case filterstate.KeyStartDate, filterstate.KeyEndDate:
		var v *string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, invalid(fmt.Sprintf("%s expects a YYYY-MM-DD string or null", key))
		}
		if v == nil {
			return (*time.Time)(nil), nil
		}
		parsed, err := time.Parse("2006-01-02", *v)
		if err != nil {
			return nil, invalid(fmt.Sprintf("%s expects a YYYY-MM-DD string or null", key))
		}
		return &parsed, nil
	default:
		return nil, invalid(fmt.Sprintf("unknown filter key %q", key))
	}
}

func mapSavedError(err error) error {
	switch {
	case errors.Is(err, saved.ErrUnauthenticated):
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to manage saved filters", nil)
	case errors.Is(err, saved.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Saved filter not found", nil)
	default:
		return err
	}
}

func preferencesPayload(item store.OnboardingPreferences) map[string]any {
	cities := item.PreferredCities
	if cities == nil {
		cities = []string{}
	}
	interests := item.Interests
	if interests == nil {
		interests = []string{}
	}
	payload := map[string]any{
		"homeBase":        item.HomeBase,
		"preferredCities": cities,
		"interests":       interests,
	}
	if !item.UpdatedAt.IsZero() {
		payload["updatedAt"] = item.UpdatedAt
	}
	return payload
}

func trimBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
