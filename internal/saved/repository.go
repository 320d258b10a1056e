// Package saved persists named filter presets, scoped to their owning user,
// with a Redis-cached list invalidated through a monotonic version counter.
package saved

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"beacon/api/internal/query"
	"beacon/api/internal/store"
	"beacon/api/internal/util"
)

// ErrUnauthenticated reports a mutation attempted without an authenticated
// user. No network call is made in that case.
var ErrUnauthenticated = errors.New("saved filters require an authenticated user")

// ErrNotFound reports a delete of a preset the user does not own.
var ErrNotFound = errors.New("saved filter not found")

type dataStore interface {
	ListSavedFilters(ctx context.Context, userID string) ([]store.SavedFilter, error)
	GetSavedFilter(ctx context.Context, userID, id string) (store.SavedFilter, error)
	InsertSavedFilter(ctx context.Context, item store.SavedFilter) error
	DeleteSavedFilter(ctx context.Context, userID, id string) (bool, error)
}

// Repository mediates saved-filter CRUD. Mutations from the same session are
// serialized; each one bumps the user's cache version, so a cached list is
// only served while no newer mutation has completed.
type Repository struct {
	mu    sync.Mutex
	store dataStore
	cache *redis.Client // nil disables caching
	ttl   time.Duration
}

func NewRepository(dataStore dataStore, cache *redis.Client, ttl time.Duration) *Repository {
	return &Repository{store: dataStore, cache: cache, ttl: ttl}
}

func versionKey(userID string) string { return "saved:ver:" + userID }

func listKey(userID string, version int64) string {
	return fmt.Sprintf("saved:list:%s:%d", userID, version)
}

// List returns the user's presets. An empty user ID short-circuits to an
// empty list without touching the store or the cache. Data-access failures
// are logged and degrade to an empty list; the caller never sees an error.
func (r *Repository) List(ctx context.Context, userID string) []store.SavedFilter {
	if userID == "" {
		return []store.SavedFilter{}
	}

	version := r.version(ctx, userID)
	if cached, ok := r.cachedList(ctx, userID, version); ok {
		return cached
	}

	items, err := r.store.ListSavedFilters(ctx, userID)
	if err != nil {
		log.Printf("saved: list for %s: %v", userID, err)
		return []store.SavedFilter{}
	}
	if items == nil {
		items = []store.SavedFilter{}
	}
	r.storeList(ctx, userID, version, items)
	return items
}

// Get loads one preset owned by the user.
func (r *Repository) Get(ctx context.Context, userID, id string) (store.SavedFilter, error) {
	if userID == "" {
		return store.SavedFilter{}, ErrUnauthenticated
	}
	return r.store.GetSavedFilter(ctx, userID, id)
}

// Save persists a new preset and invalidates the cached list.
func (r *Repository) Save(ctx context.Context, userID, name string, snapshot query.Snapshot) (store.SavedFilter, error) {
	if userID == "" {
		return store.SavedFilter{}, ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.SavedFilter{}, fmt.Errorf("saved filter name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	item := store.SavedFilter{
		ID:       util.NewID("sef"),
		UserID:   userID,
		Name:     name,
		Snapshot: snapshot,
	}
	if err := r.store.InsertSavedFilter(ctx, item); err != nil {
		return store.SavedFilter{}, err
	}
	r.bumpVersion(ctx, userID)
	return item, nil
}

// Delete removes a preset by id, scoped to the owner, and invalidates the
// cached list.
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrUnauthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	deleted, err := r.store.DeleteSavedFilter(ctx, userID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	r.bumpVersion(ctx, userID)
	return nil
}

func (r *Repository) version(ctx context.Context, userID string) int64 {
	if r.cache == nil {
		return 0
	}
	version, err := r.cache.Get(ctx, versionKey(userID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Printf("saved: read cache version for %s: %v", userID, err)
	}
	return version
}

func (r *Repository) bumpVersion(ctx context.Context, userID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Incr(ctx, versionKey(userID)).Err(); err != nil {
		log.Printf("saved: bump cache version for %s: %v", userID, err)
	}
}

func (r *Repository) cachedList(ctx context.Context, userID string, version int64) ([]store.SavedFilter, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, err := r.cache.Get(ctx, listKey(userID, version)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Printf("saved: read cached list for %s: %v", userID, err)
		return nil, false
	}
	var items []store.SavedFilter
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		log.Printf("saved: decode cached list for %s: %v", userID, err)
		return nil, false
	}
	return items, true
}

func (r *Repository) storeList(ctx context.Context, userID string, version int64, items []store.SavedFilter) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(items)
	if err != nil {
		log.Printf("saved: encode cached list for %s: %v", userID, err)
		return
	}
	if err := r.cache.Set(ctx, listKey(userID, version), raw, r.ttl).Err(); err != nil {
		log.Printf("saved: write cached list for %s: %v", userID, err)
	}
}
