package saved

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"beacon/api/internal/query"
	"beacon/api/internal/store"
)

type fakeStore struct {
	items     map[string][]store.SavedFilter
	listCalls int
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string][]store.SavedFilter)}
}

func (f *fakeStore) ListSavedFilters(_ context.Context, userID string) ([]store.SavedFilter, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.items[userID], nil
}

func (f *fakeStore) GetSavedFilter(_ context.Context, userID, id string) (store.SavedFilter, error) {
	for _, item := range f.items[userID] {
		if item.ID == id {
			return item, nil
		}
	}
	return store.SavedFilter{}, errors.New("no rows")
}

func (f *fakeStore) InsertSavedFilter(_ context.Context, item store.SavedFilter) error {
	f.items[item.UserID] = append(f.items[item.UserID], item)
	return nil
}

func (f *fakeStore) DeleteSavedFilter(_ context.Context, userID, id string) (bool, error) {
	items := f.items[userID]
	for i, item := range items {
		if item.ID == id {
			f.items[userID] = append(items[:i], items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func newTestRepository(t *testing.T) (*Repository, *fakeStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	fs := newFakeStore()
	return NewRepository(fs, client, 5*time.Minute), fs
}

func TestListUnauthenticatedShortCircuits(t *testing.T) {
	repo, fs := newTestRepository(t)

	items := repo.List(context.Background(), "")
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty list, got %v", items)
	}
	if fs.listCalls != 0 {
		t.Errorf("unauthenticated list must not hit the store, got %d calls", fs.listCalls)
	}
}

func TestSaveRequiresAuthAndName(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	if _, err := repo.Save(ctx, "", "My filter", query.Snapshot{}); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := repo.Save(ctx, "user-1", "   ", query.Snapshot{}); err == nil {
		t.Error("expected an error for a blank name")
	}
}

func TestListUsesCacheUntilMutation(t *testing.T) {
	repo, fs := newTestRepository(t)
	ctx := context.Background()

	saved, err := repo.Save(ctx, "user-1", "Jazz in Lisbon", query.Snapshot{Search: "jazz"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	first := repo.List(ctx, "user-1")
	if len(first) != 1 || first[0].Name != "Jazz in Lisbon" {
		t.Fatalf("unexpected list: %+v", first)
	}
	second := repo.List(ctx, "user-1")
	if len(second) != 1 {
		t.Fatalf("unexpected second list: %+v", second)
	}
	if fs.listCalls != 1 {
		t.Errorf("second list should be served from cache, store calls = %d", fs.listCalls)
	}

	// A mutation bumps the version, so the next list bypasses the cache.
	if err := repo.Delete(ctx, "user-1", saved.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	third := repo.List(ctx, "user-1")
	if len(third) != 0 {
		t.Fatalf("expected empty list after delete, got %+v", third)
	}
	if fs.listCalls != 2 {
		t.Errorf("list after mutation must hit the store, calls = %d", fs.listCalls)
	}
}

func TestListDegradesToEmptyOnStoreFailure(t *testing.T) {
	repo, fs := newTestRepository(t)
	fs.listErr = errors.New("connection refused")

	items := repo.List(context.Background(), "user-1")
	if items == nil || len(items) != 0 {
		t.Errorf("expected safe empty list, got %v", items)
	}
}

func TestDeleteScopesToOwner(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	saved, err := repo.Save(ctx, "user-1", "Mine", query.Snapshot{})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := repo.Delete(ctx, "user-2", saved.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleting another user's preset should be not-found, got %v", err)
	}
	if err := repo.Delete(ctx, "", saved.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("unauthenticated delete should short-circuit, got %v", err)
	}
	if err := repo.Delete(ctx, "user-1", saved.ID); err != nil {
		t.Errorf("owner delete failed: %v", err)
	}
}

func TestRepositoryWorksWithoutCache(t *testing.T) {
	fs := newFakeStore()
	repo := NewRepository(fs, nil, time.Minute)
	ctx := context.Background()

	if _, err := repo.Save(ctx, "user-1", "No cache", query.Snapshot{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if items := repo.List(ctx, "user-1"); len(items) != 1 {
		t.Fatalf("expected one item, got %v", items)
	}
}
