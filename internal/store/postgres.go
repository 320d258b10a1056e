package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"beacon/api/internal/query"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (id, display_name, email)
		VALUES ($1, $2, CONCAT(LOWER(REPLACE($2, ' ', '.')), '@local.beacon.dev'))
		RETURNING id, display_name
	`
	if err := s.db.QueryRowContext(ctx, insertUser, uuid.NewString(), name).Scan(&user.ID, &user.DisplayName); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name FROM users WHERE id=$1`, userID).Scan(&user.ID, &user.DisplayName)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const lookup = `
		SELECT u.id, u.display_name
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, lookup, tokenHash).Scan(&user.ID, &user.DisplayName)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) CountAllEvents(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, event query.EventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, title, description, category, location, tags, date, created_at, price, featured)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), $8, $9)
	`, event.ID, event.Title, event.Description, event.Category, event.Location, pq.Array(event.Tags), event.Date, event.Price, event.Featured)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSavedFilters(ctx context.Context, userID string) ([]SavedFilter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, snapshot, created_at
		FROM saved_filters
		WHERE user_id = $1
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list saved filters: %w", err)
	}
	defer rows.Close()

	items := make([]SavedFilter, 0)
	for rows.Next() {
		var item SavedFilter
		var snapshotRaw []byte
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &snapshotRaw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan saved filter: %w", err)
		}
		if err := json.Unmarshal(snapshotRaw, &item.Snapshot); err != nil {
			return nil, fmt.Errorf("decode saved filter %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saved filters: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSavedFilter(ctx context.Context, userID, id string) (SavedFilter, error) {
	var item SavedFilter
	var snapshotRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, snapshot, created_at
		FROM saved_filters
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&item.ID, &item.UserID, &item.Name, &snapshotRaw, &item.CreatedAt)
	if err != nil {
		return SavedFilter{}, err
	}
	if err := json.Unmarshal(snapshotRaw, &item.Snapshot); err != nil {
		return SavedFilter{}, fmt.Errorf("decode saved filter %s: %w", item.ID, err)
	}
	return item, nil
}

func (s *PostgresStore) InsertSavedFilter(ctx context.Context, item SavedFilter) error {
	snapshotRaw, err := json.Marshal(item.Snapshot)
	if err != nil {
		return fmt.Errorf("encode saved filter snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saved_filters (id, user_id, name, snapshot)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.UserID, item.Name, snapshotRaw)
	if err != nil {
		return fmt.Errorf("insert saved filter: %w", err)
	}
	return nil
}

// DeleteSavedFilter removes a preset scoped to its owner. The bool reports
// whether a row was actually deleted.
func (s *PostgresStore) DeleteSavedFilter(ctx context.Context, userID, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM saved_filters WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete saved filter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete saved filter result: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetOnboardingPreferences(ctx context.Context, userID string) (OnboardingPreferences, error) {
	var prefs OnboardingPreferences
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, home_base, preferred_cities, interests, updated_at
		FROM onboarding_preferences
		WHERE user_id = $1
	`, userID).Scan(&prefs.UserID, &prefs.HomeBase, pq.Array(&prefs.PreferredCities), pq.Array(&prefs.Interests), &prefs.UpdatedAt)
	if err != nil {
		return OnboardingPreferences{}, err
	}
	return prefs, nil
}

func (s *PostgresStore) UpsertOnboardingPreferences(ctx context.Context, prefs OnboardingPreferences) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO onboarding_preferences (user_id, home_base, preferred_cities, interests, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			home_base=EXCLUDED.home_base,
			preferred_cities=EXCLUDED.preferred_cities,
			interests=EXCLUDED.interests,
			updated_at=NOW()
	`, prefs.UserID, prefs.HomeBase, pq.Array(prefs.PreferredCities), pq.Array(prefs.Interests))
	if err != nil {
		return fmt.Errorf("upsert onboarding preferences: %w", err)
	}
	return nil
}
