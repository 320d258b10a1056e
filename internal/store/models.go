package store

import (
	"time"

	"beacon/api/internal/query"
)

type User struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SavedFilter is a named, immutable snapshot of a discovery filter state,
// owned by exactly one user. Rows are created by an explicit save and
// removed by an explicit delete; they are never mutated in place.
type SavedFilter struct {
	ID        string         `json:"id"`
	UserID    string         `json:"-"`
	Name      string         `json:"name"`
	Snapshot  query.Snapshot `json:"filters"`
	CreatedAt time.Time      `json:"createdAt"`
}

// OnboardingPreferences is the per-user onboarding data consumed by the
// preference resolver. Read-mostly; written by the onboarding flow.
type OnboardingPreferences struct {
	UserID          string    `json:"-"`
	HomeBase        string    `json:"homeBase"`
	PreferredCities []string  `json:"preferredCities"`
	Interests       []string  `json:"interests"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
