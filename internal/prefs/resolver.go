// Package prefs derives discovery seeds from a user's onboarding answers.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"beacon/api/internal/store"
)

type dataStore interface {
	GetOnboardingPreferences(ctx context.Context, userID string) (store.OnboardingPreferences, error)
}

// Resolution is what a new discovery session starts from: an optional
// location seed and the interest tags that drive the for-you tab.
type Resolution struct {
	LocationSeed       string
	RecommendationTags []string
}

type Resolver struct {
	store dataStore
}

func NewResolver(dataStore dataStore) *Resolver {
	return &Resolver{store: dataStore}
}

// Resolve maps onboarding preferences onto a Resolution. Anonymous users and
// users who never completed onboarding get a zero Resolution; any store
// failure degrades to the same zero value so session creation never blocks
// on preference data.
func (r *Resolver) Resolve(ctx context.Context, userID string) Resolution {
	if userID == "" {
		return Resolution{}
	}
	prefs, err := r.store.GetOnboardingPreferences(ctx, userID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("prefs: resolve for %s: %v", userID, err)
		}
		return Resolution{}
	}

	var res Resolution
	if seed := strings.TrimSpace(prefs.HomeBase); seed != "" {
		res.LocationSeed = seed
	} else {
		for _, city := range prefs.PreferredCities {
			if city = strings.TrimSpace(city); city != "" {
				res.LocationSeed = city
				break
			}
		}
	}
	for _, interest := range prefs.Interests {
		if interest = strings.TrimSpace(interest); interest != "" {
			res.RecommendationTags = append(res.RecommendationTags, interest)
		}
	}
	return res
}
