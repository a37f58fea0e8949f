// Package projection serves precomputed, ranked views of the game catalogue.
//
// A projection is rebuilt in full from the signal store and published as an
// immutable Snapshot. Readers only ever see a complete snapshot: the previous
// one keeps serving until its replacement is fully built and persisted, and a
// failed rebuild leaves it in place.
//
// Snapshots lag the signal store by up to one refresh interval. Public
// projections never select admin-only games; the restriction is evaluated at
// build time, so a game restricted after a build stays visible in that
// snapshot until the next rebuild.
package projection

import (
	"context"
	"errors"
	"time"

	"github.com/gamerank/gamerank/pkg/popularity"
)

var (
	ErrUnknownProjection = errors.New("unknown projection")
	ErrNotBuilt          = errors.New("projection not built yet")
)

// Audience says who may read a projection.
type Audience string

const (
	AudiencePublic Audience = "public"
	AudienceAdmin  Audience = "admin"
)

// Definition describes how a projection is selected and ordered.
// Where and OrderBy are SQL fragments over the games table and come from
// code or operator config, never from request input.
type Definition struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Where       string   `yaml:"where" json:"-"`
	OrderBy     string   `yaml:"order_by" json:"-"`
	Limit       int      `yaml:"limit" json:"limit"`
	Audience    Audience `yaml:"audience" json:"audience"`
}

// Predicate is the WHERE clause a build runs: Where, plus the exclusion of
// admin-only games for anything that is not an admin projection.
func (d Definition) Predicate() string {
	if d.Audience == AudienceAdmin {
		return d.Where
	}
	if d.Where == "" {
		return publicOnly
	}
	return "(" + d.Where + ") AND " + publicOnly
}

const publicOnly = "NOT admin_only"

// Built-in projection names.
const (
	Popular    = "popular"
	Trending   = "trending"
	Recent     = "recent"
	AdminFlags = "admin_flags"
)

// Builtins returns the stock projections.
func Builtins() []Definition {
	return []Definition{
		{
			Name:        Popular,
			Description: "Most rated games, best average rating first on ties",
			Where:       "rating_count > 0",
			OrderBy:     "rating_count DESC, average_rating DESC NULLS LAST",
			Limit:       100,
			Audience:    AudiencePublic,
		},
		{
			Name:        Trending,
			Description: "Highest popularity score",
			Where:       "popularity_score > 0",
			OrderBy:     "popularity_score DESC, follows DESC",
			Limit:       100,
			Audience:    AudiencePublic,
		},
		{
			Name:        Recent,
			Description: "Recently changed games",
			OrderBy:     "updated_at DESC",
			Limit:       50,
			Audience:    AudiencePublic,
		},
		{
			Name:        AdminFlags,
			Description: "Flagged games awaiting moderation",
			Where:       "flagged_at IS NOT NULL",
			OrderBy:     "flagged_at DESC",
			Limit:       200,
			Audience:    AudienceAdmin,
		},
	}
}

// Entry is one cached row: a copy of the game fields a projection serves.
type Entry struct {
	Rank            int             `json:"rank" db:"rank"`
	GameID          string          `json:"game_id" db:"game_id"`
	Slug            string          `json:"slug" db:"slug"`
	Name            string          `json:"name" db:"name"`
	CoverURL        *string         `json:"cover_url,omitempty" db:"cover_url"`
	Follows         int64           `json:"follows" db:"follows"`
	Hypes           int64           `json:"hypes" db:"hypes"`
	RatingCount     int64           `json:"rating_count" db:"rating_count"`
	AverageRating   *float64        `json:"average_rating,omitempty" db:"average_rating"`
	PopularityScore int64           `json:"popularity_score" db:"popularity_score"`
	PopularityTier  popularity.Tier `json:"popularity_tier" db:"popularity_tier"`
	FlaggedAt       *time.Time      `json:"flagged_at,omitempty" db:"flagged_at"`
	FlagReason      string          `json:"flag_reason,omitempty" db:"flag_reason"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Snapshot is a complete, immutable build of one projection.
type Snapshot struct {
	Projection string    `json:"projection" db:"projection"`
	Generation string    `json:"generation" db:"generation"`
	BuiltAt    time.Time `json:"built_at" db:"built_at"`
	Entries    []Entry   `json:"entries" db:"-"`
}

// Source selects the rows of a projection from a consistent read of the
// signal store.
type Source interface {
	SelectProjection(ctx context.Context, def Definition) ([]Entry, error)
}

// Sink persists published snapshots so a restart serves the last good one.
// SaveSnapshot must make the new generation visible atomically.
type Sink interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, name string) (*Snapshot, error)
}

// Filter narrows a query against a snapshot.
type Filter struct {
	Tier     popularity.Tier
	MinScore int64
	Limit    int
	Offset   int
}

// Result is a page of a snapshot plus the snapshot's identity, so callers can
// see how stale it is.
type Result struct {
	Projection string    `json:"projection"`
	Generation string    `json:"generation"`
	BuiltAt    time.Time `json:"built_at"`
	Total      int       `json:"total"`
	Entries    []Entry   `json:"entries"`
}
