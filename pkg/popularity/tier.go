package popularity

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is an ordinal popularity label.
type Tier string

const (
	TierNiche      Tier = "niche"
	TierKnown      Tier = "known"
	TierPopular    Tier = "popular"
	TierMainstream Tier = "mainstream"
	TierViral      Tier = "viral"
)

// Tiers returns all tiers from lowest to highest.
func Tiers() []Tier {
	return []Tier{TierNiche, TierKnown, TierPopular, TierMainstream, TierViral}
}

// Rank orders tiers: niche is 0, viral is 4. Unknown tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierNiche:
		return 0
	case TierKnown:
		return 1
	case TierPopular:
		return 2
	case TierMainstream:
		return 3
	case TierViral:
		return 4
	}
	return -1
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Band is the pair of limits a game must exceed (either one) to reach a tier.
type Band struct {
	Follows int64 `yaml:"follows" json:"follows"`
	Score   int64 `yaml:"score" json:"score"`
}

func (b Band) admits(score, follows int64) bool {
	return follows > b.Follows || score > b.Score
}

// Thresholds define the tier bands above niche.
type Thresholds struct {
	Viral      Band `yaml:"viral" json:"viral"`
	Mainstream Band `yaml:"mainstream" json:"mainstream"`
	Popular    Band `yaml:"popular" json:"popular"`
	Known      Band `yaml:"known" json:"known"`
}

// DefaultThresholds are the production bands.
var DefaultThresholds = Thresholds{
	Viral:      Band{Follows: 100_000, Score: 80_000},
	Mainstream: Band{Follows: 50_000, Score: 50_000},
	Popular:    Band{Follows: 10_000, Score: 10_000},
	Known:      Band{Follows: 1_000, Score: 1_000},
}

// Classify walks the bands from the top. Comparisons are strict, so a value
// sitting exactly on a limit stays in the lower tier.
func (th Thresholds) Classify(score, follows int64) Tier {
	switch {
	case th.Viral.admits(score, follows):
		return TierViral
	case th.Mainstream.admits(score, follows):
		return TierMainstream
	case th.Popular.admits(score, follows):
		return TierPopular
	case th.Known.admits(score, follows):
		return TierKnown
	}
	return TierNiche
}

// Validate checks that bands are non-negative and strictly decreasing from
// viral to known in both dimensions.
func (th Thresholds) Validate() error {
	bands := []struct {
		name Tier
		band Band
	}{
		{TierViral, th.Viral},
		{TierMainstream, th.Mainstream},
		{TierPopular, th.Popular},
		{TierKnown, th.Known},
	}

	var errs []error
	for i, b := range bands {
		if b.band.Follows < 0 || b.band.Score < 0 {
			errs = append(errs, fmt.Errorf("%s band must be non-negative", b.name))
		}
		if i == 0 {
			continue
		}
		prev := bands[i-1]
		if prev.band.Follows <= b.band.Follows {
			errs = append(errs, fmt.Errorf("%s follows limit %d must exceed %s limit %d",
				prev.name, prev.band.Follows, b.name, b.band.Follows))
		}
		if prev.band.Score <= b.band.Score {
			errs = append(errs, fmt.Errorf("%s score limit %d must exceed %s limit %d",
				prev.name, prev.band.Score, b.name, b.band.Score))
		}
	}
	return errors.Join(errs...)
}
