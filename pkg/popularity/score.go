// Package popularity computes the popularity score and tier of a game from its
// raw engagement signals. Every caller that needs a score or a tier goes
// through this package; nothing else derives them.
package popularity

import (
	"math"
	"math/big"
	"strconv"
)

// Signals are the raw counters that feed the score.
// A zero value means the signal is absent.
type Signals struct {
	Follows     int64 `json:"follows" db:"follows"`
	Hypes       int64 `json:"hypes" db:"hypes"`
	RatingCount int64 `json:"rating_count" db:"rating_count"`
}

// Clamped returns a copy with negative counters replaced by zero.
func (s Signals) Clamped() Signals {
	return Signals{
		Follows:     clamp(s.Follows),
		Hypes:       clamp(s.Hypes),
		RatingCount: clamp(s.RatingCount),
	}
}

// Weights of the linear score. RatingCount is multiplied by RatingAmplifier
// before its weight applies: critic ratings are rarer than follows or hypes.
type Weights struct {
	Follow          float64 `yaml:"follow" json:"follow"`
	Hype            float64 `yaml:"hype" json:"hype"`
	Rating          float64 `yaml:"rating" json:"rating"`
	RatingAmplifier float64 `yaml:"rating_amplifier" json:"rating_amplifier"`
}

// DefaultWeights are 0.6 follow, 0.3 hype, 0.1 rating with a 10x amplifier.
var DefaultWeights = Weights{
	Follow:          0.6,
	Hype:            0.3,
	Rating:          0.1,
	RatingAmplifier: 10,
}

// Derived holds the fields recomputed on every signal change.
type Derived struct {
	Score int64 `json:"popularity_score"`
	Tier  Tier  `json:"popularity_tier"`
}

// Scorer applies a set of weights and tier thresholds.
type Scorer struct {
	weights    Weights
	thresholds Thresholds

	// exact decimal forms of the weights; rating already includes the amplifier
	follow, hype, rating *big.Rat
}

// NewScorer creates a scorer. Zero weights fall back to DefaultWeights and
// zero thresholds to DefaultThresholds; negative weights are treated as zero.
func NewScorer(w Weights, t Thresholds) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights
	}
	w.Follow = math.Max(w.Follow, 0)
	w.Hype = math.Max(w.Hype, 0)
	w.Rating = math.Max(w.Rating, 0)
	w.RatingAmplifier = math.Max(w.RatingAmplifier, 0)

	if t == (Thresholds{}) {
		t = DefaultThresholds
	}
	return &Scorer{
		weights:    w,
		thresholds: t,
		follow:     exactDecimal(w.Follow),
		hype:       exactDecimal(w.Hype),
		rating:     new(big.Rat).Mul(exactDecimal(w.Rating), exactDecimal(w.RatingAmplifier)),
	}
}

// exactDecimal reads a weight as the decimal it was written as, so 0.3 is
// 3/10 and not the nearest binary float. NaN and infinities count as zero.
func exactDecimal(w float64) *big.Rat {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(w, 'g', -1, 64))
	if !ok || r.Sign() < 0 {
		return new(big.Rat)
	}
	return r
}

var half = big.NewRat(1, 2)

var defaultScorer = NewScorer(DefaultWeights, DefaultThresholds)

// Default returns the scorer with the stock weights and thresholds.
func Default() *Scorer { return defaultScorer }

// Score computes the score with the default weights.
func Score(s Signals) int64 { return defaultScorer.Score(s) }

// Classify assigns a tier with the default thresholds.
func Classify(score, follows int64) Tier { return defaultScorer.Classify(score, follows) }

// Weights returns the weights in use.
func (sc *Scorer) Weights() Weights { return sc.weights }

// Thresholds returns the tier thresholds in use.
func (sc *Scorer) Thresholds() Thresholds { return sc.thresholds }

// Score maps signals to a non-negative integer. The weighted sum is exact
// decimal arithmetic and rounds half away from zero, as SQL ROUND does on
// NUMERIC. Results too large for int64 saturate.
func (sc *Scorer) Score(s Signals) int64 {
	s = s.Clamped()

	sum := new(big.Rat)
	term := new(big.Rat)
	for _, t := range []struct {
		n int64
		w *big.Rat
	}{
		{s.Follows, sc.follow},
		{s.Hypes, sc.hype},
		{s.RatingCount, sc.rating},
	} {
		term.SetInt64(t.n)
		sum.Add(sum, term.Mul(term, t.w))
	}

	// sum is never negative, so floor(sum + 1/2) rounds half away from zero
	sum.Add(sum, half)
	v := new(big.Int).Quo(sum.Num(), sum.Denom())
	if !v.IsInt64() {
		return math.MaxInt64
	}
	return v.Int64()
}

// Classify assigns the more generous of the score tier and the follows tier.
func (sc *Scorer) Classify(score, follows int64) Tier {
	return sc.thresholds.Classify(clamp(score), clamp(follows))
}

// Derive recomputes score and tier for a signal vector.
func (sc *Scorer) Derive(s Signals) Derived {
	s = s.Clamped()
	score := sc.Score(s)
	return Derived{Score: score, Tier: sc.Classify(score, s.Follows)}
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
