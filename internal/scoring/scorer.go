// Package scoring implements the relevance model: a 0–60 quality score from
// usage, validation and reputation signals, exponential time decay selected
// by memory type, and the fixed 40/60 similarity/quality split used for
// query-time ranking.
package scoring

import (
	"math"
	"time"

	"github.com/awarenet/memcore/pkg/types"
)

const (
	// termWeight is the cap of each of the three quality terms. The three
	// terms together put quality on a 0–60 scale (60% of the 0–100 range).
	termWeight = 20.0

	// similarityWeight scales vector similarity onto the 0–100 range.
	// 40·similarity + quality is a hard design constraint, not a tunable.
	similarityWeight = 40.0

	// usageLogDivisor normalizes ln(usage+1) into [0,1] for realistic counts.
	usageLogDivisor = 10.0
)

// Decay rates (λ, per day) by memory type.
// Half-life = ln(2)/λ: episodic ≈14d, semantic ≈70d, strategic ≈693d,
// procedural ≈35d.
var memoryTypeLambda = map[types.MemoryType]float64{
	types.MemoryEpisodic:   0.05,
	types.MemorySemantic:   0.01,
	types.MemoryStrategic:  0.001,
	types.MemoryProcedural: 0.02,
}

// Fallback decay rates by content type, used when no memory type is set.
var contentTypeLambda = map[types.ContentType]float64{
	types.ContentText:   0.02,
	types.ContentCode:   0.01,
	types.ContentJSON:   0.02,
	types.ContentBinary: 0.05,
}

// defaultLambda is the last-resort decay rate (half-life ≈69.3 days).
const defaultLambda = 0.01

// Scorer computes cached scores for memory entries. The clock is injectable
// so recomputation is reproducible under a frozen time in tests.
type Scorer struct {
	now func() time.Time

	// reputationFeedback enables the ±10% producer-reputation nudge.
	reputationFeedback bool
}

// NewScorer returns a Scorer using the wall clock.
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// NewScorerAt returns a Scorer with a fixed clock. Test use.
func NewScorerAt(now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	return &Scorer{now: now}
}

// EnableReputationFeedback turns on the producer-reputation quality nudge.
func (s *Scorer) EnableReputationFeedback() {
	s.reputationFeedback = true
}

// LambdaFor selects the decay rate for an entry: memory type first,
// content type second, defaultLambda last. A positive DecayFactor stored on
// the entry overrides both (set at version creation, policy-adjustable).
func LambdaFor(e *types.MemoryEntry) float64 {
	if e.DecayFactor > 0 {
		return e.DecayFactor
	}
	if l, ok := memoryTypeLambda[e.MemoryType]; ok {
		return l
	}
	if l, ok := contentTypeLambda[e.ContentType]; ok {
		return l
	}
	return defaultLambda
}

// Score computes the cached score triple for an entry:
//
//	base  = 20·min(ln(usage+1)/10, 1) + 20·min(validations/usage, 1) + 20·(reputation/100)
//	decay = exp(-λ · days_since_checkpoint)
//	final = base · decay
//
// Holding the signals and the clock fixed, Score is a pure function of the
// entry, so recomputation is idempotent.
func (s *Scorer) Score(e *types.MemoryEntry) types.MemoryScore {
	now := s.now()
	base := s.qualityScore(e)

	days := now.Sub(checkpoint(e)).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	decay := math.Exp(-LambdaFor(e) * days)

	return types.MemoryScore{
		MemoryID:        e.ID,
		BaseScore:       base,
		DecayMultiplier: decay,
		FinalScore:      base * decay,
		LastCalculated:  now,
	}
}

// qualityScore computes the 0–60 quality component with each term clamped
// to [0, 20].
func (s *Scorer) qualityScore(e *types.MemoryEntry) float64 {
	usage := clampTerm(math.Log(float64(e.UsageCount)+1) / usageLogDivisor)

	var ratio float64
	if e.UsageCount > 0 {
		ratio = float64(e.ValidationCount) / float64(e.UsageCount)
	}
	validation := clampTerm(ratio)

	reputation := clampTerm(e.Reputation / 100.0)

	score := usage + validation + reputation
	if s.reputationFeedback {
		score *= reputationFactor(e.Reputation)
	}
	if score > 60 {
		score = 60
	}
	return score
}

// reputationFactor maps a producer reputation in [0,100] to a quality
// multiplier in [0.9, 1.1]: 50 is neutral, below 30 penalized towards -10%,
// above 70 boosted towards +10%.
func reputationFactor(reputation float64) float64 {
	f := 1.0 + 0.1*((reputation-50.0)/50.0)
	if f < 0.9 {
		f = 0.9
	}
	if f > 1.1 {
		f = 1.1
	}
	return f
}

// clampTerm clamps a normalized ratio to [0,1] and weights it to [0,20].
func clampTerm(ratio float64) float64 {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return termWeight * ratio
}

// checkpoint returns the decay reference time, falling back to creation.
func checkpoint(e *types.MemoryEntry) time.Time {
	if !e.DecayCheckpoint.IsZero() {
		return e.DecayCheckpoint
	}
	return e.CreatedAt
}

// CombinedScore is the query-time ranking score on the 0–100 scale:
// similarity (in [0,1]) contributes at most 40 points, the decayed quality
// score the remaining 60.
func CombinedScore(similarity, finalScore float64) float64 {
	return similarityWeight*types.ClampUnit(similarity) + finalScore
}

// TierFor buckets a 0–100 score into its display tier.
func TierFor(score float64) types.QualityTier {
	switch {
	case score >= 80:
		return types.TierPlatinum
	case score >= 60:
		return types.TierGold
	case score >= 40:
		return types.TierSilver
	default:
		return types.TierBronze
	}
}
