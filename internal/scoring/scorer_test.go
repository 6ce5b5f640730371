package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/awarenet/memcore/pkg/types"
)

func frozen(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Entry from the spec scenarios: usage=15, validations=12, reputation=75,
// decay λ=0.01. Quality ≈ 5.545 + 16 + 15 = 36.545.
func scenarioEntry(createdAt time.Time) *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:              "mem-scenario",
		UsageCount:      15,
		ValidationCount: 12,
		Reputation:      75,
		Confidence:      0.9,
		DecayFactor:     0.01,
		CreatedAt:       createdAt,
		DecayCheckpoint: createdAt,
	}
}

func TestScoreFreshEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewScorerAt(frozen(now))

	score := s.Score(scenarioEntry(now))

	wantBase := 20*math.Log(16)/10 + 16 + 15 // ≈ 36.545
	if math.Abs(score.BaseScore-wantBase) > 0.01 {
		t.Errorf("base score: got %.3f, want %.3f", score.BaseScore, wantBase)
	}
	if math.Abs(score.DecayMultiplier-1.0) > 1e-9 {
		t.Errorf("decay multiplier for fresh entry: got %f, want 1.0", score.DecayMultiplier)
	}
	if math.Abs(score.FinalScore-wantBase) > 0.01 {
		t.Errorf("final score: got %.3f, want %.3f", score.FinalScore, wantBase)
	}
}

func TestScoreAfterSeventyDays(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := created.Add(70 * 24 * time.Hour)
	s := NewScorerAt(frozen(now))

	score := s.Score(scenarioEntry(created))

	// λ=0.01, half-life ≈69.3 days: at 70 days the multiplier is ≈0.497.
	wantDecay := math.Exp(-0.01 * 70)
	if math.Abs(score.DecayMultiplier-wantDecay) > 1e-6 {
		t.Errorf("decay multiplier: got %f, want %f", score.DecayMultiplier, wantDecay)
	}
	if math.Abs(score.FinalScore-score.BaseScore*wantDecay) > 1e-6 {
		t.Errorf("final score not base·decay: %f vs %f", score.FinalScore, score.BaseScore*wantDecay)
	}
	if score.FinalScore > 18.5 || score.FinalScore < 18.0 {
		t.Errorf("final score after 70 days: got %.3f, want ≈18.25", score.FinalScore)
	}
}

// Recomputing under a frozen clock with unchanged inputs must yield
// byte-identical score triples.
func TestScoreIdempotent(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	s := NewScorerAt(frozen(now))
	e := scenarioEntry(now.Add(-30 * 24 * time.Hour))

	first := s.Score(e)
	second := s.Score(e)

	if first != second {
		t.Errorf("score not idempotent: %+v vs %+v", first, second)
	}
}

// With signals fixed, the final score must never increase as elapsed time
// grows.
func TestScoreMonotonicDecay(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := scenarioEntry(created)

	prev := math.Inf(1)
	for _, days := range []int{0, 1, 7, 30, 69, 70, 180, 365, 1000} {
		now := created.Add(time.Duration(days) * 24 * time.Hour)
		score := NewScorerAt(frozen(now)).Score(e)
		if score.FinalScore > prev {
			t.Fatalf("decay reversed at day %d: %f > %f", days, score.FinalScore, prev)
		}
		prev = score.FinalScore
	}
}

func TestQualityTermsClamped(t *testing.T) {
	now := time.Now()
	s := NewScorerAt(frozen(now))

	// Absurd usage and more validations than uses: every term at its cap.
	e := &types.MemoryEntry{
		UsageCount:      10_000_000,
		ValidationCount: 20_000_000,
		Reputation:      100,
		CreatedAt:       now,
		DecayCheckpoint: now,
	}
	score := s.Score(e)
	if score.BaseScore > 60.0 {
		t.Errorf("quality score exceeds 60: %f", score.BaseScore)
	}

	// Zero usage: validation ratio is defined as zero, no division by zero.
	e = &types.MemoryEntry{ValidationCount: 5, CreatedAt: now, DecayCheckpoint: now}
	score = s.Score(e)
	if math.IsNaN(score.BaseScore) || math.IsInf(score.BaseScore, 0) {
		t.Errorf("quality score not finite for zero usage: %f", score.BaseScore)
	}
}

func TestLambdaSelection(t *testing.T) {
	cases := []struct {
		name  string
		entry types.MemoryEntry
		want  float64
	}{
		{"episodic", types.MemoryEntry{MemoryType: types.MemoryEpisodic}, 0.05},
		{"semantic", types.MemoryEntry{MemoryType: types.MemorySemantic}, 0.01},
		{"strategic", types.MemoryEntry{MemoryType: types.MemoryStrategic}, 0.001},
		{"procedural", types.MemoryEntry{MemoryType: types.MemoryProcedural}, 0.02},
		{"content_type_fallback", types.MemoryEntry{ContentType: types.ContentCode}, 0.01},
		{"binary_fallback", types.MemoryEntry{ContentType: types.ContentBinary}, 0.05},
		{"default", types.MemoryEntry{}, 0.01},
		{"explicit_override", types.MemoryEntry{DecayFactor: 0.2, MemoryType: types.MemoryStrategic}, 0.2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := LambdaFor(&tc.entry); got != tc.want {
				t.Errorf("LambdaFor: got %f, want %f", got, tc.want)
			}
		})
	}
}

func TestReputationFeedback(t *testing.T) {
	now := time.Now()

	base := func(rep float64, feedback bool) float64 {
		s := NewScorerAt(frozen(now))
		if feedback {
			s.EnableReputationFeedback()
		}
		e := &types.MemoryEntry{
			UsageCount: 10, ValidationCount: 5, Reputation: rep,
			CreatedAt: now, DecayCheckpoint: now,
		}
		return s.Score(e).BaseScore
	}

	// Reputation 50 is neutral: feedback on or off makes no difference.
	if math.Abs(base(50, true)-base(50, false)) > 1e-9 {
		t.Error("reputation 50 must be neutral under feedback")
	}
	// Below 30 penalized, above 70 boosted.
	if base(20, true) >= base(20, false) {
		t.Error("low-reputation producer must be penalized")
	}
	if base(80, true) <= base(80, false) {
		t.Error("high-reputation producer must be boosted")
	}
}

func TestCombinedScoreSplit(t *testing.T) {
	// Perfect similarity with zero quality caps at 40 of 100.
	if got := CombinedScore(1.0, 0); got != 40.0 {
		t.Errorf("similarity-only combined score: got %f, want 40", got)
	}
	// Quality passes through unweighted.
	if got := CombinedScore(0, 36.5); got != 36.5 {
		t.Errorf("quality-only combined score: got %f, want 36.5", got)
	}
	// Similarity outside [0,1] is clamped, never amplified.
	if got := CombinedScore(3.0, 10); got != 50.0 {
		t.Errorf("clamped similarity: got %f, want 50", got)
	}
}

func TestTierFor(t *testing.T) {
	cases := []struct {
		score float64
		want  types.QualityTier
	}{
		{95, types.TierPlatinum},
		{80, types.TierPlatinum},
		{79.9, types.TierGold},
		{60, types.TierGold},
		{59.9, types.TierSilver},
		{40, types.TierSilver},
		{39.9, types.TierBronze},
		{0, types.TierBronze},
	}
	for _, tc := range cases {
		if got := TierFor(tc.score); got != tc.want {
			t.Errorf("TierFor(%.1f): got %s, want %s", tc.score, got, tc.want)
		}
	}
}
