package types

import "time"

// MemoryScore is the cached score row, one-to-one with a MemoryEntry.
// Recomputed lazily after each access; never blocks the request that
// triggered the recompute.
type MemoryScore struct {
	MemoryID        string    `json:"memory_id"`
	BaseScore       float64   `json:"base_score"`       // quality component, 0–60
	DecayMultiplier float64   `json:"decay_multiplier"` // exp(-λ·days), (0,1]
	FinalScore      float64   `json:"final_score"`      // BaseScore · DecayMultiplier
	LastCalculated  time.Time `json:"last_calculated"`
}

// QualityTier is a display-only bucket derived from a final ranking score on
// the 0–100 scale. Tiers never feed back into scoring.
type QualityTier string

const (
	TierPlatinum QualityTier = "platinum" // ≥80
	TierGold     QualityTier = "gold"     // ≥60
	TierSilver   QualityTier = "silver"   // ≥40
	TierBronze   QualityTier = "bronze"
)
