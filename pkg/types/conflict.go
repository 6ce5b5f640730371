package types

import "time"

// ConflictType distinguishes the two detection mechanisms.
type ConflictType string

const (
	// ConflictClaimMismatch: same claim_key, different claim_value, same
	// namespace. Created transactionally with the write that exposed it.
	ConflictClaimMismatch ConflictType = "claim_mismatch"

	// ConflictSemanticContradiction: a model-based reasoner judged two
	// strategic-pool entries to contradict each other.
	ConflictSemanticContradiction ConflictType = "semantic_contradiction"
)

// ConflictStatus is the conflict state machine. pending may move to resolved
// or ignored (both terminal), or loop through queued while awaiting an
// arbitration worker.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictQueued   ConflictStatus = "queued"
	ConflictResolved ConflictStatus = "resolved"
	ConflictIgnored  ConflictStatus = "ignored"
)

// ResolutionStrategy selects how a conflict is decided.
type ResolutionStrategy string

const (
	ResolveLatestWins       ResolutionStrategy = "latest-wins"
	ResolveConfidenceWins   ResolutionStrategy = "confidence-wins"
	ResolveScoreWins        ResolutionStrategy = "score-wins" // default when no policy exists
	ResolveQueueArbitration ResolutionStrategy = "queue-arbitration"
	ResolveManualReview     ResolutionStrategy = "manual-review"
)

// ValidResolutionStrategy reports whether s names a known strategy.
func ValidResolutionStrategy(s ResolutionStrategy) bool {
	switch s {
	case ResolveLatestWins, ResolveConfidenceWins, ResolveScoreWins,
		ResolveQueueArbitration, ResolveManualReview:
		return true
	}
	return false
}

// MemoryConflict links two entries whose claims or semantics disagree.
type MemoryConflict struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	Namespace string         `json:"namespace"`
	MemoryA   string         `json:"memory_a"`
	MemoryB   string         `json:"memory_b"`
	Type      ConflictType   `json:"conflict_type"`
	Status    ConflictStatus `json:"status"`

	// Set on resolution.
	WinnerID    string     `json:"winner_id,omitempty"`
	ResolvedBy  string     `json:"resolved_by,omitempty"` // strategy tag or reviewer identity
	Explanation string     `json:"explanation,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Terminal reports whether the conflict can no longer change state.
func (c *MemoryConflict) Terminal() bool {
	return c.Status == ConflictResolved || c.Status == ConflictIgnored
}

// ConflictStats aggregates conflicts per organization for reporting.
type ConflictStats struct {
	Total    int                    `json:"total"`
	ByStatus map[ConflictStatus]int `json:"by_status"`
	ByType   map[ConflictType]int   `json:"by_type"`
}
