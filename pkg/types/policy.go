package types

import "time"

// PolicyType scopes a governance policy to one concern.
type PolicyType string

const (
	PolicyRetention          PolicyType = "retention"
	PolicyAccess             PolicyType = "access"
	PolicyConflictResolution PolicyType = "conflict_resolution"
)

// PolicyRules is the interpreted payload of a MemoryPolicy. Only the fields
// matching the policy type are consulted; the rest stay zero.
type PolicyRules struct {
	// retention
	MaxAgeSeconds  int64 `json:"max_age_seconds,omitempty"`  // expire entries older than this
	MaxCount       int   `json:"max_count,omitempty"`        // trim oldest beyond the cap
	ExpireOnBreach *bool `json:"expire_on_breach,omitempty"` // nil/true = expire, false = log only

	// access
	AllowedAgents []string `json:"allowed_agents,omitempty"`
	ReadOnly      bool     `json:"read_only,omitempty"`
	DenyAll       bool     `json:"deny_all,omitempty"`

	// conflict_resolution
	Strategy           ResolutionStrategy `json:"strategy,omitempty"`
	MinConfidenceDelta float64            `json:"min_confidence_delta,omitempty"`

	// promotion overrides (carried on retention policies; see pool promoter)
	PromotionMinValidations int     `json:"promotion_min_validations,omitempty"`
	PromotionMinScore       float64 `json:"promotion_min_score,omitempty"`
}

// ShouldExpire reports whether a retention breach expires rows or only logs.
func (r PolicyRules) ShouldExpire() bool {
	return r.ExpireOnBreach == nil || *r.ExpireOnBreach
}

// MemoryPolicy is scoped to (organization, namespace, type). An empty
// namespace applies org-wide.
type MemoryPolicy struct {
	ID        string      `json:"id"`
	OrgID     string      `json:"org_id"`
	Namespace string      `json:"namespace,omitempty"`
	Type      PolicyType  `json:"policy_type"`
	Rules     PolicyRules `json:"rules"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// AccessOp is the operation being checked against an access policy.
type AccessOp string

const (
	OpRead  AccessOp = "read"
	OpWrite AccessOp = "write"
)
