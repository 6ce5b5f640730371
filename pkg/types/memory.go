// Package types defines the core data model for the relational memory store:
// memory entries, cached scores, graph relations, conflicts, governance
// policies and entity tags. Types here are pure data shapes shared by the
// storage backends and the engine; they carry no behavior beyond validation
// and range clamping.
package types

import "time"

// MemoryType classifies how a memory was formed and drives its decay rate.
type MemoryType string

const (
	MemoryEpisodic   MemoryType = "episodic"   // observations of single events, fastest decay
	MemorySemantic   MemoryType = "semantic"   // distilled facts
	MemoryStrategic  MemoryType = "strategic"  // long-horizon knowledge, slowest decay
	MemoryProcedural MemoryType = "procedural" // how-to knowledge
)

// PoolType is the visibility layer of an entry.
type PoolType string

const (
	PoolPrivate PoolType = "private" // visible to the owning agent only
	PoolDomain  PoolType = "domain"  // visible within a department
	PoolGlobal  PoolType = "global"  // visible org-wide
)

// ContentType tags the payload format of an entry. Text-like content types
// require an embedding at write time; binary entries may be stored without one.
type ContentType string

const (
	ContentText   ContentType = "text"
	ContentCode   ContentType = "code"
	ContentJSON   ContentType = "json"
	ContentBinary ContentType = "binary"
)

// RequiresEmbedding reports whether a write of this content type must fail
// when no embedding can be generated.
func (c ContentType) RequiresEmbedding() bool {
	switch c {
	case ContentText, ContentCode, ContentJSON:
		return true
	default:
		return false
	}
}

// LifecycleState marks where an entry sits in its version chain lifecycle.
type LifecycleState string

const (
	StateActive   LifecycleState = "active"
	StateExpired  LifecycleState = "expired"
	StateArchived LifecycleState = "archived"
)

// MemoryEntry is the atomic unit of knowledge. Entries are append-only:
// content changes create a new row linked via ParentID, soft deletes set
// ExpiresAt, and only chain archival removes rows.
type MemoryEntry struct {
	// Identity
	ID         string `json:"id"`        // opaque, time-sortable (UUIDv7)
	OrgID      string `json:"org_id"`    // owning organization
	Namespace  string `json:"namespace"` // org/scope(/scope)* hierarchy
	AgentID    string `json:"agent_id"`  // producing agent
	Department string `json:"department,omitempty"`

	// Content
	ContentType ContentType            `json:"content_type"`
	Content     string                 `json:"content"`
	Embedding   []float32              `json:"embedding,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Quality signals
	Confidence      float64 `json:"confidence"` // [0,1]
	Reputation      float64 `json:"reputation"` // [0,100]
	UsageCount      int     `json:"usage_count"`
	ValidationCount int     `json:"validation_count"`

	// Versioning. RootID is stable across the whole chain; exactly one row
	// per chain has IsLatest set.
	Version  int    `json:"version"`
	ParentID string `json:"parent_id,omitempty"`
	RootID   string `json:"root_id"`
	IsLatest bool   `json:"is_latest"`

	// Scoping
	MemoryType MemoryType `json:"memory_type,omitempty"`
	PoolType   PoolType   `json:"pool_type"`

	// Structural conflict detection. Two latest entries in one namespace
	// with the same ClaimKey but different ClaimValue are in conflict.
	ClaimKey   string `json:"claim_key,omitempty"`
	ClaimValue string `json:"claim_value,omitempty"`

	// Lifecycle
	State           LifecycleState `json:"state"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	AccessedAt      *time.Time     `json:"accessed_at,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	DecayFactor     float64        `json:"decay_factor"`     // λ, per-day decay rate
	DecayCheckpoint time.Time      `json:"decay_checkpoint"` // reference time for decay
}

// Clamp forces the range-bound quality signals into their documented ranges.
// Called on every write path before the entry reaches storage.
func (m *MemoryEntry) Clamp() {
	m.Confidence = ClampUnit(m.Confidence)
	if m.Reputation < 0 {
		m.Reputation = 0
	}
	if m.Reputation > 100 {
		m.Reputation = 100
	}
	if m.UsageCount < 0 {
		m.UsageCount = 0
	}
	if m.ValidationCount < 0 {
		m.ValidationCount = 0
	}
}

// HasClaim reports whether the entry makes a structured assertion.
func (m *MemoryEntry) HasClaim() bool {
	return m.ClaimKey != "" && m.ClaimValue != ""
}

// ClampUnit clamps v to [0,1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
