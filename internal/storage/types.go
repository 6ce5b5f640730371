package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrQuotaExceeded indicates that the organization memory quota would be
	// breached by the write. Returned before any row is inserted.
	ErrQuotaExceeded = errors.New("organization quota exceeded")

	// ErrNotLatest indicates that a version operation targeted a row that is
	// no longer the latest of its chain.
	ErrNotLatest = errors.New("entry is not the latest version")

	// ErrAccessDenied indicates that a governance access policy rejected
	// the operation.
	ErrAccessDenied = errors.New("access denied by policy")
)

// Quota is an organization's memory quota counter. Current is maintained
// transactionally with entry inserts.
type Quota struct {
	OrgID   string `json:"org_id"`
	Max     int    `json:"max"` // 0 means unlimited
	Current int    `json:"current"`
}

// Exceeded reports whether one more entry would breach the quota.
func (q Quota) Exceeded() bool {
	return q.Max > 0 && q.Current >= q.Max
}

// ListOptions filters and pages namespace-scoped entry listings.
type ListOptions struct {
	// Limit is the maximum number of rows (default 50, max 500).
	Limit int

	// Offset skips rows for paging.
	Offset int

	// LatestOnly restricts to rows with is_latest = true. Default true;
	// version history listings set it to false explicitly.
	LatestOnly *bool

	// Pool filters by pool layer. Empty means all pools.
	Pool string

	// AgentID filters by owning agent. Empty means no filter.
	AgentID string

	// Department filters by department. Empty means no filter.
	Department string

	// MemoryType filters by memory type. Empty means no filter.
	MemoryType string

	// IncludeExpired includes soft-deleted (expired) rows.
	IncludeExpired bool
}

// Normalize applies defaults and caps.
func (o *ListOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.LatestOnly == nil {
		latest := true
		o.LatestOnly = &latest
	}
}

// StrategicFilter selects the candidate set for the periodic semantic
// contradiction scan: high-confidence, frequently used, recent entries.
type StrategicFilter struct {
	MinConfidence float64       // default 0.8
	MinUsage      int           // default 5
	MaxAge        time.Duration // default 90 days
	Limit         int           // default 100
}

// Normalize applies the documented defaults.
func (f *StrategicFilter) Normalize() {
	if f.MinConfidence <= 0 {
		f.MinConfidence = 0.8
	}
	if f.MinUsage <= 0 {
		f.MinUsage = 5
	}
	if f.MaxAge <= 0 {
		f.MaxAge = 90 * 24 * time.Hour
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
}

// VectorItem is one vector insert payload.
type VectorItem struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// VectorMatch is one similarity search hit. Similarity is in [0,1],
// higher is more similar.
type VectorMatch struct {
	ID         string
	Similarity float64
}
