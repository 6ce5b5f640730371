// Package storage provides composable storage interfaces for the relational
// memory core. The interfaces are small and concern-scoped so backends can
// implement them independently; Store composes the full surface the engine
// needs. Two backends exist: postgres (pgvector-accelerated, production) and
// memstore (in-memory with an HNSW index, tests and embedded use).
package storage

import (
	"context"
	"time"

	"github.com/awarenet/memcore/pkg/types"
)

// EntryStore manages memory entry rows and their version chains.
type EntryStore interface {
	// InsertEntry inserts a brand-new entry (version 1, new chain). When the
	// organization has a registered quota, the quota counter is incremented
	// in the same transaction; ErrQuotaExceeded is returned with no row
	// written when the cap is reached.
	InsertEntry(ctx context.Context, e *types.MemoryEntry) error

	// GetEntry retrieves an entry by ID. Returns ErrNotFound if missing.
	GetEntry(ctx context.Context, id string) (*types.MemoryEntry, error)

	// ListNamespace lists entries in (org, namespace) per opts, newest first.
	ListNamespace(ctx context.Context, orgID, namespace string, opts ListOptions) ([]*types.MemoryEntry, error)

	// CountNamespace counts latest, non-expired entries in (org, namespace).
	CountNamespace(ctx context.Context, orgID, namespace string) (int, error)

	// LatestByClaimKey returns latest, non-expired entries in (org,
	// namespace) carrying the given claim key.
	LatestByClaimKey(ctx context.Context, orgID, namespace, claimKey string) ([]*types.MemoryEntry, error)

	// CreateVersion atomically demotes the current latest row of
	// child.RootID and inserts child as the new latest. The chain's quota
	// count grows by one row. Returns ErrNotLatest when child.ParentID is
	// not the chain's current latest.
	CreateVersion(ctx context.Context, child *types.MemoryEntry) error

	// Chain returns every row of a version chain ordered by version
	// ascending. Returns ErrNotFound for an unknown root.
	Chain(ctx context.Context, rootID string) ([]*types.MemoryEntry, error)

	// SetLatest atomically flips is_latest to the target row and clears it
	// on every other row of the chain. Rollback support: never deletes or
	// mutates historical content.
	SetLatest(ctx context.Context, rootID, targetID string) error

	// SoftDeleteEntry expires an entry: is_latest=false, expires_at=now,
	// state=expired. The row itself is preserved.
	SoftDeleteEntry(ctx context.Context, id string) error

	// ArchiveChain demotes all but the keep most recent rows of a chain to
	// the archived state. Returns the number of rows archived.
	ArchiveChain(ctx context.Context, rootID string, keep int) (int, error)

	// PurgeChain physically deletes an entire version chain and its
	// relations, scores and entity links. The one destructive operation.
	// Returns the number of entry rows removed.
	PurgeChain(ctx context.Context, rootID string) (int, error)

	// TouchAccess bumps usage_count and accessed_at for an entry.
	TouchAccess(ctx context.Context, id string) error

	// AddValidation bumps validation_count for an entry.
	AddValidation(ctx context.Context, id string) error

	// SetPool moves an entry to another pool layer (promotion).
	SetPool(ctx context.Context, id string, pool types.PoolType) error

	// PromotionCandidates lists latest domain-pool entries of an org with at
	// least minValidations validations.
	PromotionCandidates(ctx context.Context, orgID string, minValidations int) ([]*types.MemoryEntry, error)

	// StrategicCandidates lists the semantic-scan candidate set per filter.
	StrategicCandidates(ctx context.Context, orgID string, f StrategicFilter) ([]*types.MemoryEntry, error)

	// ExpireOlderThan expires (or, when apply is false, only reports) latest
	// entries in (org, namespace) created before cutoff. Returns affected IDs.
	ExpireOlderThan(ctx context.Context, orgID, namespace string, cutoff time.Time, apply bool) ([]string, error)

	// TrimToCount expires (or reports) the oldest latest entries beyond
	// maxCount in (org, namespace). Returns affected IDs.
	TrimToCount(ctx context.Context, orgID, namespace string, maxCount int, apply bool) ([]string, error)

	// ActiveEntries pages through the latest active entries of an org,
	// newest first. Background sweeps use this to visit every live row.
	ActiveEntries(ctx context.Context, orgID string, limit, offset int) ([]*types.MemoryEntry, error)

	// PoolCounts counts the latest active entries of an org per pool layer.
	PoolCounts(ctx context.Context, orgID string) (map[types.PoolType]int, error)
}

// ScoreStore caches computed scores one-to-one with entries.
type ScoreStore interface {
	// UpsertScore writes the cached score row for a memory.
	UpsertScore(ctx context.Context, s *types.MemoryScore) error

	// GetScore reads the cached score. Returns ErrNotFound if never scored.
	GetScore(ctx context.Context, memoryID string) (*types.MemoryScore, error)
}

// RelationStore manages the typed edge table of the knowledge graph.
type RelationStore interface {
	// UpsertRelation inserts an edge or, when the (source, target, type)
	// triple exists, refreshes its strength, reason and inferred_by.
	UpsertRelation(ctx context.Context, r *types.MemoryRelation) error

	// RelationsFrom lists outgoing edges of source, optionally filtered to
	// the given types (nil means all).
	RelationsFrom(ctx context.Context, sourceID string, rtypes []types.RelationType) ([]*types.MemoryRelation, error)

	// RelationsTo lists incoming edges of target, optionally type-filtered.
	RelationsTo(ctx context.Context, targetID string, rtypes []types.RelationType) ([]*types.MemoryRelation, error)

	// RelationsOf lists edges touching id in either direction.
	RelationsOf(ctx context.Context, id string, rtypes []types.RelationType) ([]*types.MemoryRelation, error)

	// DeleteRelationsFor removes every edge touching the given memory.
	DeleteRelationsFor(ctx context.Context, memoryID string) error
}

// EntityStore manages extracted entity tags and their entry links.
type EntityStore interface {
	// ReplaceEntities replaces the entity tag set linked to an entry.
	ReplaceEntities(ctx context.Context, memoryID string, tags []types.EntityTag) error

	// EntitiesFor returns the entity tags linked to an entry.
	EntitiesFor(ctx context.Context, memoryID string) ([]types.EntityTag, error)

	// EntriesSharingEntities returns IDs of latest entries sharing at least
	// one entity with the given entry, excluding the entry itself.
	EntriesSharingEntities(ctx context.Context, memoryID string, limit int) ([]string, error)

	// EntriesCreatedWithin returns IDs of latest org entries created inside
	// the window around center, excluding excludeID.
	EntriesCreatedWithin(ctx context.Context, orgID string, center time.Time, window time.Duration, excludeID string, limit int) ([]string, error)
}

// ConflictStore manages detected conflicts and their lifecycle.
type ConflictStore interface {
	InsertConflict(ctx context.Context, c *types.MemoryConflict) error
	GetConflict(ctx context.Context, id string) (*types.MemoryConflict, error)

	// UpdateConflict persists status, winner, resolver and explanation.
	UpdateConflict(ctx context.Context, c *types.MemoryConflict) error

	// ListConflicts lists org conflicts, optionally filtered by status
	// (empty means all), newest first.
	ListConflicts(ctx context.Context, orgID string, status types.ConflictStatus, limit int) ([]*types.MemoryConflict, error)

	// FindConflictByPair returns the conflict covering the unordered pair
	// (a, b), if any. Returns ErrNotFound otherwise.
	FindConflictByPair(ctx context.Context, a, b string) (*types.MemoryConflict, error)

	// ConflictStats aggregates org conflict counts by status and type.
	ConflictStats(ctx context.Context, orgID string) (*types.ConflictStats, error)
}

// PolicyStore manages governance policies.
type PolicyStore interface {
	// UpsertPolicy writes the policy for its (org, namespace, type) scope.
	UpsertPolicy(ctx context.Context, p *types.MemoryPolicy) error

	// GetPolicy reads the policy for an exact (org, namespace, type) scope.
	// Returns ErrNotFound when no policy exists.
	GetPolicy(ctx context.Context, orgID, namespace string, ptype types.PolicyType) (*types.MemoryPolicy, error)

	// DeletePolicy removes a policy scope.
	DeletePolicy(ctx context.Context, orgID, namespace string, ptype types.PolicyType) error

	// ListPolicies lists all policies of an org.
	ListPolicies(ctx context.Context, orgID string) ([]*types.MemoryPolicy, error)
}

// QuotaStore exposes organization quota counters. The current counter is
// only ever mutated inside entry-insert transactions.
type QuotaStore interface {
	// GetQuota returns the quota for an org. Unregistered orgs get
	// Max=0 (unlimited), Current=live row count.
	GetQuota(ctx context.Context, orgID string) (Quota, error)

	// EnsureOrg registers an org with the given cap (0 = unlimited) or
	// updates the cap of an existing org.
	EnsureOrg(ctx context.Context, orgID string, max int) error

	// Orgs lists every organization known to the backend, registered or
	// merely present in the entry table. Background jobs iterate this.
	Orgs(ctx context.Context) ([]string, error)
}

// VectorStore is the pluggable similarity index. Implementations must be
// swappable: the engine assumes nothing beyond cosine search over
// fixed-dimension vectors. Search results are restricted to is_latest
// entries and any metadata filters, sorted by similarity descending.
type VectorStore interface {
	Insert(ctx context.Context, item VectorItem) error
	BatchInsert(ctx context.Context, items []VectorItem) error
	Search(ctx context.Context, query []float32, limit int, filters map[string]string) ([]VectorMatch, error)
	Delete(ctx context.Context, id string) error
	UpdateMetadata(ctx context.Context, id string, meta map[string]string) error
	HealthCheck(ctx context.Context) error
}

// Store composes the full storage surface the engine consumes.
type Store interface {
	EntryStore
	ScoreStore
	RelationStore
	EntityStore
	ConflictStore
	PolicyStore
	QuotaStore

	// Close releases backend resources.
	Close() error
}
