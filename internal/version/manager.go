// Package version manages append-only version chains: creating successor
// versions, walking history, rolling back the latest pointer and archiving
// old rows. Content never mutates in place.
package version

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

// treeNodeCap bounds how much history a single Tree call returns.
const treeNodeCap = 200

// Manager wraps the chain operations of the entry store.
type Manager struct {
	store storage.EntryStore
}

// NewManager creates a version manager.
func NewManager(store storage.EntryStore) *Manager {
	return &Manager{store: store}
}

// Update carries the fields a new version may change. Nil pointers inherit
// the parent's value.
type Update struct {
	Content    string
	Embedding  []float32
	Confidence *float64
	Metadata   map[string]interface{}
	ClaimKey   *string
	ClaimValue *string
}

// CreateVersion appends a new version after parentID. The parent must be the
// chain's latest row or the call fails with ErrNotLatest. Usage counters
// reset on the child; reputation carries over so an agent's track record
// survives edits.
func (m *Manager) CreateVersion(ctx context.Context, parentID string, up Update) (*types.MemoryEntry, error) {
	if up.Content == "" {
		return nil, fmt.Errorf("%w: new version needs content", storage.ErrInvalidInput)
	}
	parent, err := m.store.GetEntry(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsLatest {
		return nil, fmt.Errorf("%w: %s is not the latest version of its chain", storage.ErrNotLatest, parentID)
	}

	now := time.Now()
	child := &types.MemoryEntry{
		ID:         uuid.NewString(),
		OrgID:      parent.OrgID,
		Namespace:  parent.Namespace,
		AgentID:    parent.AgentID,
		Department: parent.Department,

		ContentType: parent.ContentType,
		Content:     up.Content,
		Embedding:   up.Embedding,
		Metadata:    parent.Metadata,

		Confidence: parent.Confidence,
		Reputation: parent.Reputation,

		Version:  parent.Version + 1,
		ParentID: parent.ID,
		RootID:   parent.RootID,
		IsLatest: true,

		MemoryType: parent.MemoryType,
		PoolType:   parent.PoolType,

		ClaimKey:   parent.ClaimKey,
		ClaimValue: parent.ClaimValue,

		State:           types.StateActive,
		CreatedAt:       now,
		UpdatedAt:       now,
		DecayFactor:     parent.DecayFactor,
		DecayCheckpoint: now,
	}
	if up.Confidence != nil {
		child.Confidence = *up.Confidence
	}
	if up.Metadata != nil {
		child.Metadata = up.Metadata
	}
	if up.ClaimKey != nil {
		child.ClaimKey = *up.ClaimKey
	}
	if up.ClaimValue != nil {
		child.ClaimValue = *up.ClaimValue
	}
	child.Clamp()

	if err := m.store.CreateVersion(ctx, child); err != nil {
		return nil, err
	}
	return child, nil
}

// Tree returns a chain's history ordered oldest first, capped so pathological
// chains cannot flood a response.
func (m *Manager) Tree(ctx context.Context, rootID string) ([]*types.MemoryEntry, error) {
	chain, err := m.store.Chain(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if len(chain) > treeNodeCap {
		chain = chain[len(chain)-treeNodeCap:]
	}
	return chain, nil
}

// Rollback makes targetID the chain's latest version again. Only the latest
// pointer moves; no rows are created or removed, so a rollback is itself
// reversible.
func (m *Manager) Rollback(ctx context.Context, rootID, targetID string) (*types.MemoryEntry, error) {
	target, err := m.store.GetEntry(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.RootID != rootID {
		return nil, fmt.Errorf("%w: %s does not belong to chain %s", storage.ErrInvalidInput, targetID, rootID)
	}
	if err := m.store.SetLatest(ctx, rootID, targetID); err != nil {
		return nil, err
	}
	return m.store.GetEntry(ctx, targetID)
}

// FieldChange is one differing scalar between two versions.
type FieldChange struct {
	Field string      `json:"field"`
	A     interface{} `json:"a"`
	B     interface{} `json:"b"`
}

// Diff summarizes what changed between two versions of the same chain.
type Diff struct {
	ChainID  string        `json:"chain_id"`
	VersionA int           `json:"version_a"`
	VersionB int           `json:"version_b"`
	Changes  []FieldChange `json:"changes"`
}

// Diff compares two versions. Both must belong to the same chain.
func (m *Manager) Diff(ctx context.Context, aID, bID string) (*Diff, error) {
	a, err := m.store.GetEntry(ctx, aID)
	if err != nil {
		return nil, err
	}
	b, err := m.store.GetEntry(ctx, bID)
	if err != nil {
		return nil, err
	}
	if a.RootID != b.RootID {
		return nil, fmt.Errorf("%w: %s and %s are not versions of one chain", storage.ErrInvalidInput, aID, bID)
	}

	d := &Diff{ChainID: a.RootID, VersionA: a.Version, VersionB: b.Version}
	if a.Content != b.Content {
		d.Changes = append(d.Changes, FieldChange{Field: "content", A: a.Content, B: b.Content})
	}
	if a.Confidence != b.Confidence {
		d.Changes = append(d.Changes, FieldChange{Field: "confidence", A: a.Confidence, B: b.Confidence})
	}
	if a.ClaimValue != b.ClaimValue {
		d.Changes = append(d.Changes, FieldChange{Field: "claim_value", A: a.ClaimValue, B: b.ClaimValue})
	}
	d.Changes = append(d.Changes, diffMetadata(a.Metadata, b.Metadata)...)
	return d, nil
}

func diffMetadata(a, b map[string]interface{}) []FieldChange {
	var changes []FieldChange
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			changes = append(changes, FieldChange{Field: "metadata." + k, A: av, B: nil})
			continue
		}
		if fmt.Sprint(av) != fmt.Sprint(bv) {
			changes = append(changes, FieldChange{Field: "metadata." + k, A: av, B: bv})
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			changes = append(changes, FieldChange{Field: "metadata." + k, A: nil, B: bv})
		}
	}
	return changes
}

// ArchiveOldVersions archives everything but the newest keep rows of a
// chain. Returns how many rows were archived.
func (m *Manager) ArchiveOldVersions(ctx context.Context, rootID string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	return m.store.ArchiveChain(ctx, rootID, keep)
}
