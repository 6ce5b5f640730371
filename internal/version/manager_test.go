package version

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/internal/storage/memstore"
	"github.com/awarenet/memcore/pkg/types"
)

func seedEntry(t *testing.T, store *memstore.Store) *types.MemoryEntry {
	t.Helper()
	id := uuid.NewString()
	now := time.Now()
	e := &types.MemoryEntry{
		ID: id, OrgID: "acme", Namespace: "acme/kb", AgentID: "agent-1",
		ContentType: types.ContentText, Content: "v1 content",
		Confidence: 0.7, Reputation: 60,
		UsageCount: 9, ValidationCount: 4,
		RootID: id, Version: 1, IsLatest: true,
		MemoryType: types.MemorySemantic, PoolType: types.PoolPrivate,
		State:     types.StateActive,
		CreatedAt: now, UpdatedAt: now, DecayCheckpoint: now,
	}
	if err := store.InsertEntry(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

func assertOneLatest(t *testing.T, store *memstore.Store, rootID, wantID string) {
	t.Helper()
	chain, err := store.Chain(context.Background(), rootID)
	if err != nil {
		t.Fatal(err)
	}
	latest := 0
	for _, e := range chain {
		if e.IsLatest {
			latest++
			if e.ID != wantID {
				t.Errorf("latest is %s, want %s", e.ID, wantID)
			}
		}
	}
	if latest != 1 {
		t.Errorf("chain has %d latest rows, want exactly 1", latest)
	}
}

func TestCreateVersionResetsCountersKeepsReputation(t *testing.T) {
	store := memstore.New()
	m := NewManager(store)
	ctx := context.Background()

	parent := seedEntry(t, store)
	child, err := m.CreateVersion(ctx, parent.ID, Update{Content: "v2 content"})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}

	if child.Version != 2 || child.ParentID != parent.ID || child.RootID != parent.RootID {
		t.Errorf("chain linkage wrong: %+v", child)
	}
	if child.UsageCount != 0 || child.ValidationCount != 0 {
		t.Errorf("counters not reset: usage=%d validations=%d", child.UsageCount, child.ValidationCount)
	}
	if child.Reputation != parent.Reputation {
		t.Errorf("reputation not inherited: got %f", child.Reputation)
	}
	if !child.DecayCheckpoint.After(parent.DecayCheckpoint) {
		t.Error("decay checkpoint not reset")
	}
	assertOneLatest(t, store, parent.RootID, child.ID)
}

func TestCreateVersionRejectsStaleParent(t *testing.T) {
	store := memstore.New()
	m := NewManager(store)
	ctx := context.Background()

	parent := seedEntry(t, store)
	if _, err := m.CreateVersion(ctx, parent.ID, Update{Content: "v2"}); err != nil {
		t.Fatal(err)
	}

	// Writing off the demoted v1 must fail; the caller lost a race.
	_, err := m.CreateVersion(ctx, parent.ID, Update{Content: "forked v2"})
	if !errors.Is(err, storage.ErrNotLatest) {
		t.Errorf("stale parent accepted: %v", err)
	}
}

func TestCreateVersionOverrides(t *testing.T) {
	store := memstore.New()
	m := NewManager(store)
	ctx := context.Background()

	parent := seedEntry(t, store)
	conf := 0.95
	claimValue := "60s"
	child, err := m.CreateVersion(ctx, parent.ID, Update{
		Content:    "timeout is now 60s",
		Confidence: &conf,
		ClaimValue: &claimValue,
	})
	if err != nil {
		t.Fatal(err)
	}
	if child.Confidence != 0.95 {
		t.Errorf("confidence override lost: %f", child.Confidence)
	}
	if child.ClaimValue != "60s" {
		t.Errorf("claim override lost: %q", child.ClaimValue)
	}
	if child.MemoryType != parent.MemoryType || child.PoolType != parent.PoolType {
		t.Errorf("scoping not inherited: %+v", child)
	}
}

func TestRollbackFlipsLatestOnly(t *testing.T) {
	store := memstore.New()
	m := NewManager(store)
	ctx := context.Background()

	v1 := seedEntry(t, store)
	v2, err := m.CreateVersion(ctx, v1.ID, Update{Content: "v2"})
	if err != nil {
		t.Fatal(err)
	}
	v3, err := m.CreateVersion(ctx, v2.ID, Update{Content: "v3"})
	if err != nil {
		t.Fatal(err)
	}

	back, err := m.Rollback(ctx, v1.RootID, v1.ID)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if !back.IsLatest {
		t.Error("rollback target not latest")
	}
	assertOneLatest(t, store, v1.RootID, v1.ID)

	chain, err := m.Tree(ctx, v1.RootID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 3 {
		t.Errorf("rollback changed chain length: %d", len(chain))
	}

	// Rolling forward again works the same way.
	if _, err := m.Rollback(ctx, v1.RootID, v3.ID); err != nil {
		t.Fatal(err)
	}
	assertOneLatest(t, store, v1.RootID, v3.ID)
}

func TestRollbackRejectsForeignEntry(t *testing.T) {
	store := memstore.New()
	m := NewManager(store)
	ctx := context.Background()

	chainA := seedEntry(t, store)
	chainB := seedEntry(t, store)

	_, err := m.Rollback(ctx, chainA.RootID, chainB.ID)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("cross-chain rollback accepted: %v", err)
	}
}

func TestDiffReportsChanges(t *testing.T) {
	store := memstore.New()
	m := NewManager(store)
	ctx := context.Background()

	v1 := seedEntry(t, store)
	conf := 0.9
	v2, err := m.CreateVersion(ctx, v1.ID, Update{
		Content:    "revised content",
		Confidence: &conf,
		Metadata:   map[string]interface{}{"source": "incident-42"},
	})
	if err != nil {
		t.Fatal(err)
	}

	d, err := m.Diff(ctx, v1.ID, v2.ID)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	fields := make(map[string]bool)
	for _, ch := range d.Changes {
		fields[ch.Field] = true
	}
	for _, want := range []string{"content", "confidence", "metadata.source"} {
		if !fields[want] {
			t.Errorf("missing change for %s: %v", want, fields)
		}
	}
}

func TestArchiveOldVersions(t *testing.T) {
	store := memstore.New()
	m := NewManager(store)
	ctx := context.Background()

	e := seedEntry(t, store)
	cur := e
	for i := 0; i < 4; i++ {
		next, err := m.CreateVersion(ctx, cur.ID, Update{Content: "rev"})
		if err != nil {
			t.Fatal(err)
		}
		cur = next
	}

	archived, err := m.ArchiveOldVersions(ctx, e.RootID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if archived != 3 {
		t.Errorf("archived: got %d, want 3", archived)
	}
	chain, err := m.Tree(ctx, e.RootID)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range chain {
		wantArchived := v.Version <= 3
		if wantArchived && v.State != types.StateArchived {
			t.Errorf("version %d not archived", v.Version)
		}
		if !wantArchived && v.State == types.StateArchived {
			t.Errorf("version %d wrongly archived", v.Version)
		}
	}
}
