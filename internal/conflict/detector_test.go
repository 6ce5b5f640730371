package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/storage/memstore"
	"github.com/awarenet/memcore/pkg/types"
)

func claimEntry(t *testing.T, store *memstore.Store, org, key, value string) *types.MemoryEntry {
	t.Helper()
	id := uuid.NewString()
	now := time.Now()
	e := &types.MemoryEntry{
		ID: id, OrgID: org, Namespace: org + "/facts",
		Content:  key + " = " + value,
		ClaimKey: key, ClaimValue: value,
		Confidence: 0.9, Reputation: 50,
		RootID: id, Version: 1, IsLatest: true,
		State: types.StateActive, PoolType: types.PoolPrivate,
		CreatedAt: now, UpdatedAt: now, DecayCheckpoint: now,
	}
	if err := store.InsertEntry(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestScanClaimsRecordsMismatch(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	old := claimEntry(t, store, "acme", "db.timeout", "30s")
	newer := claimEntry(t, store, "acme", "db.timeout", "60s")

	created, err := NewDetector(store).ScanClaims(ctx, newer)
	if err != nil {
		t.Fatalf("ScanClaims failed: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("conflicts created: got %d, want 1", len(created))
	}
	c := created[0]
	if c.Type != types.ConflictClaimMismatch {
		t.Errorf("type: got %s", c.Type)
	}
	if c.Status != types.ConflictPending {
		t.Errorf("status: got %s, want pending", c.Status)
	}
	if c.MemoryA != newer.ID || c.MemoryB != old.ID {
		t.Errorf("pair: got %s/%s", c.MemoryA, c.MemoryB)
	}
}

func TestScanClaimsSkipsAgreementAndOwnChain(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	d := NewDetector(store)

	first := claimEntry(t, store, "acme", "region", "eu-west-1")

	// Same value: no disagreement.
	agreeing := claimEntry(t, store, "acme", "region", "eu-west-1")
	created, err := d.ScanClaims(ctx, agreeing)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Errorf("agreeing claim produced conflicts: %+v", created)
	}

	// A new version of the same chain changing its own claim is a
	// correction, not a conflict.
	v2 := &types.MemoryEntry{
		ID: uuid.NewString(), OrgID: "acme", Namespace: "acme/facts",
		Content:  "region = us-east-1",
		ClaimKey: "region", ClaimValue: "us-east-1",
		RootID: first.RootID, Version: 2, ParentID: first.ID, IsLatest: true,
		State: types.StateActive, PoolType: types.PoolPrivate,
		CreatedAt: time.Now(), UpdatedAt: time.Now(), DecayCheckpoint: time.Now(),
	}
	if err := store.CreateVersion(ctx, v2); err != nil {
		t.Fatal(err)
	}
	created, err = d.ScanClaims(ctx, v2)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range created {
		if c.MemoryB == first.ID {
			t.Errorf("version chain conflicted with itself: %+v", c)
		}
	}
}

func TestScanClaimsDoesNotDuplicatePairs(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	d := NewDetector(store)

	claimEntry(t, store, "acme", "owner", "platform-team")
	e := claimEntry(t, store, "acme", "owner", "infra-team")

	first, err := d.ScanClaims(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("first scan: got %d conflicts, want 1", len(first))
	}

	second, err := d.ScanClaims(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Errorf("rescan duplicated the pair: %+v", second)
	}
}

func TestScanClaimsIgnoresEntriesWithoutClaims(t *testing.T) {
	store := memstore.New()
	e := &types.MemoryEntry{ID: uuid.NewString(), Content: "free-form note"}

	created, err := NewDetector(store).ScanClaims(context.Background(), e)
	if err != nil {
		t.Fatal(err)
	}
	if created != nil {
		t.Errorf("claimless entry produced conflicts: %+v", created)
	}
}
