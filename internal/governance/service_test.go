package governance

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

func putPolicy(t *testing.T, store *memstore.Store, org, ns string, ptype types.PolicyType, rules types.PolicyRules) {
	t.Helper()
	err := store.UpsertPolicy(context.Background(), &types.MemoryPolicy{
		ID: uuid.NewString(), OrgID: org, Namespace: ns,
		Type: ptype, Rules: rules,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func putEntry(t *testing.T, store *memstore.Store, org, ns string, age time.Duration) *types.MemoryEntry {
	t.Helper()
	id := uuid.NewString()
	created := time.Now().Add(-age)
	e := &types.MemoryEntry{
		ID: id, OrgID: org, Namespace: ns,
		Content: "fact " + id[:8], Reputation: 50,
		RootID: id, Version: 1, IsLatest: true,
		State: types.StateActive, PoolType: types.PoolPrivate,
		CreatedAt: created, UpdatedAt: created, DecayCheckpoint: created,
	}
	if err := store.InsertEntry(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestCheckAccessOpenByDefault(t *testing.T) {
	svc := New(memstore.New())
	if err := svc.CheckAccess(context.Background(), "acme", "acme/kb", "agent-1", types.OpWrite); err != nil {
		t.Errorf("unpoliced namespace denied access: %v", err)
	}
}

func TestCheckAccessDenyAll(t *testing.T) {
	store := memstore.New()
	putPolicy(t, store, "acme", "acme/secrets", types.PolicyAccess, types.PolicyRules{DenyAll: true})

	err := New(store).CheckAccess(context.Background(), "acme", "acme/secrets", "agent-1", types.OpRead)
	if !errors.Is(err, storage.ErrAccessDenied) {
		t.Errorf("deny-all namespace allowed access: %v", err)
	}
}

func TestCheckAccessReadOnly(t *testing.T) {
	store := memstore.New()
	putPolicy(t, store, "acme", "acme/reference", types.PolicyAccess, types.PolicyRules{ReadOnly: true})
	svc := New(store)
	ctx := context.Background()

	if err := svc.CheckAccess(ctx, "acme", "acme/reference", "agent-1", types.OpRead); err != nil {
		t.Errorf("read denied on read-only namespace: %v", err)
	}
	if err := svc.CheckAccess(ctx, "acme", "acme/reference", "agent-1", types.OpWrite); !errors.Is(err, storage.ErrAccessDenied) {
		t.Errorf("write allowed on read-only namespace: %v", err)
	}
}

func TestCheckAccessAgentAllowlist(t *testing.T) {
	store := memstore.New()
	putPolicy(t, store, "acme", "acme/hr", types.PolicyAccess, types.PolicyRules{
		AllowedAgents: []string{"hr-bot"},
	})
	svc := New(store)
	ctx := context.Background()

	if err := svc.CheckAccess(ctx, "acme", "acme/hr", "hr-bot", types.OpWrite); err != nil {
		t.Errorf("listed agent denied: %v", err)
	}
	if err := svc.CheckAccess(ctx, "acme", "acme/hr", "sales-bot", types.OpRead); !errors.Is(err, storage.ErrAccessDenied) {
		t.Errorf("unlisted agent allowed: %v", err)
	}
}

func TestCheckAccessOrgWideFallback(t *testing.T) {
	store := memstore.New()
	putPolicy(t, store, "acme", "", types.PolicyAccess, types.PolicyRules{ReadOnly: true})

	err := New(store).CheckAccess(context.Background(), "acme", "acme/anything", "agent-1", types.OpWrite)
	if !errors.Is(err, storage.ErrAccessDenied) {
		t.Errorf("org-wide policy not applied to namespace: %v", err)
	}
}

func TestCacheServesStaleUntilInvalidated(t *testing.T) {
	store := memstore.New()
	svc := New(store)
	ctx := context.Background()

	// Prime the negative cache, then add a deny-all policy underneath it.
	if err := svc.CheckAccess(ctx, "acme", "acme/kb", "agent-1", types.OpWrite); err != nil {
		t.Fatal(err)
	}
	putPolicy(t, store, "acme", "acme/kb", types.PolicyAccess, types.PolicyRules{DenyAll: true})

	if err := svc.CheckAccess(ctx, "acme", "acme/kb", "agent-1", types.OpWrite); err != nil {
		t.Errorf("cached verdict should still allow: %v", err)
	}

	svc.Invalidate("acme", "acme/kb")
	if err := svc.CheckAccess(ctx, "acme", "acme/kb", "agent-1", types.OpWrite); !errors.Is(err, storage.ErrAccessDenied) {
		t.Errorf("invalidated cache did not pick up new policy: %v", err)
	}
}

func TestStrategyForDefaultsToScoreWins(t *testing.T) {
	svc := New(memstore.New())
	strategy, delta := svc.StrategyFor(context.Background(), &types.MemoryConflict{
		OrgID: "acme", Namespace: "acme/kb",
	})
	if strategy != types.ResolveScoreWins {
		t.Errorf("default strategy: got %s", strategy)
	}
	if delta != 0 {
		t.Errorf("default delta: got %f", delta)
	}
}

func TestStrategyForUsesPolicy(t *testing.T) {
	store := memstore.New()
	putPolicy(t, store, "acme", "acme/kb", types.PolicyConflictResolution, types.PolicyRules{
		Strategy:           types.ResolveConfidenceWins,
		MinConfidenceDelta: 0.2,
	})

	strategy, delta := New(store).StrategyFor(context.Background(), &types.MemoryConflict{
		OrgID: "acme", Namespace: "acme/kb",
	})
	if strategy != types.ResolveConfidenceWins || delta != 0.2 {
		t.Errorf("policy strategy not applied: %s/%f", strategy, delta)
	}
}

func TestEnforceRetentionByAge(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	old := putEntry(t, store, "acme", "acme/logs", 48*time.Hour)
	young := putEntry(t, store, "acme", "acme/logs", time.Hour)
	putPolicy(t, store, "acme", "acme/logs", types.PolicyRetention, types.PolicyRules{
		MaxAgeSeconds: int64((24 * time.Hour).Seconds()),
	})

	report, err := New(store).EnforceRetention(ctx, "acme")
	if err != nil {
		t.Fatalf("EnforceRetention failed: %v", err)
	}
	if report.Expired != 1 {
		t.Errorf("expired: got %d, want 1", report.Expired)
	}

	gone, err := store.GetEntry(ctx, old.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gone.State != types.StateExpired {
		t.Errorf("old entry state: got %s", gone.State)
	}
	kept, err := store.GetEntry(ctx, young.ID)
	if err != nil {
		t.Fatal(err)
	}
	if kept.State != types.StateActive {
		t.Errorf("young entry expired: %s", kept.State)
	}
}

func TestEnforceRetentionByCount(t *testing.T) {
	store := memstore.New()

	for i := 0; i < 5; i++ {
		putEntry(t, store, "acme", "acme/scratch", time.Duration(i)*time.Minute)
	}
	putPolicy(t, store, "acme", "acme/scratch", types.PolicyRetention, types.PolicyRules{
		MaxCount: 3,
	})

	report, err := New(store).EnforceRetention(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	if report.Trimmed != 2 {
		t.Errorf("trimmed: got %d, want 2", report.Trimmed)
	}
}

func TestEnforceRetentionDryRun(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	old := putEntry(t, store, "acme", "acme/logs", 48*time.Hour)
	noExpire := false
	putPolicy(t, store, "acme", "acme/logs", types.PolicyRetention, types.PolicyRules{
		MaxAgeSeconds:  int64((24 * time.Hour).Seconds()),
		ExpireOnBreach: &noExpire,
	})

	report, err := New(store).EnforceRetention(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if report.Expired != 0 {
		t.Errorf("dry run expired %d entries", report.Expired)
	}
	e, err := store.GetEntry(ctx, old.ID)
	if err != nil {
		t.Fatal(err)
	}
	if e.State != types.StateActive {
		t.Errorf("dry run changed entry state to %s", e.State)
	}
}
