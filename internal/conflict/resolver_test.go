package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/scoring"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/internal/storage/memstore"
	"github.com/awarenet/memcore/pkg/types"
)

type resolverFixture struct {
	store *memstore.Store
	res   *Resolver
}

func newResolverFixture() *resolverFixture {
	store := memstore.New()
	return &resolverFixture{
		store: store,
		res:   NewResolver(store, scoring.NewScorer()),
	}
}

func (f *resolverFixture) entry(t *testing.T, mutate func(*types.MemoryEntry)) *types.MemoryEntry {
	t.Helper()
	id := uuid.NewString()
	now := time.Now()
	e := &types.MemoryEntry{
		ID: id, OrgID: "acme", Namespace: "acme/facts",
		Content:    "fact " + id[:8],
		Confidence: 0.8, Reputation: 50,
		RootID: id, Version: 1, IsLatest: true,
		State: types.StateActive, PoolType: types.PoolPrivate,
		CreatedAt: now, UpdatedAt: now, DecayCheckpoint: now,
	}
	if mutate != nil {
		mutate(e)
	}
	if err := f.store.InsertEntry(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

func (f *resolverFixture) conflict(t *testing.T, a, b *types.MemoryEntry) *types.MemoryConflict {
	t.Helper()
	c := &types.MemoryConflict{
		ID: uuid.NewString(), OrgID: "acme", Namespace: "acme/facts",
		MemoryA: a.ID, MemoryB: b.ID,
		Type: types.ConflictClaimMismatch, Status: types.ConflictPending,
		CreatedAt: time.Now(),
	}
	if err := f.store.InsertConflict(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *resolverFixture) mustState(t *testing.T, id string, want types.LifecycleState) {
	t.Helper()
	e, err := f.store.GetEntry(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if e.State != want {
		t.Errorf("entry %s state: got %s, want %s", id, e.State, want)
	}
}

func TestResolveLatestWins(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	older := f.entry(t, func(e *types.MemoryEntry) {
		e.CreatedAt = time.Now().Add(-48 * time.Hour)
	})
	newer := f.entry(t, nil)
	c := f.conflict(t, older, newer)

	got, err := f.res.Resolve(ctx, c.ID, types.ResolveLatestWins, 0)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Status != types.ConflictResolved {
		t.Errorf("status: got %s", got.Status)
	}
	if got.WinnerID != newer.ID {
		t.Errorf("winner: got %s, want newer %s", got.WinnerID, newer.ID)
	}
	if got.ResolvedBy != string(types.ResolveLatestWins) {
		t.Errorf("resolved_by: got %s", got.ResolvedBy)
	}
	if got.ResolvedAt == nil {
		t.Error("resolved_at not set")
	}
	f.mustState(t, newer.ID, types.StateActive)
	f.mustState(t, older.ID, types.StateExpired)
}

func TestResolveConfidenceWins(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	sure := f.entry(t, func(e *types.MemoryEntry) { e.Confidence = 0.95 })
	shaky := f.entry(t, func(e *types.MemoryEntry) { e.Confidence = 0.6 })
	c := f.conflict(t, shaky, sure)

	got, err := f.res.Resolve(ctx, c.ID, types.ResolveConfidenceWins, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.WinnerID != sure.ID {
		t.Errorf("winner: got %s, want higher-confidence %s", got.WinnerID, sure.ID)
	}
	f.mustState(t, shaky.ID, types.StateExpired)
}

func TestResolveConfidenceTooCloseQueues(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	a := f.entry(t, func(e *types.MemoryEntry) { e.Confidence = 0.85 })
	b := f.entry(t, func(e *types.MemoryEntry) { e.Confidence = 0.82 })
	c := f.conflict(t, a, b)

	got, err := f.res.Resolve(ctx, c.ID, types.ResolveConfidenceWins, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.ConflictQueued {
		t.Errorf("near-tie must queue, got %s", got.Status)
	}
	if got.WinnerID != "" {
		t.Errorf("queued conflict has a winner: %s", got.WinnerID)
	}
	f.mustState(t, a.ID, types.StateActive)
	f.mustState(t, b.ID, types.StateActive)

	// A queued conflict is not terminal and can still be resolved.
	got, err = f.res.Resolve(ctx, c.ID, types.ResolveLatestWins, 0)
	if err != nil {
		t.Fatalf("resolving a queued conflict failed: %v", err)
	}
	if got.Status != types.ConflictResolved {
		t.Errorf("status after arbitration: got %s", got.Status)
	}
}

func TestResolveScoreWins(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	proven := f.entry(t, func(e *types.MemoryEntry) {
		e.UsageCount = 400
		e.ValidationCount = 400
		e.Reputation = 90
	})
	untested := f.entry(t, nil)
	c := f.conflict(t, untested, proven)

	got, err := f.res.Resolve(ctx, c.ID, types.ResolveScoreWins, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.WinnerID != proven.ID {
		t.Errorf("winner: got %s, want higher-scored %s", got.WinnerID, proven.ID)
	}
}

func TestResolveManualReviewWaits(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	a := f.entry(t, nil)
	b := f.entry(t, nil)
	c := f.conflict(t, a, b)

	got, err := f.res.Resolve(ctx, c.ID, types.ResolveManualReview, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.ConflictPending {
		t.Errorf("manual-review must leave the conflict pending, got %s", got.Status)
	}

	got, err = f.res.ResolveManual(ctx, c.ID, b.ID, "alice@acme", "verified against prod config")
	if err != nil {
		t.Fatalf("ResolveManual failed: %v", err)
	}
	if got.WinnerID != b.ID || got.ResolvedBy != "alice@acme" {
		t.Errorf("manual decision not recorded: %+v", got)
	}
	f.mustState(t, a.ID, types.StateExpired)
}

func TestResolveManualRejectsOutsideWinner(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	a := f.entry(t, nil)
	b := f.entry(t, nil)
	c := f.conflict(t, a, b)

	_, err := f.res.ResolveManual(ctx, c.ID, uuid.NewString(), "alice@acme", "")
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("unrelated winner accepted: %v", err)
	}
}

func TestTerminalConflictsAreImmutable(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	a := f.entry(t, nil)
	b := f.entry(t, nil)
	c := f.conflict(t, a, b)

	if _, err := f.res.Ignore(ctx, c.ID, "stale data on both sides"); err != nil {
		t.Fatal(err)
	}
	stored, err := f.store.GetConflict(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != types.ConflictIgnored {
		t.Fatalf("status: got %s", stored.Status)
	}

	if _, err := f.res.Resolve(ctx, c.ID, types.ResolveLatestWins, 0); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("resolving an ignored conflict must fail: %v", err)
	}
	if _, err := f.res.Ignore(ctx, c.ID, "again"); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("re-ignoring a terminal conflict must fail: %v", err)
	}
}

func TestResolveUnknownStrategyRejected(t *testing.T) {
	f := newResolverFixture()
	a := f.entry(t, nil)
	b := f.entry(t, nil)
	c := f.conflict(t, a, b)

	_, err := f.res.Resolve(context.Background(), c.ID, "coin-flip", 0)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("unknown strategy accepted: %v", err)
	}
}

func TestResolvePurgedCounterpart(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	a := f.entry(t, nil)
	b := f.entry(t, nil)
	c := f.conflict(t, a, b)

	if _, err := f.store.PurgeChain(ctx, b.RootID); err != nil {
		t.Fatal(err)
	}

	got, err := f.res.Resolve(ctx, c.ID, types.ResolveScoreWins, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.ConflictResolved || got.WinnerID != a.ID {
		t.Errorf("surviving entry must win by default: %+v", got)
	}
}
