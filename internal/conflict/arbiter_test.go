package conflict

import (
	"context"
	"testing"

	"github.com/awarenet/memcore/internal/provider"
	"github.com/awarenet/memcore/pkg/types"
)

func (f *resolverFixture) queued(t *testing.T, a, b *types.MemoryEntry) *types.MemoryConflict {
	t.Helper()
	c := f.conflict(t, a, b)
	got, err := f.res.Resolve(context.Background(), c.ID, types.ResolveQueueArbitration, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.ConflictQueued {
		t.Fatalf("setup: conflict not queued, got %s", got.Status)
	}
	return got
}

func TestArbitratePicksModelWinner(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	a := f.entry(t, nil)
	b := f.entry(t, nil)
	c := f.queued(t, a, b)

	reasoner := provider.NewMockReasoner(
		`{"winner": "B", "reason": "second statement matches the deploy log"}`)
	arb := NewArbiter(f.store, f.res, reasoner)

	got, err := arb.Arbitrate(ctx, c.ID)
	if err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}
	if got.Status != types.ConflictResolved {
		t.Errorf("status: got %s", got.Status)
	}
	if got.WinnerID != b.ID {
		t.Errorf("winner: got %s, want B %s", got.WinnerID, b.ID)
	}
	if got.ResolvedBy != string(types.ResolveQueueArbitration) {
		t.Errorf("resolved_by: got %s", got.ResolvedBy)
	}
	if got.Explanation == "" {
		t.Error("explanation missing")
	}
	f.mustState(t, b.ID, types.StateActive)
	f.mustState(t, a.ID, types.StateExpired)
}

func TestArbitrateWithoutReasonerLeavesQueued(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	a := f.entry(t, nil)
	b := f.entry(t, nil)
	c := f.queued(t, a, b)

	arb := NewArbiter(f.store, f.res, nil)
	got, err := arb.Arbitrate(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.ConflictQueued {
		t.Errorf("without a reasoner the conflict must stay queued, got %s", got.Status)
	}
	f.mustState(t, a.ID, types.StateActive)
	f.mustState(t, b.ID, types.StateActive)
}

func TestArbitrateSkipsNonQueuedConflicts(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	a := f.entry(t, nil)
	b := f.entry(t, nil)
	c := f.conflict(t, a, b)

	if _, err := f.res.Resolve(ctx, c.ID, types.ResolveLatestWins, 0); err != nil {
		t.Fatal(err)
	}

	reasoner := provider.NewMockReasoner(`{"winner": "A", "reason": "late verdict"}`)
	arb := NewArbiter(f.store, f.res, reasoner)

	got, err := arb.Arbitrate(ctx, c.ID)
	if err != nil {
		t.Fatalf("replayed arbitration must be a no-op, got %v", err)
	}
	if got.Status != types.ConflictResolved {
		t.Errorf("status: got %s", got.Status)
	}
	if len(reasoner.Prompts) != 0 {
		t.Errorf("resolved conflict still consulted the model %d times", len(reasoner.Prompts))
	}
}

func TestArbitrateRejectsMalformedVerdict(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	a := f.entry(t, nil)
	b := f.entry(t, nil)
	c := f.queued(t, a, b)

	reasoner := provider.NewMockReasoner(`{"winner": "both", "reason": "cannot decide"}`)
	arb := NewArbiter(f.store, f.res, reasoner)

	if _, err := arb.Arbitrate(ctx, c.ID); err == nil {
		t.Fatal("verdict naming neither side must fail")
	}
	stored, err := f.store.GetConflict(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != types.ConflictQueued {
		t.Errorf("failed arbitration must leave the conflict queued, got %s", stored.Status)
	}
}

func TestArbitratePurgedEntryFallsBackToSurvivor(t *testing.T) {
	f := newResolverFixture()
	ctx := context.Background()

	a := f.entry(t, nil)
	b := f.entry(t, nil)
	c := f.queued(t, a, b)

	if _, err := f.store.PurgeChain(ctx, b.RootID); err != nil {
		t.Fatal(err)
	}

	reasoner := provider.NewMockReasoner(`{"winner": "B", "reason": "unused"}`)
	arb := NewArbiter(f.store, f.res, reasoner)

	got, err := arb.Arbitrate(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.ConflictResolved || got.WinnerID != a.ID {
		t.Errorf("surviving entry must win by default: %+v", got)
	}
}
