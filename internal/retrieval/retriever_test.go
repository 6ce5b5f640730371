package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/scoring"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/internal/storage/memstore"
	"github.com/awarenet/memcore/pkg/types"
)

type fixture struct {
	store   *memstore.Store
	vectors *memstore.VectorIndex
	ret     *Retriever
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	vectors, err := memstore.NewVectorIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		store:   store,
		vectors: vectors,
		ret:     New(store, vectors, scoring.NewScorer()),
	}
}

func (f *fixture) addEntry(t *testing.T, org, content string, vec []float32, usage int) *types.MemoryEntry {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	now := time.Now()
	e := &types.MemoryEntry{
		ID: id, OrgID: org, Namespace: org + "/kb",
		Content: content, Embedding: vec,
		UsageCount: usage, Reputation: 50,
		RootID: id, Version: 1, IsLatest: true,
		State: types.StateActive, PoolType: types.PoolPrivate,
		CreatedAt: now, UpdatedAt: now, DecayCheckpoint: now,
	}
	if err := f.store.InsertEntry(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := f.vectors.Insert(ctx, storage.VectorItem{
		ID: id, Vector: vec,
		Metadata: map[string]string{"org_id": org},
	}); err != nil {
		t.Fatal(err)
	}
	return e
}

func (f *fixture) relate(t *testing.T, source, target string, rtype types.RelationType, strength float64) {
	t.Helper()
	err := f.store.UpsertRelation(context.Background(), &types.MemoryRelation{
		SourceID: source, TargetID: target, Type: rtype,
		Strength: strength, Confidence: strength, InferredBy: types.InferredByRule,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestQueryRanksByCombinedScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Same similarity direction, very different quality signals.
	weak := f.addEntry(t, "acme", "rarely used fact", []float32{1, 0, 0}, 0)
	strong := f.addEntry(t, "acme", "battle-tested fact", []float32{1, 0, 0}, 500)

	res, err := f.ret.Query(ctx, []float32{1, 0, 0}, Options{Limit: 5})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(res.Entries))
	}
	if res.Entries[0].Entry.ID != strong.ID {
		t.Errorf("high-usage entry must outrank: got %s first", res.Entries[0].Entry.ID)
	}
	if res.Entries[1].Entry.ID != weak.ID {
		t.Errorf("expected weak entry second")
	}
	for _, se := range res.Entries {
		if se.Combined < se.FinalScore {
			t.Errorf("combined score below final score: %+v", se)
		}
	}
}

func TestQueryFiltersByOrg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addEntry(t, "acme", "acme fact", []float32{1, 0, 0}, 1)
	f.addEntry(t, "rival", "rival fact", []float32{1, 0, 0}, 1)

	res, err := f.ret.Query(ctx, []float32{1, 0, 0}, Options{
		Filters: map[string]string{"org_id": "acme"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, se := range res.Entries {
		if se.Entry.OrgID != "acme" {
			t.Errorf("org filter leaked entry %s of %s", se.Entry.ID, se.Entry.OrgID)
		}
	}
	if len(res.Entries) != 1 {
		t.Errorf("entries: got %d, want 1", len(res.Entries))
	}
}

func TestQueryExcludesExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.addEntry(t, "acme", "soon gone", []float32{1, 0, 0}, 1)
	if err := f.store.SoftDeleteEntry(ctx, e.ID); err != nil {
		t.Fatal(err)
	}

	res, err := f.ret.Query(ctx, []float32{1, 0, 0}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 0 {
		t.Errorf("expired entry surfaced: %+v", res.Entries)
	}
}

func TestExpandDepthAndCycleSafety(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := f.addEntry(t, "acme", "seed", []float32{1, 0, 0}, 10)
	hop1 := f.addEntry(t, "acme", "one hop", []float32{0, 1, 0}, 10)
	hop2 := f.addEntry(t, "acme", "two hops", []float32{0, 0, 1}, 10)
	hop3 := f.addEntry(t, "acme", "three hops", []float32{0.5, 0.5, 0}, 10)

	f.relate(t, seed.ID, hop1.ID, types.RelImpacts, 0.9)
	f.relate(t, hop1.ID, hop2.ID, types.RelImpacts, 0.8)
	f.relate(t, hop2.ID, hop3.ID, types.RelImpacts, 0.7)
	// Cycle back down the chain.
	f.relate(t, hop2.ID, hop1.ID, types.RelSupports, 0.6)

	res, err := f.ret.Query(ctx, []float32{1, 0, 0}, Options{Limit: 1, ExpandGraph: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Graph == nil {
		t.Fatal("graph context missing")
	}
	got := make(map[string]int)
	for _, rel := range res.Graph.Related {
		got[rel.Entry.ID] = rel.Depth
	}
	if got[hop1.ID] != 1 || got[hop2.ID] != 2 {
		t.Errorf("expansion depths wrong: %v", got)
	}
	if _, beyond := got[hop3.ID]; beyond {
		t.Errorf("expansion exceeded max depth: %v", got)
	}
	if _, self := got[seed.ID]; self {
		t.Errorf("cycle re-added the seed: %v", got)
	}
}

func TestExpandHonorsCallerDepth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := f.addEntry(t, "acme", "seed", []float32{1, 0, 0}, 10)
	hop1 := f.addEntry(t, "acme", "one hop", []float32{0, 1, 0}, 10)
	hop2 := f.addEntry(t, "acme", "two hops", []float32{0, 0, 1}, 10)
	hop3 := f.addEntry(t, "acme", "three hops", []float32{0.5, 0.5, 0}, 10)

	f.relate(t, seed.ID, hop1.ID, types.RelImpacts, 0.9)
	f.relate(t, hop1.ID, hop2.ID, types.RelImpacts, 0.8)
	f.relate(t, hop2.ID, hop3.ID, types.RelImpacts, 0.7)

	shallow, err := f.ret.Query(ctx, []float32{1, 0, 0}, Options{
		Limit: 1, ExpandGraph: true, MaxDepth: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(shallow.Graph.Related) != 1 || shallow.Graph.Related[0].Entry.ID != hop1.ID {
		t.Errorf("depth 1 expansion wrong: %+v", shallow.Graph.Related)
	}

	deep, err := f.ret.Query(ctx, []float32{1, 0, 0}, Options{
		Limit: 1, ExpandGraph: true, MaxDepth: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]int)
	for _, rel := range deep.Graph.Related {
		got[rel.Entry.ID] = rel.Depth
	}
	if got[hop3.ID] != 3 {
		t.Errorf("depth 3 expansion missed the third hop: %v", got)
	}
}

func TestExpandFollowsOnlyRequestedTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := f.addEntry(t, "acme", "seed", []float32{1, 0, 0}, 10)
	cause := f.addEntry(t, "acme", "caused", []float32{0, 1, 0}, 10)
	similar := f.addEntry(t, "acme", "lookalike", []float32{0, 0, 1}, 10)

	f.relate(t, seed.ID, cause.ID, types.RelCauses, 0.9)
	f.relate(t, seed.ID, similar.ID, types.RelSimilarTo, 0.9)

	res, err := f.ret.Query(ctx, []float32{1, 0, 0}, Options{
		Limit: 1, ExpandGraph: true,
		RelationTypes: []types.RelationType{types.RelCauses},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Graph.Related) != 1 || res.Graph.Related[0].Entry.ID != cause.ID {
		t.Errorf("type filter ignored: %+v", res.Graph.Related)
	}
}

func TestExpandConfidenceFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := f.addEntry(t, "acme", "seed", []float32{1, 0, 0}, 10)
	firm := f.addEntry(t, "acme", "well supported", []float32{0, 1, 0}, 10)
	shaky := f.addEntry(t, "acme", "barely supported", []float32{0, 0, 1}, 10)

	f.relate(t, seed.ID, firm.ID, types.RelSupports, 0.9)
	f.relate(t, seed.ID, shaky.ID, types.RelSupports, 0.4)

	res, err := f.ret.Query(ctx, []float32{1, 0, 0}, Options{
		Limit: 1, ExpandGraph: true, MinConfidence: 0.7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Graph.Related) != 1 || res.Graph.Related[0].Entry.ID != firm.ID {
		t.Errorf("confidence floor ignored: %+v", res.Graph.Related)
	}
	for _, chain := range res.Graph.SupportChains {
		for _, step := range chain.Steps {
			if step.MemoryID == shaky.ID {
				t.Errorf("low-confidence edge reached a chain: %+v", chain)
			}
		}
	}
}

func TestCausalChainsBoundedWithProductStrength(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.addEntry(t, "acme", "root cause", []float32{1, 0, 0}, 10)
	b := f.addEntry(t, "acme", "effect one", []float32{0, 1, 0}, 10)
	c := f.addEntry(t, "acme", "effect two", []float32{0, 0, 1}, 10)
	d := f.addEntry(t, "acme", "effect three", []float32{0.1, 0.9, 0}, 10)
	e := f.addEntry(t, "acme", "effect four", []float32{0.9, 0.1, 0}, 10)

	f.relate(t, a.ID, b.ID, types.RelCauses, 0.9)
	f.relate(t, b.ID, c.ID, types.RelCauses, 0.8)
	f.relate(t, c.ID, d.ID, types.RelCauses, 0.7)
	f.relate(t, d.ID, e.ID, types.RelCauses, 0.6) // beyond the hop limit

	res, err := f.ret.Query(ctx, []float32{1, 0, 0}, Options{Limit: 1, ExpandGraph: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Graph.CausalChains) == 0 {
		t.Fatal("no causal chains found")
	}
	chain := res.Graph.CausalChains[0]
	// Seed step plus at most three hops.
	if len(chain.Steps) != 4 {
		t.Fatalf("chain length: got %d steps, want 4", len(chain.Steps))
	}
	want := 0.9 * 0.8 * 0.7
	if diff := chain.Strength - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("chain strength: got %f, want %f", chain.Strength, want)
	}
	if !strings.Contains(chain.Description, "-CAUSES->") ||
		!strings.Contains(chain.Description, a.ID) {
		t.Errorf("chain description unreadable: %q", chain.Description)
	}
}

func TestContradictionsSurface(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.addEntry(t, "acme", "timeout is 30s", []float32{1, 0, 0}, 10)
	b := f.addEntry(t, "acme", "timeout is 60s", []float32{0.9, 0.1, 0}, 10)
	f.relate(t, a.ID, b.ID, types.RelContradicts, 0.95)

	res, err := f.ret.Query(ctx, []float32{1, 0, 0}, Options{Limit: 1, ExpandGraph: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Graph.Contradictions) == 0 {
		t.Fatal("contradiction pair not surfaced")
	}
	if res.Graph.Summary == "" {
		t.Error("graph summary missing")
	}
}
