package relations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/provider"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/internal/storage/memstore"
	"github.com/awarenet/memcore/pkg/types"
)

func newEntry(org, content string, createdAt time.Time, embedding []float32) *types.MemoryEntry {
	id := uuid.NewString()
	return &types.MemoryEntry{
		ID:        id,
		OrgID:     org,
		Namespace: org + "/test",
		Content:   content,
		Embedding: embedding,
		RootID:    id,
		Version:   1,
		IsLatest:  true,
		State:     types.StateActive,
		PoolType:  types.PoolPrivate,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func seed(t *testing.T, store *memstore.Store, vectors storage.VectorStore, e *types.MemoryEntry) {
	t.Helper()
	ctx := context.Background()
	if err := store.InsertEntry(ctx, e); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	if vectors != nil && len(e.Embedding) > 0 {
		err := vectors.Insert(ctx, storage.VectorItem{
			ID:       e.ID,
			Vector:   e.Embedding,
			Metadata: map[string]string{"org_id": e.OrgID},
		})
		if err != nil {
			t.Fatalf("seed vector: %v", err)
		}
	}
}

func TestBuildForModelInference(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	vectors, _ := memstore.NewVectorIndex(3)
	now := time.Now()

	// Far apart in time so the temporal strategy stays out of the way.
	a := newEntry("acme", "deploys fail on fridays", now.Add(-72*time.Hour), []float32{1, 0, 0})
	b := newEntry("acme", "friday deploys cause outages", now, []float32{0.9, 0.1, 0})
	seed(t, store, vectors, a)
	seed(t, store, vectors, b)

	reasoner := provider.NewMockReasoner(
		`{"relation": "SUPPORTS", "strength": 0.85, "confidence": 0.9, "reason": "both describe friday deploy risk"}`)
	builder := New(store, vectors, reasoner)

	if err := builder.BuildFor(ctx, b); err != nil {
		t.Fatalf("BuildFor failed: %v", err)
	}

	rels, err := store.RelationsFrom(ctx, b.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 {
		t.Fatalf("relations: got %d, want 1", len(rels))
	}
	if rels[0].Type != types.RelSupports || rels[0].TargetID != a.ID {
		t.Errorf("unexpected edge: %+v", rels[0])
	}
	if rels[0].InferredBy != types.InferredByModel {
		t.Errorf("inferred_by: got %s, want model", rels[0].InferredBy)
	}
}

func TestBuildForDropsWeakRelations(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	vectors, _ := memstore.NewVectorIndex(3)
	now := time.Now()

	a := newEntry("acme", "first fact", now.Add(-100*time.Hour), []float32{1, 0, 0})
	b := newEntry("acme", "second fact", now, []float32{0.9, 0.1, 0})
	seed(t, store, vectors, a)
	seed(t, store, vectors, b)

	reasoner := provider.NewMockReasoner(
		`{"relation": "SIMILAR_TO", "strength": 0.9, "confidence": 0.3, "reason": "probably related"}`)
	builder := New(store, vectors, reasoner)

	if err := builder.BuildFor(ctx, b); err != nil {
		t.Fatalf("BuildFor failed: %v", err)
	}
	rels, _ := store.RelationsFrom(ctx, b.ID, nil)
	if len(rels) != 0 {
		t.Errorf("low-confidence relation must not persist: %+v", rels)
	}
}

func TestBuildForKeepsWeakButCertainRelation(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	vectors, _ := memstore.NewVectorIndex(3)
	now := time.Now()

	a := newEntry("acme", "the cache warms slowly", now.Add(-90*time.Hour), []float32{1, 0, 0})
	b := newEntry("acme", "cold starts are slow", now, []float32{0.9, 0.1, 0})
	seed(t, store, vectors, a)
	seed(t, store, vectors, b)

	// A weak tie the model is certain about still clears the gate.
	reasoner := provider.NewMockReasoner(
		`{"relation": "IMPACTS", "strength": 0.4, "confidence": 0.9, "reason": "small but definite effect"}`)
	builder := New(store, vectors, reasoner)

	if err := builder.BuildFor(ctx, b); err != nil {
		t.Fatalf("BuildFor failed: %v", err)
	}
	rels, _ := store.RelationsFrom(ctx, b.ID, []types.RelationType{types.RelImpacts})
	if len(rels) != 1 {
		t.Fatalf("certain weak relation dropped, got %d edges", len(rels))
	}
	if rels[0].Strength != 0.4 || rels[0].Confidence != 0.9 {
		t.Errorf("edge fields: %+v", rels[0])
	}
}

func TestBuildForRuleFallbackTemporal(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	vectors, _ := memstore.NewVectorIndex(3)
	now := time.Now()

	older := newEntry("acme", "release cut", now.Add(-2*time.Hour), []float32{0, 1, 0})
	newer := newEntry("acme", "pipeline green", now, []float32{0, 0, 1})
	seed(t, store, vectors, older)
	seed(t, store, vectors, newer)

	reasoner := provider.NewMockReasoner()
	reasoner.Err = errors.New("provider down")
	builder := New(store, vectors, reasoner)

	if err := builder.BuildFor(ctx, newer); err != nil {
		t.Fatalf("BuildFor failed: %v", err)
	}

	rels, _ := store.RelationsFrom(ctx, newer.ID, []types.RelationType{types.RelTemporalAfter})
	if len(rels) != 1 {
		t.Fatalf("temporal fallback edge missing, got %+v", rels)
	}
	if rels[0].InferredBy != types.InferredByRule {
		t.Errorf("inferred_by: got %s, want rule", rels[0].InferredBy)
	}
	if rels[0].TargetID != older.ID {
		t.Errorf("edge target: got %s, want %s", rels[0].TargetID, older.ID)
	}
}

func TestBuildForRuleFallbackSimilarity(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	vectors, _ := memstore.NewVectorIndex(3)
	now := time.Now()

	// Outside the temporal window, nearly identical vectors.
	a := newEntry("acme", "cache invalidation is hard", now.Add(-200*time.Hour), []float32{1, 0, 0})
	b := newEntry("acme", "naming things is hard too", now, []float32{0.99, 0.01, 0})
	seed(t, store, vectors, a)
	seed(t, store, vectors, b)

	builder := New(store, vectors, nil)

	if err := builder.BuildFor(ctx, b); err != nil {
		t.Fatalf("BuildFor failed: %v", err)
	}
	rels, _ := store.RelationsFrom(ctx, b.ID, []types.RelationType{types.RelSimilarTo})
	if len(rels) != 1 {
		t.Fatalf("similarity fallback edge missing")
	}
	if rels[0].Strength <= similarToThreshold {
		t.Errorf("similarity strength too low: %f", rels[0].Strength)
	}
}

func TestBuildForUpsertsOnReinference(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	vectors, _ := memstore.NewVectorIndex(3)
	now := time.Now()

	a := newEntry("acme", "fact a", now.Add(-80*time.Hour), []float32{1, 0, 0})
	b := newEntry("acme", "fact b", now, []float32{0.9, 0.1, 0})
	seed(t, store, vectors, a)
	seed(t, store, vectors, b)

	reasoner := provider.NewMockReasoner(
		`{"relation": "IMPACTS", "strength": 0.7, "confidence": 0.8, "reason": "first pass"}`,
		`{"relation": "IMPACTS", "strength": 0.9, "confidence": 0.8, "reason": "second pass"}`)
	builder := New(store, vectors, reasoner)

	if err := builder.BuildFor(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := builder.BuildFor(ctx, b); err != nil {
		t.Fatal(err)
	}

	rels, _ := store.RelationsFrom(ctx, b.ID, []types.RelationType{types.RelImpacts})
	if len(rels) != 1 {
		t.Fatalf("re-inference must upsert, got %d edges", len(rels))
	}
	if rels[0].Strength != 0.9 {
		t.Errorf("strength not refreshed: %f", rels[0].Strength)
	}
}
