// Package relations builds the knowledge graph: for each new entry it finds
// candidate neighbors via vector similarity, entity co-occurrence and
// temporal proximity, infers a typed relation per pair (model first, rules
// as fallback) and persists edges above the confidence threshold.
//
// Relation building runs asynchronously after the write commits. It must
// never fail a write: every error here is logged and swallowed.
package relations

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/provider"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

const (
	// vectorCandidates is the top-K of the similarity candidate search.
	vectorCandidates = 10

	// strategyCap bounds each non-vector candidate strategy.
	strategyCap = 20

	// temporalWindow is the proximity window of the temporal strategy.
	temporalWindow = 24 * time.Hour

	// persistThreshold is the minimum inference confidence for an edge to
	// be stored. A weak edge the model is sure about survives; a strong
	// edge it is guessing at does not.
	persistThreshold = 0.6

	// similarToThreshold is the rule-fallback gate for SIMILAR_TO edges.
	similarToThreshold = 0.8

	// partOfOverlap is the rule-fallback token containment gate for PART_OF.
	partOfOverlap = 0.5
)

// Builder infers and persists relations for new entries.
type Builder struct {
	store    storage.Store
	vectors  storage.VectorStore
	reasoner provider.Reasoner // nil selects rule inference only
}

// New creates a relation builder. A nil reasoner disables model inference.
func New(store storage.Store, vectors storage.VectorStore, reasoner provider.Reasoner) *Builder {
	return &Builder{store: store, vectors: vectors, reasoner: reasoner}
}

// BuildFor infers relations between entry and its candidate neighbors.
// Failures of individual candidates are logged and skipped; the method only
// returns an error when the entry itself cannot be processed.
func (b *Builder) BuildFor(ctx context.Context, entry *types.MemoryEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry required", storage.ErrInvalidInput)
	}
	candidates := b.gatherCandidates(ctx, entry)
	if len(candidates) == 0 {
		return nil
	}

	built := 0
	for id, sim := range candidates {
		other, err := b.store.GetEntry(ctx, id)
		if err != nil {
			log.Printf("relations: skipping candidate %s: %v", id, err)
			continue
		}
		rel := b.infer(ctx, entry, other, sim)
		if rel == nil || rel.Confidence < persistThreshold {
			continue
		}
		if err := b.store.UpsertRelation(ctx, rel); err != nil {
			log.Printf("relations: failed to persist %s edge %s -> %s: %v",
				rel.Type, rel.SourceID, rel.TargetID, err)
			continue
		}
		built++
	}
	if built > 0 {
		log.Printf("relations: built %d edges for entry %s", built, entry.ID)
	}
	return nil
}

// gatherCandidates merges the three strategies into a candidate set keyed by
// entry ID. The value is the vector similarity when known, else -1.
func (b *Builder) gatherCandidates(ctx context.Context, entry *types.MemoryEntry) map[string]float64 {
	candidates := make(map[string]float64)

	if b.vectors != nil && len(entry.Embedding) > 0 {
		matches, err := b.vectors.Search(ctx, entry.Embedding, vectorCandidates+1,
			map[string]string{"org_id": entry.OrgID})
		if err != nil {
			log.Printf("relations: vector candidate search failed: %v", err)
		}
		for _, m := range matches {
			if m.ID != entry.ID {
				candidates[m.ID] = m.Similarity
			}
		}
	}

	shared, err := b.store.EntriesSharingEntities(ctx, entry.ID, strategyCap)
	if err != nil {
		log.Printf("relations: co-occurrence candidate search failed: %v", err)
	}
	for _, id := range shared {
		if _, seen := candidates[id]; !seen {
			candidates[id] = -1
		}
	}

	temporal, err := b.store.EntriesCreatedWithin(ctx, entry.OrgID, entry.CreatedAt,
		temporalWindow, entry.ID, strategyCap)
	if err != nil {
		log.Printf("relations: temporal candidate search failed: %v", err)
	}
	for _, id := range temporal {
		if _, seen := candidates[id]; !seen {
			candidates[id] = -1
		}
	}
	return candidates
}

// infer produces the relation between two entries, or nil when unrelated.
// The sim argument carries the vector similarity when already known; -1
// triggers recomputation from the stored embeddings.
func (b *Builder) infer(ctx context.Context, entry, other *types.MemoryEntry, sim float64) *types.MemoryRelation {
	if b.reasoner != nil {
		rel, err := b.inferWithModel(ctx, entry, other)
		if err == nil {
			return rel
		}
		log.Printf("relations: model inference failed for %s/%s, using rules: %v",
			entry.ID, other.ID, err)
	}
	if sim < 0 {
		sim = embeddingSimilarity(entry.Embedding, other.Embedding)
	}
	return b.inferWithRules(entry, other, sim)
}

type modelRelation struct {
	Relation   string  `json:"relation"`
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (b *Builder) inferWithModel(ctx context.Context, entry, other *types.MemoryEntry) (*types.MemoryRelation, error) {
	raw, err := b.reasoner.Complete(ctx, relationPrompt(entry.Content, other.Content))
	if err != nil {
		return nil, err
	}
	var resp modelRelation
	if err := json.Unmarshal([]byte(provider.ExtractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse relation JSON: %w", err)
	}

	rtype := types.RelationType(strings.ToUpper(strings.TrimSpace(resp.Relation)))
	if rtype == types.RelNone {
		return nil, nil
	}
	if !types.ValidRelationType(rtype) {
		return nil, fmt.Errorf("unknown relation type %q", resp.Relation)
	}
	if resp.Strength < 0 || resp.Strength > 1 {
		return nil, fmt.Errorf("strength %f out of range", resp.Strength)
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, fmt.Errorf("confidence %f out of range", resp.Confidence)
	}
	return &types.MemoryRelation{
		ID:         uuid.NewString(),
		SourceID:   entry.ID,
		TargetID:   other.ID,
		Type:       rtype,
		Strength:   resp.Strength,
		Confidence: resp.Confidence,
		Reason:     strings.TrimSpace(resp.Reason),
		InferredBy: types.InferredByModel,
		CreatedAt:  time.Now(),
	}, nil
}

// inferWithRules applies the deterministic fallback in precedence order:
// temporal proximity first, then high vector similarity, then token overlap.
// Rule edges carry their strength as confidence: the evidence behind the
// edge is all the certainty a rule has.
func (b *Builder) inferWithRules(entry, other *types.MemoryEntry, sim float64) *types.MemoryRelation {
	rel := &types.MemoryRelation{
		ID:         uuid.NewString(),
		SourceID:   entry.ID,
		TargetID:   other.ID,
		InferredBy: types.InferredByRule,
		CreatedAt:  time.Now(),
	}

	gap := entry.CreatedAt.Sub(other.CreatedAt)
	if abs := gap.Abs(); abs > 0 && abs <= temporalWindow {
		if gap > 0 {
			rel.Type = types.RelTemporalAfter
		} else {
			rel.Type = types.RelTemporalBefore
		}
		// Closer in time means a stronger temporal edge.
		rel.Strength = 1 - abs.Hours()/temporalWindow.Hours()*0.4
		rel.Confidence = rel.Strength
		rel.Reason = "created within the temporal proximity window"
		return rel
	}

	if sim > similarToThreshold {
		rel.Type = types.RelSimilarTo
		rel.Strength = sim
		rel.Confidence = sim
		rel.Reason = fmt.Sprintf("vector similarity %.2f", sim)
		return rel
	}

	if overlap := tokenContainment(entry.Content, other.Content); overlap > partOfOverlap {
		rel.Type = types.RelPartOf
		rel.Strength = overlap
		rel.Confidence = overlap
		rel.Reason = fmt.Sprintf("token containment %.2f", overlap)
		return rel
	}
	return nil
}

// tokenContainment is |A∩B| / min(|A|,|B|) over lowercased word sets.
func tokenContainment(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	small, large := setA, setB
	if len(setB) < len(setA) {
		small, large = setB, setA
	}
	common := 0
	for w := range small {
		if large[w] {
			common++
		}
	}
	return float64(common) / float64(len(small))
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(w, ".,;:!?()\"'")] = true
	}
	delete(set, "")
	return set
}

func embeddingSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	return sim
}
