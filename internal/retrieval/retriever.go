// Package retrieval implements hybrid search: vector similarity seeds the
// result set, cached scores rerank it on the fixed 40/60 split, and an
// optional graph pass expands the seeds through typed relations with bounded
// breadth-first traversal plus depth-first inference paths.
package retrieval

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/awarenet/memcore/internal/scoring"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

const (
	// defaultLimit is the result count when the caller does not set one.
	defaultLimit = 10

	// defaultMaxDepth bounds the breadth-first graph expansion when the
	// caller does not pick a depth.
	defaultMaxDepth = 2

	// nodeCap and edgeCap bound the expansion regardless of depth so dense
	// graphs cannot blow up a query.
	nodeCap = 100
	edgeCap = 500

	// maxChainHops bounds causal and support chains.
	maxChainHops = 3

	// overFetch widens the vector search so score reranking has slack.
	overFetch = 3
)

// Options tunes one retrieval call. The graph knobs only matter when
// ExpandGraph is set; zero values select the defaults.
type Options struct {
	Limit       int               // max results, default 10
	Filters     map[string]string // vector search metadata filters
	ExpandGraph bool              // attach graph context to the result

	MaxDepth      int                  // expansion depth, default 2
	RelationTypes []types.RelationType // edge types to follow, nil follows all
	MinConfidence float64              // minimum edge confidence, 0 follows all
}

// ScoredEntry is one ranked hit.
type ScoredEntry struct {
	Entry      *types.MemoryEntry `json:"entry"`
	Similarity float64            `json:"similarity"`
	FinalScore float64            `json:"final_score"`
	Combined   float64            `json:"combined_score"`
	Tier       types.QualityTier  `json:"tier"`
}

// RelatedEntry is one node reached by graph expansion.
type RelatedEntry struct {
	Entry    *types.MemoryEntry `json:"entry"`
	Via      types.RelationType `json:"via"`
	Strength float64            `json:"strength"`
	Depth    int                `json:"depth"`
}

// PathStep is one hop of an inference chain.
type PathStep struct {
	MemoryID string             `json:"memory_id"`
	Via      types.RelationType `json:"via,omitempty"`
	Strength float64            `json:"strength,omitempty"`
}

// Chain is an inference path with the product of its edge strengths and a
// human-readable rendering of the hops.
type Chain struct {
	Steps       []PathStep `json:"steps"`
	Strength    float64    `json:"strength"`
	Description string     `json:"description"`
}

// Contradiction is a CONTRADICTS pair touching the result set.
type Contradiction struct {
	MemoryA  string  `json:"memory_a"`
	MemoryB  string  `json:"memory_b"`
	Strength float64 `json:"strength"`
}

// GraphContext is the expansion attached to a retrieval result.
type GraphContext struct {
	Related        []RelatedEntry  `json:"related,omitempty"`
	CausalChains   []Chain         `json:"causal_chains,omitempty"`
	SupportChains  []Chain         `json:"support_chains,omitempty"`
	Contradictions []Contradiction `json:"contradictions,omitempty"`
	Summary        string          `json:"summary,omitempty"`
}

// Result is the full response of one retrieval.
type Result struct {
	Entries []ScoredEntry `json:"entries"`
	Graph   *GraphContext `json:"graph,omitempty"`
}

// Retriever runs hybrid queries against a store and vector index.
type Retriever struct {
	store   storage.Store
	vectors storage.VectorStore
	scorer  *scoring.Scorer
}

// New creates a retriever.
func New(store storage.Store, vectors storage.VectorStore, scorer *scoring.Scorer) *Retriever {
	return &Retriever{store: store, vectors: vectors, scorer: scorer}
}

// Query runs the hybrid search for a query vector.
func (r *Retriever) Query(ctx context.Context, queryVec []float32, opts Options) (*Result, error) {
	if opts.Limit < 1 {
		opts.Limit = defaultLimit
	}

	matches, err := r.vectors.Search(ctx, queryVec, opts.Limit*overFetch, opts.Filters)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	entries := make([]ScoredEntry, 0, len(matches))
	for _, m := range matches {
		entry, err := r.store.GetEntry(ctx, m.ID)
		if err != nil {
			log.Printf("retrieval: dropping stale match %s: %v", m.ID, err)
			continue
		}
		if !entry.IsLatest || entry.State != types.StateActive {
			continue
		}
		final := r.finalScore(ctx, entry)
		combined := scoring.CombinedScore(m.Similarity, final)
		entries = append(entries, ScoredEntry{
			Entry:      entry,
			Similarity: m.Similarity,
			FinalScore: final,
			Combined:   combined,
			Tier:       scoring.TierFor(combined),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Combined > entries[j].Combined })
	if len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	result := &Result{Entries: entries}
	if opts.ExpandGraph && len(entries) > 0 {
		seeds := make([]string, len(entries))
		for i, e := range entries {
			seeds[i] = e.Entry.ID
		}
		result.Graph = r.expand(ctx, seeds, opts)
	}
	return result, nil
}

// finalScore reads the cached score, recomputing on a cache miss.
func (r *Retriever) finalScore(ctx context.Context, entry *types.MemoryEntry) float64 {
	if sc, err := r.store.GetScore(ctx, entry.ID); err == nil {
		return sc.FinalScore
	}
	sc := r.scorer.Score(entry)
	if err := r.store.UpsertScore(ctx, &sc); err != nil {
		log.Printf("retrieval: failed to cache score for %s: %v", entry.ID, err)
	}
	return sc.FinalScore
}

// expand runs the bounded BFS plus the inference-path pass over the seeds.
// Expansion failures degrade to a partial graph, never to a query error.
func (r *Retriever) expand(ctx context.Context, seeds []string, opts Options) *GraphContext {
	g := &GraphContext{}

	depth := opts.MaxDepth
	if depth < 1 {
		depth = defaultMaxDepth
	}

	visited := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		visited[id] = true
	}

	type frontierNode struct {
		id    string
		depth int
	}
	frontier := make([]frontierNode, 0, len(seeds))
	for _, id := range seeds {
		frontier = append(frontier, frontierNode{id: id})
	}

	edgesSeen := 0
	for len(frontier) > 0 && len(visited) < nodeCap && edgesSeen < edgeCap {
		node := frontier[0]
		frontier = frontier[1:]
		if node.depth >= depth {
			continue
		}
		rels, err := r.store.RelationsOf(ctx, node.id, opts.RelationTypes)
		if err != nil {
			log.Printf("retrieval: expansion halted at %s: %v", node.id, err)
			break
		}
		for _, rel := range rels {
			if edgesSeen >= edgeCap || len(visited) >= nodeCap {
				break
			}
			edgesSeen++
			if rel.Confidence < opts.MinConfidence {
				continue
			}
			next := rel.TargetID
			if next == node.id {
				next = rel.SourceID
			}
			if visited[next] {
				continue
			}
			entry, err := r.store.GetEntry(ctx, next)
			if err != nil || !entry.IsLatest || entry.State != types.StateActive {
				continue
			}
			visited[next] = true
			g.Related = append(g.Related, RelatedEntry{
				Entry:    entry,
				Via:      rel.Type,
				Strength: rel.Strength,
				Depth:    node.depth + 1,
			})
			frontier = append(frontier, frontierNode{id: next, depth: node.depth + 1})
		}
	}

	for _, seed := range seeds {
		g.CausalChains = append(g.CausalChains, r.chains(ctx, seed, types.RelCauses, opts.MinConfidence)...)
		g.SupportChains = append(g.SupportChains, r.chains(ctx, seed, types.RelSupports, opts.MinConfidence)...)
		g.Contradictions = append(g.Contradictions, r.contradictions(ctx, seed)...)
	}
	g.Summary = summarize(g)
	return g
}

// chains runs a depth-first walk over edges of one type, up to maxChainHops.
// Cycles are cut by the path-local visited set. Chain strength is the
// product of edge strengths, so longer chains are naturally weaker.
func (r *Retriever) chains(ctx context.Context, seed string, rtype types.RelationType, minConfidence float64) []Chain {
	var out []Chain
	onPath := map[string]bool{seed: true}

	var walk func(id string, steps []PathStep, strength float64)
	walk = func(id string, steps []PathStep, strength float64) {
		if len(steps) > maxChainHops {
			return
		}
		rels, err := r.store.RelationsFrom(ctx, id, []types.RelationType{rtype})
		if err != nil {
			log.Printf("retrieval: chain walk halted at %s: %v", id, err)
			return
		}
		extended := false
		for _, rel := range rels {
			if onPath[rel.TargetID] || len(steps) == maxChainHops {
				continue
			}
			if rel.Confidence < minConfidence {
				continue
			}
			onPath[rel.TargetID] = true
			next := append(append([]PathStep(nil), steps...), PathStep{
				MemoryID: rel.TargetID,
				Via:      rel.Type,
				Strength: rel.Strength,
			})
			walk(rel.TargetID, next, strength*rel.Strength)
			delete(onPath, rel.TargetID)
			extended = true
		}
		// Record maximal chains only: at least one hop, no extension found.
		if !extended && len(steps) > 0 {
			full := append([]PathStep{{MemoryID: seed}}, steps...)
			out = append(out, Chain{
				Steps:       full,
				Strength:    strength,
				Description: describeChain(full, strength),
			})
		}
	}
	walk(seed, nil, 1.0)
	return out
}

// describeChain renders a path like "m1 -CAUSES-> m2 -CAUSES-> m3 (0.42)".
func describeChain(steps []PathStep, strength float64) string {
	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			fmt.Fprintf(&b, " -%s-> ", s.Via)
		}
		b.WriteString(s.MemoryID)
	}
	fmt.Fprintf(&b, " (%.2f)", strength)
	return b.String()
}

func (r *Retriever) contradictions(ctx context.Context, seed string) []Contradiction {
	rels, err := r.store.RelationsOf(ctx, seed, []types.RelationType{types.RelContradicts})
	if err != nil {
		log.Printf("retrieval: contradiction lookup failed for %s: %v", seed, err)
		return nil
	}
	out := make([]Contradiction, 0, len(rels))
	for _, rel := range rels {
		out = append(out, Contradiction{
			MemoryA:  rel.SourceID,
			MemoryB:  rel.TargetID,
			Strength: rel.Strength,
		})
	}
	return out
}

func summarize(g *GraphContext) string {
	if len(g.Related) == 0 && len(g.CausalChains) == 0 &&
		len(g.SupportChains) == 0 && len(g.Contradictions) == 0 {
		return ""
	}
	return fmt.Sprintf("%d related memories, %d causal chains, %d support chains, %d contradictions",
		len(g.Related), len(g.CausalChains), len(g.SupportChains), len(g.Contradictions))
}
