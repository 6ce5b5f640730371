package memstore

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/awarenet/memcore/internal/storage"
)

// VectorIndex is an in-process storage.VectorStore backed by a coder/hnsw
// graph. Vectors and metadata are mirrored in maps so searches can apply
// metadata filters and report exact cosine similarity.
type VectorIndex struct {
	mu      sync.Mutex
	graph   *hnsw.Graph[string]
	dim     int
	vectors map[string][]float32
	meta    map[string]map[string]string
}

var _ storage.VectorStore = (*VectorIndex)(nil)

// NewVectorIndex creates an empty index for vectors of the given dimension.
func NewVectorIndex(dim int) (*VectorIndex, error) {
	if dim < 1 {
		return nil, fmt.Errorf("%w: vector dimension must be positive", storage.ErrInvalidInput)
	}
	return &VectorIndex{
		graph:   hnsw.NewGraph[string](),
		dim:     dim,
		vectors: make(map[string][]float32),
		meta:    make(map[string]map[string]string),
	}, nil
}

func (v *VectorIndex) Insert(ctx context.Context, item storage.VectorItem) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.insertLocked(item)
}

func (v *VectorIndex) BatchInsert(ctx context.Context, items []storage.VectorItem) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, item := range items {
		if err := v.insertLocked(item); err != nil {
			return err
		}
	}
	return nil
}

func (v *VectorIndex) insertLocked(item storage.VectorItem) error {
	if item.ID == "" {
		return fmt.Errorf("%w: vector item ID required", storage.ErrInvalidInput)
	}
	if len(item.Vector) != v.dim {
		return fmt.Errorf("%w: vector dimension %d, index expects %d",
			storage.ErrInvalidInput, len(item.Vector), v.dim)
	}
	vec := append([]float32(nil), item.Vector...)
	v.graph.Add(hnsw.MakeNode(item.ID, vec))
	v.vectors[item.ID] = vec
	meta := make(map[string]string, len(item.Metadata))
	for k, val := range item.Metadata {
		meta[k] = val
	}
	v.meta[item.ID] = meta
	return nil
}

// Search returns up to limit matches by cosine similarity, filtered to items
// whose metadata contains every filter pair. The graph is asked for extra
// neighbors so filtering does not starve the result set.
func (v *VectorIndex) Search(ctx context.Context, query []float32, limit int, filters map[string]string) ([]storage.VectorMatch, error) {
	if limit < 1 {
		limit = 10
	}
	if len(query) != v.dim {
		return nil, fmt.Errorf("%w: query dimension %d, index expects %d",
			storage.ErrInvalidInput, len(query), v.dim)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	k := limit * 4
	if n := len(v.vectors); k > n {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	var matches []storage.VectorMatch
	for _, node := range v.graph.Search(query, k) {
		vec, ok := v.vectors[node.Key]
		if !ok {
			continue
		}
		if !metaMatches(v.meta[node.Key], filters) {
			continue
		}
		sim := cosineSimilarity(query, vec)
		if sim < 0 {
			sim = 0
		}
		matches = append(matches, storage.VectorMatch{ID: node.Key, Similarity: sim})
		if len(matches) >= limit {
			break
		}
	}
	return matches, nil
}

func (v *VectorIndex) Delete(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.vectors[id]; !ok {
		return storage.ErrNotFound
	}
	v.graph.Delete(id)
	delete(v.vectors, id)
	delete(v.meta, id)
	// An emptied hnsw graph cannot accept new nodes; start a fresh one.
	if len(v.vectors) == 0 {
		v.graph = hnsw.NewGraph[string]()
	}
	return nil
}

func (v *VectorIndex) UpdateMetadata(ctx context.Context, id string, meta map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	existing, ok := v.meta[id]
	if !ok {
		return storage.ErrNotFound
	}
	for k, val := range meta {
		existing[k] = val
	}
	return nil
}

func (v *VectorIndex) HealthCheck(ctx context.Context) error { return nil }

func metaMatches(meta map[string]string, filters map[string]string) bool {
	for k, want := range filters {
		if meta[k] != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
