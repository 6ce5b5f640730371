package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// MockEmbedder produces deterministic pseudo-embeddings derived from a hash
// of the input text. Identical texts always embed identically and different
// texts almost never collide, which is enough for tests and offline use.
type MockEmbedder struct {
	dim int
}

var _ Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a deterministic embedder of the given dimension.
func NewMockEmbedder(dim int) *MockEmbedder {
	if dim < 1 {
		dim = 8
	}
	return &MockEmbedder{dim: dim}
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, m.dim)
	seed := sha256.Sum256([]byte(text))
	var norm float64
	for i := range vec {
		// Stretch the 32-byte digest across the whole vector by re-hashing
		// with the index.
		var buf [40]byte
		copy(buf[:32], seed[:])
		binary.LittleEndian.PutUint64(buf[32:], uint64(i))
		h := sha256.Sum256(buf[:])
		v := float64(int64(binary.LittleEndian.Uint64(h[:8]))) / float64(math.MaxInt64)
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *MockEmbedder) Dimension() int { return m.dim }
func (m *MockEmbedder) Model() string  { return "mock-embedder" }

// MockReasoner replays scripted responses in order, then keeps returning the
// last one. Test use only.
type MockReasoner struct {
	mu        sync.Mutex
	responses []string
	next      int

	// Err, when set, is returned by every Complete call.
	Err error

	// Prompts records every prompt received, for assertions.
	Prompts []string
}

var _ Reasoner = (*MockReasoner)(nil)

// NewMockReasoner creates a reasoner that replays the given responses.
func NewMockReasoner(responses ...string) *MockReasoner {
	return &MockReasoner{responses: responses}
}

func (m *MockReasoner) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	resp := m.responses[m.next]
	if m.next < len(m.responses)-1 {
		m.next++
	}
	return resp, nil
}

func (m *MockReasoner) Model() string { return "mock-reasoner" }
