package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/awarenet/memcore/internal/provider"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

// Arbiter settles queued conflicts by asking the model to pick a winner.
// Queued conflicts come from explicit queue-arbitration resolutions and from
// confidence-wins ties, and stay queued until a worker runs Arbitrate.
type Arbiter struct {
	store    storage.Store
	resolver *Resolver
	reasoner provider.Reasoner
}

// NewArbiter creates an arbiter sharing the resolver's finishing logic.
func NewArbiter(store storage.Store, resolver *Resolver, reasoner provider.Reasoner) *Arbiter {
	return &Arbiter{store: store, resolver: resolver, reasoner: reasoner}
}

type arbitrationVerdict struct {
	Winner string `json:"winner"`
	Reason string `json:"reason"`
}

// Arbitrate resolves one queued conflict. Conflicts in any other state are
// returned unchanged, so replayed tasks are harmless. Without a reasoner the
// conflict stays queued for manual review.
func (ar *Arbiter) Arbitrate(ctx context.Context, conflictID string) (*types.MemoryConflict, error) {
	c, err := ar.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Status != types.ConflictQueued {
		return c, nil
	}
	if ar.reasoner == nil {
		log.Printf("conflict: no reasoner, conflict %s stays queued", c.ID)
		return c, nil
	}

	a, errA := ar.store.GetEntry(ctx, c.MemoryA)
	b, errB := ar.store.GetEntry(ctx, c.MemoryB)
	if errA != nil || errB != nil {
		return ar.resolver.resolveDegenerate(ctx, c, a, b, errA, errB)
	}

	raw, err := ar.reasoner.Complete(ctx, arbitrationPrompt(a, b))
	if err != nil {
		return nil, fmt.Errorf("arbitration call failed: %w", err)
	}
	var verdict arbitrationVerdict
	if err := json.Unmarshal([]byte(provider.ExtractJSON(raw)), &verdict); err != nil {
		return nil, fmt.Errorf("unparseable arbitration verdict %q: %w", raw, err)
	}

	winner, loser := a, b
	switch verdict.Winner {
	case "A":
	case "B":
		winner, loser = b, a
	default:
		return nil, fmt.Errorf("arbitration verdict names neither side: %q", verdict.Winner)
	}
	if verdict.Reason == "" {
		verdict.Reason = "arbitration decision"
	}
	return ar.resolver.finishWithResolver(ctx, c, winner, loser,
		string(types.ResolveQueueArbitration), verdict.Reason)
}
