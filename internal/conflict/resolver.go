package conflict

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/awarenet/memcore/internal/scoring"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

// defaultMinConfidenceDelta is the confidence-wins tie margin when no
// policy overrides it.
const defaultMinConfidenceDelta = 0.1

// Resolver applies resolution strategies to recorded conflicts. Resolution
// only ever flips lifecycle flags: the winning entry stays latest, the loser
// is expired, and both rows survive for audit.
type Resolver struct {
	store  storage.Store
	scorer *scoring.Scorer
}

// NewResolver creates a resolver.
func NewResolver(store storage.Store, scorer *scoring.Scorer) *Resolver {
	return &Resolver{store: store, scorer: scorer}
}

// Resolve applies the given strategy to a pending or queued conflict.
// minConfidenceDelta only matters for confidence-wins; zero selects the
// default margin. Terminal conflicts are rejected.
func (r *Resolver) Resolve(ctx context.Context, conflictID string, strategy types.ResolutionStrategy, minConfidenceDelta float64) (*types.MemoryConflict, error) {
	if !types.ValidResolutionStrategy(strategy) {
		return nil, fmt.Errorf("%w: unknown resolution strategy %q", storage.ErrInvalidInput, strategy)
	}
	c, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Terminal() {
		return nil, fmt.Errorf("%w: conflict %s is already %s", storage.ErrInvalidInput, c.ID, c.Status)
	}

	a, errA := r.store.GetEntry(ctx, c.MemoryA)
	b, errB := r.store.GetEntry(ctx, c.MemoryB)
	if errA != nil || errB != nil {
		return r.resolveDegenerate(ctx, c, a, b, errA, errB)
	}

	switch strategy {
	case types.ResolveLatestWins:
		winner, loser := a, b
		if b.CreatedAt.After(a.CreatedAt) {
			winner, loser = b, a
		}
		return r.finish(ctx, c, winner, loser, strategy, "newer entry wins")

	case types.ResolveConfidenceWins:
		if minConfidenceDelta <= 0 {
			minConfidenceDelta = defaultMinConfidenceDelta
		}
		delta := a.Confidence - b.Confidence
		if delta < 0 {
			delta = -delta
		}
		if delta < minConfidenceDelta {
			// Too close to call: hand the pair to arbitration instead of
			// picking a near-arbitrary winner.
			return r.queue(ctx, c)
		}
		winner, loser := a, b
		if b.Confidence > a.Confidence {
			winner, loser = b, a
		}
		return r.finish(ctx, c, winner, loser, strategy,
			fmt.Sprintf("confidence %.2f beats %.2f", winner.Confidence, loser.Confidence))

	case types.ResolveScoreWins:
		scoreA := r.finalScore(ctx, a)
		scoreB := r.finalScore(ctx, b)
		winner, loser := a, b
		if scoreB > scoreA {
			winner, loser = b, a
		}
		return r.finish(ctx, c, winner, loser, strategy,
			fmt.Sprintf("score %.2f beats %.2f", max(scoreA, scoreB), min(scoreA, scoreB)))

	case types.ResolveQueueArbitration:
		return r.queue(ctx, c)

	case types.ResolveManualReview:
		// Nothing to decide automatically; the conflict stays pending until
		// ResolveManual or Ignore is called.
		return c, nil
	}
	return nil, fmt.Errorf("%w: unhandled strategy %q", storage.ErrInvalidInput, strategy)
}

// ResolveManual records a human decision. winnerID must be one of the two
// conflicted entries.
func (r *Resolver) ResolveManual(ctx context.Context, conflictID, winnerID, reviewer, explanation string) (*types.MemoryConflict, error) {
	c, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Terminal() {
		return nil, fmt.Errorf("%w: conflict %s is already %s", storage.ErrInvalidInput, c.ID, c.Status)
	}
	if winnerID != c.MemoryA && winnerID != c.MemoryB {
		return nil, fmt.Errorf("%w: %s is not part of conflict %s", storage.ErrInvalidInput, winnerID, c.ID)
	}
	loserID := c.MemoryA
	if loserID == winnerID {
		loserID = c.MemoryB
	}
	winner, err := r.store.GetEntry(ctx, winnerID)
	if err != nil {
		return nil, err
	}
	loser, err := r.store.GetEntry(ctx, loserID)
	if err != nil {
		return nil, err
	}
	if explanation == "" {
		explanation = "manual review decision"
	}
	c.ResolvedBy = reviewer
	return r.finishWithResolver(ctx, c, winner, loser, reviewer, explanation)
}

// Ignore marks a conflict as deliberately unresolved. Terminal state.
func (r *Resolver) Ignore(ctx context.Context, conflictID, reason string) (*types.MemoryConflict, error) {
	c, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Terminal() {
		return nil, fmt.Errorf("%w: conflict %s is already %s", storage.ErrInvalidInput, c.ID, c.Status)
	}
	now := time.Now()
	c.Status = types.ConflictIgnored
	c.Explanation = reason
	c.ResolvedAt = &now
	if err := r.store.UpdateConflict(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Resolver) queue(ctx context.Context, c *types.MemoryConflict) (*types.MemoryConflict, error) {
	c.Status = types.ConflictQueued
	if err := r.store.UpdateConflict(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Resolver) finish(ctx context.Context, c *types.MemoryConflict, winner, loser *types.MemoryEntry, strategy types.ResolutionStrategy, explanation string) (*types.MemoryConflict, error) {
	return r.finishWithResolver(ctx, c, winner, loser, string(strategy), explanation)
}

func (r *Resolver) finishWithResolver(ctx context.Context, c *types.MemoryConflict, winner, loser *types.MemoryEntry, resolvedBy, explanation string) (*types.MemoryConflict, error) {
	now := time.Now()
	c.Status = types.ConflictResolved
	c.WinnerID = winner.ID
	c.ResolvedBy = resolvedBy
	c.Explanation = explanation
	c.ResolvedAt = &now
	if err := r.store.UpdateConflict(ctx, c); err != nil {
		return nil, err
	}
	// The loser is expired, never deleted: its row and history remain
	// auditable and rollback-safe.
	if loser.State == types.StateActive {
		if err := r.store.SoftDeleteEntry(ctx, loser.ID); err != nil {
			log.Printf("conflict: failed to expire losing entry %s: %v", loser.ID, err)
		}
	}
	return c, nil
}

// resolveDegenerate handles conflicts whose entries have since been purged
// or are unreadable: the surviving side wins, or the conflict is ignored
// when neither survives.
func (r *Resolver) resolveDegenerate(ctx context.Context, c *types.MemoryConflict, a, b *types.MemoryEntry, errA, errB error) (*types.MemoryConflict, error) {
	if errA != nil && !errors.Is(errA, storage.ErrNotFound) {
		return nil, errA
	}
	if errB != nil && !errors.Is(errB, storage.ErrNotFound) {
		return nil, errB
	}
	now := time.Now()
	switch {
	case errA == nil:
		c.Status = types.ConflictResolved
		c.WinnerID = a.ID
		c.ResolvedBy = "system"
		c.Explanation = "counterpart entry no longer exists"
	case errB == nil:
		c.Status = types.ConflictResolved
		c.WinnerID = b.ID
		c.ResolvedBy = "system"
		c.Explanation = "counterpart entry no longer exists"
	default:
		c.Status = types.ConflictIgnored
		c.Explanation = "both entries no longer exist"
	}
	c.ResolvedAt = &now
	if err := r.store.UpdateConflict(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Resolver) finalScore(ctx context.Context, e *types.MemoryEntry) float64 {
	if sc, err := r.store.GetScore(ctx, e.ID); err == nil {
		return sc.FinalScore
	}
	return r.scorer.Score(e).FinalScore
}
