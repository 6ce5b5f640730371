package pool

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/awarenet/memcore/internal/scoring"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

const (
	// defaultPromotionMinValidations is the validation floor for moving a
	// domain entry into the global pool.
	defaultPromotionMinValidations = 5

	// defaultPromotionMinScore is the final-score floor for promotion.
	defaultPromotionMinScore = 60.0
)

// Promoter moves proven domain-pool entries into the global pool. Promotion
// is one-way and driven by validations plus score, with thresholds
// overridable per org through the retention policy.
type Promoter struct {
	store   storage.Store
	vectors storage.VectorStore
	scorer  *scoring.Scorer
}

// NewPromoter creates a promoter. vectors may be nil when no vector index
// metadata needs updating.
func NewPromoter(store storage.Store, vectors storage.VectorStore, scorer *scoring.Scorer) *Promoter {
	return &Promoter{store: store, vectors: vectors, scorer: scorer}
}

// PromoteEligible scans one org's domain pool and promotes every entry that
// clears both thresholds. Returns the promoted entry IDs.
func (p *Promoter) PromoteEligible(ctx context.Context, orgID string) ([]string, error) {
	minValidations, minScore := p.thresholds(ctx, orgID)

	candidates, err := p.store.PromotionCandidates(ctx, orgID, minValidations)
	if err != nil {
		return nil, fmt.Errorf("promotion candidate query failed: %w", err)
	}

	var promoted []string
	for _, e := range candidates {
		if p.finalScore(ctx, e) < minScore {
			continue
		}
		if err := p.store.SetPool(ctx, e.ID, types.PoolGlobal); err != nil {
			log.Printf("pool: promotion of %s failed: %v", e.ID, err)
			continue
		}
		if p.vectors != nil {
			err := p.vectors.UpdateMetadata(ctx, e.ID, map[string]string{
				"pool_type": string(types.PoolGlobal),
			})
			if err != nil {
				log.Printf("pool: vector metadata update for %s failed: %v", e.ID, err)
			}
		}
		promoted = append(promoted, e.ID)
	}
	if len(promoted) > 0 {
		log.Printf("pool: promoted %d entries to global for org %s", len(promoted), orgID)
	}
	return promoted, nil
}

// thresholds resolves the promotion floors, preferring org-wide retention
// policy overrides.
func (p *Promoter) thresholds(ctx context.Context, orgID string) (int, float64) {
	minValidations := defaultPromotionMinValidations
	minScore := defaultPromotionMinScore

	pol, err := p.store.GetPolicy(ctx, orgID, "", types.PolicyRetention)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("pool: retention policy lookup failed for %s: %v", orgID, err)
		}
		return minValidations, minScore
	}
	if pol.Rules.PromotionMinValidations > 0 {
		minValidations = pol.Rules.PromotionMinValidations
	}
	if pol.Rules.PromotionMinScore > 0 {
		minScore = pol.Rules.PromotionMinScore
	}
	return minValidations, minScore
}

func (p *Promoter) finalScore(ctx context.Context, e *types.MemoryEntry) float64 {
	if sc, err := p.store.GetScore(ctx, e.ID); err == nil {
		return sc.FinalScore
	}
	return p.scorer.Score(e).FinalScore
}
