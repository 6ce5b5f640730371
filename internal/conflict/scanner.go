package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/awarenet/memcore/internal/provider"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

const (
	// scanBatchSize is the number of pairs judged per batch.
	scanBatchSize = 10

	// scanConfidenceFloor discards model verdicts below this confidence.
	scanConfidenceFloor = 0.7
)

// Scanner runs the periodic semantic-contradiction scan. The candidate set
// is restricted to high-confidence, frequently used, recent entries, and
// model calls are paced so a scan never saturates the provider.
type Scanner struct {
	store    storage.Store
	reasoner provider.Reasoner
	limiter  *rate.Limiter
}

// NewScanner creates a semantic scanner. Batches are spaced at least one
// second apart.
func NewScanner(store storage.Store, reasoner provider.Reasoner) *Scanner {
	return &Scanner{
		store:    store,
		reasoner: reasoner,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Scan judges candidate pairs for one org and records pending conflicts for
// confident contradictions. Returns the number of conflicts created.
func (s *Scanner) Scan(ctx context.Context, orgID string) (int, error) {
	if s.reasoner == nil {
		return 0, nil
	}
	candidates, err := s.store.StrategicCandidates(ctx, orgID, storage.StrategicFilter{})
	if err != nil {
		return 0, fmt.Errorf("candidate query failed: %w", err)
	}
	if len(candidates) < 2 {
		return 0, nil
	}

	pairs := s.pairsToJudge(ctx, candidates)
	created := 0
	for start := 0; start < len(pairs); start += scanBatchSize {
		if err := s.limiter.Wait(ctx); err != nil {
			return created, err
		}
		end := start + scanBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		for _, p := range pairs[start:end] {
			ok, err := s.judge(ctx, p[0], p[1])
			if err != nil {
				log.Printf("conflict: semantic judgement failed for %s/%s: %v",
					p[0].ID, p[1].ID, err)
				continue
			}
			if ok {
				created++
			}
		}
	}
	return created, nil
}

// pairsToJudge enumerates candidate pairs that do not already have a
// recorded conflict. Claim-mismatch conflicts take precedence: a pair the
// structural detector already flagged is never re-judged semantically.
func (s *Scanner) pairsToJudge(ctx context.Context, candidates []*types.MemoryEntry) [][2]*types.MemoryEntry {
	var pairs [][2]*types.MemoryEntry
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			if a.RootID == b.RootID {
				continue
			}
			if _, err := s.store.FindConflictByPair(ctx, a.ID, b.ID); err == nil {
				continue
			} else if !errors.Is(err, storage.ErrNotFound) {
				log.Printf("conflict: pair lookup failed for %s/%s: %v", a.ID, b.ID, err)
				continue
			}
			pairs = append(pairs, [2]*types.MemoryEntry{a, b})
		}
	}
	return pairs
}

type contradictionVerdict struct {
	Contradiction bool    `json:"contradiction"`
	Confidence    float64 `json:"confidence"`
	Explanation   string  `json:"explanation"`
}

// judge asks the model whether two entries contradict and records a pending
// conflict when the verdict clears the confidence floor.
func (s *Scanner) judge(ctx context.Context, a, b *types.MemoryEntry) (bool, error) {
	raw, err := s.reasoner.Complete(ctx, contradictionPrompt(a.Content, b.Content))
	if err != nil {
		return false, err
	}
	var verdict contradictionVerdict
	if err := json.Unmarshal([]byte(provider.ExtractJSON(raw)), &verdict); err != nil {
		return false, fmt.Errorf("failed to parse contradiction JSON: %w", err)
	}
	if !verdict.Contradiction || verdict.Confidence < scanConfidenceFloor {
		return false, nil
	}

	c := &types.MemoryConflict{
		ID:        uuid.NewString(),
		OrgID:     a.OrgID,
		Namespace: a.Namespace,
		MemoryA:   a.ID,
		MemoryB:   b.ID,
		Type:      types.ConflictSemanticContradiction,
		Status:    types.ConflictPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.InsertConflict(ctx, c); err != nil {
		return false, fmt.Errorf("failed to record contradiction: %w", err)
	}
	return true, nil
}
