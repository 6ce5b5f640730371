// Package conflict detects and resolves disagreements between memories.
// Claim mismatches are caught structurally right after a write commits;
// semantic contradictions are found by a periodic model-based scan over
// high-value entries. Resolution applies one of five strategies, selected by
// governance policy.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

// Detector finds claim-mismatch conflicts for newly written entries.
type Detector struct {
	store storage.Store
}

// NewDetector creates a claim-mismatch detector.
func NewDetector(store storage.Store) *Detector {
	return &Detector{store: store}
}

// ScanClaims compares a just-committed entry against the other latest
// entries of its namespace carrying the same claim key, and records one
// pending conflict per disagreeing pair. Pairs that already have a conflict
// (in any state) are left alone.
func (d *Detector) ScanClaims(ctx context.Context, entry *types.MemoryEntry) ([]*types.MemoryConflict, error) {
	if entry == nil || !entry.HasClaim() {
		return nil, nil
	}

	others, err := d.store.LatestByClaimKey(ctx, entry.OrgID, entry.Namespace, entry.ClaimKey)
	if err != nil {
		return nil, fmt.Errorf("claim scan failed: %w", err)
	}

	var created []*types.MemoryConflict
	for _, other := range others {
		if other.ID == entry.ID || other.RootID == entry.RootID {
			continue
		}
		if other.ClaimValue == entry.ClaimValue {
			continue
		}
		if _, err := d.store.FindConflictByPair(ctx, entry.ID, other.ID); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("conflict: pair lookup failed for %s/%s: %v", entry.ID, other.ID, err)
			continue
		}

		c := &types.MemoryConflict{
			ID:        uuid.NewString(),
			OrgID:     entry.OrgID,
			Namespace: entry.Namespace,
			MemoryA:   entry.ID,
			MemoryB:   other.ID,
			Type:      types.ConflictClaimMismatch,
			Status:    types.ConflictPending,
			CreatedAt: time.Now(),
		}
		if err := d.store.InsertConflict(ctx, c); err != nil {
			log.Printf("conflict: failed to record claim mismatch %s/%s: %v", entry.ID, other.ID, err)
			continue
		}
		created = append(created, c)
	}
	return created, nil
}
