// Package governance evaluates organization policies: namespace access
// control, retention enforcement, and conflict-resolution strategy selection.
// Policy lookups are cached briefly so hot write paths do not hit the store
// on every call.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

const (
	cacheSize = 1024
	cacheTTL  = 30 * time.Second
)

// cachedPolicy wraps a lookup result so absence is cacheable too.
type cachedPolicy struct {
	policy *types.MemoryPolicy
}

// Service answers policy questions for the write and read paths.
type Service struct {
	store storage.Store
	cache *expirable.LRU[string, cachedPolicy]
}

// New creates a governance service over the given store.
func New(store storage.Store) *Service {
	return &Service{
		store: store,
		cache: expirable.NewLRU[string, cachedPolicy](cacheSize, nil, cacheTTL),
	}
}

func cacheKey(orgID, namespace string, ptype types.PolicyType) string {
	return orgID + "|" + namespace + "|" + string(ptype)
}

// Invalidate drops cached lookups for a namespace and its org-wide fallback.
// Call after any policy mutation.
func (s *Service) Invalidate(orgID, namespace string) {
	for _, pt := range []types.PolicyType{types.PolicyRetention, types.PolicyAccess, types.PolicyConflictResolution} {
		s.cache.Remove(cacheKey(orgID, namespace, pt))
		s.cache.Remove(cacheKey(orgID, "", pt))
	}
}

// effective resolves the policy governing a namespace: an exact namespace
// match wins, otherwise the org-wide policy applies, otherwise nil.
func (s *Service) effective(ctx context.Context, orgID, namespace string, ptype types.PolicyType) (*types.MemoryPolicy, error) {
	p, err := s.lookup(ctx, orgID, namespace, ptype)
	if err != nil || p != nil {
		return p, err
	}
	if namespace == "" {
		return nil, nil
	}
	return s.lookup(ctx, orgID, "", ptype)
}

func (s *Service) lookup(ctx context.Context, orgID, namespace string, ptype types.PolicyType) (*types.MemoryPolicy, error) {
	key := cacheKey(orgID, namespace, ptype)
	if hit, ok := s.cache.Get(key); ok {
		return hit.policy, nil
	}
	p, err := s.store.GetPolicy(ctx, orgID, namespace, ptype)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.cache.Add(key, cachedPolicy{})
			return nil, nil
		}
		return nil, fmt.Errorf("policy lookup failed: %w", err)
	}
	s.cache.Add(key, cachedPolicy{policy: p})
	return p, nil
}

// CheckAccess enforces the access policy for one operation. Namespaces
// without a policy are open.
func (s *Service) CheckAccess(ctx context.Context, orgID, namespace, agentID string, op types.AccessOp) error {
	p, err := s.effective(ctx, orgID, namespace, types.PolicyAccess)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	rules := p.Rules
	if rules.DenyAll {
		return fmt.Errorf("%w: namespace %s denies all access", storage.ErrAccessDenied, namespace)
	}
	if rules.ReadOnly && op == types.OpWrite {
		return fmt.Errorf("%w: namespace %s is read-only", storage.ErrAccessDenied, namespace)
	}
	if len(rules.AllowedAgents) > 0 {
		for _, allowed := range rules.AllowedAgents {
			if allowed == agentID {
				return nil
			}
		}
		return fmt.Errorf("%w: agent %s not allowed in namespace %s", storage.ErrAccessDenied, agentID, namespace)
	}
	return nil
}

// StrategyFor picks the resolution strategy and confidence margin for a
// conflict. Without a policy the default is score-wins.
func (s *Service) StrategyFor(ctx context.Context, c *types.MemoryConflict) (types.ResolutionStrategy, float64) {
	p, err := s.effective(ctx, c.OrgID, c.Namespace, types.PolicyConflictResolution)
	if err != nil {
		log.Printf("governance: strategy lookup failed for %s: %v", c.ID, err)
		return types.ResolveScoreWins, 0
	}
	if p == nil || !types.ValidResolutionStrategy(p.Rules.Strategy) {
		return types.ResolveScoreWins, 0
	}
	return p.Rules.Strategy, p.Rules.MinConfidenceDelta
}

// RetentionReport summarizes one enforcement run.
type RetentionReport struct {
	Expired int
	Trimmed int
}

// EnforceRetention applies every namespace-scoped retention policy of an
// org. Policies with expire_on_breach=false run dry: breaches are logged but
// nothing changes.
func (s *Service) EnforceRetention(ctx context.Context, orgID string) (RetentionReport, error) {
	var report RetentionReport
	policies, err := s.store.ListPolicies(ctx, orgID)
	if err != nil {
		return report, fmt.Errorf("policy list failed: %w", err)
	}
	for _, p := range policies {
		if p.Type != types.PolicyRetention || p.Namespace == "" {
			continue
		}
		apply := p.Rules.ShouldExpire()

		if p.Rules.MaxAgeSeconds > 0 {
			cutoff := time.Now().Add(-time.Duration(p.Rules.MaxAgeSeconds) * time.Second)
			ids, err := s.store.ExpireOlderThan(ctx, orgID, p.Namespace, cutoff, apply)
			if err != nil {
				return report, fmt.Errorf("age retention failed for %s: %w", p.Namespace, err)
			}
			if apply {
				report.Expired += len(ids)
			} else if len(ids) > 0 {
				log.Printf("governance: %d entries in %s/%s exceed max age (dry run)",
					len(ids), orgID, p.Namespace)
			}
		}

		if p.Rules.MaxCount > 0 {
			ids, err := s.store.TrimToCount(ctx, orgID, p.Namespace, p.Rules.MaxCount, apply)
			if err != nil {
				return report, fmt.Errorf("count retention failed for %s: %w", p.Namespace, err)
			}
			if apply {
				report.Trimmed += len(ids)
			} else if len(ids) > 0 {
				log.Printf("governance: %d entries in %s/%s exceed max count (dry run)",
					len(ids), orgID, p.Namespace)
			}
		}
	}
	return report, nil
}
