// Package pool routes retrieval across the three visibility pools and
// promotes well-validated entries upward. Assembly order is fixed: an agent's
// private memories come first, then its department's domain pool, then the
// org-wide global pool, under a shared token budget.
package pool

import (
	"context"
	"fmt"

	"github.com/awarenet/memcore/internal/retrieval"
	"github.com/awarenet/memcore/pkg/types"
)

const (
	// defaultTokenBudget caps the assembled context size.
	defaultTokenBudget = 4096

	// charsPerToken is the rough token estimate used for budgeting.
	charsPerToken = 4

	// perPoolLimit caps how many entries each pool may contribute.
	perPoolLimit = 10
)

// Identity scopes a routed retrieval to one caller.
type Identity struct {
	OrgID      string
	AgentID    string
	Department string
}

// Section holds one pool's contribution to the assembled context.
type Section struct {
	Pool    types.PoolType          `json:"pool"`
	Entries []retrieval.ScoredEntry `json:"entries"`
}

// Context is the budgeted, pool-ordered retrieval result.
type Context struct {
	Sections   []Section `json:"sections"`
	TokensUsed int       `json:"tokens_used"`
	Truncated  bool      `json:"truncated"`
}

// Router assembles retrieval context across pools.
type Router struct {
	retriever *retrieval.Retriever

	// Budget overrides the default token budget when positive.
	Budget int
}

// NewRouter creates a router over the given retriever.
func NewRouter(r *retrieval.Retriever) *Router {
	return &Router{retriever: r}
}

// Retrieve queries each visible pool in precedence order and packs results
// until the token budget runs out. Pools the identity cannot see (no agent ID
// for private, no department for domain) are skipped entirely.
func (r *Router) Retrieve(ctx context.Context, queryVec []float32, id Identity) (*Context, error) {
	budget := r.Budget
	if budget <= 0 {
		budget = defaultTokenBudget
	}

	out := &Context{}
	for _, pool := range []types.PoolType{types.PoolPrivate, types.PoolDomain, types.PoolGlobal} {
		filters, ok := r.poolFilters(pool, id)
		if !ok {
			continue
		}
		res, err := r.retriever.Query(ctx, queryVec, retrieval.Options{
			Limit:   perPoolLimit,
			Filters: filters,
		})
		if err != nil {
			return nil, fmt.Errorf("pool %s retrieval failed: %w", pool, err)
		}

		section := Section{Pool: pool}
		for _, se := range res.Entries {
			cost := estimateTokens(se.Entry.Content)
			if out.TokensUsed+cost > budget {
				out.Truncated = true
				break
			}
			section.Entries = append(section.Entries, se)
			out.TokensUsed += cost
		}
		if len(section.Entries) > 0 {
			out.Sections = append(out.Sections, section)
		}
		if out.Truncated {
			break
		}
	}
	return out, nil
}

// poolFilters builds the metadata filters scoping a pool query, and reports
// whether the identity can see the pool at all.
func (r *Router) poolFilters(pool types.PoolType, id Identity) (map[string]string, bool) {
	filters := map[string]string{
		"org_id":    id.OrgID,
		"pool_type": string(pool),
	}
	switch pool {
	case types.PoolPrivate:
		if id.AgentID == "" {
			return nil, false
		}
		filters["agent_id"] = id.AgentID
	case types.PoolDomain:
		if id.Department == "" {
			return nil, false
		}
		filters["department"] = id.Department
	}
	return filters, true
}

func estimateTokens(content string) int {
	n := (len(content) + charsPerToken - 1) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}
