package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

// --- PolicyStore ---

func (s *Store) UpsertPolicy(ctx context.Context, p *types.MemoryPolicy) error {
	if p == nil || p.OrgID == "" {
		return fmt.Errorf("%w: policy with org required", storage.ErrInvalidInput)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode policy rules: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_policies (id, org_id, namespace, policy_type, rules)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (org_id, namespace, policy_type) DO UPDATE SET
			rules = EXCLUDED.rules,
			updated_at = NOW()`,
		p.ID, p.OrgID, p.Namespace, p.Type, rules)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert policy: %w", err)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, orgID, namespace string, ptype types.PolicyType) (*types.MemoryPolicy, error) {
	p, err := scanPolicy(s.db.QueryRowContext(ctx, `
		SELECT id, org_id, namespace, policy_type, rules, created_at, updated_at
		FROM memory_policies
		WHERE org_id = $1 AND namespace = $2 AND policy_type = $3`,
		orgID, namespace, ptype))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get policy: %w", err)
	}
	return p, nil
}

func scanPolicy(row rowScanner) (*types.MemoryPolicy, error) {
	var (
		p     types.MemoryPolicy
		rules []byte
	)
	if err := row.Scan(&p.ID, &p.OrgID, &p.Namespace, &p.Type, &rules,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &p.Rules); err != nil {
			return nil, fmt.Errorf("postgres: failed to decode policy rules: %w", err)
		}
	}
	return &p, nil
}

func (s *Store) DeletePolicy(ctx context.Context, orgID, namespace string, ptype types.PolicyType) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_policies
		WHERE org_id = $1 AND namespace = $2 AND policy_type = $3`,
		orgID, namespace, ptype)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete policy: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) ListPolicies(ctx context.Context, orgID string) ([]*types.MemoryPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, namespace, policy_type, rules, created_at, updated_at
		FROM memory_policies WHERE org_id = $1`, orgID)
	if err != nil {
		return nil, fmt.Errorf("postgres: policy query failed: %w", err)
	}
	defer rows.Close()

	var out []*types.MemoryPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- QuotaStore ---

func (s *Store) GetQuota(ctx context.Context, orgID string) (storage.Quota, error) {
	q := storage.Quota{OrgID: orgID}
	err := s.db.QueryRowContext(ctx,
		`SELECT max_entries, current_entries FROM organizations WHERE org_id = $1`,
		orgID).Scan(&q.Max, &q.Current)
	if errors.Is(err, sql.ErrNoRows) {
		// Unregistered orgs are unlimited; report the live row count.
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM memory_entries WHERE org_id = $1`, orgID).Scan(&q.Current)
		if err != nil {
			return q, fmt.Errorf("postgres: failed to count org entries: %w", err)
		}
		return q, nil
	}
	if err != nil {
		return q, fmt.Errorf("postgres: failed to get quota: %w", err)
	}
	return q, nil
}

func (s *Store) EnsureOrg(ctx context.Context, orgID string, max int) error {
	if orgID == "" {
		return fmt.Errorf("%w: org ID required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (org_id, max_entries, current_entries)
		VALUES ($1, $2, (SELECT COUNT(*) FROM memory_entries WHERE org_id = $1))
		ON CONFLICT (org_id) DO UPDATE SET
			max_entries = EXCLUDED.max_entries,
			updated_at = NOW()`,
		orgID, max)
	if err != nil {
		return fmt.Errorf("postgres: failed to ensure org: %w", err)
	}
	return nil
}

func (s *Store) Orgs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id FROM organizations
		UNION
		SELECT DISTINCT org_id FROM memory_entries
		ORDER BY org_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: org query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan org: %w", err)
		}
		out = append(out, org)
	}
	return out, rows.Err()
}
