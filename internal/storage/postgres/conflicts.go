package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

const conflictColumns = `id, org_id, namespace, memory_a, memory_b, conflict_type,
	status, winner_id, resolved_by, explanation, resolved_at, created_at`

func scanConflict(row rowScanner) (*types.MemoryConflict, error) {
	var (
		c          types.MemoryConflict
		resolvedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.OrgID, &c.Namespace, &c.MemoryA, &c.MemoryB, &c.Type,
		&c.Status, &c.WinnerID, &c.ResolvedBy, &c.Explanation, &resolvedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	return &c, nil
}

func (s *Store) InsertConflict(ctx context.Context, c *types.MemoryConflict) error {
	if c == nil || c.ID == "" || c.MemoryA == "" || c.MemoryB == "" {
		return fmt.Errorf("%w: conflict with ID and both memories required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_conflicts (id, org_id, namespace, memory_a, memory_b,
			conflict_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OrgID, c.Namespace, c.MemoryA, c.MemoryB, c.Type, c.Status, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert conflict: %w", err)
	}
	return nil
}

func (s *Store) GetConflict(ctx context.Context, id string) (*types.MemoryConflict, error) {
	c, err := scanConflict(s.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM memory_conflicts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get conflict: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateConflict(ctx context.Context, c *types.MemoryConflict) error {
	var resolvedAt interface{}
	if c.ResolvedAt != nil {
		resolvedAt = *c.ResolvedAt
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_conflicts
		SET status = $2, winner_id = $3, resolved_by = $4, explanation = $5, resolved_at = $6
		WHERE id = $1`,
		c.ID, c.Status, c.WinnerID, c.ResolvedBy, c.Explanation, resolvedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to update conflict: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) ListConflicts(ctx context.Context, orgID string, status types.ConflictStatus, limit int) ([]*types.MemoryConflict, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + conflictColumns + ` FROM memory_conflicts WHERE org_id = $1`
	args := []interface{}{orgID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: conflict query failed: %w", err)
	}
	defer rows.Close()

	var out []*types.MemoryConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan conflict: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) FindConflictByPair(ctx context.Context, a, b string) (*types.MemoryConflict, error) {
	c, err := scanConflict(s.db.QueryRowContext(ctx, `
		SELECT `+conflictColumns+` FROM memory_conflicts
		WHERE LEAST(memory_a, memory_b) = LEAST($1, $2)
		  AND GREATEST(memory_a, memory_b) = GREATEST($1, $2)`, a, b))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to find conflict pair: %w", err)
	}
	return c, nil
}

func (s *Store) ConflictStats(ctx context.Context, orgID string) (*types.ConflictStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, conflict_type, COUNT(*)
		FROM memory_conflicts WHERE org_id = $1
		GROUP BY status, conflict_type`, orgID)
	if err != nil {
		return nil, fmt.Errorf("postgres: conflict stats query failed: %w", err)
	}
	defer rows.Close()

	stats := &types.ConflictStats{
		ByStatus: make(map[types.ConflictStatus]int),
		ByType:   make(map[types.ConflictType]int),
	}
	for rows.Next() {
		var (
			status types.ConflictStatus
			ctype  types.ConflictType
			n      int
		)
		if err := rows.Scan(&status, &ctype, &n); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan conflict stats: %w", err)
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.ByType[ctype] += n
	}
	return stats, rows.Err()
}
