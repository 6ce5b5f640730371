package postgres

import (
	"context"
	"fmt"
	"log"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/awarenet/memcore/internal/storage"
)

// filterColumns whitelists the metadata filter keys the search accepts and
// maps them to entry columns. Unknown keys are rejected, never interpolated.
var filterColumns = map[string]string{
	"org_id":       "org_id",
	"namespace":    "namespace",
	"pool_type":    "pool_type",
	"agent_id":     "agent_id",
	"department":   "department",
	"content_type": "content_type",
	"memory_type":  "memory_type",
}

// Insert populates the pgvector column for an existing entry row. The JSON
// copy of the embedding is written by InsertEntry; this adds the indexed form.
func (s *Store) Insert(ctx context.Context, item storage.VectorItem) error {
	if item.ID == "" {
		return fmt.Errorf("%w: vector item ID required", storage.ErrInvalidInput)
	}
	if !s.pgvectorAvailable {
		return nil
	}
	if len(item.Vector) != s.dim {
		return fmt.Errorf("%w: vector dimension %d, index expects %d",
			storage.ErrInvalidInput, len(item.Vector), s.dim)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_entries SET embedding_vec = $2 WHERE id = $1`,
		item.ID, pgvector.NewVector(item.Vector))
	if err != nil {
		return fmt.Errorf("postgres: failed to store vector: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) BatchInsert(ctx context.Context, items []storage.VectorItem) error {
	for _, item := range items {
		if err := s.Insert(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Search runs cosine-distance search over latest, active entries. Similarity
// is 1 − cosine distance, clamped to [0,1]. Without pgvector the search
// degrades to empty results.
func (s *Store) Search(ctx context.Context, query []float32, limit int, filters map[string]string) ([]storage.VectorMatch, error) {
	if limit < 1 {
		limit = 10
	}
	if !s.pgvectorAvailable {
		log.Printf("postgres: vector search requested but pgvector is unavailable")
		return nil, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query dimension %d, index expects %d",
			storage.ErrInvalidInput, len(query), s.dim)
	}

	cond := `is_latest AND state = 'active' AND embedding_vec IS NOT NULL`
	args := []interface{}{pgvector.NewVector(query)}
	for key, val := range filters {
		col, ok := filterColumns[key]
		if !ok {
			return nil, fmt.Errorf("%w: unknown search filter %q", storage.ErrInvalidInput, key)
		}
		args = append(args, val)
		cond += fmt.Sprintf(" AND %s = $%d", col, len(args))
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, 1 - (embedding_vec <=> $1::vector) AS similarity
		FROM memory_entries
		WHERE %s
		ORDER BY embedding_vec <=> $1::vector
		LIMIT $%d`, cond, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search failed: %w", err)
	}
	defer rows.Close()

	var out []storage.VectorMatch
	for rows.Next() {
		var m storage.VectorMatch
		if err := rows.Scan(&m.ID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan match: %w", err)
		}
		if m.Similarity < 0 {
			m.Similarity = 0
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete clears the vector column; the entry row itself is lifecycle-managed
// by the entry store.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_entries SET embedding_vec = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete vector: %w", err)
	}
	return requireAffected(res)
}

// UpdateMetadata is a no-op: the postgres search filters on entry columns
// directly, so there is no separate metadata copy to refresh.
func (s *Store) UpdateMetadata(ctx context.Context, id string, meta map[string]string) error {
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}
