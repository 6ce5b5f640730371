package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

// --- ScoreStore ---

func (s *Store) UpsertScore(ctx context.Context, sc *types.MemoryScore) error {
	if sc == nil || sc.MemoryID == "" {
		return fmt.Errorf("%w: score with memory ID required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_scores (memory_id, base_score, decay_multiplier, final_score, last_calculated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (memory_id) DO UPDATE SET
			base_score = EXCLUDED.base_score,
			decay_multiplier = EXCLUDED.decay_multiplier,
			final_score = EXCLUDED.final_score,
			last_calculated = EXCLUDED.last_calculated`,
		sc.MemoryID, sc.BaseScore, sc.DecayMultiplier, sc.FinalScore, sc.LastCalculated)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert score: %w", err)
	}
	return nil
}

func (s *Store) GetScore(ctx context.Context, memoryID string) (*types.MemoryScore, error) {
	var sc types.MemoryScore
	err := s.db.QueryRowContext(ctx, `
		SELECT memory_id, base_score, decay_multiplier, final_score, last_calculated
		FROM memory_scores WHERE memory_id = $1`, memoryID).
		Scan(&sc.MemoryID, &sc.BaseScore, &sc.DecayMultiplier, &sc.FinalScore, &sc.LastCalculated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get score: %w", err)
	}
	return &sc, nil
}

// --- RelationStore ---

func (s *Store) UpsertRelation(ctx context.Context, r *types.MemoryRelation) error {
	if r == nil || r.SourceID == "" || r.TargetID == "" {
		return fmt.Errorf("%w: relation endpoints required", storage.ErrInvalidInput)
	}
	if !types.ValidRelationType(r.Type) {
		return fmt.Errorf("%w: relation type %q", storage.ErrInvalidInput, r.Type)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_relations (id, source_id, target_id, relation_type, strength, confidence, reason, inferred_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_id, target_id, relation_type) DO UPDATE SET
			strength = EXCLUDED.strength,
			confidence = EXCLUDED.confidence,
			reason = EXCLUDED.reason,
			inferred_by = EXCLUDED.inferred_by`,
		r.ID, r.SourceID, r.TargetID, r.Type, r.Strength, r.Confidence, r.Reason, r.InferredBy, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert relation: %w", err)
	}
	return nil
}

const relationColumns = `id, source_id, target_id, relation_type, strength, confidence, reason, inferred_by, created_at`

func (s *Store) RelationsFrom(ctx context.Context, sourceID string, rtypes []types.RelationType) ([]*types.MemoryRelation, error) {
	return s.queryRelations(ctx, "source_id = $1", sourceID, rtypes)
}

func (s *Store) RelationsTo(ctx context.Context, targetID string, rtypes []types.RelationType) ([]*types.MemoryRelation, error) {
	return s.queryRelations(ctx, "target_id = $1", targetID, rtypes)
}

func (s *Store) RelationsOf(ctx context.Context, id string, rtypes []types.RelationType) ([]*types.MemoryRelation, error) {
	return s.queryRelations(ctx, "(source_id = $1 OR target_id = $1)", id, rtypes)
}

func (s *Store) queryRelations(ctx context.Context, cond, id string, rtypes []types.RelationType) ([]*types.MemoryRelation, error) {
	args := []interface{}{id}
	if len(rtypes) > 0 {
		placeholders := make([]string, len(rtypes))
		for i, rt := range rtypes {
			args = append(args, string(rt))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		cond += " AND relation_type IN (" + strings.Join(placeholders, ", ") + ")"
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationColumns+` FROM memory_relations WHERE `+cond, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: relation query failed: %w", err)
	}
	defer rows.Close()

	var out []*types.MemoryRelation
	for rows.Next() {
		var r types.MemoryRelation
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type,
			&r.Strength, &r.Confidence, &r.Reason, &r.InferredBy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan relation: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRelationsFor(ctx context.Context, memoryID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_relations WHERE source_id = $1 OR target_id = $1`, memoryID)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete relations: %w", err)
	}
	return nil
}

// --- EntityStore ---

func (s *Store) ReplaceEntities(ctx context.Context, memoryID string, tags []types.EntityTag) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_entities WHERE memory_id = $1`, memoryID); err != nil {
		return fmt.Errorf("postgres: failed to clear entity links: %w", err)
	}

	for _, tag := range tags {
		name := strings.ToLower(strings.TrimSpace(tag.Name))
		if name == "" {
			continue
		}
		id := tag.ID
		if id == "" {
			id = uuid.NewString()
		}
		// Upsert the tag, then link it. The tag row is shared across entries.
		var entityID string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO entity_tags (id, name, type) VALUES ($1, $2, $3)
			ON CONFLICT (name, type) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, id, name, tag.Type).Scan(&entityID)
		if err != nil {
			return fmt.Errorf("postgres: failed to upsert entity tag: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_entities (memory_id, entity_id, mention_count, confidence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (memory_id, entity_id) DO UPDATE SET
				mention_count = EXCLUDED.mention_count,
				confidence = EXCLUDED.confidence`,
			memoryID, entityID, tag.MentionCount, tag.Confidence); err != nil {
			return fmt.Errorf("postgres: failed to link entity: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit entity replacement: %w", err)
	}
	return nil
}

func (s *Store) EntitiesFor(ctx context.Context, memoryID string) ([]types.EntityTag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.type, me.mention_count, me.confidence
		FROM memory_entities me
		JOIN entity_tags t ON t.id = me.entity_id
		WHERE me.memory_id = $1`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: entity query failed: %w", err)
	}
	defer rows.Close()

	var out []types.EntityTag
	for rows.Next() {
		var t types.EntityTag
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &t.MentionCount, &t.Confidence); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan entity: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) EntriesSharingEntities(ctx context.Context, memoryID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.selectIDs(ctx, `
		SELECT DISTINCT other.memory_id
		FROM memory_entities mine
		JOIN memory_entities other ON other.entity_id = mine.entity_id
		JOIN memory_entries e ON e.id = other.memory_id
		WHERE mine.memory_id = $1 AND other.memory_id <> $1
		  AND e.is_latest AND e.state = 'active'
		LIMIT $2`, memoryID, limit)
}

func (s *Store) EntriesCreatedWithin(ctx context.Context, orgID string, center time.Time, window time.Duration, excludeID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.selectIDs(ctx, `
		SELECT id FROM memory_entries
		WHERE org_id = $1 AND id <> $2 AND is_latest AND state = 'active'
		  AND created_at BETWEEN $3 AND $4
		LIMIT $5`,
		orgID, excludeID, center.Add(-window), center.Add(window), limit)
}
