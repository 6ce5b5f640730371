package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

const entryColumns = `id, org_id, namespace, agent_id, department,
	content_type, content, embedding_json, metadata,
	confidence, reputation, usage_count, validation_count,
	version, parent_id, root_id, is_latest,
	memory_type, pool_type, claim_key, claim_value,
	state, created_at, updated_at, accessed_at, expires_at,
	decay_factor, decay_checkpoint`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*types.MemoryEntry, error) {
	var (
		e             types.MemoryEntry
		embeddingJSON []byte
		metadataJSON  []byte
		accessedAt    sql.NullTime
		expiresAt     sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.OrgID, &e.Namespace, &e.AgentID, &e.Department,
		&e.ContentType, &e.Content, &embeddingJSON, &metadataJSON,
		&e.Confidence, &e.Reputation, &e.UsageCount, &e.ValidationCount,
		&e.Version, &e.ParentID, &e.RootID, &e.IsLatest,
		&e.MemoryType, &e.PoolType, &e.ClaimKey, &e.ClaimValue,
		&e.State, &e.CreatedAt, &e.UpdatedAt, &accessedAt, &expiresAt,
		&e.DecayFactor, &e.DecayCheckpoint,
	)
	if err != nil {
		return nil, err
	}
	if len(embeddingJSON) > 0 {
		if err := json.Unmarshal(embeddingJSON, &e.Embedding); err != nil {
			return nil, fmt.Errorf("postgres: failed to decode embedding: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: failed to decode metadata: %w", err)
		}
	}
	if accessedAt.Valid {
		t := accessedAt.Time
		e.AccessedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
	}
	return &e, nil
}

func encodeEntry(e *types.MemoryEntry) (embeddingJSON, metadataJSON []byte, err error) {
	if len(e.Embedding) > 0 {
		embeddingJSON, err = json.Marshal(e.Embedding)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: failed to encode embedding: %w", err)
		}
	}
	if len(e.Metadata) > 0 {
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: failed to encode metadata: %w", err)
		}
	}
	return embeddingJSON, metadataJSON, nil
}

func (s *Store) InsertEntry(ctx context.Context, e *types.MemoryEntry) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("%w: entry and ID are required", storage.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := chargeQuotaTx(ctx, tx, e.OrgID); err != nil {
		return err
	}
	if err := insertEntryTx(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit insert: %w", err)
	}
	return nil
}

// chargeQuotaTx locks the org row, checks the cap and increments the counter.
// Unregistered orgs pass through uncharged.
func chargeQuotaTx(ctx context.Context, tx *sql.Tx, orgID string) error {
	var max, current int
	err := tx.QueryRowContext(ctx,
		`SELECT max_entries, current_entries FROM organizations WHERE org_id = $1 FOR UPDATE`,
		orgID).Scan(&max, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to read quota: %w", err)
	}
	if max > 0 && current >= max {
		return storage.ErrQuotaExceeded
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE organizations SET current_entries = current_entries + 1, updated_at = NOW() WHERE org_id = $1`,
		orgID)
	if err != nil {
		return fmt.Errorf("postgres: failed to charge quota: %w", err)
	}
	return nil
}

func insertEntryTx(ctx context.Context, tx *sql.Tx, e *types.MemoryEntry) error {
	embeddingJSON, metadataJSON, err := encodeEntry(e)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_entries (
			id, org_id, namespace, agent_id, department,
			content_type, content, embedding_json, metadata,
			confidence, reputation, usage_count, validation_count,
			version, parent_id, root_id, is_latest,
			memory_type, pool_type, claim_key, claim_value,
			state, created_at, updated_at, decay_factor, decay_checkpoint
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)`,
		e.ID, e.OrgID, e.Namespace, e.AgentID, e.Department,
		e.ContentType, e.Content, embeddingJSON, metadataJSON,
		e.Confidence, e.Reputation, e.UsageCount, e.ValidationCount,
		e.Version, e.ParentID, e.RootID, e.IsLatest,
		e.MemoryType, e.PoolType, e.ClaimKey, e.ClaimValue,
		e.State, e.CreatedAt, e.UpdatedAt, e.DecayFactor, e.DecayCheckpoint,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*types.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM memory_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get entry: %w", err)
	}
	return e, nil
}

func (s *Store) ListNamespace(ctx context.Context, orgID, namespace string, opts storage.ListOptions) ([]*types.MemoryEntry, error) {
	opts.Normalize()

	var (
		conds = []string{"org_id = $1", "namespace = $2"}
		args  = []interface{}{orgID, namespace}
	)
	addCond := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if *opts.LatestOnly {
		conds = append(conds, "is_latest")
	}
	if !opts.IncludeExpired {
		conds = append(conds, "state <> 'expired'")
	}
	if opts.Pool != "" {
		addCond("pool_type = $%d", opts.Pool)
	}
	if opts.AgentID != "" {
		addCond("agent_id = $%d", opts.AgentID)
	}
	if opts.Department != "" {
		addCond("department = $%d", opts.Department)
	}
	if opts.MemoryType != "" {
		addCond("memory_type = $%d", opts.MemoryType)
	}
	args = append(args, opts.Limit, opts.Offset)

	query := fmt.Sprintf(`SELECT %s FROM memory_entries WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		entryColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	return s.queryEntries(ctx, query, args...)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*types.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: entry query failed: %w", err)
	}
	defer rows.Close()

	var out []*types.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CountNamespace(ctx context.Context, orgID, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_entries
		WHERE org_id = $1 AND namespace = $2 AND is_latest AND state <> 'expired'`,
		orgID, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count namespace: %w", err)
	}
	return n, nil
}

func (s *Store) LatestByClaimKey(ctx context.Context, orgID, namespace, claimKey string) ([]*types.MemoryEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM memory_entries
		WHERE org_id = $1 AND namespace = $2 AND claim_key = $3
		  AND is_latest AND state <> 'expired'
		ORDER BY created_at ASC`,
		orgID, namespace, claimKey)
}

func (s *Store) CreateVersion(ctx context.Context, child *types.MemoryEntry) error {
	if child == nil || child.ID == "" || child.RootID == "" {
		return fmt.Errorf("%w: child entry with ID and RootID required", storage.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var latestID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM memory_entries WHERE root_id = $1 AND is_latest FOR UPDATE`,
		child.RootID).Scan(&latestID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to lock chain head: %w", err)
	}
	if latestID != child.ParentID {
		return storage.ErrNotLatest
	}

	if err := chargeQuotaTx(ctx, tx, child.OrgID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_entries SET is_latest = FALSE, updated_at = NOW() WHERE id = $1`,
		latestID); err != nil {
		return fmt.Errorf("postgres: failed to demote chain head: %w", err)
	}
	if err := insertEntryTx(ctx, tx, child); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit version: %w", err)
	}
	return nil
}

func (s *Store) Chain(ctx context.Context, rootID string) ([]*types.MemoryEntry, error) {
	out, err := s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM memory_entries
		WHERE root_id = $1 ORDER BY version ASC`, rootID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, storage.ErrNotFound
	}
	return out, nil
}

func (s *Store) SetLatest(ctx context.Context, rootID, targetID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inChain bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM memory_entries WHERE id = $1 AND root_id = $2)`,
		targetID, rootID).Scan(&inChain)
	if err != nil {
		return fmt.Errorf("postgres: failed to verify chain membership: %w", err)
	}
	if !inChain {
		var any bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM memory_entries WHERE root_id = $1)`,
			rootID).Scan(&any); err != nil {
			return fmt.Errorf("postgres: failed to verify chain: %w", err)
		}
		if !any {
			return storage.ErrNotFound
		}
		return fmt.Errorf("%w: %s is not part of chain %s", storage.ErrInvalidInput, targetID, rootID)
	}

	// Clear first so the partial unique index never sees two latest rows.
	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_entries SET is_latest = FALSE, updated_at = NOW()
		 WHERE root_id = $1 AND is_latest`, rootID); err != nil {
		return fmt.Errorf("postgres: failed to clear latest flag: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_entries SET is_latest = TRUE, updated_at = NOW() WHERE id = $1`,
		targetID); err != nil {
		return fmt.Errorf("postgres: failed to set latest flag: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit latest flip: %w", err)
	}
	return nil
}

func (s *Store) SoftDeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_entries
		SET is_latest = FALSE, expires_at = NOW(), state = 'expired', updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to soft-delete entry: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ArchiveChain(ctx context.Context, rootID string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM memory_entries WHERE root_id = $1)`,
		rootID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("postgres: failed to verify chain: %w", err)
	}
	if !exists {
		return 0, storage.ErrNotFound
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_entries SET state = 'archived', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM memory_entries
			WHERE root_id = $1 AND state <> 'archived'
			ORDER BY version DESC OFFSET $2
		)`, rootID, keep)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to archive chain: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *Store) PurgeChain(ctx context.Context, rootID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var orgID string
	var n int
	err = tx.QueryRowContext(ctx,
		`SELECT org_id, COUNT(*) OVER () FROM memory_entries WHERE root_id = $1 LIMIT 1`,
		rootID).Scan(&orgID, &n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to inspect chain: %w", err)
	}

	// Relations, scores and entity links cascade from the entry rows.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_entries WHERE root_id = $1`, rootID); err != nil {
		return 0, fmt.Errorf("postgres: failed to purge chain: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE organizations SET current_entries = GREATEST(0, current_entries - $2),
		       updated_at = NOW()
		WHERE org_id = $1`, orgID, n); err != nil {
		return 0, fmt.Errorf("postgres: failed to release quota: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: failed to commit purge: %w", err)
	}
	return n, nil
}

func (s *Store) TouchAccess(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_entries SET usage_count = usage_count + 1, accessed_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to touch entry: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) AddValidation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_entries SET validation_count = validation_count + 1, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to add validation: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) SetPool(ctx context.Context, id string, pool types.PoolType) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_entries SET pool_type = $2, updated_at = NOW() WHERE id = $1`,
		id, pool)
	if err != nil {
		return fmt.Errorf("postgres: failed to set pool: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) PromotionCandidates(ctx context.Context, orgID string, minValidations int) ([]*types.MemoryEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM memory_entries
		WHERE org_id = $1 AND pool_type = 'domain' AND is_latest
		  AND state = 'active' AND validation_count >= $2`,
		orgID, minValidations)
}

func (s *Store) StrategicCandidates(ctx context.Context, orgID string, f storage.StrategicFilter) ([]*types.MemoryEntry, error) {
	f.Normalize()
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM memory_entries
		WHERE org_id = $1 AND is_latest AND state = 'active'
		  AND confidence >= $2 AND usage_count >= $3 AND created_at >= $4
		ORDER BY created_at DESC LIMIT $5`,
		orgID, f.MinConfidence, f.MinUsage, time.Now().Add(-f.MaxAge), f.Limit)
}

func (s *Store) ExpireOlderThan(ctx context.Context, orgID, namespace string, cutoff time.Time, apply bool) ([]string, error) {
	if !apply {
		return s.selectIDs(ctx, `
			SELECT id FROM memory_entries
			WHERE org_id = $1 AND namespace = $2 AND is_latest AND state = 'active'
			  AND created_at < $3`, orgID, namespace, cutoff)
	}
	return s.selectIDs(ctx, `
		UPDATE memory_entries
		SET is_latest = FALSE, expires_at = NOW(), state = 'expired', updated_at = NOW()
		WHERE org_id = $1 AND namespace = $2 AND is_latest AND state = 'active'
		  AND created_at < $3
		RETURNING id`, orgID, namespace, cutoff)
}

func (s *Store) TrimToCount(ctx context.Context, orgID, namespace string, maxCount int, apply bool) ([]string, error) {
	if maxCount < 0 {
		return nil, nil
	}
	const victims = `
		SELECT id FROM memory_entries
		WHERE org_id = $1 AND namespace = $2 AND is_latest AND state = 'active'
		ORDER BY created_at DESC OFFSET $3`
	if !apply {
		return s.selectIDs(ctx, victims, orgID, namespace, maxCount)
	}
	return s.selectIDs(ctx, `
		UPDATE memory_entries
		SET is_latest = FALSE, expires_at = NOW(), state = 'expired', updated_at = NOW()
		WHERE id IN (`+victims+`)
		RETURNING id`, orgID, namespace, maxCount)
}

func (s *Store) ActiveEntries(ctx context.Context, orgID string, limit, offset int) ([]*types.MemoryEntry, error) {
	if limit < 1 {
		limit = 100
	}
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM memory_entries
		WHERE org_id = $1 AND is_latest AND state = 'active'
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
}

func (s *Store) PoolCounts(ctx context.Context, orgID string) (map[types.PoolType]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pool_type, COUNT(*) FROM memory_entries
		WHERE org_id = $1 AND is_latest AND state = 'active'
		GROUP BY pool_type`, orgID)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool count query failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.PoolType]int)
	for rows.Next() {
		var (
			pool types.PoolType
			n    int
		)
		if err := rows.Scan(&pool, &n); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan pool count: %w", err)
		}
		counts[pool] = n
	}
	return counts, rows.Err()
}

func (s *Store) selectIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: id query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
