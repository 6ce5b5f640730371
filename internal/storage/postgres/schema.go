// Package postgres provides the PostgreSQL implementation of the storage
// interfaces, with pgvector-accelerated similarity search when the extension
// is installed.
package postgres

// Schema contains the base SQL schema. Every statement is idempotent so the
// schema can be re-applied on startup.
const Schema = `
-- Organizations: quota counters, maintained transactionally with inserts.
CREATE TABLE IF NOT EXISTS organizations (
    org_id TEXT PRIMARY KEY,
    max_entries INTEGER NOT NULL DEFAULT 0, -- 0 = unlimited
    current_entries INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Memory entries: append-only version chains.
CREATE TABLE IF NOT EXISTS memory_entries (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    namespace TEXT NOT NULL,
    agent_id TEXT NOT NULL DEFAULT '',
    department TEXT NOT NULL DEFAULT '',

    content_type TEXT NOT NULL DEFAULT 'text',
    content TEXT NOT NULL,
    embedding_json JSONB,
    metadata JSONB,

    confidence REAL NOT NULL DEFAULT 0,
    reputation REAL NOT NULL DEFAULT 50,
    usage_count INTEGER NOT NULL DEFAULT 0,
    validation_count INTEGER NOT NULL DEFAULT 0,

    version INTEGER NOT NULL DEFAULT 1,
    parent_id TEXT NOT NULL DEFAULT '',
    root_id TEXT NOT NULL,
    is_latest BOOLEAN NOT NULL DEFAULT TRUE,

    memory_type TEXT NOT NULL DEFAULT '',
    pool_type TEXT NOT NULL DEFAULT 'private',

    claim_key TEXT NOT NULL DEFAULT '',
    claim_value TEXT NOT NULL DEFAULT '',

    state TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    accessed_at TIMESTAMPTZ,
    expires_at TIMESTAMPTZ,
    decay_factor REAL NOT NULL DEFAULT 0,
    decay_checkpoint TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entries_org_ns ON memory_entries(org_id, namespace);
CREATE INDEX IF NOT EXISTS idx_entries_chain ON memory_entries(root_id, version);
CREATE INDEX IF NOT EXISTS idx_entries_claim ON memory_entries(org_id, namespace, claim_key)
    WHERE claim_key <> '';
-- At most one latest row per chain.
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_one_latest ON memory_entries(root_id)
    WHERE is_latest;

-- Cached scores, one-to-one with entries.
CREATE TABLE IF NOT EXISTS memory_scores (
    memory_id TEXT PRIMARY KEY REFERENCES memory_entries(id) ON DELETE CASCADE,
    base_score REAL NOT NULL DEFAULT 0,
    decay_multiplier REAL NOT NULL DEFAULT 1,
    final_score REAL NOT NULL DEFAULT 0,
    last_calculated TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_scores_final ON memory_scores(final_score DESC);

-- Typed directed edges between entries.
CREATE TABLE IF NOT EXISTS memory_relations (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL REFERENCES memory_entries(id) ON DELETE CASCADE,
    target_id TEXT NOT NULL REFERENCES memory_entries(id) ON DELETE CASCADE,
    relation_type TEXT NOT NULL,
    strength REAL NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    inferred_by TEXT NOT NULL DEFAULT 'rule',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE(source_id, target_id, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_relations_source ON memory_relations(source_id);
CREATE INDEX IF NOT EXISTS idx_relations_target ON memory_relations(target_id);

-- Entity tags and their entry links.
CREATE TABLE IF NOT EXISTS entity_tags (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT '',
    UNIQUE(name, type)
);

CREATE TABLE IF NOT EXISTS memory_entities (
    memory_id TEXT NOT NULL REFERENCES memory_entries(id) ON DELETE CASCADE,
    entity_id TEXT NOT NULL REFERENCES entity_tags(id) ON DELETE CASCADE,
    mention_count INTEGER NOT NULL DEFAULT 1,
    confidence REAL NOT NULL DEFAULT 1.0,
    PRIMARY KEY (memory_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_memory_entities_entity ON memory_entities(entity_id);

-- Detected conflicts. The pair is stored unordered via LEAST/GREATEST.
CREATE TABLE IF NOT EXISTS memory_conflicts (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    namespace TEXT NOT NULL DEFAULT '',
    memory_a TEXT NOT NULL,
    memory_b TEXT NOT NULL,
    conflict_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    winner_id TEXT NOT NULL DEFAULT '',
    resolved_by TEXT NOT NULL DEFAULT '',
    explanation TEXT NOT NULL DEFAULT '',
    resolved_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conflicts_pair
    ON memory_conflicts(LEAST(memory_a, memory_b), GREATEST(memory_a, memory_b));
CREATE INDEX IF NOT EXISTS idx_conflicts_org_status ON memory_conflicts(org_id, status);

-- Governance policies, one per (org, namespace, type) scope.
CREATE TABLE IF NOT EXISTS memory_policies (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    namespace TEXT NOT NULL DEFAULT '',
    policy_type TEXT NOT NULL,
    rules JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE(org_id, namespace, policy_type)
);
`

// migrationPgvectorTmpl adds the vector column and its ANN index. Applied
// only when the pgvector extension is available; the placeholder is the
// configured embedding dimension.
const migrationPgvectorTmpl = `
ALTER TABLE memory_entries ADD COLUMN IF NOT EXISTS embedding_vec vector(%d);

CREATE INDEX IF NOT EXISTS idx_entries_embedding ON memory_entries
    USING hnsw (embedding_vec vector_cosine_ops);
`
