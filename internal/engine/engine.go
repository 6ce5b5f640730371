// Package engine wires the subsystems into the memory lifecycle: validated
// writes with embeddings and quota, hybrid retrieval, version chains,
// conflict handling, pool routing and governance. Claim conflicts are
// detected in the write path right after commit; entity extraction, relation
// inference and conflict arbitration run afterwards on the task queue.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/awarenet/memcore/internal/config"
	"github.com/awarenet/memcore/internal/conflict"
	"github.com/awarenet/memcore/internal/extract"
	"github.com/awarenet/memcore/internal/governance"
	"github.com/awarenet/memcore/internal/pool"
	"github.com/awarenet/memcore/internal/provider"
	"github.com/awarenet/memcore/internal/relations"
	"github.com/awarenet/memcore/internal/retrieval"
	"github.com/awarenet/memcore/internal/scoring"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/internal/tasks"
	"github.com/awarenet/memcore/internal/version"
	"github.com/awarenet/memcore/pkg/types"
)

// Task types processed by the enrichment queue.
const (
	taskExtract   = "extract"
	taskRelations = "relations"
	taskArbitrate = "arbitrate"
)

// enrichmentPayload is the queue payload shared by the enrichment tasks.
type enrichmentPayload struct {
	MemoryID string `json:"memory_id"`
}

// arbitrationPayload is the queue payload for conflict arbitration.
type arbitrationPayload struct {
	ConflictID string `json:"conflict_id"`
}

// Engine is the orchestrator behind the public API.
type Engine struct {
	cfg      *config.Config
	store    storage.Store
	vectors  storage.VectorStore
	embedder provider.Embedder
	reasoner provider.Reasoner

	scorer     *scoring.Scorer
	retriever  *retrieval.Retriever
	router     *pool.Router
	promoter   *pool.Promoter
	extractor  *extract.Extractor
	relations  *relations.Builder
	detector   *conflict.Detector
	scanner    *conflict.Scanner
	resolver   *conflict.Resolver
	arbiter    *conflict.Arbiter
	versions   *version.Manager
	governance *governance.Service
	runner     *tasks.Runner

	jobs *jobRunner
}

// New assembles an engine. queue backs the enrichment task runner; pass a
// MemoryBackend when durability across restarts is not needed.
func New(cfg *config.Config, store storage.Store, vectors storage.VectorStore,
	embedder provider.Embedder, reasoner provider.Reasoner, queue tasks.Backend) *Engine {

	scorer := scoring.NewScorer()
	if cfg.Scoring.ReputationFeedback {
		scorer.EnableReputationFeedback()
	}
	resolver := conflict.NewResolver(store, scorer)

	e := &Engine{
		cfg:        cfg,
		store:      store,
		vectors:    vectors,
		embedder:   embedder,
		reasoner:   reasoner,
		scorer:     scorer,
		retriever:  retrieval.New(store, vectors, scorer),
		promoter:   pool.NewPromoter(store, vectors, scorer),
		extractor:  extract.New(reasoner),
		relations:  relations.New(store, vectors, reasoner),
		detector:   conflict.NewDetector(store),
		scanner:    conflict.NewScanner(store, reasoner),
		resolver:   resolver,
		arbiter:    conflict.NewArbiter(store, resolver, reasoner),
		versions:   version.NewManager(store),
		governance: governance.New(store),
		runner:     tasks.NewRunner(queue, cfg.Tasks.Workers),
	}
	e.router = pool.NewRouter(e.retriever)
	e.jobs = newJobRunner(e)

	e.runner.Handle(taskExtract, e.handleExtract)
	e.runner.Handle(taskRelations, e.handleRelations)
	e.runner.Handle(taskArbitrate, e.handleArbitrate)
	return e
}

// Start launches the task workers and the scheduled background jobs.
func (e *Engine) Start() error {
	e.runner.Start()
	return e.jobs.start(e.cfg.Jobs)
}

// Close stops background work and releases the store.
func (e *Engine) Close() error {
	e.jobs.stop()
	e.runner.Stop()
	return e.store.Close()
}

// newID mints a time-sortable entry ID.
func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// CreateRequest carries one memory write.
type CreateRequest struct {
	Namespace  string `json:"namespace"`
	AgentID    string `json:"agent_id"`
	Department string `json:"department,omitempty"`

	Content     string                 `json:"content"`
	ContentType types.ContentType      `json:"content_type,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	MemoryType types.MemoryType `json:"memory_type,omitempty"`
	Pool       types.PoolType   `json:"pool_type,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`

	ClaimKey   string `json:"claim_key,omitempty"`
	ClaimValue string `json:"claim_value,omitempty"`

	DecayFactor float64 `json:"decay_factor,omitempty"`
}

// CreateMemory validates, embeds and commits a new entry, scans it for claim
// conflicts, then queues its enrichment. The entry is durable and searchable
// when this returns, and any claim conflict with an existing entry is already
// recorded; entity tags and relations appear shortly after.
func (e *Engine) CreateMemory(ctx context.Context, req CreateRequest) (*types.MemoryEntry, error) {
	if err := types.ValidateNamespace(req.Namespace); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if req.Content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	orgID := types.NamespaceOrg(req.Namespace)
	if err := e.governance.CheckAccess(ctx, orgID, req.Namespace, req.AgentID, types.OpWrite); err != nil {
		return nil, err
	}

	if req.ContentType == "" {
		req.ContentType = types.ContentText
	}
	if req.Pool == "" {
		req.Pool = types.PoolPrivate
	}
	if req.Confidence == 0 {
		req.Confidence = 0.5
	}

	// Cheap pre-check so a full org does not burn an embedding call. The
	// transactional count inside InsertEntry stays the authoritative gate.
	if quota, qerr := e.store.GetQuota(ctx, orgID); qerr == nil && quota.Exceeded() {
		return nil, fmt.Errorf("%w: org %s is at its entry cap", storage.ErrQuotaExceeded, orgID)
	}

	embedding, err := e.embed(ctx, req.Content)
	if err != nil {
		if req.ContentType.RequiresEmbedding() {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
		log.Printf("engine: storing %s entry without embedding: %v", req.ContentType, err)
		embedding = nil
	}

	now := time.Now()
	id := newID()
	entry := &types.MemoryEntry{
		ID:         id,
		OrgID:      orgID,
		Namespace:  req.Namespace,
		AgentID:    req.AgentID,
		Department: req.Department,

		ContentType: req.ContentType,
		Content:     req.Content,
		Embedding:   embedding,
		Metadata:    req.Metadata,

		Confidence: req.Confidence,
		Reputation: 50,

		Version:  1,
		RootID:   id,
		IsLatest: true,

		MemoryType: req.MemoryType,
		PoolType:   req.Pool,

		ClaimKey:   req.ClaimKey,
		ClaimValue: req.ClaimValue,

		State:           types.StateActive,
		CreatedAt:       now,
		UpdatedAt:       now,
		DecayFactor:     req.DecayFactor,
		DecayCheckpoint: now,
	}
	entry.Clamp()

	if err := e.store.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	e.indexEntry(ctx, entry)
	e.scanClaims(ctx, entry)
	e.enqueueEnrichment(ctx, entry)
	return entry, nil
}

// scanClaims runs claim-mismatch detection right after a write commits, so a
// conflicting pair is visible to readers before the call returns. Failures
// are logged; the periodic scan picks up anything missed.
func (e *Engine) scanClaims(ctx context.Context, entry *types.MemoryEntry) {
	if _, err := e.detector.ScanClaims(ctx, entry); err != nil {
		log.Printf("engine: claim scan for %s failed: %v", entry.ID, err)
	}
}

// indexEntry caches the initial score and registers the embedding with the
// vector store. Both are best-effort: the committed row is the source of
// truth and sweeps repair the caches.
func (e *Engine) indexEntry(ctx context.Context, entry *types.MemoryEntry) {
	score := e.scorer.Score(entry)
	if err := e.store.UpsertScore(ctx, &score); err != nil {
		log.Printf("engine: initial score for %s failed: %v", entry.ID, err)
	}
	if len(entry.Embedding) == 0 {
		return
	}
	err := e.vectors.Insert(ctx, storage.VectorItem{
		ID:       entry.ID,
		Vector:   entry.Embedding,
		Metadata: vectorMetadata(entry),
	})
	if err != nil {
		log.Printf("engine: vector insert for %s failed: %v", entry.ID, err)
	}
}

func vectorMetadata(e *types.MemoryEntry) map[string]string {
	meta := map[string]string{
		"org_id":       e.OrgID,
		"namespace":    e.Namespace,
		"pool_type":    string(e.PoolType),
		"content_type": string(e.ContentType),
	}
	if e.AgentID != "" {
		meta["agent_id"] = e.AgentID
	}
	if e.Department != "" {
		meta["department"] = e.Department
	}
	if e.MemoryType != "" {
		meta["memory_type"] = string(e.MemoryType)
	}
	return meta
}

func (e *Engine) embed(ctx context.Context, content string) ([]float32, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Provider.Timeout)
	defer cancel()
	return e.embedder.Embed(ctx, content)
}

func (e *Engine) enqueueEnrichment(ctx context.Context, entry *types.MemoryEntry) {
	payload := enrichmentPayload{MemoryID: entry.ID}
	for _, taskType := range []string{taskExtract, taskRelations} {
		if err := e.runner.Enqueue(ctx, taskType, payload); err != nil {
			log.Printf("engine: failed to queue %s for %s: %v", taskType, entry.ID, err)
		}
	}
}

// GetMemory fetches an entry. touch records the access for scoring.
func (e *Engine) GetMemory(ctx context.Context, id, agentID string, touch bool) (*types.MemoryEntry, error) {
	entry, err := e.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.governance.CheckAccess(ctx, entry.OrgID, entry.Namespace, agentID, types.OpRead); err != nil {
		return nil, err
	}
	if touch {
		if err := e.store.TouchAccess(ctx, id); err != nil {
			log.Printf("engine: access touch for %s failed: %v", id, err)
		}
	}
	return entry, nil
}

// SearchRequest is one hybrid retrieval call.
type SearchRequest struct {
	Query     string `json:"query"`
	Namespace string `json:"namespace,omitempty"`
	OrgID     string `json:"org_id"`
	AgentID   string `json:"agent_id,omitempty"`
	Pool      string `json:"pool,omitempty"`

	Limit       int  `json:"limit,omitempty"`
	ExpandGraph bool `json:"expand_graph,omitempty"`

	// Graph expansion knobs, meaningful only with ExpandGraph.
	MaxDepth      int                  `json:"max_depth,omitempty"`
	RelationTypes []types.RelationType `json:"relation_types,omitempty"`
	MinConfidence float64              `json:"min_confidence,omitempty"`
}

// Search embeds the query and runs hybrid retrieval.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*retrieval.Result, error) {
	if req.OrgID == "" {
		return nil, fmt.Errorf("%w: org is required", storage.ErrInvalidInput)
	}
	if req.Namespace != "" {
		if err := e.governance.CheckAccess(ctx, req.OrgID, req.Namespace, req.AgentID, types.OpRead); err != nil {
			return nil, err
		}
	}
	queryVec, err := e.embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	filters := map[string]string{"org_id": req.OrgID}
	if req.Namespace != "" {
		filters["namespace"] = req.Namespace
	}
	if req.Pool != "" {
		filters["pool_type"] = req.Pool
	}
	result, err := e.retriever.Query(ctx, queryVec, retrieval.Options{
		Limit:         req.Limit,
		Filters:       filters,
		ExpandGraph:   req.ExpandGraph,
		MaxDepth:      req.MaxDepth,
		RelationTypes: req.RelationTypes,
		MinConfidence: req.MinConfidence,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(result.Entries))
	for _, se := range result.Entries {
		ids = append(ids, se.Entry.ID)
	}
	go e.touchHits(ids)
	return result, nil
}

// touchHits records retrieval hits off the request path: usage counters bump
// and cached scores refresh without delaying the response.
func (e *Engine) touchHits(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range ids {
		if err := e.store.TouchAccess(ctx, id); err != nil {
			log.Printf("engine: access touch for %s failed: %v", id, err)
			continue
		}
		entry, err := e.store.GetEntry(ctx, id)
		if err != nil {
			continue
		}
		score := e.scorer.Score(entry)
		if err := e.store.UpsertScore(ctx, &score); err != nil {
			log.Printf("engine: score refresh for %s failed: %v", id, err)
		}
	}
}

// RetrieveContext assembles the pool-ordered, token-budgeted context for an
// agent query.
func (e *Engine) RetrieveContext(ctx context.Context, query string, id pool.Identity) (*pool.Context, error) {
	queryVec, err := e.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}
	return e.router.Retrieve(ctx, queryVec, id)
}

// UpdateRequest carries a content update, which always creates a new version.
type UpdateRequest struct {
	AgentID    string                 `json:"agent_id"`
	Content    string                 `json:"content"`
	Confidence *float64               `json:"confidence,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	ClaimKey   *string                `json:"claim_key,omitempty"`
	ClaimValue *string                `json:"claim_value,omitempty"`
}

// UpdateMemory appends a new version after id. Fails with ErrNotLatest when
// id is no longer its chain's head.
func (e *Engine) UpdateMemory(ctx context.Context, id string, req UpdateRequest) (*types.MemoryEntry, error) {
	parent, err := e.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.governance.CheckAccess(ctx, parent.OrgID, parent.Namespace, req.AgentID, types.OpWrite); err != nil {
		return nil, err
	}

	embedding, err := e.embed(ctx, req.Content)
	if err != nil {
		if parent.ContentType.RequiresEmbedding() {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
		embedding = nil
	}

	child, err := e.versions.CreateVersion(ctx, id, version.Update{
		Content:    req.Content,
		Embedding:  embedding,
		Confidence: req.Confidence,
		Metadata:   req.Metadata,
		ClaimKey:   req.ClaimKey,
		ClaimValue: req.ClaimValue,
	})
	if err != nil {
		return nil, err
	}

	// The parent is no longer latest; swap it out of the similarity index.
	if err := e.vectors.Delete(ctx, parent.ID); err != nil {
		log.Printf("engine: vector removal for %s failed: %v", parent.ID, err)
	}
	e.indexEntry(ctx, child)
	e.scanClaims(ctx, child)
	e.enqueueEnrichment(ctx, child)
	return child, nil
}

// DeleteMemory soft-deletes one entry. History is preserved.
func (e *Engine) DeleteMemory(ctx context.Context, id, agentID string) error {
	entry, err := e.store.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if err := e.governance.CheckAccess(ctx, entry.OrgID, entry.Namespace, agentID, types.OpWrite); err != nil {
		return err
	}
	if err := e.store.SoftDeleteEntry(ctx, id); err != nil {
		return err
	}
	if err := e.vectors.Delete(ctx, id); err != nil {
		log.Printf("engine: vector removal for %s failed: %v", id, err)
	}
	return nil
}

// ArchiveMemory archives all but the newest keep versions of a chain.
func (e *Engine) ArchiveMemory(ctx context.Context, rootID string, keep int) (int, error) {
	return e.versions.ArchiveOldVersions(ctx, rootID, keep)
}

// PurgeMemory physically removes a whole chain. The only destructive call.
func (e *Engine) PurgeMemory(ctx context.Context, rootID string) (int, error) {
	chain, err := e.store.Chain(ctx, rootID)
	if err != nil {
		return 0, err
	}
	n, err := e.store.PurgeChain(ctx, rootID)
	if err != nil {
		return 0, err
	}
	for _, row := range chain {
		if derr := e.vectors.Delete(ctx, row.ID); derr != nil {
			log.Printf("engine: vector removal for %s failed: %v", row.ID, derr)
		}
	}
	return n, nil
}

// ListMemories lists a namespace.
func (e *Engine) ListMemories(ctx context.Context, namespace, agentID string, opts storage.ListOptions) ([]*types.MemoryEntry, error) {
	if err := types.ValidateNamespace(namespace); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	orgID := types.NamespaceOrg(namespace)
	if err := e.governance.CheckAccess(ctx, orgID, namespace, agentID, types.OpRead); err != nil {
		return nil, err
	}
	return e.store.ListNamespace(ctx, orgID, namespace, opts)
}

// ValidateMemory records one validation and refreshes the cached score.
func (e *Engine) ValidateMemory(ctx context.Context, id string) (*types.MemoryScore, error) {
	if err := e.store.AddValidation(ctx, id); err != nil {
		return nil, err
	}
	entry, err := e.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	score := e.scorer.Score(entry)
	if err := e.store.UpsertScore(ctx, &score); err != nil {
		return nil, err
	}
	return &score, nil
}

// History returns a chain's versions, oldest first.
func (e *Engine) History(ctx context.Context, rootID string) ([]*types.MemoryEntry, error) {
	return e.versions.Tree(ctx, rootID)
}

// RollbackMemory makes an older version the chain head again and restores it
// in the similarity index.
func (e *Engine) RollbackMemory(ctx context.Context, rootID, targetID string) (*types.MemoryEntry, error) {
	prev, err := e.store.Chain(ctx, rootID)
	if err != nil {
		return nil, err
	}
	target, err := e.versions.Rollback(ctx, rootID, targetID)
	if err != nil {
		return nil, err
	}
	for _, row := range prev {
		if row.ID != targetID {
			if derr := e.vectors.Delete(ctx, row.ID); derr != nil {
				log.Printf("engine: vector removal for %s failed: %v", row.ID, derr)
			}
		}
	}
	if len(target.Embedding) > 0 {
		err := e.vectors.Insert(ctx, storage.VectorItem{
			ID: target.ID, Vector: target.Embedding, Metadata: vectorMetadata(target),
		})
		if err != nil {
			log.Printf("engine: vector restore for %s failed: %v", target.ID, err)
		}
	}
	return target, nil
}

// DiffVersions compares two versions of one chain.
func (e *Engine) DiffVersions(ctx context.Context, aID, bID string) (*version.Diff, error) {
	return e.versions.Diff(ctx, aID, bID)
}

// ListConflicts lists an org's conflicts, optionally filtered by status.
func (e *Engine) ListConflicts(ctx context.Context, orgID string, status types.ConflictStatus, limit int) ([]*types.MemoryConflict, error) {
	return e.store.ListConflicts(ctx, orgID, status, limit)
}

// ResolveConflict applies a strategy. An empty strategy selects the one the
// org's governance policy prescribes (score-wins by default).
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, strategy types.ResolutionStrategy) (*types.MemoryConflict, error) {
	minDelta := 0.0
	if strategy == "" {
		c, err := e.store.GetConflict(ctx, conflictID)
		if err != nil {
			return nil, err
		}
		strategy, minDelta = e.governance.StrategyFor(ctx, c)
	}
	c, err := e.resolver.Resolve(ctx, conflictID, strategy, minDelta)
	if err != nil {
		return nil, err
	}
	// Queued conflicts (explicit queue-arbitration, or a confidence-wins
	// tie) are settled asynchronously by the arbitration worker.
	if c.Status == types.ConflictQueued {
		payload := arbitrationPayload{ConflictID: c.ID}
		if qerr := e.runner.Enqueue(ctx, taskArbitrate, payload); qerr != nil {
			log.Printf("engine: failed to queue arbitration for %s: %v", c.ID, qerr)
		}
	}
	return c, nil
}

// ResolveConflictManually records a human decision.
func (e *Engine) ResolveConflictManually(ctx context.Context, conflictID, winnerID, reviewer, explanation string) (*types.MemoryConflict, error) {
	return e.resolver.ResolveManual(ctx, conflictID, winnerID, reviewer, explanation)
}

// IgnoreConflict dismisses a conflict permanently.
func (e *Engine) IgnoreConflict(ctx context.Context, conflictID, reason string) (*types.MemoryConflict, error) {
	return e.resolver.Ignore(ctx, conflictID, reason)
}

// ConflictStats aggregates an org's conflict counts.
func (e *Engine) ConflictStats(ctx context.Context, orgID string) (*types.ConflictStats, error) {
	return e.store.ConflictStats(ctx, orgID)
}

// PutPolicy writes a governance policy and drops the stale cache.
func (e *Engine) PutPolicy(ctx context.Context, p *types.MemoryPolicy) error {
	if err := e.store.UpsertPolicy(ctx, p); err != nil {
		return err
	}
	e.governance.Invalidate(p.OrgID, p.Namespace)
	return nil
}

// DeletePolicy removes a policy scope.
func (e *Engine) DeletePolicy(ctx context.Context, orgID, namespace string, ptype types.PolicyType) error {
	if err := e.store.DeletePolicy(ctx, orgID, namespace, ptype); err != nil {
		return err
	}
	e.governance.Invalidate(orgID, namespace)
	return nil
}

// ListPolicies lists an org's policies.
func (e *Engine) ListPolicies(ctx context.Context, orgID string) ([]*types.MemoryPolicy, error) {
	return e.store.ListPolicies(ctx, orgID)
}

// SetQuota registers or updates an org's entry cap (0 = unlimited).
func (e *Engine) SetQuota(ctx context.Context, orgID string, max int) error {
	return e.store.EnsureOrg(ctx, orgID, max)
}

// GetQuota reads an org's quota counters.
func (e *Engine) GetQuota(ctx context.Context, orgID string) (storage.Quota, error) {
	return e.store.GetQuota(ctx, orgID)
}

// PoolStats counts an org's live entries per pool layer.
func (e *Engine) PoolStats(ctx context.Context, orgID string) (map[types.PoolType]int, error) {
	return e.store.PoolCounts(ctx, orgID)
}

// PromoteNow runs one promotion sweep for an org.
func (e *Engine) PromoteNow(ctx context.Context, orgID string) ([]string, error) {
	return e.promoter.PromoteEligible(ctx, orgID)
}

// EntitiesFor returns the extracted entity tags of an entry.
func (e *Engine) EntitiesFor(ctx context.Context, memoryID string) ([]types.EntityTag, error) {
	return e.store.EntitiesFor(ctx, memoryID)
}

// RelationsOf lists graph edges touching an entry.
func (e *Engine) RelationsOf(ctx context.Context, memoryID string) ([]*types.MemoryRelation, error) {
	return e.store.RelationsOf(ctx, memoryID, nil)
}

// Health checks the vector index and the model provider.
func (e *Engine) Health(ctx context.Context) map[string]string {
	status := map[string]string{"store": "ok", "vectors": "ok", "provider": "ok"}
	if err := e.vectors.HealthCheck(ctx); err != nil {
		status["vectors"] = err.Error()
	}
	if hc, ok := e.embedder.(provider.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			status["provider"] = err.Error()
		}
	}
	return status
}

// DrainTasks synchronously works off the enrichment queue. Test support.
func (e *Engine) DrainTasks(ctx context.Context) error {
	return e.runner.Drain(ctx)
}

// --- enrichment task handlers ---

func (e *Engine) entryForTask(ctx context.Context, task *tasks.Task) (*types.MemoryEntry, error) {
	var payload enrichmentPayload
	if err := decodePayload(task, &payload); err != nil {
		return nil, err
	}
	return e.store.GetEntry(ctx, payload.MemoryID)
}

func (e *Engine) handleExtract(ctx context.Context, task *tasks.Task) error {
	entry, err := e.entryForTask(ctx, task)
	if err != nil {
		return err
	}
	ext, err := e.extractor.Extract(ctx, entry.Content)
	if err != nil {
		return err
	}
	if len(ext.Entities) == 0 {
		return nil
	}
	return e.store.ReplaceEntities(ctx, entry.ID, ext.Entities)
}

func (e *Engine) handleRelations(ctx context.Context, task *tasks.Task) error {
	entry, err := e.entryForTask(ctx, task)
	if err != nil {
		return err
	}
	return e.relations.BuildFor(ctx, entry)
}

func (e *Engine) handleArbitrate(ctx context.Context, task *tasks.Task) error {
	var payload arbitrationPayload
	if err := decodePayload(task, &payload); err != nil {
		return err
	}
	_, err := e.arbiter.Arbitrate(ctx, payload.ConflictID)
	return err
}
