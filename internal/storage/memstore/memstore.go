// Package memstore provides an in-memory implementation of the storage
// interfaces, paired with an HNSW vector index. It backs tests and embedded
// deployments; the postgres backend is the production store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

// Store is a mutex-guarded in-memory storage.Store.
type Store struct {
	mu sync.RWMutex

	entries map[string]*types.MemoryEntry // by ID
	chains  map[string][]string           // rootID -> IDs in insert order
	scores  map[string]*types.MemoryScore // by memory ID

	relations map[string]*types.MemoryRelation // by triple key
	bySource  map[string][]string              // sourceID -> triple keys
	byTarget  map[string][]string              // targetID -> triple keys

	entities    map[string][]types.EntityTag // memoryID -> tags
	memByEntity map[string]map[string]bool   // entity name -> memory IDs

	conflicts map[string]*types.MemoryConflict // by ID
	byPair    map[string]string                // unordered pair key -> conflict ID

	policies map[string]*types.MemoryPolicy // by scope key
	orgs     map[string]*storage.Quota      // registered orgs
}

var _ storage.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		entries:     make(map[string]*types.MemoryEntry),
		chains:      make(map[string][]string),
		scores:      make(map[string]*types.MemoryScore),
		relations:   make(map[string]*types.MemoryRelation),
		bySource:    make(map[string][]string),
		byTarget:    make(map[string][]string),
		entities:    make(map[string][]types.EntityTag),
		memByEntity: make(map[string]map[string]bool),
		conflicts:   make(map[string]*types.MemoryConflict),
		byPair:      make(map[string]string),
		policies:    make(map[string]*types.MemoryPolicy),
		orgs:        make(map[string]*storage.Quota),
	}
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func copyEntry(e *types.MemoryEntry) *types.MemoryEntry {
	c := *e
	if e.Embedding != nil {
		c.Embedding = append([]float32(nil), e.Embedding...)
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// --- EntryStore ---

func (s *Store) InsertEntry(ctx context.Context, e *types.MemoryEntry) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("%w: entry and ID are required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.ID]; exists {
		return fmt.Errorf("%w: duplicate entry ID %s", storage.ErrInvalidInput, e.ID)
	}
	if err := s.chargeQuotaLocked(e.OrgID); err != nil {
		return err
	}
	s.entries[e.ID] = copyEntry(e)
	s.chains[e.RootID] = append(s.chains[e.RootID], e.ID)
	return nil
}

// chargeQuotaLocked checks and increments the org counter. In-memory
// equivalent of the postgres insert transaction.
func (s *Store) chargeQuotaLocked(orgID string) error {
	q, registered := s.orgs[orgID]
	if !registered {
		return nil
	}
	if q.Max > 0 && q.Current >= q.Max {
		return storage.ErrQuotaExceeded
	}
	q.Current++
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*types.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyEntry(e), nil
}

func (s *Store) ListNamespace(ctx context.Context, orgID, namespace string, opts storage.ListOptions) ([]*types.MemoryEntry, error) {
	opts.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.MemoryEntry
	for _, e := range s.entries {
		if e.OrgID != orgID || e.Namespace != namespace {
			continue
		}
		if !matchOpts(e, opts) {
			continue
		}
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts.Offset, opts.Limit), nil
}

func matchOpts(e *types.MemoryEntry, opts storage.ListOptions) bool {
	if *opts.LatestOnly && !e.IsLatest {
		return false
	}
	if !opts.IncludeExpired && e.State == types.StateExpired {
		return false
	}
	if opts.Pool != "" && string(e.PoolType) != opts.Pool {
		return false
	}
	if opts.AgentID != "" && e.AgentID != opts.AgentID {
		return false
	}
	if opts.Department != "" && e.Department != opts.Department {
		return false
	}
	if opts.MemoryType != "" && string(e.MemoryType) != opts.MemoryType {
		return false
	}
	return true
}

func page(entries []*types.MemoryEntry, offset, limit int) []*types.MemoryEntry {
	if offset >= len(entries) {
		return nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end]
}

func (s *Store) ActiveEntries(ctx context.Context, orgID string, limit, offset int) ([]*types.MemoryEntry, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.MemoryEntry
	for _, e := range s.entries {
		if e.OrgID == orgID && e.IsLatest && e.State == types.StateActive {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, offset, limit), nil
}

func (s *Store) PoolCounts(ctx context.Context, orgID string) (map[types.PoolType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[types.PoolType]int)
	for _, e := range s.entries {
		if e.OrgID == orgID && e.IsLatest && e.State == types.StateActive {
			counts[e.PoolType]++
		}
	}
	return counts, nil
}

func (s *Store) CountNamespace(ctx context.Context, orgID, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.OrgID == orgID && e.Namespace == namespace && e.IsLatest && e.State != types.StateExpired {
			n++
		}
	}
	return n, nil
}

func (s *Store) LatestByClaimKey(ctx context.Context, orgID, namespace, claimKey string) ([]*types.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.MemoryEntry
	for _, e := range s.entries {
		if e.OrgID == orgID && e.Namespace == namespace && e.ClaimKey == claimKey &&
			e.IsLatest && e.State != types.StateExpired {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateVersion(ctx context.Context, child *types.MemoryEntry) error {
	if child == nil || child.ID == "" || child.RootID == "" {
		return fmt.Errorf("%w: child entry with ID and RootID required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := s.latestOfChainLocked(child.RootID)
	if latest == nil {
		return storage.ErrNotFound
	}
	if latest.ID != child.ParentID {
		return storage.ErrNotLatest
	}
	if err := s.chargeQuotaLocked(child.OrgID); err != nil {
		return err
	}
	latest.IsLatest = false
	latest.UpdatedAt = time.Now()
	s.entries[child.ID] = copyEntry(child)
	s.chains[child.RootID] = append(s.chains[child.RootID], child.ID)
	return nil
}

func (s *Store) latestOfChainLocked(rootID string) *types.MemoryEntry {
	for _, id := range s.chains[rootID] {
		if e := s.entries[id]; e != nil && e.IsLatest {
			return e
		}
	}
	return nil
}

func (s *Store) Chain(ctx context.Context, rootID string) ([]*types.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.chains[rootID]
	if len(ids) == 0 {
		return nil, storage.ErrNotFound
	}
	out := make([]*types.MemoryEntry, 0, len(ids))
	for _, id := range ids {
		if e := s.entries[id]; e != nil {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) SetLatest(ctx context.Context, rootID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.chains[rootID]
	if len(ids) == 0 {
		return storage.ErrNotFound
	}
	found := false
	for _, id := range ids {
		if id == targetID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s is not part of chain %s", storage.ErrInvalidInput, targetID, rootID)
	}
	now := time.Now()
	for _, id := range ids {
		e := s.entries[id]
		if e == nil {
			continue
		}
		e.IsLatest = id == targetID
		e.UpdatedAt = now
	}
	return nil
}

func (s *Store) SoftDeleteEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	e.IsLatest = false
	e.ExpiresAt = &now
	e.State = types.StateExpired
	e.UpdatedAt = now
	return nil
}

func (s *Store) ArchiveChain(ctx context.Context, rootID string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.chains[rootID]
	if len(ids) == 0 {
		return 0, storage.ErrNotFound
	}
	chain := make([]*types.MemoryEntry, 0, len(ids))
	for _, id := range ids {
		if e := s.entries[id]; e != nil {
			chain = append(chain, e)
		}
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Version > chain[j].Version })

	archived := 0
	for i, e := range chain {
		if i < keep || e.State == types.StateArchived {
			continue
		}
		e.State = types.StateArchived
		e.UpdatedAt = time.Now()
		archived++
	}
	return archived, nil
}

func (s *Store) PurgeChain(ctx context.Context, rootID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.chains[rootID]
	if len(ids) == 0 {
		return 0, storage.ErrNotFound
	}
	removed := 0
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		delete(s.entries, id)
		delete(s.scores, id)
		s.deleteRelationsLocked(id)
		s.deleteEntityLinksLocked(id)
		if q, registered := s.orgs[e.OrgID]; registered && q.Current > 0 {
			q.Current--
		}
		removed++
	}
	delete(s.chains, rootID)
	return removed, nil
}

func (s *Store) TouchAccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	e.UsageCount++
	e.AccessedAt = &now
	return nil
}

func (s *Store) AddValidation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.ValidationCount++
	e.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SetPool(ctx context.Context, id string, pool types.PoolType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.PoolType = pool
	e.UpdatedAt = time.Now()
	return nil
}

func (s *Store) PromotionCandidates(ctx context.Context, orgID string, minValidations int) ([]*types.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.MemoryEntry
	for _, e := range s.entries {
		if e.OrgID == orgID && e.PoolType == types.PoolDomain && e.IsLatest &&
			e.State == types.StateActive && e.ValidationCount >= minValidations {
			out = append(out, copyEntry(e))
		}
	}
	return out, nil
}

func (s *Store) StrategicCandidates(ctx context.Context, orgID string, f storage.StrategicFilter) ([]*types.MemoryEntry, error) {
	f.Normalize()
	cutoff := time.Now().Add(-f.MaxAge)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.MemoryEntry
	for _, e := range s.entries {
		if e.OrgID != orgID || !e.IsLatest || e.State != types.StateActive {
			continue
		}
		if e.Confidence < f.MinConfidence || e.UsageCount < f.MinUsage || e.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, copyEntry(e))
		if len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ExpireOlderThan(ctx context.Context, orgID, namespace string, cutoff time.Time, apply bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	now := time.Now()
	for _, e := range s.entries {
		if e.OrgID != orgID || e.Namespace != namespace || !e.IsLatest || e.State != types.StateActive {
			continue
		}
		if !e.CreatedAt.Before(cutoff) {
			continue
		}
		ids = append(ids, e.ID)
		if apply {
			e.IsLatest = false
			e.ExpiresAt = &now
			e.State = types.StateExpired
		}
	}
	return ids, nil
}

func (s *Store) TrimToCount(ctx context.Context, orgID, namespace string, maxCount int, apply bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var live []*types.MemoryEntry
	for _, e := range s.entries {
		if e.OrgID == orgID && e.Namespace == namespace && e.IsLatest && e.State == types.StateActive {
			live = append(live, e)
		}
	}
	if maxCount < 0 || len(live) <= maxCount {
		return nil, nil
	}
	// Oldest first; everything past the cap goes.
	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })
	victims := live[:len(live)-maxCount]

	var ids []string
	now := time.Now()
	for _, e := range victims {
		ids = append(ids, e.ID)
		if apply {
			e.IsLatest = false
			e.ExpiresAt = &now
			e.State = types.StateExpired
		}
	}
	return ids, nil
}

// --- ScoreStore ---

func (s *Store) UpsertScore(ctx context.Context, sc *types.MemoryScore) error {
	if sc == nil || sc.MemoryID == "" {
		return fmt.Errorf("%w: score with memory ID required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sc
	s.scores[sc.MemoryID] = &c
	return nil
}

func (s *Store) GetScore(ctx context.Context, memoryID string) (*types.MemoryScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[memoryID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *sc
	return &c, nil
}

// --- RelationStore ---

func tripleKey(source, target string, t types.RelationType) string {
	return source + "|" + target + "|" + string(t)
}

func (s *Store) UpsertRelation(ctx context.Context, r *types.MemoryRelation) error {
	if r == nil || r.SourceID == "" || r.TargetID == "" {
		return fmt.Errorf("%w: relation endpoints required", storage.ErrInvalidInput)
	}
	if !types.ValidRelationType(r.Type) {
		return fmt.Errorf("%w: relation type %q", storage.ErrInvalidInput, r.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tripleKey(r.SourceID, r.TargetID, r.Type)
	c := *r
	if _, exists := s.relations[key]; !exists {
		s.bySource[r.SourceID] = append(s.bySource[r.SourceID], key)
		s.byTarget[r.TargetID] = append(s.byTarget[r.TargetID], key)
	}
	s.relations[key] = &c
	return nil
}

func (s *Store) RelationsFrom(ctx context.Context, sourceID string, rtypes []types.RelationType) ([]*types.MemoryRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.bySource[sourceID], rtypes), nil
}

func (s *Store) RelationsTo(ctx context.Context, targetID string, rtypes []types.RelationType) ([]*types.MemoryRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byTarget[targetID], rtypes), nil
}

func (s *Store) RelationsOf(ctx context.Context, id string, rtypes []types.RelationType) ([]*types.MemoryRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.collectLocked(s.bySource[id], rtypes)
	out = append(out, s.collectLocked(s.byTarget[id], rtypes)...)
	return out, nil
}

func (s *Store) collectLocked(keys []string, rtypes []types.RelationType) []*types.MemoryRelation {
	var out []*types.MemoryRelation
	for _, key := range keys {
		r, ok := s.relations[key]
		if !ok {
			continue
		}
		if len(rtypes) > 0 && !containsType(rtypes, r.Type) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out
}

func containsType(rtypes []types.RelationType, t types.RelationType) bool {
	for _, rt := range rtypes {
		if rt == t {
			return true
		}
	}
	return false
}

func (s *Store) DeleteRelationsFor(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteRelationsLocked(memoryID)
	return nil
}

func (s *Store) deleteRelationsLocked(memoryID string) {
	for _, key := range s.bySource[memoryID] {
		if r := s.relations[key]; r != nil {
			s.byTarget[r.TargetID] = removeKey(s.byTarget[r.TargetID], key)
		}
		delete(s.relations, key)
	}
	delete(s.bySource, memoryID)
	for _, key := range s.byTarget[memoryID] {
		if r := s.relations[key]; r != nil {
			s.bySource[r.SourceID] = removeKey(s.bySource[r.SourceID], key)
		}
		delete(s.relations, key)
	}
	delete(s.byTarget, memoryID)
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

// --- EntityStore ---

func (s *Store) ReplaceEntities(ctx context.Context, memoryID string, tags []types.EntityTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteEntityLinksLocked(memoryID)
	stored := make([]types.EntityTag, len(tags))
	copy(stored, tags)
	s.entities[memoryID] = stored
	for _, tag := range stored {
		name := strings.ToLower(strings.TrimSpace(tag.Name))
		if name == "" {
			continue
		}
		if s.memByEntity[name] == nil {
			s.memByEntity[name] = make(map[string]bool)
		}
		s.memByEntity[name][memoryID] = true
	}
	return nil
}

func (s *Store) deleteEntityLinksLocked(memoryID string) {
	for _, tag := range s.entities[memoryID] {
		name := strings.ToLower(strings.TrimSpace(tag.Name))
		if set := s.memByEntity[name]; set != nil {
			delete(set, memoryID)
			if len(set) == 0 {
				delete(s.memByEntity, name)
			}
		}
	}
	delete(s.entities, memoryID)
}

func (s *Store) EntitiesFor(ctx context.Context, memoryID string) ([]types.EntityTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := s.entities[memoryID]
	out := make([]types.EntityTag, len(tags))
	copy(out, tags)
	return out, nil
}

func (s *Store) EntriesSharingEntities(ctx context.Context, memoryID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, tag := range s.entities[memoryID] {
		name := strings.ToLower(strings.TrimSpace(tag.Name))
		for otherID := range s.memByEntity[name] {
			if otherID == memoryID || seen[otherID] {
				continue
			}
			e := s.entries[otherID]
			if e == nil || !e.IsLatest || e.State != types.StateActive {
				continue
			}
			seen[otherID] = true
			out = append(out, otherID)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *Store) EntriesCreatedWithin(ctx context.Context, orgID string, center time.Time, window time.Duration, excludeID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, e := range s.entries {
		if e.OrgID != orgID || e.ID == excludeID || !e.IsLatest || e.State != types.StateActive {
			continue
		}
		gap := e.CreatedAt.Sub(center)
		if gap < 0 {
			gap = -gap
		}
		if gap > window {
			continue
		}
		out = append(out, e.ID)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- ConflictStore ---

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (s *Store) InsertConflict(ctx context.Context, c *types.MemoryConflict) error {
	if c == nil || c.ID == "" || c.MemoryA == "" || c.MemoryB == "" {
		return fmt.Errorf("%w: conflict with ID and both memories required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(c.MemoryA, c.MemoryB)
	if _, exists := s.byPair[key]; exists {
		return fmt.Errorf("%w: conflict for pair already exists", storage.ErrInvalidInput)
	}
	cp := *c
	s.conflicts[c.ID] = &cp
	s.byPair[key] = c.ID
	return nil
}

func (s *Store) GetConflict(ctx context.Context, id string) (*types.MemoryConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateConflict(ctx context.Context, c *types.MemoryConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conflicts[c.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *c
	s.conflicts[c.ID] = &cp
	return nil
}

func (s *Store) ListConflicts(ctx context.Context, orgID string, status types.ConflictStatus, limit int) ([]*types.MemoryConflict, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.MemoryConflict
	for _, c := range s.conflicts {
		if c.OrgID != orgID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FindConflictByPair(ctx context.Context, a, b string) (*types.MemoryConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[pairKey(a, b)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.conflicts[id]
	return &cp, nil
}

func (s *Store) ConflictStats(ctx context.Context, orgID string) (*types.ConflictStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &types.ConflictStats{
		ByStatus: make(map[types.ConflictStatus]int),
		ByType:   make(map[types.ConflictType]int),
	}
	for _, c := range s.conflicts {
		if c.OrgID != orgID {
			continue
		}
		stats.Total++
		stats.ByStatus[c.Status]++
		stats.ByType[c.Type]++
	}
	return stats, nil
}

// --- PolicyStore ---

func policyKey(orgID, namespace string, ptype types.PolicyType) string {
	return orgID + "|" + namespace + "|" + string(ptype)
}

func (s *Store) UpsertPolicy(ctx context.Context, p *types.MemoryPolicy) error {
	if p == nil || p.OrgID == "" {
		return fmt.Errorf("%w: policy with org required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.policies[policyKey(p.OrgID, p.Namespace, p.Type)] = &cp
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, orgID, namespace string, ptype types.PolicyType) (*types.MemoryPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[policyKey(orgID, namespace, ptype)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) DeletePolicy(ctx context.Context, orgID, namespace string, ptype types.PolicyType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := policyKey(orgID, namespace, ptype)
	if _, ok := s.policies[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.policies, key)
	return nil
}

func (s *Store) ListPolicies(ctx context.Context, orgID string) ([]*types.MemoryPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.MemoryPolicy
	for _, p := range s.policies {
		if p.OrgID == orgID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- QuotaStore ---

func (s *Store) GetQuota(ctx context.Context, orgID string) (storage.Quota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q, ok := s.orgs[orgID]; ok {
		return *q, nil
	}
	// Unregistered orgs are unlimited; report the live row count.
	n := 0
	for _, e := range s.entries {
		if e.OrgID == orgID {
			n++
		}
	}
	return storage.Quota{OrgID: orgID, Max: 0, Current: n}, nil
}

func (s *Store) EnsureOrg(ctx context.Context, orgID string, max int) error {
	if orgID == "" {
		return fmt.Errorf("%w: org ID required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.orgs[orgID]; ok {
		q.Max = max
		return nil
	}
	current := 0
	for _, e := range s.entries {
		if e.OrgID == orgID {
			current++
		}
	}
	s.orgs[orgID] = &storage.Quota{OrgID: orgID, Max: max, Current: current}
	return nil
}

func (s *Store) Orgs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool, len(s.orgs))
	for org := range s.orgs {
		seen[org] = true
	}
	for _, e := range s.entries {
		seen[e.OrgID] = true
	}
	out := make([]string, 0, len(seen))
	for org := range seen {
		out = append(out, org)
	}
	sort.Strings(out)
	return out, nil
}
