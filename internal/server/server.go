// Package server exposes the memory engine over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/awarenet/memcore/internal/config"
	"github.com/awarenet/memcore/internal/engine"
	"github.com/awarenet/memcore/internal/pool"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/pkg/types"
)

// Server wraps the engine with an HTTP listener.
type Server struct {
	engine *engine.Engine
	http   *http.Server
}

// New builds a server for the configured address.
func New(cfg config.ServerConfig, eng *engine.Engine) *Server {
	return &Server{
		engine: eng,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      NewHandler(eng),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins serving and returns the bound address. With port 0 the
// returned address carries the kernel-assigned port.
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return "", fmt.Errorf("server: failed to listen on %s: %w", s.http.Addr, err)
	}
	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: %v", err)
		}
	}()
	return listener.Addr().String(), nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// NewHandler builds the route table. Exposed separately so tests can drive
// the API without a listener.
func NewHandler(eng *engine.Engine) http.Handler {
	api := &handler{engine: eng}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/memories", api.createMemory)
	mux.HandleFunc("GET /api/memories", api.listMemories)
	mux.HandleFunc("GET /api/memories/{id}", api.getMemory)
	mux.HandleFunc("PATCH /api/memories/{id}", api.updateMemory)
	mux.HandleFunc("DELETE /api/memories/{id}", api.deleteMemory)
	mux.HandleFunc("POST /api/memories/{id}/validate", api.validateMemory)
	mux.HandleFunc("GET /api/memories/{id}/entities", api.memoryEntities)
	mux.HandleFunc("GET /api/memories/{id}/relations", api.memoryRelations)
	mux.HandleFunc("GET /api/memories/{id}/history", api.memoryHistory)
	mux.HandleFunc("POST /api/memories/{id}/rollback", api.rollbackMemory)
	mux.HandleFunc("POST /api/memories/{id}/archive", api.archiveMemory)
	mux.HandleFunc("DELETE /api/memories/{id}/purge", api.purgeMemory)
	mux.HandleFunc("GET /api/versions/diff", api.diffVersions)

	mux.HandleFunc("POST /api/search", api.search)
	mux.HandleFunc("POST /api/context", api.retrieveContext)

	mux.HandleFunc("GET /api/conflicts", api.listConflicts)
	mux.HandleFunc("GET /api/conflicts/stats", api.conflictStats)
	mux.HandleFunc("POST /api/conflicts/{id}/resolve", api.resolveConflict)
	mux.HandleFunc("POST /api/conflicts/{id}/ignore", api.ignoreConflict)

	mux.HandleFunc("GET /api/policies", api.listPolicies)
	mux.HandleFunc("PUT /api/policies", api.putPolicy)
	mux.HandleFunc("DELETE /api/policies", api.deletePolicy)

	mux.HandleFunc("GET /api/orgs/{org}/quota", api.getQuota)
	mux.HandleFunc("PUT /api/orgs/{org}/quota", api.setQuota)
	mux.HandleFunc("POST /api/orgs/{org}/promote", api.promote)
	mux.HandleFunc("GET /api/orgs/{org}/pools", api.poolStats)

	mux.HandleFunc("GET /api/health", api.health)

	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

type handler struct {
	engine *engine.Engine
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: response encoding failed: %v", err)
	}
}

// writeError maps the storage sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, storage.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, storage.ErrNotLatest):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}

// --- memories ---

func (h *handler) createMemory(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateRequest
	if !readJSON(w, r, &req) {
		return
	}
	entry, err := h.engine.CreateMemory(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) getMemory(w http.ResponseWriter, r *http.Request) {
	touch := r.URL.Query().Get("touch") != "false"
	entry, err := h.engine.GetMemory(r.Context(), r.PathValue("id"), r.URL.Query().Get("agent_id"), touch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) listMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.engine.ListMemories(r.Context(), q.Get("namespace"), q.Get("agent_id"), storage.ListOptions{
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": entries})
}

func (h *handler) updateMemory(w http.ResponseWriter, r *http.Request) {
	var req engine.UpdateRequest
	if !readJSON(w, r, &req) {
		return
	}
	entry, err := h.engine.UpdateMemory(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) deleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteMemory(r.Context(), r.PathValue("id"), r.URL.Query().Get("agent_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) validateMemory(w http.ResponseWriter, r *http.Request) {
	score, err := h.engine.ValidateMemory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (h *handler) memoryEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.engine.EntitiesFor(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entities": entities})
}

func (h *handler) memoryRelations(w http.ResponseWriter, r *http.Request) {
	rels, err := h.engine.RelationsOf(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"relations": rels})
}

// --- versions ---

func (h *handler) memoryHistory(w http.ResponseWriter, r *http.Request) {
	versions, err := h.engine.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

type rollbackRequest struct {
	TargetID string `json:"target_id"`
}

func (h *handler) rollbackMemory(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if !readJSON(w, r, &req) {
		return
	}
	entry, err := h.engine.RollbackMemory(r.Context(), r.PathValue("id"), req.TargetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type archiveRequest struct {
	Keep int `json:"keep"`
}

func (h *handler) archiveMemory(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if !readJSON(w, r, &req) {
		return
	}
	archived, err := h.engine.ArchiveMemory(r.Context(), r.PathValue("id"), req.Keep)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"archived": archived})
}

func (h *handler) purgeMemory(w http.ResponseWriter, r *http.Request) {
	purged, err := h.engine.PurgeMemory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": purged})
}

func (h *handler) diffVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	diff, err := h.engine.DiffVersions(r.Context(), q.Get("a"), q.Get("b"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

// --- retrieval ---

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	var req engine.SearchRequest
	if !readJSON(w, r, &req) {
		return
	}
	result, err := h.engine.Search(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type contextRequest struct {
	Query      string `json:"query"`
	OrgID      string `json:"org_id"`
	AgentID    string `json:"agent_id,omitempty"`
	Department string `json:"department,omitempty"`
}

func (h *handler) retrieveContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.OrgID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "org_id is required"})
		return
	}
	result, err := h.engine.RetrieveContext(r.Context(), req.Query, pool.Identity{
		OrgID:      req.OrgID,
		AgentID:    req.AgentID,
		Department: req.Department,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- conflicts ---

func (h *handler) listConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conflicts, err := h.engine.ListConflicts(r.Context(), q.Get("org"),
		types.ConflictStatus(q.Get("status")), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conflicts": conflicts})
}

func (h *handler) conflictStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.ConflictStats(r.Context(), r.URL.Query().Get("org"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type resolveRequest struct {
	Strategy    string `json:"strategy,omitempty"`
	WinnerID    string `json:"winner_id,omitempty"`
	Reviewer    string `json:"reviewer,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

func (h *handler) resolveConflict(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !readJSON(w, r, &req) {
		return
	}
	id := r.PathValue("id")

	var (
		conflict *types.MemoryConflict
		err      error
	)
	if req.WinnerID != "" {
		conflict, err = h.engine.ResolveConflictManually(r.Context(), id, req.WinnerID, req.Reviewer, req.Explanation)
	} else {
		conflict, err = h.engine.ResolveConflict(r.Context(), id, types.ResolutionStrategy(req.Strategy))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conflict)
}

type ignoreRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *handler) ignoreConflict(w http.ResponseWriter, r *http.Request) {
	var req ignoreRequest
	if !readJSON(w, r, &req) {
		return
	}
	conflict, err := h.engine.IgnoreConflict(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conflict)
}

// --- governance ---

func (h *handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.engine.ListPolicies(r.Context(), r.URL.Query().Get("org"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

func (h *handler) putPolicy(w http.ResponseWriter, r *http.Request) {
	var policy types.MemoryPolicy
	if !readJSON(w, r, &policy) {
		return
	}
	if err := h.engine.PutPolicy(r.Context(), &policy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *handler) deletePolicy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.engine.DeletePolicy(r.Context(), q.Get("org"), q.Get("namespace"), types.PolicyType(q.Get("type")))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- quota, pools, health ---

func (h *handler) getQuota(w http.ResponseWriter, r *http.Request) {
	quota, err := h.engine.GetQuota(r.Context(), r.PathValue("org"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quota)
}

type quotaRequest struct {
	Max int `json:"max"`
}

func (h *handler) setQuota(w http.ResponseWriter, r *http.Request) {
	var req quotaRequest
	if !readJSON(w, r, &req) {
		return
	}
	org := r.PathValue("org")
	if err := h.engine.SetQuota(r.Context(), org, req.Max); err != nil {
		writeError(w, err)
		return
	}
	quota, err := h.engine.GetQuota(r.Context(), org)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quota)
}

func (h *handler) promote(w http.ResponseWriter, r *http.Request) {
	promoted, err := h.engine.PromoteNow(r.Context(), r.PathValue("org"))
	if err != nil {
		writeError(w, err)
		return
	}
	if promoted == nil {
		promoted = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"promoted": promoted})
}

func (h *handler) poolStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.engine.PoolStats(r.Context(), r.PathValue("org"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": counts})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Health(r.Context())
	code := http.StatusOK
	for _, v := range status {
		if v != "ok" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, status)
}
