// Package admin exposes rule CRUD over HTTP. Authorization is the
// job of the surrounding router; every mutation invalidates the rule
// cache so the staleness window is bounded by one reload.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/workhubhq/gatekeeper/internal/metrics"
	"github.com/workhubhq/gatekeeper/internal/rule"
)

// Handler serves the /rate-limits CRUD surface.
type Handler struct {
	store rule.Store
	cache *rule.Cache
	log   zerolog.Logger
}

// NewHandler builds a Handler over store and cache.
func NewHandler(store rule.Store, cache *rule.Cache, log zerolog.Logger) *Handler {
	return &Handler{store: store, cache: cache, log: log}
}

// Routes returns the chi router for the admin surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.remove)
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.List(r.Context())
	if err != nil {
		h.writeError(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// createRequest is the POST body. IsActive is a pointer so "absent"
// defaults to active instead of false.
type createRequest struct {
	RoutePattern  string `json:"routePattern"`
	Method        string `json:"method"`
	MaxRequests   int    `json:"maxRequests"`
	WindowSeconds int    `json:"windowSeconds"`
	Scope         string `json:"scope"`
	IsActive      *bool  `json:"isActive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Scope == "" {
		req.Scope = rule.ScopeAll
	}
	draft := rule.Rule{
		RoutePattern:  req.RoutePattern,
		Method:        req.Method,
		MaxRequests:   req.MaxRequests,
		WindowSeconds: req.WindowSeconds,
		Scope:         req.Scope,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}

	created, err := h.store.Create(r.Context(), draft)
	if err != nil {
		metrics.AdminMutations.WithLabelValues("create", "error").Inc()
		h.writeError(w, "create", err)
		return
	}
	h.cache.Invalidate()
	metrics.AdminMutations.WithLabelValues("create", "ok").Inc()
	h.log.Info().Str("id", created.ID).Str("route", created.RoutePattern).
		Str("method", created.Method).Str("scope", created.Scope).Msg("rule created")
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var patch rule.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	updated, err := h.store.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		metrics.AdminMutations.WithLabelValues("update", "error").Inc()
		h.writeError(w, "update", err)
		return
	}
	h.cache.Invalidate()
	metrics.AdminMutations.WithLabelValues("update", "ok").Inc()
	h.log.Info().Str("id", updated.ID).Msg("rule updated")
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		metrics.AdminMutations.WithLabelValues("delete", "error").Inc()
		h.writeError(w, "delete", err)
		return
	}
	h.cache.Invalidate()
	metrics.AdminMutations.WithLabelValues("delete", "ok").Inc()
	h.log.Info().Str("id", id).Msg("rule deleted")
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps store errors onto CRUD status codes.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, rule.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "rule not found")
	case errors.Is(err, rule.ErrConflict):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rule.ErrInvalid):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("op", op).Msg("admin request failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"statusCode": status, "message": msg})
}
