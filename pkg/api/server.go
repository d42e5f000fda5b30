// Package api exposes the tenancy core over HTTP: identity and capability
// metadata, usage summaries, audit queries, and key management. Every tenant
// route runs behind the middleware guard sequence.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/halcyonai/agentstore/pkg/contextkeys"
	"github.com/halcyonai/agentstore/pkg/httputil"
	"github.com/halcyonai/agentstore/pkg/middleware"
	"github.com/halcyonai/agentstore/pkg/observability"
	"github.com/halcyonai/agentstore/pkg/quota"
	"github.com/halcyonai/agentstore/pkg/rbac"
	"github.com/halcyonai/agentstore/pkg/resolver"
	"github.com/halcyonai/agentstore/pkg/store"
	"github.com/halcyonai/agentstore/pkg/tenant"
	"github.com/halcyonai/agentstore/pkg/usage"
)

const defaultAuditLimit = 100

// Server routes HTTP requests into the tenancy core.
type Server struct {
	router   *mux.Router
	store    store.Store
	resolver *resolver.Resolver
	quota    *quota.Manager
	tracker  *usage.Tracker
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewServer assembles the router.
func NewServer(
	st store.Store,
	res *resolver.Resolver,
	qm *quota.Manager,
	tracker *usage.Tracker,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		store:    st,
		resolver: res,
		quota:    qm,
		tracker:  tracker,
		logger:   logger,
		metrics:  metrics,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	var guardOpts []middleware.Option
	if s.metrics != nil {
		guardOpts = append(guardOpts, middleware.WithMetrics(s.metrics))
	}
	guard := middleware.NewTenantMiddleware(s.resolver, s.quota, s.tracker, s.logger, guardOpts...)
	v1 := s.router.PathPrefix("/v1").Subrouter()

	authed := func(h http.HandlerFunc) http.Handler {
		return guard.Authenticate(h)
	}
	guarded := func(op middleware.Operation, h http.HandlerFunc) http.Handler {
		return guard.Authenticate(guard.Guard(op, h))
	}

	v1.Handle("/whoami", authed(s.handleWhoami)).Methods(http.MethodGet)
	v1.Handle("/tools", authed(s.handleTools)).Methods(http.MethodGet)

	v1.Handle("/usage/summary", guarded(middleware.Operation{
		Tool:     "get_usage_summary",
		Resource: "usage",
	}, s.handleUsageSummary)).Methods(http.MethodGet)

	v1.Handle("/audit-logs", guarded(middleware.Operation{
		Tool:     "list_audit_logs",
		Resource: "audit",
	}, s.handleAuditLogs)).Methods(http.MethodGet)

	v1.Handle("/keys", guarded(middleware.Operation{
		Tool:     "create_api_key",
		Resource: "key",
	}, s.handleCreateKey)).Methods(http.MethodPost)

	v1.Handle("/keys/{keyID}", guarded(middleware.Operation{
		Tool:     "revoke_api_key",
		Resource: "key",
	}, s.handleRevokeKey)).Methods(http.MethodDelete)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}) //nolint:errcheck
}

type whoamiResponse struct {
	OrganizationID string              `json:"organization_id"`
	TeamID         string              `json:"team_id,omitempty"`
	UserID         string              `json:"user_id"`
	Role           tenant.Role         `json:"role"`
	KeyID          string              `json:"key_id"`
	Permissions    []tenant.Permission `json:"permissions"`
	Quota          *tenant.UsageQuota  `json:"quota"`
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	tctx := contextkeys.TenantFrom(r.Context())
	resp := whoamiResponse{
		OrganizationID: tctx.Organization.ID,
		UserID:         tctx.User.UserID,
		Role:           tctx.User.Role,
		KeyID:          tctx.APIKey.ID,
		Permissions:    tctx.Permissions,
		Quota:          tctx.Quota,
	}
	if tctx.Team != nil {
		resp.TeamID = tctx.Team.ID
	}
	httputil.WriteJSON(w, http.StatusOK, resp) //nolint:errcheck
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tctx := contextkeys.TenantFrom(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{ //nolint:errcheck
		"tools": rbac.AccessibleTools(tctx.Permissions),
	})
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	tctx := contextkeys.TenantFrom(r.Context())

	end := time.Now().UTC()
	start := end.AddDate(0, -1, 0)
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid start time")
			return
		}
		start = parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid end time")
			return
		}
		end = parsed
	}
	teamID := r.URL.Query().Get("team")

	summary, err := s.tracker.GetUsageSummary(r.Context(), tctx.Organization.ID, teamID, start, end)
	if err != nil {
		s.logger.WithError(err).Error("usage summary failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary) //nolint:errcheck
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	tctx := contextkeys.TenantFrom(r.Context())

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := s.store.GetAuditLogs(r.Context(), tctx.Organization.ID, limit)
	if err != nil {
		s.logger.WithError(err).Error("audit log read failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{ //nolint:errcheck
		"entries": entries,
	})
}

type createKeyRequest struct {
	TeamID      string              `json:"team_id,omitempty"`
	Name        string              `json:"name"`
	Permissions []tenant.Permission `json:"permissions,omitempty"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
}

type createKeyResponse struct {
	Key *tenant.APIKey `json:"key"`
	// RawKey is shown only in this response.
	RawKey string `json:"raw_key"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	tctx := contextkeys.TenantFrom(r.Context())

	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "key name is required")
		return
	}

	key, raw, err := s.resolver.GenerateAPIKey(r.Context(), resolver.KeySpec{
		OrganizationID: tctx.Organization.ID,
		TeamID:         req.TeamID,
		CreatedBy:      tctx.User.UserID,
		Name:           req.Name,
		Permissions:    req.Permissions,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createKeyResponse{Key: key, RawKey: raw}) //nolint:errcheck
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	tctx := contextkeys.TenantFrom(r.Context())
	keyID := mux.Vars(r)["keyID"]

	if err := s.resolver.RevokeKey(r.Context(), tctx.Organization.ID, keyID); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"}) //nolint:errcheck
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var te *tenant.Error
	if errors.As(err, &te) {
		httputil.WriteTenantError(w, te)
		return
	}
	s.logger.WithError(err).Error("request failed")
	httputil.WriteInternalError(w)
}
