// Package middleware wires the tenancy core into the HTTP layer: API key
// resolution, access policy enforcement, quota admission, and usage
// recording, in that order around every guarded handler.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/halcyonai/agentstore/pkg/contextkeys"
	"github.com/halcyonai/agentstore/pkg/httputil"
	"github.com/halcyonai/agentstore/pkg/observability"
	"github.com/halcyonai/agentstore/pkg/quota"
	"github.com/halcyonai/agentstore/pkg/rbac"
	"github.com/halcyonai/agentstore/pkg/resolver"
	"github.com/halcyonai/agentstore/pkg/tenant"
	"github.com/halcyonai/agentstore/pkg/usage"
)

// TeamScopeHeader optionally names the team an operation targets.
const TeamScopeHeader = "X-Team-ID"

// TenantMiddleware resolves credentials and enforces the guard sequence.
type TenantMiddleware struct {
	resolver *resolver.Resolver
	quota    *quota.Manager
	tracker  *usage.Tracker
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// Option configures a TenantMiddleware.
type Option func(*TenantMiddleware)

// WithMetrics wires access decision metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *TenantMiddleware) { m.metrics = metrics }
}

// NewTenantMiddleware creates the middleware.
func NewTenantMiddleware(res *resolver.Resolver, qm *quota.Manager, tracker *usage.Tracker, logger *observability.Logger, opts ...Option) *TenantMiddleware {
	m := &TenantMiddleware{
		resolver: res,
		quota:    qm,
		tracker:  tracker,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Operation declares what a guarded endpoint needs: the tool policy to
// enforce, the quota axis it consumes, and the usage event it produces.
type Operation struct {
	Tool string
	Axis quota.Axis
	// Amount computes the quota amount for this request. Nil means 1.
	Amount func(r *http.Request) int64
	// Event names the usage operation recorded in the audit log. Empty
	// falls back to the tool name.
	Event string
	// Resource names the usage event's resource category.
	Resource string
}

// Authenticate resolves the request's API key and attaches the tenant
// context plus a request id. It performs no policy or quota checks; use
// Guard for guarded operations.
func (m *TenantMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		rawKey, ok := extractAPIKey(r)
		if !ok {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing API key")
			return
		}

		tctx, err := m.resolver.ResolveTenantScoped(ctx, rawKey, r.Header.Get(TeamScopeHeader))
		if err != nil {
			m.writeError(w, requestID, err)
			return
		}

		ctx = contextkeys.WithTenant(ctx, tctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Guard wraps an authenticated handler with the full sequence: access check,
// quota admission, the handler itself, then usage recording and event
// tracking regardless of the handler's outcome.
func (m *TenantMiddleware) Guard(op Operation, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx := contextkeys.TenantFrom(r.Context())
		if tctx == nil {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		requestID := contextkeys.RequestIDFrom(r.Context())

		policy, ok := rbac.PolicyForTool(op.Tool)
		if !ok {
			m.logger.WithField("tool", op.Tool).Error("no access policy registered for tool")
			httputil.WriteInternalError(w)
			return
		}
		access := rbac.CheckAccess(tctx, policy)
		if m.metrics != nil {
			decision := "granted"
			if !access.Granted {
				decision = "denied"
			}
			m.metrics.AccessDecisionsTotal.WithLabelValues(decision).Inc()
		}
		if !access.Granted {
			m.writeError(w, requestID,
				tenant.NewPermissionDenied(access.Reason, access.MissingPermissions))
			m.trackDenied(r, tctx, op)
			return
		}

		amount := int64(1)
		if op.Amount != nil {
			amount = op.Amount(r)
		}
		axis := op.Axis
		if axis == "" {
			axis = quota.AxisRequest
		}
		check, err := m.quota.CheckQuota(r.Context(), tctx, axis, amount)
		if err != nil {
			m.logger.WithError(err).Error("quota check failed")
			httputil.WriteInternalError(w)
			return
		}
		if !check.Allowed {
			m.writeError(w, requestID,
				tenant.NewError(tenant.ErrCodeQuotaExceeded, check.Reason))
			m.trackDenied(r, tctx, op)
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		// Usage is recorded regardless of handler outcome.
		succeeded := recorder.status < http.StatusBadRequest
		delta := quota.Usage{Requests: 1}
		switch axis {
		case quota.AxisStorage:
			delta.Storage = amount
		case quota.AxisBandwidth:
			delta.Bandwidth = amount
		}
		if err := m.quota.RecordUsage(r.Context(), tctx, delta); err != nil {
			m.logger.WithError(err).Warn("failed to record usage")
		}
		m.trackSized(r, tctx, op, succeeded, amount)
	})
}

func (m *TenantMiddleware) trackDenied(r *http.Request, tctx *tenant.Context, op Operation) {
	m.trackOutcome(r, tctx, op, 0, false, true)
}

func (m *TenantMiddleware) trackSized(r *http.Request, tctx *tenant.Context, op Operation, success bool, size int64) {
	m.trackOutcome(r, tctx, op, size, success, false)
}

func (m *TenantMiddleware) trackOutcome(r *http.Request, tctx *tenant.Context, op Operation, size int64, success, denied bool) {
	event := op.Event
	if event == "" {
		event = op.Tool
	}
	teamID := ""
	if tctx.Team != nil {
		teamID = tctx.Team.ID
	}
	userID := ""
	if tctx.User != nil {
		userID = tctx.User.UserID
	}
	m.tracker.TrackEvent(r.Context(), &usage.Event{
		OrganizationID: tctx.Organization.ID,
		TeamID:         teamID,
		UserID:         userID,
		Operation:      event,
		Resource:       op.Resource,
		SizeBytes:      size,
		Success:        success,
		Denied:         denied,
		Metadata: map[string]interface{}{
			"request_id": contextkeys.RequestIDFrom(r.Context()),
			"path":       r.URL.Path,
		},
	})
}

func (m *TenantMiddleware) writeError(w http.ResponseWriter, requestID string, err error) {
	var te *tenant.Error
	if errors.As(err, &te) {
		httputil.WriteTenantError(w, te)
		return
	}
	m.logger.WithError(err).WithField("request_id", requestID).Error("internal error")
	httputil.WriteInternalError(w)
}

// extractAPIKey reads the credential from the Authorization header (Bearer
// form) or the X-API-Key header.
func extractAPIKey(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1], true
		}
		return "", false
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, true
	}
	return "", false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
