package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonai/agentstore/pkg/contextkeys"
	"github.com/halcyonai/agentstore/pkg/httputil"
	"github.com/halcyonai/agentstore/pkg/observability"
	"github.com/halcyonai/agentstore/pkg/quota"
	"github.com/halcyonai/agentstore/pkg/resolver"
	"github.com/halcyonai/agentstore/pkg/store"
	"github.com/halcyonai/agentstore/pkg/tenant"
	"github.com/halcyonai/agentstore/pkg/usage"
)

type env struct {
	store      store.Store
	middleware *TenantMiddleware
	tracker    *usage.Tracker
	metrics    *observability.Metrics
	rawKey     string
}

func newEnv(t *testing.T, role tenant.Role) *env {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.SaveOrganization(ctx, &tenant.Organization{
		ID:       "acme",
		OwnerID:  "owner-1",
		Settings: tenant.DefaultOrgSettings(),
		Status:   tenant.OrgStatusActive,
	}))
	require.NoError(t, st.SaveTeam(ctx, &tenant.Team{
		ID:             "t1",
		OrganizationID: "acme",
		Status:         tenant.TeamStatusActive,
		Members: []tenant.TeamMember{
			{UserID: "alice", Role: role, Status: tenant.MemberStatusActive},
		},
	}))

	secret := "s3cret"
	key := &tenant.APIKey{
		ID:             "k1",
		OrganizationID: "acme",
		TeamID:         "t1",
		CreatedBy:      "alice",
		Key:            resolver.FormatKey("acme", "t1", "k1", secret),
		SecretHash:     resolver.HashSecret(secret),
		Status:         tenant.KeyStatusActive,
	}
	require.NoError(t, st.SaveAPIKey(ctx, key))

	res := resolver.NewResolver(st, logger)
	qm := quota.NewManager(st, logger)
	tracker := usage.NewTracker(st, logger, usage.WithBatchSize(1000), usage.WithFlushInterval(0))
	t.Cleanup(func() { tracker.Close(context.Background()) })
	metrics := observability.NewMetrics(nil)

	return &env{
		store:      st,
		middleware: NewTenantMiddleware(res, qm, tracker, logger, WithMetrics(metrics)),
		tracker:    tracker,
		metrics:    metrics,
		rawKey:     key.Key,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}) //nolint:errcheck
	})
}

func (e *env) request(t *testing.T, handler http.Handler, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/files", nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestAuthenticateSuccess(t *testing.T) {
	e := newEnv(t, tenant.RoleMember)

	var seen *tenant.Context
	handler := e.middleware.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.TenantFrom(r.Context())
		assert.NotEmpty(t, contextkeys.RequestIDFrom(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	rec := e.request(t, handler, e.rawKey)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.NotNil(t, seen)
	assert.Equal(t, "acme", seen.Organization.ID)
	assert.Equal(t, "alice", seen.User.UserID)
}

func TestAuthenticateMissingKey(t *testing.T) {
	e := newEnv(t, tenant.RoleMember)
	handler := e.middleware.Authenticate(okHandler())

	rec := e.request(t, handler, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateInvalidKey(t *testing.T) {
	e := newEnv(t, tenant.RoleMember)
	handler := e.middleware.Authenticate(okHandler())

	rec := e.request(t, handler, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(tenant.ErrCodeInvalidKeyFormat), errorCode(t, rec))
}

func TestGuardDeniesMissingPermission(t *testing.T) {
	// Viewers cannot upload.
	e := newEnv(t, tenant.RoleViewer)
	handler := e.middleware.Authenticate(
		e.middleware.Guard(Operation{Tool: "upload_file", Axis: quota.AxisStorage}, okHandler()))

	rec := e.request(t, handler, e.rawKey)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(tenant.ErrCodePermissionDenied), errorCode(t, rec))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.AccessDecisionsTotal.WithLabelValues("denied")))

	// The denial is still tracked, distinct from operations that ran and failed.
	e.tracker.Flush(context.Background())
	entries, err := e.store.GetAuditLogs(context.Background(), "acme", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, tenant.AuditResultDenied, entries[0].Result)
}

func TestGuardDeniesOverQuota(t *testing.T) {
	e := newEnv(t, tenant.RoleMember)
	ctx := context.Background()

	require.NoError(t, e.store.SaveQuota(ctx, &tenant.UsageQuota{
		OrganizationID: "acme",
		TeamID:         "t1",
		StorageLimit:   10,
		StorageUsed:    10,
		RequestLimit:   100,
		BandwidthLimit: 100,
		ResetDate:      tenant.FirstOfNextMonth(time.Now()),
	}))

	handler := e.middleware.Authenticate(
		e.middleware.Guard(Operation{
			Tool:   "upload_file",
			Axis:   quota.AxisStorage,
			Amount: func(*http.Request) int64 { return 5 },
		}, okHandler()))

	rec := e.request(t, handler, e.rawKey)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, string(tenant.ErrCodeQuotaExceeded), errorCode(t, rec))

	e.tracker.Flush(ctx)
	entries, err := e.store.GetAuditLogs(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, tenant.AuditResultDenied, entries[0].Result)
}

func TestGuardRecordsUsageOnSuccess(t *testing.T) {
	e := newEnv(t, tenant.RoleMember)
	handler := e.middleware.Authenticate(
		e.middleware.Guard(Operation{
			Tool:   "upload_file",
			Axis:   quota.AxisStorage,
			Amount: func(*http.Request) int64 { return 256 },
			Event:  usage.OpUpload,
		}, okHandler()))

	rec := e.request(t, handler, e.rawKey)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.AccessDecisionsTotal.WithLabelValues("granted")))

	quotaDoc, err := e.store.GetQuota(context.Background(), "acme", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(256), quotaDoc.StorageUsed)
	assert.Equal(t, int64(1), quotaDoc.RequestsUsed)

	e.tracker.Flush(context.Background())
	entries, err := e.store.GetAuditLogs(context.Background(), "acme", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, usage.OpUpload, entries[0].Action)
	assert.Equal(t, tenant.AuditResultSuccess, entries[0].Result)
	assert.Equal(t, "alice", entries[0].UserID)
}

func TestGuardRecordsUsageOnHandlerFailure(t *testing.T) {
	e := newEnv(t, tenant.RoleMember)
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	handler := e.middleware.Authenticate(
		e.middleware.Guard(Operation{Tool: "upload_file"}, failing))

	rec := e.request(t, handler, e.rawKey)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// Usage is recorded even though the operation failed.
	quotaDoc, err := e.store.GetQuota(context.Background(), "acme", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), quotaDoc.RequestsUsed)

	e.tracker.Flush(context.Background())
	entries, err := e.store.GetAuditLogs(context.Background(), "acme", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, tenant.AuditResultFailure, entries[0].Result)
}

func TestGuardUnknownTool(t *testing.T) {
	e := newEnv(t, tenant.RoleOwner)
	handler := e.middleware.Authenticate(
		e.middleware.Guard(Operation{Tool: "no_such_tool"}, okHandler()))

	rec := e.request(t, handler, e.rawKey)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
