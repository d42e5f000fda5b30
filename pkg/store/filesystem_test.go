package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func testOrg(id string) *tenant.Organization {
	return &tenant.Organization{
		ID:          id,
		DisplayName: "Test " + id,
		OwnerID:     "user-1",
		Settings:    tenant.DefaultOrgSettings(),
		Status:      tenant.OrgStatusActive,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
}

func TestSaveAndGetOrganization(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOrganization(ctx, testOrg("acme")))

	org, err := s.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, "acme", org.ID)
	assert.Equal(t, tenant.OrgStatusActive, org.Status)

	// Document lands at the documented location.
	_, err = os.Stat(filepath.Join(s.root, "acme", "organization.json"))
	assert.NoError(t, err)
}

func TestGetOrganizationNotFoundIsNil(t *testing.T) {
	s := newTestStore(t)

	org, err := s.GetOrganization(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, org)
}

func TestSaveOrganizationUpdatesCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	org := testOrg("acme")
	require.NoError(t, s.SaveOrganization(ctx, org))

	// Remove the backing file; a cached read must still succeed.
	require.NoError(t, os.Remove(filepath.Join(s.root, "acme", "organization.json")))

	cached, err := s.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "acme", cached.ID)

	// After an explicit cache clear the miss goes back to disk.
	s.ClearCache()
	gone, err := s.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestGetOrganizationPopulatesCacheOnMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOrganization(ctx, testOrg("acme")))
	s.ClearCache()

	// First read misses and fills the cache.
	org, err := s.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, org)

	// Served from cache even after the file disappears.
	require.NoError(t, os.Remove(filepath.Join(s.root, "acme", "organization.json")))
	again, err := s.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestTeamRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	team := &tenant.Team{
		ID:             "t1",
		OrganizationID: "acme",
		DisplayName:    "Research",
		OwnerID:        "user-1",
		Members: []tenant.TeamMember{
			{UserID: "user-1", Role: tenant.RoleOwner, Status: tenant.MemberStatusActive},
			{UserID: "user-2", Role: tenant.RoleViewer, Status: tenant.MemberStatusActive},
		},
		Status: tenant.TeamStatusActive,
	}
	require.NoError(t, s.SaveTeam(ctx, team))

	got, err := s.GetTeam(ctx, "acme", "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Members, 2)
	assert.Equal(t, tenant.RoleViewer, got.Members[1].Role)

	_, err = os.Stat(filepath.Join(s.root, "acme", "teams", "t1", "team.json"))
	assert.NoError(t, err)
}

func TestListTeamsMissingParentIsEmpty(t *testing.T) {
	s := newTestStore(t)

	teams, err := s.ListTeams(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, teams)
}

func TestAPIKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &tenant.APIKey{
		ID:             "abc123",
		OrganizationID: "acme",
		TeamID:         "t1",
		CreatedBy:      "user-1",
		Name:           "ci key",
		Key:            "org_acme_team_t1_key_abc123.secret",
		SecretHash:     "deadbeef",
		Status:         tenant.KeyStatusActive,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.SaveAPIKey(ctx, key))

	got, err := s.GetAPIKey(ctx, "acme", "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.TeamID)
	assert.Equal(t, tenant.KeyStatusActive, got.Status)

	keys, err := s.ListAPIKeys(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestQuotaOrgAndTeamScopes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orgQuota := &tenant.UsageQuota{
		OrganizationID: "acme",
		StorageLimit:   100,
		ResetDate:      tenant.FirstOfNextMonth(time.Now()),
	}
	teamQuota := &tenant.UsageQuota{
		OrganizationID: "acme",
		TeamID:         "t1",
		StorageLimit:   50,
		ResetDate:      tenant.FirstOfNextMonth(time.Now()),
	}
	require.NoError(t, s.SaveQuota(ctx, orgQuota))
	require.NoError(t, s.SaveQuota(ctx, teamQuota))

	got, err := s.GetQuota(ctx, "acme", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), got.StorageLimit)

	got, err = s.GetQuota(ctx, "acme", "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(50), got.StorageLimit)

	_, err = os.Stat(filepath.Join(s.root, "acme", "quota.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.root, "acme", "teams", "t1", "quota.json"))
	assert.NoError(t, err)
}

func TestAuditLogAppendAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := &tenant.AuditEntry{
			ID:             fmt.Sprintf("e%d", i),
			OrganizationID: "acme",
			UserID:         "user-1",
			Action:         "upload",
			Resource:       "file",
			Timestamp:      time.Now().UTC(),
			Result:         tenant.AuditResultSuccess,
		}
		require.NoError(t, s.AppendAuditLog(ctx, entry))
	}

	entries, err := s.GetAuditLogs(ctx, "acme", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Newest first.
	assert.Equal(t, "e4", entries[0].ID)
	assert.Equal(t, "e2", entries[2].ID)

	all, err := s.GetAuditLogs(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestGetAuditLogsMissingOrgIsEmpty(t *testing.T) {
	s := newTestStore(t)

	entries, err := s.GetAuditLogs(context.Background(), "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListOrganizations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOrganization(ctx, testOrg("acme")))
	require.NoError(t, s.SaveOrganization(ctx, testOrg("globex")))

	orgs, err := s.ListOrganizations(ctx)
	require.NoError(t, err)
	assert.Len(t, orgs, 2)
}

type countingMetrics struct {
	hits, misses, appends int
}

func (m *countingMetrics) RecordCacheHit(string)  { m.hits++ }
func (m *countingMetrics) RecordCacheMiss(string) { m.misses++ }
func (m *countingMetrics) RecordAuditAppend()     { m.appends++ }

func TestCacheMetricsObserved(t *testing.T) {
	metrics := &countingMetrics{}
	s, err := NewFileStore(t.TempDir(), WithMetrics(metrics))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SaveOrganization(ctx, testOrg("acme")))

	_, err = s.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.hits)

	s.ClearCache()
	_, err = s.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.misses)
}

func TestAuditAppendsObserved(t *testing.T) {
	metrics := &countingMetrics{}
	s, err := NewFileStore(t.TempDir(), WithMetrics(metrics))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.AppendAuditLog(ctx, &tenant.AuditEntry{
		ID:             "e1",
		OrganizationID: "acme",
		Action:         "upload",
		Result:         tenant.AuditResultSuccess,
	}))
	require.NoError(t, s.AppendAuditLog(ctx, &tenant.AuditEntry{
		ID:             "e2",
		OrganizationID: "acme",
		Action:         "download",
		Result:         tenant.AuditResultSuccess,
	}))

	assert.Equal(t, 2, metrics.appends)
}
