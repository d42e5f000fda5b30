package tenant

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleRankOrdering(t *testing.T) {
	assert.True(t, RoleOwner.Outranks(RoleAdmin))
	assert.True(t, RoleAdmin.Outranks(RoleMember))
	assert.True(t, RoleMember.Outranks(RoleViewer))
	assert.False(t, RoleAdmin.Outranks(RoleAdmin))
	assert.False(t, RoleViewer.Outranks(RoleOwner))
}

func TestRoleRankUnknownRole(t *testing.T) {
	assert.Equal(t, 0, Role("bogus").Rank())
	assert.True(t, RoleViewer.Outranks(Role("bogus")))
}

func TestRolePermissionsAreSupersets(t *testing.T) {
	chain := []Role{RoleViewer, RoleMember, RoleAdmin, RoleOwner}
	for i := 0; i < len(chain)-1; i++ {
		lower := RolePermissions[chain[i]]
		higher := RolePermissions[chain[i+1]]
		for _, p := range lower {
			assert.Contains(t, higher, p,
				"%s should include all permissions of %s", chain[i+1], chain[i])
		}
	}
}

func TestPermissionsForRoleReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleViewer)
	require.NotEmpty(t, perms)
	perms[0] = Permission("mutated")
	assert.NotContains(t, RolePermissions[RoleViewer], Permission("mutated"))
}

func TestFirstOfNextMonth(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{
			in:   time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
			want: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			in:   time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
			want: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			in:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.in.Format("2006-01-02"), func(t *testing.T) {
			assert.Equal(t, tt.want, FirstOfNextMonth(tt.in))
		})
	}
}

func TestDefaultQuotaSeedsFromSettings(t *testing.T) {
	org := &Organization{
		ID:       "acme",
		Settings: DefaultOrgSettings(),
		Status:   OrgStatusActive,
	}

	q := DefaultQuota(org)
	assert.Equal(t, "acme", q.OrganizationID)
	assert.Equal(t, org.Settings.StorageLimitBytes, q.StorageLimit)
	assert.Equal(t, org.Settings.RequestLimitMonthly, q.RequestLimit)
	assert.Equal(t, org.Settings.BandwidthLimitBytes, q.BandwidthLimit)
	assert.Zero(t, q.StorageUsed)
	assert.True(t, q.ResetDate.After(time.Now().UTC()))
	assert.Equal(t, 1, q.ResetDate.Day())
}

func TestTeamMemberLookup(t *testing.T) {
	team := &Team{
		Members: []TeamMember{
			{UserID: "u1", Role: RoleOwner},
			{UserID: "u2", Role: RoleViewer},
		},
	}

	m := team.Member("u2")
	require.NotNil(t, m)
	assert.Equal(t, RoleViewer, m.Role)
	assert.Nil(t, team.Member("missing"))
}

func TestContextHasPermission(t *testing.T) {
	ctx := &Context{Permissions: []Permission{PermissionFileUpload}}
	assert.True(t, ctx.HasPermission(PermissionFileUpload))
	assert.False(t, ctx.HasPermission(PermissionFileDownload))
}

func TestErrorCodeExtraction(t *testing.T) {
	err := NewError(ErrCodeOrganizationSuspended, "org acme is suspended")
	assert.Equal(t, ErrCodeOrganizationSuspended, CodeOf(err))
	assert.True(t, IsCode(err, ErrCodeOrganizationSuspended))
	assert.False(t, IsCode(err, ErrCodeTeamSuspended))

	wrapped := fmt.Errorf("resolving tenant: %w", err)
	assert.Equal(t, ErrCodeOrganizationSuspended, CodeOf(wrapped))

	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("disk on fire")))
}

func TestPermissionDeniedCarriesMissing(t *testing.T) {
	err := NewPermissionDenied("missing upload", []Permission{PermissionFileUpload})
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrCodePermissionDenied, te.Code)
	assert.Equal(t, []Permission{PermissionFileUpload}, te.MissingPermissions)
	assert.Contains(t, err.Error(), "PERMISSION_DENIED")
}
