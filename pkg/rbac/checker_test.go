package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

func member(role tenant.Role) *tenant.TeamMember {
	return &tenant.TeamMember{
		UserID: "u-" + string(role),
		Role:   role,
		Status: tenant.MemberStatusActive,
	}
}

func TestHasPermissionRoleBased(t *testing.T) {
	viewer := member(tenant.RoleViewer)
	assert.True(t, HasPermission(viewer, tenant.PermissionFileDownload, nil))
	assert.False(t, HasPermission(viewer, tenant.PermissionFileUpload, nil))

	admin := member(tenant.RoleAdmin)
	assert.True(t, HasPermission(admin, tenant.PermissionFileDelete, nil))
	assert.False(t, HasPermission(admin, tenant.PermissionTeamManage, nil))
}

func TestHasPermissionCustomListFullyOverridesRole(t *testing.T) {
	viewer := member(tenant.RoleViewer)
	custom := []tenant.Permission{tenant.PermissionFileUpload}

	// Granted by the custom list even though the role never grants it.
	assert.True(t, HasPermission(viewer, tenant.PermissionFileUpload, custom))

	// Denied despite the role normally granting download: the custom list is
	// the only set consulted.
	assert.False(t, HasPermission(viewer, tenant.PermissionFileDownload, custom))
}

func TestHasAllAndAnyPermissions(t *testing.T) {
	m := member(tenant.RoleMember)
	all := []tenant.Permission{tenant.PermissionFileUpload, tenant.PermissionFileDownload}
	assert.True(t, HasAllPermissions(m, all, nil))
	assert.False(t, HasAllPermissions(m, append(all, tenant.PermissionFileDelete), nil))

	assert.True(t, HasAnyPermission(m, []tenant.Permission{
		tenant.PermissionFileDelete, tenant.PermissionFileUpload,
	}, nil))
	assert.False(t, HasAnyPermission(m, []tenant.Permission{
		tenant.PermissionFileDelete, tenant.PermissionTeamManage,
	}, nil))
}

func TestCheckAccessAgainstResolvedContext(t *testing.T) {
	tctx := &tenant.Context{
		User:        member(tenant.RoleViewer),
		Permissions: []tenant.Permission{tenant.PermissionFileUpload},
	}

	granted := CheckAccess(tctx, AccessPolicy{
		Resource: "file", Action: "upload",
		RequiredPermissions: []tenant.Permission{tenant.PermissionFileUpload},
	})
	assert.True(t, granted.Granted)
	assert.Empty(t, granted.MissingPermissions)

	// The role is ignored: only the resolved permission set counts.
	denied := CheckAccess(tctx, AccessPolicy{
		Resource: "file", Action: "download",
		RequiredPermissions: []tenant.Permission{tenant.PermissionFileDownload},
	})
	assert.False(t, denied.Granted)
	assert.Equal(t, []tenant.Permission{tenant.PermissionFileDownload}, denied.MissingPermissions)
	assert.NotEmpty(t, denied.Reason)
}

func TestCanModifyUser(t *testing.T) {
	tests := []struct {
		name    string
		actor   tenant.Role
		target  tenant.Role
		granted bool
	}{
		{"owner modifies owner", tenant.RoleOwner, tenant.RoleOwner, true},
		{"owner modifies admin", tenant.RoleOwner, tenant.RoleAdmin, true},
		{"owner modifies member", tenant.RoleOwner, tenant.RoleMember, true},
		{"owner modifies viewer", tenant.RoleOwner, tenant.RoleViewer, true},
		{"admin modifies owner", tenant.RoleAdmin, tenant.RoleOwner, false},
		{"admin modifies admin", tenant.RoleAdmin, tenant.RoleAdmin, false},
		{"admin modifies member", tenant.RoleAdmin, tenant.RoleMember, true},
		{"admin modifies viewer", tenant.RoleAdmin, tenant.RoleViewer, true},
		{"member modifies viewer", tenant.RoleMember, tenant.RoleViewer, true},
		{"member modifies member", tenant.RoleMember, tenant.RoleMember, false},
		{"viewer modifies viewer", tenant.RoleViewer, tenant.RoleViewer, false},
		{"viewer modifies owner", tenant.RoleViewer, tenant.RoleOwner, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CanModifyUser(member(tt.actor), member(tt.target))
			assert.Equal(t, tt.granted, result.Granted, result.Reason)
		})
	}
}

func TestAssertPermission(t *testing.T) {
	tctx := &tenant.Context{Permissions: []tenant.Permission{tenant.PermissionFileUpload}}

	assert.NoError(t, AssertPermission(tctx, tenant.PermissionFileUpload))

	err := AssertPermission(tctx, tenant.PermissionFileDelete)
	require.Error(t, err)
	var te *tenant.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tenant.ErrCodePermissionDenied, te.Code)
	assert.Equal(t, []tenant.Permission{tenant.PermissionFileDelete}, te.MissingPermissions)
}

func TestAssertAllPermissionsCollectsMissing(t *testing.T) {
	tctx := &tenant.Context{Permissions: []tenant.Permission{tenant.PermissionFileUpload}}

	err := AssertAllPermissions(tctx, []tenant.Permission{
		tenant.PermissionFileUpload,
		tenant.PermissionFileDelete,
		tenant.PermissionDatasetDelete,
	})
	require.Error(t, err)
	var te *tenant.Error
	require.ErrorAs(t, err, &te)
	assert.Len(t, te.MissingPermissions, 2)

	assert.NoError(t, AssertAllPermissions(tctx, []tenant.Permission{tenant.PermissionFileUpload}))
}
