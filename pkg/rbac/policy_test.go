package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

func TestPolicyForTool(t *testing.T) {
	policy, ok := PolicyForTool("upload_file")
	require.True(t, ok)
	assert.Equal(t, "file", policy.Resource)
	assert.Equal(t, "upload", policy.Action)

	_, ok = PolicyForTool("launch_missiles")
	assert.False(t, ok)
}

func TestAccessibleToolsSubsetFilter(t *testing.T) {
	viewerTools := AccessibleTools(tenant.RolePermissions[tenant.RoleViewer])
	assert.Contains(t, viewerTools, "download_file")
	assert.Contains(t, viewerTools, "read_dataset")
	assert.NotContains(t, viewerTools, "upload_file")
	assert.NotContains(t, viewerTools, "create_dataset")

	ownerTools := AccessibleTools(tenant.RolePermissions[tenant.RoleOwner])
	assert.Len(t, ownerTools, len(ToolPolicies), "owner should see every tool")

	// create_dataset needs both dataset:create and file:upload.
	partial := AccessibleTools([]tenant.Permission{tenant.PermissionDatasetCreate})
	assert.NotContains(t, partial, "create_dataset")
	both := AccessibleTools([]tenant.Permission{
		tenant.PermissionDatasetCreate, tenant.PermissionFileUpload,
	})
	assert.Contains(t, both, "create_dataset")
}

func TestAccessibleToolsSorted(t *testing.T) {
	tools := AccessibleTools(tenant.RolePermissions[tenant.RoleOwner])
	for i := 1; i < len(tools); i++ {
		assert.LessOrEqual(t, tools[i-1], tools[i])
	}
}

func TestAccessibleToolsEmptyPermissions(t *testing.T) {
	assert.Empty(t, AccessibleTools(nil))
}
