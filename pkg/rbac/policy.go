package rbac

import (
	"sort"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

// ToolPolicies maps each externally invocable tool name to its access policy.
// The protocol layer consults this table before dispatching an operation.
var ToolPolicies = map[string]AccessPolicy{
	"upload_file": {
		Resource: "file", Action: "upload",
		RequiredPermissions: []tenant.Permission{tenant.PermissionFileUpload},
	},
	"download_file": {
		Resource: "file", Action: "download",
		RequiredPermissions: []tenant.Permission{tenant.PermissionFileDownload},
	},
	"delete_file": {
		Resource: "file", Action: "delete",
		RequiredPermissions: []tenant.Permission{tenant.PermissionFileDelete},
	},
	"list_files": {
		Resource: "file", Action: "list",
		RequiredPermissions: []tenant.Permission{tenant.PermissionFileList},
	},
	"create_dataset": {
		Resource: "dataset", Action: "create",
		RequiredPermissions: []tenant.Permission{tenant.PermissionDatasetCreate, tenant.PermissionFileUpload},
	},
	"read_dataset": {
		Resource: "dataset", Action: "read",
		RequiredPermissions: []tenant.Permission{tenant.PermissionDatasetRead},
	},
	"delete_dataset": {
		Resource: "dataset", Action: "delete",
		RequiredPermissions: []tenant.Permission{tenant.PermissionDatasetDelete},
	},
	"get_usage_summary": {
		Resource: "usage", Action: "read",
		RequiredPermissions: []tenant.Permission{tenant.PermissionUsageRead},
	},
	"list_audit_logs": {
		Resource: "audit", Action: "read",
		RequiredPermissions: []tenant.Permission{tenant.PermissionAuditRead},
	},
	"create_api_key": {
		Resource: "api_key", Action: "create",
		RequiredPermissions: []tenant.Permission{tenant.PermissionKeyManage},
	},
	"revoke_api_key": {
		Resource: "api_key", Action: "revoke",
		RequiredPermissions: []tenant.Permission{tenant.PermissionKeyManage},
	},
	"manage_team": {
		Resource: "team", Action: "manage",
		RequiredPermissions: []tenant.Permission{tenant.PermissionTeamManage},
	},
}

// PolicyForTool returns the policy for a tool name and whether it exists.
func PolicyForTool(name string) (AccessPolicy, bool) {
	p, ok := ToolPolicies[name]
	return p, ok
}

// AccessibleTools returns the sorted tool names whose full requirement set is
// a subset of perms, used to advertise a key's effective capability list.
func AccessibleTools(perms []tenant.Permission) []string {
	have := make(map[tenant.Permission]struct{}, len(perms))
	for _, p := range perms {
		have[p] = struct{}{}
	}

	var tools []string
	for name, policy := range ToolPolicies {
		accessible := true
		for _, required := range policy.RequiredPermissions {
			if _, ok := have[required]; !ok {
				accessible = false
				break
			}
		}
		if accessible {
			tools = append(tools, name)
		}
	}
	sort.Strings(tools)
	return tools
}
