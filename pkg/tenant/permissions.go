package tenant

// Role represents a named permission bundle within a team.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
	RoleViewer Role = "VIEWER"
)

// roleRanks is the single source of truth for the role total order.
var roleRanks = map[Role]int{
	RoleViewer: 1,
	RoleMember: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// Rank returns the role's position in the total order
// OWNER > ADMIN > MEMBER > VIEWER. Unknown roles rank below VIEWER.
func (r Role) Rank() int {
	return roleRanks[r]
}

// Outranks reports whether r is strictly above other in the role order.
func (r Role) Outranks(other Role) bool {
	return r.Rank() > other.Rank()
}

// Permission is an atomic resource:action capability.
type Permission string

const (
	PermissionFileUpload    Permission = "file:upload"
	PermissionFileDownload  Permission = "file:download"
	PermissionFileDelete    Permission = "file:delete"
	PermissionFileList      Permission = "file:list"
	PermissionDatasetCreate Permission = "dataset:create"
	PermissionDatasetRead   Permission = "dataset:read"
	PermissionDatasetDelete Permission = "dataset:delete"
	PermissionTeamManage    Permission = "team:manage"
	PermissionKeyManage     Permission = "key:manage"
	PermissionUsageRead     Permission = "usage:read"
	PermissionAuditRead     Permission = "audit:read"
)

// RolePermissions maps each role to its granted permission set. Sets are
// supersets by construction (OWNER ⊇ ADMIN ⊇ MEMBER ⊇ VIEWER); keep that
// property intact when editing.
var RolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermissionFileDownload,
		PermissionFileList,
		PermissionDatasetRead,
		PermissionUsageRead,
	},
	RoleMember: {
		PermissionFileDownload,
		PermissionFileList,
		PermissionDatasetRead,
		PermissionUsageRead,
		PermissionFileUpload,
		PermissionDatasetCreate,
	},
	RoleAdmin: {
		PermissionFileDownload,
		PermissionFileList,
		PermissionDatasetRead,
		PermissionUsageRead,
		PermissionFileUpload,
		PermissionDatasetCreate,
		PermissionFileDelete,
		PermissionDatasetDelete,
		PermissionKeyManage,
		PermissionAuditRead,
	},
	RoleOwner: {
		PermissionFileDownload,
		PermissionFileList,
		PermissionDatasetRead,
		PermissionUsageRead,
		PermissionFileUpload,
		PermissionDatasetCreate,
		PermissionFileDelete,
		PermissionDatasetDelete,
		PermissionKeyManage,
		PermissionAuditRead,
		PermissionTeamManage,
	},
}

// PermissionsForRole returns a copy of the role's permission set.
func PermissionsForRole(r Role) []Permission {
	perms := RolePermissions[r]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
