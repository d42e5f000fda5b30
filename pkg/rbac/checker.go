// Package rbac computes grant/deny decisions over resolved tenant identities.
// All functions are stateless: they operate on the already-resolved member and
// permission data and never touch the store.
package rbac

import (
	"fmt"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

// AccessPolicy declares what an operation requires.
type AccessPolicy struct {
	Resource            string              `json:"resource"`
	Action              string              `json:"action"`
	RequiredPermissions []tenant.Permission `json:"required_permissions"`
}

// AccessResult is the outcome of an access decision.
type AccessResult struct {
	Granted            bool                `json:"granted"`
	Reason             string              `json:"reason,omitempty"`
	MissingPermissions []tenant.Permission `json:"missing_permissions,omitempty"`
}

// effectivePermissions returns the permission set the decision is made
// against. A non-empty custom list fully overrides the role: permissions the
// role would otherwise imply are denied when absent from the custom list.
func effectivePermissions(user *tenant.TeamMember, custom []tenant.Permission) []tenant.Permission {
	if len(custom) > 0 {
		return custom
	}
	return tenant.RolePermissions[user.Role]
}

func contains(perms []tenant.Permission, p tenant.Permission) bool {
	for _, have := range perms {
		if have == p {
			return true
		}
	}
	return false
}

// HasPermission reports whether the user holds the permission, testing only
// the custom list when it is non-empty and the role set otherwise.
func HasPermission(user *tenant.TeamMember, perm tenant.Permission, custom []tenant.Permission) bool {
	return contains(effectivePermissions(user, custom), perm)
}

// HasAllPermissions reports whether every listed permission is held.
func HasAllPermissions(user *tenant.TeamMember, perms []tenant.Permission, custom []tenant.Permission) bool {
	have := effectivePermissions(user, custom)
	for _, p := range perms {
		if !contains(have, p) {
			return false
		}
	}
	return true
}

// HasAnyPermission reports whether at least one listed permission is held.
func HasAnyPermission(user *tenant.TeamMember, perms []tenant.Permission, custom []tenant.Permission) bool {
	have := effectivePermissions(user, custom)
	for _, p := range perms {
		if contains(have, p) {
			return true
		}
	}
	return false
}

// CheckAccess evaluates a policy against the context's already-resolved
// permission set. It does not recompute permissions from the role.
func CheckAccess(tctx *tenant.Context, policy AccessPolicy) AccessResult {
	var missing []tenant.Permission
	for _, p := range policy.RequiredPermissions {
		if !tctx.HasPermission(p) {
			missing = append(missing, p)
		}
	}

	if len(missing) > 0 {
		return AccessResult{
			Granted:            false,
			Reason:             fmt.Sprintf("missing permissions for %s:%s", policy.Resource, policy.Action),
			MissingPermissions: missing,
		}
	}
	return AccessResult{
		Granted: true,
		Reason:  fmt.Sprintf("granted %s:%s", policy.Resource, policy.Action),
	}
}

// CanModifyUser decides whether actor may modify target. OWNER may modify
// anyone; ADMIN may modify MEMBER and VIEWER but not OWNER or another ADMIN;
// everyone else must strictly outrank the target.
func CanModifyUser(actor, target *tenant.TeamMember) AccessResult {
	switch actor.Role {
	case tenant.RoleOwner:
		return AccessResult{Granted: true, Reason: "owner may modify any member"}
	case tenant.RoleAdmin:
		if target.Role == tenant.RoleMember || target.Role == tenant.RoleViewer {
			return AccessResult{Granted: true, Reason: "admin may modify members and viewers"}
		}
		return AccessResult{
			Granted: false,
			Reason:  fmt.Sprintf("admin may not modify %s", target.Role),
		}
	default:
		if actor.Role.Outranks(target.Role) {
			return AccessResult{Granted: true, Reason: "actor outranks target"}
		}
		return AccessResult{
			Granted: false,
			Reason:  fmt.Sprintf("%s does not outrank %s", actor.Role, target.Role),
		}
	}
}

// AssertPermission is like HasPermission against the resolved context but
// returns a typed PERMISSION_DENIED error carrying the missing permission,
// for call sites that must abort rather than branch on a boolean.
func AssertPermission(tctx *tenant.Context, perm tenant.Permission) error {
	if tctx.HasPermission(perm) {
		return nil
	}
	return tenant.NewPermissionDenied(
		fmt.Sprintf("permission %s required", perm),
		[]tenant.Permission{perm},
	)
}

// AssertAllPermissions requires every listed permission, returning a typed
// PERMISSION_DENIED error carrying the full missing list on failure.
func AssertAllPermissions(tctx *tenant.Context, perms []tenant.Permission) error {
	var missing []tenant.Permission
	for _, p := range perms {
		if !tctx.HasPermission(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return tenant.NewPermissionDenied(
		fmt.Sprintf("%d permissions missing", len(missing)),
		missing,
	)
}
