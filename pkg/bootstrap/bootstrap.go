// Package bootstrap seeds the documents a fresh deployment needs before it
// can serve requests, most importantly the default organization that migrated
// legacy API keys resolve into.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/halcyonai/agentstore/pkg/observability"
	"github.com/halcyonai/agentstore/pkg/store"
	"github.com/halcyonai/agentstore/pkg/tenant"
)

// DefaultTeamID is the team created inside a bootstrapped organization.
const DefaultTeamID = "default"

// EnsureDefaultOrganization creates the named organization, its default team,
// and its quota document when absent. Existing documents are left untouched,
// so this is safe to run on every startup.
func EnsureDefaultOrganization(ctx context.Context, st store.Store, orgID, ownerID string, logger *observability.Logger) error {
	org, err := st.GetOrganization(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to check default organization: %w", err)
	}
	if org == nil {
		now := time.Now().UTC()
		org = &tenant.Organization{
			ID:          orgID,
			DisplayName: "Default Organization",
			OwnerID:     ownerID,
			Settings:    tenant.DefaultOrgSettings(),
			Status:      tenant.OrgStatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := st.SaveOrganization(ctx, org); err != nil {
			return fmt.Errorf("failed to create default organization: %w", err)
		}
		logger.WithField("org_id", orgID).Info("default organization created")
	}

	team, err := st.GetTeam(ctx, orgID, DefaultTeamID)
	if err != nil {
		return fmt.Errorf("failed to check default team: %w", err)
	}
	if team == nil {
		now := time.Now().UTC()
		team = &tenant.Team{
			ID:             DefaultTeamID,
			OrganizationID: orgID,
			DisplayName:    "Default Team",
			OwnerID:        ownerID,
			Status:         tenant.TeamStatusActive,
			Members: []tenant.TeamMember{
				{
					UserID:   ownerID,
					Role:     tenant.RoleOwner,
					Status:   tenant.MemberStatusActive,
					JoinedAt: now,
				},
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.SaveTeam(ctx, team); err != nil {
			return fmt.Errorf("failed to create default team: %w", err)
		}
	}

	quota, err := st.GetQuota(ctx, orgID, "")
	if err != nil {
		return fmt.Errorf("failed to check default quota: %w", err)
	}
	if quota == nil {
		if err := st.SaveQuota(ctx, tenant.DefaultQuota(org)); err != nil {
			return fmt.Errorf("failed to seed default quota: %w", err)
		}
	}
	return nil
}
