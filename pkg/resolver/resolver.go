// Package resolver turns a raw API key string into a fully resolved tenant
// context: organization, optional team, key, owning user, effective
// permissions, and quota. Every expected failure mode comes back as a typed
// *tenant.Error; only genuine I/O failures are wrapped and propagated.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/halcyonai/agentstore/pkg/async"
	"github.com/halcyonai/agentstore/pkg/observability"
	"github.com/halcyonai/agentstore/pkg/store"
	"github.com/halcyonai/agentstore/pkg/tenant"
)

// Key grammar, first match wins.
var (
	teamKeyPattern = regexp.MustCompile(`^org_([^_]+)_team_([^_]+)_key_([^.]+)\.(.+)$`)
	orgKeyPattern  = regexp.MustCompile(`^org_([^_]+)_key_([^.]+)\.(.+)$`)
	legacyPattern  = regexp.MustCompile(`^([0-9a-f]{8})\.([0-9a-f]{32})$`)
)

// DefaultOrganizationID is the organization legacy keys resolve into unless
// configured otherwise.
const DefaultOrganizationID = "default"

const usageUpdateTimeout = 5 * time.Second

// ParsedKey is the structural decomposition of a raw API key string.
type ParsedKey struct {
	OrganizationID string
	TeamID         string
	KeyID          string
	Secret         string
	IsLegacy       bool
}

// Resolver resolves raw API keys against the store.
type Resolver struct {
	store           store.Store
	logger          *observability.Logger
	metrics         *observability.Metrics
	defaultOrgID    string
	strictIsolation bool
	now             func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDefaultOrganization sets the organization legacy keys resolve into.
func WithDefaultOrganization(orgID string) Option {
	return func(r *Resolver) { r.defaultOrgID = orgID }
}

// WithStrictIsolation requires a key's own team to match the team scope of
// the operation being authorized. The lenient default permits org-scoped
// fallback, which migrated legacy keys rely on.
func WithStrictIsolation() Option {
	return func(r *Resolver) { r.strictIsolation = true }
}

// WithMetrics wires resolution metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = metrics }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver.
func NewResolver(st store.Store, logger *observability.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:        st,
		logger:       logger,
		defaultOrgID: DefaultOrganizationID,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ParseAPIKey decomposes a raw key string. Team-scoped structured keys are
// tried first, then org-scoped, then the legacy hex8.hex32 form, which maps
// to the configured default organization.
func (r *Resolver) ParseAPIKey(raw string) (*ParsedKey, error) {
	if m := teamKeyPattern.FindStringSubmatch(raw); m != nil {
		return &ParsedKey{
			OrganizationID: m[1],
			TeamID:         m[2],
			KeyID:          m[3],
			Secret:         m[4],
		}, nil
	}
	if m := orgKeyPattern.FindStringSubmatch(raw); m != nil {
		return &ParsedKey{
			OrganizationID: m[1],
			KeyID:          m[2],
			Secret:         m[3],
		}, nil
	}
	if m := legacyPattern.FindStringSubmatch(raw); m != nil {
		return &ParsedKey{
			OrganizationID: r.defaultOrgID,
			KeyID:          m[1],
			Secret:         m[2],
			IsLegacy:       true,
		}, nil
	}
	return nil, tenant.NewError(tenant.ErrCodeInvalidKeyFormat, "API key does not match any recognized format")
}

// HashSecret computes the hex-encoded SHA-256 of a key's secret component,
// the form stored in the key document.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ResolveTenant resolves a raw key with no operation team scope.
func (r *Resolver) ResolveTenant(ctx context.Context, rawKey string) (*tenant.Context, error) {
	return r.ResolveTenantScoped(ctx, rawKey, "")
}

// ResolveTenantScoped resolves a raw key for an operation scoped to
// operationTeamID (empty for org-level operations). The sequence
// short-circuits on the first failure with its error code; on success the
// key's usage counters are updated without blocking the caller.
func (r *Resolver) ResolveTenantScoped(ctx context.Context, rawKey, operationTeamID string) (*tenant.Context, error) {
	start := r.now()
	tctx, err := r.resolve(ctx, rawKey, operationTeamID)
	if r.metrics != nil {
		outcome := "ok"
		if err != nil {
			if code := tenant.CodeOf(err); code != "" {
				outcome = string(code)
			} else {
				outcome = "internal_error"
			}
		}
		r.metrics.RecordResolution(outcome, r.now().Sub(start))
	}
	return tctx, err
}

func (r *Resolver) resolve(ctx context.Context, rawKey, operationTeamID string) (*tenant.Context, error) {
	parsed, err := r.ParseAPIKey(rawKey)
	if err != nil {
		return nil, err
	}

	org, err := r.store.GetOrganization(ctx, parsed.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}
	if org == nil {
		return nil, tenant.NewError(tenant.ErrCodeOrganizationNotFound,
			fmt.Sprintf("organization %s not found", parsed.OrganizationID))
	}
	if org.Status == tenant.OrgStatusSuspended {
		return nil, tenant.NewError(tenant.ErrCodeOrganizationSuspended,
			fmt.Sprintf("organization %s is suspended", org.ID))
	}

	var team *tenant.Team
	if parsed.TeamID != "" {
		team, err = r.store.GetTeam(ctx, org.ID, parsed.TeamID)
		if err != nil {
			return nil, fmt.Errorf("failed to load team: %w", err)
		}
		if team == nil {
			return nil, tenant.NewError(tenant.ErrCodeTeamNotFound,
				fmt.Sprintf("team %s not found in organization %s", parsed.TeamID, org.ID))
		}
		if team.Status == tenant.TeamStatusSuspended {
			return nil, tenant.NewError(tenant.ErrCodeTeamSuspended,
				fmt.Sprintf("team %s is suspended", team.ID))
		}
	}

	key, err := r.store.GetAPIKey(ctx, org.ID, parsed.KeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load api key: %w", err)
	}
	if key == nil {
		return nil, tenant.NewError(tenant.ErrCodeAPIKeyNotFound,
			fmt.Sprintf("api key %s not found", parsed.KeyID))
	}
	if key.SecretHash != "" && key.SecretHash != HashSecret(parsed.Secret) {
		return nil, tenant.NewError(tenant.ErrCodeAPIKeyNotFound,
			fmt.Sprintf("api key %s not found", parsed.KeyID))
	}
	if key.Status == tenant.KeyStatusRevoked {
		return nil, tenant.NewError(tenant.ErrCodeAPIKeyRevoked,
			fmt.Sprintf("api key %s has been revoked", key.ID))
	}
	// Expiry is detected lazily here; there is no background sweep marking
	// keys expired.
	if key.Status == tenant.KeyStatusExpired ||
		(key.ExpiresAt != nil && key.ExpiresAt.Before(r.now())) {
		if key.Status == tenant.KeyStatusActive {
			r.markExpired(ctx, key)
		}
		return nil, tenant.NewError(tenant.ErrCodeAPIKeyExpired,
			fmt.Sprintf("api key %s has expired", key.ID))
	}

	if err := r.checkTeamScope(key, operationTeamID); err != nil {
		return nil, err
	}

	user, err := r.findMember(ctx, org, team, key.CreatedBy)
	if err != nil {
		return nil, err
	}
	if user.Status == tenant.MemberStatusSuspended {
		return nil, tenant.NewError(tenant.ErrCodeUserSuspended,
			fmt.Sprintf("user %s is suspended", user.UserID))
	}

	// Custom key permissions are a full override of the role's set, not a
	// union with it.
	permissions := key.Permissions
	if len(permissions) == 0 {
		permissions = tenant.PermissionsForRole(user.Role)
	}

	teamID := ""
	if team != nil {
		teamID = team.ID
	}
	quota, err := r.store.GetQuota(ctx, org.ID, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quota: %w", err)
	}
	if quota == nil {
		quota = tenant.DefaultQuota(org)
		quota.TeamID = teamID
		if err := r.store.SaveQuota(ctx, quota); err != nil {
			return nil, fmt.Errorf("failed to seed quota: %w", err)
		}
	}

	r.scheduleUsageUpdate(key)

	return &tenant.Context{
		Organization: org,
		Team:         team,
		User:         user,
		APIKey:       key,
		Permissions:  permissions,
		Quota:        quota,
	}, nil
}

// checkTeamScope enforces team isolation between the key's own scope and the
// operation's. Strict mode requires an exact match; lenient mode lets
// org-scoped (and legacy) keys fall back to any team but still rejects a
// team key used against a different team.
func (r *Resolver) checkTeamScope(key *tenant.APIKey, operationTeamID string) error {
	if operationTeamID == "" {
		return nil
	}
	if key.TeamID == operationTeamID {
		return nil
	}
	if key.TeamID == "" && !r.strictIsolation {
		return nil
	}
	return tenant.NewError(tenant.ErrCodePermissionDenied,
		fmt.Sprintf("api key is not scoped to team %s", operationTeamID))
}

// findMember locates the key creator's membership record. The parsed team is
// consulted first, then every team in the organization. The organization
// owner is implicitly an OWNER even without an explicit membership record.
func (r *Resolver) findMember(ctx context.Context, org *tenant.Organization, team *tenant.Team, userID string) (*tenant.TeamMember, error) {
	if team != nil {
		if member := team.Member(userID); member != nil {
			return member, nil
		}
	} else {
		teams, err := r.store.ListTeams(ctx, org.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list teams: %w", err)
		}
		for _, t := range teams {
			if member := t.Member(userID); member != nil {
				return member, nil
			}
		}
	}

	if userID != "" && userID == org.OwnerID {
		return &tenant.TeamMember{
			UserID: userID,
			Role:   tenant.RoleOwner,
			Status: tenant.MemberStatusActive,
		}, nil
	}
	return nil, tenant.NewError(tenant.ErrCodeUserNotFound,
		fmt.Sprintf("user %s not found in organization %s", userID, org.ID))
}

func (r *Resolver) markExpired(ctx context.Context, key *tenant.APIKey) {
	expired := *key
	expired.Status = tenant.KeyStatusExpired
	if err := r.store.SaveAPIKey(ctx, &expired); err != nil {
		r.logger.WithError(err).WithField("key_id", key.ID).Warn("failed to persist key expiry")
	}
}

// scheduleUsageUpdate bumps the key's request counter and lastUsedAt without
// blocking the resolution path.
func (r *Resolver) scheduleUsageUpdate(key *tenant.APIKey) {
	updated := *key
	now := r.now().UTC()
	if updated.Usage == nil {
		updated.Usage = &tenant.KeyUsageStats{}
	} else {
		stats := *updated.Usage
		updated.Usage = &stats
	}
	updated.Usage.RequestCount++
	updated.Usage.LastUsedAt = &now

	async.SafeGo(context.Background(), usageUpdateTimeout, "key-usage-update", func(ctx context.Context) error {
		return r.store.SaveAPIKey(ctx, &updated)
	})
}
