package tenant

import "time"

// OrgStatus represents organization status
type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
	OrgStatusDeleted   OrgStatus = "deleted"
)

// OrgSettings holds per-organization storage policy.
type OrgSettings struct {
	StorageLimitBytes   int64 `json:"storage_limit_bytes"`
	RequestLimitMonthly int64 `json:"request_limit_monthly"`
	BandwidthLimitBytes int64 `json:"bandwidth_limit_bytes"`
	MaxFileSizeBytes    int64 `json:"max_file_size_bytes"`
	RetentionDays       int   `json:"retention_days"`
}

// DefaultOrgSettings returns the policy applied to newly created organizations.
func DefaultOrgSettings() OrgSettings {
	return OrgSettings{
		StorageLimitBytes:   10 * 1024 * 1024 * 1024,  // 10GB
		RequestLimitMonthly: 100000,
		BandwidthLimitBytes: 100 * 1024 * 1024 * 1024, // 100GB/month
		MaxFileSizeBytes:    512 * 1024 * 1024,
		RetentionDays:       90,
	}
}

// Organization is the root of tenancy. The ID is immutable once created.
type Organization struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	OwnerID     string      `json:"owner_id"`
	Settings    OrgSettings `json:"settings"`
	Status      OrgStatus   `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TeamStatus represents team status
type TeamStatus string

const (
	TeamStatusActive    TeamStatus = "active"
	TeamStatusSuspended TeamStatus = "suspended"
	TeamStatusDeleted   TeamStatus = "deleted"
)

// Team is an optional sub-scope within an organization.
type Team struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	DisplayName    string       `json:"display_name"`
	OwnerID        string       `json:"owner_id"`
	Members        []TeamMember `json:"members"`
	Status         TeamStatus   `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Member returns the team member with the given user ID, or nil.
func (t *Team) Member(userID string) *TeamMember {
	for i := range t.Members {
		if t.Members[i].UserID == userID {
			return &t.Members[i]
		}
	}
	return nil
}

// MemberStatus represents team membership status
type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "active"
	MemberStatusInvited   MemberStatus = "invited"
	MemberStatusSuspended MemberStatus = "suspended"
)

// TeamMember is a user's membership record within a team.
type TeamMember struct {
	UserID      string       `json:"user_id"`
	Email       string       `json:"email,omitempty"`
	DisplayName string       `json:"display_name,omitempty"`
	Role        Role         `json:"role"`
	Status      MemberStatus `json:"status"`
	JoinedAt    time.Time    `json:"joined_at"`
}

// KeyStatus represents API key status. Transitions are one-way:
// active -> revoked (explicit) or active -> expired (detected lazily at
// resolution time). No edge returns to active.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
	KeyStatusExpired KeyStatus = "expired"
)

// KeyUsageStats tracks per-key request accounting.
type KeyUsageStats struct {
	RequestCount int64      `json:"request_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// APIKey is a credential bound to an organization and optionally a team.
//
// The formatted key (including the secret component) is retained alongside
// the secret hash so the key can be re-displayed to the org owner. Lookup
// always goes through the hash.
type APIKey struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	TeamID         string         `json:"team_id,omitempty"`
	CreatedBy      string         `json:"created_by"`
	Name           string         `json:"name"`
	Key            string         `json:"key"`
	SecretHash     string         `json:"secret_hash"`
	Status         KeyStatus      `json:"status"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	Permissions    []Permission   `json:"permissions,omitempty"`
	Usage          *KeyUsageStats `json:"usage,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// UsageQuota holds limits and counters for one organization or team.
// Storage is absolute and never auto-resets; requests and bandwidth are
// monthly counters reset when ResetDate elapses.
type UsageQuota struct {
	OrganizationID string    `json:"organization_id"`
	TeamID         string    `json:"team_id,omitempty"`
	StorageLimit   int64     `json:"storage_limit"`
	StorageUsed    int64     `json:"storage_used"`
	RequestLimit   int64     `json:"request_limit"`
	RequestsUsed   int64     `json:"requests_used"`
	BandwidthLimit int64     `json:"bandwidth_limit"`
	BandwidthUsed  int64     `json:"bandwidth_used"`
	MaxTeams       int       `json:"max_teams"`
	MaxMembers     int       `json:"max_members"`
	MaxKeys        int       `json:"max_keys"`
	ResetDate      time.Time `json:"reset_date"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultQuota seeds a quota document from organization settings.
func DefaultQuota(org *Organization) *UsageQuota {
	now := time.Now().UTC()
	return &UsageQuota{
		OrganizationID: org.ID,
		StorageLimit:   org.Settings.StorageLimitBytes,
		RequestLimit:   org.Settings.RequestLimitMonthly,
		BandwidthLimit: org.Settings.BandwidthLimitBytes,
		MaxTeams:       20,
		MaxMembers:     100,
		MaxKeys:        50,
		ResetDate:      FirstOfNextMonth(now),
		UpdatedAt:      now,
	}
}

// FirstOfNextMonth returns midnight UTC on the first day of the month after t.
func FirstOfNextMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// AuditResult represents the outcome recorded with an audit entry.
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
	AuditResultDenied  AuditResult = "denied"
)

// AuditEntry is one immutable record in an organization's audit log.
type AuditEntry struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	TeamID         string                 `json:"team_id,omitempty"`
	UserID         string                 `json:"user_id"`
	Action         string                 `json:"action"`
	Resource       string                 `json:"resource"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Result         AuditResult            `json:"result"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Context is the fully resolved identity attached to a request. It is
// constructed fresh per resolution and never persisted.
type Context struct {
	Organization *Organization
	Team         *Team
	User         *TeamMember
	APIKey       *APIKey
	Permissions  []Permission
	Quota        *UsageQuota
}

// HasPermission reports whether the already-resolved permission set contains p.
func (c *Context) HasPermission(p Permission) bool {
	for _, have := range c.Permissions {
		if have == p {
			return true
		}
	}
	return false
}
