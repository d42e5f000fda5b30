// Package store is the single source of truth for tenant entities. Entities
// are persisted as independent JSON documents under a filesystem root, one
// directory per organization, plus an append-only per-organization audit log.
//
// Lookups return (nil, nil) when the entity does not exist; only genuine I/O
// failure surfaces as an error. Saves are full-document overwrites and update
// the read-through cache atomically with the write.
package store

import (
	"context"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

// Store defines durable CRUD for tenant entities and the audit trail.
type Store interface {
	GetOrganization(ctx context.Context, orgID string) (*tenant.Organization, error)
	SaveOrganization(ctx context.Context, org *tenant.Organization) error
	ListOrganizations(ctx context.Context) ([]*tenant.Organization, error)

	GetTeam(ctx context.Context, orgID, teamID string) (*tenant.Team, error)
	SaveTeam(ctx context.Context, team *tenant.Team) error
	ListTeams(ctx context.Context, orgID string) ([]*tenant.Team, error)

	GetAPIKey(ctx context.Context, orgID, keyID string) (*tenant.APIKey, error)
	SaveAPIKey(ctx context.Context, key *tenant.APIKey) error
	ListAPIKeys(ctx context.Context, orgID string) ([]*tenant.APIKey, error)

	// GetQuota returns the team quota when teamID is non-empty, otherwise the
	// organization quota.
	GetQuota(ctx context.Context, orgID, teamID string) (*tenant.UsageQuota, error)
	SaveQuota(ctx context.Context, quota *tenant.UsageQuota) error

	AppendAuditLog(ctx context.Context, entry *tenant.AuditEntry) error
	// GetAuditLogs returns up to limit most recent entries, newest first. The
	// whole log is read and reversed; callers must not assume this scales past
	// moderate log sizes.
	GetAuditLogs(ctx context.Context, orgID string, limit int) ([]*tenant.AuditEntry, error)

	// ClearCache drops every cached document. There is no TTL-based expiry and
	// no cross-process invalidation; correctness assumes a single serving
	// process per storage root.
	ClearCache()
}

// Metrics receives cache and audit observations from the store.
type Metrics interface {
	RecordCacheHit(entity string)
	RecordCacheMiss(entity string)
	RecordAuditAppend()
}
