package resolver

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

const secretLength = 32 // bytes of entropy behind each key secret

// KeySpec describes a key to generate.
type KeySpec struct {
	OrganizationID string
	TeamID         string
	CreatedBy      string
	Name           string
	Permissions    []tenant.Permission
	ExpiresAt      *time.Time
}

// GenerateAPIKey mints a new structured API key, persists its document, and
// returns it together with the full formatted key string. The key id and
// secret are random; the secret is stored only as a hash plus the formatted
// key for owner re-display.
func (r *Resolver) GenerateAPIKey(ctx context.Context, spec KeySpec) (*tenant.APIKey, string, error) {
	if strings.Contains(spec.OrganizationID, "_") {
		return nil, "", fmt.Errorf("organization id %q cannot contain underscores", spec.OrganizationID)
	}
	if strings.Contains(spec.TeamID, "_") {
		return nil, "", fmt.Errorf("team id %q cannot contain underscores", spec.TeamID)
	}

	org, err := r.store.GetOrganization(ctx, spec.OrganizationID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load organization: %w", err)
	}
	if org == nil {
		return nil, "", tenant.NewError(tenant.ErrCodeOrganizationNotFound,
			fmt.Sprintf("organization %s not found", spec.OrganizationID))
	}
	if spec.TeamID != "" {
		team, err := r.store.GetTeam(ctx, spec.OrganizationID, spec.TeamID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load team: %w", err)
		}
		if team == nil {
			return nil, "", tenant.NewError(tenant.ErrCodeTeamNotFound,
				fmt.Sprintf("team %s not found in organization %s", spec.TeamID, spec.OrganizationID))
		}
	}

	if err := r.checkKeyCeiling(ctx, org); err != nil {
		return nil, "", err
	}

	keyID, err := randomKeyID()
	if err != nil {
		return nil, "", err
	}
	secret, err := randomSecret()
	if err != nil {
		return nil, "", err
	}
	formatted := FormatKey(spec.OrganizationID, spec.TeamID, keyID, secret)

	key := &tenant.APIKey{
		ID:             keyID,
		OrganizationID: spec.OrganizationID,
		TeamID:         spec.TeamID,
		CreatedBy:      spec.CreatedBy,
		Name:           spec.Name,
		Key:            formatted,
		SecretHash:     HashSecret(secret),
		Status:         tenant.KeyStatusActive,
		ExpiresAt:      spec.ExpiresAt,
		Permissions:    spec.Permissions,
		CreatedAt:      r.now().UTC(),
	}
	if err := r.store.SaveAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("failed to persist api key: %w", err)
	}
	return key, formatted, nil
}

// RevokeKey marks a key revoked. Revocation is terminal; revoking an already
// revoked key is a no-op.
func (r *Resolver) RevokeKey(ctx context.Context, orgID, keyID string) error {
	key, err := r.store.GetAPIKey(ctx, orgID, keyID)
	if err != nil {
		return fmt.Errorf("failed to load api key: %w", err)
	}
	if key == nil {
		return tenant.NewError(tenant.ErrCodeAPIKeyNotFound,
			fmt.Sprintf("api key %s not found", keyID))
	}
	if key.Status == tenant.KeyStatusRevoked {
		return nil
	}
	revoked := *key
	revoked.Status = tenant.KeyStatusRevoked
	if err := r.store.SaveAPIKey(ctx, &revoked); err != nil {
		return fmt.Errorf("failed to persist key revocation: %w", err)
	}
	r.logger.WithFields(map[string]interface{}{
		"org_id": orgID,
		"key_id": keyID,
	}).Info("api key revoked")
	return nil
}

// checkKeyCeiling enforces the organization's MaxKeys quota over non-revoked
// keys. A missing quota document means no ceiling yet.
func (r *Resolver) checkKeyCeiling(ctx context.Context, org *tenant.Organization) error {
	quota, err := r.store.GetQuota(ctx, org.ID, "")
	if err != nil {
		return fmt.Errorf("failed to load quota: %w", err)
	}
	if quota == nil || quota.MaxKeys <= 0 {
		return nil
	}

	keys, err := r.store.ListAPIKeys(ctx, org.ID)
	if err != nil {
		return fmt.Errorf("failed to list api keys: %w", err)
	}
	active := 0
	for _, key := range keys {
		if key.Status != tenant.KeyStatusRevoked {
			active++
		}
	}
	if active >= quota.MaxKeys {
		return tenant.NewError(tenant.ErrCodeQuotaExceeded,
			fmt.Sprintf("organization %s has reached its limit of %d api keys", org.ID, quota.MaxKeys))
	}
	return nil
}

// FormatKey assembles the full key string from its components.
func FormatKey(orgID, teamID, keyID, secret string) string {
	if teamID != "" {
		return fmt.Sprintf("org_%s_team_%s_key_%s.%s", orgID, teamID, keyID, secret)
	}
	return fmt.Sprintf("org_%s_key_%s.%s", orgID, keyID, secret)
}

func randomKeyID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// randomSecret returns a URL-safe base64 secret. The alphabet contains no
// dots, so the secret never collides with the key/secret separator.
func randomSecret() (string, error) {
	buf := make([]byte, secretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
