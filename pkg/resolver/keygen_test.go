package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

func TestGenerateAPIKeyRoundTrip(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.store, testLogger())
	ctx := context.Background()

	key, raw, err := r.GenerateAPIKey(ctx, KeySpec{
		OrganizationID: "acme",
		TeamID:         "t1",
		CreatedBy:      "alice",
		Name:           "ci key",
	})
	require.NoError(t, err)
	assert.Equal(t, tenant.KeyStatusActive, key.Status)
	assert.Equal(t, raw, key.Key)

	// The formatted key parses back to its own components.
	parsed, err := r.ParseAPIKey(raw)
	require.NoError(t, err)
	assert.Equal(t, "acme", parsed.OrganizationID)
	assert.Equal(t, "t1", parsed.TeamID)
	assert.Equal(t, key.ID, parsed.KeyID)
	assert.Equal(t, HashSecret(parsed.Secret), key.SecretHash)

	// And resolves end to end.
	tctx, err := r.ResolveTenant(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, key.ID, tctx.APIKey.ID)
	assert.Equal(t, "alice", tctx.User.UserID)
}

func TestGenerateAPIKeyOrgScoped(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.store, testLogger())

	key, raw, err := r.GenerateAPIKey(context.Background(), KeySpec{
		OrganizationID: "acme",
		CreatedBy:      "owner-1",
		Name:           "org key",
	})
	require.NoError(t, err)
	assert.Empty(t, key.TeamID)

	parsed, err := r.ParseAPIKey(raw)
	require.NoError(t, err)
	assert.Empty(t, parsed.TeamID)
}

func TestGenerateAPIKeyValidation(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.store, testLogger())
	ctx := context.Background()

	_, _, err := r.GenerateAPIKey(ctx, KeySpec{OrganizationID: "bad_org"})
	assert.Error(t, err)

	_, _, err = r.GenerateAPIKey(ctx, KeySpec{OrganizationID: "ghost"})
	assert.Equal(t, tenant.ErrCodeOrganizationNotFound, tenant.CodeOf(err))

	_, _, err = r.GenerateAPIKey(ctx, KeySpec{OrganizationID: "acme", TeamID: "ghost"})
	assert.Equal(t, tenant.ErrCodeTeamNotFound, tenant.CodeOf(err))
}

func TestGenerateAPIKeyWithExpiry(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.store, testLogger())
	expires := time.Now().Add(-time.Minute)

	_, raw, err := r.GenerateAPIKey(context.Background(), KeySpec{
		OrganizationID: "acme",
		CreatedBy:      "owner-1",
		ExpiresAt:      &expires,
	})
	require.NoError(t, err)

	_, err = r.ResolveTenant(context.Background(), raw)
	assert.Equal(t, tenant.ErrCodeAPIKeyExpired, tenant.CodeOf(err))
}

func TestGenerateAPIKeyEnforcesMaxKeys(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.store, testLogger())
	ctx := context.Background()

	// The fixture already holds one active key; cap at two.
	require.NoError(t, f.store.SaveQuota(ctx, &tenant.UsageQuota{
		OrganizationID: "acme",
		MaxKeys:        2,
		ResetDate:      tenant.FirstOfNextMonth(time.Now()),
	}))

	_, _, err := r.GenerateAPIKey(ctx, KeySpec{OrganizationID: "acme", CreatedBy: "owner-1", Name: "second"})
	require.NoError(t, err)

	_, _, err = r.GenerateAPIKey(ctx, KeySpec{OrganizationID: "acme", CreatedBy: "owner-1", Name: "third"})
	assert.Equal(t, tenant.ErrCodeQuotaExceeded, tenant.CodeOf(err))

	// Revoked keys do not count toward the ceiling.
	require.NoError(t, r.RevokeKey(ctx, "acme", "k1"))
	_, _, err = r.GenerateAPIKey(ctx, KeySpec{OrganizationID: "acme", CreatedBy: "owner-1", Name: "third"})
	assert.NoError(t, err)
}

func TestRevokeKey(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.store, testLogger())
	ctx := context.Background()

	require.NoError(t, r.RevokeKey(ctx, "acme", "k1"))

	_, err := r.ResolveTenant(ctx, f.raw)
	assert.Equal(t, tenant.ErrCodeAPIKeyRevoked, tenant.CodeOf(err))

	// Terminal and idempotent.
	require.NoError(t, r.RevokeKey(ctx, "acme", "k1"))

	assert.Equal(t, tenant.ErrCodeAPIKeyNotFound,
		tenant.CodeOf(r.RevokeKey(ctx, "acme", "ghost")))
}
