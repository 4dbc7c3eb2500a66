package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "trustcore/pkg/domain-errors"
)

func TestRoleTable(t *testing.T) {
	ctx := context.Background()
	table := NewRoleTable()
	table.Grant("0xregistrar", CapabilityRegistrar)

	assert.True(t, table.Authorize(ctx, "0xregistrar", CapabilityRegistrar))
	assert.False(t, table.Authorize(ctx, "0xregistrar", CapabilityAuthority))
	assert.False(t, table.Authorize(ctx, "0xstranger", CapabilityRegistrar))

	table.Revoke("0xregistrar", CapabilityRegistrar)
	assert.False(t, table.Authorize(ctx, "0xregistrar", CapabilityRegistrar))
}

func TestRequire(t *testing.T) {
	ctx := context.Background()
	table := NewRoleTable()
	table.Grant("0xadmin", CapabilityAuthority)

	require.NoError(t, Require(ctx, table, "0xadmin", CapabilityAuthority))

	err := Require(ctx, table, "", CapabilityAuthority)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	require.ErrorIs(t, Require(ctx, nil, "0xadmin", CapabilityAuthority), ErrUnauthorized)
}

func TestTokenService(t *testing.T) {
	svc := NewTokenService("test-signing-key", "trustcore")

	t.Run("round-trips subject and capabilities", func(t *testing.T) {
		token, err := svc.Issue("0xabc", []Capability{CapabilitySubmitter}, time.Minute)
		require.NoError(t, err)

		claims, err := svc.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, "0xabc", claims.Subject)
		assert.Equal(t, []Capability{CapabilitySubmitter}, claims.Capabilities)
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		token, err := svc.Issue("0xabc", nil, -time.Minute)
		require.NoError(t, err)

		_, err = svc.Validate(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects tokens signed with another key", func(t *testing.T) {
		other := NewTokenService("other-key", "trustcore")
		token, err := other.Issue("0xabc", nil, time.Minute)
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestContextGrants(t *testing.T) {
	ctx := WithGrantedCapabilities(context.Background(), []Capability{CapabilityOracle})
	auth := Any{NewRoleTable(), ContextGrants{}}

	assert.True(t, auth.Authorize(ctx, "0xcarrier", CapabilityOracle))
	assert.False(t, auth.Authorize(ctx, "0xcarrier", CapabilityAuthority))
	assert.False(t, auth.Authorize(context.Background(), "0xcarrier", CapabilityOracle))
}
