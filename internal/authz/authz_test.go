package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambassador-ledger/internal/apperr"
)

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()
	ctx := context.Background()

	scope, err := policy.Authorize(ctx, Actor{ID: "1", Role: RoleSuperAdmin}, CapRestore)
	require.NoError(t, err)
	assert.Zero(t, scope.CampusID)

	_, err = policy.Authorize(ctx, Actor{ID: "2", Role: RoleFinanceAdmin}, CapConfirmLead)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = policy.Authorize(ctx, Actor{ID: "3", Role: "Ambassador"}, CapViewSettlements)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestCampusBoundRole(t *testing.T) {
	policy := DefaultPolicy()
	ctx := context.Background()

	_, err := policy.Authorize(ctx, Actor{ID: "4", Role: RoleCampusHead}, CapConfirmLead)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	scope, err := policy.Authorize(ctx, Actor{ID: "4", Role: RoleCampusHead, CampusID: 7}, CapConfirmLead)
	require.NoError(t, err)

	seven, eight := int64(7), int64(8)
	assert.True(t, scope.AllowsCampus(&seven))
	assert.False(t, scope.AllowsCampus(&eight))
	assert.False(t, scope.AllowsCampus(nil))
	assert.True(t, Scope{}.AllowsCampus(nil))
}
