package benefit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambassador-ledger/internal/models"
)

func TestResolve_DefaultSlabs(t *testing.T) {
	table := MustDefaultTable()

	tests := []struct {
		count int
		want  float64
	}{
		{-3, 0},
		{0, 0},
		{1, 5},
		{2, 10},
		{3, 25},
		{4, 30},
		{5, 50},
		{6, 50},
		{42, 50},
	}

	for _, tt := range tests {
		got := table.Resolve(tt.count)
		assert.Equalf(t, tt.want, got.YearFeeBenefitPercent, "Resolve(%d)", tt.count)
	}
}

func TestResolve_GapInSlabsUsesHighestLowerSlab(t *testing.T) {
	table, err := NewTable([]models.BenefitSlab{
		{ReferralCount: 1, YearFeeBenefitPercent: 5, BaseLongTermPercent: 10},
		{ReferralCount: 3, YearFeeBenefitPercent: 20, BaseLongTermPercent: 12},
	})
	require.NoError(t, err)

	assert.Equal(t, 5.0, table.Resolve(2).YearFeeBenefitPercent)
	assert.Equal(t, 1, table.Resolve(2).SlabReferralCount)
	// never extrapolates above the highest configured slab
	assert.Equal(t, 20.0, table.Resolve(5).YearFeeBenefitPercent)
	assert.Equal(t, 12.0, table.Resolve(9).LongTermBasePercent)
}

func TestResolve_CountBelowFirstSlab(t *testing.T) {
	table, err := NewTable([]models.BenefitSlab{
		{ReferralCount: 2, YearFeeBenefitPercent: 10},
	})
	require.NoError(t, err)

	assert.Equal(t, Result{}, table.Resolve(1))
}

func TestNewTable_RejectsInvalidSlabs(t *testing.T) {
	_, err := NewTable([]models.BenefitSlab{
		{ReferralCount: 1, YearFeeBenefitPercent: 5},
		{ReferralCount: 1, YearFeeBenefitPercent: 10},
	})
	assert.Error(t, err)

	_, err = NewTable([]models.BenefitSlab{{ReferralCount: 1, YearFeeBenefitPercent: 150}})
	assert.Error(t, err)

	_, err = NewTable([]models.BenefitSlab{{ReferralCount: 0, YearFeeBenefitPercent: 5}})
	assert.Error(t, err)
}

func TestNewTable_SortsUnorderedInput(t *testing.T) {
	table, err := NewTable([]models.BenefitSlab{
		{ReferralCount: 5, YearFeeBenefitPercent: 50},
		{ReferralCount: 1, YearFeeBenefitPercent: 5},
	})
	require.NoError(t, err)

	slabs := table.Slabs()
	require.Len(t, slabs, 2)
	assert.Equal(t, 1, slabs[0].ReferralCount)
	assert.Equal(t, 5.0, table.Resolve(3).YearFeeBenefitPercent)
}

func TestEvaluate(t *testing.T) {
	table := MustDefaultTable()
	strategy := SlabBaseStrategy{}

	b := table.Evaluate(0, false, strategy)
	assert.Equal(t, models.BenefitInactive, b.BenefitStatus)
	assert.Zero(t, b.YearFeeBenefitPercent)
	assert.Zero(t, b.LongTermBenefitPercent)

	b = table.Evaluate(3, false, strategy)
	assert.Equal(t, models.BenefitActive, b.BenefitStatus)
	assert.Equal(t, 25.0, b.YearFeeBenefitPercent)
	assert.False(t, b.IsFiveStarMember)
	assert.Zero(t, b.LongTermBenefitPercent)

	b = table.Evaluate(5, false, strategy)
	assert.True(t, b.IsFiveStarMember)
	assert.Equal(t, 40.0, b.LongTermBenefitPercent)

	// five-star membership is sticky
	b = table.Evaluate(2, true, strategy)
	assert.True(t, b.IsFiveStarMember)
	assert.Equal(t, 10.0, b.YearFeeBenefitPercent)
	assert.Equal(t, 25.0, b.LongTermBenefitPercent)
}

func TestStrategies(t *testing.T) {
	table, err := NewTable([]models.BenefitSlab{
		{ReferralCount: 1, YearFeeBenefitPercent: 5, BaseLongTermPercent: 20},
	})
	require.NoError(t, err)
	res := table.Resolve(2)

	assert.Equal(t, 30.0, SlabBaseStrategy{}.LongTermPercent(res, 2, true))
	assert.Equal(t, 25.0, FixedBaseStrategy{}.LongTermPercent(res, 2, true))
	assert.Zero(t, SlabBaseStrategy{}.LongTermPercent(res, 2, false))
	assert.Zero(t, FixedBaseStrategy{}.LongTermPercent(res, 0, true))
	assert.Equal(t, 100.0, FixedBaseStrategy{}.LongTermPercent(res, 40, true))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategySlabBase, s.Name())

	s, err = ParseStrategy(StrategyFixedBase)
	require.NoError(t, err)
	assert.Equal(t, StrategyFixedBase, s.Name())

	_, err = ParseStrategy("linear")
	assert.Error(t, err)
}
