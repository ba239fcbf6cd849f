// Package benefit resolves referral counts into benefit percentages using the
// slab table.
package benefit

import (
	"fmt"
	"sort"

	"ambassador-ledger/internal/models"
)

// MaxSlabCount is the highest referral count that changes the year-fee benefit.
const MaxSlabCount = 5

// FiveStarThreshold is the confirmed count that earns five-star membership.
const FiveStarThreshold = 5

const longTermPerReferral = 5.0

// DefaultSlabs returns the shipped slab table. The 10% to 25% jump between
// two and three referrals is intentional.
func DefaultSlabs() []models.BenefitSlab {
	return []models.BenefitSlab{
		{ReferralCount: 1, YearFeeBenefitPercent: 5, LongTermExtraPercent: 5, BaseLongTermPercent: 15},
		{ReferralCount: 2, YearFeeBenefitPercent: 10, LongTermExtraPercent: 10, BaseLongTermPercent: 15},
		{ReferralCount: 3, YearFeeBenefitPercent: 25, LongTermExtraPercent: 15, BaseLongTermPercent: 15},
		{ReferralCount: 4, YearFeeBenefitPercent: 30, LongTermExtraPercent: 20, BaseLongTermPercent: 15},
		{ReferralCount: 5, YearFeeBenefitPercent: 50, LongTermExtraPercent: 25, BaseLongTermPercent: 15},
	}
}

// Result is the slab lookup for a referral count.
type Result struct {
	YearFeeBenefitPercent float64 `json:"year_fee_benefit_percent"`
	LongTermBasePercent   float64 `json:"long_term_base_percent"`
	LongTermExtraPercent  float64 `json:"long_term_extra_percent"`
	// SlabReferralCount is the threshold of the matched slab, 0 when none matched.
	SlabReferralCount int `json:"slab_referral_count"`
}

// Table is an immutable, ascending slab table.
type Table struct {
	slabs []models.BenefitSlab
}

// NewTable validates and sorts slabs.
func NewTable(slabs []models.BenefitSlab) (*Table, error) {
	sorted := make([]models.BenefitSlab, len(slabs))
	copy(sorted, slabs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ReferralCount < sorted[j].ReferralCount
	})

	seen := make(map[int]bool, len(sorted))
	for _, s := range sorted {
		if s.ReferralCount < 1 {
			return nil, fmt.Errorf("slab referral count must be positive, got %d", s.ReferralCount)
		}
		if seen[s.ReferralCount] {
			return nil, fmt.Errorf("duplicate slab for referral count %d", s.ReferralCount)
		}
		seen[s.ReferralCount] = true
		for name, pct := range map[string]float64{
			"year_fee_benefit_percent": s.YearFeeBenefitPercent,
			"long_term_extra_percent":  s.LongTermExtraPercent,
			"base_long_term_percent":   s.BaseLongTermPercent,
		} {
			if pct < 0 || pct > 100 {
				return nil, fmt.Errorf("slab %d: %s must be within 0-100, got %v", s.ReferralCount, name, pct)
			}
		}
	}

	return &Table{slabs: sorted}, nil
}

// MustDefaultTable returns the table built from DefaultSlabs.
func MustDefaultTable() *Table {
	t, err := NewTable(DefaultSlabs())
	if err != nil {
		panic(err)
	}
	return t
}

// Slabs returns a copy of the slab rows in ascending order.
func (t *Table) Slabs() []models.BenefitSlab {
	out := make([]models.BenefitSlab, len(t.slabs))
	copy(out, t.slabs)
	return out
}

// Resolve caps count at MaxSlabCount and returns the highest slab whose
// threshold does not exceed it. Counts below the first slab resolve to zero.
func (t *Table) Resolve(count int) Result {
	capped := min(max(count, 0), MaxSlabCount)

	// slabs are ascending, so the last match wins
	var res Result
	for _, s := range t.slabs {
		if s.ReferralCount > capped {
			break
		}
		res = Result{
			YearFeeBenefitPercent: s.YearFeeBenefitPercent,
			LongTermBasePercent:   s.BaseLongTermPercent,
			LongTermExtraPercent:  s.LongTermExtraPercent,
			SlabReferralCount:     s.ReferralCount,
		}
	}
	return res
}

// Benefit is the full derived benefit state for an ambassador.
type Benefit struct {
	ConfirmedReferralCount int
	YearFeeBenefitPercent  float64
	LongTermBenefitPercent float64
	IsFiveStarMember       bool
	BenefitStatus          models.BenefitStatus
}

// Evaluate derives every benefit field from the confirmed count. Five-star
// membership is sticky: wasFiveStar is carried forward.
func (t *Table) Evaluate(count int, wasFiveStar bool, strategy FiveStarBonusStrategy) Benefit {
	count = max(count, 0)
	res := t.Resolve(count)

	fiveStar := wasFiveStar || count >= FiveStarThreshold
	status := models.BenefitInactive
	if count >= 1 {
		status = models.BenefitActive
	}

	return Benefit{
		ConfirmedReferralCount: count,
		YearFeeBenefitPercent:  res.YearFeeBenefitPercent,
		LongTermBenefitPercent: strategy.LongTermPercent(res, count, fiveStar),
		IsFiveStarMember:       fiveStar,
		BenefitStatus:          status,
	}
}
