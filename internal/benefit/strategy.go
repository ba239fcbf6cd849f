package benefit

import "fmt"

// Strategy names accepted in configuration.
const (
	StrategySlabBase  = "slab-base"
	StrategyFixedBase = "fixed-base"
)

const fixedLongTermBase = 15.0

// FiveStarBonusStrategy computes the long-term benefit percentage for
// five-star members. It is chosen once at startup and shared by every caller.
type FiveStarBonusStrategy interface {
	Name() string
	LongTermPercent(res Result, count int, isFiveStar bool) float64
}

// ParseStrategy returns the strategy registered under name.
func ParseStrategy(name string) (FiveStarBonusStrategy, error) {
	switch name {
	case StrategySlabBase, "":
		return SlabBaseStrategy{}, nil
	case StrategyFixedBase:
		return FixedBaseStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown five-star bonus strategy %q", name)
	}
}

// SlabBaseStrategy uses the matched slab's base: base + count*5.
type SlabBaseStrategy struct{}

func (SlabBaseStrategy) Name() string { return StrategySlabBase }

func (SlabBaseStrategy) LongTermPercent(res Result, count int, isFiveStar bool) float64 {
	if !isFiveStar || count < 1 {
		return 0
	}
	return clampPercent(res.LongTermBasePercent + float64(count)*longTermPerReferral)
}

// FixedBaseStrategy uses a constant base of 15: 15 + count*5.
type FixedBaseStrategy struct{}

func (FixedBaseStrategy) Name() string { return StrategyFixedBase }

func (FixedBaseStrategy) LongTermPercent(_ Result, count int, isFiveStar bool) float64 {
	if !isFiveStar || count < 1 {
		return 0
	}
	return clampPercent(fixedLongTermBase + float64(count)*longTermPerReferral)
}

func clampPercent(p float64) float64 {
	return min(max(p, 0), 100)
}
