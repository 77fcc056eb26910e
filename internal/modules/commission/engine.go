// README: Commission engine; splits a delivery price between driver and platform.
package commission

import (
	"fmt"

	"coursier/internal/types"
)

// Calculate applies the driver's tier rate to amount.
// DriverEarnings + AdminEarnings always equals amount exactly.
func Calculate(eq Equipment, amount types.Money) (Calculation, error) {
	if amount.IsNegative() {
		return Calculation{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	tier := eq.Tier()
	rate := StandardRateBP
	if tier == TierPremium {
		rate = PremiumRateBP
	}

	commission := amount.ApplyBasisPoints(rate)
	return Calculation{
		BaseAmount:       amount,
		RateBP:           rate,
		CommissionAmount: commission,
		DriverEarnings:   amount.Sub(commission),
		AdminEarnings:    commission,
		Tier:             tier,
		Benefits:         benefitsFor(eq),
	}, nil
}

func benefitsFor(eq Equipment) []string {
	info := tierInfo[eq.Tier()]
	out := make([]string, 0, len(info.Benefits)+1)
	out = append(out, info.Benefits...)
	if eq.HasUniform {
		out = append(out, "uniform: customer trust badge")
	}
	return out
}

// TierInfoFor returns display metadata for a tier name.
func TierInfoFor(t Tier) (TierInfo, bool) {
	info, ok := tierInfo[t]
	if !ok {
		return TierInfo{}, false
	}
	info.Benefits = append([]string(nil), info.Benefits...)
	return info, true
}
