// README: Commission tiers, calculation result and static tier metadata.
package commission

import (
	"errors"

	"coursier/internal/types"
)

type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// Rates in basis points of the delivery price kept by the platform.
const (
	StandardRateBP int64 = 2000
	PremiumRateBP  int64 = 3000
)

var ErrInvalidAmount = errors.New("invalid delivery amount")

// Equipment is the subset of a driver profile the engine reads.
type Equipment struct {
	HasGpsEquipment bool
	HasInsurance    bool
	HasUniform      bool
}

// Tier is premium iff the driver carries both GPS equipment and insurance.
func (e Equipment) Tier() Tier {
	if e.HasGpsEquipment && e.HasInsurance {
		return TierPremium
	}
	return TierStandard
}

type Calculation struct {
	BaseAmount       types.Money
	RateBP           int64
	CommissionAmount types.Money
	DriverEarnings   types.Money
	AdminEarnings    types.Money
	Tier             Tier
	Benefits         []string
}

type TierInfo struct {
	Tier          Tier
	CommissionPct int
	Priority      string
	PayoutLatency string
	Equipment     string
	Benefits      []string
}

var tierInfo = map[Tier]TierInfo{
	TierStandard: {
		Tier:          TierStandard,
		CommissionPct: 20,
		Priority:      "low",
		PayoutLatency: "24h",
		Equipment:     "own phone and vehicle",
		Benefits: []string{
			"access to the standard order board",
			"payout within 24 hours",
		},
	},
	TierPremium: {
		Tier:          TierPremium,
		CommissionPct: 30,
		Priority:      "high",
		PayoutLatency: "instant",
		Equipment:     "platform GPS tracker and delivery insurance",
		Benefits: []string{
			"priority on new orders",
			"instant payout",
			"insured deliveries",
			"live GPS tracking for customers",
		},
	},
}
