// README: Settlement record: the commission split of a delivered order plus payout tracking.
package settlement

import (
	"errors"
	"time"

	"coursier/internal/modules/commission"
	"coursier/internal/types"
)

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
	PayoutFailed    PayoutStatus = "failed"
)

var (
	ErrNotFound       = errors.New("settlement not found")
	ErrNotDelivered   = errors.New("order is not delivered")
	ErrAlreadyPaidOut = errors.New("settlement is already paid out")
	ErrPayoutBusy     = errors.New("payout attempt already in progress")
)

// Settlement amounts are written once; only the payout columns change afterwards.
type Settlement struct {
	ID                  types.ID
	OrderID             types.ID
	DriverID            types.ID
	BaseAmount          types.Money
	RateBP              int64
	CommissionAmount    types.Money
	DriverEarnings      types.Money
	AdminEarnings       types.Money
	Tier                commission.Tier
	PayoutStatus        PayoutStatus
	PayoutReference     string
	PayoutTransactionID *string
	PayoutFee           types.Money
	PayoutNet           types.Money
	PayoutAttempts      int
	LastError           *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PayoutUpdate is the outcome of one gateway interaction.
type PayoutUpdate struct {
	Status        PayoutStatus
	TransactionID string
	Fee           *types.Money
	Net           *types.Money
	Error         string
}
