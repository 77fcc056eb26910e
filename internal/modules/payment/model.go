// README: Gateway request/result types and payment errors.
package payment

import (
	"errors"
	"strconv"
	"strings"

	"coursier/internal/types"
)

var (
	ErrNotConfigured    = errors.New("payment gateway is not configured")
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	ErrAlreadyPaid      = errors.New("order is already paid")
	ErrNotPayable       = errors.New("order cannot be paid through the gateway")
	ErrBadPayload       = errors.New("malformed webhook payload")
	ErrChargeInProgress = errors.New("a charge for this order is already in progress")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// NormalizeStatus maps the gateway's vocabulary onto the three statuses used internally.
// Anything unrecognised counts as failed.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "success", "successful", "succeeded", "paid", "accepted":
		return StatusCompleted
	case "pending", "processing", "initiated", "created", "in_progress":
		return StatusPending
	default:
		return StatusFailed
	}
}

// Result is the outcome of any gateway call. Transport failures are reported here
// with Status failed rather than as errors.
type Result struct {
	Success       bool
	TransactionID string
	Status        Status
	Message       string
	// Answered is set when the gateway returned a response, even a refusal.
	Answered      bool
}

func failed(msg string) Result {
	return Result{Success: false, Status: StatusFailed, Message: msg}
}

type PaymentRequest struct {
	Amount        types.Money
	CustomerPhone string
	OrderID       types.ID
	Description   string

	// IdempotencyKey defaults to ChargeKey(OrderID, 0).
	IdempotencyKey string
}

// ChargeKey identifies one charge attempt for an order. A retry of the same
// attempt reuses the key so the gateway can collapse it.
func ChargeKey(orderID types.ID, attempt int) string {
	return "charge-" + orderID.String() + "-" + strconv.Itoa(attempt)
}

type Rail string

const (
	RailWallet   Rail = "wallet"
	RailExternal Rail = "external"
)

// ExternalRailFeeBP is charged on transfers leaving the gateway wallet.
const ExternalRailFeeBP int64 = 200

type TransferRequest struct {
	DriverID    types.ID
	Amount      types.Money
	DriverPhone string
	OrderID     types.ID
	Rail        Rail
}

type TransferResult struct {
	Result
	Reference string
	Fee       types.Money
	Net       types.Money
}

// PayoutReference is stable per order so a retried transfer is recognised by the gateway.
func PayoutReference(driverID, orderID types.ID) string {
	return "payout-" + driverID.String() + "-" + orderID.String()
}

// TransferFee returns the fee withheld for rail.
func TransferFee(amount types.Money, rail Rail) types.Money {
	if rail == RailExternal {
		return amount.ApplyBasisPoints(ExternalRailFeeBP)
	}
	return types.Money{Amount: 0, Currency: amount.Currency}
}

type WebhookKind string

const (
	WebhookPayment  WebhookKind = "payment"
	WebhookTransfer WebhookKind = "transfer"
)

// WebhookEvent is a verified gateway callback.
type WebhookEvent struct {
	Kind          WebhookKind `json:"event"`
	TransactionID string      `json:"transaction_id"`
	Reference     string      `json:"reference"`
	OrderID       string      `json:"order_id"`
	RawStatus     string      `json:"status"`
	Message       string      `json:"message"`
}

func (e WebhookEvent) Status() Status {
	return NormalizeStatus(e.RawStatus)
}
