// README: Delivery order aggregate, lifecycle statuses and history ledger entries.
package order

import (
	"time"

	"coursier/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusPickedUp  Status = "picked_up"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

type Urgency string

const (
	UrgencyStandard Urgency = "standard"
	UrgencyExpress  Urgency = "express"
	UrgencyUrgent   Urgency = "urgent"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type PaymentMethod string

const (
	PaymentMobileMoney PaymentMethod = "mobile_money"
	PaymentCash        PaymentMethod = "cash"
)

type Order struct {
	ID                   types.ID
	TrackingNumber       string
	CustomerID           types.ID
	DriverID             *types.ID
	PickupAddress        string
	DeliveryAddress      string
	RecipientName        string
	RecipientPhone       string
	PackageType          string
	WeightGrams          int
	Urgency              Urgency
	Price                types.Money
	Status               Status
	PaymentStatus        PaymentStatus
	PaymentMethod        PaymentMethod
	PaymentTransactionID *string
	DeliveryNotes        string
	EstimatedDeliveryAt  *time.Time
	CancelReason         *string
	CreatedAt            time.Time
	AcceptedAt           *time.Time
	PickedUpAt           *time.Time
	InTransitAt          *time.Time
	DeliveredAt          *time.Time
	CancelledAt          *time.Time
}

// AssignedTo reports whether driverID is the driver holding the order.
func (o *Order) AssignedTo(driverID types.ID) bool {
	return o.DriverID != nil && *o.DriverID == driverID
}

// applyTransition mirrors a committed driver transition on an in-memory copy.
func (o *Order) applyTransition(to Status, at time.Time) {
	o.Status = to
	switch to {
	case StatusPickedUp:
		o.PickedUpAt = &at
	case StatusInTransit:
		o.InTransitAt = &at
	case StatusDelivered:
		o.DeliveredAt = &at
	}
}

// HistoryEntry is one append-only row of the tracking ledger.
type HistoryEntry struct {
	ID        int64
	OrderID   types.ID
	Status    Status
	Location  *string
	Notes     *string
	CreatedAt time.Time
}

// AllowedTransitions represents the delivery flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusPickedUp},
	StatusPickedUp:  {StatusInTransit},
	StatusInTransit: {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPickedUp, StatusInTransit, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func (u Urgency) Valid() bool {
	return u == UrgencyStandard || u == UrgencyExpress || u == UrgencyUrgent
}

// deliveryWindow is the promised delay between creation and delivery.
func (u Urgency) deliveryWindow() time.Duration {
	switch u {
	case UrgencyUrgent:
		return 2 * time.Hour
	case UrgencyExpress:
		return 6 * time.Hour
	default:
		return 48 * time.Hour
	}
}
