// README: JSON response shapes; money is rendered as a decimal string with its currency.
package handlers

import (
	"time"

	"coursier/internal/modules/commission"
	"coursier/internal/modules/driver"
	"coursier/internal/modules/order"
	"coursier/internal/modules/settlement"
	"coursier/internal/modules/user"
	"coursier/internal/types"
)

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func money(m types.Money) moneyJSON {
	return moneyJSON{Amount: m.Decimal(), Currency: m.Currency}
}

type orderResponse struct {
	ID                  types.ID            `json:"id"`
	TrackingNumber      string              `json:"tracking_number"`
	CustomerID          types.ID            `json:"customer_id"`
	DriverID            *types.ID           `json:"driver_id,omitempty"`
	PickupAddress       string              `json:"pickup_address"`
	DeliveryAddress     string              `json:"delivery_address"`
	RecipientName       string              `json:"recipient_name"`
	RecipientPhone      string              `json:"recipient_phone"`
	PackageType         string              `json:"package_type"`
	WeightGrams         int                 `json:"weight_grams"`
	Urgency             order.Urgency       `json:"urgency"`
	Price               moneyJSON           `json:"price"`
	Status              order.Status        `json:"status"`
	PaymentStatus       order.PaymentStatus `json:"payment_status"`
	PaymentMethod       order.PaymentMethod `json:"payment_method"`
	DeliveryNotes       string              `json:"delivery_notes,omitempty"`
	EstimatedDeliveryAt *time.Time          `json:"estimated_delivery_at,omitempty"`
	CancelReason        *string             `json:"cancellation_reason,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	AcceptedAt          *time.Time          `json:"accepted_at,omitempty"`
	PickedUpAt          *time.Time          `json:"picked_up_at,omitempty"`
	InTransitAt         *time.Time          `json:"in_transit_at,omitempty"`
	DeliveredAt         *time.Time          `json:"delivered_at,omitempty"`
	CancelledAt         *time.Time          `json:"cancelled_at,omitempty"`
}

func orderJSON(o *order.Order) orderResponse {
	return orderResponse{
		ID:                  o.ID,
		TrackingNumber:      o.TrackingNumber,
		CustomerID:          o.CustomerID,
		DriverID:            o.DriverID,
		PickupAddress:       o.PickupAddress,
		DeliveryAddress:     o.DeliveryAddress,
		RecipientName:       o.RecipientName,
		RecipientPhone:      o.RecipientPhone,
		PackageType:         o.PackageType,
		WeightGrams:         o.WeightGrams,
		Urgency:             o.Urgency,
		Price:               money(o.Price),
		Status:              o.Status,
		PaymentStatus:       o.PaymentStatus,
		PaymentMethod:       o.PaymentMethod,
		DeliveryNotes:       o.DeliveryNotes,
		EstimatedDeliveryAt: o.EstimatedDeliveryAt,
		CancelReason:        o.CancelReason,
		CreatedAt:           o.CreatedAt,
		AcceptedAt:          o.AcceptedAt,
		PickedUpAt:          o.PickedUpAt,
		InTransitAt:         o.InTransitAt,
		DeliveredAt:         o.DeliveredAt,
		CancelledAt:         o.CancelledAt,
	}
}

func ordersJSON(list []*order.Order) []orderResponse {
	out := make([]orderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, orderJSON(o))
	}
	return out
}

type historyResponse struct {
	Status    order.Status `json:"status"`
	Location  *string      `json:"location,omitempty"`
	Notes     *string      `json:"notes,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

func historyJSON(entries []order.HistoryEntry) []historyResponse {
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{Status: e.Status, Location: e.Location, Notes: e.Notes, CreatedAt: e.CreatedAt})
	}
	return out
}

type driverResponse struct {
	ID                 types.ID        `json:"id"`
	UserID             types.ID        `json:"user_id"`
	Phone              string          `json:"phone"`
	VehicleType        string          `json:"vehicle_type"`
	Status             driver.Status   `json:"status"`
	IsOnline           bool            `json:"is_online"`
	Rating             float64         `json:"rating"`
	RatingCount        int64           `json:"rating_count"`
	DeliveriesCount    int64           `json:"deliveries_count"`
	HasGpsEquipment    bool            `json:"has_gps_equipment"`
	HasInsurance       bool            `json:"has_insurance"`
	HasUniform         bool            `json:"has_uniform"`
	Tier               commission.Tier `json:"tier"`
	CanUpgrade         bool            `json:"can_upgrade_to_premium"`
	UpgradeRequestedAt *time.Time      `json:"upgrade_requested_at,omitempty"`
}

func driverJSON(d *driver.Driver) driverResponse {
	return driverResponse{
		ID:                 d.ID,
		UserID:             d.UserID,
		Phone:              d.Phone,
		VehicleType:        d.VehicleType,
		Status:             d.Status,
		IsOnline:           d.IsOnline,
		Rating:             d.Rating(),
		RatingCount:        d.RatingCount,
		DeliveriesCount:    d.DeliveriesCount,
		HasGpsEquipment:    d.HasGpsEquipment,
		HasInsurance:       d.HasInsurance,
		HasUniform:         d.HasUniform,
		Tier:               d.Tier(),
		CanUpgrade:         d.Tier() != commission.TierPremium && commission.CanUpgradeToPremium(d.Eligibility()),
		UpgradeRequestedAt: d.UpgradeRequestedAt,
	}
}

type tierResponse struct {
	Tier          commission.Tier `json:"tier"`
	CommissionPct int             `json:"commission_pct"`
	Priority      string          `json:"priority"`
	PayoutLatency string          `json:"payout_latency"`
	Equipment     string          `json:"equipment"`
	Benefits      []string        `json:"benefits"`
}

func tierJSON(info commission.TierInfo) tierResponse {
	return tierResponse{
		Tier:          info.Tier,
		CommissionPct: info.CommissionPct,
		Priority:      info.Priority,
		PayoutLatency: info.PayoutLatency,
		Equipment:     info.Equipment,
		Benefits:      info.Benefits,
	}
}

type settlementResponse struct {
	OrderID             types.ID                `json:"order_id"`
	DriverID            types.ID                `json:"driver_id"`
	BaseAmount          moneyJSON               `json:"base_amount"`
	CommissionRateBP    int64                   `json:"commission_rate_bp"`
	CommissionAmount    moneyJSON               `json:"commission_amount"`
	DriverEarnings      moneyJSON               `json:"driver_earnings"`
	AdminEarnings       moneyJSON               `json:"admin_earnings"`
	Tier                commission.Tier         `json:"tier"`
	PayoutStatus        settlement.PayoutStatus `json:"payout_status"`
	PayoutReference     string                  `json:"payout_reference"`
	PayoutTransactionID *string                 `json:"payout_transaction_id,omitempty"`
	PayoutFee           moneyJSON               `json:"payout_fee"`
	PayoutNet           moneyJSON               `json:"payout_net"`
	PayoutAttempts      int                     `json:"payout_attempts"`
	LastError           *string                 `json:"last_error,omitempty"`
	UpdatedAt           time.Time               `json:"updated_at"`
}

func settlementJSON(s *settlement.Settlement) settlementResponse {
	return settlementResponse{
		OrderID:             s.OrderID,
		DriverID:            s.DriverID,
		BaseAmount:          money(s.BaseAmount),
		CommissionRateBP:    s.RateBP,
		CommissionAmount:    money(s.CommissionAmount),
		DriverEarnings:      money(s.DriverEarnings),
		AdminEarnings:       money(s.AdminEarnings),
		Tier:                s.Tier,
		PayoutStatus:        s.PayoutStatus,
		PayoutReference:     s.PayoutReference,
		PayoutTransactionID: s.PayoutTransactionID,
		PayoutFee:           money(s.PayoutFee),
		PayoutNet:           money(s.PayoutNet),
		PayoutAttempts:      s.PayoutAttempts,
		LastError:           s.LastError,
		UpdatedAt:           s.UpdatedAt,
	}
}

type userResponse struct {
	ID       types.ID  `json:"id"`
	Role     user.Role `json:"role"`
	Email    *string   `json:"email,omitempty"`
	Phone    *string   `json:"phone,omitempty"`
	FullName string    `json:"full_name"`
}

func userJSON(u *user.User) userResponse {
	return userResponse{ID: u.ID, Role: u.Role, Email: u.Email, Phone: u.Phone, FullName: u.FullName}
}
