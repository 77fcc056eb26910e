// README: Customer order handlers: create, list, get, history, cancel, pay, rate.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"coursier/internal/http/middleware"
	"coursier/internal/modules/driver"
	"coursier/internal/modules/order"
	"coursier/internal/modules/payment"
	"coursier/internal/modules/rating"
	"coursier/internal/modules/user"
	"coursier/internal/types"
)

type OrderHandler struct {
	order   *order.Service
	drivers *driver.Service
	payment *payment.Service
	rating  *rating.Service
}

func NewOrderHandler(orders *order.Service, drivers *driver.Service, payments *payment.Service, ratings *rating.Service) *OrderHandler {
	return &OrderHandler{order: orders, drivers: drivers, payment: payments, rating: ratings}
}

type createOrderReq struct {
	PickupAddress   string `json:"pickup_address"`
	DeliveryAddress string `json:"delivery_address"`
	RecipientName   string `json:"recipient_name"`
	RecipientPhone  string `json:"recipient_phone"`
	PackageType     string `json:"package_type"`
	WeightGrams     int    `json:"weight_grams"`
	Urgency         string `json:"urgency"`
	Price           string `json:"price"`
	PaymentMethod   string `json:"payment_method"`
	DeliveryNotes   string `json:"delivery_notes"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	if middleware.CallerRole(c) != string(user.RoleCustomer) {
		writeError(c, http.StatusForbidden, "only customers can place orders")
		return
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	price, err := types.ParseMoney(req.Price, types.CurrencyXOF)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		CustomerID:      types.ID(middleware.CallerUID(c)),
		PickupAddress:   req.PickupAddress,
		DeliveryAddress: req.DeliveryAddress,
		RecipientName:   req.RecipientName,
		RecipientPhone:  req.RecipientPhone,
		PackageType:     req.PackageType,
		WeightGrams:     req.WeightGrams,
		Urgency:         order.Urgency(req.Urgency),
		Price:           price,
		PaymentMethod:   order.PaymentMethod(req.PaymentMethod),
		DeliveryNotes:   req.DeliveryNotes,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, orderJSON(o))
}

func (h *OrderHandler) ListMine(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.order.ListForCustomer(c.Request.Context(), types.ID(middleware.CallerUID(c)), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": ordersJSON(list)})
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, ok := h.visibleOrder(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, orderJSON(o))
}

func (h *OrderHandler) History(c *gin.Context) {
	o, ok := h.visibleOrder(c)
	if !ok {
		return
	}
	entries, err := h.order.History(c.Request.Context(), o.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order_id": o.ID, "history": historyJSON(entries)})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID:    id,
		CustomerID: types.ID(middleware.CallerUID(c)),
		Reason:     req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderJSON(o))
}

type payReq struct {
	Phone string `json:"phone"`
}

func (h *OrderHandler) Pay(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req payReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, res, err := h.payment.ChargeOrder(c.Request.Context(), payment.ChargeCommand{
		OrderID:    id,
		CustomerID: types.ID(middleware.CallerUID(c)),
		Phone:      req.Phone,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	status := http.StatusOK
	switch res.Status {
	case payment.StatusPending:
		status = http.StatusAccepted
	case payment.StatusFailed:
		status = http.StatusBadGateway
	}
	body := gin.H{"payment": gin.H{
		"success":        res.Success,
		"transaction_id": res.TransactionID,
		"status":         res.Status,
		"message":        res.Message,
	}}
	if o != nil {
		body["order"] = orderJSON(o)
	}
	writeJSON(c, status, body)
}

type rateReq struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *OrderHandler) Rate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.rating.Rate(c.Request.Context(), rating.RateCommand{
		OrderID:    id,
		CustomerID: types.ID(middleware.CallerUID(c)),
		Rating:     req.Rating,
		Comment:    req.Comment,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{
		"order_id":  r.OrderID,
		"driver_id": r.DriverID,
		"rating":    r.Rating,
		"comment":   r.Comment,
	})
}

// visibleOrder loads the order if the caller owns it, is its driver, or is an admin.
func (h *OrderHandler) visibleOrder(c *gin.Context) (*order.Order, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, false
	}
	ctx := c.Request.Context()
	o, err := h.order.Get(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	uid := types.ID(middleware.CallerUID(c))
	switch user.Role(middleware.CallerRole(c)) {
	case user.RoleAdmin:
		return o, true
	case user.RoleCustomer:
		if o.CustomerID == uid {
			return o, true
		}
	case user.RoleDriver:
		d, err := h.drivers.GetByUser(ctx, uid)
		if err != nil && !errors.Is(err, driver.ErrNotFound) {
			writeServiceError(c, err)
			return nil, false
		}
		if d != nil && o.AssignedTo(d.ID) {
			return o, true
		}
	}
	writeError(c, http.StatusForbidden, "forbidden")
	return nil, false
}
