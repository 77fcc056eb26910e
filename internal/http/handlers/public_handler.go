// README: Unauthenticated handlers: tier catalogue and parcel tracking.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"coursier/internal/modules/commission"
	"coursier/internal/modules/order"
)

type PublicHandler struct {
	order *order.Service
}

func NewPublicHandler(orders *order.Service) *PublicHandler {
	return &PublicHandler{order: orders}
}

func (h *PublicHandler) Tier(c *gin.Context) {
	info, ok := commission.TierInfoFor(commission.Tier(c.Param("tier")))
	if !ok {
		writeError(c, http.StatusNotFound, "unknown tier")
		return
	}
	writeJSON(c, http.StatusOK, tierJSON(info))
}

type trackingStep struct {
	Status    order.Status `json:"status"`
	Location  *string      `json:"location,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Track exposes progress only; addresses and recipient details stay private.
func (h *PublicHandler) Track(c *gin.Context) {
	ctx := c.Request.Context()
	o, err := h.order.GetByTracking(ctx, c.Param("tracking"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	entries, err := h.order.History(ctx, o.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	steps := make([]trackingStep, 0, len(entries))
	for _, e := range entries {
		steps = append(steps, trackingStep{Status: e.Status, Location: e.Location, CreatedAt: e.CreatedAt})
	}
	writeJSON(c, http.StatusOK, gin.H{
		"tracking_number":       o.TrackingNumber,
		"status":                o.Status,
		"urgency":               o.Urgency,
		"estimated_delivery_at": o.EstimatedDeliveryAt,
		"created_at":            o.CreatedAt,
		"delivered_at":          o.DeliveredAt,
		"history":               steps,
	})
}
