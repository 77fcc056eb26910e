// README: Admin handlers: driver approval, equipment issue, settlement oversight.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"coursier/internal/modules/driver"
	"coursier/internal/modules/settlement"
)

type AdminHandler struct {
	drivers     *driver.Service
	settlements *settlement.Service
}

func NewAdminHandler(drivers *driver.Service, settlements *settlement.Service) *AdminHandler {
	return &AdminHandler{drivers: drivers, settlements: settlements}
}

func (h *AdminHandler) ListDrivers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.drivers.List(c.Request.Context(), driver.Status(c.Query("status")), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]driverResponse, 0, len(list))
	for _, d := range list {
		out = append(out, driverJSON(d))
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": out})
}

type driverStatusReq struct {
	Status string `json:"status"`
}

func (h *AdminHandler) SetDriverStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req driverStatusReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeError(c, http.StatusBadRequest, "status is required")
		return
	}
	d, err := h.drivers.SetStatus(c.Request.Context(), id, driver.Status(req.Status))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, driverJSON(d))
}

type equipmentReq struct {
	HasGpsEquipment bool `json:"has_gps_equipment"`
	HasInsurance    bool `json:"has_insurance"`
	HasUniform      bool `json:"has_uniform"`
}

func (h *AdminHandler) IssueEquipment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req equipmentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.drivers.IssueEquipment(c.Request.Context(), driver.EquipmentCommand{
		DriverID:        id,
		HasGpsEquipment: req.HasGpsEquipment,
		HasInsurance:    req.HasInsurance,
		HasUniform:      req.HasUniform,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, driverJSON(d))
}

func (h *AdminHandler) ListSettlements(c *gin.Context) {
	status := settlement.PayoutStatus(c.Query("payout_status"))
	switch status {
	case "", settlement.PayoutPending, settlement.PayoutCompleted, settlement.PayoutFailed:
	default:
		writeError(c, http.StatusBadRequest, "invalid payout_status")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.settlements.List(c.Request.Context(), status, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]settlementResponse, 0, len(list))
	for _, s := range list {
		out = append(out, settlementJSON(s))
	}
	writeJSON(c, http.StatusOK, gin.H{"settlements": out})
}

func (h *AdminHandler) GetSettlement(c *gin.Context) {
	id, ok := pathID(c, "orderID")
	if !ok {
		return
	}
	s, err := h.settlements.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, settlementJSON(s))
}

func (h *AdminHandler) RetrySettlement(c *gin.Context) {
	id, ok := pathID(c, "orderID")
	if !ok {
		return
	}
	s, err := h.settlements.Retry(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, settlementJSON(s))
}
