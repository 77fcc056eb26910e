// README: Driver handlers: profile, availability, upgrade, order board and delivery progression.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"coursier/internal/http/middleware"
	"coursier/internal/modules/commission"
	"coursier/internal/modules/driver"
	"coursier/internal/modules/order"
	"coursier/internal/types"
)

type DriverHandler struct {
	drivers *driver.Service
	order   *order.Service
}

func NewDriverHandler(drivers *driver.Service, orders *order.Service) *DriverHandler {
	return &DriverHandler{drivers: drivers, order: orders}
}

type documentsReq struct {
	LicenseURL              string `json:"license_url"`
	VehicleRegistrationURL  string `json:"vehicle_registration_url"`
	InsuranceCertificateURL string `json:"insurance_certificate_url"`
	MedicalCertificateURL   string `json:"medical_certificate_url"`
}

func (r documentsReq) documents() driver.Documents {
	return driver.Documents{
		LicenseURL:              r.LicenseURL,
		VehicleRegistrationURL:  r.VehicleRegistrationURL,
		InsuranceCertificateURL: r.InsuranceCertificateURL,
		MedicalCertificateURL:   r.MedicalCertificateURL,
	}
}

type applyReq struct {
	Phone       string       `json:"phone"`
	VehicleType string       `json:"vehicle_type"`
	Age         int          `json:"age"`
	Documents   documentsReq `json:"documents"`
}

func (h *DriverHandler) Apply(c *gin.Context) {
	var req applyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.drivers.Apply(c.Request.Context(), driver.ApplyCommand{
		UserID:      types.ID(middleware.CallerUID(c)),
		Phone:       req.Phone,
		VehicleType: req.VehicleType,
		Age:         req.Age,
		Documents:   req.Documents.documents(),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, driverJSON(d))
}

func (h *DriverHandler) Me(c *gin.Context) {
	d, ok := h.current(c)
	if !ok {
		return
	}
	info, _ := commission.TierInfoFor(d.Tier())
	writeJSON(c, http.StatusOK, gin.H{"driver": driverJSON(d), "tier": tierJSON(info)})
}

type onlineReq struct {
	Online *bool `json:"online"`
}

func (h *DriverHandler) SetOnline(c *gin.Context) {
	var req onlineReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		writeError(c, http.StatusBadRequest, "online is required")
		return
	}
	d, ok := h.current(c)
	if !ok {
		return
	}
	if err := h.drivers.SetOnline(c.Request.Context(), d.ID, *req.Online); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": d.ID, "is_online": *req.Online})
}

func (h *DriverHandler) UpdateDocuments(c *gin.Context) {
	var req documentsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, ok := h.current(c)
	if !ok {
		return
	}
	updated, err := h.drivers.UpdateDocuments(c.Request.Context(), d.ID, req.documents())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, driverJSON(updated))
}

func (h *DriverHandler) RequestUpgrade(c *gin.Context) {
	d, ok := h.current(c)
	if !ok {
		return
	}
	updated, err := h.drivers.RequestUpgrade(c.Request.Context(), d.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, driverJSON(updated))
}

func (h *DriverHandler) MyOrders(c *gin.Context) {
	d, ok := h.current(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.order.ListForDriver(c.Request.Context(), d.ID, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": ordersJSON(list)})
}

func (h *DriverHandler) ListAvailable(c *gin.Context) {
	d, ok := h.current(c)
	if !ok {
		return
	}
	if d.Status != driver.StatusApproved {
		writeServiceError(c, driver.ErrNotApproved)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.order.ListAvailable(c.Request.Context(), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": ordersJSON(list)})
}

func (h *DriverHandler) Accept(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, ok := h.current(c)
	if !ok {
		return
	}
	o, err := h.order.Accept(c.Request.Context(), order.AcceptCommand{OrderID: id, DriverID: d.ID})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderJSON(o))
}

func (h *DriverHandler) PickUp(c *gin.Context) {
	h.advance(c, h.order.PickUp)
}

func (h *DriverHandler) StartTransit(c *gin.Context) {
	h.advance(c, h.order.StartTransit)
}

func (h *DriverHandler) Deliver(c *gin.Context) {
	h.advance(c, h.order.Deliver)
}

type advanceReq struct {
	Location string `json:"location"`
	Notes    string `json:"notes"`
}

type advanceFunc func(ctx context.Context, cmd order.AdvanceCommand) (*order.Order, error)

func (h *DriverHandler) advance(c *gin.Context, step advanceFunc) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req advanceReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	d, ok := h.current(c)
	if !ok {
		return
	}
	o, err := step(c.Request.Context(), order.AdvanceCommand{
		OrderID:  id,
		DriverID: d.ID,
		Location: req.Location,
		Notes:    req.Notes,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderJSON(o))
}

// current resolves the caller's driver profile.
func (h *DriverHandler) current(c *gin.Context) (*driver.Driver, bool) {
	d, err := h.drivers.GetByUser(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	return d, true
}
