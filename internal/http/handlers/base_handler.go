// README: Base handler utilities (JSON helpers, error mapping, caller lookup).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"coursier/internal/modules/commission"
	"coursier/internal/modules/driver"
	"coursier/internal/modules/order"
	"coursier/internal/modules/payment"
	"coursier/internal/modules/rating"
	"coursier/internal/modules/settlement"
	"coursier/internal/modules/user"
	"coursier/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the UUIDs produced by types.NewID.
func isValidID(v string) bool {
	return types.ID(v).Valid()
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// pathID reads and validates a UUID path parameter. It writes 400 and returns false on failure.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, commission.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payment.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, payment.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, user.ErrInvalidCredentials), errors.Is(err, user.ErrInactive):
		return http.StatusUnauthorized
	case errors.Is(err, order.ErrNotOwner),
		errors.Is(err, order.ErrNotAssignedDriver),
		errors.Is(err, order.ErrDriverNotApproved),
		errors.Is(err, driver.ErrNotApproved),
		errors.Is(err, driver.ErrNotEligible):
		return http.StatusForbidden
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, driver.ErrNotFound),
		errors.Is(err, settlement.ErrNotFound),
		errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrConflict),
		errors.Is(err, driver.ErrConflict),
		errors.Is(err, driver.ErrAlreadyApplied),
		errors.Is(err, driver.ErrInvalidStatus),
		errors.Is(err, payment.ErrAlreadyPaid),
		errors.Is(err, payment.ErrNotPayable),
		errors.Is(err, payment.ErrChargeInProgress),
		errors.Is(err, settlement.ErrAlreadyPaidOut),
		errors.Is(err, settlement.ErrPayoutBusy),
		errors.Is(err, settlement.ErrNotDelivered),
		errors.Is(err, rating.ErrAlreadyRated),
		errors.Is(err, rating.ErrNotDelivered),
		errors.Is(err, user.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, order.ErrBadRequest),
		errors.Is(err, driver.ErrBadRequest),
		errors.Is(err, user.ErrBadRequest),
		errors.Is(err, payment.ErrBadPayload),
		errors.Is(err, rating.ErrInvalidStars),
		errors.Is(err, types.ErrInvalidMoney):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps module errors to HTTP. Internal errors are not echoed.
func writeServiceError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		writeError(c, status, "internal error")
		return
	}
	writeError(c, status, publicMessage(err))
}

// publicMessage prefers the conflict wording customers and drivers are shown.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, order.ErrNoLongerAvailable):
		return order.ErrNoLongerAvailable.Error()
	case errors.Is(err, order.ErrNotCancellable):
		return order.ErrNotCancellable.Error()
	}
	return err.Error()
}
