// README: Error-to-status mapping tests.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"coursier/internal/modules/commission"
	"coursier/internal/modules/driver"
	"coursier/internal/modules/order"
	"coursier/internal/modules/payment"
	"coursier/internal/modules/rating"
	"coursier/internal/modules/settlement"
	"coursier/internal/modules/user"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{order.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", driver.ErrNotFound), http.StatusNotFound},
		{order.ErrNoLongerAvailable, http.StatusConflict},
		{order.ErrNotCancellable, http.StatusConflict},
		{fmt.Errorf("%w: delivered -> delivered", order.ErrConflict), http.StatusConflict},
		{settlement.ErrPayoutBusy, http.StatusConflict},
		{rating.ErrAlreadyRated, http.StatusConflict},
		{user.ErrDuplicate, http.StatusConflict},
		{order.ErrNotOwner, http.StatusForbidden},
		{order.ErrNotAssignedDriver, http.StatusForbidden},
		{order.ErrDriverNotApproved, http.StatusForbidden},
		{order.ErrBadRequest, http.StatusBadRequest},
		{fmt.Errorf("%w: price must be positive", commission.ErrInvalidAmount), http.StatusUnprocessableEntity},
		{payment.ErrSignatureInvalid, http.StatusUnauthorized},
		{payment.ErrNotConfigured, http.StatusServiceUnavailable},
		{payment.ErrChargeInProgress, http.StatusConflict},
		{fmt.Errorf("%w: order is already cancelled", order.ErrConflict), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestPublicMessage(t *testing.T) {
	if got := publicMessage(order.ErrNoLongerAvailable); got != "order no longer available" {
		t.Errorf("unexpected message %q", got)
	}
	if got := publicMessage(order.ErrNotCancellable); got != "cannot cancel, a driver has already been assigned" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestIsValidID(t *testing.T) {
	if !isValidID("6f1c1c1e-8d6b-4a43-9d0e-2f5b8f0f7a11") {
		t.Error("expected uuid to be valid")
	}
	for _, v := range []string{"", "abc123", "../etc/passwd"} {
		if isValidID(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}
