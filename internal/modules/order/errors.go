// README: Order errors; conflict variants match ErrConflict.
package order

import "errors"

var (
	ErrNotFound          = errors.New("order not found")
	ErrConflict          = errors.New("order state conflict")
	ErrBadRequest        = errors.New("bad request")
	ErrNotAssignedDriver = errors.New("driver is not assigned to this order")
	ErrNotOwner          = errors.New("order belongs to another customer")
	ErrDriverNotApproved = errors.New("driver is not approved")
	ErrTrackingTaken     = errors.New("tracking number already in use")
)

type conflictError struct {
	msg string
}

func (e *conflictError) Error() string { return e.msg }

func (e *conflictError) Is(target error) bool { return target == ErrConflict }

var (
	// ErrNoLongerAvailable is returned to every driver that lost the race to accept.
	ErrNoLongerAvailable error = &conflictError{msg: "order no longer available"}
	ErrNotCancellable    error = &conflictError{msg: "cannot cancel, a driver has already been assigned"}
)
