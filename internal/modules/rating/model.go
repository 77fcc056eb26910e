// README: Customer ratings of the driver who delivered an order.
package rating

import (
	"errors"
	"time"

	"coursier/internal/types"
)

var (
	ErrAlreadyRated = errors.New("order already rated")
	ErrNotDelivered = errors.New("only delivered orders can be rated")
	ErrInvalidStars = errors.New("rating must be between 1 and 5")
)

type DriverRating struct {
	OrderID    types.ID
	CustomerID types.ID
	DriverID   types.ID
	Rating     int
	Comment    string
	CreatedAt  time.Time
}
