// README: Rating service; a customer rates the driver of their delivered order once.
package rating

import (
	"context"
	"strings"
	"time"

	"coursier/internal/logger"
	"coursier/internal/modules/order"
	"coursier/internal/types"
)

type Repository interface {
	Create(ctx context.Context, r *DriverRating) error
	ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]DriverRating, error)
}

type OrderReader interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
}

type DriverRatings interface {
	RecordRating(ctx context.Context, id types.ID, stars int) error
}

type Service struct {
	repo    Repository
	orders  OrderReader
	drivers DriverRatings
	log     logger.ILogger
}

func NewService(repo Repository, orders OrderReader, drivers DriverRatings, log logger.ILogger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{repo: repo, orders: orders, drivers: drivers, log: log}
}

type RateCommand struct {
	OrderID    types.ID
	CustomerID types.ID
	Rating     int
	Comment    string
}

func (s *Service) Rate(ctx context.Context, cmd RateCommand) (*DriverRating, error) {
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return nil, ErrInvalidStars
	}
	o, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != cmd.CustomerID {
		return nil, order.ErrNotOwner
	}
	if o.Status != order.StatusDelivered || o.DriverID == nil {
		return nil, ErrNotDelivered
	}

	r := &DriverRating{
		OrderID:    o.ID,
		CustomerID: cmd.CustomerID,
		DriverID:   *o.DriverID,
		Rating:     cmd.Rating,
		Comment:    strings.TrimSpace(cmd.Comment),
		CreatedAt:  time.Now(),
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	if err := s.drivers.RecordRating(ctx, r.DriverID, r.Rating); err != nil {
		s.log.Error("update driver rating",
			logger.String("driver_id", r.DriverID.String()),
			logger.String("order_id", r.OrderID.String()),
			logger.Error(err),
		)
	}
	return r, nil
}

func (s *Service) ListForDriver(ctx context.Context, driverID types.ID, limit int) ([]DriverRating, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByDriver(ctx, driverID, limit)
}
