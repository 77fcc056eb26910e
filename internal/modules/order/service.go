// README: Order service implements the delivery lifecycle on top of guarded store writes.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coursier/internal/events"
	"coursier/internal/logger"
	"coursier/internal/modules/commission"
	"coursier/internal/modules/driver"
	"coursier/internal/types"
)

type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	GetByTracking(ctx context.Context, tracking string) (*Order, error)
	TryAssignDriver(ctx context.Context, id, driverID types.ID, at time.Time) (bool, error)
	TryAdvanceStatus(ctx context.Context, id, driverID types.ID, from, to Status, at time.Time) (bool, error)
	TryCancel(ctx context.Context, id, customerID types.ID, reason string, at time.Time) (bool, error)
	AppendHistory(ctx context.Context, e *HistoryEntry) error
	ListHistory(ctx context.Context, orderID types.ID) ([]HistoryEntry, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error)
	ListByCustomer(ctx context.Context, customerID types.ID, limit int) ([]*Order, error)
	ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]*Order, error)
}

type DriverDirectory interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	IncrementDeliveries(ctx context.Context, id types.ID) error
}

// Settler is invoked once per order, right after the delivered write commits.
type Settler interface {
	Settle(ctx context.Context, o *Order) error
}

// Board is the fast list of pending orders shown to drivers.
type Board interface {
	AddPending(ctx context.Context, id types.ID, createdAt time.Time) error
	RemovePending(ctx context.Context, id types.ID) error
	ListPending(ctx context.Context, limit int) ([]types.ID, error)
}

type Service struct {
	repo      Repository
	drivers   DriverDirectory
	settler   Settler
	board     Board
	publisher events.Publisher
	log       logger.ILogger
	now       func() time.Time
}

type Option func(*Service)

func WithSettler(s Settler) Option { return func(svc *Service) { svc.settler = s } }

func WithBoard(b Board) Option { return func(svc *Service) { svc.board = b } }

func WithPublisher(p events.Publisher) Option { return func(svc *Service) { svc.publisher = p } }

func WithLogger(l logger.ILogger) Option { return func(svc *Service) { svc.log = l } }

func WithClock(now func() time.Time) Option { return func(svc *Service) { svc.now = now } }

func NewService(repo Repository, drivers DriverDirectory, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		drivers:   drivers,
		publisher: events.Nop{},
		log:       logger.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSettler breaks the construction cycle between orders and settlements.
func (s *Service) SetSettler(settler Settler) {
	s.settler = settler
}

const maxTrackingAttempts = 3

type CreateCommand struct {
	CustomerID      types.ID
	PickupAddress   string
	DeliveryAddress string
	RecipientName   string
	RecipientPhone  string
	PackageType     string
	WeightGrams     int
	Urgency         Urgency
	Price           types.Money
	PaymentMethod   PaymentMethod
	DeliveryNotes   string
}

type AcceptCommand struct {
	OrderID  types.ID
	DriverID types.ID
}

type AdvanceCommand struct {
	OrderID  types.ID
	DriverID types.ID
	Location string
	Notes    string
}

type CancelCommand struct {
	OrderID    types.ID
	CustomerID types.ID
	Reason     string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if err := validateCreate(&cmd); err != nil {
		return nil, err
	}

	now := s.now()
	eta := now.Add(cmd.Urgency.deliveryWindow())
	o := &Order{
		ID:                  types.NewID(),
		CustomerID:          cmd.CustomerID,
		PickupAddress:       strings.TrimSpace(cmd.PickupAddress),
		DeliveryAddress:     strings.TrimSpace(cmd.DeliveryAddress),
		RecipientName:       strings.TrimSpace(cmd.RecipientName),
		RecipientPhone:      strings.TrimSpace(cmd.RecipientPhone),
		PackageType:         strings.TrimSpace(cmd.PackageType),
		WeightGrams:         cmd.WeightGrams,
		Urgency:             cmd.Urgency,
		Price:               cmd.Price,
		Status:              StatusPending,
		PaymentStatus:       PaymentPending,
		PaymentMethod:       cmd.PaymentMethod,
		DeliveryNotes:       strings.TrimSpace(cmd.DeliveryNotes),
		EstimatedDeliveryAt: &eta,
		CreatedAt:           now,
	}

	var err error
	for attempt := 0; attempt < maxTrackingAttempts; attempt++ {
		if o.TrackingNumber, err = NewTrackingNumber(now); err != nil {
			return nil, err
		}
		if err = s.repo.Create(ctx, o); !errors.Is(err, ErrTrackingTaken) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.appendHistory(ctx, o.ID, StatusPending, "", "", now)
	if s.board != nil {
		if err := s.board.AddPending(ctx, o.ID, now); err != nil {
			s.log.Warning("board add pending", logger.String("order_id", o.ID.String()), logger.Error(err))
		}
	}
	s.publish(ctx, events.TopicOrderCreated, o, nil)
	s.log.Info("order created",
		logger.String("order_id", o.ID.String()),
		logger.String("tracking", o.TrackingNumber),
		logger.Int64("price", o.Price.Amount),
	)
	return o, nil
}

func validateCreate(cmd *CreateCommand) error {
	if cmd.CustomerID == "" ||
		strings.TrimSpace(cmd.PickupAddress) == "" ||
		strings.TrimSpace(cmd.DeliveryAddress) == "" ||
		strings.TrimSpace(cmd.PackageType) == "" {
		return ErrBadRequest
	}
	if cmd.WeightGrams <= 0 {
		return fmt.Errorf("%w: weight must be positive", ErrBadRequest)
	}
	if cmd.Urgency == "" {
		cmd.Urgency = UrgencyStandard
	}
	if !cmd.Urgency.Valid() {
		return fmt.Errorf("%w: unknown urgency %q", ErrBadRequest, cmd.Urgency)
	}
	if cmd.PaymentMethod == "" {
		cmd.PaymentMethod = PaymentMobileMoney
	}
	if cmd.PaymentMethod != PaymentMobileMoney && cmd.PaymentMethod != PaymentCash {
		return fmt.Errorf("%w: unknown payment method %q", ErrBadRequest, cmd.PaymentMethod)
	}
	if cmd.Price.Currency == "" {
		cmd.Price.Currency = types.CurrencyXOF
	}
	if cmd.Price.Currency != types.CurrencyXOF {
		return fmt.Errorf("%w: unsupported currency %q", ErrBadRequest, cmd.Price.Currency)
	}
	if cmd.Price.Amount <= 0 {
		return fmt.Errorf("%w: price must be positive", commission.ErrInvalidAmount)
	}
	return nil
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Order, error) {
	if cmd.OrderID == "" || cmd.DriverID == "" {
		return nil, ErrBadRequest
	}
	d, err := s.drivers.Get(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if d.Status != driver.StatusApproved {
		return nil, ErrDriverNotApproved
	}

	now := s.now()
	ok, err := s.repo.TryAssignDriver(ctx, cmd.OrderID, cmd.DriverID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.repo.Get(ctx, cmd.OrderID); err != nil {
			return nil, err
		}
		return nil, ErrNoLongerAvailable
	}

	s.appendHistory(ctx, cmd.OrderID, StatusAccepted, "", "", now)
	if s.board != nil {
		if err := s.board.RemovePending(ctx, cmd.OrderID); err != nil {
			s.log.Warning("board remove pending", logger.String("order_id", cmd.OrderID.String()), logger.Error(err))
		}
	}
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TopicOrderAccepted, o, nil)
	s.log.Info("order accepted", logger.String("order_id", o.ID.String()), logger.String("driver_id", cmd.DriverID.String()))
	return o, nil
}

func (s *Service) PickUp(ctx context.Context, cmd AdvanceCommand) (*Order, error) {
	return s.advance(ctx, cmd, StatusAccepted, StatusPickedUp)
}

func (s *Service) StartTransit(ctx context.Context, cmd AdvanceCommand) (*Order, error) {
	return s.advance(ctx, cmd, StatusPickedUp, StatusInTransit)
}

// Deliver confirms the delivery and settles the order. A settlement or payout
// failure is logged and left to the reconciler; it never fails the delivery.
func (s *Service) Deliver(ctx context.Context, cmd AdvanceCommand) (*Order, error) {
	o, err := s.advance(ctx, cmd, StatusInTransit, StatusDelivered)
	if err != nil {
		return nil, err
	}
	if err := s.drivers.IncrementDeliveries(ctx, cmd.DriverID); err != nil {
		s.log.Warning("increment deliveries", logger.String("driver_id", cmd.DriverID.String()), logger.Error(err))
	}
	if s.settler != nil {
		if err := s.settler.Settle(ctx, o); err != nil {
			s.log.Error("settle delivered order",
				logger.String("order_id", o.ID.String()),
				logger.Error(err),
			)
		}
	}
	return o, nil
}

func (s *Service) advance(ctx context.Context, cmd AdvanceCommand, from, to Status) (*Order, error) {
	if cmd.OrderID == "" || cmd.DriverID == "" {
		return nil, ErrBadRequest
	}
	if !CanTransition(from, to) {
		return nil, ErrConflict
	}

	before, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !before.AssignedTo(cmd.DriverID) {
		return nil, ErrNotAssignedDriver
	}

	now := s.now()
	ok, err := s.repo.TryAdvanceStatus(ctx, cmd.OrderID, cmd.DriverID, from, to, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.repo.Get(ctx, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		if !current.AssignedTo(cmd.DriverID) {
			return nil, ErrNotAssignedDriver
		}
		return nil, fmt.Errorf("%w: order is %s, cannot move to %s", ErrConflict, current.Status, to)
	}

	s.appendHistory(ctx, cmd.OrderID, to, cmd.Location, cmd.Notes, now)
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		// The write committed; report it from the snapshot.
		s.log.Warning("reload advanced order", logger.String("order_id", cmd.OrderID.String()), logger.Error(err))
		o = before
		o.applyTransition(to, now)
	}
	s.publish(ctx, events.TopicOrderStatus, o, map[string]any{"from": string(from)})
	s.log.Info("order advanced",
		logger.String("order_id", o.ID.String()),
		logger.String("from", string(from)),
		logger.String("to", string(to)),
	)
	return o, nil
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	if cmd.OrderID == "" || cmd.CustomerID == "" {
		return nil, ErrBadRequest
	}
	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)
	ok, err := s.repo.TryCancel(ctx, cmd.OrderID, cmd.CustomerID, reason, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.repo.Get(ctx, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		if current.CustomerID != cmd.CustomerID {
			return nil, ErrNotOwner
		}
		if current.Status == StatusCancelled {
			return nil, fmt.Errorf("%w: order is already cancelled", ErrConflict)
		}
		return nil, ErrNotCancellable
	}

	s.appendHistory(ctx, cmd.OrderID, StatusCancelled, "", reason, now)
	if s.board != nil {
		if err := s.board.RemovePending(ctx, cmd.OrderID); err != nil {
			s.log.Warning("board remove pending", logger.String("order_id", cmd.OrderID.String()), logger.Error(err))
		}
	}
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TopicOrderCancelled, o, map[string]any{"reason": reason})
	return o, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByTracking(ctx context.Context, tracking string) (*Order, error) {
	tracking = strings.ToUpper(strings.TrimSpace(tracking))
	if !ValidTrackingNumber(tracking) {
		return nil, ErrNotFound
	}
	return s.repo.GetByTracking(ctx, tracking)
}

func (s *Service) History(ctx context.Context, id types.ID) ([]HistoryEntry, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, id)
}

// ListAvailable returns pending orders oldest first. The board is consulted
// first; entries it holds for orders that are no longer pending are pruned.
func (s *Service) ListAvailable(ctx context.Context, limit int) ([]*Order, error) {
	limit = clampLimit(limit)
	if s.board == nil {
		return s.repo.ListByStatus(ctx, StatusPending, limit)
	}
	ids, err := s.board.ListPending(ctx, limit)
	if err != nil {
		s.log.Warning("board list pending, falling back to store", logger.Error(err))
		return s.repo.ListByStatus(ctx, StatusPending, limit)
	}
	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.repo.Get(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if o == nil || o.Status != StatusPending {
			if err := s.board.RemovePending(ctx, id); err != nil {
				s.log.Warning("board remove pending", logger.String("order_id", id.String()), logger.Error(err))
			}
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *Service) ListForCustomer(ctx context.Context, customerID types.ID, limit int) ([]*Order, error) {
	return s.repo.ListByCustomer(ctx, customerID, clampLimit(limit))
}

func (s *Service) ListForDriver(ctx context.Context, driverID types.ID, limit int) ([]*Order, error) {
	return s.repo.ListByDriver(ctx, driverID, clampLimit(limit))
}

// appendHistory writes the ledger row for a transition that already committed.
// The transition stands even if the ledger write fails.
func (s *Service) appendHistory(ctx context.Context, id types.ID, status Status, location, notes string, at time.Time) {
	e := &HistoryEntry{
		OrderID:   id,
		Status:    status,
		Location:  optional(location),
		Notes:     optional(notes),
		CreatedAt: at,
	}
	if err := s.repo.AppendHistory(ctx, e); err != nil {
		s.log.Error("append order history",
			logger.String("order_id", id.String()),
			logger.String("status", string(status)),
			logger.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, topic string, o *Order, extra map[string]any) {
	data := map[string]any{
		"order_id": o.ID.String(),
		"tracking": o.TrackingNumber,
		"status":   string(o.Status),
	}
	if o.DriverID != nil {
		data["driver_id"] = o.DriverID.String()
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := s.publisher.Publish(ctx, topic, data); err != nil {
		s.log.Warning("publish event", logger.String("topic", topic), logger.Error(err))
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}
