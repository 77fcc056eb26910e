// README: Settlement service: commission split on delivery, driver payout and reconciliation.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursier/internal/events"
	"coursier/internal/logger"
	"coursier/internal/modules/commission"
	"coursier/internal/modules/driver"
	"coursier/internal/modules/order"
	"coursier/internal/modules/payment"
	"coursier/internal/types"
)

type Repository interface {
	Create(ctx context.Context, st *Settlement) (bool, error)
	GetByOrder(ctx context.Context, orderID types.ID) (*Settlement, error)
	GetByReference(ctx context.Context, ref string) (*Settlement, error)
	ClaimAttempt(ctx context.Context, orderID types.ID, attempts int) (bool, error)
	RecordPayout(ctx context.Context, orderID types.ID, u PayoutUpdate) (bool, error)
	ListByPayoutStatus(ctx context.Context, status PayoutStatus, limit int) ([]*Settlement, error)
	ListForReconcile(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]*Settlement, error)
}

type DriverReader interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
}

type Payouts interface {
	TransferToDriver(ctx context.Context, req payment.TransferRequest) (payment.TransferResult, error)
	CheckTransactionStatus(ctx context.Context, transactionID string) (payment.Result, error)
}

// UnsettledOrders lists delivered orders that have no settlement row yet.
type UnsettledOrders interface {
	ListUnsettled(ctx context.Context, limit int) ([]*order.Order, error)
}

type Config struct {
	PayoutTimeout  time.Duration
	ReconcileTick  time.Duration
	MaxAttempts    int
	ReconcileBatch int
	Rail           payment.Rail
}

func (c *Config) defaults() {
	if c.PayoutTimeout <= 0 {
		c.PayoutTimeout = 20 * time.Second
	}
	if c.ReconcileTick <= 0 {
		c.ReconcileTick = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ReconcileBatch <= 0 {
		c.ReconcileBatch = 50
	}
	if c.Rail == "" {
		c.Rail = payment.RailWallet
	}
}

type Service struct {
	repo      Repository
	drivers   DriverReader
	payouts   Payouts
	publisher events.Publisher
	log       logger.ILogger
	cfg       Config
	unsettled UnsettledOrders
	now       func() time.Time
}

type Option func(*Service)

// WithUnsettledOrders lets the reconciler settle deliveries whose first
// settlement attempt never wrote a row.
func WithUnsettledOrders(u UnsettledOrders) Option { return func(s *Service) { s.unsettled = u } }

func NewService(repo Repository, drivers DriverReader, payouts Payouts, publisher events.Publisher, log logger.ILogger, cfg Config, opts ...Option) *Service {
	cfg.defaults()
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Service{
		repo:      repo,
		drivers:   drivers,
		payouts:   payouts,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compute splits the order price using the driver's current equipment tier.
func (s *Service) Compute(o *order.Order, d *driver.Driver) (commission.Calculation, error) {
	return commission.Calculate(d.Equipment(), o.Price)
}

// Settle records the split for a delivered order and pays the driver. A second
// call for the same order finds the existing row and does nothing.
func (s *Service) Settle(ctx context.Context, o *order.Order) error {
	if o.Status != order.StatusDelivered || o.DriverID == nil {
		return ErrNotDelivered
	}
	d, err := s.drivers.Get(ctx, *o.DriverID)
	if err != nil {
		return fmt.Errorf("load driver: %w", err)
	}
	calc, err := s.Compute(o, d)
	if err != nil {
		return err
	}

	now := s.now()
	st := &Settlement{
		ID:               types.NewID(),
		OrderID:          o.ID,
		DriverID:         d.ID,
		BaseAmount:       calc.BaseAmount,
		RateBP:           calc.RateBP,
		CommissionAmount: calc.CommissionAmount,
		DriverEarnings:   calc.DriverEarnings,
		AdminEarnings:    calc.AdminEarnings,
		Tier:             calc.Tier,
		PayoutStatus:     PayoutPending,
		PayoutReference:  payment.PayoutReference(d.ID, o.ID),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	inserted, err := s.repo.Create(ctx, st)
	if err != nil {
		return fmt.Errorf("create settlement: %w", err)
	}
	if !inserted {
		s.log.Info("order already settled", logger.String("order_id", o.ID.String()))
		return nil
	}

	s.log.Info("order settled",
		logger.String("order_id", o.ID.String()),
		logger.String("driver_id", d.ID.String()),
		logger.String("tier", string(calc.Tier)),
		logger.Int64("commission", calc.CommissionAmount.Amount),
		logger.Int64("driver_earnings", calc.DriverEarnings.Amount),
	)
	s.publishSettlement(ctx, events.TopicSettlementCreated, st, nil)

	_, err = s.payout(ctx, st, d)
	return err
}

// RequestPayout sends one transfer for amount with its own deadline. The caller's
// cancellation does not abort a transfer already under way.
func (s *Service) RequestPayout(ctx context.Context, d *driver.Driver, amount types.Money, orderID types.ID) (payment.TransferResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PayoutTimeout)
	defer cancel()
	return s.payouts.TransferToDriver(ctx, payment.TransferRequest{
		DriverID:    d.ID,
		Amount:      amount,
		DriverPhone: d.Phone,
		OrderID:     orderID,
		Rail:        s.cfg.Rail,
	})
}

func (s *Service) payout(ctx context.Context, st *Settlement, d *driver.Driver) (*Settlement, error) {
	claimed, err := s.repo.ClaimAttempt(ctx, st.OrderID, st.PayoutAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim payout attempt: %w", err)
	}
	if !claimed {
		return nil, ErrPayoutBusy
	}

	res, err := s.RequestPayout(ctx, d, st.DriverEarnings, st.OrderID)
	update := PayoutUpdate{
		Status:        PayoutStatus(res.Status),
		TransactionID: res.TransactionID,
		Error:         res.Message,
	}
	switch {
	case err != nil:
		update = PayoutUpdate{Status: PayoutFailed, Error: err.Error()}
	case res.Status == payment.StatusCompleted, res.Status == payment.StatusPending:
		update.Fee, update.Net = &res.Fee, &res.Net
		update.Error = ""
	}
	if _, rerr := s.repo.RecordPayout(ctx, st.OrderID, update); rerr != nil {
		return nil, fmt.Errorf("record payout: %w", rerr)
	}
	s.reportPayout(ctx, st, update)

	updated, gerr := s.repo.GetByOrder(ctx, st.OrderID)
	if gerr != nil {
		return nil, gerr
	}
	if update.Status == PayoutFailed {
		return updated, fmt.Errorf("driver payout failed: %s", update.Error)
	}
	return updated, nil
}

func (s *Service) reportPayout(ctx context.Context, st *Settlement, u PayoutUpdate) {
	fields := []logger.Field{
		logger.String("order_id", st.OrderID.String()),
		logger.String("driver_id", st.DriverID.String()),
		logger.String("reference", st.PayoutReference),
		logger.String("payout_status", string(u.Status)),
		logger.Int64("amount", st.DriverEarnings.Amount),
	}
	switch u.Status {
	case PayoutFailed:
		s.log.Error("driver payout failed", append(fields, logger.String("error", u.Error))...)
		s.publishSettlement(ctx, events.TopicPayoutFailed, st, map[string]any{"error": u.Error})
	case PayoutCompleted:
		s.log.Info("driver payout completed", fields...)
		s.publishSettlement(ctx, events.TopicPayoutCompleted, st, map[string]any{"transaction_id": u.TransactionID})
	default:
		s.log.Info("driver payout submitted", fields...)
	}
}

// Retry forces another payout attempt for an order (admin action).
func (s *Service) Retry(ctx context.Context, orderID types.ID) (*Settlement, error) {
	st, err := s.repo.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if st.PayoutStatus == PayoutCompleted {
		return nil, ErrAlreadyPaidOut
	}
	if st.PayoutStatus == PayoutPending && st.PayoutTransactionID != nil {
		return s.poll(ctx, st)
	}
	d, err := s.drivers.Get(ctx, st.DriverID)
	if err != nil {
		return nil, err
	}
	updated, err := s.payout(ctx, st, d)
	if err != nil && updated == nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) poll(ctx context.Context, st *Settlement) (*Settlement, error) {
	res, err := s.payouts.CheckTransactionStatus(ctx, *st.PayoutTransactionID)
	if err != nil {
		return nil, err
	}
	if res.Status == payment.StatusPending {
		return st, nil
	}
	update := PayoutUpdate{Status: PayoutStatus(res.Status), TransactionID: res.TransactionID}
	if res.Status == payment.StatusFailed {
		update.Error = res.Message
	}
	changed, err := s.repo.RecordPayout(ctx, st.OrderID, update)
	if err != nil {
		return nil, err
	}
	if changed {
		s.reportPayout(ctx, st, update)
	}
	return s.repo.GetByOrder(ctx, st.OrderID)
}

// ReconcileOnce settles delivered orders that have no settlement row, then polls
// submitted payouts and re-sends failed or stalled ones that still have attempts
// left. It returns how many orders and settlements were processed.
func (s *Service) ReconcileOnce(ctx context.Context) (int, error) {
	done, err := s.settleMissing(ctx)
	if err != nil {
		return done, err
	}
	staleBefore := s.now().Add(-s.cfg.PayoutTimeout)
	batch, err := s.repo.ListForReconcile(ctx, s.cfg.MaxAttempts, staleBefore, s.cfg.ReconcileBatch)
	if err != nil {
		return done, err
	}
	for _, st := range batch {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		var err error
		if st.PayoutStatus == PayoutPending && st.PayoutTransactionID != nil {
			_, err = s.poll(ctx, st)
		} else {
			var d *driver.Driver
			if d, err = s.drivers.Get(ctx, st.DriverID); err == nil {
				_, err = s.payout(ctx, st, d)
			}
		}
		if err != nil && !errors.Is(err, ErrPayoutBusy) {
			s.log.Warning("reconcile settlement", logger.String("order_id", st.OrderID.String()), logger.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

// settleMissing settles delivered orders that never got a settlement row.
func (s *Service) settleMissing(ctx context.Context) (int, error) {
	if s.unsettled == nil {
		return 0, nil
	}
	orders, err := s.unsettled.ListUnsettled(ctx, s.cfg.ReconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("list unsettled orders: %w", err)
	}
	done := 0
	for _, o := range orders {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := s.Settle(ctx, o); err != nil && !errors.Is(err, ErrPayoutBusy) {
			s.log.Warning("settle unsettled order", logger.String("order_id", o.ID.String()), logger.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

// RunReconciler runs ReconcileOnce on every tick until ctx is cancelled.
func (s *Service) RunReconciler(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ReconcileOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("payout reconciliation", logger.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("payout reconciliation", logger.Int("processed", n))
			}
		}
	}
}

// HandleTransferWebhook applies a verified transfer callback from the gateway.
func (s *Service) HandleTransferWebhook(ctx context.Context, ev payment.WebhookEvent) error {
	if ev.Reference == "" {
		return fmt.Errorf("%w: missing transfer reference", payment.ErrBadPayload)
	}
	st, err := s.repo.GetByReference(ctx, ev.Reference)
	if err != nil {
		return err
	}
	update := PayoutUpdate{Status: PayoutStatus(ev.Status()), TransactionID: ev.TransactionID}
	if update.Status == PayoutFailed {
		update.Error = ev.Message
		if update.Error == "" {
			update.Error = "gateway reported transfer failure"
		}
	}
	changed, err := s.repo.RecordPayout(ctx, st.OrderID, update)
	if err != nil {
		return err
	}
	if changed {
		s.reportPayout(ctx, st, update)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, orderID types.ID) (*Settlement, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

func (s *Service) List(ctx context.Context, status PayoutStatus, limit int) ([]*Settlement, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByPayoutStatus(ctx, status, limit)
}

func (s *Service) publishSettlement(ctx context.Context, topic string, st *Settlement, extra map[string]any) {
	data := map[string]any{
		"order_id":        st.OrderID.String(),
		"driver_id":       st.DriverID.String(),
		"reference":       st.PayoutReference,
		"driver_earnings": st.DriverEarnings.Amount,
		"commission":      st.CommissionAmount.Amount,
		"tier":            string(st.Tier),
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := s.publisher.Publish(ctx, topic, data); err != nil {
		s.log.Warning("publish event", logger.String("topic", topic), logger.Error(err))
	}
}
