// README: Customer charges and gateway webhook handling.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"coursier/internal/events"
	"coursier/internal/logger"
	"coursier/internal/modules/order"
	"coursier/internal/types"
)

type OrderRepository interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	GetByPaymentTransaction(ctx context.Context, txID string) (*order.Order, error)
	UpdatePayment(ctx context.Context, id types.ID, status order.PaymentStatus, txID string) (bool, error)
	// ClaimCharge takes the order's charge slot unless another claim newer than
	// staleBefore holds it. It returns the attempt number to charge under.
	ClaimCharge(ctx context.Context, id types.ID, at, staleBefore time.Time) (int, bool, error)
	// ReleaseCharge frees the slot; consumed moves on to the next attempt number.
	ReleaseCharge(ctx context.Context, id types.ID, consumed bool) error
}

// chargeClaimTTL outlives the gateway client timeout so a live charge is never stolen.
const chargeClaimTTL = 2 * time.Minute

type Gateway interface {
	ProcessPayment(ctx context.Context, req PaymentRequest) (Result, error)
	CheckTransactionStatus(ctx context.Context, transactionID string) (Result, error)
	ValidateWebhook(signature, payload, timestamp string) bool
}

// TransferHandler applies transfer callbacks to driver payouts.
type TransferHandler interface {
	HandleTransferWebhook(ctx context.Context, ev WebhookEvent) error
}

// ReplayGuard reports whether a webhook delivery was already processed, marking it otherwise.
// Release forgets a mark so a delivery that failed to apply can be retried.
type ReplayGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Service struct {
	orders    OrderRepository
	gateway   Gateway
	transfers TransferHandler
	guard     ReplayGuard
	publisher events.Publisher
	log       logger.ILogger
	now       func() time.Time
}

func NewService(orders OrderRepository, gateway Gateway, transfers TransferHandler, guard ReplayGuard, publisher events.Publisher, log logger.ILogger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		orders:    orders,
		gateway:   gateway,
		transfers: transfers,
		guard:     guard,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

type ChargeCommand struct {
	OrderID    types.ID
	CustomerID types.ID
	Phone      string
}

// ChargeOrder starts (or resumes) the mobile money charge for an order.
// An order with a pending transaction is polled instead of charged twice.
func (s *Service) ChargeOrder(ctx context.Context, cmd ChargeCommand) (*order.Order, Result, error) {
	o, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, Result{}, err
	}
	if o.CustomerID != cmd.CustomerID {
		return nil, Result{}, order.ErrNotOwner
	}
	if o.PaymentStatus == order.PaymentPaid {
		return nil, Result{}, ErrAlreadyPaid
	}
	if o.Status == order.StatusCancelled || o.PaymentMethod != order.PaymentMobileMoney {
		return nil, Result{}, ErrNotPayable
	}

	var res Result
	if o.PaymentTransactionID != nil && o.PaymentStatus == order.PaymentPending {
		res, err = s.gateway.CheckTransactionStatus(ctx, *o.PaymentTransactionID)
		if err == nil {
			err = s.applyPayment(ctx, o.ID, res.Status, res.TransactionID)
		}
	} else {
		if strings.TrimSpace(cmd.Phone) == "" {
			return nil, Result{}, fmt.Errorf("%w: phone is required", order.ErrBadRequest)
		}
		res, err = s.charge(ctx, o, strings.TrimSpace(cmd.Phone))
	}
	if err != nil {
		return nil, Result{}, err
	}
	if !res.Success {
		s.log.Warning("order charge failed",
			logger.String("order_id", o.ID.String()),
			logger.String("message", res.Message),
		)
	}
	updated, err := s.orders.Get(ctx, o.ID)
	if err != nil {
		return nil, Result{}, err
	}
	return updated, res, nil
}

// charge sends one gateway charge while holding the order's charge slot. The
// outcome is recorded before the slot is released.
func (s *Service) charge(ctx context.Context, o *order.Order, phone string) (Result, error) {
	now := s.now()
	attempt, ok, err := s.orders.ClaimCharge(ctx, o.ID, now, now.Add(-chargeClaimTTL))
	if err != nil {
		return Result{}, fmt.Errorf("claim charge: %w", err)
	}
	if !ok {
		return Result{}, ErrChargeInProgress
	}

	res, err := s.gateway.ProcessPayment(ctx, PaymentRequest{
		Amount:         o.Price,
		CustomerPhone:  phone,
		OrderID:        o.ID,
		Description:    "Delivery " + o.TrackingNumber,
		IdempotencyKey: ChargeKey(o.ID, attempt),
	})
	if err == nil {
		err = s.applyPayment(ctx, o.ID, res.Status, res.TransactionID)
	}
	// An unanswered attempt keeps its key so the retry is collapsed by the gateway.
	consumed := err == nil && res.Answered
	if rerr := s.orders.ReleaseCharge(context.WithoutCancel(ctx), o.ID, consumed); rerr != nil {
		s.log.Warning("release charge claim", logger.String("order_id", o.ID.String()), logger.Error(rerr))
	}
	return res, err
}

// HandleWebhook verifies and applies a gateway callback. Invalid signatures never touch state.
func (s *Service) HandleWebhook(ctx context.Context, signature, timestamp string, body []byte) error {
	if !s.gateway.ValidateWebhook(signature, string(body), timestamp) {
		s.log.Warning("rejected webhook with invalid signature",
			logger.String("security_event", "webhook_signature_invalid"),
			logger.String("timestamp", timestamp),
		)
		return ErrSignatureInvalid
	}
	if s.guard != nil {
		seen, err := s.guard.Seen(ctx, signature)
		if err != nil {
			s.log.Warning("webhook replay guard", logger.Error(err))
		} else if seen {
			s.log.Info("duplicate webhook delivery ignored", logger.String("signature", signature))
			return nil
		}
	}

	err := s.dispatchWebhook(ctx, body)
	if err != nil && s.guard != nil {
		if rerr := s.guard.Release(ctx, signature); rerr != nil {
			s.log.Warning("release webhook replay mark", logger.Error(rerr))
		}
	}
	return err
}

func (s *Service) dispatchWebhook(ctx context.Context, body []byte) error {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch ev.Kind {
	case WebhookPayment:
		return s.applyPaymentWebhook(ctx, ev)
	case WebhookTransfer:
		if s.transfers == nil {
			return fmt.Errorf("%w: transfers are not handled", ErrBadPayload)
		}
		return s.transfers.HandleTransferWebhook(ctx, ev)
	default:
		return fmt.Errorf("%w: unknown event %q", ErrBadPayload, ev.Kind)
	}
}

func (s *Service) applyPaymentWebhook(ctx context.Context, ev WebhookEvent) error {
	var o *order.Order
	if ev.TransactionID != "" {
		found, err := s.orders.GetByPaymentTransaction(ctx, ev.TransactionID)
		if err != nil && !errors.Is(err, order.ErrNotFound) {
			return err
		}
		o = found
	}
	if o == nil {
		if ev.OrderID == "" {
			return fmt.Errorf("%w: no order reference", ErrBadPayload)
		}
		found, err := s.orders.Get(ctx, types.ID(ev.OrderID))
		if err != nil {
			return err
		}
		o = found
	}
	s.log.Info("payment webhook",
		logger.String("order_id", o.ID.String()),
		logger.String("status", string(ev.Status())),
	)
	return s.applyPayment(ctx, o.ID, ev.Status(), ev.TransactionID)
}

func (s *Service) applyPayment(ctx context.Context, id types.ID, status Status, txID string) error {
	ps := paymentStatus(status)
	changed, err := s.orders.UpdatePayment(ctx, id, ps, txID)
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if changed && ps == order.PaymentPaid {
		if err := s.publisher.Publish(ctx, events.TopicOrderPaid, map[string]any{
			"order_id":       id.String(),
			"transaction_id": txID,
		}); err != nil {
			s.log.Warning("publish event", logger.String("topic", events.TopicOrderPaid), logger.Error(err))
		}
	}
	return nil
}

func paymentStatus(s Status) order.PaymentStatus {
	switch s {
	case StatusCompleted:
		return order.PaymentPaid
	case StatusPending:
		return order.PaymentPending
	default:
		return order.PaymentFailed
	}
}
