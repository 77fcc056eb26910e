// README: Order store backed by PostgreSQL; every transition is a guarded UPDATE.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coursier/internal/infra"
	"coursier/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const orderColumns = `
	id, tracking_number, customer_id, driver_id,
	pickup_address, delivery_address, recipient_name, recipient_phone,
	package_type, weight_grams, urgency, price_amount, price_currency,
	status, payment_status, payment_method, payment_transaction_id,
	delivery_notes, estimated_delivery_at, cancellation_reason,
	created_at, accepted_at, picked_up_at, in_transit_at, delivered_at, cancelled_at`

func (s *Store) Create(ctx context.Context, o *Order) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (
			id, tracking_number, customer_id,
			pickup_address, delivery_address, recipient_name, recipient_phone,
			package_type, weight_grams, urgency, price_amount, price_currency,
			status, payment_status, payment_method,
			delivery_notes, estimated_delivery_at, created_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18
		)`,
		string(o.ID), o.TrackingNumber, string(o.CustomerID),
		o.PickupAddress, o.DeliveryAddress, o.RecipientName, o.RecipientPhone,
		o.PackageType, o.WeightGrams, string(o.Urgency), o.Price.Amount, o.Price.Currency,
		string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod),
		o.DeliveryNotes, o.EstimatedDeliveryAt, o.CreatedAt,
	)
	if infra.IsUniqueViolation(err) {
		return ErrTrackingTaken
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	return scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id)))
}

func (s *Store) GetByTracking(ctx context.Context, tracking string) (*Order, error) {
	return scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE tracking_number = $1`, tracking))
}

func (s *Store) GetByPaymentTransaction(ctx context.Context, txID string) (*Order, error) {
	return scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_transaction_id = $1`, txID))
}

// TryAssignDriver is the first-accept-wins write: only a pending, unassigned order is taken.
func (s *Store) TryAssignDriver(ctx context.Context, id, driverID types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET driver_id = $2, status = 'accepted', accepted_at = $3
		WHERE id = $1 AND status = 'pending' AND driver_id IS NULL`,
		string(id), string(driverID), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TryAdvanceStatus moves from -> to only for the assigned driver. delivered_at is
// stamped in the same statement, so it is written at most once.
func (s *Store) TryAdvanceStatus(ctx context.Context, id, driverID types.ID, from, to Status, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $4,
		    picked_up_at = CASE WHEN $4 = 'picked_up' THEN $5 ELSE picked_up_at END,
		    in_transit_at = CASE WHEN $4 = 'in_transit' THEN $5 ELSE in_transit_at END,
		    delivered_at = CASE WHEN $4 = 'delivered' THEN $5 ELSE delivered_at END
		WHERE id = $1 AND driver_id = $2 AND status = $3`,
		string(id), string(driverID), string(from), string(to), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) TryCancel(ctx context.Context, id, customerID types.ID, reason string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = 'cancelled', cancelled_at = $3, cancellation_reason = NULLIF($4, '')
		WHERE id = $1 AND customer_id = $2 AND status = 'pending' AND driver_id IS NULL`,
		string(id), string(customerID), at, reason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdatePayment records the gateway outcome. A paid order is never downgraded.
func (s *Store) UpdatePayment(ctx context.Context, id types.ID, status PaymentStatus, txID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2,
		    payment_transaction_id = COALESCE(NULLIF($3, ''), payment_transaction_id)
		WHERE id = $1 AND payment_status <> 'paid'`,
		string(id), string(status), txID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimCharge takes the charge slot with a guarded UPDATE; RETURNING yields no
// row when the order is paid, already awaiting a transaction or claimed.
func (s *Store) ClaimCharge(ctx context.Context, id types.ID, at, staleBefore time.Time) (int, bool, error) {
	var attempt int
	err := s.db.QueryRow(ctx, `
		UPDATE orders
		SET charge_claimed_at = $2
		WHERE id = $1
		  AND payment_status <> 'paid'
		  AND NOT (payment_status = 'pending' AND payment_transaction_id IS NOT NULL)
		  AND (charge_claimed_at IS NULL OR charge_claimed_at < $3)
		RETURNING charge_attempts`,
		string(id), at, staleBefore,
	).Scan(&attempt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return attempt, true, nil
}

func (s *Store) ReleaseCharge(ctx context.Context, id types.ID, consumed bool) error {
	_, err := s.db.Exec(ctx, `
		UPDATE orders
		SET charge_claimed_at = NULL,
		    charge_attempts = charge_attempts + CASE WHEN $2::boolean THEN 1 ELSE 0 END
		WHERE id = $1`,
		string(id), consumed,
	)
	return err
}

func (s *Store) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO order_status_history (order_id, status, location, notes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		string(e.OrderID), string(e.Status), e.Location, e.Notes, e.CreatedAt,
	).Scan(&e.ID)
}

// ListHistory returns entries in append order.
func (s *Store) ListHistory(ctx context.Context, orderID types.ID) ([]HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, status, location, notes, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id`, string(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.Location, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at LIMIT $2`, string(status), limit)
}

func (s *Store) ListByCustomer(ctx context.Context, customerID types.ID, limit int) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC LIMIT $2`, string(customerID), limit)
}

func (s *Store) ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE driver_id = $1 ORDER BY created_at DESC LIMIT $2`, string(driverID), limit)
}

// ListUnsettled returns delivered orders that have no settlement row, oldest delivery first.
func (s *Store) ListUnsettled(ctx context.Context, limit int) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = 'delivered'
		  AND NOT EXISTS (SELECT 1 FROM settlements s WHERE s.order_id = orders.id)
		ORDER BY delivered_at LIMIT $1`, limit)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Order, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var driverID *string
	err := row.Scan(
		&o.ID, &o.TrackingNumber, &o.CustomerID, &driverID,
		&o.PickupAddress, &o.DeliveryAddress, &o.RecipientName, &o.RecipientPhone,
		&o.PackageType, &o.WeightGrams, &o.Urgency, &o.Price.Amount, &o.Price.Currency,
		&o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.PaymentTransactionID,
		&o.DeliveryNotes, &o.EstimatedDeliveryAt, &o.CancelReason,
		&o.CreatedAt, &o.AcceptedAt, &o.PickedUpAt, &o.InTransitAt, &o.DeliveredAt, &o.CancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		d := types.ID(*driverID)
		o.DriverID = &d
	}
	return &o, nil
}
