// README: Settlement store backed by PostgreSQL; UNIQUE(order_id) makes settling at-most-once.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coursier/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const settlementColumns = `
	id, order_id, driver_id, currency,
	base_amount, rate_bp, commission_amount, driver_earnings, admin_earnings, tier,
	payout_status, payout_reference, payout_transaction_id, payout_fee, payout_net,
	payout_attempts, last_error, created_at, updated_at`

// Create inserts the settlement unless the order already has one.
func (s *Store) Create(ctx context.Context, st *Settlement) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO settlements (
			id, order_id, driver_id, currency,
			base_amount, rate_bp, commission_amount, driver_earnings, admin_earnings, tier,
			payout_status, payout_reference, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (order_id) DO NOTHING`,
		string(st.ID), string(st.OrderID), string(st.DriverID), st.BaseAmount.Currency,
		st.BaseAmount.Amount, st.RateBP, st.CommissionAmount.Amount,
		st.DriverEarnings.Amount, st.AdminEarnings.Amount, string(st.Tier),
		string(st.PayoutStatus), st.PayoutReference, st.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetByOrder(ctx context.Context, orderID types.ID) (*Settlement, error) {
	return scanSettlement(s.db.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE order_id = $1`, string(orderID)))
}

func (s *Store) GetByReference(ctx context.Context, ref string) (*Settlement, error) {
	return scanSettlement(s.db.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE payout_reference = $1`, ref))
}

// ClaimAttempt reserves the next payout attempt. attempts acts as a version, so
// two workers never send the same payout concurrently.
func (s *Store) ClaimAttempt(ctx context.Context, orderID types.ID, attempts int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE settlements
		SET payout_attempts = payout_attempts + 1, updated_at = NOW()
		WHERE order_id = $1 AND payout_attempts = $2 AND payout_status <> 'completed'`,
		string(orderID), attempts,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordPayout stores a gateway outcome. Completed payouts are terminal.
func (s *Store) RecordPayout(ctx context.Context, orderID types.ID, u PayoutUpdate) (bool, error) {
	var fee, net *int64
	if u.Fee != nil {
		fee = &u.Fee.Amount
	}
	if u.Net != nil {
		net = &u.Net.Amount
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE settlements
		SET payout_status = $2,
		    payout_transaction_id = COALESCE(NULLIF($3, ''), payout_transaction_id),
		    payout_fee = COALESCE($4, payout_fee),
		    payout_net = COALESCE($5, payout_net),
		    last_error = NULLIF($6, ''),
		    updated_at = NOW()
		WHERE order_id = $1 AND payout_status <> 'completed'`,
		string(orderID), string(u.Status), u.TransactionID, fee, net, u.Error,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListByPayoutStatus(ctx context.Context, status PayoutStatus, limit int) ([]*Settlement, error) {
	return s.list(ctx, `
		SELECT `+settlementColumns+` FROM settlements
		WHERE ($1 = '' OR payout_status = $1)
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
}

// ListForReconcile returns payouts awaiting confirmation and failed or stalled
// payouts that still have attempts left.
func (s *Store) ListForReconcile(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]*Settlement, error) {
	return s.list(ctx, `
		SELECT `+settlementColumns+` FROM settlements
		WHERE (payout_status = 'pending' AND payout_transaction_id IS NOT NULL)
		   OR (payout_status <> 'completed' AND payout_attempts < $1 AND updated_at < $2)
		ORDER BY updated_at
		LIMIT $3`, maxAttempts, staleBefore, limit)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Settlement, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanSettlement(row pgx.Row) (*Settlement, error) {
	var st Settlement
	var currency string
	err := row.Scan(
		&st.ID, &st.OrderID, &st.DriverID, &currency,
		&st.BaseAmount.Amount, &st.RateBP, &st.CommissionAmount.Amount,
		&st.DriverEarnings.Amount, &st.AdminEarnings.Amount, &st.Tier,
		&st.PayoutStatus, &st.PayoutReference, &st.PayoutTransactionID,
		&st.PayoutFee.Amount, &st.PayoutNet.Amount,
		&st.PayoutAttempts, &st.LastError, &st.CreatedAt, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.BaseAmount.Currency = currency
	st.CommissionAmount.Currency = currency
	st.DriverEarnings.Currency = currency
	st.AdminEarnings.Currency = currency
	st.PayoutFee.Currency = currency
	st.PayoutNet.Currency = currency
	return &st, nil
}
