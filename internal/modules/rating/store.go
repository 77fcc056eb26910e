// README: Rating store backed by PostgreSQL; one row per order.
package rating

import (
	"context"

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

func (s *Store) Create(ctx context.Context, r *DriverRating) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO driver_ratings (order_id, customer_id, driver_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(r.OrderID), string(r.CustomerID), string(r.DriverID), r.Rating, r.Comment, r.CreatedAt,
	)
	if infra.IsUniqueViolation(err) {
		return ErrAlreadyRated
	}
	return err
}

func (s *Store) ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]DriverRating, error) {
	rows, err := s.db.Query(ctx, `
		SELECT order_id, customer_id, driver_id, rating, comment, created_at
		FROM driver_ratings
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(driverID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DriverRating
	for rows.Next() {
		var r DriverRating
		if err := rows.Scan(&r.OrderID, &r.CustomerID, &r.DriverID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
