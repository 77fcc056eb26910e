// README: Driver store backed by PostgreSQL.
package driver

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

const driverColumns = `
	id, user_id, phone, vehicle_type, age,
	license_url, vehicle_registration_url, insurance_certificate_url, medical_certificate_url,
	status, is_online, rating_total, rating_count, deliveries_count,
	has_gps_equipment, has_insurance, has_uniform, upgrade_requested_at,
	created_at, updated_at`

func (s *Store) Create(ctx context.Context, d *Driver) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (
			id, user_id, phone, vehicle_type, age,
			license_url, vehicle_registration_url, insurance_certificate_url, medical_certificate_url,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		string(d.ID), string(d.UserID), d.Phone, d.VehicleType, d.Age,
		d.Documents.LicenseURL, d.Documents.VehicleRegistrationURL,
		d.Documents.InsuranceCertificateURL, d.Documents.MedicalCertificateURL,
		string(d.Status), d.CreatedAt,
	)
	if infra.IsUniqueViolation(err) {
		return ErrAlreadyApplied
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, string(id))
	return scanDriver(row)
}

func (s *Store) GetByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE user_id = $1`, string(userID))
	return scanDriver(row)
}

func (s *Store) List(ctx context.Context, status Status, limit int) ([]*Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+driverColumns+` FROM drivers
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateStatus applies the change only if the driver is still in from.
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET status = $1,
		    is_online = CASE WHEN $1 = 'approved' THEN is_online ELSE FALSE END,
		    updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		string(to), string(id), string(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateDocuments(ctx context.Context, id types.ID, docs Documents) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET license_url = $1, vehicle_registration_url = $2,
		    insurance_certificate_url = $3, medical_certificate_url = $4,
		    updated_at = NOW()
		WHERE id = $5`,
		docs.LicenseURL, docs.VehicleRegistrationURL,
		docs.InsuranceCertificateURL, docs.MedicalCertificateURL,
		string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOnline only succeeds for approved drivers.
func (s *Store) SetOnline(ctx context.Context, id types.ID, online bool) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers SET is_online = $1, updated_at = NOW()
		WHERE id = $2 AND (status = 'approved' OR $1 = FALSE)`,
		online, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkUpgradeRequested(ctx context.Context, id types.ID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE drivers SET upgrade_requested_at = $1, updated_at = NOW() WHERE id = $2`,
		at, string(id),
	)
	return err
}

func (s *Store) SetEquipment(ctx context.Context, id types.ID, gps, insurance, uniform bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET has_gps_equipment = $1, has_insurance = $2, has_uniform = $3, updated_at = NOW()
		WHERE id = $4`,
		gps, insurance, uniform, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AddRating(ctx context.Context, id types.ID, stars int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET rating_total = rating_total + $1, rating_count = rating_count + 1, updated_at = NOW()
		WHERE id = $2`,
		stars, string(id),
	)
	return err
}

func (s *Store) IncrementDeliveries(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE drivers SET deliveries_count = deliveries_count + 1, updated_at = NOW() WHERE id = $1`,
		string(id),
	)
	return err
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var upgradeAt *time.Time
	err := row.Scan(
		&d.ID, &d.UserID, &d.Phone, &d.VehicleType, &d.Age,
		&d.Documents.LicenseURL, &d.Documents.VehicleRegistrationURL,
		&d.Documents.InsuranceCertificateURL, &d.Documents.MedicalCertificateURL,
		&d.Status, &d.IsOnline, &d.RatingTotal, &d.RatingCount, &d.DeliveriesCount,
		&d.HasGpsEquipment, &d.HasInsurance, &d.HasUniform, &upgradeAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.UpgradeRequestedAt = upgradeAt
	return &d, nil
}
