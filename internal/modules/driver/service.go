// README: Driver service covers onboarding, admin approval and premium upgrades.
package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coursier/internal/logger"
	"coursier/internal/modules/commission"
	"coursier/internal/types"
)

const minDriverAge = 18

type Repository interface {
	Create(ctx context.Context, d *Driver) error
	Get(ctx context.Context, id types.ID) (*Driver, error)
	GetByUser(ctx context.Context, userID types.ID) (*Driver, error)
	List(ctx context.Context, status Status, limit int) ([]*Driver, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status) (bool, error)
	UpdateDocuments(ctx context.Context, id types.ID, docs Documents) error
	SetOnline(ctx context.Context, id types.ID, online bool) (bool, error)
	MarkUpgradeRequested(ctx context.Context, id types.ID, at time.Time) error
	SetEquipment(ctx context.Context, id types.ID, gps, insurance, uniform bool) error
	AddRating(ctx context.Context, id types.ID, stars int) error
	IncrementDeliveries(ctx context.Context, id types.ID) error
}

// OnlineRegistry mirrors the online flag into a fast lookup set.
type OnlineRegistry interface {
	SetDriverOnline(ctx context.Context, id types.ID, online bool) error
}

type Service struct {
	repo   Repository
	online OnlineRegistry
	log    logger.ILogger
	now    func() time.Time
}

func NewService(repo Repository, online OnlineRegistry, log logger.ILogger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{repo: repo, online: online, log: log, now: time.Now}
}

type ApplyCommand struct {
	UserID      types.ID
	Phone       string
	VehicleType string
	Age         int
	Documents   Documents
}

type EquipmentCommand struct {
	DriverID        types.ID
	HasGpsEquipment bool
	HasInsurance    bool
	HasUniform      bool
}

func (s *Service) Apply(ctx context.Context, cmd ApplyCommand) (*Driver, error) {
	if cmd.UserID == "" || strings.TrimSpace(cmd.Phone) == "" || strings.TrimSpace(cmd.VehicleType) == "" {
		return nil, ErrBadRequest
	}
	if cmd.Age < minDriverAge {
		return nil, fmt.Errorf("%w: driver must be at least %d", ErrBadRequest, minDriverAge)
	}
	now := s.now()
	d := &Driver{
		ID:          types.NewID(),
		UserID:      cmd.UserID,
		Phone:       strings.TrimSpace(cmd.Phone),
		VehicleType: strings.TrimSpace(cmd.VehicleType),
		Age:         cmd.Age,
		Documents:   cmd.Documents,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	s.log.Info("driver applied", logger.String("driver_id", d.ID.String()), logger.String("user_id", d.UserID.String()))
	return d, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	return s.repo.GetByUser(ctx, userID)
}

func (s *Service) List(ctx context.Context, status Status, limit int) ([]*Driver, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, status, limit)
}

// SetStatus is the admin approval action.
func (s *Service) SetStatus(ctx context.Context, id types.ID, to Status) (*Driver, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(d.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, d.Status, to)
	}
	ok, err := s.repo.UpdateStatus(ctx, id, d.Status, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	if to != StatusApproved && d.IsOnline && s.online != nil {
		if err := s.online.SetDriverOnline(ctx, id, false); err != nil {
			s.log.Warning("clear online flag", logger.String("driver_id", id.String()), logger.Error(err))
		}
	}
	s.log.Info("driver status changed",
		logger.String("driver_id", id.String()),
		logger.String("from", string(d.Status)),
		logger.String("to", string(to)),
	)
	return s.repo.Get(ctx, id)
}

func (s *Service) UpdateDocuments(ctx context.Context, id types.ID, docs Documents) (*Driver, error) {
	if err := s.repo.UpdateDocuments(ctx, id, docs); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) SetOnline(ctx context.Context, id types.ID, online bool) error {
	ok, err := s.repo.SetOnline(ctx, id, online)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.repo.Get(ctx, id); err != nil {
			return err
		}
		return ErrNotApproved
	}
	if s.online != nil {
		if err := s.online.SetDriverOnline(ctx, id, online); err != nil {
			s.log.Warning("sync online registry", logger.String("driver_id", id.String()), logger.Error(err))
		}
	}
	return nil
}

// RequestUpgrade records a premium upgrade request once the driver is eligible.
// Equipment is issued separately by an admin.
func (s *Service) RequestUpgrade(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !commission.CanUpgradeToPremium(d.Eligibility()) {
		return nil, ErrNotEligible
	}
	if err := s.repo.MarkUpgradeRequested(ctx, id, s.now()); err != nil {
		return nil, err
	}
	s.log.Info("premium upgrade requested", logger.String("driver_id", id.String()))
	return s.repo.Get(ctx, id)
}

func (s *Service) IssueEquipment(ctx context.Context, cmd EquipmentCommand) (*Driver, error) {
	d, err := s.repo.Get(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	grantsPremiumGear := (cmd.HasGpsEquipment && !d.HasGpsEquipment) || (cmd.HasInsurance && !d.HasInsurance)
	if grantsPremiumGear && !commission.CanUpgradeToPremium(d.Eligibility()) {
		return nil, ErrNotEligible
	}
	if err := s.repo.SetEquipment(ctx, cmd.DriverID, cmd.HasGpsEquipment, cmd.HasInsurance, cmd.HasUniform); err != nil {
		return nil, err
	}
	updated, err := s.repo.Get(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	s.log.Info("driver equipment updated",
		logger.String("driver_id", cmd.DriverID.String()),
		logger.String("tier", string(updated.Tier())),
	)
	return updated, nil
}

func (s *Service) RecordRating(ctx context.Context, id types.ID, stars int) error {
	if stars < 1 || stars > 5 {
		return ErrBadRequest
	}
	return s.repo.AddRating(ctx, id, stars)
}

func (s *Service) IncrementDeliveries(ctx context.Context, id types.ID) error {
	return s.repo.IncrementDeliveries(ctx, id)
}
