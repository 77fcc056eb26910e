// README: User registration, login check and deactivation.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"coursier/internal/logger"
	"coursier/internal/types"
)

const minPasswordLen = 8

type Repository interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id types.ID) (*User, error)
	GetByLogin(ctx context.Context, login string) (*User, error)
	SetActive(ctx context.Context, id types.ID, active bool) error
}

type Service struct {
	repo Repository
	log  logger.ILogger
	cost int
}

func NewService(repo Repository, log logger.ILogger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{repo: repo, log: log, cost: bcrypt.DefaultCost}
}

type RegisterCommand struct {
	Role     Role
	Email    string
	Phone    string
	FullName string
	Password string
}

// Register creates a customer or driver account. Admins are provisioned out of band.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*User, error) {
	if cmd.Role == "" {
		cmd.Role = RoleCustomer
	}
	if cmd.Role != RoleCustomer && cmd.Role != RoleDriver {
		return nil, fmt.Errorf("%w: role %q cannot self-register", ErrBadRequest, cmd.Role)
	}
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	phone := strings.TrimSpace(cmd.Phone)
	if email == "" && phone == "" {
		return nil, fmt.Errorf("%w: email or phone is required", ErrBadRequest)
	}
	if email != "" && !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", ErrBadRequest)
	}
	if len(cmd.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrBadRequest, minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now()
	u := &User{
		ID:           types.NewID(),
		Role:         cmd.Role,
		FullName:     strings.TrimSpace(cmd.FullName),
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if email != "" {
		u.Email = &email
	}
	if phone != "" {
		u.Phone = &phone
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user registered", logger.String("user_id", u.ID.String()), logger.String("role", string(u.Role)))
	return u, nil
}

// Authenticate checks a login (email or phone) and password pair.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*User, error) {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		login = strings.ToLower(login)
	}
	u, err := s.repo.GetByLogin(ctx, login)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrInactive
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*User, error) {
	return s.repo.Get(ctx, id)
}

// Deactivate disables the account; users are never deleted.
func (s *Service) Deactivate(ctx context.Context, id types.ID) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.log.Info("user deactivated", logger.String("user_id", id.String()))
	return nil
}
