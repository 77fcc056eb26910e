// README: Platform users (customers, drivers, admins).
package user

import (
	"errors"
	"time"

	"coursier/internal/types"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrDuplicate          = errors.New("email or phone already registered")
	ErrBadRequest         = errors.New("bad request")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("user is deactivated")
)

type User struct {
	ID           types.ID
	Role         Role
	Email        *string
	Phone        *string
	FullName     string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
