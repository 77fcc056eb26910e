// README: Driver profile, approval status and derived equipment tier.
package driver

import (
	"errors"
	"time"

	"coursier/internal/modules/commission"
	"coursier/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusSuspended Status = "suspended"
)

var (
	ErrNotFound       = errors.New("driver not found")
	ErrAlreadyApplied = errors.New("user already has a driver profile")
	ErrInvalidStatus  = errors.New("invalid driver status transition")
	ErrNotApproved    = errors.New("driver is not approved")
	ErrNotEligible    = errors.New("driver is not eligible for premium upgrade")
	ErrBadRequest     = errors.New("bad request")
	ErrConflict       = errors.New("driver state conflict")
)

type Documents struct {
	LicenseURL              string
	VehicleRegistrationURL  string
	InsuranceCertificateURL string
	MedicalCertificateURL   string
}

type Driver struct {
	ID                 types.ID
	UserID             types.ID
	Phone              string
	VehicleType        string
	Age                int
	Documents          Documents
	Status             Status
	IsOnline           bool
	RatingTotal        int64
	RatingCount        int64
	DeliveriesCount    int64
	HasGpsEquipment    bool
	HasInsurance       bool
	HasUniform         bool
	UpgradeRequestedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (d *Driver) Equipment() commission.Equipment {
	return commission.Equipment{
		HasGpsEquipment: d.HasGpsEquipment,
		HasInsurance:    d.HasInsurance,
		HasUniform:      d.HasUniform,
	}
}

// Tier is derived from the equipment flags; there is no stored tier.
func (d *Driver) Tier() commission.Tier {
	return d.Equipment().Tier()
}

func (d *Driver) Eligibility() commission.EligibilityProfile {
	return commission.EligibilityProfile{
		Status:                  string(d.Status),
		LicenseURL:              d.Documents.LicenseURL,
		VehicleRegistrationURL:  d.Documents.VehicleRegistrationURL,
		InsuranceCertificateURL: d.Documents.InsuranceCertificateURL,
		MedicalCertificateURL:   d.Documents.MedicalCertificateURL,
	}
}

// Rating is the average star rating, 0 when unrated.
func (d *Driver) Rating() float64 {
	if d.RatingCount == 0 {
		return 0
	}
	return float64(d.RatingTotal) / float64(d.RatingCount)
}

// AllowedStatusTransitions is the admin approval flow.
var AllowedStatusTransitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected},
	StatusApproved:  {StatusSuspended},
	StatusSuspended: {StatusApproved},
	StatusRejected:  {StatusApproved},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedStatusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
