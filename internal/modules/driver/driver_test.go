// README: Driver service tests against an in-memory repository.
package driver_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursier/internal/modules/commission"
	"coursier/internal/modules/driver"
	"coursier/internal/modules/driver/drivertest"
	"coursier/internal/types"
)

type fakeRegistry struct {
	mu     sync.Mutex
	online map[types.ID]bool
}

func (f *fakeRegistry) SetDriverOnline(_ context.Context, id types.ID, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.online == nil {
		f.online = map[types.ID]bool{}
	}
	f.online[id] = online
	return nil
}

func fullDocuments() driver.Documents {
	return driver.Documents{
		LicenseURL:              "docs/license.pdf",
		VehicleRegistrationURL:  "docs/registration.pdf",
		InsuranceCertificateURL: "docs/insurance.pdf",
		MedicalCertificateURL:   "docs/medical.pdf",
	}
}

func applyDriver(t *testing.T, svc *driver.Service, docs driver.Documents) *driver.Driver {
	t.Helper()
	d, err := svc.Apply(context.Background(), driver.ApplyCommand{
		UserID:      types.NewID(),
		Phone:       "+2250700000000",
		VehicleType: "motorbike",
		Age:         27,
		Documents:   docs,
	})
	require.NoError(t, err)
	return d
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	svc := driver.NewService(drivertest.NewMemoryRepository(), nil, nil)

	d := applyDriver(t, svc, driver.Documents{})
	assert.Equal(t, driver.StatusPending, d.Status)
	assert.Equal(t, commission.TierStandard, d.Tier())

	_, err := svc.Apply(ctx, driver.ApplyCommand{UserID: d.UserID, Phone: "1", VehicleType: "car", Age: 30})
	assert.ErrorIs(t, err, driver.ErrAlreadyApplied)

	_, err = svc.Apply(ctx, driver.ApplyCommand{UserID: types.NewID(), Phone: "1", VehicleType: "car", Age: 16})
	assert.ErrorIs(t, err, driver.ErrBadRequest)

	_, err = svc.Apply(ctx, driver.ApplyCommand{UserID: types.NewID(), Phone: " ", VehicleType: "car", Age: 30})
	assert.ErrorIs(t, err, driver.ErrBadRequest)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to driver.Status
		want     bool
	}{
		{driver.StatusPending, driver.StatusApproved, true},
		{driver.StatusPending, driver.StatusRejected, true},
		{driver.StatusApproved, driver.StatusSuspended, true},
		{driver.StatusSuspended, driver.StatusApproved, true},
		{driver.StatusRejected, driver.StatusApproved, true},
		{driver.StatusPending, driver.StatusSuspended, false},
		{driver.StatusApproved, driver.StatusPending, false},
		{driver.StatusApproved, driver.StatusApproved, false},
		{driver.StatusSuspended, driver.StatusRejected, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, driver.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSetStatusClearsOnline(t *testing.T) {
	ctx := context.Background()
	reg := &fakeRegistry{}
	svc := driver.NewService(drivertest.NewMemoryRepository(), reg, nil)
	d := applyDriver(t, svc, fullDocuments())

	_, err := svc.SetStatus(ctx, d.ID, driver.StatusSuspended)
	assert.ErrorIs(t, err, driver.ErrInvalidStatus)

	_, err = svc.SetStatus(ctx, d.ID, driver.StatusApproved)
	require.NoError(t, err)
	require.NoError(t, svc.SetOnline(ctx, d.ID, true))
	assert.True(t, reg.online[d.ID])

	got, err := svc.SetStatus(ctx, d.ID, driver.StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, driver.StatusSuspended, got.Status)
	assert.False(t, got.IsOnline)
	assert.False(t, reg.online[d.ID])
}

func TestSetOnlineRequiresApproval(t *testing.T) {
	ctx := context.Background()
	svc := driver.NewService(drivertest.NewMemoryRepository(), nil, nil)
	d := applyDriver(t, svc, driver.Documents{})

	assert.ErrorIs(t, svc.SetOnline(ctx, d.ID, true), driver.ErrNotApproved)
	assert.ErrorIs(t, svc.SetOnline(ctx, "missing", true), driver.ErrNotFound)
}

func TestRequestUpgrade(t *testing.T) {
	ctx := context.Background()
	svc := driver.NewService(drivertest.NewMemoryRepository(), nil, nil)

	incomplete := applyDriver(t, svc, driver.Documents{LicenseURL: "docs/license.pdf"})
	_, err := svc.SetStatus(ctx, incomplete.ID, driver.StatusApproved)
	require.NoError(t, err)
	_, err = svc.RequestUpgrade(ctx, incomplete.ID)
	assert.ErrorIs(t, err, driver.ErrNotEligible)

	unapproved := applyDriver(t, svc, fullDocuments())
	_, err = svc.RequestUpgrade(ctx, unapproved.ID)
	assert.ErrorIs(t, err, driver.ErrNotEligible)

	_, err = svc.SetStatus(ctx, unapproved.ID, driver.StatusApproved)
	require.NoError(t, err)
	got, err := svc.RequestUpgrade(ctx, unapproved.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.UpgradeRequestedAt)
	assert.Equal(t, commission.TierStandard, got.Tier(), "request alone does not change tier")
}

func TestIssueEquipment(t *testing.T) {
	ctx := context.Background()
	svc := driver.NewService(drivertest.NewMemoryRepository(), nil, nil)
	d := applyDriver(t, svc, fullDocuments())

	_, err := svc.IssueEquipment(ctx, driver.EquipmentCommand{DriverID: d.ID, HasGpsEquipment: true, HasInsurance: true})
	assert.ErrorIs(t, err, driver.ErrNotEligible)

	got, err := svc.IssueEquipment(ctx, driver.EquipmentCommand{DriverID: d.ID, HasUniform: true})
	require.NoError(t, err, "uniform alone needs no eligibility")
	assert.Equal(t, commission.TierStandard, got.Tier())

	_, err = svc.SetStatus(ctx, d.ID, driver.StatusApproved)
	require.NoError(t, err)
	got, err = svc.IssueEquipment(ctx, driver.EquipmentCommand{DriverID: d.ID, HasGpsEquipment: true, HasInsurance: true, HasUniform: true})
	require.NoError(t, err)
	assert.Equal(t, commission.TierPremium, got.Tier())
}

func TestRecordRating(t *testing.T) {
	ctx := context.Background()
	svc := driver.NewService(drivertest.NewMemoryRepository(), nil, nil)
	d := applyDriver(t, svc, driver.Documents{})

	assert.ErrorIs(t, svc.RecordRating(ctx, d.ID, 0), driver.ErrBadRequest)
	assert.ErrorIs(t, svc.RecordRating(ctx, d.ID, 6), driver.ErrBadRequest)
	require.NoError(t, svc.RecordRating(ctx, d.ID, 5))
	require.NoError(t, svc.RecordRating(ctx, d.ID, 4))

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, got.Rating(), 0.0001)
	assert.EqualValues(t, 2, got.RatingCount)
}
