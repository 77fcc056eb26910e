// README: DB-backed concurrency tests for the guarded order writes (run with -race).
package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursier/internal/modules/driver"
	"coursier/internal/modules/order"
	"coursier/internal/testutil"
	"coursier/internal/types"
)

func newDBService(t *testing.T, ds ...*driver.Driver) (*order.Service, *order.Store) {
	t.Helper()
	store := order.NewStore(testutil.Postgres(t))
	return order.NewService(store, newFakeDrivers(ds...)), store
}

func TestStoreConcurrentAccept(t *testing.T) {
	const attempts = 8
	ds := make([]*driver.Driver, attempts)
	for i := range ds {
		ds[i] = approvedDriver(types.NewID())
	}
	svc, store := newDBService(t, ds...)
	ctx := context.Background()
	o := createOrder(t, svc, "c_db_race", 500000)

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for _, d := range ds {
		wg.Add(1)
		go func(did types.ID) {
			defer wg.Done()
			_, err := svc.Accept(ctx, order.AcceptCommand{OrderID: o.ID, DriverID: did})
			errs <- err
		}(d.ID)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		assert.ErrorIs(t, err, order.ErrNoLongerAvailable)
	}
	assert.Equal(t, 1, success)

	got, err := store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusAccepted, got.Status)
	require.NotNil(t, got.DriverID)
	require.NotNil(t, got.AcceptedAt)
}

func TestStoreLifecycleAndHistory(t *testing.T) {
	svc, store := newDBService(t, approvedDriver("d_db"))
	ctx := context.Background()
	o := createOrder(t, svc, "c_db", 500000)

	got, err := store.GetByTracking(ctx, o.TrackingNumber)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, types.XOF(500000), got.Price)

	_, err = svc.Accept(ctx, order.AcceptCommand{OrderID: o.ID, DriverID: "d_db"})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, order.CancelCommand{OrderID: o.ID, CustomerID: "c_db"})
	assert.ErrorIs(t, err, order.ErrNotCancellable)

	adv := order.AdvanceCommand{OrderID: o.ID, DriverID: "d_db", Location: "Treichville"}
	_, err = svc.PickUp(ctx, adv)
	require.NoError(t, err)
	_, err = svc.StartTransit(ctx, adv)
	require.NoError(t, err)
	delivered, err := svc.Deliver(ctx, adv)
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)
	assert.False(t, delivered.DeliveredAt.Before(delivered.CreatedAt))

	_, err = svc.Deliver(ctx, adv)
	assert.ErrorIs(t, err, order.ErrConflict)

	history, err := svc.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, order.StatusPending, history[0].Status)
	assert.Equal(t, order.StatusDelivered, history[4].Status)

	ok, err := store.UpdatePayment(ctx, o.ID, order.PaymentPaid, "tx_db_1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.UpdatePayment(ctx, o.ID, order.PaymentFailed, "")
	require.NoError(t, err)
	assert.False(t, ok, "paid orders are never downgraded")

	byTx, err := store.GetByPaymentTransaction(ctx, "tx_db_1")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, byTx.PaymentStatus)
}

func TestStoreChargeClaim(t *testing.T) {
	svc, store := newDBService(t)
	ctx := context.Background()
	o := createOrder(t, svc, "c_db_charge", 500000)
	now := time.Now()

	attempt, ok, err := store.ClaimCharge(ctx, o.ID, now, now.Add(-2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, attempt)

	_, ok, err = store.ClaimCharge(ctx, o.ID, now, now.Add(-2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "a live claim blocks a second charge")

	require.NoError(t, store.ReleaseCharge(ctx, o.ID, true))
	attempt, ok, err = store.ClaimCharge(ctx, o.ID, now, now.Add(-2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, attempt)

	later := now.Add(3 * time.Minute)
	_, ok, err = store.ClaimCharge(ctx, o.ID, later, later.Add(-2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "a stale claim is taken over")
	require.NoError(t, store.ReleaseCharge(ctx, o.ID, false))

	_, err = store.UpdatePayment(ctx, o.ID, order.PaymentPending, "tx_db_pending")
	require.NoError(t, err)
	_, ok, err = store.ClaimCharge(ctx, o.ID, now, now.Add(-2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "a pending transaction is polled, not charged")
}
