// README: Settlement tests: split, at-most-once payout, retries and the full delivery flow.
package settlement_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursier/internal/modules/commission"
	"coursier/internal/modules/driver"
	"coursier/internal/modules/order"
	"coursier/internal/modules/order/ordertest"
	"coursier/internal/modules/payment"
	"coursier/internal/modules/settlement"
	"coursier/internal/modules/settlement/settlementtest"
	"coursier/internal/types"
)

type fakeDrivers struct {
	mu         sync.Mutex
	drivers    map[types.ID]*driver.Driver
	deliveries map[types.ID]int
}

func newFakeDrivers(ds ...*driver.Driver) *fakeDrivers {
	f := &fakeDrivers{drivers: map[types.ID]*driver.Driver{}, deliveries: map[types.ID]int{}}
	for _, d := range ds {
		f.drivers[d.ID] = d
	}
	return f
}

func (f *fakeDrivers) Get(_ context.Context, id types.ID) (*driver.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[id]
	if !ok {
		return nil, driver.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDrivers) IncrementDeliveries(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[id]++
	return nil
}

type scriptedPayouts struct {
	mu        sync.Mutex
	transfers []payment.TransferRequest
	results   []payment.TransferResult
	errs      []error
	status    payment.Result
}

func (p *scriptedPayouts) TransferToDriver(_ context.Context, req payment.TransferRequest) (payment.TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.transfers)
	p.transfers = append(p.transfers, req)
	if n < len(p.errs) && p.errs[n] != nil {
		return payment.TransferResult{}, p.errs[n]
	}
	if n < len(p.results) {
		return p.results[n], nil
	}
	return payment.TransferResult{
		Result:    payment.Result{Success: true, TransactionID: "tr_ok", Status: payment.StatusCompleted},
		Reference: payment.PayoutReference(req.DriverID, req.OrderID),
		Fee:       types.XOF(0),
		Net:       req.Amount,
	}, nil
}

func (p *scriptedPayouts) CheckTransactionStatus(_ context.Context, txID string) (payment.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

func (p *scriptedPayouts) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transfers)
}

func premiumDriver(id types.ID) *driver.Driver {
	return &driver.Driver{
		ID:              id,
		Phone:           "+2250707070707",
		Status:          driver.StatusApproved,
		HasGpsEquipment: true,
		HasInsurance:    true,
	}
}

func deliveredOrder(driverID types.ID, price int64) *order.Order {
	now := time.Now()
	return &order.Order{
		ID:          types.NewID(),
		CustomerID:  "c1",
		DriverID:    &driverID,
		Price:       types.XOF(price),
		Status:      order.StatusDelivered,
		CreatedAt:   now.Add(-time.Hour),
		DeliveredAt: &now,
	}
}

func TestSettlePremiumDriver(t *testing.T) {
	ctx := context.Background()
	repo := settlementtest.NewMemoryRepository()
	payouts := &scriptedPayouts{}
	svc := settlement.NewService(repo, newFakeDrivers(premiumDriver("d1")), payouts, nil, nil, settlement.Config{})
	o := deliveredOrder("d1", 500000)

	require.NoError(t, svc.Settle(ctx, o))

	st, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, commission.TierPremium, st.Tier)
	assert.Equal(t, commission.PremiumRateBP, st.RateBP)
	assert.Equal(t, types.XOF(150000), st.CommissionAmount)
	assert.Equal(t, types.XOF(350000), st.DriverEarnings)
	assert.Equal(t, st.CommissionAmount, st.AdminEarnings)
	assert.Equal(t, settlement.PayoutCompleted, st.PayoutStatus)
	assert.Equal(t, 1, st.PayoutAttempts)
	assert.Equal(t, "payout-d1-"+o.ID.String(), st.PayoutReference)

	require.Len(t, payouts.transfers, 1)
	assert.Equal(t, types.XOF(350000), payouts.transfers[0].Amount)
	assert.Equal(t, o.ID, payouts.transfers[0].OrderID)
	assert.Equal(t, payment.RailWallet, payouts.transfers[0].Rail)
}

func TestSettleIsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	payouts := &scriptedPayouts{}
	svc := settlement.NewService(settlementtest.NewMemoryRepository(), newFakeDrivers(premiumDriver("d1")), payouts, nil, nil, settlement.Config{})
	o := deliveredOrder("d1", 500000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Settle(ctx, o)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, payouts.count())
}

func TestSettleRejectsUndelivered(t *testing.T) {
	svc := settlement.NewService(settlementtest.NewMemoryRepository(), newFakeDrivers(), &scriptedPayouts{}, nil, nil, settlement.Config{})
	o := deliveredOrder("d1", 100)
	o.Status = order.StatusInTransit
	assert.ErrorIs(t, svc.Settle(context.Background(), o), settlement.ErrNotDelivered)

	o.Status = order.StatusDelivered
	o.DriverID = nil
	assert.ErrorIs(t, svc.Settle(context.Background(), o), settlement.ErrNotDelivered)
}

func TestPayoutFailureIsRecordedAndRetried(t *testing.T) {
	ctx := context.Background()
	repo := settlementtest.NewMemoryRepository()
	payouts := &scriptedPayouts{
		results: []payment.TransferResult{{Result: payment.Result{Status: payment.StatusFailed, Message: "gateway unreachable"}}},
	}
	svc := settlement.NewService(repo, newFakeDrivers(premiumDriver("d1")), payouts, nil, nil, settlement.Config{MaxAttempts: 3, PayoutTimeout: time.Second})
	o := deliveredOrder("d1", 500000)

	err := svc.Settle(ctx, o)
	require.Error(t, err)

	st, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.PayoutFailed, st.PayoutStatus)
	require.NotNil(t, st.LastError)
	assert.Equal(t, "gateway unreachable", *st.LastError)
	assert.Equal(t, types.XOF(350000), st.DriverEarnings, "split is kept despite the failed payout")

	n, err := svc.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "just-failed payouts are not stale yet")

	repo.Age(o.ID, time.Minute)
	n, err = svc.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err = svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.PayoutCompleted, st.PayoutStatus)
	assert.Equal(t, 2, st.PayoutAttempts)
	assert.Nil(t, st.LastError)
	require.Len(t, payouts.transfers, 2)
	assert.Equal(t, payouts.transfers[0].OrderID, payouts.transfers[1].OrderID)
}

func TestReconcileStopsAtMaxAttempts(t *testing.T) {
	ctx := context.Background()
	repo := settlementtest.NewMemoryRepository()
	fail := payment.TransferResult{Result: payment.Result{Status: payment.StatusFailed, Message: "down"}}
	payouts := &scriptedPayouts{results: []payment.TransferResult{fail, fail, fail, fail}}
	svc := settlement.NewService(repo, newFakeDrivers(premiumDriver("d1")), payouts, nil, nil, settlement.Config{MaxAttempts: 2, PayoutTimeout: time.Second})
	o := deliveredOrder("d1", 100000)

	require.Error(t, svc.Settle(ctx, o))
	for i := 0; i < 3; i++ {
		repo.Age(o.ID, time.Minute)
		_, err := svc.ReconcileOnce(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, payouts.count())
}

func TestNotConfiguredGatewayRecordsFailure(t *testing.T) {
	ctx := context.Background()
	payouts := &scriptedPayouts{errs: []error{payment.ErrNotConfigured}}
	svc := settlement.NewService(settlementtest.NewMemoryRepository(), newFakeDrivers(premiumDriver("d1")), payouts, nil, nil, settlement.Config{})
	o := deliveredOrder("d1", 100000)

	require.Error(t, svc.Settle(ctx, o))
	st, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.PayoutFailed, st.PayoutStatus)
	require.NotNil(t, st.LastError)
	assert.Contains(t, *st.LastError, "not configured")
}

func TestPendingPayoutIsPolled(t *testing.T) {
	ctx := context.Background()
	payouts := &scriptedPayouts{
		results: []payment.TransferResult{{Result: payment.Result{Success: true, TransactionID: "tr_9", Status: payment.StatusPending}}},
		status:  payment.Result{Success: true, TransactionID: "tr_9", Status: payment.StatusCompleted},
	}
	svc := settlement.NewService(settlementtest.NewMemoryRepository(), newFakeDrivers(premiumDriver("d1")), payouts, nil, nil, settlement.Config{})
	o := deliveredOrder("d1", 100000)

	require.NoError(t, svc.Settle(ctx, o))
	st, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.PayoutPending, st.PayoutStatus)

	n, err := svc.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err = svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.PayoutCompleted, st.PayoutStatus)
	assert.Equal(t, 1, payouts.count(), "polling never re-sends")
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	payouts := &scriptedPayouts{
		results: []payment.TransferResult{{Result: payment.Result{Status: payment.StatusFailed, Message: "down"}}},
	}
	svc := settlement.NewService(settlementtest.NewMemoryRepository(), newFakeDrivers(premiumDriver("d1")), payouts, nil, nil, settlement.Config{})
	o := deliveredOrder("d1", 100000)
	require.Error(t, svc.Settle(ctx, o))

	st, err := svc.Retry(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.PayoutCompleted, st.PayoutStatus)

	_, err = svc.Retry(ctx, o.ID)
	assert.ErrorIs(t, err, settlement.ErrAlreadyPaidOut)

	_, err = svc.Retry(ctx, "missing")
	assert.ErrorIs(t, err, settlement.ErrNotFound)
}

func TestHandleTransferWebhook(t *testing.T) {
	ctx := context.Background()
	payouts := &scriptedPayouts{
		results: []payment.TransferResult{{Result: payment.Result{Success: true, TransactionID: "tr_5", Status: payment.StatusPending}}},
	}
	svc := settlement.NewService(settlementtest.NewMemoryRepository(), newFakeDrivers(premiumDriver("d1")), payouts, nil, nil, settlement.Config{})
	o := deliveredOrder("d1", 100000)
	require.NoError(t, svc.Settle(ctx, o))

	ref := payment.PayoutReference("d1", o.ID)
	require.NoError(t, svc.HandleTransferWebhook(ctx, payment.WebhookEvent{Kind: payment.WebhookTransfer, Reference: ref, TransactionID: "tr_5", RawStatus: "SUCCESS"}))
	st, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.PayoutCompleted, st.PayoutStatus)

	// completed is terminal
	require.NoError(t, svc.HandleTransferWebhook(ctx, payment.WebhookEvent{Kind: payment.WebhookTransfer, Reference: ref, RawStatus: "FAILED"}))
	st, err = svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.PayoutCompleted, st.PayoutStatus)

	err = svc.HandleTransferWebhook(ctx, payment.WebhookEvent{Kind: payment.WebhookTransfer, Reference: "payout-x-y"})
	assert.ErrorIs(t, err, settlement.ErrNotFound)
	err = svc.HandleTransferWebhook(ctx, payment.WebhookEvent{Kind: payment.WebhookTransfer})
	assert.ErrorIs(t, err, payment.ErrBadPayload)
}

func TestRunReconcilerStopsOnCancel(t *testing.T) {
	svc := settlement.NewService(settlementtest.NewMemoryRepository(), newFakeDrivers(), &scriptedPayouts{}, nil, nil, settlement.Config{ReconcileTick: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunReconciler(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}

// TestDeliveryEndToEnd drives an order from creation to payout through the real
// gateway client against a fake gateway.
func TestDeliveryEndToEnd(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var transfers []map[string]string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]string
		_ = json.Unmarshal(body, &m)
		mu.Lock()
		transfers = append(transfers, m)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"transaction_id":"tr_e2e","status":"SUCCESS"}`))
	}))
	defer gw.Close()

	client := payment.NewClient(payment.Config{BaseURL: gw.URL, APIKey: "k", SecretKey: "s"})
	drivers := newFakeDrivers(premiumDriver("d_premium"))
	orders := order.NewService(ordertest.NewMemoryRepository(), drivers)
	settlements := settlement.NewService(settlementtest.NewMemoryRepository(), drivers, client, nil, nil, settlement.Config{})
	orders.SetSettler(settlements)

	o, err := orders.Create(ctx, order.CreateCommand{
		CustomerID:      "c_e2e",
		PickupAddress:   "Marché de Treichville",
		DeliveryAddress: "Riviera 3, Cocody",
		PackageType:     "parcel",
		WeightGrams:     2500,
		Price:           types.XOF(500000),
	})
	require.NoError(t, err)

	_, err = orders.Accept(ctx, order.AcceptCommand{OrderID: o.ID, DriverID: "d_premium"})
	require.NoError(t, err)
	adv := order.AdvanceCommand{OrderID: o.ID, DriverID: "d_premium"}
	_, err = orders.PickUp(ctx, adv)
	require.NoError(t, err)
	_, err = orders.StartTransit(ctx, adv)
	require.NoError(t, err)
	delivered, err := orders.Deliver(ctx, adv)
	require.NoError(t, err)

	require.NotNil(t, delivered.DeliveredAt)
	assert.False(t, delivered.DeliveredAt.Before(delivered.CreatedAt))
	assert.Equal(t, types.XOF(500000), delivered.Price, "price is never rewritten")

	st, err := settlements.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "1500.00", st.CommissionAmount.Decimal())
	assert.Equal(t, "3500.00", st.DriverEarnings.Decimal())
	assert.Equal(t, settlement.PayoutCompleted, st.PayoutStatus)

	_, err = orders.Deliver(ctx, adv)
	assert.True(t, errors.Is(err, order.ErrConflict))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transfers, 1, "a repeated delivery never pays twice")
	assert.Equal(t, "3500.00", transfers[0]["amount"])
	assert.Equal(t, "d_premium", transfers[0]["driver_id"])
	assert.Equal(t, o.ID.String(), transfers[0]["order_id"])
	assert.Equal(t, "payout-d_premium-"+o.ID.String(), transfers[0]["reference"])
	assert.Equal(t, 1, drivers.deliveries["d_premium"])
}

// flakyDrivers fails the first n lookups, then reads through.
type flakyDrivers struct {
	*fakeDrivers
	mu    sync.Mutex
	fails int
}

func (f *flakyDrivers) Get(ctx context.Context, id types.ID) (*driver.Driver, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return nil, errors.New("driver store unavailable")
	}
	f.mu.Unlock()
	return f.fakeDrivers.Get(ctx, id)
}

func TestReconcilerSettlesDeliveryWithoutRow(t *testing.T) {
	ctx := context.Background()
	drivers := newFakeDrivers(premiumDriver("d1"))
	orderRepo := ordertest.NewMemoryRepository()
	repo := settlementtest.NewMemoryRepository()
	payouts := &scriptedPayouts{}

	orders := order.NewService(orderRepo, drivers)
	settlements := settlement.NewService(repo, &flakyDrivers{fakeDrivers: drivers, fails: 1}, payouts, nil, nil, settlement.Config{},
		settlement.WithUnsettledOrders(settlementtest.Unsettled{Orders: orderRepo, Settlements: repo}))
	orders.SetSettler(settlements)

	o, err := orders.Create(ctx, order.CreateCommand{
		CustomerID:      "c1",
		PickupAddress:   "Adjamé",
		DeliveryAddress: "Yopougon",
		PackageType:     "parcel",
		WeightGrams:     900,
		Price:           types.XOF(500000),
	})
	require.NoError(t, err)
	adv := order.AdvanceCommand{OrderID: o.ID, DriverID: "d1"}
	_, err = orders.Accept(ctx, order.AcceptCommand{OrderID: o.ID, DriverID: "d1"})
	require.NoError(t, err)
	_, err = orders.PickUp(ctx, adv)
	require.NoError(t, err)
	_, err = orders.StartTransit(ctx, adv)
	require.NoError(t, err)

	delivered, err := orders.Deliver(ctx, adv)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, delivered.Status)

	_, err = settlements.Get(ctx, o.ID)
	require.ErrorIs(t, err, settlement.ErrNotFound, "driver lookup failed before the row was written")
	assert.Equal(t, 0, payouts.count())

	n, err := settlements.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := settlements.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.PayoutCompleted, st.PayoutStatus)
	assert.Equal(t, types.XOF(350000), st.DriverEarnings)

	n, err = settlements.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, payouts.count(), "the swept order is paid exactly once")
}
