// README: Charge and webhook tests with a scripted gateway.
package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursier/internal/modules/order"
	"coursier/internal/modules/order/ordertest"
	"coursier/internal/types"
)

type scriptedGateway struct {
	mu       sync.Mutex
	charge   Result
	status   Result
	charges  int
	polls    int
	keys     []string
	validSig string
}

func (g *scriptedGateway) ProcessPayment(_ context.Context, req PaymentRequest) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges++
	g.keys = append(g.keys, req.IdempotencyKey)
	return g.charge, nil
}

func (g *scriptedGateway) CheckTransactionStatus(_ context.Context, _ string) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	return g.status, nil
}

func (g *scriptedGateway) ValidateWebhook(signature, _, _ string) bool {
	return signature == g.validSig
}

type memGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memGuard) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[key] {
		return true, nil
	}
	m.seen[key] = true
	return false, nil
}

func (m *memGuard) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

type fakeTransfers struct {
	events []WebhookEvent
	err    error
}

func (f *fakeTransfers) HandleTransferWebhook(_ context.Context, ev WebhookEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

func seedOrder(t *testing.T, repo *ordertest.MemoryRepository, method order.PaymentMethod) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:             types.NewID(),
		TrackingNumber: "CRS-260504-" + string(types.NewID())[:6],
		CustomerID:     "c1",
		Price:          types.XOF(500000),
		Status:         order.StatusPending,
		PaymentStatus:  order.PaymentPending,
		PaymentMethod:  method,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), o))
	return o
}

func TestChargeOrder(t *testing.T) {
	ctx := context.Background()
	repo := ordertest.NewMemoryRepository()
	gw := &scriptedGateway{charge: Result{Success: true, TransactionID: "tx_1", Status: StatusPending}}
	svc := NewService(repo, gw, nil, nil, nil, nil)
	o := seedOrder(t, repo, order.PaymentMobileMoney)

	_, _, err := svc.ChargeOrder(ctx, ChargeCommand{OrderID: o.ID, CustomerID: "intruder", Phone: "+225"})
	assert.ErrorIs(t, err, order.ErrNotOwner)

	_, _, err = svc.ChargeOrder(ctx, ChargeCommand{OrderID: o.ID, CustomerID: "c1"})
	assert.ErrorIs(t, err, order.ErrBadRequest, "phone required for a new charge")

	got, res, err := svc.ChargeOrder(ctx, ChargeCommand{OrderID: o.ID, CustomerID: "c1", Phone: "+2250101010101"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, order.PaymentPending, got.PaymentStatus)
	require.NotNil(t, got.PaymentTransactionID)
	assert.Equal(t, "tx_1", *got.PaymentTransactionID)

	// second attempt polls the existing transaction instead of charging again
	gw.status = Result{Success: true, TransactionID: "tx_1", Status: StatusCompleted}
	got, _, err = svc.ChargeOrder(ctx, ChargeCommand{OrderID: o.ID, CustomerID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, 1, gw.charges)
	assert.Equal(t, 1, gw.polls)

	_, _, err = svc.ChargeOrder(ctx, ChargeCommand{OrderID: o.ID, CustomerID: "c1", Phone: "+225"})
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestChargeOrderRejected(t *testing.T) {
	ctx := context.Background()
	repo := ordertest.NewMemoryRepository()
	gw := &scriptedGateway{charge: Result{Success: false, Status: StatusFailed, Message: "insufficient funds"}}
	svc := NewService(repo, gw, nil, nil, nil, nil)

	cash := seedOrder(t, repo, order.PaymentCash)
	_, _, err := svc.ChargeOrder(ctx, ChargeCommand{OrderID: cash.ID, CustomerID: "c1", Phone: "+225"})
	assert.ErrorIs(t, err, ErrNotPayable)

	o := seedOrder(t, repo, order.PaymentMobileMoney)
	got, res, err := svc.ChargeOrder(ctx, ChargeCommand{OrderID: o.ID, CustomerID: "c1", Phone: "+225"})
	require.NoError(t, err, "gateway refusal is a result, not an error")
	assert.False(t, res.Success)
	assert.Equal(t, order.PaymentFailed, got.PaymentStatus)

	_, _, err = svc.ChargeOrder(ctx, ChargeCommand{OrderID: "missing", CustomerID: "c1"})
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestChargeOrderNotConfigured(t *testing.T) {
	repo := ordertest.NewMemoryRepository()
	svc := NewService(repo, NewClient(Config{}), nil, nil, nil, nil)
	o := seedOrder(t, repo, order.PaymentMobileMoney)

	_, _, err := svc.ChargeOrder(context.Background(), ChargeCommand{OrderID: o.ID, CustomerID: "c1", Phone: "+225"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestHandleWebhookSignature(t *testing.T) {
	ctx := context.Background()
	repo := ordertest.NewMemoryRepository()
	gw := &scriptedGateway{validSig: "good"}
	svc := NewService(repo, gw, nil, &memGuard{}, nil, nil)
	o := seedOrder(t, repo, order.PaymentMobileMoney)

	body := []byte(`{"event":"payment","order_id":"` + o.ID.String() + `","transaction_id":"tx_7","status":"SUCCESS"}`)
	err := svc.HandleWebhook(ctx, "forged", "0", body)
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	got, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, got.PaymentStatus, "forged callback must not change state")

	require.NoError(t, svc.HandleWebhook(ctx, "good", "0", body))
	got, err = repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	require.NotNil(t, got.PaymentTransactionID)
	assert.Equal(t, "tx_7", *got.PaymentTransactionID)
}

func TestHandleWebhookReplay(t *testing.T) {
	ctx := context.Background()
	repo := ordertest.NewMemoryRepository()
	transfers := &fakeTransfers{}
	svc := NewService(repo, &scriptedGateway{validSig: "sig"}, transfers, &memGuard{}, nil, nil)

	body := []byte(`{"event":"transfer","reference":"payout-d1-o1","transaction_id":"tr_1","status":"completed"}`)
	require.NoError(t, svc.HandleWebhook(ctx, "sig", "0", body))
	require.NoError(t, svc.HandleWebhook(ctx, "sig", "0", body))
	require.Len(t, transfers.events, 1)
	assert.Equal(t, "payout-d1-o1", transfers.events[0].Reference)
	assert.Equal(t, StatusCompleted, transfers.events[0].Status())
}

func TestHandleWebhookFailureReleasesReplayMark(t *testing.T) {
	ctx := context.Background()
	transfers := &fakeTransfers{err: errors.New("db down")}
	svc := NewService(ordertest.NewMemoryRepository(), &scriptedGateway{validSig: "sig"}, transfers, &memGuard{}, nil, nil)

	body := []byte(`{"event":"transfer","reference":"payout-d1-o1","status":"completed"}`)
	require.Error(t, svc.HandleWebhook(ctx, "sig", "0", body))
	transfers.err = nil
	require.NoError(t, svc.HandleWebhook(ctx, "sig", "0", body))
	assert.Len(t, transfers.events, 2)
}

func TestHandleWebhookBadPayload(t *testing.T) {
	ctx := context.Background()
	svc := NewService(ordertest.NewMemoryRepository(), &scriptedGateway{validSig: "sig"}, nil, nil, nil, nil)

	assert.ErrorIs(t, svc.HandleWebhook(ctx, "sig", "0", []byte(`{`)), ErrBadPayload)
	assert.ErrorIs(t, svc.HandleWebhook(ctx, "sig", "0", []byte(`{"event":"refund"}`)), ErrBadPayload)
	assert.ErrorIs(t, svc.HandleWebhook(ctx, "sig", "0", []byte(`{"event":"payment"}`)), ErrBadPayload)
	assert.ErrorIs(t, svc.HandleWebhook(ctx, "sig", "0", []byte(`{"event":"transfer"}`)), ErrBadPayload)
}

func TestConcurrentChargeSendsOneRequest(t *testing.T) {
	ctx := context.Background()
	var posts int32
	var keys sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			atomic.AddInt32(&posts, 1)
			keys.Store(r.Header.Get("X-Idempotency-Key"), true)
			time.Sleep(50 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transaction_id":"tx_once","status":"PENDING"}`))
	}))
	defer srv.Close()

	repo := ordertest.NewMemoryRepository()
	svc := NewService(repo, newTestClient(srv.URL), nil, nil, nil, nil)
	o := seedOrder(t, repo, order.PaymentMobileMoney)

	const callers = 2
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := svc.ChargeOrder(ctx, ChargeCommand{OrderID: o.ID, CustomerID: "c1", Phone: "+2250101010101"})
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrChargeInProgress)
		}
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts), "the customer is charged once")
	_, ok := keys.Load(ChargeKey(o.ID, 0))
	assert.True(t, ok)

	got, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PaymentTransactionID)
	assert.Equal(t, "tx_once", *got.PaymentTransactionID)
}

func TestChargeKeyAdvancesOnlyOnAnswer(t *testing.T) {
	ctx := context.Background()
	repo := ordertest.NewMemoryRepository()
	gw := &scriptedGateway{charge: Result{Status: StatusFailed, Message: "gateway unreachable"}}
	svc := NewService(repo, gw, nil, nil, nil, nil)
	o := seedOrder(t, repo, order.PaymentMobileMoney)
	cmd := ChargeCommand{OrderID: o.ID, CustomerID: "c1", Phone: "+225"}

	_, _, err := svc.ChargeOrder(ctx, cmd)
	require.NoError(t, err)
	_, _, err = svc.ChargeOrder(ctx, cmd)
	require.NoError(t, err)

	gw.charge = Result{Status: StatusFailed, Message: "insufficient funds", Answered: true}
	_, _, err = svc.ChargeOrder(ctx, cmd)
	require.NoError(t, err)
	_, _, err = svc.ChargeOrder(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, []string{
		ChargeKey(o.ID, 0),
		ChargeKey(o.ID, 0),
		ChargeKey(o.ID, 0),
		ChargeKey(o.ID, 1),
	}, gw.keys)
}
