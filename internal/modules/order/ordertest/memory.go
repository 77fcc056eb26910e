// README: In-memory order repository for tests; the mutex stands in for the guarded UPDATEs.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"coursier/internal/modules/order"
	"coursier/internal/types"
)

type MemoryRepository struct {
	mu      sync.Mutex
	orders  map[types.ID]*order.Order
	history []order.HistoryEntry
	nextID  int64

	claims   map[types.ID]time.Time
	attempts map[types.ID]int

	// HistoryErr, when set, is returned by AppendHistory.
	HistoryErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:   map[types.ID]*order.Order{},
		claims:   map[types.ID]time.Time{},
		attempts: map[types.ID]int{},
	}
}

func (m *MemoryRepository) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.TrackingNumber == o.TrackingNumber {
			return order.ErrTrackingTaken
		}
	}
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id types.ID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return clone(o), nil
}

func (m *MemoryRepository) GetByTracking(_ context.Context, tracking string) (*order.Order, error) {
	return m.find(func(o *order.Order) bool { return o.TrackingNumber == tracking })
}

func (m *MemoryRepository) GetByPaymentTransaction(_ context.Context, txID string) (*order.Order, error) {
	return m.find(func(o *order.Order) bool {
		return o.PaymentTransactionID != nil && *o.PaymentTransactionID == txID
	})
}

func (m *MemoryRepository) TryAssignDriver(_ context.Context, id, driverID types.ID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != order.StatusPending || o.DriverID != nil {
		return false, nil
	}
	d := driverID
	o.DriverID = &d
	o.Status = order.StatusAccepted
	o.AcceptedAt = &at
	return true, nil
}

func (m *MemoryRepository) TryAdvanceStatus(_ context.Context, id, driverID types.ID, from, to order.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from || !o.AssignedTo(driverID) {
		return false, nil
	}
	o.Status = to
	switch to {
	case order.StatusPickedUp:
		o.PickedUpAt = &at
	case order.StatusInTransit:
		o.InTransitAt = &at
	case order.StatusDelivered:
		o.DeliveredAt = &at
	}
	return true, nil
}

func (m *MemoryRepository) TryCancel(_ context.Context, id, customerID types.ID, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.CustomerID != customerID || o.Status != order.StatusPending || o.DriverID != nil {
		return false, nil
	}
	o.Status = order.StatusCancelled
	o.CancelledAt = &at
	if reason != "" {
		o.CancelReason = &reason
	}
	return true, nil
}

func (m *MemoryRepository) UpdatePayment(_ context.Context, id types.ID, status order.PaymentStatus, txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentStatus == order.PaymentPaid {
		return false, nil
	}
	o.PaymentStatus = status
	if txID != "" {
		o.PaymentTransactionID = &txID
	}
	return true, nil
}

func (m *MemoryRepository) ClaimCharge(_ context.Context, id types.ID, at, staleBefore time.Time) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentStatus == order.PaymentPaid {
		return 0, false, nil
	}
	if o.PaymentStatus == order.PaymentPending && o.PaymentTransactionID != nil {
		return 0, false, nil
	}
	if held, ok := m.claims[id]; ok && !held.Before(staleBefore) {
		return 0, false, nil
	}
	m.claims[id] = at
	return m.attempts[id], true, nil
}

func (m *MemoryRepository) ReleaseCharge(_ context.Context, id types.ID, consumed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, id)
	if consumed {
		m.attempts[id]++
	}
	return nil
}

func (m *MemoryRepository) AppendHistory(_ context.Context, e *order.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HistoryErr != nil {
		return m.HistoryErr
	}
	m.nextID++
	e.ID = m.nextID
	m.history = append(m.history, *e)
	return nil
}

func (m *MemoryRepository) ListHistory(_ context.Context, orderID types.ID) ([]order.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.HistoryEntry
	for _, e := range m.history {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryRepository) ListByStatus(_ context.Context, status order.Status, limit int) ([]*order.Order, error) {
	return m.list(limit, false, func(o *order.Order) bool { return o.Status == status })
}

func (m *MemoryRepository) ListByCustomer(_ context.Context, customerID types.ID, limit int) ([]*order.Order, error) {
	return m.list(limit, true, func(o *order.Order) bool { return o.CustomerID == customerID })
}

func (m *MemoryRepository) ListByDriver(_ context.Context, driverID types.ID, limit int) ([]*order.Order, error) {
	return m.list(limit, true, func(o *order.Order) bool { return o.AssignedTo(driverID) })
}

func (m *MemoryRepository) find(match func(*order.Order) bool) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if match(o) {
			return clone(o), nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *MemoryRepository) list(limit int, newestFirst bool, match func(*order.Order) bool) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*order.Order
	for _, o := range m.orders {
		if match(o) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(o *order.Order) *order.Order {
	cp := *o
	if o.DriverID != nil {
		d := *o.DriverID
		cp.DriverID = &d
	}
	if o.PaymentTransactionID != nil {
		tx := *o.PaymentTransactionID
		cp.PaymentTransactionID = &tx
	}
	return &cp
}
