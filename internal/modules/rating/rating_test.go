// README: Rating service tests.
package rating

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursier/internal/modules/order"
	"coursier/internal/modules/order/ordertest"
	"coursier/internal/types"
)

type memRepo struct {
	mu      sync.Mutex
	ratings map[types.ID]DriverRating
}

func (m *memRepo) Create(_ context.Context, r *DriverRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ratings[r.OrderID]; ok {
		return ErrAlreadyRated
	}
	m.ratings[r.OrderID] = *r
	return nil
}

func (m *memRepo) ListByDriver(_ context.Context, driverID types.ID, limit int) ([]DriverRating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DriverRating
	for _, r := range m.ratings {
		if r.DriverID == driverID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type starLog struct {
	mu    sync.Mutex
	stars map[types.ID][]int
}

func (s *starLog) RecordRating(_ context.Context, id types.ID, stars int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stars[id] = append(s.stars[id], stars)
	return nil
}

func seed(t *testing.T, repo *ordertest.MemoryRepository, status order.Status) *order.Order {
	t.Helper()
	d := types.ID("d1")
	o := &order.Order{
		ID:             types.NewID(),
		TrackingNumber: string(types.NewID()),
		CustomerID:     "c1",
		DriverID:       &d,
		Status:         status,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), o))
	return o
}

func TestRate(t *testing.T) {
	ctx := context.Background()
	orders := ordertest.NewMemoryRepository()
	stars := &starLog{stars: map[types.ID][]int{}}
	svc := NewService(&memRepo{ratings: map[types.ID]DriverRating{}}, orders, stars, nil)

	delivered := seed(t, orders, order.StatusDelivered)
	inTransit := seed(t, orders, order.StatusInTransit)

	_, err := svc.Rate(ctx, RateCommand{OrderID: delivered.ID, CustomerID: "c1", Rating: 0})
	assert.ErrorIs(t, err, ErrInvalidStars)
	_, err = svc.Rate(ctx, RateCommand{OrderID: delivered.ID, CustomerID: "c1", Rating: 6})
	assert.ErrorIs(t, err, ErrInvalidStars)
	_, err = svc.Rate(ctx, RateCommand{OrderID: delivered.ID, CustomerID: "c2", Rating: 5})
	assert.ErrorIs(t, err, order.ErrNotOwner)
	_, err = svc.Rate(ctx, RateCommand{OrderID: inTransit.ID, CustomerID: "c1", Rating: 5})
	assert.ErrorIs(t, err, ErrNotDelivered)

	r, err := svc.Rate(ctx, RateCommand{OrderID: delivered.ID, CustomerID: "c1", Rating: 4, Comment: " quick and polite "})
	require.NoError(t, err)
	assert.Equal(t, types.ID("d1"), r.DriverID)
	assert.Equal(t, "quick and polite", r.Comment)

	_, err = svc.Rate(ctx, RateCommand{OrderID: delivered.ID, CustomerID: "c1", Rating: 1})
	assert.ErrorIs(t, err, ErrAlreadyRated)
	assert.Equal(t, []int{4}, stars.stars["d1"], "driver average updated once")

	list, err := svc.ListForDriver(ctx, "d1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
