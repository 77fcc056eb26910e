// README: Joins the in-memory order and settlement repositories for the reconciler sweep.
package settlementtest

import (
	"context"
	"errors"

	"coursier/internal/modules/order"
	"coursier/internal/modules/order/ordertest"
	"coursier/internal/modules/settlement"
)

type Unsettled struct {
	Orders      *ordertest.MemoryRepository
	Settlements *MemoryRepository
}

func (u Unsettled) ListUnsettled(ctx context.Context, limit int) ([]*order.Order, error) {
	delivered, err := u.Orders.ListByStatus(ctx, order.StatusDelivered, 0)
	if err != nil {
		return nil, err
	}
	var out []*order.Order
	for _, o := range delivered {
		_, err := u.Settlements.GetByOrder(ctx, o.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, settlement.ErrNotFound) {
			return nil, err
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
