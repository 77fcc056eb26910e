// README: In-memory settlement repository shared by tests across packages.
package settlementtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"coursier/internal/modules/settlement"
	"coursier/internal/types"
)

// MemoryRepository implements settlement.Repository in memory.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[types.ID]*settlement.Settlement
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[types.ID]*settlement.Settlement{}}
}

func (m *MemoryRepository) Create(_ context.Context, st *settlement.Settlement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[st.OrderID]; ok {
		return false, nil
	}
	cp := *st
	m.rows[st.OrderID] = &cp
	return true, nil
}

func (m *MemoryRepository) GetByOrder(_ context.Context, orderID types.ID) (*settlement.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[orderID]
	if !ok {
		return nil, settlement.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryRepository) GetByReference(_ context.Context, ref string) (*settlement.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.rows {
		if st.PayoutReference == ref {
			cp := *st
			return &cp, nil
		}
	}
	return nil, settlement.ErrNotFound
}

func (m *MemoryRepository) ClaimAttempt(_ context.Context, orderID types.ID, attempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[orderID]
	if !ok || st.PayoutAttempts != attempts || st.PayoutStatus == settlement.PayoutCompleted {
		return false, nil
	}
	st.PayoutAttempts++
	st.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryRepository) RecordPayout(_ context.Context, orderID types.ID, u settlement.PayoutUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[orderID]
	if !ok || st.PayoutStatus == settlement.PayoutCompleted {
		return false, nil
	}
	st.PayoutStatus = u.Status
	if u.TransactionID != "" {
		tx := u.TransactionID
		st.PayoutTransactionID = &tx
	}
	if u.Fee != nil {
		st.PayoutFee = *u.Fee
	}
	if u.Net != nil {
		st.PayoutNet = *u.Net
	}
	st.LastError = nil
	if u.Error != "" {
		e := u.Error
		st.LastError = &e
	}
	st.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryRepository) ListByPayoutStatus(_ context.Context, status settlement.PayoutStatus, limit int) ([]*settlement.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*settlement.Settlement
	for _, st := range m.rows {
		if status == "" || st.PayoutStatus == status {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListForReconcile(_ context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]*settlement.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*settlement.Settlement
	for _, st := range m.rows {
		awaiting := st.PayoutStatus == settlement.PayoutPending && st.PayoutTransactionID != nil
		retryable := st.PayoutStatus != settlement.PayoutCompleted && st.PayoutAttempts < maxAttempts && st.UpdatedAt.Before(staleBefore)
		if awaiting || retryable {
			cp := *st
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Age makes a settlement look stale to the reconciler.
func (m *MemoryRepository) Age(orderID types.ID, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[orderID].UpdatedAt = time.Now().Add(-d)
}

