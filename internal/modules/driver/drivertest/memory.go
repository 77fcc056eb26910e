// README: In-memory driver repository shared by tests across packages.
package drivertest

import (
	"context"
	"sync"
	"time"

	"coursier/internal/modules/driver"
	"coursier/internal/types"
)

// MemoryRepository implements driver.Repository in memory.
type MemoryRepository struct {
	mu      sync.Mutex
	drivers map[types.ID]*driver.Driver
}

// NewMemoryRepository returns an empty driver repository guarded by a mutex.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{drivers: map[types.ID]*driver.Driver{}}
}

func (m *MemoryRepository) Create(_ context.Context, d *driver.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.drivers {
		if existing.UserID == d.UserID {
			return driver.ErrAlreadyApplied
		}
	}
	cp := *d
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id types.ID) (*driver.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, driver.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryRepository) GetByUser(_ context.Context, userID types.ID) (*driver.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drivers {
		if d.UserID == userID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, driver.ErrNotFound
}

func (m *MemoryRepository) List(_ context.Context, status driver.Status, limit int) ([]*driver.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*driver.Driver
	for _, d := range m.drivers {
		if status != "" && d.Status != status {
			continue
		}
		cp := *d
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, id types.ID, from, to driver.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	if to != driver.StatusApproved {
		d.IsOnline = false
	}
	return true, nil
}

func (m *MemoryRepository) UpdateDocuments(_ context.Context, id types.ID, docs driver.Documents) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return driver.ErrNotFound
	}
	d.Documents = docs
	return nil
}

func (m *MemoryRepository) SetOnline(_ context.Context, id types.ID, online bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok || (online && d.Status != driver.StatusApproved) {
		return false, nil
	}
	d.IsOnline = online
	return true, nil
}

func (m *MemoryRepository) MarkUpgradeRequested(_ context.Context, id types.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.drivers[id]; ok {
		d.UpgradeRequestedAt = &at
	}
	return nil
}

func (m *MemoryRepository) SetEquipment(_ context.Context, id types.ID, gps, insurance, uniform bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return driver.ErrNotFound
	}
	d.HasGpsEquipment, d.HasInsurance, d.HasUniform = gps, insurance, uniform
	return nil
}

func (m *MemoryRepository) AddRating(_ context.Context, id types.ID, stars int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.drivers[id]; ok {
		d.RatingTotal += int64(stars)
		d.RatingCount++
	}
	return nil
}

func (m *MemoryRepository) IncrementDeliveries(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.drivers[id]; ok {
		d.DeliveriesCount++
	}
	return nil
}

