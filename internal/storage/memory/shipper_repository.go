package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

type shipperRepositoryInMemory struct {
	mu        sync.Mutex
	items     map[string]domain.Shipper
	shipments domain.ShipmentRepository
}

// NewShipperRepository возвращает in-memory реализацию ShipperRepository.
// Счётчик активных доставок считается по переданному хранилищу доставок.
func NewShipperRepository(shipments domain.ShipmentRepository) domain.ShipperRepository {
	return &shipperRepositoryInMemory{
		items:     make(map[string]domain.Shipper),
		shipments: shipments,
	}
}

// Get возвращает курьера с актуальным счётчиком активных доставок.
func (r *shipperRepositoryInMemory) Get(id string) (domain.Shipper, error) {
	r.mu.Lock()
	s, ok := r.items[id]
	r.mu.Unlock()
	if !ok {
		return domain.Shipper{}, domain.ErrShipperNotFound
	}

	counts, err := r.activeCounts()
	if err != nil {
		return domain.Shipper{}, err
	}
	s.ActiveCount = counts[id]
	return s, nil
}

// ListOnline возвращает online-курьеров, отсортированных по id.
func (r *shipperRepositoryInMemory) ListOnline() ([]domain.Shipper, error) {
	counts, err := r.activeCounts()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.Shipper, 0)
	for _, s := range r.items {
		if s.Status != domain.ShipperOnline {
			continue
		}
		s.ActiveCount = counts[s.ID]
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SetStatus обновляет доступность курьера.
func (r *shipperRepositoryInMemory) SetStatus(id string, status domain.ShipperStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[id]
	if !ok {
		return domain.ErrShipperNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	r.items[id] = s
	return nil
}

// Upsert заводит либо обновляет курьера.
func (r *shipperRepositoryInMemory) Upsert(s domain.Shipper) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.UpdatedAt = time.Now().UTC()
	r.items[s.ID] = s
	return nil
}

// activeCounts считает назначенные и везомые доставки по курьерам.
func (r *shipperRepositoryInMemory) activeCounts() (map[string]int32, error) {
	counts := make(map[string]int32)
	for _, status := range []domain.ShipmentStatus{domain.ShipmentAssigned, domain.ShipmentShipping} {
		list, err := r.shipments.ListByStatus(status, 0)
		if err != nil {
			return nil, err
		}
		for _, s := range list {
			if s.ShipperID != "" {
				counts[s.ShipperID]++
			}
		}
	}
	return counts, nil
}

var _ domain.ShipperRepository = (*shipperRepositoryInMemory)(nil)
