package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

// shipmentRepositoryInMemory хранит доставки с уникальностью по номеру заказа
// и реализует условные переходы статуса под одной блокировкой, как это делает
// SQL "UPDATE ... WHERE status = $from".
type shipmentRepositoryInMemory struct {
	mu       sync.Mutex
	items    map[string]domain.Shipment
	byOrder  map[string]string
	byNumber map[string]string
}

// NewShipmentRepository возвращает in-memory реализацию ShipmentRepository.
func NewShipmentRepository() domain.ShipmentRepository {
	return &shipmentRepositoryInMemory{
		items:    make(map[string]domain.Shipment),
		byOrder:  make(map[string]string),
		byNumber: make(map[string]string),
	}
}

// Create сохраняет доставку. Повторная вставка для того же заказа — ErrShipmentExists.
func (r *shipmentRepositoryInMemory) Create(s domain.Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byOrder[s.OrderNumber]; ok {
		return domain.ErrShipmentExists
	}
	if _, ok := r.items[s.ID]; ok {
		return domain.ErrShipmentExists
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	r.items[s.ID] = s
	r.byOrder[s.OrderNumber] = s.ID
	r.byNumber[s.ShipmentNumber] = s.ID
	return nil
}

// GetByOrder возвращает доставку заказа.
func (r *shipmentRepositoryInMemory) GetByOrder(orderNumber string) (domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byOrder[orderNumber]
	if !ok {
		return domain.Shipment{}, domain.ErrShipmentNotFound
	}
	return copyShipment(r.items[id]), nil
}

// GetByNumber возвращает доставку по её номеру.
func (r *shipmentRepositoryInMemory) GetByNumber(shipmentNumber string) (domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byNumber[shipmentNumber]
	if !ok {
		return domain.Shipment{}, domain.ErrShipmentNotFound
	}
	return copyShipment(r.items[id]), nil
}

// ListByStatus возвращает доставки в статусе, старые первыми.
func (r *shipmentRepositoryInMemory) ListByStatus(status domain.ShipmentStatus, limit int) ([]domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.Shipment, 0)
	for _, s := range r.items {
		if s.Status == status {
			result = append(result, copyShipment(s))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Claim назначает курьера, только если доставка всё ещё в статусе pending.
func (r *shipmentRepositoryInMemory) Claim(shipmentID, shipperID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[shipmentID]
	if !ok {
		return false, domain.ErrShipmentNotFound
	}
	if s.Status != domain.ShipmentPending {
		return false, nil
	}

	s.Status = domain.ShipmentAssigned
	s.ShipperID = shipperID
	s.AssignedAt = at
	s.UpdatedAt = time.Now().UTC()
	r.items[shipmentID] = s
	return true, nil
}

// UpdateStatus переводит доставку from→to условно.
func (r *shipmentRepositoryInMemory) UpdateStatus(shipmentID string, from, to domain.ShipmentStatus, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[shipmentID]
	if !ok {
		return false, domain.ErrShipmentNotFound
	}
	if s.Status != from {
		return false, nil
	}

	s.Status = to
	if reason != "" {
		s.Reason = reason
	}
	s.UpdatedAt = time.Now().UTC()
	r.items[shipmentID] = s
	return true, nil
}

// CountCreatedBetween считает доставки за интервал [from, to).
func (r *shipmentRepositoryInMemory) CountCreatedBetween(from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, s := range r.items {
		if !s.CreatedAt.Before(from) && s.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

func copyShipment(s domain.Shipment) domain.Shipment {
	out := s
	out.Items = append([]domain.ShipmentItem(nil), s.Items...)
	return out
}

var _ domain.ShipmentRepository = (*shipmentRepositoryInMemory)(nil)
