package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

// reservationKey — бизнес-ключ резерва.
type reservationKey struct {
	variantID   string
	orderNumber string
}

// stockRepositoryInMemory повторяет семантику условных SQL-записей на мьютексе:
// проверка и мутация остатка выполняются под одной блокировкой.
type stockRepositoryInMemory struct {
	mu           sync.Mutex
	levels       map[string]domain.StockLevel
	reservations map[reservationKey]domain.StockReservation
}

// NewStockRepository возвращает in-memory реализацию StockRepository.
func NewStockRepository() domain.StockRepository {
	return &stockRepositoryInMemory{
		levels:       make(map[string]domain.StockLevel),
		reservations: make(map[reservationKey]domain.StockReservation),
	}
}

// GetLevel возвращает остаток варианта.
func (r *stockRepositoryInMemory) GetLevel(variantID string) (domain.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	level, ok := r.levels[variantID]
	if !ok {
		return domain.StockLevel{}, domain.ErrVariantNotFound
	}
	return level, nil
}

// UpsertLevel заводит либо обновляет остаток варианта.
func (r *stockRepositoryInMemory) UpsertLevel(level domain.StockLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	level.UpdatedAt = time.Now().UTC()
	r.levels[level.VariantID] = level
	return nil
}

// FindReservation возвращает резерв по бизнес-ключу.
func (r *stockRepositoryInMemory) FindReservation(variantID, orderNumber string) (domain.StockReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[reservationKey{variantID, orderNumber}]
	if !ok {
		return domain.StockReservation{}, domain.ErrReservationNotFound
	}
	return res, nil
}

// ReserveStock выполняет "decrement-if-enough" и создаёт резерв атомарно.
// Существующий резерв по ключу возвращается как есть: повторный вызов
// не удерживает остаток второй раз.
func (r *stockRepositoryInMemory) ReserveStock(variantID string, qty int32, orderNumber string) (domain.StockReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := reservationKey{variantID, orderNumber}
	if existing, ok := r.reservations[key]; ok {
		return existing, nil
	}

	level, ok := r.levels[variantID]
	if !ok {
		return domain.StockReservation{}, domain.ErrVariantNotFound
	}
	if level.Available < qty {
		return domain.StockReservation{}, domain.ErrInsufficientStock
	}

	now := time.Now().UTC()
	level.Available -= qty
	level.UpdatedAt = now
	r.levels[variantID] = level

	res := domain.StockReservation{
		VariantID:   variantID,
		OrderNumber: orderNumber,
		Qty:         qty,
		State:       domain.ReservationReserved,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.reservations[key] = res
	return res, nil
}

// ReleaseReservation снимает резерв и возвращает количество в доступный остаток.
func (r *stockRepositoryInMemory) ReleaseReservation(orderNumber, variantID, reason string) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := reservationKey{variantID, orderNumber}
	res, ok := r.reservations[key]
	if !ok || res.State != domain.ReservationReserved {
		return 0, nil
	}

	now := time.Now().UTC()
	level := r.levels[variantID]
	level.Available += res.Qty
	level.UpdatedAt = now
	r.levels[variantID] = level

	res.State = domain.ReservationReleased
	res.Reason = reason
	res.UpdatedAt = now
	r.reservations[key] = res
	return res.Qty, nil
}

// ListReservations возвращает все резервы заказа.
func (r *stockRepositoryInMemory) ListReservations(orderNumber string) ([]domain.StockReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.StockReservation, 0)
	for key, res := range r.reservations {
		if key.orderNumber == orderNumber {
			result = append(result, res)
		}
	}
	return result, nil
}

// CommitReservations переводит резервы заказа в committed.
func (r *stockRepositoryInMemory) CommitReservations(orderNumber string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	committed := 0
	for key, res := range r.reservations {
		if key.orderNumber != orderNumber || res.State != domain.ReservationReserved {
			continue
		}
		res.State = domain.ReservationCommitted
		res.UpdatedAt = now
		r.reservations[key] = res
		committed++
	}
	return committed, nil
}

// RestockCommitted переводит committed-резервы заказа в released и
// возвращает удержанные количества в доступный остаток.
func (r *stockRepositoryInMemory) RestockCommitted(orderNumber, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	restocked := 0
	for key, res := range r.reservations {
		if key.orderNumber != orderNumber || res.State != domain.ReservationCommitted {
			continue
		}

		level := r.levels[res.VariantID]
		level.Available += res.Qty
		level.UpdatedAt = now
		r.levels[res.VariantID] = level

		res.State = domain.ReservationReleased
		res.Reason = reason
		res.UpdatedAt = now
		r.reservations[key] = res
		restocked++
	}
	return restocked, nil
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
