package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

type sagaStepKey struct {
	orderNumber string
	step        domain.SagaStep
}

type sagaStepRepositoryInMemory struct {
	mu    sync.Mutex
	items map[sagaStepKey]domain.SagaStepRecord
}

// NewSagaStepRepository возвращает in-memory журнал шагов саги.
func NewSagaStepRepository() domain.SagaStepRepository {
	return &sagaStepRepositoryInMemory{
		items: make(map[sagaStepKey]domain.SagaStepRecord),
	}
}

// Record фиксирует шаг; повтор того же (orderNumber, step) — no-op.
func (r *sagaStepRepositoryInMemory) Record(rec domain.SagaStepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sagaStepKey{rec.OrderNumber, rec.Step}
	if _, ok := r.items[key]; ok {
		return nil
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	r.items[key] = rec
	return nil
}

// List возвращает шаги заказа в порядке выполнения.
func (r *sagaStepRepositoryInMemory) List(orderNumber string) ([]domain.SagaStepRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.SagaStepRecord, 0)
	for key, rec := range r.items {
		if key.orderNumber == orderNumber {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

// Find возвращает запись шага, если он уже выполнен.
func (r *sagaStepRepositoryInMemory) Find(orderNumber string, step domain.SagaStep) (domain.SagaStepRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.items[sagaStepKey{orderNumber, step}]
	return rec, ok, nil
}

var _ domain.SagaStepRepository = (*sagaStepRepositoryInMemory)(nil)
