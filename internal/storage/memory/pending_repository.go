package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

type pendingActionRepositoryInMemory struct {
	mu    sync.Mutex
	items map[string]domain.PendingAction
}

// NewPendingActionRepository возвращает in-memory реализацию PendingActionRepository.
func NewPendingActionRepository() domain.PendingActionRepository {
	return &pendingActionRepositoryInMemory{
		items: make(map[string]domain.PendingAction),
	}
}

// Enqueue сохраняет действие со статусом pending, присваивая id.
func (r *pendingActionRepositoryInMemory) Enqueue(a domain.PendingAction) (domain.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = domain.PendingStatusPending
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	r.items[a.ID] = a
	return a, nil
}

// ListPending возвращает до limit действий, старые первыми.
func (r *pendingActionRepositoryInMemory) ListPending(limit int) ([]domain.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.PendingAction, 0)
	for _, a := range r.items {
		if a.Status == domain.PendingStatusPending {
			result = append(result, a)
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

// MarkAttempt фиксирует неудачную попытку выполнения.
func (r *pendingActionRepositoryInMemory) MarkAttempt(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return nil
	}
	a.Attempts++
	a.LastAttemptAt = at
	r.items[id] = a
	return nil
}

// Delete удаляет действие после подтверждённого успеха.
func (r *pendingActionRepositoryInMemory) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, id)
	return nil
}

// Stats возвращает backlog очереди.
func (r *pendingActionRepositoryInMemory) Stats() (domain.PendingStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := domain.PendingStats{}
	for _, a := range r.items {
		if a.Status != domain.PendingStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || a.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = a.CreatedAt
		}
	}
	return stats, nil
}

var _ domain.PendingActionRepository = (*pendingActionRepositoryInMemory)(nil)
