package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

type usageKey struct {
	promotionID string
	orderID     string
}

// promotionRepositoryInMemory повторяет условный "increment-if-under-limit"
// на мьютексе: проверка лимита и инкремент счётчика атомарны.
type promotionRepositoryInMemory struct {
	mu     sync.Mutex
	byID   map[string]domain.Promotion
	byCode map[string]string
	usages map[usageKey]domain.PromotionUsage
}

// NewPromotionRepository возвращает in-memory реализацию PromotionRepository.
func NewPromotionRepository() domain.PromotionRepository {
	return &promotionRepositoryInMemory{
		byID:   make(map[string]domain.Promotion),
		byCode: make(map[string]string),
		usages: make(map[usageKey]domain.PromotionUsage),
	}
}

// GetByCode возвращает промокод; код нормализуется к верхнему регистру.
func (r *promotionRepositoryInMemory) GetByCode(code string) (domain.Promotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return domain.Promotion{}, domain.ErrPromotionNotFound
	}
	return r.byID[id], nil
}

// Get возвращает промокод по id.
func (r *promotionRepositoryInMemory) Get(id string) (domain.Promotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return domain.Promotion{}, domain.ErrPromotionNotFound
	}
	return p, nil
}

// Upsert заводит либо обновляет промокод.
func (r *promotionRepositoryInMemory) Upsert(p domain.Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	p.UpdatedAt = time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	r.byID[p.ID] = p
	r.byCode[p.Code] = p.ID
	return nil
}

// CountUsageByCustomer считает использования промокода конкретным клиентом.
func (r *promotionRepositoryInMemory) CountUsageByCustomer(promotionID, customerID string) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int32
	for key, usage := range r.usages {
		if key.promotionID == promotionID && usage.CustomerID == customerID {
			count++
		}
	}
	return count, nil
}

// RecordUsage атомарно проверяет лимит, увеличивает счётчик и пишет факт
// использования. Дубликат по (promotion_id, order_id) — успех без изменений.
func (r *promotionRepositoryInMemory) RecordUsage(usage domain.PromotionUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := usageKey{usage.PromotionID, usage.OrderID}
	if _, ok := r.usages[key]; ok {
		return nil
	}

	p, ok := r.byID[usage.PromotionID]
	if !ok {
		return domain.ErrPromotionNotFound
	}
	if p.UsageLimitReached() {
		return domain.ErrPromotionExhausted
	}

	now := time.Now().UTC()
	p.UsageCount++
	p.UpdatedAt = now
	r.byID[p.ID] = p

	usage.CreatedAt = now
	r.usages[key] = usage
	return nil
}

// RevokeUsage удаляет факт использования и возвращает счётчик.
// false — записи не было, откат уже выполнен ранее.
func (r *promotionRepositoryInMemory) RevokeUsage(promotionID, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := usageKey{promotionID, orderID}
	if _, ok := r.usages[key]; !ok {
		return false, nil
	}
	delete(r.usages, key)

	p, ok := r.byID[promotionID]
	if ok && p.UsageCount > 0 {
		p.UsageCount--
		p.UpdatedAt = time.Now().UTC()
		r.byID[promotionID] = p
	}
	return true, nil
}

var _ domain.PromotionRepository = (*promotionRepositoryInMemory)(nil)
