package domain

import (
	"context"
	"time"
)

// AccountService описывает взаимодействие с сервисом аккаунтов.
type AccountService interface {
	// IsVerified сообщает, подтверждён ли аккаунт клиента.
	IsVerified(ctx context.Context, customerID string) (bool, error)
}

// CartService описывает взаимодействие с сервисом корзины.
type CartService interface {
	// ClearItem убирает один вариант из корзины клиента.
	ClearItem(ctx context.Context, customerID, variantID string) error
	// ClearCart очищает корзину целиком.
	ClearCart(ctx context.Context, customerID string) error
}

// StockService — контракт складского леджера (резерв/снятие/списание).
type StockService interface {
	// Reserve удерживает количество под заказ. Идемпотентен по ключу
	// (variantID, orderNumber): повторный вызов возвращает существующий резерв.
	Reserve(ctx context.Context, variantID string, qty int32, orderNumber string) (StockReservation, error)
	// Release снимает резерв и возвращает количество в доступный остаток.
	// Отсутствие резерва по ключу — успех (безопасно при повторах).
	Release(ctx context.Context, orderNumber, variantID, reason string) error
	// ReleaseAll снимает все резервы заказа (вход компенсации).
	ReleaseAll(ctx context.Context, orderNumber, reason string) error
	// Commit превращает резервы заказа в постоянное списание.
	Commit(ctx context.Context, orderNumber string) error
	// Restock возвращает уже списанные (committed) количества заказа в
	// доступный остаток. Используется при отмене подтверждённого заказа.
	Restock(ctx context.Context, orderNumber, reason string) error
}

// PromotionService — контракт валидатора промокодов.
type PromotionService interface {
	// Validate проверяет применимость промокода и считает скидку.
	Validate(ctx context.Context, req PromotionEligibility) (PromotionValidation, error)
	// RecordUsage фиксирует использование промокода заказом. Условное
	// "increment-if-under-limit": проигравший гонку за последнее использование
	// получает PromotionInvalid(usage-limit-reached).
	RecordUsage(ctx context.Context, promotionID, orderID, customerID string) error
	// RevokeUsage откатывает использование (компенсация). Идемпотентен.
	RevokeUsage(ctx context.Context, promotionID, orderID string) error
}

// ShipmentService — контракт регистратора доставок.
type ShipmentService interface {
	// Create создаёт доставку из снимка заказа. Идемпотентен по номеру заказа.
	Create(ctx context.Context, snapshot OrderSnapshot) (Shipment, error)
	// Cancel отменяет доставку заказа. Уже отменённая — успех.
	Cancel(ctx context.Context, orderNumber, reason string) error
}

// DeleteTarget — обобщённая цель каскадного удаления в другом сервисе.
// Контрактно идемпотентна: удаление отсутствующего id — успех.
type DeleteTarget interface {
	Delete(ctx context.Context, entityID string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
