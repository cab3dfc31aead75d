package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. ErrOrderExists, если id или номер заняты.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// GetByNumber возвращает заказ по бизнес-номеру или ErrOrderNotFound.
	GetByNumber(orderNumber string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// CountCreatedBetween считает заказы за интервал (для генерации номера дня).
	CountCreatedBetween(from, to time.Time) (int64, error)
}

// StockRepository — хранилище остатков и резервов. Мутации остатка обязаны
// быть одиночными условными записями ("decrement-if-enough"), а не
// read-modify-write: конкурентные резервы одного варианта сериализуются
// на уровне записи.
type StockRepository interface {
	// GetLevel возвращает остаток варианта или ErrVariantNotFound.
	GetLevel(variantID string) (StockLevel, error)
	// UpsertLevel заводит либо обновляет физический остаток варианта.
	UpsertLevel(level StockLevel) error
	// FindReservation возвращает резерв по бизнес-ключу или ErrReservationNotFound.
	FindReservation(variantID, orderNumber string) (StockReservation, error)
	// ReserveStock атомарно уменьшает доступный остаток и создаёт резерв.
	// Нехватка остатка — ErrInsufficientStock без каких-либо изменений.
	ReserveStock(variantID string, qty int32, orderNumber string) (StockReservation, error)
	// ReleaseReservation возвращает qty снятого резерва; 0 — резерва не было.
	ReleaseReservation(orderNumber, variantID, reason string) (int32, error)
	// ListReservations возвращает все резервы заказа.
	ListReservations(orderNumber string) ([]StockReservation, error)
	// CommitReservations переводит резервы заказа в committed, возвращает их число.
	CommitReservations(orderNumber string) (int, error)
	// RestockCommitted переводит committed-резервы заказа в released и
	// возвращает количества в доступный остаток. Сообщает число строк.
	RestockCommitted(orderNumber, reason string) (int, error)
}

// PromotionRepository — хранилище промокодов и фактов их использования.
type PromotionRepository interface {
	// GetByCode возвращает промокод (код нормализуется к верхнему регистру).
	GetByCode(code string) (Promotion, error)
	// Get возвращает промокод по id.
	Get(id string) (Promotion, error)
	// Upsert заводит либо обновляет промокод.
	Upsert(p Promotion) error
	// CountUsageByCustomer считает использования промокода конкретным клиентом.
	CountUsageByCustomer(promotionID, customerID string) (int32, error)
	// RecordUsage — условный "increment-if-under-limit" плюс запись факта
	// использования, уникального по (promotion_id, order_id). Дубликат по
	// заказу — no-op успех; исчерпанный лимит — ErrPromotionExhausted.
	RecordUsage(usage PromotionUsage) error
	// RevokeUsage удаляет факт использования и возвращает счётчик.
	// Сообщает, была ли запись (false — уже откатано).
	RevokeUsage(promotionID, orderID string) (bool, error)
}

// ShipmentRepository — хранилище доставок.
type ShipmentRepository interface {
	// Create сохраняет новую доставку. Номер заказа уникален: повторная
	// вставка для того же заказа — ErrShipmentExists.
	Create(s Shipment) error
	// GetByOrder возвращает доставку заказа или ErrShipmentNotFound.
	GetByOrder(orderNumber string) (Shipment, error)
	// GetByNumber возвращает доставку по её номеру или ErrShipmentNotFound.
	GetByNumber(shipmentNumber string) (Shipment, error)
	// ListByStatus возвращает доставки в указанном статусе (limit <= 0 — все).
	ListByStatus(status ShipmentStatus, limit int) ([]Shipment, error)
	// Claim назначает курьера условным обновлением, защищённым текущим
	// статусом pending. false — доставку уже забрал кто-то другой.
	Claim(shipmentID, shipperID string, at time.Time) (bool, error)
	// UpdateStatus переводит доставку from→to условно. false — статус уже не from.
	UpdateStatus(shipmentID string, from, to ShipmentStatus, reason string) (bool, error)
	// CountCreatedBetween считает доставки за интервал (для номера дня).
	CountCreatedBetween(from, to time.Time) (int64, error)
}

// ShipperRepository — хранилище курьеров.
type ShipperRepository interface {
	// Get возвращает курьера или ErrShipperNotFound.
	Get(id string) (Shipper, error)
	// ListOnline возвращает online-курьеров с производным числом активных доставок.
	ListOnline() ([]Shipper, error)
	// SetStatus обновляет доступность курьера.
	SetStatus(id string, status ShipperStatus) error
	// Upsert заводит либо обновляет курьера.
	Upsert(s Shipper) error
}

// PendingStats — backlog очереди отложенных действий.
type PendingStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// PendingActionRepository — durable очередь отложенных действий.
type PendingActionRepository interface {
	// Enqueue сохраняет действие со статусом pending, присваивая id.
	Enqueue(a PendingAction) (PendingAction, error)
	// ListPending возвращает до limit действий в статусе pending,
	// старые первыми.
	ListPending(limit int) ([]PendingAction, error)
	// MarkAttempt фиксирует неудачную попытку (last_attempt_at, attempts+1).
	MarkAttempt(id string, at time.Time) error
	// Delete удаляет действие после подтверждённого успеха.
	Delete(id string) error
	// Stats возвращает backlog очереди.
	Stats() (PendingStats, error)
}

// SagaStepRepository — журнал завершённых шагов саги (журнал компенсаций).
type SagaStepRepository interface {
	// Record фиксирует шаг; повторная запись того же (orderNumber, step) — no-op.
	Record(rec SagaStepRecord) error
	// List возвращает шаги заказа в порядке выполнения.
	List(orderNumber string) ([]SagaStepRecord, error)
	// Find возвращает запись шага, если он уже выполнен.
	Find(orderNumber string, step SagaStep) (SagaStepRecord, bool, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}
