package domain

import "time"

// ShipmentStatus описывает жизненный цикл записи на доставку.
type ShipmentStatus string

const (
	// ShipmentPending — запись создана, курьер ещё не назначен.
	ShipmentPending ShipmentStatus = "pending"
	// ShipmentAssigned — курьер назначен (планировщиком или вручную).
	ShipmentAssigned ShipmentStatus = "assigned"
	// ShipmentShipping — курьер забрал заказ.
	ShipmentShipping ShipmentStatus = "shipping"
	// ShipmentDelivered — заказ доставлен.
	ShipmentDelivered ShipmentStatus = "delivered"
	// ShipmentCanceled — доставка отменена (компенсация или решение персонала).
	ShipmentCanceled ShipmentStatus = "canceled"
)

// Cancellable сообщает, можно ли ещё отменить доставку в этом статусе.
func (s ShipmentStatus) Cancellable() bool {
	return s == ShipmentPending || s == ShipmentAssigned
}

// ShipmentItem — позиция доставки, снимок позиции заказа на момент оформления.
type ShipmentItem struct {
	VariantID string
	SKU       string
	Name      string
	Qty       int32
	UnitMinor int64
}

// Shipment описывает доставку одного заказа. Бизнес-ключ — OrderNumber:
// повторное создание для того же заказа возвращает существующую запись.
type Shipment struct {
	ID             string
	ShipmentNumber string
	OrderNumber    string
	CustomerID     string
	Status         ShipmentStatus
	ShipperID      string
	Reason         string
	Items          []ShipmentItem
	AssignedAt     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderSnapshot — денормализованные данные заказа, из которых создаётся
// доставка. Снимок не зависит от последующих изменений каталога.
type OrderSnapshot struct {
	OrderNumber string
	CustomerID  string
	TotalMinor  int64
	Items       []ShipmentItem
}

// ShipperStatus описывает доступность курьера.
type ShipperStatus string

const (
	// ShipperOnline — курьер доступен для назначения.
	ShipperOnline ShipperStatus = "online"
	// ShipperShipping — курьер загружен до лимита активных доставок.
	ShipperShipping ShipperStatus = "shipping"
	// ShipperOffline — курьер недоступен.
	ShipperOffline ShipperStatus = "offline"
)

// Shipper — курьер с производным счётчиком активных доставок.
type Shipper struct {
	ID          string
	Name        string
	Status      ShipperStatus
	ActiveCount int32
	UpdatedAt   time.Time
}
