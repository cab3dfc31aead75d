package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в саге размещения.
type OrderStatus string

const (
	// OrderStatusCreating — заказ создан, сага ещё не начала резервирование.
	OrderStatusCreating OrderStatus = "creating"
	// OrderStatusReserving — идёт резервирование складских остатков.
	OrderStatusReserving OrderStatus = "reserving"
	// OrderStatusPromoting — остатки зарезервированы, применяется промокод.
	OrderStatusPromoting OrderStatus = "promoting"
	// OrderStatusShipping — создаётся запись на доставку.
	OrderStatusShipping OrderStatus = "shipping"
	// OrderStatusConfirmed — сага завершена, заказ подтверждён.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusFailed — сага прервана, компенсации выполнены или поставлены в очередь.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusCanceled — подтверждённый заказ отменён постфактум.
	OrderStatusCanceled OrderStatus = "canceled"
)

// PaymentStatus фиксирует состояние оплаты заказа. Сама оплата вне ядра,
// статус хранится только как снимок.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// orderTransitions перечисляет допустимые переходы статусов.
// Статус меняется только вперёд, откатов нет. Заказ без промокода
// минует promoting и шагает из reserving сразу в shipping.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreating:  {OrderStatusReserving, OrderStatusFailed},
	OrderStatusReserving: {OrderStatusPromoting, OrderStatusShipping, OrderStatusFailed},
	OrderStatusPromoting: {OrderStatusShipping, OrderStatusFailed},
	OrderStatusShipping:  {OrderStatusConfirmed, OrderStatusFailed},
	OrderStatusConfirmed: {OrderStatusCanceled},
}

// CanTransitionTo проверяет, допустим ли переход из текущего статуса в next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal сообщает, что статус конечный для саги размещения.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusFailed || s == OrderStatusCanceled
}

// OrderItem представляет одну позицию заказа. Цена и наименование
// денормализуются в момент оформления: изменения каталога не должны
// задним числом менять уже размещённый заказ.
type OrderItem struct {
	ID         string
	VariantID  string
	SKU        string
	Name       string
	Qty        int32
	UnitMinor  int64
	TotalMinor int64
	CreatedAt  time.Time
}

// Order агрегирует состояние заказа, его позиции и денежные суммы.
type Order struct {
	ID            string
	OrderNumber   string
	CustomerID    string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Currency      string
	SubtotalMinor int64
	DiscountMinor int64
	TotalMinor    int64
	PromotionCode string
	FailureReason string
	FailureCode   FailureCode
	Items         []OrderItem
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.OrderNumber == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.DiscountMinor < 0 || o.DiscountMinor > o.SubtotalMinor {
		errs = append(errs, ErrDiscountInvalid)
	}

	// Сверяем подытог с суммой позиций: qty * unit price.
	var calc int64
	for _, item := range o.Items {
		if item.VariantID == "" {
			errs = append(errs, ErrItemVariantRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.UnitMinor
	}
	if calc != o.SubtotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}
	if o.SubtotalMinor-o.DiscountMinor != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// VariantIDs возвращает идентификаторы вариантов всех позиций без дублей.
func (o *Order) VariantIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.VariantID]; ok {
			continue
		}
		seen[item.VariantID] = struct{}{}
		ids = append(ids, item.VariantID)
	}
	return ids
}
