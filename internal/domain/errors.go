package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка отсутствующего номера заказа.
	ErrOrderNumberRequired = errors.New("order_number is required")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отсутствующего идентификатора варианта в позиции.
	ErrItemVariantRequired = errors.New("item variant_id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия сумм заказа.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка некорректной скидки.
	ErrDiscountInvalid = errors.New("discount must be within [0, subtotal]")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists — заказ с таким id или номером уже существует.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrStatusTransition — недопустимый переход статуса заказа.
	ErrStatusTransition = errors.New("order status transition not allowed")

	// ErrInsufficientStock — доступного остатка не хватает под резерв.
	// Состояние не изменено, компенсация не нужна.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrVariantNotFound — остаток варианта не заведён в леджере.
	ErrVariantNotFound = errors.New("variant not found in stock ledger")
	// ErrReservationNotFound — резерв по ключу отсутствует.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrPromotionNotFound — промокод не существует.
	ErrPromotionNotFound = errors.New("promotion not found")
	// ErrPromotionExhausted — условный инкремент не прошёл: глобальный лимит
	// использований уже исчерпан.
	ErrPromotionExhausted = errors.New("promotion usage limit exhausted")

	// ErrAccountNotVerified — аккаунт клиента не подтверждён, заказ запрещён.
	ErrAccountNotVerified = errors.New("account is not verified")

	// ErrShipmentNotFound — запись доставки не найдена.
	ErrShipmentNotFound = errors.New("shipment not found")
	// ErrShipmentExists — для заказа уже существует доставка.
	ErrShipmentExists = errors.New("shipment already exists for order")
	// ErrShipmentNotCancellable — доставка уже в пути или завершена.
	ErrShipmentNotCancellable = errors.New("shipment can no longer be cancelled")
	// ErrShipmentAlreadyClaimed — доставка уже назначена другим путём
	// (планировщик и ручное назначение гоняются через условное обновление).
	ErrShipmentAlreadyClaimed = errors.New("shipment already claimed")
	// ErrShipperNotFound — курьер не найден.
	ErrShipperNotFound = errors.New("shipper not found")
	// ErrShipperUnavailable — курьер не в статусе online.
	ErrShipperUnavailable = errors.New("shipper is not available")

	// ErrDownstreamUnavailable — таймаут или 5xx от смежного сервиса.
	// Срабатывает компенсация; неудавшиеся компенсации уходят в очередь.
	ErrDownstreamUnavailable = errors.New("downstream service unavailable")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки согласованности отложенных действий.
	ErrPendingKindMismatch     = errors.New("pending action kind does not match service")
	ErrPendingEntityIncomplete = errors.New("pending action entity reference is incomplete")
	ErrPendingServiceUnknown   = errors.New("pending action service is unknown")
)

// PromotionInvalidReason — машинно-читаемая причина отклонения промокода.
type PromotionInvalidReason string

const (
	PromotionReasonExpired       PromotionInvalidReason = "expired"
	PromotionReasonNotStarted    PromotionInvalidReason = "not-started"
	PromotionReasonInactive      PromotionInvalidReason = "inactive"
	PromotionReasonUsageLimit    PromotionInvalidReason = "usage-limit-reached"
	PromotionReasonCustomerLimit PromotionInvalidReason = "customer-limit-reached"
	PromotionReasonBelowMinimum  PromotionInvalidReason = "below-minimum"
	PromotionReasonNotApplicable PromotionInvalidReason = "not-applicable"
	PromotionReasonNotFound      PromotionInvalidReason = "not-found"
)

// PromotionInvalidError — отклонение промокода с причиной. Валидационная
// ошибка: состояние не изменено, компенсация не требуется.
type PromotionInvalidError struct {
	Code   string
	Reason PromotionInvalidReason
}

func (e *PromotionInvalidError) Error() string {
	return fmt.Sprintf("promotion %q invalid: %s", e.Code, e.Reason)
}

// NewPromotionInvalid создаёт ошибку отклонения промокода.
func NewPromotionInvalid(code string, reason PromotionInvalidReason) error {
	return &PromotionInvalidError{Code: code, Reason: reason}
}

// IsPromotionInvalid извлекает причину отклонения промокода, если ошибка о нём.
func IsPromotionInvalid(err error) (PromotionInvalidReason, bool) {
	var pe *PromotionInvalidError
	if errors.As(err, &pe) {
		return pe.Reason, true
	}
	return "", false
}

// FailureCode — машинно-читаемый класс причины провала саги. Хранится в
// заказе рядом с текстовой причиной, чтобы повтор размещения возвращал
// ошибку исходного класса, а не просто текст.
type FailureCode string

const (
	FailureCodeNone               FailureCode = ""
	FailureCodeInsufficientStock  FailureCode = "insufficient_stock"
	FailureCodeVariantNotFound    FailureCode = "variant_not_found"
	FailureCodePromotionInvalid   FailureCode = "promotion_invalid"
	FailureCodeAccountNotVerified FailureCode = "account_not_verified"
	FailureCodeDownstream         FailureCode = "downstream_unavailable"
)

// ClassifyFailure сводит ошибку к коду класса. Для отклонённого промокода
// причина кодируется внутри кода через двоеточие.
func ClassifyFailure(err error) FailureCode {
	if reason, ok := IsPromotionInvalid(err); ok {
		return FailureCode(string(FailureCodePromotionInvalid) + ":" + string(reason))
	}
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return FailureCodeInsufficientStock
	case errors.Is(err, ErrVariantNotFound):
		return FailureCodeVariantNotFound
	case errors.Is(err, ErrAccountNotVerified):
		return FailureCodeAccountNotVerified
	case errors.Is(err, ErrDownstreamUnavailable):
		return FailureCodeDownstream
	}
	return FailureCodeNone
}

// recordedFailure несёт записанный текст причины, сохраняя errors.Is по
// классу исходной ошибки.
type recordedFailure struct {
	msg   string
	class error
}

func (e *recordedFailure) Error() string { return e.msg }
func (e *recordedFailure) Unwrap() error { return e.class }

// FailureError восстанавливает типизированную ошибку из кода класса и
// записанной причины. Неизвестный код вырождается в нетипизированную ошибку.
func FailureError(code FailureCode, promotionCode, reason string) error {
	if reason == "" {
		reason = "order placement failed"
	}
	if kind, detail, ok := strings.Cut(string(code), ":"); ok && FailureCode(kind) == FailureCodePromotionInvalid {
		return NewPromotionInvalid(promotionCode, PromotionInvalidReason(detail))
	}
	switch code {
	case FailureCodeInsufficientStock:
		return &recordedFailure{msg: reason, class: ErrInsufficientStock}
	case FailureCodeVariantNotFound:
		return &recordedFailure{msg: reason, class: ErrVariantNotFound}
	case FailureCodeAccountNotVerified:
		return &recordedFailure{msg: reason, class: ErrAccountNotVerified}
	case FailureCodeDownstream:
		return &recordedFailure{msg: reason, class: ErrDownstreamUnavailable}
	}
	return errors.New(reason)
}

// IsValidationFailure сообщает, что ошибка — синхронный отказ проверки,
// не изменивший состояние: компенсация не требуется.
func IsValidationFailure(err error) bool {
	if _, ok := IsPromotionInvalid(err); ok {
		return true
	}
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAccountNotVerified) ||
		errors.Is(err, ErrVariantNotFound) ||
		errors.Is(err, ErrPromotionNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
