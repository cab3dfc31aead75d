package domain

import "time"

// PendingService — целевой сервис отложенного действия. Типизированный
// вариант вместо свободной строки, чтобы диспетчеризация в sweeper была
// исчерпывающей и проверяемой компилятором.
type PendingService string

const (
	PendingServiceStock     PendingService = "stock"
	PendingServicePromotion PendingService = "promotion"
	PendingServiceShipment  PendingService = "shipment"
	PendingServiceCart      PendingService = "cart"
	PendingServiceCatalog   PendingService = "catalog"
)

// ActionKind — вид отложенного действия.
type ActionKind string

const (
	// ActionRelease — снять складской резерв.
	ActionRelease ActionKind = "release"
	// ActionRevoke — откатить использование промокода.
	ActionRevoke ActionKind = "revoke"
	// ActionCancel — отменить доставку.
	ActionCancel ActionKind = "cancel"
	// ActionClear — убрать оформленные позиции из корзины.
	ActionClear ActionKind = "clear"
	// ActionDelete — каскадное удаление сущности в другом сервисе.
	// Целевая операция обязана быть идемпотентной: удаление отсутствующего
	// id считается успехом.
	ActionDelete ActionKind = "delete"
)

// PendingStatus — состояние отложенного действия.
type PendingStatus string

const (
	PendingStatusPending PendingStatus = "pending"
	PendingStatusDone    PendingStatus = "done"
)

// EntityRef адресует сущность, над которой выполняется отложенное действие.
// Заполняются только поля, осмысленные для конкретной пары (service, kind).
type EntityRef struct {
	OrderNumber string
	OrderID     string
	VariantID   string
	PromotionID string
	CustomerID  string
	EntityID    string
}

// PendingAction — durably сохранённый побочный эффект, чей синхронный вызов
// не удался. Sweeper повторяет его до первого успеха; целевые операции
// идемпотентны, поэтому доставка at-least-once безопасна.
type PendingAction struct {
	ID            string
	Service       PendingService
	Kind          ActionKind
	Entity        EntityRef
	Reason        string
	Status        PendingStatus
	Attempts      int32
	CreatedAt     time.Time
	LastAttemptAt time.Time
}

// Validate проверяет согласованность пары (service, kind).
func (a *PendingAction) Validate() []error {
	var errs []error

	switch a.Service {
	case PendingServiceStock:
		if a.Kind != ActionRelease {
			errs = append(errs, ErrPendingKindMismatch)
		}
		if a.Entity.OrderNumber == "" || a.Entity.VariantID == "" {
			errs = append(errs, ErrPendingEntityIncomplete)
		}
	case PendingServicePromotion:
		if a.Kind != ActionRevoke {
			errs = append(errs, ErrPendingKindMismatch)
		}
		if a.Entity.PromotionID == "" || a.Entity.OrderID == "" {
			errs = append(errs, ErrPendingEntityIncomplete)
		}
	case PendingServiceShipment:
		if a.Kind != ActionCancel {
			errs = append(errs, ErrPendingKindMismatch)
		}
		if a.Entity.OrderNumber == "" {
			errs = append(errs, ErrPendingEntityIncomplete)
		}
	case PendingServiceCart:
		if a.Kind != ActionClear {
			errs = append(errs, ErrPendingKindMismatch)
		}
		if a.Entity.CustomerID == "" {
			errs = append(errs, ErrPendingEntityIncomplete)
		}
	case PendingServiceCatalog:
		if a.Kind != ActionDelete {
			errs = append(errs, ErrPendingKindMismatch)
		}
		if a.Entity.EntityID == "" {
			errs = append(errs, ErrPendingEntityIncomplete)
		}
	default:
		errs = append(errs, ErrPendingServiceUnknown)
	}

	return errs
}
