package domain

import "time"

// SagaStep — маркер шага саги размещения. Журнал выполненных шагов служит
// журналом компенсаций: при провале компенсируются только шаги, для которых
// есть запись, в обратном порядке.
type SagaStep string

const (
	SagaStepReserve   SagaStep = "reserve"
	SagaStepPromote   SagaStep = "promote"
	SagaStepShip      SagaStep = "ship"
	SagaStepClearCart SagaStep = "clear_cart"
	SagaStepConfirm   SagaStep = "confirm"
)

// SagaStepRecord фиксирует завершённый шаг саги для конкретного заказа.
// Ключ — (OrderNumber, Step): повтор саги с тем же номером заказа видит
// уже выполненные шаги и не применяет их эффекты второй раз.
type SagaStepRecord struct {
	OrderNumber string
	Step        SagaStep
	// Detail хранит контекст, нужный для компенсации шага
	// (например id промокода для revoke).
	Detail     string
	OccurredAt time.Time
}
