package domain

import "time"

// ReservationState отражает состояние складского резерва под заказ.
type ReservationState string

const (
	// ReservationReserved — количество удержано, но ещё не списано окончательно.
	ReservationReserved ReservationState = "reserved"
	// ReservationCommitted — резерв превращён в постоянное списание (заказ ушёл в доставку).
	ReservationCommitted ReservationState = "committed"
	// ReservationReleased — резерв снят, количество возвращено в доступный остаток.
	ReservationReleased ReservationState = "released"
)

// StockReservation описывает удержание остатка. Бизнес-ключ — пара
// (VariantID, OrderNumber): повторный reserve с тем же ключом обязан вернуть
// существующую запись, а не удержать остаток второй раз.
type StockReservation struct {
	VariantID   string
	OrderNumber string
	Qty         int32
	State       ReservationState
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет, корректно ли заполнены ключевые поля резерва.
func (r *StockReservation) Validate() []error {
	var errs []error

	if r.OrderNumber == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	if r.VariantID == "" {
		errs = append(errs, ErrItemVariantRequired)
	}
	if r.Qty <= 0 {
		errs = append(errs, ErrItemQtyInvalid)
	}

	return errs
}

// StockLevel хранит физический и доступный остаток варианта.
// Инвариант: available = physical - (сумма reserved+committed), available >= 0.
type StockLevel struct {
	VariantID string
	Available int32
	Physical  int32
	UpdatedAt time.Time
}
