package stock

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

// Ledger реализует складской леджер поверх StockRepository. Все мутации
// остатка — одиночные условные записи хранилища, сам леджер ничего не
// читает перед изменением.
type Ledger struct {
	stocks domain.StockRepository
	logger *log.Entry
}

// NewLedger создаёт рабочий экземпляр леджера.
func NewLedger(stocks domain.StockRepository, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "stock")
	}
	return &Ledger{stocks: stocks, logger: logger}
}

// Reserve удерживает количество под заказ. Повторный вызов с тем же
// (variantID, orderNumber) возвращает существующий резерв.
func (l *Ledger) Reserve(ctx context.Context, variantID string, qty int32, orderNumber string) (domain.StockReservation, error) {
	if err := ctx.Err(); err != nil {
		return domain.StockReservation{}, err
	}
	if qty <= 0 {
		return domain.StockReservation{}, domain.ErrItemQtyInvalid
	}

	res, err := l.stocks.ReserveStock(variantID, qty, orderNumber)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			l.logger.WithFields(log.Fields{
				"order_number": orderNumber,
				"variant_id":   variantID,
				"qty":          qty,
			}).Info("reserve rejected: insufficient stock")
		}
		return domain.StockReservation{}, err
	}

	l.logger.WithFields(log.Fields{
		"order_number": orderNumber,
		"variant_id":   variantID,
		"qty":          res.Qty,
	}).Info("stock reserved")
	return res, nil
}

// Release снимает резерв и возвращает количество в доступный остаток.
// Отсутствие резерва по ключу — успех: повторная компенсация безопасна.
func (l *Ledger) Release(ctx context.Context, orderNumber, variantID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	qty, err := l.stocks.ReleaseReservation(orderNumber, variantID, reason)
	if err != nil {
		return err
	}
	if qty > 0 {
		l.logger.WithFields(log.Fields{
			"order_number": orderNumber,
			"variant_id":   variantID,
			"qty":          qty,
			"reason":       reason,
		}).Info("stock reservation released")
	}
	return nil
}

// ReleaseAll снимает все резервы заказа. Вход компенсации саги.
func (l *Ledger) ReleaseAll(ctx context.Context, orderNumber, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	reservations, err := l.stocks.ListReservations(orderNumber)
	if err != nil {
		return err
	}
	for _, res := range reservations {
		if res.State != domain.ReservationReserved {
			continue
		}
		if err := l.Release(ctx, orderNumber, res.VariantID, reason); err != nil {
			return err
		}
	}
	return nil
}

// Commit превращает резервы заказа в постоянное списание.
func (l *Ledger) Commit(ctx context.Context, orderNumber string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	committed, err := l.stocks.CommitReservations(orderNumber)
	if err != nil {
		return err
	}
	l.logger.WithFields(log.Fields{
		"order_number": orderNumber,
		"committed":    committed,
	}).Info("stock reservations committed")
	return nil
}

// Restock возвращает списанные количества отменённого заказа в доступный
// остаток. Отсутствие committed-резервов — успех.
func (l *Ledger) Restock(ctx context.Context, orderNumber, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	restocked, err := l.stocks.RestockCommitted(orderNumber, reason)
	if err != nil {
		return err
	}
	if restocked > 0 {
		l.logger.WithFields(log.Fields{
			"order_number": orderNumber,
			"restocked":    restocked,
			"reason":       reason,
		}).Info("committed stock restocked")
	}
	return nil
}

var _ domain.StockService = (*Ledger)(nil)
