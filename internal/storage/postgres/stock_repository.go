package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
// Все мутации остатка — одиночные условные UPDATE, без read-modify-write.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func (r *stockRepository) GetLevel(variantID string) (domain.StockLevel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var level domain.StockLevel
	err := r.db.QueryRowContext(ctx, `
		SELECT variant_id, available, physical, updated_at
		FROM stock_levels
		WHERE variant_id = $1
	`, variantID).Scan(&level.VariantID, &level.Available, &level.Physical, &level.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockLevel{}, domain.ErrVariantNotFound
		}
		return domain.StockLevel{}, fmt.Errorf("select stock level: %w", err)
	}
	return level, nil
}

func (r *stockRepository) UpsertLevel(level domain.StockLevel) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_levels (variant_id, available, physical, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (variant_id) DO UPDATE
		SET available = EXCLUDED.available,
		    physical = EXCLUDED.physical,
		    updated_at = EXCLUDED.updated_at
	`, level.VariantID, level.Available, level.Physical, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert stock level: %w", err)
	}
	return nil
}

func (r *stockRepository) FindReservation(variantID, orderNumber string) (domain.StockReservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.findReservation(ctx, r.db, variantID, orderNumber)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *stockRepository) findReservation(ctx context.Context, q queryRower, variantID, orderNumber string) (domain.StockReservation, error) {
	var (
		res   domain.StockReservation
		state string
	)
	err := q.QueryRowContext(ctx, `
		SELECT variant_id, order_number, qty, state, reason, created_at, updated_at
		FROM stock_reservations
		WHERE variant_id = $1 AND order_number = $2
	`, variantID, orderNumber).Scan(
		&res.VariantID, &res.OrderNumber, &res.Qty, &state, &res.Reason,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockReservation{}, domain.ErrReservationNotFound
		}
		return domain.StockReservation{}, fmt.Errorf("select reservation: %w", err)
	}
	res.State = domain.ReservationState(state)
	return res, nil
}

// ReserveStock удерживает количество условным декрементом. Существующий
// резерв по ключу (variant_id, order_number) возвращается как есть: повтор
// не удерживает остаток второй раз.
func (r *stockRepository) ReserveStock(variantID string, qty int32, orderNumber string) (domain.StockReservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockReservation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err := r.findReservation(ctx, tx, variantID, orderNumber)
	if err == nil {
		if commitErr := tx.Commit(); commitErr != nil {
			return domain.StockReservation{}, fmt.Errorf("commit reserve: %w", commitErr)
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrReservationNotFound) {
		return domain.StockReservation{}, err
	}
	err = nil

	res, err := tx.ExecContext(ctx, `
		UPDATE stock_levels
		SET available = available - $2,
		    updated_at = $3
		WHERE variant_id = $1
		  AND available >= $2
	`, variantID, qty, time.Now().UTC())
	if err != nil {
		return domain.StockReservation{}, fmt.Errorf("decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.StockReservation{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, levelErr := r.findLevelTx(ctx, tx, variantID); levelErr != nil {
			return domain.StockReservation{}, levelErr
		}
		return domain.StockReservation{}, domain.ErrInsufficientStock
	}

	now := time.Now().UTC()
	reservation := domain.StockReservation{
		VariantID:   variantID,
		OrderNumber: orderNumber,
		Qty:         qty,
		State:       domain.ReservationReserved,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ins, err := tx.ExecContext(ctx, `
		INSERT INTO stock_reservations (variant_id, order_number, qty, state, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '', $5, $5)
		ON CONFLICT (variant_id, order_number) DO NOTHING
	`, variantID, orderNumber, qty, string(domain.ReservationReserved), now)
	if err != nil {
		return domain.StockReservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	inserted, err := ins.RowsAffected()
	if err != nil {
		return domain.StockReservation{}, fmt.Errorf("rows affected: %w", err)
	}
	if inserted == 0 {
		// Конкурирующий повтор вставил резерв между нашей проверкой и
		// INSERT: декремент откатывается, истина — сохранённый резерв.
		if err = tx.Rollback(); err != nil {
			return domain.StockReservation{}, fmt.Errorf("rollback duplicate reserve: %w", err)
		}
		return r.FindReservation(variantID, orderNumber)
	}

	if err = tx.Commit(); err != nil {
		return domain.StockReservation{}, fmt.Errorf("commit reserve: %w", err)
	}
	return reservation, nil
}

func (r *stockRepository) findLevelTx(ctx context.Context, tx *sql.Tx, variantID string) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := tx.QueryRowContext(ctx, `
		SELECT variant_id, available, physical, updated_at
		FROM stock_levels
		WHERE variant_id = $1
	`, variantID).Scan(&level.VariantID, &level.Available, &level.Physical, &level.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockLevel{}, domain.ErrVariantNotFound
		}
		return domain.StockLevel{}, fmt.Errorf("select stock level: %w", err)
	}
	return level, nil
}

// ReleaseReservation снимает reserved-резерв и возвращает его qty в доступный
// остаток. Отсутствие резерва — не ошибка: возвращается 0.
func (r *stockRepository) ReleaseReservation(orderNumber, variantID, reason string) (int32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var qty int32
	err = tx.QueryRowContext(ctx, `
		UPDATE stock_reservations
		SET state = $4,
		    reason = $3,
		    updated_at = NOW()
		WHERE order_number = $1
		  AND variant_id = $2
		  AND state = $5
		RETURNING qty
	`, orderNumber, variantID, reason,
		string(domain.ReservationReleased), string(domain.ReservationReserved),
	).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			if commitErr := tx.Commit(); commitErr != nil {
				return 0, fmt.Errorf("commit release: %w", commitErr)
			}
			return 0, nil
		}
		return 0, fmt.Errorf("release reservation: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE stock_levels
		SET available = available + $2,
		    updated_at = NOW()
		WHERE variant_id = $1
	`, variantID, qty); err != nil {
		return 0, fmt.Errorf("return stock: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit release: %w", err)
	}
	return qty, nil
}

func (r *stockRepository) ListReservations(orderNumber string) ([]domain.StockReservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT variant_id, order_number, qty, state, reason, created_at, updated_at
		FROM stock_reservations
		WHERE order_number = $1
		ORDER BY created_at, variant_id
	`, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockReservation, 0)
	for rows.Next() {
		var (
			res   domain.StockReservation
			state string
		)
		if err := rows.Scan(
			&res.VariantID, &res.OrderNumber, &res.Qty, &state, &res.Reason,
			&res.CreatedAt, &res.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		res.State = domain.ReservationState(state)
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return result, nil
}

func (r *stockRepository) CommitReservations(orderNumber string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE stock_reservations
		SET state = $2,
		    updated_at = NOW()
		WHERE order_number = $1
		  AND state = $3
	`, orderNumber, string(domain.ReservationCommitted), string(domain.ReservationReserved))
	if err != nil {
		return 0, fmt.Errorf("commit reservations: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

// RestockCommitted возвращает списанные количества заказа в доступный
// остаток: committed-резервы переводятся в released, остаток увеличивается.
func (r *stockRepository) RestockCommitted(orderNumber, reason string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
		UPDATE stock_reservations
		SET state = $3,
		    reason = $2,
		    updated_at = NOW()
		WHERE order_number = $1
		  AND state = $4
		RETURNING variant_id, qty
	`, orderNumber, reason,
		string(domain.ReservationReleased), string(domain.ReservationCommitted))
	if err != nil {
		return 0, fmt.Errorf("restock reservations: %w", err)
	}

	type restocked struct {
		variantID string
		qty       int32
	}
	var flipped []restocked
	for rows.Next() {
		var rec restocked
		if err = rows.Scan(&rec.variantID, &rec.qty); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan restocked row: %w", err)
		}
		flipped = append(flipped, rec)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate restocked rows: %w", err)
	}
	rows.Close()

	for _, rec := range flipped {
		if _, err = tx.ExecContext(ctx, `
			UPDATE stock_levels
			SET available = available + $2,
			    updated_at = NOW()
			WHERE variant_id = $1
		`, rec.variantID, rec.qty); err != nil {
			return 0, fmt.Errorf("return stock: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit restock: %w", err)
	}
	return len(flipped), nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
