package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

type shipmentRepository struct {
	db *sql.DB
}

// NewShipmentRepository создаёт PostgreSQL-реализацию ShipmentRepository.
func NewShipmentRepository(store *Store) domain.ShipmentRepository {
	return &shipmentRepository{db: store.DB()}
}

const shipmentColumns = `
	id, shipment_number, order_number, customer_id, status,
	shipper_id, reason, assigned_at, created_at, updated_at
`

func (r *shipmentRepository) Create(s domain.Shipment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shipments (`+shipmentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		s.ID, s.ShipmentNumber, s.OrderNumber, s.CustomerID, string(s.Status),
		s.ShipperID, s.Reason, nullableTime(s.AssignedAt), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrShipmentExists
		}
		return fmt.Errorf("insert shipment: %w", err)
	}

	for _, item := range s.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO shipment_items (shipment_id, variant_id, sku, name, qty, unit_minor)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, s.ID, item.VariantID, item.SKU, item.Name, item.Qty, item.UnitMinor); err != nil {
			return fmt.Errorf("insert shipment item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create shipment: %w", err)
	}
	return nil
}

func (r *shipmentRepository) GetByOrder(orderNumber string) (domain.Shipment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getBy(ctx, "order_number", orderNumber)
}

func (r *shipmentRepository) GetByNumber(shipmentNumber string) (domain.Shipment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getBy(ctx, "shipment_number", shipmentNumber)
}

func (r *shipmentRepository) getBy(ctx context.Context, column, value string) (domain.Shipment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipments
		WHERE `+column+` = $1
	`, value)

	shipment, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Shipment{}, domain.ErrShipmentNotFound
		}
		return domain.Shipment{}, fmt.Errorf("select shipment by %s: %w", column, err)
	}

	items, err := r.loadItems(ctx, shipment.ID)
	if err != nil {
		return domain.Shipment{}, err
	}
	shipment.Items = items
	return shipment, nil
}

func (r *shipmentRepository) ListByStatus(status domain.ShipmentStatus, limit int) ([]domain.Shipment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT ` + shipmentColumns + `
		FROM shipments
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", string(status), limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	defer rows.Close()

	shipments := make([]domain.Shipment, 0)
	for rows.Next() {
		shipment, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shipment row: %w", err)
		}
		shipments = append(shipments, shipment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shipment rows: %w", err)
	}
	return shipments, nil
}

// Claim назначает курьера условным обновлением: строка меняется, только
// если доставка всё ещё pending. Проигравший гонку получает false.
func (r *shipmentRepository) Claim(shipmentID, shipperID string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE shipments
		SET status = $3,
		    shipper_id = $2,
		    assigned_at = $4,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $5
	`, shipmentID, shipperID,
		string(domain.ShipmentAssigned), at.UTC(), string(domain.ShipmentPending))
	if err != nil {
		return false, fmt.Errorf("claim shipment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *shipmentRepository) UpdateStatus(shipmentID string, from, to domain.ShipmentStatus, reason string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE shipments
		SET status = $3,
		    reason = $4,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $2
	`, shipmentID, string(from), string(to), reason)
	if err != nil {
		return false, fmt.Errorf("update shipment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *shipmentRepository) CountCreatedBetween(from, to time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM shipments
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count shipments: %w", err)
	}
	return count, nil
}

func scanShipment(row rowScanner) (domain.Shipment, error) {
	var (
		s        domain.Shipment
		status   string
		assigned sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.ShipmentNumber, &s.OrderNumber, &s.CustomerID, &status,
		&s.ShipperID, &s.Reason, &assigned, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return domain.Shipment{}, err
	}
	s.Status = domain.ShipmentStatus(status)
	if assigned.Valid {
		s.AssignedAt = assigned.Time.UTC()
	}
	return s, nil
}

func (r *shipmentRepository) loadItems(ctx context.Context, shipmentID string) ([]domain.ShipmentItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT variant_id, sku, name, qty, unit_minor
		FROM shipment_items
		WHERE shipment_id = $1
		ORDER BY variant_id
	`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("load shipment items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ShipmentItem, 0)
	for rows.Next() {
		var item domain.ShipmentItem
		if err := rows.Scan(&item.VariantID, &item.SKU, &item.Name, &item.Qty, &item.UnitMinor); err != nil {
			return nil, fmt.Errorf("scan shipment item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shipment items: %w", err)
	}
	return items, nil
}

var _ domain.ShipmentRepository = (*shipmentRepository)(nil)
