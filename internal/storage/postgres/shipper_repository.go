package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

type shipperRepository struct {
	db *sql.DB
}

// NewShipperRepository создаёт PostgreSQL-реализацию ShipperRepository.
// ActiveCount не хранится, а выводится из живых доставок курьера.
func NewShipperRepository(store *Store) domain.ShipperRepository {
	return &shipperRepository{db: store.DB()}
}

const activeCountSubquery = `(
	SELECT COUNT(*)
	FROM shipments sh
	WHERE sh.shipper_id = s.id
	  AND sh.status IN ('assigned', 'shipping')
)`

func (r *shipperRepository) Get(id string) (domain.Shipper, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		shipper domain.Shipper
		status  string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.name, s.status, `+activeCountSubquery+`, s.updated_at
		FROM shippers s
		WHERE s.id = $1
	`, id).Scan(
		&shipper.ID, &shipper.Name, &status, &shipper.ActiveCount, &shipper.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Shipper{}, domain.ErrShipperNotFound
		}
		return domain.Shipper{}, fmt.Errorf("select shipper: %w", err)
	}
	shipper.Status = domain.ShipperStatus(status)
	return shipper, nil
}

func (r *shipperRepository) ListOnline() ([]domain.Shipper, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.status, `+activeCountSubquery+`, s.updated_at
		FROM shippers s
		WHERE s.status = $1
		ORDER BY s.id
	`, string(domain.ShipperOnline))
	if err != nil {
		return nil, fmt.Errorf("list online shippers: %w", err)
	}
	defer rows.Close()

	shippers := make([]domain.Shipper, 0)
	for rows.Next() {
		var (
			shipper domain.Shipper
			status  string
		)
		if err := rows.Scan(
			&shipper.ID, &shipper.Name, &status, &shipper.ActiveCount, &shipper.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan shipper row: %w", err)
		}
		shipper.Status = domain.ShipperStatus(status)
		shippers = append(shippers, shipper)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shipper rows: %w", err)
	}
	return shippers, nil
}

func (r *shipperRepository) SetStatus(id string, status domain.ShipperStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE shippers
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("set shipper status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrShipperNotFound
	}
	return nil
}

func (r *shipperRepository) Upsert(s domain.Shipper) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO shippers (id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    status = EXCLUDED.status,
		    updated_at = NOW()
	`, s.ID, s.Name, string(s.Status))
	if err != nil {
		return fmt.Errorf("upsert shipper: %w", err)
	}
	return nil
}

var _ domain.ShipperRepository = (*shipperRepository)(nil)
