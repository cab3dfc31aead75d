package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

type sagaStepRepository struct {
	db *sql.DB
}

// NewSagaStepRepository создаёт PostgreSQL-реализацию журнала шагов саги.
func NewSagaStepRepository(store *Store) domain.SagaStepRepository {
	return &sagaStepRepository{db: store.DB()}
}

func (r *sagaStepRepository) Record(rec domain.SagaStepRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Повтор того же (order_number, step) — no-op: журнал append-only.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO saga_steps (order_number, step, detail, occurred_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_number, step) DO NOTHING
	`, rec.OrderNumber, string(rec.Step), rec.Detail, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("record saga step: %w", err)
	}
	return nil
}

func (r *sagaStepRepository) List(orderNumber string) ([]domain.SagaStepRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_number, step, detail, occurred_at
		FROM saga_steps
		WHERE order_number = $1
		ORDER BY occurred_at, step
	`, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("list saga steps: %w", err)
	}
	defer rows.Close()

	records := make([]domain.SagaStepRecord, 0)
	for rows.Next() {
		var (
			rec  domain.SagaStepRecord
			step string
		)
		if err := rows.Scan(&rec.OrderNumber, &step, &rec.Detail, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan saga step: %w", err)
		}
		rec.Step = domain.SagaStep(step)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saga steps: %w", err)
	}
	return records, nil
}

func (r *sagaStepRepository) Find(orderNumber string, step domain.SagaStep) (domain.SagaStepRecord, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var rec domain.SagaStepRecord
	var stepName string
	err := r.db.QueryRowContext(ctx, `
		SELECT order_number, step, detail, occurred_at
		FROM saga_steps
		WHERE order_number = $1 AND step = $2
	`, orderNumber, string(step)).Scan(&rec.OrderNumber, &stepName, &rec.Detail, &rec.OccurredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SagaStepRecord{}, false, nil
		}
		return domain.SagaStepRecord{}, false, fmt.Errorf("find saga step: %w", err)
	}
	rec.Step = domain.SagaStep(stepName)
	return rec, true, nil
}

var _ domain.SagaStepRepository = (*sagaStepRepository)(nil)
