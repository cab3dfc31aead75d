package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

type pendingActionRepository struct {
	db *sql.DB
}

// NewPendingActionRepository создаёт PostgreSQL-реализацию очереди
// отложенных действий.
func NewPendingActionRepository(store *Store) domain.PendingActionRepository {
	return &pendingActionRepository{db: store.DB()}
}

func (r *pendingActionRepository) Enqueue(a domain.PendingAction) (domain.PendingAction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Status = domain.PendingStatusPending

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_actions (
			id, service, kind, order_number, order_id, variant_id,
			promotion_id, customer_id, entity_id, reason, status, attempts, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12)
	`,
		a.ID, string(a.Service), string(a.Kind),
		a.Entity.OrderNumber, a.Entity.OrderID, a.Entity.VariantID,
		a.Entity.PromotionID, a.Entity.CustomerID, a.Entity.EntityID,
		a.Reason, string(a.Status), a.CreatedAt,
	)
	if err != nil {
		return domain.PendingAction{}, fmt.Errorf("enqueue pending action: %w", err)
	}
	return a, nil
}

func (r *pendingActionRepository) ListPending(limit int) ([]domain.PendingAction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, service, kind, order_number, order_id, variant_id,
		       promotion_id, customer_id, entity_id, reason, status, attempts,
		       created_at, last_attempt_at
		FROM pending_actions
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, string(domain.PendingStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	defer rows.Close()

	actions := make([]domain.PendingAction, 0, limit)
	for rows.Next() {
		var (
			a           domain.PendingAction
			service     string
			kind        string
			status      string
			lastAttempt sql.NullTime
		)
		if err := rows.Scan(
			&a.ID, &service, &kind,
			&a.Entity.OrderNumber, &a.Entity.OrderID, &a.Entity.VariantID,
			&a.Entity.PromotionID, &a.Entity.CustomerID, &a.Entity.EntityID,
			&a.Reason, &status, &a.Attempts, &a.CreatedAt, &lastAttempt,
		); err != nil {
			return nil, fmt.Errorf("scan pending action: %w", err)
		}
		a.Service = domain.PendingService(service)
		a.Kind = domain.ActionKind(kind)
		a.Status = domain.PendingStatus(status)
		if lastAttempt.Valid {
			a.LastAttemptAt = lastAttempt.Time.UTC()
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending actions: %w", err)
	}
	return actions, nil
}

func (r *pendingActionRepository) MarkAttempt(id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE pending_actions
		SET attempts = attempts + 1,
		    last_attempt_at = $2
		WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("mark pending attempt: %w", err)
	}
	return nil
}

func (r *pendingActionRepository) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_actions WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("delete pending action: %w", err)
	}
	return nil
}

func (r *pendingActionRepository) Stats() (domain.PendingStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.PendingStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM pending_actions
		WHERE status = $1
	`, string(domain.PendingStatusPending)).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.PendingStats{}, fmt.Errorf("pending stats query failed: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

var _ domain.PendingActionRepository = (*pendingActionRepository)(nil)
