package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

type promotionRepository struct {
	db *sql.DB
}

// NewPromotionRepository создаёт PostgreSQL-реализацию PromotionRepository.
func NewPromotionRepository(store *Store) domain.PromotionRepository {
	return &promotionRepository{db: store.DB()}
}

const promotionColumns = `
	id, code, type, value, min_order_minor, max_discount_minor,
	usage_limit, usage_count, per_customer_limit,
	starts_at, ends_at, active, product_ids, category_ids, brand_ids,
	created_at, updated_at
`

func (r *promotionRepository) GetByCode(code string) (domain.Promotion, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getBy(ctx, "code", strings.ToUpper(strings.TrimSpace(code)))
}

func (r *promotionRepository) Get(id string) (domain.Promotion, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getBy(ctx, "id", id)
}

func (r *promotionRepository) getBy(ctx context.Context, column, value string) (domain.Promotion, error) {
	var (
		p        domain.Promotion
		promType string
		starts   sql.NullTime
		ends     sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT `+promotionColumns+`
		FROM promotions
		WHERE `+column+` = $1
	`, value).Scan(
		&p.ID, &p.Code, &promType, &p.Value, &p.MinOrderMinor, &p.MaxDiscountMinor,
		&p.UsageLimit, &p.UsageCount, &p.PerCustomerLimit,
		&starts, &ends, &p.Active,
		pq.Array(&p.ProductIDs), pq.Array(&p.CategoryIDs), pq.Array(&p.BrandIDs),
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Promotion{}, domain.ErrPromotionNotFound
		}
		return domain.Promotion{}, fmt.Errorf("select promotion by %s: %w", column, err)
	}
	p.Type = domain.PromotionType(promType)
	if starts.Valid {
		p.StartsAt = starts.Time.UTC()
	}
	if ends.Valid {
		p.EndsAt = ends.Time.UTC()
	}
	return p, nil
}

func (r *promotionRepository) Upsert(p domain.Promotion) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO promotions (`+promotionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE
		SET code = EXCLUDED.code,
		    type = EXCLUDED.type,
		    value = EXCLUDED.value,
		    min_order_minor = EXCLUDED.min_order_minor,
		    max_discount_minor = EXCLUDED.max_discount_minor,
		    usage_limit = EXCLUDED.usage_limit,
		    per_customer_limit = EXCLUDED.per_customer_limit,
		    starts_at = EXCLUDED.starts_at,
		    ends_at = EXCLUDED.ends_at,
		    active = EXCLUDED.active,
		    product_ids = EXCLUDED.product_ids,
		    category_ids = EXCLUDED.category_ids,
		    brand_ids = EXCLUDED.brand_ids,
		    updated_at = EXCLUDED.updated_at
	`,
		p.ID, strings.ToUpper(strings.TrimSpace(p.Code)), string(p.Type), p.Value,
		p.MinOrderMinor, p.MaxDiscountMinor,
		p.UsageLimit, p.UsageCount, p.PerCustomerLimit,
		nullableTime(p.StartsAt), nullableTime(p.EndsAt), p.Active,
		pq.Array(p.ProductIDs), pq.Array(p.CategoryIDs), pq.Array(p.BrandIDs),
		p.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("upsert promotion: %w", err)
	}
	return nil
}

func (r *promotionRepository) CountUsageByCustomer(promotionID, customerID string) (int32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int32
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM promotion_usages
		WHERE promotion_id = $1 AND customer_id = $2
	`, promotionID, customerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count promotion usage: %w", err)
	}
	return count, nil
}

// RecordUsage — условный инкремент счётчика плюс вставка факта
// использования в одной транзакции. Инкремент проходит, только если
// лимит ещё не исчерпан; гонка за последнее использование разрешается
// на уровне строки.
func (r *promotionRepository) RecordUsage(usage domain.PromotionUsage) error {
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

	now := usage.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO promotion_usages (promotion_id, order_id, customer_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (promotion_id, order_id) DO NOTHING
	`, usage.PromotionID, usage.OrderID, usage.CustomerID, now)
	if err != nil {
		return fmt.Errorf("insert promotion usage: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if inserted == 0 {
		// Повтор той же пары (promotion, order) — идемпотентный успех.
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit usage: %w", err)
		}
		return nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE promotions
		SET usage_count = usage_count + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND (usage_limit = 0 OR usage_count < usage_limit)
	`, usage.PromotionID)
	if err != nil {
		return fmt.Errorf("increment usage count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		err = domain.ErrPromotionExhausted
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit usage: %w", err)
	}
	return nil
}

func (r *promotionRepository) RevokeUsage(promotionID, orderID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM promotion_usages
		WHERE promotion_id = $1 AND order_id = $2
	`, promotionID, orderID)
	if err != nil {
		return false, fmt.Errorf("delete promotion usage: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if deleted == 0 {
		if err = tx.Commit(); err != nil {
			return false, fmt.Errorf("commit revoke: %w", err)
		}
		return false, nil
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE promotions
		SET usage_count = GREATEST(usage_count - 1, 0),
		    updated_at = NOW()
		WHERE id = $1
	`, promotionID); err != nil {
		return false, fmt.Errorf("decrement usage count: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit revoke: %w", err)
	}
	return true, nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

var _ domain.PromotionRepository = (*promotionRepository)(nil)
