package promo

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

// Validator реализует проверку и учёт использования промокодов.
// Validate только считает скидку; удержание лимита происходит отдельным
// RecordUsage, условным на уровне хранилища. Проигравший гонку за последнее
// использование получает отказ на RecordUsage, а не на Validate.
type Validator struct {
	promotions domain.PromotionRepository
	logger     *log.Entry
	now        func() time.Time
}

// NewValidator создаёт рабочий экземпляр валидатора.
func NewValidator(promotions domain.PromotionRepository, logger *log.Entry) *Validator {
	if logger == nil {
		logger = log.New().WithField("component", "promo")
	}
	return &Validator{promotions: promotions, logger: logger, now: time.Now}
}

// WithClock подменяет источник времени (для тестов окна действия).
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate проверяет применимость промокода и считает скидку в minor units.
func (v *Validator) Validate(ctx context.Context, req domain.PromotionEligibility) (domain.PromotionValidation, error) {
	if err := ctx.Err(); err != nil {
		return domain.PromotionValidation{}, err
	}

	p, err := v.promotions.GetByCode(req.Code)
	if err != nil {
		if errors.Is(err, domain.ErrPromotionNotFound) {
			return invalid(domain.PromotionReasonNotFound), nil
		}
		return domain.PromotionValidation{}, err
	}

	now := v.now().UTC()
	switch {
	case !p.Active:
		return invalid(domain.PromotionReasonInactive), nil
	case !p.StartsAt.IsZero() && now.Before(p.StartsAt):
		return invalid(domain.PromotionReasonNotStarted), nil
	case !p.EndsAt.IsZero() && now.After(p.EndsAt):
		return invalid(domain.PromotionReasonExpired), nil
	case p.UsageLimitReached():
		return invalid(domain.PromotionReasonUsageLimit), nil
	}

	if p.PerCustomerLimit > 0 {
		used, err := v.promotions.CountUsageByCustomer(p.ID, req.CustomerID)
		if err != nil {
			return domain.PromotionValidation{}, err
		}
		if used >= p.PerCustomerLimit {
			return invalid(domain.PromotionReasonCustomerLimit), nil
		}
	}

	if p.MinOrderMinor > 0 && req.AmountMinor < p.MinOrderMinor {
		return invalid(domain.PromotionReasonBelowMinimum), nil
	}
	if !applicable(&p, req) {
		return invalid(domain.PromotionReasonNotApplicable), nil
	}

	discount := discountFor(&p, req.AmountMinor)
	return domain.PromotionValidation{
		Valid:         true,
		PromotionID:   p.ID,
		DiscountMinor: discount,
	}, nil
}

// RecordUsage фиксирует использование промокода заказом. Дубликат по заказу
// считается успехом; исчерпанный лимит переводится в PromotionInvalid.
func (v *Validator) RecordUsage(ctx context.Context, promotionID, orderID, customerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := v.promotions.RecordUsage(domain.PromotionUsage{
		PromotionID: promotionID,
		OrderID:     orderID,
		CustomerID:  customerID,
	})
	if errors.Is(err, domain.ErrPromotionExhausted) {
		v.logger.WithFields(log.Fields{
			"promotion_id": promotionID,
			"order_id":     orderID,
		}).Info("promotion usage rejected: limit reached")
		return domain.NewPromotionInvalid(promotionID, domain.PromotionReasonUsageLimit)
	}
	return err
}

// RevokeUsage откатывает использование. Отсутствие записи — успех.
func (v *Validator) RevokeUsage(ctx context.Context, promotionID, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	removed, err := v.promotions.RevokeUsage(promotionID, orderID)
	if err != nil {
		return err
	}
	if removed {
		v.logger.WithFields(log.Fields{
			"promotion_id": promotionID,
			"order_id":     orderID,
		}).Info("promotion usage revoked")
	}
	return nil
}

func invalid(reason domain.PromotionInvalidReason) domain.PromotionValidation {
	return domain.PromotionValidation{Valid: false, Reason: reason}
}

// applicable проверяет пересечение заказа с ограничениями промокода.
// Пустой список ограничений означает применимость ко всему каталогу.
func applicable(p *domain.Promotion, req domain.PromotionEligibility) bool {
	if len(p.ProductIDs) == 0 && len(p.CategoryIDs) == 0 && len(p.BrandIDs) == 0 {
		return true
	}
	if intersects(p.ProductIDs, req.ProductIDs) {
		return true
	}
	if intersects(p.CategoryIDs, req.CategoryIDs) {
		return true
	}
	return intersects(p.BrandIDs, req.BrandIDs)
}

func intersects(limit, have []string) bool {
	if len(limit) == 0 || len(have) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(limit))
	for _, id := range limit {
		set[id] = struct{}{}
	}
	for _, id := range have {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// discountFor считает скидку и ограничивает её сверху: потолком промокода
// для процентной и суммой заказа для любой. Процент округляется до minor
// units по правилу half-up.
func discountFor(p *domain.Promotion, amountMinor int64) int64 {
	var discount int64
	switch p.Type {
	case domain.PromotionPercentage:
		discount = (amountMinor*p.Value + 50) / 100
		if p.MaxDiscountMinor > 0 && discount > p.MaxDiscountMinor {
			discount = p.MaxDiscountMinor
		}
	case domain.PromotionFixedAmount:
		discount = p.Value
	}
	if discount > amountMinor {
		discount = amountMinor
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

var _ domain.PromotionService = (*Validator)(nil)
