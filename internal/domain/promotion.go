package domain

import "time"

// PromotionType задаёт способ расчёта скидки.
type PromotionType string

const (
	// PromotionPercentage — скидка в процентах от суммы заказа.
	PromotionPercentage PromotionType = "percentage"
	// PromotionFixedAmount — фиксированная скидка в минимальных денежных единицах.
	PromotionFixedAmount PromotionType = "fixed_amount"
)

// Promotion описывает промокод и его ограничения.
type Promotion struct {
	ID               string
	Code             string
	Type             PromotionType
	// Value — процент (для percentage) либо сумма в minor units (для fixed_amount).
	Value            int64
	MinOrderMinor    int64
	MaxDiscountMinor int64
	// UsageLimit == 0 означает "без глобального лимита".
	UsageLimit       int32
	UsageCount       int32
	PerCustomerLimit int32
	StartsAt         time.Time
	EndsAt           time.Time
	Active           bool
	// Ограничения применимости. Пустой список — без ограничения по этому измерению.
	ProductIDs  []string
	CategoryIDs []string
	BrandIDs    []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasUsageLimit сообщает, задан ли глобальный лимит использований.
func (p *Promotion) HasUsageLimit() bool {
	return p.UsageLimit > 0
}

// UsageLimitReached проверяет, исчерпан ли глобальный лимит.
func (p *Promotion) UsageLimitReached() bool {
	return p.HasUsageLimit() && p.UsageCount >= p.UsageLimit
}

// WindowContains проверяет попадание момента времени в окно действия промокода.
func (p *Promotion) WindowContains(at time.Time) bool {
	if !p.StartsAt.IsZero() && at.Before(p.StartsAt) {
		return false
	}
	if !p.EndsAt.IsZero() && at.After(p.EndsAt) {
		return false
	}
	return true
}

// PromotionUsage фиксирует факт применения промокода к заказу.
// Инвариант: запись существует тогда и только тогда, когда промокод
// успешно применён. Уникальность — по (PromotionID, OrderID).
type PromotionUsage struct {
	PromotionID string
	OrderID     string
	CustomerID  string
	CreatedAt   time.Time
}

// PromotionValidation — результат проверки промокода для конкретного заказа.
type PromotionValidation struct {
	Valid         bool
	Reason        PromotionInvalidReason
	PromotionID   string
	DiscountMinor int64
}

// PromotionEligibility — контекст заказа, передаваемый валидатору.
type PromotionEligibility struct {
	Code        string
	CustomerID  string
	AmountMinor int64
	ProductIDs  []string
	CategoryIDs []string
	BrandIDs    []string
}
