package account

import (
	"context"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

// MockService — конфигурируемая заглушка AccountService для тестов и
// локального запуска без внешнего сервиса аккаунтов.
type MockService struct {
	Verified    bool
	VerifiedErr error

	IsVerifiedCalls int
}

// NewMockService возвращает mock, считающий все аккаунты подтверждёнными.
func NewMockService() *MockService {
	return &MockService{Verified: true}
}

// IsVerified возвращает заранее настроенный результат и считает вызовы.
func (m *MockService) IsVerified(ctx context.Context, customerID string) (bool, error) {
	m.IsVerifiedCalls++
	return m.Verified, m.VerifiedErr
}

var _ domain.AccountService = (*MockService)(nil)
