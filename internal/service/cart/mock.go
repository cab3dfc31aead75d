package cart

import (
	"context"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

// MockService — конфигурируемая заглушка CartService для тестов и
// локального запуска без внешнего сервиса корзины.
type MockService struct {
	ClearItemErr error
	ClearCartErr error

	ClearItemCalls int
	ClearCartCalls int
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{}
}

// ClearItem возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockService) ClearItem(ctx context.Context, customerID, variantID string) error {
	m.ClearItemCalls++
	return m.ClearItemErr
}

// ClearCart возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockService) ClearCart(ctx context.Context, customerID string) error {
	m.ClearCartCalls++
	return m.ClearCartErr
}

var _ domain.CartService = (*MockService)(nil)
