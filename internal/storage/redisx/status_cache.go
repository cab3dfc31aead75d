package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

const (
	// Ключ кэша статуса: order_status:{order_number}.
	keyOrderStatus = "order_status:%s"

	statusTTL = 5 * time.Minute
)

// New открывает Redis-клиент с коротким таймаутом операций.
func New(addr string) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return client.WithTimeout(2 * time.Second)
}

// statusEntry — сериализованное значение кэша.
type statusEntry struct {
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

// StatusCache кэширует статусы заказов с коротким TTL. Кэш вспомогательный:
// любая ошибка Redis деградирует в чтение из основного хранилища.
type StatusCache struct {
	rdb    *redis.Client
	logger *log.Entry
}

// NewStatusCache создаёт кэш статусов поверх готового клиента.
func NewStatusCache(rdb *redis.Client, logger *log.Entry) *StatusCache {
	if logger == nil {
		logger = log.New().WithField("component", "status-cache")
	}
	return &StatusCache{rdb: rdb, logger: logger}
}

// Put записывает статус заказа в кэш.
func (c *StatusCache) Put(ctx context.Context, order domain.Order) {
	if c == nil || c.rdb == nil {
		return
	}

	entry := statusEntry{
		Status:    string(order.Status),
		UpdatedAt: order.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	key := fmt.Sprintf(keyOrderStatus, order.OrderNumber)
	if err := c.rdb.Set(ctx, key, data, statusTTL).Err(); err != nil {
		c.logger.WithError(err).WithField("order_number", order.OrderNumber).Debug("status cache put failed")
	}
}

// Get возвращает закэшированный статус заказа. false — в кэше нет записи
// либо Redis недоступен.
func (c *StatusCache) Get(ctx context.Context, orderNumber string) (domain.OrderStatus, bool) {
	if c == nil || c.rdb == nil {
		return "", false
	}

	key := fmt.Sprintf(keyOrderStatus, orderNumber)
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("order_number", orderNumber).Debug("status cache get failed")
		}
		return "", false
	}

	var entry statusEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", false
	}
	return domain.OrderStatus(entry.Status), true
}

// Invalidate удаляет запись кэша для заказа.
func (c *StatusCache) Invalidate(ctx context.Context, orderNumber string) {
	if c == nil || c.rdb == nil {
		return
	}
	key := fmt.Sprintf(keyOrderStatus, orderNumber)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.WithError(err).WithField("order_number", orderNumber).Debug("status cache invalidate failed")
	}
}
