package app

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/storage/redisx"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer("", logger)

	if err != nil {
		t.Errorf("expected no error for empty brokers, got %v", err)
	}

	if producer != nil {
		t.Error("expected nil producer for empty brokers")
	}
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Используем несуществующий broker
	producer, err := initKafkaProducer("invalid-broker:9999", logger)

	// Должна быть ошибка, но функция продолжает работу
	if err == nil {
		t.Error("expected error for invalid brokers")
	}

	// Producer должен быть nil при ошибке
	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestInitKafkaProducer_MultipleBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Несколько несуществующих brokers
	brokers := "broker1:9092,broker2:9092,broker3:9092"
	producer, err := initKafkaProducer(brokers, logger)

	// Ошибка ожидается
	if err == nil {
		t.Error("expected error for invalid brokers")
	}

	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestCloseKafka_NilProducer(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Не должно паниковать
	closeKafka(nil, logger)
}

func TestCloseKafka_WithProducer(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Создаём producer (будет ошибка, но это ок для теста)
	producer, _ := initKafkaProducer("localhost:9999", logger)

	// Даже если producer nil, closeKafka должна работать
	closeKafka(producer, logger)
}

func TestInitStatusInvalidator_Disabled(t *testing.T) {
	logger := log.WithField("test", "invalidator")
	cache := redisx.NewStatusCache(nil, logger)

	// Без brokers инвалидатор не создаётся
	consumer, err := initStatusInvalidator("", cache, nil, logger)
	if err != nil {
		t.Errorf("expected no error for empty brokers, got %v", err)
	}
	if consumer != nil {
		t.Error("expected nil consumer for empty brokers")
	}

	// Без кэша инвалидировать нечего
	consumer, err = initStatusInvalidator("localhost:9092", nil, nil, logger)
	if err != nil {
		t.Errorf("expected no error for nil cache, got %v", err)
	}
	if consumer != nil {
		t.Error("expected nil consumer for nil cache")
	}
}

func TestInitStatusInvalidator_InvalidBrokers(t *testing.T) {
	logger := log.WithField("test", "invalidator")
	cache := redisx.NewStatusCache(nil, logger)

	consumer, err := initStatusInvalidator("invalid-broker:9999", cache, nil, logger)
	if err == nil {
		t.Error("expected error for invalid brokers")
	}
	if consumer != nil {
		t.Error("expected nil consumer on error")
	}
}

func TestStatusInvalidationHandler(t *testing.T) {
	logger := log.WithField("test", "invalidation-handler")
	handler := statusInvalidationHandler(redisx.NewStatusCache(nil, logger), logger)

	// Битый JSON — ошибка, сообщение уйдёт в retry
	broken := &sarama.ConsumerMessage{Value: []byte("{")}
	if err := handler(context.Background(), broken); err == nil {
		t.Error("expected error for malformed event")
	}

	// Событие без номера заказа пропускается без ошибки
	empty := &sarama.ConsumerMessage{Value: []byte(`{"event_type":"order.created"}`)}
	if err := handler(context.Background(), empty); err != nil {
		t.Errorf("expected nil for event without order number, got %v", err)
	}

	// Полноценное событие обрабатывается
	event := &sarama.ConsumerMessage{Value: []byte(`{"event_type":"order.failed","order_number":"ORD-20260830-1","status":"failed"}`)}
	if err := handler(context.Background(), event); err != nil {
		t.Errorf("expected nil for valid event, got %v", err)
	}
}

func TestInitKafkaProducer_BrokersWithSpaces(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Brokers с пробелами
	brokers := "broker1:9092, broker2:9092, broker3:9092"
	producer, err := initKafkaProducer(brokers, logger)

	// Ошибка ожидается (invalid brokers)
	if err == nil {
		t.Error("expected error for invalid brokers")
	}

	if producer != nil {
		t.Error("expected nil producer on error")
	}
}
