package app

import (
	"context"
	"strings"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/retail-core/internal/storage/redisx"
)

// statusInvalidatorGroup — consumer group инвалидатора кэша статусов.
const statusInvalidatorGroup = "retail-core-status-cache"

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой или если произошла ошибка.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if brokers == "" {
		return nil, nil
	}

	brokerList := strings.Split(brokers, ",")
	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initStatusInvalidator подписывается на order-события и сбрасывает кэш
// статусов при каждом опубликованном переходе. Без Kafka или Redis
// возвращает nil, nil — кэш тогда живёт только на TTL.
func initStatusInvalidator(brokers string, cache *redisx.StatusCache, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if brokers == "" || cache == nil {
		return nil, nil
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		strings.Split(brokers, ","),
		statusInvalidatorGroup,
		[]string{kafka.TopicOrderEvents},
		statusInvalidationHandler(cache, logger),
		dlq,
		3,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create status invalidator, cache will rely on TTL")
		return nil, err
	}

	logger.WithField("topic", kafka.TopicOrderEvents).Info("status cache invalidator initialized")
	return consumer, nil
}

// statusInvalidationHandler разбирает order-событие и удаляет запись кэша
// для затронутого заказа. Событие без номера заказа пропускается молча:
// инвалидировать нечего.
func statusInvalidationHandler(cache *redisx.StatusCache, logger *log.Entry) kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParseOrderEvent(message)
		if err != nil {
			return err
		}
		if event.OrderNumber == "" {
			return nil
		}

		cache.Invalidate(ctx, event.OrderNumber)
		logger.WithFields(log.Fields{
			"order_number": event.OrderNumber,
			"event_type":   event.EventType,
		}).Debug("order status cache invalidated")
		return nil
	}
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
