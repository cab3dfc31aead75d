package app

import (
	"github.com/vladislavdragonenkov/retail-core/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/retail-core/internal/service/saga"
)

// createOrchestrator создаёт saga orchestrator. Kafka producer опционален:
// без него оркестратор публикует события только через transactional outbox.
func createOrchestrator(deps *Dependencies, kafkaProducer *kafka.Producer) saga.Orchestrator {
	return saga.NewOrchestrator(saga.Dependencies{
		Orders:        deps.Orders,
		Steps:         deps.Steps,
		Outbox:        deps.Outbox,
		Accounts:      deps.Accounts,
		Stocks:        deps.StockLedger,
		Promotions:    deps.Promotions,
		Shipments:     deps.Registrar,
		Carts:         deps.Carts,
		Queue:         deps.Queue,
		KafkaProducer: kafkaProducer,
		Logger:        deps.Logger.WithField("component", "saga"),
	})
}
