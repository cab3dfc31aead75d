package pending

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

// Queue сохраняет отложенные действия, чьи синхронные вызовы не удались.
// Постановка в очередь заменяет немедленный повтор: действие доживёт до
// ближайшего прохода sweeper и будет повторяться до первого успеха.
type Queue struct {
	actions domain.PendingActionRepository
	logger  *log.Entry
}

// NewQueue создаёт очередь отложенных действий.
func NewQueue(actions domain.PendingActionRepository, logger *log.Entry) *Queue {
	if logger == nil {
		logger = log.WithField("component", "pending-queue")
	}
	return &Queue{actions: actions, logger: logger}
}

// Defer сохраняет действие для последующего повтора.
func (q *Queue) Defer(ctx context.Context, action domain.PendingAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if errs := action.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	stored, err := q.actions.Enqueue(action)
	if err != nil {
		return err
	}

	q.logger.WithFields(log.Fields{
		"action_id":    stored.ID,
		"service":      stored.Service,
		"kind":         stored.Kind,
		"order_number": stored.Entity.OrderNumber,
		"reason":       stored.Reason,
	}).Warn("side effect deferred for retry")
	return nil
}
