package notify

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/plant-for-the-planet/firealert/internal/observability"
	"github.com/plant-for-the-planet/firealert/internal/store"
)

// DefaultBatchSize is the number of alerts or notifications handled per pass.
const DefaultBatchSize = 200

// Emitter turns unprocessed site alerts into notification records.
type Emitter struct {
	store     store.NotificationStore
	metrics   *observability.Metrics
	batchSize int
}

// NewEmitter creates an Emitter. Nil metrics are replaced by an unregistered set.
func NewEmitter(s store.NotificationStore, metrics *observability.Metrics, batchSize int) *Emitter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Emitter{store: s, metrics: metrics, batchSize: batchSize}
}

// Emit processes alerts in batches until none remain.
func (e *Emitter) Emit(ctx context.Context) (store.EmitResult, error) {
	var total store.EmitResult
	for {
		if err := ctx.Err(); err != nil {
			return total, eris.Wrap(err, "notify: emit cancelled")
		}
		res, err := e.store.CreateNotifications(ctx, e.batchSize)
		if err != nil {
			return total, eris.Wrap(err, "notify: create notifications")
		}
		total.Alerts += res.Alerts
		total.Notifications += res.Notifications
		e.metrics.NotificationsCreated.Add(float64(res.Notifications))
		if res.Alerts < int64(e.batchSize) {
			break
		}
	}
	if total.Alerts > 0 {
		zap.L().Info("notifications emitted",
			zap.String("component", "notify.emitter"),
			zap.Int64("alerts", total.Alerts),
			zap.Int64("notifications", total.Notifications),
		)
	}
	return total, nil
}
