// Package matching drains a provider's unprocessed events into site alerts.
package matching

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/plant-for-the-planet/firealert/internal/model"
	"github.com/plant-for-the-planet/firealert/internal/observability"
	"github.com/plant-for-the-planet/firealert/internal/store"
)

// Default batch sizes. Geostationary events are matched in smaller batches
// because their footprint joins against many more site fragments.
const (
	DefaultBatchSize              = 1000
	DefaultGeostationaryBatchSize = 500
)

// Options sets the per-query event batch sizes.
type Options struct {
	BatchSize              int
	GeostationaryBatchSize int
}

// Engine runs spatial matching for one provider at a time.
type Engine struct {
	events  store.EventStore
	alerts  store.AlertStore
	metrics *observability.Metrics
	opts    Options
}

// New creates an Engine. Nil metrics are replaced by an unregistered set.
func New(events store.EventStore, alerts store.AlertStore, metrics *observability.Metrics, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.GeostationaryBatchSize <= 0 {
		opts.GeostationaryBatchSize = DefaultGeostationaryBatchSize
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Engine{events: events, alerts: alerts, metrics: metrics, opts: opts}
}

// BatchSize returns the batch size used for p.
func (e *Engine) BatchSize(p model.Provider) int {
	if p.IsGeostationary() {
		return e.opts.GeostationaryBatchSize
	}
	return e.opts.BatchSize
}

// Run matches batches of p's unprocessed events until none remain and
// returns the number of alerts created. Alerts from batches committed before
// a failure are kept and counted.
func (e *Engine) Run(ctx context.Context, p model.Provider, now time.Time) (int64, error) {
	log := zap.L().With(
		zap.String("component", "matching"),
		zap.String("provider_id", p.ID),
		zap.String("client_id", p.ClientID),
	)
	size := e.BatchSize(p)
	seen := make(map[string]struct{})

	var total int64
	for batch := 0; ; batch++ {
		if err := ctx.Err(); err != nil {
			return total, eris.Wrap(err, "matching: cancelled")
		}

		ids, err := e.events.FindUnprocessedByProvider(ctx, p.ID, size)
		if err != nil {
			return total, eris.Wrap(err, "matching: find unprocessed")
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				return total, eris.Errorf("matching: event %s still unprocessed after its batch", id)
			}
			seen[id] = struct{}{}
		}

		created, err := e.alerts.MatchBatch(ctx, store.MatchRequest{
			ProviderID:    p.ID,
			ClientID:      p.ClientID,
			Geostationary: p.IsGeostationary(),
			EventIDs:      ids,
			Now:           now,
		})
		if err != nil {
			return total, eris.Wrapf(err, "matching: batch %d", batch)
		}
		total += created
		e.metrics.AlertsCreated.WithLabelValues(p.ClientID).Add(float64(created))
		log.Debug("matched batch", zap.Int("batch", batch), zap.Int("events", len(ids)), zap.Int64("alerts", created))

		if len(ids) < size {
			break
		}
	}

	log.Info("matching complete", zap.Int64("alerts", total), zap.Int("events", len(seen)))
	return total, nil
}
