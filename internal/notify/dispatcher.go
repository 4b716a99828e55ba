package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/plant-for-the-planet/firealert/internal/model"
	"github.com/plant-for-the-planet/firealert/internal/observability"
	"github.com/plant-for-the-planet/firealert/internal/store"
)

// DispatchStore is the persistence a Dispatcher needs.
type DispatchStore interface {
	PendingNotifications(ctx context.Context, limit int) ([]model.PendingNotification, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
}

// DispatchResult counts one dispatch sweep.
type DispatchResult struct {
	Attempted int64 `json:"attempted"`
	Delivered int64 `json:"delivered"`
	Pending   int64 `json:"pending"`
}

// Dispatcher hands pending notifications to a Notifier.
type Dispatcher struct {
	store       DispatchStore
	sites       store.SiteStore
	notifier    Notifier
	metrics     *observability.Metrics
	clock       clockwork.Clock
	concurrency int
}

// DispatcherOptions tunes a Dispatcher.
type DispatcherOptions struct {
	Concurrency int
	Clock       clockwork.Clock
	Metrics     *observability.Metrics
}

// NewDispatcher creates a Dispatcher. sites is used for site names in
// rendered messages and may be nil.
func NewDispatcher(s DispatchStore, sites store.SiteStore, n Notifier, opts DispatcherOptions) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}
	return &Dispatcher{
		store:       s,
		sites:       sites,
		notifier:    n,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		concurrency: opts.Concurrency,
	}
}

// Dispatch loads up to limit undelivered notifications, notifies each one and
// marks the delivered ones. A failure to mark one notification does not stop
// the others; the joined errors are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (DispatchResult, error) {
	log := zap.L().With(zap.String("component", "notify.dispatcher"))

	pending, err := d.store.PendingNotifications(ctx, limit)
	if err != nil {
		return DispatchResult{}, eris.Wrap(err, "notify: load pending")
	}

	var (
		delivered atomic.Int64
		errs      = make([]error, len(pending))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, p := range pending {
		g.Go(func() error {
			msg := Render(p, d.siteName(gctx, p.Alert.SiteID))
			ok := d.notifier.Notify(gctx, p.Destination, msg)
			if !ok {
				d.metrics.NotificationsDelivered.WithLabelValues(p.AlertMethod, "pending").Inc()
				log.Debug("notification left pending", zap.String("notification_id", p.ID))
				return nil
			}
			if err := d.store.MarkDelivered(gctx, p.ID, d.clock.Now()); err != nil {
				errs[i] = eris.Wrapf(err, "notify: mark %s delivered", p.ID)
				return nil
			}
			d.metrics.NotificationsDelivered.WithLabelValues(p.AlertMethod, "delivered").Inc()
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := DispatchResult{Attempted: int64(len(pending)), Delivered: delivered.Load()}
	res.Pending = res.Attempted - res.Delivered
	if len(pending) > 0 {
		log.Info("dispatch complete",
			zap.Int64("attempted", res.Attempted),
			zap.Int64("delivered", res.Delivered),
		)
	}
	return res, errors.Join(errs...)
}

func (d *Dispatcher) siteName(ctx context.Context, siteID string) string {
	if d.sites == nil {
		return ""
	}
	s, err := d.sites.GetSite(ctx, siteID)
	if err != nil {
		return ""
	}
	return s.Name
}
