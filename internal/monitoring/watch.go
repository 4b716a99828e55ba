package monitoring

import (
	"context"

	"github.com/plant-for-the-planet/firealert/internal/engine"
)

// Runner runs one pipeline cycle.
type Runner interface {
	Run(ctx context.Context, limit int) (engine.RunSummary, error)
}

// Watched wraps a Runner and checks every completed run.
type Watched struct {
	next    Runner
	alerter *Alerter
}

// Watch returns a Runner that evaluates each completed run summary and sends
// any resulting alerts. Runs that did not start are passed through unchecked.
func Watch(next Runner, alerter *Alerter) *Watched {
	return &Watched{next: next, alerter: alerter}
}

func (w *Watched) Run(ctx context.Context, limit int) (engine.RunSummary, error) {
	s, err := w.next.Run(ctx, limit)
	if err != nil {
		return s, err
	}
	if alerts := w.alerter.Evaluate(s); len(alerts) > 0 {
		w.alerter.SendAlerts(context.WithoutCancel(ctx), alerts)
	}
	return s, nil
}
