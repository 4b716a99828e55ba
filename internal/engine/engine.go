// Package engine runs one fetch, ingest, match and notify cycle across all
// due providers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/plant-for-the-planet/firealert/internal/ingest"
	"github.com/plant-for-the-planet/firealert/internal/matching"
	"github.com/plant-for-the-planet/firealert/internal/model"
	"github.com/plant-for-the-planet/firealert/internal/notify"
	"github.com/plant-for-the-planet/firealert/internal/observability"
	"github.com/plant-for-the-planet/firealert/internal/provider"
	"github.com/plant-for-the-planet/firealert/internal/queue"
	"github.com/plant-for-the-planet/firealert/internal/resilience"
	"github.com/plant-for-the-planet/firealert/internal/runlock"
	"github.com/plant-for-the-planet/firealert/internal/store"
)

// LockName is the run lock shared by every trigger of the pipeline.
const LockName = "geo-event-fetcher"

// Pipeline stages recorded on provider errors.
const (
	StageResolve = "resolve"
	StageFetch   = "fetch"
	StageIngest  = "ingest"
	StageMatch   = "match"
	StageNotify  = "notify"
	StageFinish  = "finish"
)

// Defaults applied when Options fields are zero.
const (
	DefaultConcurrency  = 3
	DefaultFetchTimeout = 60 * time.Second
	DefaultRunTimeout   = 10 * time.Minute
)

// Options tunes a run.
type Options struct {
	Concurrency  int
	FetchTimeout time.Duration // per provider fetch
	RunTimeout   time.Duration // whole run, also the run lock lease
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Providers store.ProviderStore
	Resolver  *provider.Resolver
	Ingest    *ingest.Service
	Matcher   *matching.Engine
	Emitter   *notify.Emitter // nil skips notification emission
	Locker    runlock.Locker  // nil uses an in-process lock
	Metrics   *observability.Metrics
	Clock     clockwork.Clock
}

// ProviderError records one provider's failed cycle.
type ProviderError struct {
	ProviderID string           `json:"providerId"`
	ClientID   string           `json:"clientId"`
	Stage      string           `json:"stage"`
	Class      resilience.Class `json:"class"`
	Message    string           `json:"message"`

	err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %s", e.ProviderID, e.Stage, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.err }

// ProviderResult counts one provider's cycle. Counts from stages that
// completed before a failure are kept.
type ProviderResult struct {
	ProviderID    string        `json:"providerId"`
	Ingest        ingest.Result `json:"ingest"`
	Alerts        int64         `json:"alerts"`
	Notifications int64         `json:"notifications"`
}

// RunSummary is the outcome of one run.
type RunSummary struct {
	Message            string           `json:"message"`
	AlertsCreated      int64            `json:"alertsCreated"`
	EventsCreated      int64            `json:"eventsCreated"`
	ProcessedProviders int              `json:"processedProviders"`
	Errors             []*ProviderError `json:"errors"`
	Status             int              `json:"status"`
	Providers          []ProviderResult `json:"-"`
}

// Engine orchestrates provider cycles.
type Engine struct {
	deps Deps
	opts Options
}

// New creates an Engine. A nil clock uses wall time, nil metrics are
// replaced by an unregistered set and a nil locker by an in-process lock.
func New(deps Deps, opts Options) *Engine {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetricsForTesting()
	}
	if deps.Locker == nil {
		deps.Locker = runlock.NewMemory()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	return &Engine{deps: deps, opts: opts}
}

// Run processes up to limit due providers. Provider failures are recorded in
// the summary and never fail the run. The returned error is non-nil only when
// the run could not start: runlock.ErrLocked when another run holds the lock,
// or a failure to list providers.
func (e *Engine) Run(ctx context.Context, limit int) (RunSummary, error) {
	log := zap.L().With(zap.String("component", "engine"))
	start := e.deps.Clock.Now()

	lease, err := e.deps.Locker.Acquire(ctx, LockName, e.opts.RunTimeout)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			e.deps.Metrics.RunsLocked.Inc()
			log.Info("run skipped, another run holds the lock")
			return RunSummary{Message: "another run is in progress", Status: http.StatusConflict, Errors: []*ProviderError{}}, err
		}
		return RunSummary{}, eris.Wrap(err, "engine: acquire run lock")
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release run lock", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.opts.RunTimeout)
	defer cancel()

	providers, err := e.deps.Providers.FindEligibleProviders(ctx, start, limit)
	if err != nil {
		return RunSummary{}, eris.Wrap(err, "engine: find eligible providers")
	}

	summary := RunSummary{Errors: []*ProviderError{}, Status: http.StatusOK}
	if len(providers) == 0 {
		summary.Message = "no providers due"
		log.Info(summary.Message)
		return summary, nil
	}
	log.Info("selected providers", zap.Int("count", len(providers)))

	q, err := queue.New[ProviderResult](e.opts.Concurrency, e.deps.Metrics.QueueInFlight)
	if err != nil {
		return RunSummary{}, err
	}
	tasks := make([]queue.Task[ProviderResult], len(providers))
	for i, p := range providers {
		tasks[i] = func(ctx context.Context) (ProviderResult, error) {
			return e.processProvider(ctx, p)
		}
	}

	for i, r := range q.RunAll(ctx, tasks) {
		r.Value.ProviderID = providers[i].ID
		summary.Providers = append(summary.Providers, r.Value)
		summary.AlertsCreated += r.Value.Alerts
		summary.EventsCreated += r.Value.Ingest.Created
		if r.Err != nil {
			summary.Errors = append(summary.Errors, asProviderError(providers[i], r.Err))
			continue
		}
		summary.ProcessedProviders++
	}

	summary.Message = fmt.Sprintf("processed %d of %d providers", summary.ProcessedProviders, len(providers))
	elapsed := e.deps.Clock.Since(start)
	e.deps.Metrics.RunDuration.Observe(elapsed.Seconds())
	log.Info("run complete",
		zap.Int("processed", summary.ProcessedProviders),
		zap.Int("failed", len(summary.Errors)),
		zap.Int64("events_created", summary.EventsCreated),
		zap.Int64("alerts_created", summary.AlertsCreated),
		zap.Duration("elapsed", elapsed),
	)
	return summary, nil
}

// processProvider runs one provider's cycle. lastRun is advanced only when
// every stage succeeded.
func (e *Engine) processProvider(ctx context.Context, p model.Provider) (ProviderResult, error) {
	log := zap.L().With(
		zap.String("component", "engine"),
		zap.String("provider_id", p.ID),
		zap.String("client_id", p.ClientID),
	)
	res := ProviderResult{ProviderID: p.ID}
	start := e.deps.Clock.Now()
	defer func() {
		e.deps.Metrics.ProviderDuration.WithLabelValues(p.ClientID).Observe(e.deps.Clock.Since(start).Seconds())
	}()

	src, err := e.deps.Resolver.Resolve(p)
	if err != nil {
		return res, e.fail(p, StageResolve, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	events, err := src.FetchLatest(fetchCtx, provider.FetchRequest{
		ClientID:   p.ClientID,
		ProviderID: p.ID,
		Slice:      src.Slice(),
		APIKey:     p.ClientAPIKey,
		LastRun:    p.LastRun,
		Now:        start,
	})
	cancel()
	if err != nil {
		return res, e.fail(p, StageFetch, err)
	}

	res.Ingest, err = e.deps.Ingest.Ingest(ctx, p, events)
	if err != nil {
		return res, e.fail(p, StageIngest, err)
	}

	res.Alerts, err = e.deps.Matcher.Run(ctx, p, start)
	if err != nil {
		return res, e.fail(p, StageMatch, err)
	}

	if e.deps.Emitter != nil && res.Alerts > 0 {
		emitted, err := e.deps.Emitter.Emit(ctx)
		res.Notifications = emitted.Notifications
		if err != nil {
			return res, e.fail(p, StageNotify, err)
		}
	}

	if err := e.deps.Providers.UpdateLastRun(ctx, p.ID, start); err != nil {
		return res, e.fail(p, StageFinish, err)
	}

	log.Info("provider cycle complete",
		zap.Int("fetched", res.Ingest.Fetched),
		zap.Int64("created", res.Ingest.Created),
		zap.Int64("alerts", res.Alerts),
	)
	return res, nil
}

func (e *Engine) fail(p model.Provider, stage string, err error) *ProviderError {
	pe := newProviderError(p, stage, err)
	e.deps.Metrics.ProviderFailures.WithLabelValues(stage, string(pe.Class)).Inc()
	zap.L().Error("provider cycle failed",
		zap.String("component", "engine"),
		zap.String("provider_id", p.ID),
		zap.String("client_id", p.ClientID),
		zap.String("stage", stage),
		zap.String("class", string(pe.Class)),
		zap.Error(err),
	)
	return pe
}

func newProviderError(p model.Provider, stage string, err error) *ProviderError {
	return &ProviderError{
		ProviderID: p.ID,
		ClientID:   p.ClientID,
		Stage:      stage,
		Class:      resilience.ClassifyError(err),
		Message:    err.Error(),
		err:        err,
	}
}

// asProviderError normalizes a task error. Errors not produced by a stage,
// such as a recovered panic or a cancelled admission, are labelled with the
// provider and no stage.
func asProviderError(p model.Provider, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return newProviderError(p, "", err)
}
