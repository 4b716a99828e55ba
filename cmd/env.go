package main

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/plant-for-the-planet/firealert/internal/config"
	"github.com/plant-for-the-planet/firealert/internal/engine"
	"github.com/plant-for-the-planet/firealert/internal/fetcher"
	"github.com/plant-for-the-planet/firealert/internal/ingest"
	"github.com/plant-for-the-planet/firealert/internal/matching"
	"github.com/plant-for-the-planet/firealert/internal/monitoring"
	"github.com/plant-for-the-planet/firealert/internal/notify"
	"github.com/plant-for-the-planet/firealert/internal/observability"
	"github.com/plant-for-the-planet/firealert/internal/provider"
	"github.com/plant-for-the-planet/firealert/internal/runlock"
	"github.com/plant-for-the-planet/firealert/internal/store"
)

// appEnv holds the initialized store, metrics and pipeline shared by the
// run, serve and notify commands.
type appEnv struct {
	Store    *store.Postgres
	Sites    store.SiteStore
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Clock    clockwork.Clock
	Engine   *engine.Engine
	Runner   *monitoring.Watched

	closers []func() error
}

// Close releases resources held by the environment in reverse order.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// initStore opens the Postgres store. Callers own Close.
func initStore(ctx context.Context) (*store.Postgres, error) {
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

// initEnv validates the config for mode, opens and migrates the store and
// builds the pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Sites: st, Clock: clockwork.NewRealClock()}
	env.closers = append(env.closers, st.Close)

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env.Registry = prometheus.NewRegistry()
	env.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	env.Metrics = observability.NewMetrics(env.Registry)

	if cfg.Cache.SiteEnabled {
		env.Sites = store.NewCachedSites(st, cfg.Cache.SiteMaxEntries, cfg.Cache.SiteTTL, env.Clock)
	}

	if mode == "notify" {
		return env, nil
	}

	locker, err := initLocker(ctx, env)
	if err != nil {
		env.Close()
		return nil, err
	}

	registry, err := initProviders()
	if err != nil {
		env.Close()
		return nil, err
	}

	p := cfg.Pipeline
	env.Engine = engine.New(engine.Deps{
		Providers: st,
		Resolver: provider.NewResolver(registry, provider.ResolverOptions{
			CacheEnabled: cfg.Cache.ProviderConfigEnabled,
			CacheTTL:     cfg.Cache.ProviderConfigTTL,
			Clock:        env.Clock,
		}),
		Ingest: ingest.New(st, env.Metrics, env.Clock, ingest.Options{
			DedupWindow: time.Duration(p.DedupWindowHours) * time.Hour,
			ChunkSize:   p.ChunkSize,
			BatchSize:   p.InsertBatchSize,
		}),
		Matcher: matching.New(st, st, env.Metrics, matching.Options{
			BatchSize:              p.MatchBatchSize,
			GeostationaryBatchSize: p.GeostationaryMatchBatchSize,
		}),
		Emitter: notify.NewEmitter(st, env.Metrics, cfg.Notify.BatchSize),
		Locker:  locker,
		Metrics: env.Metrics,
		Clock:   env.Clock,
	}, engine.Options{
		Concurrency:  p.Concurrency,
		FetchTimeout: p.FetchTimeout,
		RunTimeout:   p.RunTimeout,
	})
	env.Runner = monitoring.Watch(env.Engine, monitoring.NewAlerter(cfg.Monitoring, env.Clock))
	return env, nil
}

// initProviders registers the built-in adapters over a shared fetcher.
func initProviders() (*provider.Registry, error) {
	f := &fetcher.Multi{
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout:      cfg.Pipeline.FetchTimeout,
			RateLimiters: fetcher.DefaultRateLimiters(),
		}),
		FTP: fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: cfg.Pipeline.FetchTimeout}),
	}
	return provider.NewRegistry(provider.NewFIRMS(f), provider.NewGOES(f))
}

func initLocker(ctx context.Context, env *appEnv) (runlock.Locker, error) {
	switch cfg.Pipeline.Lock {
	case "postgres":
		return runlock.NewPostgres(env.Store.Pool(), env.Clock), nil
	case "redis":
		client, err := runlock.DialRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, client.Close)
		return runlock.NewRedis(client), nil
	default:
		return runlock.NewMemory(), nil
	}
}

// initNotifier builds the delivery chain from config. Webhook and email
// methods go to the webhook sink when one is configured; everything else is
// published to Kafka when brokers are set, and logged otherwise.
func initNotifier(env *appEnv, nc config.NotifyConfig) notify.Notifier {
	var fallback notify.Notifier = notify.LogNotifier{}
	if len(nc.KafkaBrokers) > 0 {
		k := notify.NewKafkaNotifier(nc.KafkaBrokers, nc.KafkaTopic)
		env.closers = append(env.closers, k.Close)
		fallback = k
	}
	r := notify.NewRouter(fallback)
	r.Handle("webhook", notify.NewWebhookNotifier(""))
	if nc.WebhookURL != "" {
		r.Handle("email", notify.NewWebhookNotifier(nc.WebhookURL))
	}
	return r
}
