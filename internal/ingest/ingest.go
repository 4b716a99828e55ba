// Package ingest turns fetched events into unique, persisted GeoEvent rows.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/plant-for-the-planet/firealert/internal/checksum"
	"github.com/plant-for-the-planet/firealert/internal/model"
	"github.com/plant-for-the-planet/firealert/internal/observability"
	"github.com/plant-for-the-planet/firealert/internal/store"
)

// Defaults applied when Options fields are zero.
const (
	DefaultDedupWindow = 12 * time.Hour
	DefaultChunkSize   = 2000
	DefaultBatchSize   = 1000
)

// Options tunes the dedup window and write sizes.
type Options struct {
	DedupWindow time.Duration // how far back stored ids are compared
	ChunkSize   int           // events deduped and written per step
	BatchSize   int           // rows per insert transaction
}

func (o Options) withDefaults() Options {
	if o.DedupWindow <= 0 {
		o.DedupWindow = DefaultDedupWindow
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Result counts one ingestion.
type Result struct {
	Fetched    int   `json:"fetched"`
	New        int   `json:"new"`        // events not seen in memory or in the window
	Created    int64 `json:"created"`    // rows actually written
	Duplicates int   `json:"duplicates"` // events dropped before writing
}

// Service dedupes and persists events for one provider at a time.
type Service struct {
	events  store.EventStore
	metrics *observability.Metrics
	clock   clockwork.Clock
	opts    Options
}

// New creates a Service. A nil clock uses wall time and nil metrics are
// replaced by an unregistered set.
func New(events store.EventStore, metrics *observability.Metrics, clock clockwork.Clock, opts Options) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Service{events: events, metrics: metrics, clock: clock, opts: opts.withDefaults()}
}

// Ingest assigns checksum ids to events, drops those already seen within
// the batch or stored within the dedup window, and writes the rest chunk by
// chunk. A failed chunk is recorded and the remaining chunks are still
// written; the returned error joins every chunk failure.
func (s *Service) Ingest(ctx context.Context, p model.Provider, events []model.GeoEvent) (Result, error) {
	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("provider_id", p.ID),
		zap.String("client_id", p.ClientID),
	)
	res := Result{Fetched: len(events)}
	if len(events) == 0 {
		return res, nil
	}

	for i := range events {
		if events[i].Type == "" {
			events[i].Type = model.EventTypeFire
		}
		if events[i].ProviderID == "" {
			events[i].ProviderID = p.ID
		}
		if events[i].ProviderClientID == "" {
			events[i].ProviderClientID = p.ClientID
		}
	}
	checksum.Assign(events)

	since := s.clock.Now().Add(-s.opts.DedupWindow)
	existing, err := s.events.FetchExistingIDs(ctx, p.ID, since)
	if err != nil {
		return res, eris.Wrap(err, "ingest: fetch existing ids")
	}
	seen := make(map[string]struct{}, len(existing)+len(events))
	for _, id := range existing {
		seen[id] = struct{}{}
	}

	var errs []error
	for start := 0; start < len(events); start += s.opts.ChunkSize {
		end := min(start+s.opts.ChunkSize, len(events))
		fresh := dedupe(events[start:end], seen)
		res.New += len(fresh)
		if len(fresh) == 0 {
			continue
		}

		created, err := s.events.InsertEvents(ctx, fresh, s.opts.BatchSize)
		res.Created += created
		if err != nil {
			log.Error("chunk insert failed", zap.Int("offset", start), zap.Error(err))
			errs = append(errs, eris.Wrapf(err, "ingest: chunk at offset %d", start))
		}
	}
	res.Duplicates = res.Fetched - res.New

	s.metrics.EventsFetched.WithLabelValues(p.ClientID).Add(float64(res.Fetched))
	s.metrics.EventsCreated.WithLabelValues(p.ClientID).Add(float64(res.Created))
	s.metrics.EventsDuplicates.WithLabelValues(p.ClientID).Add(float64(res.Duplicates))

	log.Info("ingested events",
		zap.Int("fetched", res.Fetched),
		zap.Int("new", res.New),
		zap.Int64("created", res.Created),
	)
	return res, errors.Join(errs...)
}

// dedupe returns the events of chunk whose id is not in seen, adding each
// returned id to seen.
func dedupe(chunk []model.GeoEvent, seen map[string]struct{}) []model.GeoEvent {
	out := make([]model.GeoEvent, 0, len(chunk))
	for _, e := range chunk {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
