// Package provider normalizes external fire-detection feeds into GeoEvents.
//
// Each source family implements Adapter. An Adapter validates a provider's
// stored configuration once and returns a Source bound to it; the Source
// performs the network fetch and wire-format parsing. Adding a feed means
// implementing Adapter and registering it at startup.
package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/plant-for-the-planet/firealert/internal/model"
)

// Adapter normalizes one family of sources.
type Adapter interface {
	// Key returns the unique adapter key (e.g., "FIRMS", "GOES-16").
	Key() string

	// Initialize validates a provider config and returns a Source bound to
	// it. A missing required field yields a *ConfigurationError.
	Initialize(config json.RawMessage) (Source, error)
}

// Source fetches events for one configured provider.
type Source interface {
	// Slice returns the geographic partition key stamped on every event.
	Slice() string

	// FetchLatest downloads and normalizes the events published since
	// req.LastRun. Returned events have no ID; it is computed downstream.
	FetchLatest(ctx context.Context, req FetchRequest) ([]model.GeoEvent, error)
}

// FetchRequest carries the per-provider parameters of a fetch.
type FetchRequest struct {
	ClientID   string
	ProviderID string
	Slice      string
	APIKey     string
	LastRun    *time.Time
	Now        time.Time
}
