// Package store defines the persistence contract of the fire-alert pipeline
// and its PostGIS and in-memory implementations.
package store

import (
	"context"
	"time"

	"github.com/plant-for-the-planet/firealert/internal/model"
)

// ProviderStore reads and schedules configured data sources.
type ProviderStore interface {
	// FindEligibleProviders returns active providers whose fetch interval has
	// elapsed at now, longest overdue first.
	FindEligibleProviders(ctx context.Context, now time.Time, limit int) ([]model.Provider, error)
	UpdateLastRun(ctx context.Context, providerID string, at time.Time) error
	ListProviders(ctx context.Context) ([]model.Provider, error)
	UpsertProvider(ctx context.Context, p model.Provider) error
}

// EventStore persists GeoEvents.
type EventStore interface {
	// FetchExistingIDs returns ids of events for providerID with event_date >= since.
	FetchExistingIDs(ctx context.Context, providerID string, since time.Time) ([]string, error)
	// InsertEvents writes events in batches of batchSize, skipping ids that
	// already exist, and returns the number of rows created.
	InsertEvents(ctx context.Context, events []model.GeoEvent, batchSize int) (int64, error)
	FindUnprocessedByProvider(ctx context.Context, providerID string, limit int) ([]string, error)
	MarkProcessed(ctx context.Context, ids []string) error
}

// MatchRequest scopes one spatial matching pass.
type MatchRequest struct {
	ProviderID    string
	ClientID      string
	Geostationary bool
	EventIDs      []string
	Now           time.Time
}

// AlertStore creates SiteAlerts from unprocessed events.
type AlertStore interface {
	// MatchBatch joins req.EventIDs against alertable sites, inserts the
	// resulting alerts and marks the events processed in one transaction.
	// It returns the number of alerts created.
	MatchBatch(ctx context.Context, req MatchRequest) (int64, error)
}

// SiteStore reads monitored sites.
type SiteStore interface {
	GetSite(ctx context.Context, id string) (*model.Site, error)
}

// EmitResult counts the outcome of one notification emission pass.
type EmitResult struct {
	Alerts        int64 `json:"alerts"`
	Notifications int64 `json:"notifications"`
}

// NotificationStore derives and tracks delivery obligations.
type NotificationStore interface {
	// CreateNotifications turns up to limit unprocessed alerts into one
	// notification per enabled and verified alert method of the site owner,
	// then flags those alerts processed.
	CreateNotifications(ctx context.Context, limit int) (EmitResult, error)
	PendingNotifications(ctx context.Context, limit int) ([]model.PendingNotification, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
}

// Maintenance holds explicitly invoked cleanup steps.
type Maintenance interface {
	// SweepStaleEvents marks unprocessed events older than olderThan processed.
	SweepStaleEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store is the full persistence contract.
type Store interface {
	ProviderStore
	EventStore
	AlertStore
	SiteStore
	NotificationStore
	Maintenance

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
