package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/plant-for-the-planet/firealert/internal/model"
	"github.com/plant-for-the-planet/firealert/internal/spatial"
)

// Memory is an in-process Store. It applies the same matching rules as the
// PostGIS queries and is used for tests and dry runs.
type Memory struct {
	mu    sync.Mutex
	clock clockwork.Clock

	providers     map[string]model.Provider
	events        map[string]model.GeoEvent
	sites         map[string]model.Site
	alerts        []model.SiteAlert
	alertKeys     map[model.AlertKey]bool
	methods       []model.AlertMethod
	notifications []model.Notification
	notifyKeys    map[[3]string]bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store. A nil clock uses wall time.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:      clock,
		providers:  make(map[string]model.Provider),
		events:     make(map[string]model.GeoEvent),
		sites:      make(map[string]model.Site),
		alertKeys:  make(map[model.AlertKey]bool),
		notifyKeys: make(map[[3]string]bool),
	}
}

func (m *Memory) Ping(context.Context) error    { return nil }
func (m *Memory) Migrate(context.Context) error { return nil }
func (m *Memory) Close() error                  { return nil }

// PutSite adds or replaces a site.
func (m *Memory) PutSite(s model.Site) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites[s.ID] = s
}

// PutAlertMethod adds a delivery channel.
func (m *Memory) PutAlertMethod(am model.AlertMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods = append(m.methods, am)
}

// Events returns a snapshot of stored events ordered by id.
func (m *Memory) Events() []model.GeoEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.GeoEvent, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Alerts returns a snapshot of stored alerts in creation order.
func (m *Memory) Alerts() []model.SiteAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.alerts)
}

// Notifications returns a snapshot of stored notifications in creation order.
func (m *Memory) Notifications() []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.notifications)
}

// Provider returns the stored provider with id.
func (m *Memory) Provider(id string) (model.Provider, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	return p, ok
}

func (m *Memory) FindEligibleProviders(_ context.Context, now time.Time, limit int) ([]model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Provider
	for _, p := range m.providers {
		if p.IsDue(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].DueAt(), out[j].DueAt()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateLastRun(_ context.Context, providerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[providerID]
	if !ok {
		return persistErr("update last run", errUnknownProvider(providerID))
	}
	p.LastRun = &at
	m.providers[providerID] = p
	return nil
}

func (m *Memory) ListProviders(context.Context) ([]model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertProvider(_ context.Context, p model.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.providers[p.ID]; ok && p.LastRun == nil {
		p.LastRun = prev.LastRun
	}
	m.providers[p.ID] = p
	return nil
}

func (m *Memory) FetchExistingIDs(_ context.Context, providerID string, since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, e := range m.events {
		if e.ProviderID == providerID && !e.EventDate.Before(since) {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) InsertEvents(_ context.Context, events []model.GeoEvent, _ int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var created int64
	for _, e := range events {
		if _, ok := m.events[e.ID]; ok {
			continue
		}
		m.events[e.ID] = e
		created++
	}
	return created, nil
}

func (m *Memory) FindUnprocessedByProvider(_ context.Context, providerID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []model.GeoEvent
	for _, e := range m.events {
		if e.ProviderID == providerID && !e.IsProcessed {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].EventDate.Equal(pending[j].EventDate) {
			return pending[i].EventDate.Before(pending[j].EventDate)
		}
		return pending[i].ID < pending[j].ID
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	ids := make([]string, len(pending))
	for i, e := range pending {
		ids[i] = e.ID
	}
	return ids, nil
}

func (m *Memory) MarkProcessed(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if e, ok := m.events[id]; ok {
			e.IsProcessed = true
			m.events[id] = e
		}
	}
	return nil
}

func (m *Memory) MatchBatch(_ context.Context, req MatchRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	siteIDs := make([]string, 0, len(m.sites))
	for id := range m.sites {
		siteIDs = append(siteIDs, id)
	}
	sort.Strings(siteIDs)

	var created int64
	for _, id := range req.EventIDs {
		e, ok := m.events[id]
		if !ok || e.IsProcessed {
			continue
		}
		for _, sid := range siteIDs {
			site := m.sites[sid]
			if !site.Alertable(req.Now) || !matches(site, e, req.Geostationary) {
				continue
			}
			alert := model.SiteAlert{
				ID:         uuid.NewString(),
				Type:       e.Type,
				EventDate:  e.EventDate,
				DetectedBy: e.ProviderClientID,
				Confidence: e.Confidence,
				Latitude:   e.Latitude,
				Longitude:  e.Longitude,
				SiteID:     site.ID,
				Distance:   siteDistance(site, e),
				RawData:    e.RawData,
			}
			if m.alertKeys[alert.Key()] {
				continue
			}
			m.alertKeys[alert.Key()] = true
			m.alerts = append(m.alerts, alert)
			created++
		}
	}

	for _, id := range req.EventIDs {
		e, ok := m.events[id]
		if !ok {
			continue
		}
		if req.Geostationary && e.ProviderClientID != req.ClientID {
			continue
		}
		e.IsProcessed = true
		m.events[id] = e
	}
	return created, nil
}

func matches(site model.Site, e model.GeoEvent, geostationary bool) bool {
	switch site.GeometryType {
	case model.GeometryPoint, model.GeometryPolygon:
		return site.InSlice(e.Slice) && spatial.Contains(site.DetectionGeometry, e.Latitude, e.Longitude)
	case model.GeometryMultiPolygon:
		for _, f := range site.Fragments {
			inSlice := site.InSlice(e.Slice)
			if geostationary {
				inSlice = slices.Contains(f.Slices, e.Slice)
			}
			if inSlice && spatial.Contains(f.DetectionGeometry, e.Latitude, e.Longitude) {
				return true
			}
		}
	}
	return false
}

func siteDistance(site model.Site, e model.GeoEvent) float64 {
	g := site.Geometry
	if g == nil {
		g = site.DetectionGeometry
	}
	return spatial.DistanceMeters(g, e.Latitude, e.Longitude)
}

func (m *Memory) GetSite(_ context.Context, id string) (*model.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[id]
	if !ok || s.DeletedAt != nil {
		return nil, ErrSiteNotFound
	}
	return &s, nil
}

func (m *Memory) CreateNotifications(_ context.Context, limit int) (EmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res EmitResult
	now := m.clock.Now()
	for i := range m.alerts {
		if limit > 0 && res.Alerts >= int64(limit) {
			break
		}
		a := &m.alerts[i]
		if a.IsProcessed {
			continue
		}
		owner := m.sites[a.SiteID].UserID
		for _, am := range m.methods {
			if am.UserID != owner || !am.IsEnabled || !am.IsVerified {
				continue
			}
			key := [3]string{a.ID, am.Method, am.Destination}
			if m.notifyKeys[key] {
				continue
			}
			m.notifyKeys[key] = true
			m.notifications = append(m.notifications, model.Notification{
				ID:          uuid.NewString(),
				SiteAlertID: a.ID,
				AlertMethod: am.Method,
				Destination: am.Destination,
				CreatedAt:   now,
			})
			res.Notifications++
		}
		a.IsProcessed = true
		res.Alerts++
	}
	return res, nil
}

func (m *Memory) PendingNotifications(_ context.Context, limit int) ([]model.PendingNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := make(map[string]model.SiteAlert, len(m.alerts))
	for _, a := range m.alerts {
		byID[a.ID] = a
	}
	var out []model.PendingNotification
	for _, n := range m.notifications {
		if n.IsDelivered {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, model.PendingNotification{Notification: n, Alert: byID[n.SiteAlertID]})
	}
	return out, nil
}

func (m *Memory) MarkDelivered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		n := &m.notifications[i]
		if n.ID == id && !n.IsDelivered {
			n.IsDelivered = true
			n.DeliveredAt = &at
		}
	}
	return nil
}

func (m *Memory) SweepStaleEvents(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.events {
		if !e.IsProcessed && e.EventDate.Before(olderThan) {
			e.IsProcessed = true
			m.events[id] = e
			n++
		}
	}
	return n, nil
}

type errUnknownProvider string

func (e errUnknownProvider) Error() string { return "unknown provider " + string(e) }
