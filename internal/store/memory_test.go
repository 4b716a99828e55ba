package store

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plant-for-the-planet/firealert/internal/model"
	"github.com/plant-for-the-planet/firealert/internal/spatial"
)

var matchNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func square(t *testing.T, lng, lat, size float64) model.Site {
	t.Helper()
	p, err := spatial.NewPolygon([][2]float64{
		{lng, lat}, {lng + size, lat}, {lng + size, lat + size}, {lng, lat + size},
	})
	require.NoError(t, err)
	return model.Site{
		GeometryType:      model.GeometryPolygon,
		Geometry:          p,
		DetectionGeometry: p,
		IsMonitored:       true,
	}
}

func fireEvent(id string, lat, lng float64, slice string) model.GeoEvent {
	return model.GeoEvent{
		ID:               id,
		Type:             model.EventTypeFire,
		Latitude:         lat,
		Longitude:        lng,
		EventDate:        matchNow.Add(-time.Hour),
		Confidence:       model.ConfidenceHigh,
		ProviderID:       "p1",
		ProviderClientID: "VIIRS_SNPP_NRT",
		Slice:            slice,
	}
}

func matchAll(t *testing.T, m *Memory, req MatchRequest) int64 {
	t.Helper()
	if req.Now.IsZero() {
		req.Now = matchNow
	}
	n, err := m.MatchBatch(context.Background(), req)
	require.NoError(t, err)
	return n
}

func TestMemory_Containment(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
		want     int64
	}{
		{"inside", 1.05, 36.05, 1},
		{"outside", 2.0, 36.05, 0},
		{"on boundary", 1.0, 36.05, 1},
		{"on vertex", 1.0, 36.0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory(nil)
			site := square(t, 36.0, 1.0, 0.1)
			site.ID, site.Slices = "s1", []string{"33"}
			m.PutSite(site)
			_, err := m.InsertEvents(context.Background(), []model.GeoEvent{fireEvent("e1", tt.lat, tt.lng, "33")}, 0)
			require.NoError(t, err)

			assert.Equal(t, tt.want, matchAll(t, m, MatchRequest{ProviderID: "p1", EventIDs: []string{"e1"}}))
		})
	}
}

func TestMemory_ExclusionRules(t *testing.T) {
	future := matchNow.Add(time.Hour)
	past := matchNow.Add(-time.Hour)
	deleted := matchNow.Add(-24 * time.Hour)

	tests := []struct {
		name   string
		mutate func(*model.Site)
		want   int64
	}{
		{"alertable", func(*model.Site) {}, 1},
		{"deleted", func(s *model.Site) { s.DeletedAt = &deleted }, 0},
		{"unmonitored", func(s *model.Site) { s.IsMonitored = false }, 0},
		{"suppressed", func(s *model.Site) { s.StopAlertUntil = &future }, 0},
		{"suppression elapsed", func(s *model.Site) { s.StopAlertUntil = &past }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory(nil)
			site := square(t, 36.0, 1.0, 0.1)
			site.ID, site.Slices = "s1", []string{"33"}
			tt.mutate(&site)
			m.PutSite(site)
			_, err := m.InsertEvents(context.Background(), []model.GeoEvent{fireEvent("e1", 1.05, 36.05, "33")}, 0)
			require.NoError(t, err)

			assert.Equal(t, tt.want, matchAll(t, m, MatchRequest{EventIDs: []string{"e1"}}))
		})
	}
}

func TestMemory_SliceGating(t *testing.T) {
	m := NewMemory(nil)
	site := square(t, 36.0, 1.0, 0.1)
	site.ID, site.Slices = "s1", []string{"42"}
	m.PutSite(site)
	_, err := m.InsertEvents(context.Background(), []model.GeoEvent{
		fireEvent("in-slice", 1.05, 36.05, "42"),
		fireEvent("other-slice", 1.06, 36.06, "33"),
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), matchAll(t, m, MatchRequest{EventIDs: []string{"in-slice", "other-slice"}}))
	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.InDelta(t, 1.05, alerts[0].Latitude, 1e-9)
}

func TestMemory_AlertKeyUniqueness(t *testing.T) {
	m := NewMemory(nil)
	site := square(t, 36.0, 1.0, 0.1)
	site.ID, site.Slices = "s1", []string{"33"}
	m.PutSite(site)

	// Same coordinates and time from two sources.
	a := fireEvent("a", 1.05, 36.05, "33")
	b := fireEvent("b", 1.05, 36.05, "33")
	b.ProviderClientID = "MODIS_NRT"
	_, err := m.InsertEvents(context.Background(), []model.GeoEvent{a, b}, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), matchAll(t, m, MatchRequest{EventIDs: []string{"a", "b"}}))
	assert.Equal(t, int64(0), matchAll(t, m, MatchRequest{EventIDs: []string{"a", "b"}}))
}

func TestMemory_MultiPolygonFragments(t *testing.T) {
	west := square(t, 36.0, 1.0, 0.1)
	east := square(t, 37.0, 1.0, 0.1)
	site := model.Site{
		ID:           "mp",
		GeometryType: model.GeometryMultiPolygon,
		Slices:       []string{"33"},
		IsMonitored:  true,
		Fragments: []model.SiteFragment{
			{Index: 0, DetectionGeometry: west.DetectionGeometry, Slices: []string{"33"}},
			{Index: 1, DetectionGeometry: east.DetectionGeometry, Slices: []string{"34"}},
		},
		Geometry: west.Geometry,
	}

	t.Run("orbital uses site slices", func(t *testing.T) {
		m := NewMemory(nil)
		m.PutSite(site)
		_, err := m.InsertEvents(context.Background(), []model.GeoEvent{fireEvent("e", 1.05, 37.05, "33")}, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), matchAll(t, m, MatchRequest{EventIDs: []string{"e"}}))
	})

	t.Run("geostationary uses fragment slices", func(t *testing.T) {
		m := NewMemory(nil)
		m.PutSite(site)
		e1 := fireEvent("e1", 1.05, 37.05, "33")
		e2 := fireEvent("e2", 1.06, 37.06, "34")
		e1.ProviderClientID, e2.ProviderClientID = model.ClientIDGeostationary, model.ClientIDGeostationary
		_, err := m.InsertEvents(context.Background(), []model.GeoEvent{e1, e2}, 0)
		require.NoError(t, err)

		n := matchAll(t, m, MatchRequest{
			ClientID: model.ClientIDGeostationary, Geostationary: true, EventIDs: []string{"e1", "e2"},
		})
		assert.Equal(t, int64(1), n)
		assert.InDelta(t, 1.06, m.Alerts()[0].Latitude, 1e-9)
	})

	t.Run("one alert per site across fragments", func(t *testing.T) {
		overlap := site
		overlap.Fragments = []model.SiteFragment{
			{Index: 0, DetectionGeometry: west.DetectionGeometry, Slices: []string{"33"}},
			{Index: 1, DetectionGeometry: west.DetectionGeometry, Slices: []string{"33"}},
		}
		m := NewMemory(nil)
		m.PutSite(overlap)
		_, err := m.InsertEvents(context.Background(), []model.GeoEvent{fireEvent("e", 1.05, 36.05, "33")}, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), matchAll(t, m, MatchRequest{EventIDs: []string{"e"}}))
	})
}

func TestMemory_MatchBatch_MarksProcessed(t *testing.T) {
	m := NewMemory(nil)
	_, err := m.InsertEvents(context.Background(), []model.GeoEvent{fireEvent("e1", 5, 5, "1")}, 0)
	require.NoError(t, err)

	matchAll(t, m, MatchRequest{EventIDs: []string{"e1"}})
	assert.True(t, m.Events()[0].IsProcessed)

	ids, err := m.FindUnprocessedByProvider(context.Background(), "p1", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemory_MatchBatch_GeostationaryMarkIsScoped(t *testing.T) {
	m := NewMemory(nil)
	own := fireEvent("own", 5, 5, "1")
	own.ProviderClientID = model.ClientIDGeostationary
	other := fireEvent("other", 6, 6, "1")
	_, err := m.InsertEvents(context.Background(), []model.GeoEvent{own, other}, 0)
	require.NoError(t, err)

	matchAll(t, m, MatchRequest{
		ClientID: model.ClientIDGeostationary, Geostationary: true, EventIDs: []string{"own", "other"},
	})

	byID := map[string]bool{}
	for _, e := range m.Events() {
		byID[e.ID] = e.IsProcessed
	}
	assert.True(t, byID["own"])
	assert.False(t, byID["other"])
}

func TestMemory_Distance(t *testing.T) {
	m := NewMemory(nil)
	site := model.Site{
		ID:                "pt",
		GeometryType:      model.GeometryPoint,
		Geometry:          spatial.NewPoint(1.0, 36.0),
		DetectionGeometry: spatial.NewPoint(1.0, 36.0),
		Slices:            []string{"33"},
		IsMonitored:       true,
	}
	m.PutSite(site)
	_, err := m.InsertEvents(context.Background(), []model.GeoEvent{fireEvent("e", 1.0, 36.0, "33")}, 0)
	require.NoError(t, err)

	require.Equal(t, int64(1), matchAll(t, m, MatchRequest{EventIDs: []string{"e"}}))
	assert.InDelta(t, 0, m.Alerts()[0].Distance, 1e-6)
}

func TestMemory_FetchExistingIDs_Window(t *testing.T) {
	m := NewMemory(nil)
	now := matchNow
	recent := fireEvent("recent", 1, 1, "1")
	recent.EventDate = now.Add(-11 * time.Hour)
	old := fireEvent("old", 2, 2, "1")
	old.EventDate = now.Add(-13 * time.Hour)
	_, err := m.InsertEvents(context.Background(), []model.GeoEvent{recent, old}, 0)
	require.NoError(t, err)

	ids, err := m.FetchExistingIDs(context.Background(), "p1", now.Add(-12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"recent"}, ids)

	// The storage-level id check still rejects the old event.
	n, err := m.InsertEvents(context.Background(), []model.GeoEvent{old}, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemory_FindEligibleProviders(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	now := matchNow
	longAgo := now.Add(-5 * time.Hour)
	recently := now.Add(-5 * time.Minute)
	justDue := now.Add(-30 * time.Minute)

	for _, p := range []model.Provider{
		{ID: "recent", IsActive: true, FetchFrequencyMinutes: 30, LastRun: &recently},
		{ID: "due", IsActive: true, FetchFrequencyMinutes: 30, LastRun: &justDue},
		{ID: "overdue", IsActive: true, FetchFrequencyMinutes: 30, LastRun: &longAgo},
		{ID: "never", IsActive: true, FetchFrequencyMinutes: 30},
		{ID: "inactive", IsActive: false, FetchFrequencyMinutes: 30},
	} {
		require.NoError(t, m.UpsertProvider(ctx, p))
	}

	got, err := m.FindEligibleProviders(ctx, now, 10)
	require.NoError(t, err)
	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"never", "overdue", "due"}, ids)

	got, err = m.FindEligibleProviders(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "never", got[0].ID)
}

func TestMemory_UpdateLastRun_UnknownProvider(t *testing.T) {
	m := NewMemory(nil)
	err := m.UpdateLastRun(context.Background(), "ghost", matchNow)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
}

func TestMemory_Notifications(t *testing.T) {
	clock := clockwork.NewFakeClockAt(matchNow)
	m := NewMemory(clock)
	ctx := context.Background()

	site := square(t, 36.0, 1.0, 0.1)
	site.ID, site.UserID, site.Slices = "s1", "u1", []string{"33"}
	m.PutSite(site)
	m.PutAlertMethod(model.AlertMethod{UserID: "u1", Method: "email", Destination: "a@x", IsEnabled: true, IsVerified: true})
	m.PutAlertMethod(model.AlertMethod{UserID: "u1", Method: "sms", Destination: "+1", IsEnabled: true, IsVerified: false})
	m.PutAlertMethod(model.AlertMethod{UserID: "u1", Method: "device", Destination: "d1", IsEnabled: false, IsVerified: true})
	m.PutAlertMethod(model.AlertMethod{UserID: "u2", Method: "email", Destination: "b@x", IsEnabled: true, IsVerified: true})

	_, err := m.InsertEvents(ctx, []model.GeoEvent{fireEvent("e", 1.05, 36.05, "33")}, 0)
	require.NoError(t, err)
	matchAll(t, m, MatchRequest{EventIDs: []string{"e"}})

	res, err := m.CreateNotifications(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, EmitResult{Alerts: 1, Notifications: 1}, res)

	again, err := m.CreateNotifications(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, EmitResult{}, again)

	pending, err := m.PendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a@x", pending[0].Destination)
	assert.Equal(t, "s1", pending[0].Alert.SiteID)

	require.NoError(t, m.MarkDelivered(ctx, pending[0].ID, clock.Now()))
	pending, err = m.PendingNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.True(t, m.Notifications()[0].IsDelivered)
}

func TestMemory_SweepStaleEvents(t *testing.T) {
	m := NewMemory(nil)
	old := fireEvent("old", 1, 1, "1")
	old.EventDate = matchNow.Add(-48 * time.Hour)
	fresh := fireEvent("fresh", 2, 2, "1")
	_, err := m.InsertEvents(context.Background(), []model.GeoEvent{old, fresh}, 0)
	require.NoError(t, err)

	n, err := m.SweepStaleEvents(context.Background(), matchNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err := m.FindUnprocessedByProvider(context.Background(), "p1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids)
}

func TestMemory_GetSite(t *testing.T) {
	m := NewMemory(nil)
	deleted := matchNow
	m.PutSite(model.Site{ID: "live"})
	m.PutSite(model.Site{ID: "gone", DeletedAt: &deleted})

	s, err := m.GetSite(context.Background(), "live")
	require.NoError(t, err)
	assert.Equal(t, "live", s.ID)

	_, err = m.GetSite(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrSiteNotFound)
	_, err = m.GetSite(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSiteNotFound)
}
