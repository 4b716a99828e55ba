package provider

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/plant-for-the-planet/firealert/internal/fetcher"
	"github.com/plant-for-the-planet/firealert/internal/model"
	"github.com/plant-for-the-planet/firealert/internal/spatial"
)

// GOESKey is the adapter key of the GOES-16 geostationary fire product.
const GOESKey = "GOES-16"

const (
	goesMaxBodyBytes = 128 << 20
	// goesDefaultLookback applies when a provider has never run.
	goesDefaultLookback = 6 * time.Hour
)

// GOES normalizes imagery-derived GeoJSON fire detections.
type GOES struct {
	fetcher fetcher.Fetcher
}

// NewGOES creates the GOES-16 adapter.
func NewGOES(f fetcher.Fetcher) *GOES {
	return &GOES{fetcher: f}
}

// Key implements Adapter.
func (a *GOES) Key() string { return GOESKey }

// Initialize implements Adapter.
func (a *GOES) Initialize(raw json.RawMessage) (Source, error) {
	cfg, err := decodeConfig(GOESKey, raw, goesRules)
	if err != nil {
		return nil, err
	}
	box, err := validateCommon(GOESKey, cfg.BaseURL, cfg.BBox)
	if err != nil {
		return nil, err
	}
	return &goesSource{cfg: cfg, bbox: box, fetcher: a.fetcher}, nil
}

type goesSource struct {
	cfg     GOESConfig
	bbox    spatial.BBox
	fetcher fetcher.Fetcher
}

func (s *goesSource) Slice() string { return s.cfg.Slice }

func (s *goesSource) requestURL(since time.Time) (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", eris.Wrap(err, "parse apiUrl")
	}
	q := u.Query()
	q.Set("bbox", s.bbox.String())
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *goesSource) FetchLatest(ctx context.Context, req FetchRequest) ([]model.GeoEvent, error) {
	since := req.Now.Add(-goesDefaultLookback)
	if req.LastRun != nil {
		since = *req.LastRun
	}

	rawURL, err := s.requestURL(since)
	if err != nil {
		return nil, &ConfigurationError{Adapter: GOESKey, Reason: err.Error()}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.Credentials.PrivateKeyToken)
	header.Set("X-Client-Email", s.cfg.Credentials.ClientEmail)
	header.Set("Accept", "application/geo+json")

	body, err := s.fetcher.Download(ctx, rawURL, header)
	if err != nil {
		return nil, &FetchError{Adapter: GOESKey, Stage: "download", Err: err}
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(body, goesMaxBodyBytes))
	if err != nil {
		return nil, &FetchError{Adapter: GOESKey, Stage: "download", Err: eris.Wrap(err, "read body")}
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, &FetchError{Adapter: GOESKey, Stage: "parse", Err: eris.Wrap(err, "decode feature collection")}
	}

	log := zap.L().With(
		zap.String("component", "provider.goes"),
		zap.String("provider_id", req.ProviderID),
		zap.String("client_id", req.ClientID),
	)

	events := make([]model.GeoEvent, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		e, ok := s.toEvent(f, req)
		if !ok {
			skipped++
			continue
		}
		events = append(events, e)
	}
	if skipped > 0 {
		log.Warn("goes: skipped unusable features", zap.Int("skipped", skipped), zap.Int("kept", len(events)))
	}
	return events, nil
}

func (s *goesSource) toEvent(f *geojson.Feature, req FetchRequest) (model.GeoEvent, bool) {
	if f == nil || f.Geometry == nil {
		return model.GeoEvent{}, false
	}
	lat, lng, err := spatial.Centroid(f.Geometry)
	if err != nil || !s.bbox.Contains(lat, lng) {
		return model.GeoEvent{}, false
	}

	at, ok := featureTime(f.Properties)
	if !ok {
		return model.GeoEvent{}, false
	}

	mask := -1
	if v, ok := f.Properties["mask"].(float64); ok && v == math.Trunc(v) {
		mask = int(v)
	}

	raw, err := json.Marshal(f.Properties)
	if err != nil {
		return model.GeoEvent{}, false
	}

	return model.GeoEvent{
		Type:             model.EventTypeFire,
		Latitude:         lat,
		Longitude:        lng,
		EventDate:        at,
		Confidence:       goesConfidence(mask),
		ProviderID:       req.ProviderID,
		ProviderClientID: req.ClientID,
		Slice:            s.cfg.Slice,
		RawData:          raw,
	}, true
}

// featureTime reads the scan time from the "time" or "scan_time" property.
func featureTime(props map[string]interface{}) (time.Time, bool) {
	for _, key := range []string{"time", "scan_time"} {
		v, ok := props[key].(string)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}
