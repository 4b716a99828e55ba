package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/plant-for-the-planet/firealert/internal/fetcher"
	"github.com/plant-for-the-planet/firealert/internal/model"
	"github.com/plant-for-the-planet/firealert/internal/spatial"
)

// FIRMSKey is the adapter key of NASA FIRMS area-CSV providers.
const FIRMSKey = "FIRMS"

// FIRMS client ids.
const (
	ClientMODIS       = "MODIS_NRT"
	ClientVIIRSSNPP   = "VIIRS_SNPP_NRT"
	ClientVIIRSNOAA20 = "VIIRS_NOAA20_NRT"
	ClientVIIRSNOAA21 = "VIIRS_NOAA21_NRT"
	ClientLANDSAT     = "LANDSAT_NRT"
)

const (
	firmsMaxDays        = 10
	firmsMaxBodyBytes   = 64 << 20
	firmsDateLayout     = "2006-01-02 1504"
	firmsHeaderLatitude = "latitude"
)

// FIRMS normalizes NASA FIRMS active-fire CSV feeds.
type FIRMS struct {
	fetcher fetcher.Fetcher
}

// NewFIRMS creates the FIRMS adapter.
func NewFIRMS(f fetcher.Fetcher) *FIRMS {
	return &FIRMS{fetcher: f}
}

// Key implements Adapter.
func (a *FIRMS) Key() string { return FIRMSKey }

// Initialize implements Adapter.
func (a *FIRMS) Initialize(raw json.RawMessage) (Source, error) {
	cfg, err := decodeConfig(FIRMSKey, raw, firmsRules)
	if err != nil {
		return nil, err
	}
	box, err := validateCommon(FIRMSKey, cfg.BaseURL, cfg.BBox)
	if err != nil {
		return nil, err
	}
	return &firmsSource{cfg: cfg, bbox: box, fetcher: a.fetcher}, nil
}

type firmsSource struct {
	cfg     FIRMSConfig
	bbox    spatial.BBox
	fetcher fetcher.Fetcher
}

func (s *firmsSource) Slice() string { return s.cfg.Slice }

// firmsDays converts the time since the last run into the FIRMS day range.
func firmsDays(lastRun *time.Time, now time.Time) int {
	if lastRun == nil {
		return 1
	}
	days := int(math.Ceil(now.Sub(*lastRun).Hours() / 24))
	return max(1, min(days, firmsMaxDays))
}

// requestURL builds the area API URL. FTP mirrors publish one file per
// client id and are filtered to the box locally.
func (s *firmsSource) requestURL(apiKey, clientID string, days int) string {
	base := strings.TrimRight(s.cfg.BaseURL, "/")
	if strings.HasPrefix(base, "ftp://") {
		return base + "/" + url.PathEscape(clientID) + ".csv"
	}
	return base + "/api/area/csv/" + url.PathEscape(apiKey) + "/" + url.PathEscape(clientID) +
		"/" + s.bbox.String() + "/" + strconv.Itoa(days)
}

func (s *firmsSource) FetchLatest(ctx context.Context, req FetchRequest) ([]model.GeoEvent, error) {
	apiKey := s.cfg.APIKey
	if apiKey == "" {
		apiKey = req.APIKey
	}
	if apiKey == "" && !strings.HasPrefix(s.cfg.BaseURL, "ftp://") {
		return nil, &ConfigurationError{Adapter: FIRMSKey, Fields: []string{"clientApiKey"}}
	}

	body, err := s.fetcher.Download(ctx, s.requestURL(apiKey, req.ClientID, firmsDays(req.LastRun, req.Now)), nil)
	if err != nil {
		return nil, &FetchError{Adapter: FIRMSKey, Stage: "download", Err: err}
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(body, firmsMaxBodyBytes))
	if err != nil {
		return nil, &FetchError{Adapter: FIRMSKey, Stage: "download", Err: eris.Wrap(err, "read body")}
	}

	events, err := s.parse(ctx, data, req)
	if err != nil {
		return nil, &FetchError{Adapter: FIRMSKey, Stage: "parse", Err: err}
	}
	return events, nil
}

func (s *firmsSource) parse(ctx context.Context, data []byte, req FetchRequest) ([]model.GeoEvent, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	// FIRMS answers some failures (e.g. an invalid key) with a 200 and a
	// plain-text message instead of a CSV header.
	first, _, _ := bufio.NewReader(bytes.NewReader(data)).ReadLine()
	if !strings.Contains(strings.ToLower(string(first)), firmsHeaderLatitude) {
		return nil, eris.Errorf("unexpected response: %.120s", string(first))
	}

	log := zap.L().With(
		zap.String("component", "provider.firms"),
		zap.String("provider_id", req.ProviderID),
		zap.String("client_id", req.ClientID),
	)

	rowCh, errCh := fetcher.StreamCSV(ctx, bytes.NewReader(data), fetcher.CSVOptions{TrimSpace: true})

	var (
		events  []model.GeoEvent
		skipped int
	)
	for rec := range rowCh {
		e, ok := s.toEvent(rec, req)
		if !ok {
			skipped++
			continue
		}
		events = append(events, e)
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}

	if skipped > 0 {
		log.Warn("firms: skipped unparseable or out-of-area rows", zap.Int("skipped", skipped), zap.Int("kept", len(events)))
	}
	return events, nil
}

func (s *firmsSource) toEvent(rec fetcher.Record, req FetchRequest) (model.GeoEvent, bool) {
	lat, err := strconv.ParseFloat(rec["latitude"], 64)
	if err != nil {
		return model.GeoEvent{}, false
	}
	lng, err := strconv.ParseFloat(rec["longitude"], 64)
	if err != nil {
		return model.GeoEvent{}, false
	}
	if !s.bbox.Contains(lat, lng) {
		return model.GeoEvent{}, false
	}
	at, err := parseAcquisition(rec["acq_date"], rec["acq_time"])
	if err != nil {
		return model.GeoEvent{}, false
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return model.GeoEvent{}, false
	}

	return model.GeoEvent{
		Type:             model.EventTypeFire,
		Latitude:         lat,
		Longitude:        lng,
		EventDate:        at,
		Confidence:       firmsConfidence(req.ClientID, rec["confidence"]),
		ProviderID:       req.ProviderID,
		ProviderClientID: req.ClientID,
		Slice:            s.cfg.Slice,
		RawData:          raw,
	}, true
}

// parseAcquisition combines acq_date (YYYY-MM-DD) and acq_time (HHMM, leading
// zeros sometimes dropped) into a UTC timestamp.
func parseAcquisition(date, hhmm string) (time.Time, error) {
	if len(hhmm) > 4 || hhmm == "" {
		return time.Time{}, eris.Errorf("invalid acq_time %q", hhmm)
	}
	hhmm = strings.Repeat("0", 4-len(hhmm)) + hhmm
	t, err := time.ParseInLocation(firmsDateLayout, date+" "+hhmm, time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "parse acquisition time")
	}
	return t, nil
}
