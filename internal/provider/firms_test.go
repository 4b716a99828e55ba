package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plant-for-the-planet/firealert/internal/fetcher"
	"github.com/plant-for-the-planet/firealert/internal/model"
)

const viirsCSV = `latitude,longitude,bright_ti4,scan,track,acq_date,acq_time,satellite,instrument,confidence,version,bright_ti5,frp,daynight
1.0,36.0,330.5,0.39,0.36,2024-01-01,1000,N,VIIRS,h,2.0NRT,290.1,5.2,D
-2.5,37.25,310.2,0.4,0.4,2024-01-01,930,N,VIIRS,n,2.0NRT,288.0,1.1,N
bad,36.0,300,0.4,0.4,2024-01-01,1000,N,VIIRS,l,2.0NRT,280,1,D
50.0,10.0,300,0.4,0.4,2024-01-01,1000,N,VIIRS,l,2.0NRT,280,1,D
`

func newFIRMSServer(t *testing.T, body string, gotPath *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotPath != nil {
			*gotPath = r.URL.Path
		}
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func firmsConfig(baseURL string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"apiUrl":%q,"bbox":"30,-5,40,5","slice":"33"}`, baseURL))
}

func newFIRMSSource(t *testing.T, baseURL string) Source {
	t.Helper()
	a := NewFIRMS(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second}))
	src, err := a.Initialize(firmsConfig(baseURL))
	require.NoError(t, err)
	return src
}

func TestFIRMS_Initialize_MissingFields(t *testing.T) {
	a := NewFIRMS(nil)
	_, err := a.Initialize(json.RawMessage(`{"apiUrl":"https://firms.example"}`))
	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"bbox", "slice"}, ce.Fields)
}

func TestFIRMS_FetchLatest(t *testing.T) {
	var path string
	srv := newFIRMSServer(t, viirsCSV, &path)
	src := newFIRMSSource(t, srv.URL)
	assert.Equal(t, "33", src.Slice())

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	events, err := src.FetchLatest(context.Background(), FetchRequest{
		ClientID:   ClientVIIRSSNPP,
		ProviderID: "p1",
		APIKey:     "KEY123",
		Now:        now,
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/area/csv/KEY123/VIIRS_SNPP_NRT/30,-5,40,5/1", path)

	// Unparseable and out-of-box rows are dropped.
	require.Len(t, events, 2)

	e := events[0]
	assert.Empty(t, e.ID)
	assert.Equal(t, model.EventTypeFire, e.Type)
	assert.Equal(t, 1.0, e.Latitude)
	assert.Equal(t, 36.0, e.Longitude)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), e.EventDate)
	assert.Equal(t, model.ConfidenceHigh, e.Confidence)
	assert.Equal(t, "p1", e.ProviderID)
	assert.Equal(t, ClientVIIRSSNPP, e.ProviderClientID)
	assert.Equal(t, "33", e.Slice)

	var raw map[string]string
	require.NoError(t, json.Unmarshal(e.RawData, &raw))
	assert.Equal(t, "5.2", raw["frp"])

	assert.Equal(t, time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), events[1].EventDate)
	assert.Equal(t, model.ConfidenceMedium, events[1].Confidence)
}

func TestFIRMS_ConfigAPIKeyOverrides(t *testing.T) {
	var path string
	srv := newFIRMSServer(t, viirsCSV, &path)
	a := NewFIRMS(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}))
	src, err := a.Initialize(json.RawMessage(fmt.Sprintf(`{"apiUrl":%q,"bbox":"30,-5,40,5","slice":"33","apiKey":"CFGKEY"}`, srv.URL)))
	require.NoError(t, err)

	_, err = src.FetchLatest(context.Background(), FetchRequest{ClientID: ClientMODIS, APIKey: "ignored", Now: time.Now()})
	require.NoError(t, err)
	assert.Contains(t, path, "/CFGKEY/MODIS_NRT/")
}

func TestFIRMS_MissingAPIKey(t *testing.T) {
	src := newFIRMSSource(t, "https://firms.example")
	_, err := src.FetchLatest(context.Background(), FetchRequest{ClientID: ClientMODIS, Now: time.Now()})
	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"clientApiKey"}, ce.Fields)
}

func TestFIRMS_InvalidKeyResponse(t *testing.T) {
	srv := newFIRMSServer(t, "Invalid MAP_KEY.", nil)
	src := newFIRMSSource(t, srv.URL)

	_, err := src.FetchLatest(context.Background(), FetchRequest{ClientID: ClientVIIRSSNPP, APIKey: "bad", Now: time.Now()})
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "parse", fe.Stage)
	assert.Contains(t, err.Error(), "Invalid MAP_KEY")
}

func TestFIRMS_EmptyBody(t *testing.T) {
	srv := newFIRMSServer(t, "", nil)
	src := newFIRMSSource(t, srv.URL)

	events, err := src.FetchLatest(context.Background(), FetchRequest{ClientID: ClientVIIRSSNPP, APIKey: "k", Now: time.Now()})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFIRMS_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	src := newFIRMSSource(t, srv.URL)

	_, err := src.FetchLatest(context.Background(), FetchRequest{ClientID: ClientVIIRSSNPP, APIKey: "k", Now: time.Now()})
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "download", fe.Stage)

	var se *fetcher.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
}

func TestFIRMS_FTPMirrorURL(t *testing.T) {
	src := &firmsSource{cfg: FIRMSConfig{BaseURL: "ftp://mirror.example/firms/"}}
	assert.Equal(t, "ftp://mirror.example/firms/LANDSAT_NRT.csv", src.requestURL("", ClientLANDSAT, 3))
}

func TestFIRMSDays(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(-d); return &v }

	assert.Equal(t, 1, firmsDays(nil, now))
	assert.Equal(t, 1, firmsDays(at(30*time.Minute), now))
	assert.Equal(t, 1, firmsDays(at(24*time.Hour), now))
	assert.Equal(t, 2, firmsDays(at(25*time.Hour), now))
	assert.Equal(t, 10, firmsDays(at(30*24*time.Hour), now))
	assert.Equal(t, 1, firmsDays(at(-time.Hour), now), "clock skew")
}

func TestParseAcquisition(t *testing.T) {
	got, err := parseAcquisition("2024-03-05", "5")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 5, 0, 0, time.UTC), got)

	_, err = parseAcquisition("2024-03-05", "")
	require.Error(t, err)
	_, err = parseAcquisition("2024-03-05", "12345")
	require.Error(t, err)
	_, err = parseAcquisition("05/03/2024", "1200")
	require.Error(t, err)
}
