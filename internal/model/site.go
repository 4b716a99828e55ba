package model

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/twpayne/go-geom"
)

// GeometryType is the shape of a site's boundary.
type GeometryType string

// Site geometry types.
const (
	GeometryPoint        GeometryType = "Point"
	GeometryPolygon      GeometryType = "Polygon"
	GeometryMultiPolygon GeometryType = "MultiPolygon"
)

// Site is a monitored area. Sites are owned by site management and are
// read-only to the pipeline.
type Site struct {
	ID                string
	Name              string
	UserID            string
	GeometryType      GeometryType
	Geometry          geom.T // raw boundary, used for distance
	DetectionGeometry geom.T // buffered boundary, used for containment
	Slices            []string
	Fragments         []SiteFragment // MultiPolygon sites only
	IsMonitored       bool
	StopAlertUntil    *time.Time
	DeletedAt         *time.Time
}

// SiteFragment is one constituent region of a MultiPolygon site.
type SiteFragment struct {
	Index             int
	DetectionGeometry geom.T
	Slices            []string
}

// Alertable reports whether the site may receive alerts at now.
func (s Site) Alertable(now time.Time) bool {
	if s.DeletedAt != nil || !s.IsMonitored {
		return false
	}
	return s.StopAlertUntil == nil || s.StopAlertUntil.Before(now)
}

// InSlice reports whether the site lists slice.
func (s Site) InSlice(slice string) bool {
	return slices.Contains(s.Slices, slice)
}

// SiteAlert records one GeoEvent matching one Site.
type SiteAlert struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	EventDate   time.Time       `json:"event_date"`
	DetectedBy  string          `json:"detected_by"`
	Confidence  Confidence      `json:"confidence"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	SiteID      string          `json:"site_id"`
	Distance    float64         `json:"distance"`
	IsProcessed bool            `json:"is_processed"`
	RawData     json.RawMessage `json:"raw_data,omitempty"`
}

// AlertKey is the identity that keeps a physical event from alerting the same
// site twice.
type AlertKey struct {
	SiteID    string
	Latitude  float64
	Longitude float64
	EventDate int64 // unix milliseconds
}

// Key returns the alert's uniqueness key.
func (a SiteAlert) Key() AlertKey {
	return AlertKey{SiteID: a.SiteID, Latitude: a.Latitude, Longitude: a.Longitude, EventDate: a.EventDate.UnixMilli()}
}
