// Package model defines the records shared by the ingestion, matching and
// notification stages.
package model

import (
	"encoding/json"
	"time"
)

// EventTypeFire is the only event type produced by the current sources.
const EventTypeFire = "fire"

// ClientIDGeostationary marks fixed-position sources whose footprint covers a
// large static area.
const ClientIDGeostationary = "GEOSTATIONARY"

// Confidence is the normalized detection confidence of an event.
type Confidence string

// Confidence levels.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is one of the known levels.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// GeoEvent is one detected thermal anomaly.
type GeoEvent struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	Latitude         float64         `json:"latitude"`
	Longitude        float64         `json:"longitude"`
	EventDate        time.Time       `json:"event_date"`
	Confidence       Confidence      `json:"confidence"`
	ProviderID       string          `json:"provider_id"`
	ProviderClientID string          `json:"provider_client_id"`
	Slice            string          `json:"slice"`
	IsProcessed      bool            `json:"is_processed"`
	RawData          json.RawMessage `json:"raw_data,omitempty"`
}

// Provider is a configured data source instance.
type Provider struct {
	ID                    string          `json:"id" yaml:"id"`
	Type                  string          `json:"type" yaml:"type"` // adapter key
	ClientID              string          `json:"client_id" yaml:"client_id"`
	ClientAPIKey          string          `json:"client_api_key" yaml:"client_api_key"`
	Config                json.RawMessage `json:"config" yaml:"-"`
	IsActive              bool            `json:"is_active" yaml:"is_active"`
	FetchFrequencyMinutes int             `json:"fetch_frequency_minutes" yaml:"fetch_frequency_minutes"`
	LastRun               *time.Time      `json:"last_run,omitempty" yaml:"-"`
}

// IsGeostationary reports whether the provider is a fixed-position source.
func (p Provider) IsGeostationary() bool {
	return p.ClientID == ClientIDGeostationary
}

// DueAt returns the earliest time the provider may run again. A provider that
// never ran is due immediately (zero time).
func (p Provider) DueAt() time.Time {
	if p.LastRun == nil {
		return time.Time{}
	}
	return p.LastRun.Add(time.Duration(p.FetchFrequencyMinutes) * time.Minute)
}

// IsDue reports whether the provider is active and its fetch interval has elapsed.
func (p Provider) IsDue(now time.Time) bool {
	return p.IsActive && !now.Before(p.DueAt())
}
