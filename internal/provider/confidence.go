package provider

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/plant-for-the-planet/firealert/internal/model"
)

// confidenceTable maps a source family's confidence codes to levels. Codes
// are normalized before lookup; unknown codes map to medium.
type confidenceTable struct {
	normalize func(string) string
	codes     map[string]model.Confidence
}

func (t confidenceTable) lookup(code string) model.Confidence {
	if c, ok := t.codes[t.normalize(strings.TrimSpace(code))]; ok {
		return c
	}
	return model.ConfidenceMedium
}

// Casers are stateful, so a fresh one is built per call.
func lower(s string) string { return cases.Lower(language.Und).String(s) }
func upper(s string) string { return cases.Upper(language.Und).String(s) }

var viirsConfidence = confidenceTable{
	normalize: lower,
	codes: map[string]model.Confidence{
		"h":       model.ConfidenceHigh,
		"high":    model.ConfidenceHigh,
		"n":       model.ConfidenceMedium,
		"nominal": model.ConfidenceMedium,
		"l":       model.ConfidenceLow,
		"low":     model.ConfidenceLow,
	},
}

var landsatConfidence = confidenceTable{
	normalize: upper,
	codes: map[string]model.Confidence{
		"H": model.ConfidenceHigh,
		"M": model.ConfidenceMedium,
		"L": model.ConfidenceLow,
	},
}

// modisConfidence maps the 0-100 MODIS detection confidence.
func modisConfidence(code string) model.Confidence {
	v, err := strconv.ParseFloat(strings.TrimSpace(code), 64)
	if err != nil || v < 0 || v > 100 {
		return model.ConfidenceMedium
	}
	switch {
	case v >= 80:
		return model.ConfidenceHigh
	case v >= 30:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// goesMaskConfidence maps GOES fire-mask classes. Codes 10-15 are
// processed detections and 30-35 their temporally filtered counterparts.
var goesMaskConfidence = map[int]model.Confidence{
	10: model.ConfidenceHigh, 30: model.ConfidenceHigh,
	11: model.ConfidenceMedium, 31: model.ConfidenceMedium,
	12: model.ConfidenceMedium, 32: model.ConfidenceMedium,
	13: model.ConfidenceLow, 33: model.ConfidenceLow,
	14: model.ConfidenceLow, 34: model.ConfidenceLow,
	15: model.ConfidenceLow, 35: model.ConfidenceLow,
}

func goesConfidence(mask int) model.Confidence {
	if c, ok := goesMaskConfidence[mask]; ok {
		return c
	}
	return model.ConfidenceMedium
}

// firmsConfidence picks the table for a FIRMS client id.
func firmsConfidence(clientID, code string) model.Confidence {
	switch {
	case strings.HasPrefix(clientID, "VIIRS"):
		return viirsConfidence.lookup(code)
	case strings.HasPrefix(clientID, "LANDSAT"):
		return landsatConfidence.lookup(code)
	case strings.HasPrefix(clientID, "MODIS"):
		return modisConfidence(code)
	default:
		return model.ConfidenceMedium
	}
}
