// Package checksum derives the deterministic identity of a GeoEvent.
package checksum

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/plant-for-the-planet/firealert/internal/model"
)

// dateLayout is ISO-8601 with fixed millisecond precision, always in UTC.
const dateLayout = "2006-01-02T15:04:05.000Z"

// Compute returns the hex id for the (type, latitude, longitude, eventDate)
// tuple. The result is byte-stable across processes.
func Compute(eventType string, latitude, longitude float64, eventDate time.Time) string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(eventType)
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(latitude, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(longitude, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(eventDate.UTC().Format(dateLayout))

	sum := xxhash.Sum64String(b.String())
	return leftPad(strconv.FormatUint(sum, 16), 16)
}

// ForEvent computes the id of e from its identity fields.
func ForEvent(e model.GeoEvent) string {
	return Compute(e.Type, e.Latitude, e.Longitude, e.EventDate)
}

// Assign sets the ID of every event in place.
func Assign(events []model.GeoEvent) {
	for i := range events {
		events[i].ID = ForEvent(events[i])
	}
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}
