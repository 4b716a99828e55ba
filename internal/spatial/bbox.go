// Package spatial holds the planar geometry used outside the database:
// bounding boxes, inclusive containment, distances and EWKB encoding.
package spatial

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// BBox represents a geographic bounding box.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// ParseBBox parses "west,south,east,north" in decimal degrees.
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, eris.Errorf("spatial: bbox %q must have 4 comma-separated values", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, eris.Wrapf(err, "spatial: bbox %q value %d", s, i)
		}
		v[i] = f
	}
	b := BBox{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}

// Validate checks ordering and coordinate ranges.
func (b BBox) Validate() error {
	if b.MinLng < -180 || b.MaxLng > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return eris.Errorf("spatial: bbox %s out of range", b)
	}
	if b.MinLng >= b.MaxLng || b.MinLat >= b.MaxLat {
		return eris.Errorf("spatial: bbox %s has min >= max", b)
	}
	return nil
}

// String formats the box as "west,south,east,north".
func (b BBox) String() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return f(b.MinLng) + "," + f(b.MinLat) + "," + f(b.MaxLng) + "," + f(b.MaxLat)
}

// Contains reports whether the point lies inside or on the box.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}
