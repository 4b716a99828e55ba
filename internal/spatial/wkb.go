package spatial

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// EncodeEWKB converts a geometry to EWKB bytes tagged with SRID 4326.
// Returns nil, nil for a nil geometry.
func EncodeEWKB(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	if g.SRID() == 0 {
		switch t := g.(type) {
		case *geom.Point:
			g = t.SetSRID(SRID)
		case *geom.Polygon:
			g = t.SetSRID(SRID)
		case *geom.MultiPolygon:
			g = t.SetSRID(SRID)
		}
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: encode EWKB")
	}
	return data, nil
}

// DecodeEWKB parses EWKB bytes as returned by ST_AsEWKB.
func DecodeEWKB(data []byte) (geom.T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: decode EWKB")
	}
	return g, nil
}
