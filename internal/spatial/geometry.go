package spatial

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// SRID is the coordinate reference system of all stored geometries (WGS 84).
const SRID = 4326

const (
	earthRadiusMeters = 6371008.8
	// epsilon is the tolerance for boundary tests in degrees (~1 cm).
	epsilon = 1e-7
)

// NewPoint returns an SRID-tagged point at lng/lat.
func NewPoint(lat, lng float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(SRID)
}

// NewPolygon builds an SRID-tagged polygon from rings of [lng, lat] pairs.
// Rings are closed automatically.
func NewPolygon(rings ...[][2]float64) (*geom.Polygon, error) {
	p := geom.NewPolygon(geom.XY).SetSRID(SRID)
	for i, ring := range rings {
		if len(ring) < 3 {
			return nil, eris.Errorf("spatial: ring %d has %d points, need at least 3", i, len(ring))
		}
		flat := make([]float64, 0, (len(ring)+1)*2)
		for _, c := range ring {
			flat = append(flat, c[0], c[1])
		}
		if ring[0] != ring[len(ring)-1] {
			flat = append(flat, ring[0][0], ring[0][1])
		}
		if err := p.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			return nil, eris.Wrapf(err, "spatial: push ring %d", i)
		}
	}
	return p, nil
}

// Contains reports whether (lat, lng) lies inside g. Points on a boundary
// count as contained.
func Contains(g geom.T, lat, lng float64) bool {
	switch t := g.(type) {
	case *geom.Point:
		return math.Abs(t.X()-lng) <= epsilon && math.Abs(t.Y()-lat) <= epsilon
	case *geom.Polygon:
		return polygonContains(t, lng, lat)
	case *geom.MultiPolygon:
		for i := range t.NumPolygons() {
			if polygonContains(t.Polygon(i), lng, lat) {
				return true
			}
		}
	}
	return false
}

func polygonContains(p *geom.Polygon, x, y float64) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	shell := p.LinearRing(0).Coords()
	if onRing(shell, x, y) {
		return true
	}
	if !insideRing(shell, x, y) {
		return false
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		hole := p.LinearRing(i).Coords()
		if onRing(hole, x, y) {
			return true
		}
		if insideRing(hole, x, y) {
			return false
		}
	}
	return true
}

// insideRing is the even-odd ray casting test.
func insideRing(ring []geom.Coord, x, y float64) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i].X(), ring[i].Y()
		xj, yj := ring[j].X(), ring[j].Y()
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}

func onRing(ring []geom.Coord, x, y float64) bool {
	for i := 1; i < len(ring); i++ {
		if onSegment(ring[i-1], ring[i], x, y) {
			return true
		}
	}
	return false
}

func onSegment(a, b geom.Coord, x, y float64) bool {
	if x < math.Min(a.X(), b.X())-epsilon || x > math.Max(a.X(), b.X())+epsilon ||
		y < math.Min(a.Y(), b.Y())-epsilon || y > math.Max(a.Y(), b.Y())+epsilon {
		return false
	}
	cross := (b.X()-a.X())*(y-a.Y()) - (b.Y()-a.Y())*(x-a.X())
	length := math.Hypot(b.X()-a.X(), b.Y()-a.Y())
	if length == 0 {
		return math.Hypot(x-a.X(), y-a.Y()) <= epsilon
	}
	return math.Abs(cross)/length <= epsilon
}

// DistanceMeters returns the distance from (lat, lng) to g in meters. Points
// inside a polygon are at distance zero.
func DistanceMeters(g geom.T, lat, lng float64) float64 {
	switch t := g.(type) {
	case *geom.Point:
		return Haversine(lat, lng, t.Y(), t.X())
	case *geom.Polygon:
		if polygonContains(t, lng, lat) {
			return 0
		}
		return ringsDistance(t, lat, lng)
	case *geom.MultiPolygon:
		best := math.Inf(1)
		for i := range t.NumPolygons() {
			p := t.Polygon(i)
			if polygonContains(p, lng, lat) {
				return 0
			}
			best = math.Min(best, ringsDistance(p, lat, lng))
		}
		return best
	}
	return math.Inf(1)
}

func ringsDistance(p *geom.Polygon, lat, lng float64) float64 {
	best := math.Inf(1)
	for i := range p.NumLinearRings() {
		ring := p.LinearRing(i).Coords()
		for j := 1; j < len(ring); j++ {
			best = math.Min(best, segmentDistance(ring[j-1], ring[j], lat, lng))
		}
	}
	return best
}

// segmentDistance projects the segment onto a local equirectangular plane
// centred on the query point and measures there.
func segmentDistance(a, b geom.Coord, lat, lng float64) float64 {
	k := earthRadiusMeters * math.Pi / 180
	cosLat := math.Cos(lat * math.Pi / 180)
	ax, ay := (a.X()-lng)*k*cosLat, (a.Y()-lat)*k
	bx, by := (b.X()-lng)*k*cosLat, (b.Y()-lat)*k

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(ax, ay)
	}
	t := math.Max(0, math.Min(1, -(ax*dx+ay*dy)/lenSq))
	return math.Hypot(ax+t*dx, ay+t*dy)
}

// Haversine returns the great-circle distance in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Centroid returns the representative (lat, lng) of g. Polygons use the
// area-weighted centroid of their shells.
func Centroid(g geom.T) (lat, lng float64, err error) {
	switch t := g.(type) {
	case *geom.Point:
		return t.Y(), t.X(), nil
	case *geom.Polygon:
		x, y, _ := shellCentroid(t)
		return y, x, nil
	case *geom.MultiPolygon:
		var sx, sy, sa float64
		for i := range t.NumPolygons() {
			x, y, a := shellCentroid(t.Polygon(i))
			sx += x * a
			sy += y * a
			sa += a
		}
		if sa == 0 {
			return 0, 0, eris.New("spatial: degenerate multipolygon")
		}
		return sy / sa, sx / sa, nil
	case nil:
		return 0, 0, eris.New("spatial: nil geometry")
	}
	return 0, 0, eris.Errorf("spatial: unsupported geometry %T", g)
}

// shellCentroid returns the centroid and absolute area of the exterior ring.
// Degenerate rings fall back to the vertex mean.
func shellCentroid(p *geom.Polygon) (x, y, area float64) {
	if p.NumLinearRings() == 0 {
		return 0, 0, 0
	}
	ring := p.LinearRing(0).Coords()
	var a, cx, cy float64
	for i := 1; i < len(ring); i++ {
		x0, y0 := ring[i-1].X(), ring[i-1].Y()
		x1, y1 := ring[i].X(), ring[i].Y()
		f := x0*y1 - x1*y0
		a += f
		cx += (x0 + x1) * f
		cy += (y0 + y1) * f
	}
	if math.Abs(a) < 1e-15 {
		for _, c := range ring {
			x += c.X()
			y += c.Y()
		}
		n := float64(len(ring))
		return x / n, y / n, 0
	}
	a /= 2
	return cx / (6 * a), cy / (6 * a), math.Abs(a)
}
