// Package geo holds the planar geometry used for coverage zones, link
// routes and node locations. Coordinates are WGS84 (EPSG:4326) longitude
// and latitude in degrees.
package geo

import (
	"math"
)

// Point is a single WGS84 coordinate. On the wire it is a {lat, lng} object.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// LineString is an ordered sequence of at least two points.
type LineString []Point

// MultiLineString is the route geometry of a link.
type MultiLineString []LineString

// Ring is a closed sequence of points whose first and last points match.
type Ring []Point

// Polygon is an outer ring followed by zero or more hole rings.
type Polygon []Ring

// MultiPolygon is the coverage geometry of a zone.
type MultiPolygon []Polygon

// Geometry is anything the spatial index can key on.
type Geometry interface {
	Bounds() BBox
	Validate() error
	IntersectsBBox(b BBox) bool
}

var (
	_ Geometry = Point{}
	_ Geometry = MultiLineString(nil)
	_ Geometry = MultiPolygon(nil)
)

// BBox is an axis-aligned bounding box in degrees.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// EmptyBBox returns a box that any Extend or Union replaces.
func EmptyBBox() BBox {
	return BBox{
		MinLng: math.Inf(1), MinLat: math.Inf(1),
		MaxLng: math.Inf(-1), MaxLat: math.Inf(-1),
	}
}

func (b BBox) IsEmpty() bool {
	return b.MinLng > b.MaxLng || b.MinLat > b.MaxLat
}

// Extend grows the box to include p.
func (b BBox) Extend(p Point) BBox {
	return BBox{
		MinLng: math.Min(b.MinLng, p.Lng),
		MinLat: math.Min(b.MinLat, p.Lat),
		MaxLng: math.Max(b.MaxLng, p.Lng),
		MaxLat: math.Max(b.MaxLat, p.Lat),
	}
}

// Union returns the smallest box covering both.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		MinLng: math.Min(b.MinLng, o.MinLng),
		MinLat: math.Min(b.MinLat, o.MinLat),
		MaxLng: math.Max(b.MaxLng, o.MaxLng),
		MaxLat: math.Max(b.MaxLat, o.MaxLat),
	}
}

// Intersects reports whether the boxes share at least one point.
func (b BBox) Intersects(o BBox) bool {
	return b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng &&
		b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// Contains reports whether p lies in the box, edges included.
func (b BBox) Contains(p Point) bool {
	return p.Lng >= b.MinLng && p.Lng <= b.MaxLng &&
		p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// ContainsBox reports whether o lies entirely within b.
func (b BBox) ContainsBox(o BBox) bool {
	return o.MinLng >= b.MinLng && o.MaxLng <= b.MaxLng &&
		o.MinLat >= b.MinLat && o.MaxLat <= b.MaxLat
}

// Area is the planar area in square degrees.
func (b BBox) Area() float64 {
	if b.IsEmpty() {
		return 0
	}
	return (b.MaxLng - b.MinLng) * (b.MaxLat - b.MinLat)
}

// Margin is half the perimeter in degrees.
func (b BBox) Margin() float64 {
	if b.IsEmpty() {
		return 0
	}
	return (b.MaxLng - b.MinLng) + (b.MaxLat - b.MinLat)
}

func (b BBox) corners() [4]Point {
	return [4]Point{
		{Lng: b.MinLng, Lat: b.MinLat},
		{Lng: b.MaxLng, Lat: b.MinLat},
		{Lng: b.MaxLng, Lat: b.MaxLat},
		{Lng: b.MinLng, Lat: b.MaxLat},
	}
}

// Bounds of a point is the degenerate box at the point.
func (p Point) Bounds() BBox {
	return BBox{MinLng: p.Lng, MinLat: p.Lat, MaxLng: p.Lng, MaxLat: p.Lat}
}

func (p Point) IntersectsBBox(b BBox) bool { return b.Contains(p) }

func (ls LineString) Bounds() BBox {
	b := EmptyBBox()
	for _, p := range ls {
		b = b.Extend(p)
	}
	return b
}

func (m MultiLineString) Bounds() BBox {
	b := EmptyBBox()
	for _, ls := range m {
		b = b.Union(ls.Bounds())
	}
	return b
}

// IntersectsBBox reports whether any segment of the route touches b.
func (m MultiLineString) IntersectsBBox(b BBox) bool {
	if !m.Bounds().Intersects(b) {
		return false
	}
	for _, ls := range m {
		if len(ls) == 1 && b.Contains(ls[0]) {
			return true
		}
		for i := 1; i < len(ls); i++ {
			if segmentIntersectsBox(ls[i-1], ls[i], b) {
				return true
			}
		}
	}
	return false
}

func (r Ring) Bounds() BBox { return LineString(r).Bounds() }

func (pg Polygon) Bounds() BBox {
	if len(pg) == 0 {
		return EmptyBBox()
	}
	return pg[0].Bounds()
}

func (m MultiPolygon) Bounds() BBox {
	b := EmptyBBox()
	for _, pg := range m {
		b = b.Union(pg.Bounds())
	}
	return b
}

// IntersectsBBox reports whether the zone area and b overlap.
func (m MultiPolygon) IntersectsBBox(b BBox) bool {
	if !m.Bounds().Intersects(b) {
		return false
	}
	for _, pg := range m {
		if pg.intersectsBBox(b) {
			return true
		}
	}
	return false
}

func (pg Polygon) intersectsBBox(b BBox) bool {
	if len(pg) == 0 || !pg.Bounds().Intersects(b) {
		return false
	}
	for _, r := range pg {
		for i, p := range r {
			if b.Contains(p) {
				return true
			}
			if i > 0 && segmentIntersectsBox(r[i-1], p, b) {
				return true
			}
		}
	}
	// No edge touches the box, so it is either fully inside the polygon
	// or fully outside it.
	for _, c := range b.corners() {
		if pg.Contains(c) {
			return true
		}
	}
	return false
}

func segmentIntersectsBox(a, c Point, b BBox) bool {
	if b.Contains(a) || b.Contains(c) {
		return true
	}
	seg := a.Bounds().Extend(c)
	if !seg.Intersects(b) {
		return false
	}
	k := b.corners()
	for i := 0; i < 4; i++ {
		if segmentsIntersect(a, c, k[i], k[(i+1)%4]) {
			return true
		}
	}
	return false
}
