package geo

import "math"

// boundaryEps is the cross product tolerance used to decide that a point
// lies on a ring edge.
const boundaryEps = 1e-12

// Contains reports whether p lies in any polygon of the zone.
func (m MultiPolygon) Contains(p Point) bool {
	for _, pg := range m {
		if pg.Contains(p) {
			return true
		}
	}
	return false
}

// Contains reports whether p lies inside or on the outer ring and not
// strictly inside any hole. Points on a hole edge count as inside.
func (pg Polygon) Contains(p Point) bool {
	if len(pg) == 0 {
		return false
	}
	if !pg[0].Bounds().Contains(p) || !ringCovers(pg[0], p) {
		return false
	}
	for _, hole := range pg[1:] {
		if ringInterior(hole, p) {
			return false
		}
	}
	return true
}

func ringCovers(r Ring, p Point) bool {
	return onRing(r, p) || crossings(r, p)
}

func ringInterior(r Ring, p Point) bool {
	return r.Bounds().Contains(p) && !onRing(r, p) && crossings(r, p)
}

// crossings is the even-odd ray cast towards +lng.
func crossings(r Ring, p Point) bool {
	inside := false
	for i, j := 0, len(r)-1; i < len(r); j, i = i, i+1 {
		a, b := r[i], r[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onRing(r Ring, p Point) bool {
	for i := 1; i < len(r); i++ {
		if onSegment(r[i-1], r[i], p) {
			return true
		}
	}
	return false
}

func cross(o, a, b Point) float64 {
	return (a.Lng-o.Lng)*(b.Lat-o.Lat) - (a.Lat-o.Lat)*(b.Lng-o.Lng)
}

func onSegment(a, b, p Point) bool {
	if math.Abs(cross(a, b, p)) > boundaryEps {
		return false
	}
	return p.Lng >= math.Min(a.Lng, b.Lng) && p.Lng <= math.Max(a.Lng, b.Lng) &&
		p.Lat >= math.Min(a.Lat, b.Lat) && p.Lat <= math.Max(a.Lat, b.Lat)
}

func orientation(o, a, b Point) int {
	v := cross(o, a, b)
	switch {
	case v > boundaryEps:
		return 1
	case v < -boundaryEps:
		return -1
	}
	return 0
}

// segmentsIntersect reports whether segments ab and cd share any point.
func segmentsIntersect(a, b, c, d Point) bool {
	o1 := orientation(a, b, c)
	o2 := orientation(a, b, d)
	o3 := orientation(c, d, a)
	o4 := orientation(c, d, b)

	if o1 != o2 && o3 != o4 && o1 != 0 && o2 != 0 && o3 != 0 && o4 != 0 {
		return true
	}
	return (o1 == 0 && onSegment(a, b, c)) ||
		(o2 == 0 && onSegment(a, b, d)) ||
		(o3 == 0 && onSegment(c, d, a)) ||
		(o4 == 0 && onSegment(c, d, b))
}
