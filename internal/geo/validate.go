package geo

import (
	"fmt"
	"math"

	"github.com/netmap-platform/netmap/internal/apperr"
)

// CheckCoordinate validates a user supplied coordinate. Out of range or
// non-finite values are invalid input rather than invalid geometry. An
// empty field reports the bare "lng" and "lat" names.
func CheckCoordinate(field string, p Point) error {
	if field != "" {
		field += "."
	}
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || p.Lng < -180 || p.Lng > 180 {
		return apperr.Invalid(field+"lng", "must be a finite longitude within [-180, 180], got %v", p.Lng)
	}
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return apperr.Invalid(field+"lat", "must be a finite latitude within [-90, 90], got %v", p.Lat)
	}
	return nil
}

func pointErr(p Point) string {
	switch {
	case math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0):
		return "coordinate is not finite"
	case p.Lng < -180 || p.Lng > 180:
		return fmt.Sprintf("longitude %v out of range", p.Lng)
	case p.Lat < -90 || p.Lat > 90:
		return fmt.Sprintf("latitude %v out of range", p.Lat)
	}
	return ""
}

// Validate rejects non-finite or out of range points.
func (p Point) Validate() error {
	if msg := pointErr(p); msg != "" {
		return apperr.Geometry("location", "%s", msg)
	}
	return nil
}

// Validate rejects empty routes, lines with fewer than two points and
// zero-length lines.
func (m MultiLineString) Validate() error {
	if len(m) == 0 {
		return apperr.Geometry("geometry", "multilinestring has no lines")
	}
	for i, ls := range m {
		if len(ls) < 2 {
			return apperr.Geometry("geometry", "line %d has %d points, need at least 2", i, len(ls))
		}
		distinct := false
		for j, p := range ls {
			if msg := pointErr(p); msg != "" {
				return apperr.Geometry("geometry", "line %d point %d: %s", i, j, msg)
			}
			if p != ls[0] {
				distinct = true
			}
		}
		if !distinct {
			return apperr.Geometry("geometry", "line %d has zero length", i)
		}
	}
	return nil
}

// Validate rejects empty zones, unclosed or degenerate rings, self
// intersecting rings and holes outside their outer ring.
func (m MultiPolygon) Validate() error {
	if len(m) == 0 {
		return apperr.Geometry("geometry", "multipolygon has no polygons")
	}
	for i, pg := range m {
		if len(pg) == 0 {
			return apperr.Geometry("geometry", "polygon %d has no rings", i)
		}
		for j, r := range pg {
			if err := validateRing(r); err != "" {
				return apperr.Geometry("geometry", "polygon %d ring %d: %s", i, j, err)
			}
		}
		for j, hole := range pg[1:] {
			for _, p := range hole {
				if !ringCovers(pg[0], p) {
					return apperr.Geometry("geometry", "polygon %d hole %d lies outside the outer ring", i, j+1)
				}
			}
		}
	}
	return nil
}

func validateRing(r Ring) string {
	if len(r) < 4 {
		return fmt.Sprintf("has %d points, need at least 4", len(r))
	}
	for k, p := range r {
		if msg := pointErr(p); msg != "" {
			return fmt.Sprintf("point %d: %s", k, msg)
		}
	}
	if r[0] != r[len(r)-1] {
		return "is not closed"
	}
	c := compact(r)
	if len(c) < 4 {
		return "has fewer than 3 distinct vertices"
	}
	if planarArea(c) == 0 {
		return "has zero area"
	}
	if selfIntersects(c) {
		return "self-intersects"
	}
	return ""
}

// compact drops consecutive duplicate points.
func compact(r Ring) Ring {
	out := make(Ring, 0, len(r))
	for _, p := range r {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	return out
}

// selfIntersects checks every pair of ring edges. Adjacent edges may only
// share their common vertex and must not fold back onto each other.
func selfIntersects(r Ring) bool {
	n := len(r) - 1
	for i := 0; i < n; i++ {
		a, b := r[i], r[i+1]
		for j := i + 1; j < n; j++ {
			c, d := r[j], r[j+1]
			adjacent := j == i+1 || (i == 0 && j == n-1)
			if !adjacent {
				if segmentsIntersect(a, b, c, d) {
					return true
				}
				continue
			}
			// Shared vertex is b==c, or a==d for the closing pair.
			shared, p, q := b, a, d
			if j != i+1 {
				shared, p, q = a, b, c
			}
			if orientation(shared, p, q) == 0 {
				dot := (p.Lng-shared.Lng)*(q.Lng-shared.Lng) + (p.Lat-shared.Lat)*(q.Lat-shared.Lat)
				if dot > 0 {
					return true
				}
			}
		}
	}
	return false
}
