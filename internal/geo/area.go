package geo

import "math"

// EarthRadius is the WGS84 equatorial radius in meters.
const EarthRadius = 6378137.0

func rad(deg float64) float64 { return deg * math.Pi / 180 }

// Area returns the approximate geodesic area of the zone in square meters.
// Holes are subtracted.
func (m MultiPolygon) Area() float64 {
	var total float64
	for _, pg := range m {
		total += pg.Area()
	}
	return total
}

func (pg Polygon) Area() float64 {
	if len(pg) == 0 {
		return 0
	}
	a := ringArea(pg[0])
	for _, hole := range pg[1:] {
		a -= ringArea(hole)
	}
	return math.Max(a, 0)
}

// ringArea uses the spherical approximation from Chamberlain and Duquette,
// "Some Algorithms for Polygons on a Sphere" (JPL, 2007).
func ringArea(r Ring) float64 {
	if len(r) < 4 {
		return 0
	}
	var total float64
	for i := 0; i < len(r)-1; i++ {
		p1, p2 := r[i], r[i+1]
		total += rad(p2.Lng-p1.Lng) * (2 + math.Sin(rad(p1.Lat)) + math.Sin(rad(p2.Lat)))
	}
	return math.Abs(total * EarthRadius * EarthRadius / 2)
}

// planarArea is the signed shoelace area in square degrees.
func planarArea(r Ring) float64 {
	var total float64
	for i := 0; i < len(r)-1; i++ {
		total += r[i].Lng*r[i+1].Lat - r[i+1].Lng*r[i].Lat
	}
	return total / 2
}

// Distance returns the haversine distance between two points in meters.
func Distance(a, b Point) float64 {
	dLat := rad(b.Lat - a.Lat)
	dLng := rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Length returns the route length in meters.
func (m MultiLineString) Length() float64 {
	var total float64
	for _, ls := range m {
		for i := 1; i < len(ls); i++ {
			total += Distance(ls[i-1], ls[i])
		}
	}
	return total
}
