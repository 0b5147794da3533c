package geo

import (
	"bytes"
	"encoding/json"

	"github.com/netmap-platform/netmap/internal/apperr"
)

// GeoJSON geometry types understood by the codec.
const (
	TypePoint           = "Point"
	TypeLineString      = "LineString"
	TypeMultiLineString = "MultiLineString"
	TypePolygon         = "Polygon"
	TypeMultiPolygon    = "MultiPolygon"
)

type rawGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type encodedGeometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

func decodePosition(c []float64) (Point, error) {
	if len(c) < 2 {
		return Point{}, apperr.Geometry("geometry", "position needs [lng, lat], got %d values", len(c))
	}
	return Point{Lng: c[0], Lat: c[1]}, nil
}

func decodeLine(coords [][]float64) (LineString, error) {
	ls := make(LineString, 0, len(coords))
	for _, c := range coords {
		p, err := decodePosition(c)
		if err != nil {
			return nil, err
		}
		ls = append(ls, p)
	}
	return ls, nil
}

func decodePolygon(coords [][][]float64) (Polygon, error) {
	pg := make(Polygon, 0, len(coords))
	for _, rc := range coords {
		ls, err := decodeLine(rc)
		if err != nil {
			return nil, err
		}
		pg = append(pg, Ring(ls))
	}
	return pg, nil
}

func encodeLine(ls []Point) [][2]float64 {
	out := make([][2]float64, len(ls))
	for i, p := range ls {
		out[i] = [2]float64{p.Lng, p.Lat}
	}
	return out
}

// MarshalJSON writes a GeoJSON MultiLineString.
func (m MultiLineString) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	coords := make([][][2]float64, len(m))
	for i, ls := range m {
		coords[i] = encodeLine(ls)
	}
	return json.Marshal(encodedGeometry{Type: TypeMultiLineString, Coordinates: coords})
}

// UnmarshalJSON reads a GeoJSON MultiLineString. A LineString is promoted.
func (m *MultiLineString) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*m = nil
		return nil
	}
	var raw rawGeometry
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperr.Geometry("geometry", "malformed GeoJSON: %v", err)
	}
	switch raw.Type {
	case TypeLineString:
		var coords [][]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return apperr.Geometry("geometry", "malformed LineString coordinates: %v", err)
		}
		ls, err := decodeLine(coords)
		if err != nil {
			return err
		}
		*m = MultiLineString{ls}
	case TypeMultiLineString:
		var coords [][][]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return apperr.Geometry("geometry", "malformed MultiLineString coordinates: %v", err)
		}
		out := make(MultiLineString, 0, len(coords))
		for _, lc := range coords {
			ls, err := decodeLine(lc)
			if err != nil {
				return err
			}
			out = append(out, ls)
		}
		*m = out
	default:
		return apperr.Geometry("geometry", "expected MultiLineString, got %q", raw.Type)
	}
	return nil
}

// MarshalJSON writes a GeoJSON MultiPolygon.
func (m MultiPolygon) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	coords := make([][][][2]float64, len(m))
	for i, pg := range m {
		rings := make([][][2]float64, len(pg))
		for j, r := range pg {
			rings[j] = encodeLine(r)
		}
		coords[i] = rings
	}
	return json.Marshal(encodedGeometry{Type: TypeMultiPolygon, Coordinates: coords})
}

// UnmarshalJSON reads a GeoJSON MultiPolygon. A Polygon is promoted.
func (m *MultiPolygon) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*m = nil
		return nil
	}
	var raw rawGeometry
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperr.Geometry("geometry", "malformed GeoJSON: %v", err)
	}
	switch raw.Type {
	case TypePolygon:
		var coords [][][]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return apperr.Geometry("geometry", "malformed Polygon coordinates: %v", err)
		}
		pg, err := decodePolygon(coords)
		if err != nil {
			return err
		}
		*m = MultiPolygon{pg}
	case TypeMultiPolygon:
		var coords [][][][]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return apperr.Geometry("geometry", "malformed MultiPolygon coordinates: %v", err)
		}
		out := make(MultiPolygon, 0, len(coords))
		for _, pc := range coords {
			pg, err := decodePolygon(pc)
			if err != nil {
				return err
			}
			out = append(out, pg)
		}
		*m = out
	default:
		return apperr.Geometry("geometry", "expected MultiPolygon, got %q", raw.Type)
	}
	return nil
}

// EncodeGeoJSON renders any supported geometry as a GeoJSON geometry object.
// Points use [lng, lat] coordinates here, unlike their {lat, lng} form.
func EncodeGeoJSON(g Geometry) (json.RawMessage, error) {
	if p, ok := g.(Point); ok {
		return json.Marshal(encodedGeometry{Type: TypePoint, Coordinates: [2]float64{p.Lng, p.Lat}})
	}
	return json.Marshal(g)
}

// Feature is a GeoJSON feature.
type Feature struct {
	Type       string          `json:"type"`
	ID         any             `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection returns an empty collection ready for appends.
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
}
