package models

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/netmap-platform/netmap/internal/geo"
)

// NodeType is the kind of network element.
type NodeType string

const (
	NodeTypeCore             NodeType = "core"
	NodeTypePOP              NodeType = "pop"
	NodeTypeOLT              NodeType = "olt"
	NodeTypeRouter           NodeType = "router"
	NodeTypeTower            NodeType = "tower"
	NodeTypeAP               NodeType = "ap"
	NodeTypeSplitter         NodeType = "splitter"
	NodeTypeCustomerEndpoint NodeType = "customer_endpoint"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeCore, NodeTypePOP, NodeTypeOLT, NodeTypeRouter, NodeTypeTower,
		NodeTypeAP, NodeTypeSplitter, NodeTypeCustomerEndpoint:
		return true
	}
	return false
}

// NodeStatus is the operational state of a node.
type NodeStatus string

const (
	NodeStatusActive      NodeStatus = "active"
	NodeStatusInactive    NodeStatus = "inactive"
	NodeStatusMaintenance NodeStatus = "maintenance"
)

func (s NodeStatus) Valid() bool {
	return s == NodeStatusActive || s == NodeStatusInactive || s == NodeStatusMaintenance
}

// LinkType is the medium of a link.
type LinkType string

const (
	LinkTypeFiber    LinkType = "fiber"
	LinkTypeLAN      LinkType = "lan"
	LinkTypeWireless LinkType = "wireless"
	LinkTypePtPRadio LinkType = "ptp_radio"
)

func (t LinkType) Valid() bool {
	return t == LinkTypeFiber || t == LinkTypeLAN || t == LinkTypeWireless || t == LinkTypePtPRadio
}

// LinkStatus is the operational state of a link.
type LinkStatus string

const (
	LinkStatusUp          LinkStatus = "up"
	LinkStatusDown        LinkStatus = "down"
	LinkStatusDegraded    LinkStatus = "degraded"
	LinkStatusMaintenance LinkStatus = "maintenance"
)

func (s LinkStatus) Valid() bool {
	switch s {
	case LinkStatusUp, LinkStatusDown, LinkStatusDegraded, LinkStatusMaintenance:
		return true
	}
	return false
}

// ZoneStatus is whether a zone takes part in coverage resolution.
type ZoneStatus string

const (
	ZoneStatusActive   ZoneStatus = "active"
	ZoneStatusInactive ZoneStatus = "inactive"
)

func (s ZoneStatus) Valid() bool {
	return s == ZoneStatusActive || s == ZoneStatusInactive
}

// DefaultZoneType is assigned when a zone is created without one.
const DefaultZoneType = "coverage"

// Attributes is an open key/value bag stored as JSON. Readers use the
// typed accessors and treat a missing or mistyped key as absent.
type Attributes map[string]any

// Float returns a numeric value. Numeric strings are accepted.
func (a Attributes) Float(key string) (float64, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// String returns a string value, lower-cased and trimmed.
func (a Attributes) String(key string) (string, bool) {
	s, ok := a[key].(string)
	if !ok {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(s)), true
}

// Bool returns a boolean value. "true"/"false" strings are accepted.
func (a Attributes) Bool(key string) (bool, bool) {
	switch v := a[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	}
	return false, false
}

func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

// Node is a physical network element with a point location.
type Node struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	Type      NodeType   `json:"type"`
	Status    NodeStatus `json:"status"`
	Location  geo.Point  `json:"location"`
	Capacity  Attributes `json:"capacity"`
	Health    Attributes `json:"health"`
	Metadata  Attributes `json:"metadata"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (n *Node) Clone() *Node {
	c := *n
	c.Capacity = n.Capacity.Clone()
	c.Health = n.Health.Clone()
	c.Metadata = n.Metadata.Clone()
	return &c
}

// Link connects two nodes of the same tenant along a route.
type Link struct {
	ID             string              `json:"id"`
	TenantID       string              `json:"tenant_id"`
	Name           string              `json:"name"`
	Type           LinkType            `json:"type"`
	FromNodeID     string              `json:"from_node_id"`
	ToNodeID       string              `json:"to_node_id"`
	Status         LinkStatus          `json:"status"`
	Priority       int                 `json:"priority"`
	CapacityMbps   float64             `json:"capacity_mbps"`
	UtilizationPct float64             `json:"utilization_pct"`
	LatencyMs      float64             `json:"latency_ms"`
	LossDB         float64             `json:"loss_db"`
	Geometry       geo.MultiLineString `json:"geometry"`
	LengthM        float64             `json:"length_m"`
	Metadata       Attributes          `json:"metadata"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func (l *Link) Clone() *Link {
	c := *l
	c.Geometry = cloneLines(l.Geometry)
	c.Metadata = l.Metadata.Clone()
	return &c
}

// Zone is a polygonal area of coverage eligibility.
type Zone struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"tenant_id"`
	Name      string           `json:"name"`
	ZoneType  string           `json:"zone_type"`
	Priority  int              `json:"priority"`
	Status    ZoneStatus       `json:"status"`
	Geometry  geo.MultiPolygon `json:"geometry"`
	AreaM2    float64          `json:"area_m2"`
	Metadata  Attributes       `json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (z *Zone) Clone() *Zone {
	c := *z
	c.Geometry = clonePolygons(z.Geometry)
	c.Metadata = z.Metadata.Clone()
	return &c
}

// Binding makes a node eligible to serve a zone.
type Binding struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ZoneID    string    `json:"zone_id"`
	NodeID    string    `json:"node_id"`
	IsPrimary bool      `json:"is_primary"`
	Weight    int       `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Binding) Clone() *Binding {
	c := *b
	return &c
}

// Package is a purchasable service offering from the catalog.
type Package struct {
	ID            string   `json:"id" mapstructure:"id"`
	Name          string   `json:"name" mapstructure:"name"`
	DownloadMbps  int      `json:"download_mbps" mapstructure:"download_mbps"`
	UploadMbps    int      `json:"upload_mbps" mapstructure:"upload_mbps"`
	MonthlyPrice  float64  `json:"monthly_price" mapstructure:"monthly_price"`
	Currency      string   `json:"currency" mapstructure:"currency"`
	CustomerTypes []string `json:"customer_types" mapstructure:"customer_types"`
	ZoneTypes     []string `json:"zone_types" mapstructure:"zone_types"`
	Tenants       []string `json:"tenants,omitempty" mapstructure:"tenants"`
	Active        bool     `json:"active" mapstructure:"active"`
}

func cloneLines(m geo.MultiLineString) geo.MultiLineString {
	if m == nil {
		return nil
	}
	out := make(geo.MultiLineString, len(m))
	for i, ls := range m {
		out[i] = append(geo.LineString(nil), ls...)
	}
	return out
}

func clonePolygons(m geo.MultiPolygon) geo.MultiPolygon {
	if m == nil {
		return nil
	}
	out := make(geo.MultiPolygon, len(m))
	for i, pg := range m {
		out[i] = make(geo.Polygon, len(pg))
		for j, r := range pg {
			out[i][j] = append(geo.Ring(nil), r...)
		}
	}
	return out
}
