package topology

import (
	"github.com/netmap-platform/netmap/internal/geo"
	"github.com/netmap-platform/netmap/internal/models"
)

// NodeInput creates a node. An empty ID is generated.
type NodeInput struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name"`
	Type     models.NodeType   `json:"type"`
	Status   models.NodeStatus `json:"status,omitempty"`
	Location *geo.Point        `json:"location"`
	Capacity models.Attributes `json:"capacity,omitempty"`
	Health   models.Attributes `json:"health,omitempty"`
	Metadata models.Attributes `json:"metadata,omitempty"`
}

// NodePatch changes only the fields that are set.
type NodePatch struct {
	Name     *string            `json:"name,omitempty"`
	Type     *models.NodeType   `json:"type,omitempty"`
	Status   *models.NodeStatus `json:"status,omitempty"`
	Location *geo.Point         `json:"location,omitempty"`
	Capacity *models.Attributes `json:"capacity,omitempty"`
	Health   *models.Attributes `json:"health,omitempty"`
	Metadata *models.Attributes `json:"metadata,omitempty"`
}

// LinkInput creates a link. Without geometry a straight line between
// the endpoint locations is used.
type LinkInput struct {
	ID             string               `json:"id,omitempty"`
	Name           string               `json:"name,omitempty"`
	Type           models.LinkType      `json:"type"`
	FromNodeID     string               `json:"from_node_id"`
	ToNodeID       string               `json:"to_node_id"`
	Status         models.LinkStatus    `json:"status,omitempty"`
	Priority       int                  `json:"priority,omitempty"`
	CapacityMbps   float64              `json:"capacity_mbps,omitempty"`
	UtilizationPct float64              `json:"utilization_pct,omitempty"`
	LatencyMs      float64              `json:"latency_ms,omitempty"`
	LossDB         float64              `json:"loss_db,omitempty"`
	Geometry       *geo.MultiLineString `json:"geometry,omitempty"`
	Metadata       models.Attributes    `json:"metadata,omitempty"`
}

// LinkPatch changes only the fields that are set. Moving an endpoint
// without supplying geometry re-derives the straight line.
type LinkPatch struct {
	Name           *string              `json:"name,omitempty"`
	Type           *models.LinkType     `json:"type,omitempty"`
	FromNodeID     *string              `json:"from_node_id,omitempty"`
	ToNodeID       *string              `json:"to_node_id,omitempty"`
	Status         *models.LinkStatus   `json:"status,omitempty"`
	Priority       *int                 `json:"priority,omitempty"`
	CapacityMbps   *float64             `json:"capacity_mbps,omitempty"`
	UtilizationPct *float64             `json:"utilization_pct,omitempty"`
	LatencyMs      *float64             `json:"latency_ms,omitempty"`
	LossDB         *float64             `json:"loss_db,omitempty"`
	Geometry       *geo.MultiLineString `json:"geometry,omitempty"`
	Metadata       *models.Attributes   `json:"metadata,omitempty"`
}

// ZoneInput creates a zone.
type ZoneInput struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name"`
	ZoneType string            `json:"zone_type,omitempty"`
	Priority int               `json:"priority,omitempty"`
	Status   models.ZoneStatus `json:"status,omitempty"`
	Geometry geo.MultiPolygon  `json:"geometry"`
	Metadata models.Attributes `json:"metadata,omitempty"`
}

// ZonePatch changes only the fields that are set.
type ZonePatch struct {
	Name     *string            `json:"name,omitempty"`
	ZoneType *string            `json:"zone_type,omitempty"`
	Priority *int               `json:"priority,omitempty"`
	Status   *models.ZoneStatus `json:"status,omitempty"`
	Geometry *geo.MultiPolygon  `json:"geometry,omitempty"`
	Metadata *models.Attributes `json:"metadata,omitempty"`
}

// BindingInput makes a node eligible to serve a zone.
type BindingInput struct {
	ID        string `json:"id,omitempty"`
	ZoneID    string `json:"zone_id"`
	NodeID    string `json:"node_id"`
	IsPrimary bool   `json:"is_primary,omitempty"`
	Weight    int    `json:"weight,omitempty"`
}

// BindingPatch changes the ranking inputs of a binding. The zone and
// node of a binding are fixed.
type BindingPatch struct {
	IsPrimary *bool `json:"is_primary,omitempty"`
	Weight    *int  `json:"weight,omitempty"`
}
