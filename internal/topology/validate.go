package topology

import (
	"math"
	"strings"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/geo"
	"github.com/netmap-platform/netmap/internal/models"
)

const (
	maxIDLen   = 128
	maxNameLen = 255
)

func validateID(id string) error {
	if id == "" {
		return nil
	}
	if strings.TrimSpace(id) != id || len(id) > maxIDLen {
		return apperr.Invalid("id", "must be at most %d bytes without surrounding whitespace", maxIDLen)
	}
	if strings.ContainsAny(id, "/?#") {
		return apperr.Invalid("id", "must not contain '/', '?' or '#'")
	}
	return nil
}

func validateName(name string, required bool) error {
	if required && strings.TrimSpace(name) == "" {
		return apperr.Invalid("name", "is required")
	}
	if len(name) > maxNameLen {
		return apperr.Invalid("name", "must be at most %d bytes", maxNameLen)
	}
	return nil
}

func finite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return apperr.Invalid(field, "must be a finite number")
	}
	return nil
}

func nonNegative(field string, v float64) error {
	if err := finite(field, v); err != nil {
		return err
	}
	if v < 0 {
		return apperr.Invalid(field, "must be >= 0, got %v", v)
	}
	return nil
}

func validateNode(n *models.Node) error {
	if err := validateID(n.ID); err != nil {
		return err
	}
	if err := validateName(n.Name, true); err != nil {
		return err
	}
	if !n.Type.Valid() {
		return apperr.Invalid("type", "unknown node type %q", n.Type)
	}
	if !n.Status.Valid() {
		return apperr.Invalid("status", "unknown node status %q", n.Status)
	}
	return geo.CheckCoordinate("location", n.Location)
}

func validateLink(l *models.Link) error {
	if err := validateID(l.ID); err != nil {
		return err
	}
	if err := validateName(l.Name, false); err != nil {
		return err
	}
	if !l.Type.Valid() {
		return apperr.Invalid("type", "unknown link type %q", l.Type)
	}
	if !l.Status.Valid() {
		return apperr.Invalid("status", "unknown link status %q", l.Status)
	}
	switch {
	case l.FromNodeID == "":
		return apperr.Invalid("from_node_id", "is required")
	case l.ToNodeID == "":
		return apperr.Invalid("to_node_id", "is required")
	case l.FromNodeID == l.ToNodeID:
		return apperr.Invalid("to_node_id", "must differ from from_node_id")
	}
	if err := nonNegative("capacity_mbps", l.CapacityMbps); err != nil {
		return err
	}
	if err := nonNegative("utilization_pct", l.UtilizationPct); err != nil {
		return err
	}
	if l.UtilizationPct > 100 {
		return apperr.Invalid("utilization_pct", "must be <= 100, got %v", l.UtilizationPct)
	}
	if err := nonNegative("latency_ms", l.LatencyMs); err != nil {
		return err
	}
	if err := nonNegative("loss_db", l.LossDB); err != nil {
		return err
	}
	if len(l.Geometry) > 0 {
		return l.Geometry.Validate()
	}
	return nil
}

func validateZone(z *models.Zone) error {
	if err := validateID(z.ID); err != nil {
		return err
	}
	if err := validateName(z.Name, true); err != nil {
		return err
	}
	if len(z.ZoneType) > maxNameLen {
		return apperr.Invalid("zone_type", "must be at most %d bytes", maxNameLen)
	}
	if !z.Status.Valid() {
		return apperr.Invalid("status", "unknown zone status %q", z.Status)
	}
	if len(z.Geometry) == 0 {
		return apperr.Invalid("geometry", "is required")
	}
	return z.Geometry.Validate()
}

func validateBinding(b *models.Binding) error {
	if err := validateID(b.ID); err != nil {
		return err
	}
	switch {
	case b.ZoneID == "":
		return apperr.Invalid("zone_id", "is required")
	case b.NodeID == "":
		return apperr.Invalid("node_id", "is required")
	case b.Weight < 0:
		return apperr.Invalid("weight", "must be >= 0, got %d", b.Weight)
	}
	return nil
}
