package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/geo"
	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/models"
	"github.com/netmap-platform/netmap/internal/spatial"
	"github.com/netmap-platform/netmap/internal/storage"
)

// MaxMapFeatures bounds a single map view.
const MaxMapFeatures = 10000

// ImportResult summarizes a bulk zone import
type ImportResult struct {
	Created int            `json:"created"`
	Updated int            `json:"updated"`
	Zones   []*models.Zone `json:"zones"`
}

// ImportZones upserts every feature of fc as a zone in one transaction.
// Features match existing zones by id, or by name when they carry no id.
// The tenant index is rebuilt afterwards.
func (s *Service) ImportZones(ctx context.Context, tenant string, fc *geo.FeatureCollection) (*ImportResult, error) {
	if fc == nil || fc.Type != "FeatureCollection" {
		return nil, apperr.Invalid("type", "must be FeatureCollection")
	}
	if len(fc.Features) == 0 {
		return nil, apperr.Invalid("features", "must not be empty")
	}
	inputs := make([]ZoneInput, len(fc.Features))
	for i, f := range fc.Features {
		in, err := zoneFromFeature(f)
		if err != nil {
			return nil, prefixField(fmt.Sprintf("features[%d]", i), err)
		}
		inputs[i] = in
	}

	res := &ImportResult{Zones: make([]*models.Zone, 0, len(inputs))}
	err := s.mutate(ctx, tenant, func(rtx storage.Tx, itx *spatial.Tx) error {
		existing, err := rtx.ListZones(ctx, tenant, storage.ZoneFilter{})
		if err != nil {
			return err
		}
		byID := make(map[string]*models.Zone, len(existing))
		byName := make(map[string]*models.Zone, len(existing))
		for _, z := range existing {
			byID[z.ID] = z
			byName[z.Name] = z
		}

		for i, in := range inputs {
			cur := byID[in.ID]
			if cur == nil && in.ID == "" {
				cur = byName[in.Name]
			}
			z := s.newZone(tenant, in)
			if cur != nil {
				delete(byName, cur.Name)
				z.ID = cur.ID
				z.CreatedAt = cur.CreatedAt
			}
			if err := validateZone(z); err != nil {
				return prefixField(fmt.Sprintf("features[%d]", i), err)
			}
			z.AreaM2 = z.Geometry.Area()
			if cur != nil {
				err = rtx.UpdateZone(ctx, z)
				res.Updated++
			} else {
				z.ID = s.assignID(z.ID)
				err = rtx.CreateZone(ctx, z)
				res.Created++
			}
			if err != nil {
				return fmt.Errorf("features[%d]: %w", i, err)
			}
			if err := itx.Upsert(spatial.Entry{Kind: spatial.KindZone, ID: z.ID, Geometry: z.Geometry}); err != nil {
				return err
			}
			byID[z.ID] = z
			byName[z.Name] = z
			res.Zones = append(res.Zones, z)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import zones: %w", err)
	}
	if _, err := s.indexes.Rebuild(ctx, tenant); err != nil {
		// the next access retries the build
		s.logger.Warn(ctx, "Index rebuild after import failed", logging.Tenant(tenant), zap.Error(err))
	}
	s.committed(ctx, Change{Tenant: tenant, Kind: EntityZone, Action: ActionImported})
	return res, nil
}

func zoneFromFeature(f geo.Feature) (ZoneInput, error) {
	var in ZoneInput
	if f.Type != "Feature" {
		return in, apperr.Invalid("type", "must be Feature")
	}
	if err := json.Unmarshal(f.Geometry, &in.Geometry); err != nil {
		return in, prefixField("geometry", err)
	}
	props := models.Attributes(f.Properties)

	switch id := f.ID.(type) {
	case nil:
	case string:
		in.ID = id
	case float64:
		in.ID = fmt.Sprintf("%.0f", id)
	default:
		return in, apperr.Invalid("id", "must be a string or number")
	}
	if id, ok := props["id"].(string); ok && in.ID == "" {
		in.ID = id
	}
	in.Name, _ = props["name"].(string)
	if zt, ok := props["zone_type"].(string); ok {
		in.ZoneType = strings.TrimSpace(zt)
	}
	if st, ok := props.String("status"); ok {
		in.Status = models.ZoneStatus(st)
	}
	if _, present := props["priority"]; present {
		p, ok := props.Float("priority")
		if !ok || p != math.Trunc(p) || math.Abs(p) > math.MaxInt32 {
			return in, apperr.Invalid("properties.priority", "must be an integer")
		}
		in.Priority = int(p)
	}
	if md, ok := props["metadata"].(map[string]any); ok {
		in.Metadata = md
	}
	return in, nil
}

// prefixField qualifies the field of an apperr error with prefix.
func prefixField(prefix string, err error) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	c := *ae
	if c.Field == "" {
		c.Field = prefix
	} else {
		c.Field = prefix + "." + c.Field
	}
	return &c
}

// MapFeatures returns the entities of the given kinds whose geometry
// intersects box, as GeoJSON features.
func (s *Service) MapFeatures(ctx context.Context, tenant string, box geo.BBox, kinds []spatial.Kind) (*geo.FeatureCollection, error) {
	if len(kinds) == 0 {
		kinds = spatial.Kinds
	}
	idx, err := s.indexes.Get(ctx, tenant)
	if err != nil {
		return nil, err
	}
	fc := geo.NewFeatureCollection()
	err = idx.View(func(v spatial.Reader) error {
		for _, kind := range kinds {
			ids, err := v.QueryBBox(ctx, box, kind)
			if err != nil {
				return err
			}
			if len(fc.Features)+len(ids) > MaxMapFeatures {
				return apperr.Invalid("bbox", "matches more than %d features, zoom in", MaxMapFeatures)
			}
			if len(ids) == 0 {
				continue
			}
			features, err := s.features(ctx, tenant, kind, ids)
			if err != nil {
				return err
			}
			fc.Features = append(fc.Features, features...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fc, nil
}

func (s *Service) features(ctx context.Context, tenant string, kind spatial.Kind, ids []string) ([]geo.Feature, error) {
	var out []geo.Feature
	add := func(id string, g geo.Geometry, props map[string]any) error {
		raw, err := geo.EncodeGeoJSON(g)
		if err != nil {
			return err
		}
		props["kind"] = string(kind)
		out = append(out, geo.Feature{Type: "Feature", ID: id, Geometry: raw, Properties: props})
		return nil
	}

	switch kind {
	case spatial.KindNode:
		nodes, err := s.repo.ListNodes(ctx, tenant, storage.NodeFilter{IDs: ids})
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if err := add(n.ID, n.Location, map[string]any{
				"name": n.Name, "type": n.Type, "status": n.Status, "health": n.Health,
			}); err != nil {
				return nil, err
			}
		}
	case spatial.KindLink:
		links, err := s.repo.ListLinks(ctx, tenant, storage.LinkFilter{IDs: ids})
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			if err := add(l.ID, l.Geometry, map[string]any{
				"name": l.Name, "type": l.Type, "status": l.Status,
				"from_node_id": l.FromNodeID, "to_node_id": l.ToNodeID,
				"utilization_pct": l.UtilizationPct, "length_m": l.LengthM,
			}); err != nil {
				return nil, err
			}
		}
	case spatial.KindZone:
		zones, err := s.repo.ListZones(ctx, tenant, storage.ZoneFilter{IDs: ids})
		if err != nil {
			return nil, err
		}
		for _, z := range zones {
			if err := add(z.ID, z.Geometry, map[string]any{
				"name": z.Name, "zone_type": z.ZoneType, "priority": z.Priority,
				"status": z.Status, "area_m2": z.AreaM2,
			}); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
