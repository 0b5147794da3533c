package topology

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/netmap-platform/netmap/internal/api"
	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/geo"
	"github.com/netmap-platform/netmap/internal/models"
	"github.com/netmap-platform/netmap/internal/spatial"
	"github.com/netmap-platform/netmap/internal/storage"
)

// Handler provides HTTP handlers for topology management
type Handler struct {
	service *Service
}

// NewHandler creates a new topology handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers topology routes with the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/nodes", h.ListNodes).Methods(http.MethodGet)
	router.HandleFunc("/nodes", h.CreateNode).Methods(http.MethodPost)
	router.HandleFunc("/nodes/{id}", h.GetNode).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}", h.UpdateNode).Methods(http.MethodPatch)
	router.HandleFunc("/nodes/{id}", h.DeleteNode).Methods(http.MethodDelete)

	router.HandleFunc("/links", h.ListLinks).Methods(http.MethodGet)
	router.HandleFunc("/links", h.CreateLink).Methods(http.MethodPost)
	router.HandleFunc("/links/{id}", h.GetLink).Methods(http.MethodGet)
	router.HandleFunc("/links/{id}", h.UpdateLink).Methods(http.MethodPatch)
	router.HandleFunc("/links/{id}", h.DeleteLink).Methods(http.MethodDelete)

	router.HandleFunc("/zones/import", h.ImportZones).Methods(http.MethodPost)
	router.HandleFunc("/zones", h.ListZones).Methods(http.MethodGet)
	router.HandleFunc("/zones", h.CreateZone).Methods(http.MethodPost)
	router.HandleFunc("/zones/{id}", h.GetZone).Methods(http.MethodGet)
	router.HandleFunc("/zones/{id}", h.UpdateZone).Methods(http.MethodPatch)
	router.HandleFunc("/zones/{id}", h.DeleteZone).Methods(http.MethodDelete)

	router.HandleFunc("/zone-node-bindings", h.ListBindings).Methods(http.MethodGet)
	router.HandleFunc("/zone-node-bindings", h.CreateBinding).Methods(http.MethodPost)
	router.HandleFunc("/zone-node-bindings/{id}", h.GetBinding).Methods(http.MethodGet)
	router.HandleFunc("/zone-node-bindings/{id}", h.UpdateBinding).Methods(http.MethodPatch)
	router.HandleFunc("/zone-node-bindings/{id}", h.DeleteBinding).Methods(http.MethodDelete)

	router.HandleFunc("/map/features", h.MapFeatures).Methods(http.MethodGet)
}

// Nodes

func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.NodeFilter{Type: models.NodeType(q.Get("type")), Status: models.NodeStatus(q.Get("status"))}
	if f.Type != "" && !f.Type.Valid() {
		api.WriteError(r.Context(), w, apperr.Invalid("type", "unknown node type %q", f.Type))
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		api.WriteError(r.Context(), w, apperr.Invalid("status", "unknown node status %q", f.Status))
		return
	}
	nodes, err := h.service.ListNodes(r.Context(), api.Tenant(r.Context()), f)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "count": len(nodes)})
}

func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var in NodeInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	n, err := h.service.CreateNode(r.Context(), api.Tenant(r.Context()), in)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, n)
}

func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.GetNode(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	var p NodePatch
	if err := api.DecodeJSON(r, &p); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	n, err := h.service.UpdateNode(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"], p)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteNode(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"]); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Links

func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.LinkFilter{
		Type:   models.LinkType(q.Get("type")),
		Status: models.LinkStatus(q.Get("status")),
		NodeID: q.Get("node_id"),
	}
	if f.Type != "" && !f.Type.Valid() {
		api.WriteError(r.Context(), w, apperr.Invalid("type", "unknown link type %q", f.Type))
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		api.WriteError(r.Context(), w, apperr.Invalid("status", "unknown link status %q", f.Status))
		return
	}
	links, err := h.service.ListLinks(r.Context(), api.Tenant(r.Context()), f)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"links": links, "count": len(links)})
}

func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var in LinkInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	l, err := h.service.CreateLink(r.Context(), api.Tenant(r.Context()), in)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, l)
}

func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	l, err := h.service.GetLink(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, l)
}

func (h *Handler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	var p LinkPatch
	if err := api.DecodeJSON(r, &p); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	l, err := h.service.UpdateLink(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"], p)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, l)
}

func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteLink(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"]); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Zones

func (h *Handler) ListZones(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.ZoneFilter{Status: models.ZoneStatus(q.Get("status")), ZoneType: q.Get("zone_type")}
	if f.Status != "" && !f.Status.Valid() {
		api.WriteError(r.Context(), w, apperr.Invalid("status", "unknown zone status %q", f.Status))
		return
	}
	zones, err := h.service.ListZones(r.Context(), api.Tenant(r.Context()), f)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"zones": zones, "count": len(zones)})
}

func (h *Handler) CreateZone(w http.ResponseWriter, r *http.Request) {
	var in ZoneInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	z, err := h.service.CreateZone(r.Context(), api.Tenant(r.Context()), in)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, z)
}

func (h *Handler) GetZone(w http.ResponseWriter, r *http.Request) {
	z, err := h.service.GetZone(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, z)
}

func (h *Handler) UpdateZone(w http.ResponseWriter, r *http.Request) {
	var p ZonePatch
	if err := api.DecodeJSON(r, &p); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	z, err := h.service.UpdateZone(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"], p)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, z)
}

func (h *Handler) DeleteZone(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteZone(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"]); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportZones handles POST /zones/import with a GeoJSON FeatureCollection body
func (h *Handler) ImportZones(w http.ResponseWriter, r *http.Request) {
	var fc geo.FeatureCollection
	if err := api.DecodeJSON(r, &fc); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	res, err := h.service.ImportZones(r.Context(), api.Tenant(r.Context()), &fc)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// Bindings

func (h *Handler) ListBindings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.BindingFilter{ZoneID: q.Get("zone_id"), NodeID: q.Get("node_id")}
	bindings, err := h.service.ListBindings(r.Context(), api.Tenant(r.Context()), f)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"bindings": bindings, "count": len(bindings)})
}

func (h *Handler) CreateBinding(w http.ResponseWriter, r *http.Request) {
	var in BindingInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	b, err := h.service.CreateBinding(r.Context(), api.Tenant(r.Context()), in)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, b)
}

func (h *Handler) GetBinding(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetBinding(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) UpdateBinding(w http.ResponseWriter, r *http.Request) {
	var p BindingPatch
	if err := api.DecodeJSON(r, &p); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	b, err := h.service.UpdateBinding(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"], p)
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) DeleteBinding(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBinding(r.Context(), api.Tenant(r.Context()), mux.Vars(r)["id"]); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MapFeatures handles GET /map/features?bbox=minLng,minLat,maxLng,maxLat&kind=zone,node
func (h *Handler) MapFeatures(w http.ResponseWriter, r *http.Request) {
	box, err := ParseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		api.WriteSpatialError(r.Context(), w, err)
		return
	}
	var kinds []spatial.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			k, err := spatial.ParseKind(strings.TrimSpace(part))
			if err != nil {
				api.WriteError(r.Context(), w, err)
				return
			}
			kinds = append(kinds, k)
		}
	}
	fc, err := h.service.MapFeatures(r.Context(), api.Tenant(r.Context()), box, kinds)
	if err != nil {
		api.WriteSpatialError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, fc)
}

// ParseBBox parses "minLng,minLat,maxLng,maxLat".
func ParseBBox(s string) (geo.BBox, error) {
	if s == "" {
		return geo.BBox{}, apperr.Invalid("bbox", "is required")
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geo.BBox{}, apperr.Invalid("bbox", "must be minLng,minLat,maxLng,maxLat")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.BBox{}, apperr.Invalid("bbox", "%q is not a number", p)
		}
		v[i] = f
	}
	box := geo.BBox{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}
	if err := geo.CheckCoordinate("bbox.min", geo.Point{Lng: box.MinLng, Lat: box.MinLat}); err != nil {
		return geo.BBox{}, err
	}
	if err := geo.CheckCoordinate("bbox.max", geo.Point{Lng: box.MaxLng, Lat: box.MaxLat}); err != nil {
		return geo.BBox{}, err
	}
	if box.IsEmpty() {
		return geo.BBox{}, apperr.Invalid("bbox", "min must not exceed max")
	}
	return box, nil
}
