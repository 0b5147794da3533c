package coverage

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/netmap-platform/netmap/internal/api"
	"github.com/netmap-platform/netmap/internal/geo"
	"github.com/netmap-platform/netmap/internal/models"
	"github.com/netmap-platform/netmap/internal/resolver"
)

// CheckRequest is the body of POST /coverage/check
type CheckRequest struct {
	Lat          *float64 `json:"lat" validate:"required"`
	Lng          *float64 `json:"lng" validate:"required"`
	CustomerType string   `json:"customer_type" validate:"max=64"`
}

// ResolveRequest is the body of POST /zones/resolve
type ResolveRequest struct {
	Lat *float64 `json:"lat" validate:"required"`
	Lng *float64 `json:"lng" validate:"required"`
}

// ResolveResponse carries the governing zone and, on request, every
// active zone containing the point in precedence order.
type ResolveResponse struct {
	Zone   *models.Zone   `json:"zone"`
	Ranked []*models.Zone `json:"ranked,omitempty"`
}

// Handler exposes the coverage engine and zone resolver over HTTP
type Handler struct {
	engine   *Engine
	resolver *resolver.Resolver
}

// NewHandler creates a coverage handler
func NewHandler(engine *Engine, res *resolver.Resolver) *Handler {
	return &Handler{engine: engine, resolver: res}
}

// RegisterRoutes registers coverage routes with the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/coverage/check", h.Check).Methods(http.MethodPost)
	router.HandleFunc("/zones/resolve", h.Resolve).Methods(http.MethodPost)
}

// Check handles POST /coverage/check
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	if err := api.Validate(req); err != nil {
		api.WriteSpatialError(r.Context(), w, err)
		return
	}
	res, err := h.engine.CheckCoverage(r.Context(), api.Tenant(r.Context()), geo.Point{Lng: *req.Lng, Lat: *req.Lat}, req.CustomerType)
	if err != nil {
		api.WriteSpatialError(r.Context(), w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// Resolve handles POST /zones/resolve. ?all=true adds the full ranking.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	all, err := api.QueryBool(r, "all")
	if err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	var req ResolveRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(r.Context(), w, err)
		return
	}
	if err := api.Validate(req); err != nil {
		api.WriteSpatialError(r.Context(), w, err)
		return
	}
	ranked, err := h.resolver.Rank(r.Context(), api.Tenant(r.Context()), geo.Point{Lng: *req.Lng, Lat: *req.Lat})
	if err != nil {
		api.WriteSpatialError(r.Context(), w, err)
		return
	}
	resp := ResolveResponse{}
	if len(ranked) > 0 {
		resp.Zone = ranked[0]
	}
	if all {
		resp.Ranked = ranked
	}
	api.WriteJSON(w, http.StatusOK, resp)
}
