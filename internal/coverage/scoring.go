package coverage

import (
	"sort"

	"github.com/netmap-platform/netmap/internal/config"
	"github.com/netmap-platform/netmap/internal/models"
)

// Health keys read from a node's health attributes.
const (
	HealthStatusKey      = "status"
	HealthUtilizationKey = "utilization_pct"
)

// ScoringPolicy ranks the nodes bound to a zone.
type ScoringPolicy struct {
	PrimaryBonus          float64
	MaintenanceFactor     float64
	DegradedFactor        float64
	DownFactor            float64
	HighUtilizationPct    float64
	HighUtilizationFactor float64
}

// DefaultScoringPolicy returns the built-in weights.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		PrimaryBonus:          50,
		MaintenanceFactor:     0.1,
		DegradedFactor:        0.6,
		DownFactor:            0.2,
		HighUtilizationPct:    90,
		HighUtilizationFactor: 0.8,
	}
}

// NewScoringPolicy builds a policy from configuration.
func NewScoringPolicy(cfg config.ScoringConfig) ScoringPolicy {
	return ScoringPolicy{
		PrimaryBonus:          cfg.PrimaryBonus,
		MaintenanceFactor:     cfg.MaintenanceFactor,
		DegradedFactor:        cfg.DegradedFactor,
		DownFactor:            cfg.DownFactor,
		HighUtilizationPct:    cfg.HighUtilizationPct,
		HighUtilizationFactor: cfg.HighUtilizationFactor,
	}
}

// Candidate is a node able to serve a point, with its score.
type Candidate struct {
	Node      *models.Node `json:"node"`
	BindingID string       `json:"binding_id"`
	IsPrimary bool         `json:"is_primary"`
	Weight    int          `json:"weight"`
	Score     float64      `json:"score"`
}

// Score returns the score of n under binding b. Inactive nodes are not
// candidates and report false.
func (p ScoringPolicy) Score(n *models.Node, b *models.Binding) (float64, bool) {
	status := p.statusFactor(n.Status)
	if status == 0 {
		return 0, false
	}
	base := float64(b.Weight)
	if b.IsPrimary {
		base += p.PrimaryBonus
	}
	return base * status * p.healthFactor(n.Health), true
}

func (p ScoringPolicy) statusFactor(s models.NodeStatus) float64 {
	switch s {
	case models.NodeStatusActive:
		return 1
	case models.NodeStatusMaintenance:
		return p.MaintenanceFactor
	default:
		return 0
	}
}

// healthFactor is neutral for missing or unrecognized keys.
func (p ScoringPolicy) healthFactor(h models.Attributes) float64 {
	f := 1.0
	if s, ok := h.String(HealthStatusKey); ok {
		switch s {
		case "degraded":
			f *= p.DegradedFactor
		case "down":
			f *= p.DownFactor
		}
	}
	if u, ok := h.Float(HealthUtilizationKey); ok && u >= p.HighUtilizationPct {
		f *= p.HighUtilizationFactor
	}
	return f
}

// Rank scores every bound node present in nodes and orders the result by
// score descending, then node id.
func (p ScoringPolicy) Rank(bindings []*models.Binding, nodes map[string]*models.Node) []Candidate {
	out := make([]Candidate, 0, len(bindings))
	for _, b := range bindings {
		n, ok := nodes[b.NodeID]
		if !ok {
			continue
		}
		score, ok := p.Score(n, b)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Node:      n,
			BindingID: b.ID,
			IsPrimary: b.IsPrimary,
			Weight:    b.Weight,
			Score:     score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	return out
}
