package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/netmap-platform/netmap/internal/config"
	"github.com/netmap-platform/netmap/internal/models"
)

func TestScore(t *testing.T) {
	p := DefaultScoringPolicy()

	tests := []struct {
		name    string
		node    models.Node
		binding models.Binding
		want    float64
		ok      bool
	}{
		{"active secondary", models.Node{Status: models.NodeStatusActive}, models.Binding{Weight: 80}, 80, true},
		{"active primary", models.Node{Status: models.NodeStatusActive}, models.Binding{Weight: 80, IsPrimary: true}, 130, true},
		{"maintenance", models.Node{Status: models.NodeStatusMaintenance}, models.Binding{Weight: 100}, 10, true},
		{"inactive", models.Node{Status: models.NodeStatusInactive}, models.Binding{Weight: 100, IsPrimary: true}, 0, false},
		{"degraded", models.Node{Status: models.NodeStatusActive, Health: models.Attributes{"status": "Degraded"}}, models.Binding{Weight: 100}, 60, true},
		{"down", models.Node{Status: models.NodeStatusActive, Health: models.Attributes{"status": "down"}}, models.Binding{Weight: 100}, 20, true},
		{"busy", models.Node{Status: models.NodeStatusActive, Health: models.Attributes{"utilization_pct": 95.0}}, models.Binding{Weight: 100}, 80, true},
		{"unknown health keys are neutral", models.Node{Status: models.NodeStatusActive, Health: models.Attributes{"status": "weird", "utilization_pct": "n/a"}}, models.Binding{Weight: 100}, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Score(&tt.node, &tt.binding)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRankOrdering(t *testing.T) {
	p := DefaultScoringPolicy()
	nodes := map[string]*models.Node{
		"n1": {ID: "n1", Status: models.NodeStatusActive},
		"n2": {ID: "n2", Status: models.NodeStatusActive},
		"n3": {ID: "n3", Status: models.NodeStatusActive},
		"n4": {ID: "n4", Status: models.NodeStatusInactive},
	}
	bindings := []*models.Binding{
		{ID: "b3", NodeID: "n3", Weight: 50},
		{ID: "b2", NodeID: "n2", Weight: 50},
		{ID: "b4", NodeID: "n4", Weight: 500, IsPrimary: true},
		{ID: "b1", NodeID: "n1", Weight: 50, IsPrimary: true},
		{ID: "b9", NodeID: "gone", Weight: 999},
	}

	ranked := p.Rank(bindings, nodes)
	var ids []string
	for _, c := range ranked {
		ids = append(ids, c.Node.ID)
	}
	assert.Equal(t, []string{"n1", "n2", "n3"}, ids)
	assert.Equal(t, 100.0, ranked[0].Score)
	assert.Equal(t, "b1", ranked[0].BindingID)
	assert.NotNil(t, p.Rank(nil, nodes))
}

func TestNewScoringPolicy(t *testing.T) {
	p := NewScoringPolicy(config.ScoringConfig{
		PrimaryBonus:          10,
		MaintenanceFactor:     0.5,
		DegradedFactor:        0.9,
		DownFactor:            0.5,
		HighUtilizationPct:    80,
		HighUtilizationFactor: 0.5,
	})
	got, ok := p.Score(
		&models.Node{Status: models.NodeStatusMaintenance, Health: models.Attributes{"utilization_pct": 85}},
		&models.Binding{Weight: 10, IsPrimary: true},
	)
	assert.True(t, ok)
	assert.InDelta(t, 5.0, got, 1e-9)
}
