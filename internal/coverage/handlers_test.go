package coverage

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/netmap-platform/netmap/internal/api"
	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/topology"
)

func setupTestHandler(t *testing.T) http.Handler {
	env := newTestEnv(t)
	env.seedScenario(t)
	g := api.NewGateway(api.GatewayOptions{Logger: logging.Wrap(zaptest.NewLogger(t))})
	g.Mount(NewHandler(env.engine, env.resolver), topology.NewHandler(env.svc))
	return g
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set(api.TenantHeader, tenant)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCheckEndpoint(t *testing.T) {
	h := setupTestHandler(t)

	w := post(t, h, "/coverage/check", `{"lat":-6.205,"lng":106.805,"customer_type":"residential"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Covered bool `json:"covered"`
		Zone    struct {
			ID string `json:"id"`
		} `json:"zone"`
		CandidateNodes []struct {
			Node struct {
				ID string `json:"id"`
			} `json:"node"`
			Score float64 `json:"score"`
		} `json:"candidate_nodes"`
		AvailablePackages []map[string]any `json:"available_packages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Covered)
	assert.Equal(t, "Z", body.Zone.ID)
	require.Len(t, body.CandidateNodes, 2)
	assert.Equal(t, "N1", body.CandidateNodes[0].Node.ID)
	assert.Equal(t, 150.0, body.CandidateNodes[0].Score)
	assert.Len(t, body.AvailablePackages, 2)

	w = post(t, h, "/coverage/check", `{"lat":0,"lng":0,"customer_type":"residential"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"covered":false,"zone":null,"candidate_nodes":[],"available_packages":[]}`, w.Body.String())
}

func TestCheckEndpointErrors(t *testing.T) {
	h := setupTestHandler(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"latitude out of range", `{"lat":95,"lng":106.8}`, http.StatusUnprocessableEntity},
		{"longitude out of range", `{"lat":0,"lng":-200}`, http.StatusUnprocessableEntity},
		{"missing lat", `{"lng":106.8}`, http.StatusUnprocessableEntity},
		{"wrong type", `{"lat":"north","lng":106.8}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, h, "/coverage/check", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestResolveEndpoint(t *testing.T) {
	h := setupTestHandler(t)

	w := post(t, h, "/zones", `{"id":"city","name":"City","priority":10,
		"geometry":{"type":"Polygon","coordinates":[[[106.7,-6.3],[106.9,-6.3],[106.9,-6.1],[106.7,-6.1],[106.7,-6.3]]]}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = post(t, h, "/zones/resolve", `{"lat":-6.205,"lng":106.805}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Zone   *struct{ ID string } `json:"zone"`
		Ranked []struct{ ID string } `json:"ranked"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Zone)
	assert.Equal(t, "Z", body.Zone.ID)
	assert.Empty(t, body.Ranked)

	w = post(t, h, "/zones/resolve?all=true", `{"lat":-6.205,"lng":106.805}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Ranked, 2)
	assert.Equal(t, "Z", body.Ranked[0].ID)
	assert.Equal(t, "city", body.Ranked[1].ID)

	w = post(t, h, "/zones/resolve", `{"lat":10,"lng":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"zone":null}`, w.Body.String())

	w = post(t, h, "/zones/resolve?all=maybe", `{"lat":10,"lng":10}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCoverageRequiresTenant(t *testing.T) {
	h := setupTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/coverage/check", bytes.NewBufferString(`{"lat":0,"lng":0}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
