package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestImportRequiresFlags(t *testing.T) {
	_, err := execute(t, "import", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestImportInMemory(t *testing.T) {
	t.Setenv("NETMAP_TELEMETRY_ENABLED", "false")
	t.Setenv("NETMAP_LOGGING_LEVEL", "error")

	dir := t.TempDir()
	file := filepath.Join(dir, "zones.geojson")
	require.NoError(t, os.WriteFile(file, []byte(`{
  "type": "FeatureCollection",
  "features": [{
    "type": "Feature",
    "properties": {"name": "Kemang", "zone_type": "residential", "priority": 10},
    "geometry": {"type": "Polygon", "coordinates": [[[106.80,-6.21],[106.81,-6.21],[106.81,-6.20],[106.80,-6.20],[106.80,-6.21]]]}
  }]
}`), 0o600))

	out, err := execute(t, "import", "--env-file", filepath.Join(dir, "missing.env"), "--tenant", "acme", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 zones for acme (1 created, 0 updated)")
}

func TestMigrateRejectsMemoryDriver(t *testing.T) {
	_, err := execute(t, "migrate", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}
