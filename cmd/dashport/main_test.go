package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/adityalohuni/dashport/internal/config"
	"github.com/adityalohuni/dashport/internal/dashboard"
)

func TestLoadSettingsAppliesOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)
	path := filepath.Join(t.TempDir(), "config.toml")
	viper.Set("config", path)
	viper.Set("backend", config.BackendRod)
	viper.Set("creator", "Bob")
	viper.Set("output", "out")

	settings, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, path, settings.Path)
	assert.Equal(t, config.BackendRod, settings.Browser.Backend)
	assert.Equal(t, "Bob", settings.Dashboards.CreatorFilter)
	assert.Equal(t, "out", settings.Export.OutputDir)
	assert.FileExists(t, path)
}

func TestReadInputRejectsEmptySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.txt")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))

	_, err := readInput(path)
	require.EqualError(t, err, "snapshot is empty")

	_, err = readInput(filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorContains(t, err, "read snapshot")
}

func TestWriteManifestPicksFormatFromExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	records := []dashboard.Record{{Name: "Sales / Q1", URL: "https://dash.example/dashboards/d1", ID: "d1", Creator: "Bob"}}

	require.NoError(t, writeManifest(path, "Bob", "", records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m dashboard.Manifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	assert.Equal(t, "Bob", m.Meta.Creator)
	assert.Equal(t, "exports", m.Meta.ExportDirectory)
	require.Len(t, m.Dashboards, 1)
	assert.Equal(t, "d1", m.Dashboards[0].ID)
}

func TestSelectRecordsByIDAndName(t *testing.T) {
	records := []dashboard.Record{
		{Name: "Sales", ID: "d-sales", URL: "https://dash.example/dashboards/d-sales"},
		{Name: "Ops", ID: "d-ops", URL: "https://dash.example/dashboards/d-ops"},
		{Name: "Finance", ID: "d-fin", URL: "https://dash.example/dashboards/d-fin"},
	}

	got := selectRecords(records, []string{"https://dash.example/dashboards/d-fin/"}, []string{"sales"})
	require.Len(t, got, 2)
	assert.Equal(t, "Sales", got[0].Name)
	assert.Equal(t, "Finance", got[1].Name)

	got = selectRecords(records, []string{"d-ops"}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "d-ops", got[0].ID)

	assert.Empty(t, selectRecords(records, []string{"nope"}, []string{" "}))
}

func TestDeclaredIDWithoutIdentifier(t *testing.T) {
	dir := t.TempDir()
	bare := filepath.Join(dir, "bare.json")
	require.NoError(t, os.WriteFile(bare, []byte(`{"title":"x"}`), 0o600))
	withID := filepath.Join(dir, "with-id.json")
	require.NoError(t, os.WriteFile(withID, []byte(`{"id":"d1"}`), 0o600))
	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"id":`), 0o600))

	id, err := declaredID(bare)
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = declaredID(withID)
	require.NoError(t, err)
	assert.Equal(t, "d1", id)

	_, err = declaredID(broken)
	assert.Error(t, err)
}
