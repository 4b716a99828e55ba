package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plant-for-the-planet/firealert/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "run", "notify", "migrate", "providers", "maintenance"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "firealert", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestMaintenanceSweep_Flags(t *testing.T) {
	flag := maintenanceSweepCmd.Flags().Lookup("older-than")
	require.NotNil(t, flag)
	assert.Equal(t, "0s", flag.DefValue)
}

func TestProvidersCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range providersCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["seed"])
}

const seedYAML = `
providers:
  - id: firms-viirs-africa
    type: FIRMS
    client_id: VIIRS_SNPP_NRT
    client_api_key: abc123
    is_active: true
    fetch_frequency_minutes: 30
    config:
      bbox: "-20,-35,55,38"
      slice: "33"
  - id: goes-16-americas
    type: GOES-16
    client_id: GEOSTATIONARY
    is_active: true
    config:
      slice: "1"
`

func TestParseProviderSeed(t *testing.T) {
	providers, err := parseProviderSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, providers, 2)

	p := providers[0]
	assert.Equal(t, "firms-viirs-africa", p.ID)
	assert.Equal(t, "FIRMS", p.Type)
	assert.Equal(t, "VIIRS_SNPP_NRT", p.ClientID)
	assert.Equal(t, "abc123", p.ClientAPIKey)
	assert.True(t, p.IsActive)
	assert.Equal(t, 30, p.FetchFrequencyMinutes)
	assert.JSONEq(t, `{"bbox":"-20,-35,55,38","slice":"33"}`, string(p.Config))

	assert.Equal(t, 15, providers[1].FetchFrequencyMinutes)
	assert.True(t, providers[1].IsGeostationary())
}

func TestParseProviderSeed_Invalid(t *testing.T) {
	_, err := parseProviderSeed([]byte("providers:\n  - id: x\n"))
	assert.Error(t, err)

	_, err = parseProviderSeed([]byte("providers:\n  - {id: a, type: FIRMS, client_id: X}\n  - {id: a, type: FIRMS, client_id: X}\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = parseProviderSeed([]byte("providers: [}"))
	assert.Error(t, err)
}

func TestPrintProviders(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ran := now.Add(-10 * time.Minute)
	var buf bytes.Buffer
	printProviders(&buf, []model.Provider{
		{ID: "p1", Type: "FIRMS", ClientID: "MODIS_NRT", IsActive: true, FetchFrequencyMinutes: 60, LastRun: &ran},
		{ID: "p2", Type: "GOES-16", ClientID: "GEOSTATIONARY", IsActive: true, FetchFrequencyMinutes: 15},
	}, now)

	out := buf.String()
	assert.Contains(t, out, "p1")
	assert.Contains(t, out, "2024-01-01T11:50:00Z")
	assert.Contains(t, out, "never")
}
