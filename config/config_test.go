package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "settlement-engine", cfg.App.Name)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "settlement.db", cfg.Database.Path)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, int64(1<<20), cfg.HTTP.MaxBodySize)
	assert.Contains(t, cfg.HTTP.CORSAllowOrigins, "http://localhost:5173")
	assert.Equal(t, "UZS", cfg.Settlement.Currency)
	assert.Equal(t, 3, cfg.Settlement.MaxRetries)
	assert.Equal(t, 36, cfg.Generation.MaxPeriods)
	assert.False(t, cfg.HTTP.EnableScenarios)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	// GIVEN: a file and an environment override
	path := writeConfig(t, `
[app]
port = "9090"

[database]
driver = "memory"

[http]
read_timeout = "5s"
enable_scenarios = true
cors_allow_origins = ["https://admin.school.uz"]

[settlement]
max_retries = 7

[generation]
max_periods = 12
`)
	t.Setenv("SETTLEMENT_GENERATION_MAX_PERIODS", "24")
	t.Setenv("SETTLEMENT_LOG_LEVEL", "debug")

	// WHEN
	cfg, err := Load(path)

	// THEN: environment wins over the file, the file over defaults
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTP.WriteTimeout)
	assert.True(t, cfg.HTTP.EnableScenarios)
	assert.Equal(t, []string{"https://admin.school.uz"}, cfg.HTTP.CORSAllowOrigins)
	assert.Equal(t, 7, cfg.Settlement.MaxRetries)
	assert.Equal(t, 24, cfg.Generation.MaxPeriods)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"foreign currency", "[settlement]\ncurrency = \"USD\"", "only UZS"},
		{"negative retries", "[settlement]\nmax_retries = -1", "max_retries"},
		{"negative periods", "[generation]\nmax_periods = -3", "max_periods"},
		{"unknown driver", "[database]\ndriver = \"postgres\"", "database.driver"},
		{"unknown log format", "[log]\nformat = \"xml\"", "log.format"},
		{"production in memory", "[app]\nenv = \"production\"\n[database]\npath = \":memory:\"", "persistent database"},
		{"production scenarios", "[app]\nenv = \"production\"\n[http]\nenable_scenarios = true", "enable_scenarios"},
		{"production wildcard cors", "[app]\nenv = \"production\"\n[http]\ncors_allow_origins = [\"*\"]", "cors_allow_origins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ProductionHasNoDefaultCORS(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[app]\nenv = \"production\""))
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Empty(t, cfg.HTTP.CORSAllowOrigins)
}
