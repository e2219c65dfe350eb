package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LAYERWISE_DATA_DIR", filepath.Join(t.TempDir(), "data"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.DirExists(t, cfg.DataDir)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultProfileKey, cfg.Profile)
	assert.True(t, cfg.KBEnabled)
	assert.Equal(t, "@every 6h", cfg.KBHealthCheckSchedule)
	assert.Empty(t, cfg.CORSOrigins)
	assert.Equal(t, filepath.Join(cfg.DataDir, "knowledgebase.db"), cfg.DatabasePath())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LAYERWISE_DATA_DIR", t.TempDir())
	t.Setenv("LAYERWISE_PORT", "9100")
	t.Setenv("LAYERWISE_PROFILE", "growth")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("KB_ENABLED", "false")
	t.Setenv("LAYERWISE_CORS_ORIGINS", "http://localhost:5173, https://example.org ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "GROWTH", cfg.Profile)
	assert.True(t, cfg.DevMode)
	assert.True(t, cfg.LogPretty, "pretty logs follow dev mode unless set")
	assert.False(t, cfg.KBEnabled)
	assert.Equal(t, []string{"http://localhost:5173", "https://example.org"}, cfg.CORSOrigins)
}

func TestValidate(t *testing.T) {
	valid := Config{Port: 8001, LogLevel: "info", KBEnabled: true, KBHealthCheckSchedule: "@daily"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"missing schedule", func(c *Config) { c.KBHealthCheckSchedule = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultProfiles(t *testing.T) {
	profiles := DefaultProfiles()
	assert.Equal(t, []string{"AGGRESSIVE", "BALANCED", "CLASSIC", "GROWTH", "OPPORTUNITY"}, profiles.Keys())

	for _, key := range profiles.Keys() {
		p := profiles[key]
		sum := domain.SumAmounts(p.LayerTargets)
		assert.True(t, sum.Equal(decimal.NewFromInt(1)), "%s weights sum to %s", key, sum)
		assert.True(t, p.MinimumSavingPlanSize.Equal(decimal.NewFromInt(15)))
		assert.True(t, p.MinimumRebalance.Equal(decimal.NewFromInt(10)))
		assert.True(t, p.MinimumInstrumentAmount.Equal(decimal.NewFromInt(25)))
		assert.True(t, p.AcceptableVariancePct.Equal(decimal.NewFromInt(3)))
		assert.Equal(t, 17, p.MaxPlansPerLayer[3])
	}
	assert.True(t, profiles["OPPORTUNITY"].LayerTargets[4].Equal(decimal.RequireFromString("0.2")))
}

func TestResolve(t *testing.T) {
	profiles := DefaultProfiles()

	p, ok := profiles.Resolve("classic")
	assert.True(t, ok)
	assert.Equal(t, "CLASSIC", p.Key)

	p, ok = profiles.Resolve("UNKNOWN")
	assert.False(t, ok)
	assert.Equal(t, DefaultProfileKey, p.Key)

	p, ok = Profiles{}.Resolve("")
	assert.False(t, ok)
	assert.Equal(t, DefaultProfileKey, p.Key)
}

func TestWithOverrides(t *testing.T) {
	base := DefaultProfiles()[DefaultProfileKey]
	negative := decimal.NewFromInt(-5)
	twenty := decimal.NewFromInt(20)

	out := base.WithOverrides(Overrides{
		LayerTargets:          map[int]decimal.Decimal{1: decimal.NewFromInt(1), 9: decimal.NewFromInt(1)},
		MaxPlansPerLayer:      map[int]int{2: 4},
		MinimumSavingPlanSize: &twenty,
		MinimumRebalance:      &negative,
	})

	assert.Len(t, out.LayerTargets, 1)
	assert.Equal(t, 4, out.MaxPlansPerLayer[2])
	assert.Equal(t, 17, out.MaxPlansPerLayer[1])
	assert.True(t, out.MinimumSavingPlanSize.Equal(twenty))
	assert.True(t, out.MinimumRebalance.IsZero())
	assert.True(t, out.MinimumInstrumentAmount.Equal(base.MinimumInstrumentAmount))

	assert.Len(t, base.LayerTargets, 5, "the base profile is not modified")
	assert.Equal(t, 17, base.MaxPlansPerLayer[2])
}

func TestLoadProfiles(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		profiles, err := LoadProfiles("")
		require.NoError(t, err)
		assert.Len(t, profiles, 5)
	})

	t.Run("file overrides and adds profiles", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profiles.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  balanced:
    minimum_saving_plan_size: 20
  income:
    display_name: Income
    layer_targets:
      1: 0.9
      2: 0.1
`), 0644))

		profiles, err := LoadProfiles(path)
		require.NoError(t, err)

		balanced := profiles["BALANCED"]
		assert.True(t, balanced.MinimumSavingPlanSize.Equal(decimal.NewFromInt(20)))
		assert.True(t, balanced.LayerTargets[1].Equal(decimal.RequireFromString("0.7")))

		income, ok := profiles.Resolve("income")
		require.True(t, ok)
		assert.Equal(t, "Income", income.DisplayName)
		assert.True(t, income.LayerTargets[1].Equal(decimal.RequireFromString("0.9")))
		assert.True(t, income.MinimumRebalance.Equal(decimal.NewFromInt(10)))
	})

	t.Run("invalid layer is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profiles.yaml")
		require.NoError(t, os.WriteFile(path, []byte("profiles:\n  x:\n    layer_targets:\n      7: 1\n"), 0644))
		_, err := LoadProfiles(path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidLayer))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadProfiles(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
