package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choices-civics/repsync/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config file present

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.True(t, cfg.Congress.Enabled)
	assert.Equal(t, 250, cfg.Congress.PageSize)
	assert.Equal(t, 6*time.Second, cfg.OpenStates.MinDelay(), "strictest throttle of the four")
	assert.Equal(t, 120*time.Second, cfg.OpenStates.WaitTimeout())
	assert.InDelta(t, 0.90, cfg.Resolver.FuzzyThreshold, 1e-9)
	assert.Equal(t, 90*24*time.Hour, cfg.Lifecycle.Retention())
	assert.Equal(t, 25, cfg.Ingest.ChunkSize)
	assert.Equal(t, time.Duration(0), cfg.Ingest.Deadline())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REPSYNC_CONGRESS_KEY", "from-env")
	t.Setenv("REPSYNC_STORE_DRIVER", "postgres")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Congress.Key)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestProviderLookup(t *testing.T) {
	cfg := &Config{
		Congress:   ProviderConfig{Key: "a"},
		OpenStates: ProviderConfig{Key: "b"},
		FEC:        ProviderConfig{Key: "c"},
		CivicInfo:  ProviderConfig{Key: "d"},
	}

	assert.Equal(t, "a", cfg.Provider(model.ProviderCongress).Key)
	assert.Equal(t, "b", cfg.Provider(model.ProviderOpenStates).Key)
	assert.Equal(t, "c", cfg.Provider(model.ProviderFEC).Key)
	assert.Equal(t, "d", cfg.Provider(model.ProviderCivicInfo).Key)
	assert.Empty(t, cfg.Provider(model.Provider("nope")).Key)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Congress: ProviderConfig{Enabled: true, Key: "set"},
		FEC:      ProviderConfig{Enabled: true},
	}

	assert.NoError(t, cfg.Validate([]model.Provider{model.ProviderCongress}))

	err := cfg.Validate([]model.Provider{model.ProviderCongress, model.ProviderFEC})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing API key")
	assert.Contains(t, err.Error(), "fec")

	// Disabled providers are skipped even without a key.
	cfg.FEC.Enabled = false
	assert.NoError(t, cfg.Validate([]model.Provider{model.ProviderFEC}))
}
