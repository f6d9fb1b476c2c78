package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/placegrid/internal/grid"
)

// chdirTemp moves into an empty directory so no config.yaml or .env is found.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GOOGLE_MAPS_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://maps.googleapis.com/maps/api", cfg.Google.BaseURL)
	assert.InDelta(t, 10.0, cfg.Google.RateLimit, 0.001)
	assert.Equal(t, 10, cfg.Google.TimeoutSecs)
	assert.Equal(t, 2000, cfg.Google.PageDelayMs)
	assert.Equal(t, 3, cfg.Google.MaxPages)
	assert.InDelta(t, 750.0, cfg.Grid.InitialRadius, 0.001)
	assert.InDelta(t, 750.0, cfg.Grid.Step, 0.001)
	assert.InDelta(t, 5000.0, cfg.Grid.MaxRadius, 0.001)
	assert.Equal(t, 45, cfg.Grid.SubdivisionThreshold)
	assert.Equal(t, 58, cfg.Grid.NearLimit)
	assert.InDelta(t, 3.0, cfg.Grid.RadiusFactor, 0.001)
	assert.InDelta(t, 1.0, cfg.Grid.OverlapFactor, 0.001)
	assert.Equal(t, 1, cfg.Grid.MaxDepth)
	assert.Equal(t, "physiotherapist", cfg.Search.PlaceType)
	assert.Equal(t, "Berlin, Germany", cfg.Search.Location)
	assert.Equal(t, ".", cfg.Search.OutputDir)
	assert.Zero(t, cfg.Search.MaxCalls)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	assert.Equal(t, grid.DefaultConfig(), cfg.GridConfig())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
grid:
  subdivision_threshold: 50
  max_depth: 2
search:
  place_type: dentist
  location: Hamburg, Germany
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Grid.SubdivisionThreshold)
	assert.Equal(t, 2, cfg.Grid.MaxDepth)
	assert.Equal(t, "dentist", cfg.Search.PlaceType)
	assert.Equal(t, "Hamburg, Germany", cfg.Search.Location)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.InDelta(t, 750.0, cfg.Grid.InitialRadius, 0.001)
	assert.Equal(t, 58, cfg.Grid.NearLimit)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
grid:
  step: 500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PLACEGRID_STORE_DRIVER", "file")
	t.Setenv("PLACEGRID_GRID_STEP", "600")
	t.Setenv("PLACEGRID_SEARCH_KEYWORD", "sports")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Store.Driver)
	assert.InDelta(t, 600.0, cfg.Grid.Step, 0.001)
	assert.Equal(t, "sports", cfg.Search.Keyword)
}

func TestLoadGoogleKeyFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GOOGLE_MAPS_API_KEY", "maps-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "maps-key", cfg.Google.Key)
}

func TestLoadGoogleKeyPrefixedWins(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GOOGLE_MAPS_API_KEY", "maps-key")
	t.Setenv("PLACEGRID_GOOGLE_KEY", "prefixed-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed-key", cfg.Google.Key)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	// godotenv never overrides a variable that is already set.
	t.Setenv("GOOGLE_MAPS_API_KEY", "")
	require.NoError(t, os.Unsetenv("GOOGLE_MAPS_API_KEY"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GOOGLE_MAPS_API_KEY=from-dotenv\n"), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Google.Key)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("grid: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestRetryPolicy(t *testing.T) {
	cfg := &Config{Retry: RetryConfig{MaxAttempts: 6, InitialBackoffMs: 500, MaxBackoffMs: 8000, Multiplier: 3, JitterFraction: 0.1}}
	p := cfg.RetryPolicy()
	assert.Equal(t, 6, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, 8*time.Second, p.MaxBackoff)
	assert.InDelta(t, 3.0, p.Multiplier, 0.001)
	assert.InDelta(t, 0.1, p.JitterFraction, 0.001)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	def := grid.DefaultConfig()
	return &Config{
		Google: GoogleConfig{Key: "maps-key"},
		Grid: GridConfig{
			InitialRadius:        def.InitialRadius,
			Step:                 def.Step,
			MaxRadius:            def.MaxRadius,
			SubdivisionThreshold: def.Threshold,
			NearLimit:            def.NearLimit,
			RadiusFactor:         def.RadiusFactor,
			OverlapFactor:        def.OverlapFactor,
			MaxDepth:             def.MaxDepth,
		},
		Search: SearchConfig{PlaceType: "physiotherapist", Location: "Berlin, Germany", OutputDir: "."},
		Store:  StoreConfig{Driver: "file"},
	}
}

func TestValidateLive_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate(ModeLive))
}

func TestValidateLive_MissingKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Google.Key = ""

	err := cfg.Validate(ModeLive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google.key is required")
}

func TestValidateDryRun_NoKeyNeeded(t *testing.T) {
	cfg := validDefaults()
	cfg.Google.Key = ""

	assert.NoError(t, cfg.Validate(ModeDryRun))
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.PlaceType = ""
	cfg.Search.MaxCalls = -1
	cfg.Store.Driver = "postgres"

	err := cfg.Validate(ModeDryRun)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.place_type is required")
	assert.Contains(t, err.Error(), "search.max_calls must not be negative")
	assert.Contains(t, err.Error(), "store.driver must be file or sqlite")
}

func TestValidate_GridProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GridConfig)
		want   string
	}{
		{"radius over provider max", func(g *GridConfig) { g.InitialRadius = 6000 }, "initial_radius"},
		{"zero step", func(g *GridConfig) { g.Step = 0 }, "step"},
		{"overlap below one", func(g *GridConfig) { g.OverlapFactor = 0.5 }, "overlap_factor"},
		{"depth too deep", func(g *GridConfig) { g.MaxDepth = 9 }, "max_depth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(&cfg.Grid)
			err := cfg.Validate(ModeDryRun)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
