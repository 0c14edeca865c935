package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileview/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"CONFIG_FILE", "PORT", "LOG_LEVEL", "DATA_DIR", "PROVIDER", "PROVIDER_DELAY", "TILE_WIDTH", "TILE_HEIGHT", "CACHE_FILE_DIR", "MAX_SCREEN"} {
		t.Setenv(key, "")
	}
}

func Test_Load_Uses_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 250, cfg.TileWidth)
	assert.Equal(t, "color", cfg.Provider)
	assert.Equal(t, 2*time.Second, cfg.ProviderDelay)
	assert.Equal(t, filepath.Join("/data", "cache"), cfg.CacheFileDir)
}

func Test_Load_Layers_File_Env_And_Flags(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "tileview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
provider: shade
provider_delay: 500ms
tile_width: 128
tile_height: 64
data_dir: /srv/images
`), 0o644))

	t.Setenv("PROVIDER", "image")
	t.Setenv("TILE_HEIGHT", "128")

	cfg, err := config.Load([]string{"--config", path, "--port", "9100"})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "image", cfg.Provider)
	assert.Equal(t, 500*time.Millisecond, cfg.ProviderDelay)
	assert.Equal(t, 128, cfg.TileWidth)
	assert.Equal(t, 128, cfg.TileHeight)
	assert.Equal(t, filepath.Join("/srv/images", "cache"), cfg.CacheFileDir)
}

func Test_Load_Rejects_Invalid_Values(t *testing.T) {
	clearEnv(t)

	t.Setenv("TILE_WIDTH", "0")
	_, err := config.Load(nil)
	require.Error(t, err)

	t.Setenv("TILE_WIDTH", "1")
	_, err = config.Load(nil)
	require.Error(t, err)

	t.Setenv("TILE_WIDTH", "1000000")
	_, err = config.Load(nil)
	require.Error(t, err)

	t.Setenv("TILE_WIDTH", "")
	t.Setenv("MAX_SCREEN", "-5")
	_, err = config.Load(nil)
	require.Error(t, err)

	t.Setenv("MAX_SCREEN", "")
	_, err = config.Load([]string{"--no-such-flag"})
	require.Error(t, err)

	_, err = config.Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}
