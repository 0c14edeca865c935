package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port             int    `yaml:"port"`
	LogLevel         string `yaml:"log_level"`
	DataDir          string `yaml:"data_dir"`
	CacheType        string `yaml:"cache"`
	CacheMemoryTiles int    `yaml:"cache_memory_tiles"`
	CacheFileDir     string `yaml:"cache_file_dir"`
	VipsMaxCacheMB   int    `yaml:"vips_max_cache_mb"`
	VipsConcurrency  int    `yaml:"vips_concurrency"`
	AllowedOrigin    string `yaml:"allowed_origin"`

	// Defaults for new sessions
	Provider        string        `yaml:"provider"`
	ProviderWorkers int           `yaml:"provider_workers"`
	ProviderDelay   time.Duration `yaml:"provider_delay"`
	TileWidth       int           `yaml:"tile_width"`
	TileHeight      int           `yaml:"tile_height"`
	MaxScreen       int           `yaml:"max_screen"`
	RetainMargin    int           `yaml:"retain_margin_tiles"`
	MaxTiles        int           `yaml:"max_tiles"`
	MaxSessions     int           `yaml:"max_sessions"`
	SessionIdle     time.Duration `yaml:"session_idle_timeout"`
}

func defaults() *Config {
	return &Config{
		Port:             8080,
		LogLevel:         "info",
		DataDir:          "/data",
		CacheType:        "memory",
		CacheMemoryTiles: 2000,
		VipsMaxCacheMB:   256,
		VipsConcurrency:  1,
		Provider:         "color",
		ProviderWorkers:  4,
		ProviderDelay:    2 * time.Second,
		TileWidth:        250,
		TileHeight:       250,
		MaxScreen:        8192,
		RetainMargin:     2,
		MaxTiles:         0,
		MaxSessions:      64,
		SessionIdle:      10 * time.Minute,
	}
}

// Load builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE or --config), environment variables and finally flags, each
// layer overriding the previous one.
func Load(args []string) (*Config, error) {
	cfg := defaults()

	fs := flag.NewFlagSet("tileview", flag.ContinueOnError)
	configFile := fs.String("config", os.Getenv("CONFIG_FILE"), "YAML configuration file")
	port := fs.Int("port", 0, "HTTP listen port")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	dataDir := fs.String("data-dir", "", "directory holding source images")
	providerName := fs.String("provider", "", "default tile provider: color, shade, image")
	delay := fs.Duration("provider-delay", -1, "simulated tile production delay")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configFile != "" {
		if err := cfg.loadFile(*configFile); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if *port > 0 {
		cfg.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *providerName != "" {
		cfg.Provider = *providerName
	}
	if *delay >= 0 {
		cfg.ProviderDelay = *delay
	}

	if cfg.CacheFileDir == "" {
		cfg.CacheFileDir = filepath.Join(cfg.DataDir, "cache")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.CacheType = getEnv("CACHE", c.CacheType)
	c.CacheMemoryTiles = getEnvInt("CACHE_MEMORY_TILES", c.CacheMemoryTiles)
	c.CacheFileDir = getEnv("CACHE_FILE_DIR", c.CacheFileDir)
	c.VipsMaxCacheMB = getEnvInt("VIPS_MAX_CACHE_MB", c.VipsMaxCacheMB)
	c.VipsConcurrency = getEnvInt("VIPS_CONCURRENCY", c.VipsConcurrency)
	c.AllowedOrigin = getEnv("ALLOWED_ORIGIN", c.AllowedOrigin)
	c.Provider = getEnv("PROVIDER", c.Provider)
	c.ProviderWorkers = getEnvInt("PROVIDER_WORKERS", c.ProviderWorkers)
	c.ProviderDelay = getEnvDuration("PROVIDER_DELAY", c.ProviderDelay)
	c.TileWidth = getEnvInt("TILE_WIDTH", c.TileWidth)
	c.TileHeight = getEnvInt("TILE_HEIGHT", c.TileHeight)
	c.MaxScreen = getEnvInt("MAX_SCREEN", c.MaxScreen)
	c.RetainMargin = getEnvInt("RETAIN_MARGIN_TILES", c.RetainMargin)
	c.MaxTiles = getEnvInt("MAX_TILES", c.MaxTiles)
	c.MaxSessions = getEnvInt("MAX_SESSIONS", c.MaxSessions)
	c.SessionIdle = getEnvDuration("SESSION_IDLE_TIMEOUT", c.SessionIdle)
}

const (
	minTileSize = 64
	maxTileSize = 4096
)

func (c *Config) Validate() error {
	if c.TileWidth < minTileSize || c.TileHeight < minTileSize || c.TileWidth > maxTileSize || c.TileHeight > maxTileSize {
		return fmt.Errorf("tile size must lie in [%d, %d], got %dx%d", minTileSize, maxTileSize, c.TileWidth, c.TileHeight)
	}
	if c.MaxScreen <= 0 {
		return fmt.Errorf("max_screen must be positive, got %d", c.MaxScreen)
	}
	if c.ProviderWorkers <= 0 {
		return fmt.Errorf("provider_workers must be positive, got %d", c.ProviderWorkers)
	}
	if c.MaxTiles < 0 {
		return fmt.Errorf("max_tiles must not be negative, got %d", c.MaxTiles)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
