package cache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// FileCache implements file-based cache with zstd-compressed entries
// Structure: {cacheDir}/{source}_{width}x{height}/{x}_{y}.{format}.zst
type FileCache struct {
	mu       sync.RWMutex
	cacheDir string
	log      *zap.Logger
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

func NewFileCache(cacheDir string, log *zap.Logger) (*FileCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &FileCache{
		cacheDir: cacheDir,
		log:      log,
		enc:      enc,
		dec:      dec,
	}, nil
}

// buildFilePath builds file path from tile key
func (c *FileCache) buildFilePath(key TileKey) string {
	dirName := fmt.Sprintf("%s_%dx%d", key.Source, key.Width, key.Height)
	fileName := fmt.Sprintf("%d_%d.%s.zst", key.X, key.Y, key.Format)
	return filepath.Join(c.cacheDir, dirName, fileName)
}

func (c *FileCache) Has(key TileKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, err := os.Stat(c.buildFilePath(key))
	return err == nil
}

func (c *FileCache) Get(key TileKey) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	compressed, err := os.ReadFile(c.buildFilePath(key))
	if err != nil {
		return nil, false
	}

	data, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		c.log.Warn("Corrupt cache entry", zap.Stringer("key", key), zap.Error(err))
		return nil, false
	}

	return data, true
}

func (c *FileCache) Set(key TileKey, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	filePath := c.buildFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		c.log.Warn("Failed to create cache entry directory", zap.Stringer("key", key), zap.Error(err))
		return
	}

	compressed := c.enc.EncodeAll(value, nil)
	if err := atomic.WriteFile(filePath, bytes.NewReader(compressed)); err != nil {
		c.log.Warn("Failed to write cache entry", zap.Stringer("key", key), zap.Error(err))
	}
}

func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.cacheDir); err != nil {
		c.log.Warn("Failed to clear cache", zap.String("cache_dir", c.cacheDir), zap.Error(err))
		return
	}

	os.MkdirAll(c.cacheDir, 0755)
}
