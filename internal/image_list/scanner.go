package image_list

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cshum/vipsgen/vips"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

var extensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// ImageInfo describes one source image a session can pan across.
type ImageInfo struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	CurrentFilename  string `json:"current_filename"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Bytes            int64  `json:"bytes"`
}

type Scanner struct {
	dataDir string
	logger  *zap.Logger

	mu     sync.RWMutex
	images []ImageInfo
}

func New(dataDir string, logger *zap.Logger) *Scanner {
	return &Scanner{
		dataDir: dataDir,
		logger:  logger,
	}
}

// Scan rebuilds the image list. Images without a metadata sidecar are renamed
// to a fresh UUID and get one written next to them.
func (s *Scanner) Scan() error {
	if err := s.cleanupOrphanedJSON(); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	var images []ImageInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := s.getFilePath(entry.Name())
		ext := strings.ToLower(filepath.Ext(path))
		if !extensions[ext] {
			continue
		}

		basename := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		jsonPath := s.getFilePath(basename + ".json")

		if _, err := os.Stat(jsonPath); err == nil {
			imageInfo, err := s.loadMetadata(jsonPath)
			if err != nil {
				s.logger.Warn("Failed to load metadata, skipping", zap.String("json_path", jsonPath), zap.Error(err))
				continue
			}
			images = append(images, *imageInfo)
			continue
		}

		imageInfo, err := s.adopt(path, ext)
		if err != nil {
			s.logger.Warn("Failed to adopt image", zap.String("path", path), zap.Error(err))
			continue
		}
		images = append(images, *imageInfo)
	}

	s.mu.Lock()
	s.images = images
	s.mu.Unlock()

	s.logger.Info("Scanned sources", zap.String("data_dir", s.dataDir), zap.Int("images", len(images)))
	return nil
}

func (s *Scanner) adopt(path, ext string) (*ImageInfo, error) {
	id := uuid.New().String()
	finalPath := s.getFilePath(id + ext)
	if err := os.Rename(path, finalPath); err != nil {
		return nil, fmt.Errorf("failed to rename file: %w", err)
	}
	s.logger.Info("Migrated file to UUID", zap.String("old_path", path), zap.String("new_path", finalPath))

	imageInfo, err := s.scanImage(finalPath)
	if err != nil {
		return nil, err
	}
	imageInfo.ID = id
	imageInfo.OriginalFilename = filepath.Base(path)
	imageInfo.CurrentFilename = filepath.Base(finalPath)

	if err := s.saveMetadata(s.getFilePath(id+".json"), imageInfo); err != nil {
		s.logger.Warn("Failed to save metadata", zap.String("id", id), zap.Error(err))
	}
	return imageInfo, nil
}

func (s *Scanner) cleanupOrphanedJSON() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.ToLower(filepath.Ext(entry.Name())) != ".json" {
			continue
		}

		path := s.getFilePath(entry.Name())
		basename := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))

		reason := ""
		meta, err := s.loadMetadata(path)
		switch {
		case err != nil:
			reason = "invalid"
		case meta.ID != basename:
			reason = "uuid mismatch"
		default:
			if _, err := os.Stat(s.getFilePath(meta.CurrentFilename)); err != nil {
				reason = "orphaned"
			}
		}
		if reason == "" {
			continue
		}

		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to delete metadata", zap.String("path", path), zap.String("reason", reason), zap.Error(err))
		} else {
			s.logger.Info("Deleted metadata", zap.String("path", path), zap.String("reason", reason))
		}
	}

	return nil
}

func (s *Scanner) scanImage(path string) (*ImageInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}

	image, err := LoadImage(path, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer image.Close()

	return &ImageInfo{
		Width:  image.Width(),
		Height: image.Height(),
		Bytes:  info.Size(),
	}, nil
}

// LoadImage opens a source with libvips. Sequential access is enough for
// reading dimensions; tile extraction wants random access.
func LoadImage(path string, sequential bool) (*vips.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))

	access := vips.AccessRandom
	if sequential {
		access = vips.AccessSequential
	}

	switch ext {
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", ext)
	}
}

func (s *Scanner) GetImages() []ImageInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]ImageInfo(nil), s.images...)
}

func (s *Scanner) GetImageByID(id string) *ImageInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, img := range s.images {
		if img.ID == id {
			return &img
		}
	}
	return nil
}

func (s *Scanner) GetImagePathByID(id string) string {
	imageInfo := s.GetImageByID(id)
	if imageInfo == nil {
		return ""
	}
	return s.getFilePath(imageInfo.CurrentFilename)
}

func (s *Scanner) getFilePath(filename string) string {
	return filepath.Join(s.dataDir, filename)
}

func (s *Scanner) loadMetadata(path string) (*ImageInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meta ImageInfo
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return &meta, nil
}

func (s *Scanner) saveMetadata(path string, meta *ImageInfo) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}
