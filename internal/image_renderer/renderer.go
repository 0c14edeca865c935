package image_renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/jpeg"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"tileview/internal/cache"
	"tileview/internal/image_list"
	"tileview/internal/provider"
	"tileview/internal/tilegrid"
)

// ErrOutsideImage is returned for tiles that do not overlap the source.
var ErrOutsideImage = errors.New("tile outside image")

// Background fills the parts of a tile not covered by the source (#ddd).
var Background = color.RGBA{R: 221, G: 221, B: 221, A: 255}

type Renderer struct {
	scanner   *image_list.Scanner
	tileCache cache.Cache
	logger    *zap.Logger
}

func New(scanner *image_list.Scanner, tileCache cache.Cache, logger *zap.Logger) *Renderer {
	return &Renderer{
		scanner:   scanner,
		tileCache: tileCache,
		logger:    logger,
	}
}

// RenderTile returns the JPEG for the width×height region of imageID whose
// top-left corner is the pixel (x, y). The plane is unbounded, so x and y may
// be negative or past the image; uncovered pixels are padded with Background.
func (r *Renderer) RenderTile(imageID string, x, y, width, height int) ([]byte, error) {
	imageInfo := r.scanner.GetImageByID(imageID)
	if imageInfo == nil {
		return nil, fmt.Errorf("image not found: %s", imageID)
	}

	// Clamp the tile to the image bounds.
	startX := max(x, 0)
	startY := max(y, 0)
	endX := min(x+width, imageInfo.Width)
	endY := min(y+height, imageInfo.Height)
	if endX <= startX || endY <= startY {
		return nil, ErrOutsideImage
	}

	cacheKey := cache.TileKey{
		Source: imageID,
		Width:  width,
		Height: height,
		X:      x,
		Y:      y,
		Format: "jpeg",
	}

	if cached, ok := r.tileCache.Get(cacheKey); ok {
		return cached, nil
	}

	imagePath := r.scanner.GetImagePathByID(imageID)
	if imagePath == "" {
		return nil, fmt.Errorf("image path not found for id: %s", imageID)
	}

	image, err := image_list.LoadImage(imagePath, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer image.Close()

	// Step 1: Extract only the covered region; libvips never decodes the rest.
	if err := image.ExtractArea(startX, startY, endX-startX, endY-startY); err != nil {
		return nil, fmt.Errorf("failed to extract area: %w", err)
	}

	// Step 2: Place the region at its offset inside a full-size tile.
	if image.Width() < width || image.Height() < height {
		embedOpts := vips.DefaultEmbedOptions()
		embedOpts.Extend = vips.ExtendBackground
		embedOpts.Background = []float64{float64(Background.R), float64(Background.G), float64(Background.B)}
		if err := image.Embed(startX-x, startY-y, width, height, embedOpts); err != nil {
			return nil, fmt.Errorf("failed to pad: %w", err)
		}
	}

	// Step 3: Export as JPEG and save to cache
	jpegOpts := vips.DefaultJpegsaveBufferOptions()
	jpegOpts.Q = 82
	jpegOpts.Interlace = false

	tileData, err := image.JpegsaveBuffer(jpegOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}

	r.tileCache.Set(cacheKey, tileData)
	return tileData, nil
}

// TileProducer cuts tiles for one source image. It implements
// provider.Producer.
type TileProducer struct {
	renderer *Renderer
	imageID  string
	width    int
	height   int
}

func (r *Renderer) Producer(imageID string, tileWidth, tileHeight int) (*TileProducer, error) {
	if r.scanner.GetImageByID(imageID) == nil {
		return nil, fmt.Errorf("image not found: %s", imageID)
	}
	return &TileProducer{
		renderer: r,
		imageID:  imageID,
		width:    tileWidth,
		height:   tileHeight,
	}, nil
}

func (p *TileProducer) Placeholder(c tilegrid.Coordinate) tilegrid.Content {
	return provider.Loading{Coordinate: c}
}

func (p *TileProducer) Produce(ctx context.Context, c tilegrid.Coordinate) (tilegrid.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := p.renderer.RenderTile(p.imageID, c.X, c.Y, p.width, p.height)
	if errors.Is(err, ErrOutsideImage) {
		return provider.Fill{Color: Background}, nil
	}
	if err != nil {
		return nil, err
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %v: %w", c, err)
	}
	return provider.Picture{Image: img}, nil
}
