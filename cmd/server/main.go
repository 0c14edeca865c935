package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tileview/internal/cache"
	"tileview/internal/config"
	httphandlers "tileview/internal/http"
	"tileview/internal/image_list"
	"tileview/internal/image_renderer"
	"tileview/internal/logger"
	"tileview/internal/provider"
	"tileview/internal/session"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "tileview: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0, // no disk cache
		MaxCacheSize:     0,
		VectorEnabled:    true,
	})
	defer vips.Shutdown()

	log.Info("Starting tileview server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.String("provider", cfg.Provider),
		zap.Int("tile_width", cfg.TileWidth),
		zap.Int("tile_height", cfg.TileHeight),
	)

	scanner := image_list.New(cfg.DataDir, log)
	if err := scanner.Scan(); err != nil {
		log.Warn("Initial scan failed", zap.Error(err))
	}

	tileCache, err := cache.NewCache(cfg.CacheType, cfg.CacheFileDir, cfg.CacheMemoryTiles, log)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}
	renderer := image_renderer.New(scanner, tileCache, log)

	sessions := session.NewManager(session.Config{
		DefaultProvider: cfg.Provider,
		TileWidth:       cfg.TileWidth,
		TileHeight:      cfg.TileHeight,
		MaxScreen:       cfg.MaxScreen,
		Workers:         cfg.ProviderWorkers,
		Delay:           cfg.ProviderDelay,
		RetainMargin:    cfg.RetainMargin,
		MaxTiles:        cfg.MaxTiles,
		MaxSessions:     cfg.MaxSessions,
		IdleTimeout:     cfg.SessionIdle,
	}, log)
	registerProviders(sessions, renderer)

	handlers := httphandlers.New(cfg, log, sessions, scannerCatalog{scanner})
	mux := http.NewServeMux()
	handlers.Register(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.CORSMiddleware(handlers.RequestLoggingMiddleware(mux)),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SessionIdle > 0 {
		go sessions.RunReaper(ctx, cfg.SessionIdle/4)
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))
	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = multierr.Combine(
		server.Shutdown(shutdownCtx),
		sessions.CloseAll(),
	)
	if err != nil {
		log.Error("Unclean shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

func registerProviders(m *session.Manager, renderer *image_renderer.Renderer) {
	m.Register("color", func(session.Params) (provider.Producer, error) {
		return provider.NewColorCycle(), nil
	})
	m.Register("shade", func(session.Params) (provider.Producer, error) {
		return provider.Shade{}, nil
	})
	m.Register("image", func(p session.Params) (provider.Producer, error) {
		if p.ImageID == "" {
			return nil, errors.New("image provider needs an image_id")
		}
		producer, err := renderer.Producer(p.ImageID, p.TileWidth, p.TileHeight)
		if err != nil {
			return nil, err
		}
		return producer, nil
	})
}

type scannerCatalog struct {
	scanner *image_list.Scanner
}

func (c scannerCatalog) Images() []httphandlers.Image {
	infos := c.scanner.GetImages()
	images := make([]httphandlers.Image, 0, len(infos))
	for _, info := range infos {
		images = append(images, httphandlers.Image{
			ID:     info.ID,
			Name:   info.OriginalFilename,
			Width:  info.Width,
			Height: info.Height,
		})
	}
	return images
}
