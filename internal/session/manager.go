package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tileview/internal/provider"
	"tileview/internal/tilegrid"
)

// Params describe a new session.
type Params struct {
	Provider   string `json:"provider"`
	ImageID    string `json:"image_id,omitempty"`
	TileWidth  int    `json:"tile_width,omitempty"`
	TileHeight int    `json:"tile_height,omitempty"`
}

// Factory builds the tile producer for a session.
type Factory func(p Params) (provider.Producer, error)

// Default limits applied when the matching Config field is zero.
const (
	DefaultMaxScreen   = 8192
	DefaultMinTileSize = 64
	DefaultMaxTileSize = 4096
)

type Config struct {
	DefaultProvider string
	TileWidth       int
	TileHeight      int

	// MaxScreen bounds each measured screen dimension; MinTileSize and
	// MaxTileSize bound per-session tile dimensions.
	MaxScreen   int
	MinTileSize int
	MaxTileSize int

	Workers      int
	Delay        time.Duration
	RetainMargin int
	MaxTiles     int
	MaxSessions  int
	IdleTimeout  time.Duration
}

// Info is the listing entry for a live session.
type Info struct {
	ID       string    `json:"id"`
	Provider string    `json:"provider"`
	Created  time.Time `json:"created"`
	LastUsed time.Time `json:"last_used"`
}

type Manager struct {
	cfg Config
	log *zap.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	sessions  map[string]*Session

	// creations past the cap check that have not been inserted yet
	reserved int
}

func NewManager(cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxScreen <= 0 {
		cfg.MaxScreen = DefaultMaxScreen
	}
	if cfg.MinTileSize <= 0 {
		cfg.MinTileSize = DefaultMinTileSize
	}
	if cfg.MaxTileSize <= 0 {
		cfg.MaxTileSize = DefaultMaxTileSize
	}
	return &Manager{
		cfg:       cfg,
		log:       log,
		factories: make(map[string]Factory),
		sessions:  make(map[string]*Session),
	}
}

// Register makes a provider available to Create under name.
func (m *Manager) Register(name string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = f
}

// Providers lists the registered provider names.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Create(p Params) (*Session, error) {
	if p.Provider == "" {
		p.Provider = m.cfg.DefaultProvider
	}
	if p.TileWidth == 0 {
		p.TileWidth = m.cfg.TileWidth
	}
	if p.TileHeight == 0 {
		p.TileHeight = m.cfg.TileHeight
	}

	if !m.validTileSize(p.TileWidth) || !m.validTileSize(p.TileHeight) {
		return nil, fmt.Errorf("%w: %dx%d outside [%d, %d]", tilegrid.ErrInvalidTileSize,
			p.TileWidth, p.TileHeight, m.cfg.MinTileSize, m.cfg.MaxTileSize)
	}

	m.mu.Lock()
	factory, ok := m.factories[p.Provider]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p.Provider)
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions)+m.reserved >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	m.reserved++
	m.mu.Unlock()

	s, err := m.build(p, factory)

	m.mu.Lock()
	m.reserved--
	if err == nil {
		m.sessions[s.ID] = s
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	s.log.Info("Session created",
		zap.String("provider", p.Provider),
		zap.String("image_id", p.ImageID),
		zap.Int("tile_width", p.TileWidth),
		zap.Int("tile_height", p.TileHeight))
	return s, nil
}

func (m *Manager) validTileSize(v int) bool {
	return v >= m.cfg.MinTileSize && v <= m.cfg.MaxTileSize
}

func (m *Manager) build(p Params, factory Factory) (*Session, error) {
	producer, err := factory(p)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	log := m.log.With(zap.String("session", id))

	async, err := provider.NewAsync(producer, provider.Options{
		TileWidth:  p.TileWidth,
		TileHeight: p.TileHeight,
		Workers:    m.cfg.Workers,
		Delay:      m.cfg.Delay,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	s, err := newSession(id, p.Provider, async, tilegrid.Options{
		RetainMargin: m.cfg.RetainMargin,
		MaxTiles:     m.cfg.MaxTiles,
	}, m.cfg.MaxScreen, log)
	if err != nil {
		return nil, multierr.Append(err, async.Close())
	}
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return s.Close()
}

// CloseAll closes every session and returns their combined errors.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var err error
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
	}
	return err
}

func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, Info{
			ID:       s.ID,
			Provider: s.Provider,
			Created:  s.Created,
			LastUsed: s.LastUsed(),
		})
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Created.Before(infos[j].Created) })
	return infos
}

// Reap closes sessions unused since now minus the idle timeout and returns
// how many it closed.
func (m *Manager) Reap(now time.Time) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastUsed().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		if err := s.Close(); err != nil {
			m.log.Warn("Failed to close idle session", zap.String("session", s.ID), zap.Error(err))
		}
	}
	if len(idle) > 0 {
		m.log.Info("Reaped idle sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// RunReaper calls Reap every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Reap(now)
		}
	}
}
