// Package session runs one tile engine per remote viewer.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"tileview/internal/tilegrid"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrTooManySessions = errors.New("too many sessions")
	ErrUnknownEvent    = errors.New("unknown pointer event")
	ErrInvalidSize     = errors.New("invalid screen size")
)

// Provider is a tilegrid.Provider owned by a session.
type Provider interface {
	tilegrid.Provider
	Close() error
}

// PointerEvent is a host pointer event in screen coordinates.
type PointerEvent struct {
	Kind string `json:"kind"` // down, move, up, cancel
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// State is a snapshot of a session's engine.
type State struct {
	ID       string              `json:"id"`
	Provider string              `json:"provider"`
	OriginX  int                 `json:"origin_x"`
	OriginY  int                 `json:"origin_y"`
	Width    int                 `json:"width"`
	Height   int                 `json:"height"`
	Pan      string              `json:"pan"`
	Tiles    []tilegrid.TileInfo `json:"tiles"`
}

type Session struct {
	ID       string
	Provider string
	Created  time.Time

	log       *zap.Logger
	provider  Provider
	loop      *tilegrid.Loop
	cancel    context.CancelFunc
	hub       *hub
	lastUsed  atomic.Int64
	close     sync.Once
	maxScreen int

	// owned by the loop goroutine
	surface *image.RGBA
}

func newSession(id, providerName string, p Provider, opts tilegrid.Options, maxScreen int, log *zap.Logger) (*Session, error) {
	h := newHub()
	opts.Invalidator = h
	opts.Logger = log

	engine, err := tilegrid.NewEngine(p, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		Provider:  providerName,
		Created:   time.Now(),
		log:       log,
		provider:  p,
		loop:      tilegrid.NewLoop(engine, log),
		cancel:    cancel,
		hub:       h,
		maxScreen: maxScreen,
	}
	s.touch()
	go s.loop.Run(ctx)
	return s, nil
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// LastUsed is the time of the most recent call on the session.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Measure sets the viewer's screen size and populates the visible window.
// Each dimension must lie in [0, the manager's MaxScreen].
func (s *Session) Measure(ctx context.Context, width, height int) error {
	s.touch()
	if width < 0 || height < 0 || width > s.maxScreen || height > s.maxScreen {
		return fmt.Errorf("%w: %dx%d, limit %d", ErrInvalidSize, width, height, s.maxScreen)
	}
	return s.loop.Do(ctx, func(e *tilegrid.Engine) {
		e.Measure(width, height)
		e.Layout()
	})
}

// Pointer feeds one pointer event to the engine and reports whether it
// panned the plane.
func (s *Session) Pointer(ctx context.Context, ev PointerEvent) (bool, error) {
	s.touch()

	var apply func(e *tilegrid.Engine) bool
	switch ev.Kind {
	case "down":
		apply = func(e *tilegrid.Engine) bool { e.PointerDown(ev.X, ev.Y); return false }
	case "move":
		apply = func(e *tilegrid.Engine) bool { return e.PointerMove(ev.X, ev.Y) }
	case "up":
		apply = func(e *tilegrid.Engine) bool { e.PointerUp(ev.X, ev.Y); return false }
	case "cancel":
		apply = func(e *tilegrid.Engine) bool { e.PointerCancel(); return false }
	default:
		return false, ErrUnknownEvent
	}

	panned := false
	err := s.loop.Do(ctx, func(e *tilegrid.Engine) { panned = apply(e) })
	return panned, err
}

func (s *Session) State(ctx context.Context) (State, error) {
	s.touch()

	state := State{ID: s.ID, Provider: s.Provider}
	err := s.loop.Do(ctx, func(e *tilegrid.Engine) {
		origin := e.Origin()
		state.OriginX, state.OriginY = origin.X, origin.Y
		state.Width, state.Height = e.Size()
		state.Pan = e.PanState().String()
		state.Tiles = e.Tiles()
	})
	return state, err
}

// Frame paints the engine onto a white surface of the measured size and
// returns a copy of it.
func (s *Session) Frame(ctx context.Context) (*image.RGBA, error) {
	s.touch()

	var frame *image.RGBA
	err := s.loop.Do(ctx, func(e *tilegrid.Engine) {
		width, height := e.Size()
		bounds := image.Rect(0, 0, max(width, 1), max(height, 1))
		if s.surface == nil || s.surface.Bounds() != bounds {
			s.surface = image.NewRGBA(bounds)
		}
		draw.Draw(s.surface, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
		e.Paint(s.surface)

		frame = image.NewRGBA(bounds)
		copy(frame.Pix, s.surface.Pix)
	})
	return frame, err
}

// Subscribe streams invalidations until the returned function is called.
func (s *Session) Subscribe() (<-chan Invalidation, func()) {
	return s.hub.subscribe()
}

// Close stops the render loop and the provider.
func (s *Session) Close() error {
	var err error
	s.close.Do(func() {
		s.cancel()
		<-s.loop.Done()
		s.hub.closeAll()
		err = s.provider.Close()
		s.log.Info("Session closed", zap.String("session", s.ID))
	})
	return err
}
