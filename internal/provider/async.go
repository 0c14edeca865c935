// Package provider contains tilegrid.Provider implementations that produce
// tile content on background goroutines.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"tileview/internal/tilegrid"
)

var ErrHandlerSet = errors.New("completion handler already set")

// Producer creates the content an Async provider hands out.
type Producer interface {
	// Placeholder must return immediately.
	Placeholder(c tilegrid.Coordinate) tilegrid.Content
	// Produce runs on a worker goroutine and may block.
	Produce(ctx context.Context, c tilegrid.Coordinate) (tilegrid.Content, error)
}

type Options struct {
	TileWidth  int
	TileHeight int
	// Workers bounds how many Produce calls run at once.
	Workers int
	// Delay simulates a slow source: every request waits between Delay and
	// twice Delay before producing.
	Delay  time.Duration
	Logger *zap.Logger
}

// Async adapts a Producer to tilegrid.Provider.
type Async struct {
	producer Producer
	opts     Options
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	handler  func(tilegrid.Completion)
	inflight map[tilegrid.Request]context.CancelFunc
	closed   bool
}

func NewAsync(producer Producer, opts Options) (*Async, error) {
	if opts.TileWidth <= 0 || opts.TileHeight <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", tilegrid.ErrInvalidTileSize, opts.TileWidth, opts.TileHeight)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Async{
		producer: producer,
		opts:     opts,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		slots:    make(chan struct{}, opts.Workers),
		inflight: make(map[tilegrid.Request]context.CancelFunc),
	}, nil
}

func (a *Async) TileWidth() int  { return a.opts.TileWidth }
func (a *Async) TileHeight() int { return a.opts.TileHeight }

func (a *Async) SetCompletionHandler(fn func(tilegrid.Completion)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handler != nil {
		return ErrHandlerSet
	}
	a.handler = fn
	return nil
}

// RequestTile returns the producer's placeholder and starts producing the
// real content. Requests made after Close only return the placeholder.
func (a *Async) RequestTile(req tilegrid.Request) tilegrid.Content {
	placeholder := a.producer.Placeholder(req.Coordinate)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return placeholder
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.inflight[req] = cancel
	a.wg.Add(1)
	a.mu.Unlock()

	go a.run(ctx, req)
	return placeholder
}

// CancelTile abandons an in-flight request. Its completion is never delivered
// once the worker observes the cancellation.
func (a *Async) CancelTile(req tilegrid.Request) {
	a.mu.Lock()
	cancel, ok := a.inflight[req]
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

// InFlight returns the number of requests not yet completed or abandoned.
func (a *Async) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight)
}

// Close abandons every in-flight request and waits for the workers to exit.
func (a *Async) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
	return nil
}

func (a *Async) run(ctx context.Context, req tilegrid.Request) {
	defer a.wg.Done()
	defer a.forget(req)

	select {
	case a.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-a.slots }()

	if d := a.delay(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	content, err := a.produce(ctx, req.Coordinate)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		a.log.Warn("Tile production failed", zap.Stringer("coord", req.Coordinate), zap.Error(err))
		return
	}

	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler == nil {
		a.log.Warn("No completion handler, dropping tile", zap.Stringer("coord", req.Coordinate))
		return
	}
	handler(tilegrid.Completion{Request: req, Content: content})
}

func (a *Async) produce(ctx context.Context, c tilegrid.Coordinate) (content tilegrid.Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("producer panic: %v", r)
		}
	}()
	return a.producer.Produce(ctx, c)
}

func (a *Async) forget(req tilegrid.Request) {
	a.mu.Lock()
	cancel, ok := a.inflight[req]
	delete(a.inflight, req)
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

func (a *Async) delay() time.Duration {
	if a.opts.Delay <= 0 {
		return 0
	}
	return a.opts.Delay + rand.N(a.opts.Delay)
}
