package tilegrid

import (
	"context"

	"go.uber.org/zap"
)

type task struct {
	fn       func(*Engine)
	done     chan struct{}
	panicked bool
}

// Loop is the render context of an Engine: a single goroutine that applies
// completions as they arrive and runs every other engine call.
type Loop struct {
	engine *Engine
	log    *zap.Logger
	tasks  chan *task
	done   chan struct{}
}

func NewLoop(e *Engine, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		engine: e,
		log:    log,
		tasks:  make(chan *task),
		done:   make(chan struct{}),
	}
}

// Run owns the engine until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			l.log.Debug("Render loop stopped", zap.Error(ctx.Err()))
			return
		case <-l.engine.Wake():
			l.safely(func(e *Engine) { e.ApplyCompletions() })
		case t := <-l.tasks:
			l.safely(func(e *Engine) { e.ApplyCompletions() })
			t.panicked = !l.safely(t.fn)
			close(t.done)
		}
	}
}

// safely runs fn on the engine and reports whether it returned normally. A
// panic is logged and the loop keeps serving.
func (l *Loop) safely(fn func(*Engine)) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Render task panicked", zap.Any("panic", r), zap.Stack("stack"))
			ok = false
		}
	}()
	fn(l.engine)
	return true
}

// Do runs fn on the render context and waits for it to return. Completions
// delivered before Do was called are applied before fn runs. A panic in fn is
// reported as ErrTaskPanicked.
func (l *Loop) Do(ctx context.Context, fn func(*Engine)) error {
	t := &task{fn: fn, done: make(chan struct{})}
	select {
	case l.tasks <- t:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-t.done:
		if t.panicked {
			return ErrTaskPanicked
		}
		return nil
	case <-l.done:
		return ErrLoopStopped
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
