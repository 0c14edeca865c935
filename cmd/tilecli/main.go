// tilecli drives a tile grid from the terminal.
//
// Usage:
//
//	tilecli [--provider color|shade] [--delay 2s] [--tile 250x250] [--size 1000x750]
//
// Commands (in REPL):
//
//	measure <w> <h>      Set the screen size
//	down <x> <y>         Pointer down
//	move <x> <y>         Pointer move
//	drag <x0> <y0> <x1> <y1> [steps]
//	                     Down, moves and up in one go
//	up <x> <y>           Pointer up
//	cancel               Cancel the drag
//	tiles                List cached tiles
//	state                Show origin, size and pan state
//	events               Show invalidations since the last call
//	wait [timeout]       Wait until every cached tile is ready
//	paint <file.png>     Write the current frame
//	help                 Show this help
//	exit / quit / q      Exit
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"tileview/internal/logger"
	"tileview/internal/provider"
	"tileview/internal/session"
	"tileview/internal/tilegrid"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("tilecli", flag.ContinueOnError)
	providerName := fs.String("provider", "color", "tile provider: color or shade")
	delay := fs.Duration("delay", 2*time.Second, "simulated tile production delay")
	tile := fs.String("tile", "250x250", "tile size")
	size := fs.String("size", "1000x750", "initial screen size")
	margin := fs.Int("retain-margin", 2, "tiles kept around the window, negative disables eviction")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tw, th, err := parseSize(*tile)
	if err != nil {
		return fmt.Errorf("--tile: %w", err)
	}
	sw, sh, err := parseSize(*size)
	if err != nil {
		return fmt.Errorf("--size: %w", err)
	}

	log, err := logger.NewConsole(*logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	manager := session.NewManager(session.Config{
		DefaultProvider: *providerName,
		TileWidth:       tw,
		TileHeight:      th,
		Workers:         4,
		Delay:           *delay,
		RetainMargin:    *margin,
	}, log)
	manager.Register("color", func(session.Params) (provider.Producer, error) {
		return provider.NewColorCycle(), nil
	})
	manager.Register("shade", func(session.Params) (provider.Producer, error) {
		return provider.Shade{}, nil
	})
	defer func() {
		if err := manager.CloseAll(); err != nil {
			log.Warn("Close failed", zap.Error(err))
		}
	}()

	s, err := manager.Create(session.Params{})
	if err != nil {
		return err
	}

	r := &REPL{session: s, events: newEventLog()}
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()
	go r.events.collect(events)

	if err := s.Measure(context.Background(), sw, sh); err != nil {
		return err
	}

	return r.Run()
}

func parseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("expected WxH, got %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, err
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

// eventLog accumulates invalidations between "events" commands.
type eventLog struct {
	mu    sync.Mutex
	all   int
	rects []string
}

func newEventLog() *eventLog {
	return &eventLog{}
}

func (l *eventLog) collect(events <-chan session.Invalidation) {
	for ev := range events {
		l.mu.Lock()
		if ev.All {
			l.all++
		} else {
			l.rects = append(l.rects, ev.Rect.String())
		}
		l.mu.Unlock()
	}
}

func (l *eventLog) take() (int, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all, rects := l.all, l.rects
	l.all, l.rects = 0, nil
	return all, rects
}

// REPL is the interactive command loop.
type REPL struct {
	session *session.Session
	events  *eventLog
	liner   *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tilecli_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory()

	fmt.Printf("tilecli - session %s (provider=%s)\n", r.session.ID, r.session.Provider)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("tiles> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		var cmdErr error
		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			return nil
		case "help", "?":
			r.printHelp()
		case "measure":
			cmdErr = r.cmdMeasure(args)
		case "down", "move", "up":
			cmdErr = r.cmdPointer(cmd, args)
		case "cancel":
			cmdErr = r.pointer(session.PointerEvent{Kind: "cancel"})
		case "drag":
			cmdErr = r.cmdDrag(args)
		case "tiles", "ls":
			cmdErr = r.cmdTiles()
		case "state":
			cmdErr = r.cmdState()
		case "events":
			r.cmdEvents()
		case "wait":
			cmdErr = r.cmdWait(args)
		case "paint":
			cmdErr = r.cmdPaint(args)
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
		if cmdErr != nil {
			fmt.Printf("Error: %v\n", cmdErr)
		}
	}
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"measure", "down", "move", "up", "cancel", "drag",
		"tiles", "ls", "state", "events", "wait", "paint",
		"help", "exit", "quit", "q",
	}

	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  measure <w> <h>                    Set the screen size")
	fmt.Println("  down <x> <y>                       Pointer down")
	fmt.Println("  move <x> <y>                       Pointer move")
	fmt.Println("  up <x> <y>                         Pointer up")
	fmt.Println("  cancel                             Cancel the drag")
	fmt.Println("  drag <x0> <y0> <x1> <y1> [steps]   Down, moves and up in one go")
	fmt.Println("  tiles                              List cached tiles")
	fmt.Println("  state                              Show origin, size and pan state")
	fmt.Println("  events                             Show invalidations since the last call")
	fmt.Println("  wait [timeout]                     Wait until every cached tile is ready")
	fmt.Println("  paint <file.png>                   Write the current frame")
	fmt.Println("  help                               Show this help")
	fmt.Println("  exit / quit / q                    Exit")
}

func ints(args []string, n int) ([]int, error) {
	if len(args) < n {
		return nil, fmt.Errorf("expected %d numbers", n)
	}
	out := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		out[i] = v
	}
	return out, nil
}

func (r *REPL) cmdMeasure(args []string) error {
	v, err := ints(args, 2)
	if err != nil {
		return err
	}
	return r.session.Measure(context.Background(), v[0], v[1])
}

func (r *REPL) pointer(ev session.PointerEvent) error {
	panned, err := r.session.Pointer(context.Background(), ev)
	if err != nil {
		return err
	}
	if panned {
		return r.cmdState()
	}
	return nil
}

func (r *REPL) cmdPointer(kind string, args []string) error {
	v, err := ints(args, 2)
	if err != nil {
		return err
	}
	return r.pointer(session.PointerEvent{Kind: kind, X: v[0], Y: v[1]})
}

func (r *REPL) cmdDrag(args []string) error {
	v, err := ints(args, 4)
	if err != nil {
		return err
	}
	steps := 10
	if len(v) > 4 && v[4] > 0 {
		steps = v[4]
	}

	x0, y0, x1, y1 := v[0], v[1], v[2], v[3]
	if err := r.pointer(session.PointerEvent{Kind: "down", X: x0, Y: y0}); err != nil {
		return err
	}
	for i := 1; i <= steps; i++ {
		x := x0 + (x1-x0)*i/steps
		y := y0 + (y1-y0)*i/steps
		if err := r.pointer(session.PointerEvent{Kind: "move", X: x, Y: y}); err != nil {
			return err
		}
	}
	return r.pointer(session.PointerEvent{Kind: "up", X: x1, Y: y1})
}

func (r *REPL) cmdTiles() error {
	state, err := r.session.State(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "X\tY\tSTATE\tSEQ")
	for _, t := range state.Tiles {
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\n", t.X, t.Y, t.State, t.Seq)
	}
	w.Flush()
	fmt.Printf("(%d tiles)\n", len(state.Tiles))
	return nil
}

func (r *REPL) cmdState() error {
	state, err := r.session.State(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("origin=(%d,%d) size=%dx%d pan=%s tiles=%d ready=%d\n",
		state.OriginX, state.OriginY, state.Width, state.Height, state.Pan,
		len(state.Tiles), countReady(state.Tiles))
	return nil
}

func countReady(tiles []tilegrid.TileInfo) int {
	n := 0
	for _, t := range tiles {
		if t.State == tilegrid.Ready.String() {
			n++
		}
	}
	return n
}

func (r *REPL) cmdEvents() {
	all, rects := r.events.take()
	fmt.Printf("full redraws: %d\n", all)
	for _, rect := range rects {
		fmt.Printf("  %s\n", rect)
	}
}

func (r *REPL) cmdWait(args []string) error {
	timeout := 30 * time.Second
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return err
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		state, err := r.session.State(ctx)
		if err != nil {
			return err
		}
		if countReady(state.Tiles) == len(state.Tiles) {
			return r.cmdState()
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d of %d tiles still loading", len(state.Tiles)-countReady(state.Tiles), len(state.Tiles))
		case <-ticker.C:
		}
	}
}

func (r *REPL) cmdPaint(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: paint <file.png>")
	}

	frame, err := r.session.Frame(context.Background())
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return err
	}
	if err := atomic.WriteFile(args[0], &buf); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%dx%d)\n", args[0], frame.Bounds().Dx(), frame.Bounds().Dy())
	return nil
}
