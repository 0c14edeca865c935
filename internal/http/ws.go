package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tileview/internal/session"
)

const (
	writeWait = 5 * time.Second
	readWait  = 60 * time.Second
)

// clientMessage is sent by the viewer. Type is "measure" or one of the
// pointer kinds (down, move, up, cancel).
type clientMessage struct {
	Type   string `json:"type"`
	X      int    `json:"x,omitempty"`
	Y      int    `json:"y,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type invalidateMessage struct {
	Type string `json:"type"`
	X0   int    `json:"x0"`
	Y0   int    `json:"y0"`
	X1   int    `json:"x1"`
	Y1   int    `json:"y1"`
}

type pannedMessage struct {
	Type    string `json:"type"`
	OriginX int    `json:"origin_x"`
	OriginY int    `json:"origin_y"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func invalidationMessage(ev session.Invalidation) any {
	if ev.All {
		return struct {
			Type string `json:"type"`
		}{Type: "invalidate_all"}
	}
	return invalidateMessage{
		Type: "invalidate",
		X0:   ev.Rect.Min.X,
		Y0:   ev.Rect.Min.Y,
		X1:   ev.Rect.Max.X,
		Y1:   ev.Rect.Max.Y,
	}
}

// handleWebsocket streams invalidations to the viewer and feeds its measure
// and pointer messages to the session. Frames are fetched separately from
// frame.png.
func (h *Handlers) handleWebsocket(w http.ResponseWriter, r *http.Request, s *session.Session) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.String("session", s.ID), zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("session", s.ID))
	log.Info("Viewer connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	out := make(chan any, 64)

	// Writer goroutine.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), time.Now().Add(writeWait))
					cancel()
					return
				}
				msg = invalidationMessage(ev)
			case msg = <-out:
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
		}
	}()

	reply := func(msg any) {
		select {
		case out <- msg:
		case <-ctx.Done():
		}
	}

	// Reader loop.
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			reply(errorMessage{Type: "error", Message: "invalid message"})
			continue
		}

		switch msg.Type {
		case "measure":
			err = s.Measure(ctx, msg.Width, msg.Height)
		default:
			var panned bool
			panned, err = s.Pointer(ctx, session.PointerEvent{Kind: msg.Type, X: msg.X, Y: msg.Y})
			if err == nil && panned {
				state, stateErr := s.State(ctx)
				if stateErr == nil {
					reply(pannedMessage{Type: "panned", OriginX: state.OriginX, OriginY: state.OriginY})
				}
			}
		}
		if err != nil {
			reply(errorMessage{Type: "error", Message: err.Error()})
		}
	}

	cancel()
	<-writerDone
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	log.Info("Viewer disconnected")
}
