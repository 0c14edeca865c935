package http

import (
	"bufio"
	"encoding/json"
	"errors"
	"image/png"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tileview/internal/config"
	"tileview/internal/session"
	"tileview/internal/tilegrid"
)

// Image is a source the image provider can open.
type Image struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Catalog lists the available source images.
type Catalog interface {
	Images() []Image
}

type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	sessions *session.Manager
	catalog  Catalog
	upgrader websocket.Upgrader
}

func New(config *config.Config, logger *zap.Logger, sessions *session.Manager, catalog Catalog) *Handlers {
	h := &Handlers{
		config:   config,
		logger:   logger,
		sessions: sessions,
		catalog:  catalog,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Register mounts every route on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/sources", h.HandleSources)
	mux.HandleFunc("/api/sessions", h.HandleSessions)
	mux.HandleFunc("/api/sessions/", h.HandleSessionRoutes)
	mux.HandleFunc("/healthz", h.HandleHealthz)
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", h.extractIP(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := h.allowedOrigin(r); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) allowedOrigin(r *http.Request) string {
	if h.config.AllowedOrigin != "" {
		return h.config.AllowedOrigin
	}
	origin := r.Header.Get("Origin")
	switch {
	case origin == "":
		return "*"
	case strings.HasPrefix(origin, "http://"+r.Host), strings.HasPrefix(origin, "https://"+r.Host):
		return origin
	}
	return ""
}

func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := h.allowedOrigin(r)
	return allowed == "*" || allowed == origin
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) HandleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	images := []Image{}
	if h.catalog != nil {
		images = append(images, h.catalog.Images()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": h.sessions.Providers(),
		"images":    images,
	})
}

type createRequest struct {
	session.Params
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.sessions.List())
	case http.MethodPost:
		h.createSession(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
	}

	s, err := h.sessions.Create(req.Params)
	switch {
	case errors.Is(err, session.ErrUnknownProvider), errors.Is(err, tilegrid.ErrInvalidTileSize):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, session.ErrTooManySessions):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("Failed to create session", zap.Error(err))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if req.Width > 0 && req.Height > 0 {
		if err := s.Measure(r.Context(), req.Width, req.Height); err != nil {
			if closeErr := h.sessions.Close(s.ID); closeErr != nil {
				h.logger.Warn("Failed to close rejected session", zap.String("session", s.ID), zap.Error(closeErr))
			}
			h.sessionError(w, err)
			return
		}
	}

	state, err := s.State(r.Context())
	if err != nil {
		h.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// HandleSessionRoutes serves /api/sessions/{id}[/frame.png|/measure|/pointer|/ws].
func (h *Handlers) HandleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}

	s, ok := h.sessions.Get(parts[0])
	if !ok {
		http.Error(w, session.ErrNotFound.Error(), http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleState(w, r, s)
		case http.MethodDelete:
			if err := h.sessions.Close(s.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
				h.logger.Warn("Session closed with error", zap.String("session", s.ID), zap.Error(err))
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "frame.png":
		h.handleFrame(w, r, s)
	case "measure":
		h.handleMeasure(w, r, s)
	case "pointer":
		h.handlePointer(w, r, s)
	case "ws":
		h.handleWebsocket(w, r, s)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleState(w http.ResponseWriter, r *http.Request, s *session.Session) {
	state, err := s.State(r.Context())
	if err != nil {
		h.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) handleFrame(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frame, err := s.Frame(r.Context())
	if err != nil {
		h.sessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, frame); err != nil {
		h.logger.Warn("Failed to write frame", zap.String("session", s.ID), zap.Error(err))
	}
}

type measureRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (h *Handlers) handleMeasure(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req measureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := s.Measure(r.Context(), req.Width, req.Height); err != nil {
		h.sessionError(w, err)
		return
	}
	h.handleState(w, r, s)
}

func (h *Handlers) handlePointer(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev session.PointerEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	panned, err := s.Pointer(r.Context(), ev)
	if err != nil {
		h.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"panned": panned})
}

func (h *Handlers) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownEvent), errors.Is(err, session.ErrInvalidSize):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tilegrid.ErrLoopStopped):
		http.Error(w, session.ErrNotFound.Error(), http.StatusGone)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return strings.Split(ip, ":")[0]
	}
	if addr := r.RemoteAddr; addr != "" {
		return strings.Split(addr, ":")[0]
	}
	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Hijack lets the websocket upgrader take over the connection behind the
// logging middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}
