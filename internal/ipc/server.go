// Package ipc is the local transport between renderer windows and the main
// process.
//
// Each window holds one WebSocket at /windows/{windowID}/ws. Renderers send
// [Request] frames naming a "domain:action" channel and receive a [Response]
// for every request with a non-zero seq. Resource events arrive as [Push]
// frames. The window a request acts for is always the one its connection
// belongs to, never a value from the request body.
//
// Terminal output is pushed as UTF-8 text. Chunks are split on rune
// boundaries; bytes that are not valid UTF-8 arrive as U+FFFD. Input may be
// sent as text in "data" or as raw bytes, base64-encoded, in "bytes".
//
// Plain HTTP routes expose health and the profile control surface.
package ipc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/panehost/internal/core"
	"github.com/Iron-Ham/panehost/internal/errors"
	"github.com/Iron-Ham/panehost/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Server serves renderer connections for one Core.
type Server struct {
	core     *core.Core
	logger   *logging.Logger
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
}

// NewServer creates a Server for c.
func NewServer(c *core.Core, logger *logging.Logger) *Server {
	if c == nil {
		panic("ipc: core must not be nil")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		core:   c,
		logger: logger.WithComponent("ipc"),
		upgrader: websocket.Upgrader{
			// Renderers are local processes; the listener is bound to loopback.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.handlers = s.routes()
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Get("/profiles", s.listProfiles)
	r.Post("/profiles/{profileID}/open", s.openProfile)
	r.Get("/windows", s.listWindows)
	r.Delete("/windows/{windowID}", s.closeWindow)
	r.Get("/windows/{windowID}/ws", s.serveWindow)
	return r
}

// ListenAndServe listens on addr and serves until ctx is done. The bound
// address is handed to the window host for launched renderers.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.core.Windows.SetAddr(ln.Addr().String())
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
	}()

	s.logger.Info("listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) serveWindow(w http.ResponseWriter, r *http.Request) {
	windowID := chi.URLParam(r, "windowID")
	if !s.core.Windows.IsLive(windowID) {
		writeError(w, http.StatusNotFound, errors.NewNotFoundError("window", windowID))
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithWindow(windowID).Debug("websocket upgrade failed", "error", err)
		return
	}

	log := s.logger.WithWindow(windowID)
	c := newConn(ws, windowID, s.core.Config.Window.SendBuffer, log)
	go c.writeLoop()

	if err := s.core.Windows.Attach(windowID, c); err != nil {
		log.Info("renderer rejected", "error", err)
		c.Close()
		<-c.done
		return
	}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("renderer connection lost", "error", err)
			}
			break
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Debug("malformed request frame", "error", err)
			continue
		}

		ctx, hooks := withAfterResponse(r.Context())
		resp, wait := s.dispatch(ctx, windowID, req)
		if wait != nil {
			// Slow teardown must not hold up the window's later commands.
			go func() {
				<-wait
				s.finishRequest(c, req.Seq, resp, *hooks)
			}()
			continue
		}
		s.finishRequest(c, req.Seq, resp, *hooks)
	}

	c.Close()
	<-c.done
	s.core.Windows.Detach(windowID, c)
}

func (s *Server) finishRequest(c *conn, seq uint64, resp Response, hooks []func()) {
	if seq != 0 {
		c.respond(resp)
	}
	for _, fn := range hooks {
		fn()
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	stats := s.core.Bridge.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"windows":   s.core.Windows.Count(),
		"terminals": s.core.Terminals.Count(),
		"watches":   s.core.Watches.Count(),
		"delivered": stats.Delivered,
		"dropped":   stats.Dropped(),
	})
}

func (s *Server) listProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Profiles.Open())
}

func (s *Server) openProfile(w http.ResponseWriter, r *http.Request) {
	id, err := s.core.Profiles.OpenOrFocus(chi.URLParam(r, "profileID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, OpenResult{WindowID: id})
}

func (s *Server) listWindows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Windows.List())
}

func (s *Server) closeWindow(w http.ResponseWriter, r *http.Request) {
	windowID := chi.URLParam(r, "windowID")
	if !s.core.Windows.Close(windowID) {
		writeError(w, http.StatusNotFound, errors.NewNotFoundError("window", windowID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch errors.Kind(err) {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorBody{Kind: errors.Kind(err), Message: err.Error()})
}
