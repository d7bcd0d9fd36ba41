package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"farmgate/internal/action"
	"farmgate/internal/handler/middleware"
	"farmgate/internal/metrics"
	"farmgate/internal/ratelimit"
	"farmgate/internal/service"
	"farmgate/internal/session"
	"farmgate/internal/wire"
)

const flushTimeout = 30 * time.Second

type WSOptions struct {
	Suite        wire.Suite
	ReadLimit    int64
	WriteTimeout time.Duration
}

// WSHandler serves the realtime endpoint. Each connection runs its read loop
// on the request goroutine and its action handlers on their own goroutines.
type WSHandler struct {
	auth     *session.Authenticator
	registry *action.Registry
	sessions service.SessionService
	limiter  ratelimit.Limiter
	opts     WSOptions
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	conns map[*wsConn]struct{}
	open  sync.WaitGroup
}

func NewWSHandler(
	auth *session.Authenticator,
	registry *action.Registry,
	sessions service.SessionService,
	limiter ratelimit.Limiter,
	opts WSOptions,
	logger *zap.Logger,
	m *metrics.Metrics,
) *WSHandler {
	return &WSHandler{
		auth:     auth,
		registry: registry,
		sessions: sessions,
		limiter:  limiter,
		opts:     opts,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		logger:   logger.Named("ws"),
		metrics:  m,
		conns:    make(map[*wsConn]struct{}),
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.ws.SetWriteDeadline(deadline(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

// close sends a close frame once and drops the socket, which ends the read loop.
func (c *wsConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline(c.writeTimeout))
	_ = c.ws.Close()
}

// Serve handles GET /ws and GET / upgrades.
func (h *WSHandler) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(h.opts.ReadLimit)
	// Clear the deadline inherited from the HTTP server's ReadTimeout.
	_ = ws.SetReadDeadline(time.Time{})
	conn := &wsConn{ws: ws, writeTimeout: h.opts.WriteTimeout}

	if !h.track(conn) {
		conn.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.untrack(conn)

	h.metrics.SessionOpened()
	defer h.metrics.SessionClosed()

	ctx := context.WithoutCancel(c.Request.Context())
	sess := session.New(h.opts.Suite)
	claims, err := h.auth.Authenticate(ctx, c.Query("accessToken"))
	if err != nil {
		code, reason := closeFrame(err)
		h.metrics.Frame("auth", "rejected")
		conn.close(code, reason)
		return
	}
	sess.Authenticated(claims)

	ip := middleware.PeerIP(c)
	var inflight sync.WaitGroup
	h.readLoop(ctx, conn, sess, ip, &inflight)

	sess.Close()
	inflight.Wait()

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := h.sessions.Flush(flushCtx, claims.TeleID, claims.Nonce); err != nil {
		h.logger.Warn("flush on disconnect failed", zap.String("tele_id", claims.TeleID), zap.Error(err))
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *wsConn, sess *session.Session, ip string, inflight *sync.WaitGroup) {
	defer conn.close(websocket.CloseNormalClosure, "")
	identity := sess.Identity()

	for {
		mt, data, err := conn.ws.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				h.logger.Debug("read failed", zap.String("tele_id", identity.TeleID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if !h.limiter.Allow(ctx, ip) {
			h.metrics.RateLimited("socket")
			continue
		}

		in, err := sess.HandleFrame(string(data))
		if err != nil {
			code, reason := closeFrame(err)
			h.metrics.Frame("frame", reason)
			conn.close(code, reason)
			return
		}

		if in.Reply != "" {
			h.metrics.Frame("handshake", "ok")
			if err := conn.send(in.Reply); err != nil {
				return
			}
			continue
		}
		if in.Request == nil {
			h.metrics.Frame("handshake", "ignored")
			continue
		}

		req := *in.Request
		call := &action.Call{
			Identity:     identity,
			Action:       req.Action,
			Data:         req.Data,
			ReturnAction: req.ReturnAction(),
			Reply: func(returnAction string, data any) {
				frame, err := sess.Seal(returnAction, data)
				if err != nil {
					h.logger.Warn("seal reply", zap.String("action", req.Action), zap.Error(err))
					return
				}
				_ = conn.send(frame)
			},
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("action panicked", zap.String("action", req.Action), zap.Any("error", r))
				}
			}()
			h.registry.Dispatch(ctx, call)
		}()
	}
}

func (h *WSHandler) track(c *wsConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns == nil {
		return false
	}
	h.conns[c] = struct{}{}
	h.open.Add(1)
	return true
}

func (h *WSHandler) untrack(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.open.Done()
}

// Shutdown closes every connection and waits until their sessions are
// flushed or ctx ends. New upgrades are refused afterwards.
func (h *WSHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()

	for c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.open.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
