package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Intercom/internal/app/orch"
	"github.com/dkeye/Intercom/internal/auth"
	"github.com/dkeye/Intercom/internal/config"
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Authenticator resolves the connect-time credential.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (domain.Identity, error)
}

type Options struct {
	ReadLimit      int64
	PingPeriod     time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

func OptionsFrom(cfg *config.Config) Options {
	return Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		WriteWait:      cfg.WriteWait,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	}
}

// pongWait leaves the client a tenth of a ping period to answer.
func (o Options) pongWait() time.Duration {
	return o.PingPeriod * 10 / 9
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Gate    Authenticator
	Limiter *RateLimiter
	Metrics *metrics.Metrics

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, gate Authenticator, limiter *RateLimiter, m *metrics.Metrics, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	return &SignalWSController{
		Orch:    o,
		Gate:    gate,
		Limiter: limiter,
		Metrics: m,
		opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(opts.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// WsSignalConn is the websocket-backed core.SignalConnection. TrySend never
// blocks; frames leave in FIFO order through a single write pump.
type WsSignalConn struct {
	id   string
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:   uuid.NewString(),
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades, authenticates and binds one connection. The
// connection lives until the client goes away or ctx is cancelled.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	credential := auth.CredentialFrom(c.Request)

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	identity, err := ctl.Gate.Authenticate(c.Request.Context(), credential)
	if err != nil {
		ctl.Metrics.AuthFailure()
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("rejecting unauthenticated connection")
		ctl.closePolicyViolation(ws, "unauthorized")
		return
	}

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	log.Info().Str("module", "signal").Str("user", string(identity.ID)).Str("conn", conn.id).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(identity, conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, identity.ID, conn)
}

func (ctl *SignalWSController) closePolicyViolation(ws *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.opts.WriteWait)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("write close frame")
	}
	_ = ws.Close()
}
