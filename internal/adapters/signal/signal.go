// Package signal is the websocket adapter: it gates every connection
// behind in-band credential auth and runs the typing/finish message
// lifecycle with room fan-out.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/anteroom-chat/anteroom/internal/app"
	"github.com/anteroom-chat/anteroom/internal/config"
	"github.com/anteroom-chat/anteroom/internal/core"
	"github.com/anteroom-chat/anteroom/internal/domain"
	"github.com/anteroom-chat/anteroom/internal/repo"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Identity  repo.IdentityRepo
	Consensus *app.Consensus
	Registry  *app.Registry
	Cfg       *config.Config
}

func NewController(identity repo.IdentityRepo, consensus *app.Consensus, registry *app.Registry, cfg *config.Config) *Controller {
	return &Controller{Identity: identity, Consensus: consensus, Registry: registry, Cfg: cfg}
}

// WsConn wraps a websocket connection with a bounded send queue so a
// slow reader exerts backpressure instead of blocking fan-out.
type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsConn(ws *websocket.Conn) *WsConn {
	return &WsConn{conn: ws, send: make(chan core.Frame, 32)}
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
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

// connSession is the per-connection state machine:
// connected -> authenticated | rejected. Until auth succeeds only auth
// and ping frames are honored; the grace timer tears the connection
// down if auth never arrives.
type connSession struct {
	ctl       *Controller
	conn      *WsConn
	cancel    context.CancelFunc
	authTimer *time.Timer

	mu   sync.RWMutex
	user *domain.User
	sess core.MemberSession
}

func (s *connSession) authenticated() (*domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.user != nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.Cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Cfg.ReadLimit)
	}

	ctx, cancel := context.WithCancel(ctx)
	conn := newWsConn(ws)
	sess := &connSession{ctl: ctl, conn: conn, cancel: cancel}
	sess.authTimer = time.AfterFunc(ctl.Cfg.AuthGrace, func() {
		log.Warn().Str("module", "signal").Msg("auth grace expired, closing connection")
		conn.Close()
		cancel()
	})
	log.Info().Str("module", "signal").Msg("new WS connection")

	go sess.writePump(ctx)
	go sess.readPump(ctx)
}
