// Package signal is the websocket control surface. Every client request
// carries a request id and gets exactly one ack back; server-initiated
// events carry no request id.
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

	"github.com/ABERsara/worldplay-media/internal/app/orch"
	"github.com/ABERsara/worldplay-media/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch *orch.Orchestrator

	ReadLimit  int64
	PingPeriod time.Duration
	Limiter    *RateLimiter
}

func NewController(o *orch.Orchestrator, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		Orch:       o,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
		Limiter:    NewRateLimiter(10, time.Minute),
	}
}

// WsSignalConn wraps one websocket with a buffered outbound queue. The
// write pump is the only goroutine touching the socket for writes; a
// full queue drops the message rather than stalling signaling.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) trySendRaw(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the HTTP request and runs the connection until
// either side goes away. The participant id is the client token minted
// by the HTTP middleware.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	pid := domain.ParticipantID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("participant", string(pid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, pid, conn)
}
