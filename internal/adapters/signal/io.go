package signal

import (
	"context"
	"time"

	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, uid domain.UserID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(uid)).Str("conn", c.id).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.release(uid, c)
	}()

	if ctl.opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.opts.ReadLimit)
	}
	pongWait := ctl.opts.pongWait()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("user", string(uid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("user", string(uid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleFrame(uid, c, data)
		}
	}
}

// release unregisters c. A superseded c leaves the identity's rate-limit window alone.
func (ctl *SignalWSController) release(uid domain.UserID, c core.SignalConnection) {
	if ctl.Orch.Disconnect(uid, c) {
		ctl.Limiter.Forget(uid)
	}
}

func (ctl *SignalWSController) handleFrame(uid domain.UserID, c *WsSignalConn, data []byte) {
	msgType := core.PeekType(data)
	if msgType != core.TypePing && !ctl.Limiter.Allow(uid) {
		err := domain.RateLimited(uid)
		ctl.Metrics.Frame(msgType.Label(), metrics.OutcomeDropped, domain.TextCode(err))
		log.Warn().Err(err).Str("module", "signal").Str("user", string(uid)).Str("type", string(msgType)).Msg("frame dropped")
		return
	}
	if err := ctl.Orch.OnFrame(uid, c, data); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("user", string(uid)).Str("type", string(msgType)).Msg("frame dropped")
	}
}
