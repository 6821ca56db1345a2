package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
)

var (
	errReconnectRequested = errors.New("gateway requested reconnect")
	errInvalidSession     = errors.New("invalid session")
)

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.connected.Store(false)
		c.closeConn(websocket.CloseNormalClosure)
		if c.OnDisconnected != nil {
			c.OnDisconnected()
		}
		close(c.done)
	}()

	// закрыть по отмене контекста
	go func() {
		select {
		case <-ctx.Done():
			c.Disconnect()
		case <-c.done:
		}
	}()

	backoff := c.minBackoff

	for {
		var err error
		if conn := c.getConn(); conn == nil {
			err = ErrNotConnected
		} else {
			_, data, rerr := conn.ReadMessage()
			if rerr == nil {
				if err = c.handle(conn, data); err == nil {
					backoff = c.minBackoff
					continue
				}
			} else {
				err = rerr
			}
		}

		if c.closed.Load() || ctx.Err() != nil {
			return
		}

		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			switch {
			case isFatalClose(ce.Code):
				c.setErr(fmt.Errorf("%w: %d %s", ErrFatalClose, ce.Code, ce.Text))
				c.log.Error("gateway closed with fatal code", zap.Int("code", ce.Code), zap.String("reason", ce.Text))
				c.closed.Store(true)
				return
			case ce.Code == 4007 || ce.Code == 4009:
				c.clearSession()
			}
		}

		switch {
		case errors.Is(err, errReconnectRequested), errors.Is(err, errInvalidSession):
			c.log.Info("gateway reconnect", zap.Error(err))
		default:
			c.emitError(err)
		}

		c.connected.Store(false)
		c.closeConn(closeKeepSession)

		// реконнект с backoff
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if c.closed.Load() {
				return
			}
			conn, derr := c.dialAndSetup(ctx)
			if derr != nil {
				c.emitError(fmt.Errorf("reconnect failed (wait %v): %w", backoff, derr))
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			if c.closed.Load() {
				_ = conn.Close()
				return
			}
			c.setConn(conn)
			c.connected.Store(true)
			if c.OnConnected != nil {
				c.OnConnected()
			}
			backoff = c.minBackoff
			break
		}
	}
}

func isFatalClose(code int) bool {
	return code == 4004 || (code >= 4010 && code <= 4014)
}

func (c *Client) clearSession() {
	c.smu.Lock()
	c.sessionID, c.resumeURL, c.seq = "", "", 0
	c.smu.Unlock()
}

func (c *Client) handle(conn *websocket.Conn, data []byte) error {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		c.log.Warn("bad gateway frame", zap.Error(err))
		return nil
	}
	if p.S != nil {
		c.smu.Lock()
		c.seq = *p.S
		c.smu.Unlock()
	}

	switch p.Op {
	case opDispatch:
		c.dispatch(p.T, p.D)
	case opHeartbeat:
		return c.beat(conn)
	case opHeartbeatACK:
		c.hbAck.Store(true)
	case opReconnect:
		return errReconnectRequested
	case opInvalidSession:
		var resumable bool
		_ = json.Unmarshal(p.D, &resumable)
		if !resumable {
			c.clearSession()
		}
		return errInvalidSession
	default:
		c.log.Debug("unhandled op", zap.Int("op", p.Op))
	}
	return nil
}

func (c *Client) dispatch(event string, d json.RawMessage) {
	switch event {
	case "READY":
		var r Ready
		if err := json.Unmarshal(d, &r); err != nil {
			c.emitError(fmt.Errorf("decode READY: %w", err))
			return
		}
		c.smu.Lock()
		c.sessionID = r.SessionID
		c.resumeURL = r.ResumeGatewayURL
		c.smu.Unlock()
		c.log.Info("gateway ready",
			zap.String("user", r.User.Username),
			zap.String("session_id", r.SessionID))
		if c.OnReady != nil {
			c.OnReady(r)
		}
	case "RESUMED":
		c.log.Info("gateway session resumed")
	case "INTERACTION_CREATE":
		var in discord.Interaction
		if err := json.Unmarshal(d, &in); err != nil {
			c.emitError(fmt.Errorf("decode interaction: %w", err))
			return
		}
		if c.OnInteraction != nil {
			go c.OnInteraction(&in)
		}
	default:
		c.log.Debug("ignored dispatch", zap.String("event", event))
	}
}
