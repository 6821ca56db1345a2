package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// закрытие с кодом, отличным от 1000/1001, сохраняет сессию для RESUME
const closeKeepSession = 4000

// формирует адрес с версией и кодировкой
func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("gateway url: %w", err)
	}
	q := u.Query()
	q.Set("v", "10")
	q.Set("encoding", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dial, HELLO, IDENTIFY или RESUME, запуск heartbeat
func (c *Client) dialAndSetup(ctx context.Context) (*websocket.Conn, error) {
	c.smu.Lock()
	sessionID, seq, base := c.sessionID, c.seq, c.baseURL
	if sessionID != "" && c.resumeURL != "" {
		base = c.resumeURL
	}
	c.smu.Unlock()

	addr, err := wsURL(base)
	if err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	conn.SetReadLimit(16 << 20)

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, data, err := conn.ReadMessage()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.Op != opHello {
		_ = conn.Close()
		return nil, ErrNoHello
	}
	var h hello
	if err := json.Unmarshal(p.D, &h); err != nil || h.HeartbeatInterval <= 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: bad heartbeat interval", ErrNoHello)
	}

	if sessionID != "" {
		err = c.send(conn, opResume, resume{Token: c.token, SessionID: sessionID, Seq: seq})
		c.log.Info("resuming session", zap.String("session_id", sessionID), zap.Int64("seq", seq))
	} else {
		err = c.send(conn, opIdentify, identify{
			Token:   c.token,
			Intents: c.intents,
			Properties: identifyProperties{
				OS:      runtime.GOOS,
				Browser: "zwiftroutebot",
				Device:  "zwiftroutebot",
			},
		})
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	c.startHeartbeat(conn, time.Duration(h.HeartbeatInterval)*time.Millisecond)
	return conn, nil
}

// безопасно закрыть текущее соединение
func (c *Client) closeConn(code int) {
	c.stopHeartbeat()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.wmu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, "closing"),
		time.Now().Add(500*time.Millisecond))
	c.wmu.Unlock()
	_ = conn.Close()
}

func (c *Client) startHeartbeat(conn *websocket.Conn, interval time.Duration) {
	c.stopHeartbeat() // на всякий
	stop := make(chan struct{})
	c.mu.Lock()
	c.hbStop = stop
	c.mu.Unlock()
	c.hbAck.Store(true)

	go func() {
		// первый удар с джиттером, как требует Discord
		t := time.NewTimer(time.Duration(rand.Float64() * float64(interval)))
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if !c.hbAck.Load() {
					// ACK не пришёл, соединение подвисло, readLoop реконнектит
					c.log.Warn("heartbeat not acknowledged, dropping connection")
					_ = conn.Close()
					return
				}
				c.hbAck.Store(false)
				if err := c.beat(conn); err != nil {
					c.emitError(fmt.Errorf("heartbeat: %w", err))
					return
				}
				t.Reset(interval)
			}
		}
	}()
}

func (c *Client) stopHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
}

func (c *Client) beat(conn *websocket.Conn) error {
	c.smu.Lock()
	seq := c.seq
	c.smu.Unlock()
	var d any
	if seq > 0 {
		d = seq
	}
	return c.send(conn, opHeartbeat, d)
}
