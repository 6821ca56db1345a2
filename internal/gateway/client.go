package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
)

var (
	// ErrNotConnected — запись без открытого сокета.
	ErrNotConnected = errors.New("gateway: not connected")
	// ErrFatalClose — Err после close-кода, с которым переподключаться нельзя.
	ErrFatalClose = errors.New("gateway: fatal close code")
	// ErrNoHello — первый кадр оказался не HELLO.
	ErrNoHello = errors.New("gateway: expected HELLO")
)

const (
	writeTimeout = 5 * time.Second
	maxBackoff   = 30 * time.Second
)

type Client struct {
	baseURL string
	token   string
	intents int
	log     *zap.Logger
	dialer  *websocket.Dialer

	minBackoff time.Duration

	mu   sync.Mutex // conn
	conn *websocket.Conn

	wmu    sync.Mutex    // сериализует запись в websocket
	hbStop chan struct{} // стоп-канал heartbeat-горутины
	hbAck  atomic.Bool   // пришёл ли ACK на последний heartbeat

	closed    atomic.Bool
	connected atomic.Bool

	// состояние сессии для RESUME
	smu       sync.Mutex
	seq       int64
	sessionID string
	resumeURL string

	done    chan struct{}
	errMu   sync.Mutex
	lastErr error

	// "События"
	OnConnected    func()
	OnReady        func(Ready)
	OnInteraction  func(*discord.Interaction)
	OnDisconnected func()
	OnError        func(error)
}

// New создаёт клиента для адреса gateway (wss://gateway.discord.gg).
func New(url, token string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    url,
		token:      token,
		log:        log,
		dialer:     websocket.DefaultDialer,
		minBackoff: time.Second,
		done:       make(chan struct{}),
	}
}

// Connect устанавливает WebSocket, проходит рукопожатие и запускает readLoop.
// Контекст можно отменить для мягкого выхода из readLoop.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dialAndSetup(ctx)
	if err != nil {
		return err
	}
	c.setConn(conn)
	c.closed.Store(false)
	c.connected.Store(true)
	if c.OnConnected != nil {
		c.OnConnected()
	}

	go c.readLoop(ctx)
	return nil
}

// Disconnect закрывает сокет и прекращает переподключения.
func (c *Client) Disconnect() {
	if c.closed.Swap(true) {
		return
	}
	c.closeConn(websocket.CloseNormalClosure)
}

// IsConnected — сокет открыт и IDENTIFY/RESUME пройден.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && !c.closed.Load()
}

// Done закрывается, когда клиент остановился окончательно.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err возвращает причину остановки; nil после Disconnect или отмены контекста.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// SessionID возвращает id текущей сессии или пустую строку.
func (c *Client) SessionID() string {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.sessionID
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) getConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// send: запись строго через один мьютекс + write-deadline
func (c *Client) send(conn *websocket.Conn, op int, d any) error {
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(outgoing{Op: op, D: d})
	if err != nil {
		return fmt.Errorf("encode op %d: %w", op, err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) emitError(err error) {
	if c.OnError != nil && !c.closed.Load() {
		c.OnError(err)
	}
}
