package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
)

var upgrader = websocket.Upgrader{}

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

func writeJSON(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	assert.NoError(t, c.WriteJSON(v))
}

// readNonHeartbeat читает кадры, отвечая ACK на heartbeat
func readNonHeartbeat(c *websocket.Conn) (frame, error) {
	for {
		var f frame
		if err := c.ReadJSON(&f); err != nil {
			return f, err
		}
		if f.Op == opHeartbeat {
			_ = c.WriteJSON(map[string]any{"op": opHeartbeatACK})
			continue
		}
		return f, nil
	}
}

func drain(c *websocket.Conn) {
	for {
		if _, err := readNonHeartbeat(c); err != nil {
			return
		}
	}
}

func helloFrame(interval int) map[string]any {
	return map[string]any{"op": opHello, "d": map[string]any{"heartbeat_interval": interval}}
}

func wsAddr(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newClient(url string) *Client {
	c := New(url, "bot-token", zap.NewNop())
	c.minBackoff = 10 * time.Millisecond
	return c
}

func TestHandshakeInteractionAndResume(t *testing.T) {
	var conns atomic.Int32
	resumed := make(chan frame, 1)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		assert.Equal(t, "10", r.URL.Query().Get("v"))

		writeJSON(t, c, helloFrame(60000))
		f, err := readNonHeartbeat(c)
		if err != nil {
			return
		}

		switch conns.Add(1) {
		case 1:
			assert.Equal(t, opIdentify, f.Op)
			var id identify
			assert.NoError(t, json.Unmarshal(f.D, &id))
			assert.Equal(t, "bot-token", id.Token)

			writeJSON(t, c, map[string]any{"op": 0, "t": "READY", "s": 1, "d": map[string]any{
				"session_id": "s1", "resume_gateway_url": wsAddr(srv),
				"user": map[string]any{"id": "b1", "username": "zwiftbot"},
			}})
			writeJSON(t, c, map[string]any{"op": 0, "t": "INTERACTION_CREATE", "s": 2, "d": map[string]any{
				"id": "i1", "application_id": "app", "type": 2, "token": "itok",
				"data": map[string]any{"name": "route", "options": []any{
					map[string]any{"name": "name", "type": 3, "value": "Volcano Flat"},
				}},
			}})
			writeJSON(t, c, map[string]any{"op": opReconnect})
			drain(c)
		default:
			resumed <- f
			writeJSON(t, c, map[string]any{"op": 0, "t": "RESUMED", "s": 3})
			drain(c)
		}
	}))
	defer srv.Close()

	gw := newClient(wsAddr(srv))
	ready := make(chan Ready, 1)
	got := make(chan *discord.Interaction, 1)
	gw.OnReady = func(r Ready) { ready <- r }
	gw.OnInteraction = func(in *discord.Interaction) { got <- in }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, gw.Connect(ctx))

	select {
	case r := <-ready:
		assert.Equal(t, "s1", r.SessionID)
	case <-time.After(3 * time.Second):
		t.Fatal("no READY")
	}

	select {
	case in := <-got:
		assert.Equal(t, "route", in.Data.Name)
		assert.Equal(t, "Volcano Flat", in.Data.String("name"))
	case <-time.After(3 * time.Second):
		t.Fatal("no interaction")
	}

	select {
	case f := <-resumed:
		require.Equal(t, opResume, f.Op)
		var rs resume
		require.NoError(t, json.Unmarshal(f.D, &rs))
		assert.Equal(t, "s1", rs.SessionID)
		assert.Equal(t, int64(2), rs.Seq)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not resume")
	}

	cancel()
	select {
	case <-gw.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("client did not stop")
	}
	assert.NoError(t, gw.Err())
	assert.False(t, gw.IsConnected())
}

func TestFatalCloseStops(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		conns.Add(1)
		writeJSON(t, c, helloFrame(60000))
		if _, err := readNonHeartbeat(c); err != nil {
			return
		}
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4004, "Authentication failed."),
			time.Now().Add(time.Second))
		drain(c)
	}))
	defer srv.Close()

	gw := newClient(wsAddr(srv))
	require.NoError(t, gw.Connect(context.Background()))

	select {
	case <-gw.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("client kept running after fatal close")
	}
	assert.ErrorIs(t, gw.Err(), ErrFatalClose)
	assert.Equal(t, int32(1), conns.Load())
}

func TestConnectWithoutHello(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		writeJSON(t, c, map[string]any{"op": opHeartbeatACK})
		drain(c)
	}))
	defer srv.Close()

	err := newClient(wsAddr(srv)).Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoHello)
}

func TestHeartbeatWithSeq(t *testing.T) {
	beats := make(chan frame, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		writeJSON(t, c, helloFrame(50))
		var f frame
		if err := c.ReadJSON(&f); err != nil {
			return
		}
		writeJSON(t, c, map[string]any{"op": 0, "t": "GUILD_CREATE", "s": 7, "d": map[string]any{}})
		for {
			if err := c.ReadJSON(&f); err != nil {
				return
			}
			if f.Op == opHeartbeat {
				_ = c.WriteJSON(map[string]any{"op": opHeartbeatACK})
				select {
				case beats <- f:
				default:
				}
			}
		}
	}))
	defer srv.Close()

	gw := newClient(wsAddr(srv))
	require.NoError(t, gw.Connect(context.Background()))
	defer gw.Disconnect()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-beats:
			if string(f.D) == "7" {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat carrying the last sequence")
		}
	}
}

func TestIsFatalClose(t *testing.T) {
	for _, code := range []int{4004, 4010, 4011, 4012, 4013, 4014} {
		assert.True(t, isFatalClose(code), code)
	}
	for _, code := range []int{1000, 4000, 4007, 4009, 4015} {
		assert.False(t, isFatalClose(code), code)
	}
}
