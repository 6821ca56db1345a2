package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/bot"
	"github.com/EgorLis/zwiftroutebot/internal/catalog"
	"github.com/EgorLis/zwiftroutebot/internal/discord"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Route{
		{Name: "Volcano Flat", URL: "https://zwiftinsider.com/route/volcano-flat/", World: "Watopia", DistanceKm: 12.3, ElevationM: 46},
		{Name: "Road to Sky", URL: "https://zwiftinsider.com/route/road-to-sky/", World: "Watopia", DistanceKm: 17.5, ElevationM: 1100},
		{Name: "Mont Ventoux", URL: "https://zwiftinsider.com/route/mont-ventoux/", World: "France", DistanceKm: 21.7, ElevationM: 1600},
	}, nil, nil)
	require.NoError(t, err)
	return c
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealthAndReadiness(t *testing.T) {
	s := New(":0", testCatalog(t), zap.NewNop())
	w, _ := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	connected := false
	s.SetReadiness(func() bool { return connected })
	w, body := get(t, s.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, body["gateway"])

	connected = true
	w, _ = get(t, s.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResolveRoute(t *testing.T) {
	s := New(":0", testCatalog(t), zap.NewNop())

	w, body := get(t, s.Handler(), "/api/v1/routes/resolve?name=ventoux")
	require.Equal(t, http.StatusOK, w.Code)
	route := body["route"].(map[string]any)
	assert.Equal(t, "Mont Ventoux", route["Route"])

	w, _ = get(t, s.Handler(), "/api/v1/routes/resolve?name=zzz-unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = get(t, s.Handler(), "/api/v1/routes/resolve")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorldRoutes(t *testing.T) {
	s := New(":0", testCatalog(t), zap.NewNop())

	w, body := get(t, s.Handler(), "/api/v1/worlds/wato/routes?sort_by=elevation")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Watopia", body["world"])
	routes := body["routes"].([]any)
	require.Len(t, routes, 2)
	assert.Equal(t, "Volcano Flat", routes[0].(map[string]any)["Route"])

	w, body = get(t, s.Handler(), "/api/v1/worlds/mars/routes")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, body["worlds"], 2)

	w, _ = get(t, s.Handler(), "/api/v1/worlds/watopia/routes?sort_by=speed")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakeDispatcher struct {
	mu      sync.Mutex
	got     []*discord.Interaction
	ackErr  error
	noAck   bool
	handled chan struct{}
}

func (f *fakeDispatcher) HandleInteraction(_ context.Context, in *discord.Interaction, ack bot.Ack) {
	f.mu.Lock()
	f.got = append(f.got, in)
	f.mu.Unlock()
	if !f.noAck {
		if in.Type == discord.InteractionPing {
			f.ackErr = ack(discord.InteractionResponse{Type: discord.ResponsePong})
		} else {
			f.ackErr = ack(discord.InteractionResponse{Type: discord.ResponseDeferredChannelMessage})
		}
	}
	if f.handled != nil {
		close(f.handled)
	}
}

func signed(t *testing.T, priv ed25519.PrivateKey, body []byte) *http.Request {
	t.Helper()
	ts := "1700000000"
	sig := ed25519.Sign(priv, append([]byte(ts), body...))
	r := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(body))
	r.Header.Set("X-Signature-Ed25519", hex.EncodeToString(sig))
	r.Header.Set("X-Signature-Timestamp", ts)
	return r
}

func TestInteractionsEndpoint(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	d := &fakeDispatcher{handled: make(chan struct{})}
	s := New(":0", testCatalog(t), zap.NewNop())
	s.SetInteractions(d, pub)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, signed(t, priv, []byte(`{"id":"1","type":1,"token":"t"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"type":1}`, w.Body.String())

	select {
	case <-d.handled:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not finish")
	}
	assert.NoError(t, d.ackErr)

	// подпись от другого ключа
	_, other, _ := ed25519.GenerateKey(rand.Reader)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, signed(t, other, []byte(`{"type":1}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, signed(t, priv, []byte(`{`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInteractionsWithoutAck(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s := New(":0", testCatalog(t), zap.NewNop())
	s.SetInteractions(&fakeDispatcher{noAck: true}, pub)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, signed(t, priv, []byte(`{"type":4}`)))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestInteractionsDisabled(t *testing.T) {
	s := New(":0", testCatalog(t), zap.NewNop())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecovery(t *testing.T) {
	s := New(":0", nil, zap.NewNop())
	// catalog nil: resolve паникует на s.cat.Routes()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/routes/resolve?name=x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
