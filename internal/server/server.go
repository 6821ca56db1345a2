// Package server exposes health checks, a small read-only JSON API over the
// route catalog and the Discord HTTP interactions endpoint.
package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/bot"
	"github.com/EgorLis/zwiftroutebot/internal/catalog"
	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/match"
	"github.com/EgorLis/zwiftroutebot/internal/routecache"
	"github.com/EgorLis/zwiftroutebot/internal/zwiftinsider"
)

const (
	maxBody = 1 << 20
	// Discord ждёт первый ответ не дольше 3 секунд
	ackTimeout     = 3 * time.Second
	handlerTimeout = 10 * time.Minute
)

var errAckTimeout = errors.New("interaction response timed out")

// Dispatcher answers interactions. *bot.ZwiftBot implements it.
type Dispatcher interface {
	HandleInteraction(ctx context.Context, in *discord.Interaction, ack bot.Ack)
}

type Server struct {
	cat     *catalog.Catalog
	details *routecache.Store
	log     *zap.Logger

	bot   Dispatcher
	key   ed25519.PublicKey
	ready func() bool

	engine *gin.Engine
	srv    *http.Server
	wg     sync.WaitGroup
}

// New builds the router. The interactions endpoint is only mounted after
// SetInteractions.
func New(addr string, cat *catalog.Catalog, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cat: cat, log: log, ready: func() bool { return true }}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(Recovery(log), Logger(log), RequestID())

	r.GET("/healthz", s.healthz)
	r.GET("/readyz", s.readyz)
	r.POST("/interactions", s.interactions)

	api := r.Group("/api/v1")
	{
		api.GET("/routes/resolve", s.resolveRoute)
		api.GET("/worlds/:world/routes", s.worldRoutes)
	}

	s.engine = r
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) SetDetails(d *routecache.Store) { s.details = d }

// SetInteractions enables POST /interactions with signature checks against key.
func (s *Server) SetInteractions(d Dispatcher, key ed25519.PublicKey) {
	s.bot = d
	s.key = key
}

// SetReadiness sets the check behind /readyz.
func (s *Server) SetReadiness(ready func() bool) { s.ready = ready }

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens in the background.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("http server starting", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", zap.Error(err))
		}
	}()
}

// Shutdown stops accepting requests and waits for running ones.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	catalogOK := s.cat != nil && len(s.cat.Routes()) > 0
	connected := s.ready()
	status := http.StatusOK
	if !catalogOK || !connected {
		status = http.StatusServiceUnavailable
	}
	body := gin.H{"catalog": catalogOK, "gateway": connected}
	if s.details != nil {
		body["cached_routes"] = s.details.Len()
	}
	c.JSON(status, body)
}

func routeName(r catalog.Route) string { return r.Name }

func (s *Server) resolveRoute(c *gin.Context) {
	q := strings.TrimSpace(c.Query("name"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	r, alts, ok := match.Find(s.cat.Routes(), routeName, q)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "query": q})
		return
	}
	if alts == nil {
		alts = []catalog.Route{}
	}
	body := gin.H{"route": r, "alternatives": alts, "score": match.Score(q, r.Name)}
	if s.details != nil {
		if d, ok := s.details.Get(r.Name); ok {
			body["details"] = d
		}
	}
	c.JSON(http.StatusOK, body)
}

type worldRoute struct {
	catalog.Route
	Details *zwiftinsider.RouteDetails `json:"details,omitempty"`
}

func (s *Server) worldRoutes(c *gin.Context) {
	world := strings.ToLower(strings.TrimSpace(c.Param("world")))
	sortBy := c.DefaultQuery("sort_by", "distance")
	switch sortBy {
	case "distance", "elevation", "name":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort_by must be distance, elevation or name"})
		return
	}

	var out []worldRoute
	for _, r := range s.cat.Routes() {
		if !strings.Contains(strings.ToLower(r.World), world) {
			continue
		}
		wr := worldRoute{Route: r}
		if s.details != nil {
			if d, ok := s.details.Get(r.Name); ok {
				wr.Details = &d
			}
		}
		out = append(out, wr)
	}
	if len(out) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "world not found", "worlds": s.cat.Worlds()})
		return
	}

	key := func(w worldRoute) float64 {
		if sortBy == "elevation" {
			if w.Details != nil {
				return w.Details.ElevationM
			}
			return w.ElevationM
		}
		if w.Details != nil {
			return w.Details.DistanceKm
		}
		return w.DistanceKm
	}
	if sortBy == "name" {
		sort.SliceStable(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	}
	c.JSON(http.StatusOK, gin.H{"world": out[0].World, "sort_by": sortBy, "count": len(out), "routes": out})
}

// interactions принимает interaction по HTTP. Первый ответ бота уходит телом
// HTTP-ответа, остальное бот делает через REST, как и с gateway.
func (s *Server) interactions(c *gin.Context) {
	if s.bot == nil || s.key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "interactions endpoint is disabled"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}
	sig := c.GetHeader("X-Signature-Ed25519")
	ts := c.GetHeader("X-Signature-Timestamp")
	if !discord.Verify(s.key, sig, ts, body) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid request signature"})
		return
	}
	var in discord.Interaction
	if err := json.Unmarshal(body, &in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed interaction"})
		return
	}

	var (
		first   = make(chan discord.InteractionResponse, 1)
		written = make(chan error, 1)
		done    = make(chan struct{})
		once    sync.Once
	)
	ack := func(r discord.InteractionResponse) error {
		used := false
		once.Do(func() {
			used = true
			first <- r
		})
		if !used {
			return errors.New("interaction already acknowledged")
		}
		return <-written
	}
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		s.bot.HandleInteraction(ctx, &in, ack)
	}()

	select {
	case r := <-first:
		c.JSON(http.StatusOK, r)
		c.Writer.Flush()
		written <- nil
	case <-done:
		c.Status(http.StatusNoContent)
	case <-time.After(ackTimeout):
		s.log.Warn("interaction not acknowledged in time", zap.String("id", in.ID))
		written <- errAckTimeout
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "timeout"})
	}
}
