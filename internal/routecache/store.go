// Package routecache keeps scraped route details in memory and in a JSON
// snapshot on disk, refreshes them when they get old and offers a small FIFO
// cache for short-lived lookups.
package routecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/EgorLis/zwiftroutebot/internal/catalog"
	"github.com/EgorLis/zwiftroutebot/internal/zwiftinsider"
)

// FileName is the name of the snapshot inside the cache directory.
const FileName = "route_details_cache.json"

var (
	// ErrRefreshInProgress is returned when a refresh is already running.
	ErrRefreshInProgress = errors.New("cache refresh already in progress")
	// ErrNothingFetched is returned when a refresh got no route at all.
	ErrNothingFetched = errors.New("no route details fetched")
)

// Fetcher loads details of a single route.
type Fetcher interface {
	FetchRouteDetails(ctx context.Context, route catalog.Route) (zwiftinsider.RouteDetails, error)
}

// Options tune a Store.
type Options struct {
	MaxAge      time.Duration
	Concurrency int
	Interval    time.Duration
}

type snapshot map[string]zwiftinsider.RouteDetails

// Store holds route details by route name. Readers never block: the whole
// map is replaced atomically after a refresh.
type Store struct {
	path    string
	routes  []catalog.Route
	fetcher Fetcher
	opts    Options
	log     *zap.Logger

	data        atomic.Pointer[snapshot]
	refreshing  atomic.Bool
	lastRefresh atomic.Int64 // unix nanos
	lastErrors  atomic.Int32

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a store that keeps its snapshot in dir.
func New(dir string, routes []catalog.Route, fetcher Fetcher, opts Options, log *zap.Logger) *Store {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 14 * 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		path:    filepath.Join(dir, FileName),
		routes:  routes,
		fetcher: fetcher,
		opts:    opts,
		log:     log,
	}
	empty := snapshot{}
	s.data.Store(&empty)
	return s
}

// Get returns the cached details of a route.
func (s *Store) Get(routeName string) (zwiftinsider.RouteDetails, bool) {
	d, ok := (*s.data.Load())[routeName]
	return d, ok
}

// Len returns the number of cached routes.
func (s *Store) Len() int { return len(*s.data.Load()) }

// All returns the current snapshot. It must not be modified.
func (s *Store) All() map[string]zwiftinsider.RouteDetails { return *s.data.Load() }

// Refreshing reports whether a refresh is running.
func (s *Store) Refreshing() bool { return s.refreshing.Load() }

// age возвращает возраст файла снимка; ok=false, если файла нет
func (s *Store) age() (time.Duration, bool) {
	st, err := os.Stat(s.path)
	if err != nil {
		return 0, false
	}
	return time.Since(st.ModTime()), true
}

// LoadOrUpdate loads the snapshot when it is younger than MaxAge, otherwise
// refreshes it from the site.
func (s *Store) LoadOrUpdate(ctx context.Context) error {
	if age, ok := s.age(); ok {
		if age < s.opts.MaxAge {
			err := s.load()
			if err == nil {
				s.log.Info("route cache loaded", zap.Int("routes", s.Len()), zap.Duration("age", age.Round(time.Minute)))
				return nil
			}
			s.log.Warn("route cache unreadable, refreshing", zap.Error(err))
		} else {
			s.log.Info("route cache is stale, refreshing", zap.Float64("age_days", age.Hours()/24))
		}
	} else {
		s.log.Info("no route cache file, creating", zap.String("path", s.path))
	}
	_, err := s.Refresh(ctx, nil)
	return err
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	s.data.Store(&snap)
	return nil
}

// Refresh fetches every catalog route, at most Concurrency at a time and one
// launch per Interval. progress, when set, is called after each route.
// It returns the number of routes fetched.
func (s *Store) Refresh(ctx context.Context, progress func(done, total int)) (int, error) {
	if !s.refreshing.CompareAndSwap(false, true) {
		return 0, ErrRefreshInProgress
	}
	defer s.refreshing.Store(false)

	start := time.Now()
	total := len(s.routes)
	s.log.Info("route cache refresh started", zap.Int("routes", total))

	var (
		mu     sync.Mutex
		out    = make(snapshot, total)
		done   atomic.Int32
		failed atomic.Int32
	)

	var tick <-chan time.Time
	if s.opts.Interval > 0 {
		t := time.NewTicker(s.opts.Interval)
		defer t.Stop()
		tick = t.C
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

launch:
	for i, r := range s.routes {
		if i > 0 && tick != nil {
			select {
			case <-gctx.Done():
				break launch
			case <-tick:
			}
		}
		g.Go(func() error {
			d, err := s.fetcher.FetchRouteDetails(gctx, r)
			if err != nil {
				failed.Add(1)
				s.log.Warn("route details fetch failed", zap.String("route", r.Name), zap.Error(err))
			} else {
				mu.Lock()
				out[r.Name] = d
				mu.Unlock()
			}
			n := int(done.Add(1))
			if progress != nil {
				progress(n, total)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.lastErrors.Store(failed.Load())

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(out) == 0 && total > 0 {
		return 0, ErrNothingFetched
	}

	if err := s.save(out); err != nil {
		s.log.Error("route cache save failed", zap.Error(err))
	}
	s.data.Store(&out)
	s.lastRefresh.Store(time.Now().UnixNano())
	s.log.Info("route cache refreshed",
		zap.Int("routes", len(out)),
		zap.Int32("failed", failed.Load()),
		zap.Duration("took", time.Since(start).Round(time.Millisecond)))
	return len(out), nil
}

// save пишет снимок через временный файл, чтобы не оставить половину JSON
func (s *Store) save(snap snapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// StartPeriodic checks the snapshot age every interval and refreshes it
// when it is older than MaxAge.
func (s *Store) StartPeriodic(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if age, ok := s.age(); ok && age <= s.opts.MaxAge {
					continue
				}
				s.log.Info("starting scheduled route cache update")
				if _, err := s.Refresh(ctx, nil); err != nil && !errors.Is(err, ErrRefreshInProgress) {
					s.log.Warn("scheduled route cache update failed", zap.Error(err))
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the periodic check and waits for it to exit.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}

// Info describes the cache for the admin command.
type Info struct {
	Path        string
	Entries     int
	Routes      int
	SizeBytes   int64
	ModTime     time.Time
	Age         time.Duration
	MaxAge      time.Duration
	Exists      bool
	Stale       bool
	Refreshing  bool
	LastRefresh time.Time
	LastErrors  int
}

// Info returns the current cache statistics.
func (s *Store) Info() Info {
	in := Info{
		Path:       s.path,
		Entries:    s.Len(),
		Routes:     len(s.routes),
		MaxAge:     s.opts.MaxAge,
		Refreshing: s.refreshing.Load(),
		LastErrors: int(s.lastErrors.Load()),
	}
	if st, err := os.Stat(s.path); err == nil {
		in.Exists = true
		in.SizeBytes = st.Size()
		in.ModTime = st.ModTime()
		in.Age = time.Since(st.ModTime())
		in.Stale = in.Age > s.opts.MaxAge
	}
	if n := s.lastRefresh.Load(); n > 0 {
		in.LastRefresh = time.Unix(0, n)
	}
	return in
}
