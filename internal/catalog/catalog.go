// Package catalog holds the static, read-only data of the bot: Zwift routes,
// sprint segments and KOM segments. It is loaded once at startup and never
// mutated afterwards, so it is safe for concurrent use without locking.
package catalog

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/EgorLis/zwiftroutebot/internal/match"
)

const (
	RoutesFile  = "zwift_routes.json"
	KOMsFile    = "zwift_koms.json"
	SprintsFile = "zwift_sprint_segments.json"
)

//go:embed data/*.json
var embedded embed.FS

// ErrDuplicateKey is returned when two entries normalize to the same key.
var ErrDuplicateKey = errors.New("duplicate catalog key")

// Route is a named Zwift route.
type Route struct {
	Name       string  `json:"Route"`
	URL        string  `json:"URL"`
	ImageURL   string  `json:"ImageURL,omitempty"`
	World      string  `json:"World,omitempty"`
	DistanceKm float64 `json:"Distance_km,omitempty"`
	ElevationM float64 `json:"Elevation_m,omitempty"`
	LeadInKm   float64 `json:"Lead_in_km,omitempty"`
}

// Key is the lookup key of the route.
func (r Route) Key() string { return match.Normalize(r.Name) }

// CyccalImage returns ImageURL when it points to the Cyccal GitHub repository.
func (r Route) CyccalImage() string {
	if strings.Contains(strings.ToLower(r.ImageURL), "github") {
		return r.ImageURL
	}
	return ""
}

// Sprint is a sprint segment.
type Sprint struct {
	Name     string  `json:"Segment"`
	URL      string  `json:"URL"`
	Location string  `json:"Location"`
	LengthM  float64 `json:"Length_m"`
	Grade    float64 `json:"Grade"`
}

// KOM is a climb segment.
type KOM struct {
	Name        string  `json:"Segment"`
	URL         string  `json:"URL"`
	Location    string  `json:"Location"`
	LengthKm    float64 `json:"Length_km"`
	LengthMiles float64 `json:"Length_miles"`
	ElevGainM   float64 `json:"Elev_Gain_m"`
	ElevGainFt  float64 `json:"Elev_Gain_ft"`
	Grade       float64 `json:"Grade"`
}

// Catalog is the immutable set of routes and segments.
type Catalog struct {
	routes  []Route
	sprints []Sprint
	koms    []KOM
	byName  map[string]int
	source  string
}

// New builds a catalog from already decoded data. Routes without a world get
// one from WorldFor.
func New(routes []Route, sprints []Sprint, koms []KOM) (*Catalog, error) {
	c := &Catalog{
		routes:  make([]Route, 0, len(routes)),
		sprints: sprints,
		koms:    koms,
		byName:  make(map[string]int, len(routes)),
		source:  "memory",
	}
	seen := make(map[string]string, len(routes))
	for _, r := range routes {
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return nil, fmt.Errorf("route with empty name (url %q)", r.URL)
		}
		k := r.Key()
		if prev, dup := seen[k]; dup {
			return nil, fmt.Errorf("%w: %q and %q", ErrDuplicateKey, prev, r.Name)
		}
		seen[k] = r.Name
		if r.World == "" {
			r.World = WorldFor(r.Name)
		}
		c.byName[r.Name] = len(c.routes)
		c.routes = append(c.routes, r)
	}
	return c, nil
}

// Load reads the three JSON files from dir. Files that are absent in dir are
// taken from the embedded copy.
func Load(dir string) (*Catalog, error) {
	var (
		routes  []Route
		sprints []Sprint
		koms    []KOM
	)
	src := []string{}
	for _, f := range []struct {
		name string
		out  any
	}{
		{RoutesFile, &routes},
		{SprintsFile, &sprints},
		{KOMsFile, &koms},
	} {
		from, err := readJSON(dir, f.name, f.out)
		if err != nil {
			return nil, err
		}
		src = append(src, from)
	}
	c, err := New(routes, sprints, koms)
	if err != nil {
		return nil, err
	}
	c.source = strings.Join(src, ", ")
	return c, nil
}

func readJSON(dir, name string, out any) (string, error) {
	path := filepath.Join(dir, name)
	b, err := os.ReadFile(path)
	from := path
	if errors.Is(err, fs.ErrNotExist) {
		b, err = embedded.ReadFile("data/" + name)
		from = "embedded:" + name
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return "", fmt.Errorf("decode %s: %w", from, err)
	}
	return from, nil
}

// Routes returns the routes in catalog order. The slice must not be modified.
func (c *Catalog) Routes() []Route { return c.routes }

// Sprints returns the sprint segments in catalog order.
func (c *Catalog) Sprints() []Sprint { return c.sprints }

// KOMs returns the KOM segments in catalog order.
func (c *Catalog) KOMs() []KOM { return c.koms }

// Source describes where the data was loaded from.
func (c *Catalog) Source() string { return c.source }

// Route returns the route with exactly this name.
func (c *Catalog) Route(name string) (Route, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Route{}, false
	}
	return c.routes[i], true
}

// Worlds returns the distinct worlds of the catalog. Known worlds come
// first in KnownWorlds order, the rest follow in catalog order.
func (c *Catalog) Worlds() []string {
	var present []string
	seen := map[string]bool{}
	for _, r := range c.routes {
		if !seen[r.World] {
			seen[r.World] = true
			present = append(present, r.World)
		}
	}
	out := make([]string, 0, len(present))
	for _, w := range KnownWorlds() {
		if seen[w] {
			out = append(out, w)
			delete(seen, w)
		}
	}
	for _, w := range present {
		if seen[w] {
			out = append(out, w)
		}
	}
	return out
}
