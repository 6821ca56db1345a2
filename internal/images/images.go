// Package images finds local route images (elevation profiles, maps and
// incline charts) by route name and loads them as attachments.
package images

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/catalog"
	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/match"
)

// ErrUnsupportedImage is returned for files that are not PNG, SVG or WebP.
var ErrUnsupportedImage = errors.New("unsupported image type")

// FuzzyThreshold is the minimal token sort similarity for strategy four.
const FuzzyThreshold = 0.70

// minStem is the shortest file name stem that can match a route.
const minStem = 3

var imageExt = []string{".png", ".svg", ".webp"}

// Set holds the images found for one route, by kind.
type Set struct {
	Profiles  []string
	Maps      []string
	Inclines  []string
	Others    []string
	CyccalURL string
}

// Count returns the number of local files in the set.
func (s Set) Count() int {
	return len(s.Profiles) + len(s.Maps) + len(s.Inclines) + len(s.Others)
}

// Finder looks images up under a root directory with the layout
// root/profiles, root/maps, root/inclines and root itself for the rest.
type Finder struct {
	profiles []string
	maps     []string
	inclines []string
	others   []string
	log      *zap.Logger
}

// NewFinder creates a finder for root. Extra directories are searched for
// uncategorised images after root.
func NewFinder(root string, log *zap.Logger, extra ...string) *Finder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Finder{
		profiles: []string{filepath.Join(root, "profiles")},
		maps:     []string{filepath.Join(root, "maps")},
		inclines: []string{filepath.Join(root, "inclines")},
		others:   append([]string{root}, extra...),
		log:      log,
	}
}

// Find returns all images matching the route.
func (f *Finder) Find(route catalog.Route) Set {
	set := Set{
		Profiles:  f.scan(f.profiles, route.Name, nil),
		Maps:      f.scan(f.maps, route.Name, nil),
		Inclines:  f.scan(f.inclines, route.Name, nil),
		CyccalURL: route.CyccalImage(),
	}
	seen := make(map[string]bool)
	for _, p := range append(append(append([]string{}, set.Profiles...), set.Maps...), set.Inclines...) {
		seen[p] = true
	}
	set.Others = f.scan(f.others, route.Name, seen)
	f.log.Debug("route images",
		zap.String("route", route.Name),
		zap.Int("profiles", len(set.Profiles)),
		zap.Int("maps", len(set.Maps)),
		zap.Int("inclines", len(set.Inclines)),
		zap.Int("others", len(set.Others)))
	return set
}

func (f *Finder) scan(dirs []string, routeName string, skip map[string]bool) []string {
	var out []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !isImageName(e.Name()) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if skip[path] {
				continue
			}
			if ok, how := Matches(routeName, e.Name()); ok {
				f.log.Debug("image matched", zap.String("file", path), zap.String("strategy", how))
				out = append(out, path)
			}
		}
	}
	return out
}

func isImageName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, x := range imageExt {
		if ext == x {
			return true
		}
	}
	return false
}

// Matches reports whether fileName belongs to routeName and which strategy
// decided it: direct substring, normalized substring, key words or fuzzy.
func Matches(routeName, fileName string) (bool, string) {
	clean := strings.ToLower(strings.TrimSpace(routeName))
	if clean == "" {
		return false, ""
	}
	file := strings.ToLower(fileName)
	file = strings.TrimSuffix(file, filepath.Ext(file))
	file = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(file))
	// "a.png" или ".png" иначе совпали бы с любым маршрутом
	if utf8.RuneCountInString(file) < minStem {
		return false, ""
	}

	if strings.Contains(file, clean) || strings.Contains(clean, file) {
		return true, "direct"
	}

	norm, fileNorm := match.Normalize(clean), match.Normalize(file)
	if fileNorm != "" && (strings.Contains(fileNorm, norm) || strings.Contains(norm, fileNorm)) {
		return true, "normalized"
	}

	var words []string
	for _, w := range strings.Fields(clean) {
		if len(w) > 2 {
			words = append(words, w)
		}
	}
	if len(words) > 0 {
		hits := 0
		for _, w := range words {
			if strings.Contains(file, w) {
				hits++
			}
		}
		if hits >= max(1, len(words)/2) {
			return true, "key words"
		}
	}

	if score := TokenSortRatio(clean, file); score >= FuzzyThreshold {
		return true, fmt.Sprintf("fuzzy (%.0f%%)", score*100)
	}
	return false, ""
}

// TokenSortRatio compares two strings after sorting their words.
func TokenSortRatio(a, b string) float64 {
	return match.Score(sortTokens(a), sortTokens(b))
}

func sortTokens(s string) string {
	f := strings.Fields(match.Normalize(s))
	sort.Strings(f)
	return strings.Join(f, " ")
}

// Load reads an image and names the attachment base plus the extension of
// the sniffed content type.
func Load(path, base string) (discord.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return discord.File{}, fmt.Errorf("read image: %w", err)
	}
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/png"), mt.Is("image/svg+xml"), mt.Is("image/webp"):
	default:
		return discord.File{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedImage, filepath.Base(path), mt.String())
	}
	return discord.File{
		Name:        base + mt.Extension(),
		ContentType: mt.String(),
		Data:        data,
	}, nil
}
