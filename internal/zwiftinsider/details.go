package zwiftinsider

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/EgorLis/zwiftroutebot/internal/catalog"
)

// RouteDetails is the full parse of a route page. Zero numbers mean unknown.
type RouteDetails struct {
	RouteName         string         `json:"route_name"`
	URL               string         `json:"url"`
	World             string         `json:"world"`
	LastUpdated       string         `json:"last_updated"`
	DistanceKm        float64        `json:"distance_km,omitempty"`
	DistanceMiles     float64        `json:"distance_miles,omitempty"`
	ElevationM        float64        `json:"elevation_m,omitempty"`
	ElevationFt       float64        `json:"elevation_ft,omitempty"`
	LeadInKm          float64        `json:"lead_in_km,omitempty"`
	TimeEstimates     map[string]int `json:"time_estimates,omitempty"`
	WkgTimes          map[string]int `json:"wkg_times,omitempty"`
	EstimatedTimeMin  int            `json:"estimated_time_min,omitempty"`
	Badges            []string       `json:"badges"`
	SprintKOMSegments string         `json:"sprint_kom_segments,omitempty"`
	Segments          string         `json:"segments,omitempty"`
}

// HasBadge reports whether the route carries the badge.
func (d RouteDetails) HasBadge(b string) bool {
	for _, x := range d.Badges {
		if strings.EqualFold(x, b) {
			return true
		}
	}
	return false
}

const (
	kmPerMile  = 1.60934
	milesPerKm = 0.621371
	ftPerM     = 3.28084
	mPerFt     = 0.3048

	minDistanceKm  = 0.1
	maxDistanceKm  = 150
	maxElevationM  = 3000
	baseSpeedKmh   = 30
	minSpeedFactor = 0.7
)

var (
	reKm       = regexp.MustCompile(`(?i)(?:distance|length):\s*(\d+\.?\d*)\s*km`)
	reMiles    = regexp.MustCompile(`(?i)(?:distance|length):[^(]*\(\s*(\d+\.?\d*)\s*(?:mi|miles)\)`)
	reMeters   = regexp.MustCompile(`(?i)(?:elevation|climbing):\s*(\d+\.?\d*)\s*(?:m|meters)\b`)
	reFeet     = regexp.MustCompile(`(?i)(?:elevation|climbing):[^(]*\(\s*(\d+\.?\d*)\s*(?:ft|feet|'|′)\)`)
	reLeadIn   = regexp.MustCompile(`(?i)(?:lead-in|lead in):\s*(\d+\.?\d*)\s*km`)
	reWkgTimes = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*W/kg:\s*(\d+)\s*minutes`)
)

// признаки того, что под заголовком оказалась навигация сайта
var navigationTerms = []string{
	"get started", "zwift account", "how to get started",
	"course maps", "calendar", "exhaustive", "tiny races",
}

// FetchRouteDetails loads the page of route and parses everything the cache keeps.
func (c *Client) FetchRouteDetails(ctx context.Context, route catalog.Route) (RouteDetails, error) {
	doc, err := c.document(ctx, route.URL)
	if err != nil {
		return RouteDetails{}, err
	}
	d := ParseRouteDetails(doc, route, time.Now())
	c.log.Debug("route details parsed",
		zap.String("route", route.Name),
		zap.Float64("distance_km", d.DistanceKm),
		zap.Float64("elevation_m", d.ElevationM),
		zap.Int("estimates", len(d.TimeEstimates)))
	return d, nil
}

// ParseRouteDetails extracts route details from a parsed page.
func ParseRouteDetails(doc *goquery.Document, route catalog.Route, now time.Time) RouteDetails {
	d := RouteDetails{
		RouteName:   route.Name,
		URL:         route.URL,
		World:       route.World,
		LastUpdated: now.Format("2006-01-02"),
		Badges:      []string{},
	}
	if d.World == "" {
		d.World = catalog.WorldFor(route.Name)
	}

	// первое совпадение в порядке документа: статистика маршрута в начале
	// статьи; длины сегментов ниже её не перетирают
	var km, miles, m, ft float64
	doc.Find("p, div, li").Each(func(_ int, s *goquery.Selection) {
		text := strings.ToLower(s.Text())

		if km == 0 && (strings.Contains(text, "distance:") || strings.Contains(text, "length:")) {
			km, _ = firstFloat(reKm, text)
			miles, _ = firstFloat(reMiles, text)
			if km != 0 && miles == 0 {
				miles = round1(km * milesPerKm)
			} else if miles != 0 && km == 0 {
				km = round1(miles * kmPerMile)
			}
		}
		if m == 0 && (strings.Contains(text, "elevation:") || strings.Contains(text, "climbing:")) {
			m, _ = firstFloat(reMeters, text)
			ft, _ = firstFloat(reFeet, text)
			if m != 0 && ft == 0 {
				ft = round1(m * ftPerM)
			} else if ft != 0 && m == 0 {
				m = round1(ft * mPerFt)
			}
		}
		if d.LeadInKm == 0 {
			d.LeadInKm, _ = firstFloat(reLeadIn, text)
		}
	})

	if km >= minDistanceKm && km <= maxDistanceKm {
		d.DistanceKm = km
	}
	d.DistanceMiles = miles
	switch {
	case m > 0 && m <= maxElevationM:
		d.ElevationM = m
	case m > maxElevationM && m*mPerFt <= maxElevationM:
		// похоже, на странице футы вместо метров
		d.ElevationM = round1(m * mPerFt)
	}
	d.ElevationFt = ft

	parseTimeEstimates(doc, &d)
	applyBadges(&d)
	d.SprintKOMSegments = findSegments(doc)
	d.Segments = d.SprintKOMSegments
	return d
}

func firstFloat(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	return v, err == nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// CategoryForWkg maps a W/kg value to a Zwift racing category.
func CategoryForWkg(wkg float64) string {
	switch {
	case wkg >= 4.0:
		return "A"
	case wkg >= 3.2:
		return "B"
	case wkg >= 2.5:
		return "C"
	case wkg >= 1.0:
		return "D"
	}
	return ""
}

func parseTimeEstimates(doc *goquery.Document, d *RouteDetails) {
	doc.Find("p, div").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		lower := strings.ToLower(text)
		if !strings.Contains(lower, "time estimates") && !strings.Contains(lower, "w/kg") {
			return
		}
		for _, m := range reWkgTimes.FindAllStringSubmatch(text, -1) {
			wkg, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			minutes, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			cat := CategoryForWkg(wkg)
			if cat == "" {
				continue
			}
			if d.TimeEstimates == nil {
				d.TimeEstimates = map[string]int{}
				d.WkgTimes = map[string]int{}
			}
			d.TimeEstimates[cat] = minutes
			d.WkgTimes[m[1]] = minutes
		}
	})
}

func applyBadges(d *RouteDetails) {
	if d.DistanceKm == 0 || d.ElevationM == 0 {
		return
	}
	perKm := d.ElevationM / d.DistanceKm
	switch {
	case perKm < 8:
		d.Badges = append(d.Badges, "Flat")
	case perKm < 15:
		d.Badges = append(d.Badges, "Mixed")
	default:
		d.Badges = append(d.Badges, "Hilly")
	}
	switch {
	case d.DistanceKm < 15:
		d.Badges = append(d.Badges, "Short")
	case d.DistanceKm < 30:
		d.Badges = append(d.Badges, "Medium")
	default:
		d.Badges = append(d.Badges, "Long")
	}
	if d.DistanceKm > 40 || d.ElevationM > 400 {
		d.Badges = append(d.Badges, "Epic")
	}

	if t, ok := d.TimeEstimates["B"]; ok {
		d.EstimatedTimeMin = t
		return
	}
	if t, ok := d.WkgTimes["3"]; ok {
		d.EstimatedTimeMin = t
		return
	}
	d.EstimatedTimeMin = EstimateMinutes(d.DistanceKm, d.ElevationM)
}

// EstimateMinutes is the speed model for a B rider: 30 km/h slowed down by
// climbing, never below 70% of that speed.
func EstimateMinutes(distanceKm, elevationM float64) int {
	if distanceKm <= 0 {
		return 0
	}
	factor := math.Max(minSpeedFactor, 1.0-((elevationM/distanceKm)*10/100)*0.1)
	hours := distanceKm / (baseSpeedKmh * factor)
	return int(math.Round(hours * 60))
}

func isSegmentHeading(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	kom := strings.Contains(t, "kom") || strings.Contains(t, "qom")
	sprint := strings.Contains(t, "sprint")
	return (sprint && kom) || (strings.Contains(t, "segment") && (sprint || kom))
}

func findSegments(doc *goquery.Document) string {
	article := doc.Find("article").First()
	if article.Length() == 0 {
		article = doc.Find("div.entry-content").First()
	}
	if article.Length() == 0 {
		return ""
	}

	var out string
	article.Find("h2, h3, h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !isSegmentHeading(h.Text()) {
			return true
		}
		next := contentAfter(h.Nodes[0])
		if next == "" || !looksLikeSegments(next) {
			return true
		}
		out = next
		return false
	})
	return out
}

// contentAfter возвращает первый непустой текст или p/ul/ol после заголовка
func contentAfter(n *html.Node) string {
	for cur := n.NextSibling; cur != nil; cur = cur.NextSibling {
		switch cur.Type {
		case html.TextNode:
			if t := strings.TrimSpace(cur.Data); t != "" {
				return t
			}
		case html.ElementNode:
			switch cur.Data {
			case "p", "ul", "ol":
				return strings.TrimSpace(nodeText(cur))
			}
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func looksLikeSegments(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range navigationTerms {
		if strings.Contains(lower, t) {
			return false
		}
	}
	for _, k := range []string{"km", "miles", "sprint", "kom", "%"} {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
