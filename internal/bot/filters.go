package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/zwiftinsider"
)

// Filters сужают выборку /random и /findroute. nil-граница открыта.
type Filters struct {
	MinKm, MaxKm     *float64
	MinElev, MaxElev *float64
	World            string
	RouteType        string
	Duration         string
}

func optFloat(d *discord.InteractionData, name string) *float64 {
	if v, ok := d.Float(name); ok {
		return &v
	}
	return nil
}

func filtersFrom(d *discord.InteractionData) (Filters, error) {
	f := Filters{
		MinKm:     optFloat(d, "min_km"),
		MaxKm:     optFloat(d, "max_km"),
		MinElev:   optFloat(d, "min_elev"),
		MaxElev:   optFloat(d, "max_elev"),
		World:     strings.TrimSpace(d.String("world")),
		RouteType: strings.ToLower(d.String("route_type")),
		Duration:  strings.ToLower(d.String("duration")),
	}
	if f.MinKm != nil && f.MaxKm != nil && *f.MinKm > *f.MaxKm {
		return f, userErr("Invalid Range", "`min_km` (%s) is greater than `max_km` (%s).", fnum(*f.MinKm), fnum(*f.MaxKm))
	}
	if f.MinElev != nil && f.MaxElev != nil && *f.MinElev > *f.MaxElev {
		return f, userErr("Invalid Range", "`min_elev` (%s) is greater than `max_elev` (%s).", fnum(*f.MinElev), fnum(*f.MaxElev))
	}
	switch f.RouteType {
	case "", "flat", "mixed", "hilly":
	default:
		return f, userErr("Invalid Parameter", "Unknown route type `%s`. Use flat, mixed or hilly.", f.RouteType)
	}
	switch f.Duration {
	case "", "short", "medium", "long":
	default:
		return f, userErr("Invalid Parameter", "Unknown duration `%s`. Use short, medium or long.", f.Duration)
	}
	return f, nil
}

func fnum(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// inWorld сравнивает мир без учёта регистра и по вхождению
func inWorld(d zwiftinsider.RouteDetails, world string) bool {
	return strings.Contains(strings.ToLower(d.World), strings.ToLower(world))
}

// Match — маршрут проходит все фильтры. Маршрут без известной дистанции
// или набора высоты не подходит никогда.
func (f Filters) Match(d zwiftinsider.RouteDetails) bool {
	if d.DistanceKm == 0 || d.ElevationM == 0 {
		return false
	}
	if f.MinKm != nil && d.DistanceKm < *f.MinKm {
		return false
	}
	if f.MaxKm != nil && d.DistanceKm > *f.MaxKm {
		return false
	}
	if f.MinElev != nil && d.ElevationM < *f.MinElev {
		return false
	}
	if f.MaxElev != nil && d.ElevationM > *f.MaxElev {
		return false
	}
	if f.World != "" && !inWorld(d, f.World) {
		return false
	}
	if f.RouteType != "" && !d.HasBadge(capitalize(f.RouteType)) {
		return false
	}
	if f.Duration != "" && !d.HasBadge(capitalize(f.Duration)) {
		return false
	}
	return true
}

func bound(v *float64) string {
	if v == nil {
		return "any"
	}
	return fnum(*v)
}

// Describe описывает фильтры для ответа; "" если ни один не задан.
func (f Filters) Describe() string {
	var parts []string
	if f.MinKm != nil || f.MaxKm != nil {
		parts = append(parts, fmt.Sprintf("Distance: %s-%s km", bound(f.MinKm), bound(f.MaxKm)))
	}
	if f.MinElev != nil || f.MaxElev != nil {
		parts = append(parts, fmt.Sprintf("Elevation: %s-%s m", bound(f.MinElev), bound(f.MaxElev)))
	}
	if f.World != "" {
		parts = append(parts, "World: "+f.World)
	}
	if f.RouteType != "" {
		parts = append(parts, "Type: "+f.RouteType)
	}
	if f.Duration != "" {
		parts = append(parts, "Duration: "+f.Duration)
	}
	return strings.Join(parts, ", ")
}
