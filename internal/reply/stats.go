package reply

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/EgorLis/zwiftroutebot/internal/catalog"
	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/images"
	"github.com/EgorLis/zwiftroutebot/internal/zwiftinsider"
)

// Categories are the rider categories of time estimates.
var Categories = []string{"A", "B", "C", "D"}

// StatsInput is everything the /routestats reply shows. Details is nil when
// neither the cache nor a live fetch had the route.
type StatsInput struct {
	Route        catalog.Route
	Details      *zwiftinsider.RouteDetails
	DetailsErr   error
	Category     string
	Images       images.Set
	InsiderImage string
}

// RouteStats is the ephemeral reply to /routestats.
func (b *Builder) RouteStats(in StatsInput) Message {
	e := discord.Embed{
		Title:     "📊 " + in.Route.Name,
		URL:       in.Route.URL,
		Color:     ColorInfo,
		Thumbnail: &discord.EmbedImage{URL: Thumbnail},
	}
	d := in.Details

	world := in.Route.World
	if d != nil && d.World != "" {
		world = d.World
	}
	if world == "" {
		world = catalog.WorldFor(in.Route.Name)
	}
	basic := []string{"🌎 **World:** " + world}
	if d != nil {
		if d.DistanceKm > 0 {
			basic = append(basic, fmt.Sprintf("📏 **Distance:** %s km (%s miles)", num(d.DistanceKm), num(d.DistanceMiles)))
		}
		if d.ElevationM > 0 {
			basic = append(basic, fmt.Sprintf("⛰️ **Elevation:** %s m (%s ft)", num(d.ElevationM), num(d.ElevationFt)))
		}
		if d.LeadInKm > 0 {
			basic = append(basic, fmt.Sprintf("🔄 **Lead-in:** %s km (%s miles)", num(d.LeadInKm), num(round1(d.LeadInKm*0.621371))))
		}
		if len(d.Badges) > 0 {
			basic = append(basic, "🏷️ **Type:** "+strings.Join(d.Badges, ", "))
		}
	}
	if in.DetailsErr != nil {
		basic = append(basic, "⚠️ Live details unavailable: "+truncate(in.DetailsErr.Error(), 200))
	}
	e.Fields = append(e.Fields, field("Route Details", strings.Join(basic, "\n"), false))

	if d != nil {
		if t := timeEstimates(*d, in.Category); t != "" {
			e.Fields = append(e.Fields, field("Time Estimates", t, true))
		}
		if d.SprintKOMSegments != "" {
			e.Fields = append(e.Fields, field("Sprint & KOM Segments", d.SprintKOMSegments, false))
		} else if d.Segments != "" {
			name := "Segments"
			if strings.HasPrefix(strings.ToLower(d.Segments), "strava") {
				name = "Strava Segments"
			}
			e.Fields = append(e.Fields, field(name, d.Segments, false))
		}
	}

	a := b.newAttacher()
	a.pick(&e, in.Images, in.InsiderImage, in.Route.Name)
	if in.Images.CyccalURL != "" && !hasField(&e, "Additional Resources") {
		e.Fields = append(e.Fields, cyccalField(in.Route.Name))
	}
	a.one(in.Images.Profiles, "route_profile", sourceProfile)
	a.one(in.Images.Maps, "route_map", sourceMap)
	a.one(in.Images.Inclines, "route_incline", sourceIncline)

	switch a.images {
	case 0:
		e.Description = "No images found for this route."
	case 1:
		e.Description = "**1 image found for this route.**"
	default:
		e.Description = fmt.Sprintf("**%d images found for this route.**", a.images)
	}

	imgs := ""
	if len(a.sources) > 0 {
		imgs = "Images from: " + strings.Join(a.sources, ", ")
	}
	e.Footer = footer(Brand, imgs, "Use /routestats for detailed route information")

	return Message{Embeds: []discord.Embed{e}, Files: a.files, Ephemeral: true, ShareKind: ShareRouteStats}
}

// RouteStatsNotFound is the /routestats reply for an unknown route.
func RouteStatsNotFound(query string) Message {
	return UserError("Route Not Found",
		fmt.Sprintf("Could not find a route matching `%s`.\n\nTry using a more specific name or check the spelling.", query))
}

func timeEstimates(d zwiftinsider.RouteDetails, category string) string {
	var lines []string
	if t, ok := d.TimeEstimates[category]; ok {
		lines = append(lines, fmt.Sprintf("**Selected Category (%s):** %s", category, FormatMinutes(t)))
	}
	for _, c := range Categories {
		if t, ok := d.TimeEstimates[c]; ok && c != category {
			lines = append(lines, fmt.Sprintf("**Category %s:** %s", c, FormatMinutes(t)))
		}
	}
	if len(d.WkgTimes) > 0 {
		keys := make([]string, 0, len(d.WkgTimes))
		for k := range d.WkgTimes {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, _ := strconv.ParseFloat(keys[i], 64)
			b, _ := strconv.ParseFloat(keys[j], 64)
			return a < b
		})
		lines = append(lines, "\n**By Power-to-Weight:**")
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s W/kg: %s", k, FormatMinutes(d.WkgTimes[k])))
		}
	}
	return strings.Join(lines, "\n")
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
