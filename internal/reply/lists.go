package reply

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/EgorLis/zwiftroutebot/internal/catalog"
	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/images"
	"github.com/EgorLis/zwiftroutebot/internal/zwiftinsider"
)

// FindRouteLimit is how many matches /findroute shows.
const FindRouteLimit = 5

// worldChunk is the size of one /worldroutes field, kept under MaxFieldValue.
const worldChunk = 1000

// worldReserve оставляет запас под поле "More" и подпись "Shared by".
const worldReserve = 300

func details(d zwiftinsider.RouteDetails) string {
	world := d.World
	if world == "" {
		world = "Unknown"
	}
	return fmt.Sprintf("🌎 %s\n📏 %s km (%s mi)\n⛰️ %s m (%s ft)\n⏱️ Est. time: %s",
		world, num(d.DistanceKm), num(d.DistanceMiles), num(d.ElevationM), num(d.ElevationFt),
		FormatMinutes(d.EstimatedTimeMin))
}

// RandomInput is everything the /random reply shows.
type RandomInput struct {
	Details      zwiftinsider.RouteDetails
	Route        catalog.Route
	Images       images.Set
	InsiderImage string
	Filters      string
}

// Random is the ephemeral reply to /random.
func (b *Builder) Random(in RandomInput) Message {
	d := in.Details
	e := discord.Embed{
		Title:       "🎲 Random Route: " + d.RouteName,
		URL:         d.URL,
		Description: "Your randomly selected route:",
		Color:       ColorRandom,
		Fields:      []discord.EmbedField{field("Details", details(d), false)},
		Thumbnail:   &discord.EmbedImage{URL: Thumbnail},
	}
	if len(d.Badges) > 0 {
		e.Fields = append(e.Fields, field("Type", strings.Join(d.Badges, ", "), false))
	}

	a := b.newAttacher()
	a.pick(&e, in.Images, in.InsiderImage, d.RouteName)
	a.one(in.Images.Maps, "route_map", sourceMap)
	a.one(in.Images.Profiles, "route_profile", sourceProfile)
	if in.Images.CyccalURL != "" && !hasField(&e, "Additional Resources") {
		e.Fields = append(e.Fields, cyccalField(d.RouteName))
	}

	var filters, imgs string
	if in.Filters != "" {
		filters = "Filters: " + in.Filters
	}
	if len(a.sources) > 0 {
		imgs = "Images: " + strings.Join(a.sources, ", ")
	}
	e.Footer = footer(Brand, "Use /random for a surprise route", filters, imgs)

	return Message{Embeds: []discord.Embed{e}, Files: a.files, Ephemeral: true, ShareKind: ShareRandom}
}

// NoMatchingRoutes is the reply when filters leave nothing. Suggestions are
// shown for the requested world when there are any.
func (b *Builder) NoMatchingRoutes(description, world string, inWorld []zwiftinsider.RouteDetails) Message {
	if len(inWorld) > 0 {
		var s []string
		for _, i := range b.sample(len(inWorld), 3) {
			r := inWorld[i]
			s = append(s, fmt.Sprintf("• %s (%s km, %s m)", r.RouteName, num(r.DistanceKm), num(r.ElevationM)))
		}
		description += fmt.Sprintf("\n\n**Some routes in %s:**\n%s", world, strings.Join(s, "\n"))
	}
	return UserError("No Matching Routes", description)
}

// FindRoute lists the first matches, already sorted by the caller.
func FindRoute(matches []zwiftinsider.RouteDetails, filters string) Message {
	if filters == "" {
		filters = "No filters applied"
	}
	e := discord.Embed{
		Title:       fmt.Sprintf("🔍 Found %d Routes", len(matches)),
		Description: fmt.Sprintf("Filters: %s\n\nHere are the top matches:", filters),
		Color:       ColorInfo,
	}
	shown := min(FindRouteLimit, len(matches))
	for i, r := range matches[:shown] {
		badges := "Unknown"
		if len(r.Badges) > 0 {
			badges = strings.Join(r.Badges, ", ")
		}
		e.Fields = append(e.Fields, field(
			fmt.Sprintf("%d. %s", i+1, r.RouteName),
			fmt.Sprintf("%s\n🏷️ %s\n[View details](%s)", details(r), badges, r.URL),
			false))
	}
	if len(matches) > shown {
		e.Footer = footer(fmt.Sprintf("Showing top %d of %d matches", shown, len(matches)), "Use more specific filters to narrow results")
	} else {
		e.Footer = footer(Brand, "Use /findroute to search for routes")
	}
	return Message{Embeds: []discord.Embed{e}, Ephemeral: true, ShareKind: ShareFindRoute}
}

// SortText describes a /worldroutes order.
func SortText(sortBy string) string {
	switch sortBy {
	case "elevation":
		return "by elevation (flattest to hilliest)"
	case "name":
		return "alphabetically"
	}
	return "by distance (shortest to longest)"
}

// WorldRoutes lists the routes of one world, already sorted by the caller.
func WorldRoutes(world string, routes []zwiftinsider.RouteDetails, sortBy string) Message {
	e := discord.Embed{
		Title:       "🌍 Routes in " + world,
		Description: fmt.Sprintf("Found %d routes in %s, sorted %s:", len(routes), world, SortText(sortBy)),
		Color:       ColorInfo,
		Footer:      footer(Brand, "Use /worldroutes with sort_by parameter to change sorting"),
	}

	type chunk struct {
		text   string
		routes int
	}
	var chunks []chunk
	var cur strings.Builder
	n := 0
	for _, r := range routes {
		entry := fmt.Sprintf("**%s**\n📏 %s km • ⛰️ %s m • ", r.RouteName, num(r.DistanceKm), num(r.ElevationM))
		if len(r.Badges) > 0 {
			entry += "🏷️ " + strings.Join(r.Badges, ", ")
		}
		entry += "\n"
		if cur.Len() > 0 && cur.Len()+len(entry) > worldChunk {
			chunks = append(chunks, chunk{cur.String(), n})
			cur.Reset()
			n = 0
		}
		cur.WriteString(entry)
		n++
	}
	if cur.Len() > 0 {
		chunks = append(chunks, chunk{cur.String(), n})
	}

	// место под поле с остатком и под подпись при пересылке в канал
	budget := MaxEmbedTotal - worldReserve
	total := embedLength(e)
	left := len(routes)
	for i, c := range chunks {
		name := "Routes"
		if len(chunks) > 1 {
			name = fmt.Sprintf("Routes %d/%d", i+1, len(chunks))
		}
		f := field(name, c.text, false)
		size := utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
		if len(e.Fields) >= MaxFields-1 || total+size > budget {
			break
		}
		e.Fields = append(e.Fields, f)
		total += size
		left -= c.routes
	}
	if left > 0 {
		e.Fields = append(e.Fields, field("More",
			fmt.Sprintf("…and %d more routes. Use /findroute with world and filters to narrow the list.", left), false))
	}
	return Message{Embeds: []discord.Embed{e}, Ephemeral: true, ShareKind: ShareWorldRoutes}
}

// WorldNotFound lists the known worlds.
func WorldNotFound(world string, known []string) Message {
	return UserError("World Not Found",
		fmt.Sprintf("Could not find routes for world '%s'.\n\nTry one of these: %s", world, strings.Join(known, ", ")))
}
