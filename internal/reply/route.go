package reply

import (
	"fmt"
	"strings"

	"github.com/EgorLis/zwiftroutebot/internal/catalog"
	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/images"
	"github.com/EgorLis/zwiftroutebot/internal/zwiftinsider"
)

// RouteInput is everything the route reply shows.
type RouteInput struct {
	Route        catalog.Route
	Alternatives []catalog.Route
	Info         zwiftinsider.RouteInfo
	InfoErr      error
	Images       images.Set
}

// Route is the public reply to /route.
func (b *Builder) Route(in RouteInput) Message {
	desc := strings.Join(in.Info.Stats, "\n")
	if desc == "" {
		desc = "View full route details on ZwiftInsider"
	}
	if in.InfoErr != nil {
		desc += "\n\n⚠️ Live details unavailable: " + truncate(in.InfoErr.Error(), 200)
	}
	if len(in.Alternatives) > 0 {
		var alt []string
		for _, r := range in.Alternatives {
			alt = append(alt, "• "+r.Name)
		}
		desc += "\n\n**Similar routes:**\n" + strings.Join(alt, "\n")
	}

	e := discord.Embed{
		Title:       "🚲 " + in.Route.Name,
		URL:         in.Route.URL,
		Description: truncate(desc, MaxDescription),
		Color:       ColorRoute,
		Thumbnail:   &discord.EmbedImage{URL: Thumbnail},
	}

	a := b.newAttacher()
	if !a.primary(&e, in.Images.Profiles, sourceProfile) {
		a.url(&e, in.Info.ImageURL, sourceInsider)
	}
	a.all(in.Images.Profiles, "profile", sourceProfile)
	a.all(in.Images.Inclines, "incline", sourceIncline)
	a.all(in.Images.Maps, "map", sourceMap)
	e.Fields = append(e.Fields, cyccalField(in.Route.Name))

	imgs := ""
	if len(a.sources) > 0 {
		imgs = "Images from: " + strings.Join(a.sources, ", ")
	}
	e.Footer = footer(Brand, imgs, "Use /route to find routes")

	m := single(e)
	m.Files = a.files
	return m
}

// RouteNotFound suggests three random catalog routes.
func (b *Builder) RouteNotFound(query string, routes []catalog.Route) Message {
	var s []string
	for _, i := range b.sample(len(routes), 3) {
		s = append(s, "• "+routes[i].Name)
	}
	return single(discord.Embed{
		Title:       "❌ Route Not Found",
		Description: truncate(fmt.Sprintf("Could not find a route matching `%s`.\n\n**Try these routes:**\n%s", query, strings.Join(s, "\n")), MaxDescription),
		Color:       ColorError,
	})
}

func sprintLine(s catalog.Sprint) string {
	return fmt.Sprintf("• %s (%sm, %s%%)", s.Name, num(s.LengthM), num(s.Grade))
}

// Sprint is the reply to /sprint.
func Sprint(s catalog.Sprint, alternatives []catalog.Sprint) Message {
	e := discord.Embed{
		Title:       "⚡ " + s.Name,
		URL:         s.URL,
		Description: "Location: " + s.Location,
		Color:       ColorSprint,
		Fields: []discord.EmbedField{
			field("Distance", num(s.LengthM)+"m", true),
			field("Grade", num(s.Grade)+"%", true),
		},
		Thumbnail: &discord.EmbedImage{URL: Thumbnail},
		Footer:    footer(Brand, "Use /sprint to find segments"),
	}
	if len(alternatives) > 0 {
		var alt []string
		for _, a := range alternatives {
			alt = append(alt, sprintLine(a))
		}
		e.Fields = append(e.Fields, field("Similar segments", strings.Join(alt, "\n"), false))
	}
	return single(e)
}

// SprintNotFound suggests three random sprint segments.
func (b *Builder) SprintNotFound(query string, all []catalog.Sprint) Message {
	var s []string
	for _, i := range b.sample(len(all), 3) {
		s = append(s, sprintLine(all[i]))
	}
	return single(discord.Embed{
		Title:       "❌ Sprint Not Found",
		Description: truncate(fmt.Sprintf("Could not find a sprint segment matching `%s`.\n\n**Try these segments:**\n%s",
			truncate(query, MaxQueryEcho), strings.Join(s, "\n")), MaxDescription),
		Color:       ColorError,
	})
}

func komLine(k catalog.KOM) string {
	return fmt.Sprintf("• %s (%skm, %s%%)", k.Name, num(k.LengthKm), num(k.Grade))
}

// KOM is the reply to /kom.
func KOM(k catalog.KOM, alternatives []catalog.KOM) Message {
	e := discord.Embed{
		Title:       "🏔️ " + k.Name,
		URL:         k.URL,
		Description: "Location: " + k.Location,
		Color:       ColorKOM,
		Fields: []discord.EmbedField{
			field("Distance", fmt.Sprintf("%skm (%s miles)", num(k.LengthKm), num(k.LengthMiles)), true),
			field("Elevation", fmt.Sprintf("%sm (%s ft)", num(k.ElevGainM), num(k.ElevGainFt)), true),
			field("Grade", num(k.Grade)+"%", true),
		},
		Thumbnail: &discord.EmbedImage{URL: Thumbnail},
		Footer:    footer(Brand, "Use /kom to find KOM segments"),
	}
	if len(alternatives) > 0 {
		var alt []string
		for _, a := range alternatives {
			alt = append(alt, komLine(a))
		}
		e.Fields = append(e.Fields, field("Similar segments", strings.Join(alt, "\n"), false))
	}
	return single(e)
}

// KOMNotFound suggests three random KOM segments.
func (b *Builder) KOMNotFound(query string, all []catalog.KOM) Message {
	var s []string
	for _, i := range b.sample(len(all), 3) {
		s = append(s, komLine(all[i]))
	}
	return single(discord.Embed{
		Title:       "❌ KOM Not Found",
		Description: truncate(fmt.Sprintf("Could not find a KOM segment matching `%s`.\n\n**Try these segments:**\n%s",
			truncate(query, MaxQueryEcho), strings.Join(s, "\n")), MaxDescription),
		Color:       ColorError,
	})
}
