package reply

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/routecache"
	"github.com/EgorLis/zwiftroutebot/internal/zwiftinsider"
)

const timeLayout = "2006-01-02 15:04:05"

// CacheInfoInput is what /cacheinfo reports.
type CacheInfoInput struct {
	Info    routecache.Info
	Details map[string]zwiftinsider.RouteDetails
	Dir     string
	DirList []string // nil, если каталога нет

	Session     string // пусто без gateway
	RateWindow  int
	RateUsers   int
	CachedPages int
}

// missingFields возвращает поля, без которых запись считается неполной
func missingFields(d zwiftinsider.RouteDetails) []string {
	var m []string
	if d.RouteName == "" {
		m = append(m, "route_name")
	}
	if d.URL == "" {
		m = append(m, "url")
	}
	if d.World == "" {
		m = append(m, "world")
	}
	if d.DistanceKm == 0 {
		m = append(m, "distance_km")
	}
	if d.ElevationM == 0 {
		m = append(m, "elevation_m")
	}
	return m
}

func percent(n, total int) string {
	if total == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", float64(n)/float64(total)*100)
}

// CacheInfo is the admin report of the route details cache.
func CacheInfo(in CacheInfoInput) Message {
	info := in.Info
	e := discord.Embed{
		Title:       "🔍 Route Cache Information",
		Description: "Status of the route cache system",
		Color:       ColorInfo,
		Footer:      footer(Brand, "Cache System", "Admin View"),
	}

	file := "Status: Not Found\nSize: 0 KB\nLast Updated: Never"
	if info.Exists {
		file = fmt.Sprintf("Status: Found\nSize: %.1f KB\nLast Updated: %s\nAge: %s",
			float64(info.SizeBytes)/1024, info.ModTime.Format(timeLayout), info.Age.Round(time.Minute))
		if info.Stale {
			file += " (stale)"
		}
	}
	e.Fields = append(e.Fields, field("Cache File", file, true))

	var complete, withTimes int
	missing := map[string]int{}
	categories := map[string]int{}
	for _, d := range in.Details {
		m := missingFields(d)
		if len(m) == 0 {
			complete++
		}
		for _, f := range m {
			missing[f]++
		}
		if len(d.TimeEstimates) > 0 {
			withTimes++
		}
		for c := range d.TimeEstimates {
			categories[c]++
		}
	}
	total := len(in.Details)
	e.Fields = append(e.Fields, field("Memory Cache", fmt.Sprintf("Routes: %d of %d\nComplete: %d\nIncomplete: %d",
		total, info.Routes, complete, total-complete), true))

	refresh := "Refreshing: no"
	if info.Refreshing {
		refresh = "Refreshing: yes"
	}
	if !info.LastRefresh.IsZero() {
		refresh += fmt.Sprintf("\nLast refresh: %s\nFailed routes: %d", info.LastRefresh.Format(timeLayout), info.LastErrors)
	}
	refresh += fmt.Sprintf("\nMax age: %d days", int(info.MaxAge.Hours()/24))
	e.Fields = append(e.Fields, field("Refresh", refresh, true))

	type kv struct {
		k string
		v int
	}
	var ms []kv
	for k, v := range missing {
		ms = append(ms, kv{k, v})
	}
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].v != ms[j].v {
			return ms[i].v > ms[j].v
		}
		return ms[i].k < ms[j].k
	})
	missingText := "None"
	if len(ms) > 0 {
		var lines []string
		for _, m := range ms {
			lines = append(lines, fmt.Sprintf("%s: %d", m.k, m.v))
		}
		missingText = strings.Join(lines, "\n")
	}
	e.Fields = append(e.Fields, field("Data Quality",
		fmt.Sprintf("Coverage: %s\nMissing Fields:\n%s", percent(complete, total), missingText), false))

	dir := fmt.Sprintf("Path: %s\nStatus: Not Found", in.Dir)
	if in.DirList != nil {
		contents := "Empty"
		if len(in.DirList) > 0 {
			contents = strings.Join(in.DirList[:min(5, len(in.DirList))], ", ")
			if len(in.DirList) > 5 {
				contents += fmt.Sprintf("... (+%d more)", len(in.DirList)-5)
			}
		}
		dir = fmt.Sprintf("Path: %s\nStatus: Found\nContents: %s", in.Dir, contents)
	}
	e.Fields = append(e.Fields, field("Cache Directory", dir, false))

	session := in.Session
	if session == "" {
		session = "none"
	}
	e.Fields = append(e.Fields, field("Runtime", fmt.Sprintf(
		"Gateway session: %s\nRate window: %d commands\nUsers on cooldown: %d\nCached pages: %d",
		session, in.RateWindow, in.RateUsers, in.CachedPages), false))

	var cats []string
	for _, c := range Categories {
		if n := categories[c]; n > 0 {
			cats = append(cats, fmt.Sprintf("%s: %d routes", c, n))
		}
	}
	catText := "None"
	if len(cats) > 0 {
		catText = strings.Join(cats, "\n")
	}
	e.Fields = append(e.Fields, field("Time Estimates", fmt.Sprintf("Routes with times: %d\nCoverage: %s\nAvailable Categories:\n%s",
		withTimes, percent(withTimes, total), catText), false))

	return ephemeral(e)
}

// RefreshStarted is shown while /refreshcache runs.
func RefreshStarted() Message {
	return ephemeral(discord.Embed{
		Title:       "🔄 Cache Refresh Started",
		Description: "Starting a complete refresh of the route cache...",
		Color:       ColorInfo,
	})
}

// RefreshProgress reports the number of fetched routes.
func RefreshProgress(done, total int) Message {
	return ephemeral(discord.Embed{
		Title:       "🔄 Cache Refresh Running",
		Description: fmt.Sprintf("Fetched %d of %d routes...", done, total),
		Color:       ColorInfo,
	})
}

// RefreshDone summarises a finished refresh.
func RefreshDone(elapsed time.Duration, details map[string]zwiftinsider.RouteDetails) Message {
	withTimes := 0
	for _, d := range details {
		if len(d.TimeEstimates) > 0 {
			withTimes++
		}
	}
	return ephemeral(discord.Embed{
		Title: "✅ Cache Refresh Complete",
		Description: fmt.Sprintf("Successfully refreshed the route cache in %.1f seconds.\n\n**Stats:**\n• Routes: %d\n• Routes with time estimates: %d (%s)",
			elapsed.Seconds(), len(details), withTimes, percent(withTimes, max(1, len(details)))),
		Color: ColorSuccess,
	})
}

// RefreshFailed reports a failed refresh.
func RefreshFailed(err error) Message {
	return ephemeral(discord.Embed{
		Title:       "❌ Cache Refresh Failed",
		Description: truncate("An error occurred while refreshing the cache: "+err.Error(), MaxDescription),
		Color:       ColorError,
	})
}
