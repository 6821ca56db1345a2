package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/catalog"
	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/images"
	"github.com/EgorLis/zwiftroutebot/internal/match"
	"github.com/EgorLis/zwiftroutebot/internal/reply"
	"github.com/EgorLis/zwiftroutebot/internal/routecache"
	"github.com/EgorLis/zwiftroutebot/internal/zwiftinsider"
)

// progressEvery ограничивает частоту правок сообщения во время /refreshcache
const progressEvery = 2 * time.Second

func routeName(r catalog.Route) string   { return r.Name }
func sprintName(s catalog.Sprint) string { return s.Name }
func komName(k catalog.KOM) string       { return k.Name }

func ptr(v float64) *float64 { return &v }

func choices(values ...string) []discord.Choice {
	out := make([]discord.Choice, len(values))
	for i, v := range values {
		out[i] = discord.Choice{Name: capitalize(v), Value: v}
	}
	return out
}

func nameOpt(desc string) discord.CommandOption {
	return discord.CommandOption{Type: discord.OptionString, Name: "name", Description: desc, Required: true, Autocomplete: true, MaxLength: reply.MaxQueryEcho}
}

func worldOpt(required bool) discord.CommandOption {
	return discord.CommandOption{Type: discord.OptionString, Name: "world", Description: "Zwift world (e.g. Watopia, London, France)", Required: required, Autocomplete: true, MaxLength: reply.MaxQueryEcho}
}

func numberOpt(name, desc string, lo, hi float64) discord.CommandOption {
	return discord.CommandOption{Type: discord.OptionNumber, Name: name, Description: desc, MinValue: ptr(lo), MaxValue: ptr(hi)}
}

var (
	routeTypeOpt = discord.CommandOption{Type: discord.OptionString, Name: "route_type", Description: "Type of route", Choices: choices("flat", "mixed", "hilly")}
	durationOpt  = discord.CommandOption{Type: discord.OptionString, Name: "duration", Description: "Route duration", Choices: choices("short", "medium", "long")}
)

// commands описывает все slash-команды бота
func (bot *ZwiftBot) commands() *Registry {
	r := NewRegistry()
	r.Register(Command{
		Spec: discord.ApplicationCommand{Name: "route", Description: "Get information about a Zwift route",
			Options: []discord.CommandOption{nameOpt("Route name")}},
		Animate: true,
		Handler: bot.cmdRoute,
	})
	r.Register(Command{
		Spec: discord.ApplicationCommand{Name: "sprint", Description: "Get information about a Zwift sprint segment",
			Options: []discord.CommandOption{nameOpt("Sprint segment name")}},
		Handler: bot.cmdSprint,
	})
	r.Register(Command{
		Spec: discord.ApplicationCommand{Name: "kom", Description: "Get information about a Zwift KOM segment",
			Options: []discord.CommandOption{nameOpt("KOM segment name")}},
		Handler: bot.cmdKOM,
	})
	r.Register(Command{
		Spec: discord.ApplicationCommand{Name: "random", Description: "Get a random Zwift route",
			Options: []discord.CommandOption{worldOpt(false), routeTypeOpt, durationOpt}},
		Ephemeral: true,
		Animate:   true,
		Handler:   bot.cmdRandom,
	})
	r.Register(Command{
		Spec: discord.ApplicationCommand{Name: "findroute", Description: "Find Zwift routes by distance, elevation and type",
			Options: []discord.CommandOption{
				numberOpt("min_km", "Minimum distance in km", 0, 100),
				numberOpt("max_km", "Maximum distance in km", 0, 100),
				numberOpt("min_elev", "Minimum elevation in meters", 0, 2000),
				numberOpt("max_elev", "Maximum elevation in meters", 0, 2000),
				worldOpt(false), routeTypeOpt, durationOpt,
			}},
		Ephemeral: true,
		Animate:   true,
		Handler:   bot.cmdFindRoute,
	})
	r.Register(Command{
		Spec: discord.ApplicationCommand{Name: "routestats", Description: "Detailed statistics and images of a Zwift route",
			Options: []discord.CommandOption{
				nameOpt("Route name"),
				{Type: discord.OptionString, Name: "category", Description: "Rider category for time estimates (default B)",
					Choices: []discord.Choice{{Name: "A", Value: "A"}, {Name: "B", Value: "B"}, {Name: "C", Value: "C"}, {Name: "D", Value: "D"}}},
			}},
		Ephemeral: true,
		Animate:   true,
		Handler:   bot.cmdRouteStats,
	})
	r.Register(Command{
		Spec: discord.ApplicationCommand{Name: "worldroutes", Description: "List all routes of a Zwift world",
			Options: []discord.CommandOption{
				worldOpt(true),
				{Type: discord.OptionString, Name: "sort_by", Description: "Sort order (default distance)", Choices: choices("distance", "elevation", "name")},
			}},
		Ephemeral: true,
		Animate:   true,
		Handler:   bot.cmdWorldRoutes,
	})
	r.Register(Command{
		Spec:      discord.ApplicationCommand{Name: "cacheinfo", Description: "Show route cache statistics (admin)"},
		Ephemeral: true,
		AdminOnly: true,
		Handler:   bot.cmdCacheInfo,
	})
	r.Register(Command{
		Spec:      discord.ApplicationCommand{Name: "refreshcache", Description: "Re-scrape all route details (admin)"},
		Ephemeral: true,
		AdminOnly: true,
		Handler:   bot.cmdRefreshCache,
	})
	return r
}

func requiredName(req *Request) (string, error) {
	q := strings.TrimSpace(req.Data.String("name"))
	if q == "" {
		return "", userErr("Invalid Parameter", "Please provide a name to search for.")
	}
	return q, nil
}

func (bot *ZwiftBot) findImages(r catalog.Route) images.Set {
	if bot.images == nil {
		return images.Set{}
	}
	set := bot.images.Find(r)
	bot.log.Debug("route images", zap.String("route", r.Name), zap.Int("files", set.Count()))
	return set
}

// routeInfo берёт страницу маршрута из короткого кэша или с сайта
func (bot *ZwiftBot) routeInfo(ctx context.Context, r catalog.Route) (zwiftinsider.RouteInfo, error) {
	if bot.scraper == nil || r.URL == "" {
		return zwiftinsider.RouteInfo{}, nil
	}
	if info, ok := bot.recent.Get(r.Name); ok {
		return info, nil
	}
	info, err := bot.scraper.FetchRouteInfo(ctx, r.URL)
	if err != nil {
		return zwiftinsider.RouteInfo{}, err
	}
	bot.recent.Put(r.Name, info)
	return info, nil
}

// insiderImage нужен только когда локальных картинок нет
func (bot *ZwiftBot) insiderImage(ctx context.Context, r catalog.Route, set images.Set) string {
	if !reply.NeedsInsiderImage(set) {
		return ""
	}
	info, err := bot.routeInfo(ctx, r)
	if err != nil {
		bot.log.Debug("route image fetch failed", zap.String("route", r.Name), zap.Error(err))
	}
	return info.ImageURL
}

func (bot *ZwiftBot) cmdRoute(ctx context.Context, req *Request) (reply.Message, error) {
	q, err := requiredName(req)
	if err != nil {
		return reply.Message{}, err
	}
	r, alts, ok := match.Find(bot.cat.Routes(), routeName, q)
	if !ok {
		return bot.replies.RouteNotFound(q, bot.cat.Routes()), nil
	}
	info, infoErr := bot.routeInfo(ctx, r)
	if infoErr != nil {
		bot.log.Warn("route page fetch failed", zap.String("route", r.Name), zap.Error(infoErr))
	}
	return bot.replies.Route(reply.RouteInput{
		Route:        r,
		Alternatives: alts,
		Info:         info,
		InfoErr:      infoErr,
		Images:       bot.findImages(r),
	}), nil
}

func (bot *ZwiftBot) cmdSprint(_ context.Context, req *Request) (reply.Message, error) {
	q, err := requiredName(req)
	if err != nil {
		return reply.Message{}, err
	}
	s, alts, ok := match.Find(bot.cat.Sprints(), sprintName, q)
	if !ok {
		return bot.replies.SprintNotFound(q, bot.cat.Sprints()), nil
	}
	return reply.Sprint(s, alts), nil
}

func (bot *ZwiftBot) cmdKOM(_ context.Context, req *Request) (reply.Message, error) {
	q, err := requiredName(req)
	if err != nil {
		return reply.Message{}, err
	}
	k, alts, ok := match.Find(bot.cat.KOMs(), komName, q)
	if !ok {
		return bot.replies.KOMNotFound(q, bot.cat.KOMs()), nil
	}
	return reply.KOM(k, alts), nil
}

// cachedDetails возвращает маршруты с данными в порядке каталога. Пока
// кэш пуст, запускает обновление в фоне и просит подождать.
func (bot *ZwiftBot) cachedDetails() ([]catalog.Route, []zwiftinsider.RouteDetails, error) {
	if bot.details == nil {
		return nil, nil, userErr("Route Data Unavailable", "Route details are not available on this bot.")
	}
	if bot.details.Len() == 0 {
		if !bot.details.Refreshing() {
			go func() {
				if _, err := bot.details.Refresh(context.Background(), nil); err != nil && !errors.Is(err, routecache.ErrRefreshInProgress) {
					bot.log.Warn("background route cache refresh failed", zap.Error(err))
				}
			}()
		}
		return nil, nil, userErr("Route Data Loading", "Route details are still loading. Please try again in a few minutes.")
	}
	var (
		routes []catalog.Route
		out    []zwiftinsider.RouteDetails
	)
	for _, r := range bot.cat.Routes() {
		if d, ok := bot.details.Get(r.Name); ok {
			routes = append(routes, r)
			out = append(out, d)
		}
	}
	return routes, out, nil
}

// worldSample: маршруты мира с известной дистанцией для подсказки
func worldSample(all []zwiftinsider.RouteDetails, world string) []zwiftinsider.RouteDetails {
	if world == "" {
		return nil
	}
	var out []zwiftinsider.RouteDetails
	for _, d := range all {
		if inWorld(d, world) && d.DistanceKm > 0 {
			out = append(out, d)
		}
	}
	return out
}

func (bot *ZwiftBot) cmdRandom(ctx context.Context, req *Request) (reply.Message, error) {
	f, err := filtersFrom(req.Data)
	if err != nil {
		return reply.Message{}, err
	}
	routes, all, err := bot.cachedDetails()
	if err != nil {
		return reply.Message{}, err
	}

	var idx []int
	for i, d := range all {
		if f.Match(d) {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		desc := "No routes found matching your criteria."
		if s := f.Describe(); s != "" {
			desc = "No routes found matching: " + s
		}
		return bot.replies.NoMatchingRoutes(desc, f.World, worldSample(all, f.World)), nil
	}

	i := idx[rand.IntN(len(idx))]
	r := routes[i]
	set := bot.findImages(r)
	return bot.replies.Random(reply.RandomInput{
		Details:      all[i],
		Route:        r,
		Images:       set,
		InsiderImage: bot.insiderImage(ctx, r, set),
		Filters:      f.Describe(),
	}), nil
}

func (bot *ZwiftBot) cmdFindRoute(_ context.Context, req *Request) (reply.Message, error) {
	f, err := filtersFrom(req.Data)
	if err != nil {
		return reply.Message{}, err
	}
	_, all, err := bot.cachedDetails()
	if err != nil {
		return reply.Message{}, err
	}

	var found []zwiftinsider.RouteDetails
	for _, d := range all {
		if f.Match(d) {
			found = append(found, d)
		}
	}
	if len(found) == 0 {
		desc := "No routes match your search criteria."
		if s := f.Describe(); s != "" {
			desc += "\n\nFilters: " + s
		}
		return bot.replies.NoMatchingRoutes(desc, f.World, worldSample(all, f.World)), nil
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].DistanceKm < found[j].DistanceKm })
	return reply.FindRoute(found, f.Describe()), nil
}

func (bot *ZwiftBot) cmdRouteStats(ctx context.Context, req *Request) (reply.Message, error) {
	q, err := requiredName(req)
	if err != nil {
		return reply.Message{}, err
	}
	category := strings.ToUpper(strings.TrimSpace(req.Data.String("category")))
	switch category {
	case "":
		category = "B"
	case "A", "B", "C", "D":
	default:
		return reply.Message{}, userErr("Invalid Parameter", "Unknown category `%s`. Use A, B, C or D.", category)
	}

	// из автодополнения приходит точное имя
	r, ok := bot.cat.Route(q)
	if !ok {
		r, _, ok = match.Find(bot.cat.Routes(), routeName, q)
	}
	if !ok {
		return reply.RouteStatsNotFound(q), nil
	}

	in := reply.StatsInput{Route: r, Category: category, Images: bot.findImages(r)}
	if bot.details != nil {
		if d, ok := bot.details.Get(r.Name); ok {
			in.Details = &d
		}
	}
	if in.Details == nil && bot.scraper != nil {
		d, err := bot.scraper.FetchRouteDetails(ctx, r)
		if err != nil {
			bot.log.Warn("route details fetch failed", zap.String("route", r.Name), zap.Error(err))
			in.DetailsErr = err
		} else {
			in.Details = &d
		}
	}
	in.InsiderImage = bot.insiderImage(ctx, r, in.Images)
	return bot.replies.RouteStats(in), nil
}

func (bot *ZwiftBot) cmdWorldRoutes(_ context.Context, req *Request) (reply.Message, error) {
	world := strings.TrimSpace(req.Data.String("world"))
	if world == "" {
		return reply.Message{}, userErr("Invalid Parameter", "Please provide a world name.")
	}
	sortBy := strings.ToLower(req.Data.String("sort_by"))
	switch sortBy {
	case "":
		sortBy = "distance"
	case "distance", "elevation", "name":
	default:
		return reply.Message{}, userErr("Invalid Parameter", "Unknown sort order `%s`. Use distance, elevation or name.", sortBy)
	}

	_, all, err := bot.cachedDetails()
	if err != nil {
		return reply.Message{}, err
	}
	var found []zwiftinsider.RouteDetails
	for _, d := range all {
		if inWorld(d, world) {
			found = append(found, d)
		}
	}
	if len(found) == 0 {
		return reply.WorldNotFound(world, bot.cat.Worlds()), nil
	}

	switch sortBy {
	case "elevation":
		sort.SliceStable(found, func(i, j int) bool { return found[i].ElevationM < found[j].ElevationM })
	case "name":
		sort.SliceStable(found, func(i, j int) bool {
			return strings.ToLower(found[i].RouteName) < strings.ToLower(found[j].RouteName)
		})
	default:
		sort.SliceStable(found, func(i, j int) bool { return found[i].DistanceKm < found[j].DistanceKm })
	}
	// в заголовке мир как на сайте, а не как набрал пользователь
	return reply.WorldRoutes(found[0].World, found, sortBy), nil
}

// pageCounter есть у клиента zwiftinsider с ETag-кэшем страниц
type pageCounter interface {
	CachedPages() int
}

func (bot *ZwiftBot) cmdCacheInfo(_ context.Context, _ *Request) (reply.Message, error) {
	if bot.details == nil {
		return reply.Message{}, userErr("Cache Unavailable", "The route details cache is not configured.")
	}
	in := reply.CacheInfoInput{
		Info:    bot.details.Info(),
		Details: bot.details.All(),
		Dir:     bot.cacheDir,
	}
	if bot.limiter != nil {
		in.RateWindow, in.RateUsers = bot.limiter.Stats()
	}
	if gw := bot.gateway(); gw != nil {
		in.Session = gw.SessionID()
	}
	if pc, ok := bot.scraper.(pageCounter); ok {
		in.CachedPages = pc.CachedPages()
	}
	if entries, err := os.ReadDir(bot.cacheDir); err == nil {
		in.DirList = []string{}
		for _, e := range entries {
			name := e.Name()
			if fi, err := e.Info(); err == nil && !e.IsDir() {
				name = fmt.Sprintf("%s (%d bytes)", name, fi.Size())
			}
			in.DirList = append(in.DirList, name)
		}
	}
	return reply.CacheInfo(in), nil
}

func (bot *ZwiftBot) cmdRefreshCache(ctx context.Context, req *Request) (reply.Message, error) {
	if bot.details == nil {
		return reply.Message{}, userErr("Cache Unavailable", "The route details cache is not configured.")
	}
	if bot.details.Refreshing() {
		return reply.Message{}, userErr("Refresh In Progress", "A cache refresh is already running. Check /cacheinfo for its state.")
	}
	req.Progress(reply.RefreshStarted())

	start := time.Now()
	var (
		mu   sync.Mutex
		last time.Time
	)
	_, err := bot.details.Refresh(ctx, func(done, total int) {
		mu.Lock()
		if done < total && time.Since(last) < progressEvery {
			mu.Unlock()
			return
		}
		last = time.Now()
		mu.Unlock()
		req.Progress(reply.RefreshProgress(done, total))
	})
	switch {
	case errors.Is(err, routecache.ErrRefreshInProgress):
		return reply.Message{}, userErr("Refresh In Progress", "A cache refresh is already running. Check /cacheinfo for its state.")
	case err != nil:
		bot.log.Error("manual route cache refresh failed", zap.Error(err))
		return reply.RefreshFailed(err), nil
	}
	return reply.RefreshDone(time.Since(start), bot.details.All()), nil
}
