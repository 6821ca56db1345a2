package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/catalog"
	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/ratelimit"
	"github.com/EgorLis/zwiftroutebot/internal/reply"
	"github.com/EgorLis/zwiftroutebot/internal/routecache"
	"github.com/EgorLis/zwiftroutebot/internal/zwiftinsider"
)

type fakeAPI struct {
	mu        sync.Mutex
	edits     []discord.MessageParams
	created   []discord.MessageParams
	channels  []string
	commands  []discord.ApplicationCommand
	editErr   func(p discord.MessageParams) error
	responses []discord.InteractionResponse
	followups []discord.MessageParams
}

func (f *fakeAPI) CreateInteractionResponse(_ context.Context, _, _ string, resp discord.InteractionResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeAPI) EditOriginalResponse(_ context.Context, _, _ string, p discord.MessageParams) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		if err := f.editErr(p); err != nil {
			return nil, err
		}
	}
	f.edits = append(f.edits, p)
	return &discord.Message{ID: "m1"}, nil
}

func (f *fakeAPI) CreateMessage(_ context.Context, channelID string, p discord.MessageParams) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channelID)
	f.created = append(f.created, p)
	return &discord.Message{ID: "m2", ChannelID: channelID}, nil
}

func (f *fakeAPI) CreateFollowup(_ context.Context, _, _ string, p discord.MessageParams) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, p)
	return &discord.Message{ID: "m3"}, nil
}

func (f *fakeAPI) BulkOverwriteCommands(_ context.Context, _, _ string, cmds []discord.ApplicationCommand) ([]discord.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = cmds
	return cmds, nil
}

func (f *fakeAPI) lastEdit(t *testing.T) discord.MessageParams {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.edits)
	return f.edits[len(f.edits)-1]
}

func (f *fakeAPI) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

type fakeScraper struct {
	info    zwiftinsider.RouteInfo
	infoErr error
	details map[string]zwiftinsider.RouteDetails
}

func (s *fakeScraper) CachedPages() int { return len(s.details) }

func (s *fakeScraper) FetchRouteInfo(context.Context, string) (zwiftinsider.RouteInfo, error) {
	return s.info, s.infoErr
}

func (s *fakeScraper) FetchRouteDetails(_ context.Context, r catalog.Route) (zwiftinsider.RouteDetails, error) {
	d, ok := s.details[r.Name]
	if !ok {
		return zwiftinsider.RouteDetails{}, errors.New("no page")
	}
	return d, nil
}

var testDetails = map[string]zwiftinsider.RouteDetails{
	"Volcano Flat": {RouteName: "Volcano Flat", World: "Watopia", DistanceKm: 12.3, ElevationM: 46,
		TimeEstimates: map[string]int{"B": 24}, EstimatedTimeMin: 24, Badges: []string{"Flat", "Short"}},
	"Road to Sky": {RouteName: "Road to Sky", World: "Watopia", DistanceKm: 17.5, ElevationM: 1100,
		EstimatedTimeMin: 90, Badges: []string{"Hilly", "Long", "Epic"}},
	"Mont Ventoux": {RouteName: "Mont Ventoux", World: "France", DistanceKm: 21.7, ElevationM: 1600,
		EstimatedTimeMin: 120, Badges: []string{"Hilly", "Long", "Epic"}},
	"Greatest London Flat": {RouteName: "Greatest London Flat", World: "London", DistanceKm: 11.3, ElevationM: 42,
		EstimatedTimeMin: 20, Badges: []string{"Flat", "Short"}},
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		[]catalog.Route{
			{Name: "Volcano Flat", URL: "https://zwiftinsider.com/route/volcano-flat/", World: "Watopia"},
			{Name: "Road to Sky", URL: "https://zwiftinsider.com/route/road-to-sky/", World: "Watopia"},
			{Name: "Mont Ventoux", URL: "https://zwiftinsider.com/route/mont-ventoux/", World: "France"},
			{Name: "Greatest London Flat", URL: "https://zwiftinsider.com/route/greatest-london-flat/", World: "London"},
		},
		[]catalog.Sprint{{Name: "Watopia Sprint", Location: "Watopia", LengthM: 400, Grade: 0.5}},
		[]catalog.KOM{{Name: "Epic KOM", Location: "Watopia", LengthKm: 9.4, Grade: 4}},
	)
	require.NoError(t, err)
	return c
}

type harness struct {
	bot   *ZwiftBot
	api   *fakeAPI
	store *routecache.Store

	mu   sync.Mutex
	acks []discord.InteractionResponse
	ack  func(discord.InteractionResponse) error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat := testCatalog(t)
	api := &fakeAPI{}
	b := New(cat, api, zap.NewNop())
	b.SetLoadingAnimation(false)
	b.SetScraper(&fakeScraper{info: zwiftinsider.RouteInfo{Stats: []string{"Distance: 21.7km"}}, details: testDetails})

	store := routecache.New(t.TempDir(), cat.Routes(), &fakeScraper{details: testDetails}, routecache.Options{}, zap.NewNop())
	_, err := store.Refresh(context.Background(), nil)
	require.NoError(t, err)
	b.SetDetails(store, t.TempDir())
	b.SetAdmins([]string{"admin"})

	return &harness{bot: b, api: api, store: store}
}

func (h *harness) send(in *discord.Interaction) {
	h.bot.HandleInteraction(context.Background(), in, func(r discord.InteractionResponse) error {
		h.mu.Lock()
		h.acks = append(h.acks, r)
		ack := h.ack
		h.mu.Unlock()
		if ack != nil {
			return ack(r)
		}
		return nil
	})
}

func (h *harness) lastAck(t *testing.T) discord.InteractionResponse {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.acks)
	return h.acks[len(h.acks)-1]
}

func command(user, name string, opts ...discord.Option) *discord.Interaction {
	return &discord.Interaction{
		ID:            "i1",
		ApplicationID: "app",
		Type:          discord.InteractionApplicationCommand,
		Token:         "tok",
		ChannelID:     "chan",
		Member:        &discord.Member{User: &discord.User{ID: user, Username: user}},
		Data:          &discord.InteractionData{Name: name, Options: opts},
	}
}

func opt(name string, v any) discord.Option { return discord.Option{Name: name, Value: v} }

func title(t *testing.T, p discord.MessageParams) string {
	t.Helper()
	require.NotEmpty(t, p.Embeds)
	return p.Embeds[0].Title
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	h := func(context.Context, *Request) (reply.Message, error) { return reply.Message{}, nil }
	r.Register(Command{Spec: discord.ApplicationCommand{Name: "route"}, Handler: h})
	assert.Panics(t, func() { r.Register(Command{Spec: discord.ApplicationCommand{Name: "route"}, Handler: h}) })
	assert.Panics(t, func() { r.Register(Command{Spec: discord.ApplicationCommand{Name: "x"}}) })
}

func TestCommandsRegistered(t *testing.T) {
	h := newHarness(t)
	var names []string
	for _, c := range h.bot.Commands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"cacheinfo", "findroute", "kom", "random", "refreshcache", "route", "routestats", "sprint", "worldroutes"}, names)

	h.bot.SetApplication("app", "guild")
	require.NoError(t, h.bot.RegisterCommands(context.Background()))
	assert.Len(t, h.api.commands, 9)

	for _, c := range h.api.commands {
		for _, o := range c.Options {
			if o.Name == "name" || o.Name == "world" {
				assert.Equal(t, reply.MaxQueryEcho, o.MaxLength, "/%s %s", c.Name, o.Name)
			}
		}
	}
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	h.send(&discord.Interaction{Type: discord.InteractionPing})
	assert.Equal(t, discord.ResponsePong, h.lastAck(t).Type)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	h.send(command("u1", "nope"))
	ack := h.lastAck(t)
	assert.Equal(t, discord.ResponseChannelMessage, ack.Type)
	assert.Contains(t, title(t, ack.Data.MessageParams), "Unknown Command")
	assert.Equal(t, discord.FlagEphemeral, ack.Data.Flags)
}

func TestAdminCommandDenied(t *testing.T) {
	h := newHarness(t)
	h.send(command("u1", "cacheinfo"))
	assert.Contains(t, title(t, h.lastAck(t).Data.MessageParams), "Permission Denied")
	assert.Zero(t, h.api.editCount())

	h.send(command("admin", "cacheinfo"))
	assert.Equal(t, discord.ResponseDeferredChannelMessage, h.lastAck(t).Type)
	assert.Contains(t, title(t, h.api.lastEdit(t)), "Cache")
}

func TestCacheInfoRuntime(t *testing.T) {
	h := newHarness(t)
	h.send(command("admin", "cacheinfo"))
	p := h.api.lastEdit(t)
	var runtime string
	for _, f := range p.Embeds[0].Fields {
		if f.Name == "Runtime" {
			runtime = f.Value
		}
	}
	assert.Contains(t, runtime, "Gateway session: none")
	assert.Contains(t, runtime, fmt.Sprintf("Cached pages: %d", len(testDetails)))
}

func TestRateLimited(t *testing.T) {
	h := newHarness(t)
	h.bot.SetLimiter(ratelimit.New(time.Hour, 0))

	h.send(command("u1", "sprint", opt("name", "watopia")))
	assert.Equal(t, discord.ResponseDeferredChannelMessage, h.lastAck(t).Type)

	h.send(command("u1", "sprint", opt("name", "watopia")))
	ack := h.lastAck(t)
	assert.Equal(t, discord.ResponseChannelMessage, ack.Type)
	assert.Contains(t, title(t, ack.Data.MessageParams), "Rate Limited")
	assert.Contains(t, ack.Data.Embeds[0].Description, "Please wait")
}

func TestRouteFound(t *testing.T) {
	h := newHarness(t)
	h.send(command("u1", "route", opt("name", "Ventoux")))

	ack := h.lastAck(t)
	assert.Equal(t, discord.ResponseDeferredChannelMessage, ack.Type)
	assert.Nil(t, ack.Data, "public commands defer without the ephemeral flag")

	p := h.api.lastEdit(t)
	assert.Equal(t, "🚲 Mont Ventoux", title(t, p))
	assert.Contains(t, p.Embeds[0].Description, "Distance: 21.7km")
	assert.Empty(t, p.Components)
}

func TestRouteNotFound(t *testing.T) {
	h := newHarness(t)
	h.send(command("u1", "route", opt("name", "zzz-unknown")))
	assert.Contains(t, title(t, h.api.lastEdit(t)), "Route Not Found")
}

func TestRouteScrapeErrorStillRenders(t *testing.T) {
	h := newHarness(t)
	h.bot.SetScraper(&fakeScraper{infoErr: errors.New("status 503")})
	h.send(command("u1", "route", opt("name", "volcano flat")))

	p := h.api.lastEdit(t)
	assert.Equal(t, "🚲 Volcano Flat", title(t, p))
	assert.Contains(t, p.Embeds[0].Description, "Live details unavailable")
}

func TestMissingName(t *testing.T) {
	h := newHarness(t)
	h.send(command("u1", "kom", opt("name", "  ")))
	assert.Contains(t, title(t, h.api.lastEdit(t)), "Invalid Parameter")
}

func shareID(t *testing.T, p discord.MessageParams) string {
	t.Helper()
	require.Len(t, p.Components, 1)
	require.Len(t, p.Components[0].Components, 1)
	id := p.Components[0].Components[0].CustomID
	require.True(t, strings.HasPrefix(id, sharePrefix))
	return id
}

func press(user, customID string) *discord.Interaction {
	return &discord.Interaction{
		ID:        "i2",
		Type:      discord.InteractionMessageComponent,
		Token:     "tok2",
		ChannelID: "chan",
		Member:    &discord.Member{User: &discord.User{ID: user, Username: user}},
		Data:      &discord.InteractionData{CustomID: customID, ComponentType: discord.ComponentButton},
	}
}

func TestShareButton(t *testing.T) {
	h := newHarness(t)
	h.send(command("u1", "random", opt("world", "france")))

	defer1 := h.lastAck(t)
	require.NotNil(t, defer1.Data)
	assert.Equal(t, discord.FlagEphemeral, defer1.Data.Flags)

	p := h.api.lastEdit(t)
	assert.Contains(t, title(t, p), "Mont Ventoux")
	id := shareID(t, p)

	h.send(press("u2", id))
	ack := h.lastAck(t)
	assert.Equal(t, discord.ResponseChannelMessage, ack.Type)
	assert.Zero(t, ack.Data.Flags, "shared copy is public")
	assert.Contains(t, ack.Data.Content, "shared a random Zwift route")
	assert.True(t, strings.HasPrefix(ack.Data.Embeds[0].Footer.Text, "Shared by u2 • "))
}

func TestShareFallsBackToChannel(t *testing.T) {
	h := newHarness(t)
	h.send(command("u1", "findroute", opt("max_km", 15.0)))
	id := shareID(t, h.api.lastEdit(t))

	h.ack = func(discord.InteractionResponse) error {
		return &discord.APIError{Status: 404, Code: discord.CodeUnknownInteraction, Message: "Unknown interaction"}
	}
	h.send(press("u2", id))

	require.Len(t, h.api.created, 1)
	assert.Equal(t, "chan", h.api.channels[0])
	assert.Contains(t, h.api.created[0].Content, "shared route search results")
}

func TestShareExpired(t *testing.T) {
	h := newHarness(t)
	h.send(press("u2", sharePrefix+"missing"))
	ack := h.lastAck(t)
	assert.Equal(t, discord.ResponseChannelMessage, ack.Type)
	assert.Contains(t, ack.Data.Content, "expired")
	assert.Equal(t, discord.FlagEphemeral, ack.Data.Flags)

	now := time.Now()
	h.bot.shares.now = func() time.Time { return now }
	id := h.bot.shares.put(reply.Message{Content: "x"})
	now = now.Add(shareTTL + time.Second)
	_, ok := h.bot.shares.get(id)
	assert.False(t, ok)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.bot.registry.Register(Command{
		Spec: discord.ApplicationCommand{Name: "boom"},
		Handler: func(context.Context, *Request) (reply.Message, error) {
			panic("kaboom")
		},
	})
	assert.NotPanics(t, func() { h.send(command("u1", "boom")) })
	assert.Contains(t, title(t, h.api.lastEdit(t)), "Error")
}

func TestAutocomplete(t *testing.T) {
	h := newHarness(t)
	in := &discord.Interaction{
		Type: discord.InteractionAutocomplete,
		Data: &discord.InteractionData{Name: "route", Options: []discord.Option{{Name: "name", Value: "volc", Focused: true}}},
	}
	h.send(in)
	ack := h.lastAck(t)
	assert.Equal(t, discord.ResponseAutocompleteResult, ack.Type)
	require.NotEmpty(t, ack.Data.Choices)
	assert.Equal(t, "Volcano Flat", ack.Data.Choices[0].Name)

	in.Data = &discord.InteractionData{Name: "worldroutes", Options: []discord.Option{{Name: "world", Value: "", Focused: true}}}
	h.send(in)
	var worlds []string
	for _, c := range h.lastAck(t).Data.Choices {
		worlds = append(worlds, c.Name)
	}
	assert.Equal(t, []string{"Watopia", "France", "London"}, worlds)
}

func TestAnimationStopsBeforeFinalReply(t *testing.T) {
	h := newHarness(t)
	h.bot.SetLoadingAnimation(true)
	h.bot.frameDelay = func(int) time.Duration { return time.Millisecond }
	h.bot.registry.Register(Command{
		Spec:    discord.ApplicationCommand{Name: "slow"},
		Animate: true,
		Handler: func(context.Context, *Request) (reply.Message, error) {
			time.Sleep(30 * time.Millisecond)
			return reply.UserError("Done", "finished"), nil
		},
	})

	h.send(command("u1", "slow"))
	n := h.api.editCount()
	assert.Greater(t, n, 1, "loading frames were shown")
	assert.Contains(t, title(t, h.api.lastEdit(t)), "Done")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, h.api.editCount(), "no frame after the final reply")
}

func TestFileRetryWithoutAttachments(t *testing.T) {
	h := newHarness(t)
	h.bot.registry.Register(Command{
		Spec: discord.ApplicationCommand{Name: "pic"},
		Handler: func(context.Context, *Request) (reply.Message, error) {
			return reply.Message{
				Embeds: []discord.Embed{{Title: "Pic", Image: &discord.EmbedImage{URL: "attachment://route.png"}}},
				Files:  []discord.File{{Name: "route.png", Data: []byte("x")}},
			}, nil
		},
	})
	h.api.editErr = func(p discord.MessageParams) error {
		if len(p.Files) > 0 {
			return errors.New("payload too large")
		}
		return nil
	}
	h.send(command("u1", "pic"))
	p := h.api.lastEdit(t)
	assert.Empty(t, p.Files)
	assert.Nil(t, p.Embeds[0].Image)
}

// picCommand регистрирует команду без вложений с заголовком title
func picCommand(h *harness, title string) {
	h.bot.registry.Register(Command{
		Spec: discord.ApplicationCommand{Name: "pic"},
		Handler: func(context.Context, *Request) (reply.Message, error) {
			return reply.Message{Embeds: []discord.Embed{{Title: title}}}, nil
		},
	})
}

func TestFailedReplyReplacedWithError(t *testing.T) {
	h := newHarness(t)
	picCommand(h, "Pic")
	h.api.editErr = func(p discord.MessageParams) error {
		if len(p.Embeds) > 0 && p.Embeds[0].Title == "Pic" {
			return errors.New("invalid form body")
		}
		return nil
	}
	h.send(command("u1", "pic"))
	assert.Equal(t, "❌ Error", title(t, h.api.lastEdit(t)))
	assert.Empty(t, h.api.followups)
}

func TestFailedErrorReplySentAsFollowup(t *testing.T) {
	h := newHarness(t)
	picCommand(h, "Pic")
	h.api.editErr = func(discord.MessageParams) error { return errors.New("unknown message") }
	h.send(command("u1", "pic"))

	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	require.Len(t, h.api.followups, 1)
	assert.Equal(t, "❌ Error", title(t, h.api.followups[0]))
}

func TestFindRoute(t *testing.T) {
	h := newHarness(t)
	h.send(command("u1", "findroute", opt("route_type", "flat")))
	p := h.api.lastEdit(t)
	assert.Equal(t, "🔍 Found 2 Routes", title(t, p))
	assert.Equal(t, "1. Greatest London Flat", p.Embeds[0].Fields[0].Name, "sorted by distance")

	h.send(command("u1", "findroute", opt("min_km", 20.0), opt("max_km", 10.0)))
	assert.Contains(t, title(t, h.api.lastEdit(t)), "Invalid Range")

	h.send(command("u1", "findroute", opt("min_km", 90.0), opt("world", "watopia")))
	p = h.api.lastEdit(t)
	assert.Contains(t, title(t, p), "No Matching Routes")
	assert.Contains(t, p.Embeds[0].Description, "Some routes in watopia")
}

func TestRandomNoMatch(t *testing.T) {
	h := newHarness(t)
	h.send(command("u1", "random", opt("world", "london"), opt("route_type", "hilly")))
	p := h.api.lastEdit(t)
	assert.Contains(t, title(t, p), "No Matching Routes")
	assert.Empty(t, p.Components)
}

func TestWorldRoutes(t *testing.T) {
	h := newHarness(t)
	h.send(command("u1", "worldroutes", opt("world", "wato"), opt("sort_by", "elevation")))
	p := h.api.lastEdit(t)
	assert.Equal(t, "🌍 Routes in Watopia", title(t, p))
	v := p.Embeds[0].Fields[0].Value
	assert.Less(t, strings.Index(v, "Volcano Flat"), strings.Index(v, "Road to Sky"))

	h.send(command("u1", "worldroutes", opt("world", "Mars")))
	p = h.api.lastEdit(t)
	assert.Contains(t, title(t, p), "World Not Found")
	assert.Contains(t, p.Embeds[0].Description, "Watopia, France, London")
}

func TestRouteStats(t *testing.T) {
	h := newHarness(t)
	h.send(command("u1", "routestats", opt("name", "volcano"), opt("category", "b")))
	p := h.api.lastEdit(t)
	assert.Contains(t, title(t, p), "Volcano Flat")
	shareID(t, p)

	h.send(command("u1", "routestats", opt("name", "Road to Sky")))
	assert.Contains(t, title(t, h.api.lastEdit(t)), "Road to Sky", "exact name from autocomplete")

	h.send(command("u1", "routestats", opt("name", "volcano"), opt("category", "E")))
	assert.Contains(t, title(t, h.api.lastEdit(t)), "Invalid Parameter")
}

func TestDetailsStillLoading(t *testing.T) {
	h := newHarness(t)
	empty := routecache.New(t.TempDir(), h.bot.cat.Routes(), &fakeScraper{}, routecache.Options{}, zap.NewNop())
	h.bot.SetDetails(empty, t.TempDir())

	h.send(command("u1", "worldroutes", opt("world", "Watopia")))
	assert.Contains(t, title(t, h.api.lastEdit(t)), "Route Data Loading")
}

func TestRefreshCache(t *testing.T) {
	h := newHarness(t)
	h.send(command("admin", "refreshcache"))

	h.api.mu.Lock()
	var titles []string
	for _, e := range h.api.edits {
		titles = append(titles, e.Embeds[0].Title)
	}
	h.api.mu.Unlock()

	require.GreaterOrEqual(t, len(titles), 2)
	assert.Equal(t, "🔄 Cache Refresh Started", titles[0])
	assert.Equal(t, "✅ Cache Refresh Complete", titles[len(titles)-1])
	assert.Contains(t, titles, "🔄 Cache Refresh Running")
}

func TestFiltersDescribe(t *testing.T) {
	d := &discord.InteractionData{Options: []discord.Option{
		opt("min_km", 10.0), opt("world", "Watopia"), opt("duration", "short"),
	}}
	f, err := filtersFrom(d)
	require.NoError(t, err)
	assert.Equal(t, "Distance: 10-any km, World: Watopia, Duration: short", f.Describe())
	assert.True(t, f.Match(testDetails["Volcano Flat"]))
	assert.False(t, f.Match(testDetails["Greatest London Flat"]))
	assert.False(t, f.Match(zwiftinsider.RouteDetails{World: "Watopia", DistanceKm: 20}), "unknown elevation never matches")

	_, err = filtersFrom(&discord.InteractionData{Options: []discord.Option{opt("route_type", "bumpy")}})
	var ue *UserError
	assert.ErrorAs(t, err, &ue)
}
