package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/catalog"
	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/gateway"
	"github.com/EgorLis/zwiftroutebot/internal/images"
	"github.com/EgorLis/zwiftroutebot/internal/ratelimit"
	"github.com/EgorLis/zwiftroutebot/internal/reply"
	"github.com/EgorLis/zwiftroutebot/internal/routecache"
	"github.com/EgorLis/zwiftroutebot/internal/zwiftinsider"
)

// API — часть REST-клиента, которой пользуется бот.
type API interface {
	CreateInteractionResponse(ctx context.Context, id, token string, resp discord.InteractionResponse) error
	EditOriginalResponse(ctx context.Context, appID, token string, msg discord.MessageParams) (*discord.Message, error)
	CreateMessage(ctx context.Context, channelID string, msg discord.MessageParams) (*discord.Message, error)
	CreateFollowup(ctx context.Context, appID, token string, msg discord.MessageParams) (*discord.Message, error)
	BulkOverwriteCommands(ctx context.Context, appID, guildID string, cmds []discord.ApplicationCommand) ([]discord.ApplicationCommand, error)
}

// Scraper загружает свежие данные маршрутов с сайта.
type Scraper interface {
	FetchRouteInfo(ctx context.Context, pageURL string) (zwiftinsider.RouteInfo, error)
	FetchRouteDetails(ctx context.Context, route catalog.Route) (zwiftinsider.RouteDetails, error)
}

// ImageFinder ищет локальные картинки маршрута.
type ImageFinder interface {
	Find(route catalog.Route) images.Set
}

const (
	shareTTL         = 5 * time.Minute
	handlerTimeout   = 10 * time.Minute
	registerDebounce = 2 * time.Second
)

type ZwiftBot struct {
	cat      *catalog.Catalog
	api      API
	log      *zap.Logger
	replies  *reply.Builder
	registry *Registry

	details *routecache.Store
	scraper Scraper
	images  ImageFinder
	limiter *ratelimit.Limiter
	recent  *routecache.FIFO[string, zwiftinsider.RouteInfo]
	gw      *gateway.Client

	appID    string
	guildID  string
	admins   map[string]bool
	animate  bool
	cacheDir string

	// задержка кадра анимации, подменяется в тестах
	frameDelay func(pos int) time.Duration

	shares *shareStore

	stopCh chan struct{}
	mu     sync.Mutex
	bg     sync.WaitGroup

	// чтобы не перерегистрировать команды при серии быстрых реконнектов
	regMu   sync.Mutex
	lastReg time.Time
}

// New создаёт бота над каталогом; ответы уходят через api.
func New(cat *catalog.Catalog, api API, log *zap.Logger) *ZwiftBot {
	if log == nil {
		log = zap.NewNop()
	}
	bot := &ZwiftBot{
		cat:        cat,
		api:        api,
		log:        log,
		replies:    reply.NewBuilder(nil, log),
		admins:     map[string]bool{},
		animate:    true,
		frameDelay: reply.LoadingDelay,
		shares:     newShareStore(shareTTL),
		recent:     routecache.NewFIFO[string, zwiftinsider.RouteInfo](64, 10*time.Minute),
	}
	bot.registry = bot.commands()
	return bot
}

func (bot *ZwiftBot) SetDetails(s *routecache.Store, cacheDir string) {
	bot.details = s
	bot.cacheDir = cacheDir
}

func (bot *ZwiftBot) SetScraper(s Scraper) { bot.scraper = s }

// SetImages включает локальные картинки; load превращает файл во вложение.
func (bot *ZwiftBot) SetImages(f ImageFinder, load reply.LoadFunc) {
	bot.images = f
	bot.replies = reply.NewBuilder(load, bot.log)
}

func (bot *ZwiftBot) SetLimiter(l *ratelimit.Limiter) { bot.limiter = l }

func (bot *ZwiftBot) SetRecentCache(size int, ttl time.Duration) {
	bot.recent = routecache.NewFIFO[string, zwiftinsider.RouteInfo](size, ttl)
}

func (bot *ZwiftBot) SetAdmins(ids []string) {
	bot.admins = make(map[string]bool, len(ids))
	for _, id := range ids {
		bot.admins[id] = true
	}
}

func (bot *ZwiftBot) SetLoadingAnimation(on bool) { bot.animate = on }

// SetApplication задаёт id приложения и сервер для регистрации команд.
// Пустой guildID регистрирует команды глобально.
func (bot *ZwiftBot) SetApplication(appID, guildID string) {
	bot.mu.Lock()
	bot.appID = appID
	bot.guildID = guildID
	bot.mu.Unlock()
}

func (bot *ZwiftBot) application() string {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	return bot.appID
}

// SetGateway направляет interaction'ы из gateway в бота.
func (bot *ZwiftBot) SetGateway(gw *gateway.Client) {
	bot.mu.Lock()
	bot.gw = gw
	bot.mu.Unlock()

	gw.OnReady = func(r gateway.Ready) {
		bot.log.Info("gateway ready",
			zap.String("user", r.User.Username),
			zap.String("session", r.SessionID))
		bot.mu.Lock()
		if bot.appID == "" && r.Application.ID != "" {
			bot.appID = r.Application.ID
		}
		bot.mu.Unlock()
		go bot.registerCommands()
	}
	gw.OnInteraction = func(in *discord.Interaction) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		bot.HandleInteraction(ctx, in, func(resp discord.InteractionResponse) error {
			return bot.api.CreateInteractionResponse(ctx, in.ID, in.Token, resp)
		})
	}
	gw.OnDisconnected = func() { bot.log.Warn("gateway disconnected") }
	gw.OnError = func(err error) { bot.log.Warn("gateway error", zap.Error(err)) }
}

func (bot *ZwiftBot) gateway() *gateway.Client {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	return bot.gw
}

// Commands возвращает описания зарегистрированных команд.
func (bot *ZwiftBot) Commands() []discord.ApplicationCommand { return bot.registry.Specs() }

// registerCommands публикует команды; повторные вызовы за 2с схлопываются
func (bot *ZwiftBot) registerCommands() {
	bot.regMu.Lock()
	if time.Since(bot.lastReg) < registerDebounce {
		bot.regMu.Unlock()
		return
	}
	bot.lastReg = time.Now()
	bot.regMu.Unlock()

	if err := bot.RegisterCommands(context.Background()); err != nil {
		bot.log.Error("command registration failed", zap.Error(err))
	}
}

// RegisterCommands перезаписывает slash-команды приложения.
func (bot *ZwiftBot) RegisterCommands(ctx context.Context) error {
	appID := bot.application()
	if appID == "" {
		return errors.New("application id is unknown")
	}
	cmds, err := bot.api.BulkOverwriteCommands(ctx, appID, bot.guildID, bot.Commands())
	if err != nil {
		return err
	}
	scope := "global"
	if bot.guildID != "" {
		scope = "guild " + bot.guildID
	}
	bot.log.Info("commands registered", zap.Int("count", len(cmds)), zap.String("scope", scope))
	return nil
}

// Start подключает gateway (если задан) и запускает фоновую очистку.
func (bot *ZwiftBot) Start(ctx context.Context) error {
	if bot == nil {
		return errors.New("bot is not initialised")
	}
	bot.mu.Lock()
	if bot.stopCh != nil {
		bot.mu.Unlock()
		return errors.New("already started")
	}
	bot.stopCh = make(chan struct{})
	stop := bot.stopCh
	bot.mu.Unlock()

	if gw := bot.gateway(); gw != nil {
		if err := gw.Connect(ctx); err != nil {
			bot.mu.Lock()
			bot.stopCh = nil
			bot.mu.Unlock()
			return err
		}
	}

	// очистка просроченных кнопок
	bot.bg.Add(1)
	go func() {
		defer bot.bg.Done()
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if n := bot.shares.sweep(); n > 0 {
					bot.log.Debug("expired share entries removed", zap.Int("count", n))
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop отключает gateway и ждёт фоновые горутины.
func (bot *ZwiftBot) Stop() {
	bot.mu.Lock()
	ch := bot.stopCh
	bot.stopCh = nil
	bot.mu.Unlock()

	if ch != nil {
		close(ch)
		if gw := bot.gateway(); gw != nil {
			gw.Disconnect()
		}
		bot.bg.Wait()
	}
}

func (bot *ZwiftBot) isAdmin(userID string) bool { return bot.admins[userID] }
