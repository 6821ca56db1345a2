package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/bot"
	"github.com/EgorLis/zwiftroutebot/internal/catalog"
	"github.com/EgorLis/zwiftroutebot/internal/config"
	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/gateway"
	"github.com/EgorLis/zwiftroutebot/internal/images"
	"github.com/EgorLis/zwiftroutebot/internal/logger"
	"github.com/EgorLis/zwiftroutebot/internal/ratelimit"
	"github.com/EgorLis/zwiftroutebot/internal/routecache"
	"github.com/EgorLis/zwiftroutebot/internal/server"
	"github.com/EgorLis/zwiftroutebot/internal/zwiftinsider"
)

const (
	startAttempts = 5
	maxRetryDelay = 300 * time.Second
	defaultGW     = "wss://gateway.discord.gg"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewNamed(cfg.AppEnv, cfg.LogLevel, "zwiftroutebot")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("bot stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CatalogDir)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	log.Info("catalog loaded",
		zap.Int("routes", len(cat.Routes())),
		zap.Int("sprints", len(cat.Sprints())),
		zap.Int("koms", len(cat.KOMs())),
		zap.String("source", cat.Source()))

	zi, err := zwiftinsider.NewClient(cfg.Scrape.BaseURL, cfg.Scrape.Timeout, log.Named("zwiftinsider"))
	if err != nil {
		return fmt.Errorf("zwiftinsider client: %w", err)
	}

	cacheDir, err := routecache.ResolveDir(cfg.Cache.Dir)
	if err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	store := routecache.New(cacheDir, cat.Routes(), zi, routecache.Options{
		MaxAge:      cfg.Cache.MaxAge,
		Concurrency: cfg.Scrape.Concurrency,
		Interval:    cfg.Scrape.Interval,
	}, log.Named("routecache"))
	// первичное заполнение не блокирует запуск: команды сами скажут, что данные грузятся
	go func() {
		if err := store.LoadOrUpdate(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("initial route cache update failed", zap.Error(err))
		}
	}()
	store.StartPeriodic(ctx, cfg.Cache.CheckInterval)
	defer store.Stop()

	rest := discord.NewClient(cfg.Discord.APIURL, cfg.Discord.Token, log.Named("rest"))
	appID := cfg.Discord.AppID
	if appID == "" {
		app, err := rest.CurrentApplication(ctx)
		if err != nil {
			log.Warn("could not fetch application id, waiting for READY", zap.Error(err))
		} else {
			appID = app.ID
		}
	}

	b := bot.New(cat, rest, log.Named("bot"))
	b.SetApplication(appID, cfg.Discord.GuildID)
	b.SetDetails(store, cacheDir)
	b.SetScraper(zi)
	b.SetImages(images.NewFinder(cfg.ImageRoot, log.Named("images")), images.Load)
	b.SetLimiter(ratelimit.New(cfg.UserCooldown, cfg.GlobalRateLimit))
	b.SetRecentCache(cfg.Cache.RecentSize, cfg.Cache.RecentTTL)
	b.SetAdmins(cfg.AdminIDs)
	b.SetLoadingAnimation(cfg.LoadingAnimation)

	gwURL := gatewayURL(ctx, cfg, rest, log)

	var connected atomic.Pointer[gateway.Client]
	if cfg.HTTPAddr != "" {
		srv := server.New(cfg.HTTPAddr, cat, log.Named("http"))
		srv.SetDetails(store)
		srv.SetReadiness(func() bool {
			gw := connected.Load()
			return gw != nil && gw.IsConnected()
		})
		if cfg.Discord.PublicKey != "" {
			key, err := discord.ParsePublicKey(cfg.Discord.PublicKey)
			if err != nil {
				return fmt.Errorf("DISCORD_PUBLIC_KEY: %w", err)
			}
			srv.SetInteractions(b, key)
		}
		srv.Start()
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shCtx); err != nil {
				log.Error("http server forced shutdown", zap.Error(err))
			}
		}()
	}

	gw, err := startWithRetry(ctx, b, gwURL, cfg.Discord.Token, log)
	if err != nil {
		return err
	}
	connected.Store(gw)
	defer b.Stop()

	log.Info("bot is running", zap.String("app_id", appID))
	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case <-gw.Done():
		return fmt.Errorf("gateway stopped: %w", gw.Err())
	}
}

// gatewayURL берёт адрес из конфига или у API, иначе стандартный
func gatewayURL(ctx context.Context, cfg *config.Config, rest *discord.Client, log *zap.Logger) string {
	if cfg.Discord.GatewayURL != "" {
		return cfg.Discord.GatewayURL
	}
	gb, err := rest.GatewayBot(ctx)
	if err != nil || gb.URL == "" {
		log.Warn("gateway url lookup failed, using default", zap.Error(err))
		return defaultGW
	}
	log.Info("gateway url resolved",
		zap.String("url", gb.URL),
		zap.Int("sessions_left", gb.SessionStartLimit.Remaining))
	return gb.URL
}

// startWithRetry подключает бота; на каждую попытку новый gateway-клиент
func startWithRetry(ctx context.Context, b *bot.ZwiftBot, url, token string, log *zap.Logger) (*gateway.Client, error) {
	var lastErr error
	for attempt := 0; attempt < startAttempts; attempt++ {
		gw := gateway.New(url, token, log.Named("gateway"))
		b.SetGateway(gw)
		err := b.Start(ctx)
		if err == nil {
			return gw, nil
		}
		lastErr = err
		delay := min(maxRetryDelay, 5*time.Second*time.Duration(1<<attempt))
		log.Warn("bot start failed",
			zap.Int("attempt", attempt+1),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if attempt == startAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("bot did not start after %d attempts: %w", startAttempts, lastErr)
}
