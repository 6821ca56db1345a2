// Package config loads the bot configuration from the process environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// ErrMissingToken is returned when DISCORD_BOT_TOKEN is not set.
var ErrMissingToken = errors.New("DISCORD_BOT_TOKEN is not set")

// DiscordConfig holds credentials and endpoints of the chat platform.
type DiscordConfig struct {
	Token      string
	AppID      string
	GuildID    string
	PublicKey  string
	APIURL     string
	GatewayURL string
}

// CacheConfig controls the route details snapshot and the recent lookup cache.
type CacheConfig struct {
	Dir           string
	MaxAge        time.Duration
	CheckInterval time.Duration
	RecentSize    int
	RecentTTL     time.Duration
}

// ScrapeConfig controls requests to the route data site.
type ScrapeConfig struct {
	BaseURL     string
	Timeout     time.Duration
	Concurrency int
	Interval    time.Duration
}

// Config holds all configuration for the bot.
type Config struct {
	AppEnv   string
	LogLevel string
	HTTPAddr string

	Discord DiscordConfig
	Cache   CacheConfig
	Scrape  ScrapeConfig

	CatalogDir       string
	ImageRoot        string
	AdminIDs         []string
	UserCooldown     time.Duration
	GlobalRateLimit  int
	LoadingAnimation bool
}

var keys = []string{
	"APP_ENV", "LOG_LEVEL", "HTTP_ADDR",
	"DISCORD_BOT_TOKEN", "DISCORD_APP_ID", "DISCORD_GUILD_ID", "DISCORD_PUBLIC_KEY",
	"DISCORD_API_URL", "DISCORD_GATEWAY_URL",
	"ZWIFTINSIDER_BASE_URL", "SCRAPE_TIMEOUT", "SCRAPE_CONCURRENCY", "SCRAPE_INTERVAL",
	"CATALOG_DIR", "CACHE_DIR", "CACHE_AGE_DAYS", "CACHE_CHECK_INTERVAL",
	"RECENT_CACHE_SIZE", "RECENT_CACHE_TTL",
	"IMAGE_ROOT", "ADMIN_IDS", "USER_COOLDOWN", "GLOBAL_RATE_LIMIT", "LOADING_ANIMATION",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DISCORD_API_URL", "https://discord.com/api/v10")
	v.SetDefault("ZWIFTINSIDER_BASE_URL", "https://zwiftinsider.com")
	v.SetDefault("SCRAPE_TIMEOUT", "15s")
	v.SetDefault("SCRAPE_CONCURRENCY", 5)
	v.SetDefault("SCRAPE_INTERVAL", "400ms")
	v.SetDefault("CATALOG_DIR", ".")
	v.SetDefault("CACHE_DIR", "/app/data")
	v.SetDefault("CACHE_AGE_DAYS", 14)
	v.SetDefault("CACHE_CHECK_INTERVAL", "24h")
	v.SetDefault("RECENT_CACHE_SIZE", 64)
	v.SetDefault("RECENT_CACHE_TTL", "10m")
	v.SetDefault("IMAGE_ROOT", "/app/route_images")
	v.SetDefault("USER_COOLDOWN", "5s")
	v.SetDefault("GLOBAL_RATE_LIMIT", 20)
	v.SetDefault("LOADING_ANIMATION", true)
}

// Load reads .env files (missing files are fine) and the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := gotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	var durErr error
	dur := func(key string) time.Duration {
		d, err := duration(v, key)
		if err != nil && durErr == nil {
			durErr = err
		}
		return d
	}

	cfg := &Config{
		AppEnv:   v.GetString("APP_ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),
		HTTPAddr: v.GetString("HTTP_ADDR"),
		Discord: DiscordConfig{
			Token:      strings.TrimSpace(v.GetString("DISCORD_BOT_TOKEN")),
			AppID:      v.GetString("DISCORD_APP_ID"),
			GuildID:    v.GetString("DISCORD_GUILD_ID"),
			PublicKey:  v.GetString("DISCORD_PUBLIC_KEY"),
			APIURL:     strings.TrimRight(v.GetString("DISCORD_API_URL"), "/"),
			GatewayURL: v.GetString("DISCORD_GATEWAY_URL"),
		},
		Cache: CacheConfig{
			Dir:           v.GetString("CACHE_DIR"),
			MaxAge:        time.Duration(v.GetInt("CACHE_AGE_DAYS")) * 24 * time.Hour,
			CheckInterval: dur("CACHE_CHECK_INTERVAL"),
			RecentSize:    v.GetInt("RECENT_CACHE_SIZE"),
			RecentTTL:     dur("RECENT_CACHE_TTL"),
		},
		Scrape: ScrapeConfig{
			BaseURL:     strings.TrimRight(v.GetString("ZWIFTINSIDER_BASE_URL"), "/"),
			Timeout:     dur("SCRAPE_TIMEOUT"),
			Concurrency: v.GetInt("SCRAPE_CONCURRENCY"),
			Interval:    dur("SCRAPE_INTERVAL"),
		},
		CatalogDir:       v.GetString("CATALOG_DIR"),
		ImageRoot:        v.GetString("IMAGE_ROOT"),
		AdminIDs:         splitList(v.GetString("ADMIN_IDS")),
		UserCooldown:     dur("USER_COOLDOWN"),
		GlobalRateLimit:  v.GetInt("GLOBAL_RATE_LIMIT"),
		LoadingAnimation: v.GetBool("LOADING_ANIMATION"),
	}

	if durErr != nil {
		return nil, durErr
	}
	if cfg.Discord.Token == "" {
		return nil, ErrMissingToken
	}
	if cfg.Scrape.Concurrency < 1 {
		cfg.Scrape.Concurrency = 1
	}
	return cfg, nil
}

// duration требует единицу измерения: viper прочитал бы "5" как 5ns
func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: want a duration with a unit, e.g. 5s or 10m: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s=%q: duration must not be negative", key, raw)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
