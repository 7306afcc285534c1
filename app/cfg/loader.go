package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// HTTP server configuration
	Port    string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://characters.example.com)"`

	// Storage configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./portalwatch.db" description:"Path to the SQLite database file"`

	// Cache configuration
	RedisAddr   string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address for the read cache"`
	CachePrefix string `long:"cache-prefix" env:"CACHE_PREFIX" default:"portalwatch:" description:"Prefix applied to every cache key"`

	// Upstream API configuration
	UpstreamURL       string  `long:"upstream-url" env:"UPSTREAM_URL" default:"https://rickandmortyapi.com/api" description:"Base URL of the upstream character API"`
	UpstreamTimeout   int     `long:"upstream-timeout" env:"UPSTREAM_TIMEOUT" default:"30" description:"Per-request timeout for upstream calls in seconds"`
	RateLimitCooldown int     `long:"rate-limit-cooldown" env:"RATE_LIMIT_COOLDOWN" default:"60" description:"Cooldown after an upstream HTTP 429 in seconds"`
	MaxRetries        int     `long:"max-retries" env:"MAX_RETRIES" default:"3" description:"Maximum attempts per logical upstream call"`
	BackoffMultiplier float64 `long:"backoff-multiplier" env:"BACKOFF_MULTIPLIER" default:"1" description:"Exponential backoff multiplier between retries"`
	BackoffMin        int     `long:"backoff-min" env:"BACKOFF_MIN" default:"4" description:"Minimum backoff wait in seconds"`
	BackoffMax        int     `long:"backoff-max" env:"BACKOFF_MAX" default:"10" description:"Maximum backoff wait in seconds"`
	BreakerThreshold  int     `long:"breaker-threshold" env:"BREAKER_THRESHOLD" default:"5" description:"Consecutive failures before the circuit breaker opens"`
	BreakerRecovery   int     `long:"breaker-recovery" env:"BREAKER_RECOVERY" default:"30" description:"Seconds the circuit breaker stays open before a trial call"`
	PageDelayMS       int     `long:"page-delay-ms" env:"PAGE_DELAY_MS" default:"100" description:"Delay between upstream page fetches in milliseconds"`
	MaxIdleConns      int     `long:"max-idle-conns" env:"MAX_IDLE_CONNS" default:"10" description:"Maximum idle connections to the upstream API"`
	MaxConnsPerHost   int     `long:"max-conns-per-host" env:"MAX_CONNS_PER_HOST" default:"20" description:"Maximum concurrent connections to the upstream API"`

	// Sync configuration
	SyncInterval int `long:"sync-interval" env:"SYNC_INTERVAL" default:"3600" description:"Interval between scheduled syncs in seconds"`
	StartupDelay int `long:"startup-delay" env:"STARTUP_DELAY" default:"5" description:"Delay before the initial sync in seconds"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Portalwatch/1.0" description:"User agent string for upstream requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		DBPath:            raw.DBPath,
		RedisAddr:         raw.RedisAddr,
		CachePrefix:       raw.CachePrefix,
		UpstreamURL:       raw.UpstreamURL,
		UpstreamTimeout:   raw.UpstreamTimeout,
		RateLimitCooldown: raw.RateLimitCooldown,
		MaxRetries:        raw.MaxRetries,
		BackoffMultiplier: raw.BackoffMultiplier,
		BackoffMin:        raw.BackoffMin,
		BackoffMax:        raw.BackoffMax,
		BreakerThreshold:  raw.BreakerThreshold,
		BreakerRecovery:   raw.BreakerRecovery,
		PageDelayMS:       raw.PageDelayMS,
		MaxIdleConns:      raw.MaxIdleConns,
		MaxConnsPerHost:   raw.MaxConnsPerHost,
		SyncInterval:      raw.SyncInterval,
		StartupDelay:      raw.StartupDelay,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
