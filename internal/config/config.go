// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	BotToken   string `env:"BOT_TOKEN,required"`
	WebhookURL string `env:"BOT_WEBHOOK_URL"` // public URL registered with the Bot API
	ServerHost string `env:"BOT_SERVER_HOST" envDefault:"localhost"`
	ServerPort int    `env:"BOT_SERVER_PORT" envDefault:"8080"`
	Env        string `env:"BOT_ENV" envDefault:"development"`
	LogLevel   string `env:"BOT_LOG_LEVEL" envDefault:"info"`
	DBPath     string `env:"BOT_DB_PATH" envDefault:"./data/onboardbot.db"`

	// Content store (SeaTable-compatible) configuration
	SeaTableURL    string `env:"SEATABLE_URL,required"`
	HRAPIToken     string `env:"SEATABLE_HR_TOKEN,required"` // the HR content base
	ATSAPIToken    string `env:"SEATABLE_ATS_TOKEN"`         // the phone-book base; empty disables lookup
	MainMenuTable  string `env:"SEATABLE_MAIN_MENU_TABLE,required"`
	UsersTable     string `env:"SEATABLE_USERS_TABLE,required"`
	HiresTable     string `env:"SEATABLE_HIRES_TABLE"` // the 1C export; empty disables the sync
	DirectoryTable string `env:"SEATABLE_DIRECTORY_TABLE"`

	// DirectoryMarker flags submenu links pointing into the phone-book base.
	DirectoryMarker string `env:"BOT_DIRECTORY_MARKER" envDefault:"ats"`

	// Cache configuration
	RedisURL     string `env:"BOT_REDIS_URL"` // Optional Redis URL for distributed caching
	CachePrefix  string `env:"BOT_CACHE_PREFIX" envDefault:"onboardbot:"`
	CacheTTL     int    `env:"BOT_CACHE_TTL" envDefault:"3600"`       // Default cache TTL in seconds
	CacheMaxSize int    `env:"BOT_CACHE_MAX_SIZE" envDefault:"10000"` // Max memory cache entries

	// SessionTTL is the idle lifetime of a navigation session in seconds.
	SessionTTL int `env:"BOT_SESSION_TTL" envDefault:"3600"`
	// SessionMax caps how many sessions are tracked at once.
	SessionMax int `env:"BOT_SESSION_MAX" envDefault:"2000"`
	// RowCacheTTL is the content row cache lifetime in seconds.
	RowCacheTTL int `env:"BOT_ROW_CACHE_TTL" envDefault:"300"`

	// Scheduler configuration
	SyncSpec    string `env:"BOT_SYNC_SPEC" envDefault:"10 * * * *"`
	CleanupSpec string `env:"BOT_CLEANUP_SPEC" envDefault:"30 3 * * *"`

	// AdminToken authorizes the broadcast endpoint. Empty disables it.
	AdminToken string `env:"BOT_ADMIN_TOKEN"`
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// UseRedisCache returns true if Redis caching is configured.
func (c Config) UseRedisCache() bool {
	return c.RedisURL != ""
}

// DirectoryEnabled returns true if the phone-book lookup is configured.
func (c Config) DirectoryEnabled() bool {
	return c.ATSAPIToken != "" && c.DirectoryTable != ""
}

// SyncEnabled returns true if the hire import is configured.
func (c Config) SyncEnabled() bool {
	return c.HiresTable != ""
}

// Load parses environment variables and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, fmt.Errorf("BOT_SERVER_PORT %d is out of range", cfg.ServerPort)
	}

	return cfg, nil
}
