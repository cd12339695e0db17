// Package config loads the indexer's configuration from environment
// variables, with an optional .env file loaded first for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/patrick-slimelab/discord-indexer/internal/gateway"
)

// Config holds every environment-derived setting the supervisor needs.
type Config struct {
	DiscordBotToken string
	DiscordAPIBase  string
	DiscordGateway  string
	DiscordGuildIDs []string // empty means "discover via API"
	DiscordIntents  int

	MongoURI string
	MongoDB  string

	BackfillPageSize       int
	BackfillWorkers        int
	BackfillRequestDelayMs int
	StaleClaimAfterMinutes int

	HTTPAddr string
	LogLevel string
}

// Load reads .env (if present, silently ignored if not) and then the
// environment, failing fast on any missing required value or any numeric
// env var that is set but not a valid integer.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	mustInt := func(key string, fallback int) int {
		n, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	cfg := &Config{
		DiscordBotToken:        os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordAPIBase:         getEnv("DISCORD_API_BASE", "https://discord.com/api/v10"),
		DiscordGateway:         getEnv("DISCORD_GATEWAY_URL", "wss://gateway.discord.gg/?v=10&encoding=json"),
		DiscordGuildIDs:        splitCSV(os.Getenv("DISCORD_GUILD_IDS")),
		DiscordIntents:         mustInt("DISCORD_INTENTS", gateway.DefaultIntents()),
		MongoURI:               getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDB:                getEnv("MONGODB_DB", "discord_index"),
		BackfillPageSize:       clamp(mustInt("INDEXER_BACKFILL_PAGE_SIZE", 100), 1, 100),
		BackfillWorkers:        mustInt("INDEXER_BACKFILL_WORKERS", 2),
		BackfillRequestDelayMs: mustInt("INDEXER_BACKFILL_REQUEST_DELAY_MS", 500),
		StaleClaimAfterMinutes: mustInt("INDEXER_STALE_CLAIM_AFTER_MINUTES", 10),
		HTTPAddr:               getEnv("INDEXER_HTTP_ADDR", ":9090"),
		LogLevel:               getEnv("INDEXER_LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DiscordBotToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if c.BackfillWorkers <= 0 {
		return fmt.Errorf("INDEXER_BACKFILL_WORKERS must be > 0")
	}
	if c.MongoURI == "" || c.MongoDB == "" {
		return fmt.Errorf("MONGODB_URI and MONGODB_DB must be set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("INDEXER_LOG_LEVEL must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns fallback when key is unset, but returns an error
// (alongside fallback) when key is set to a value strconv.Atoi rejects —
// an unset var and a malformed one are not the same failure mode.
func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
