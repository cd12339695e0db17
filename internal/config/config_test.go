package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DISCORD_BOT_TOKEN", "DISCORD_API_BASE", "DISCORD_GATEWAY_URL", "DISCORD_GUILD_IDS",
		"DISCORD_INTENTS", "MONGODB_URI", "MONGODB_DB", "INDEXER_BACKFILL_PAGE_SIZE",
		"INDEXER_BACKFILL_WORKERS", "INDEXER_BACKFILL_REQUEST_DELAY_MS",
		"INDEXER_STALE_CLAIM_AFTER_MINUTES", "INDEXER_HTTP_ADDR", "INDEXER_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingToken(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DISCORD_BOT_TOKEN")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DiscordAPIBase != "https://discord.com/api/v10" {
		t.Errorf("DiscordAPIBase = %q", cfg.DiscordAPIBase)
	}
	if cfg.BackfillPageSize != 100 {
		t.Errorf("BackfillPageSize = %d, want 100", cfg.BackfillPageSize)
	}
	if cfg.BackfillWorkers != 2 {
		t.Errorf("BackfillWorkers = %d, want 2", cfg.BackfillWorkers)
	}
	if cfg.DiscordIntents != 4609 {
		t.Errorf("DiscordIntents = %d, want 4609", cfg.DiscordIntents)
	}
	if len(cfg.DiscordGuildIDs) != 0 {
		t.Errorf("DiscordGuildIDs = %v, want empty", cfg.DiscordGuildIDs)
	}
}

func TestLoad_PageSizeClamped(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "abc")
	t.Setenv("INDEXER_BACKFILL_PAGE_SIZE", "500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BackfillPageSize != 100 {
		t.Errorf("BackfillPageSize = %d, want clamped to 100", cfg.BackfillPageSize)
	}
}

func TestLoad_GuildIDsParsed(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "abc")
	t.Setenv("DISCORD_GUILD_IDS", "111, 222 ,333")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"111", "222", "333"}
	if len(cfg.DiscordGuildIDs) != len(want) {
		t.Fatalf("DiscordGuildIDs = %v, want %v", cfg.DiscordGuildIDs, want)
	}
	for i := range want {
		if cfg.DiscordGuildIDs[i] != want[i] {
			t.Errorf("DiscordGuildIDs[%d] = %q, want %q", i, cfg.DiscordGuildIDs[i], want[i])
		}
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "abc")
	t.Setenv("INDEXER_LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid INDEXER_LOG_LEVEL")
	}
}

func TestLoad_UnparseableNumericEnvAborts(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "abc")
	t.Setenv("INDEXER_BACKFILL_WORKERS", "abc")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable INDEXER_BACKFILL_WORKERS, got nil")
	}
}
