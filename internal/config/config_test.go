package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func validConfig() Config {
	cfg := Config{
		Channels:      []string{"123"},
		OutputChannel: "@out",
		DBDriver:      "sqlite",
	}
	applyDefaults(&cfg)
	return cfg
}

func TestApplyEnvironment(t *testing.T) {
	var cfg Config
	err := applyEnvironment(&cfg, mapEnv(map[string]string{
		"CHANNELS":             " a, b ,,c ",
		"MY_CHANNEL":           "@legacy",
		"POST_LIMIT":           "12",
		"PARSE_INTERVAL":       "60",
		"SIMILARITY_THRESHOLD": "0.9",
		"MAX_ALBUM_SIZE":       "4",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, cfg.Channels)
	assert.Equal(t, "@legacy", cfg.OutputChannel)
	assert.Equal(t, 12, cfg.PostLimit)
	assert.Equal(t, 60, cfg.PollIntervalSecs)
	assert.Equal(t, 0.9, cfg.SimilarityThreshold)
	assert.Equal(t, 4, cfg.MaxAlbumSize)
}

func TestApplyEnvironmentOutputChannelPrecedence(t *testing.T) {
	var cfg Config
	require.NoError(t, applyEnvironment(&cfg, mapEnv(map[string]string{
		"OUTPUT_CHANNEL": "@new",
		"MY_CHANNEL":     "@legacy",
	})))
	assert.Equal(t, "@new", cfg.OutputChannel)
}

func TestApplyEnvironmentRejectsBadNumbers(t *testing.T) {
	var cfg Config
	err := applyEnvironment(&cfg, mapEnv(map[string]string{
		"POST_LIMIT":           "five",
		"SIMILARITY_THRESHOLD": "high",
	}))
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "POST_LIMIT")
	assert.Contains(t, err.Error(), "SIMILARITY_THRESHOLD")
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{DataDir: "/var/lib/relay"}
	applyDefaults(&cfg)

	assert.Equal(t, 5, cfg.PostLimit)
	assert.Equal(t, time.Hour, cfg.PollInterval())
	assert.Equal(t, 10*time.Second, cfg.PublishDelay())
	assert.Equal(t, 0.85, cfg.SimilarityThreshold)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())
	assert.Equal(t, 10, cfg.MaxAlbumSize)
	assert.Equal(t, 1024, cfg.MaxCaptionLength)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, filepath.Join("/var/lib/relay", "relay.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join("/var/lib/relay", "posts.jsonl"), cfg.BatchLogPath())
	assert.Equal(t, filepath.Join("/var/lib/relay", "last_dates.json"), cfg.LastSeenPath())
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no channels", func(c *Config) { c.Channels = nil }},
		{"no output", func(c *Config) { c.OutputChannel = "" }},
		{"threshold above one", func(c *Config) { c.SimilarityThreshold = 1.5 }},
		{"album too large", func(c *Config) { c.MaxAlbumSize = 11 }},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"postgres without host", func(c *Config) { c.DBDriver = "postgres" }},
		{"bad schedule", func(c *Config) { c.RetentionSchedule = "every day" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := validConfig()
	err := cfg.RequireCredentials()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "DISCORD_TOKEN")

	cfg.DiscordToken = "d"
	cfg.TelegramToken = "t"
	cfg.EmbeddingBaseURL = "http://localhost:11434/v1"
	assert.NoError(t, cfg.RequireCredentials())
}

func TestLoadFromYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	yamlContent := `
channels: ["111", "222"]
output_channel: "@from_yaml"
db_driver: sqlite
post_limit: 3
retention_days: 14
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("POST_LIMIT", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"111", "222"}, cfg.Channels)
	assert.Equal(t, "@from_yaml", cfg.OutputChannel)
	assert.Equal(t, 9, cfg.PostLimit)
	assert.Equal(t, 14, cfg.RetentionDays)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CHANNELS", "")
	t.Setenv("OUTPUT_CHANNEL", "")
	t.Setenv("MY_CHANNEL", "")
	t.Setenv("DB_DRIVER", "sqlite")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalid)
}
