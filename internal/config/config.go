package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration problems. They are fatal at startup.
var ErrInvalid = errors.New("invalid configuration")

// Config is built once at startup and passed by value into every component.
type Config struct {
	Channels            []string `yaml:"channels"`
	OutputChannel       string   `yaml:"output_channel"`
	PostLimit           int      `yaml:"post_limit"`
	PollIntervalSecs    int      `yaml:"poll_interval_secs"`
	PublishDelaySecs    int      `yaml:"publish_delay_secs"`
	SimilarityThreshold float64  `yaml:"similarity_threshold"`
	RetentionDays       int      `yaml:"retention_days"`
	MaxAlbumSize        int      `yaml:"max_album_size"`
	MaxCaptionLength    int      `yaml:"max_caption_length"`

	DiscordToken        string `yaml:"discord_token"`
	TelegramToken       string `yaml:"telegram_token"`
	OpenAIKey           string `yaml:"openai_api_key"`
	EmbeddingModel      string `yaml:"embedding_model"`
	EmbeddingBaseURL    string `yaml:"embedding_base_url"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`

	DBDriver   string `yaml:"db_driver"`
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBPath     string `yaml:"db_path"`

	MediaRoot         string `yaml:"media_root"`
	DataDir           string `yaml:"data_dir"`
	RetentionSchedule string `yaml:"retention_schedule"`
	CaptionHeader     string `yaml:"caption_header"`
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
}

// Load reads .env (if present), an optional YAML file named by CONFIG_FILE,
// then environment variables, applies defaults and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: read .env: %v", ErrInvalid, err)
	}

	var cfg Config
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read config file: %v", ErrInvalid, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse config yaml: %v", ErrInvalid, err)
		}
	}

	if err := applyEnvironment(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvironment(cfg *Config, getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	num := func(dst *int, key string) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}

	if v := getenv("CHANNELS"); strings.TrimSpace(v) != "" {
		cfg.Channels = splitList(v)
	}
	str(&cfg.OutputChannel, "OUTPUT_CHANNEL", "MY_CHANNEL")
	num(&cfg.PostLimit, "POST_LIMIT")
	num(&cfg.PollIntervalSecs, "PARSE_INTERVAL")
	num(&cfg.PublishDelaySecs, "PUBLISH_DELAY")
	if v := strings.TrimSpace(getenv("SIMILARITY_THRESHOLD")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SIMILARITY_THRESHOLD: %q is not a number", v))
		} else {
			cfg.SimilarityThreshold = f
		}
	}
	num(&cfg.RetentionDays, "RETENTION_DAYS")
	num(&cfg.MaxAlbumSize, "MAX_ALBUM_SIZE")
	num(&cfg.MaxCaptionLength, "MAX_CAPTION_LENGTH")

	str(&cfg.DiscordToken, "DISCORD_TOKEN")
	str(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	str(&cfg.OpenAIKey, "OPENAI_API_KEY")
	str(&cfg.EmbeddingModel, "EMBEDDING_MODEL")
	str(&cfg.EmbeddingBaseURL, "EMBEDDING_BASE_URL")
	num(&cfg.EmbeddingDimensions, "EMBEDDING_DIMENSIONS")

	str(&cfg.DBDriver, "DB_DRIVER")
	str(&cfg.DBHost, "DB_HOST")
	num(&cfg.DBPort, "DB_PORT")
	str(&cfg.DBUser, "DB_USER")
	str(&cfg.DBPassword, "DB_PASSWORD")
	str(&cfg.DBName, "DB_NAME")
	str(&cfg.DBPath, "DB_PATH")

	str(&cfg.MediaRoot, "MEDIA_SAVE_PATH")
	str(&cfg.DataDir, "DATA_DIR")
	str(&cfg.RetentionSchedule, "RETENTION_SCHEDULE")
	str(&cfg.CaptionHeader, "CAPTION_HEADER")
	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.LogFormat, "LOG_FORMAT")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.PostLimit == 0 {
		cfg.PostLimit = 5
	}
	if cfg.PollIntervalSecs == 0 {
		cfg.PollIntervalSecs = 3600
	}
	if cfg.PublishDelaySecs == 0 {
		cfg.PublishDelaySecs = 10
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.85
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxAlbumSize == 0 {
		cfg.MaxAlbumSize = 10
	}
	if cfg.MaxCaptionLength == 0 {
		cfg.MaxCaptionLength = 1024
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.EmbeddingDimensions == 0 {
		cfg.EmbeddingDimensions = 1536
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "postgres"
	}
	if cfg.DBPort == 0 {
		cfg.DBPort = 5432
	}
	if cfg.MediaRoot == "" {
		cfg.MediaRoot = "media"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "relay.db")
	}
	if cfg.RetentionSchedule == "" {
		cfg.RetentionSchedule = "0 3 * * *"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
}

// Validate checks the options every run needs. Credentials for the feed
// collaborators are checked by RequireCredentials, since read-only commands
// do not open network sessions.
func (c Config) Validate() error {
	var errs []error
	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("CHANNELS must list at least one source channel"))
	}
	if c.OutputChannel == "" {
		errs = append(errs, errors.New("OUTPUT_CHANNEL is required"))
	}
	if c.PostLimit < 1 {
		errs = append(errs, fmt.Errorf("POST_LIMIT must be positive, got %d", c.PostLimit))
	}
	if c.PollIntervalSecs < 1 {
		errs = append(errs, fmt.Errorf("PARSE_INTERVAL must be positive, got %d", c.PollIntervalSecs))
	}
	if c.PublishDelaySecs < 0 {
		errs = append(errs, fmt.Errorf("PUBLISH_DELAY must not be negative, got %d", c.PublishDelaySecs))
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("SIMILARITY_THRESHOLD must be in (0, 1], got %v", c.SimilarityThreshold))
	}
	if c.RetentionDays < 1 {
		errs = append(errs, fmt.Errorf("RETENTION_DAYS must be positive, got %d", c.RetentionDays))
	}
	if c.MaxAlbumSize < 2 || c.MaxAlbumSize > 10 {
		errs = append(errs, fmt.Errorf("MAX_ALBUM_SIZE must be between 2 and 10, got %d", c.MaxAlbumSize))
	}
	if c.MaxCaptionLength < 1 {
		errs = append(errs, fmt.Errorf("MAX_CAPTION_LENGTH must be positive, got %d", c.MaxCaptionLength))
	}
	if c.EmbeddingDimensions < 1 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSIONS must be positive, got %d", c.EmbeddingDimensions))
	}
	switch c.DBDriver {
	case "postgres":
		if c.DBHost == "" || c.DBUser == "" || c.DBName == "" {
			errs = append(errs, errors.New("DB_HOST, DB_USER and DB_NAME are required for the postgres driver"))
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}
	if _, err := cron.ParseStandard(c.RetentionSchedule); err != nil {
		errs = append(errs, fmt.Errorf("RETENTION_SCHEDULE %q: %v", c.RetentionSchedule, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// RequireCredentials checks the tokens needed to talk to the source feed,
// the output feed and the encoder.
func (c Config) RequireCredentials() error {
	var missing []string
	if c.DiscordToken == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}
	if c.TelegramToken == "" {
		missing = append(missing, "TELEGRAM_TOKEN")
	}
	if c.OpenAIKey == "" && c.EmbeddingBaseURL == "" {
		missing = append(missing, "OPENAI_API_KEY or EMBEDDING_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

func (c Config) PublishDelay() time.Duration {
	return time.Duration(c.PublishDelaySecs) * time.Second
}

func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func (c Config) BatchLogPath() string {
	return filepath.Join(c.DataDir, "posts.jsonl")
}

func (c Config) LastSeenPath() string {
	return filepath.Join(c.DataDir, "last_dates.json")
}

func (c Config) IndexSnapshotPath() string {
	return filepath.Join(c.DataDir, "vector_index.gob")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
