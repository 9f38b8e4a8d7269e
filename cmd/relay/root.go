package main

import (
	"fmt"
	"log/slog"
	"os"

	"channel-relay/internal/ai"
	"channel-relay/internal/config"
	"channel-relay/internal/database"
	"channel-relay/internal/dedup"
	"channel-relay/internal/journal"
	"channel-relay/internal/logging"
	"channel-relay/internal/store"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "Relay channel posts to one output channel, skipping near-duplicates",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("relay %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(postsCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(versionCmd)
}

// app holds what every command opens: configuration, logger, database and
// the post store with its similarity index.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	db      *database.DB
	encoder *ai.AIService
	store   *store.PostStore
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	// Initialize database
	db, err := database.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize embeddings client
	encoder := ai.NewAIService(cfg.OpenAIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions)

	index, err := dedup.Load(encoder, cfg.SimilarityThreshold, cfg.IndexSnapshotPath())
	if err != nil {
		log.Warn("index snapshot unreadable, rebuilding from stored posts", "error", err)
		index = dedup.New(encoder, cfg.SimilarityThreshold, cfg.IndexSnapshotPath())
	}

	s := store.New(
		db,
		journal.NewBatchLog(cfg.BatchLogPath()),
		journal.NewLastSeen(cfg.LastSeenPath()),
		index,
		log,
	)
	return &app{cfg: cfg, log: log, db: db, encoder: encoder, store: s}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("failed to close database", "error", err)
	}
}
