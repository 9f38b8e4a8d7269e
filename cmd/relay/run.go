package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channel-relay/internal/cleaner"
	"channel-relay/internal/discord"
	"channel-relay/internal/grouper"
	"channel-relay/internal/ingest"
	"channel-relay/internal/publisher"
	"channel-relay/internal/relay"
	"channel-relay/internal/telegram"

	"github.com/spf13/cobra"
)

var flagOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest, deduplicate and publish in a loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.cfg.RequireCredentials(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Create Discord session
		source, err := discord.NewSource(a.cfg.DiscordToken)
		if err != nil {
			return err
		}

		sender, err := telegram.NewSender(a.cfg.TelegramToken)
		if err != nil {
			return err
		}

		gr := grouper.New(source, a.cfg.MediaRoot, a.log)
		in := ingest.New(source, gr, a.store, a.store.Index(), a.cfg.PostLimit, a.cfg.MediaRoot, a.log)
		pub := publisher.New(a.store, sender, publisher.Options{
			Target:           a.cfg.OutputChannel,
			Header:           a.cfg.CaptionHeader,
			Delay:            a.cfg.PublishDelay(),
			MaxAlbumSize:     a.cfg.MaxAlbumSize,
			MaxCaptionLength: a.cfg.MaxCaptionLength,
			MediaRoot:        a.cfg.MediaRoot,
		}, a.log)
		ret, err := cleaner.New(a.store, a.cfg.RetentionSchedule, a.cfg.Retention(), a.cfg.MediaRoot, a.log)
		if err != nil {
			return err
		}

		r := relay.New(a.cfg.Channels, a.cfg.PollInterval(), in, pub, ret, a.store, a.log)
		if flagOnce {
			return r.RunCycle(ctx)
		}

		a.log.Info("relay is running", "channels", a.cfg.Channels, "output", a.cfg.OutputChannel, "version", version)
		if err := r.Run(ctx); err != nil {
			return err
		}
		a.log.Info("shutting down relay")
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Run the retention sweep once, regardless of schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ret, err := cleaner.New(a.store, a.cfg.RetentionSchedule, a.cfg.Retention(), a.cfg.MediaRoot, a.log)
		if err != nil {
			return err
		}
		rep, err := ret.Run(cmd.Context(), time.Now())
		fmt.Printf("Removed %d post(s), %d file(s), %d batch record(s), %d media dir(s) older than %s.\n",
			rep.Posts, rep.Files, rep.Batches, rep.Dirs, rep.Cutoff.Format(time.DateOnly))
		return err
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the similarity index from stored embeddings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.RebuildIndex(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Index rebuilt with %d entries.\n", a.store.Index().Len())
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "run a single cycle and exit")
}
