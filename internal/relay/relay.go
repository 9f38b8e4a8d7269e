// Package relay runs the single cooperative loop: ingest every channel,
// publish what is pending, expire old data when due, then sleep.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"channel-relay/internal/cleaner"
	"channel-relay/internal/dedup"
	"channel-relay/internal/feed"
	"channel-relay/internal/ingest"
	"channel-relay/internal/publisher"
)

type Ingestor interface {
	IngestChannel(ctx context.Context, channel string, since time.Time) (ingest.Result, error)
}

type Publisher interface {
	PublishPending(ctx context.Context) (publisher.Summary, error)
}

type Retention interface {
	Due(ctx context.Context, now time.Time) (bool, error)
	Run(ctx context.Context, now time.Time) (cleaner.Report, error)
}

// Store holds the per-channel positions and keeps the similarity index
// aligned with the stored posts.
type Store interface {
	LastSeen() (map[string]time.Time, error)
	SaveLastSeen(map[string]time.Time) error
	ReconcileIndex(ctx context.Context) (bool, error)
}

type Relay struct {
	channels  []string
	interval  time.Duration
	ingestor  Ingestor
	publisher Publisher
	retention Retention
	store     Store
	log       *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(channels []string, interval time.Duration, in Ingestor, pub Publisher, ret Retention, store Store, log *slog.Logger) *Relay {
	return &Relay{
		channels:  channels,
		interval:  interval,
		ingestor:  in,
		publisher: pub,
		retention: ret,
		store:     store,
		log:       log,
		now:       time.Now,
		sleep:     feed.Sleep,
	}
}

// Run repeats RunCycle every interval until ctx is cancelled. Only a
// configuration error ends it early.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("relay started", "channels", len(r.channels), "interval", r.interval)
	for {
		if err := r.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}

		r.log.Info("cycle finished", "next_in", r.interval)
		if err := r.sleep(ctx, r.interval); err != nil {
			break
		}
	}
	r.log.Info("relay stopped")
	return nil
}

// RunCycle realigns the similarity index, ingests channels one after
// another, records their new positions, publishes pending posts and runs
// retention when due. Per-channel and publish failures are logged, not
// returned.
func (r *Relay) RunCycle(ctx context.Context) error {
	if _, err := r.store.ReconcileIndex(ctx); err != nil {
		if errors.Is(err, dedup.ErrDimensionMismatch) {
			return err
		}
		r.log.Error("failed to reconcile similarity index", "error", err)
	}

	seen, err := r.store.LastSeen()
	if err != nil {
		r.log.Warn("failed to load last seen positions, scanning from scratch", "error", err)
		seen = make(map[string]time.Time)
	}
	next := maps.Clone(seen)

	for _, ch := range r.channels {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := r.ingestor.IngestChannel(ctx, ch, seen[ch])
		if errors.Is(err, dedup.ErrDimensionMismatch) {
			return err
		}
		if err != nil {
			r.log.Error("channel ingestion failed", "channel", ch, "error", err)
			continue
		}
		if res.Failed == 0 && res.Newest.After(next[ch]) {
			next[ch] = res.Newest
		}
	}

	if !maps.Equal(seen, next) {
		if err := r.store.SaveLastSeen(next); err != nil {
			r.log.Error("failed to save last seen positions", "error", err)
		}
	}

	sum, err := r.publisher.PublishPending(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Error("publishing stopped", "error", err)
	}
	r.log.Info("publish pass finished", "published", sum.Published, "failed", sum.Failed, "skipped", sum.Skipped)

	now := r.now()
	due, err := r.retention.Due(ctx, now)
	if err != nil {
		r.log.Error("failed to check retention schedule", "error", err)
		return nil
	}
	if due {
		if _, err := r.retention.Run(ctx, now); err != nil {
			r.log.Error("retention sweep incomplete", "error", err)
		}
	}
	return nil
}
