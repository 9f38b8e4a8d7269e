// Package ingest pulls recent history from one source channel into the post
// store, dropping posts whose text is already known.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"channel-relay/internal/dedup"
	"channel-relay/internal/feed"
	"channel-relay/internal/filex"
	"channel-relay/internal/grouper"
	"channel-relay/internal/models"

	"github.com/pgvector/pgvector-go"
)

// minScan is the smallest number of messages requested per channel.
const minScan = 20

type Store interface {
	Exists(ctx context.Context, key models.PostKey) (bool, error)
	Add(ctx context.Context, post *models.Post) (bool, error)
}

// Result summarises one channel pass.
type Result struct {
	Channel    string
	Scanned    int
	Added      int
	Known      int
	Duplicates int
	Failed     int
	// Newest is the date of the newest message scanned, zero if none.
	Newest time.Time
}

type Ingestor struct {
	source    feed.Source
	grouper   *grouper.Grouper
	store     Store
	index     *dedup.Index
	postLimit int
	mediaRoot string
	log       *slog.Logger
}

func New(source feed.Source, gr *grouper.Grouper, store Store, index *dedup.Index, postLimit int, mediaRoot string, log *slog.Logger) *Ingestor {
	return &Ingestor{
		source:    source,
		grouper:   gr,
		store:     store,
		index:     index,
		postLimit: postLimit,
		mediaRoot: mediaRoot,
		log:       log,
	}
}

// IngestChannel scans channel newest-first until postLimit posts are
// collected or a message not newer than since shows up, then stores every
// new, non-duplicate post. Per-post failures are counted and logged; only
// dedup.ErrDimensionMismatch and scan failures are returned.
func (in *Ingestor) IngestChannel(ctx context.Context, channel string, since time.Time) (Result, error) {
	res := Result{Channel: channel}
	log := in.log.With("channel", channel)

	var h feed.Handle
	err := feed.WaitRateLimit(ctx, func() error {
		var err error
		h, err = in.source.Resolve(ctx, channel)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("resolve %s: %w", channel, err)
	}

	msgs, err := in.scan(ctx, h, since)
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", channel, err)
	}
	res.Scanned = len(msgs)
	for _, m := range msgs {
		if m.Date.After(res.Newest) {
			res.Newest = m.Date
		}
	}

	for _, g := range grouper.Assemble(msgs) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := in.ingestGroup(ctx, log, channel, g, &res); err != nil {
			return res, err
		}
	}

	log.Info("channel ingested",
		"scanned", res.Scanned, "added", res.Added, "known", res.Known,
		"duplicates", res.Duplicates, "failed", res.Failed)
	return res, nil
}

func (in *Ingestor) scan(ctx context.Context, h feed.Handle, since time.Time) ([]feed.RawMessage, error) {
	type groupKey struct {
		group int64
		msg   int64
	}
	var (
		out  []feed.RawMessage
		seen = make(map[groupKey]bool)
	)

	for m, err := range in.source.Messages(ctx, h, max(minScan, in.postLimit*7)) {
		if err != nil {
			return nil, err
		}
		if !since.IsZero() && !m.Date.After(since) {
			break
		}
		if strings.TrimSpace(m.Text) == "" && len(m.Media) == 0 {
			continue
		}

		k := groupKey{group: m.GroupID}
		if m.GroupID == 0 {
			k.msg = m.ID
		}
		if !seen[k] {
			if len(seen) >= in.postLimit {
				break
			}
			seen[k] = true
		}
		out = append(out, m)
	}
	return out, nil
}

func (in *Ingestor) ingestGroup(ctx context.Context, log *slog.Logger, channel string, g grouper.Group, res *Result) error {
	key := models.PostKey{Channel: channel, PostID: g.PostID()}
	log = log.With("post_id", key.PostID)

	known, err := in.store.Exists(ctx, key)
	if err != nil {
		log.Error("failed to check post", "error", err)
		res.Failed++
		return nil
	}
	if known {
		res.Known++
		return nil
	}

	post, ok := in.grouper.Build(ctx, channel, g)
	if !ok {
		return nil
	}

	vec, err := in.index.Embed(ctx, post.Text)
	if err != nil {
		log.Error("failed to embed post", "error", err)
		in.discardMedia(log, &post)
		res.Failed++
		return nil
	}

	dup, err := in.index.IsDuplicate(vec)
	if err != nil {
		in.discardMedia(log, &post)
		return err
	}
	if dup {
		log.Info("duplicate post skipped")
		in.discardMedia(log, &post)
		res.Duplicates++
		return nil
	}

	post.Embedding = pgvector.NewVector(vec)
	added, err := in.store.Add(ctx, &post)
	if errors.Is(err, dedup.ErrDimensionMismatch) {
		return err
	}
	if err != nil {
		log.Error("failed to store post", "error", err)
		if !added {
			in.discardMedia(log, &post)
		}
		res.Failed++
		return nil
	}
	if !added {
		res.Known++
		return nil
	}
	res.Added++
	return nil
}

func (in *Ingestor) discardMedia(log *slog.Logger, post *models.Post) {
	paths := post.MediaPaths()
	if _, err := filex.RemoveFiles(paths); err != nil {
		log.Warn("failed to remove media", "error", err)
	}
	for _, p := range paths {
		if err := filex.PruneEmptyParents(p, in.mediaRoot); err != nil {
			log.Warn("failed to prune media dirs", "path", p, "error", err)
		}
	}
}
