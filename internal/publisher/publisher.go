// Package publisher drains unpublished posts to the output feed with a
// bounded number of attempts per post.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"channel-relay/internal/feed"
	"channel-relay/internal/filex"
	"channel-relay/internal/models"
)

const (
	MaxAttempts = 3

	// maxRateLimitWaits bounds how many rate-limit sleeps one post may take
	// before the signal is counted as a failed attempt.
	maxRateLimitWaits = 5
)

type State int

const (
	Pending State = iota
	Publishing
	Published
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Publishing:
		return "publishing"
	case Published:
		return "published"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the result of publishing one post.
type Outcome struct {
	State    State
	Attempts int
	Err      error
}

// Summary counts what one PublishPending pass did.
type Summary struct {
	Published int
	Failed    int
	Skipped   int
}

// Store is the part of the post store the coordinator needs.
type Store interface {
	UnpublishedPosts(ctx context.Context) ([]models.Post, error)
	MarkPublished(ctx context.Context, key models.PostKey) (bool, error)
}

type Options struct {
	Target           string
	Header           string
	Delay            time.Duration
	MaxAlbumSize     int
	MaxCaptionLength int
	MediaRoot        string
}

type Coordinator struct {
	store  Store
	sender feed.Sender
	opts   Options
	log    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func New(store Store, sender feed.Sender, opts Options, log *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		sender: sender,
		opts:   opts,
		log:    log,
		sleep:  feed.Sleep,
	}
}

// PublishPending publishes every unpublished post, oldest first. It stops
// early when ctx is cancelled or the target refuses access.
func (c *Coordinator) PublishPending(ctx context.Context) (Summary, error) {
	var sum Summary

	posts, err := c.store.UnpublishedPosts(ctx)
	if err != nil {
		return sum, err
	}
	slices.Reverse(posts)

	for i := range posts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		post := &posts[i]
		out := c.Publish(ctx, post)
		switch out.State {
		case Published:
			sum.Published++
		case Failed:
			sum.Failed++
		default:
			sum.Skipped++
		}

		if errors.Is(out.Err, feed.ErrForbidden) {
			return sum, fmt.Errorf("publish to %s: %w", c.opts.Target, out.Err)
		}
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		if out.State == Published {
			if err := c.sleep(ctx, c.opts.Delay); err != nil {
				return sum, err
			}
		}
	}
	return sum, nil
}

// Publish runs the attempt loop for one post. Sends are never interrupted
// by ctx; only the waits between them are.
func (c *Coordinator) Publish(ctx context.Context, post *models.Post) Outcome {
	log := c.log.With("channel", post.Channel, "post_id", post.PostID)
	sendCtx := context.WithoutCancel(ctx)

	files := c.deliverableMedia(log, post)
	if len(files) == 0 && strings.TrimSpace(post.Text) == "" {
		log.Warn("nothing deliverable, leaving post pending")
		return Outcome{State: Pending}
	}

	d := &delivery{post: post, files: files}
	var (
		attempt = 1
		waits   int
		lastErr error
	)
	for {
		log.Debug("sending post", "state", Publishing.String(), "attempt", attempt)
		err := c.attempt(ctx, sendCtx, d)
		if err == nil {
			return c.finish(ctx, log, post, attempt)
		}
		lastErr = err

		var rl *feed.RateLimitError
		if errors.As(err, &rl) && waits < maxRateLimitWaits {
			waits++
			log.Warn("rate limited", "retry_after", rl.RetryAfter, "delay", c.opts.Delay, "attempt", attempt)
			if err := c.sleep(ctx, c.opts.Delay+rl.RetryAfter); err != nil {
				return Outcome{State: Pending, Attempts: attempt, Err: err}
			}
			continue
		}
		if errors.Is(err, feed.ErrForbidden) {
			log.Error("target refused the post", "attempt", attempt, "error", err)
			return Outcome{State: Failed, Attempts: attempt, Err: err}
		}

		log.Warn("publish attempt failed", "attempt", attempt, "error", err)
		if attempt == MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.opts.Delay); err != nil {
			return Outcome{State: Pending, Attempts: attempt, Err: err}
		}
		attempt++
	}

	log.Error("giving up on post for this cycle", "attempts", attempt, "error", lastErr)
	return Outcome{State: Failed, Attempts: attempt, Err: lastErr}
}

// delivery tracks progress across attempts so text chunks that already went
// out are not sent again.
type delivery struct {
	post      *models.Post
	files     []feed.MediaFile
	delivered int
}

func (c *Coordinator) attempt(ctx, sendCtx context.Context, d *delivery) error {
	suffix := Attribution(d.post.Channel)

	if len(d.files) == 0 {
		chunks := SplitText(c.opts.Header+d.post.Text+suffix, MaxMessageLength)
		for d.delivered < len(chunks) {
			if err := c.sender.SendText(sendCtx, c.opts.Target, chunks[d.delivered]); err != nil {
				return err
			}
			d.delivered++
			if d.delivered < len(chunks) {
				if err := c.sleep(ctx, c.opts.Delay); err != nil {
					return err
				}
			}
		}
		return nil
	}

	files := d.files
	if c.opts.MaxAlbumSize > 0 && len(files) > c.opts.MaxAlbumSize {
		files = files[:c.opts.MaxAlbumSize]
	}
	caption := ShapeCaption(c.opts.Header, d.post.Text, suffix, c.opts.MaxCaptionLength)
	return c.sender.SendMedia(sendCtx, c.opts.Target, files, caption)
}

func (c *Coordinator) deliverableMedia(log *slog.Logger, post *models.Post) []feed.MediaFile {
	files := make([]feed.MediaFile, 0, len(post.Media))
	for _, m := range post.Media {
		if _, err := os.Stat(m.Path); err != nil {
			log.Warn("skipping media item", "path", m.Path, "error", fmt.Errorf("%w: %v", feed.ErrMediaNotFound, err))
			continue
		}
		files = append(files, feed.MediaFile{Path: m.Path, Kind: m.Kind})
	}
	return files
}

func (c *Coordinator) finish(ctx context.Context, log *slog.Logger, post *models.Post, attempts int) Outcome {
	marked, err := c.store.MarkPublished(context.WithoutCancel(ctx), post.Key())
	if err != nil {
		// Media stays on disk so the next cycle can deliver it again.
		log.Error("published but failed to record it", "attempt", attempts, "error", err)
		return Outcome{State: Published, Attempts: attempts, Err: err}
	}
	if !marked {
		log.Warn("post was already marked published")
	}
	log.Info("post published", "attempt", attempts, "media", len(post.Media))

	paths := post.MediaPaths()
	if _, err := filex.RemoveFiles(paths); err != nil {
		log.Warn("failed to remove published media", "error", err)
	}
	for _, p := range paths {
		if err := filex.PruneEmptyParents(p, c.opts.MediaRoot); err != nil {
			log.Warn("failed to prune media dirs", "path", p, "error", err)
		}
	}
	return Outcome{State: Published, Attempts: attempts}
}
