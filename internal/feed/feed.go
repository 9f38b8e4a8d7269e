// Package feed defines the contracts between the relay core and the feed
// clients it reads from and publishes to.
package feed

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"channel-relay/internal/models"
)

var (
	// ErrForbidden means the client is not allowed to act on a target.
	// It is fatal for that target for the rest of the pass.
	ErrForbidden = errors.New("forbidden")

	// ErrMediaNotFound means a media item could not be located; only that
	// item is skipped.
	ErrMediaNotFound = errors.New("media not found")
)

// RateLimitError is returned when the remote side asks the caller to wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// MediaRef points at one downloadable media item attached to a message.
type MediaRef struct {
	URL      string
	Filename string
	// MIMEType is the type declared by the source, e.g. "image/jpeg" or "photo".
	MIMEType string
}

// RawMessage is a message as delivered by a source, before grouping.
type RawMessage struct {
	ID      int64
	Date    time.Time
	Text    string
	Media   []MediaRef
	GroupID int64
}

// Handle identifies a resolved source channel.
type Handle struct {
	ID   string
	Name string
}

// Source reads history from a content feed.
type Source interface {
	Resolve(ctx context.Context, name string) (Handle, error)
	// Messages yields up to limit messages newest-first. The sequence is
	// lazy and cannot be restarted once iteration stops.
	Messages(ctx context.Context, h Handle, limit int) iter.Seq2[RawMessage, error]
	// DownloadMedia stores ref under dir and returns the written file paths.
	DownloadMedia(ctx context.Context, ref MediaRef, dir string) ([]string, error)
}

// MediaFile is a local file handed to a Sender.
type MediaFile struct {
	Path string
	Kind models.MediaKind
}

// Sender publishes to the output feed.
type Sender interface {
	SendText(ctx context.Context, target, text string) error
	// SendMedia sends one file, or an album when len(files) > 1. The caption
	// belongs to the first file.
	SendMedia(ctx context.Context, target string, files []MediaFile, caption string) error
}

// WaitRateLimit runs fn, sleeping exactly the advertised duration whenever
// fn reports a RateLimitError, until fn returns anything else or ctx ends.
func WaitRateLimit(ctx context.Context, fn func() error) error {
	for {
		err := fn()
		var rl *RateLimitError
		if !errors.As(err, &rl) {
			return err
		}
		if err := Sleep(ctx, rl.RetryAfter); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
