// internal/discord/source.go
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"channel-relay/internal/feed"

	"github.com/bwmarrin/discordgo"
)

// pageSize is the largest page the channel history endpoint returns.
const pageSize = 100

// Source reads channel history over the Discord REST API. No gateway
// connection is opened.
type Source struct {
	session *discordgo.Session
	client  *http.Client
}

func NewSource(token string) (*Source, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return NewSourceWithSession(session), nil
}

func NewSourceWithSession(session *discordgo.Session) *Source {
	// Rate limits are reported to the caller instead of slept through here
	session.ShouldRetryOnRateLimit = false
	return &Source{session: session, client: session.Client}
}

// Resolve accepts a channel id, or "<guild id>/<channel name>".
func (s *Source) Resolve(ctx context.Context, name string) (feed.Handle, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "#")

	if guildID, channelName, ok := strings.Cut(name, "/"); ok {
		channels, err := s.session.GuildChannels(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return feed.Handle{}, mapError(err)
		}
		for _, ch := range channels {
			if strings.EqualFold(ch.Name, channelName) {
				return feed.Handle{ID: ch.ID, Name: ch.Name}, nil
			}
		}
		return feed.Handle{}, fmt.Errorf("channel %q not found in guild %s", channelName, guildID)
	}

	ch, err := s.session.Channel(name, discordgo.WithContext(ctx))
	if err != nil {
		return feed.Handle{}, mapError(err)
	}
	return feed.Handle{ID: ch.ID, Name: ch.Name}, nil
}

// Messages pages backwards through the channel history, newest first.
func (s *Source) Messages(ctx context.Context, h feed.Handle, limit int) iter.Seq2[feed.RawMessage, error] {
	return func(yield func(feed.RawMessage, error) bool) {
		var (
			before string
			seen   int
		)
		for seen < limit {
			want := min(pageSize, limit-seen)

			var page []*discordgo.Message
			err := feed.WaitRateLimit(ctx, func() error {
				var err error
				page, err = s.session.ChannelMessages(h.ID, want, before, "", "", discordgo.WithContext(ctx))
				return mapError(err)
			})
			if err != nil {
				yield(feed.RawMessage{}, err)
				return
			}

			for _, m := range page {
				raw, err := toRawMessage(m)
				if err != nil {
					yield(feed.RawMessage{}, err)
					return
				}
				if !yield(raw, nil) {
					return
				}
				seen++
			}

			if len(page) < want {
				return
			}
			before = page[len(page)-1].ID
		}
	}
}

// Discord has no albums: a message with several attachments is already one
// post, so GroupID stays zero.
func toRawMessage(m *discordgo.Message) (feed.RawMessage, error) {
	id, err := strconv.ParseInt(m.ID, 10, 64)
	if err != nil {
		return feed.RawMessage{}, fmt.Errorf("message id %q: %w", m.ID, err)
	}

	raw := feed.RawMessage{
		ID:   id,
		Date: m.Timestamp.UTC(),
		Text: m.Content,
	}
	for _, a := range m.Attachments {
		raw.Media = append(raw.Media, feed.MediaRef{
			URL:      a.URL,
			Filename: a.Filename,
			MIMEType: a.ContentType,
		})
	}
	return raw, nil
}

// DownloadMedia fetches an attachment into dir.
func (s *Source) DownloadMedia(ctx context.Context, ref feed.MediaRef, dir string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ref.Filename, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", feed.ErrMediaNotFound, ref.URL)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", feed.ErrForbidden, ref.URL)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &feed.RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("download %s: unexpected status %s", ref.Filename, resp.Status)
	}

	target := filepath.Join(dir, fileName(ref))
	f, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(target)
		return nil, fmt.Errorf("write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return nil, err
	}
	return []string{target}, nil
}

func fileName(ref feed.MediaRef) string {
	if name := filepath.Base(ref.Filename); name != "." && name != "/" && name != "" {
		return name
	}
	if u, err := url.Parse(ref.URL); err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" {
			return name
		}
	}
	return "attachment"
}

func retryAfter(header string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(header), 64)
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs * float64(time.Second))
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) && rl.RateLimit != nil && rl.TooManyRequests != nil {
		return &feed.RateLimitError{RetryAfter: rl.RetryAfter}
	}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", feed.ErrForbidden, err)
		}
	}
	return err
}
