// Package grouper turns raw feed messages into post candidates, merging
// messages that share a group id into one album post.
package grouper

import (
	"cmp"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"channel-relay/internal/feed"
	"channel-relay/internal/filex"
	"channel-relay/internal/models"
)

// Group is the set of raw messages that make up one post, in chronological
// order.
type Group struct {
	Messages []feed.RawMessage
}

// PostID is the id of the earliest message.
func (g Group) PostID() int64 {
	return g.Messages[0].ID
}

// Date is the date of the earliest message.
func (g Group) Date() time.Time {
	return g.Messages[0].Date
}

func (g Group) first() feed.RawMessage {
	return g.Messages[0]
}

// Assemble groups msgs. Messages with neither text nor media are dropped,
// messages sharing a non-zero GroupID form one group wherever they appear,
// and every other message is a group of its own. Groups come back ordered by
// their earliest message.
func Assemble(msgs []feed.RawMessage) []Group {
	var (
		groups []Group
		byID   = make(map[int64]int)
	)
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" && len(m.Media) == 0 {
			continue
		}
		if m.GroupID == 0 {
			groups = append(groups, Group{Messages: []feed.RawMessage{m}})
			continue
		}
		if i, ok := byID[m.GroupID]; ok {
			groups[i].Messages = append(groups[i].Messages, m)
			continue
		}
		byID[m.GroupID] = len(groups)
		groups = append(groups, Group{Messages: []feed.RawMessage{m}})
	}

	for i := range groups {
		slices.SortStableFunc(groups[i].Messages, chronological)
	}
	slices.SortStableFunc(groups, func(a, b Group) int {
		return chronological(a.first(), b.first())
	})
	return groups
}

func chronological(a, b feed.RawMessage) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Grouper builds posts from groups, downloading their media through the
// source.
type Grouper struct {
	source    feed.Source
	mediaRoot string
	log       *slog.Logger
}

func New(source feed.Source, mediaRoot string, log *slog.Logger) *Grouper {
	return &Grouper{source: source, mediaRoot: mediaRoot, log: log}
}

// Dir is where media of the given post is downloaded: one directory per
// channel directly under the media root, one per post below it.
func (gr *Grouper) Dir(channel string, postID int64) string {
	return filepath.Join(gr.mediaRoot, filex.SafeName(channel), strconv.FormatInt(postID, 10))
}

// Build merges g into one post candidate. Texts are joined with a blank line
// in chronological order; media is downloaded message by message. A failed
// download drops only that item. It returns false when nothing is left to
// post.
func (gr *Grouper) Build(ctx context.Context, channel string, g Group) (models.Post, bool) {
	first := g.first()
	post := models.Post{
		Channel: channel,
		PostID:  first.ID,
		Date:    first.Date.UTC(),
		IsAlbum: len(g.Messages) > 1,
	}

	var texts []string
	for _, m := range g.Messages {
		if t := strings.TrimSpace(m.Text); t != "" {
			texts = append(texts, t)
		}
	}
	post.Text = strings.Join(texts, "\n\n")

	dir := gr.Dir(channel, post.PostID)
	for _, m := range g.Messages {
		for _, ref := range m.Media {
			post.Media = append(post.Media, gr.download(ctx, channel, m.ID, ref, dir)...)
		}
	}

	if post.Empty() {
		os.RemoveAll(dir)
		gr.log.Info("skipping post without content", "channel", channel, "post_id", post.PostID)
		return models.Post{}, false
	}
	return post, true
}

func (gr *Grouper) download(ctx context.Context, channel string, msgID int64, ref feed.MediaRef, dir string) []models.Media {
	if _, err := filex.EnsureDir(dir); err != nil {
		gr.log.Error("failed to create media dir", "channel", channel, "message_id", msgID, "error", err)
		return nil
	}

	var paths []string
	err := feed.WaitRateLimit(ctx, func() error {
		var err error
		paths, err = gr.source.DownloadMedia(ctx, ref, dir)
		return err
	})
	if err != nil {
		gr.log.Warn("media download failed, dropping item",
			"channel", channel, "message_id", msgID, "file", ref.Filename, "error", err)
		return nil
	}

	kind := models.ClassifyMedia(ref.MIMEType)
	media := make([]models.Media, 0, len(paths))
	for _, p := range paths {
		media = append(media, models.Media{Path: p, Kind: kind})
	}
	return media
}

// Group assembles msgs and builds every resulting post.
func (gr *Grouper) Group(ctx context.Context, channel string, msgs []feed.RawMessage) []models.Post {
	var posts []models.Post
	for _, g := range Assemble(msgs) {
		if p, ok := gr.Build(ctx, channel, g); ok {
			posts = append(posts, p)
		}
	}
	return posts
}
