package main

import (
	"fmt"
	"strings"
	"time"

	"channel-relay/internal/models"

	"github.com/spf13/cobra"
)

var (
	flagPostsLimit       int
	flagPostsUnpublished bool
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Show the most recent stored posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var posts []models.Post
		if flagPostsUnpublished {
			posts, err = a.store.UnpublishedPosts(cmd.Context())
			if len(posts) > flagPostsLimit {
				posts = posts[:flagPostsLimit]
			}
		} else {
			posts, err = a.store.RecentPosts(cmd.Context(), flagPostsLimit)
		}
		if err != nil {
			return err
		}

		if len(posts) == 0 {
			fmt.Println("No posts stored.")
			return nil
		}
		for _, p := range posts {
			fmt.Println(formatPost(p))
		}
		return nil
	},
}

func init() {
	postsCmd.Flags().IntVar(&flagPostsLimit, "limit", 10, "number of posts to show")
	postsCmd.Flags().BoolVar(&flagPostsUnpublished, "unpublished", false, "only show posts not yet published")
}

func formatPost(p models.Post) string {
	status := "pending"
	if p.Published {
		status = "published"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "@%s/%d  %s  [%s]", p.Channel, p.PostID, p.Date.Local().Format(time.DateTime), status)
	if p.IsAlbum {
		b.WriteString(" album")
	}
	b.WriteString("\n")
	if text := strings.TrimSpace(p.Text); text != "" {
		fmt.Fprintf(&b, "  %s\n", preview(text, 120))
	}
	for _, m := range p.Media {
		fmt.Fprintf(&b, "  - %s %s\n", m.Kind, m.Path)
	}
	return b.String()
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
