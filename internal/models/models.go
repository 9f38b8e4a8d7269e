// internal/models/models.go
package models

import (
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// MediaKind is the closed set of media categories a downloaded file can belong to.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaUnknown  MediaKind = "unknown"
)

// ClassifyMedia maps a declared MIME type or type category to a MediaKind.
// Anything it cannot resolve is MediaUnknown.
func ClassifyMedia(declared string) MediaKind {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "" {
		return MediaUnknown
	}

	category, _, _ := strings.Cut(declared, "/")
	switch category {
	case "photo", "image":
		return MediaPhoto
	case "video", "gif":
		return MediaVideo
	case "audio", "voice":
		return MediaAudio
	}

	if !strings.Contains(declared, "/") && category != "document" {
		return MediaUnknown
	}
	return MediaDocument
}

type Post struct {
	ID        uint            `gorm:"primaryKey"`
	Channel   string          `gorm:"size:255;not null;uniqueIndex:idx_posts_channel_post"`
	PostID    int64           `gorm:"not null;uniqueIndex:idx_posts_channel_post"`
	Date      time.Time       `gorm:"not null;index"`
	Text      string          `gorm:"type:text"`
	Published bool            `gorm:"not null;default:false;index"`
	IsAlbum   bool            `gorm:"not null;default:false"`
	Embedding pgvector.Vector `gorm:"type:vector"`
	Media     []Media         `gorm:"foreignKey:OwnerID"`
	CreatedAt time.Time
}

// Key returns the (channel, post_id) identity of the post.
func (p *Post) Key() PostKey {
	return PostKey{Channel: p.Channel, PostID: p.PostID}
}

// Empty reports whether the post carries neither text nor media.
func (p *Post) Empty() bool {
	return strings.TrimSpace(p.Text) == "" && len(p.Media) == 0
}

// MediaPaths lists the on-disk paths of the post's media in ordinal order.
func (p *Post) MediaPaths() []string {
	paths := make([]string, 0, len(p.Media))
	for _, m := range p.Media {
		paths = append(paths, m.Path)
	}
	return paths
}

type Media struct {
	ID      uint      `gorm:"primaryKey"`
	OwnerID uint      `gorm:"not null;uniqueIndex:idx_media_owner_ordinal"`
	Ordinal int       `gorm:"not null;uniqueIndex:idx_media_owner_ordinal"`
	Path    string    `gorm:"size:500;not null"`
	Kind    MediaKind `gorm:"size:50;not null"`
}

func (Media) TableName() string {
	return "media"
}

type Setting struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// PostKey identifies a post across every store.
type PostKey struct {
	Channel string `json:"channel"`
	PostID  int64  `json:"post_id"`
}
