package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMedia(t *testing.T) {
	tests := []struct {
		declared string
		want     MediaKind
	}{
		{"image/jpeg", MediaPhoto},
		{"photo", MediaPhoto},
		{"video/mp4", MediaVideo},
		{"VIDEO/quicktime", MediaVideo},
		{"audio/ogg", MediaAudio},
		{"application/pdf", MediaDocument},
		{"document", MediaDocument},
		{"text/plain; charset=utf-8", MediaDocument},
		{"", MediaUnknown},
		{"sticker", MediaUnknown},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, ClassifyMedia(tc.declared), "declared=%q", tc.declared)
	}
}

func TestPostEmpty(t *testing.T) {
	assert.True(t, (&Post{Text: "  \n"}).Empty())
	assert.False(t, (&Post{Text: "hello"}).Empty())
	assert.False(t, (&Post{Media: []Media{{Path: "a.jpg"}}}).Empty())
}

func TestPostMediaPaths(t *testing.T) {
	p := &Post{Media: []Media{{Ordinal: 0, Path: "a.jpg"}, {Ordinal: 1, Path: "b.mp4"}}}
	assert.Equal(t, []string{"a.jpg", "b.mp4"}, p.MediaPaths())
	assert.Equal(t, PostKey{Channel: "c", PostID: 7}, (&Post{Channel: "c", PostID: 7}).Key())
}
