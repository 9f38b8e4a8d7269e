package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"channel-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchLogAppendAndRead(t *testing.T) {
	log := NewBatchLog(filepath.Join(t.TempDir(), "data", "posts.jsonl"))
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	post := &models.Post{
		Channel: "news", PostID: 3, Date: ts, Text: "b\n\na", IsAlbum: true,
		Media: []models.Media{{Path: "media/news/3/x.jpg", Kind: models.MediaPhoto}},
	}
	require.NoError(t, log.Append(Batch{Timestamp: ts, Posts: []PostRecord{NewPostRecord(post)}}))
	require.NoError(t, log.Append(Batch{Timestamp: ts}))

	data, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1, "empty batches are not written")
	assert.Contains(t, lines[0], `"timestamp":"2025-06-01T10:00:00Z"`)

	batches, err := log.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.NotEmpty(t, batches[0].ID)
	require.Len(t, batches[0].Posts, 1)
	assert.Equal(t, int64(3), batches[0].Posts[0].PostID)
	assert.Equal(t, models.MediaPhoto, batches[0].Posts[0].Media[0].Kind)
}

func TestBatchLogPruneKeepsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.jsonl")
	log := NewBatchLog(path)
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)

	old := Batch{Timestamp: now.AddDate(0, 0, -10), Posts: []PostRecord{{Channel: "a", PostID: 1}}}
	fresh := Batch{Timestamp: now.AddDate(0, 0, -2), Posts: []PostRecord{{Channel: "a", PostID: 2}}}
	require.NoError(t, log.Append(old))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n{\"posts\":[]}\n{\"timestamp\":\"yesterday\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, log.Append(fresh))

	dropped, err := log.Prune(now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "{not json")
	assert.Contains(t, content, `{"posts":[]}`)
	assert.Contains(t, content, `"timestamp":"yesterday"`)
	assert.Contains(t, content, `"post_id":2`)
	assert.NotContains(t, content, `"post_id":1`)
}

func TestBatchLogPruneMissingFile(t *testing.T) {
	log := NewBatchLog(filepath.Join(t.TempDir(), "missing.jsonl"))
	dropped, err := log.Prune(time.Now())
	require.NoError(t, err)
	assert.Zero(t, dropped)
}

func TestLastSeenRoundTrip(t *testing.T) {
	store := NewLastSeen(filepath.Join(t.TempDir(), "last_dates.json"))

	m, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, m)

	ts := time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(map[string]time.Time{"news": ts}))

	m, err = store.Load()
	require.NoError(t, err)
	assert.True(t, ts.Equal(m["news"]))
}

func TestLastSeenEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_dates.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	m, err := NewLastSeen(path).Load()
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestLastSeenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_dates.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"news":"not a date"}`), 0o644))

	_, err := NewLastSeen(path).Load()
	assert.Error(t, err)
}
