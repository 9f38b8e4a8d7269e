// Package journal holds the file-backed parts of the post store: the
// append-only batch log and the per-channel last-seen map.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"channel-relay/internal/models"

	"github.com/google/uuid"
)

// MediaRecord is the logged form of a media item.
type MediaRecord struct {
	Path string           `json:"path"`
	Kind models.MediaKind `json:"kind"`
}

// PostRecord is the logged form of a post.
type PostRecord struct {
	Channel string        `json:"channel"`
	PostID  int64         `json:"post_id"`
	Date    time.Time     `json:"date"`
	Text    string        `json:"text"`
	IsAlbum bool          `json:"is_album,omitempty"`
	Media   []MediaRecord `json:"media"`
}

// Batch is one line of the log.
type Batch struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Posts     []PostRecord `json:"posts"`
}

// NewPostRecord converts a stored post to its log form.
func NewPostRecord(p *models.Post) PostRecord {
	rec := PostRecord{
		Channel: p.Channel,
		PostID:  p.PostID,
		Date:    p.Date,
		Text:    p.Text,
		IsAlbum: p.IsAlbum,
		Media:   make([]MediaRecord, 0, len(p.Media)),
	}
	for _, m := range p.Media {
		rec.Media = append(rec.Media, MediaRecord{Path: m.Path, Kind: m.Kind})
	}
	return rec
}

// BatchLog is a line-delimited JSON file. Lines are only ever appended or
// dropped wholesale by Prune.
type BatchLog struct {
	path string
}

func NewBatchLog(path string) *BatchLog {
	return &BatchLog{path: path}
}

func (l *BatchLog) Path() string {
	return l.path
}

// Append writes one batch. Batches without posts are skipped.
func (l *BatchLog) Append(b Batch) error {
	if len(b.Posts) == 0 {
		return nil
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create batch log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open batch log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append batch: %w", err)
	}
	return nil
}

// Prune drops batches whose timestamp is before cutoff and returns how many
// were dropped. Lines that cannot be parsed are kept untouched.
func (l *BatchLog) Prune(cutoff time.Time) (int, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read batch log: %w", err)
	}

	var (
		kept    bytes.Buffer
		dropped int
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var head struct {
			Timestamp *time.Time `json:"timestamp"`
		}
		if err := json.Unmarshal(line, &head); err == nil && head.Timestamp != nil && head.Timestamp.Before(cutoff) {
			dropped++
			continue
		}
		kept.Write(line)
		kept.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("scan batch log: %w", err)
	}

	if dropped == 0 {
		return 0, nil
	}
	if err := writeFileAtomic(l.path, kept.Bytes()); err != nil {
		return 0, err
	}
	return dropped, nil
}

// Batches reads every parseable batch in file order.
func (l *BatchLog) Batches() ([]Batch, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read batch log: %w", err)
	}

	var out []Batch
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		var b Batch
		if err := json.Unmarshal(sc.Bytes(), &b); err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, sc.Err()
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
