// Package dedup keeps a flat, exact similarity index over post embeddings
// and answers whether a new text is already known.
package dedup

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"channel-relay/internal/models"
)

// ErrDimensionMismatch is a configuration error: the encoder changed shape
// relative to what the index already holds.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Encoder turns text into a fixed-length vector.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Entry is one stored embedding together with the post it belongs to.
type Entry struct {
	Key    models.PostKey
	Vector []float32
}

// Index is an exhaustive inner-product index over L2-normalized vectors.
// Position i of keys and vectors always refers to the same post.
type Index struct {
	encoder   Encoder
	threshold float64
	path      string

	dim     int
	keys    []models.PostKey
	vectors [][]float32
}

// New returns an empty index. When path is non-empty the index is persisted
// there after every change.
func New(encoder Encoder, threshold float64, path string) *Index {
	return &Index{encoder: encoder, threshold: threshold, path: path}
}

// Load restores an index from its snapshot. A missing snapshot yields an
// empty index.
func Load(encoder Encoder, threshold float64, path string) (*Index, error) {
	idx := New(encoder, threshold, path)

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open index snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode index snapshot: %w", err)
	}
	if len(snap.Keys) != len(snap.Vectors) {
		return nil, fmt.Errorf("index snapshot is misaligned: %d keys, %d vectors", len(snap.Keys), len(snap.Vectors))
	}

	idx.dim = snap.Dimension
	idx.keys = snap.Keys
	idx.vectors = snap.Vectors
	return idx, nil
}

// Embed returns the normalized embedding of text. Empty text maps to the
// zero vector without calling the encoder.
func (i *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, i.encoder.Dimension()), nil
	}

	vec, err := i.encoder.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	return Normalize(vec), nil
}

// IsDuplicate reports whether vec is more similar than the threshold to any
// stored vector.
func (i *Index) IsDuplicate(vec []float32) (bool, error) {
	if len(i.vectors) == 0 {
		return false, nil
	}
	if len(vec) != i.dim {
		return false, fmt.Errorf("%w: index has %d, query has %d", ErrDimensionMismatch, i.dim, len(vec))
	}

	return i.MaxSimilarity(vec) > i.threshold, nil
}

// MaxSimilarity is the highest inner product of vec against every stored
// vector, or -1 when the index is empty.
func (i *Index) MaxSimilarity(vec []float32) float64 {
	best := -1.0
	for _, stored := range i.vectors {
		if s := dot(vec, stored); s > best {
			best = s
		}
	}
	return best
}

// Insert appends vec for key and rewrites the snapshot.
func (i *Index) Insert(key models.PostKey, vec []float32) error {
	if err := i.add(key, vec); err != nil {
		return err
	}
	return i.save()
}

// Rebuild replaces the index content with the given stored embeddings, in
// order. Vectors are taken as stored and never re-encoded.
func (i *Index) Rebuild(entries []Entry) error {
	i.dim = 0
	i.keys = nil
	i.vectors = nil

	for _, e := range entries {
		if err := i.add(e.Key, e.Vector); err != nil {
			return err
		}
	}
	return i.save()
}

func (i *Index) Len() int {
	return len(i.vectors)
}

func (i *Index) Dimension() int {
	return i.dim
}

// Keys returns the post keys in index order.
func (i *Index) Keys() []models.PostKey {
	out := make([]models.PostKey, len(i.keys))
	copy(out, i.keys)
	return out
}

func (i *Index) add(key models.PostKey, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector for %s/%d", ErrDimensionMismatch, key.Channel, key.PostID)
	}
	if i.dim == 0 {
		i.dim = len(vec)
	} else if len(vec) != i.dim {
		return fmt.Errorf("%w: index has %d, got %d for %s/%d", ErrDimensionMismatch, i.dim, len(vec), key.Channel, key.PostID)
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	i.keys = append(i.keys, key)
	i.vectors = append(i.vectors, stored)
	return nil
}

type snapshot struct {
	Dimension int
	Keys      []models.PostKey
	Vectors   [][]float32
}

func (i *Index) save() error {
	if i.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(i.path), ".index-*")
	if err != nil {
		return fmt.Errorf("create index snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	snap := snapshot{Dimension: i.dim, Keys: i.keys, Vectors: i.vectors}
	if err := gob.NewEncoder(tmp).Encode(&snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write index snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), i.path); err != nil {
		return fmt.Errorf("replace index snapshot: %w", err)
	}
	return nil
}

// Normalize scales vec to unit length. The zero vector is returned as is.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for k, v := range vec {
		out[k] = float32(float64(v) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for k := range a {
		s += float64(a[k]) * float64(b[k])
	}
	return s
}
