package dedup

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"channel-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	dim     int
	vectors map[string][]float32
	calls   int
}

func (f *fakeEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	v, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("unknown text")
	}
	return v, nil
}

func (f *fakeEncoder) Dimension() int { return f.dim }

func key(id int64) models.PostKey {
	return models.PostKey{Channel: "news", PostID: id}
}

func TestEmbedEmptyTextIsZeroVectorWithoutEncoding(t *testing.T) {
	enc := &fakeEncoder{dim: 4}
	idx := New(enc, 0.85, "")

	vec, err := idx.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, vec)
	assert.Zero(t, enc.calls)
}

func TestEmbedNormalizes(t *testing.T) {
	enc := &fakeEncoder{dim: 2, vectors: map[string][]float32{"a": {3, 4}}}
	idx := New(enc, 0.85, "")

	vec, err := idx.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}

func TestDuplicateRejection(t *testing.T) {
	// cos(a, b) ~= 0.995, cos(a, c) = 0
	enc := &fakeEncoder{dim: 2, vectors: map[string][]float32{
		"a": {1, 0},
		"b": {10, 1},
		"c": {0, 1},
	}}
	idx := New(enc, 0.85, "")
	ctx := context.Background()

	va, _ := idx.Embed(ctx, "a")
	dup, err := idx.IsDuplicate(va)
	require.NoError(t, err)
	require.False(t, dup)
	require.NoError(t, idx.Insert(key(1), va))

	vb, _ := idx.Embed(ctx, "b")
	dup, err = idx.IsDuplicate(vb)
	require.NoError(t, err)
	assert.True(t, dup, "near-identical text must be rejected")

	vc, _ := idx.Embed(ctx, "c")
	dup, err = idx.IsDuplicate(vc)
	require.NoError(t, err)
	assert.False(t, dup)
	require.NoError(t, idx.Insert(key(2), vc))

	assert.Equal(t, 2, idx.Len())
}

func TestThresholdIsStrict(t *testing.T) {
	idx := New(&fakeEncoder{dim: 2}, 0.5, "")
	require.NoError(t, idx.Insert(key(1), []float32{1, 0}))

	// inner product exactly 0.5
	dup, err := idx.IsDuplicate([]float32{0.5, 0.75})
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestZeroVectorIsNeverDuplicate(t *testing.T) {
	idx := New(&fakeEncoder{dim: 2}, 0.85, "")
	require.NoError(t, idx.Insert(key(1), []float32{0, 0}))

	dup, err := idx.IsDuplicate([]float32{0, 0})
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestDimensionMismatchIsFatal(t *testing.T) {
	idx := New(&fakeEncoder{dim: 2}, 0.85, "")
	require.NoError(t, idx.Insert(key(1), []float32{1, 0}))

	assert.ErrorIs(t, idx.Insert(key(2), []float32{1, 0, 0}), ErrDimensionMismatch)

	_, err := idx.IsDuplicate([]float32{1, 0, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, idx.Len())
}

func TestRebuildUsesStoredVectors(t *testing.T) {
	enc := &fakeEncoder{dim: 2}
	idx := New(enc, 0.85, "")
	require.NoError(t, idx.Insert(key(1), []float32{1, 0}))
	require.NoError(t, idx.Insert(key(2), []float32{0, 1}))

	require.NoError(t, idx.Rebuild([]Entry{{Key: key(2), Vector: []float32{0, 1}}}))

	assert.Equal(t, []models.PostKey{key(2)}, idx.Keys())
	assert.Zero(t, enc.calls)
	dup, err := idx.IsDuplicate([]float32{1, 0})
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestRebuildEmptyResetsDimension(t *testing.T) {
	idx := New(&fakeEncoder{dim: 2}, 0.85, "")
	require.NoError(t, idx.Insert(key(1), []float32{1, 0}))
	require.NoError(t, idx.Rebuild(nil))

	assert.Zero(t, idx.Len())
	assert.Zero(t, idx.Dimension())
	require.NoError(t, idx.Insert(key(2), []float32{1, 0, 0}))
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "vector_index.gob")
	enc := &fakeEncoder{dim: 2}

	idx := New(enc, 0.85, path)
	require.NoError(t, idx.Insert(key(1), []float32{1, 0}))
	require.NoError(t, idx.Insert(key(2), []float32{0, 1}))

	loaded, err := Load(enc, 0.85, path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, 2, loaded.Dimension())
	assert.Equal(t, []models.PostKey{key(1), key(2)}, loaded.Keys())

	dup, err := loaded.IsDuplicate([]float32{0, 1})
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestLoadMissingSnapshot(t *testing.T) {
	idx, err := Load(&fakeEncoder{dim: 2}, 0.85, filepath.Join(t.TempDir(), "none.gob"))
	require.NoError(t, err)
	assert.Zero(t, idx.Len())
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{1, 1, 1, 1})
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
}
