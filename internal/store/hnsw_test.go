package store

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

func fourDims() VectorConfig {
	cfg := DefaultVectorConfig(4)
	cfg.Model = "test-model"
	return cfg
}

func seeded(t *testing.T) *HNSWIndex {
	t.Helper()
	idx := NewHNSWIndex(fourDims())
	t.Cleanup(func() { _ = idx.Close() })
	require.NoError(t, idx.Add(context.Background(),
		[]string{"a", "b", "c"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0.9, 0.1, 0, 0}}))
	return idx
}

func TestHNSWIndex_AddAndSearch(t *testing.T) {
	// Given: three vectors
	idx := seeded(t)

	// When: searching with the first vector
	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)

	// Then: the exact match comes first with similarity near 1
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
	assert.LessOrEqual(t, results[1].Score, results[0].Score)
}

func TestHNSWIndex_ZeroQueryMatchesNothing(t *testing.T) {
	idx := seeded(t)

	results, err := idx.Search(context.Background(), []float32{0, 0, 0, 0}, 3)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWIndex_DeleteTombstones(t *testing.T) {
	// Given: three vectors
	idx := seeded(t)

	// When: the best match is deleted
	require.NoError(t, idx.Delete(context.Background(), []string{"a"}))

	// Then: it disappears from results while its node remains as a tombstone
	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c", results[0].ID)
	assert.False(t, idx.Contains("a"))

	st := idx.Stats()
	assert.Equal(t, 2, st.Live)
	assert.Equal(t, 3, st.GraphNodes)
	assert.Equal(t, 1, st.Tombstones)
}

func TestHNSWIndex_ReplaceCreatesNewNode(t *testing.T) {
	idx := seeded(t)

	require.NoError(t, idx.Add(context.Background(), []string{"a"}, [][]float32{{0, 0, 1, 0}}))

	results, err := idx.Search(context.Background(), []float32{0, 0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, 3, idx.Count())
	assert.Equal(t, 1, idx.Stats().Tombstones)
}

func TestHNSWIndex_Compact(t *testing.T) {
	// Given: an index with tombstones
	idx := seeded(t)
	ctx := context.Background()
	require.NoError(t, idx.Delete(ctx, []string{"b"}))
	require.NoError(t, idx.Add(ctx, []string{"c"}, [][]float32{{0, 0, 0, 1}}))

	// When: compacting
	require.NoError(t, idx.Compact())

	// Then: only live nodes remain and search still works
	st := idx.Stats()
	assert.Equal(t, 0, st.Tombstones)
	assert.Equal(t, 2, st.GraphNodes)

	results, err := idx.Search(ctx, []float32{0, 0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].ID)
}

func TestHNSWIndex_DimensionMismatch(t *testing.T) {
	idx := seeded(t)

	err := idx.Add(context.Background(), []string{"x"}, [][]float32{{1, 2}})
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})

	_, err = idx.Search(context.Background(), []float32{1}, 1)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})
}

func TestHNSWIndex_EmptySearch(t *testing.T) {
	idx := NewHNSWIndex(fourDims())

	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWIndex_SaveLoad(t *testing.T) {
	// Given: a saved index with one tombstone
	idx := seeded(t)
	require.NoError(t, idx.Delete(context.Background(), []string{"b"}))
	path := filepath.Join(t.TempDir(), VectorFile)
	require.NoError(t, idx.Save(path))

	// When: it is opened again
	loaded, err := OpenHNSWIndex(path, fourDims())
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()

	// Then: live ids and search results are preserved
	assert.Equal(t, 2, loaded.Count())
	assert.False(t, loaded.Contains("b"))
	results, err := loaded.Search(context.Background(), []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)

	cfg, err := ReadVectorConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Dimensions)
	assert.Equal(t, "test-model", cfg.Model)
}

func TestOpenHNSWIndex_ModelChange(t *testing.T) {
	idx := seeded(t)
	path := filepath.Join(t.TempDir(), VectorFile)
	require.NoError(t, idx.Save(path))

	other := DefaultVectorConfig(8)
	other.Model = "bigger"
	_, err := OpenHNSWIndex(path, other)

	assert.ErrorIs(t, err, yerrors.ErrSchemaMismatch)
}

func TestOpenHNSWIndex_Missing(t *testing.T) {
	idx, err := OpenHNSWIndex(filepath.Join(t.TempDir(), VectorFile), fourDims())

	require.NoError(t, err)
	assert.Equal(t, 0, idx.Count())
}

func TestOpenHNSWIndex_CorruptMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), VectorFile)
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))
	require.NoError(t, os.WriteFile(path+".meta", []byte("junk"), 0o644))

	_, err := OpenHNSWIndex(path, fourDims())

	assert.ErrorIs(t, err, yerrors.ErrCorruptIndex)
}

func TestSimilarityClamp(t *testing.T) {
	assert.Equal(t, float32(1), similarity(-0.1))
	assert.Equal(t, float32(0), similarity(2.5))
	assert.InDelta(t, 0.5, similarity(1), 1e-6)
	assert.Equal(t, float32(0), similarity(float32(math.NaN())))
}
