package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

func indexDir(t *testing.T, store *Store, root string, mode Mode) *Workspace {
	t.Helper()
	ws, err := store.Resolve(root)
	require.NoError(t, err)
	_, err = store.Create(ws, mode, "native")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws.Path("text.seg"), make([]byte, 1024), 0o644))
	return ws
}

func TestList_ReportsModeAndSize(t *testing.T) {
	store := NewStore(t.TempDir())
	a := indexDir(t, store, t.TempDir(), ModeText)
	b := indexDir(t, store, t.TempDir(), ModeSemantic)

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := map[string]Entry{}
	for _, e := range entries {
		byID[e.Workspace.Identity] = e
	}
	assert.Equal(t, ModeText, byID[a.Identity].Mode)
	assert.Equal(t, ModeSemantic, byID[b.Identity].Mode)
	assert.Equal(t, a.Root, byID[a.Identity].Workspace.Root)
	assert.GreaterOrEqual(t, byID[a.Identity].SizeBytes, int64(1024))
	assert.False(t, byID[a.Identity].Orphaned)
}

func TestList_EmptyDataDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "never-created"))

	entries, err := store.List()

	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoDirExists(t, store.DataDir())
}

func TestRemove_ByIdentityAndPath(t *testing.T) {
	store := NewStore(t.TempDir())
	a := indexDir(t, store, t.TempDir(), ModeText)
	b := indexDir(t, store, t.TempDir(), ModeText)

	removed, err := store.Remove(a.Identity)
	require.NoError(t, err)
	assert.Equal(t, a.Identity, removed.Workspace.Identity)
	assert.NoDirExists(t, a.IndexDir)

	_, err = store.Remove(b.Root)
	require.NoError(t, err)
	assert.NoDirExists(t, b.IndexDir)
}

func TestRemove_NoMatchIsNotFoundAndLeavesOthers(t *testing.T) {
	store := NewStore(t.TempDir())
	a := indexDir(t, store, t.TempDir(), ModeText)

	// When: removing an identity that does not exist
	_, err := store.Remove("0123456789abcdef")

	// Then: NotFound and the other index is untouched
	assert.ErrorIs(t, err, yerrors.ErrNotFound)
	assert.FileExists(t, a.Path(MetadataFile))

	// Removing twice: second call is NotFound
	_, err = store.Remove(a.Identity)
	require.NoError(t, err)
	_, err = store.Remove(a.Identity)
	assert.ErrorIs(t, err, yerrors.ErrNotFound)
}

func TestClean_RemovesIndexesOfDeletedRoots(t *testing.T) {
	store := NewStore(t.TempDir())
	keep := indexDir(t, store, t.TempDir(), ModeText)

	goneRoot := filepath.Join(t.TempDir(), "gone")
	require.NoError(t, os.MkdirAll(goneRoot, 0o755))
	gone := indexDir(t, store, goneRoot, ModeText)
	require.NoError(t, os.RemoveAll(goneRoot))

	// When: cleaning
	result, err := store.Clean()

	// Then: only the orphan is removed and its bytes are reported
	require.NoError(t, err)
	require.Len(t, result.Removed, 1)
	assert.Equal(t, gone.Identity, result.Removed[0].Workspace.Identity)
	assert.GreaterOrEqual(t, result.FreedBytes, int64(1024))
	assert.NoDirExists(t, gone.IndexDir)
	assert.DirExists(t, keep.IndexDir)
}

func TestClean_SkipsLockedIndexes(t *testing.T) {
	store := NewStore(t.TempDir())
	root := filepath.Join(t.TempDir(), "r")
	require.NoError(t, os.MkdirAll(root, 0o755))
	ws := indexDir(t, store, root, ModeText)
	require.NoError(t, os.RemoveAll(root))

	lock, err := store.Lock(ws)
	require.NoError(t, err)
	defer func() { _ = lock.Unlock() }()

	result, err := store.Clean()

	require.NoError(t, err)
	assert.Empty(t, result.Removed)
	assert.DirExists(t, ws.IndexDir)
}
