package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "data")), t.TempDir()
}

func TestIdentity_StableAndHex(t *testing.T) {
	a := Identity("/home/dev/project")
	b := Identity("/home/dev/project")

	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, Identity("/home/dev/project2"))
}

func TestResolve_CanonicalizesSymlinkedRoot(t *testing.T) {
	store, root := newTestStore(t)
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(root, link))

	direct, err := store.Resolve(root)
	require.NoError(t, err)
	viaLink, err := store.Resolve(link)
	require.NoError(t, err)

	assert.Equal(t, direct.Identity, viaLink.Identity)
	assert.Equal(t, direct.IndexDir, viaLink.IndexDir)
}

func TestResolve_DoesNotCreateAnything(t *testing.T) {
	// Given: a fresh data dir
	store, root := newTestStore(t)

	// When: resolving and opening an unindexed workspace
	ws, err := store.Resolve(root)
	require.NoError(t, err)
	_, err = store.Open(ws)

	// Then: NotIndexed, and neither the index dir nor the data dir exists
	assert.ErrorIs(t, err, yerrors.ErrNotIndexed)
	assert.NoDirExists(t, ws.IndexDir)
	assert.NoDirExists(t, store.DataDir())
}

func TestResolve_RejectsFile(t *testing.T) {
	store, root := newTestStore(t)
	file := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := store.Resolve(file)
	assert.Error(t, err)

	_, err = store.Resolve(filepath.Join(root, "missing"))
	assert.ErrorIs(t, err, yerrors.ErrIOFailure)
}

func TestCreate_ThenOpen(t *testing.T) {
	store, root := newTestStore(t)
	ws, err := store.Resolve(root)
	require.NoError(t, err)

	meta, err := store.Create(ws, ModeSemantic, "native")
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, meta.SchemaVersion)

	opened, err := store.Open(ws)
	require.NoError(t, err)
	assert.Equal(t, ModeSemantic, opened.Mode)
	assert.Equal(t, ws.Root, opened.Root)
	assert.Equal(t, "native", opened.TextBackend)
}

func TestCreate_ClearsPreviousDataButKeepsLock(t *testing.T) {
	store, root := newTestStore(t)
	ws, _ := store.Resolve(root)
	_, err := store.Create(ws, ModeText, "native")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws.Path("text.seg"), []byte("old"), 0o644))
	lock, err := store.Lock(ws)
	require.NoError(t, err)
	defer func() { _ = lock.Unlock() }()

	_, err = store.Create(ws, ModeText, "native")
	require.NoError(t, err)

	assert.NoFileExists(t, ws.Path("text.seg"))
	assert.FileExists(t, ws.Path(LockFile))
}

func TestOpen_SchemaMismatch(t *testing.T) {
	store, root := newTestStore(t)
	ws, _ := store.Resolve(root)
	meta, err := store.Create(ws, ModeText, "native")
	require.NoError(t, err)

	// Given: metadata from a future version
	meta.SchemaVersion = SchemaVersion + 1
	require.NoError(t, store.SaveMetadata(ws, meta))

	// When: opening
	_, err = store.Open(ws)

	// Then: schema mismatch, not a silent migration
	assert.ErrorIs(t, err, yerrors.ErrSchemaMismatch)
}

func TestOpen_CorruptMetadata(t *testing.T) {
	store, root := newTestStore(t)
	ws, _ := store.Resolve(root)
	require.NoError(t, os.MkdirAll(ws.IndexDir, 0o755))
	require.NoError(t, os.WriteFile(ws.Path(MetadataFile), []byte("{not json"), 0o644))

	_, err := store.Open(ws)

	assert.ErrorIs(t, err, yerrors.ErrCorruptIndex)
}

func TestSaveMetadata_WritesJSON(t *testing.T) {
	store, root := newTestStore(t)
	ws, _ := store.Resolve(root)
	meta, err := store.Create(ws, ModeText, "bleve")
	require.NoError(t, err)
	meta.DocCount = 42
	meta.StartBuild()
	require.NoError(t, store.SaveMetadata(ws, meta))

	data, err := os.ReadFile(ws.Path(MetadataFile))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, float64(42), raw["doc_count"])
	assert.Equal(t, "text", raw["mode"])
	assert.NotEmpty(t, raw["last_build_id"])
	assert.NoFileExists(t, ws.Path(MetadataFile+".tmp"))
}

func TestModeIsSticky(t *testing.T) {
	store, root := newTestStore(t)
	ws, _ := store.Resolve(root)

	// No index yet: text
	assert.Equal(t, ModeText, store.ResolveMode(ws, nil))

	_, err := store.Create(ws, ModeText, "native")
	require.NoError(t, err)

	// After setMode(Semantic) a mode-less request resolves to semantic
	require.NoError(t, store.SetMode(ws, ModeSemantic))
	assert.Equal(t, ModeSemantic, store.ResolveMode(ws, nil))

	// Explicit request overrides
	text := ModeText
	assert.Equal(t, ModeText, store.ResolveMode(ws, &text))

	// After setMode(Text) it is text again
	require.NoError(t, store.SetMode(ws, ModeText))
	assert.Equal(t, ModeText, store.ResolveMode(ws, nil))
}

func TestSetMode_RequiresIndex(t *testing.T) {
	store, root := newTestStore(t)
	ws, _ := store.Resolve(root)

	err := store.SetMode(ws, ModeSemantic)

	assert.ErrorIs(t, err, yerrors.ErrNotIndexed)
	assert.NoDirExists(t, ws.IndexDir)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Semantic")
	require.NoError(t, err)
	assert.Equal(t, ModeSemantic, m)

	_, err = ParseMode("vector")
	assert.Error(t, err)
}

func TestDiscover_FindsIndexedAncestor(t *testing.T) {
	store, root := newTestStore(t)
	sub := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	// Before indexing, discovery returns the start dir itself
	ws, err := store.Discover(sub)
	require.NoError(t, err)
	canonicalSub, _ := Canonicalize(sub)
	assert.Equal(t, canonicalSub, ws.Root)

	// After indexing the root, discovery climbs to it
	rootWS, _ := store.Resolve(root)
	_, err = store.Create(rootWS, ModeText, "native")
	require.NoError(t, err)

	ws, err = store.Discover(sub)
	require.NoError(t, err)
	assert.Equal(t, rootWS.Identity, ws.Identity)
}

func TestLock_SingleWriter(t *testing.T) {
	store, root := newTestStore(t)
	ws, _ := store.Resolve(root)

	first, err := store.Lock(ws)
	require.NoError(t, err)

	_, err = store.Lock(ws)
	assert.ErrorIs(t, err, yerrors.ErrIndexLocked)

	require.NoError(t, first.Unlock())
	require.NoError(t, first.Unlock())

	again, err := store.Lock(ws)
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}
