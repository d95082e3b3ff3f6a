// Package workspace maps directory trees to on-disk index directories and
// owns their persisted metadata.
//
// Layout under the data directory:
//
//	indexes/<identity>/metadata.json   mode, schema version, counts, timestamps
//	indexes/<identity>/.lock           advisory writer lock
//	indexes/<identity>/...             text, vector and catalog segments
//
// Read paths (Resolve, Open, List, Discover) never create directories.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

// SchemaVersion is bumped whenever any on-disk segment format changes.
// Indexes written with another version must be rebuilt.
const SchemaVersion = 2

const (
	// MetadataFile holds the persisted Metadata record.
	MetadataFile = "metadata.json"
	// LockFile is the advisory lock guarding the single writer.
	LockFile = ".lock"

	indexesDir = "indexes"

	// maxDiscoverDepth bounds the parent walk in Discover.
	maxDiscoverDepth = 10
)

// Mode selects which indexes a build maintains.
type Mode string

const (
	// ModeText maintains the BM25 text index only.
	ModeText Mode = "text"
	// ModeSemantic also maintains the HNSW vector index.
	ModeSemantic Mode = "semantic"
)

// ParseMode parses "text" or "semantic".
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeText:
		return ModeText, nil
	case ModeSemantic:
		return ModeSemantic, nil
	}
	return "", yerrors.ValidationError(fmt.Sprintf("unknown mode %q (want text or semantic)", s), nil)
}

// Workspace identifies one indexed directory tree.
type Workspace struct {
	// Root is the canonical absolute root path.
	Root string
	// Identity is a stable digest of Root.
	Identity string
	// IndexDir is where this workspace's index lives.
	IndexDir string
}

// Path returns the path of a file inside the index directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.IndexDir, name)
}

// Identity returns the 16 hex digit xxhash of a canonical root path.
func Identity(root string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(root))
}

// Canonicalize returns the absolute, symlink-free form of path.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", yerrors.IOFailure(path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", yerrors.IOFailure(path, err)
	}
	return filepath.Clean(resolved), nil
}

// Store manages every workspace index under one data directory.
type Store struct {
	dataDir string
}

// NewStore creates a store rooted at dataDir. Nothing is created on disk.
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// DataDir returns the store's data directory.
func (s *Store) DataDir() string {
	return s.dataDir
}

// IndexesDir returns the directory holding one subdirectory per workspace.
func (s *Store) IndexesDir() string {
	return filepath.Join(s.dataDir, indexesDir)
}

// Resolve canonicalizes root and computes its identity and index directory.
// It performs no writes.
func (s *Store) Resolve(root string) (*Workspace, error) {
	canonical, err := Canonicalize(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, yerrors.IOFailure(root, err)
	}
	if !info.IsDir() {
		return nil, yerrors.ValidationError(root+" is not a directory", nil)
	}
	return s.forCanonical(canonical), nil
}

func (s *Store) forCanonical(root string) *Workspace {
	id := Identity(root)
	return &Workspace{
		Root:     root,
		Identity: id,
		IndexDir: filepath.Join(s.IndexesDir(), id),
	}
}

// Exists reports whether ws has a metadata record on disk.
func (s *Store) Exists(ws *Workspace) bool {
	_, err := os.Stat(ws.Path(MetadataFile))
	return err == nil
}

// Discover returns the nearest indexed workspace at or above start,
// checking at most ten parent levels. When none is indexed it returns the
// workspace for start itself so callers can report NotIndexed against it.
func (s *Store) Discover(start string) (*Workspace, error) {
	self, err := s.Resolve(start)
	if err != nil {
		return nil, err
	}

	dir := self.Root
	for i := 0; i <= maxDiscoverDepth; i++ {
		ws := s.forCanonical(dir)
		if s.Exists(ws) {
			return ws, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return self, nil
}
