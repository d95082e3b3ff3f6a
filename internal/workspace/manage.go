package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

// Entry describes one index directory found under the data directory.
type Entry struct {
	Workspace *Workspace
	// Metadata is nil when the record is missing or unreadable.
	Metadata  *Metadata
	SizeBytes int64
	Mode      Mode
	// Orphaned is set when the recorded root no longer exists or the
	// metadata is unusable.
	Orphaned bool
}

// CleanResult summarizes a Clean pass.
type CleanResult struct {
	Removed    []Entry
	FreedBytes int64
}

// List returns every index directory, sorted by root path.
func (s *Store) List() ([]Entry, error) {
	dirs, err := os.ReadDir(s.IndexesDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, yerrors.IOFailure(s.IndexesDir(), err)
	}

	entries := make([]Entry, 0, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		entries = append(entries, s.entry(d.Name()))
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Workspace.Root != entries[j].Workspace.Root {
			return entries[i].Workspace.Root < entries[j].Workspace.Root
		}
		return entries[i].Workspace.Identity < entries[j].Workspace.Identity
	})
	return entries, nil
}

func (s *Store) entry(identity string) Entry {
	ws := &Workspace{
		Identity: identity,
		IndexDir: filepath.Join(s.IndexesDir(), identity),
	}
	e := Entry{Workspace: ws, SizeBytes: dirSize(ws.IndexDir)}

	meta, err := s.Open(ws)
	if meta != nil {
		ws.Root = meta.Root
		e.Mode = meta.Mode
	}
	if err == nil {
		e.Metadata = meta
	}
	if meta == nil || ws.Root == "" {
		e.Orphaned = true
		return e
	}
	if _, statErr := os.Stat(ws.Root); statErr != nil {
		e.Orphaned = true
	}
	return e
}

// Remove deletes the index matching target, which is either an identity
// hash or a workspace root path. It returns NotFound when nothing matches
// and never touches other indexes.
func (s *Store) Remove(target string) (*Entry, error) {
	e, err := s.find(target)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(e.Workspace.IndexDir); err != nil {
		return nil, yerrors.IOFailure(e.Workspace.IndexDir, err)
	}
	return e, nil
}

func (s *Store) find(target string) (*Entry, error) {
	if target == "" {
		return nil, yerrors.NotFound(target)
	}

	entries, err := s.List()
	if err != nil {
		return nil, err
	}

	candidates := map[string]struct{}{target: {}}
	if abs, err := filepath.Abs(target); err == nil {
		candidates[filepath.Clean(abs)] = struct{}{}
		candidates[Identity(filepath.Clean(abs))] = struct{}{}
	}
	if canonical, err := Canonicalize(target); err == nil {
		candidates[canonical] = struct{}{}
		candidates[Identity(canonical)] = struct{}{}
	}

	for i := range entries {
		e := &entries[i]
		if _, ok := candidates[e.Workspace.Identity]; ok {
			return e, nil
		}
		if e.Workspace.Root == "" {
			continue
		}
		if _, ok := candidates[e.Workspace.Root]; ok {
			return e, nil
		}
	}
	return nil, yerrors.NotFound(target)
}

// Clean removes indexes whose workspace root no longer exists, plus index
// directories with no usable metadata. Indexes locked by a running writer
// are left alone.
func (s *Store) Clean() (*CleanResult, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}

	result := &CleanResult{}
	for _, e := range entries {
		if !e.Orphaned {
			continue
		}
		lock, err := s.Lock(e.Workspace)
		if err != nil {
			continue
		}
		_ = lock.Unlock()

		if err := os.RemoveAll(e.Workspace.IndexDir); err != nil {
			return result, yerrors.IOFailure(e.Workspace.IndexDir, err)
		}
		result.Removed = append(result.Removed, e)
		result.FreedBytes += e.SizeBytes
	}
	return result, nil
}

// Size returns the on-disk size of the index directory of ws.
func (s *Store) Size(ws *Workspace) int64 {
	return dirSize(ws.IndexDir)
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
