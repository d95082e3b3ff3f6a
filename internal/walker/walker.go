// Package walker discovers the indexable files of a workspace.
//
// A walk follows symbolic links but remembers every directory and file it
// has entered by (device, inode), so symlink cycles terminate and each
// real file is produced once. Hidden directories, excluded directory
// names, ignore-file rules, empty files, oversized files and binary files
// never reach the channel.
package walker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/gitignore"
)

const (
	// DefaultMaxFileSize is the default size ceiling (1 MiB).
	DefaultMaxFileSize = 1 << 20

	// binarySniffLen is how many leading bytes are checked for NUL.
	binarySniffLen = 8000

	ignoreCacheSize = 1024
)

// DefaultIgnoreFiles are read in every directory when RespectGitignore is set.
var DefaultIgnoreFiles = []string{".gitignore", ".ygrepignore"}

var (
	// ErrExcluded is returned by Candidate for paths the walk would skip.
	ErrExcluded = errors.New("path excluded from index")
	// ErrMissing is returned by Candidate for paths that no longer exist.
	ErrMissing = errors.New("path does not exist")
)

// Options configures a Walker.
type Options struct {
	// MaxFileSize is the size ceiling in bytes (0 = DefaultMaxFileSize).
	MaxFileSize int64
	// ExcludeDirs are directory names skipped at any depth.
	ExcludeDirs []string
	// FollowSymlinks follows links to files and directories.
	FollowSymlinks bool
	// RespectGitignore applies IgnoreFiles found in the tree.
	RespectGitignore bool
	// IgnoreFiles overrides DefaultIgnoreFiles.
	IgnoreFiles []string
}

// FileCandidate is an indexable file.
type FileCandidate struct {
	// Path is relative to the walk root, slash-separated.
	Path     string
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Language string
}

// Result is one item of a walk: a file, or a non-fatal error.
type Result struct {
	File *FileCandidate
	Err  error
}

// Walker discovers files. It is safe for concurrent use; each Walk keeps
// its own visited set.
type Walker struct {
	opts        Options
	excludeDirs map[string]struct{}
	ignoreCache *lru.Cache[string, cachedRules]
}

type cachedRules struct {
	modTime time.Time
	size    int64
	rules   *gitignore.Rules
}

// New creates a Walker.
func New(opts Options) (*Walker, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.IgnoreFiles == nil {
		opts.IgnoreFiles = DefaultIgnoreFiles
	}

	cache, err := lru.New[string, cachedRules](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ignore cache: %w", err)
	}

	excl := make(map[string]struct{}, len(opts.ExcludeDirs))
	for _, d := range opts.ExcludeDirs {
		excl[d] = struct{}{}
	}
	return &Walker{opts: opts, excludeDirs: excl, ignoreCache: cache}, nil
}

// Walk streams the indexable files under root. The channel is closed when
// the walk finishes or ctx is cancelled. A walk is not restartable.
func (w *Walker) Walk(ctx context.Context, root string) (<-chan Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, yerrors.IOFailure(root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, yerrors.IOFailure(root, err)
	}
	if !info.IsDir() {
		return nil, yerrors.ValidationError("walk root is not a directory: "+absRoot, nil)
	}

	out := make(chan Result, 256)
	go func() {
		defer close(out)
		wk := &walk{
			ctx:  ctx,
			w:    w,
			out:  out,
			seen: make(map[fileID]struct{}),
		}
		if id, ok := identify(absRoot); ok {
			wk.seen[id] = struct{}{}
		}
		wk.dir(absRoot, "", nil)
	}()
	return out, nil
}

type walk struct {
	ctx  context.Context
	w    *Walker
	out  chan<- Result
	seen map[fileID]struct{}
}

// visit records id and reports whether it was new.
func (wk *walk) visit(abs string) bool {
	id, ok := identify(abs)
	if !ok {
		return true
	}
	if _, dup := wk.seen[id]; dup {
		return false
	}
	wk.seen[id] = struct{}{}
	return true
}

func (wk *walk) emit(r Result) bool {
	select {
	case wk.out <- r:
		return true
	case <-wk.ctx.Done():
		return false
	}
}

func (wk *walk) dir(abs, rel string, stack gitignore.Stack) bool {
	if wk.ctx.Err() != nil {
		return false
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return wk.emit(Result{Err: yerrors.IOFailure(displayPath(rel), err)})
	}
	stack = wk.w.pushIgnoreRules(stack, abs, rel)

	for _, e := range entries {
		if wk.ctx.Err() != nil {
			return false
		}
		name := e.Name()
		childAbs := filepath.Join(abs, name)
		childRel := path.Join(rel, name)

		info, err := wk.w.stat(childAbs, e)
		if err != nil {
			continue
		}

		if info.IsDir() {
			if wk.w.skipDirName(name) || stack.Ignored(childRel, true) {
				continue
			}
			// A directory seen before is a symlink cycle or alias; prune it.
			if !wk.visit(childAbs) {
				continue
			}
			if !wk.dir(childAbs, childRel, stack) {
				return false
			}
			continue
		}

		if !info.Mode().IsRegular() || stack.Ignored(childRel, false) {
			continue
		}
		cand, err := wk.w.candidate(childAbs, childRel, info)
		if err != nil {
			if !errors.Is(err, ErrExcluded) && !wk.emit(Result{Err: err}) {
				return false
			}
			continue
		}
		if !wk.visit(childAbs) {
			continue
		}
		if !wk.emit(Result{File: cand}) {
			return false
		}
	}
	return true
}

// stat resolves a directory entry, following symlinks when enabled.
func (w *Walker) stat(abs string, e fs.DirEntry) (fs.FileInfo, error) {
	if e.Type()&fs.ModeSymlink != 0 {
		if !w.opts.FollowSymlinks {
			return nil, ErrExcluded
		}
		return os.Stat(abs)
	}
	return e.Info()
}

func (w *Walker) skipDirName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, excluded := w.excludeDirs[name]
	return excluded
}

// pushIgnoreRules layers the ignore files of directory abs onto stack.
func (w *Walker) pushIgnoreRules(stack gitignore.Stack, abs, rel string) gitignore.Stack {
	if !w.opts.RespectGitignore {
		return stack
	}
	for _, name := range w.opts.IgnoreFiles {
		if rules := w.loadRules(filepath.Join(abs, name), rel); rules != nil {
			stack = stack.Push(rules)
		}
	}
	return stack
}

// loadRules parses an ignore file, reusing the cached copy while the file
// is unchanged.
func (w *Walker) loadRules(file, base string) *gitignore.Rules {
	info, err := os.Stat(file)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	if c, ok := w.ignoreCache.Get(file); ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() && c.rules.Base == base {
		return c.rules
	}
	rules, err := gitignore.ParseFile(file, base)
	if err != nil {
		return nil
	}
	w.ignoreCache.Add(file, cachedRules{modTime: info.ModTime(), size: info.Size(), rules: rules})
	return rules
}

// candidate applies the per-file content rules.
func (w *Walker) candidate(abs, rel string, info fs.FileInfo) (*FileCandidate, error) {
	if info.Size() == 0 || info.Size() > w.opts.MaxFileSize {
		return nil, ErrExcluded
	}
	binary, err := isBinary(abs)
	if err != nil {
		return nil, yerrors.IOFailure(rel, err)
	}
	if binary {
		return nil, ErrExcluded
	}
	return &FileCandidate{
		Path:     rel,
		AbsPath:  abs,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Language: DetectLanguage(rel),
	}, nil
}

// Candidate applies the walk's rules to a single path relative to root.
// It returns ErrMissing when the file is gone, ErrExcluded when a walk
// would skip it and an IoFailure when it cannot be read.
func (w *Walker) Candidate(root, rel string) (*FileCandidate, error) {
	rel = path.Clean(filepath.ToSlash(rel))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		return nil, ErrExcluded
	}

	var stack gitignore.Stack
	parts := strings.Split(rel, "/")
	dirAbs := root
	for i, part := range parts[:len(parts)-1] {
		stack = w.pushIgnoreRules(stack, dirAbs, strings.Join(parts[:i], "/"))
		if w.skipDirName(part) || stack.Ignored(strings.Join(parts[:i+1], "/"), true) {
			return nil, ErrExcluded
		}
		dirAbs = filepath.Join(dirAbs, part)
	}
	stack = w.pushIgnoreRules(stack, dirAbs, strings.Join(parts[:len(parts)-1], "/"))

	abs := filepath.Join(root, filepath.FromSlash(rel))
	linfo, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMissing
		}
		return nil, yerrors.IOFailure(rel, err)
	}
	info := linfo
	if linfo.Mode()&fs.ModeSymlink != 0 {
		if !w.opts.FollowSymlinks {
			return nil, ErrExcluded
		}
		if info, err = os.Stat(abs); err != nil {
			return nil, ErrMissing
		}
	}
	if !info.Mode().IsRegular() || stack.Ignored(rel, false) {
		return nil, ErrExcluded
	}
	return w.candidate(abs, rel, info)
}

// ReadContent reads a candidate's bytes.
func ReadContent(c *FileCandidate) ([]byte, error) {
	data, err := os.ReadFile(c.AbsPath)
	if err != nil {
		return nil, yerrors.IOFailure(c.Path, err)
	}
	return data, nil
}

func isBinary(abs string) (bool, error) {
	f, err := os.Open(abs)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, binarySniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}

func displayPath(rel string) string {
	if rel == "" {
		return "."
	}
	return rel
}
