package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/ygrep/internal/chunk"
	"github.com/Aman-CERP/ygrep/internal/config"
	"github.com/Aman-CERP/ygrep/internal/embed"
	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/store"
	"github.com/Aman-CERP/ygrep/internal/walker"
	"github.com/Aman-CERP/ygrep/internal/workspace"
)

// commitSize is the number of changed documents per commit during a scan.
const commitSize = 256

// Summary reports the outcome of a build or of one update batch.
type Summary struct {
	Indexed   int
	Unchanged int
	Removed   int
	// Skipped counts files that could not be read; they keep their previous
	// index entries.
	Skipped  int
	Failures []FileFailure
	// Chunks is the number of chunks embedded.
	Chunks       int
	Duration     time.Duration
	VectorStatus workspace.VectorStatus
	Warnings     []string
}

// FileFailure is one file that was skipped.
type FileFailure struct {
	Path string
	Err  error
}

// Changed reports whether any document was written or removed.
func (s *Summary) Changed() bool {
	return s.Indexed > 0 || s.Removed > 0
}

func (s *Summary) fail(path string, err error) {
	s.Skipped++
	s.Failures = append(s.Failures, FileFailure{Path: path, Err: err})
	slog.Warn("file_skipped", append([]any{slog.String("path", path)}, yerrors.LogAttrs(err)...)...)
}

// Progress is reported while a scan runs.
type Progress struct {
	// Files is the number of files examined so far.
	Files     int
	Indexed   int
	Unchanged int
	Skipped   int
	Path      string
	Done      bool
}

// ProgressFunc receives scan progress. It is called from one goroutine.
type ProgressFunc func(Progress)

// prepared is a changed file ready to commit.
type prepared struct {
	doc    *store.Document
	chunks []*chunk.Chunk
}

// session commits document changes to one open index.
type session struct {
	h         *Handles
	embedder  embed.Embedder
	chunker   *chunk.Chunker
	batchSize int
}

func newSession(h *Handles, e embed.Embedder, cfg *config.Config) *session {
	return &session{
		h:        h,
		embedder: e,
		chunker: &chunk.Chunker{
			Lines:    cfg.Semantic.ChunkLines,
			Overlap:  cfg.Semantic.ChunkOverlap,
			MinBytes: cfg.Semantic.MinChunkBytes,
			MaxBytes: cfg.Semantic.MaxChunkBytes,
		},
		batchSize: cfg.Semantic.BatchSize,
	}
}

func (s *session) vectors() bool {
	return s.h.Vector != nil && s.embedder != nil
}

// disableVectors drops the vector index for the rest of the session. The
// embedder stays open; its owner closes it.
func (s *session) disableVectors(sum *Summary, cause error) {
	slog.Warn("vector_fallback_text", yerrors.LogAttrs(cause)...)
	sum.VectorStatus = workspace.VectorUnsupported
	sum.Warnings = append(sum.Warnings, "semantic index unavailable, continuing text-only: "+cause.Error())
	s.embedder = nil
	s.h.dropVectors()
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// prepare reads c and returns nil when its content hash equals known.
func (s *session) prepare(c *walker.FileCandidate, known string) (*prepared, error) {
	data, err := walker.ReadContent(c)
	if err != nil {
		return nil, err
	}
	hash := contentHash(data)
	if hash == known {
		return nil, nil
	}

	content := string(data)
	p := &prepared{doc: &store.Document{
		ID:          c.Path,
		ContentHash: hash,
		ModTime:     c.ModTime,
		Size:        c.Size,
		Language:    c.Language,
		Content:     content,
		IndexedAt:   time.Now().UTC(),
	}}
	if s.vectors() {
		p.chunks = s.chunker.Chunk(&chunk.FileInput{Path: c.Path, Content: content, Language: c.Language})
	}
	return p, nil
}

// commit replaces upserted documents and removes deleted ones in every
// store. Embedding runs first, so a failure leaves all stores untouched.
// It returns the number of chunks embedded.
func (s *session) commit(ctx context.Context, upserts []*prepared, deletes []string) (int, error) {
	if len(upserts) == 0 && len(deletes) == 0 {
		return 0, nil
	}

	docs := make([]*store.Document, len(upserts))
	batch := &store.TextBatch{Deletes: deletes, Upserts: make([]*store.TextDocument, len(upserts))}
	for i, p := range upserts {
		p.doc.Chunks = nil
		if s.vectors() {
			for _, ch := range p.chunks {
				p.doc.Chunks = append(p.doc.Chunks, store.ChunkRef{ID: ch.ID, StartLine: ch.StartLine, EndLine: ch.EndLine})
			}
		}
		docs[i] = p.doc
		batch.Upserts[i] = &store.TextDocument{ID: p.doc.ID, Content: p.doc.Content}
	}

	embedded := 0
	if s.vectors() {
		n, err := s.commitVectors(ctx, upserts, deletes)
		if err != nil {
			return 0, err
		}
		embedded = n
	}

	if err := s.h.Text.Apply(ctx, batch); err != nil {
		return 0, err
	}
	if err := s.h.Catalog.Apply(ctx, docs, deletes); err != nil {
		return 0, err
	}
	return embedded, nil
}

func (s *session) commitVectors(ctx context.Context, upserts []*prepared, deletes []string) (int, error) {
	var ids, texts []string
	for _, p := range upserts {
		for _, ch := range p.chunks {
			ids = append(ids, ch.ID)
			texts = append(texts, ch.EmbedText())
		}
	}
	vecs, err := s.embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, p := range upserts {
		old, err := s.h.Catalog.ChunkIDs(ctx, p.doc.ID)
		if err != nil {
			return 0, err
		}
		stale = append(stale, old...)
	}
	for _, id := range deletes {
		old, err := s.h.Catalog.ChunkIDs(ctx, id)
		if err != nil {
			return 0, err
		}
		stale = append(stale, old...)
	}

	if err := s.h.Vector.Delete(ctx, stale); err != nil {
		return 0, err
	}
	if err := s.h.Vector.Add(ctx, ids, vecs); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// embed runs EmbedBatch in batches of batchSize.
func (s *session) embed(ctx context.Context, texts []string) ([][]float32, error) {
	size := s.batchSize
	if size <= 0 {
		size = embed.DefaultBatchSize
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := s.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// commitOrFallback commits and, when embedding fails, disables vectors and
// retries text-only.
func (s *session) commitOrFallback(ctx context.Context, sum *Summary, upserts []*prepared, deletes []string) error {
	n, err := s.commit(ctx, upserts, deletes)
	if err != nil && s.vectors() && yerrors.GetCode(err) == yerrors.ErrCodeEmbeddingFailed {
		s.disableVectors(sum, err)
		n, err = s.commit(ctx, upserts, deletes)
	}
	if err != nil {
		return err
	}
	sum.Chunks += n
	return nil
}

// scanItem is one walked file after preparation.
type scanItem struct {
	path string
	p    *prepared
	err  error
}

// scan walks the whole tree with a bounded worker pool, commits changed
// files in batches and removes documents whose files are gone.
func (s *session) scan(ctx context.Context, w *walker.Walker, workers int, sum *Summary, progress ProgressFunc) error {
	known, err := s.h.Catalog.Hashes(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := w.Walk(ctx, s.h.Workspace.Root)
	if err != nil {
		return err
	}

	items := make(chan scanItem, workers*2)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	go func() {
		defer close(items)
		for r := range results {
			if r.Err != nil {
				select {
				case items <- scanItem{err: r.Err}:
				case <-gctx.Done():
				}
				continue
			}
			c := r.File
			g.Go(func() error {
				p, err := s.prepare(c, known[c.Path])
				select {
				case items <- scanItem{path: c.Path, p: p, err: err}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		_ = g.Wait()
	}()

	seen := make(map[string]struct{}, len(known))
	var pending []*prepared
	var commitErr error
	var prog Progress
	flush := func() {
		if commitErr != nil || len(pending) == 0 {
			return
		}
		if err := s.commitOrFallback(ctx, sum, pending, nil); err != nil {
			commitErr = err
			cancel()
			return
		}
		sum.Indexed += len(pending)
		pending = pending[:0]
	}

	for it := range items {
		if commitErr != nil {
			continue
		}
		if it.path != "" {
			seen[it.path] = struct{}{}
		}
		switch {
		case it.err != nil:
			sum.fail(it.path, it.err)
		case it.p == nil:
			sum.Unchanged++
		default:
			pending = append(pending, it.p)
			if len(pending) >= commitSize {
				flush()
			}
		}
		if progress != nil {
			prog.Files++
			prog.Indexed, prog.Unchanged, prog.Skipped = sum.Indexed+len(pending), sum.Unchanged, sum.Skipped
			prog.Path = it.path
			progress(prog)
		}
	}
	flush()
	if commitErr != nil {
		return commitErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var deletes []string
	for id := range known {
		if _, ok := seen[id]; !ok {
			deletes = append(deletes, id)
		}
	}
	if err := s.commitOrFallback(ctx, sum, nil, deletes); err != nil {
		return err
	}
	sum.Removed += len(deletes)

	if progress != nil {
		prog.Indexed = sum.Indexed
		prog.Done = true
		prog.Path = ""
		progress(prog)
	}
	return nil
}

// finish compacts the graph when tombstones dominate, saves the indexes and
// refreshes the metadata counts.
func (s *session) finish(ctx context.Context, st *workspace.Store) error {
	if s.h.Vector != nil {
		if vs := s.h.Vector.Stats(); vs.Tombstones > 0 && vs.Tombstones > vs.Live {
			if err := s.h.Vector.Compact(); err != nil {
				return err
			}
			slog.Info("vector_compacted", slog.Int("tombstones", vs.Tombstones), slog.Int("live", vs.Live))
		}
	}
	if err := s.h.Save(); err != nil {
		return err
	}

	docs, chunks, err := s.h.Catalog.Count(ctx)
	if err != nil {
		return err
	}
	meta := s.h.Meta
	meta.DocCount = docs
	meta.ChunkCount = 0
	if s.vectors() {
		meta.ChunkCount = chunks
	}
	return st.SaveMetadata(s.h.Workspace, meta)
}
