package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

const catalogSchemaVersion = 1

// Catalog stores document content and chunk bookkeeping in SQLite.
// It is the source of raw text for regex scans, literal confirmation and
// snippets, and of content hashes for incremental builds.
type Catalog struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// IntegrityCheck selects how OpenCatalog verifies an existing database.
type IntegrityCheck string

const (
	// QuickCheck verifies the b-tree structure without reading every row.
	// It suits read paths that open the catalog on each query.
	QuickCheck IntegrityCheck = "quick_check"
	// FullCheck also verifies index content against the table rows.
	FullCheck IntegrityCheck = "integrity_check"
)

// OpenCatalog opens or creates the catalog at path. An empty path opens an
// in-memory catalog. A database that fails check yields CorruptIndex.
func OpenCatalog(path string, check IntegrityCheck) (*Catalog, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, yerrors.IOFailure(filepath.Dir(path), err)
		}
		if err := checkCatalogIntegrity(path, check); err != nil {
			return nil, yerrors.CorruptIndex(path, err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, yerrors.IOFailure(path, err)
	}

	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, yerrors.IOFailure(path, fmt.Errorf("set pragma: %w", err))
		}
	}

	c := &Catalog{db: db, path: path}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func checkCatalogIntegrity(path string, check IntegrityCheck) error {
	if check != QuickCheck {
		check = FullCheck
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA " + string(check)).Scan(&result); err != nil {
		return fmt.Errorf("%s: %w", check, err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func (c *Catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id           TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		mtime        INTEGER NOT NULL,
		size         INTEGER NOT NULL,
		language     TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL,
		indexed_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id         TEXT PRIMARY KEY,
		doc_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		start_line INTEGER NOT NULL,
		end_line   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return yerrors.IOFailure(c.path, fmt.Errorf("init schema: %w", err))
	}

	var version int
	err := c.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		_, err = c.db.Exec("INSERT INTO schema_version (version) VALUES (?)", catalogSchemaVersion)
		if err != nil {
			return yerrors.IOFailure(c.path, err)
		}
	case err != nil:
		return yerrors.CorruptIndex(c.path, err)
	case version != catalogSchemaVersion:
		return yerrors.SchemaMismatch(c.path, version, catalogSchemaVersion)
	}
	return nil
}

// Apply upserts and deletes documents in a single transaction. An upsert
// replaces the document's chunk rows with doc.Chunks.
func (c *Catalog) Apply(ctx context.Context, upserts []*Document, deletes []string) error {
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return yerrors.IOFailure(c.path, fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range deletes {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", id); err != nil {
			return yerrors.IOFailure(c.path, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
			return yerrors.IOFailure(c.path, err)
		}
	}

	upsertDoc, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, content_hash, mtime, size, language, content, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			mtime        = excluded.mtime,
			size         = excluded.size,
			language     = excluded.language,
			content      = excluded.content,
			indexed_at   = excluded.indexed_at`)
	if err != nil {
		return yerrors.IOFailure(c.path, err)
	}
	defer upsertDoc.Close()

	insertChunk, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO chunks (id, doc_id, start_line, end_line) VALUES (?, ?, ?, ?)")
	if err != nil {
		return yerrors.IOFailure(c.path, err)
	}
	defer insertChunk.Close()

	for _, doc := range upserts {
		indexedAt := doc.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = time.Now()
		}
		if _, err := upsertDoc.ExecContext(ctx, doc.ID, doc.ContentHash, doc.ModTime.UnixNano(),
			doc.Size, doc.Language, doc.Content, indexedAt.UnixNano()); err != nil {
			return yerrors.IOFailure(c.path, fmt.Errorf("upsert %s: %w", doc.ID, err))
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", doc.ID); err != nil {
			return yerrors.IOFailure(c.path, err)
		}
		for _, ch := range doc.Chunks {
			if _, err := insertChunk.ExecContext(ctx, ch.ID, doc.ID, ch.StartLine, ch.EndLine); err != nil {
				return yerrors.IOFailure(c.path, fmt.Errorf("insert chunk %s: %w", ch.ID, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return yerrors.IOFailure(c.path, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Get returns a document with its chunks, or nil when it is not cataloged.
func (c *Catalog) Get(ctx context.Context, id string) (*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	row := c.db.QueryRowContext(ctx, `
		SELECT id, content_hash, mtime, size, language, content, indexed_at
		FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, yerrors.IOFailure(c.path, err)
	}

	chunks, err := c.chunkRefs(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Chunks = chunks
	return doc, nil
}

// Hashes returns the content hash of every cataloged document.
func (c *Catalog) Hashes(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	rows, err := c.db.QueryContext(ctx, "SELECT id, content_hash FROM documents")
	if err != nil {
		return nil, yerrors.IOFailure(c.path, err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, yerrors.IOFailure(c.path, err)
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

// ChunkIDs returns the chunk ids recorded for a document.
func (c *Catalog) ChunkIDs(ctx context.Context, docID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	refs, err := c.chunkRefs(ctx, docID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids, nil
}

// AllChunkIDs returns every recorded chunk id.
func (c *Catalog) AllChunkIDs(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	rows, err := c.db.QueryContext(ctx, "SELECT id FROM chunks")
	if err != nil {
		return nil, yerrors.IOFailure(c.path, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, yerrors.IOFailure(c.path, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Chunk returns the chunk with the given id, or nil.
func (c *Catalog) Chunk(ctx context.Context, id string) (*ChunkRef, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, "", fmt.Errorf("catalog is closed")
	}

	var ref ChunkRef
	var docID string
	err := c.db.QueryRowContext(ctx,
		"SELECT id, doc_id, start_line, end_line FROM chunks WHERE id = ?", id).
		Scan(&ref.ID, &docID, &ref.StartLine, &ref.EndLine)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", yerrors.IOFailure(c.path, err)
	}
	return &ref, docID, nil
}

func (c *Catalog) chunkRefs(ctx context.Context, docID string) ([]ChunkRef, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, start_line, end_line FROM chunks WHERE doc_id = ? ORDER BY start_line", docID)
	if err != nil {
		return nil, yerrors.IOFailure(c.path, err)
	}
	defer rows.Close()

	var refs []ChunkRef
	for rows.Next() {
		var r ChunkRef
		if err := rows.Scan(&r.ID, &r.StartLine, &r.EndLine); err != nil {
			return nil, yerrors.IOFailure(c.path, err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// Count returns the number of documents and chunks.
func (c *Catalog) Count(ctx context.Context) (docs, chunks int, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, 0, fmt.Errorf("catalog is closed")
	}

	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&docs); err != nil {
		return 0, 0, yerrors.IOFailure(c.path, err)
	}
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&chunks); err != nil {
		return 0, 0, yerrors.IOFailure(c.path, err)
	}
	return docs, chunks, nil
}

// Scan calls fn for every document in ascending id order. Chunks are not
// loaded. Scanning stops at the first error returned by fn or when ctx is
// done. fn must not call back into the catalog.
func (c *Catalog) Scan(ctx context.Context, fn func(*Document) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, content_hash, mtime, size, language, content, indexed_at
		FROM documents ORDER BY id`)
	if err != nil {
		return yerrors.IOFailure(c.path, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := scanDocument(rows)
		if err != nil {
			return yerrors.IOFailure(c.path, err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Path returns the database file path, empty for in-memory catalogs.
func (c *Catalog) Path() string {
	return c.path
}

// Close releases the database.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc       Document
		mtime     int64
		indexedAt int64
	)
	if err := row.Scan(&doc.ID, &doc.ContentHash, &mtime, &doc.Size, &doc.Language,
		&doc.Content, &indexedAt); err != nil {
		return nil, err
	}
	doc.ModTime = time.Unix(0, mtime)
	doc.IndexedAt = time.Unix(0, indexedAt)
	return &doc, nil
}
