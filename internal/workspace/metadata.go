package workspace

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

// VectorStatus records whether the last build produced a vector index.
type VectorStatus string

const (
	VectorNone        VectorStatus = ""
	VectorReady       VectorStatus = "ready"
	VectorUnsupported VectorStatus = "unsupported"
)

// Metadata is the persisted per-workspace index record.
type Metadata struct {
	SchemaVersion  int          `json:"schema_version"`
	Root           string       `json:"root_path"`
	Mode           Mode         `json:"mode"`
	DocCount       int          `json:"doc_count"`
	ChunkCount     int          `json:"chunk_count"`
	TextBackend    string       `json:"text_backend"`
	EmbeddingModel string       `json:"embedding_model,omitempty"`
	Dimensions     int          `json:"dimensions,omitempty"`
	VectorStatus   VectorStatus `json:"vector_status,omitempty"`

	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	LastBuildTime       time.Time `json:"last_build_time"`
	LastBuildDurationMS int64     `json:"last_build_duration_ms"`
	LastBuildID         string    `json:"last_build_id,omitempty"`
}

// HasVectors reports whether a usable vector index was built.
func (m *Metadata) HasVectors() bool {
	return m.Mode == ModeSemantic && m.VectorStatus == VectorReady
}

// StartBuild stamps a new build identifier and returns it.
func (m *Metadata) StartBuild() string {
	m.LastBuildID = uuid.NewString()
	return m.LastBuildID
}

// FinishBuild records the build's completion time and duration.
func (m *Metadata) FinishBuild(started time.Time) {
	now := time.Now().UTC()
	m.LastBuildTime = now
	m.LastBuildDurationMS = now.Sub(started).Milliseconds()
}

// Open reads the metadata of ws.
//
// Returns NotIndexed when no index exists, SchemaMismatch when it was
// written by an incompatible version and CorruptIndex when the record
// cannot be parsed. Open never writes.
func (s *Store) Open(ws *Workspace) (*Metadata, error) {
	path := ws.Path(MetadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, yerrors.NotIndexed(ws.Root, "")
		}
		return nil, yerrors.IOFailure(path, err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, yerrors.CorruptIndex(path, err)
	}
	if meta.SchemaVersion != SchemaVersion {
		return &meta, yerrors.SchemaMismatch(ws.IndexDir, meta.SchemaVersion, SchemaVersion)
	}
	return &meta, nil
}

// Create prepares an empty index directory for ws, removing any previous
// index data, and persists fresh metadata. It is the only call that
// creates an index directory.
func (s *Store) Create(ws *Workspace, mode Mode, textBackend string) (*Metadata, error) {
	if err := os.MkdirAll(ws.IndexDir, 0o755); err != nil {
		return nil, yerrors.IOFailure(ws.IndexDir, err)
	}

	entries, err := os.ReadDir(ws.IndexDir)
	if err != nil {
		return nil, yerrors.IOFailure(ws.IndexDir, err)
	}
	for _, e := range entries {
		if e.Name() == LockFile {
			continue
		}
		if err := os.RemoveAll(filepath.Join(ws.IndexDir, e.Name())); err != nil {
			return nil, yerrors.IOFailure(e.Name(), err)
		}
	}

	now := time.Now().UTC()
	meta := &Metadata{
		SchemaVersion: SchemaVersion,
		Root:          ws.Root,
		Mode:          mode,
		TextBackend:   textBackend,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.SaveMetadata(ws, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// SaveMetadata atomically replaces the metadata record of ws.
func (s *Store) SaveMetadata(ws *Workspace, meta *Metadata) error {
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return yerrors.InternalError("encode metadata", err)
	}

	path := ws.Path(MetadataFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return yerrors.IOFailure(tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return yerrors.IOFailure(path, err)
	}
	return nil
}

// SetMode persists mode for an existing index.
func (s *Store) SetMode(ws *Workspace, mode Mode) error {
	meta, err := s.Open(ws)
	if err != nil {
		return err
	}
	meta.Mode = mode
	return s.SaveMetadata(ws, meta)
}

// ResolveMode picks the mode for a build: an explicit request wins,
// otherwise the stored mode (even from an index that must be rebuilt),
// otherwise text.
func (s *Store) ResolveMode(ws *Workspace, explicit *Mode) Mode {
	if explicit != nil {
		return *explicit
	}
	if meta, _ := s.Open(ws); meta != nil && meta.Mode != "" {
		return meta.Mode
	}
	return ModeText
}
