package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

// HNSWIndex is the chunk vector index over a coder/hnsw graph with cosine
// distance.
//
// Nodes are never removed from the graph. Deleting or replacing an id drops
// its key mapping and leaves a tombstoned node behind; Search filters those
// and Compact rebuilds the graph without them.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	cfg   VectorConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

type hnswMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorConfig
}

func newGraph(cfg VectorConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// NewHNSWIndex creates an empty index.
func NewHNSWIndex(cfg VectorConfig) *HNSWIndex {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	return &HNSWIndex{
		graph:  newGraph(cfg),
		cfg:    cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// OpenHNSWIndex loads the index at path when it exists and otherwise returns
// an empty one. An index built with different dimensions or model yields
// SchemaMismatch so the caller can rebuild the vectors.
func OpenHNSWIndex(path string, cfg VectorConfig) (*HNSWIndex, error) {
	idx := NewHNSWIndex(cfg)
	if !fileExists(path) || !fileExists(path+vectorMetaExt) {
		return idx, nil
	}
	if err := idx.Load(path); err != nil {
		return nil, err
	}
	if idx.cfg.Dimensions != cfg.Dimensions || (cfg.Model != "" && idx.cfg.Model != cfg.Model) {
		return nil, yerrors.New(yerrors.ErrCodeSchemaMismatch,
			fmt.Sprintf("vector index was built with %s (%d dims)", idx.cfg.Model, idx.cfg.Dimensions),
			ErrDimensionMismatch{Expected: cfg.Dimensions, Got: idx.cfg.Dimensions}).
			WithDetail("path", path).
			WithSuggestion("Run 'ygrep index --semantic --rebuild'")
	}
	return idx, nil
}

// Add inserts vectors. Replacing an existing id tombstones its old node.
func (s *HNSWIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, v := range vectors {
		if len(v) != s.cfg.Dimensions {
			return ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if old, ok := s.idMap[id]; ok {
			delete(s.keyMap, old)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalize(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}
	return nil
}

// Delete tombstones ids. Unknown ids are ignored.
func (s *HNSWIndex) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, id := range ids {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Search returns up to k live nodes nearest to query, best first. It
// over-fetches by the tombstone count so filtered nodes do not shrink the
// result.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != s.cfg.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(query)}
	}
	if k <= 0 || s.graph.Len() == 0 || len(s.idMap) == 0 {
		return []*VectorResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if zeroNorm(query) {
		return []*VectorResult{}, nil
	}
	q := make([]float32, len(query))
	copy(q, query)
	normalize(q)

	fetch := k + s.graph.Len() - len(s.idMap)
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}

	nodes := s.graph.Search(q, fetch)
	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		d := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: d,
			Score:    similarity(d),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Contains reports whether id has a live vector.
func (s *HNSWIndex) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok
}

// IDs returns the live ids in sorted order.
func (s *HNSWIndex) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of live vectors.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Stats reports live and tombstoned node counts.
func (s *HNSWIndex) Stats() VectorStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return VectorStats{}
	}
	nodes := s.graph.Len()
	return VectorStats{
		Live:       len(s.idMap),
		GraphNodes: nodes,
		Tombstones: nodes - len(s.idMap),
		Dimensions: s.cfg.Dimensions,
		Model:      s.cfg.Model,
	}
}

// Compact rebuilds the graph from live nodes and reassigns keys densely.
func (s *HNSWIndex) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector index is closed")
	}
	if s.graph.Len() == len(s.idMap) {
		return nil
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	graph := newGraph(s.cfg)
	idMap := make(map[string]uint64, len(ids))
	keyMap := make(map[uint64]string, len(ids))
	var next uint64
	for _, id := range ids {
		vec, ok := s.graph.Lookup(s.idMap[id])
		if !ok {
			slog.Warn("hnsw_compact_missing_node", slog.String("id", id))
			continue
		}
		graph.Add(hnsw.MakeNode(next, vec))
		idMap[id] = next
		keyMap[next] = id
		next++
	}

	before := s.graph.Len()
	s.graph, s.idMap, s.keyMap, s.nextKey = graph, idMap, keyMap, next
	slog.Debug("hnsw_compacted",
		slog.Int("nodes_before", before),
		slog.Int("nodes_after", graph.Len()))
	return nil
}

// Save exports the graph to path and the id map to path+".meta", each via a
// temp file and rename.
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return yerrors.IOFailure(filepath.Dir(path), err)
	}

	err := writeAtomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		if err := s.graph.Export(w); err != nil {
			return fmt.Errorf("export graph: %w", err)
		}
		return w.Flush()
	})
	if err != nil {
		return yerrors.IOFailure(path, err)
	}

	meta := hnswMeta{IDMap: s.idMap, NextKey: s.nextKey, Config: s.cfg}
	err = writeAtomic(path+vectorMetaExt, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	})
	if err != nil {
		return yerrors.IOFailure(path+vectorMetaExt, err)
	}
	return nil
}

// Load replaces the in-memory state with the graph and id map at path.
// The graph is imported, not rebuilt.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	meta, err := readHNSWMeta(path + vectorMetaExt)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return yerrors.IOFailure(path, err)
	}
	defer f.Close()

	graph := newGraph(meta.Config)
	// Import needs an io.ByteReader.
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return yerrors.CorruptIndex(path, fmt.Errorf("import graph: %w", err))
	}

	s.graph = graph
	s.cfg = meta.Config
	s.idMap = meta.IDMap
	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

func readHNSWMeta(path string) (*hnswMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, yerrors.IOFailure(path, err)
	}
	defer f.Close()

	var meta hnswMeta
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return nil, yerrors.CorruptIndex(path, fmt.Errorf("decode vector metadata: %w", err))
	}
	return &meta, nil
}

// ReadVectorConfig returns the configuration stored next to the index at
// path, or nil when there is none.
func ReadVectorConfig(path string) (*VectorConfig, error) {
	if !fileExists(path + vectorMetaExt) {
		return nil, nil
	}
	meta, err := readHNSWMeta(path + vectorMetaExt)
	if err != nil {
		return nil, err
	}
	return &meta.Config, nil
}

// RemoveHNSWFiles deletes a saved graph and its id map. Missing files are
// not an error.
func RemoveHNSWFiles(path string) error {
	for _, p := range []string{path, path + vectorMetaExt} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return yerrors.IOFailure(p, err)
		}
	}
	return nil
}

// Close drops the graph.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// zeroNorm reports whether v has no direction, so no cosine distance to it
// is defined.
func zeroNorm(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// similarity maps a cosine distance in [0,2] to [0,1]. An undefined
// distance, as from a zero vector, has no similarity.
func similarity(d float32) float32 {
	s := 1 - d/2
	switch {
	case math.IsNaN(float64(s)), s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
