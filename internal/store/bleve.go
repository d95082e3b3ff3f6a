package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/tokenizer"
)

const (
	// BleveTokenizerName is the registered name of the ygrep tokenizer.
	BleveTokenizerName = "ygrep_tokenizer"

	// BleveAnalyzerName is the default analyzer of ygrep Bleve indexes.
	BleveAnalyzerName = "ygrep_analyzer"

	contentField = "content"
)

func init() {
	_ = registry.RegisterTokenizer(BleveTokenizerName, bleveTokenizerConstructor)
}

// BleveIndex implements TextIndex on a Bleve directory. Tokens come from the
// same tokenizer as the native index, so both backends agree on what a term is.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

type bleveDocument struct {
	Content string `json:"content"`
}

var _ TextIndex = (*BleveIndex)(nil)

// bleveParams guards Bleve's BM25 parameters, which are process-wide.
var bleveParams sync.Mutex

// NewBleveIndex opens the Bleve index under dir, creating it when missing.
// An empty dir gives an in-memory index. An unreadable index yields
// CorruptIndex; callers rebuild instead of silently discarding it.
//
// Documents are scored with BM25 using cfg.K1 and cfg.B. Bleve keeps those
// two parameters per process, so the last index opened sets them.
func NewBleveIndex(dir string, cfg TextConfig) (*BleveIndex, error) {
	setBleveBM25(cfg)
	m, err := bleveMapping()
	if err != nil {
		return nil, yerrors.InternalError("create index mapping", err)
	}

	if dir == "" {
		idx, err := bleve.NewUsing("", m, scorch.Name, scorch.Name, nil)
		if err != nil {
			return nil, yerrors.InternalError("create in-memory index", err)
		}
		return &BleveIndex{index: idx}, nil
	}

	path := filepath.Join(dir, BleveDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, yerrors.IOFailure(dir, err)
	}
	if err := checkBleveIntegrity(path); err != nil {
		return nil, yerrors.CorruptIndex(path, err)
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		if isBleveCorruption(err) {
			return nil, yerrors.CorruptIndex(path, err)
		}
		return nil, yerrors.IOFailure(path, err)
	}
	return &BleveIndex{index: idx, path: path}, nil
}

func bleveMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(BleveAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": BleveTokenizerName,
	})
	if err != nil {
		return nil, err
	}
	m.DefaultAnalyzer = BleveAnalyzerName
	m.ScoringModel = index.BM25Scoring
	return m, nil
}

func setBleveBM25(cfg TextConfig) {
	def := DefaultTextConfig()
	if cfg.K1 <= 0 {
		cfg.K1 = def.K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = def.B
	}
	bleveParams.Lock()
	defer bleveParams.Unlock()
	search.BM25_k1, search.BM25_b = cfg.K1, cfg.B
}

// checkBleveIntegrity verifies index_meta.json before bleve.Open touches the
// directory.
func checkBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isBleveCorruption(err error) bool {
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment")
}

// Apply commits deletes and upserts as one Bleve batch.
func (b *BleveIndex) Apply(ctx context.Context, tb *TextBatch) error {
	if tb.Empty() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("text index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range tb.Deletes {
		batch.Delete(id)
	}
	for _, doc := range tb.Upserts {
		if err := batch.Index(doc.ID, bleveDocument{Content: doc.Content}); err != nil {
			return yerrors.IOFailure(b.path, fmt.Errorf("index %s: %w", doc.ID, err))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.index.Batch(batch); err != nil {
		return yerrors.IOFailure(b.path, fmt.Errorf("execute batch: %w", err))
	}
	return nil
}

// Search runs a disjunction of the query's terms. Bleve does not expose line
// positions, so Lines is left empty.
func (b *BleveIndex) Search(ctx context.Context, q string, limit int) ([]*TextResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("text index is closed")
	}

	terms := tokenizer.Terms(q)
	if len(terms) == 0 {
		return []*TextResult{}, nil
	}

	disjuncts := make([]query.Query, 0, len(terms))
	for _, term := range terms {
		tq := bleve.NewTermQuery(term)
		tq.SetField(contentField)
		disjuncts = append(disjuncts, tq)
	}

	size := limit
	if size <= 0 {
		count, err := b.index.DocCount()
		if err != nil {
			return nil, yerrors.IOFailure(b.path, err)
		}
		size = int(count)
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(disjuncts...))
	req.Size = size
	req.IncludeLocations = true

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, yerrors.IOFailure(b.path, fmt.Errorf("search: %w", err))
	}

	results := make([]*TextResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, &TextResult{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	return results, nil
}

func matchedTerms(hit *search.DocumentMatch) []string {
	locs := hit.Locations[contentField]
	terms := make([]string, 0, len(locs))
	for term := range locs {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// Stats reports the document count. Bleve does not expose term statistics.
func (b *BleveIndex) Stats() TextStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return TextStats{Backend: BackendBleve}
	}
	count, _ := b.index.DocCount()
	return TextStats{Backend: BackendBleve, Documents: int(count)}
}

// Save is a no-op: Bleve persists each batch.
func (b *BleveIndex) Save() error {
	return nil
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func bleveTokenizerConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	return bleveTokenizer{}, nil
}

type bleveTokenizer struct{}

// Tokenize implements analysis.Tokenizer. Start and End are byte offsets
// of the original (not lower-cased) text.
func (bleveTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := tokenizer.Tokenize(text)
	stream := make(analysis.TokenStream, 0, len(tokens))
	for i, tok := range tokens {
		end := tokenizer.End(text, tok.Offset)
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok.Text),
			Start:    tok.Offset,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return stream
}
