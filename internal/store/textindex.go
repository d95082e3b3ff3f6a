package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/tokenizer"
)

const segmentVersion = 1

// NativeTextIndex is an in-process inverted index ranked with BM25.
//
// The committed state is an immutable snapshot behind an atomic pointer.
// Apply builds the next snapshot by copying only the term maps it touches
// and swaps it in, so searches never block and never see a partial batch.
type NativeTextIndex struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[textSnapshot]
	cfg     TextConfig
	path    string
	closed  atomic.Bool
}

type textSnapshot struct {
	Docs        map[string]*textDoc
	Postings    map[string]map[string]*posting
	TotalLength int64
}

type textDoc struct {
	Length int
	Terms  []string
}

type posting struct {
	TF    int
	Lines []int
}

type segment struct {
	Version  int
	Snapshot textSnapshot
}

var _ TextIndex = (*NativeTextIndex)(nil)

func emptySnapshot() *textSnapshot {
	return &textSnapshot{
		Docs:     make(map[string]*textDoc),
		Postings: make(map[string]map[string]*posting),
	}
}

// NewNativeTextIndex opens the segment in dir, or starts empty when none
// exists. An empty dir gives an in-memory index whose Save is a no-op.
func NewNativeTextIndex(dir string, cfg TextConfig) (*NativeTextIndex, error) {
	if cfg.K1 <= 0 {
		cfg.K1 = DefaultTextConfig().K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = DefaultTextConfig().B
	}
	cfg.Backend = BackendNative

	idx := &NativeTextIndex{cfg: cfg}
	if dir != "" {
		idx.path = filepath.Join(dir, TextSegment)
	}

	snap, err := idx.load()
	if err != nil {
		return nil, err
	}
	idx.snap.Store(snap)
	return idx, nil
}

func (x *NativeTextIndex) load() (*textSnapshot, error) {
	if x.path == "" {
		return emptySnapshot(), nil
	}

	f, err := os.Open(x.path)
	if os.IsNotExist(err) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return nil, yerrors.IOFailure(x.path, err)
	}
	defer f.Close()

	var seg segment
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&seg); err != nil {
		return nil, yerrors.CorruptIndex(x.path, fmt.Errorf("decode text segment: %w", err))
	}
	if seg.Version != segmentVersion {
		return nil, yerrors.SchemaMismatch(x.path, seg.Version, segmentVersion)
	}

	snap := seg.Snapshot
	if snap.Docs == nil {
		snap.Docs = make(map[string]*textDoc)
	}
	if snap.Postings == nil {
		snap.Postings = make(map[string]map[string]*posting)
	}
	return &snap, nil
}

// Apply commits the batch as one new snapshot. Deletes run before upserts.
func (x *NativeTextIndex) Apply(ctx context.Context, batch *TextBatch) error {
	if batch.Empty() {
		return nil
	}
	if x.closed.Load() {
		return fmt.Errorf("text index is closed")
	}

	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	cur := x.snap.Load()
	next := &textSnapshot{
		Docs:        make(map[string]*textDoc, len(cur.Docs)+len(batch.Upserts)),
		Postings:    make(map[string]map[string]*posting, len(cur.Postings)),
		TotalLength: cur.TotalLength,
	}
	for id, d := range cur.Docs {
		next.Docs[id] = d
	}
	for term, m := range cur.Postings {
		next.Postings[term] = m
	}

	// Term maps shared with cur are cloned on first write.
	owned := make(map[string]bool)
	own := func(term string) map[string]*posting {
		m := next.Postings[term]
		if owned[term] {
			return m
		}
		clone := make(map[string]*posting, len(m)+1)
		for id, p := range m {
			clone[id] = p
		}
		next.Postings[term] = clone
		owned[term] = true
		return clone
	}

	remove := func(id string) {
		d, ok := next.Docs[id]
		if !ok {
			return
		}
		for _, term := range d.Terms {
			m := own(term)
			delete(m, id)
			if len(m) == 0 {
				delete(next.Postings, term)
				delete(owned, term)
			}
		}
		next.TotalLength -= int64(d.Length)
		delete(next.Docs, id)
	}

	for _, id := range batch.Deletes {
		remove(id)
	}

	for i, doc := range batch.Upserts {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		remove(doc.ID)

		tokens := tokenizer.Tokenize(doc.Content)
		postings := make(map[string]*posting)
		terms := make([]string, 0)
		for _, tok := range tokens {
			p, ok := postings[tok.Text]
			if !ok {
				p = &posting{}
				postings[tok.Text] = p
				terms = append(terms, tok.Text)
			}
			p.TF++
			if n := len(p.Lines); n == 0 || p.Lines[n-1] != tok.Line {
				p.Lines = append(p.Lines, tok.Line)
			}
		}

		for term, p := range postings {
			own(term)[doc.ID] = p
		}
		next.Docs[doc.ID] = &textDoc{Length: len(tokens), Terms: terms}
		next.TotalLength += int64(len(tokens))
	}

	x.snap.Store(next)
	return nil
}

// Search scores every document holding at least one query term:
// score(d) = sum over terms of idf(t) * tf*(k1+1) / (tf + k1*(1-b+b*|d|/avgdl))
// with idf(t) = ln(1 + (N-df+0.5)/(df+0.5)). Equal scores order by doc id.
// A non-positive limit returns every match.
func (x *NativeTextIndex) Search(ctx context.Context, query string, limit int) ([]*TextResult, error) {
	if x.closed.Load() {
		return nil, fmt.Errorf("text index is closed")
	}

	snap := x.snap.Load()
	terms := tokenizer.Terms(query)
	n := len(snap.Docs)
	if len(terms) == 0 || n == 0 {
		return []*TextResult{}, nil
	}
	avg := float64(snap.TotalLength) / float64(n)
	if avg == 0 {
		avg = 1
	}
	k1, b := x.cfg.K1, x.cfg.B

	hits := make(map[string]*TextResult)
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		post := snap.Postings[term]
		if len(post) == 0 {
			continue
		}
		df := float64(len(post))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))

		for id, p := range post {
			dl := float64(snap.Docs[id].Length)
			tf := float64(p.TF)
			score := idf * tf * (k1 + 1) / (tf + k1*(1-b+b*dl/avg))

			r, ok := hits[id]
			if !ok {
				r = &TextResult{DocID: id}
				hits[id] = r
			}
			r.Score += score
			r.MatchedTerms = append(r.MatchedTerms, term)
			r.Lines = mergeLines(r.Lines, p.Lines)
		}
	}

	results := make([]*TextResult, 0, len(hits))
	for _, r := range hits {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// mergeLines returns the sorted union of two ascending line lists.
func mergeLines(a, b []int) []int {
	if len(a) == 0 {
		return append([]int(nil), b...)
	}
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var v int
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			v = a[i]
			i++
		case i >= len(a) || b[j] < a[i]:
			v = b[j]
			j++
		default:
			v = a[i]
			i++
			j++
		}
		out = append(out, v)
	}
	return out
}

// Stats returns counts from the current snapshot.
func (x *NativeTextIndex) Stats() TextStats {
	snap := x.snap.Load()
	st := TextStats{
		Backend:   BackendNative,
		Documents: len(snap.Docs),
		Terms:     len(snap.Postings),
	}
	if st.Documents > 0 {
		st.AvgDocLength = float64(snap.TotalLength) / float64(st.Documents)
	}
	return st
}

// DocIDs returns the indexed document ids in sorted order.
func (x *NativeTextIndex) DocIDs() []string {
	snap := x.snap.Load()
	ids := make([]string, 0, len(snap.Docs))
	for id := range snap.Docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DocFrequency returns the number of documents containing term.
func (x *NativeTextIndex) DocFrequency(term string) int {
	return len(x.snap.Load().Postings[term])
}

// Save writes the current snapshot to a temp file and renames it over the
// segment.
func (x *NativeTextIndex) Save() error {
	if x.path == "" {
		return nil
	}
	if x.closed.Load() {
		return fmt.Errorf("text index is closed")
	}

	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return yerrors.IOFailure(filepath.Dir(x.path), err)
	}

	tmp := x.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return yerrors.IOFailure(tmp, err)
	}

	w := bufio.NewWriter(f)
	seg := segment{Version: segmentVersion, Snapshot: *x.snap.Load()}
	if err := gob.NewEncoder(w).Encode(&seg); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return yerrors.IOFailure(tmp, fmt.Errorf("encode text segment: %w", err))
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return yerrors.IOFailure(tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return yerrors.IOFailure(tmp, err)
	}
	if err := os.Rename(tmp, x.path); err != nil {
		_ = os.Remove(tmp)
		return yerrors.IOFailure(x.path, err)
	}
	return nil
}

// Close marks the index closed. It does not save.
func (x *NativeTextIndex) Close() error {
	x.closed.Store(true)
	return nil
}
