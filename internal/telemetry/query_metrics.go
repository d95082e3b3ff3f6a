// Package telemetry keeps query statistics for a long-running server.
// Everything stays in process memory; nothing is reported anywhere.
package telemetry

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/ygrep/internal/tokenizer"
)

// QueryKind classifies how a query was answered.
type QueryKind string

const (
	KindText   QueryKind = "text"
	KindHybrid QueryKind = "hybrid"
	KindRegex  QueryKind = "regex"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one answered search.
type QueryEvent struct {
	Query       string
	Kind        QueryKind
	ResultCount int
	Latency     time.Duration
}

// CircularBuffer is a fixed-capacity FIFO buffer. It is not safe for
// concurrent use on its own.
type CircularBuffer[T any] struct {
	items []T
	head  int
	size  int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	out := make([]T, 0, b.size)
	if b.size < len(b.items) {
		return append(out, b.items[:b.size]...)
	}
	out = append(out, b.items[b.head:]...)
	return append(out, b.items[:b.head]...)
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int { return b.size }

// minTermLen drops short tokens like "a" or "id" from the term counts.
const minTermLen = 3

// ExtractTerms returns the countable terms of a query.
func ExtractTerms(query string) []string {
	var out []string
	for _, t := range tokenizer.Terms(query) {
		if len(t) >= minTermLen {
			out = append(out, t)
		}
	}
	return out
}

// TermCount is a term and how often it was queried.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a copy of the collected statistics.
type Snapshot struct {
	TotalQueries      int64                   `json:"total_queries"`
	ZeroResultCount   int64                   `json:"zero_result_count"`
	KindCounts        map[QueryKind]int64     `json:"kind_counts"`
	Latency           map[LatencyBucket]int64 `json:"latency"`
	TopTerms          []TermCount             `json:"top_terms"`
	ZeroResultQueries []string                `json:"zero_result_queries"`
	RepeatCount       int64                   `json:"repeat_count"`
	Since             time.Time               `json:"since"`
}

// RepeatRate is the share of queries seen before, in [0,1].
func (s *Snapshot) RepeatRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.RepeatCount) / float64(s.TotalQueries)
}

// Config sizes the bounded collections.
type Config struct {
	TopTerms      int
	ZeroResults   int
	RecentQueries int
}

// DefaultConfig returns the default capacities.
func DefaultConfig() Config {
	return Config{TopTerms: 100, ZeroResults: 50, RecentQueries: 500}
}

// QueryMetrics collects query statistics. It is safe for concurrent use.
type QueryMetrics struct {
	mu        sync.Mutex
	kinds     map[QueryKind]int64
	latencies map[LatencyBucket]int64
	terms     *lru.Cache[string, int64]
	recent    *lru.Cache[uint64, struct{}]
	zero      *CircularBuffer[string]
	total     int64
	zeroCount int64
	repeats   int64
	since     time.Time
}

// New creates a collector. Non-positive capacities use the defaults.
func New(cfg Config) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTerms <= 0 {
		cfg.TopTerms = def.TopTerms
	}
	if cfg.ZeroResults <= 0 {
		cfg.ZeroResults = def.ZeroResults
	}
	if cfg.RecentQueries <= 0 {
		cfg.RecentQueries = def.RecentQueries
	}
	terms, _ := lru.New[string, int64](cfg.TopTerms)
	recent, _ := lru.New[uint64, struct{}](cfg.RecentQueries)
	return &QueryMetrics{
		kinds:     make(map[QueryKind]int64),
		latencies: make(map[LatencyBucket]int64),
		terms:     terms,
		recent:    recent,
		zero:      NewCircularBuffer[string](cfg.ZeroResults),
		since:     time.Now(),
	}
}

// Record adds one query.
func (m *QueryMetrics) Record(ev QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.kinds[ev.Kind]++
	m.latencies[LatencyToBucket(ev.Latency)]++

	for _, term := range ExtractTerms(ev.Query) {
		n, _ := m.terms.Get(term)
		m.terms.Add(term, n+1)
	}
	if ev.ResultCount == 0 {
		m.zeroCount++
		m.zero.Add(ev.Query)
	}

	key := xxhash.Sum64String(strings.ToLower(strings.TrimSpace(ev.Query)))
	if _, seen := m.recent.Get(key); seen {
		m.repeats++
	}
	m.recent.Add(key, struct{}{})
}

// Snapshot returns the statistics with at most topN terms, most frequent
// first. Non-positive topN returns every tracked term.
func (m *QueryMetrics) Snapshot(topN int) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{
		TotalQueries:      m.total,
		ZeroResultCount:   m.zeroCount,
		KindCounts:        make(map[QueryKind]int64, len(m.kinds)),
		Latency:           make(map[LatencyBucket]int64, len(m.latencies)),
		ZeroResultQueries: m.zero.Items(),
		RepeatCount:       m.repeats,
		Since:             m.since,
	}
	for k, v := range m.kinds {
		s.KindCounts[k] = v
	}
	for k, v := range m.latencies {
		s.Latency[k] = v
	}

	for _, term := range m.terms.Keys() {
		if n, ok := m.terms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: n})
		}
	}
	slices.SortFunc(s.TopTerms, func(a, b TermCount) int {
		if a.Count != b.Count {
			return int(b.Count - a.Count)
		}
		return strings.Compare(a.Term, b.Term)
	})
	if topN > 0 && len(s.TopTerms) > topN {
		s.TopTerms = s.TopTerms[:topN]
	}
	return s
}
