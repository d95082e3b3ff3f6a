package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer(t *testing.T) {
	buf := NewCircularBuffer[string](3)
	assert.Empty(t, buf.Items())

	buf.Add("q1")
	buf.Add("q2")
	assert.Equal(t, []string{"q1", "q2"}, buf.Items())

	buf.Add("q3")
	buf.Add("q4")
	buf.Add("q5")
	assert.Equal(t, []string{"q3", "q4", "q5"}, buf.Items())
	assert.Equal(t, 3, buf.Size())
}

func TestCircularBuffer_DefaultCapacity(t *testing.T) {
	buf := NewCircularBuffer[int](0)
	for i := range 150 {
		buf.Add(i)
	}
	assert.Equal(t, 100, buf.Size())
	assert.Equal(t, 50, buf.Items()[0])
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{499 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"parse", "config", "file"}, ExtractTerms("Parse a CONFIG file of an id"))
	assert.Empty(t, ExtractTerms("  "))
}

func TestQueryMetrics_Record(t *testing.T) {
	// Given: a mix of queries
	m := New(DefaultConfig())
	m.Record(QueryEvent{Query: "parse config", Kind: KindHybrid, ResultCount: 3, Latency: 4 * time.Millisecond})
	m.Record(QueryEvent{Query: "Parse Config ", Kind: KindHybrid, ResultCount: 3, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: `func \w+`, Kind: KindRegex, ResultCount: 0, Latency: 120 * time.Millisecond})

	// When: taking a snapshot
	s := m.Snapshot(10)

	// Then: every aggregate reflects the events
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(2), s.KindCounts[KindHybrid])
	assert.Equal(t, int64(1), s.KindCounts[KindRegex])
	assert.Equal(t, int64(1), s.Latency[BucketP10])
	assert.Equal(t, int64(1), s.Latency[BucketP50])
	assert.Equal(t, int64(1), s.Latency[BucketP500])
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, []string{`func \w+`}, s.ZeroResultQueries)
	assert.Equal(t, int64(1), s.RepeatCount)
	assert.InDelta(t, 1.0/3, s.RepeatRate(), 1e-9)

	require.GreaterOrEqual(t, len(s.TopTerms), 2)
	assert.Equal(t, TermCount{Term: "config", Count: 2}, s.TopTerms[0])
	assert.Equal(t, TermCount{Term: "parse", Count: 2}, s.TopTerms[1])
}

func TestQueryMetrics_TopNAndEviction(t *testing.T) {
	m := New(Config{TopTerms: 2, ZeroResults: 1, RecentQueries: 1})
	m.Record(QueryEvent{Query: "alpha"})
	m.Record(QueryEvent{Query: "bravo"})
	m.Record(QueryEvent{Query: "charlie"})
	m.Record(QueryEvent{Query: "alpha"})

	s := m.Snapshot(1)

	assert.Len(t, s.TopTerms, 1)
	assert.Equal(t, []string{"alpha"}, s.ZeroResultQueries)
	assert.Zero(t, s.RepeatCount, "alpha was evicted from the recent set")
}

func TestQueryMetrics_EmptySnapshot(t *testing.T) {
	s := New(Config{}).Snapshot(0)

	assert.Zero(t, s.TotalQueries)
	assert.Zero(t, s.RepeatRate())
	assert.Empty(t, s.TopTerms)
	assert.False(t, s.Since.IsZero())
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := New(DefaultConfig())
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				m.Record(QueryEvent{Query: fmt.Sprintf("query%d_%d", i, j), Kind: KindText, ResultCount: 1})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(400), m.Snapshot(5).TotalQueries)
}
