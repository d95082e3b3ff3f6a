package search

import (
	"math"
	"sort"
)

// TextCandidate is a document returned by text retrieval.
type TextCandidate struct {
	DocID string
	// Score is the raw retriever score; Fuse normalizes it.
	Score   float64
	Lines   []int
	Snippet string
}

// SemanticCandidate is the best chunk of a document returned by vector
// retrieval.
type SemanticCandidate struct {
	DocID     string
	Score     float64
	StartLine int
	EndLine   int
	Snippet   string
}

// WeightedFusion merges text and semantic candidates into one hit per
// document.
//
// Each side is normalized by its maximum score to [0,1]. A document found
// by both retrievers is Hybrid and scores Text*t + Semantic*s; a document
// found by one scores that side's weighted value. When only one retriever
// ran, the normalized score is used unweighted.
type WeightedFusion struct {
	Weights Weights
}

// NewWeightedFusion creates a fusion with the given weights. Negative or
// all-zero weights fall back to the defaults.
func NewWeightedFusion(w Weights) *WeightedFusion {
	if w.Text < 0 || w.Semantic < 0 || w.Text+w.Semantic == 0 {
		w = DefaultWeights()
	}
	return &WeightedFusion{Weights: w}
}

// Fuse returns hits sorted by score descending, Hybrid before single-source
// hits at equal score, then path and line ascending.
func (f *WeightedFusion) Fuse(text []*TextCandidate, sem []*SemanticCandidate, semanticRan bool) []*Hit {
	if len(text) == 0 && len(sem) == 0 {
		return []*Hit{}
	}

	maxText := 0.0
	for _, c := range text {
		maxText = max(maxText, finite(c.Score))
	}
	maxSem := 0.0
	for _, c := range sem {
		maxSem = max(maxSem, finite(c.Score))
	}

	hits := make(map[string]*Hit, len(text)+len(sem))
	for _, c := range text {
		h := &Hit{
			Path:      c.DocID,
			Lines:     c.Lines,
			Snippet:   c.Snippet,
			MatchType: MatchText,
			textScore: normalizeScore(c.Score, maxText),
		}
		if len(c.Lines) > 0 {
			h.LineStart, h.LineEnd = c.Lines[0], c.Lines[0]
		}
		hits[c.DocID] = h
	}
	for _, c := range sem {
		s := normalizeScore(c.Score, maxSem)
		if h, ok := hits[c.DocID]; ok {
			h.MatchType = MatchHybrid
			h.semanticScore = max(h.semanticScore, s)
			if h.LineStart == 0 {
				h.LineStart, h.LineEnd = c.StartLine, c.EndLine
				h.Snippet = c.Snippet
			}
			continue
		}
		hits[c.DocID] = &Hit{
			Path:          c.DocID,
			LineStart:     c.StartLine,
			LineEnd:       c.EndLine,
			Snippet:       c.Snippet,
			MatchType:     MatchSemantic,
			semanticScore: s,
		}
	}

	out := make([]*Hit, 0, len(hits))
	for _, h := range hits {
		h.Score = f.score(h, semanticRan)
		out = append(out, h)
	}
	sortHits(out)
	return out
}

func (f *WeightedFusion) score(h *Hit, semanticRan bool) float64 {
	if !semanticRan {
		return h.textScore
	}
	switch h.MatchType {
	case MatchHybrid:
		return f.Weights.Text*h.textScore + f.Weights.Semantic*h.semanticScore
	case MatchSemantic:
		return f.Weights.Semantic * h.semanticScore
	default:
		return f.Weights.Text * h.textScore
	}
}

func normalizeScore(score, maxScore float64) float64 {
	if maxScore <= 0 {
		return 0
	}
	return finite(score) / maxScore
}

// finite maps NaN and infinities to 0.
func finite(score float64) float64 {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}

// sortHits orders hits deterministically.
func sortHits(hits []*Hit) {
	sort.Slice(hits, func(i, j int) bool {
		return compareHits(hits[i], hits[j])
	})
}

// compareHits reports whether a ranks before b.
//
// Priority:
//  1. Higher score
//  2. Hybrid before single-source
//  3. Path ascending
//  4. First line ascending
func compareHits(a, b *Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ah, bh := a.MatchType == MatchHybrid, b.MatchType == MatchHybrid; ah != bh {
		return ah
	}
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	return a.LineStart < b.LineStart
}
