package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/ygrep/internal/store"
)

// InconsistencyType categorizes a cross-store issue.
type InconsistencyType int

const (
	// InconsistencyOrphanText is a text index document without a catalog row.
	InconsistencyOrphanText InconsistencyType = iota
	// InconsistencyMissingText is a cataloged document absent from the text index.
	InconsistencyMissingText
	// InconsistencyOrphanVector is a vector without a cataloged chunk.
	InconsistencyOrphanVector
	// InconsistencyMissingVector is a cataloged chunk absent from the vector index.
	InconsistencyMissingVector
	// InconsistencyCount is a document count mismatch on backends that do
	// not enumerate ids.
	InconsistencyCount
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanText:
		return "orphan_text"
	case InconsistencyMissingText:
		return "missing_text"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingVector:
		return "missing_vector"
	case InconsistencyCount:
		return "count_mismatch"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType
	ID      string
	Details string
}

// CheckResult is the outcome of Check.
type CheckResult struct {
	// Checked is the number of catalog documents and chunks verified.
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Consistent reports whether no issue was found.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// docLister is implemented by text indexes that can enumerate documents.
type docLister interface {
	DocIDs() []string
}

// Check compares the catalog, the source of truth, against the text index
// and, when open, the vector index.
func Check(ctx context.Context, h *Handles) (*CheckResult, error) {
	start := time.Now()
	res := &CheckResult{}

	hashes, err := h.Catalog.Hashes(ctx)
	if err != nil {
		return nil, err
	}
	res.Checked = len(hashes)

	if lister, ok := h.Text.(docLister); ok {
		res.Inconsistencies = append(res.Inconsistencies,
			diffIDs(hashes, lister.DocIDs(), InconsistencyOrphanText, InconsistencyMissingText)...)
	} else if n := h.Text.Stats().Documents; n != len(hashes) {
		res.Inconsistencies = append(res.Inconsistencies, Inconsistency{
			Type:    InconsistencyCount,
			Details: "text index and catalog document counts differ",
		})
	}

	if h.Vector != nil {
		chunkIDs, err := h.Catalog.AllChunkIDs(ctx)
		if err != nil {
			return nil, err
		}
		res.Checked += len(chunkIDs)
		known := make(map[string]string, len(chunkIDs))
		for _, id := range chunkIDs {
			known[id] = ""
		}
		res.Inconsistencies = append(res.Inconsistencies,
			diffIDs(known, h.Vector.IDs(), InconsistencyOrphanVector, InconsistencyMissingVector)...)
	}

	res.Duration = time.Since(start)
	return res, nil
}

// diffIDs reports ids present only in have as orphans and ids present only
// in want as missing.
func diffIDs(want map[string]string, have []string, orphan, missing InconsistencyType) []Inconsistency {
	var out []Inconsistency
	seen := make(map[string]struct{}, len(have))
	for _, id := range have {
		seen[id] = struct{}{}
		if _, ok := want[id]; !ok {
			out = append(out, Inconsistency{Type: orphan, ID: id, Details: "entry without catalog row"})
		}
	}
	for id := range want {
		if _, ok := seen[id]; !ok {
			out = append(out, Inconsistency{Type: missing, ID: id, Details: "catalog row without entry"})
		}
	}
	return out
}

// Repair removes orphaned text documents and vectors. Missing entries need
// a rebuild and are only counted.
func Repair(ctx context.Context, h *Handles, issues []Inconsistency) (missing int, err error) {
	batch := &store.TextBatch{}
	var vectors []string
	for _, is := range issues {
		switch is.Type {
		case InconsistencyOrphanText:
			batch.Deletes = append(batch.Deletes, is.ID)
		case InconsistencyOrphanVector:
			vectors = append(vectors, is.ID)
		default:
			missing++
		}
	}

	if !batch.Empty() {
		if err := h.Text.Apply(ctx, batch); err != nil {
			return missing, err
		}
		slog.Info("orphan_text_removed", slog.Int("count", len(batch.Deletes)))
	}
	if len(vectors) > 0 && h.Vector != nil {
		if err := h.Vector.Delete(ctx, vectors); err != nil {
			return missing, err
		}
		slog.Info("orphan_vectors_removed", slog.Int("count", len(vectors)))
	}
	if missing > 0 {
		slog.Warn("index_entries_missing", slog.Int("count", missing))
	}
	return missing, nil
}
