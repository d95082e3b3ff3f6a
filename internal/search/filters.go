package search

import (
	"path"
	"strings"
)

// FilterFunc reports whether a hit is kept.
type FilterFunc func(h *Hit) bool

// ApplyFilters keeps hits matching every filter derived from q. Order is
// preserved.
func ApplyFilters(hits []*Hit, q Query) []*Hit {
	filters := buildFilters(q)
	if len(filters) == 0 {
		return hits
	}

	filtered := make([]*Hit, 0, len(hits))
	for _, h := range hits {
		if matchesAllFilters(h, filters) {
			filtered = append(filtered, h)
		}
	}
	return filtered
}

func buildFilters(q Query) []FilterFunc {
	var filters []FilterFunc
	if f := extensionFilter(q.Extensions); f != nil {
		filters = append(filters, f)
	}
	if f := pathFilter(q.Paths); f != nil {
		filters = append(filters, f)
	}
	return filters
}

func hasFilters(q Query) bool {
	return len(buildFilters(q)) > 0
}

func matchesAllFilters(h *Hit, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(h) {
			return false
		}
	}
	return true
}

// NormalizeExtension strips a leading dot and lower-cases ASCII letters.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// extensionFilter matches the final extension of the path exactly,
// ignoring ASCII case. Files without an extension never match.
func extensionFilter(exts []string) FilterFunc {
	allowed := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		if n := NormalizeExtension(e); n != "" {
			allowed[n] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return func(h *Hit) bool {
		ext := path.Ext(h.Path)
		if ext == "" {
			return false
		}
		_, ok := allowed[NormalizeExtension(ext)]
		return ok
	}
}

// pathFilter keeps paths that start with or contain any filter. Filters
// are plain strings; no glob syntax is interpreted.
func pathFilter(paths []string) FilterFunc {
	var needles []string
	for _, p := range paths {
		if p = strings.TrimPrefix(strings.TrimSpace(p), "./"); p != "" {
			needles = append(needles, p)
		}
	}
	if len(needles) == 0 {
		return nil
	}
	return func(h *Hit) bool {
		for _, n := range needles {
			if strings.HasPrefix(h.Path, n) || strings.Contains(h.Path, n) {
				return true
			}
		}
		return false
	}
}
