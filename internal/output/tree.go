package output

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/ygrep/internal/search"
)

const treeBarWidth = 20

type treeNode struct {
	name      string
	count     int
	truncated bool
	children  map[string]*treeNode
}

func newTreeNode(name string) *treeNode {
	return &treeNode{name: name, children: map[string]*treeNode{}}
}

// add counts a hit below n, descending at most depth levels.
func (n *treeNode) add(segments []string, depth int) {
	n.count++
	if depth == 0 {
		n.truncated = len(segments) > 0 || n.truncated
		return
	}
	if len(segments) == 0 {
		return
	}
	child, ok := n.children[segments[0]]
	if !ok {
		child = newTreeNode(segments[0])
		n.children[segments[0]] = child
	}
	child.add(segments[1:], depth-1)
}

func (n *treeNode) maxCount() int {
	m := n.count
	for _, c := range n.children {
		m = max(m, c.maxCount())
	}
	return m
}

// sorted returns children by count descending, then name.
func (n *treeNode) sorted() []*treeNode {
	out := make([]*treeNode, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}

func (n *treeNode) label() string {
	switch {
	case len(n.children) == 0 && !n.truncated:
		return n.name
	case len(n.children) == 0:
		return n.name + "/..."
	default:
		return n.name + "/"
	}
}

type treeLine struct {
	text  string
	count int
}

// TreeHeatmap renders hit counts per directory with proportional bars.
// A positive depth collapses deeper directories into "dir/...".
func TreeHeatmap(hits []*search.Hit, depth int) string {
	if len(hits) == 0 {
		return "# 0 hits\n"
	}

	root := newTreeNode("")
	for _, h := range hits {
		var segs []string
		for _, s := range strings.Split(h.Path, "/") {
			if s != "" && s != "." {
				segs = append(segs, s)
			}
		}
		if len(segs) == 0 {
			continue
		}
		limit := len(segs)
		if depth > 0 {
			limit = depth
		}
		root.add(segs, limit)
	}

	var lines []treeLine
	var walk func(n *treeNode, prefix string)
	walk = func(n *treeNode, prefix string) {
		children := n.sorted()
		for i, c := range children {
			last := i == len(children)-1
			connector, branch := "|- ", "|  "
			if last {
				connector, branch = "`- ", "   "
			}
			lines = append(lines, treeLine{text: prefix + connector + c.label(), count: c.count})
			walk(c, prefix+branch)
		}
	}
	walk(root, "")

	maxCount := 0
	for _, c := range root.children {
		maxCount = max(maxCount, c.maxCount())
	}
	countWidth := len(fmt.Sprint(max(maxCount, 1)))
	labelWidth := 0
	for _, l := range lines {
		labelWidth = max(labelWidth, utf8.RuneCountInString(l.text))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %d hits\n\n", len(hits))
	for _, l := range lines {
		pad := strings.Repeat(" ", labelWidth-utf8.RuneCountInString(l.text))
		fmt.Fprintf(&sb, "%s%s  %*d", l.text, pad, countWidth, l.count)
		if bar := heatBar(l.count, maxCount); bar != "" {
			sb.WriteString(" " + bar)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func heatBar(count, maxCount int) string {
	if maxCount == 0 {
		return ""
	}
	n := int(float64(count)/float64(maxCount)*treeBarWidth + 0.5)
	if count > 0 && n == 0 {
		n = 1
	}
	return strings.Repeat("#", n)
}
