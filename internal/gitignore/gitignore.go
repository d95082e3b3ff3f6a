// Package gitignore compiles .gitignore files into matchers.
//
// Each Rules value holds the patterns of one ignore file together with the
// directory it lives in. A Stack layers them the way git does: rules from
// deeper directories are consulted after (and therefore override) rules
// from their ancestors, and within a file the last matching rule wins.
package gitignore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"
)

// Rules are the compiled patterns of a single ignore file.
type Rules struct {
	// Base is the slash-separated directory of the ignore file relative to
	// the walk root ("" for the root itself).
	Base  string
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

// Parse compiles ignore patterns read from r.
func Parse(base string, r io.Reader) (*Rules, error) {
	rs := &Rules{Base: strings.Trim(base, "/")}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		rs.Add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ignore rules: %w", err)
	}
	return rs, nil
}

// ParseFile compiles the ignore file at file. base is the file's directory
// relative to the walk root.
func ParseFile(file, base string) (*Rules, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Parse(base, f)
}

// Add compiles one pattern line. Blank lines and comments are ignored.
func (rs *Rules) Add(line string) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasSuffix(line, `\ `) {
		line = strings.TrimRight(line, " \t")
	}
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	var r rule
	switch {
	case strings.HasPrefix(line, "!"):
		r.negate = true
		line = line[1:]
	case strings.HasPrefix(line, `\!`), strings.HasPrefix(line, `\#`):
		line = line[1:]
	}

	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if line == "" {
		return
	}
	// A slash anywhere but the end anchors the pattern to Base.
	if strings.Contains(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}

	re, err := regexp.Compile("^" + translate(line) + "$")
	if err != nil {
		return
	}
	r.re = re
	rs.rules = append(rs.rules, r)
}

// Len returns the number of compiled rules.
func (rs *Rules) Len() int {
	return len(rs.rules)
}

// Match reports whether rel (slash-separated, relative to the walk root)
// is decided by these rules. decided is false when no rule matched.
func (rs *Rules) Match(rel string, isDir bool) (ignored, decided bool) {
	local := rel
	if rs.Base != "" {
		if !strings.HasPrefix(rel, rs.Base+"/") {
			return false, false
		}
		local = rel[len(rs.Base)+1:]
	}
	name := path.Base(local)

	for i := len(rs.rules) - 1; i >= 0; i-- {
		r := rs.rules[i]
		if r.dirOnly && !isDir {
			continue
		}
		subject := name
		if r.anchored {
			subject = local
		}
		if r.re.MatchString(subject) {
			return !r.negate, true
		}
	}
	return false, false
}

// Stack is an ordered set of Rules, outermost directory first.
type Stack []*Rules

// Push returns a new stack with rs appended. The receiver is not modified.
func (s Stack) Push(rs *Rules) Stack {
	if rs == nil || rs.Len() == 0 {
		return s
	}
	out := make(Stack, len(s), len(s)+1)
	copy(out, s)
	return append(out, rs)
}

// Ignored reports whether rel is excluded. Only rel itself is tested;
// callers check ancestors by walking top-down.
func (s Stack) Ignored(rel string, isDir bool) bool {
	for i := len(s) - 1; i >= 0; i-- {
		if ignored, decided := s[i].Match(rel, isDir); decided {
			return ignored
		}
	}
	return false
}

// translate converts a glob into a regular expression body.
func translate(glob string) string {
	var sb strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				switch {
				case i+2 < len(glob) && glob[i+2] == '/':
					sb.WriteString("(?:.*/)?")
					i += 2
				default:
					sb.WriteString(".*")
					i++
				}
				continue
			}
			sb.WriteString("[^/]*")
		case '?':
			sb.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				sb.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			sb.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return sb.String()
}
