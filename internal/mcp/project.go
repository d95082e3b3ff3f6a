package mcp

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	goModuleRe = regexp.MustCompile(`^module\s+(\S+)`)
	tomlNameRe = regexp.MustCompile(`^\s*name\s*=\s*["']([^"']+)["']`)
)

// projectDetector reads a project name from one manifest file.
type projectDetector struct {
	file   string
	kind   string
	detect func(path string) string
}

var projectDetectors = []projectDetector{
	{"go.mod", "go", detectGoModule},
	{"Cargo.toml", "rust", func(p string) string { return tomlSectionName(p, "[package]") }},
	{"package.json", "node", detectPackageJSON},
	{"pyproject.toml", "python", func(p string) string { return tomlSectionName(p, "[project]") }},
}

// DetectProject names the project at root from its manifest, falling back
// to the directory name.
func DetectProject(root string) ProjectInfo {
	info := ProjectInfo{RootPath: root, Name: filepath.Base(root), Type: "unknown"}
	for _, d := range projectDetectors {
		if name := d.detect(filepath.Join(root, d.file)); name != "" {
			info.Name, info.Type = name, d.kind
			return info
		}
	}
	return info
}

func detectGoModule(path string) string {
	var name string
	scanLines(path, func(line string) bool {
		if m := goModuleRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			name = filepath.Base(m[1])
			return false
		}
		return true
	})
	return name
}

// tomlSectionName returns the name key of section.
func tomlSectionName(path, section string) string {
	var name string
	inSection := false
	scanLines(path, func(line string) bool {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			inSection = trimmed == section
			return true
		}
		if m := tomlNameRe.FindStringSubmatch(line); inSection && m != nil {
			name = m[1]
			return false
		}
		return true
	})
	return name
}

func detectPackageJSON(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var pkg struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(data, &pkg) != nil {
		return ""
	}
	// @scope/name
	if i := strings.LastIndex(pkg.Name, "/"); strings.HasPrefix(pkg.Name, "@") && i > 0 {
		return pkg.Name[i+1:]
	}
	return pkg.Name
}

// scanLines calls fn per line until it returns false.
func scanLines(path string, fn func(string) bool) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() && fn(sc.Text()) {
	}
}
