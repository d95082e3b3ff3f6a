package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/ui"
	"github.com/Aman-CERP/ygrep/internal/workspace"
	"github.com/Aman-CERP/ygrep/pkg/version"
)

// cliEnv isolates the data and config directories of one test.
type cliEnv struct {
	root string
	data string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	e := &cliEnv{root: filepath.Join(t.TempDir(), "project"), data: t.TempDir()}
	require.NoError(t, os.Mkdir(e.root, 0o755))
	t.Setenv("YGREP_DATA_DIR", e.data)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")
	t.Setenv("YGREP_EMBEDDER", "static")
	return e
}

func (e *cliEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return e.runContext(t, context.Background(), args...)
}

func (e *cliEnv) runContext(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func (e *cliEnv) seed(t *testing.T) {
	t.Helper()
	e.write(t, "internal/config/load.go", "package config\n\nfunc parse_config(path string) error {\n\treturn nil\n}\n")
	e.write(t, "README.md", "# Project\n\nRun the server with a config file.\n")
	e.write(t, "web/app.ts", "export const greet = (name: string) => `hello ${name}`;\n")
}

type jsonHits struct {
	Hits []struct {
		Path      string `json:"path"`
		LineStart int    `json:"line_start"`
		MatchType string `json:"match_type"`
	} `json:"hits"`
	Total    int      `json:"total"`
	Warnings []string `json:"warnings"`
}

func decodeHits(t *testing.T, out string) jsonHits {
	t.Helper()
	var got jsonHits
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	return got
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	newCLIEnv(t)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Usage:")
	assert.Contains(t, buf.String(), "index")
	assert.Contains(t, buf.String(), "search")
}

func TestIndexThenSearch(t *testing.T) {
	// Given: an indexed workspace
	e := newCLIEnv(t)
	e.seed(t)
	out, _, err := e.run(t, "index", e.root, "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "Complete: 3 indexed")

	// When: searching for an identifier as JSON
	out, _, err = e.run(t, "-C", e.root, "search", "parse_config", "--json")

	// Then: the defining file is the only hit
	require.NoError(t, err)
	got := decodeHits(t, out)
	require.Len(t, got.Hits, 1)
	assert.Equal(t, "internal/config/load.go", got.Hits[0].Path)
	assert.Equal(t, 3, got.Hits[0].LineStart)
	assert.Equal(t, "text", got.Hits[0].MatchType)
}

func TestRootShorthand(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(t)
	_, _, err := e.run(t, "index", e.root)
	require.NoError(t, err)

	out, _, err := e.run(t, "-C", e.root, "server", "with", "--format", "files")

	require.NoError(t, err)
	assert.Equal(t, "README.md\n", out)
}

func TestSearch_Filters(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(t)
	_, _, err := e.run(t, "index", e.root)
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"extension", []string{"config", "-e", "md", "--format", "files"}, []string{"README.md"}},
		{"path", []string{"config", "-p", "internal", "--format", "files"}, []string{"internal/config/load.go"}},
		{"regex", []string{"-r", `func \w+_config`, "--format", "files"}, []string{"internal/config/load.go"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"-C", e.root, "search"}, tt.args...)

			out, _, err := e.run(t, args...)

			require.NoError(t, err)
			assert.Equal(t, tt.want, strings.Fields(out))
		})
	}
}

func TestSearch_FromSubdirectory(t *testing.T) {
	// Given: an index at the workspace root
	e := newCLIEnv(t)
	e.seed(t)
	_, _, err := e.run(t, "index", e.root)
	require.NoError(t, err)

	// When: searching from a nested directory
	out, _, err := e.run(t, "-C", filepath.Join(e.root, "internal", "config"), "search", "greet", "--json")

	// Then: the ancestor's index answers
	require.NoError(t, err)
	got := decodeHits(t, out)
	require.Len(t, got.Hits, 1)
	assert.Equal(t, "web/app.ts", got.Hits[0].Path)
}

func TestSearch_NotIndexed(t *testing.T) {
	e := newCLIEnv(t)

	_, _, err := e.run(t, "-C", e.root, "search", "anything")

	require.Error(t, err)
	assert.Equal(t, yerrors.ErrCodeNotIndexed, yerrors.GetCode(err))
	_, statErr := os.Stat(filepath.Join(e.data, "indexes"))
	assert.True(t, os.IsNotExist(statErr), "search must not create index directories")
}

func TestSearch_InvalidFlags(t *testing.T) {
	e := newCLIEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"json and pretty", []string{"search", "x", "--json", "--pretty"}},
		{"unknown format", []string{"search", "x", "--format", "xml"}},
		{"negative depth", []string{"search", "x", "--depth", "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := e.run(t, append([]string{"-C", e.root}, tt.args...)...)

			require.Error(t, err)
			assert.Equal(t, yerrors.ErrCodeInvalidInput, yerrors.GetCode(err))
		})
	}
}

func TestSearch_InvalidRegex(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(t)
	_, _, err := e.run(t, "index", e.root)
	require.NoError(t, err)

	_, _, err = e.run(t, "-C", e.root, "search", "-r", "(unclosed")

	assert.Equal(t, yerrors.ErrCodeInvalidQuery, yerrors.GetCode(err))
}

func TestSearch_TreeFormat(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(t)
	_, _, err := e.run(t, "index", e.root)
	require.NoError(t, err)

	out, _, err := e.run(t, "-C", e.root, "search", "config", "--format", "tree", "--depth", "1")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# 2 hits\n"), out)
	assert.Contains(t, out, "internal/...")
}

func TestIndex_SemanticModeIsSticky(t *testing.T) {
	// Given: a semantic build
	e := newCLIEnv(t)
	e.seed(t)
	_, _, err := e.run(t, "index", e.root, "--semantic")
	require.NoError(t, err)

	// When: building again without a mode and reading status
	_, _, err = e.run(t, "index", e.root)
	require.NoError(t, err)
	out, _, err := e.run(t, "status", e.root, "--json")
	require.NoError(t, err)

	// Then: vectors are still maintained
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.True(t, info.Indexed)
	assert.Equal(t, "semantic", info.Mode)
	assert.Equal(t, "ready", info.VectorStatus)
	assert.Equal(t, 3, info.Documents)
	assert.Positive(t, info.Chunks)
	assert.Equal(t, workspace.SchemaVersion, info.SchemaVersion)

	// And: hybrid search works
	out, _, err = e.run(t, "-C", e.root, "search", "parse_config", "--json")
	require.NoError(t, err)
	got := decodeHits(t, out)
	require.NotEmpty(t, got.Hits)
	assert.Equal(t, "internal/config/load.go", got.Hits[0].Path)
}

func TestIndex_TextAndSemanticExclusive(t *testing.T) {
	e := newCLIEnv(t)

	_, _, err := e.run(t, "index", e.root, "--text", "--semantic")

	require.Error(t, err)
}

func TestMCP_ModeRequiresIndexFlag(t *testing.T) {
	e := newCLIEnv(t)

	_, _, err := e.run(t, "mcp", e.root, "--semantic")

	assert.Equal(t, yerrors.ErrCodeInvalidInput, yerrors.GetCode(err))
}

func TestStatus_NotIndexedCreatesNothing(t *testing.T) {
	e := newCLIEnv(t)

	out, _, err := e.run(t, "status", e.root, "--json")

	require.NoError(t, err)
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.False(t, info.Indexed)
	assert.Contains(t, info.Problem, "ygrep index")
	_, statErr := os.Stat(info.IndexDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStatus_Text(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(t)
	_, _, err := e.run(t, "index", e.root)
	require.NoError(t, err)

	out, _, err := e.run(t, "status", e.root)

	require.NoError(t, err)
	assert.Contains(t, out, "Mode:       text")
	assert.Contains(t, out, "Documents:  3")
}

func TestIndexes_ListRemove(t *testing.T) {
	// Given: one index
	e := newCLIEnv(t)
	e.seed(t)
	_, _, err := e.run(t, "index", e.root)
	require.NoError(t, err)

	out, _, err := e.run(t, "indexes", "list", "--json")
	require.NoError(t, err)
	var rows []ui.IndexRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Documents)
	assert.False(t, rows[0].Orphaned)

	// When: removing it by identity
	out, _, err = e.run(t, "indexes", "remove", rows[0].Identity)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed "+rows[0].Identity)

	// Then: the listing is empty and a second remove fails
	out, _, err = e.run(t, "indexes", "list", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, _, err = e.run(t, "indexes", "remove", rows[0].Identity)
	assert.Equal(t, yerrors.ErrCodeNotFound, yerrors.GetCode(err))
}

func TestIndexes_Clean(t *testing.T) {
	// Given: an index whose workspace was deleted
	e := newCLIEnv(t)
	e.seed(t)
	_, _, err := e.run(t, "index", e.root)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(e.root))

	// When: cleaning
	out, _, err := e.run(t, "indexes", "clean", "--json")

	// Then: the orphan is gone
	require.NoError(t, err)
	var res cleanResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Removed, 1)
	assert.Positive(t, res.FreedBytes)

	out, _, err = e.run(t, "indexes", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No indexes.")
}

func TestWatch_StopsOnCancel(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, _, err := e.runContext(t, ctx, "watch", e.root, "--poll")

	require.NoError(t, err)
	assert.Contains(t, out, "3 indexed")
	assert.Contains(t, out, "Watching for changes")
	assert.Contains(t, out, "Stopped")
}

func TestConfigShow(t *testing.T) {
	e := newCLIEnv(t)
	e.write(t, ".ygrep.yaml", "search:\n  default_limit: 7\n")

	out, _, err := e.run(t, "-C", e.root, "config", "show", "--json")

	require.NoError(t, err)
	var cfg struct {
		DataDir string `json:"data_dir"`
		Search  struct {
			DefaultLimit int `json:"default_limit"`
		} `json:"search"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, e.data, cfg.DataDir)
	assert.Equal(t, 7, cfg.Search.DefaultLimit)
}

func TestConfigInit(t *testing.T) {
	e := newCLIEnv(t)

	out, _, err := e.run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created user configuration")

	out, _, err = e.run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{"default", nil, func(t *testing.T, out string) {
			assert.Contains(t, out, "ygrep")
			assert.Contains(t, out, version.Version)
			assert.Contains(t, out, "commit")
		}},
		{"short", []string{"--short"}, func(t *testing.T, out string) {
			assert.Equal(t, version.Short(), strings.TrimSpace(out))
		}},
		{"json", []string{"--json"}, func(t *testing.T, out string) {
			var info version.BuildInfo
			require.NoError(t, json.Unmarshal([]byte(out), &info))
			assert.Equal(t, version.Version, info.Version)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newVersionCmd()
			buf := &bytes.Buffer{}
			cmd.SetOut(buf)
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			tt.check(t, buf.String())
		})
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, yerrors.NotIndexed("/repo", ""))
	assert.Contains(t, buf.String(), "Hint: Run 'ygrep index'")
	assert.Contains(t, buf.String(), "Code: "+yerrors.ErrCodeNotIndexed)

	buf.Reset()
	printError(&buf, errors.New(`unknown flag: --bogus`))
	assert.Equal(t, "Error: unknown flag: --bogus\n", buf.String())
}
