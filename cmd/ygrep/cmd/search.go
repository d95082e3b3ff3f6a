package cmd

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/output"
	"github.com/Aman-CERP/ygrep/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	exts     []string
	paths    []string
	regex    bool
	textOnly bool
	semantic bool
	format   string
	json     bool
	pretty   bool
	scores   bool
	depth    int
}

// resolveFormat applies the --json and --pretty shorthands.
func (o searchOptions) resolveFormat() (output.Format, error) {
	if o.json && o.pretty {
		return "", yerrors.ValidationError("--json and --pretty are mutually exclusive", nil)
	}
	switch {
	case o.json:
		return output.FormatJSON, nil
	case o.pretty:
		return output.FormatPretty, nil
	}
	return output.ParseFormat(o.format)
}

func (o searchOptions) query(text string) search.Query {
	q := search.Query{
		Text:            text,
		Mode:            search.ModeLiteral,
		Limit:           o.limit,
		Extensions:      o.exts,
		Paths:           o.paths,
		TextOnly:        o.textOnly,
		RequireSemantic: o.semantic,
	}
	if o.regex {
		q.Mode = search.ModeRegex
	}
	return q
}

func bindSearchFlags(cmd *cobra.Command, o *searchOptions) {
	fs := cmd.Flags()
	fs.IntVarP(&o.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	fs.StringSliceVarP(&o.exts, "ext", "e", nil, "Only files with this extension (repeatable, e.g. -e go -e .rs)")
	fs.StringSliceVarP(&o.paths, "path", "p", nil, "Only paths containing this prefix or segment (repeatable)")
	fs.BoolVarP(&o.regex, "regex", "r", false, "Treat the query as a regular expression")
	fs.BoolVar(&o.textOnly, "text-only", false, "Skip semantic retrieval")
	fs.BoolVar(&o.semantic, "semantic", false, "Fail unless a semantic index is available")
	fs.StringVarP(&o.format, "format", "f", "text", "Output format: "+strings.Join(formatNames(), ", "))
	fs.BoolVar(&o.json, "json", false, "Shorthand for --format json")
	fs.BoolVar(&o.pretty, "pretty", false, "Shorthand for --format pretty")
	fs.BoolVar(&o.scores, "scores", false, "Show scores in pretty output")
	fs.IntVar(&o.depth, "depth", 0, "Directory depth of the tree heatmap (0 = unlimited)")
}

func formatNames() []string {
	names := make([]string, len(output.Formats))
	for i, f := range output.Formats {
		names[i] = string(f)
	}
	return names
}

func (a *app) newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search the indexed workspace",
		Long: `Search the nearest indexed workspace at or above the current directory.

Queries match as case-insensitive substrings. With a semantic index the
text hits are fused with embedding similarity; --text-only skips that.`,
		Example: `  ygrep search "parse config"
  ygrep search -r 'func \w+Handler' -e go
  ygrep search token -p internal/auth --pretty --scores
  ygrep search TODO --format tree --depth 2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSearch(cmd, strings.Join(args, " "), opts)
		},
	}
	bindSearchFlags(cmd, &opts)
	return cmd
}

func (a *app) runSearch(cmd *cobra.Command, text string, opts searchOptions) error {
	ctx := cmd.Context()
	format, err := opts.resolveFormat()
	if err != nil {
		return err
	}
	if opts.depth < 0 {
		return yerrors.ValidationError("--depth must not be negative", nil)
	}
	if opts.limit < 0 {
		return yerrors.ValidationError("--limit must not be negative", nil)
	}

	start, err := a.startDir(nil)
	if err != nil {
		return err
	}
	ws, err := a.store().Discover(start)
	if err != nil {
		return err
	}
	b, err := a.builder(ws.Root)
	if err != nil {
		return err
	}

	slog.Info("search_started",
		slog.String("root", ws.Root),
		slog.Int("limit", opts.limit),
		slog.Bool("regex", opts.regex))

	r, err := b.OpenReader(ctx, ws)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	res, err := r.Search(ctx, opts.query(text))
	if err != nil {
		return err
	}
	slog.Info("search_complete", slog.Int("results", len(res.Hits)), slog.Int("total", res.Total))

	if format != output.FormatJSON {
		stderr := output.New(cmd.ErrOrStderr(), output.WithColor(a.color(cmd.ErrOrStderr())))
		for _, w := range res.Warnings {
			stderr.Warning(w)
		}
	}
	out := output.New(cmd.OutOrStdout(), output.WithColor(a.color(cmd.OutOrStdout())))
	return out.Results(res, output.ResultOptions{
		Format:    format,
		Scores:    opts.scores,
		TreeDepth: opts.depth,
	})
}
