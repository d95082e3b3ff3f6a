package mcp

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/ygrep/internal/store"
)

// MaxResources caps the number of documents registered as resources.
const MaxResources = 10000

const resourceScheme = "file://"

// RegisterResources registers every indexed document as an MCP resource.
// Content is served from the catalog, so it matches what was indexed.
func (s *Server) RegisterResources(ctx context.Context) error {
	count := 0
	err := s.backend.Documents(ctx, func(doc *store.Document) error {
		if count >= MaxResources {
			return errStopScan
		}
		s.mcp.AddResource(&mcp.Resource{
			Name:        path.Base(doc.ID),
			URI:         resourceScheme + doc.ID,
			Description: fmt.Sprintf("%s (%s)", doc.ID, humanize.IBytes(uint64(max(doc.Size, 0)))),
			MIMEType:    MimeTypeForPath(doc.ID),
		}, s.readResource)
		count++
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return err
	}
	s.logger.Info("mcp_resources_registered", "count", count)
	return nil
}

var errStopScan = errors.New("resource limit reached")

// readResource serves the catalog content of a file:// resource.
func (s *Server) readResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	rel, ok := strings.CutPrefix(uri, resourceScheme)
	if !ok || !isValidPath(rel) {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid resource uri: %s", uri))
	}

	doc, err := s.backend.Document(ctx, rel)
	if err != nil {
		return nil, MapError(err)
	}
	if doc == nil {
		return nil, NewResourceNotFoundError(uri)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: MimeTypeForPath(rel),
			Text:     doc.Content,
		}},
	}, nil
}

// isValidPath accepts workspace-relative slash paths without traversal.
func isValidPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	if len(p) >= 2 && p[1] == ':' {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

var mimeTypes = map[string]string{
	".go":   "text/x-go",
	".rs":   "text/x-rust",
	".py":   "text/x-python",
	".ts":   "text/typescript",
	".tsx":  "text/typescript",
	".js":   "text/javascript",
	".jsx":  "text/javascript",
	".c":    "text/x-c",
	".h":    "text/x-c",
	".cpp":  "text/x-c++",
	".hpp":  "text/x-c++",
	".java": "text/x-java",
	".rb":   "text/x-ruby",
	".sh":   "text/x-sh",
	".sql":  "text/x-sql",
	".html": "text/html",
	".css":  "text/css",
	".json": "application/json",
	".yaml": "text/x-yaml",
	".yml":  "text/x-yaml",
	".toml": "text/x-toml",
	".xml":  "text/xml",
	".md":   "text/markdown",
}

var specialFilenames = map[string]string{
	"Dockerfile": "text/x-dockerfile",
	"Makefile":   "text/x-makefile",
}

// MimeTypeForPath returns the MIME type for a file path, text/plain when
// unknown.
func MimeTypeForPath(p string) string {
	base := path.Base(p)
	if m, ok := specialFilenames[base]; ok {
		return m
	}
	if m, ok := mimeTypes[strings.ToLower(path.Ext(base))]; ok {
		return m
	}
	return "text/plain"
}
