package store

import (
	"os"
	"path/filepath"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

// OpenTextIndex opens the text index in dir with the configured backend.
// An empty dir gives an in-memory index.
func OpenTextIndex(dir string, cfg TextConfig) (TextIndex, error) {
	switch cfg.Backend {
	case BackendNative, "":
		return NewNativeTextIndex(dir, cfg)
	case BackendBleve:
		return NewBleveIndex(dir, cfg)
	default:
		return nil, yerrors.ConfigError("unknown text backend: "+string(cfg.Backend), nil).
			WithSuggestion("Use 'native' or 'bleve' for text.backend")
	}
}

// DetectTextBackend reports which backend has data in dir, or "" when
// neither does.
func DetectTextBackend(dir string) TextBackend {
	if fileExists(filepath.Join(dir, TextSegment)) {
		return BackendNative
	}
	if dirExists(filepath.Join(dir, BleveDir)) {
		return BackendBleve
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
