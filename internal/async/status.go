// Package async runs an index build in the background while a server is
// already answering requests, and tracks how far it has got.
package async

import (
	"sync"
	"time"

	"github.com/Aman-CERP/ygrep/internal/index"
)

// IndexingStatus represents the overall build state.
type IndexingStatus string

const (
	// StatusIndexing indicates the build is in progress.
	StatusIndexing IndexingStatus = "indexing"
	// StatusReady indicates the build finished and search is available.
	StatusReady IndexingStatus = "ready"
	// StatusError indicates the build failed.
	StatusError IndexingStatus = "error"
)

// IndexingStage is the current phase of a running build.
type IndexingStage string

const (
	// StageScanning walks the tree and commits changed files.
	StageScanning IndexingStage = "scanning"
	// StageSaving compacts and persists the indexes.
	StageSaving IndexingStage = "saving"
)

// IndexProgressSnapshot is an immutable copy of build progress.
type IndexProgressSnapshot struct {
	Status         string `json:"status"`
	Stage          string `json:"stage,omitempty"`
	FilesScanned   int    `json:"files_scanned"`
	FilesIndexed   int    `json:"files_indexed"`
	FilesUnchanged int    `json:"files_unchanged"`
	FilesSkipped   int    `json:"files_skipped"`
	Chunks         int    `json:"chunks,omitempty"`
	CurrentFile    string `json:"current_file,omitempty"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// IndexProgress tracks one build. It is safe for concurrent use.
type IndexProgress struct {
	mu sync.RWMutex

	status    IndexingStatus
	stage     IndexingStage
	scan      index.Progress
	chunks    int
	startTime time.Time
	endTime   time.Time
	errorMsg  string
}

// NewIndexProgress creates a tracker in the indexing state.
func NewIndexProgress() *IndexProgress {
	return &IndexProgress{
		status:    StatusIndexing,
		stage:     StageScanning,
		startTime: time.Now(),
	}
}

// Observe records scan progress. It matches index.ProgressFunc.
func (p *IndexProgress) Observe(ev index.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.scan = ev
	if ev.Done {
		p.stage = StageSaving
	}
}

// SetError marks the build as failed.
func (p *IndexProgress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMsg = message
	p.endTime = time.Now()
}

// SetReady marks the build as complete with its final counts.
func (p *IndexProgress) SetReady(sum *index.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
	p.stage = ""
	p.endTime = time.Now()
	if sum != nil {
		p.scan.Indexed = sum.Indexed
		p.scan.Unchanged = sum.Unchanged
		p.scan.Skipped = sum.Skipped
		p.scan.Files = sum.Indexed + sum.Unchanged + sum.Skipped
		p.scan.Path = ""
		p.chunks = sum.Chunks
	}
}

// IsIndexing returns true while the build is running.
func (p *IndexProgress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusIndexing
}

// Snapshot returns a copy of the current state. Elapsed time stops
// growing once the build ends.
func (p *IndexProgress) Snapshot() IndexProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	end := p.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return IndexProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		FilesScanned:   p.scan.Files,
		FilesIndexed:   p.scan.Indexed,
		FilesUnchanged: p.scan.Unchanged,
		FilesSkipped:   p.scan.Skipped,
		Chunks:         p.chunks,
		CurrentFile:    p.scan.Path,
		ElapsedSeconds: int(end.Sub(p.startTime).Seconds()),
		ErrorMessage:   p.errorMsg,
	}
}
