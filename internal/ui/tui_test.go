package ui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestBuildModel_View(t *testing.T) {
	// Given: a model tracking a scan in progress
	tracker := NewProgressTracker()
	tracker.Update(ProgressEvent{Stage: StageScanning, Files: 12, Indexed: 7, Unchanged: 5, CurrentFile: "src/main.go"})
	m := newBuildModel(tracker, "/repo")
	m.styles = NoColorStyles()

	// When: rendering
	view := m.View()

	// Then: counts, stages and the current file are shown
	assert.Contains(t, view, "ygrep index • /repo")
	assert.Contains(t, view, "12 files")
	assert.Contains(t, view, "7 indexed")
	assert.Contains(t, view, "Scanning")
	assert.Contains(t, view, "○ Saving")
	assert.Contains(t, view, "src/main.go")
}

func TestBuildModel_Complete(t *testing.T) {
	m := newBuildModel(NewProgressTracker(), "")
	m.styles = NoColorStyles()

	_, cmd := m.Update(completeMsg(CompletionStats{Indexed: 3, Removed: 1, Mode: "text", Duration: time.Second}))

	assert.NotNil(t, cmd)
	view := m.View()
	assert.Contains(t, view, "Index up to date")
	assert.Contains(t, view, "3 indexed, 0 unchanged, 1 removed")
	assert.Contains(t, view, "text")
}

func TestBuildModel_CtrlCInterrupts(t *testing.T) {
	m := newBuildModel(NewProgressTracker(), "")
	interrupted := false
	m.onInterrupt = func() { interrupted = true }

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	assert.True(t, interrupted)
	assert.NotNil(t, cmd)
	assert.Equal(t, "Cancelled.\n", m.View())
}

func TestBuildModel_WindowResize(t *testing.T) {
	m := newBuildModel(NewProgressTracker(), "")

	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	assert.Equal(t, 120, m.width)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{42 * time.Second, "42s"},
		{3 * time.Minute, "3m"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 7*time.Minute, "2h 7m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		path string
		max  int
		want string
	}{
		{"src/main.go", 40, "src/main.go"},
		{"very/long/directory/structure/main.go", 20, "...structure/main.go"},
		{"averyveryverylongfilename.go", 10, "...name.go"},
		{"a/b", 2, "..."},
	}
	for _, tt := range tests {
		got := truncatePath(tt.path, tt.max)
		assert.Equal(t, tt.want, got)
		assert.LessOrEqual(t, len(got), max(tt.max, 3))
	}
}
