package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrNotTTY is returned when the TUI is requested on a non-terminal.
var ErrNotTTY = errors.New("output is not a TTY")

// TUIRenderer shows live build progress using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *buildModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is not
// a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, ErrNotTTY
	}

	tracker := NewProgressTracker()
	model := newBuildModel(tracker, cfg.Root)
	model.styles = GetStyles(cfg.NoColor)
	model.onInterrupt = cfg.OnInterrupt

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	ctx, r.cancel = context.WithCancel(ctx)
	opts = append(opts, tea.WithContext(ctx))

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Update(event)
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.Update(ProgressEvent{Stage: StageComplete})
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer. It waits briefly for the program to exit.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil {
		return nil
	}
	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

type completeMsg CompletionStats
type tickMsg time.Time

// buildModel is the bubbletea model for build progress.
type buildModel struct {
	tracker  *ProgressTracker
	width    int
	quitting bool
	complete bool
	stats    CompletionStats
	spinner  spinner.Model
	styles   Styles
	root     string
	// onInterrupt runs when the user presses ctrl+c; the terminal is in
	// raw mode so no signal is delivered.
	onInterrupt func()
}

func newBuildModel(tracker *ProgressTracker, root string) *buildModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &buildModel{
		tracker: tracker,
		spinner: s,
		styles:  DefaultStyles(),
		width:   80,
		root:    root,
	}
}

// Init implements tea.Model.
func (m *buildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *buildModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	width := max(m.width-4, 40)
	stats := m.tracker.Stats()

	title := "ygrep index"
	if m.root != "" {
		title += " • " + m.root
	}

	lines := []string{
		m.styles.Header.Render(title),
		m.renderStages(stats.Stage),
		m.styles.Border.Render(strings.Repeat("─", width)),
		fmt.Sprintf("%s %s", m.spinner.View(), m.renderCounts(stats)),
		m.renderSpeed(stats),
		m.styles.Sparkline.Render(m.tracker.RenderSparkline(max(width-14, 10))) + " " + m.styles.Dim.Render("files/s"),
	}
	if stats.CurrentFile != "" {
		lines = append(lines, m.styles.Dim.Render(truncatePath(stats.CurrentFile, width)))
	}
	if status := m.renderStatus(stats); status != "" {
		lines = append(lines, status)
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m *buildModel) renderStages(current Stage) string {
	var parts []string
	for _, s := range []Stage{StageScanning, StageSaving} {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *buildModel) renderCounts(s ProgressStats) string {
	return fmt.Sprintf("%s files  %s indexed  %s unchanged",
		m.styles.Active.Render(fmt.Sprint(s.Files)),
		m.styles.Active.Render(fmt.Sprint(s.Indexed)),
		m.styles.Label.Render(fmt.Sprint(s.Unchanged)))
}

func (m *buildModel) renderSpeed(s ProgressStats) string {
	speed := fmt.Sprintf("%.0f files/s", s.Speed.Current)
	if s.Speed.Avg > 0 {
		speed += fmt.Sprintf(" (avg %.0f, peak %.0f)", s.Speed.Avg, s.Speed.Peak)
	}
	return m.styles.Label.Render(speed + "  •  " + formatDuration(s.Elapsed))
}

func (m *buildModel) renderStatus(s ProgressStats) string {
	var parts []string
	if s.Skipped > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("%d skipped", s.Skipped)))
	}
	if s.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", s.WarnCount)))
	}
	if s.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", s.ErrorCount)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *buildModel) renderComplete() string {
	s := m.stats
	lines := []string{
		m.styles.Success.Render("✓ Index up to date"),
		"",
		fmt.Sprintf("%s  %d indexed, %d unchanged, %d removed", m.styles.Label.Render("Files:   "), s.Indexed, s.Unchanged, s.Removed),
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Duration:"), formatDuration(s.Duration)),
	}
	if s.Mode != "" {
		mode := s.Mode
		if s.VectorStatus != "" {
			mode += " (vectors " + s.VectorStatus + ")"
		}
		lines = append(lines, fmt.Sprintf("%s  %s", m.styles.Label.Render("Mode:    "), mode))
	}
	if s.Skipped > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("%d files skipped", s.Skipped)))
	}
	for _, w := range s.Warnings {
		lines = append(lines, m.styles.Warning.Render("⚠ "+w))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccentLo)).
		Padding(0, 1)
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncatePath shortens path to maxLen, keeping the file name.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen < 4 {
		return "..."
	}
	i := strings.LastIndex(path, "/")
	name := path[i+1:]
	if len(name)+4 > maxLen {
		return "..." + name[len(name)-maxLen+3:]
	}
	keep := maxLen - len(name) - 4
	return "..." + path[i-keep:i] + "/" + name
}

var _ Renderer = (*TUIRenderer)(nil)
