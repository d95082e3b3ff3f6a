package ui

import (
	"sync"
	"time"
)

// speedInterval is how often throughput is sampled.
const speedInterval = 500 * time.Millisecond

// ProgressTracker accumulates build progress. It is safe for concurrent
// use.
type ProgressTracker struct {
	mu          sync.RWMutex
	stage       Stage
	files       int
	indexed     int
	unchanged   int
	skipped     int
	currentFile string
	startTime   time.Time
	errors      []ErrorEvent
	warnings    []ErrorEvent

	lastFiles     int
	lastSpeedCalc time.Time
	currentSpeed  float64
	avgSpeed      float64
	peakSpeed     float64
	speedSamples  int
	sparkline     *Sparkline
}

// SpeedStats are files per second.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressStats is a snapshot of the tracker.
type ProgressStats struct {
	Stage       Stage
	Files       int
	Indexed     int
	Unchanged   int
	Skipped     int
	CurrentFile string
	Elapsed     time.Duration
	ErrorCount  int
	WarnCount   int
	Speed       SpeedStats
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:         StageScanning,
		startTime:     now,
		lastSpeedCalc: now,
		sparkline:     NewSparkline(60),
	}
}

// Update records ev. A stage change resets the current file.
func (p *ProgressTracker) Update(ev ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Stage != p.stage {
		p.stage = ev.Stage
		p.currentFile = ""
	}
	if ev.Files > 0 {
		p.files = ev.Files
		p.indexed = ev.Indexed
		p.unchanged = ev.Unchanged
		p.skipped = ev.Skipped
	}
	if ev.CurrentFile != "" {
		p.currentFile = ev.CurrentFile
	}
	p.sampleSpeed(time.Now())
}

// sampleSpeed must be called with the lock held.
func (p *ProgressTracker) sampleSpeed(now time.Time) {
	elapsed := now.Sub(p.lastSpeedCalc)
	if elapsed < speedInterval {
		return
	}
	if delta := p.files - p.lastFiles; delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		p.currentSpeed = speed
		p.speedSamples++
		if p.speedSamples == 1 {
			p.avgSpeed = speed
		} else {
			p.avgSpeed = 0.2*speed + 0.8*p.avgSpeed
		}
		p.peakSpeed = max(p.peakSpeed, speed)
		p.sparkline.Add(speed)
	}
	p.lastFiles = p.files
	p.lastSpeedCalc = now
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return ProgressStats{
		Stage:       p.stage,
		Files:       p.files,
		Indexed:     p.indexed,
		Unchanged:   p.unchanged,
		Skipped:     p.skipped,
		CurrentFile: p.currentFile,
		Elapsed:     time.Since(p.startTime),
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
		Speed: SpeedStats{
			Current: p.currentSpeed,
			Avg:     p.avgSpeed,
			Peak:    p.peakSpeed,
		},
	}
}

// Errors returns the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return append([]ErrorEvent(nil), p.errors...)
}

// Warnings returns the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return append([]ErrorEvent(nil), p.warnings...)
}

// RenderSparkline returns the throughput chart.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.sparkline.Render(width)
}
