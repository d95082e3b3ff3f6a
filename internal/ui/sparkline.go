package ui

import "strings"

// sparkChars are eight bar heights from empty to full.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a ring buffer of samples rendered as block characters.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline creates a sparkline holding up to size samples.
func NewSparkline(size int) *Sparkline {
	if size <= 0 {
		size = 60
	}
	return &Sparkline{samples: make([]float64, size)}
}

// Add appends a sample, evicting the oldest when full.
func (s *Sparkline) Add(v float64) {
	s.samples[s.head] = v
	s.head = (s.head + 1) % len(s.samples)
	s.count = min(s.count+1, len(s.samples))
}

// Clear drops all samples.
func (s *Sparkline) Clear() {
	clear(s.samples)
	s.head, s.count = 0, 0
}

// Len returns the number of samples held.
func (s *Sparkline) Len() int {
	return s.count
}

// Values returns the samples oldest first.
func (s *Sparkline) Values() []float64 {
	out := make([]float64, 0, s.count)
	start := (s.head - s.count + len(s.samples)) % len(s.samples)
	for i := range s.count {
		out = append(out, s.samples[(start+i)%len(s.samples)])
	}
	return out
}

// Render draws the newest width samples scaled to their maximum, padded on
// the left with empty bars. A non-positive width renders every slot.
func (s *Sparkline) Render(width int) string {
	if width <= 0 {
		width = len(s.samples)
	}
	vals := s.Values()
	if len(vals) > width {
		vals = vals[len(vals)-width:]
	}

	peak := 0.0
	for _, v := range vals {
		peak = max(peak, v)
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(string(sparkChars[0]), width-len(vals)))
	top := len(sparkChars) - 1
	for _, v := range vals {
		idx := 0
		if peak > 0 {
			idx = int(v / peak * float64(top))
		}
		sb.WriteRune(sparkChars[min(max(idx, 0), top)])
	}
	return sb.String()
}
