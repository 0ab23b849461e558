package ui

import "strings"

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// Sparkline keeps the last N throughput samples and draws them as block
// characters scaled to the largest sample in the window.
type Sparkline struct {
	samples []float64
	next    int
	full    bool
}

// NewSparkline creates a sparkline holding size samples.
func NewSparkline(size int) *Sparkline {
	if size <= 0 {
		size = 60
	}
	return &Sparkline{samples: make([]float64, size)}
}

// Add records a sample, evicting the oldest when full.
func (s *Sparkline) Add(v float64) {
	s.samples[s.next] = max(v, 0)
	s.next = (s.next + 1) % len(s.samples)
	if s.next == 0 {
		s.full = true
	}
}

// Len returns the number of samples held.
func (s *Sparkline) Len() int {
	if s.full {
		return len(s.samples)
	}
	return s.next
}

// Clear drops every sample.
func (s *Sparkline) Clear() {
	clear(s.samples)
	s.next, s.full = 0, false
}

// ordered returns samples oldest first.
func (s *Sparkline) ordered() []float64 {
	if !s.full {
		return s.samples[:s.next]
	}
	return append(append([]float64{}, s.samples[s.next:]...), s.samples[:s.next]...)
}

// Render draws the newest width samples, left-padded with spaces.
func (s *Sparkline) Render(width int) string {
	vals := s.ordered()
	if width <= 0 {
		width = len(s.samples)
	}
	if len(vals) > width {
		vals = vals[len(vals)-width:]
	}

	peak := 0.0
	for _, v := range vals {
		peak = max(peak, v)
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", width-len(vals)))
	for _, v := range vals {
		i := 0
		if peak > 0 {
			i = int(v / peak * float64(len(sparkLevels)-1))
		}
		b.WriteRune(sparkLevels[i])
	}
	return b.String()
}
