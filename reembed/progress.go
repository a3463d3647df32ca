package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// ProgressTracker writes a single updating progress line for a reindex run.
type ProgressTracker struct {
	mu sync.Mutex

	writer   io.Writer
	label    string
	total    int
	current  int
	interval int
	reported int
	start    time.Time
	started  bool
}

// NewProgressTracker creates a tracker that reports to writer every interval
// items. label names the collection being processed.
func NewProgressTracker(writer io.Writer, label string, total, interval int) *ProgressTracker {
	if interval < 1 {
		interval = 1
	}
	return &ProgressTracker{
		writer:   writer,
		label:    label,
		total:    total,
		interval: interval,
	}
}

// Start resets the counters and starts the clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.start = time.Now()
	p.started = true
	p.current = 0
	p.reported = 0
}

// Increment adds delta processed items.
func (p *ProgressTracker) Increment(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.current = min(p.current+delta, p.total)
	if p.current-p.reported >= p.interval {
		p.report()
		p.reported = p.current
	}
}

// Finish reports completion and ends the line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.current = p.total
	p.report()
	fmt.Fprintln(p.writer)
}

// Elapsed returns the time since Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.start)
}

// report must be called with the lock held.
func (p *ProgressTracker) report() {
	rate := float64(p.current) / max(time.Since(p.start).Seconds(), 1e-9)
	pct := 100.0
	if p.total > 0 {
		pct = float64(p.current) / float64(p.total) * 100
	}
	fmt.Fprintf(p.writer, "\r%s: %s/%s chunks (%.1f%%) - %.1f chunks/s",
		p.label, humanize.Comma(int64(p.current)), humanize.Comma(int64(p.total)), pct, rate)
}
