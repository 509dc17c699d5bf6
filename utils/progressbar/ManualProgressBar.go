// Package progressbar implements functionality of printing a progress
// bar to the terminal window
package progressbar

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ManualProgressBar implement progress bar functionality that must
// be manually managed. That is, the Display() function must be called
// whenever an updated progress bar should be printed.
//
// A ManualProgressBar may be incremented and displayed from multiple
// goroutines.
type ManualProgressBar struct {
	mu              sync.Mutex
	out             io.Writer
	width           float64
	maxProgress     float64
	currentProgress float64
	failures        int
	bar             strings.Builder
	startTime       time.Time
}

// NewManualProgressBar returns a new ManualProgressBar printing to out
// which is width characters wide and full after total increments
func NewManualProgressBar(out io.Writer, width, total int) *ManualProgressBar {
	return &ManualProgressBar{
		out:         out,
		width:       float64(width),
		maxProgress: float64(max(total, 1)),
		startTime:   time.Now(),
	}
}

// Increment increments the interal progress counter. Each time an
// iteration is performed, Increment should be called.
func (p *ManualProgressBar) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentProgress < p.maxProgress {
		p.currentProgress++
	}
}

// Fail increments the progress counter and records a failed iteration
func (p *ManualProgressBar) Fail() {
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
	p.Increment()
}

// Progress returns the number of iterations performed and the number
// of those which failed
func (p *ManualProgressBar) Progress() (done, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.currentProgress), p.failures
}

// Display prints the progress bar, replacing the previously displayed
// one
func (p *ManualProgressBar) Display() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bar.Reset()
	p.bar.WriteString("|")
	currentProg := p.currentProgress / p.maxProgress * p.width
	for i := 0.0; i < currentProg; i++ {
		p.bar.WriteString("█")
	}
	for i := currentProg; i < p.width; i++ {
		p.bar.WriteString(" ")
	}
	fmt.Fprintf(&p.bar, "| [%.2f%v | elapsed: %v",
		p.currentProgress/p.maxProgress*100, "%",
		time.Since(p.startTime).Truncate(time.Second))
	if p.failures > 0 {
		fmt.Fprintf(&p.bar, " | failed: %d", p.failures)
	}
	p.bar.WriteString("]")

	fmt.Fprintf(p.out, "\n\033[1A\033[K%v", p.bar.String())
}

// Close prints a final newline after the progress bar
func (p *ManualProgressBar) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out)
}
