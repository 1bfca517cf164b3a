// Package progress renders a one-line spinner for long pack operations.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Tracker repaints one terminal line while entries are processed.
type Tracker struct {
	out      io.Writer
	total    int
	message  string
	start    time.Time
	done     chan struct{}
	rendered chan struct{}

	mu      sync.Mutex
	current int
}

// New starts a tracker on stdout. total may be 0 when unknown.
func New(total int, message string) *Tracker {
	return NewTo(os.Stdout, total, message)
}

// NewTo starts a tracker writing to out.
func NewTo(out io.Writer, total int, message string) *Tracker {
	t := &Tracker{
		out:      out,
		total:    total,
		message:  message,
		start:    time.Now(),
		done:     make(chan struct{}),
		rendered: make(chan struct{}),
	}
	go t.render()
	return t
}

func (t *Tracker) render() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-t.done:
			t.mu.Lock()
			n := t.current
			t.mu.Unlock()
			elapsed := time.Since(t.start).Round(time.Millisecond)
			fmt.Fprintf(t.out, "\r✓ %s (%d entries, %s)          \n", t.message, n, elapsed)
			close(t.rendered)
			return

		case <-ticker.C:
			t.mu.Lock()
			n := t.current
			t.mu.Unlock()
			if t.total > 0 {
				percent := float64(n) / float64(t.total) * 100
				fmt.Fprintf(t.out, "\r%s %s [%d/%d] %.0f%%  ", frames[frame%len(frames)], t.message, n, t.total, percent)
			} else {
				fmt.Fprintf(t.out, "\r%s %s [%d entries]  ", frames[frame%len(frames)], t.message, n)
			}
			frame++
		}
	}
}

// Increment advances the counter by one.
func (t *Tracker) Increment() {
	t.mu.Lock()
	t.current++
	t.mu.Unlock()
}

// SetCurrent moves the counter to n.
func (t *Tracker) SetCurrent(n int) {
	t.mu.Lock()
	t.current = n
	t.mu.Unlock()
}

// Finish prints the closing line and waits for it to land.
func (t *Tracker) Finish() {
	close(t.done)
	<-t.rendered
}

// Stages adapts per-stage callbacks to one tracker per stage, finishing
// the previous stage as the next one starts.
type Stages struct {
	out   io.Writer
	stage string
	bar   *Tracker
}

// NewStages reports stage progress to stdout.
func NewStages() *Stages {
	return NewStagesTo(os.Stdout)
}

// NewStagesTo reports stage progress to out.
func NewStagesTo(out io.Writer) *Stages {
	return &Stages{out: out}
}

// Update routes one callback to the current stage's tracker.
func (s *Stages) Update(stage string, done, total int) {
	if stage != s.stage {
		if s.bar != nil {
			s.bar.Finish()
		}
		s.stage = stage
		s.bar = NewTo(s.out, total, stage)
	}
	s.bar.SetCurrent(done)
}

// Finish closes the last stage, if any ran.
func (s *Stages) Finish() {
	if s.bar != nil {
		s.bar.Finish()
		s.bar = nil
	}
}
