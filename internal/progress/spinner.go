// Package progress renders the "Preparing transaction..." style indicator on
// interactive terminals.
package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Spinner is an indeterminate progress bar. Start and Stop are idempotent.
type Spinner struct {
	w io.Writer

	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	stop    chan struct{}
	stopped chan struct{}
}

func NewSpinner(w io.Writer) *Spinner {
	return &Spinner{w: w}
}

// ForStderr returns a Spinner on stderr, or Nop when stderr is not a terminal.
func ForStderr() Indicator {
	fd := os.Stderr.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return Nop{}
	}
	return NewSpinner(os.Stderr)
}

type Indicator interface {
	Start(message string)
	Stop()
}

func (s *Spinner) Start(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil {
		s.bar.Describe(message)
		return
	}
	s.bar = progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(s.w),
		progressbar.OptionSetDescription(message),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(65*time.Millisecond),
	)
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	go spin(s.bar, s.stop, s.stopped)
}

func spin(bar *progressbar.ProgressBar, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}
}

func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil {
		return
	}
	close(s.stop)
	<-s.stopped
	_ = s.bar.Finish()
	s.bar = nil
}

// Running reports whether the spinner is active.
func (s *Spinner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bar != nil
}

type Nop struct{}

func (Nop) Start(string) {}

func (Nop) Stop() {}
