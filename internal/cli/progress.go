package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// spinner shows an indeterminate progress indicator with the elapsed time
// until Stop is called. A nil spinner is a no-op.
type spinner struct {
	bar     *progressbar.ProgressBar
	label   string
	started time.Time
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSpinner(w io.Writer, label string) *spinner {
	s := &spinner{
		label:   label,
		started: time.Now(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.bar = progressbar.NewOptions(
		-1,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(80*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	go s.run()
	return s
}

func (s *spinner) run() {
	defer close(s.done)
	ticker := time.NewTicker(120 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			_ = s.bar.Finish()
			return
		case <-ticker.C:
			s.bar.Describe(s.description())
			_ = s.bar.Add(1)
		}
	}
}

func (s *spinner) description() string {
	return fmt.Sprintf("%s (%s)", s.label, time.Since(s.started).Truncate(time.Second))
}

// Stop clears the indicator and waits for the render loop to exit. It is
// safe to call more than once.
func (s *spinner) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
}
