package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// spinner redraws one status line with the elapsed time until it is
// stopped or its context ends.
type spinner struct {
	w       io.Writer
	msg     string
	start   time.Time
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

func startSpinnerOn(ctx context.Context, w io.Writer, msg string) *spinner {
	ctx, cancel := context.WithCancel(ctx)
	s := &spinner{
		w:       w,
		msg:     msg,
		start:   time.Now(),
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *spinner) run(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			fmt.Fprint(s.w, "\r\033[K")
			return
		case <-ticker.C:
			elapsed := time.Since(s.start).Truncate(100 * time.Millisecond)
			fmt.Fprintf(s.w, "\r%s %s %s",
				styleIconSpinner.Render(spinnerFrames[i%len(spinnerFrames)]),
				StyleDim.Render(s.msg),
				StyleDim.Render(elapsed.String()))
		}
	}
}

// Stop clears the line and waits for the animation to exit. Later calls
// return immediately.
func (s *spinner) Stop() {
	s.once.Do(s.cancel)
	<-s.stopped
}
