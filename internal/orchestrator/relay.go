package orchestrator

import (
	"context"
	"io"
)

// flusher matches writers that buffer and need an explicit flush.
type flusher interface {
	Flush() error
}

// inputRelay owns the child's stdin for the session lifetime. It consumes
// fragments from the bounded queue and writes each through immediately so
// the child observes input without buffering delay.
type inputRelay struct {
	stdin io.WriteCloser
	queue <-chan string
}

func newInputRelay(stdin io.WriteCloser, queue <-chan string) *inputRelay {
	return &inputRelay{stdin: stdin, queue: queue}
}

// run forwards queued fragments until the context is cancelled or the first
// write failure (child closed its stdin). Teardown is cancel-and-drop: the
// relay never drains the queue on exit.
func (r *inputRelay) run(ctx context.Context) {
	defer r.stdin.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case fragment, ok := <-r.queue:
			if !ok {
				return
			}
			if _, err := io.WriteString(r.stdin, fragment); err != nil {
				return
			}
			if f, ok := r.stdin.(flusher); ok {
				if err := f.Flush(); err != nil {
					return
				}
			}
		}
	}
}
