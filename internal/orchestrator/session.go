package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Phase is one state of the per-session timeout/cancellation machine.
type Phase string

const (
	// PhaseRunning is the initial non-interactive state.
	PhaseRunning Phase = "running"
	// PhaseInteractive is entered the instant the prompt detector fires.
	// The transition is one-way.
	PhaseInteractive Phase = "interactive"
	// PhaseCompleted is entered when the child exits.
	PhaseCompleted Phase = "completed"
	// PhaseTimedOut is entered when the deadline expires.
	PhaseTimedOut Phase = "timed_out"
	// PhaseInterrupted is entered on caller cancellation.
	PhaseInterrupted Phase = "interrupted"
)

var allowedPhaseTransitions = map[Phase]map[Phase]struct{}{
	PhaseRunning: {
		PhaseInteractive: {},
		PhaseCompleted:   {},
		PhaseTimedOut:    {},
		PhaseInterrupted: {},
	},
	PhaseInteractive: {
		PhaseCompleted:   {},
		PhaseTimedOut:    {},
		PhaseInterrupted: {},
	},
}

// PhaseRecord stores one transition for session history.
type PhaseRecord struct {
	From      Phase
	To        Phase
	Reason    string
	Timestamp time.Time
}

// session tracks one orchestrator invocation. It is confined to the Run
// goroutine: the aggregator loop is the only writer of transcript and phase.
type session struct {
	id      string
	command string
	args    []string
	timeout time.Duration
	started time.Time
	now     func() time.Time

	transcript  strings.Builder
	phase       Phase
	history     []PhaseRecord
	matchedRule string
}

func newSession(command string, args []string, timeout time.Duration, now func() time.Time) *session {
	if now == nil {
		now = time.Now
	}
	return &session{
		id:      uuid.NewString(),
		command: command,
		args:    args,
		timeout: timeout,
		started: now(),
		now:     now,
		phase:   PhaseRunning,
	}
}

// appendLine appends one transcript line plus terminator. The transcript is
// append-only for the session lifetime.
func (s *session) appendLine(line string) {
	s.transcript.WriteString(line)
	s.transcript.WriteByte('\n')
}

// transition moves the session to the next phase, enforcing the one-way
// machine. Terminal phases reject further transitions.
func (s *session) transition(to Phase, reason string) error {
	next, ok := allowedPhaseTransitions[s.phase]
	if !ok {
		return fmt.Errorf("session %s: cannot leave terminal phase %q", s.id, s.phase)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("session %s: illegal phase transition %q -> %q", s.id, s.phase, to)
	}
	s.history = append(s.history, PhaseRecord{
		From:      s.phase,
		To:        to,
		Reason:    reason,
		Timestamp: s.now().UTC(),
	})
	s.phase = to
	return nil
}

// interactive reports whether the sticky interactive classification is set.
func (s *session) interactive() bool {
	if s.phase == PhaseInteractive {
		return true
	}
	for _, record := range s.history {
		if record.To == PhaseInteractive {
			return true
		}
	}
	return false
}

func (s *session) elapsed() time.Duration {
	return s.now().Sub(s.started)
}
