package orchestrator

import (
	"testing"
	"time"
)

func newIdleSession() *session {
	return newSession("build", nil, 30*time.Second, time.Now)
}

func TestSessionPhaseTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    []Phase
		wantErr bool
	}{
		{name: "running to completed", path: []Phase{PhaseCompleted}},
		{name: "running to interactive to completed", path: []Phase{PhaseInteractive, PhaseCompleted}},
		{name: "running to interactive to timed out", path: []Phase{PhaseInteractive, PhaseTimedOut}},
		{name: "running to interrupted", path: []Phase{PhaseInterrupted}},
		{name: "completed is terminal", path: []Phase{PhaseCompleted, PhaseInteractive}, wantErr: true},
		{name: "timed out is terminal", path: []Phase{PhaseTimedOut, PhaseCompleted}, wantErr: true},
		{name: "interactive cannot revert", path: []Phase{PhaseInteractive, PhaseRunning}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sess := newIdleSession()
			var err error
			for _, next := range tt.path {
				err = sess.transition(next, "test")
				if err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("transition error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionInteractiveStickyAcrossCompletion(t *testing.T) {
	t.Parallel()

	sess := newIdleSession()
	if sess.interactive() {
		t.Fatal("fresh session reported interactive")
	}
	if err := sess.transition(PhaseInteractive, "prompt"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := sess.transition(PhaseCompleted, "child exited"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	// Classification is sticky: completion does not clear it.
	if !sess.interactive() {
		t.Fatal("interactive classification lost after completion")
	}
}

func TestSessionTranscriptAppendsLineTerminators(t *testing.T) {
	t.Parallel()

	sess := newIdleSession()
	sess.appendLine("   Compiling demo v0.1.0")
	sess.appendLine("    Finished dev profile")
	want := "   Compiling demo v0.1.0\n    Finished dev profile\n"
	if got := sess.transcript.String(); got != want {
		t.Fatalf("transcript = %q, want %q", got, want)
	}
}

func TestSessionHistoryRecordsTransitions(t *testing.T) {
	t.Parallel()

	sess := newIdleSession()
	_ = sess.transition(PhaseInteractive, "rule confirm-prompt")
	_ = sess.transition(PhaseCompleted, "child exited")

	if len(sess.history) != 2 {
		t.Fatalf("history length = %d, want 2", len(sess.history))
	}
	if sess.history[0].To != PhaseInteractive || sess.history[1].To != PhaseCompleted {
		t.Fatalf("history = %+v", sess.history)
	}
	if sess.history[0].Reason != "rule confirm-prompt" {
		t.Fatalf("reason = %q", sess.history[0].Reason)
	}
}
