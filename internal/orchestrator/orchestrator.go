// Package orchestrator runs toolchain subcommands as supervised subprocesses.
//
// One Run call is one session: the child is spawned with piped stdio, its
// stdout/stderr are multiplexed into a single ordered transcript, each stdout
// line is scanned by the interactivity detector, and externally supplied
// input is relayed into the child's stdin through a bounded queue. A
// per-command deadline races the read loop; once a session is classified
// interactive the deadline is extended so the collaborator can keep relaying
// input.
package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cargopilot/cargopilot/internal/command"
	"github.com/cargopilot/cargopilot/internal/events"
	"github.com/cargopilot/cargopilot/internal/interact"
	"github.com/cargopilot/cargopilot/internal/toolchain"
	"github.com/cargopilot/cargopilot/internal/tracing"
)

const (
	// DefaultQueueCapacity bounds the input fragment queue. Producers never
	// block: fragments beyond capacity are dropped.
	DefaultQueueCapacity = 32
	// DefaultInteractiveGrace multiplies the base timeout once a session is
	// classified interactive, bounding runaway interactive sessions.
	DefaultInteractiveGrace = 3
	// drainGrace bounds the best-effort transcript drain after a kill.
	drainGrace = time.Second
)

// Config carries orchestrator construction settings.
type Config struct {
	// Binary is the toolchain executable. Defaults to toolchain.DefaultBinary.
	Binary string
	// QueueCapacity bounds the input queue. Defaults to DefaultQueueCapacity.
	QueueCapacity int
	// InteractiveGrace multiplies the base timeout for interactive sessions.
	// Defaults to DefaultInteractiveGrace.
	InteractiveGrace int
	// Timeouts overrides per-command default deadlines.
	Timeouts map[string]time.Duration
}

// Result is the successful outcome of one session.
type Result struct {
	SessionID   string
	Transcript  string
	Interactive bool
	ExitCode    int
	Duration    time.Duration
}

// Option configures Orchestrator construction.
type Option func(*Orchestrator)

// WithLogger injects the structured logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBus injects the event bus receiving session lifecycle events.
func WithBus(bus events.Bus) Option {
	return func(o *Orchestrator) {
		if bus != nil {
			o.bus = bus
		}
	}
}

// WithProbe injects the toolchain probe used for extension preflight.
func WithProbe(probe *toolchain.Probe) Option {
	return func(o *Orchestrator) {
		if probe != nil {
			o.probe = probe
		}
	}
}

// WithTracer injects the tracer used for session spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithRules overrides the interactivity rule set.
func WithRules(rules []interact.Rule) Option {
	return func(o *Orchestrator) {
		if rules != nil {
			o.rules = rules
		}
	}
}

// RunOption configures one Run invocation.
type RunOption func(*runOptions)

type runOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the command's default deadline for this session.
func WithTimeout(timeout time.Duration) RunOption {
	return func(opts *runOptions) {
		if timeout > 0 {
			opts.timeout = timeout
		}
	}
}

// Orchestrator supervises at most one toolchain subprocess at a time.
// SendInput and Interrupt act on the currently running session; there is no
// ambient package-level state.
type Orchestrator struct {
	binary   string
	queueCap int
	grace    int
	timeouts map[string]time.Duration
	rules    []interact.Rule

	logger *log.Logger
	bus    events.Bus
	probe  *toolchain.Probe
	tracer trace.Tracer
	now    func() time.Time

	mu         sync.Mutex
	inputQueue chan string
	cancel     context.CancelFunc
}

// New builds an orchestrator for the configured toolchain binary.
func New(cfg Config, options ...Option) *Orchestrator {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = toolchain.DefaultBinary
	}
	queueCap := cfg.QueueCapacity
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}
	grace := cfg.InteractiveGrace
	if grace <= 0 {
		grace = DefaultInteractiveGrace
	}

	o := &Orchestrator{
		binary:   binary,
		queueCap: queueCap,
		grace:    grace,
		timeouts: cfg.Timeouts,
		rules:    interact.DefaultRules(),
		logger:   log.New(io.Discard),
		tracer:   otel.Tracer("cargopilot/orchestrator"),
		now:      time.Now,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(o)
	}
	if o.probe == nil {
		o.probe = toolchain.NewProbe(binary)
	}
	return o
}

// Run executes one toolchain subcommand and returns the combined transcript
// plus the interactive classification. Args are appended verbatim after the
// subcommand. The effective timeout is the caller override, the config
// override, or the command default, in that order.
func (o *Orchestrator) Run(ctx context.Context, commandName string, args []string, opts ...RunOption) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resolved := runOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}

	spec, _ := command.Lookup(commandName)
	if spec.RequiresArg && len(args) == 0 {
		return Result{}, &ArgumentError{Command: commandName}
	}

	timeout := resolved.timeout
	if timeout <= 0 {
		timeout = o.timeoutFor(spec)
	}

	ctx, span := o.tracer.Start(ctx, "session.run", trace.WithAttributes(
		attribute.String("command", commandName),
		attribute.String("args_redacted", strings.Join(tracing.RedactArgs(args), " ")),
		attribute.Int64("timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	if spec.Extension != "" {
		installed, err := o.probe.ExtensionInstalled(ctx, spec.Extension)
		if err != nil {
			wrapped := &SpawnError{Command: commandName, Err: err}
			span.RecordError(wrapped)
			span.SetStatus(codes.Error, wrapped.Error())
			return Result{}, wrapped
		}
		if !installed {
			err := &PreflightError{Extension: spec.Extension}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Result{}, err
		}
	}

	result, err := o.runSession(ctx, spec, args, timeout, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetStatus(codes.Ok, "session completed")
	return result, nil
}

// SendInput enqueues one input fragment for the active session's relay.
// Best-effort and non-blocking: it silently does nothing when no session is
// running or the queue is full.
func (o *Orchestrator) SendInput(text string) {
	o.mu.Lock()
	queue := o.inputQueue
	o.mu.Unlock()
	if queue == nil {
		return
	}
	select {
	case queue <- text:
	default:
		o.logger.Warn("input queue full, dropping fragment", "bytes", len(text))
	}
}

// Interrupt cancels the active session: the child is killed and the session
// tasks are torn down. No-op when no session is running.
func (o *Orchestrator) Interrupt() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) timeoutFor(spec command.Spec) time.Duration {
	if override, ok := o.timeouts[spec.Name]; ok && override > 0 {
		return override
	}
	if spec.Timeout > 0 {
		return spec.Timeout
	}
	return command.DefaultTimeout
}

// install claims the single-session slot. It fails when a session is active.
func (o *Orchestrator) install(queue chan string, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inputQueue != nil {
		return ErrSessionActive
	}
	o.inputQueue = queue
	o.cancel = cancel
	return nil
}

func (o *Orchestrator) uninstall() {
	o.mu.Lock()
	o.inputQueue = nil
	o.cancel = nil
	o.mu.Unlock()
}

func (o *Orchestrator) runSession(
	ctx context.Context,
	spec command.Spec,
	args []string,
	timeout time.Duration,
	span trace.Span,
) (Result, error) {
	sess := newSession(spec.Name, args, timeout, o.now)
	detector := interact.NewDetectorWithRules(spec.Name, o.rules)
	logger := o.logger.With("session_id", sess.id, "command", spec.Name)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan string, o.queueCap)
	if err := o.install(queue, cancel); err != nil {
		return Result{}, err
	}
	defer o.uninstall()

	cmd := exec.Command(o.binary, append([]string{spec.Name}, args...)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, &SpawnError{Command: spec.Name, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, &SpawnError{Command: spec.Name, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, &SpawnError{Command: spec.Name, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return Result{}, &SpawnError{Command: spec.Name, Err: err}
	}

	span.SetAttributes(attribute.Int("pid", cmd.Process.Pid))
	logger.Debug("session started", "pid", cmd.Process.Pid, "timeout", timeout)
	o.publish(events.Event{
		Type:      events.EventTypeSessionStarted,
		SessionID: sess.id,
		Command:   spec.Name,
		Payload:   tracing.FormatCommand(o.binary, append([]string{spec.Name}, args...)),
		Severity:  events.SeverityInfo,
	})

	// Stdin ownership moves to the relay for the session lifetime.
	go newInputRelay(stdin, queue).run(sessionCtx)

	stdoutCh := make(chan string, 16)
	stderrCh := make(chan string, 16)
	go readLines(sessionCtx, stdout, stdoutCh, logger, "stdout")
	go readLines(sessionCtx, stderr, stderrCh, logger, "stderr")

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var timedOut, interrupted bool
	for stdoutCh != nil || stderrCh != nil {
		select {
		case line, ok := <-stdoutCh:
			if !ok {
				stdoutCh = nil
				continue
			}
			o.observeLine(sess, detector, logger, span, line, false, deadline, timeout)
		case line, ok := <-stderrCh:
			if !ok {
				stderrCh = nil
				continue
			}
			o.observeLine(sess, detector, logger, span, line, true, deadline, timeout)
		case <-deadline.C:
			timedOut = true
			o.kill(cmd, logger)
			cancel()
			o.drain(sess, detector, logger, span, stdoutCh, stderrCh, deadline, timeout)
			stdoutCh, stderrCh = nil, nil
		case <-sessionCtx.Done():
			interrupted = true
			o.kill(cmd, logger)
			o.drain(sess, detector, logger, span, stdoutCh, stderrCh, deadline, timeout)
			stdoutCh, stderrCh = nil, nil
		}
	}

	// Readers reached EOF (or were drained after a kill). Reaping still races
	// the deadline: a child that closes its stdio but keeps running must die
	// at the same timeout as one that keeps printing.
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	if timedOut || interrupted {
		waitErr = <-waitCh
	} else {
		select {
		case waitErr = <-waitCh:
		case <-deadline.C:
			timedOut = true
			o.kill(cmd, logger)
			cancel()
			waitErr = <-waitCh
		case <-sessionCtx.Done():
			interrupted = true
			o.kill(cmd, logger)
			waitErr = <-waitCh
		}
	}
	exitCode := exitCodeOf(waitErr)

	transcript := sess.transcript.String()
	span.SetAttributes(
		attribute.Int("exit_code", exitCode),
		attribute.Bool("interactive", sess.interactive()),
		attribute.Int64("duration_ms", sess.elapsed().Milliseconds()),
	)
	if trimmed := strings.TrimSpace(transcript); trimmed != "" {
		span.AddEvent("session.transcript", trace.WithAttributes(
			attribute.String("output", tracing.TruncateOutput(trimmed, tracing.MaxOutputEventBytes)),
		))
	}

	result := Result{
		SessionID:   sess.id,
		Transcript:  transcript,
		Interactive: sess.interactive(),
		ExitCode:    exitCode,
		Duration:    sess.elapsed(),
	}

	switch {
	case interrupted:
		_ = sess.transition(PhaseInterrupted, "caller cancellation")
		logger.Warn("session interrupted", "elapsed", sess.elapsed())
		o.publishFinished(sess, events.SeverityWarn, "interrupted")
		return result, ErrInterrupted
	case timedOut && !sess.interactive():
		_ = sess.transition(PhaseTimedOut, "deadline exceeded")
		logger.Warn("session timed out", "elapsed", sess.elapsed())
		o.publish(events.Event{
			Type:      events.EventTypeSessionTimedOut,
			SessionID: sess.id,
			Command:   sess.command,
			Payload:   sess.elapsed(),
			Severity:  events.SeverityError,
		})
		return result, &TimeoutError{Command: sess.command, Elapsed: sess.elapsed()}
	case timedOut:
		// The deadline and the detector raced; interactivity wins. The
		// session is reported as best-effort success with the flag set.
		_ = sess.transition(PhaseTimedOut, "interactive grace exceeded")
		logger.Info("interactive session stopped at grace deadline", "elapsed", sess.elapsed())
		o.publishFinished(sess, events.SeverityWarn, "interactive grace exceeded")
		return result, nil
	}

	_ = sess.transition(PhaseCompleted, "child exited")

	if exitCode != 0 && !sess.interactive() {
		logger.Warn("session failed", "exit_code", exitCode)
		o.publishFinished(sess, events.SeverityError, "failed")
		return result, &CommandError{Command: sess.command, ExitCode: exitCode, Transcript: transcript}
	}

	// An interactive program's non-zero exit from unterminated input is
	// expected, not an error.
	if spec.SubstituteEmptyOutput && strings.TrimSpace(transcript) == "" {
		result.Transcript = command.FinishedMessage
	}

	logger.Debug("session completed", "exit_code", exitCode, "interactive", result.Interactive)
	o.publishFinished(sess, events.SeverityInfo, "completed")
	return result, nil
}

// observeLine appends one line to the transcript and, for stdout lines, runs
// the interactivity detector. Detection extends the deadline to the grace
// multiple of the base timeout.
func (o *Orchestrator) observeLine(
	sess *session,
	detector *interact.Detector,
	logger *log.Logger,
	span trace.Span,
	line string,
	fromStderr bool,
	deadline *time.Timer,
	timeout time.Duration,
) {
	sess.appendLine(line)
	o.publish(events.Event{
		Type:      events.EventTypeSessionOutput,
		SessionID: sess.id,
		Command:   sess.command,
		Payload:   line,
		Severity:  events.SeverityInfo,
	})
	if fromStderr {
		return
	}
	if !detector.Observe(line) || sess.phase != PhaseRunning {
		return
	}

	sess.matchedRule = detector.MatchedRule()
	if err := sess.transition(PhaseInteractive, "rule "+sess.matchedRule); err != nil {
		return
	}
	if !deadline.Stop() {
		select {
		case <-deadline.C:
		default:
		}
	}
	deadline.Reset(time.Duration(o.grace) * timeout)

	logger.Info("interactive session detected", "rule", sess.matchedRule)
	span.AddEvent("session.interactive", trace.WithAttributes(
		attribute.String("rule", sess.matchedRule),
	))
	o.publish(events.Event{
		Type:      events.EventTypeSessionInteractive,
		SessionID: sess.id,
		Command:   sess.command,
		Payload:   sess.matchedRule,
		Severity:  events.SeverityInfo,
	})
}

// drain collects whatever output remains after a kill so the partial
// transcript is still returned. Bounded by drainGrace.
func (o *Orchestrator) drain(
	sess *session,
	detector *interact.Detector,
	logger *log.Logger,
	span trace.Span,
	stdoutCh, stderrCh <-chan string,
	deadline *time.Timer,
	timeout time.Duration,
) {
	grace := time.NewTimer(drainGrace)
	defer grace.Stop()

	for stdoutCh != nil || stderrCh != nil {
		select {
		case line, ok := <-stdoutCh:
			if !ok {
				stdoutCh = nil
				continue
			}
			o.observeLine(sess, detector, logger, span, line, false, deadline, timeout)
		case line, ok := <-stderrCh:
			if !ok {
				stderrCh = nil
				continue
			}
			o.observeLine(sess, detector, logger, span, line, true, deadline, timeout)
		case <-grace.C:
			return
		}
	}
}

func (o *Orchestrator) kill(cmd *exec.Cmd, logger *log.Logger) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		logger.Debug("kill child", "error", err)
	}
}

func (o *Orchestrator) publish(event events.Event) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(event)
}

func (o *Orchestrator) publishFinished(sess *session, severity, outcome string) {
	o.publish(events.Event{
		Type:      events.EventTypeSessionFinished,
		SessionID: sess.id,
		Command:   sess.command,
		Payload:   outcome,
		Severity:  severity,
	})
}

// readLines pumps lines from one stream into out, closing it at EOF. The
// per-line send selects on ctx so a cancelled session never strands the
// reader. A scan failure (a line over the buffer cap, a broken pipe) ends the
// stream early with a warning; the transcript keeps whatever was read.
func readLines(ctx context.Context, r io.Reader, out chan<- string, logger *log.Logger, stream string) {
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, fs.ErrClosed) {
		logger.Warn("stream read aborted, transcript may be truncated", "stream", stream, "error", err)
	}
}

func exitCodeOf(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
