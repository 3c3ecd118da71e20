package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/cargopilot/cargopilot/internal/command"
	"github.com/cargopilot/cargopilot/internal/config"
	"github.com/cargopilot/cargopilot/internal/events"
	"github.com/cargopilot/cargopilot/internal/logging"
	"github.com/cargopilot/cargopilot/internal/orchestrator"
	"github.com/cargopilot/cargopilot/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

// flushTimeout bounds the wait for streamed output to settle after a session.
const flushTimeout = 2 * time.Second

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(
		ctx,
		logging.WithMaxFiles(cfg.LogMaxFiles),
		logging.WithMaxSizeBytes(cfg.LogMaxSizeBytes),
	)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	if cfg.TelemetryEndpoint != "" {
		telemetry.SetEndpointOverride(cfg.TelemetryEndpoint)
	}
	shutdownTelemetry, err := telemetry.Init(ctx)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdownTelemetry()

	bus := events.New(events.WithLogger(busLogger{logger.Logger}))
	orch := orchestrator.New(
		cfg.Orchestrator(),
		orchestrator.WithLogger(logger.Logger),
		orchestrator.WithBus(bus),
	)

	cmd := newRootCommand(ctx, cfg, logger.Logger, orch, bus)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(
	ctx context.Context,
	cfg *config.Config,
	logger *log.Logger,
	orch *orchestrator.Orchestrator,
	bus events.Bus,
) *cobra.Command {
	root := &cobra.Command{
		Use:           "cargopilot",
		Short:         "Supervised cargo subcommand runner for editor integrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	for _, spec := range command.All() {
		// cobra provides its own help command.
		if spec.Name == "help" {
			continue
		}
		root.AddCommand(newSessionCommand(spec, orch, bus))
	}
	root.AddCommand(newDoctorCommand(cfg))

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	_ = ctx
	return root
}

// newSessionCommand builds one cobra leaf per toolchain subcommand. Session
// output streams to stdout as it is produced; lines typed on stdin while the
// session runs are relayed into the child.
func newSessionCommand(spec command.Spec, orch *orchestrator.Orchestrator, bus events.Bus) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   spec.Name,
		Short: spec.Short,
		RunE: func(cmd *cobra.Command, args []string) error {
			var streamed atomic.Int64
			sessionDone := make(chan struct{})
			if bus != nil {
				var once sync.Once
				// One subscriber channel keeps output lines ordered ahead of
				// the terminal event.
				bus.SubscribeAll(func(event events.Event) {
					switch event.Type {
					case events.EventTypeSessionOutput:
						if line, ok := event.Payload.(string); ok {
							streamed.Add(1)
							fmt.Fprintln(cmd.OutOrStdout(), line)
						}
					case events.EventTypeSessionFinished, events.EventTypeSessionTimedOut:
						once.Do(func() { close(sessionDone) })
					}
				})
			}

			relayCtx, stopRelay := context.WithCancel(cmd.Context())
			defer stopRelay()
			go relayInput(relayCtx, cmd.InOrStdin(), orch)

			runOpts := []orchestrator.RunOption{}
			if timeout > 0 {
				runOpts = append(runOpts, orchestrator.WithTimeout(timeout))
			}

			result, err := orch.Run(cmd.Context(), spec.Name, args, runOpts...)
			if bus != nil {
				// Wait for the streamed transcript to flush before returning
				// control of the terminal.
				var spawnErr *orchestrator.SpawnError
				if !errors.As(err, &spawnErr) {
					select {
					case <-sessionDone:
					case <-time.After(flushTimeout):
					}
				}
			}
			if err != nil {
				return err
			}
			// Nothing streamed but the result carries text: the canned
			// finished message for quiet check sessions.
			if streamed.Load() == 0 && result.Transcript != "" {
				fmt.Fprint(cmd.OutOrStdout(), result.Transcript)
				if result.Transcript[len(result.Transcript)-1] != '\n' {
					fmt.Fprintln(cmd.OutOrStdout())
				}
			}
			return nil
		},
	}
	if spec.RequiresArg {
		cmd.Args = cobra.MinimumNArgs(1)
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override the session deadline")
	return cmd
}

// relayInput forwards stdin lines into the active session. Reads block on the
// terminal, so the goroutine simply stops mattering once the session ends and
// SendInput becomes a no-op.
func relayInput(ctx context.Context, in io.Reader, orch *orchestrator.Orchestrator) {
	if in == nil || orch == nil {
		return
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		orch.SendInput(scanner.Text() + "\n")
	}
}

// busLogger adapts the charm logger to the event bus warning sink.
type busLogger struct {
	logger *log.Logger
}

func (b busLogger) Printf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Warnf(format, args...)
	}
}
