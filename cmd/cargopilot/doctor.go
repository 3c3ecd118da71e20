package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cargopilot/cargopilot/internal/command"
	"github.com/cargopilot/cargopilot/internal/config"
	"github.com/cargopilot/cargopilot/internal/toolchain"
)

var doctorProbeFn = func(binary string) availabilityReporter {
	return toolchain.NewProbe(binary)
}

type availabilityReporter interface {
	Report(ctx context.Context, extensions ...string) toolchain.Availability
}

func newDoctorCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check toolchain and extension availability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			binary := toolchain.DefaultBinary
			if cfg != nil && cfg.Binary != "" {
				binary = cfg.Binary
			}
			probe := doctorProbeFn(binary)
			report := probe.Report(cmd.Context(), extensionNames()...)
			return printAvailability(cmd.OutOrStdout(), report)
		},
	}
}

// extensionNames collects the extension subcommands from the command table so
// doctor stays in sync with what sessions can preflight.
func extensionNames() []string {
	seen := map[string]struct{}{}
	names := []string{}
	for _, spec := range command.All() {
		if spec.Extension == "" {
			continue
		}
		if _, ok := seen[spec.Extension]; ok {
			continue
		}
		seen[spec.Extension] = struct{}{}
		names = append(names, spec.Extension)
	}
	sort.Strings(names)
	return names
}

func printAvailability(out io.Writer, report toolchain.Availability) error {
	status := "MISSING"
	if report.OnPath {
		status = "ok"
	}
	if _, err := fmt.Fprintf(out, "%-24s %s\n", report.Binary, status); err != nil {
		return fmt.Errorf("write doctor output: %w", err)
	}

	extensions := make([]string, 0, len(report.Extensions))
	for name := range report.Extensions {
		extensions = append(extensions, name)
	}
	sort.Strings(extensions)
	for _, name := range extensions {
		status := "not installed"
		if report.Extensions[name] {
			status = "ok"
		}
		if _, err := fmt.Fprintf(out, "%-24s %s\n", report.Binary+"-"+name, status); err != nil {
			return fmt.Errorf("write doctor output: %w", err)
		}
	}
	return nil
}
