// Package toolchain probes the installed command-line toolchain: whether the
// binary exists on PATH and which extension subcommands it knows about.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultBinary is the toolchain executable probed when none is configured.
const DefaultBinary = "cargo"

// CommandRunner executes a probe command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type defaultCommandRunner struct{}

func (d defaultCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return nil, fmt.Errorf("run %s %s: %w", name, strings.Join(args, " "), err)
		}
		return nil, fmt.Errorf("run %s %s: %w (%s)", name, strings.Join(args, " "), err, trimmed)
	}
	return out, nil
}

// Availability captures what the probe found on PATH.
type Availability struct {
	Binary     string
	OnPath     bool
	Extensions map[string]bool
}

// Probe checks binary presence and extension availability.
type Probe struct {
	binary   string
	runner   CommandRunner
	lookPath func(file string) (string, error)
}

// Option configures Probe construction.
type Option func(*Probe)

// WithRunner injects the command runner used for extension listing.
func WithRunner(runner CommandRunner) Option {
	return func(p *Probe) {
		if runner != nil {
			p.runner = runner
		}
	}
}

// WithLookPath injects the PATH resolution function.
func WithLookPath(lookPath func(file string) (string, error)) Option {
	return func(p *Probe) {
		if lookPath != nil {
			p.lookPath = lookPath
		}
	}
}

// NewProbe builds a probe for the given toolchain binary.
func NewProbe(binary string, options ...Option) *Probe {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultBinary
	}
	probe := &Probe{
		binary:   binary,
		runner:   defaultCommandRunner{},
		lookPath: exec.LookPath,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(probe)
	}
	return probe
}

// Binary returns the probed executable name.
func (p *Probe) Binary() string {
	if p == nil {
		return DefaultBinary
	}
	return p.binary
}

// OnPath reports whether the toolchain binary resolves on PATH.
func (p *Probe) OnPath() bool {
	if p == nil {
		return false
	}
	_, err := p.lookPath(p.binary)
	return err == nil
}

// ExtensionInstalled reports whether the named extension subcommand appears
// in the toolchain's subcommand listing.
func (p *Probe) ExtensionInstalled(ctx context.Context, extension string) (bool, error) {
	if p == nil {
		return false, errors.New("probe is nil")
	}
	extension = strings.TrimSpace(extension)
	if extension == "" {
		return false, errors.New("extension name is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	out, err := p.runner.Run(ctx, p.binary, "--list")
	if err != nil {
		return false, fmt.Errorf("list %s subcommands: %w", p.binary, err)
	}
	return listingContains(out, extension), nil
}

// Report collects availability of the binary and the given extensions.
// Extension status is best-effort: when the listing probe fails the
// extension is reported as absent.
func (p *Probe) Report(ctx context.Context, extensions ...string) Availability {
	availability := Availability{
		Binary:     p.Binary(),
		OnPath:     p.OnPath(),
		Extensions: make(map[string]bool, len(extensions)),
	}
	for _, extension := range extensions {
		if !availability.OnPath {
			availability.Extensions[extension] = false
			continue
		}
		installed, err := p.ExtensionInstalled(ctx, extension)
		availability.Extensions[extension] = err == nil && installed
	}
	return availability
}

func listingContains(listing []byte, extension string) bool {
	for _, line := range bytes.Split(listing, []byte("\n")) {
		fields := strings.Fields(string(line))
		if len(fields) > 0 && fields[0] == extension {
			return true
		}
	}
	return false
}
