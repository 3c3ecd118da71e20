package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cargopilot/cargopilot/internal/command"
	"github.com/cargopilot/cargopilot/internal/orchestrator"
	"github.com/cargopilot/cargopilot/internal/toolchain"
)

const (
	defaultLogMaxSizeBytes = 10 * 1024 * 1024
	defaultLogMaxFiles     = 5

	configDirName  = ".cargopilot"
	configFileName = "config.toml"
)

// Config stores runtime settings loaded from TOML files.
type Config struct {
	Binary            string
	QueueCapacity     int
	InteractiveGrace  int
	Timeouts          map[string]time.Duration
	LogMaxSizeBytes   int64
	LogMaxFiles       int
	TelemetryEndpoint string
}

type fileConfig struct {
	Binary            *string           `toml:"binary"`
	QueueCapacity     *int              `toml:"queue_capacity"`
	InteractiveGrace  *int              `toml:"interactive_grace"`
	Timeouts          map[string]string `toml:"timeouts"`
	LogMaxSizeMB      *int              `toml:"log_max_size_mb"`
	LogMaxFiles       *int              `toml:"log_max_files"`
	TelemetryEndpoint *string           `toml:"telemetry_endpoint"`
}

// Load reads config from ~/.cargopilot/config.toml and overlays a
// project-local .cargopilot/config.toml.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, configDirName, configFileName),
		filepath.Join(workingDir, configDirName, configFileName),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := validateTimeouts(cfg.Timeouts); err != nil {
		return nil, err
	}

	_ = ctx
	return &cfg, nil
}

func defaults() Config {
	return Config{
		Binary:           toolchain.DefaultBinary,
		QueueCapacity:    orchestrator.DefaultQueueCapacity,
		InteractiveGrace: orchestrator.DefaultInteractiveGrace,
		Timeouts:         map[string]time.Duration{},
		LogMaxSizeBytes:  defaultLogMaxSizeBytes,
		LogMaxFiles:      defaultLogMaxFiles,
	}
}

// Orchestrator translates loaded settings into an orchestrator Config.
func (c *Config) Orchestrator() orchestrator.Config {
	if c == nil {
		return orchestrator.Config{}
	}
	return orchestrator.Config{
		Binary:           c.Binary,
		QueueCapacity:    c.QueueCapacity,
		InteractiveGrace: c.InteractiveGrace,
		Timeouts:         c.Timeouts,
	}
}

// TimeoutFor returns the effective deadline for a subcommand: the override
// from config, or the command's built-in default.
func (c *Config) TimeoutFor(name string) time.Duration {
	if c != nil {
		if override, ok := c.Timeouts[normalizeKey(name)]; ok && override > 0 {
			return override
		}
	}
	spec, _ := command.Lookup(name)
	return spec.Timeout
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if err := applyScalarOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if err := applyTimeoutOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if err := applyLogOverrides(cfg, decoded, path); err != nil {
		return err
	}

	return nil
}

func applyScalarOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.Binary != nil {
		binary := strings.TrimSpace(*decoded.Binary)
		if binary == "" {
			return fmt.Errorf("parse binary in %q: must not be empty", path)
		}
		cfg.Binary = binary
	}
	if decoded.QueueCapacity != nil {
		if *decoded.QueueCapacity <= 0 {
			return fmt.Errorf("parse queue_capacity in %q: must be > 0", path)
		}
		cfg.QueueCapacity = *decoded.QueueCapacity
	}
	if decoded.InteractiveGrace != nil {
		if *decoded.InteractiveGrace < 1 {
			return fmt.Errorf("parse interactive_grace in %q: must be >= 1", path)
		}
		cfg.InteractiveGrace = *decoded.InteractiveGrace
	}
	if decoded.TelemetryEndpoint != nil {
		cfg.TelemetryEndpoint = strings.TrimSpace(*decoded.TelemetryEndpoint)
	}
	return nil
}

func applyTimeoutOverrides(cfg *Config, decoded fileConfig, path string) error {
	for name, raw := range decoded.Timeouts {
		key := normalizeKey(name)
		if key == "" {
			return fmt.Errorf("parse timeouts in %q: empty command name", path)
		}
		value, err := parseDuration(raw, "timeouts."+key, path)
		if err != nil {
			return err
		}
		if value <= 0 {
			return fmt.Errorf("parse timeouts.%s in %q: must be > 0", key, path)
		}
		if cfg.Timeouts == nil {
			cfg.Timeouts = map[string]time.Duration{}
		}
		cfg.Timeouts[key] = value
	}
	return nil
}

func applyLogOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.LogMaxSizeMB != nil {
		if *decoded.LogMaxSizeMB <= 0 {
			return fmt.Errorf("parse log_max_size_mb in %q: must be > 0", path)
		}
		cfg.LogMaxSizeBytes = int64(*decoded.LogMaxSizeMB) * 1024 * 1024
	}
	if decoded.LogMaxFiles != nil {
		if *decoded.LogMaxFiles <= 0 {
			return fmt.Errorf("parse log_max_files in %q: must be > 0", path)
		}
		cfg.LogMaxFiles = *decoded.LogMaxFiles
	}
	return nil
}

// validateTimeouts enforces the deadline ordering across the long-running
// commands: bench may not undercut run or test, and run/test may not undercut
// the short-command default. The effective value falls back to the built-in
// default for any command without an override.
func validateTimeouts(timeouts map[string]time.Duration) error {
	effective := func(name string, builtin time.Duration) time.Duration {
		if override, ok := timeouts[name]; ok && override > 0 {
			return override
		}
		return builtin
	}

	run := effective("run", command.RunTimeout)
	test := effective("test", command.RunTimeout)
	bench := effective("bench", command.BenchTimeout)

	if bench < run || bench < test {
		return fmt.Errorf(
			"timeout ordering: bench (%s) must be at least run (%s) and test (%s)",
			bench, run, test,
		)
	}
	if run < command.DefaultTimeout || test < command.DefaultTimeout {
		return fmt.Errorf(
			"timeout ordering: run (%s) and test (%s) must be at least the default (%s)",
			run, test, command.DefaultTimeout,
		)
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
