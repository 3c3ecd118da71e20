package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const logFilePrefix = "cargopilot-"

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	sessionID string
	traceID   string
	maxFiles  int
	maxBytes  int64
	level     log.Level
}

// WithSessionID configures the session_id field used in emitted log records.
func WithSessionID(sessionID string) Option {
	return func(opts *newOptions) {
		opts.sessionID = strings.TrimSpace(sessionID)
	}
}

// WithTraceID configures the trace_id field used in emitted log records.
func WithTraceID(traceID string) Option {
	return func(opts *newOptions) {
		opts.traceID = strings.TrimSpace(traceID)
	}
}

// WithMaxFiles bounds how many log files are retained; older files beyond the
// bound are removed at startup.
func WithMaxFiles(maxFiles int) Option {
	return func(opts *newOptions) {
		if maxFiles > 0 {
			opts.maxFiles = maxFiles
		}
	}
}

// WithMaxSizeBytes bounds the total size of retained log files; the oldest
// files beyond the bound are removed at startup.
func WithMaxSizeBytes(maxBytes int64) Option {
	return func(opts *newOptions) {
		if maxBytes > 0 {
			opts.maxBytes = maxBytes
		}
	}
}

// WithLevel sets the minimum emitted log level.
func WithLevel(level log.Level) Option {
	return func(opts *newOptions) {
		opts.level = level
	}
}

// RuntimeLogger writes structured JSON logs to disk.
type RuntimeLogger struct {
	Logger     *log.Logger
	file       *os.File
	path       string
	baseLogger *log.Logger
	sessionID  string
	traceID    string
}

// New initializes logging under ~/.cargopilot/logs without writing to stdout.
func New(ctx context.Context, options ...Option) (*RuntimeLogger, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, ".cargopilot", "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	resolved := resolveOptions(options)
	if resolved.maxFiles > 0 || resolved.maxBytes > 0 {
		pruneOldLogs(logDir, resolved.maxFiles, resolved.maxBytes)
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	fileName := fmt.Sprintf("%s%s.log", logFilePrefix, timestamp)
	filePath := filepath.Join(logDir, fileName)
	// #nosec G304 -- filePath is constructed from trusted local paths.
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := log.NewWithOptions(file, log.Options{
		Level:           resolved.level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)

	runtimeLogger := &RuntimeLogger{
		file:       file,
		path:       filePath,
		baseLogger: logger,
		sessionID:  resolved.sessionID,
		traceID:    resolved.traceID,
	}
	runtimeLogger.rebuildLogger()
	runtimeLogger.Logger.With("log_file", filePath).Info("logger initialized")

	_ = ctx
	return runtimeLogger, nil
}

// WithSessionID updates the session_id field for subsequent log records.
func (r *RuntimeLogger) WithSessionID(sessionID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.sessionID = strings.TrimSpace(sessionID)
	r.rebuildLogger()
	return r
}

// WithTraceID updates the trace_id field for subsequent log records.
func (r *RuntimeLogger) WithTraceID(traceID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.traceID = strings.TrimSpace(traceID)
	r.rebuildLogger()
	return r
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Path returns the current log file path.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func (r *RuntimeLogger) rebuildLogger() {
	if r == nil || r.baseLogger == nil {
		return
	}
	r.Logger = r.baseLogger.With(
		"session_id", r.sessionID,
		"trace_id", r.traceID,
	)
}

// pruneOldLogs removes the oldest log files so at most maxFiles-1 remain and
// the retained total stays under maxBytes before the new file is created.
// Either bound may be zero to disable it. Best-effort: removal errors are
// ignored.
func pruneOldLogs(logDir string, maxFiles int, maxBytes int64) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}

	type logFile struct {
		name string
		size int64
	}
	files := make([]logFile, 0, len(entries))
	var total int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, logFilePrefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{name: name, size: info.Size()})
		total += info.Size()
	}

	// Timestamped names sort chronologically.
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })

	remaining := len(files)
	for _, file := range files {
		overCount := maxFiles > 0 && remaining > maxFiles-1
		overSize := maxBytes > 0 && total > maxBytes
		if !overCount && !overSize {
			return
		}
		_ = os.Remove(filepath.Join(logDir, file.name))
		remaining--
		total -= file.size
	}
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{
		level: log.InfoLevel,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	return resolved
}
