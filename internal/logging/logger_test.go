package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestNewWritesJSONToLogDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	logger, err := New(context.Background(), WithSessionID("sess-1"))
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Logger.Info("session started", "command", "build")
	if err := logger.Close(); err != nil {
		t.Fatalf("close logger: %v", err)
	}

	if !strings.HasPrefix(logger.Path(), filepath.Join(home, ".cargopilot", "logs")) {
		t.Fatalf("log path = %q, want under ~/.cargopilot/logs", logger.Path())
	}

	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	for _, want := range []string{`"session_id":"sess-1"`, `"msg":"session started"`, `"command":"build"`} {
		if !strings.Contains(content, want) {
			t.Fatalf("log file missing %q:\n%s", want, content)
		}
	}
}

func TestWithSessionIDUpdatesSubsequentRecords(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	logger, err := New(context.Background())
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.WithSessionID("sess-2").Logger.Info("relayed input")
	if err := logger.Close(); err != nil {
		t.Fatalf("close logger: %v", err)
	}

	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"session_id":"sess-2"`) {
		t.Fatalf("log file missing updated session id:\n%s", data)
	}
}

func TestWithLevelSuppressesRecords(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	logger, err := New(context.Background(), WithLevel(log.ErrorLevel))
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Logger.Info("below threshold")
	logger.Logger.Error("at threshold")
	if err := logger.Close(); err != nil {
		t.Fatalf("close logger: %v", err)
	}

	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "below threshold") {
		t.Fatalf("info record emitted at error level:\n%s", data)
	}
	if !strings.Contains(string(data), "at threshold") {
		t.Fatalf("error record missing:\n%s", data)
	}
}

func TestPruneOldLogsBoundsTotalSize(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	logDir := filepath.Join(home, ".cargopilot", "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	oldest := "cargopilot-20240101-000000.log"
	newest := "cargopilot-20240102-000000.log"
	padding := strings.Repeat("x", 100)
	for _, name := range []string{oldest, newest} {
		if err := os.WriteFile(filepath.Join(logDir, name), []byte(padding), 0o600); err != nil {
			t.Fatalf("seed log: %v", err)
		}
	}

	logger, err := New(context.Background(), WithMaxSizeBytes(150))
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(filepath.Join(logDir, oldest)); !os.IsNotExist(err) {
		t.Fatal("oldest log survived size pruning")
	}
	if _, err := os.Stat(filepath.Join(logDir, newest)); err != nil {
		t.Fatalf("newest log was pruned: %v", err)
	}
}

func TestPruneOldLogsKeepsNewest(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	logDir := filepath.Join(home, ".cargopilot", "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	stale := []string{
		"cargopilot-20240101-000000.log",
		"cargopilot-20240102-000000.log",
		"cargopilot-20240103-000000.log",
	}
	for _, name := range stale {
		if err := os.WriteFile(filepath.Join(logDir, name), []byte("old\n"), 0o600); err != nil {
			t.Fatalf("seed log: %v", err)
		}
	}
	// Not a rotation candidate.
	if err := os.WriteFile(filepath.Join(logDir, "notes.txt"), []byte("keep\n"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	logger, err := New(context.Background(), WithMaxFiles(3))
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer logger.Close()

	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}

	logs := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".log") {
			logs++
		}
		if entry.Name() == stale[0] {
			t.Fatal("oldest log survived pruning")
		}
	}
	if logs != 3 {
		t.Fatalf("log files = %d, want 3 (two retained plus the new one)", logs)
	}
	if _, err := os.Stat(filepath.Join(logDir, "notes.txt")); err != nil {
		t.Fatalf("non-log file was pruned: %v", err)
	}
}
