package kernel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coursekernel/proclab/internal/klog"
	"github.com/coursekernel/proclab/kernel/proc"
	"github.com/coursekernel/proclab/kernel/sched"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernel.cfg")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaultsWhenUnset(t *testing.T) {
	path := writeConfig(t, "[Global]\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.NProc != 64 {
		t.Errorf("NProc = %d, want 64", cfg.NProc)
	}
	if cfg.Policy != sched.RR {
		t.Errorf("Policy = %v, want RR", cfg.Policy)
	}
	if cfg.Timeslices[proc.High] != 4 || cfg.Timeslices[proc.Medium] != 8 || cfg.Timeslices[proc.Low] != 16 {
		t.Errorf("Timeslices = %v, want [4 8 16]", cfg.Timeslices)
	}
	if cfg.LogLevel != klog.INFO {
		t.Errorf("LogLevel = %v, want INFO", cfg.LogLevel)
	}
}

func TestLoadConfigParsesOverrides(t *testing.T) {
	path := writeConfig(t, `
[Global]
NPROC = 8
Policy = MLFQ
TSticks_High = 2
Log_Level = DEBUG
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.NProc != 8 {
		t.Errorf("NProc = %d, want 8", cfg.NProc)
	}
	if cfg.Policy != sched.MLFQ {
		t.Errorf("Policy = %v, want MLFQ", cfg.Policy)
	}
	if cfg.Timeslices[proc.High] != 2 {
		t.Errorf("Timeslices[High] = %d, want 2", cfg.Timeslices[proc.High])
	}
	if cfg.LogLevel != klog.DEBUG {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.LogLevel)
	}
}

func TestLoadConfigRejectsInvalidPolicy(t *testing.T) {
	path := writeConfig(t, "[Global]\nPolicy = BOGUS\n")
	if _, err := LoadConfig(path); err != ErrInvalidPolicy {
		t.Fatalf("LoadConfig with bad policy: got %v, want ErrInvalidPolicy", err)
	}
}

func TestLoadConfigRejectsInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, "[Global]\nLog_Level = BOGUS\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig with bad log level: got nil error, want a non-nil error")
	}
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.cfg")); err == nil {
		t.Fatal("LoadConfig on a missing file: got nil error, want a non-nil error")
	}
}

func TestLoadConfigRejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.cfg")
	data := make([]byte, maxConfigSize+1)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadConfig(path); err != ErrNoConfigFile {
		t.Fatalf("LoadConfig on an oversized file: got %v, want ErrNoConfigFile", err)
	}
}

func TestConfigLoggerDiscardsWhenNoLogFileConfigured(t *testing.T) {
	cfg := Config{}
	l, err := cfg.Logger()
	if err != nil {
		t.Fatalf("Logger: %v", err)
	}
	if l == nil {
		t.Fatal("Logger returned nil with no LogFile configured")
	}
	l.Info("should be silently discarded")
}

func TestConfigLoggerOpensConfiguredFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.log")
	cfg := Config{LogFile: path, LogLevel: klog.INFO}
	l, err := cfg.Logger()
	if err != nil {
		t.Fatalf("Logger: %v", err)
	}
	defer l.Close()
	l.Info("booted")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected the configured log file to exist: %v", err)
	}
}
