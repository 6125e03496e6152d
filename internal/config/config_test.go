package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

func TestParseYAML(t *testing.T) {
	m := writeConfig(t, "config.yaml", `
interface: wlan0
logging:
  level: debug
  console: true
trial:
  max_trials: 5
  quiet_window: 3s
`)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Interface != "wlan0" {
		t.Fatalf("interface: got %q", cfg.Interface)
	}
	if cfg.Trial.MaxTrials != 5 {
		t.Fatalf("max_trials: got %d", cfg.Trial.MaxTrials)
	}
	// Omitted sections pick up defaults through Normalize.
	if cfg.Probe.InternetAnchor != "1.1.1.1" {
		t.Fatalf("default anchor missing: %q", cfg.Probe.InternetAnchor)
	}
	if cfg.Trial.EarlyStop.SingleRPM != 700 {
		t.Fatalf("nested defaults missing: %d", cfg.Trial.EarlyStop.SingleRPM)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := writeConfig(t, "config.yaml", `
interface: wlan0
not_a_real_key: 1
`)
	if _, err := m.Parse(); err == nil {
		t.Fatalf("unknown fields must be rejected")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	m := writeConfig(t, "config.yaml", `
trial:
  quiet_window: soon
`)
	_, err := m.Parse()
	if err == nil {
		t.Fatalf("bad duration must be rejected")
	}
	if !strings.Contains(err.Error(), "quiet_window") {
		t.Fatalf("error should name the field: %v", err)
	}
}

func TestParseJSONTrailingData(t *testing.T) {
	m := writeConfig(t, "config.json", `{"interface":"en0"}{"interface":"en1"}`)
	if _, err := m.Parse(); err == nil {
		t.Fatalf("trailing tokens must be rejected")
	}
}

func TestSchedulerRequiresSchedule(t *testing.T) {
	m := writeConfig(t, "config.yaml", `
scheduler:
  enabled: true
`)
	if _, err := m.Parse(); err == nil {
		t.Fatalf("enabled scheduler without a schedule must be rejected")
	}
}

func TestDurationAccessor(t *testing.T) {
	if got := Duration("250ms", time.Second); got != 250*time.Millisecond {
		t.Fatalf("got %v", got)
	}
	if got := Duration("", time.Second); got != time.Second {
		t.Fatalf("empty should default, got %v", got)
	}
	if got := Duration("junk", 2*time.Second); got != 2*time.Second {
		t.Fatalf("unparsable should default, got %v", got)
	}
}

func TestLoadCommitAndGet(t *testing.T) {
	m := writeConfig(t, "config.yaml", "interface: en0\n")
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get should return the committed config")
	}
}
