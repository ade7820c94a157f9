package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_ADDR", "WS_READ_BUFFER", "WS_WRITE_BUFFER", "DB_DSN", "JWT_SECRET",
		"SNAPSHOT_INTERVAL", "PROM_ADDR", "TRACE_STDOUT", "RABBITMQ_URL",
		"TROPHY_QUEUE_NAME", "EVENT_HISTORY_CAP", "ACTION_PHASE_TIMEOUT", "READY_GRACE_WINDOW",
	} {
		os.Unsetenv(key)
	}

	cfg := Load()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default HTTP addr, got %q", cfg.HTTPAddr)
	}
	if cfg.ActionPhaseTimeout != 60*time.Second {
		t.Fatalf("expected default action phase timeout of 60s, got %s", cfg.ActionPhaseTimeout)
	}
	if cfg.ReadyGraceWindow != 3*time.Second {
		t.Fatalf("expected default ready grace window of 3s, got %s", cfg.ReadyGraceWindow)
	}
	if cfg.EventHistory != 1000 {
		t.Fatalf("expected default event history cap of 1000, got %d", cfg.EventHistory)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	os.Setenv("HTTP_ADDR", ":9999")
	os.Setenv("ACTION_PHASE_TIMEOUT", "15s")
	os.Setenv("EVENT_HISTORY_CAP", "50")
	os.Setenv("TRACE_STDOUT", "false")
	defer func() {
		os.Unsetenv("HTTP_ADDR")
		os.Unsetenv("ACTION_PHASE_TIMEOUT")
		os.Unsetenv("EVENT_HISTORY_CAP")
		os.Unsetenv("TRACE_STDOUT")
	}()

	cfg := Load()
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("expected overridden HTTP addr, got %q", cfg.HTTPAddr)
	}
	if cfg.ActionPhaseTimeout != 15*time.Second {
		t.Fatalf("expected overridden action phase timeout, got %s", cfg.ActionPhaseTimeout)
	}
	if cfg.EventHistory != 50 {
		t.Fatalf("expected overridden event history cap, got %d", cfg.EventHistory)
	}
	if cfg.TraceStdout {
		t.Fatalf("expected trace stdout to be disabled by env override")
	}
}

func TestLoadFallsBackOnMalformedEnvValues(t *testing.T) {
	os.Setenv("ACTION_PHASE_TIMEOUT", "not-a-duration")
	os.Setenv("EVENT_HISTORY_CAP", "not-an-int")
	defer func() {
		os.Unsetenv("ACTION_PHASE_TIMEOUT")
		os.Unsetenv("EVENT_HISTORY_CAP")
	}()

	cfg := Load()
	if cfg.ActionPhaseTimeout != 60*time.Second {
		t.Fatalf("expected malformed duration to fall back to default, got %s", cfg.ActionPhaseTimeout)
	}
	if cfg.EventHistory != 1000 {
		t.Fatalf("expected malformed int to fall back to default, got %d", cfg.EventHistory)
	}
}
