package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PARKSYS_LISTEN_ADDR",
		"PARKSYS_SQLITE_DSN",
		"PARKSYS_OPLOG_PATH",
		"PARKSYS_ACCEPT_TIMEOUT",
		"PARKSYS_READ_TIMEOUT",
		"PARKSYS_SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:12321" {
		t.Errorf("ListenAddr = %q, want default", cfg.ListenAddr)
	}
	if cfg.SQLiteDSN != "file:parksys.db" {
		t.Errorf("SQLiteDSN = %q, want default", cfg.SQLiteDSN)
	}
	if cfg.AcceptTimeout != time.Second {
		t.Errorf("AcceptTimeout = %v, want 1s", cfg.AcceptTimeout)
	}
	if cfg.ReadTimeout != 0 {
		t.Errorf("ReadTimeout = %v, want disabled", cfg.ReadTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PARKSYS_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("PARKSYS_SQLITE_DSN", "file:/var/lib/parksys/parksys.db")
	t.Setenv("PARKSYS_OPLOG_PATH", "/var/log/parksys.log")
	t.Setenv("PARKSYS_ACCEPT_TIMEOUT", "250ms")
	t.Setenv("PARKSYS_READ_TIMEOUT", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.SQLiteDSN != "file:/var/lib/parksys/parksys.db" {
		t.Errorf("SQLiteDSN = %q", cfg.SQLiteDSN)
	}
	if cfg.OplogPath != "/var/log/parksys.log" {
		t.Errorf("OplogPath = %q", cfg.OplogPath)
	}
	if cfg.AcceptTimeout != 250*time.Millisecond {
		t.Errorf("AcceptTimeout = %v", cfg.AcceptTimeout)
	}
	if cfg.ReadTimeout != 5*time.Minute {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout)
	}
}

func TestLoadAccumulatesInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PARKSYS_LISTEN_ADDR", "not-an-addr")
	t.Setenv("PARKSYS_ACCEPT_TIMEOUT", "soon")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid values")
	}
	for _, name := range []string{"PARKSYS_LISTEN_ADDR", "PARKSYS_ACCEPT_TIMEOUT"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestLoadRejectsNegativeTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("PARKSYS_READ_TIMEOUT", "-1s")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative timeout")
	}
}
