package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmp, "state"))
	return tmp
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	body := "output: plain\nretries: 1\nexecution:\n  countdown_seconds: 8\n  confirmation_timeout: 45s\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("RWA_OUTPUT", "json")
	t.Setenv("RWA_COUNTDOWN_SECONDS", "3")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.CountdownSeconds != 3 {
		t.Fatalf("expected env countdown to beat file, got %d", settings.CountdownSeconds)
	}
	if settings.ConfirmationTimeout != 45*time.Second {
		t.Fatalf("expected file confirmation timeout, got %s", settings.ConfirmationTimeout)
	}
}

func TestLoadDefaults(t *testing.T) {
	tmp := isolate(t)
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.CountdownSeconds != 5 {
		t.Fatalf("unexpected default countdown: %d", settings.CountdownSeconds)
	}
	if settings.LedgerBackend != LedgerBackendSQLite {
		t.Fatalf("unexpected ledger backend: %s", settings.LedgerBackend)
	}
	want := filepath.Join(tmp, "state", "rwa", "sequences.db")
	if settings.SequenceStorePath != want {
		t.Fatalf("expected %s, got %s", want, settings.SequenceStorePath)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	isolate(t)
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadRejectsUnknownLedgerBackend(t *testing.T) {
	isolate(t)
	t.Setenv("RWA_LEDGER_BACKEND", "etcd")
	if _, err := Load(GlobalFlags{Retries: -1}); err == nil {
		t.Fatal("expected unknown ledger backend error")
	}
}
