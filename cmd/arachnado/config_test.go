package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thezedwards/arachnado/datarpc"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arachnado.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxMessageSize != datarpc.DefaultMaxMessageSize {
		t.Fatalf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.TailInterval != 200*time.Millisecond {
		t.Fatalf("TailInterval = %v", cfg.TailInterval)
	}
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	path := writeConfig(t, "max_message_size: 65536\ntail_interval: 50ms\n")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxMessageSize != 65536 {
		t.Fatalf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.TailInterval != 50*time.Millisecond {
		t.Fatalf("TailInterval = %v", cfg.TailInterval)
	}
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "tail_interval: 1s\n")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxMessageSize != datarpc.DefaultMaxMessageSize {
		t.Fatalf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.TailInterval != time.Second {
		t.Fatalf("TailInterval = %v", cfg.TailInterval)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("missing file: want error")
	}
	path := writeConfig(t, "tail_interval: soon\n")
	if _, err := loadConfig(path); err == nil {
		t.Fatal("bad duration: want error")
	}
}
