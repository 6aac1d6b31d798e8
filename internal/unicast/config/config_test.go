package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zeromicro/go-zero/core/conf"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unicast.yaml")
	if err := os.WriteFile(path, []byte("Listen: 127.0.0.1:7800\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var c Config
	if err := conf.Load(path, &c); err != nil {
		t.Fatalf("conf.Load: %v", err)
	}

	if c.Listen != "127.0.0.1:7800" {
		t.Fatalf("expected explicit Listen to be honored, got %q", c.Listen)
	}
	if len(c.Reliability.TimeoutsMs) != 4 || c.Reliability.TimeoutsMs[0] != 400 {
		t.Fatalf("expected default retransmit timeouts, got %v", c.Reliability.TimeoutsMs)
	}
	if c.Reliability.AgeOutTimeoutMs != 300000 {
		t.Fatalf("expected default age-out timeout, got %d", c.Reliability.AgeOutTimeoutMs)
	}
	if c.Log.Level != "info" {
		t.Fatalf("expected default log level info, got %q", c.Log.Level)
	}
	if c.Metrics.Namespace != "aetherflow" || c.Metrics.Subsystem != "unicast" {
		t.Fatalf("expected default metrics namespace/subsystem, got %q/%q", c.Metrics.Namespace, c.Metrics.Subsystem)
	}
}

func TestLoadOverridesNestedDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unicast.yaml")
	yaml := "Listen: 0.0.0.0:7800\nReliability:\n  AgeOutTimeoutMs: 1000\nEtcd:\n  Enable: true\n  ViewPrefix: /custom/\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var c Config
	if err := conf.Load(path, &c); err != nil {
		t.Fatalf("conf.Load: %v", err)
	}

	if c.Reliability.AgeOutTimeoutMs != 1000 {
		t.Fatalf("expected override age-out timeout 1000, got %d", c.Reliability.AgeOutTimeoutMs)
	}
	if !c.Etcd.Enable || c.Etcd.ViewPrefix != "/custom/" {
		t.Fatalf("expected etcd override to apply, got %+v", c.Etcd)
	}
}
