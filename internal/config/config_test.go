package config

import (
	"os"
	"testing"
)

func createTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := t.TempDir() + "/" + name
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := createTempFile(t, "runtime.yaml", `
broker: nats
persistence: sql
snapshotInterval: 25
dashboard:
  bindAddr: ":9090"
sql:
  driver: postgres
  dsn: "postgres://localhost/flowmesh"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker != BrokerNATS {
		t.Errorf("Broker = %v, want %v", cfg.Broker, BrokerNATS)
	}
	if cfg.SnapshotInterval != 25 {
		t.Errorf("SnapshotInterval = %d, want 25", cfg.SnapshotInterval)
	}
	if cfg.SQL.DSN != "postgres://localhost/flowmesh" {
		t.Errorf("SQL.DSN = %v", cfg.SQL.DSN)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := createTempFile(t, "runtime.json", `{"broker":"local","snapshotInterval":5}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker != BrokerLocal {
		t.Errorf("Broker = %v, want %v", cfg.Broker, BrokerLocal)
	}
	if cfg.SnapshotInterval != 5 {
		t.Errorf("SnapshotInterval = %d, want 5", cfg.SnapshotInterval)
	}
}

func TestLoadWithEnv_Overrides(t *testing.T) {
	path := createTempFile(t, "runtime.yaml", "broker: local\nsnapshotInterval: 10\n")
	t.Setenv("FLOWMESH_SNAPSHOTINTERVAL", "99")
	t.Setenv("FLOWMESH_DASHBOARD_BINDADDR", ":1234")

	cfg, err := LoadWithEnv(path, "FLOWMESH")
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.SnapshotInterval != 99 {
		t.Errorf("SnapshotInterval = %d, want 99 (env override)", cfg.SnapshotInterval)
	}
	if cfg.Dashboard.BindAddr != ":1234" {
		t.Errorf("Dashboard.BindAddr = %v, want :1234 (env override)", cfg.Dashboard.BindAddr)
	}
}

func TestDefault_IsUsableStandalone(t *testing.T) {
	cfg := Default()
	if cfg.Broker != BrokerLocal || cfg.Persistence != PersistenceMemory {
		t.Fatalf("Default() = %+v, want local broker + memory persistence", cfg)
	}
}
