package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"NETCHAT_BASE_DIR", "NETCHAT_DB_PATH", "NETCHAT_NODES_DIR", "NETCHAT_POLL_INTERVAL_MS", "NETCHAT_LEDGER_LIMIT", "NETCHAT_NODES"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.BaseDir != "var" || cfg.NodesDir != "_nodes" {
		t.Errorf("Unexpected dirs %q, %q", cfg.BaseDir, cfg.NodesDir)
	}
	if cfg.DBPath != filepath.Join("var", "users.db") {
		t.Errorf("Expected db under base dir, got %q", cfg.DBPath)
	}
	if cfg.ChatroomsDir() != filepath.Join("var", "chatrooms") {
		t.Errorf("Unexpected chatrooms dir %q", cfg.ChatroomsDir())
	}
	if cfg.PollInterval != 500 || cfg.LedgerLimit != 100 {
		t.Errorf("Unexpected poll interval %d / ledger limit %d", cfg.PollInterval, cfg.LedgerLimit)
	}
	if len(cfg.Nodes) != 0 {
		t.Errorf("Expected no nodes, got %v", cfg.Nodes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NETCHAT_BASE_DIR", "/data")
	t.Setenv("NETCHAT_DB_PATH", "")
	t.Setenv("NETCHAT_POLL_INTERVAL_MS", "250")
	t.Setenv("NETCHAT_LEDGER_LIMIT", "not-a-number")
	t.Setenv("NETCHAT_STATUS_ADDR", "")
	t.Setenv("NETCHAT_NODES", "10.0.0.5:9000=alice, 10.0.0.6:9000=bob, broken")

	cfg := Load()
	if cfg.DBPath != filepath.Join("/data", "users.db") {
		t.Errorf("Expected db path to follow base dir, got %q", cfg.DBPath)
	}
	if cfg.PollInterval != 250 {
		t.Errorf("Expected poll interval 250, got %d", cfg.PollInterval)
	}
	if cfg.LedgerLimit != 100 {
		t.Errorf("Expected invalid limit to fall back to default, got %d", cfg.LedgerLimit)
	}
	if cfg.StatusAddr != "" {
		t.Errorf("Expected status API to be disabled, got %q", cfg.StatusAddr)
	}
	if len(cfg.Nodes) != 2 || cfg.Nodes["10.0.0.5:9000"] != "alice" || cfg.Nodes["10.0.0.6:9000"] != "bob" {
		t.Errorf("Unexpected nodes %v", cfg.Nodes)
	}
}
