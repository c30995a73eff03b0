package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "parkd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
storage:
  path: `+filepath.Join(dir, "parkd.bolt")+`
ledger:
  issuer: rIssuer
  operator_account: rOperator
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.APIPort != 8080 {
		t.Errorf("Expected default API port 8080, got %d", cfg.Server.APIPort)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("Expected default storage type bolt, got %s", cfg.Storage.Type)
	}
	if cfg.Ledger.Currency != "PRK" {
		t.Errorf("Expected default currency PRK, got %s", cfg.Ledger.Currency)
	}
	if cfg.Ledger.PollBudget != "30s" {
		t.Errorf("Expected default poll budget 30s, got %s", cfg.Ledger.PollBudget)
	}
	if cfg.Anomaly.HighFrequencyThreshold != 10 {
		t.Errorf("Expected default threshold 10, got %d", cfg.Anomaly.HighFrequencyThreshold)
	}
	if cfg.Retention.SweepTime != "03:00" {
		t.Errorf("Expected default sweep time 03:00, got %s", cfg.Retention.SweepTime)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  api_port: 9999
storage:
  type: redis
  redis:
    host: redis.internal
    port: 6380
ledger:
  issuer: rIssuer
  operator_account: rOperator
anomaly:
  high_frequency_threshold: 25
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.APIPort != 9999 {
		t.Errorf("Expected API port 9999, got %d", cfg.Server.APIPort)
	}
	if cfg.Storage.Redis.Host != "redis.internal" || cfg.Storage.Redis.Port != 6380 {
		t.Errorf("Expected redis override, got %+v", cfg.Storage.Redis)
	}
	if cfg.Anomaly.HighFrequencyThreshold != 25 {
		t.Errorf("Expected threshold 25, got %d", cfg.Anomaly.HighFrequencyThreshold)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{
			"unknown storage type",
			`
storage:
  type: etcd
ledger:
  issuer: rIssuer
  operator_account: rOperator
`,
			"unknown storage type",
		},
		{
			"missing issuer",
			`
storage:
  path: ` + filepath.Join(dir, "a.bolt") + `
ledger:
  operator_account: rOperator
`,
			"ledger issuer is required",
		},
		{
			"missing operator account",
			`
storage:
  path: ` + filepath.Join(dir, "b.bolt") + `
ledger:
  issuer: rIssuer
`,
			"operator account is required",
		},
		{
			"bad api port",
			`
server:
  api_port: 70000
storage:
  path: ` + filepath.Join(dir, "c.bolt") + `
ledger:
  issuer: rIssuer
  operator_account: rOperator
`,
			"invalid API port",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.contents))
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
