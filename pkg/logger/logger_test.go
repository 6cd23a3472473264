package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	if err := Init(Config{Level: "debug", OutputPaths: []string{path}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	Named("orchestrator").Debug("turn handled", "action", "swap")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(content))
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("expected json log line, got %q: %v", line, err)
	}
	if record["component"] != "orchestrator" || record["action"] != "swap" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestAuditUsesSeparateFile(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit", "audit.log")

	err := Init(Config{
		OutputPaths: []string{filepath.Join(dir, "app.log")},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	Audit().Info("session created", "per_tx_usd", "50")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(content), `"stream":"audit"`) {
		t.Fatalf("audit record missing stream tag: %s", content)
	}
}

func TestAuditRequiresPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error when audit path is empty")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARNING": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
