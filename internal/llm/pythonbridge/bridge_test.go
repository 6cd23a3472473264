package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"VoiceSwap/internal/llm"
)

func TestNewClientRequiresScript(t *testing.T) {
	if _, err := NewClient("", "", ""); err == nil {
		t.Fatalf("expected error without script path")
	}
}

func TestGenerateRunsScript(t *testing.T) {
	shell, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "intent.sh")
	content := "#!/bin/sh\ncat >/dev/null\necho '{\"action\":\"help\"}'\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	client, err := NewClient(shell, script, dir)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Generate(context.Background(), llm.Request{Utterance: "what can you do"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != `{"action":"help"}` {
		t.Fatalf("unexpected content %q", resp.Content)
	}
}

func TestGenerateRejectsInvalidJSON(t *testing.T) {
	shell, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "broken.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho not-json\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	client, _ := NewClient(shell, script, "")
	if _, err := client.Generate(context.Background(), llm.Request{Utterance: "x"}); err == nil {
		t.Fatalf("expected error for invalid output")
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/opt/app", "scripts/intent.py"); got != filepath.Join("/opt/app", "scripts/intent.py") {
		t.Fatalf("unexpected path %q", got)
	}
	if got := ResolveScriptPath("/opt/app", "/abs/intent.py"); got != "/abs/intent.py" {
		t.Fatalf("absolute path should be kept, got %q", got)
	}
}
